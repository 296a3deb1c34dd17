package services

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/BradenHooton/riskauth/internal/anomaly"
	"github.com/BradenHooton/riskauth/internal/events"
	"github.com/BradenHooton/riskauth/internal/locks"
	"github.com/BradenHooton/riskauth/internal/models"
	"github.com/BradenHooton/riskauth/internal/risk"
	"github.com/stretchr/testify/require"
)

// MockHistoryStore implements LoginHistoryStore for testing
type MockHistoryStore struct {
	LatestFunc func(ctx context.Context, identity string) (*models.LoginAttempt, error)
	AppendFunc func(ctx context.Context, attempt *models.LoginAttempt) error
}

func (m *MockHistoryStore) Latest(ctx context.Context, identity string) (*models.LoginAttempt, error) {
	if m.LatestFunc != nil {
		return m.LatestFunc(ctx, identity)
	}
	return nil, nil
}

func (m *MockHistoryStore) Append(ctx context.Context, attempt *models.LoginAttempt) error {
	if m.AppendFunc != nil {
		return m.AppendFunc(ctx, attempt)
	}
	return nil
}

// MockScorer implements AnomalyScorer for testing. Features are built with
// an empty frequency table unless FeaturesFunc is set.
type MockScorer struct {
	FeaturesFunc func(in anomaly.FeatureInput) anomaly.FeatureVector
	ScoreFunc    func(v anomaly.FeatureVector) (float64, error)
}

func (m *MockScorer) Features(in anomaly.FeatureInput) anomaly.FeatureVector {
	if m.FeaturesFunc != nil {
		return m.FeaturesFunc(in)
	}
	return anomaly.BuildFeatureVector(in, nil)
}

func (m *MockScorer) Score(v anomaly.FeatureVector) (float64, error) {
	if m.ScoreFunc != nil {
		return m.ScoreFunc(v)
	}
	return 0.2, nil
}

// fixedScore returns a scorer that always reports score
func fixedScore(score float64) *MockScorer {
	return &MockScorer{
		ScoreFunc: func(v anomaly.FeatureVector) (float64, error) {
			return score, nil
		},
	}
}

// MockAuditRepository implements DecisionAuditRepository for testing
type MockAuditRepository struct {
	mu         sync.Mutex
	Records    []*models.RiskDecisionRecord
	CreateFunc func(ctx context.Context, rec *models.RiskDecisionRecord) (*models.RiskDecisionRecord, error)
}

func (m *MockAuditRepository) Create(ctx context.Context, rec *models.RiskDecisionRecord) (*models.RiskDecisionRecord, error) {
	m.mu.Lock()
	m.Records = append(m.Records, rec)
	m.mu.Unlock()

	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, rec)
	}
	return rec, nil
}

// MockPublisher implements DecisionPublisher for testing
type MockPublisher struct {
	mu          sync.Mutex
	Events      []events.DecisionEvent
	PublishFunc func(ctx context.Context, event events.DecisionEvent) error
}

func (m *MockPublisher) Publish(ctx context.Context, event events.DecisionEvent) error {
	m.mu.Lock()
	m.Events = append(m.Events, event)
	m.mu.Unlock()

	if m.PublishFunc != nil {
		return m.PublishFunc(ctx, event)
	}
	return nil
}

// MockChallengeIssuer implements ChallengeIssuer for testing
type MockChallengeIssuer struct {
	IssueChallengeFunc func(identity, attemptID, reason string, changes []string) (string, error)
}

func (m *MockChallengeIssuer) IssueChallenge(identity, attemptID, reason string, changes []string) (string, error) {
	if m.IssueChallengeFunc != nil {
		return m.IssueChallengeFunc(identity, attemptID, reason, changes)
	}
	return "challenge-" + attemptID, nil
}

// MockGeoLocator implements GeoLocator for testing
type MockGeoLocator struct {
	LocateFunc func(address string) (float64, float64, bool)
}

func (m *MockGeoLocator) Locate(address string) (float64, float64, bool) {
	if m.LocateFunc != nil {
		return m.LocateFunc(address)
	}
	return 0, 0, false
}

// MockMetrics implements MetricsRecorder for testing
type MockMetrics struct {
	mu        sync.Mutex
	Decisions []string
	Errors    []string
}

func (m *MockMetrics) ObserveDecision(decision, regime string, changes []string, anomalyError float64, scored bool, elapsed time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Decisions = append(m.Decisions, decision)
}

func (m *MockMetrics) ObserveError(stage string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Errors = append(m.Errors, stage)
}

// MockLocker implements locks.Locker for testing
type MockLocker struct {
	LockFunc func(ctx context.Context, key string) (locks.UnlockFunc, error)
}

func (m *MockLocker) Lock(ctx context.Context, key string) (locks.UnlockFunc, error) {
	if m.LockFunc != nil {
		return m.LockFunc(ctx, key)
	}
	return func() {}, nil
}

// newTestService builds an EvaluationService with default thresholds, a
// silent logger and a fixed clock
func newTestService(t *testing.T, history LoginHistoryStore, scorer AnomalyScorer, now time.Time) *EvaluationService {
	t.Helper()

	policy, err := risk.NewPolicy(risk.DefaultThresholds())
	require.NoError(t, err)

	svc, err := NewEvaluationService(history, scorer, policy, nil, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)

	svc.now = func() time.Time { return now }
	return svc
}

func floatPtr(f float64) *float64 {
	return &f
}

func timePtr(t time.Time) *time.Time {
	return &t
}
