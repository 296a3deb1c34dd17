package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/BradenHooton/riskauth/internal/anomaly"
	"github.com/BradenHooton/riskauth/internal/events"
	"github.com/BradenHooton/riskauth/internal/locks"
	"github.com/BradenHooton/riskauth/internal/models"
	"github.com/BradenHooton/riskauth/internal/repositories"
	"github.com/BradenHooton/riskauth/internal/risk"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func u1Input() LoginInput {
	return LoginInput{
		Identity:          "u1",
		NetworkAddress:    "203.0.113.10",
		Latitude:          floatPtr(37.77),
		Longitude:         floatPtr(-122.41),
		Timezone:          "America/Los_Angeles",
		DeviceFingerprint: "Chrome",
		TypingSpeed:       floatPtr(80.5),
		PointerSpeed:      floatPtr(120.3),
	}
}

// ============================================================================
// First login and behavioral regime
// ============================================================================

func TestEvaluationService_FirstLogin_DecidedByAnomalyScore(t *testing.T) {
	tests := []struct {
		score    float64
		expected models.Decision
	}{
		{0.100999, models.DecisionBlock},
		{0.101, models.DecisionAllow},
		{0.279999, models.DecisionAllow},
		{0.28, models.DecisionMFA},
		{0.499999, models.DecisionMFA},
		{0.5, models.DecisionBlock},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("score %v", tt.score), func(t *testing.T) {
			history := repositories.NewMemoryHistoryRepository()
			var seen anomaly.FeatureVector
			scorer := &MockScorer{
				ScoreFunc: func(v anomaly.FeatureVector) (float64, error) {
					seen = v
					return tt.score, nil
				},
			}
			svc := newTestService(t, history, scorer, testNow)

			result, err := svc.Evaluate(context.Background(), u1Input())
			require.NoError(t, err)

			assert.Equal(t, tt.expected, result.Decision)
			assert.Equal(t, models.RegimeBehavioral, result.Regime)
			assert.Equal(t, []string{}, result.ContextualChanges)
			assert.Equal(t, 0.0, result.GeoVelocity)
			assert.Equal(t, tt.score, result.TotalRiskScore)
			assert.Equal(t, 0.0, result.Breakdown.RuleBasedRisk)

			assert.Equal(t, 37.77, seen[anomaly.FeatureLatitude])
			assert.Equal(t, -122.41, seen[anomaly.FeatureLongitude])
			assert.Equal(t, 80.5, seen[anomaly.FeatureTypingSpeed])
			assert.Equal(t, 120.3, seen[anomaly.FeaturePointerSpeed])
			assert.Equal(t, 12.0, seen[anomaly.FeatureLoginHour])

			persisted := tt.expected == models.DecisionAllow
			assert.Equal(t, persisted, result.HistoryRecorded)
			if persisted {
				assert.Equal(t, 1, history.Count("u1"))
			} else {
				assert.Equal(t, 0, history.Count("u1"))
			}
		})
	}
}

// ============================================================================
// History mutation
// ============================================================================

func TestEvaluationService_OnlyAllowPersists(t *testing.T) {
	history := repositories.NewMemoryHistoryRepository()
	scores := []float64{0.2, 0.3, 0.9, 0.05, 0.25}
	call := 0
	scorer := &MockScorer{
		ScoreFunc: func(v anomaly.FeatureVector) (float64, error) {
			s := scores[call]
			call++
			return s, nil
		},
	}
	svc := newTestService(t, history, scorer, testNow)
	clock := testNow
	svc.now = func() time.Time { return clock }

	var decisions []models.Decision
	for i := range scores {
		clock = testNow.Add(time.Duration(i) * time.Hour)
		result, err := svc.Evaluate(context.Background(), u1Input())
		require.NoError(t, err)
		decisions = append(decisions, result.Decision)
	}

	assert.Equal(t, []models.Decision{
		models.DecisionAllow, models.DecisionMFA, models.DecisionBlock, models.DecisionBlock, models.DecisionAllow,
	}, decisions)
	assert.Equal(t, 2, history.Count("u1"))

	latest, err := history.Latest(context.Background(), "u1")
	require.NoError(t, err)
	assert.True(t, testNow.Add(4*time.Hour).Equal(latest.Timestamp))
}

func TestEvaluationService_PersistsGeoVelocityAndDefaults(t *testing.T) {
	var stored []*models.LoginAttempt
	history := &MockHistoryStore{
		LatestFunc: func(ctx context.Context, identity string) (*models.LoginAttempt, error) {
			return &models.LoginAttempt{
				Identity:  identity,
				Latitude:  34.0522,
				Longitude: -118.2437,
				Timestamp: testNow.Add(-2 * time.Hour),
			}, nil
		},
		AppendFunc: func(ctx context.Context, attempt *models.LoginAttempt) error {
			stored = append(stored, attempt)
			return nil
		},
	}
	var seen anomaly.FeatureVector
	scorer := &MockScorer{
		ScoreFunc: func(v anomaly.FeatureVector) (float64, error) {
			seen = v
			return 0.2, nil
		},
	}
	svc := newTestService(t, history, scorer, testNow)

	result, err := svc.Evaluate(context.Background(), LoginInput{
		Identity:  "u1",
		Latitude:  floatPtr(37.7749),
		Longitude: floatPtr(-122.4194),
	})
	require.NoError(t, err)

	// previous record has empty strings, so only the location is compared
	assert.Equal(t, []string{models.ChangeLocation}, result.ContextualChanges)
	assert.Equal(t, models.RegimeContextual, result.Regime)
	assert.InDelta(t, 280, result.GeoVelocity, 5)
	assert.Equal(t, models.DecisionAllow, result.Decision)

	require.Len(t, stored, 1)
	a := stored[0]
	assert.Equal(t, result.AttemptID, a.ID)
	assert.Equal(t, models.DefaultNetworkAddress, a.NetworkAddress)
	assert.Equal(t, models.DefaultTimezone, a.Timezone)
	assert.Equal(t, models.DefaultDeviceFingerprint, a.DeviceFingerprint)
	assert.Equal(t, 0.0, a.TypingSpeed)
	assert.Equal(t, 0.0, a.PointerSpeed)
	assert.Equal(t, result.GeoVelocity, a.GeoVelocity)
	assert.True(t, testNow.Equal(a.Timestamp))

	assert.True(t, anomaly.Missing(seen[anomaly.FeatureTypingSpeed]), "absent speeds are imputed by the scorer")
	assert.True(t, anomaly.Missing(seen[anomaly.FeaturePointerSpeed]))
}

func TestEvaluationService_ClampsNegativeSpeeds(t *testing.T) {
	var stored *models.LoginAttempt
	history := &MockHistoryStore{
		AppendFunc: func(ctx context.Context, attempt *models.LoginAttempt) error {
			stored = attempt
			return nil
		},
	}
	svc := newTestService(t, history, fixedScore(0.2), testNow)

	in := u1Input()
	in.TypingSpeed = floatPtr(-5)
	_, err := svc.Evaluate(context.Background(), in)
	require.NoError(t, err)

	require.NotNil(t, stored)
	assert.Equal(t, 0.0, stored.TypingSpeed)
}

// ============================================================================
// Contextual regime
// ============================================================================

func TestEvaluationService_ContextualChanges(t *testing.T) {
	tests := []struct {
		name     string
		mutate   func(*LoginInput)
		score    float64
		changes  []string
		expected models.Decision
	}{
		{
			name:     "new address only",
			mutate:   func(in *LoginInput) { in.NetworkAddress = "198.51.100.7" },
			score:    0.9,
			changes:  []string{models.ChangeNetworkAddress},
			expected: models.DecisionAllow, // 2.9
		},
		{
			name:     "new device",
			mutate:   func(in *LoginInput) { in.DeviceFingerprint = "Firefox" },
			score:    0.05,
			changes:  []string{models.ChangeDevice},
			expected: models.DecisionMFA, // 3.05
		},
		{
			name: "device, timezone and address",
			mutate: func(in *LoginInput) {
				in.NetworkAddress = "198.51.100.7"
				in.DeviceFingerprint = "Firefox"
				in.Timezone = "Europe/London"
			},
			score:    0.2,
			changes:  []string{models.ChangeNetworkAddress, models.ChangeDevice, models.ChangeTimezone},
			expected: models.DecisionBlock, // 8.2
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			history := repositories.NewMemoryHistoryRepository()
			require.NoError(t, history.Append(context.Background(), &models.LoginAttempt{
				Identity:          "u1",
				NetworkAddress:    "203.0.113.10",
				Latitude:          37.77,
				Longitude:         -122.41,
				Timezone:          "America/Los_Angeles",
				DeviceFingerprint: "Chrome",
				Timestamp:         testNow.Add(-24 * time.Hour),
			}))

			svc := newTestService(t, history, fixedScore(tt.score), testNow)
			in := u1Input()
			tt.mutate(&in)

			result, err := svc.Evaluate(context.Background(), in)
			require.NoError(t, err)

			assert.Equal(t, tt.changes, result.ContextualChanges)
			assert.Equal(t, models.RegimeContextual, result.Regime)
			assert.Equal(t, tt.expected, result.Decision)
			assert.InDelta(t, result.Breakdown.AnomalyError+result.Breakdown.RuleBasedRisk, result.TotalRiskScore, 1e-12)
		})
	}
}

// ============================================================================
// Short circuits and failures
// ============================================================================

func TestEvaluationService_ImpossibleTravel(t *testing.T) {
	history := &MockHistoryStore{
		LatestFunc: func(ctx context.Context, identity string) (*models.LoginAttempt, error) {
			return &models.LoginAttempt{
				Identity:       identity,
				NetworkAddress: "203.0.113.10",
				Latitude:       37.77,
				Longitude:      -122.41,
				Timestamp:      testNow.Add(-time.Hour),
			}, nil
		},
		AppendFunc: func(ctx context.Context, attempt *models.LoginAttempt) error {
			t.Fatal("blocked attempt must not be stored")
			return nil
		},
	}
	scorer := &MockScorer{
		ScoreFunc: func(v anomaly.FeatureVector) (float64, error) {
			t.Fatal("scorer must not run after impossible travel")
			return 0, nil
		},
	}
	svc := newTestService(t, history, scorer, testNow)

	in := u1Input()
	in.Latitude, in.Longitude = floatPtr(51.5074), floatPtr(-0.1278)
	result, err := svc.Evaluate(context.Background(), in)
	require.NoError(t, err)

	assert.Equal(t, models.DecisionBlock, result.Decision)
	assert.Equal(t, risk.ReasonImpossibleTravel, result.Reason)
	assert.Equal(t, models.RegimeNone, result.Regime)
	assert.Greater(t, result.GeoVelocity, 1000.0)
	assert.Equal(t, []string{}, result.ContextualChanges)
	assert.False(t, result.HistoryRecorded)
}

func TestEvaluationService_CallerTimestampCannotHideTravel(t *testing.T) {
	tokyo := func() LoginInput {
		in := u1Input()
		in.NetworkAddress = "198.51.100.7"
		in.Latitude, in.Longitude = floatPtr(35.6762), floatPtr(139.6503)
		in.Timezone = "Asia/Tokyo"
		return in
	}

	tests := []struct {
		name        string
		firstClaim  *time.Time
		secondClaim *time.Time
	}{
		{"far future first login", timePtr(testNow.AddDate(10, 0, 0)), nil},
		{"second login claims a day later", nil, timePtr(testNow.Add(24*time.Hour + time.Minute))},
		{"second login claims an hour earlier", nil, timePtr(testNow.Add(-time.Hour))},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			history := repositories.NewMemoryHistoryRepository()
			svc := newTestService(t, history, fixedScore(0.2), testNow)
			clock := testNow
			svc.now = func() time.Time { return clock }

			first := u1Input()
			first.Timestamp = tt.firstClaim
			result, err := svc.Evaluate(context.Background(), first)
			require.NoError(t, err)
			require.Equal(t, models.DecisionAllow, result.Decision)

			latest, err := history.Latest(context.Background(), "u1")
			require.NoError(t, err)
			assert.True(t, testNow.Equal(latest.Timestamp), "stored %v", latest.Timestamp)

			clock = testNow.Add(time.Minute)
			second := tokyo()
			second.Timestamp = tt.secondClaim
			result, err = svc.Evaluate(context.Background(), second)
			require.NoError(t, err)

			assert.Equal(t, models.DecisionBlock, result.Decision)
			assert.Equal(t, risk.ReasonImpossibleTravel, result.Reason)
			assert.Greater(t, result.GeoVelocity, 1000.0)
			assert.Equal(t, 1, history.Count("u1"))
		})
	}
}

func TestEvaluationService_CallerTimestampWithinSkew(t *testing.T) {
	var stored *models.LoginAttempt
	history := &MockHistoryStore{
		AppendFunc: func(ctx context.Context, attempt *models.LoginAttempt) error {
			stored = attempt
			return nil
		},
	}
	svc := newTestService(t, history, fixedScore(0.2), testNow)

	in := u1Input()
	in.Timestamp = timePtr(testNow.Add(-10*time.Second + 1500*time.Nanosecond))
	_, err := svc.Evaluate(context.Background(), in)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.True(t, testNow.Add(-10*time.Second+time.Microsecond).Equal(stored.Timestamp), "stored %v", stored.Timestamp)

	svc.SetClockSkew(0)
	_, err = svc.Evaluate(context.Background(), in)
	require.NoError(t, err)
	assert.True(t, testNow.Equal(stored.Timestamp), "stored %v", stored.Timestamp)
}

func TestEvaluationService_ScorerFailureBlocks(t *testing.T) {
	history := repositories.NewMemoryHistoryRepository()
	scorer := &MockScorer{
		ScoreFunc: func(v anomaly.FeatureVector) (float64, error) {
			return 0, fmt.Errorf("%w: non-finite reconstruction error", models.ErrModelUnavailable)
		},
	}
	svc := newTestService(t, history, scorer, testNow)
	m := &MockMetrics{}
	svc.SetMetrics(m)

	result, err := svc.Evaluate(context.Background(), u1Input())
	require.NoError(t, err)

	assert.Equal(t, models.DecisionBlock, result.Decision)
	assert.Equal(t, risk.ReasonScorerUnavailable, result.Reason)
	assert.Equal(t, 0, history.Count("u1"))
	assert.Contains(t, m.Errors, "scorer")
}

func TestEvaluationService_HistoryWriteFailureKeepsAllow(t *testing.T) {
	history := &MockHistoryStore{
		AppendFunc: func(ctx context.Context, attempt *models.LoginAttempt) error {
			return errors.New("disk full")
		},
	}
	svc := newTestService(t, history, fixedScore(0.2), testNow)
	audit := &MockAuditRepository{}
	svc.SetAuditRepository(audit)

	result, err := svc.Evaluate(context.Background(), u1Input())

	assert.ErrorIs(t, err, models.ErrStorage)
	require.NotNil(t, result)
	assert.Equal(t, models.DecisionAllow, result.Decision)
	assert.False(t, result.HistoryRecorded)
	assert.Equal(t, models.ErrStorage.Error(), result.HistoryError)
	require.Len(t, audit.Records, 1, "the decision is still audited")
}

func TestEvaluationService_HistoryReadFailure(t *testing.T) {
	history := &MockHistoryStore{
		LatestFunc: func(ctx context.Context, identity string) (*models.LoginAttempt, error) {
			return nil, errors.New("connection refused")
		},
	}
	svc := newTestService(t, history, fixedScore(0.2), testNow)

	result, err := svc.Evaluate(context.Background(), u1Input())

	assert.Nil(t, result)
	assert.ErrorIs(t, err, models.ErrStorage)
}

func TestEvaluationService_MissingIdentity(t *testing.T) {
	svc := newTestService(t, &MockHistoryStore{}, fixedScore(0.2), testNow)

	_, err := svc.Evaluate(context.Background(), LoginInput{Identity: "   "})

	assert.ErrorIs(t, err, models.ErrBadRequest)
}

func TestEvaluationService_LockFailure(t *testing.T) {
	policy, err := risk.NewPolicy(risk.DefaultThresholds())
	require.NoError(t, err)
	locker := &MockLocker{
		LockFunc: func(ctx context.Context, key string) (locks.UnlockFunc, error) {
			return nil, models.ErrLockUnavailable
		},
	}
	svc, err := NewEvaluationService(&MockHistoryStore{}, fixedScore(0.2), policy, nil, locker, nil)
	require.NoError(t, err)

	_, err = svc.Evaluate(context.Background(), u1Input())

	assert.ErrorIs(t, err, models.ErrLockUnavailable)
}

func TestNewEvaluationService_RequiresDependencies(t *testing.T) {
	policy, err := risk.NewPolicy(risk.DefaultThresholds())
	require.NoError(t, err)

	_, err = NewEvaluationService(nil, fixedScore(0.2), policy, nil, nil, nil)
	assert.Error(t, err)

	_, err = NewEvaluationService(&MockHistoryStore{}, nil, policy, nil, nil, nil)
	assert.ErrorIs(t, err, models.ErrModelUnavailable)

	_, err = NewEvaluationService(&MockHistoryStore{}, fixedScore(0.2), nil, nil, nil, nil)
	assert.Error(t, err)
}

// ============================================================================
// Side effects
// ============================================================================

func TestEvaluationService_MFAIssuesChallenge(t *testing.T) {
	svc := newTestService(t, &MockHistoryStore{}, fixedScore(0.3), testNow)
	var gotIdentity, gotAttempt string
	svc.SetChallengeIssuer(&MockChallengeIssuer{
		IssueChallengeFunc: func(identity, attemptID, reason string, changes []string) (string, error) {
			gotIdentity, gotAttempt = identity, attemptID
			return "signed-token", nil
		},
	})

	result, err := svc.Evaluate(context.Background(), u1Input())
	require.NoError(t, err)

	assert.Equal(t, models.DecisionMFA, result.Decision)
	assert.Equal(t, "signed-token", result.ChallengeToken)
	assert.Equal(t, "u1", gotIdentity)
	assert.Equal(t, result.AttemptID, gotAttempt)
}

func TestEvaluationService_NoChallengeOutsideMFA(t *testing.T) {
	svc := newTestService(t, &MockHistoryStore{}, fixedScore(0.2), testNow)
	svc.SetChallengeIssuer(&MockChallengeIssuer{
		IssueChallengeFunc: func(identity, attemptID, reason string, changes []string) (string, error) {
			t.Fatal("challenge must only be issued on mfa")
			return "", nil
		},
	})

	result, err := svc.Evaluate(context.Background(), u1Input())
	require.NoError(t, err)
	assert.Empty(t, result.ChallengeToken)
}

func TestEvaluationService_SideEffectFailuresDoNotChangeDecision(t *testing.T) {
	svc := newTestService(t, &MockHistoryStore{}, fixedScore(0.3), testNow)
	m := &MockMetrics{}
	svc.SetMetrics(m)
	svc.SetChallengeIssuer(&MockChallengeIssuer{
		IssueChallengeFunc: func(identity, attemptID, reason string, changes []string) (string, error) {
			return "", errors.New("signing failed")
		},
	})
	svc.SetAuditRepository(&MockAuditRepository{
		CreateFunc: func(ctx context.Context, rec *models.RiskDecisionRecord) (*models.RiskDecisionRecord, error) {
			return nil, errors.New("audit down")
		},
	})
	svc.SetPublisher(&MockPublisher{
		PublishFunc: func(ctx context.Context, event events.DecisionEvent) error {
			return errors.New("broker down")
		},
	})

	result, err := svc.Evaluate(context.Background(), u1Input())
	require.NoError(t, err)

	assert.Equal(t, models.DecisionMFA, result.Decision)
	assert.Empty(t, result.ChallengeToken)
	assert.ElementsMatch(t, []string{"challenge", "audit", "publish"}, m.Errors)
	assert.Equal(t, []string{"mfa"}, m.Decisions)
}

func TestEvaluationService_AuditsAndPublishesEveryDecision(t *testing.T) {
	history := repositories.NewMemoryHistoryRepository()
	scores := []float64{0.2, 0.9}
	call := 0
	scorer := &MockScorer{
		ScoreFunc: func(v anomaly.FeatureVector) (float64, error) {
			s := scores[call]
			call++
			return s, nil
		},
	}
	svc := newTestService(t, history, scorer, testNow)
	audit := &MockAuditRepository{}
	publisher := &MockPublisher{}
	svc.SetAuditRepository(audit)
	svc.SetPublisher(publisher)

	for range scores {
		_, err := svc.Evaluate(context.Background(), u1Input())
		require.NoError(t, err)
	}

	require.Len(t, audit.Records, 2)
	assert.Equal(t, models.DecisionAllow, audit.Records[0].Decision)
	assert.Equal(t, models.DecisionBlock, audit.Records[1].Decision)

	require.Len(t, publisher.Events, 2)
	assert.Equal(t, "u1", publisher.Events[0].UserID)
	assert.True(t, publisher.Events[0].HistoryRecorded)
	assert.False(t, publisher.Events[1].HistoryRecorded)
}

func TestEvaluationService_GeoLocatorFillsMissingCoordinates(t *testing.T) {
	var stored *models.LoginAttempt
	history := &MockHistoryStore{
		AppendFunc: func(ctx context.Context, attempt *models.LoginAttempt) error {
			stored = attempt
			return nil
		},
	}
	svc := newTestService(t, history, fixedScore(0.2), testNow)
	svc.SetGeoLocator(&MockGeoLocator{
		LocateFunc: func(address string) (float64, float64, bool) {
			if address == "81.2.69.142" {
				return 51.5142, -0.0931, true
			}
			return 0, 0, false
		},
	})

	_, err := svc.Evaluate(context.Background(), LoginInput{Identity: "u1", NetworkAddress: "81.2.69.142"})
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, 51.5142, stored.Latitude)
	assert.Equal(t, -0.0931, stored.Longitude)

	// explicit coordinates are never overridden
	in := u1Input()
	in.Identity = "u2"
	in.NetworkAddress = "81.2.69.142"
	_, err = svc.Evaluate(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, 37.77, stored.Latitude)
}

// ============================================================================
// Concurrency
// ============================================================================

func TestEvaluationService_SerializesSameIdentity(t *testing.T) {
	history := repositories.NewMemoryHistoryRepository()
	svc := newTestService(t, history, fixedScore(0.2), testNow)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Evaluate(context.Background(), u1Input())
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, 50, history.Count("u1"))
}
