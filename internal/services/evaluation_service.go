package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/BradenHooton/riskauth/internal/anomaly"
	"github.com/BradenHooton/riskauth/internal/events"
	"github.com/BradenHooton/riskauth/internal/locks"
	"github.com/BradenHooton/riskauth/internal/metrics"
	"github.com/BradenHooton/riskauth/internal/models"
	"github.com/BradenHooton/riskauth/internal/risk"
	pkglogger "github.com/BradenHooton/riskauth/pkg/logger"
	"github.com/google/uuid"
)

const sideEffectTimeout = 2 * time.Second

// DefaultClockSkew is how far a caller-supplied login time may trail the
// server clock and still be used
const DefaultClockSkew = 30 * time.Second

// LoginHistoryStore defines the history operations the engine needs
type LoginHistoryStore interface {
	Latest(ctx context.Context, identity string) (*models.LoginAttempt, error)
	Append(ctx context.Context, attempt *models.LoginAttempt) error
}

// AnomalyScorer builds feature vectors and scores them
type AnomalyScorer interface {
	Features(in anomaly.FeatureInput) anomaly.FeatureVector
	Score(v anomaly.FeatureVector) (float64, error)
}

// DecisionAuditRepository stores one record per evaluation
type DecisionAuditRepository interface {
	Create(ctx context.Context, rec *models.RiskDecisionRecord) (*models.RiskDecisionRecord, error)
}

// DecisionPublisher forwards decisions to downstream consumers
type DecisionPublisher interface {
	Publish(ctx context.Context, event events.DecisionEvent) error
}

// ChallengeIssuer creates step-up tokens for mfa decisions
type ChallengeIssuer interface {
	IssueChallenge(identity, attemptID, reason string, changes []string) (string, error)
}

// GeoLocator resolves coordinates for requests that carry none
type GeoLocator interface {
	Locate(address string) (latitude, longitude float64, ok bool)
}

// MetricsRecorder receives evaluation metrics
type MetricsRecorder interface {
	ObserveDecision(decision, regime string, changes []string, anomalyError float64, scored bool, elapsed time.Duration)
	ObserveError(stage string)
}

// LoginInput is one login attempt as received from the caller. Nil pointers
// and empty strings mean the field was not sent.
type LoginInput struct {
	Identity          string
	NetworkAddress    string
	Latitude          *float64
	Longitude         *float64
	Timezone          string
	DeviceFingerprint string
	TypingSpeed       *float64
	PointerSpeed      *float64
	Timestamp         *time.Time
}

// EvaluationService fuses geo-velocity, contextual changes and the anomaly
// score into an allow/mfa/block decision
type EvaluationService struct {
	history  LoginHistoryStore
	scorer   AnomalyScorer
	policy   *risk.Policy
	detector *risk.ContextChangeDetector
	locker   locks.Locker
	logger   *slog.Logger

	auditRepo   DecisionAuditRepository
	publisher   DecisionPublisher
	challenges  ChallengeIssuer
	geo         GeoLocator
	metrics     MetricsRecorder
	auditLogger *pkglogger.AuditLogger
	clockSkew   time.Duration
	now         func() time.Time
}

// NewEvaluationService creates a new EvaluationService. History, scorer and
// policy are required; a nil detector compares locations exactly and a nil
// locker serializes identities in process.
func NewEvaluationService(
	history LoginHistoryStore,
	scorer AnomalyScorer,
	policy *risk.Policy,
	detector *risk.ContextChangeDetector,
	locker locks.Locker,
	logger *slog.Logger,
) (*EvaluationService, error) {
	if history == nil {
		return nil, errors.New("login history store is required")
	}
	if scorer == nil {
		return nil, fmt.Errorf("%w: no scorer configured", models.ErrModelUnavailable)
	}
	if policy == nil {
		return nil, errors.New("decision policy is required")
	}
	if detector == nil {
		detector = risk.NewContextChangeDetector(0)
	}
	if locker == nil {
		locker = locks.NewMemoryLocker()
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &EvaluationService{
		history:   history,
		scorer:    scorer,
		policy:    policy,
		detector:  detector,
		locker:    locker,
		logger:    logger,
		clockSkew: DefaultClockSkew,
		now:       time.Now,
	}, nil
}

// SetAuditRepository enables the per-decision audit table
func (s *EvaluationService) SetAuditRepository(repo DecisionAuditRepository) {
	s.auditRepo = repo
}

// SetPublisher enables decision events
func (s *EvaluationService) SetPublisher(p DecisionPublisher) {
	s.publisher = p
}

// SetChallengeIssuer enables step-up tokens on mfa decisions
func (s *EvaluationService) SetChallengeIssuer(c ChallengeIssuer) {
	s.challenges = c
}

// SetGeoLocator enables coordinate lookup for requests without coordinates
func (s *EvaluationService) SetGeoLocator(g GeoLocator) {
	s.geo = g
}

// SetMetrics enables evaluation metrics
func (s *EvaluationService) SetMetrics(m MetricsRecorder) {
	s.metrics = m
}

// SetAuditLogger enables structured decision audit logs
func (s *EvaluationService) SetAuditLogger(al *pkglogger.AuditLogger) {
	s.auditLogger = al
}

// SetClockSkew sets how far a caller-supplied login time may trail the
// server clock. Zero makes every evaluation use the server clock.
func (s *EvaluationService) SetClockSkew(d time.Duration) {
	if d < 0 {
		d = 0
	}
	s.clockSkew = d
}

// Thresholds returns the active policy cut points
func (s *EvaluationService) Thresholds() risk.Thresholds {
	return s.policy.Thresholds()
}

// Evaluate decides whether a login may proceed. Evaluations of the same
// identity are serialized; only an allow decision is written to history.
//
// When an allowed attempt cannot be written, the allow result is returned
// together with an error wrapping models.ErrStorage.
func (s *EvaluationService) Evaluate(ctx context.Context, in LoginInput) (*models.DecisionResult, error) {
	start := s.now()

	attempt, err := s.buildAttempt(in)
	if err != nil {
		return nil, err
	}

	unlock, err := s.locker.Lock(ctx, attempt.Identity)
	if err != nil {
		s.observeError(metrics.StageLock)
		return nil, err
	}

	eval, err := s.evaluateLocked(ctx, attempt, in)
	unlock()
	if err != nil {
		return nil, err
	}

	s.afterDecision(ctx, attempt, eval.result, eval.scored, s.now().Sub(start))

	return eval.result, eval.historyErr
}

// evaluation is the outcome of the locked section. historyErr is set when an
// allowed attempt could not be written.
type evaluation struct {
	result     *models.DecisionResult
	scored     bool
	historyErr error
}

// buildAttempt applies input defaults and clamps
func (s *EvaluationService) buildAttempt(in LoginInput) (*models.LoginAttempt, error) {
	identity := strings.TrimSpace(in.Identity)
	if identity == "" {
		return nil, fmt.Errorf("%w: user_id is required", models.ErrBadRequest)
	}

	attempt := &models.LoginAttempt{
		ID:                uuid.NewString(),
		Identity:          identity,
		NetworkAddress:    strings.TrimSpace(in.NetworkAddress),
		Timezone:          strings.TrimSpace(in.Timezone),
		DeviceFingerprint: strings.TrimSpace(in.DeviceFingerprint),
		TypingSpeed:       valueOrZero(in.TypingSpeed),
		PointerSpeed:      valueOrZero(in.PointerSpeed),
	}

	attempt.Timestamp = s.eventTime(attempt.ID, in.Timestamp)

	attempt.ApplyDefaults()

	switch {
	case in.Latitude != nil || in.Longitude != nil:
		attempt.Latitude = valueOrZero(in.Latitude)
		attempt.Longitude = valueOrZero(in.Longitude)
	case s.geo != nil:
		if lat, lon, ok := s.geo.Locate(attempt.NetworkAddress); ok {
			attempt.Latitude, attempt.Longitude = lat, lon
		}
	}

	return attempt, nil
}

// eventTime picks the login time used for geo-velocity and history. A caller
// time ahead of the server clock, or older than the allowed skew, is replaced
// by the server clock.
func (s *EvaluationService) eventTime(attemptID string, claimed *time.Time) time.Time {
	now := s.now()
	if claimed == nil || claimed.IsZero() {
		return models.NormalizeTimestamp(now)
	}

	if claimed.After(now) || now.Sub(*claimed) > s.clockSkew {
		s.logger.Warn("login time outside allowed skew, using server clock",
			slog.String("attempt_id", attemptID),
			slog.Time("claimed", claimed.UTC()),
			slog.Duration("skew", claimed.Sub(now)),
		)
		return models.NormalizeTimestamp(now)
	}

	return models.NormalizeTimestamp(*claimed)
}

// evaluateLocked runs while the identity lock is held
func (s *EvaluationService) evaluateLocked(ctx context.Context, attempt *models.LoginAttempt, in LoginInput) (*evaluation, error) {
	previous, err := s.history.Latest(ctx, attempt.Identity)
	if err != nil {
		s.observeError(metrics.StageHistoryRead)
		if !errors.Is(err, models.ErrStorage) {
			err = fmt.Errorf("%w: %w", models.ErrStorage, err)
		}
		return nil, err
	}

	current := risk.Point{
		Coordinates: risk.Coordinates{Latitude: attempt.Latitude, Longitude: attempt.Longitude},
		Time:        attempt.Timestamp,
	}
	var prevPoint *risk.Point
	if previous != nil {
		prevPoint = &risk.Point{
			Coordinates: risk.Coordinates{Latitude: previous.Latitude, Longitude: previous.Longitude},
			Time:        previous.Timestamp,
		}
	}

	attempt.GeoVelocity = risk.Velocity(prevPoint, current)

	result := &models.DecisionResult{
		AttemptID:         attempt.ID,
		GeoVelocity:       attempt.GeoVelocity,
		ContextualChanges: []string{},
	}

	if s.policy.ImpossibleTravel(attempt.GeoVelocity) {
		applyVerdict(result, s.policy.TravelVerdict())
		s.logNotStored(attempt, result)
		return &evaluation{result: result}, nil
	}

	changes := s.detector.Detect(*risk.ContextFromAttempt(attempt), risk.ContextFromAttempt(previous))
	result.ContextualChanges = changes.Labels

	features := s.scorer.Features(anomaly.FeatureInput{
		Latitude:       attempt.Latitude,
		Longitude:      attempt.Longitude,
		TypingSpeed:    in.TypingSpeed,
		PointerSpeed:   in.PointerSpeed,
		GeoVelocity:    attempt.GeoVelocity,
		Timestamp:      attempt.Timestamp,
		NetworkAddress: attempt.NetworkAddress,
	})

	scored := true
	score, err := s.scorer.Score(features)
	if err != nil {
		scored = false
		s.observeError(metrics.StageScorer)
		s.logger.Error("anomaly scoring failed",
			slog.String("attempt_id", attempt.ID),
			slog.Any("error", err),
		)
		applyVerdict(result, s.policy.ScorerFailureVerdict())
	} else {
		applyVerdict(result, s.policy.Decide(attempt.GeoVelocity, changes, score))
	}

	if result.Decision != models.DecisionAllow {
		s.logNotStored(attempt, result)
		return &evaluation{result: result, scored: scored}, nil
	}

	if err := s.history.Append(ctx, attempt); err != nil {
		s.observeError(metrics.StageHistoryWrite)
		s.logger.Error("failed to record allowed login attempt",
			slog.String("attempt_id", attempt.ID),
			slog.Any("error", err),
		)
		result.HistoryError = models.ErrStorage.Error()
		if !errors.Is(err, models.ErrStorage) {
			err = fmt.Errorf("%w: %w", models.ErrStorage, err)
		}
		return &evaluation{result: result, scored: scored, historyErr: err}, nil
	}

	result.HistoryRecorded = true
	return &evaluation{result: result, scored: scored}, nil
}

// afterDecision runs the side effects that never change a decision
func (s *EvaluationService) afterDecision(ctx context.Context, attempt *models.LoginAttempt, result *models.DecisionResult, scored bool, elapsed time.Duration) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sideEffectTimeout)
	defer cancel()

	if result.Decision == models.DecisionMFA && s.challenges != nil {
		token, err := s.challenges.IssueChallenge(attempt.Identity, attempt.ID, result.Reason, result.ContextualChanges)
		if err != nil {
			s.observeError(metrics.StageChallenge)
			s.logger.Error("failed to issue step-up challenge",
				slog.String("attempt_id", attempt.ID),
				slog.Any("error", err),
			)
		} else {
			result.ChallengeToken = token
		}
	}

	if s.auditRepo != nil {
		rec := models.NewRiskDecisionRecord(attempt.Identity, attempt.NetworkAddress, result)
		if _, err := s.auditRepo.Create(ctx, rec); err != nil {
			s.observeError(metrics.StageAudit)
			s.logger.Error("failed to store risk decision",
				slog.String("attempt_id", attempt.ID),
				slog.Any("error", err),
			)
		}
	}

	if s.publisher != nil {
		if err := s.publisher.Publish(ctx, decisionEvent(attempt, result)); err != nil {
			s.observeError(metrics.StagePublish)
			s.logger.Warn("failed to publish decision event",
				slog.String("attempt_id", attempt.ID),
				slog.Any("error", err),
			)
		}
	}

	if s.metrics != nil {
		s.metrics.ObserveDecision(string(result.Decision), string(result.Regime),
			result.ContextualChanges, result.Breakdown.AnomalyError, scored, elapsed)
	}

	if s.auditLogger != nil {
		s.auditLogger.LogRiskDecision(ctx, pkglogger.DecisionEvent{
			AttemptID:       result.AttemptID,
			UserID:          attempt.Identity,
			IPAddress:       attempt.NetworkAddress,
			Decision:        string(result.Decision),
			Reason:          result.Reason,
			Regime:          string(result.Regime),
			RiskScore:       result.TotalRiskScore,
			AnomalyError:    result.Breakdown.AnomalyError,
			RuleBasedRisk:   result.Breakdown.RuleBasedRisk,
			GeoVelocity:     result.GeoVelocity,
			Changes:         result.ContextualChanges,
			HistoryRecorded: result.HistoryRecorded,
			Duration:        elapsed,
		})
	}
}

func (s *EvaluationService) logNotStored(attempt *models.LoginAttempt, result *models.DecisionResult) {
	s.logger.Info("login attempt not stored",
		slog.String("attempt_id", attempt.ID),
		slog.String("decision", string(result.Decision)),
		slog.String("reason", result.Reason),
	)
}

func (s *EvaluationService) observeError(stage string) {
	if s.metrics != nil {
		s.metrics.ObserveError(stage)
	}
}

func applyVerdict(result *models.DecisionResult, v risk.Verdict) {
	result.Decision = v.Decision
	result.Reason = v.Reason
	result.Regime = v.Regime
	result.TotalRiskScore = v.TotalRiskScore
	result.Breakdown = v.Breakdown
}

func decisionEvent(attempt *models.LoginAttempt, result *models.DecisionResult) events.DecisionEvent {
	return events.DecisionEvent{
		AttemptID:       result.AttemptID,
		UserID:          attempt.Identity,
		IPAddress:       attempt.NetworkAddress,
		Decision:        string(result.Decision),
		Reason:          result.Reason,
		Regime:          string(result.Regime),
		RiskScore:       result.TotalRiskScore,
		AnomalyError:    result.Breakdown.AnomalyError,
		RuleBasedRisk:   result.Breakdown.RuleBasedRisk,
		GeoVelocity:     result.GeoVelocity,
		Changes:         result.ContextualChanges,
		HistoryRecorded: result.HistoryRecorded,
		Timestamp:       attempt.Timestamp,
	}
}

func valueOrZero(f *float64) float64 {
	if f == nil {
		return 0
	}
	return *f
}
