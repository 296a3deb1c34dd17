package logger

import (
	"context"
	"log/slog"
	"strings"
	"time"
)

// DecisionEvent is the audit view of one risk evaluation
type DecisionEvent struct {
	AttemptID       string
	UserID          string
	IPAddress       string
	Decision        string
	Reason          string
	Regime          string
	RiskScore       float64
	AnomalyError    float64
	RuleBasedRisk   float64
	GeoVelocity     float64
	Changes         []string
	HistoryRecorded bool
	Duration        time.Duration
}

// AuditLogger provides audit logging functionality
type AuditLogger struct {
	logger *slog.Logger
	env    string
}

// NewAuditLogger creates a new audit logger. In production identities and
// addresses are masked.
func NewAuditLogger(logger *slog.Logger, env string) *AuditLogger {
	return &AuditLogger{
		logger: logger,
		env:    env,
	}
}

// LogRiskDecision logs the outcome of a login risk evaluation
func (al *AuditLogger) LogRiskDecision(ctx context.Context, event DecisionEvent) {
	attrs := []slog.Attr{
		slog.String("audit_type", "risk_decision"),
		slog.String("attempt_id", event.AttemptID),
		slog.String("decision", event.Decision),
		slog.String("reason", event.Reason),
		slog.String("regime", event.Regime),
		slog.Float64("risk_score", event.RiskScore),
		slog.Float64("anomaly_error", event.AnomalyError),
		slog.Float64("rule_based_risk", event.RuleBasedRisk),
		slog.Float64("geo_velocity", event.GeoVelocity),
		slog.Bool("history_recorded", event.HistoryRecorded),
		slog.String("timestamp", time.Now().UTC().Format(time.RFC3339)),
	}

	if event.UserID != "" {
		attrs = append(attrs, slog.String("user_id", al.identity(event.UserID)))
	}
	if event.IPAddress != "" {
		attrs = append(attrs, slog.String("ip_address", al.address(event.IPAddress)))
	}
	if len(event.Changes) > 0 {
		attrs = append(attrs, slog.String("changes", strings.Join(event.Changes, ",")))
	}
	if event.Duration > 0 {
		attrs = append(attrs, slog.Duration("duration", event.Duration))
	}

	level := slog.LevelInfo
	if event.Decision != "allow" {
		level = slog.LevelWarn
	}

	al.logger.LogAttrs(ctx, level, "audit", attrs...)
}

// LogChallengeValidation logs step-up token checks
func (al *AuditLogger) LogChallengeValidation(ctx context.Context, userID, ipAddress string, success bool, failureReason string) {
	attrs := []slog.Attr{
		slog.String("audit_type", "challenge"),
		slog.String("event_type", "challenge_validate"),
		slog.Bool("success", success),
		slog.String("timestamp", time.Now().UTC().Format(time.RFC3339)),
	}

	if userID != "" {
		attrs = append(attrs, slog.String("user_id", al.identity(userID)))
	}
	if ipAddress != "" {
		attrs = append(attrs, slog.String("ip_address", al.address(ipAddress)))
	}
	if failureReason != "" {
		attrs = append(attrs, slog.String("failure_reason", failureReason))
	}

	if success {
		al.logger.LogAttrs(ctx, slog.LevelInfo, "audit", attrs...)
	} else {
		al.logger.LogAttrs(ctx, slog.LevelWarn, "audit", attrs...)
	}
}

func (al *AuditLogger) identity(userID string) string {
	if al.env == "production" {
		return MaskIdentity(userID)
	}
	return userID
}

func (al *AuditLogger) address(ip string) string {
	if al.env == "production" {
		return MaskNetworkAddress(ip)
	}
	return ip
}
