package models

import "time"

// RiskDecisionRecord is the audit trail entry written for every evaluation,
// including mfa and block outcomes that never enter login history
type RiskDecisionRecord struct {
	ID                string    `db:"id"`
	AttemptID         string    `db:"attempt_id"`
	Identity          string    `db:"user_id"`
	NetworkAddress    string    `db:"ip_address"`
	Decision          Decision  `db:"decision"`
	Reason            string    `db:"reason"`
	Regime            Regime    `db:"regime"`
	AnomalyError      float64   `db:"anomaly_error"`
	RuleBasedRisk     float64   `db:"rule_based_risk"`
	TotalRiskScore    float64   `db:"total_risk_score"`
	GeoVelocity       float64   `db:"geo_velocity"`
	ContextualChanges []string  `db:"contextual_changes"`
	CreatedAt         time.Time `db:"created_at"`
}

// NewRiskDecisionRecord builds an audit record from an evaluation result
func NewRiskDecisionRecord(identity, networkAddress string, result *DecisionResult) *RiskDecisionRecord {
	changes := make([]string, len(result.ContextualChanges))
	copy(changes, result.ContextualChanges)

	return &RiskDecisionRecord{
		AttemptID:         result.AttemptID,
		Identity:          identity,
		NetworkAddress:    networkAddress,
		Decision:          result.Decision,
		Reason:            result.Reason,
		Regime:            result.Regime,
		AnomalyError:      result.Breakdown.AnomalyError,
		RuleBasedRisk:     result.Breakdown.RuleBasedRisk,
		TotalRiskScore:    result.TotalRiskScore,
		GeoVelocity:       result.GeoVelocity,
		ContextualChanges: changes,
	}
}
