package models

// Decision is the outcome of a login risk evaluation
type Decision string

const (
	DecisionAllow Decision = "allow"
	DecisionMFA   Decision = "mfa"
	DecisionBlock Decision = "block"
)

// Regime identifies which scoring mode produced a decision
type Regime string

const (
	// RegimeNone is used when evaluation short-circuits before fusion (impossible travel, scorer failure)
	RegimeNone Regime = "none"
	// RegimeBehavioral scores the anomaly error alone (no contextual changes)
	RegimeBehavioral Regime = "behavioral"
	// RegimeContextual adds rule points to the anomaly error
	RegimeContextual Regime = "contextual"
)

// Contextual change labels, in detection order
const (
	ChangeNetworkAddress = "IP Address Changed"
	ChangeDevice         = "Device Info Changed"
	ChangeTimezone       = "Timezone Changed"
	ChangeLocation       = "Location Changed"
)

// ScoreBreakdown itemizes how the total risk score was reached
type ScoreBreakdown struct {
	AnomalyError  float64 `json:"autoencoder_error"`
	RuleBasedRisk float64 `json:"rule_based_risk"`
	Total         float64 `json:"total_risk_score"`
}

// DecisionResult is returned to the caller for every evaluation
type DecisionResult struct {
	AttemptID         string         `json:"attempt_id"`
	Decision          Decision       `json:"status"`
	Reason            string         `json:"reason"`
	Regime            Regime         `json:"regime"`
	TotalRiskScore    float64        `json:"risk_score"`
	ContextualChanges []string       `json:"changes"`
	GeoVelocity       float64        `json:"geo_velocity"`
	Breakdown         ScoreBreakdown `json:"breakdown"`
	ChallengeToken    string         `json:"challenge_token,omitempty"`
	HistoryRecorded   bool           `json:"history_recorded"`
	HistoryError      string         `json:"history_error,omitempty"`
}
