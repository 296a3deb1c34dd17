package risk

import (
	"math"

	"github.com/BradenHooton/riskauth/internal/models"
)

// Decision reasons
const (
	ReasonImpossibleTravel   = "Impossible travel detected (geo-velocity too high)"
	ReasonScorerUnavailable  = "Anomaly scorer unavailable"
	ReasonLowReconstruction  = "Unexpectedly low reconstruction error (behavioral anomaly)"
	ReasonBehavioralHigh     = "High-risk login detected (behavioral anomaly)"
	ReasonBehavioralModerate = "Moderate anomaly detected (behavioral anomaly)"
	ReasonBehavioralNormal   = "Normal login (behavioral anomaly within acceptable range)"
	ReasonContextualHigh     = "High-risk login detected"
	ReasonContextualModerate = "Moderate anomaly detected"
	ReasonContextualNormal   = "Normal login"
)

// Verdict is the policy outcome before it is wrapped into a DecisionResult
type Verdict struct {
	Decision       models.Decision
	Reason         string
	Regime         models.Regime
	TotalRiskScore float64
	Breakdown      models.ScoreBreakdown
}

// Policy fuses geo-velocity, contextual changes and the anomaly error
type Policy struct {
	thresholds Thresholds
}

// NewPolicy creates a policy; invalid thresholds are rejected
func NewPolicy(thresholds Thresholds) (*Policy, error) {
	if err := thresholds.Validate(); err != nil {
		return nil, err
	}
	return &Policy{thresholds: thresholds}, nil
}

// Thresholds returns the policy cut points
func (p *Policy) Thresholds() Thresholds {
	return p.thresholds
}

// ImpossibleTravel reports whether the velocity alone forces a block
func (p *Policy) ImpossibleTravel(geoVelocity float64) bool {
	return geoVelocity > p.thresholds.MaxGeoVelocity
}

// TravelVerdict is the terminal verdict for impossible travel
func (p *Policy) TravelVerdict() Verdict {
	return Verdict{
		Decision: models.DecisionBlock,
		Reason:   ReasonImpossibleTravel,
		Regime:   models.RegimeNone,
	}
}

// ScorerFailureVerdict is returned when no anomaly score could be produced.
// An allow always requires a score, so this fails closed.
func (p *Policy) ScorerFailureVerdict() Verdict {
	return Verdict{
		Decision: models.DecisionBlock,
		Reason:   ReasonScorerUnavailable,
		Regime:   models.RegimeNone,
	}
}

// Decide applies the full policy. The regime is chosen solely by whether
// changes is empty. A non-finite or negative anomaly error is treated as a
// scorer failure.
func (p *Policy) Decide(geoVelocity float64, changes ContextChanges, anomalyError float64) Verdict {
	if p.ImpossibleTravel(geoVelocity) {
		return p.TravelVerdict()
	}
	if math.IsNaN(anomalyError) || math.IsInf(anomalyError, 0) || anomalyError < 0 {
		return p.ScorerFailureVerdict()
	}
	if changes.Empty() {
		return p.behavioral(anomalyError)
	}
	return p.contextual(anomalyError, changes.Score)
}

func (p *Policy) behavioral(errScore float64) Verdict {
	t := p.thresholds
	v := Verdict{
		Regime:         models.RegimeBehavioral,
		TotalRiskScore: errScore,
		Breakdown: models.ScoreBreakdown{
			AnomalyError: errScore,
			Total:        errScore,
		},
	}

	switch {
	case errScore < t.BehavioralAllowMin:
		v.Decision, v.Reason = models.DecisionBlock, ReasonLowReconstruction
	case errScore < t.BehavioralMFAMin:
		v.Decision, v.Reason = models.DecisionAllow, ReasonBehavioralNormal
	case errScore < t.BehavioralBlockMin:
		v.Decision, v.Reason = models.DecisionMFA, ReasonBehavioralModerate
	default:
		v.Decision, v.Reason = models.DecisionBlock, ReasonBehavioralHigh
	}

	return v
}

func (p *Policy) contextual(errScore float64, ruleScore int) Verdict {
	t := p.thresholds
	total := errScore + float64(ruleScore)
	v := Verdict{
		Regime:         models.RegimeContextual,
		TotalRiskScore: total,
		Breakdown: models.ScoreBreakdown{
			AnomalyError:  errScore,
			RuleBasedRisk: float64(ruleScore),
			Total:         total,
		},
	}

	switch {
	case total >= t.ContextualBlockMin:
		v.Decision, v.Reason = models.DecisionBlock, ReasonContextualHigh
	case total >= t.ContextualMFAMin:
		v.Decision, v.Reason = models.DecisionMFA, ReasonContextualModerate
	default:
		v.Decision, v.Reason = models.DecisionAllow, ReasonContextualNormal
	}

	return v
}
