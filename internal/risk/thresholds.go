package risk

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Thresholds holds every cut point used by the decision policy
type Thresholds struct {
	// MaxGeoVelocity is the speed in km/h above which travel is impossible
	MaxGeoVelocity float64 `yaml:"max_geo_velocity" json:"max_geo_velocity"`

	// Behavioral regime bands over the raw anomaly error
	BehavioralAllowMin float64 `yaml:"behavioral_allow_min" json:"behavioral_allow_min"`
	BehavioralMFAMin   float64 `yaml:"behavioral_mfa_min" json:"behavioral_mfa_min"`
	BehavioralBlockMin float64 `yaml:"behavioral_block_min" json:"behavioral_block_min"`

	// Contextual regime bands over anomaly error plus rule points
	ContextualMFAMin   float64 `yaml:"contextual_mfa_min" json:"contextual_mfa_min"`
	ContextualBlockMin float64 `yaml:"contextual_block_min" json:"contextual_block_min"`
}

// DefaultThresholds returns the cut points the anomaly model was calibrated for
func DefaultThresholds() Thresholds {
	return Thresholds{
		MaxGeoVelocity:     1000,
		BehavioralAllowMin: 0.101,
		BehavioralMFAMin:   0.28,
		BehavioralBlockMin: 0.5,
		ContextualMFAMin:   3,
		ContextualBlockMin: 8,
	}
}

// Validate checks that every band is positive and ordered
func (t Thresholds) Validate() error {
	if t.MaxGeoVelocity <= 0 {
		return errors.New("max_geo_velocity must be > 0")
	}
	if t.BehavioralAllowMin < 0 {
		return errors.New("behavioral_allow_min must be >= 0")
	}
	if !(t.BehavioralAllowMin < t.BehavioralMFAMin && t.BehavioralMFAMin < t.BehavioralBlockMin) {
		return fmt.Errorf("behavioral bands must be increasing (got %g, %g, %g)",
			t.BehavioralAllowMin, t.BehavioralMFAMin, t.BehavioralBlockMin)
	}
	if !(t.ContextualMFAMin > 0 && t.ContextualMFAMin < t.ContextualBlockMin) {
		return fmt.Errorf("contextual bands must be positive and increasing (got %g, %g)",
			t.ContextualMFAMin, t.ContextualBlockMin)
	}
	return nil
}

// LoadThresholds reads a YAML policy file. Keys missing from the file keep their
// default value.
func LoadThresholds(path string) (Thresholds, error) {
	t := DefaultThresholds()

	content, err := os.ReadFile(path)
	if err != nil {
		return t, fmt.Errorf("failed to read policy file: %w", err)
	}
	if strings.TrimSpace(string(content)) == "" {
		return t, errors.New("policy file is empty")
	}

	if err := yaml.Unmarshal(content, &t); err != nil {
		return t, fmt.Errorf("failed to parse policy file: %w", err)
	}
	if err := t.Validate(); err != nil {
		return t, fmt.Errorf("invalid policy file: %w", err)
	}

	return t, nil
}
