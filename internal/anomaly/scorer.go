package anomaly

import (
	"fmt"
	"math"

	"github.com/BradenHooton/riskauth/internal/models"
)

// Reconstruction error metrics
const (
	ErrorMetricMAE = "mae"
	ErrorMetricMSE = "mse"
)

// Model is the loaded, immutable anomaly scorer. It is safe for concurrent use.
type Model struct {
	normalizer  *Normalizer
	network     *Network
	frequencies *FrequencyTable
	metric      string
}

// NewModel assembles a scorer from its parts
func NewModel(normalizer *Normalizer, network *Network, frequencies *FrequencyTable, metric string) (*Model, error) {
	if normalizer == nil || network == nil {
		return nil, fmt.Errorf("%w: normalizer and network are required", models.ErrModelUnavailable)
	}
	if metric == "" {
		metric = ErrorMetricMAE
	}
	if metric != ErrorMetricMAE && metric != ErrorMetricMSE {
		return nil, fmt.Errorf("%w: unknown error metric %q", models.ErrModelUnavailable, metric)
	}
	if frequencies == nil {
		frequencies = NewFrequencyTable(nil, DefaultUnseenFrequency)
	}

	return &Model{
		normalizer:  normalizer,
		network:     network,
		frequencies: frequencies,
		metric:      metric,
	}, nil
}

// Ready reports whether the model has everything it needs to score
func (m *Model) Ready() bool {
	return m != nil && m.normalizer != nil && m.network != nil
}

// Features builds the feature vector for an attempt using the model's frequency table
func (m *Model) Features(in FeatureInput) FeatureVector {
	return BuildFeatureVector(in, m.frequencies)
}

// Frequencies returns the network address frequency table
func (m *Model) Frequencies() *FrequencyTable {
	return m.frequencies
}

// Metric returns the reconstruction error metric
func (m *Model) Metric() string {
	return m.metric
}

// Score returns the reconstruction error of v. Larger is more anomalous.
func (m *Model) Score(v FeatureVector) (float64, error) {
	scaled := m.normalizer.Transform(v)
	reconstructed := m.network.Reconstruct(scaled)

	var sum float64
	for i := range scaled {
		d := scaled[i] - reconstructed[i]
		if m.metric == ErrorMetricMSE {
			sum += d * d
		} else {
			sum += math.Abs(d)
		}
	}
	score := sum / FeatureCount

	if math.IsNaN(score) || math.IsInf(score, 0) {
		return 0, fmt.Errorf("%w: non-finite reconstruction error", models.ErrModelUnavailable)
	}

	return score, nil
}
