package anomaly

import (
	"fmt"
)

// Normalizer applies the min-max scaling fitted at training time and imputes
// missing values with the training medians.
type Normalizer struct {
	min     FeatureVector
	scale   FeatureVector
	medians FeatureVector
}

// NewNormalizer builds a normalizer from per-feature min, max and median.
// Columns with zero range use a scale of 1.
func NewNormalizer(dataMin, dataMax, medians []float64) (*Normalizer, error) {
	if len(dataMin) != FeatureCount || len(dataMax) != FeatureCount || len(medians) != FeatureCount {
		return nil, fmt.Errorf("scaler expects %d features (got min=%d max=%d medians=%d)",
			FeatureCount, len(dataMin), len(dataMax), len(medians))
	}

	n := &Normalizer{}
	for i := 0; i < FeatureCount; i++ {
		if Missing(dataMin[i]) || Missing(dataMax[i]) || Missing(medians[i]) {
			return nil, fmt.Errorf("scaler column %s has a non-finite value", FeatureNames[i])
		}
		if dataMax[i] < dataMin[i] {
			return nil, fmt.Errorf("scaler column %s has max < min", FeatureNames[i])
		}

		n.min[i] = dataMin[i]
		n.medians[i] = medians[i]
		n.scale[i] = dataMax[i] - dataMin[i]
		if n.scale[i] == 0 {
			n.scale[i] = 1
		}
	}

	return n, nil
}

// Impute replaces missing values with the training medians
func (n *Normalizer) Impute(v FeatureVector) FeatureVector {
	for i := range v {
		if Missing(v[i]) {
			v[i] = n.medians[i]
		}
	}
	return v
}

// Transform imputes and scales v into the training range
func (n *Normalizer) Transform(v FeatureVector) FeatureVector {
	v = n.Impute(v)
	for i := range v {
		v[i] = (v[i] - n.min[i]) / n.scale[i]
	}
	return v
}
