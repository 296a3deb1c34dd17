package anomaly

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/BradenHooton/riskauth/internal/models"
)

// Artifact file names inside the model directory
const (
	ModelFile       = "model.json"
	ScalerFile      = "scaler.json"
	FrequenciesFile = "ip_frequencies.json"
)

type modelArtifact struct {
	ErrorMetric string  `json:"error_metric"`
	Layers      []Layer `json:"layers"`
}

type scalerArtifact struct {
	DataMin []float64 `json:"data_min"`
	DataMax []float64 `json:"data_max"`
	Medians []float64 `json:"medians"`
}

type frequencyArtifact struct {
	UnseenFrequency float64            `json:"unseen_frequency"`
	Frequencies     map[string]float64 `json:"frequencies"`
}

// LoadModel reads model.json, scaler.json and ip_frequencies.json from dir.
// Every failure wraps models.ErrModelUnavailable. A missing frequency file
// leaves the table empty, so every address scores as unseen; any other error
// reading it fails the load.
func LoadModel(dir string) (*Model, error) {
	var ma modelArtifact
	if err := readArtifact(filepath.Join(dir, ModelFile), &ma); err != nil {
		return nil, err
	}
	network, err := NewNetwork(ma.Layers)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", models.ErrModelUnavailable, ModelFile, err)
	}

	var sa scalerArtifact
	if err := readArtifact(filepath.Join(dir, ScalerFile), &sa); err != nil {
		return nil, err
	}
	normalizer, err := NewNormalizer(sa.DataMin, sa.DataMax, sa.Medians)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", models.ErrModelUnavailable, ScalerFile, err)
	}

	fa := frequencyArtifact{UnseenFrequency: DefaultUnseenFrequency}
	freqPath := filepath.Join(dir, FrequenciesFile)
	_, statErr := os.Stat(freqPath)
	switch {
	case statErr == nil:
		if err := readArtifact(freqPath, &fa); err != nil {
			return nil, err
		}
	case !errors.Is(statErr, fs.ErrNotExist):
		return nil, fmt.Errorf("%w: %s: %v", models.ErrModelUnavailable, FrequenciesFile, statErr)
	}

	return NewModel(normalizer, network, NewFrequencyTable(fa.Frequencies, fa.UnseenFrequency), ma.ErrorMetric)
}

func readArtifact(path string, dst any) error {
	content, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("%w: %v", models.ErrModelUnavailable, err)
	}
	if err := json.Unmarshal(content, dst); err != nil {
		return fmt.Errorf("%w: failed to parse %s: %v", models.ErrModelUnavailable, filepath.Base(path), err)
	}
	return nil
}
