package scorer

import (
	"encoding/json"
	"fmt"
	"os"
)

// ModelFile is the on-disk representation of a trained ensemble:
// logistic base models over the declared features plus a logistic meta
// model over features and base scores (stacking).
type ModelFile struct {
	Version    string          `json:"version"`
	Features   []string        `json:"features"`
	BaseModels []LogisticModel `json:"base_models"`
	MetaModel  LogisticModel   `json:"meta_model"`
}

// LogisticModel is one member model: score = sigmoid(w·x + b).
type LogisticModel struct {
	Name    string    `json:"name,omitempty"`
	Weights []float64 `json:"weights"`
	Bias    float64   `json:"bias"`
}

// scoreMatrix applies the model to every row of m.
func (l *LogisticModel) scoreMatrix(m Matrix) ([]float64, error) {
	scores, err := m.MulVec(l.Weights, l.Bias)
	if err != nil {
		return nil, err
	}
	sigmoidInPlace(scores)
	return scores, nil
}

// LoadModelFile reads and validates a model file.
func LoadModelFile(path string) (*ModelFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read model file %s: %v", path, err)
	}

	var mf ModelFile
	if err := json.Unmarshal(data, &mf); err != nil {
		return nil, fmt.Errorf("failed to parse model file %s: %v", path, err)
	}

	if err := mf.Validate(); err != nil {
		return nil, fmt.Errorf("invalid model file %s: %v", path, err)
	}
	return &mf, nil
}

// Validate checks structural consistency of the model.
func (mf *ModelFile) Validate() error {
	if mf.Version == "" {
		return fmt.Errorf("model version is empty")
	}
	if len(mf.Features) == 0 {
		return fmt.Errorf("model declares no features")
	}
	if len(mf.BaseModels) == 0 {
		return fmt.Errorf("model declares no base models")
	}

	seen := make(map[string]bool, len(mf.BaseModels))
	for i := range mf.BaseModels {
		base := &mf.BaseModels[i]
		if base.Name == "" {
			return fmt.Errorf("base model %d has no name", i)
		}
		if seen[base.Name] {
			return fmt.Errorf("duplicate base model name %q", base.Name)
		}
		seen[base.Name] = true
		if len(base.Weights) != len(mf.Features) {
			return fmt.Errorf("base model %q has %d weights for %d features", base.Name, len(base.Weights), len(mf.Features))
		}
	}

	wantMeta := len(mf.Features) + len(mf.BaseModels)
	if len(mf.MetaModel.Weights) != wantMeta {
		return fmt.Errorf("meta model has %d weights, want %d (features + base scores)", len(mf.MetaModel.Weights), wantMeta)
	}
	return nil
}
