package inference

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
)

// Model kinds understood by ParseModel
const (
	KindLinear   = "linear"
	KindLogistic = "logistic"
)

// Model scores one user feature row
type Model interface {
	Predict(features map[string]float64) (string, error)
}

// modelArtifact is the JSON document stored in the artifact store
type modelArtifact struct {
	Type         string             `json:"type"`
	Intercept    float64            `json:"intercept"`
	Coefficients map[string]float64 `json:"coefficients"`
	Threshold    *float64           `json:"threshold,omitempty"`
}

// ParseModel decodes a model artifact
func ParseModel(data []byte) (Model, error) {
	var a modelArtifact
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, fmt.Errorf("failed to decode model artifact: %w", err)
	}
	if len(a.Coefficients) == 0 {
		return nil, fmt.Errorf("model artifact has no coefficients")
	}

	linear := &LinearModel{Intercept: a.Intercept, Coefficients: a.Coefficients}

	switch a.Type {
	case KindLinear:
		return linear, nil
	case KindLogistic:
		threshold := 0.5
		if a.Threshold != nil {
			threshold = *a.Threshold
		}
		return &LogisticModel{LinearModel: *linear, Threshold: threshold}, nil
	default:
		return nil, fmt.Errorf("unsupported model type %q", a.Type)
	}
}

// LinearModel outputs the weighted feature sum plus the intercept.
// Features without a coefficient are ignored; missing features count as zero.
type LinearModel struct {
	Intercept    float64
	Coefficients map[string]float64
}

func (m *LinearModel) score(features map[string]float64) float64 {
	sum := m.Intercept
	for name, weight := range m.Coefficients {
		sum += weight * features[name]
	}
	return sum
}

func (m *LinearModel) Predict(features map[string]float64) (string, error) {
	score := m.score(features)
	if math.IsNaN(score) || math.IsInf(score, 0) {
		return "", fmt.Errorf("model produced a non-finite score")
	}
	return strconv.FormatFloat(score, 'f', -1, 64), nil
}

// LogisticModel outputs class label 1 when the sigmoid of the score reaches Threshold
type LogisticModel struct {
	LinearModel
	Threshold float64
}

func (m *LogisticModel) Predict(features map[string]float64) (string, error) {
	score := m.score(features)
	if math.IsNaN(score) {
		return "", fmt.Errorf("model produced a non-finite score")
	}
	if sigmoid(score) >= m.Threshold {
		return "1", nil
	}
	return "0", nil
}

func sigmoid(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}
