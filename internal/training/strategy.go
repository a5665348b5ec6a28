package training

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/Alexander76Kuznetsov/mfdp/internal/domain"
)

// Params are the resolved hyperparameters of one training run
type Params struct {
	TopK           int
	Iterations     int
	Factors        int
	Regularization float64
	Alpha          float64
	Seed           int64
}

// Result is what a strategy produces for evaluation
type Result struct {
	// Recommendations holds up to TopK nodes per evaluation cookie, best first
	Recommendations map[int64][]int64
	// Artifact is the serialized model, nil when the strategy keeps none
	Artifact []byte
}

// Strategy fits a recommender on the train split
type Strategy interface {
	Fit(ctx context.Context, split *Split, params Params) (*Result, error)
}

// resolveParams overlays job hyperparameters on the configured defaults
func resolveParams(hyperparams map[string]any, defaults Params) (Params, error) {
	params := defaults

	ints := map[string]*int{
		domain.HyperparamIterations: &params.Iterations,
		domain.HyperparamFactors:    &params.Factors,
	}
	for key, dst := range ints {
		v, ok := hyperparams[key]
		if !ok {
			continue
		}
		n, err := toFloat(v)
		if err != nil || n != float64(int(n)) || n <= 0 {
			return Params{}, fmt.Errorf("%w: %s must be a positive integer, got %v", domain.ErrInvalidPayload, key, v)
		}
		*dst = int(n)
	}

	floats := map[string]*float64{
		domain.HyperparamRegularization: &params.Regularization,
		domain.HyperparamAlpha:          &params.Alpha,
	}
	for key, dst := range floats {
		v, ok := hyperparams[key]
		if !ok {
			continue
		}
		f, err := toFloat(v)
		if err != nil || f < 0 {
			return Params{}, fmt.Errorf("%w: %s must be a non-negative number, got %v", domain.ErrInvalidPayload, key, v)
		}
		*dst = f
	}

	if v, ok := hyperparams[domain.HyperparamSeed]; ok {
		f, err := toFloat(v)
		if err != nil {
			return Params{}, fmt.Errorf("%w: seed must be a number, got %v", domain.ErrInvalidPayload, v)
		}
		params.Seed = int64(f)
	}

	return params, nil
}

func toFloat(v any) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case int32:
		return float64(n), nil
	case json.Number:
		return n.Float64()
	case string:
		return strconv.ParseFloat(n, 64)
	default:
		return 0, fmt.Errorf("unsupported type %T", v)
	}
}
