package training

import (
	"encoding/json"
	"testing"

	"github.com/Alexander76Kuznetsov/mfdp/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveParams(t *testing.T) {
	defaults := Params{TopK: 40, Iterations: 10, Factors: 20, Regularization: 0.1, Alpha: 1}

	tests := []struct {
		name        string
		hyperparams map[string]any
		want        Params
		wantErr     bool
	}{
		{
			name: "defaults kept",
			want: defaults,
		},
		{
			name: "json numbers override",
			hyperparams: map[string]any{
				"iterations":     float64(3),
				"factors":        json.Number("8"),
				"regularization": 0.5,
				"alpha":          "2.5",
				"seed":           7,
			},
			want: Params{TopK: 40, Iterations: 3, Factors: 8, Regularization: 0.5, Alpha: 2.5, Seed: 7},
		},
		{
			name:        "unknown keys ignored",
			hyperparams: map[string]any{"learning_rate": 0.3},
			want:        defaults,
		},
		{
			name:        "fractional iterations",
			hyperparams: map[string]any{"iterations": 2.5},
			wantErr:     true,
		},
		{
			name:        "zero factors",
			hyperparams: map[string]any{"factors": 0},
			wantErr:     true,
		},
		{
			name:        "negative alpha",
			hyperparams: map[string]any{"alpha": -1},
			wantErr:     true,
		},
		{
			name:        "non numeric seed",
			hyperparams: map[string]any{"seed": []int{1}},
			wantErr:     true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := resolveParams(tt.hyperparams, defaults)
			if tt.wantErr {
				require.ErrorIs(t, err, domain.ErrInvalidPayload)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
