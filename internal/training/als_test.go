package training

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func alsSplit() *Split {
	return &Split{
		Train: []Interaction{
			{Cookie: 1, Node: 10}, {Cookie: 1, Node: 11}, {Cookie: 1, Node: 11},
			{Cookie: 2, Node: 10}, {Cookie: 2, Node: 12},
			{Cookie: 3, Node: 11}, {Cookie: 3, Node: 12}, {Cookie: 3, Node: 13},
			{Cookie: 4, Node: 13}, {Cookie: 4, Node: 14},
		},
		Eval: []Pair{{Cookie: 1, Node: 12}, {Cookie: 2, Node: 11}, {Cookie: 4, Node: 12}},
	}
}

func alsParams() Params {
	return Params{TopK: 2, Iterations: 5, Factors: 3, Regularization: 0.1, Alpha: 2, Seed: 42}
}

func TestALSStrategy_Deterministic(t *testing.T) {
	ctx := context.Background()

	first, err := ALSStrategy{}.Fit(ctx, alsSplit(), alsParams())
	require.NoError(t, err)
	second, err := ALSStrategy{}.Fit(ctx, alsSplit(), alsParams())
	require.NoError(t, err)

	assert.Equal(t, first.Recommendations, second.Recommendations)
	assert.Equal(t, first.Artifact, second.Artifact)
}

func TestALSStrategy_Recommendations(t *testing.T) {
	split := alsSplit()
	result, err := ALSStrategy{}.Fit(context.Background(), split, alsParams())
	require.NoError(t, err)

	seen := make(map[int64]map[int64]bool)
	for _, row := range split.Train {
		if seen[row.Cookie] == nil {
			seen[row.Cookie] = make(map[int64]bool)
		}
		seen[row.Cookie][row.Node] = true
	}

	assert.Len(t, result.Recommendations, 3)
	for cookie, recs := range result.Recommendations {
		assert.LessOrEqual(t, len(recs), 2)
		for _, node := range recs {
			assert.False(t, seen[cookie][node], "cookie %d was recommended seen node %d", cookie, node)
		}
	}
}

func TestALSStrategy_Artifact(t *testing.T) {
	result, err := ALSStrategy{}.Fit(context.Background(), alsSplit(), alsParams())
	require.NoError(t, err)

	var artifact alsArtifact
	require.NoError(t, json.Unmarshal(result.Artifact, &artifact))

	assert.Equal(t, "als", artifact.Type)
	assert.Equal(t, 3, artifact.Factors)
	assert.Equal(t, []int64{1, 2, 3, 4}, artifact.UserIDs)
	assert.Equal(t, []int64{10, 11, 12, 13, 14}, artifact.ItemIDs)
	require.Len(t, artifact.UserFactors, 4)
	require.Len(t, artifact.ItemFactors, 5)
	assert.Len(t, artifact.UserFactors[0], 3)
}

func TestALSStrategy_InvalidParams(t *testing.T) {
	tests := []struct {
		name   string
		params Params
	}{
		{name: "no factors", params: Params{TopK: 2, Iterations: 5}},
		{name: "no iterations", params: Params{TopK: 2, Factors: 3}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ALSStrategy{}.Fit(context.Background(), alsSplit(), tt.params)
			require.Error(t, err)
		})
	}
}

func TestALSStrategy_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := ALSStrategy{}.Fit(ctx, alsSplit(), alsParams())
	require.ErrorIs(t, err, context.Canceled)
}

func TestCholeskySolve(t *testing.T) {
	a := [][]float64{{4, 2}, {2, 3}}
	x, err := choleskySolve(a, []float64{2, 1})
	require.NoError(t, err)
	assert.InDelta(t, 0.5, x[0], 1e-12)
	assert.InDelta(t, 0.0, x[1], 1e-12)

	_, err = choleskySolve([][]float64{{0, 0}, {0, 0}}, []float64{1, 1})
	require.ErrorIs(t, err, errNotPositiveDefinite)
}
