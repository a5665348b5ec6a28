package training

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"sort"
)

// minRegularization keeps the normal equations solvable when none is configured
const minRegularization = 1e-6

// ALSStrategy is implicit-feedback alternating least squares. Interaction
// counts r become confidences 1 + alpha*r on a binary preference matrix.
type ALSStrategy struct{}

type alsEntry struct {
	index int
	count float64
}

type alsArtifact struct {
	Type           string      `json:"type"`
	Factors        int         `json:"factors"`
	Iterations     int         `json:"iterations"`
	Regularization float64     `json:"regularization"`
	Alpha          float64     `json:"alpha"`
	UserIDs        []int64     `json:"user_ids"`
	ItemIDs        []int64     `json:"item_ids"`
	UserFactors    [][]float64 `json:"user_factors"`
	ItemFactors    [][]float64 `json:"item_factors"`
}

// alsModel is a fitted factorization with its id maps
type alsModel struct {
	userIndex   map[int64]int
	itemIDs     []int64
	userItems   [][]alsEntry
	userFactors [][]float64
	itemFactors [][]float64
}

func (s ALSStrategy) Fit(ctx context.Context, split *Split, params Params) (*Result, error) {
	if params.Factors <= 0 || params.Iterations <= 0 {
		return nil, fmt.Errorf("als needs positive factors and iterations, got %d and %d", params.Factors, params.Iterations)
	}

	model, err := fitALS(ctx, split.Train, params)
	if err != nil {
		return nil, err
	}

	recs := make(map[int64][]int64)
	for _, cookie := range evalCookies(split.Eval) {
		recs[cookie] = model.recommend(cookie, params.TopK)
	}

	userIDs := make([]int64, len(model.userIndex))
	for id, idx := range model.userIndex {
		userIDs[idx] = id
	}

	data, err := json.Marshal(alsArtifact{
		Type:           "als",
		Factors:        params.Factors,
		Iterations:     params.Iterations,
		Regularization: params.Regularization,
		Alpha:          params.Alpha,
		UserIDs:        userIDs,
		ItemIDs:        model.itemIDs,
		UserFactors:    model.userFactors,
		ItemFactors:    model.itemFactors,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal als artifact: %w", err)
	}

	return &Result{Recommendations: recs, Artifact: data}, nil
}

func fitALS(ctx context.Context, train []Interaction, params Params) (*alsModel, error) {
	userIndex := make(map[int64]int)
	itemIndex := make(map[int64]int)
	var itemIDs []int64
	counts := make(map[[2]int]float64)

	for _, row := range train {
		u, ok := userIndex[row.Cookie]
		if !ok {
			u = len(userIndex)
			userIndex[row.Cookie] = u
		}
		i, ok := itemIndex[row.Node]
		if !ok {
			i = len(itemIDs)
			itemIndex[row.Node] = i
			itemIDs = append(itemIDs, row.Node)
		}
		counts[[2]int{u, i}]++
	}

	userItems := make([][]alsEntry, len(userIndex))
	itemUsers := make([][]alsEntry, len(itemIDs))
	for key, count := range counts {
		u, i := key[0], key[1]
		userItems[u] = append(userItems[u], alsEntry{index: i, count: count})
		itemUsers[i] = append(itemUsers[i], alsEntry{index: u, count: count})
	}
	// map iteration order must not leak into the floating point sums
	for _, group := range [][][]alsEntry{userItems, itemUsers} {
		for _, entries := range group {
			sort.Slice(entries, func(a, b int) bool { return entries[a].index < entries[b].index })
		}
	}

	rng := rand.New(rand.NewPCG(uint64(params.Seed), 0x9e3779b97f4a7c15))
	userFactors := randomFactors(rng, len(userIndex), params.Factors)
	itemFactors := randomFactors(rng, len(itemIDs), params.Factors)

	for iter := 0; iter < params.Iterations; iter++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := alsStep(userFactors, itemFactors, userItems, params); err != nil {
			return nil, fmt.Errorf("als iteration %d users: %w", iter+1, err)
		}
		if err := alsStep(itemFactors, userFactors, itemUsers, params); err != nil {
			return nil, fmt.Errorf("als iteration %d items: %w", iter+1, err)
		}
	}

	return &alsModel{
		userIndex:   userIndex,
		itemIDs:     itemIDs,
		userItems:   userItems,
		userFactors: userFactors,
		itemFactors: itemFactors,
	}, nil
}

func randomFactors(rng *rand.Rand, rows, factors int) [][]float64 {
	m := newMatrix(rows, factors)
	for _, row := range m {
		for j := range row {
			row[j] = rng.Float64() * 0.01
		}
	}
	return m
}

// alsStep recomputes every row of solve with fixed held constant:
// x = (FᵀF + Fᵀ(C-I)F + λI)⁻¹ Fᵀ C p
func alsStep(solve, fixed [][]float64, entries [][]alsEntry, params Params) error {
	factors := params.Factors
	lambda := max(params.Regularization, minRegularization)
	base := gram(fixed, factors)

	a := newMatrix(factors, factors)
	b := make([]float64, factors)

	for row := range solve {
		for i := 0; i < factors; i++ {
			copy(a[i], base[i])
			a[i][i] += lambda
			b[i] = 0
		}

		for _, e := range entries[row] {
			confidence := 1 + params.Alpha*e.count
			y := fixed[e.index]
			for i := 0; i < factors; i++ {
				b[i] += confidence * y[i]
				w := (confidence - 1) * y[i]
				if w == 0 {
					continue
				}
				for j := 0; j < factors; j++ {
					a[i][j] += w * y[j]
				}
			}
		}

		x, err := choleskySolve(a, b)
		if err != nil {
			return err
		}
		copy(solve[row], x)
	}
	return nil
}

// recommend ranks the items a cookie has not touched, best first, ties by item id
func (m *alsModel) recommend(cookie int64, k int) []int64 {
	u, ok := m.userIndex[cookie]
	if !ok || k <= 0 {
		return nil
	}

	seen := make(map[int]bool, len(m.userItems[u]))
	for _, e := range m.userItems[u] {
		seen[e.index] = true
	}

	type scored struct {
		item  int64
		score float64
	}
	candidates := make([]scored, 0, len(m.itemIDs))
	for i, item := range m.itemIDs {
		if seen[i] {
			continue
		}
		candidates = append(candidates, scored{item: item, score: dot(m.userFactors[u], m.itemFactors[i])})
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].score != candidates[j].score {
			return candidates[i].score > candidates[j].score
		}
		return candidates[i].item < candidates[j].item
	})

	if len(candidates) > k {
		candidates = candidates[:k]
	}
	recs := make([]int64, len(candidates))
	for i, c := range candidates {
		recs[i] = c.item
	}
	return recs
}
