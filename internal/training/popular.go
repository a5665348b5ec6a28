package training

import (
	"context"
	"sort"
)

// PopularStrategy recommends the same most-interacted nodes to everyone
type PopularStrategy struct{}

func (PopularStrategy) Fit(ctx context.Context, split *Split, params Params) (*Result, error) {
	top := popularNodes(split.Train, params.TopK)

	recs := make(map[int64][]int64)
	for _, cookie := range evalCookies(split.Eval) {
		recs[cookie] = top
	}
	return &Result{Recommendations: recs}, nil
}

// popularNodes returns the k nodes with the most train rows, ties broken by node id
func popularNodes(train []Interaction, k int) []int64 {
	if k <= 0 {
		return nil
	}
	counts := make(map[int64]int)
	for _, row := range train {
		counts[row.Node]++
	}

	nodes := make([]int64, 0, len(counts))
	for node := range counts {
		nodes = append(nodes, node)
	}
	sort.Slice(nodes, func(i, j int) bool {
		if counts[nodes[i]] != counts[nodes[j]] {
			return counts[nodes[i]] > counts[nodes[j]]
		}
		return nodes[i] < nodes[j]
	})

	if len(nodes) > k {
		nodes = nodes[:k]
	}
	return nodes
}
