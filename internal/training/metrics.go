package training

import "github.com/Alexander76Kuznetsov/mfdp/internal/domain"

// Evaluate scores the top k recommendations of every evaluation cookie
// against its held-out nodes. Cookies without recommendations score zero
// hits. An empty evaluation set yields all-zero metrics.
func Evaluate(eval []Pair, recommendations map[int64][]int64, k int) domain.Metrics {
	metrics := domain.Metrics{K: k}
	if k <= 0 {
		return metrics
	}

	truth := make(map[int64]map[int64]bool)
	var order []int64
	for _, pair := range eval {
		nodes, ok := truth[pair.Cookie]
		if !ok {
			nodes = make(map[int64]bool)
			truth[pair.Cookie] = nodes
			order = append(order, pair.Cookie)
		}
		nodes[pair.Node] = true
	}
	if len(order) == 0 {
		return metrics
	}

	var recallSum, precisionSum float64
	for _, cookie := range order {
		nodes := truth[cookie]

		recs := recommendations[cookie]
		if len(recs) > k {
			recs = recs[:k]
		}

		hits := 0
		for _, node := range recs {
			if nodes[node] {
				hits++
			}
		}

		recallSum += float64(hits) / float64(len(nodes))
		precisionSum += float64(hits) / float64(k)
	}

	users := float64(len(order))
	metrics.EvalUsers = len(order)
	metrics.RecallAtK = recallSum / users
	metrics.PrecisionAtK = precisionSum / users
	if sum := metrics.RecallAtK + metrics.PrecisionAtK; sum > 0 {
		metrics.F1AtK = 2 * metrics.PrecisionAtK * metrics.RecallAtK / sum
	}
	return metrics
}

// evalCookies lists the distinct cookies of eval in first-seen order
func evalCookies(eval []Pair) []int64 {
	seen := make(map[int64]bool)
	var cookies []int64
	for _, pair := range eval {
		if !seen[pair.Cookie] {
			seen[pair.Cookie] = true
			cookies = append(cookies, pair.Cookie)
		}
	}
	return cookies
}
