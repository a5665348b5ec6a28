package training

import (
	"errors"
	"math"
)

var errNotPositiveDefinite = errors.New("matrix is not positive definite")

// choleskySolve solves a*x = b for a symmetric positive definite a.
// a is overwritten with its lower triangular factor.
func choleskySolve(a [][]float64, b []float64) ([]float64, error) {
	n := len(b)

	for j := 0; j < n; j++ {
		sum := a[j][j]
		for k := 0; k < j; k++ {
			sum -= a[j][k] * a[j][k]
		}
		if sum <= 0 || math.IsNaN(sum) {
			return nil, errNotPositiveDefinite
		}
		a[j][j] = math.Sqrt(sum)

		for i := j + 1; i < n; i++ {
			s := a[i][j]
			for k := 0; k < j; k++ {
				s -= a[i][k] * a[j][k]
			}
			a[i][j] = s / a[j][j]
		}
	}

	// forward: L y = b
	y := make([]float64, n)
	for i := 0; i < n; i++ {
		s := b[i]
		for k := 0; k < i; k++ {
			s -= a[i][k] * y[k]
		}
		y[i] = s / a[i][i]
	}

	// backward: Lᵀ x = y
	x := make([]float64, n)
	for i := n - 1; i >= 0; i-- {
		s := y[i]
		for k := i + 1; k < n; k++ {
			s -= a[k][i] * x[k]
		}
		x[i] = s / a[i][i]
	}

	return x, nil
}

func newMatrix(rows, cols int) [][]float64 {
	m := make([][]float64, rows)
	backing := make([]float64, rows*cols)
	for i := range m {
		m[i] = backing[i*cols : (i+1)*cols]
	}
	return m
}

// gram returns mᵀm
func gram(m [][]float64, cols int) [][]float64 {
	g := newMatrix(cols, cols)
	for _, row := range m {
		for i := 0; i < cols; i++ {
			if row[i] == 0 {
				continue
			}
			for j := 0; j < cols; j++ {
				g[i][j] += row[i] * row[j]
			}
		}
	}
	return g
}

func dot(a, b []float64) float64 {
	var s float64
	for i := range a {
		s += a[i] * b[i]
	}
	return s
}
