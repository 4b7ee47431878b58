package compute

import (
	"errors"
	"fmt"
	"math"
)

// Weights applied to the per-pair absolute deviations.
// Temperature swings count double relative to pH swings.
const (
	weightPH   = 1.0
	weightTemp = 2.0
)

// Kernel precondition errors. Stress never coerces its input.
var (
	ErrEmptyGroup          = errors.New("compute: empty tank group")
	ErrLengthMismatch      = errors.New("compute: input arrays differ in length")
	ErrNonFinite           = errors.New("compute: non-finite input value")
	ErrNonPositiveCapacity = errors.New("compute: capacity must be positive")
)

// Stress returns the pairwise stress score of one tank's readings.
//
// ph, temp and capacity hold one value per reading and must have the same
// length n ≥ 1. For every ordered pair (i, j) of the n×n cross product:
//
//	deviation = |ph[i]-ph[j]|*1 + |temp[i]-temp[j]|*2
//	factor    = capacity[i]/capacity[j] + capacity[j]/capacity[i]
//	stress    = Σ deviation*factor / n²
//
// The i == j terms are zero, so a single reading scores 0. The score is
// symmetric under permutation of the readings and never negative.
//
// A zero or negative capacity is a domain error (ErrNonPositiveCapacity);
// NaN and ±Inf are rejected with ErrNonFinite.
func Stress(ph, temp, capacity []float64) (float64, error) {
	n := len(ph)
	if n == 0 {
		return 0, ErrEmptyGroup
	}
	if len(temp) != n || len(capacity) != n {
		return 0, fmt.Errorf("%w: ph=%d temp=%d capacity=%d",
			ErrLengthMismatch, n, len(temp), len(capacity))
	}
	for i := 0; i < n; i++ {
		if !finite(ph[i]) || !finite(temp[i]) || !finite(capacity[i]) {
			return 0, fmt.Errorf("%w: reading %d", ErrNonFinite, i)
		}
		if capacity[i] <= 0 {
			return 0, fmt.Errorf("%w: reading %d has capacity %g", ErrNonPositiveCapacity, i, capacity[i])
		}
	}

	// (i, j) and (j, i) contribute the same term, so walk the upper triangle
	// once and double it.
	var sum float64
	for i := 0; i < n-1; i++ {
		pi, ti, ci := ph[i], temp[i], capacity[i]
		for j := i + 1; j < n; j++ {
			cj := capacity[j]
			dev := weightPH*math.Abs(pi-ph[j]) + weightTemp*math.Abs(ti-temp[j])
			sum += dev * (ci/cj + cj/ci)
		}
	}

	nf := float64(n)
	return 2 * sum / (nf * nf), nil
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
