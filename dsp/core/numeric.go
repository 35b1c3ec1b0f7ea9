package core

import "math"

// SafeDiv returns x/y when y > 0 and 0 otherwise.
//
// Weights, variances and calibration factors are all non-negative
// quantities where a non-positive denominator marks an unusable sample,
// so the result is masked to zero instead of producing Inf or NaN.
func SafeDiv(x, y float64) float64 {
	if y > 0 {
		return x / y
	}

	return 0
}

// GuardedInverse returns 1/x for x > 0 and 0 otherwise. It converts
// between variance and inverse variance.
func GuardedInverse(x float64) float64 {
	return SafeDiv(1, x)
}

// SafeDivBlock computes dst[i] = SafeDiv(x[i], y[i]).
// dst may alias x or y. Slices must have equal length.
func SafeDivBlock(dst, x, y []float64) {
	for i := range dst {
		dst[i] = SafeDiv(x[i], y[i])
	}
}

// SqrtPositive returns sqrt(x) for x > 0 and 0 otherwise.
func SqrtPositive(x float64) float64 {
	if x > 0 {
		return math.Sqrt(x)
	}

	return 0
}

// MaxAbsDiff returns max(|a[i]-b[i]|) over the common prefix of a and b.
// A NaN on either side counts as an infinite difference.
func MaxAbsDiff(a, b []float64) float64 {
	n := min(len(a), len(b))

	maxDiff := 0.0
	for i := range n {
		d := math.Abs(a[i] - b[i])
		if math.IsNaN(d) {
			return math.Inf(1)
		}
		if d > maxDiff {
			maxDiff = d
		}
	}

	return maxDiff
}
