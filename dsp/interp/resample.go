package interp

import (
	"errors"
	"fmt"
	"sort"
)

// Errors returned by Resample.
var (
	ErrLengthMismatch = errors.New("interp: buffer length mismatch")
	ErrTooFewPoints   = errors.New("interp: need at least two source points")
	ErrNotIncreasing  = errors.New("interp: source grid must be strictly increasing")
)

// Mode selects the interpolation kernel used by Resample.
type Mode int

const (
	// ModeLinear uses piecewise linear interpolation.
	ModeLinear Mode = iota

	// ModeHermite uses 4-point cubic Hermite interpolation. Neighbors
	// outside the source range are linearly extrapolated, so linear
	// ramps are reproduced exactly. The kernel assumes locally uniform
	// sampling of the source grid.
	ModeHermite
)

// String returns the mode name.
func (m Mode) String() string {
	switch m {
	case ModeLinear:
		return "linear"
	case ModeHermite:
		return "hermite"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// Resample evaluates (xp, fp) at the abscissae x and writes into dst.
// xp must be strictly increasing. Points below xp[0] receive left and
// points above xp[len(xp)-1] receive right. x need not be sorted.
func Resample(dst, x, xp, fp []float64, mode Mode, left, right float64) error {
	if len(dst) != len(x) || len(xp) != len(fp) {
		return ErrLengthMismatch
	}

	if len(xp) < 2 {
		return ErrTooFewPoints
	}

	n := len(xp)
	last := xp[n-1]

	for i, xi := range x {
		switch {
		case xi < xp[0]:
			dst[i] = left
			continue
		case xi > last:
			dst[i] = right
			continue
		}

		j := sort.SearchFloat64s(xp, xi)
		if j < n && xp[j] == xi {
			dst[i] = fp[j]
			continue
		}

		// xp[j-1] < xi < xp[j]
		lo := j - 1
		t := (xi - xp[lo]) / (xp[j] - xp[lo])

		if mode == ModeHermite {
			dst[i] = Hermite4(t, neighbor(fp, lo-1), fp[lo], fp[j], neighbor(fp, j+1))
		} else {
			dst[i] = Linear2(t, fp[lo], fp[j])
		}
	}

	return nil
}

// Validate checks that xp is strictly increasing.
func Validate(xp []float64) error {
	for i := 1; i < len(xp); i++ {
		if !(xp[i] > xp[i-1]) {
			return fmt.Errorf("%w: x[%d]=%v after x[%d]=%v", ErrNotIncreasing, i, xp[i], i-1, xp[i-1])
		}
	}

	return nil
}

// neighbor returns fp[k], linearly extrapolating one step past either end.
func neighbor(fp []float64, k int) float64 {
	n := len(fp)

	switch {
	case k < 0:
		return 2*fp[0] - fp[1]
	case k >= n:
		return 2*fp[n-1] - fp[n-2]
	default:
		return fp[k]
	}
}
