package smooth

import (
	"errors"
	"fmt"
)

// Errors returned by the smoothing functions.
var (
	ErrInvalidWidth   = errors.New("smooth: width must be positive")
	ErrLengthMismatch = errors.New("smooth: buffer length mismatch")
	ErrNoWeight       = errors.New("smooth: all weights are zero")
	ErrInvalidSpacing = errors.New("smooth: knot spacing must be positive")
)

// Kind selects a sliding-window filter.
type Kind int

const (
	// KindMedian is a sliding median, robust against absorption lines.
	KindMedian Kind = iota

	// KindBoxcar is a moving average.
	KindBoxcar
)

// String returns the filter name.
func (k Kind) String() string {
	switch k {
	case KindMedian:
		return "median"
	case KindBoxcar:
		return "boxcar"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// ParseKind converts a filter name to a Kind.
func ParseKind(s string) (Kind, error) {
	switch s {
	case "median":
		return KindMedian, nil
	case "boxcar":
		return KindBoxcar, nil
	default:
		return 0, fmt.Errorf("smooth: unknown filter %q", s)
	}
}

// Filter applies the filter of the given kind and width.
// dst must not alias src.
func Filter(kind Kind, dst, src []float64, width int) error {
	switch kind {
	case KindBoxcar:
		return Boxcar(dst, src, width)
	default:
		return Median(dst, src, width)
	}
}

// reflect maps an out-of-range index into [0, n) by mirror reflection
// about the array edges (d c b a | a b c d | d c b a).
func reflect(i, n int) int {
	for i < 0 || i >= n {
		if i < 0 {
			i = -i - 1
		}
		if i >= n {
			i = 2*n - i - 1
		}
	}

	return i
}

func check(dst, src []float64, width int) error {
	if width <= 0 {
		return ErrInvalidWidth
	}

	if len(dst) != len(src) {
		return ErrLengthMismatch
	}

	return nil
}
