package smooth

import (
	"fmt"
	"math"

	"github.com/cwbudde/algo-fluxcal/dsp/linalg"
)

// penalty is the relative weight of the second-difference roughness
// term. It only matters where data leave coefficients unconstrained.
const penalty = 1e-6

// Spline is a uniform cubic B-spline on [X0, X0+H·Segments].
type Spline struct {
	X0       float64
	H        float64
	Segments int
	Coeffs   []float64 // len Segments+3
}

// SplineFit fits a cubic B-spline to (x, y) with weights w by weighted
// least squares. Knots are uniform with spacing close to spacing (the
// range is divided into ceil(span/spacing) segments). Points with
// w <= 0 are ignored. x need not be sorted.
//
// Coefficients not covered by any weighted point are filled in by a
// weak second-difference penalty, so gaps are bridged smoothly.
func SplineFit(x, y, w []float64, spacing float64) (*Spline, error) {
	if len(x) != len(y) || len(x) != len(w) {
		return nil, ErrLengthMismatch
	}

	if !(spacing > 0) {
		return nil, ErrInvalidSpacing
	}

	xmin, xmax := math.Inf(1), math.Inf(-1)
	total := 0.0
	for i, xi := range x {
		if w[i] > 0 {
			total += w[i]
		}
		xmin = math.Min(xmin, xi)
		xmax = math.Max(xmax, xi)
	}

	if total <= 0 {
		return nil, ErrNoWeight
	}

	span := xmax - xmin
	segments := max(1, int(math.Ceil(span/spacing)))
	h := span / float64(segments)
	if h <= 0 {
		h = 1
	}

	s := &Spline{X0: xmin, H: h, Segments: segments}
	nb := segments + 3

	a := linalg.NewSymBand(nb, 3)
	b := make([]float64, nb)

	var basis [4]float64
	for i, xi := range x {
		if w[i] <= 0 {
			continue
		}

		k := s.basis(xi, &basis)
		for p := range 4 {
			wb := w[i] * basis[p]
			b[k+p] += wb * y[i]
			for q := p; q < 4; q++ {
				a.Add(k+p, k+q, wb*basis[q])
			}
		}
	}

	lambda := penalty * a.MaxDiag()
	for k := 0; k+2 < nb; k++ {
		// (c[k] - 2c[k+1] + c[k+2])² contributes [1 -2 1]ᵀ[1 -2 1].
		d := [3]float64{1, -2, 1}
		for p := range 3 {
			for q := p; q < 3; q++ {
				a.Add(k+p, k+q, lambda*d[p]*d[q])
			}
		}
	}

	chol, _, err := linalg.FactorizeRidge(a, 1e-12, 4)
	if err != nil {
		return nil, fmt.Errorf("smooth: spline fit: %w", err)
	}

	if s.Coeffs, err = chol.Solve(b); err != nil {
		return nil, fmt.Errorf("smooth: spline fit: %w", err)
	}

	return s, nil
}

// Eval evaluates the spline at x. Points outside the fitted range use
// the polynomial of the nearest segment.
func (s *Spline) Eval(x float64) float64 {
	var basis [4]float64
	k := s.basis(x, &basis)

	var v float64
	for p := range 4 {
		v += s.Coeffs[k+p] * basis[p]
	}

	return v
}

// EvalTo evaluates the spline at every x into dst.
func (s *Spline) EvalTo(dst, x []float64) {
	for i, xi := range x {
		dst[i] = s.Eval(xi)
	}
}

// basis returns the first coefficient index and the four non-zero cubic
// B-spline values at x.
func (s *Spline) basis(x float64, out *[4]float64) int {
	u := (x - s.X0) / s.H
	k := int(math.Floor(u))
	if k < 0 {
		k = 0
	}
	if k > s.Segments-1 {
		k = s.Segments - 1
	}

	t := u - float64(k)
	t2 := t * t
	t3 := t2 * t
	mt := 1 - t

	out[0] = mt * mt * mt / 6
	out[1] = (3*t3 - 6*t2 + 4) / 6
	out[2] = (-3*t3 + 3*t2 + 3*t + 1) / 6
	out[3] = t3 / 6

	return k
}
