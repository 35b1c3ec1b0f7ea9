package resolution

import (
	"errors"
	"fmt"
	"math"

	"github.com/cwbudde/algo-fluxcal/dsp/linalg"
	"github.com/cwbudde/algo-vecmath"
)

const (
	// HalfWidth is the number of off-diagonals on each side.
	HalfWidth = 10

	// NDiag is the number of stored diagonals.
	NDiag = 2*HalfWidth + 1

	// ProductHalfWidth is the half bandwidth of RᵗDR and R·Σ·Rᵗ.
	ProductHalfWidth = 2 * HalfWidth
)

// Errors returned by the operator constructors.
var (
	ErrDiagonalCount  = errors.New("resolution: expected 21 diagonals")
	ErrLengthMismatch = errors.New("resolution: diagonal length mismatch")
	ErrEmpty          = errors.New("resolution: no operators")
)

// Operator is a banded W×W resolution matrix. It is immutable after
// construction and safe for concurrent use.
type Operator struct {
	n    int
	data [NDiag][]float64
}

// New builds an operator from 21 diagonals of equal length W. The input
// slices are copied.
func New(diagonals [][]float64) (*Operator, error) {
	if len(diagonals) != NDiag {
		return nil, fmt.Errorf("%w: got %d", ErrDiagonalCount, len(diagonals))
	}

	n := len(diagonals[0])
	op := &Operator{n: n}

	for d, row := range diagonals {
		if len(row) != n {
			return nil, fmt.Errorf("%w: diagonal %d has %d entries, want %d", ErrLengthMismatch, d, len(row), n)
		}
		op.data[d] = append([]float64(nil), row...)
	}

	return op, nil
}

// Identity returns the n×n identity operator.
func Identity(n int) *Operator {
	op := &Operator{n: n}
	for d := range op.data {
		op.data[d] = make([]float64, n)
	}

	for j := range n {
		op.data[HalfWidth][j] = 1
	}

	return op
}

// Gaussian returns an operator whose rows are unit-sum Gaussians of
// width sigma pixels, truncated to the band.
func Gaussian(n int, sigma float64) *Operator {
	op := &Operator{n: n}
	for d := range op.data {
		op.data[d] = make([]float64, n)
	}

	var kernel [NDiag]float64
	var norm float64
	for k := -HalfWidth; k <= HalfWidth; k++ {
		v := math.Exp(-0.5 * float64(k*k) / (sigma * sigma))
		kernel[k+HalfWidth] = v
		norm += v
	}

	for i := range n {
		for off := -HalfWidth; off <= HalfWidth; off++ {
			j := i + off
			if j < 0 || j >= n {
				continue
			}
			op.data[HalfWidth-off][j] = kernel[off+HalfWidth] / norm
		}
	}

	return op
}

// Size returns W.
func (r *Operator) Size() int {
	return r.n
}

// Diagonals returns a copy of the diagonal data.
func (r *Operator) Diagonals() [][]float64 {
	out := make([][]float64, NDiag)
	for d := range r.data {
		out[d] = append([]float64(nil), r.data[d]...)
	}
	return out
}

// At returns element (i, j).
func (r *Operator) At(i, j int) float64 {
	off := j - i
	if off < -HalfWidth || off > HalfWidth || i < 0 || j < 0 || i >= r.n || j >= r.n {
		return 0
	}

	return r.data[HalfWidth-off][j]
}

// Row returns the first column index of row i and its band coefficients
// written into buf (which must hold NDiag values).
func (r *Operator) Row(i int, buf []float64) (int, []float64) {
	lo := max(0, i-HalfWidth)
	hi := min(r.n-1, i+HalfWidth)

	coeffs := buf[:hi-lo+1]
	for j := lo; j <= hi; j++ {
		coeffs[j-lo] = r.data[HalfWidth-(j-i)][j]
	}

	return lo, coeffs
}

// Apply computes dst = R·x. dst must not alias x. Rows whose
// coefficients are all zero yield zero.
func (r *Operator) Apply(dst, x []float64) {
	for i := range r.n {
		lo := max(0, i-HalfWidth)
		hi := min(r.n-1, i+HalfWidth)

		var sum float64
		for j := lo; j <= hi; j++ {
			sum += r.data[HalfWidth-(j-i)][j] * x[j]
		}

		dst[i] = sum
	}
}

// Convolve returns R·x in a new slice.
func (r *Operator) Convolve(x []float64) []float64 {
	out := make([]float64, r.n)
	r.Apply(out, x)
	return out
}

// CongruenceDiag returns diag(R·Σ·Rᵗ) for a symmetric Σ given as a band.
// The result is exact when Σ holds at least ProductHalfWidth
// off-diagonals; elements outside the stored band count as zero.
func (r *Operator) CongruenceDiag(cov *linalg.SymBand) []float64 {
	out := make([]float64, r.n)
	var buf [NDiag]float64

	for i := range r.n {
		lo, row := r.Row(i, buf[:])

		var sum float64
		for a, ra := range row {
			if ra == 0 {
				continue
			}
			for b, rb := range row {
				sum += ra * rb * cov.At(lo+a, lo+b)
			}
		}

		out[i] = sum
	}

	return out
}

// Dense returns the operator as a dense row-major matrix.
func (r *Operator) Dense() [][]float64 {
	out := make([][]float64, r.n)
	for i := range out {
		out[i] = make([]float64, r.n)
		for j := max(0, i-HalfWidth); j <= min(r.n-1, i+HalfWidth); j++ {
			out[i][j] = r.At(i, j)
		}
	}

	return out
}

// Mean returns the element-wise mean of the operators' diagonals.
func Mean(ops ...*Operator) (*Operator, error) {
	if len(ops) == 0 {
		return nil, ErrEmpty
	}

	n := ops[0].n
	mean := &Operator{n: n}
	for d := range mean.data {
		mean.data[d] = make([]float64, n)
	}

	for k, op := range ops {
		if op.n != n {
			return nil, fmt.Errorf("%w: operator %d has size %d, want %d", ErrLengthMismatch, k, op.n, n)
		}
		for d := range op.data {
			vecmath.AddBlockInPlace(mean.data[d], op.data[d])
		}
	}

	inv := 1 / float64(len(ops))
	for d := range mean.data {
		vecmath.ScaleBlockInPlace(mean.data[d], inv)
	}

	return mean, nil
}
