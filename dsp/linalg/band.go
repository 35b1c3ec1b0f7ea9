package linalg

import (
	"fmt"

	"github.com/cwbudde/algo-fluxcal/dsp/core"
	"github.com/cwbudde/algo-vecmath"
	"gonum.org/v1/gonum/mat"
)

// SymBand is a symmetric N×N band matrix with K super-diagonals.
//
// Storage follows gonum's upper band layout: row i holds columns
// i..i+K, so element (i, j) with i <= j <= i+K lives at
// Data[i*(K+1)+j-i]. Trailing slots of the last K rows are unused.
type SymBand struct {
	N, K int
	Data []float64
}

// NewSymBand allocates a zero N×N band matrix with bandwidth k.
func NewSymBand(n, k int) *SymBand {
	if n < 0 || k < 0 {
		panic(fmt.Sprintf("linalg: invalid band shape n=%d k=%d", n, k))
	}

	return &SymBand{N: n, K: k, Data: make([]float64, n*(k+1))}
}

// At returns element (i, j). Elements outside the band are zero.
func (s *SymBand) At(i, j int) float64 {
	if i > j {
		i, j = j, i
	}

	if j-i > s.K {
		return 0
	}

	return s.Data[i*(s.K+1)+j-i]
}

// Set stores v at (i, j) and (j, i). It panics outside the band.
func (s *SymBand) Set(i, j int, v float64) {
	s.Data[s.index(i, j)] = v
}

// Add adds v to (i, j) and, by symmetry, (j, i). It panics outside the band.
func (s *SymBand) Add(i, j int, v float64) {
	s.Data[s.index(i, j)] += v
}

// Diag returns the diagonal element (i, i).
func (s *SymBand) Diag(i int) float64 {
	return s.Data[i*(s.K+1)]
}

// AddBand accumulates o into s. Both must have the same shape.
func (s *SymBand) AddBand(o *SymBand) {
	if s.N != o.N || s.K != o.K {
		panic(fmt.Sprintf("linalg: band shape mismatch %dx%d vs %dx%d", s.N, s.K, o.N, o.K))
	}

	vecmath.AddBlockInPlace(s.Data, o.Data)
}

// Clone returns a deep copy.
func (s *SymBand) Clone() *SymBand {
	return &SymBand{N: s.N, K: s.K, Data: append([]float64(nil), s.Data...)}
}

// Reset zeroes all elements.
func (s *SymBand) Reset() {
	core.Zero(s.Data)
}

// MaxDiag returns the largest diagonal element, or 0 for an empty matrix.
func (s *SymBand) MaxDiag() float64 {
	m := 0.0
	for i := range s.N {
		if d := s.Diag(i); d > m {
			m = d
		}
	}

	return m
}

// Mat returns the matrix as a gonum band matrix. The data is shared
// unless K >= N, in which case the band is repacked to K = N-1.
func (s *SymBand) Mat() *mat.SymBandDense {
	if s.K < s.N {
		return mat.NewSymBandDense(s.N, s.K, s.Data)
	}

	k := s.N - 1
	data := make([]float64, s.N*(k+1))
	for i := range s.N {
		for j := i; j < s.N; j++ {
			data[i*(k+1)+j-i] = s.At(i, j)
		}
	}

	return mat.NewSymBandDense(s.N, k, data)
}

func (s *SymBand) index(i, j int) int {
	if i > j {
		i, j = j, i
	}

	if i < 0 || j >= s.N || j-i > s.K {
		panic(fmt.Sprintf("linalg: index (%d,%d) outside band of %dx%d/K=%d", i, j, s.N, s.N, s.K))
	}

	return i*(s.K+1) + j - i
}
