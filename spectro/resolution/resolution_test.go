package resolution

import (
	"errors"
	"math"
	"testing"

	"github.com/cwbudde/algo-fluxcal/dsp/linalg"
	"github.com/cwbudde/algo-fluxcal/internal/testutil"
)

// asymmetric builds an operator with distinct, position-dependent
// coefficients so index mistakes show up.
func asymmetric(n int) *Operator {
	diags := make([][]float64, NDiag)
	for d := range diags {
		diags[d] = make([]float64, n)
		for j := range n {
			off := HalfWidth - d
			if i := j - off; i < 0 || i >= n {
				continue
			}
			diags[d][j] = 1/float64(1+d) + 0.01*float64(j)
		}
	}

	op, err := New(diags)
	if err != nil {
		panic(err)
	}

	return op
}

func denseMul(m [][]float64, x []float64) []float64 {
	out := make([]float64, len(m))
	for i, row := range m {
		for j, v := range row {
			out[i] += v * x[j]
		}
	}
	return out
}

func TestNewValidatesShape(t *testing.T) {
	if _, err := New(make([][]float64, 5)); !errors.Is(err, ErrDiagonalCount) {
		t.Fatalf("err = %v, want ErrDiagonalCount", err)
	}

	diags := make([][]float64, NDiag)
	for d := range diags {
		diags[d] = make([]float64, 8)
	}
	diags[3] = make([]float64, 7)

	if _, err := New(diags); !errors.Is(err, ErrLengthMismatch) {
		t.Fatalf("err = %v, want ErrLengthMismatch", err)
	}
}

func TestDiagonalLayout(t *testing.T) {
	diags := make([][]float64, NDiag)
	for d := range diags {
		diags[d] = make([]float64, 30)
	}
	// Offset +1 lives in row 9, read at column j=i+1.
	diags[HalfWidth-1][6] = 0.25
	// Offset -2 lives in row 12, read at column j=i-2.
	diags[HalfWidth+2][3] = 0.5

	op, err := New(diags)
	if err != nil {
		t.Fatal(err)
	}

	if got := op.At(5, 6); got != 0.25 {
		t.Fatalf("At(5,6) = %g, want 0.25", got)
	}
	if got := op.At(5, 3); got != 0.5 {
		t.Fatalf("At(5,3) = %g, want 0.5", got)
	}
	if got := op.At(0, 25); got != 0 {
		t.Fatalf("At outside band = %g, want 0", got)
	}
}

func TestIdentityApply(t *testing.T) {
	x := testutil.DeterministicNoise(3, 1, 40)
	got := Identity(40).Convolve(x)
	testutil.RequireSliceNearlyEqual(t, got, x, 0)
}

func TestApplyMatchesDense(t *testing.T) {
	for _, n := range []int{1, 7, 21, 64} {
		op := asymmetric(n)
		x := testutil.DeterministicNoise(int64(n), 1, n)

		want := denseMul(op.Dense(), x)
		got := op.Convolve(x)
		testutil.RequireSliceNearlyEqual(t, got, want, 1e-12)
	}
}

func TestGaussianRowsSumToOne(t *testing.T) {
	op := Gaussian(100, 1.5)
	ones := testutil.Ones(100)
	got := op.Convolve(ones)

	for i := HalfWidth; i < 100-HalfWidth; i++ {
		if math.Abs(got[i]-1) > 1e-12 {
			t.Fatalf("row %d sum = %g, want 1", i, got[i])
		}
	}
}

func TestMean(t *testing.T) {
	a := Identity(12)
	b := Gaussian(12, 1)

	m, err := Mean(a, b)
	if err != nil {
		t.Fatal(err)
	}

	for i := range 12 {
		for j := range 12 {
			want := 0.5 * (a.At(i, j) + b.At(i, j))
			if math.Abs(m.At(i, j)-want) > 1e-15 {
				t.Fatalf("mean(%d,%d) = %g, want %g", i, j, m.At(i, j), want)
			}
		}
	}

	if _, err := Mean(); !errors.Is(err, ErrEmpty) {
		t.Fatalf("err = %v, want ErrEmpty", err)
	}
	if _, err := Mean(a, Identity(5)); !errors.Is(err, ErrLengthMismatch) {
		t.Fatalf("err = %v, want ErrLengthMismatch", err)
	}
}

func TestCongruenceDiagMatchesDense(t *testing.T) {
	n := 45
	op := asymmetric(n)

	cov := linalg.NewSymBand(n, ProductHalfWidth)
	for i := range n {
		for j := i; j <= min(n-1, i+ProductHalfWidth); j++ {
			cov.Set(i, j, math.Exp(-0.3*float64(j-i))*(1+0.01*float64(i)))
		}
	}

	dense := op.Dense()
	want := make([]float64, n)
	for i := range n {
		for j := range n {
			for k := range n {
				want[i] += dense[i][j] * dense[i][k] * cov.At(j, k)
			}
		}
	}

	got := op.CongruenceDiag(cov)
	testutil.RequireSliceNearlyEqual(t, got, want, 1e-10)
}

func TestDiagonalsIsCopy(t *testing.T) {
	op := Identity(4)
	d := op.Diagonals()
	d[HalfWidth][0] = 9

	if op.At(0, 0) != 1 {
		t.Fatal("Diagonals leaked internal storage")
	}
}

func BenchmarkApply(b *testing.B) {
	op := Gaussian(4000, 1.8)
	x := testutil.Ones(4000)
	dst := make([]float64, 4000)

	for b.Loop() {
		op.Apply(dst, x)
	}
}
