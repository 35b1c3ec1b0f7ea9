package linalg

import (
	"errors"
	"math"
	"testing"

	"gonum.org/v1/gonum/mat"
)

// laplacian returns the SPD tridiagonal matrix tridiag(-1, 2+shift, -1).
func laplacian(n int, shift float64) *SymBand {
	a := NewSymBand(n, 1)
	for i := range n {
		a.Set(i, i, 2+shift)
		if i+1 < n {
			a.Set(i, i+1, -1)
		}
	}
	return a
}

func TestSymBandSymmetricAccess(t *testing.T) {
	a := NewSymBand(5, 2)
	a.Set(1, 3, 4)
	a.Add(3, 1, 1)

	if got := a.At(3, 1); got != 5 {
		t.Fatalf("At(3,1) = %v, want 5", got)
	}
	if got := a.At(1, 3); got != 5 {
		t.Fatalf("At(1,3) = %v, want 5", got)
	}
	if got := a.At(0, 4); got != 0 {
		t.Fatalf("outside band At(0,4) = %v, want 0", got)
	}
}

func TestSymBandSetOutsideBandPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic")
		}
	}()

	NewSymBand(5, 1).Set(0, 3, 1)
}

func TestSymBandAddBandAndMaxDiag(t *testing.T) {
	a := laplacian(4, 0)
	b := laplacian(4, 1)
	a.AddBand(b)

	if got := a.Diag(2); got != 5 {
		t.Fatalf("Diag(2) = %v, want 5", got)
	}
	if got := a.At(2, 3); got != -2 {
		t.Fatalf("At(2,3) = %v, want -2", got)
	}
	if got := a.MaxDiag(); got != 5 {
		t.Fatalf("MaxDiag = %v, want 5", got)
	}

	a.Reset()
	if got := a.MaxDiag(); got != 0 || a.At(2, 3) != 0 {
		t.Fatalf("after Reset: MaxDiag = %v, At(2,3) = %v", got, a.At(2, 3))
	}
}

func TestMatRepacksWideBand(t *testing.T) {
	a := NewSymBand(3, 5)
	a.Set(0, 2, 7)
	a.Set(1, 1, 2)

	m := a.Mat()
	if got := m.At(2, 0); got != 7 {
		t.Fatalf("At(2,0) = %v, want 7", got)
	}
	if got := m.At(1, 1); got != 2 {
		t.Fatalf("At(1,1) = %v, want 2", got)
	}
}

func TestCholeskySolve(t *testing.T) {
	n := 12
	a := laplacian(n, 0.1)

	want := make([]float64, n)
	for i := range want {
		want[i] = math.Sin(float64(i))
	}

	var bv mat.VecDense
	bv.MulVec(a.Mat(), mat.NewVecDense(n, want))
	b := bv.RawVector().Data

	chol, err := Factorize(a)
	if err != nil {
		t.Fatal(err)
	}

	got, err := chol.Solve(b)
	if err != nil {
		t.Fatal(err)
	}

	for i := range want {
		if math.Abs(got[i]-want[i]) > 1e-10 {
			t.Fatalf("x[%d] = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestCholeskySolveLengthMismatch(t *testing.T) {
	chol, err := Factorize(laplacian(4, 0))
	if err != nil {
		t.Fatal(err)
	}

	if _, err := chol.Solve([]float64{1}); !errors.Is(err, ErrLengthMismatch) {
		t.Fatalf("expected ErrLengthMismatch, got %v", err)
	}
}

func TestCovarianceBandMatchesDenseInverse(t *testing.T) {
	n := 8
	a := laplacian(n, 0.5)

	chol, err := Factorize(a)
	if err != nil {
		t.Fatal(err)
	}

	cov, err := chol.CovarianceBand(3)
	if err != nil {
		t.Fatal(err)
	}

	dense := mat.NewDense(n, n, nil)
	for i := range n {
		for j := range n {
			dense.Set(i, j, a.At(i, j))
		}
	}

	var inv mat.Dense
	if err := inv.Inverse(dense); err != nil {
		t.Fatal(err)
	}

	for i := range n {
		for j := i; j < n && j <= i+3; j++ {
			if d := math.Abs(cov.At(i, j) - inv.At(i, j)); d > 1e-10 {
				t.Fatalf("cov(%d,%d) = %v, want %v", i, j, cov.At(i, j), inv.At(i, j))
			}
		}
	}
}

func TestFactorizeRejectsSingular(t *testing.T) {
	a := laplacian(4, 0)
	a.Set(2, 2, 0)
	a.Set(1, 2, 0)
	a.Set(2, 3, 0)

	if _, err := Factorize(a); !errors.Is(err, ErrNotPositiveDefinite) {
		t.Fatalf("expected ErrNotPositiveDefinite, got %v", err)
	}

	chol, ridge, err := FactorizeRidge(a, 1e-12, 3)
	if err != nil {
		t.Fatal(err)
	}
	if ridge <= 0 {
		t.Fatalf("ridge = %v, want > 0", ridge)
	}
	if chol.Size() != 4 {
		t.Fatalf("Size = %d, want 4", chol.Size())
	}
}

func TestFactorizeRidgeGivesUp(t *testing.T) {
	a := NewSymBand(3, 1)
	a.Set(0, 0, -1)
	a.Set(1, 1, -1)
	a.Set(2, 2, -1)

	if _, _, err := FactorizeRidge(a, 1e-12, 2); !errors.Is(err, ErrNotPositiveDefinite) {
		t.Fatalf("expected ErrNotPositiveDefinite, got %v", err)
	}
}

func TestNNLS(t *testing.T) {
	g := mat.NewSymDense(2, []float64{2, 1, 1, 2})

	tests := []struct {
		name string
		h    []float64
		want []float64
	}{
		{name: "interior", h: []float64{4, 5}, want: []float64{1, 2}},
		{name: "clamped", h: []float64{1, -1}, want: []float64{0.5, 0}},
		{name: "all negative", h: []float64{-1, -1}, want: []float64{0, 0}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NNLS(g, tt.h)
			if err != nil {
				t.Fatal(err)
			}
			for i := range tt.want {
				if math.Abs(got[i]-tt.want[i]) > 1e-10 {
					t.Fatalf("x = %v, want %v", got, tt.want)
				}
			}
		})
	}
}

func TestNNLSLengthMismatch(t *testing.T) {
	g := mat.NewSymDense(2, []float64{1, 0, 0, 1})
	if _, err := NNLS(g, []float64{1}); !errors.Is(err, ErrLengthMismatch) {
		t.Fatalf("expected ErrLengthMismatch, got %v", err)
	}
}
