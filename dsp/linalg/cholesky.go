package linalg

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// Errors returned by the factorizations.
var (
	ErrNotPositiveDefinite = errors.New("linalg: matrix is not positive definite")
	ErrLengthMismatch      = errors.New("linalg: vector length mismatch")
	ErrEmpty               = errors.New("linalg: empty matrix")
)

// Cholesky is the factorization of a symmetric positive definite band matrix.
type Cholesky struct {
	n    int
	chol mat.BandCholesky
}

// Factorize computes the Cholesky factorization of a. a is not modified.
func Factorize(a *SymBand) (*Cholesky, error) {
	if a.N == 0 {
		return nil, ErrEmpty
	}

	c := &Cholesky{n: a.N}
	if ok := c.chol.Factorize(a.Mat()); !ok {
		return nil, ErrNotPositiveDefinite
	}

	return c, nil
}

// FactorizeRidge factorizes a, adding a ridge to the diagonal when the
// plain factorization fails. The first ridge is rel·max(diag(a)) and it
// grows by a factor of 100 per attempt. It returns the ridge actually
// applied (0 if none was needed). a is not modified.
func FactorizeRidge(a *SymBand, rel float64, attempts int) (*Cholesky, float64, error) {
	c, err := Factorize(a)
	if err == nil || !errors.Is(err, ErrNotPositiveDefinite) {
		return c, 0, err
	}

	scale := a.MaxDiag()
	if scale <= 0 {
		scale = 1
	}

	ridge := rel * scale
	for range attempts {
		b := a.Clone()
		for i := range b.N {
			b.Add(i, i, ridge)
		}

		if c, err = Factorize(b); err == nil {
			return c, ridge, nil
		}

		ridge *= 100
	}

	return nil, 0, fmt.Errorf("%w after %d ridge attempts", ErrNotPositiveDefinite, attempts)
}

// Size returns the matrix dimension.
func (c *Cholesky) Size() int {
	return c.n
}

// Solve returns x with A·x = b.
func (c *Cholesky) Solve(b []float64) ([]float64, error) {
	if len(b) != c.n {
		return nil, fmt.Errorf("%w: %d != %d", ErrLengthMismatch, len(b), c.n)
	}

	dst := mat.NewVecDense(c.n, nil)
	if err := c.solveInto(dst, mat.NewVecDense(c.n, b)); err != nil {
		return nil, err
	}

	return dst.RawVector().Data, nil
}

// CovarianceBand returns the elements of A⁻¹ within bandwidth k of the
// diagonal. The inverse is generally dense; only the band is kept.
func (c *Cholesky) CovarianceBand(k int) (*SymBand, error) {
	cov := NewSymBand(c.n, k)
	unit := mat.NewVecDense(c.n, nil)
	col := mat.NewVecDense(c.n, nil)

	for j := range c.n {
		unit.SetVec(j, 1)
		if err := c.solveInto(col, unit); err != nil {
			return nil, err
		}
		unit.SetVec(j, 0)

		for i := max(0, j-k); i <= j; i++ {
			cov.Set(i, j, col.AtVec(i))
		}
	}

	return cov, nil
}

// solveInto ignores mat.Condition warnings; the solution is still
// computed for ill-conditioned systems.
func (c *Cholesky) solveInto(dst *mat.VecDense, b mat.Vector) error {
	err := c.chol.SolveVecTo(dst, b)
	if err == nil {
		return nil
	}

	var cond mat.Condition
	if errors.As(err, &cond) {
		return nil
	}

	return err
}
