package linalg

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// NNLS solves min ||A·x − b||² subject to x >= 0 given the normal
// equations G = AᵀA and h = Aᵀb (Lawson-Hanson active set).
//
// Ties in the entering variable are broken by the lowest index, so the
// result does not depend on anything but the inputs.
func NNLS(g *mat.SymDense, h []float64) ([]float64, error) {
	n := g.SymmetricDim()
	if len(h) != n {
		return nil, fmt.Errorf("%w: %d != %d", ErrLengthMismatch, len(h), n)
	}

	if n == 0 {
		return nil, ErrEmpty
	}

	scale := 0.0
	for i := range n {
		scale = math.Max(scale, math.Abs(g.At(i, i)))
	}

	tol := 1e-12 * (1 + scale)

	x := make([]float64, n)
	w := make([]float64, n)
	passive := make([]bool, n)

	gradient := func() {
		for i := range n {
			s := h[i]
			for j := range n {
				s -= g.At(i, j) * x[j]
			}
			w[i] = s
		}
	}

	gradient()

	for outer := 0; outer < 3*n; outer++ {
		enter := -1
		for j := range n {
			if !passive[j] && w[j] > tol && (enter < 0 || w[j] > w[enter]) {
				enter = j
			}
		}

		if enter < 0 {
			break
		}

		passive[enter] = true

		for inner := 0; inner < 3*n; inner++ {
			z, err := solvePassive(g, h, passive)
			if err != nil {
				return nil, err
			}

			feasible := true
			for j := range n {
				if passive[j] && z[j] <= tol {
					feasible = false
					break
				}
			}

			if feasible {
				copy(x, z)
				break
			}

			alpha := math.Inf(1)
			for j := range n {
				if passive[j] && z[j] <= tol {
					a := 0.0
					if d := x[j] - z[j]; d > 0 {
						a = x[j] / d
					}
					if a < alpha {
						alpha = a
					}
				}
			}

			for j := range n {
				x[j] += alpha * (z[j] - x[j])
				if passive[j] && x[j] <= tol {
					passive[j] = false
					x[j] = 0
				}
			}
		}

		gradient()
	}

	return x, nil
}

// solvePassive solves the normal equations restricted to the passive set.
// Entries outside the set are zero.
func solvePassive(g *mat.SymDense, h []float64, passive []bool) ([]float64, error) {
	idx := make([]int, 0, len(passive))
	for j, p := range passive {
		if p {
			idx = append(idx, j)
		}
	}

	out := make([]float64, len(passive))

	m := len(idx)
	if m == 0 {
		return out, nil
	}

	sub := mat.NewSymDense(m, nil)
	rhs := mat.NewVecDense(m, nil)

	for a, i := range idx {
		rhs.SetVec(a, h[i])
		for b := a; b < m; b++ {
			sub.SetSym(a, b, g.At(i, idx[b]))
		}
	}

	sol := mat.NewVecDense(m, nil)

	var chol mat.Cholesky
	if chol.Factorize(sub) {
		if err := chol.SolveVecTo(sol, rhs); err != nil {
			if _, ok := err.(mat.Condition); !ok {
				return nil, err
			}
		}
	} else if err := sol.SolveVec(sub, rhs); err != nil {
		return nil, fmt.Errorf("linalg: nnls subproblem: %w", err)
	}

	for a, i := range idx {
		out[i] = sol.AtVec(a)
	}

	return out, nil
}
