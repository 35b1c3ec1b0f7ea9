// Package linalg provides the small amount of linear algebra the
// calibration solver needs on top of gonum:
//
//   - [SymBand]: a symmetric band matrix in gonum's upper band layout,
//     cheap to accumulate into element by element
//   - [Cholesky]: banded Cholesky factorization, solves, and the band of
//     the inverse (covariance) matrix
//   - [NNLS]: Lawson-Hanson non-negative least squares in normal-equation
//     form, used to blend stellar templates
//
// # Usage
//
//	a := linalg.NewSymBand(n, 20)
//	a.Add(i, j, v)
//	chol, err := linalg.Factorize(a)
//	x, err := chol.Solve(b)
//	cov, err := chol.CovarianceBand(20)
package linalg
