// Package solve fits the shared calibration vector of one camera from
// many standard-star fibers.
//
// Each fiber f contributes flux_f ≈ S_f · R_f(C) · model_f, where C is
// the calibration on the data grid, R_f the fiber's resolution operator
// and S_f a smooth per-fiber correction. C is found by weighted least
// squares on the banded normal equations; S_f is a cubic spline with
// ~1000 Å knot spacing fitted to the residual ratio. Outliers are
// clipped at NSigma: the first iteration removes only the worst fiber
// per wavelength, later ones remove every pixel above threshold.
// The loop stops when nothing new is clipped or at MaxIterations.
//
// The returned variance is diag(A⁻¹) rescaled by the final fiber
// normalization, and a convolved variant applies the mean resolution
// operator to both calibration and covariance.
package solve
