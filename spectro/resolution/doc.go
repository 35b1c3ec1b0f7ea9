// Package resolution implements the per-fiber resolution operator: a
// banded W×W matrix modelling the wavelength-dependent line-spread
// function of a spectrograph fiber.
//
// The operator is described by 21 per-pixel diagonals (offsets +10..-10)
// in the same layout scipy's spdiags and the upstream frame files use:
// diagonal row d holds offset 10-d, and element (i, j) with j = i+offset
// is read from row d at column j.
//
// # Usage
//
//	r, err := resolution.New(diagonals) // [21][W]
//	r.Apply(convolved, model)           // R·model
//	v := r.CongruenceDiag(cov)          // diag(R·Σ·Rᵗ)
package resolution
