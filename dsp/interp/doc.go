// Package interp provides interpolation primitives and grid resampling.
//
// Point interpolators, from cheapest to highest quality:
//
//   - [Linear2]:  2-point linear interpolation
//   - [Hermite4]: 4-point cubic Hermite (Catmull-Rom)
//
// [Resample] evaluates a tabulated function (xp, fp) on another, possibly
// non-uniform, grid. It is used to bring stellar templates onto the
// wavelength grid of each camera and to rebuild redshifted models.
package interp
