// Package smooth provides the low-pass operations used to separate
// broadband continuum from narrow spectral features:
//
//   - [Median]: sliding median filter (scipy "reflect" boundary)
//   - [Boxcar]: moving average, FFT-based for wide windows
//   - [SplineFit]: weighted least-squares cubic B-spline with a fixed
//     knot spacing in abscissa units
//
// Median and Boxcar use the same window placement: for width w the
// output at i covers input samples i-w/2 .. i+(w-1)/2 (even widths lean
// left, as in scipy.ndimage).
package smooth
