// Package apply divides science flux by a solved calibration vector and
// propagates the calibration's variance into the flux inverse variance:
//
//	flux' = flux / C
//	1/ivar' = 1/(ivar·C²) + flux²/(civar·C⁴)
//
// with C = R_f·calibration per fiber. The calibration must be on the
// frame's exact wavelength grid; a mismatch is a configuration error and
// is never resampled away.
package apply
