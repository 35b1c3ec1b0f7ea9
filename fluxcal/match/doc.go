// Package match fits one standard star against a synthetic template
// library.
//
// For every template and every point of a symmetric redshift grid the
// template is shifted, resampled onto each band's wavelength grid and
// convolved with the band's resolution operator. Data and model are both
// divided by a wide running median (or boxcar) so that only the shape of
// narrow spectral features is compared, and the chi-square uses an
// inverse variance inflated by a fractional template error.
//
// The best (template, redshift) pair is chosen by a total order (chi2,
// then template index, then |z|), so the result does not depend on how
// the grid is scheduled across workers. With WithBlend, a non-negative
// combination of all candidate templates is fitted at that redshift.
package match
