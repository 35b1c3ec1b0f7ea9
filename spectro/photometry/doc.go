// Package photometry provides broadband synthetic photometry for the
// standard-star pipeline: filter response curves, AB magnitudes in the
// photon-counting convention, nanomaggy conversions and a Galactic
// extinction law.
//
// Curves are supplied by the caller; this package never reads files.
package photometry
