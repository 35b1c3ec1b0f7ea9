// Package stdstar turns standard-star observations into flux-scaled
// stellar models for the calibration solver.
//
// Stars are ranked by their blue-camera S/N and the best ones kept. The
// 4300–4500 Å throughput dip is masked, and the template library is
// pre-selected by broadband colour against the star's dereddened
// photometry (expanded to the enclosing teff/logg/[Fe/H] box). Each star
// is then fitted with match.Matcher on a bounded worker pool. The fitted
// model is rebuilt at full library resolution, reddened by Galactic dust
// and scaled to the star's r magnitude.
package stdstar
