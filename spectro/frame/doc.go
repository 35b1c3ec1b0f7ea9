// Package frame holds the spectrograph data containers consumed by the
// flux calibration: a single fiber Spectrum, a per-camera Band of a
// standard star, and a multi-fiber Frame with its per-fiber resolution
// operators.
package frame
