package photometry

import (
	"errors"
	"fmt"
	"math"

	"github.com/cwbudde/algo-fluxcal/dsp/interp"
)

const (
	// FluxUnit is the scale of library and frame flux in erg/s/cm²/Å.
	FluxUnit = 1e-17

	// SpeedOfLight in Å/s.
	SpeedOfLight = 2.99792458e18

	// ABZeroPoint is the AB reference flux density in erg/s/cm²/Hz.
	ABZeroPoint = 3631e-23

	// NoFlux is the magnitude reported for non-positive flux.
	NoFlux = 99.0
)

// Errors returned by the photometry routines.
var (
	ErrShape     = errors.New("photometry: shape mismatch")
	ErrNoOverlap = errors.New("photometry: spectrum does not cover the filter")
)

// Filter computes a broadband AB magnitude for a spectrum sampled on
// wave. Flux is in FluxUnit.
type Filter interface {
	Name() string
	ABMagnitude(wave, flux []float64) (float64, error)
}

// Response is a tabulated filter throughput curve.
type Response struct {
	Band       string
	Wave       []float64
	Throughput []float64
}

// NewResponse validates and copies a throughput curve.
func NewResponse(band string, wave, throughput []float64) (*Response, error) {
	if len(wave) != len(throughput) {
		return nil, fmt.Errorf("%w: wave=%d throughput=%d", ErrShape, len(wave), len(throughput))
	}
	if len(wave) < 2 {
		return nil, fmt.Errorf("%w: %d samples", interp.ErrTooFewPoints, len(wave))
	}
	if err := interp.Validate(wave); err != nil {
		return nil, err
	}

	return &Response{
		Band:       band,
		Wave:       append([]float64(nil), wave...),
		Throughput: append([]float64(nil), throughput...),
	}, nil
}

// TopHat returns a unit-throughput response on [lo, hi] with soft edges
// one step wide.
func TopHat(band string, lo, hi, step float64) *Response {
	n := int(math.Round((hi-lo)/step)) + 3
	wave := make([]float64, n)
	thr := make([]float64, n)

	for i := range n {
		wave[i] = lo - step + float64(i)*step
		if i > 0 && i < n-1 {
			thr[i] = 1
		}
	}

	return &Response{Band: band, Wave: wave, Throughput: thr}
}

// Name returns the band label.
func (r *Response) Name() string {
	return r.Band
}

// ABMagnitude integrates the photon count of flux through the response
// and compares it with an AB source. The spectrum is interpolated onto
// the filter's own grid and treated as zero outside wave.
func (r *Response) ABMagnitude(wave, flux []float64) (float64, error) {
	if len(wave) != len(flux) {
		return 0, fmt.Errorf("%w: wave=%d flux=%d", ErrShape, len(wave), len(flux))
	}
	if len(wave) < 2 || wave[0] > r.Wave[0] || wave[len(wave)-1] < r.Wave[len(r.Wave)-1] {
		return 0, fmt.Errorf("%w: filter %s spans [%g, %g]", ErrNoOverlap, r.Band, r.Wave[0], r.Wave[len(r.Wave)-1])
	}

	f := make([]float64, len(r.Wave))
	if err := interp.Resample(f, r.Wave, wave, flux, interp.ModeLinear, 0, 0); err != nil {
		return 0, err
	}

	num := make([]float64, len(r.Wave))
	den := make([]float64, len(r.Wave))
	for i, lam := range r.Wave {
		num[i] = f[i] * FluxUnit * lam * r.Throughput[i]
		den[i] = ABZeroPoint * SpeedOfLight / (lam * lam) * lam * r.Throughput[i]
	}

	n := Trapezoid(r.Wave, num)
	d := Trapezoid(r.Wave, den)
	if d <= 0 {
		return 0, fmt.Errorf("%w: filter %s has no throughput", ErrNoOverlap, r.Band)
	}
	if n <= 0 {
		return NoFlux, nil
	}

	return -2.5 * math.Log10(n/d), nil
}

// Trapezoid integrates y over x.
func Trapezoid(x, y []float64) float64 {
	var sum float64
	for i := 1; i < len(x); i++ {
		sum += 0.5 * (y[i] + y[i-1]) * (x[i] - x[i-1])
	}
	return sum
}

// NanomaggyToMag converts a nanomaggy flux to an AB magnitude.
func NanomaggyToMag(flux float64) float64 {
	if flux <= 0 {
		return NoFlux
	}
	return 22.5 - 2.5*math.Log10(flux)
}

// MagToNanomaggy is the inverse of NanomaggyToMag.
func MagToNanomaggy(mag float64) float64 {
	return math.Pow(10, (22.5-mag)/2.5)
}

// UnextinctedMag returns the magnitude of flux corrected for a Milky Way
// transmission in (0, 1].
func UnextinctedMag(flux, transmission float64) float64 {
	if transmission <= 0 {
		return NoFlux
	}
	return NanomaggyToMag(flux / transmission)
}

// ScaleToMagnitude returns the factor that brings a spectrum with model
// magnitude mModel to the observed magnitude mObs.
func ScaleToMagnitude(mModel, mObs float64) float64 {
	return math.Pow(10, (mModel-mObs)/2.5)
}
