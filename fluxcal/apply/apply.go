package apply

import (
	"errors"
	"fmt"

	"github.com/cwbudde/algo-fluxcal/dsp/core"
	"github.com/cwbudde/algo-fluxcal/fluxcal/solve"
	"github.com/cwbudde/algo-fluxcal/spectro/frame"
	"github.com/cwbudde/algo-fluxcal/spectro/resolution"
)

// WaveTolerance is the largest accepted grid difference in Å.
const WaveTolerance = 1e-5

// Applier errors. ErrWavelengthMismatch is fatal for a calibration run.
var (
	ErrWavelengthMismatch = errors.New("apply: calibration and frame wavelength grids differ")
	ErrShape              = errors.New("apply: shape mismatch")
)

// CheckWavelength returns ErrWavelengthMismatch unless wave and cwave
// have the same length and max|wave-cwave| <= WaveTolerance.
func CheckWavelength(wave, cwave []float64) error {
	if len(wave) != len(cwave) {
		return fmt.Errorf("%w: %d vs %d pixels", ErrWavelengthMismatch, len(wave), len(cwave))
	}

	if d := core.MaxAbsDiff(wave, cwave); d > WaveTolerance {
		return fmt.Errorf("%w: max offset %g Å", ErrWavelengthMismatch, d)
	}

	return nil
}

// Calibration is what the applier needs from a solved vector.
type Calibration struct {
	Wave        []float64
	Calibration []float64
	// Ivar is the calibration inverse variance, 0 where unusable.
	Ivar []float64
}

// FromResult selects the calibration and the inverse variance to apply.
// The convolved variance is preferred since flux is divided by R·C.
// Ivar is zeroed where the result's mask is false.
func FromResult(res *solve.Result) Calibration {
	src := res.ConvolvedIvar
	if len(src) != len(res.Wave) {
		src = res.Ivar
	}

	civar := make([]float64, len(src))
	for i, v := range src {
		if i < len(res.Mask) && res.Mask[i] {
			civar[i] = v
		}
	}

	return Calibration{Wave: res.Wave, Calibration: res.Calibration, Ivar: civar}
}

// Fiber returns calibrated flux and ivar for one fiber. Inputs are not
// modified. Pixels with ivar <= 0, civar <= 0 or C <= 0 get zero ivar;
// flux is zero where C <= 0.
func Fiber(flux, ivar []float64, r *resolution.Operator, cal Calibration) ([]float64, []float64, error) {
	n := len(cal.Calibration)
	if len(flux) != n || len(ivar) != n || len(cal.Ivar) != n || (r != nil && r.Size() != n) {
		return nil, nil, fmt.Errorf("%w: flux=%d ivar=%d calibration=%d", ErrShape, len(flux), len(ivar), n)
	}

	c := cal.Calibration
	if r != nil {
		c = r.Convolve(cal.Calibration)
	}

	outFlux := make([]float64, n)
	outIvar := make([]float64, n)

	for i := range n {
		ci := c[i]
		outFlux[i] = core.SafeDiv(flux[i], ci)

		if ivar[i] <= 0 || cal.Ivar[i] <= 0 || ci <= 0 {
			continue
		}

		c2 := ci * ci
		variance := 1/(ivar[i]*c2) + flux[i]*flux[i]/(cal.Ivar[i]*c2*c2)
		outIvar[i] = core.GuardedInverse(variance)
	}

	return outFlux, outIvar, nil
}

// Apply calibrates every fiber of f and returns a new frame; f is not
// modified. Masked pixels keep their mask and get zero ivar.
func Apply(f *frame.Frame, res *solve.Result) (*frame.Frame, error) {
	return ApplyCalibration(f, FromResult(res))
}

// ApplyCalibration is Apply for an explicit Calibration.
func ApplyCalibration(f *frame.Frame, cal Calibration) (*frame.Frame, error) {
	if err := CheckWavelength(f.Wave, cal.Wave); err != nil {
		return nil, err
	}

	if err := f.Validate(); err != nil {
		return nil, err
	}

	out := f.Clone()
	for i := range f.NFibers() {
		s := f.Fiber(i)

		flux, ivar, err := Fiber(s.Flux, s.Ivar, s.Resolution, cal)
		if err != nil {
			return nil, fmt.Errorf("apply: fiber %d: %w", i, err)
		}

		out.Flux[i], out.Ivar[i] = flux, ivar
	}

	return out, nil
}
