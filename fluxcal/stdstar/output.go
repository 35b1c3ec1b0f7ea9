package stdstar

import (
	"errors"
	"fmt"

	"github.com/cwbudde/algo-fluxcal/dsp/interp"
	"github.com/cwbudde/algo-fluxcal/fluxcal/solve"
	"github.com/cwbudde/algo-fluxcal/spectro/frame"
)

// ErrMissingFiber is returned when a fitted star is absent from a frame.
var ErrMissingFiber = errors.New("stdstar: fitted star not in frame")

// ModelsOn resamples every star's model onto wave, zero outside the
// library range.
func (o *Output) ModelsOn(wave []float64) ([][]float64, error) {
	out := make([][]float64, len(o.Stars))
	for k, s := range o.Stars {
		out[k] = make([]float64, len(wave))
		if err := interp.Resample(out[k], wave, o.Wave, s.Flux, interp.ModeLinear, 0, 0); err != nil {
			return nil, fmt.Errorf("stdstar: fiber %d: %w", s.Fiber, err)
		}
	}
	return out, nil
}

// Fibers returns the fiber numbers of the fitted stars.
func (o *Output) Fibers() []int {
	ids := make([]int, len(o.Stars))
	for k, s := range o.Stars {
		ids[k] = s.Fiber
	}
	return ids
}

// SolverInput assembles the calibration solver input for one frame from
// the fitted stars. Masked pixels get zero ivar.
func (o *Output) SolverInput(f *frame.Frame) (*solve.Input, error) {
	row := make(map[int]int, f.NFibers())
	for i := range f.NFibers() {
		row[f.FiberID(i)] = i
	}

	models, err := o.ModelsOn(f.Wave)
	if err != nil {
		return nil, err
	}

	in := &solve.Input{Wave: f.Wave}
	for k, s := range o.Stars {
		i, ok := row[s.Fiber]
		if !ok {
			return nil, fmt.Errorf("%w: fiber %d, camera %s", ErrMissingFiber, s.Fiber, f.Camera)
		}

		sp := f.Fiber(i)
		in.Flux = append(in.Flux, sp.Flux)
		in.Ivar = append(in.Ivar, sp.Ivar)
		in.Model = append(in.Model, models[k])
		in.Resolution = append(in.Resolution, sp.Resolution)
	}

	return in, nil
}
