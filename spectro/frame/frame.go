package frame

import (
	"errors"
	"fmt"
	"strings"

	"github.com/cwbudde/algo-fluxcal/dsp/core"
	"github.com/cwbudde/algo-fluxcal/dsp/interp"
	"github.com/cwbudde/algo-fluxcal/spectro/resolution"
)

// Validation errors.
var (
	ErrShape         = errors.New("frame: shape mismatch")
	ErrEmpty         = errors.New("frame: empty wavelength grid")
	ErrNegativeIvar  = errors.New("frame: negative inverse variance")
	ErrUnknownCamera = errors.New("frame: unknown camera")
)

// Camera identifies a spectrograph arm.
type Camera int

const (
	CameraB Camera = iota
	CameraR
	CameraZ
)

// Cameras lists the arms in wavelength order.
var Cameras = []Camera{CameraB, CameraR, CameraZ}

func (c Camera) String() string {
	switch c {
	case CameraB:
		return "b"
	case CameraR:
		return "r"
	case CameraZ:
		return "z"
	default:
		return fmt.Sprintf("Camera(%d)", int(c))
	}
}

// ParseCamera accepts "b", "r" or "z", optionally followed by a
// spectrograph digit ("b0", "z9").
func ParseCamera(s string) (Camera, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return 0, fmt.Errorf("%w: empty", ErrUnknownCamera)
	}

	switch s[0] {
	case 'b':
		return CameraB, nil
	case 'r':
		return CameraR, nil
	case 'z':
		return CameraZ, nil
	}

	return 0, fmt.Errorf("%w: %q", ErrUnknownCamera, s)
}

// Spectrum is one fiber's flux on one wavelength grid.
type Spectrum struct {
	Wave       []float64
	Flux       []float64
	Ivar       []float64
	Resolution *resolution.Operator
}

// Validate checks that all arrays agree in length, the grid is strictly
// increasing and ivar is non-negative.
func (s Spectrum) Validate() error {
	n := len(s.Wave)
	if n == 0 {
		return ErrEmpty
	}

	if len(s.Flux) != n || len(s.Ivar) != n {
		return fmt.Errorf("%w: wave=%d flux=%d ivar=%d", ErrShape, n, len(s.Flux), len(s.Ivar))
	}

	if s.Resolution != nil && s.Resolution.Size() != n {
		return fmt.Errorf("%w: resolution size %d, want %d", ErrShape, s.Resolution.Size(), n)
	}

	if err := interp.Validate(s.Wave); err != nil {
		return err
	}

	for i, v := range s.Ivar {
		if v < 0 {
			return fmt.Errorf("%w at pixel %d", ErrNegativeIvar, i)
		}
	}

	return nil
}

// Band is one exposure of one standard star in one camera.
type Band struct {
	Camera   Camera
	Exposure int
	Spectrum
}

// Frame is a multi-fiber exposure in one camera on a shared grid.
type Frame struct {
	Camera     Camera
	Exposure   int
	Wave       []float64
	Flux       [][]float64
	Ivar       [][]float64
	Mask       [][]uint32
	Resolution []*resolution.Operator
	FiberIDs   []int
}

// NFibers returns the number of fibers.
func (f *Frame) NFibers() int {
	return len(f.Flux)
}

// NWave returns the grid length.
func (f *Frame) NWave() int {
	return len(f.Wave)
}

// Validate checks the frame's shape.
func (f *Frame) Validate() error {
	n := len(f.Wave)
	if n == 0 {
		return ErrEmpty
	}

	nf := len(f.Flux)
	if len(f.Ivar) != nf || len(f.Resolution) != nf {
		return fmt.Errorf("%w: flux=%d ivar=%d resolution=%d fibers", ErrShape, nf, len(f.Ivar), len(f.Resolution))
	}
	if f.Mask != nil && len(f.Mask) != nf {
		return fmt.Errorf("%w: mask has %d fibers, want %d", ErrShape, len(f.Mask), nf)
	}
	if f.FiberIDs != nil && len(f.FiberIDs) != nf {
		return fmt.Errorf("%w: %d fiber ids, want %d", ErrShape, len(f.FiberIDs), nf)
	}

	for i := range nf {
		s := Spectrum{Wave: f.Wave, Flux: f.Flux[i], Ivar: f.Ivar[i], Resolution: f.Resolution[i]}
		if err := s.Validate(); err != nil {
			return fmt.Errorf("fiber %d: %w", i, err)
		}
		if f.Mask != nil && len(f.Mask[i]) != n {
			return fmt.Errorf("%w: fiber %d mask has %d pixels, want %d", ErrShape, i, len(f.Mask[i]), n)
		}
	}

	return nil
}

// Fiber returns fiber i as a Spectrum. Masked pixels get zero ivar; the
// returned ivar is a copy, flux is shared.
func (f *Frame) Fiber(i int) Spectrum {
	ivar := append([]float64(nil), f.Ivar[i]...)
	if f.Mask != nil {
		for j, m := range f.Mask[i] {
			if m != 0 {
				ivar[j] = 0
			}
		}
	}

	return Spectrum{Wave: f.Wave, Flux: f.Flux[i], Ivar: ivar, Resolution: f.Resolution[i]}
}

// Select returns a frame restricted to the given fiber indices. Per-fiber
// rows are shared with f.
func (f *Frame) Select(idx []int) *Frame {
	out := &Frame{
		Camera:     f.Camera,
		Exposure:   f.Exposure,
		Wave:       f.Wave,
		Flux:       make([][]float64, len(idx)),
		Ivar:       make([][]float64, len(idx)),
		Resolution: make([]*resolution.Operator, len(idx)),
	}
	if f.Mask != nil {
		out.Mask = make([][]uint32, len(idx))
	}
	if f.FiberIDs != nil {
		out.FiberIDs = make([]int, len(idx))
	}

	for k, i := range idx {
		out.Flux[k] = f.Flux[i]
		out.Ivar[k] = f.Ivar[i]
		out.Resolution[k] = f.Resolution[i]
		if f.Mask != nil {
			out.Mask[k] = f.Mask[i]
		}
		if f.FiberIDs != nil {
			out.FiberIDs[k] = f.FiberIDs[i]
		}
	}

	return out
}

// Band returns fiber i as a Band record of this frame's camera and
// exposure.
func (f *Frame) Band(i int) Band {
	return Band{Camera: f.Camera, Exposure: f.Exposure, Spectrum: f.Fiber(i)}
}

// FiberID returns the fiber number of row i, or i when the frame has no
// fiber ids.
func (f *Frame) FiberID(i int) int {
	if f.FiberIDs == nil {
		return i
	}
	return f.FiberIDs[i]
}

// MaskedIvars returns per-fiber ivar with masked pixels zeroed.
func (f *Frame) MaskedIvars() [][]float64 {
	out := make([][]float64, f.NFibers())
	for i := range out {
		out[i] = f.Fiber(i).Ivar
	}
	return out
}

// Clone returns a deep copy of the flux, ivar and mask arrays. Wave and
// resolution operators are shared; both are treated as immutable.
func (f *Frame) Clone() *Frame {
	out := &Frame{
		Camera:     f.Camera,
		Exposure:   f.Exposure,
		Wave:       f.Wave,
		Flux:       core.Clone2D(f.Flux),
		Ivar:       core.Clone2D(f.Ivar),
		Resolution: append([]*resolution.Operator(nil), f.Resolution...),
	}
	if f.Mask != nil {
		out.Mask = make([][]uint32, len(f.Mask))
		for i, m := range f.Mask {
			out.Mask[i] = append([]uint32(nil), m...)
		}
	}
	if f.FiberIDs != nil {
		out.FiberIDs = append([]int(nil), f.FiberIDs...)
	}

	return out
}
