package match

import (
	"errors"
	"fmt"

	"github.com/cwbudde/algo-fluxcal/dsp/interp"
)

// Library errors.
var (
	ErrLibraryShape = errors.New("match: library shape mismatch")
	ErrEmptyLibrary = errors.New("match: empty library")
)

// Library is a read-only set of synthetic stellar spectra on a shared
// wavelength grid, in photometry.FluxUnit.
type Library struct {
	Wave []float64
	Flux [][]float64
	Teff []float64
	Logg []float64
	FeH  []float64
}

// Len returns the number of templates.
func (l *Library) Len() int {
	return len(l.Flux)
}

// Validate checks the library's shape and grid.
func (l *Library) Validate() error {
	n := len(l.Flux)
	if n == 0 || len(l.Wave) == 0 {
		return ErrEmptyLibrary
	}

	if len(l.Teff) != n || len(l.Logg) != n || len(l.FeH) != n {
		return fmt.Errorf("%w: %d templates, teff=%d logg=%d feh=%d", ErrLibraryShape, n, len(l.Teff), len(l.Logg), len(l.FeH))
	}

	for i, f := range l.Flux {
		if len(f) != len(l.Wave) {
			return fmt.Errorf("%w: template %d has %d pixels, want %d", ErrLibraryShape, i, len(f), len(l.Wave))
		}
	}

	return interp.Validate(l.Wave)
}

// All returns the indices of every template.
func (l *Library) All() []int {
	idx := make([]int, l.Len())
	for i := range idx {
		idx[i] = i
	}
	return idx
}

// Box is an inclusive teff/logg/feh bounding box.
type Box struct {
	TeffMin, TeffMax float64
	LoggMin, LoggMax float64
	FeHMin, FeHMax   float64
}

// BoundingBox returns the smallest box containing the given templates.
func (l *Library) BoundingBox(idx []int) Box {
	if len(idx) == 0 {
		return Box{}
	}

	i0 := idx[0]
	b := Box{
		TeffMin: l.Teff[i0], TeffMax: l.Teff[i0],
		LoggMin: l.Logg[i0], LoggMax: l.Logg[i0],
		FeHMin: l.FeH[i0], FeHMax: l.FeH[i0],
	}

	for _, i := range idx[1:] {
		b.TeffMin = min(b.TeffMin, l.Teff[i])
		b.TeffMax = max(b.TeffMax, l.Teff[i])
		b.LoggMin = min(b.LoggMin, l.Logg[i])
		b.LoggMax = max(b.LoggMax, l.Logg[i])
		b.FeHMin = min(b.FeHMin, l.FeH[i])
		b.FeHMax = max(b.FeHMax, l.FeH[i])
	}

	return b
}

// Within returns the templates inside b, in library order.
func (l *Library) Within(b Box) []int {
	var idx []int
	for i := range l.Flux {
		if l.Teff[i] >= b.TeffMin && l.Teff[i] <= b.TeffMax &&
			l.Logg[i] >= b.LoggMin && l.Logg[i] <= b.LoggMax &&
			l.FeH[i] >= b.FeHMin && l.FeH[i] <= b.FeHMax {
			idx = append(idx, i)
		}
	}
	return idx
}

// Shifted resamples template t, redshifted by z, onto wave. Pixels
// outside the template's coverage are zero.
func (l *Library) Shifted(dst, wave []float64, t int, z float64, mode interp.Mode) error {
	rest := make([]float64, len(wave))
	for i, w := range wave {
		rest[i] = w / (1 + z)
	}

	return interp.Resample(dst, rest, l.Wave, l.Flux[t], mode, 0, 0)
}
