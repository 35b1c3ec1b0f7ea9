package stdstar

import (
	"errors"
	"fmt"
	"math"
	"slices"
	"sort"

	"github.com/cwbudde/algo-fluxcal/spectro/frame"
	"github.com/cwbudde/algo-fluxcal/spectro/photometry"
	"gonum.org/v1/gonum/stat"
)

// ErrUnknownColor is returned by ParseColor.
var ErrUnknownColor = errors.New("stdstar: unknown color")

// Color is a broadband colour index.
type Color int

const (
	ColorGR Color = iota
	ColorRZ
)

func (c Color) String() string {
	switch c {
	case ColorGR:
		return "G-R"
	case ColorRZ:
		return "R-Z"
	default:
		return fmt.Sprintf("Color(%d)", int(c))
	}
}

// ParseColor accepts "G-R" or "R-Z".
func ParseColor(s string) (Color, error) {
	switch s {
	case "G-R", "g-r":
		return ColorGR, nil
	case "R-Z", "r-z":
		return ColorRZ, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownColor, s)
	}
}

// filters returns the blue and red filter of the colour.
func (c Color) filters(fs FilterSet) (photometry.Filter, photometry.Filter) {
	if c == ColorRZ {
		return fs.R, fs.Z
	}
	return fs.G, fs.R
}

// Photometry is a star's imaging photometry in nanomaggies with the
// Milky Way transmission of each band.
type Photometry struct {
	System              string
	FluxG, FluxR, FluxZ float64
	// MW transmission per band; zero is read as 1.
	TransG, TransR, TransZ float64
	EBV                    float64
}

// Usable reports whether all fluxes lie within magnitudes 0..30, the
// range trusted for standard stars.
func (p Photometry) Usable() bool {
	lo := photometry.MagToNanomaggy(30)
	hi := photometry.MagToNanomaggy(0)
	for _, f := range []float64{p.FluxG, p.FluxR, p.FluxZ} {
		if !(f > lo && f < hi) {
			return false
		}
	}
	return true
}

// MagR is the observed (extincted) r magnitude.
func (p Photometry) MagR() float64 {
	return photometry.NanomaggyToMag(p.FluxR)
}

// Color returns the observed colour; with dereddened set, fluxes are
// first divided by the Milky Way transmission.
func (p Photometry) Color(c Color, dereddened bool) float64 {
	mag := func(flux, trans float64) float64 {
		if !dereddened {
			return photometry.NanomaggyToMag(flux)
		}
		if trans == 0 {
			trans = 1
		}
		return photometry.UnextinctedMag(flux, trans)
	}

	g := mag(p.FluxG, p.TransG)
	r := mag(p.FluxR, p.TransR)
	z := mag(p.FluxZ, p.TransZ)

	if c == ColorRZ {
		return r - z
	}
	return g - r
}

// Star is one standard star: all its band observations and photometry.
type Star struct {
	Fiber      int
	Bands      []frame.Band
	Photometry Photometry
}

// StarsFromFrames gathers the fibers listed in phot from every frame
// into per-star band records, ordered by fiber number. Masked pixels
// get zero ivar.
func StarsFromFrames(frames []*frame.Frame, phot map[int]Photometry) []Star {
	byFiber := make(map[int]*Star, len(phot))

	for _, f := range frames {
		for i := range f.NFibers() {
			id := f.FiberID(i)
			p, ok := phot[id]
			if !ok {
				continue
			}

			s := byFiber[id]
			if s == nil {
				s = &Star{Fiber: id, Photometry: p}
				byFiber[id] = s
			}
			s.Bands = append(s.Bands, f.Band(i))
		}
	}

	ids := make([]int, 0, len(byFiber))
	for id := range byFiber {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	stars := make([]Star, len(ids))
	for k, id := range ids {
		stars[k] = *byFiber[id]
	}
	return stars
}

// SNR returns the star's S/N per √Å in camera cam: the quadrature sum
// over exposures of the median of flux·√ivar/√dλ, each clipped at 0.
func (s Star) SNR(cam frame.Camera) float64 {
	var sum float64
	for _, b := range s.Bands {
		if b.Camera != cam {
			continue
		}
		m := max(medianSNR(b.Spectrum), 0)
		sum += m * m
	}
	return math.Sqrt(sum)
}

func medianSNR(sp frame.Spectrum) float64 {
	n := len(sp.Wave)
	if n == 0 {
		return 0
	}

	grad := gradient(sp.Wave)
	vals := make([]float64, n)
	for i := range n {
		vals[i] = sp.Flux[i] * math.Sqrt(max(sp.Ivar[i], 0)) / math.Sqrt(grad[i])
	}

	return median(vals)
}

// gradient is the centred finite difference of x with one-sided ends.
func gradient(x []float64) []float64 {
	n := len(x)
	out := make([]float64, n)
	if n < 2 {
		for i := range out {
			out[i] = 1
		}
		return out
	}

	out[0] = x[1] - x[0]
	out[n-1] = x[n-1] - x[n-2]
	for i := 1; i < n-1; i++ {
		out[i] = (x[i+1] - x[i-1]) / 2
	}
	return out
}

// median sorts v in place and returns its lower median.
func median(v []float64) float64 {
	sort.Float64s(v)
	return stat.Quantile(0.5, stat.Empirical, v, nil)
}

// maskDip returns a copy of the bands with ivar zeroed on [lo, hi].
func maskDip(bands []frame.Band, lo, hi float64) []frame.Band {
	out := make([]frame.Band, len(bands))
	for k, b := range bands {
		ivar := append([]float64(nil), b.Ivar...)
		for i, w := range b.Wave {
			if w >= lo && w <= hi {
				ivar[i] = 0
			}
		}
		b.Ivar = ivar
		out[k] = b
	}
	return out
}
