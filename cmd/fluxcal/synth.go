package main

import (
	"fmt"
	"math"
	"math/rand"
	"sort"

	"github.com/cwbudde/algo-fluxcal/dsp/interp"
	"github.com/cwbudde/algo-fluxcal/fluxcal/match"
	"github.com/cwbudde/algo-fluxcal/fluxcal/stdstar"
	"github.com/cwbudde/algo-fluxcal/internal/testutil"
	"github.com/cwbudde/algo-fluxcal/spectro/frame"
	"github.com/cwbudde/algo-fluxcal/spectro/photometry"
	"github.com/cwbudde/algo-fluxcal/spectro/resolution"
	"gonum.org/v1/gonum/stat"
)

// system is the photometric system of the synthetic stars.
const system = "S"

// scienceFiber is the fiber ID of the non-standard target.
const scienceFiber = 0

var simFilters = stdstar.FilterSet{
	G: photometry.TopHat("g", 4000, 5500, 10),
	R: photometry.TopHat("r", 5600, 7000, 10),
	Z: photometry.TopHat("z", 7600, 9200, 10),
}

// arm describes one camera: its grid and a Gaussian throughput curve.
type arm struct {
	cam          frame.Camera
	lo, hi       float64
	peak, center float64
	width        float64
}

var arms = []arm{
	{cam: frame.CameraB, lo: 3600, hi: 5800, peak: 0.8, center: 4800, width: 900},
	{cam: frame.CameraR, lo: 5700, hi: 7600, peak: 1.0, center: 6600, width: 1200},
	{cam: frame.CameraZ, lo: 7500, hi: 9800, peak: 0.6, center: 8500, width: 1400},
}

func (a arm) wave() []float64 {
	return testutil.Grid(a.lo, 1, int(a.hi-a.lo)+1)
}

func (a arm) throughput(wave []float64) []float64 {
	out := make([]float64, len(wave))
	for i, w := range wave {
		d := (w - a.center) / a.width
		out[i] = a.peak * math.Exp(-0.5*d*d)
	}
	return out
}

// truth is what a simulated star really is.
type truth struct {
	Fiber    int
	Template int
	Redshift float64
	MagR     float64
}

// exposure is a synthetic multi-camera observation.
type exposure struct {
	frames     []*frame.Frame
	photometry map[int]stdstar.Photometry
	stars      []truth
	// science is the true spectrum of the science fiber on the library grid.
	science []float64
}

// synthLibrary returns n templates whose colours step evenly from blue
// to red, each with a distinct teff/logg/feh.
func synthLibrary(n int) *match.Library {
	wave := testutil.Grid(3500, 2, 3251)
	lib := &match.Library{Wave: wave}

	for k := range n {
		f := float64(k) / float64(max(n-1, 1))
		lines := append(testutil.BalmerLines(0.6*(1-f)+0.1, 4), testutil.MetalLines(0.4*f, 2)...)
		lib.Flux = append(lib.Flux, testutil.StellarSpectrum(wave, 1, -2.5+3.5*f, lines...))
		lib.Teff = append(lib.Teff, 10000-5000*f)
		lib.Logg = append(lib.Logg, 4.5-0.1*float64(k%4))
		lib.FeH = append(lib.FeH, -1+0.25*float64(k%5))
	}

	return lib
}

// observe simulates one exposure of the standard stars and one science
// fiber through the three arms.
func observe(cfg simSettings, zres float64, lib *match.Library) (*exposure, error) {
	rng := rand.New(rand.NewSource(cfg.Seed))
	exp := &exposure{photometry: make(map[int]stdstar.Photometry)}

	var spectra [][]float64
	var ids []int

	for i := range cfg.Stars {
		tr := truth{
			Fiber:    2*i + 1,
			Template: rng.Intn(lib.Len()),
			Redshift: zres * float64(rng.Intn(5)-2),
			MagR:     16 + 2*rng.Float64(),
		}

		spec := make([]float64, len(lib.Wave))
		if err := lib.Shifted(spec, lib.Wave, tr.Template, tr.Redshift, interp.ModeLinear); err != nil {
			return nil, err
		}

		mr, err := simFilters.R.ABMagnitude(lib.Wave, spec)
		if err != nil {
			return nil, err
		}
		scale := photometry.ScaleToMagnitude(mr, tr.MagR)
		for j := range spec {
			spec[j] *= scale
		}

		p := stdstar.Photometry{System: system}
		for _, band := range []struct {
			f   photometry.Filter
			dst *float64
		}{{simFilters.G, &p.FluxG}, {simFilters.R, &p.FluxR}, {simFilters.Z, &p.FluxZ}} {
			m, err := band.f.ABMagnitude(lib.Wave, spec)
			if err != nil {
				return nil, fmt.Errorf("star %d: %w", i, err)
			}
			*band.dst = photometry.MagToNanomaggy(m)
		}

		exp.stars = append(exp.stars, tr)
		exp.photometry[tr.Fiber] = p
		spectra = append(spectra, spec)
		ids = append(ids, tr.Fiber)
	}

	exp.science = testutil.StellarSpectrum(lib.Wave, 40, 0.5, testutil.Line{Center: 6562.8, Depth: -2, Sigma: 3})
	spectra = append(spectra, exp.science)
	ids = append(ids, scienceFiber)

	for _, a := range arms {
		f, err := a.observe(rng, cfg, lib.Wave, spectra, ids)
		if err != nil {
			return nil, err
		}
		exp.frames = append(exp.frames, f)
	}

	return exp, nil
}

func (a arm) observe(rng *rand.Rand, cfg simSettings, libWave []float64, spectra [][]float64, ids []int) (*frame.Frame, error) {
	wave := a.wave()
	n := len(wave)
	thr := a.throughput(wave)

	f := &frame.Frame{Camera: a.cam, Wave: wave, FiberIDs: ids}
	onGrid := make([]float64, n)

	for _, spec := range spectra {
		if err := interp.Resample(onGrid, wave, libWave, spec, interp.ModeLinear, 0, 0); err != nil {
			return nil, err
		}
		for i := range onGrid {
			onGrid[i] *= thr[i]
		}

		r := resolution.Gaussian(n, cfg.ResolutionSigma)
		signal := make([]float64, n)
		r.Apply(signal, onGrid)

		sigma := median(signal) / cfg.SNR
		noise := testutil.GaussianNoise(rng.Int63(), sigma, n)
		for i := range signal {
			signal[i] += noise[i]
		}

		f.Flux = append(f.Flux, signal)
		f.Ivar = append(f.Ivar, testutil.DC(1/(sigma*sigma), n))
		f.Mask = append(f.Mask, make([]uint32, n))
		f.Resolution = append(f.Resolution, r)
	}

	return f, f.Validate()
}

// median returns the lower median of x without modifying it.
func median(x []float64) float64 {
	s := append([]float64(nil), x...)
	sort.Float64s(s)
	return stat.Quantile(0.5, stat.Empirical, s, nil)
}
