package stdstar

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/cwbudde/algo-fluxcal/dsp/interp"
	"github.com/cwbudde/algo-fluxcal/fluxcal/match"
	"github.com/cwbudde/algo-fluxcal/internal/testutil"
	"github.com/cwbudde/algo-fluxcal/spectro/frame"
	"github.com/cwbudde/algo-fluxcal/spectro/photometry"
	"github.com/cwbudde/algo-fluxcal/spectro/resolution"
)

var testFilters = FilterSet{
	G: photometry.TopHat("g", 4000, 5500, 10),
	R: photometry.TopHat("r", 5600, 7000, 10),
	Z: photometry.TopHat("z", 7600, 9200, 10),
}

// testLibrary holds four templates whose g-r colours are ~0.3 mag apart.
func testLibrary() *match.Library {
	wave := testutil.Grid(3600, 1, 6201)
	lib := &match.Library{Wave: wave}
	for k, slope := range []float64{-2, -1, 0, 1} {
		lines := append(testutil.BalmerLines(0.5-0.1*float64(k), 3), testutil.MetalLines(0.1*float64(k), 2)...)
		lib.Flux = append(lib.Flux, testutil.StellarSpectrum(wave, 1, slope, lines...))
		lib.Teff = append(lib.Teff, 8000-1000*float64(k))
		lib.Logg = append(lib.Logg, 4+0.1*float64(k))
		lib.FeH = append(lib.FeH, -0.5+0.2*float64(k))
	}
	return lib
}

// observe returns b and r bands of template t scaled by throughput.
func observe(t *testing.T, lib *match.Library, tmpl int, throughput, ivar float64) []frame.Band {
	t.Helper()

	var bands []frame.Band
	for _, cam := range []struct {
		c     frame.Camera
		start float64
		n     int
	}{
		{c: frame.CameraB, start: 3600, n: 2201},
		{c: frame.CameraR, start: 5700, n: 1901},
	} {
		wave := testutil.Grid(cam.start, 1, cam.n)
		flux := make([]float64, cam.n)
		if err := lib.Shifted(flux, wave, tmpl, 0, interp.ModeLinear); err != nil {
			t.Fatal(err)
		}
		for i := range flux {
			flux[i] *= throughput
		}
		bands = append(bands, frame.Band{
			Camera: cam.c,
			Spectrum: frame.Spectrum{
				Wave:       wave,
				Flux:       flux,
				Ivar:       testutil.DC(ivar, cam.n),
				Resolution: resolution.Identity(cam.n),
			},
		})
	}
	return bands
}

// photometryOf returns the photometry of template t brightened by dm.
func photometryOf(t *testing.T, lib *match.Library, tmpl int, dm float64) Photometry {
	t.Helper()

	mag := func(f photometry.Filter) float64 {
		m, err := f.ABMagnitude(lib.Wave, lib.Flux[tmpl])
		if err != nil {
			t.Fatal(err)
		}
		return m - dm
	}

	return Photometry{
		System: "S",
		FluxG:  photometry.MagToNanomaggy(mag(testFilters.G)),
		FluxR:  photometry.MagToNanomaggy(mag(testFilters.R)),
		FluxZ:  photometry.MagToNanomaggy(mag(testFilters.Z)),
	}
}

func testOptions(extra ...Option) []Option {
	return append([]Option{
		WithFilters("S", testFilters),
		WithMatchOptions(match.WithRedshiftRange(1e-4, 1e-4), match.WithSmoothWidth(101)),
	}, extra...)
}

func TestFitNormalizesToRMagnitude(t *testing.T) {
	lib := testLibrary()
	stars := []Star{
		{Fiber: 10, Bands: observe(t, lib, 1, 10, 100), Photometry: photometryOf(t, lib, 1, 0.5)},
	}

	out, err := Fit(context.Background(), stars, lib, testOptions()...)
	if err != nil {
		t.Fatal(err)
	}

	if len(out.Stars) != 1 {
		t.Fatalf("fitted %d stars, want 1", len(out.Stars))
	}
	fs := out.Stars[0]
	if fs.Fiber != 10 || fs.Fit.Template != 1 || fs.Fit.Redshift != 0 {
		t.Fatalf("fiber %d template %d z %g", fs.Fiber, fs.Fit.Template, fs.Fit.Redshift)
	}
	if fs.Teff != lib.Teff[1] {
		t.Fatalf("teff = %g, want %g", fs.Teff, lib.Teff[1])
	}
	if math.Abs(fs.ModelColor-fs.DataColor) > 1e-9 {
		t.Fatalf("model colour %g, data colour %g", fs.ModelColor, fs.DataColor)
	}
	if fs.SNR[frame.CameraB] <= 4 || fs.SNR[frame.CameraZ] != 0 {
		t.Fatalf("SNR = %v", fs.SNR)
	}

	scale := math.Pow(10, 0.5/2.5)
	for i, v := range fs.Flux {
		want := scale * lib.Flux[1][i]
		if math.Abs(v-want) > 1e-9*want {
			t.Fatalf("flux[%d] = %g, want %g", i, v, want)
		}
	}
}

func TestFitAppliesExtinction(t *testing.T) {
	lib := testLibrary()
	p := photometryOf(t, lib, 2, 0)
	p.EBV = 0.05

	out, err := Fit(context.Background(), []Star{{Fiber: 3, Bands: observe(t, lib, 2, 5, 100), Photometry: p}}, lib, testOptions()...)
	if err != nil {
		t.Fatal(err)
	}

	trans := photometry.ODonnell{RV: 3.1}.Transmission(lib.Wave, 0.05)
	fs := out.Stars[0]
	ratio0 := fs.Flux[0] / (lib.Flux[2][0] * trans[0])
	for i := range fs.Flux {
		r := fs.Flux[i] / (lib.Flux[2][i] * trans[i])
		if math.Abs(r-ratio0) > 1e-9*ratio0 {
			t.Fatalf("pixel %d: model/(template·transmission) = %g, want %g", i, r, ratio0)
		}
	}

	// Reddening makes the model redder than the dereddened template.
	if fs.ModelColor <= p.Color(ColorGR, true) {
		t.Fatalf("model colour %g not redder than %g", fs.ModelColor, p.Color(ColorGR, true))
	}
}

func TestFitSkipsStarsWithoutCandidates(t *testing.T) {
	lib := testLibrary()
	odd := photometryOf(t, lib, 1, 0)
	odd.FluxG = 100 * odd.FluxR

	faint := photometryOf(t, lib, 0, 0)

	stars := []Star{
		{Fiber: 1, Bands: observe(t, lib, 1, 10, 100), Photometry: odd},
		{Fiber: 2, Bands: observe(t, lib, 0, 10, 1e-12), Photometry: faint},
		{Fiber: 3, Bands: observe(t, lib, 3, 10, 100), Photometry: photometryOf(t, lib, 3, 0)},
	}

	out, err := Fit(context.Background(), stars, lib, testOptions(WithWorkers(2))...)
	if err != nil {
		t.Fatal(err)
	}

	if got := out.Fibers(); len(got) != 1 || got[0] != 3 {
		t.Fatalf("fitted fibers %v, want [3]", got)
	}

	_, err = Fit(context.Background(), stars[:2], lib, testOptions()...)
	if !errors.Is(err, ErrNoStars) {
		t.Fatalf("err = %v, want ErrNoStars", err)
	}
}

func TestFitErrors(t *testing.T) {
	lib := testLibrary()
	star := Star{Fiber: 1, Bands: observe(t, lib, 1, 10, 100), Photometry: photometryOf(t, lib, 1, 0)}

	if _, err := Fit(context.Background(), nil, lib, testOptions()...); !errors.Is(err, ErrNoStars) {
		t.Fatalf("err = %v, want ErrNoStars", err)
	}

	star.Photometry.System = "N"
	if _, err := Fit(context.Background(), []Star{star}, lib, testOptions()...); !errors.Is(err, ErrNoFilters) {
		t.Fatalf("err = %v, want ErrNoFilters", err)
	}

	if _, err := Fit(context.Background(), []Star{star}, &match.Library{}, testOptions()...); !errors.Is(err, match.ErrEmptyLibrary) {
		t.Fatalf("err = %v, want ErrEmptyLibrary", err)
	}
}

func TestRankKeepsBrightestInInputOrder(t *testing.T) {
	wave := testutil.Grid(4000, 1, 10)
	star := func(fiber int, ivar float64) Star {
		return Star{
			Fiber: fiber,
			Bands: []frame.Band{{
				Camera:   frame.CameraB,
				Spectrum: frame.Spectrum{Wave: wave, Flux: testutil.Ones(10), Ivar: testutil.DC(ivar, 10)},
			}},
			Photometry: Photometry{FluxG: 10, FluxR: 10, FluxZ: 10},
		}
	}

	stars := []Star{star(5, 100), star(6, 400), star(7, 1), star(8, 225)}
	cfg := ApplyOptions(WithMaxStars(2))

	got := rank(cfg, stars)
	if len(got) != 2 || got[0].Fiber != 6 || got[1].Fiber != 8 {
		t.Fatalf("rank = %v", fibers(got))
	}

	stars[1].Photometry.FluxR = 0
	got = rank(ApplyOptions(), stars)
	if len(got) != 2 || got[0].Fiber != 5 || got[1].Fiber != 8 {
		t.Fatalf("rank without unusable star = %v", fibers(got))
	}
}

func fibers(stars []Star) []int {
	out := make([]int, len(stars))
	for i, s := range stars {
		out[i] = s.Fiber
	}
	return out
}

func TestModelColorsHonoursCancellation(t *testing.T) {
	lib := testLibrary()
	cfg := ApplyOptions(testOptions(WithWorkers(2))...)
	stars := []Star{{Fiber: 1, Photometry: photometryOf(t, lib, 0, 0)}}

	colors, err := modelColors(context.Background(), cfg, stars, lib)
	if err != nil {
		t.Fatal(err)
	}
	if len(colors["S"]) != lib.Len() {
		t.Fatalf("got %d colours, want %d", len(colors["S"]), lib.Len())
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := modelColors(ctx, cfg, stars, lib); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

func TestSNR(t *testing.T) {
	wave := testutil.Grid(4000, 1, 5)
	band := frame.Band{
		Camera:   frame.CameraB,
		Spectrum: frame.Spectrum{Wave: wave, Flux: testutil.DC(2, 5), Ivar: testutil.DC(4, 5)},
	}
	s := Star{Bands: []frame.Band{band, band}}

	if got := s.SNR(frame.CameraB); math.Abs(got-math.Sqrt(32)) > 1e-12 {
		t.Fatalf("SNR = %g, want sqrt(32)", got)
	}
	if got := s.SNR(frame.CameraR); got != 0 {
		t.Fatalf("SNR(r) = %g, want 0", got)
	}

	band.Flux = testutil.DC(-1, 5)
	if got := (Star{Bands: []frame.Band{band}}).SNR(frame.CameraB); got != 0 {
		t.Fatalf("negative S/N not clipped: %g", got)
	}
}

func TestGradientAndMedian(t *testing.T) {
	testutil.RequireSliceNearlyEqual(t, gradient([]float64{0, 1, 3, 6}), []float64{1, 1.5, 2.5, 3}, 0)

	if got := median([]float64{3, 1, 2}); got != 2 {
		t.Fatalf("median = %g, want 2", got)
	}
	if got := median([]float64{4, 1, 3, 2}); got != 2 {
		t.Fatalf("median = %g, want lower median 2", got)
	}
}

func TestMaskDip(t *testing.T) {
	band := frame.Band{Spectrum: frame.Spectrum{Wave: testutil.Grid(4290, 10, 25), Ivar: testutil.Ones(25)}}
	out := maskDip([]frame.Band{band}, 4300, 4500)

	for i, w := range band.Wave {
		want := 1.0
		if w >= 4300 && w <= 4500 {
			want = 0
		}
		if out[0].Ivar[i] != want {
			t.Fatalf("ivar at %g = %g, want %g", w, out[0].Ivar[i], want)
		}
	}
	if band.Ivar[1] != 1 {
		t.Fatal("maskDip modified its input")
	}
}

func TestParseColor(t *testing.T) {
	for _, tt := range []struct {
		in   string
		want Color
	}{{"G-R", ColorGR}, {"r-z", ColorRZ}} {
		got, err := ParseColor(tt.in)
		if err != nil || got != tt.want {
			t.Fatalf("ParseColor(%q) = %v, %v", tt.in, got, err)
		}
	}
	if _, err := ParseColor("U-B"); !errors.Is(err, ErrUnknownColor) {
		t.Fatalf("err = %v, want ErrUnknownColor", err)
	}
}

func TestStarsFromFramesAndSolverInput(t *testing.T) {
	const nw = 30
	wave := testutil.Grid(5000, 1, nw)
	mk := func(cam frame.Camera, exp int) *frame.Frame {
		f := &frame.Frame{Camera: cam, Exposure: exp, Wave: wave, FiberIDs: []int{20, 21, 22}}
		for i := range 3 {
			f.Flux = append(f.Flux, testutil.DC(float64(i+1), nw))
			f.Ivar = append(f.Ivar, testutil.Ones(nw))
			f.Mask = append(f.Mask, make([]uint32, nw))
			f.Resolution = append(f.Resolution, resolution.Identity(nw))
		}
		return f
	}
	b0, b1 := mk(frame.CameraB, 0), mk(frame.CameraB, 1)
	b1.Mask[2][3] = 1

	stars := StarsFromFrames([]*frame.Frame{b0, b1}, map[int]Photometry{22: {System: "S"}, 20: {System: "N"}})
	if len(stars) != 2 || stars[0].Fiber != 20 || stars[1].Fiber != 22 {
		t.Fatalf("stars = %v", fibers(stars))
	}
	if len(stars[1].Bands) != 2 || stars[1].Bands[1].Exposure != 1 || stars[1].Bands[1].Ivar[3] != 0 {
		t.Fatal("bands not gathered with masked ivar")
	}

	out := &Output{
		Wave: testutil.Grid(4990, 0.5, 100),
		Stars: []FittedStar{
			{Fiber: 22, Flux: testutil.DC(7, 100)},
			{Fiber: 20, Flux: testutil.DC(9, 100)},
		},
	}

	in, err := out.SolverInput(b1)
	if err != nil {
		t.Fatal(err)
	}
	if len(in.Flux) != 2 || in.Flux[0][0] != 3 || in.Flux[1][0] != 1 {
		t.Fatalf("solver input rows not matched by fiber")
	}
	if in.Ivar[0][3] != 0 {
		t.Fatal("mask not applied to solver ivar")
	}
	testutil.RequireSliceNearlyEqual(t, in.Model[0], testutil.DC(7, nw), 0)
	if err := in.Validate(); err != nil {
		t.Fatal(err)
	}

	out.Stars = append(out.Stars, FittedStar{Fiber: 99, Flux: testutil.Ones(100)})
	if _, err := out.SolverInput(b1); !errors.Is(err, ErrMissingFiber) {
		t.Fatalf("err = %v, want ErrMissingFiber", err)
	}
}
