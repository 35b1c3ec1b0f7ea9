package solve

import (
	"errors"
	"math"
	"testing"

	"github.com/cwbudde/algo-fluxcal/internal/testutil"
	"github.com/cwbudde/algo-fluxcal/spectro/resolution"
)

// synthetic builds nf fibers observing flux = (R·cal)·(R·model) + noise
// with ivar = 1/sigma².
func synthetic(nf int, wave, cal, model []float64, r func() *resolution.Operator, sigma float64) *Input {
	nw := len(wave)
	in := &Input{Wave: wave}

	for f := range nf {
		op := r()
		rc := op.Convolve(cal)
		rm := op.Convolve(model)

		flux := make([]float64, nw)
		ivar := make([]float64, nw)
		var noise []float64
		if sigma > 0 {
			noise = testutil.GaussianNoise(int64(100+f), sigma, nw)
		}
		for i := range nw {
			flux[i] = rc[i] * rm[i]
			if noise != nil {
				flux[i] += noise[i]
				ivar[i] = 1 / (sigma * sigma)
			} else {
				ivar[i] = 1
			}
		}

		in.Flux = append(in.Flux, flux)
		in.Ivar = append(in.Ivar, ivar)
		in.Model = append(in.Model, append([]float64(nil), model...))
		in.Resolution = append(in.Resolution, op)
	}

	return in
}

func requireIvarMaskInvariant(t *testing.T, res *Result) {
	t.Helper()
	testutil.RequireNonNegative(t, res.Ivar)
	for i, ok := range res.Mask {
		if !ok && res.Ivar[i] != 0 {
			t.Fatalf("ivar[%d] = %g on masked pixel", i, res.Ivar[i])
		}
		if ok && !(res.Ivar[i] > 0) {
			t.Fatalf("ivar[%d] = %g on unmasked pixel", i, res.Ivar[i])
		}
	}
}

func TestSolveConstantCalibration(t *testing.T) {
	for _, tt := range []struct {
		name string
		r    func(n int) *resolution.Operator
	}{
		{name: "identity", r: resolution.Identity},
		{name: "gaussian", r: func(n int) *resolution.Operator { return resolution.Gaussian(n, 1) }},
	} {
		t.Run(tt.name, func(t *testing.T) {
			wave := testutil.Grid(5000, 1, 120)
			in := synthetic(2, wave, testutil.DC(2, 120), testutil.Ones(120), func() *resolution.Operator { return tt.r(120) }, 0)

			res, err := Solve(in)
			if err != nil {
				t.Fatal(err)
			}

			if res.Iterations != 1 || res.Rejected != 0 || !res.Converged {
				t.Fatalf("iterations=%d rejected=%d converged=%v", res.Iterations, res.Rejected, res.Converged)
			}
			if res.Chi2 > 1e-12 {
				t.Fatalf("chi2 = %g, want ~0", res.Chi2)
			}
			testutil.RequireSliceNearlyEqual(t, res.Calibration, testutil.DC(2, 120), 1e-6)
			requireIvarMaskInvariant(t, res)
			if res.Ridge != 0 {
				t.Fatalf("ridge = %g, want 0", res.Ridge)
			}
		})
	}
}

func TestSolveRejectsSingleOutlier(t *testing.T) {
	const nw = 101
	wave := testutil.Grid(5000, 1, nw)
	in := synthetic(3, wave, testutil.Ones(nw), testutil.Ones(nw), func() *resolution.Operator { return resolution.Identity(nw) }, 0)
	in.Flux[1][50] = 1000

	res, err := Solve(in)
	if err != nil {
		t.Fatal(err)
	}

	if res.Rejected != 1 || res.Iterations != 2 || !res.Converged {
		t.Fatalf("rejected=%d iterations=%d converged=%v", res.Rejected, res.Iterations, res.Converged)
	}
	for f := range res.Outliers {
		for i, out := range res.Outliers[f] {
			if out != (f == 1 && i == 50) {
				t.Fatalf("outlier[%d][%d] = %v", f, i, out)
			}
		}
	}

	testutil.RequireSliceNearlyEqual(t, res.Calibration, testutil.Ones(nw), 1e-9)
	if math.Abs(res.Ivar[50]-2) > 1e-9 {
		t.Fatalf("ivar at clipped column = %g, want 2 (two fibers left)", res.Ivar[50])
	}
	if res.DOF != 3*nw-1-nw-3*4 {
		t.Fatalf("dof = %d", res.DOF)
	}

	// Input is never modified.
	if in.Flux[1][50] != 1000 || in.Ivar[1][50] != 1 {
		t.Fatal("Solve modified its input")
	}
}

func TestSolveSingleFiberRejectsAgainstMedian(t *testing.T) {
	const nw = 101
	wave := testutil.Grid(5000, 1, nw)
	identity := func() *resolution.Operator { return resolution.Identity(nw) }

	t.Run("clean", func(t *testing.T) {
		in := synthetic(1, wave, testutil.DC(2, nw), testutil.Ones(nw), identity, 0)

		res, err := Solve(in)
		if err != nil {
			t.Fatal(err)
		}
		if res.Rejected != 0 || res.Iterations != 1 {
			t.Fatalf("rejected=%d iterations=%d", res.Rejected, res.Iterations)
		}
		testutil.RequireSliceNearlyEqual(t, res.Calibration, testutil.DC(2, nw), 1e-9)
	})

	t.Run("outlier", func(t *testing.T) {
		in := synthetic(1, wave, testutil.Ones(nw), testutil.Ones(nw), identity, 0)
		in.Flux[0][50] = 1000

		res, err := Solve(in)
		if err != nil {
			t.Fatal(err)
		}
		if res.Rejected != 1 || res.Iterations != 2 || !res.Converged {
			t.Fatalf("rejected=%d iterations=%d converged=%v", res.Rejected, res.Iterations, res.Converged)
		}
		for i, out := range res.Outliers[0] {
			if out != (i == 50) {
				t.Fatalf("outlier[0][%d] = %v", i, out)
			}
		}

		// The clipped pixel has no data left and is pinned; every other
		// pixel keeps its clean value.
		if res.Mask[50] || res.Calibration[50] != 0 || res.Ivar[50] != 0 {
			t.Fatalf("pixel 50: mask=%v cal=%g ivar=%g", res.Mask[50], res.Calibration[50], res.Ivar[50])
		}
		for i := range nw {
			if i == 50 {
				continue
			}
			if math.Abs(res.Calibration[i]-1) > 1e-9 || !res.Mask[i] {
				t.Fatalf("pixel %d: cal=%g mask=%v", i, res.Calibration[i], res.Mask[i])
			}
		}
		requireIvarMaskInvariant(t, res)
	})
}

func TestSolvePinsUncoveredWavelengths(t *testing.T) {
	const nw = 80
	wave := testutil.Grid(6000, 1, nw)
	in := synthetic(2, wave, testutil.DC(2, nw), testutil.Ones(nw), func() *resolution.Operator { return resolution.Identity(nw) }, 0)
	for f := range in.Ivar {
		for i := 40; i < 45; i++ {
			in.Ivar[f][i] = 0
		}
	}

	res, err := Solve(in)
	if err != nil {
		t.Fatal(err)
	}

	requireIvarMaskInvariant(t, res)
	for i := range nw {
		uncovered := i >= 40 && i < 45
		if res.Mask[i] == uncovered {
			t.Fatalf("mask[%d] = %v", i, res.Mask[i])
		}
		if uncovered && res.Calibration[i] != 0 {
			t.Fatalf("calibration[%d] = %g on uncovered pixel", i, res.Calibration[i])
		}
		if !uncovered && math.Abs(res.Calibration[i]-2) > 1e-9 {
			t.Fatalf("calibration[%d] = %g, want 2", i, res.Calibration[i])
		}
	}
}

func TestSolveIdentityConvolvedMatchesNative(t *testing.T) {
	const nw = 60
	wave := testutil.Grid(7000, 1, nw)
	cal := testutil.StellarSpectrum(wave, 3, 1)
	in := synthetic(4, wave, cal, testutil.Ones(nw), func() *resolution.Operator { return resolution.Identity(nw) }, 0.01)

	res, err := Solve(in)
	if err != nil {
		t.Fatal(err)
	}

	testutil.RequireSliceNearlyEqual(t, res.ConvolvedCalibration, res.Calibration, 0)
	testutil.RequireSliceNearlyEqual(t, res.ConvolvedIvar, res.Ivar, 1e-12*res.Ivar[0])
}

func TestSolveNoisyRecoversCalibration(t *testing.T) {
	const nw = 600
	wave := testutil.Grid(5800, 0.8, nw)
	cal := make([]float64, nw)
	for i, w := range wave {
		cal[i] = 2 + 0.5*math.Sin((w-5800)/60)
	}
	model := testutil.StellarSpectrum(wave, 1, -1, testutil.MetalLines(0.4, 2)...)
	in := synthetic(10, wave, cal, model, func() *resolution.Operator { return resolution.Gaussian(nw, 1.0) }, 0.01)

	res, err := Solve(in)
	if err != nil {
		t.Fatal(err)
	}

	requireIvarMaskInvariant(t, res)
	testutil.RequireFinite(t, res.Calibration)

	within := 0
	for i := range nw {
		pull := (res.Calibration[i] - cal[i]) * math.Sqrt(res.Ivar[i])
		if math.Abs(pull) < 4 {
			within++
		}
	}
	if frac := float64(within) / nw; frac < 0.99 {
		t.Fatalf("only %.3f of pixels within 4 sigma", frac)
	}
	if res.Chi2PerDOF < 0.7 || res.Chi2PerDOF > 1.3 {
		t.Fatalf("chi2/dof = %g", res.Chi2PerDOF)
	}
}

func TestSolveDeterministicAcrossWorkers(t *testing.T) {
	const nw = 200
	wave := testutil.Grid(5000, 1, nw)
	model := testutil.StellarSpectrum(wave, 1, 0, testutil.BalmerLines(0.3, 2)...)
	in := synthetic(19, wave, testutil.DC(1.5, nw), model, func() *resolution.Operator { return resolution.Gaussian(nw, 1.2) }, 0.02)

	ref, err := Solve(in, WithWorkers(1))
	if err != nil {
		t.Fatal(err)
	}

	for _, w := range []int{2, 7} {
		got, err := Solve(in, WithWorkers(w))
		if err != nil {
			t.Fatal(err)
		}
		testutil.RequireSliceNearlyEqual(t, got.Calibration, ref.Calibration, 0)
		testutil.RequireSliceNearlyEqual(t, got.Ivar, ref.Ivar, 0)
		if got.Rejected != ref.Rejected || got.Iterations != ref.Iterations {
			t.Fatalf("workers=%d: rejected %d/%d iterations %d/%d", w, got.Rejected, ref.Rejected, got.Iterations, ref.Iterations)
		}
	}
}

func TestRejectIsIdempotentOnStableMask(t *testing.T) {
	const nw = 101
	wave := testutil.Grid(5000, 1, nw)
	in := synthetic(3, wave, testutil.Ones(nw), testutil.Ones(nw), func() *resolution.Operator { return resolution.Identity(nw) }, 0)
	in.Flux[2][10] = 500

	st := newState(ApplyOptions(), in)
	for iter := range 10 {
		if err := st.accumulate(); err != nil {
			t.Fatal(err)
		}
		if err := st.solve(); err != nil {
			t.Fatal(err)
		}
		if err := st.correct(); err != nil {
			t.Fatal(err)
		}
		if st.reject(iter == 0) == 0 {
			break
		}
	}

	ivar := snapshot(st.ivar)
	swModel := snapshot(st.swModel)
	swFlux := snapshot(st.swFlux)

	if n := st.reject(false); n != 0 {
		t.Fatalf("stable mask clipped %d pixels", n)
	}
	if n := st.reject(true); n != 0 {
		t.Fatalf("stable mask clipped %d pixels in worst-only mode", n)
	}

	for f := range st.nf {
		testutil.RequireSliceNearlyEqual(t, st.ivar[f], ivar[f], 0)
		testutil.RequireSliceNearlyEqual(t, st.swModel[f], swModel[f], 0)
		testutil.RequireSliceNearlyEqual(t, st.swFlux[f], swFlux[f], 0)
	}
}

func snapshot(x [][]float64) [][]float64 {
	out := make([][]float64, len(x))
	for i, r := range x {
		out[i] = append([]float64(nil), r...)
	}
	return out
}

func TestRejectWorstOnlyPerColumn(t *testing.T) {
	in := synthetic(3, testutil.Grid(5000, 1, 4), testutil.Ones(4), testutil.Ones(4), func() *resolution.Operator { return resolution.Identity(4) }, 0)
	st := newState(ApplyOptions(WithNSigma(2)), in)

	st.chi2[0] = []float64{5, 100, 0, 9}
	st.chi2[1] = []float64{6, 50, 0, 9}
	st.chi2[2] = []float64{1, 200, 3, 1}

	if n := st.reject(true); n != 3 {
		t.Fatalf("clipped %d, want 3", n)
	}

	want := [][]bool{
		{false, false, false, true},
		{true, false, false, false},
		{false, true, false, false},
	}
	for f := range want {
		for i := range want[f] {
			if st.outlier[f][i] != want[f][i] {
				t.Fatalf("outlier[%d][%d] = %v, want %v", f, i, st.outlier[f][i], want[f][i])
			}
		}
	}
}

func TestSolveErrors(t *testing.T) {
	if _, err := Solve(&Input{Wave: testutil.Grid(0, 1, 5)}); !errors.Is(err, ErrNoStars) {
		t.Fatalf("err = %v, want ErrNoStars", err)
	}

	in := synthetic(2, testutil.Grid(5000, 1, 10), testutil.Ones(10), testutil.Ones(10), func() *resolution.Operator { return resolution.Identity(10) }, 0)
	in.Model = in.Model[:1]
	if _, err := Solve(in); !errors.Is(err, ErrShape) {
		t.Fatalf("err = %v, want ErrShape", err)
	}

	in = synthetic(1, testutil.Grid(5000, 1, 10), testutil.Ones(10), testutil.Ones(10), func() *resolution.Operator { return resolution.Identity(10) }, 0)
	in.Resolution[0] = resolution.Identity(9)
	if _, err := Solve(in); !errors.Is(err, ErrShape) {
		t.Fatalf("err = %v, want ErrShape", err)
	}
}

func TestSplineCoefficients(t *testing.T) {
	if got := splineCoefficients(testutil.Grid(3600, 1, 2400), 1000); got != 3+3 {
		t.Fatalf("coefficients = %d, want 6", got)
	}
	if got := splineCoefficients(testutil.Grid(5000, 1, 10), 1000); got != 4 {
		t.Fatalf("coefficients = %d, want 4", got)
	}
}

func BenchmarkSolve(b *testing.B) {
	const nw = 500
	wave := testutil.Grid(5000, 1, nw)
	model := testutil.StellarSpectrum(wave, 1, 0, testutil.BalmerLines(0.3, 2)...)
	in := synthetic(20, wave, testutil.DC(1.5, nw), model, func() *resolution.Operator { return resolution.Gaussian(nw, 1.2) }, 0.02)

	for b.Loop() {
		_, _ = Solve(in)
	}
}
