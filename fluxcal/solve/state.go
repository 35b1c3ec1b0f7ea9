package solve

import (
	"errors"
	"math"

	"github.com/cwbudde/algo-fluxcal/dsp/core"
	"github.com/cwbudde/algo-fluxcal/dsp/linalg"
	"github.com/cwbudde/algo-fluxcal/dsp/smooth"
	"github.com/cwbudde/algo-fluxcal/spectro/resolution"
	"github.com/cwbudde/algo-vecmath"
	"golang.org/x/sync/errgroup"
)

const (
	// chunkFibers is the number of fibers per partial normal matrix.
	// Partials are summed in chunk order, so the result does not depend
	// on the worker count.
	chunkFibers = 8

	ridgeRel      = 1e-12
	ridgeAttempts = 3
)

// state is the mutable working set of one Solve call.
type state struct {
	cfg Config
	in  *Input

	nw, nf int

	rmodel  [][]float64 // R_f·model_f
	ivar    [][]float64 // current ivar, zeroed at clipped pixels
	swModel [][]float64 // sqrt(ivar)·R_f·model_f
	swFlux  [][]float64 // sqrt(ivar)·flux_f
	corr    [][]float64 // smooth correction S_f
	chi2    [][]float64
	outlier [][]bool

	// per-fiber scratch, reused across iterations
	m, ratio, w [][]float64

	partA []*linalg.SymBand
	partB [][]float64

	a      *linalg.SymBand
	b      []float64
	pinned []bool
	chol   *linalg.Cholesky
	ridge  float64
	cal    []float64

	ncoeff int
}

func newState(cfg Config, in *Input) *state {
	nf, nw := len(in.Flux), len(in.Wave)

	st := &state{
		cfg:     cfg,
		in:      in,
		nw:      nw,
		nf:      nf,
		rmodel:  make([][]float64, nf),
		ivar:    make([][]float64, nf),
		swModel: make([][]float64, nf),
		swFlux:  make([][]float64, nf),
		corr:    make([][]float64, nf),
		chi2:    make([][]float64, nf),
		outlier: make([][]bool, nf),
		m:       make([][]float64, nf),
		ratio:   make([][]float64, nf),
		w:       make([][]float64, nf),
		pinned:  make([]bool, nw),
		ncoeff:  splineCoefficients(in.Wave, cfg.SmoothingScale),
	}

	sw := make([]float64, nw)
	for f := range nf {
		st.rmodel[f] = in.Resolution[f].Convolve(in.Model[f])

		st.ivar[f] = make([]float64, nw)
		for i, v := range in.Ivar[f] {
			st.ivar[f][i] = max(v, 0)
			sw[i] = core.SqrtPositive(v)
		}

		st.swModel[f] = make([]float64, nw)
		vecmath.MulBlock(st.swModel[f], sw, st.rmodel[f])
		st.swFlux[f] = make([]float64, nw)
		vecmath.MulBlock(st.swFlux[f], sw, in.Flux[f])

		st.corr[f] = core.Filled(nw, 1)
		st.chi2[f] = make([]float64, nw)
		st.outlier[f] = make([]bool, nw)
	}

	nchunks := (nf + chunkFibers - 1) / chunkFibers
	st.partA = make([]*linalg.SymBand, nchunks)
	st.partB = make([][]float64, nchunks)
	for c := range nchunks {
		st.partA[c] = linalg.NewSymBand(nw, resolution.ProductHalfWidth)
		st.partB[c] = make([]float64, nw)
	}

	return st
}

// accumulate builds A = Σ DᵀD and B = Σ Dᵀ(sqrt(ivar)·flux) with
// D = diag(sqrt(ivar)·R·model)·R.
func (st *state) accumulate() error {
	var g errgroup.Group
	g.SetLimit(st.cfg.Workers)

	for c := range st.partA {
		g.Go(func() error {
			a, b := st.partA[c], st.partB[c]
			a.Reset()
			core.Zero(b)

			for f := c * chunkFibers; f < min(st.nf, (c+1)*chunkFibers); f++ {
				st.accumulateFiber(f, a, b)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}

	st.a, st.b = st.partA[0], st.partB[0]
	for c := 1; c < len(st.partA); c++ {
		st.a.AddBand(st.partA[c])
		vecmath.AddBlockInPlace(st.b, st.partB[c])
	}

	return nil
}

func (st *state) accumulateFiber(f int, a *linalg.SymBand, b []float64) {
	r := st.in.Resolution[f]
	sm, sf := st.swModel[f], st.swFlux[f]

	var buf [resolution.NDiag]float64
	for i := range st.nw {
		s := sm[i]
		if s == 0 {
			continue
		}

		lo, row := r.Row(i, buf[:])
		s2, t := s*s, s*sf[i]

		for p, rp := range row {
			if rp == 0 {
				continue
			}
			b[lo+p] += rp * t
			for q := p; q < len(row); q++ {
				a.Add(lo+p, lo+q, s2*rp*row[q])
			}
		}
	}
}

// solve factorizes A and updates the calibration. Wavelengths without
// any weight are pinned to zero.
func (st *state) solve() error {
	for i := range st.nw {
		st.pinned[i] = st.a.Diag(i) <= 0
		if st.pinned[i] {
			st.a.Set(i, i, 1)
			st.b[i] = 0
		}
	}

	chol, ridge, err := linalg.FactorizeRidge(st.a, ridgeRel, ridgeAttempts)
	if err != nil {
		return err
	}

	cal, err := chol.Solve(st.b)
	if err != nil {
		return err
	}

	st.chol, st.ridge, st.cal = chol, ridge, cal
	return nil
}

// correct fits the per-fiber smooth correction to flux/(R·C·R·model) and
// fills the per-pixel chi2.
//
// A single fiber leaves the fit exactly determined: C absorbs every
// residual and nothing could be clipped. In that case the chi2 is taken
// against the running median of C instead.
func (st *state) correct() error {
	var ref []float64
	if st.nf == 1 {
		ref = make([]float64, st.nw)
		if err := smooth.Median(ref, st.cal, st.cfg.ReferenceWidth); err != nil {
			return err
		}
	}

	var g errgroup.Group
	g.SetLimit(st.cfg.Workers)

	for f := range st.nf {
		g.Go(func() error {
			return st.correctFiber(f, ref)
		})
	}

	return g.Wait()
}

// correctFiber scores the residuals against ref when it is non-nil.
func (st *state) correctFiber(f int, ref []float64) error {
	wave, flux, ivar := st.in.Wave, st.in.Flux[f], st.ivar[f]
	r := st.in.Resolution[f]

	m := core.EnsureLen(st.m[f], st.nw)
	ratio := core.EnsureLen(st.ratio[f], st.nw)
	w := core.EnsureLen(st.w[f], st.nw)
	st.m[f], st.ratio[f], st.w[f] = m, ratio, w

	r.Apply(m, st.cal)
	vecmath.MulBlockInPlace(m, st.rmodel[f])

	for i := range st.nw {
		ratio[i], w[i] = 0, 0
		if m[i] > 0 {
			ratio[i] = flux[i] / m[i]
			w[i] = ivar[i]
		}
	}

	spl, err := smooth.SplineFit(wave, ratio, w, st.cfg.SmoothingScale)
	switch {
	case errors.Is(err, smooth.ErrNoWeight):
		core.Fill(st.corr[f], 1)
	case err != nil:
		return err
	default:
		spl.EvalTo(st.corr[f], wave)
	}

	if ref != nil {
		r.Apply(m, ref)
		vecmath.MulBlockInPlace(m, st.rmodel[f])
	}

	for i := range st.nw {
		d := flux[i] - st.corr[f][i]*m[i]
		st.chi2[f][i] = ivar[i] * d * d
	}

	return nil
}

// reject clips pixels with chi2 above NSigma² and returns how many were
// newly clipped. With worstOnly, at most one fiber per wavelength (the
// largest chi2, lowest index on ties) is clipped.
func (st *state) reject(worstOnly bool) int {
	thr := st.cfg.NSigma * st.cfg.NSigma
	n := 0

	if worstOnly {
		for i := range st.nw {
			worst, val := -1, thr
			for f := range st.nf {
				if st.chi2[f][i] > val {
					worst, val = f, st.chi2[f][i]
				}
			}
			if worst >= 0 {
				st.clip(worst, i)
				n++
			}
		}
		return n
	}

	for f := range st.nf {
		for i, c := range st.chi2[f] {
			if c > thr {
				st.clip(f, i)
				n++
			}
		}
	}

	return n
}

func (st *state) clip(f, i int) {
	st.ivar[f][i] = 0
	st.swModel[f][i] = 0
	st.swFlux[f][i] = 0
	st.outlier[f][i] = true
}

func (st *state) chi2Sum() float64 {
	var sum float64
	for f := range st.nf {
		sum += vecmath.Sum(st.chi2[f])
	}
	return sum
}

// dof is the number of weighted pixels minus the free calibration
// values and the spline coefficients of every fiber.
func (st *state) dof() int {
	npix := 0
	for f := range st.nf {
		for _, v := range st.ivar[f] {
			if v > 0 {
				npix++
			}
		}
	}

	free := 0
	for _, p := range st.pinned {
		if !p {
			free++
		}
	}

	return npix - free - st.nf*st.ncoeff
}

// renormalize divides every correction by the cross-fiber mean and
// moves the mean into the calibration. It returns the mean.
func (st *state) renormalize() []float64 {
	mean := make([]float64, st.nw)
	for f := range st.nf {
		vecmath.AddBlockInPlace(mean, st.corr[f])
	}
	vecmath.ScaleBlockInPlace(mean, 1/float64(st.nf))

	for f := range st.nf {
		core.SafeDivBlock(st.corr[f], st.corr[f], mean)
	}
	vecmath.MulBlockInPlace(st.cal, mean)

	return mean
}

// finish derives the variance and the convolved calibration from the
// last factorization.
func (st *state) finish(res *Result, mean []float64) error {
	cov, err := st.chol.CovarianceBand(resolution.ProductHalfWidth)
	if err != nil {
		return err
	}

	for i := range st.nw {
		for j := i; j <= min(st.nw-1, i+cov.K); j++ {
			v := cov.At(i, j) * mean[i] * mean[j]
			if st.pinned[i] || st.pinned[j] {
				v = 0
			}
			cov.Set(i, j, v)
		}
	}

	res.Calibration = st.cal
	res.Ivar = make([]float64, st.nw)
	res.Mask = make([]bool, st.nw)
	for i := range st.nw {
		v := cov.Diag(i)
		res.Mask[i] = v > 0
		res.Ivar[i] = core.GuardedInverse(v)
	}

	rmean, err := resolution.Mean(st.in.Resolution...)
	if err != nil {
		return err
	}

	res.ConvolvedCalibration = rmean.Convolve(st.cal)
	cvar := rmean.CongruenceDiag(cov)
	res.ConvolvedIvar = make([]float64, st.nw)
	for i, v := range cvar {
		res.ConvolvedIvar[i] = core.GuardedInverse(v)
	}

	res.FiberCorrection = st.corr
	res.Outliers = st.outlier
	res.Ridge = st.ridge

	return nil
}

// splineCoefficients mirrors the knot placement of smooth.SplineFit.
func splineCoefficients(wave []float64, spacing float64) int {
	if len(wave) == 0 {
		return 0
	}
	span := wave[len(wave)-1] - wave[0]
	return max(1, int(math.Ceil(span/spacing))) + 3
}
