package solve

import (
	"errors"
	"fmt"

	"github.com/cwbudde/algo-fluxcal/dsp/interp"
	"github.com/cwbudde/algo-fluxcal/spectro/resolution"
	"go.uber.org/zap"
)

// Solver errors.
var (
	ErrNoStars = errors.New("solve: no standard-star fibers")
	ErrShape   = errors.New("solve: shape mismatch")
)

// Input is the stacked standard-star data of one camera. Model is the
// normalized stellar model of each fiber on Wave, not yet convolved.
// Input is never modified.
type Input struct {
	Wave       []float64
	Flux       [][]float64
	Ivar       [][]float64
	Model      [][]float64
	Resolution []*resolution.Operator
}

// Validate checks that all per-fiber arrays match Wave.
func (in *Input) Validate() error {
	nf := len(in.Flux)
	if nf == 0 {
		return ErrNoStars
	}

	if len(in.Ivar) != nf || len(in.Model) != nf || len(in.Resolution) != nf {
		return fmt.Errorf("%w: flux=%d ivar=%d model=%d resolution=%d fibers",
			ErrShape, nf, len(in.Ivar), len(in.Model), len(in.Resolution))
	}

	n := len(in.Wave)
	for f := range nf {
		if len(in.Flux[f]) != n || len(in.Ivar[f]) != n || len(in.Model[f]) != n {
			return fmt.Errorf("%w: fiber %d does not match %d wavelengths", ErrShape, f, n)
		}
		if in.Resolution[f] == nil || in.Resolution[f].Size() != n {
			return fmt.Errorf("%w: fiber %d resolution operator", ErrShape, f)
		}
	}

	return interp.Validate(in.Wave)
}

// Result is a solved calibration vector with its diagnostics.
type Result struct {
	Wave        []float64
	Calibration []float64
	Ivar        []float64
	// Mask is true where the calibration variance is positive; Ivar is 0
	// wherever Mask is false.
	Mask []bool

	ConvolvedCalibration []float64
	ConvolvedIvar        []float64

	// FiberCorrection is the normalized smooth correction S_f.
	FiberCorrection [][]float64
	// Outliers marks pixels removed by clipping.
	Outliers [][]bool

	Iterations int
	Rejected   int
	Chi2       float64
	DOF        int
	Chi2PerDOF float64
	// Converged is false when the iteration cap ended the loop while
	// pixels were still being clipped.
	Converged bool
	// Ridge is the diagonal regularization needed to factorize the
	// normal matrix, 0 for a well-posed fit.
	Ridge float64
}

// Solver fits calibration vectors. It is immutable and safe for
// concurrent use; each Solve call owns its working state.
type Solver struct {
	cfg Config
}

// New returns a Solver with the given options.
func New(opts ...Option) *Solver {
	return &Solver{cfg: ApplyOptions(opts...)}
}

// Config returns the solver settings.
func (s *Solver) Config() Config {
	return s.cfg
}

// Solve runs the fit-and-clip loop on in.
func (s *Solver) Solve(in *Input) (*Result, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}

	log := s.cfg.Logger
	log.Info("starting calibration fit",
		zap.Int("fibers", len(in.Flux)),
		zap.Int("wavelengths", len(in.Wave)),
	)

	st := newState(s.cfg, in)

	res := &Result{Wave: append([]float64(nil), in.Wave...)}
	var mean []float64

	for iter := range s.cfg.MaxIterations {
		if err := st.accumulate(); err != nil {
			return nil, err
		}
		if err := st.solve(); err != nil {
			return nil, fmt.Errorf("solve: iteration %d: %w", iter, err)
		}
		if err := st.correct(); err != nil {
			return nil, fmt.Errorf("solve: iteration %d: %w", iter, err)
		}

		nout := st.reject(iter == 0)
		res.Rejected += nout

		res.Chi2, res.DOF = st.chi2Sum(), st.dof()
		res.Chi2PerDOF = 0
		if res.DOF > 0 {
			res.Chi2PerDOF = res.Chi2 / float64(res.DOF)
		}

		mean = st.renormalize()
		res.Iterations = iter + 1

		log.Info("calibration iteration",
			zap.Int("iteration", iter),
			zap.Float64("chi2", res.Chi2),
			zap.Int("dof", res.DOF),
			zap.Float64("chi2pdf", res.Chi2PerDOF),
			zap.Int("nout", nout),
			zap.Float64("mean", average(mean)),
		)

		if nout == 0 {
			res.Converged = true
			break
		}
	}

	if !res.Converged {
		log.Warn("calibration fit hit the iteration cap",
			zap.Int("iterations", res.Iterations),
			zap.Int("rejected", res.Rejected),
		)
	}

	if err := st.finish(res, mean); err != nil {
		return nil, err
	}

	log.Info("calibration fit done",
		zap.Int("rejected", res.Rejected),
		zap.Float64("ridge", res.Ridge),
	)

	return res, nil
}

// Solve runs a Solver with the given options.
func Solve(in *Input, opts ...Option) (*Result, error) {
	return New(opts...).Solve(in)
}

func average(x []float64) float64 {
	if len(x) == 0 {
		return 0
	}
	var s float64
	for _, v := range x {
		s += v
	}
	return s / float64(len(x))
}
