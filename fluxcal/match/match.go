package match

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/cwbudde/algo-fluxcal/dsp/core"
	"github.com/cwbudde/algo-fluxcal/dsp/interp"
	"github.com/cwbudde/algo-fluxcal/dsp/smooth"
	"github.com/cwbudde/algo-fluxcal/spectro/frame"
	"github.com/cwbudde/algo-fluxcal/spectro/resolution"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Matcher errors.
var (
	ErrNoTemplates   = errors.New("match: no candidate templates")
	ErrNoBands       = errors.New("match: no bands")
	ErrTemplateIndex = errors.New("match: template index out of range")
)

// Result is the best fit of one star.
type Result struct {
	// Coefficients has one entry per library template; only candidates
	// can be non-zero and the non-zero entries sum to 1.
	Coefficients []float64
	// Template is the best single template.
	Template   int
	Redshift   float64
	Chi2       float64
	NPix       int
	DOF        int
	Chi2PerDOF float64
	// Degenerate is set when DOF <= 0; Chi2PerDOF is then 0.
	Degenerate bool
}

// NParams returns the number of non-zero coefficients plus one for the
// redshift.
func (r Result) NParams() int {
	n := 1
	for _, c := range r.Coefficients {
		if c != 0 {
			n++
		}
	}
	return n
}

// Model returns the fitted combination on the library's rest-frame grid.
func (r Result) Model(lib *Library) []float64 {
	out := make([]float64, len(lib.Wave))
	for i, c := range r.Coefficients {
		if c == 0 {
			continue
		}
		for j, v := range lib.Flux[i] {
			out[j] += c * v
		}
	}
	return out
}

// Shifted returns the fitted combination redshifted by Redshift and
// resampled onto wave.
func (r Result) Shifted(lib *Library, wave []float64, mode interp.Mode) ([]float64, error) {
	rest := make([]float64, len(wave))
	for i, w := range wave {
		rest[i] = w / (1 + r.Redshift)
	}

	out := make([]float64, len(wave))
	if err := interp.Resample(out, rest, lib.Wave, r.Model(lib), mode, 0, 0); err != nil {
		return nil, err
	}
	return out, nil
}

// Params returns the coefficient-weighted stellar parameters.
func (r Result) Params(lib *Library) (teff, logg, feh float64) {
	for i, c := range r.Coefficients {
		teff += c * lib.Teff[i]
		logg += c * lib.Logg[i]
		feh += c * lib.FeH[i]
	}
	return teff, logg, feh
}

// Matcher fits stars against a template library. A Matcher is immutable
// and safe for concurrent use.
type Matcher struct {
	cfg Config
}

// New returns a Matcher with the given options.
func New(opts ...Option) *Matcher {
	return &Matcher{cfg: ApplyOptions(opts...)}
}

// Config returns the matcher settings.
func (m *Matcher) Config() Config {
	return m.cfg
}

// Match is MatchContext with a background context.
func (m *Matcher) Match(bands []frame.Band, lib *Library, subset []int) (Result, error) {
	return m.MatchContext(context.Background(), bands, lib, subset)
}

// MatchContext searches subset × redshift grid for the best fit to the
// star observed in bands. Cancelling ctx aborts the search.
func (m *Matcher) MatchContext(ctx context.Context, bands []frame.Band, lib *Library, subset []int) (Result, error) {
	if len(subset) == 0 {
		return Result{}, ErrNoTemplates
	}
	if len(bands) == 0 {
		return Result{}, ErrNoBands
	}
	for _, t := range subset {
		if t < 0 || t >= lib.Len() {
			return Result{}, fmt.Errorf("%w: %d (library has %d)", ErrTemplateIndex, t, lib.Len())
		}
	}

	prepared := make([]band, len(bands))
	for i, b := range bands {
		p, err := m.prepare(b)
		if err != nil {
			return Result{}, fmt.Errorf("match: band %d (%s): %w", i, b.Camera, err)
		}
		prepared[i] = p
	}

	zs := m.redshifts()
	best := make([]candidate, len(subset))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.cfg.Workers)

	for k, t := range subset {
		g.Go(func() error {
			sc := newScratch(prepared)

			var c candidate
			for i, z := range zs {
				if err := gctx.Err(); err != nil {
					return err
				}

				chi2, npix, err := m.evaluate(prepared, lib, t, z, sc)
				if err != nil {
					return err
				}

				cand := candidate{template: t, z: z, chi2: chi2, npix: npix}
				if i == 0 || cand.better(c) {
					c = cand
				}
			}

			best[k] = c
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return Result{}, err
	}

	winner := best[0]
	for _, c := range best[1:] {
		if c.better(winner) {
			winner = c
		}
	}

	res := Result{
		Coefficients: make([]float64, lib.Len()),
		Template:     winner.template,
		Redshift:     winner.z,
		Chi2:         winner.chi2,
		NPix:         winner.npix,
	}
	res.Coefficients[winner.template] = 1

	if m.cfg.Blend && len(subset) > 1 {
		coeffs, chi2, npix, err := m.blend(prepared, lib, subset, winner)
		if err != nil {
			return Result{}, err
		}
		if coeffs != nil && chi2 < res.Chi2 {
			res.Coefficients = coeffs
			res.Chi2 = chi2
			res.NPix = npix
		}
	}

	res.DOF = m.cfg.DOF(res.NPix, res.NParams())
	if res.DOF > 0 {
		res.Chi2PerDOF = res.Chi2 / float64(res.DOF)
	} else {
		res.Degenerate = true
	}

	m.cfg.Logger.Debug("template fit",
		zap.Int("template", res.Template),
		zap.Float64("z", res.Redshift),
		zap.Float64("chi2", res.Chi2),
		zap.Int("dof", res.DOF),
		zap.Int("candidates", len(subset)),
		zap.Int("redshifts", len(zs)),
	)

	return res, nil
}

// redshifts returns k·ZRes for k = -n..n with n = round(ZMax/ZRes).
func (m *Matcher) redshifts() []float64 {
	n := int(math.Round(m.cfg.ZMax / m.cfg.ZRes))
	zs := make([]float64, 0, 2*n+1)
	for k := -n; k <= n; k++ {
		zs = append(zs, float64(k)*m.cfg.ZRes)
	}
	return zs
}

// candidate is one evaluated grid point.
type candidate struct {
	template int
	z        float64
	chi2     float64
	npix     int
}

// better orders candidates by chi2, template index, |z|, then z.
func (c candidate) better(o candidate) bool {
	if c.chi2 != o.chi2 {
		return c.chi2 < o.chi2
	}
	if c.template != o.template {
		return c.template < o.template
	}
	if az, bz := math.Abs(c.z), math.Abs(o.z); az != bz {
		return az < bz
	}
	return c.z < o.z
}

// band is a normalized observation.
type band struct {
	wave  []float64
	r     *resolution.Operator
	dnorm []float64
	divar []float64
}

// prepare divides the data by its smoothed continuum and scales the
// inverse variance accordingly. Pixels with a non-positive continuum
// get zero weight.
func (m *Matcher) prepare(b frame.Band) (band, error) {
	if err := b.Validate(); err != nil {
		return band{}, err
	}

	n := len(b.Wave)
	s := make([]float64, n)
	if err := smooth.Filter(m.cfg.Smoothing, s, b.Flux, m.cfg.SmoothWidth); err != nil {
		return band{}, err
	}

	p := band{
		wave:  b.Wave,
		r:     b.Resolution,
		dnorm: make([]float64, n),
		divar: make([]float64, n),
	}

	core.SafeDivBlock(p.dnorm, b.Flux, s)
	for i := range n {
		if s[i] > 0 {
			p.divar[i] = b.Ivar[i] * s[i] * s[i]
		}
	}

	return p, nil
}

// scratch holds one worker's buffers. raw, conv and smoothed grow to the
// widest band on first use.
type scratch struct {
	raw, conv, smoothed []float64
	norm                [][]float64
}

func newScratch(bands []band) *scratch {
	sc := &scratch{norm: make([][]float64, len(bands))}
	for i, b := range bands {
		sc.norm[i] = make([]float64, len(b.wave))
	}
	return sc
}

// model writes the normalized, resolution-convolved template t at
// redshift z for band b into norm, leaving the un-normalized model in
// sc.conv.
func (m *Matcher) model(b band, lib *Library, t int, z float64, sc *scratch, norm []float64) error {
	n := len(b.wave)
	sc.raw = core.EnsureLen(sc.raw, n)
	sc.conv = core.EnsureLen(sc.conv, n)
	sc.smoothed = core.EnsureLen(sc.smoothed, n)
	raw, conv := sc.raw, sc.conv

	if err := lib.Shifted(raw, b.wave, t, z, m.cfg.Interpolation); err != nil {
		return err
	}

	if b.r != nil {
		b.r.Apply(conv, raw)
	} else {
		copy(conv, raw)
	}

	return m.normalize(norm, conv, sc.smoothed)
}

func (m *Matcher) normalize(dst, src, smoothed []float64) error {
	if err := smooth.Filter(m.cfg.Smoothing, smoothed, src, m.cfg.SmoothWidth); err != nil {
		return err
	}
	core.SafeDivBlock(dst, src, smoothed)
	return nil
}

func (m *Matcher) evaluate(bands []band, lib *Library, t int, z float64, sc *scratch) (float64, int, error) {
	var chi2 float64
	npix := 0

	for i, b := range bands {
		if err := m.model(b, lib, t, z, sc, sc.norm[i]); err != nil {
			return 0, 0, err
		}

		c, n := m.chi2(b, sc.norm[i])
		chi2 += c
		npix += n
	}

	if math.IsNaN(chi2) {
		chi2 = math.Inf(1)
	}

	return chi2, npix, nil
}

// weight is the inverse variance of one normalized pixel including the
// template error term.
func (m *Matcher) weight(divar, mnorm float64) float64 {
	if divar <= 0 {
		return 0
	}
	te := m.cfg.TemplateError * mnorm
	return 1 / (1/divar + te*te)
}

func (m *Matcher) chi2(b band, mnorm []float64) (float64, int) {
	var chi2 float64
	npix := 0

	for i, mv := range mnorm {
		w := m.weight(b.divar[i], mv)
		if w <= 0 {
			continue
		}
		d := mv - b.dnorm[i]
		chi2 += w * d * d
		npix++
	}

	return chi2, npix
}
