package stdstar

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/cwbudde/algo-fluxcal/dsp/interp"
	"github.com/cwbudde/algo-fluxcal/fluxcal/match"
	"github.com/cwbudde/algo-fluxcal/spectro/frame"
	"github.com/cwbudde/algo-fluxcal/spectro/photometry"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Pipeline errors. ErrNoStars is fatal for a calibration run.
var (
	ErrNoStars   = errors.New("stdstar: no usable standard stars")
	ErrNoFilters = errors.New("stdstar: no filters for photometric system")
)

// FittedStar is the normalized model of one standard star.
type FittedStar struct {
	Fiber int
	Fit   match.Result
	// Flux is the redshifted, reddened model scaled to the star's r
	// magnitude, on the library grid.
	Flux []float64

	Teff, Logg, FeH float64

	DataColor  float64
	ModelColor float64
	SNR        [3]float64 // per frame.Camera
}

// Output is the set of fitted standard stars, in input order.
type Output struct {
	Wave  []float64
	Color Color
	Stars []FittedStar
}

// Fit selects, fits and normalizes the standard stars.
func Fit(ctx context.Context, stars []Star, lib *match.Library, opts ...Option) (*Output, error) {
	cfg := ApplyOptions(opts...)
	log := cfg.Logger

	if err := lib.Validate(); err != nil {
		return nil, err
	}

	selected := rank(cfg, stars)
	if len(selected) == 0 {
		return nil, fmt.Errorf("%w: none of %d stars passes S/N > %g in %s", ErrNoStars, len(stars), cfg.MinBlueSNR, cfg.SNRCamera)
	}
	log.Info("selected standard stars",
		zap.Int("candidates", len(stars)),
		zap.Int("selected", len(selected)),
	)

	if cfg.MaskDip {
		log.Warn("masking throughput dip", zap.Float64("min", cfg.DipMin), zap.Float64("max", cfg.DipMax))
	}

	colors, err := modelColors(ctx, cfg, selected, lib)
	if err != nil {
		return nil, err
	}

	matcher := match.New(append([]match.Option{match.WithLogger(log)}, cfg.MatchOptions...)...)

	slots := make([]*FittedStar, len(selected))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(cfg.Workers)

	for k, s := range selected {
		g.Go(func() error {
			fs, err := fitStar(gctx, cfg, matcher, s, lib, colors[s.Photometry.System])
			if errors.Is(err, match.ErrNoTemplates) {
				log.Warn("no template in the colour range, skipping star",
					zap.Int("fiber", s.Fiber),
					zap.String("color", cfg.Color.String()),
					zap.Float64("value", s.Photometry.Color(cfg.Color, true)),
				)
				return nil
			}
			if err != nil {
				return fmt.Errorf("stdstar: fiber %d: %w", s.Fiber, err)
			}
			slots[k] = fs
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := &Output{Wave: lib.Wave, Color: cfg.Color}
	for _, fs := range slots {
		if fs != nil {
			out.Stars = append(out.Stars, *fs)
		}
	}

	if len(out.Stars) == 0 {
		return nil, fmt.Errorf("%w: no star has been fit", ErrNoStars)
	}

	return out, nil
}

// rank keeps usable stars, orders them by S/N in the ranking camera and
// returns at most MaxStars above MinBlueSNR.
func rank(cfg Config, stars []Star) []Star {
	type scored struct {
		idx int
		snr float64
	}

	var cand []scored
	for i, s := range stars {
		if !s.Photometry.Usable() {
			cfg.Logger.Debug("dropping star with out-of-range photometry", zap.Int("fiber", s.Fiber))
			continue
		}
		cand = append(cand, scored{idx: i, snr: s.SNR(cfg.SNRCamera)})
	}

	sort.SliceStable(cand, func(a, b int) bool { return cand[a].snr > cand[b].snr })
	if len(cand) > cfg.MaxStars {
		cand = cand[:cfg.MaxStars]
	}

	var keep []int
	for _, c := range cand {
		if c.snr > cfg.MinBlueSNR {
			keep = append(keep, c.idx)
		}
	}
	sort.Ints(keep)

	out := make([]Star, len(keep))
	for k, i := range keep {
		out[k] = stars[i]
	}
	return out
}

// modelColors computes the colour of every template in each photometric
// system used by the selected stars.
func modelColors(ctx context.Context, cfg Config, stars []Star, lib *match.Library) (map[string][]float64, error) {
	systems := make(map[string]FilterSet)
	for _, s := range stars {
		fs, ok := cfg.Filters[s.Photometry.System]
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrNoFilters, s.Photometry.System)
		}
		systems[s.Photometry.System] = fs
	}

	out := make(map[string][]float64, len(systems))
	for sys, fs := range systems {
		blue, red := cfg.Color.filters(fs)
		colors := make([]float64, lib.Len())

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(cfg.Workers)
		for t := range lib.Len() {
			g.Go(func() error {
				if err := gctx.Err(); err != nil {
					return err
				}
				c, err := color(blue, red, lib.Wave, lib.Flux[t])
				if err != nil {
					return fmt.Errorf("stdstar: template %d: %w", t, err)
				}
				colors[t] = c
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}

		out[sys] = colors
		cfg.Logger.Debug("computed model colours", zap.String("system", sys), zap.Int("templates", len(colors)))
	}

	return out, nil
}

func color(blue, red photometry.Filter, wave, flux []float64) (float64, error) {
	m1, err := blue.ABMagnitude(wave, flux)
	if err != nil {
		return 0, err
	}
	m2, err := red.ABMagnitude(wave, flux)
	if err != nil {
		return 0, err
	}
	return m1 - m2, nil
}

// preselect returns the templates inside the teff/logg/feh box spanned by
// those whose colour is within DeltaColor of the star's.
func preselect(cfg Config, s Star, lib *match.Library, colors []float64) []int {
	target := s.Photometry.Color(cfg.Color, true)

	var near []int
	for t, c := range colors {
		if math.Abs(c-target) < cfg.DeltaColor {
			near = append(near, t)
		}
	}
	if len(near) == 0 {
		return nil
	}

	return lib.Within(lib.BoundingBox(near))
}

func fitStar(ctx context.Context, cfg Config, m *match.Matcher, s Star, lib *match.Library, colors []float64) (*FittedStar, error) {
	subset := preselect(cfg, s, lib, colors)
	if len(subset) == 0 {
		return nil, match.ErrNoTemplates
	}

	bands := s.Bands
	if cfg.MaskDip {
		bands = maskDip(bands, cfg.DipMin, cfg.DipMax)
	}

	res, err := m.MatchContext(ctx, bands, lib, subset)
	if err != nil {
		return nil, err
	}

	model, err := res.Shifted(lib, lib.Wave, interp.ModeLinear)
	if err != nil {
		return nil, err
	}

	if cfg.Extinction != nil && s.Photometry.EBV != 0 {
		trans := cfg.Extinction.Transmission(lib.Wave, s.Photometry.EBV)
		for i := range model {
			model[i] *= trans[i]
		}
	}

	fs := cfg.Filters[s.Photometry.System]
	blue, red := cfg.Color.filters(fs)
	m1, err := blue.ABMagnitude(lib.Wave, model)
	if err != nil {
		return nil, err
	}
	m2, err := red.ABMagnitude(lib.Wave, model)
	if err != nil {
		return nil, err
	}

	magR := m1
	if cfg.Color == ColorGR {
		magR = m2
	}

	scale := photometry.ScaleToMagnitude(magR, s.Photometry.MagR())
	for i := range model {
		model[i] *= scale
	}

	teff, logg, feh := res.Params(lib)
	out := &FittedStar{
		Fiber:      s.Fiber,
		Fit:        res,
		Flux:       model,
		Teff:       teff,
		Logg:       logg,
		FeH:        feh,
		DataColor:  s.Photometry.Color(cfg.Color, false),
		ModelColor: m1 - m2,
	}
	for _, cam := range frame.Cameras {
		out.SNR[cam] = s.SNR(cam)
	}

	cfg.Logger.Info("fitted standard star",
		zap.Int("fiber", s.Fiber),
		zap.Float64("teff", teff),
		zap.Float64("logg", logg),
		zap.Float64("feh", feh),
		zap.Float64("z", res.Redshift),
		zap.Float64("chi2pdf", res.Chi2PerDOF),
		zap.Int("candidates", len(subset)),
		zap.Float64("scale", scale),
	)

	return out, nil
}
