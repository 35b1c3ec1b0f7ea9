package match

import (
	"runtime"

	"github.com/cwbudde/algo-fluxcal/dsp/interp"
	"github.com/cwbudde/algo-fluxcal/dsp/smooth"
	"go.uber.org/zap"
)

// DOFFunc returns the degrees of freedom for npix weighted pixels and
// nparams fitted parameters.
type DOFFunc func(npix, nparams int) int

// DefaultDOF is npix - nparams.
func DefaultDOF(npix, nparams int) int {
	return npix - nparams
}

// Config holds the matcher settings.
type Config struct {
	ZMax          float64
	ZRes          float64
	TemplateError float64
	SmoothWidth   int
	Smoothing     smooth.Kind
	Interpolation interp.Mode
	Blend         bool
	Workers       int
	DOF           DOFFunc
	Logger        *zap.Logger
}

// Option mutates a Config.
type Option func(*Config)

// DefaultConfig returns the settings used for standard stars.
func DefaultConfig() Config {
	return Config{
		ZMax:          0.008,
		ZRes:          2e-5,
		TemplateError: 0.1,
		SmoothWidth:   200,
		Smoothing:     smooth.KindMedian,
		Interpolation: interp.ModeLinear,
		Workers:       runtime.GOMAXPROCS(0),
		DOF:           DefaultDOF,
		Logger:        zap.NewNop(),
	}
}

// WithRedshiftRange sets the search range [-zmax, zmax] and step zres.
// zmax = 0 searches only z = 0.
func WithRedshiftRange(zmax, zres float64) Option {
	return func(cfg *Config) {
		if zmax >= 0 && zres > 0 {
			cfg.ZMax = zmax
			cfg.ZRes = zres
		}
	}
}

// WithTemplateError sets the fractional model error added in quadrature.
func WithTemplateError(frac float64) Option {
	return func(cfg *Config) {
		if frac >= 0 {
			cfg.TemplateError = frac
		}
	}
}

// WithSmoothWidth sets the normalization window in pixels.
func WithSmoothWidth(width int) Option {
	return func(cfg *Config) {
		if width > 0 {
			cfg.SmoothWidth = width
		}
	}
}

// WithSmoothing selects the normalization filter.
func WithSmoothing(kind smooth.Kind) Option {
	return func(cfg *Config) {
		cfg.Smoothing = kind
	}
}

// WithInterpolation selects how templates are resampled.
func WithInterpolation(mode interp.Mode) Option {
	return func(cfg *Config) {
		cfg.Interpolation = mode
	}
}

// WithBlend enables the non-negative template combination.
func WithBlend(enabled bool) Option {
	return func(cfg *Config) {
		cfg.Blend = enabled
	}
}

// WithWorkers bounds the number of templates evaluated concurrently.
func WithWorkers(n int) Option {
	return func(cfg *Config) {
		if n > 0 {
			cfg.Workers = n
		}
	}
}

// WithDOF overrides the degrees-of-freedom formula.
func WithDOF(fn DOFFunc) Option {
	return func(cfg *Config) {
		if fn != nil {
			cfg.DOF = fn
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(cfg *Config) {
		if l != nil {
			cfg.Logger = l
		}
	}
}

// ApplyOptions applies zero or more options to the default config.
func ApplyOptions(opts ...Option) Config {
	cfg := DefaultConfig()

	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}

	return cfg
}
