package solve

import (
	"runtime"

	"go.uber.org/zap"
)

// Config holds the solver settings.
type Config struct {
	NSigma         float64
	MaxIterations  int
	SmoothingScale float64 // Å between spline knots
	// ReferenceWidth is the running-median width, in pixels, of the
	// calibration that single-fiber residuals are scored against.
	ReferenceWidth int
	Workers        int
	Logger         *zap.Logger
}

// Option mutates a Config.
type Option func(*Config)

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		NSigma:         4,
		MaxIterations:  20,
		SmoothingScale: 1000,
		ReferenceWidth: 11,
		Workers:        runtime.GOMAXPROCS(0),
		Logger:         zap.NewNop(),
	}
}

// WithNSigma sets the clipping threshold in standard deviations.
func WithNSigma(n float64) Option {
	return func(cfg *Config) {
		if n > 0 {
			cfg.NSigma = n
		}
	}
}

// WithMaxIterations caps the fit-and-clip loop.
func WithMaxIterations(n int) Option {
	return func(cfg *Config) {
		if n > 0 {
			cfg.MaxIterations = n
		}
	}
}

// WithSmoothingScale sets the spline knot spacing of the per-fiber
// correction in Å.
func WithSmoothingScale(angstrom float64) Option {
	return func(cfg *Config) {
		if angstrom > 0 {
			cfg.SmoothingScale = angstrom
		}
	}
}

// WithReferenceWidth sets the running-median width used to score a
// single-fiber fit.
func WithReferenceWidth(pixels int) Option {
	return func(cfg *Config) {
		if pixels > 0 {
			cfg.ReferenceWidth = pixels
		}
	}
}

// WithWorkers bounds the goroutines used for per-fiber work.
func WithWorkers(n int) Option {
	return func(cfg *Config) {
		if n > 0 {
			cfg.Workers = n
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
