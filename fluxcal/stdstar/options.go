package stdstar

import (
	"runtime"

	"github.com/cwbudde/algo-fluxcal/fluxcal/match"
	"github.com/cwbudde/algo-fluxcal/spectro/frame"
	"github.com/cwbudde/algo-fluxcal/spectro/photometry"
	"go.uber.org/zap"
)

// FilterSet holds the g, r and z responses of one photometric system.
type FilterSet struct {
	G, R, Z photometry.Filter
}

// Config holds the pipeline settings.
type Config struct {
	MaxStars   int
	MinBlueSNR float64
	// SNRCamera is the camera used to rank stars.
	SNRCamera frame.Camera

	MaskDip        bool
	DipMin, DipMax float64

	Color      Color
	DeltaColor float64

	// Filters maps a photometric system ("N", "S") to its filters.
	Filters    map[string]FilterSet
	Extinction photometry.Extinction

	MatchOptions []match.Option
	Workers      int
	Logger       *zap.Logger
}

// Option mutates a Config.
type Option func(*Config)

// DefaultConfig returns the standard-star settings.
func DefaultConfig() Config {
	return Config{
		MaxStars:   50,
		MinBlueSNR: 4,
		SNRCamera:  frame.CameraB,
		MaskDip:    true,
		DipMin:     4300,
		DipMax:     4500,
		Color:      ColorGR,
		DeltaColor: 0.2,
		Extinction: photometry.ODonnell{RV: 3.1},
		Workers:    runtime.GOMAXPROCS(0),
		Logger:     zap.NewNop(),
	}
}

// WithMaxStars caps the number of stars fitted.
func WithMaxStars(n int) Option {
	return func(cfg *Config) {
		if n > 0 {
			cfg.MaxStars = n
		}
	}
}

// WithMinBlueSNR sets the minimum S/N per √Å in the ranking camera.
func WithMinBlueSNR(snr float64) Option {
	return func(cfg *Config) {
		if snr >= 0 {
			cfg.MinBlueSNR = snr
		}
	}
}

// WithDipMask sets the masked throughput-dip region; enabled=false
// disables masking.
func WithDipMask(enabled bool, lo, hi float64) Option {
	return func(cfg *Config) {
		cfg.MaskDip = enabled
		if lo < hi {
			cfg.DipMin, cfg.DipMax = lo, hi
		}
	}
}

// WithColor selects the colour used for template pre-selection.
func WithColor(c Color) Option {
	return func(cfg *Config) {
		cfg.Color = c
	}
}

// WithDeltaColor sets the colour tolerance of the pre-selection.
func WithDeltaColor(d float64) Option {
	return func(cfg *Config) {
		if d > 0 {
			cfg.DeltaColor = d
		}
	}
}

// WithFilters registers the filters of a photometric system.
func WithFilters(system string, fs FilterSet) Option {
	return func(cfg *Config) {
		if cfg.Filters == nil {
			cfg.Filters = make(map[string]FilterSet)
		}
		cfg.Filters[system] = fs
	}
}

// WithExtinction sets the dust law; nil disables reddening.
func WithExtinction(e photometry.Extinction) Option {
	return func(cfg *Config) {
		cfg.Extinction = e
	}
}

// WithMatchOptions forwards options to the template matcher.
func WithMatchOptions(opts ...match.Option) Option {
	return func(cfg *Config) {
		cfg.MatchOptions = append(cfg.MatchOptions, opts...)
	}
}

// WithWorkers bounds the number of stars fitted concurrently.
func WithWorkers(n int) Option {
	return func(cfg *Config) {
		if n > 0 {
			cfg.Workers = n
		}
	}
}

// WithLogger sets the logger. It is also handed to the matcher.
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
