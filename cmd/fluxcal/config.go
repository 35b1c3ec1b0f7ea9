package main

import (
	"fmt"
	"strings"

	"github.com/cwbudde/algo-fluxcal/dsp/smooth"
	"github.com/cwbudde/algo-fluxcal/fluxcal/match"
	"github.com/cwbudde/algo-fluxcal/fluxcal/solve"
	"github.com/cwbudde/algo-fluxcal/fluxcal/stdstar"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// settings mirrors the config file layout.
type settings struct {
	Workers int `mapstructure:"workers"`

	Log struct {
		Level  string `mapstructure:"level"`
		Format string `mapstructure:"format"`
	} `mapstructure:"log"`

	Match struct {
		ZMax          float64 `mapstructure:"zmax"`
		ZRes          float64 `mapstructure:"zres"`
		TemplateError float64 `mapstructure:"template_error"`
		SmoothWidth   int     `mapstructure:"smooth_width"`
		Smoothing     string  `mapstructure:"smoothing"`
		Blend         bool    `mapstructure:"blend"`
	} `mapstructure:"match"`

	Solve struct {
		NSigma         float64 `mapstructure:"nsigma"`
		MaxIterations  int     `mapstructure:"max_iterations"`
		SmoothingScale float64 `mapstructure:"smoothing_scale"`
		ReferenceWidth int     `mapstructure:"reference_width"`
	} `mapstructure:"solve"`

	Stdstar struct {
		MaxStars   int     `mapstructure:"max_stars"`
		MinBlueSNR float64 `mapstructure:"min_blue_snr"`
		Color      string  `mapstructure:"color"`
		DeltaColor float64 `mapstructure:"delta_color"`
		MaskDip    bool    `mapstructure:"mask_dip"`
	} `mapstructure:"stdstar"`

	Simulate simSettings `mapstructure:"simulate"`
}

// simSettings controls the synthetic exposure.
type simSettings struct {
	Seed            int64   `mapstructure:"seed"`
	Stars           int     `mapstructure:"stars"`
	Templates       int     `mapstructure:"templates"`
	SNR             float64 `mapstructure:"snr"`
	ResolutionSigma float64 `mapstructure:"resolution_sigma"`
	Plot            string  `mapstructure:"plot"`
}

// setDefaults registers every key so that environment overrides and
// Unmarshal see it.
func setDefaults(v *viper.Viper) {
	v.SetDefault("workers", 0)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")

	// A narrow redshift grid keeps the synthetic run fast.
	v.SetDefault("match.zmax", 1e-3)
	v.SetDefault("match.zres", 1e-4)
	v.SetDefault("match.template_error", 0.1)
	v.SetDefault("match.smooth_width", 101)
	v.SetDefault("match.smoothing", "median")
	v.SetDefault("match.blend", false)

	v.SetDefault("solve.nsigma", 4.0)
	v.SetDefault("solve.max_iterations", 20)
	v.SetDefault("solve.smoothing_scale", 1000.0)
	v.SetDefault("solve.reference_width", 11)

	v.SetDefault("stdstar.max_stars", 50)
	v.SetDefault("stdstar.min_blue_snr", 4.0)
	v.SetDefault("stdstar.color", "G-R")
	v.SetDefault("stdstar.delta_color", 0.2)
	v.SetDefault("stdstar.mask_dip", true)

	v.SetDefault("simulate.seed", 1)
	v.SetDefault("simulate.stars", 8)
	v.SetDefault("simulate.templates", 12)
	v.SetDefault("simulate.snr", 30.0)
	v.SetDefault("simulate.resolution_sigma", 1.0)
	v.SetDefault("simulate.plot", "")
}

// loadConfig layers defaults, the optional TOML file and FLUXCAL_*
// environment variables. Bound flags take precedence over all of them.
func loadConfig(v *viper.Viper, file string) error {
	v.SetEnvPrefix("FLUXCAL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if file == "" {
		return nil
	}

	v.SetConfigFile(file)
	v.SetConfigType("toml")

	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("failed to read config file %s: %w", file, err)
	}

	return nil
}

func bindFlags(v *viper.Viper, fs *pflag.FlagSet, keys map[string]string) {
	for key, name := range keys {
		if err := v.BindPFlag(key, fs.Lookup(name)); err != nil {
			panic(fmt.Sprintf("bind flag %s: %v", name, err))
		}
	}
}

func readSettings(v *viper.Viper) (settings, error) {
	var s settings
	if err := v.Unmarshal(&s); err != nil {
		return s, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return s, nil
}

func (s settings) matchOptions(log *zap.Logger) ([]match.Option, error) {
	kind, err := smooth.ParseKind(s.Match.Smoothing)
	if err != nil {
		return nil, err
	}

	return []match.Option{
		match.WithRedshiftRange(s.Match.ZMax, s.Match.ZRes),
		match.WithTemplateError(s.Match.TemplateError),
		match.WithSmoothWidth(s.Match.SmoothWidth),
		match.WithSmoothing(kind),
		match.WithBlend(s.Match.Blend),
		match.WithWorkers(s.Workers),
		match.WithLogger(log),
	}, nil
}

func (s settings) solveOptions(log *zap.Logger) []solve.Option {
	return []solve.Option{
		solve.WithNSigma(s.Solve.NSigma),
		solve.WithMaxIterations(s.Solve.MaxIterations),
		solve.WithSmoothingScale(s.Solve.SmoothingScale),
		solve.WithReferenceWidth(s.Solve.ReferenceWidth),
		solve.WithWorkers(s.Workers),
		solve.WithLogger(log),
	}
}

func (s settings) stdstarOptions(log *zap.Logger, system string, fs stdstar.FilterSet) ([]stdstar.Option, error) {
	color, err := stdstar.ParseColor(s.Stdstar.Color)
	if err != nil {
		return nil, err
	}

	mopts, err := s.matchOptions(log)
	if err != nil {
		return nil, err
	}

	cfg := stdstar.DefaultConfig()

	return []stdstar.Option{
		stdstar.WithMaxStars(s.Stdstar.MaxStars),
		stdstar.WithMinBlueSNR(s.Stdstar.MinBlueSNR),
		stdstar.WithColor(color),
		stdstar.WithDeltaColor(s.Stdstar.DeltaColor),
		stdstar.WithDipMask(s.Stdstar.MaskDip, cfg.DipMin, cfg.DipMax),
		stdstar.WithFilters(system, fs),
		stdstar.WithMatchOptions(mopts...),
		stdstar.WithWorkers(s.Workers),
		stdstar.WithLogger(log),
	}, nil
}
