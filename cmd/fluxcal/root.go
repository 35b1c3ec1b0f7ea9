package main

import (
	"fmt"

	"github.com/cwbudde/algo-fluxcal/internal/logging"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// app is the state shared by the subcommands.
type app struct {
	v       *viper.Viper
	cfgFile string
	log     *zap.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{v: viper.New(), log: zap.NewNop()}

	root := &cobra.Command{
		Use:   "fluxcal",
		Short: "Spectrophotometric flux calibration from standard stars",
		Long: `fluxcal fits stellar templates to standard-star spectra, solves for the
per-camera calibration vector and applies it to every fiber.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := loadConfig(a.v, a.cfgFile); err != nil {
				return err
			}

			log, err := logging.New(logging.Options{
				Level:  a.v.GetString("log.level"),
				Format: logging.Format(a.v.GetString("log.format")),
				Output: cmd.ErrOrStderr(),
			})
			if err != nil {
				return fmt.Errorf("failed to initialize logger: %w", err)
			}

			a.log = log
			return nil
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			_ = a.log.Sync()
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&a.cfgFile, "config", "", "TOML config file")
	flags.String("log-level", "info", "log level: debug, info, warn, error")
	flags.String("log-format", "console", "log format: console or json")
	bindFlags(a.v, flags, map[string]string{
		"log.level":  "log-level",
		"log.format": "log-format",
	})

	root.AddCommand(newSimulateCmd(a), newVersionCmd())

	return root
}
