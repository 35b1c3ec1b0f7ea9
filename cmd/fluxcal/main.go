// Command fluxcal runs the flux-calibration pipeline.
//
// Usage:
//
//	fluxcal [--config file.toml] [--log-level info] [--log-format console] <command>
//
// Commands:
//
//	simulate   calibrate a synthetic exposure end to end and report accuracy
//	version    print build information
//
// Every setting can be given in a TOML config file or as an environment
// variable prefixed with FLUXCAL_, e.g. FLUXCAL_SOLVE_NSIGMA=5.
//
// Examples:
//
//	fluxcal simulate
//	fluxcal simulate --stars 20 --snr 50 --plot calib.png
//	fluxcal --log-format json simulate --seed 7
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "fluxcal:", err)
		os.Exit(1)
	}
}
