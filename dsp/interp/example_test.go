package interp_test

import (
	"fmt"

	"github.com/cwbudde/algo-fluxcal/dsp/interp"
)

func ExampleResample() {
	templateWave := []float64{4000, 4001, 4002, 4003}
	templateFlux := []float64{1.0, 0.5, 1.0, 1.5}

	wave := []float64{3999, 4000.5, 4002.5, 4010}
	out := make([]float64, len(wave))
	if err := interp.Resample(out, wave, templateWave, templateFlux, interp.ModeLinear, 0, 0); err != nil {
		panic(err)
	}

	fmt.Println(out)

	// Output:
	// [0 0.75 1.25 0]
}
