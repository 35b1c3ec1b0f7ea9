package main

import (
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"
)

// savePlot draws the solved calibration of every camera over its true
// throughput and writes the figure to path; the extension picks the format.
func savePlot(path string, cams []cameraRun) error {
	p := plot.New()
	p.Title.Text = "Flux calibration"
	p.X.Label.Text = "Wavelength [Å]"
	p.Y.Label.Text = "Calibration"
	p.Legend.Top = true

	for k, c := range cams {
		solved := make(plotter.XYs, 0, len(c.res.Wave))
		truth := make(plotter.XYs, len(c.res.Wave))
		for i, w := range c.res.Wave {
			truth[i] = plotter.XY{X: w, Y: c.truth[i]}
			if c.res.Mask[i] {
				solved = append(solved, plotter.XY{X: w, Y: c.res.ConvolvedCalibration[i]})
			}
		}

		sl, err := plotter.NewLine(solved)
		if err != nil {
			return err
		}
		sl.Color = plotutil.Color(k)

		tl, err := plotter.NewLine(truth)
		if err != nil {
			return err
		}
		tl.Color = plotutil.Color(k)
		tl.Dashes = plotutil.Dashes(1)

		p.Add(sl, tl)
		p.Legend.Add(c.cam.String(), sl)
		p.Legend.Add(c.cam.String()+" true", tl)
	}

	return p.Save(10*vg.Inch, 4*vg.Inch, path)
}
