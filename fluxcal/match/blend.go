package match

import (
	"github.com/cwbudde/algo-fluxcal/dsp/core"
	"github.com/cwbudde/algo-fluxcal/dsp/linalg"
	"gonum.org/v1/gonum/mat"
)

// blend fits a non-negative combination of the subset's templates at the
// winner's redshift. It returns library-length coefficients summing to 1,
// or nil when the fit collapses to zero. Pixel weights are taken from the
// winning template's normalized model.
func (m *Matcher) blend(bands []band, lib *Library, subset []int, winner candidate) ([]float64, float64, int, error) {
	sc := newScratch(bands)
	nt := len(subset)

	// conv[k][b] is the un-normalized convolved model, norm[k][b] its
	// normalized form.
	conv := make([][][]float64, nt)
	norm := make([][][]float64, nt)
	for k, t := range subset {
		conv[k] = make([][]float64, len(bands))
		norm[k] = make([][]float64, len(bands))
		for b, bd := range bands {
			norm[k][b] = make([]float64, len(bd.wave))
			if err := m.model(bd, lib, t, winner.z, sc, norm[k][b]); err != nil {
				return nil, 0, 0, err
			}
			conv[k][b] = append([]float64(nil), sc.conv...)
		}
	}

	wk := 0
	for k, t := range subset {
		if t == winner.template {
			wk = k
		}
	}

	weights := make([][]float64, len(bands))
	for b, bd := range bands {
		weights[b] = make([]float64, len(bd.wave))
		for i := range bd.wave {
			weights[b][i] = m.weight(bd.divar[i], norm[wk][b][i])
		}
	}

	g := mat.NewSymDense(nt, nil)
	h := make([]float64, nt)
	for j := range nt {
		for k := j; k < nt; k++ {
			var s float64
			for b := range bands {
				for i, w := range weights[b] {
					s += w * norm[j][b][i] * norm[k][b][i]
				}
			}
			g.SetSym(j, k, s)
		}
		for b, bd := range bands {
			for i, w := range weights[b] {
				h[j] += w * norm[j][b][i] * bd.dnorm[i]
			}
		}
	}

	x, err := linalg.NNLS(g, h)
	if err != nil {
		return nil, 0, 0, err
	}

	var sum float64
	for _, v := range x {
		sum += v
	}
	if sum <= 0 {
		return nil, 0, 0, nil
	}

	coeffs := make([]float64, lib.Len())
	for k, t := range subset {
		coeffs[t] = x[k] / sum
	}

	// Score the blended model itself; normalization is not linear.
	var chi2 float64
	npix := 0
	for b, bd := range bands {
		n := len(bd.wave)
		mix := make([]float64, n)
		for k, t := range subset {
			c := coeffs[t]
			if c == 0 {
				continue
			}
			for i, v := range conv[k][b] {
				mix[i] += c * v
			}
		}

		mnorm := make([]float64, n)
		if err := m.normalize(mnorm, mix, core.EnsureLen(sc.smoothed, n)); err != nil {
			return nil, 0, 0, err
		}

		c, np := m.chi2(bd, mnorm)
		chi2 += c
		npix += np
	}

	m.cfg.Logger.Sugar().Debugw("template blend", "chi2", chi2, "single_chi2", winner.chi2)

	return coeffs, chi2, npix, nil
}
