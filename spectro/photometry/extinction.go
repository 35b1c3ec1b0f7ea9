package photometry

import "math"

// Extinction gives the fractional transmission of a dust screen with
// colour excess ebv at each wavelength (Å).
type Extinction interface {
	Transmission(wave []float64, ebv float64) []float64
}

// ODonnell is the O'Donnell (1994) optical update of the Cardelli,
// Clayton & Mathis extinction curve. RV defaults to 3.1 when zero.
type ODonnell struct {
	RV float64
}

// Transmission implements Extinction. Wavelengths outside 3030–33333 Å
// are clamped to the nearest edge of the tabulated law.
func (o ODonnell) Transmission(wave []float64, ebv float64) []float64 {
	rv := o.RV
	if rv <= 0 {
		rv = 3.1
	}

	out := make([]float64, len(wave))
	for i, lam := range wave {
		a, b := odonnellAB(1e4 / lam)
		out[i] = math.Pow(10, -0.4*ebv*(rv*a+b))
	}

	return out
}

// odonnellAB returns the a(x) and b(x) coefficients for x in 1/µm.
func odonnellAB(x float64) (float64, float64) {
	x = math.Max(0.3, math.Min(3.3, x))

	if x < 1.1 {
		p := math.Pow(x, 1.61)
		return 0.574 * p, -0.527 * p
	}

	y := x - 1.82
	a := polyval(y, 1, 0.104, -0.609, 0.701, 1.137, -1.718, -0.827, 1.647, -0.505)
	b := polyval(y, 0, 1.952, 2.908, -3.989, -7.985, 11.102, 5.491, -10.805, 3.347)

	return a, b
}

// polyval evaluates c[0] + c[1]·y + c[2]·y² + ...
func polyval(y float64, c ...float64) float64 {
	var sum float64
	for i := len(c) - 1; i >= 0; i-- {
		sum = sum*y + c[i]
	}
	return sum
}
