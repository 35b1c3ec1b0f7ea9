// Package testutil provides deterministic synthetic spectra and
// tolerance helpers shared by the package tests.
package testutil

import (
	"math"
	"math/rand"
)

// Grid returns n equally spaced values start, start+step, ...
func Grid(start, step float64, n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = start + step*float64(i)
	}
	return out
}

// DeterministicNoise generates uniform noise in [-amplitude, amplitude)
// with a fixed seed for reproducibility.
func DeterministicNoise(seed int64, amplitude float64, length int) []float64 {
	out := make([]float64, length)
	rng := rand.New(rand.NewSource(seed))
	for i := range out {
		out[i] = (rng.Float64()*2 - 1) * amplitude
	}
	return out
}

// GaussianNoise generates N(0, sigma²) noise with a fixed seed.
func GaussianNoise(seed int64, sigma float64, length int) []float64 {
	out := make([]float64, length)
	rng := rand.New(rand.NewSource(seed))
	for i := range out {
		out[i] = rng.NormFloat64() * sigma
	}
	return out
}

// DC generates a constant-valued signal.
func DC(value float64, length int) []float64 {
	out := make([]float64, length)
	for i := range out {
		out[i] = value
	}
	return out
}

// Ones returns a slice of length n filled with 1.0.
func Ones(n int) []float64 {
	return DC(1.0, n)
}

// Line is a Gaussian absorption line.
type Line struct {
	Center float64 // Angstrom
	Depth  float64 // fractional depth at center, 0..1
	Sigma  float64 // Angstrom
}

// StellarSpectrum returns a smooth power-law continuum
// amplitude·(wave/5000)^slope multiplied by Gaussian absorption lines.
func StellarSpectrum(wave []float64, amplitude, slope float64, lines ...Line) []float64 {
	out := make([]float64, len(wave))
	for i, w := range wave {
		v := amplitude * math.Pow(w/5000, slope)
		for _, l := range lines {
			d := (w - l.Center) / l.Sigma
			v *= 1 - l.Depth*math.Exp(-0.5*d*d)
		}
		out[i] = v
	}
	return out
}

// BalmerLines returns a few strong hydrogen lines scaled by depth.
func BalmerLines(depth, sigma float64) []Line {
	return []Line{
		{Center: 3970.1, Depth: depth, Sigma: sigma},
		{Center: 4101.7, Depth: depth, Sigma: sigma},
		{Center: 4340.5, Depth: depth, Sigma: sigma},
		{Center: 4861.3, Depth: depth, Sigma: sigma},
		{Center: 6562.8, Depth: depth, Sigma: sigma},
	}
}

// MetalLines returns a set of weaker lines whose depth tracks metallicity.
func MetalLines(depth, sigma float64) []Line {
	return []Line{
		{Center: 3933.7, Depth: depth, Sigma: sigma},
		{Center: 4226.7, Depth: depth, Sigma: sigma},
		{Center: 5175.0, Depth: depth, Sigma: sigma},
		{Center: 5895.9, Depth: depth, Sigma: sigma},
		{Center: 8542.1, Depth: depth, Sigma: sigma},
		{Center: 8662.1, Depth: depth, Sigma: sigma},
	}
}
