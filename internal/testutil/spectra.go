package testutil

import (
	"math/rand"
	"testing"

	"github.com/cwbudde/algo-specstack/spectra"
)

// MustGrid builds a common wavelength grid or fails the test.
func MustGrid(t *testing.T, minWavelength, maxWavelength, step float64, kind spectra.StepKind) *spectra.Grid {
	t.Helper()
	g, err := spectra.NewGrid(minWavelength, maxWavelength, step, kind)
	if err != nil {
		t.Fatalf("NewGrid(%v, %v, %v, %v) error = %v", minWavelength, maxWavelength, step, kind, err)
	}
	return g
}

// FlatSpectrum builds a spectrum with constant flux and ivar sampled
// exactly on the grid points.
func FlatSpectrum(t *testing.T, specID int64, grid *spectra.Grid, flux, ivar float64) *spectra.Spectrum {
	t.Helper()
	n := grid.Size()
	f := make([]float64, n)
	iv := make([]float64, n)
	for i := range f {
		f[i] = flux
		iv[i] = ivar
	}
	s, err := spectra.New(specID, 0, f, iv, grid.Wavelength())
	if err != nil {
		t.Fatalf("New spectrum %d: %v", specID, err)
	}
	return s
}

// NoisySpectrum builds a spectrum on the grid points with deterministic
// pseudo-random flux around a baseline and ivar in (0.5, 1.5).
func NoisySpectrum(t *testing.T, specID int64, grid *spectra.Grid, baseline float64, seed int64) *spectra.Spectrum {
	t.Helper()
	rng := rand.New(rand.NewSource(seed))
	n := grid.Size()
	f := make([]float64, n)
	iv := make([]float64, n)
	for i := range f {
		f[i] = baseline + (rng.Float64()*2 - 1)
		iv[i] = 0.5 + rng.Float64()
	}
	s, err := spectra.New(specID, 0, f, iv, grid.Wavelength())
	if err != nil {
		t.Fatalf("New spectrum %d: %v", specID, err)
	}
	return s
}

// OnCommonGrid assigns the spectrum's raw flux/ivar as its common-grid
// arrays, bypassing the rebinning stage for tests that exercise later
// stages in isolation.
func OnCommonGrid(s *spectra.Spectrum) *spectra.Spectrum {
	s.FluxCommonGrid = append([]float64(nil), s.Flux...)
	s.IvarCommonGrid = append([]float64(nil), s.Ivar...)
	return s
}

// Normalized marks the spectrum's common-grid flux as already normalized,
// for tests that drive stackers directly.
func Normalized(s *spectra.Spectrum) *spectra.Spectrum {
	if s.FluxCommonGrid == nil {
		OnCommonGrid(s)
	}
	s.NormalizedFlux = append([]float64(nil), s.FluxCommonGrid...)
	return s
}
