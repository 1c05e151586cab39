// Package rebin projects spectra from their native wavelength sampling
// onto the common wavelength grid.
//
// Each input sample is assigned to the grid bin nearest to its
// (transformed) wavelength; samples falling outside the grid are
// discarded. Within a bin, samples are combined by the inverse-variance
// weighted mean, which is the maximum-likelihood estimate for
// Gaussian-noise pixels. Bins receiving no weight keep a flux of 0.
package rebin

import (
	"errors"
	"fmt"

	"github.com/cwbudde/algo-specstack/spectra"
)

var (
	// ErrNilGrid indicates construction without a common wavelength grid.
	ErrNilGrid = errors.New("rebin: common wavelength grid not configured")
	// ErrLengthMismatch indicates a spectrum whose raw arrays are not
	// sampled on the common grid while rebinning is disabled.
	ErrLengthMismatch = errors.New("rebin: spectrum not sampled on the common grid")
)

type config struct {
	restframe bool
	rebin     bool
}

// Option configures the Rebinner.
type Option func(*config)

// WithRestframe divides wavelengths by (1+redshift) before binning, so
// spectra at different redshifts are aligned in their rest frame.
func WithRestframe() Option {
	return func(cfg *config) {
		cfg.restframe = true
	}
}

// WithoutRebinning copies the raw flux/ivar arrays straight onto the
// common grid. The raw arrays must already match the grid length.
func WithoutRebinning() Option {
	return func(cfg *config) {
		cfg.rebin = false
	}
}

func defaultConfig() config {
	return config{rebin: true}
}

// Rebinner rebins spectra onto a shared common wavelength grid.
type Rebinner struct {
	grid      *spectra.Grid
	restframe bool
	rebin     bool
}

// New creates a Rebinner for the given grid. A nil grid is a
// configuration error, detected here rather than at call time.
func New(grid *spectra.Grid, opts ...Option) (*Rebinner, error) {
	if grid == nil {
		return nil, ErrNilGrid
	}

	cfg := defaultConfig()
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}

	return &Rebinner{
		grid:      grid,
		restframe: cfg.restframe,
		rebin:     cfg.rebin,
	}, nil
}

// Apply rebins a spectrum in place, setting FluxCommonGrid and
// IvarCommonGrid, and returns the same spectrum for convenience.
func (r *Rebinner) Apply(s *spectra.Spectrum) (*spectra.Spectrum, error) {
	if !r.rebin {
		if len(s.Flux) != r.grid.Size() {
			return nil, fmt.Errorf("%w: spectrum %d has %d pixels, grid has %d",
				ErrLengthMismatch, s.SpecID, len(s.Flux), r.grid.Size())
		}
		s.FluxCommonGrid = append([]float64(nil), s.Flux...)
		s.IvarCommonGrid = append([]float64(nil), s.Ivar...)
		return s, nil
	}

	size := r.grid.Size()
	flux := make([]float64, size)
	ivar := make([]float64, size)

	scale := 1.0
	if r.restframe {
		scale = 1 / (1 + s.Redshift)
	}

	for i, w := range s.Wavelength {
		bin := r.grid.Bin(w * scale)
		if bin < 0 {
			continue
		}
		flux[bin] += s.Ivar[i] * s.Flux[i]
		ivar[bin] += s.Ivar[i]
	}

	for i := range flux {
		if ivar[i] != 0 {
			flux[i] /= ivar[i]
		}
	}

	s.FluxCommonGrid = flux
	s.IvarCommonGrid = ivar
	return s, nil
}
