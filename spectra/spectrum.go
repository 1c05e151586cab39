package spectra

import (
	"errors"
	"fmt"
)

var (
	// ErrSpectrumArrays indicates raw arrays of mismatched lengths.
	ErrSpectrumArrays = errors.New("spectra: flux, ivar and wavelength must have equal lengths")
	// ErrWavelengthOrder indicates a wavelength array that is not strictly increasing.
	ErrWavelengthOrder = errors.New("spectra: wavelength must be strictly increasing")
	// ErrNegativeRedshift indicates a redshift below zero.
	ErrNegativeRedshift = errors.New("spectra: redshift must be non-negative")
)

// Spectrum holds one observation's arrays.
//
// Flux, Ivar, Wavelength and Redshift are raw attributes, immutable once
// read. FluxCommonGrid and IvarCommonGrid are assigned by the rebinning
// stage, NormalizedFlux by the normalization stage; each is written exactly
// once and read-only thereafter.
type Spectrum struct {
	SpecID   int64
	Redshift float64

	Flux       []float64
	Ivar       []float64
	Wavelength []float64

	FluxCommonGrid []float64
	IvarCommonGrid []float64
	NormalizedFlux []float64
}

// New validates the raw arrays and returns a Spectrum. An inverse variance
// of 0 marks a masked pixel; it is kept in the arrays and ignored by the
// downstream stages.
func New(specID int64, redshift float64, flux, ivar, wavelength []float64) (*Spectrum, error) {
	if len(flux) != len(ivar) || len(flux) != len(wavelength) {
		return nil, fmt.Errorf("%w: flux %d, ivar %d, wavelength %d",
			ErrSpectrumArrays, len(flux), len(ivar), len(wavelength))
	}
	for i := 1; i < len(wavelength); i++ {
		if wavelength[i] <= wavelength[i-1] {
			return nil, fmt.Errorf("%w: spectrum %d at index %d (%v after %v)",
				ErrWavelengthOrder, specID, i, wavelength[i], wavelength[i-1])
		}
	}
	if redshift < 0 {
		return nil, fmt.Errorf("%w: spectrum %d has redshift %v",
			ErrNegativeRedshift, specID, redshift)
	}
	return &Spectrum{
		SpecID:     specID,
		Redshift:   redshift,
		Flux:       flux,
		Ivar:       ivar,
		Wavelength: wavelength,
	}, nil
}
