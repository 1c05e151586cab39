package stack

import (
	"math"

	"github.com/cwbudde/algo-specstack/spectra"
)

// MeanOption configures a MeanStacker.
type MeanOption func(*meanConfig)

type meanConfig struct {
	sigmaI float64
}

// WithSigmaI sets the regularization constant for the pixel weights
// w = ivar / (1 + sigmaI^2 * ivar). Zero disables the regularization.
func WithSigmaI(sigma float64) MeanOption {
	return func(cfg *meanConfig) {
		if sigma >= 0 {
			cfg.sigmaI = sigma
		}
	}
}

// MeanStacker combines spectra by the weighted mean of their normalized
// fluxes. Pixels with zero ivar or NaN flux are excluded; bins with zero
// total weight keep a flux of 0, not NaN, so sparse grid edges do not
// poison downstream arithmetic.
type MeanStacker struct {
	grid    *spectra.Grid
	sigmaI2 float64
	result  *Result
}

// NewMean creates a MeanStacker on the given grid.
func NewMean(grid *spectra.Grid, opts ...MeanOption) (*MeanStacker, error) {
	if grid == nil {
		return nil, ErrNilGrid
	}
	var cfg meanConfig
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	return &MeanStacker{
		grid:    grid,
		sigmaI2: cfg.sigmaI * cfg.sigmaI,
		result: &Result{
			Flux:   make([]float64, grid.Size()),
			Weight: make([]float64, grid.Size()),
		},
	}, nil
}

// Stack accumulates the weighted mean over all usable pixels.
func (m *MeanStacker) Stack(list []*spectra.Spectrum) error {
	if err := checkOnCommonGrid(m.grid, list); err != nil {
		return err
	}

	flux := m.result.Flux
	weight := m.result.Weight
	for _, s := range list {
		for j, f := range s.NormalizedFlux {
			iv := s.IvarCommonGrid[j]
			if iv == 0 || math.IsNaN(f) {
				continue
			}
			w := iv / (1 + m.sigmaI2*iv)
			flux[j] += f * w
			weight[j] += w
		}
	}

	for j := range flux {
		if weight[j] != 0 {
			flux[j] /= weight[j]
		}
	}
	return nil
}

// Result returns the stacked flux and summed weights.
func (m *MeanStacker) Result() *Result {
	return m.result
}
