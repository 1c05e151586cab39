package stack

import (
	"math"
	"sort"

	"github.com/cwbudde/algo-vecmath"

	"github.com/cwbudde/algo-specstack/spectra"
)

// MedianOption configures a MedianStacker.
type MedianOption func(*medianConfig)

type medianConfig struct {
	weighted bool
}

// WithWeightedMedian requests the weighted median variant. The variant is
// documented but unimplemented; Stack fails with ErrNotImplemented
// instead of silently degrading to the unweighted median.
func WithWeightedMedian() MedianOption {
	return func(cfg *medianConfig) {
		cfg.weighted = true
	}
}

// MedianStacker combines spectra by the per-bin median of their
// normalized fluxes, ignoring NaN and zero-ivar contributions. The summed
// ivar is retained as the stacked weight for downstream uncertainty
// estimates; it does not enter the median itself. Bins with no usable
// contribution yield NaN.
type MedianStacker struct {
	grid     *spectra.Grid
	weighted bool
	result   *Result
}

// NewMedian creates a MedianStacker on the given grid.
func NewMedian(grid *spectra.Grid, opts ...MedianOption) (*MedianStacker, error) {
	if grid == nil {
		return nil, ErrNilGrid
	}
	var cfg medianConfig
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	return &MedianStacker{
		grid:     grid,
		weighted: cfg.weighted,
		result: &Result{
			Flux:   make([]float64, grid.Size()),
			Weight: make([]float64, grid.Size()),
		},
	}, nil
}

// Stack computes the per-bin median and the summed weights.
func (m *MedianStacker) Stack(list []*spectra.Spectrum) error {
	if m.weighted {
		return ErrNotImplemented
	}
	if err := checkOnCommonGrid(m.grid, list); err != nil {
		return err
	}

	values := make([]float64, 0, len(list))
	for j := range m.result.Flux {
		values = values[:0]
		for _, s := range list {
			f := s.NormalizedFlux[j]
			if s.IvarCommonGrid[j] == 0 || math.IsNaN(f) {
				continue
			}
			values = append(values, f)
		}
		m.result.Flux[j] = median(values)
	}

	for _, s := range list {
		vecmath.AddBlockInPlace(m.result.Weight, s.IvarCommonGrid)
	}
	return nil
}

// Result returns the per-bin medians and summed weights.
func (m *MedianStacker) Result() *Result {
	return m.result
}

// median returns the middle value of vals, averaging the two central
// values for even counts, or NaN for an empty slice. vals is reordered.
func median(vals []float64) float64 {
	n := len(vals)
	if n == 0 {
		return math.NaN()
	}
	sort.Float64s(vals)
	if n%2 == 1 {
		return vals[n/2]
	}
	return 0.5 * (vals[n/2-1] + vals[n/2])
}
