package normalize

import (
	"context"
	"math"

	"github.com/cwbudde/algo-specstack/spectra"
)

// NoNormalization circumvents the normalization procedure: every factor
// is 1 and the normalized flux equals the common-grid flux. It satisfies
// the same contract as Normalizer so the pipeline can swap it in.
type NoNormalization struct {
	grid *spectra.Grid
}

// NewNoNormalization creates the pass-through normalizer.
func NewNoNormalization(grid *spectra.Grid) (*NoNormalization, error) {
	if grid == nil {
		return nil, ErrNilGrid
	}
	return &NoNormalization{grid: grid}, nil
}

// ComputeFactors returns a trivial table with unit final factors.
func (n *NoNormalization) ComputeFactors(_ context.Context, spectraList []*spectra.Spectrum) (*FactorsTable, error) {
	table := newFactorsTable(nil, 0, len(spectraList))
	for i, s := range spectraList {
		table.SpecIDs[i] = s.SpecID
		table.FinalFactor[i] = 1
		table.FinalSN[i] = math.NaN()
		table.ChosenRegion[i] = NoRegion
	}
	table.index = make(map[int64]int, len(table.SpecIDs))
	for i, id := range table.SpecIDs {
		table.index[id] = i
	}
	return table, nil
}

// Apply copies the common-grid flux into NormalizedFlux unchanged.
func (n *NoNormalization) Apply(s *spectra.Spectrum) (*spectra.Spectrum, error) {
	if len(s.FluxCommonGrid) != n.grid.Size() {
		return nil, errCommonGridLength(s, n.grid)
	}
	s.NormalizedFlux = append([]float64(nil), s.FluxCommonGrid...)
	return s, nil
}
