package normalize

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"
)

// NoRegion is the chosen-region sentinel for spectra with no valid
// measurement in any region.
const NoRegion = -1

// Region is a half-open wavelength interval [Start, End).
type Region struct {
	Start float64
	End   float64
}

// FactorsTable holds one row per spectrum with the per-region and final
// normalization quantities, plus the per-region correction factors shared
// across all spectra.
type FactorsTable struct {
	Regions    []Region
	MainRegion int

	SpecIDs []int64

	// Per spectrum, per region.
	NormFactors  [][]float64
	NormSN       [][]float64
	NumPixels    [][]int
	TotalWeights [][]float64

	// Per region; CorrectionFactors[MainRegion] == 1 by construction.
	CorrectionFactors []float64

	// Final selection per spectrum.
	FinalFactor  []float64
	FinalSN      []float64
	ChosenRegion []int

	index map[int64]int
}

func newFactorsTable(regions []Region, mainRegion, numSpectra int) *FactorsTable {
	t := &FactorsTable{
		Regions:           regions,
		MainRegion:        mainRegion,
		SpecIDs:           make([]int64, numSpectra),
		NormFactors:       make([][]float64, numSpectra),
		NormSN:            make([][]float64, numSpectra),
		NumPixels:         make([][]int, numSpectra),
		TotalWeights:      make([][]float64, numSpectra),
		CorrectionFactors: make([]float64, len(regions)),
		FinalFactor:       make([]float64, numSpectra),
		FinalSN:           make([]float64, numSpectra),
		ChosenRegion:      make([]int, numSpectra),
	}
	for i := range t.NormFactors {
		t.NormFactors[i] = make([]float64, len(regions))
		t.NormSN[i] = make([]float64, len(regions))
		t.NumPixels[i] = make([]int, len(regions))
		t.TotalWeights[i] = make([]float64, len(regions))
	}
	return t
}

// Len returns the number of spectra in the table.
func (t *FactorsTable) Len() int {
	return len(t.SpecIDs)
}

// Row returns the row index for a spectrum identifier.
func (t *FactorsTable) Row(specID int64) (int, bool) {
	i, ok := t.index[specID]
	return i, ok
}

// finalize derives the correction factors from the per-region columns,
// selects the final factor per spectrum and rebuilds the specid index.
// It is called both after computing fresh factors and after reloading a
// persisted table.
func (t *FactorsTable) finalize() error {
	if err := t.computeCorrectionFactors(); err != nil {
		return err
	}
	for i := range t.SpecIDs {
		t.selectFinalFactor(i)
	}
	t.index = make(map[int64]int, len(t.SpecIDs))
	for i, id := range t.SpecIDs {
		t.index[id] = i
	}
	return nil
}

// computeCorrectionFactors reconciles each region to the main region using
// the spectra measured in both. A region sharing no spectra with the main
// region cannot be bias-corrected and is a fatal data error.
func (t *FactorsTable) computeCorrectionFactors() error {
	for r := range t.Regions {
		if r == t.MainRegion {
			t.CorrectionFactors[r] = 1
			continue
		}

		var mains, others []float64
		for i := range t.SpecIDs {
			main := t.NormFactors[i][t.MainRegion]
			other := t.NormFactors[i][r]
			if math.IsNaN(main) || math.IsNaN(other) {
				continue
			}
			mains = append(mains, main)
			others = append(others, other)
		}
		if len(mains) == 0 {
			return fmt.Errorf("%w: region %d [%v, %v)",
				ErrNoCommonMeasurements, r, t.Regions[r].Start, t.Regions[r].End)
		}
		t.CorrectionFactors[r] = stat.Mean(mains, nil) / stat.Mean(others, nil)
	}
	return nil
}

// selectFinalFactor picks, for row i, the region with the greatest total
// weight among regions with valid data and applies its correction factor.
func (t *FactorsTable) selectFinalFactor(i int) {
	chosen := NoRegion
	best := math.Inf(-1)
	for r := range t.Regions {
		if math.IsNaN(t.NormFactors[i][r]) {
			continue
		}
		if t.TotalWeights[i][r] > best {
			best = t.TotalWeights[i][r]
			chosen = r
		}
	}

	if chosen == NoRegion {
		t.FinalFactor[i] = math.NaN()
		t.FinalSN[i] = math.NaN()
		t.ChosenRegion[i] = NoRegion
		return
	}

	t.FinalFactor[i] = t.NormFactors[i][chosen] * t.CorrectionFactors[chosen]
	t.FinalSN[i] = t.NormSN[i][chosen]
	t.ChosenRegion[i] = chosen
}
