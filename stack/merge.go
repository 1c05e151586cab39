package stack

import (
	"fmt"
	"math"
	"strings"

	"github.com/cwbudde/algo-vecmath"

	"github.com/cwbudde/algo-specstack/spectra"
)

// mergeGridTolerance bounds the per-bin wavelength deviation allowed when
// verifying that partial stacks share the common grid.
const mergeGridTolerance = 1e-6

// verifyPartials checks that every partial stack lies on the common grid,
// reporting each offending partial and bin so a misconfigured batch run
// can be located from the error alone.
func verifyPartials(grid *spectra.Grid, partials []*Partial) error {
	if grid == nil {
		return ErrNilGrid
	}
	if len(partials) == 0 {
		return ErrNoPartials
	}
	reference := grid.Wavelength()
	var mismatches []string
	for i, p := range partials {
		if len(p.Wavelength) != len(reference) {
			mismatches = append(mismatches,
				fmt.Sprintf("partial %d has %d bins, grid has %d", i, len(p.Wavelength), len(reference)))
			continue
		}
		if len(p.Flux) != len(reference) || len(p.Weight) != len(reference) {
			mismatches = append(mismatches,
				fmt.Sprintf("partial %d has flux %d, weight %d for %d bins",
					i, len(p.Flux), len(p.Weight), len(reference)))
			continue
		}
		for j := range reference {
			if math.Abs(p.Wavelength[j]-reference[j]) > mergeGridTolerance {
				mismatches = append(mismatches,
					fmt.Sprintf("partial %d bin %d at %g, grid at %g", i, j, p.Wavelength[j], reference[j]))
				break
			}
		}
	}
	if len(mismatches) > 0 {
		return fmt.Errorf("%w: %s", ErrGridMismatch, strings.Join(mismatches, "; "))
	}
	return nil
}

// MergeMeanStacker combines precomputed partial stacks by their
// weight-weighted mean, the continuation of a distributed mean stack. It
// consumes the partials given at construction and rejects live spectra.
type MergeMeanStacker struct {
	grid     *spectra.Grid
	partials []*Partial
	result   *Result
}

// NewMergeMean creates a merge stacker over the given partial stacks.
func NewMergeMean(grid *spectra.Grid, partials []*Partial) (*MergeMeanStacker, error) {
	if err := verifyPartials(grid, partials); err != nil {
		return nil, err
	}
	return &MergeMeanStacker{grid: grid, partials: partials}, nil
}

// Stack merges the partials. The spectrum list must be nil; merge
// stackers operate on persisted stacks, not spectra.
func (m *MergeMeanStacker) Stack(list []*spectra.Spectrum) error {
	if list != nil {
		return fmt.Errorf("%w: received %d spectra", ErrExpectsNoSpectra, len(list))
	}

	size := m.grid.Size()
	m.result = &Result{
		Flux:   make([]float64, size),
		Weight: make([]float64, size),
	}
	num := make([]float64, size)
	den := make([]float64, size)
	for _, p := range m.partials {
		vecmath.MulBlock(num, p.Flux, p.Weight)
		copy(den, p.Weight)
		// NaN terms sum as zero. The weight stays in the denominator and
		// the weight total even when the flux is NaN (a median-family
		// partial can carry weight in a bin it could not estimate).
		for j, v := range num {
			if math.IsNaN(v) {
				num[j] = 0
			}
			if math.IsNaN(den[j]) {
				den[j] = 0
			}
		}
		vecmath.AddBlockInPlace(m.result.Flux, num)
		vecmath.AddBlockInPlace(m.result.Weight, den)
	}
	for j := range m.result.Flux {
		if m.result.Weight[j] != 0 {
			m.result.Flux[j] /= m.result.Weight[j]
		}
	}
	return nil
}

// Result returns the merged stack.
func (m *MergeMeanStacker) Result() *Result {
	return m.result
}

// MergeMedianStacker combines precomputed partial stacks by the per-bin
// median of their fluxes, with the partial weights summed. Like the merge
// mean it rejects live spectra.
type MergeMedianStacker struct {
	grid     *spectra.Grid
	partials []*Partial
	weighted bool
	result   *Result
}

// NewMergeMedian creates a median merge stacker over the given partial
// stacks.
func NewMergeMedian(grid *spectra.Grid, partials []*Partial, opts ...MedianOption) (*MergeMedianStacker, error) {
	if err := verifyPartials(grid, partials); err != nil {
		return nil, err
	}
	var cfg medianConfig
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	return &MergeMedianStacker{grid: grid, partials: partials, weighted: cfg.weighted}, nil
}

// Stack merges the partials by per-bin median. The spectrum list must be
// nil.
func (m *MergeMedianStacker) Stack(list []*spectra.Spectrum) error {
	if m.weighted {
		return ErrNotImplemented
	}
	if list != nil {
		return fmt.Errorf("%w: received %d spectra", ErrExpectsNoSpectra, len(list))
	}

	size := m.grid.Size()
	m.result = &Result{
		Flux:   make([]float64, size),
		Weight: make([]float64, size),
	}
	values := make([]float64, 0, len(m.partials))
	for j := 0; j < size; j++ {
		values = values[:0]
		for _, p := range m.partials {
			if f := p.Flux[j]; !math.IsNaN(f) {
				values = append(values, f)
			}
			if w := p.Weight[j]; !math.IsNaN(w) {
				m.result.Weight[j] += w
			}
		}
		m.result.Flux[j] = median(values)
	}
	return nil
}

// Result returns the merged stack.
func (m *MergeMedianStacker) Result() *Result {
	return m.result
}
