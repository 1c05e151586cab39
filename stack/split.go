package stack

import (
	"fmt"

	"github.com/cwbudde/algo-specstack/spectra"
)

// SplitStacker partitions the input by group assignment and stacks each
// group independently with a stacker built by the factory. Its combined
// Result concatenates the per-group arrays in group-number order, so
// decorators such as BootstrapStacker compose with it unchanged.
type SplitStacker struct {
	grid       *spectra.Grid
	assignment *GroupAssignment
	stackers   []Stacker
	result     *Result
}

// NewSplit creates a SplitStacker with one inner stacker per group.
func NewSplit(grid *spectra.Grid, assignment *GroupAssignment, factory Factory) (*SplitStacker, error) {
	if grid == nil {
		return nil, ErrNilGrid
	}
	if factory == nil {
		return nil, ErrNilFactory
	}
	if assignment == nil {
		return nil, fmt.Errorf("%w: nil group assignment", ErrCatalogueShape)
	}

	stackers := make([]Stacker, assignment.NumGroups())
	for g := range stackers {
		s, err := factory()
		if err != nil {
			return nil, fmt.Errorf("stack: building stacker for group %d: %w", g, err)
		}
		stackers[g] = s
	}
	return &SplitStacker{
		grid:       grid,
		assignment: assignment,
		stackers:   stackers,
	}, nil
}

// Stack partitions the spectra by group and stacks each partition.
// Spectra with no group are dropped; under the OR policy a spectrum can
// enter several groups.
func (sp *SplitStacker) Stack(list []*spectra.Spectrum) error {
	if len(sp.stackers) != sp.assignment.NumGroups() {
		return fmt.Errorf("%w: have %d stackers for %d groups",
			ErrStackerCount, len(sp.stackers), sp.assignment.NumGroups())
	}

	partitions := make([][]*spectra.Spectrum, sp.assignment.NumGroups())
	for _, s := range list {
		for _, g := range sp.assignment.Groups(s.SpecID) {
			partitions[g] = append(partitions[g], s)
		}
	}

	for g, stacker := range sp.stackers {
		if err := stacker.Stack(partitions[g]); err != nil {
			return fmt.Errorf("stack: group %d: %w", g, err)
		}
	}

	size := sp.grid.Size()
	sp.result = &Result{
		Flux:   make([]float64, len(sp.stackers)*size),
		Weight: make([]float64, len(sp.stackers)*size),
	}
	for g, stacker := range sp.stackers {
		r := stacker.Result()
		copy(sp.result.Flux[g*size:], r.Flux)
		copy(sp.result.Weight[g*size:], r.Weight)
	}
	return nil
}

// Result returns the group-major concatenation of all group stacks.
func (sp *SplitStacker) Result() *Result {
	return sp.result
}

// GroupResults returns one Result per group, sliced out of the combined
// arrays so bootstrap errors attached afterwards stay visible.
func (sp *SplitStacker) GroupResults() []*Result {
	if sp.result == nil {
		return nil
	}
	size := sp.grid.Size()
	out := make([]*Result, len(sp.stackers))
	for g := range out {
		r := &Result{
			Flux:   sp.result.Flux[g*size : (g+1)*size],
			Weight: sp.result.Weight[g*size : (g+1)*size],
		}
		if sp.result.Error != nil {
			r.Error = sp.result.Error[g*size : (g+1)*size]
		}
		out[g] = r
	}
	return out
}

// GroupDefs returns the group-definition metadata of the assignment.
func (sp *SplitStacker) GroupDefs() []GroupDef {
	return sp.assignment.GroupDefs()
}
