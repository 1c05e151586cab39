package stack

import (
	"errors"
	"fmt"
)

var (
	// ErrMissingColumn indicates a split variable absent from the catalogue.
	ErrMissingColumn = errors.New("stack: catalogue column not found")
	// ErrCatalogueShape indicates catalogue columns of mismatched lengths
	// or duplicate spectrum identifiers.
	ErrCatalogueShape = errors.New("stack: malformed catalogue")
	// ErrInvalidCuts indicates a cut set with fewer than two boundaries or
	// boundaries out of order.
	ErrInvalidCuts = errors.New("stack: invalid split cuts")
	// ErrSplitPolicy indicates an unknown split policy.
	ErrSplitPolicy = errors.New("stack: invalid split policy")
)

// NoGroup is the group-number sentinel for values outside all configured
// intervals; such spectra are excluded from every group's stack.
const NoGroup = -1

// SplitPolicy selects how cuts on several variables combine.
type SplitPolicy int

const (
	// SplitOr assigns groups independently per variable; a spectrum may
	// belong to several groups, one group set per variable.
	SplitOr SplitPolicy = iota
	// SplitAnd assigns at most one group per spectrum, from the Cartesian
	// product of the per-variable interval indices.
	SplitAnd
)

// String returns the configuration name of the policy.
func (p SplitPolicy) String() string {
	switch p {
	case SplitOr:
		return "OR"
	case SplitAnd:
		return "AND"
	default:
		return fmt.Sprintf("SplitPolicy(%d)", int(p))
	}
}

// Catalogue associates spectrum identifiers with the attribute values
// used for group assignment.
type Catalogue struct {
	specIDs []int64
	columns map[string][]float64
	index   map[int64]int
}

// NewCatalogue builds a catalogue from parallel columns keyed by name.
// Every column must have one value per specid.
func NewCatalogue(specIDs []int64, columns map[string][]float64) (*Catalogue, error) {
	index := make(map[int64]int, len(specIDs))
	for i, id := range specIDs {
		if _, dup := index[id]; dup {
			return nil, fmt.Errorf("%w: duplicate specid %d", ErrCatalogueShape, id)
		}
		index[id] = i
	}
	for name, col := range columns {
		if len(col) != len(specIDs) {
			return nil, fmt.Errorf("%w: column %q has %d values for %d spectra",
				ErrCatalogueShape, name, len(col), len(specIDs))
		}
	}
	return &Catalogue{specIDs: specIDs, columns: columns, index: index}, nil
}

// Len returns the number of catalogue entries.
func (c *Catalogue) Len() int {
	return len(c.specIDs)
}

// SpecIDs returns the catalogue's spectrum identifiers in input order.
func (c *Catalogue) SpecIDs() []int64 {
	return append([]int64(nil), c.specIDs...)
}

func (c *Catalogue) column(name string) ([]float64, error) {
	col, ok := c.columns[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrMissingColumn, name)
	}
	return col, nil
}

// CutSet defines the ordered interval boundaries applied to one
// catalogue variable. Boundaries b0 < b1 < ... define half-open intervals
// [b_i, b_i+1); values outside all intervals map to NoGroup.
type CutSet struct {
	Variable string
	Cuts     []float64
}

func (cs CutSet) numIntervals() int {
	return len(cs.Cuts) - 1
}

// intervalIndex returns the interval containing value, or NoGroup.
func (cs CutSet) intervalIndex(value float64) int {
	for i := 0; i < cs.numIntervals(); i++ {
		if cs.Cuts[i] <= value && value < cs.Cuts[i+1] {
			return i
		}
	}
	return NoGroup
}

// VarBound records one variable's interval for a group definition.
type VarBound struct {
	Variable string
	Min      float64
	Max      float64
}

// GroupDef describes one group for writers: its number and the interval
// per variable that defines it.
type GroupDef struct {
	Number int
	Bounds []VarBound
}

// GroupAssignment maps spectrum identifiers to group numbers according to
// ordered cut intervals and a combination policy.
type GroupAssignment struct {
	policy    SplitPolicy
	numGroups int
	groups    map[int64][]int
	defs      []GroupDef
}

// NewGroupAssignment applies the cut sets to the catalogue under the
// given policy.
func NewGroupAssignment(cat *Catalogue, cuts []CutSet, policy SplitPolicy) (*GroupAssignment, error) {
	if cat == nil {
		return nil, fmt.Errorf("%w: nil catalogue", ErrCatalogueShape)
	}
	if policy != SplitOr && policy != SplitAnd {
		return nil, fmt.Errorf("%w: %d", ErrSplitPolicy, int(policy))
	}
	if len(cuts) == 0 {
		return nil, fmt.Errorf("%w: no cut sets", ErrInvalidCuts)
	}

	columns := make([][]float64, len(cuts))
	for i, cs := range cuts {
		if len(cs.Cuts) < 2 {
			return nil, fmt.Errorf("%w: variable %q needs at least two boundaries, found %d",
				ErrInvalidCuts, cs.Variable, len(cs.Cuts))
		}
		for j := 1; j < len(cs.Cuts); j++ {
			if cs.Cuts[j] <= cs.Cuts[j-1] {
				return nil, fmt.Errorf("%w: variable %q boundaries not increasing at index %d",
					ErrInvalidCuts, cs.Variable, j)
			}
		}
		col, err := cat.column(cs.Variable)
		if err != nil {
			return nil, err
		}
		columns[i] = col
	}

	ga := &GroupAssignment{
		policy: policy,
		groups: make(map[int64][]int, cat.Len()),
	}
	switch policy {
	case SplitOr:
		ga.assignOr(cat, cuts, columns)
	case SplitAnd:
		ga.assignAnd(cat, cuts, columns)
	}
	return ga, nil
}

// assignOr numbers groups variable by variable with running offsets; each
// spectrum gets at most one group per variable.
func (ga *GroupAssignment) assignOr(cat *Catalogue, cuts []CutSet, columns [][]float64) {
	offset := 0
	for vi, cs := range cuts {
		for row, id := range cat.specIDs {
			if idx := cs.intervalIndex(columns[vi][row]); idx != NoGroup {
				ga.groups[id] = append(ga.groups[id], offset+idx)
			}
		}
		for i := 0; i < cs.numIntervals(); i++ {
			ga.defs = append(ga.defs, GroupDef{
				Number: offset + i,
				Bounds: []VarBound{{Variable: cs.Variable, Min: cs.Cuts[i], Max: cs.Cuts[i+1]}},
			})
		}
		offset += cs.numIntervals()
	}
	ga.numGroups = offset
}

// assignAnd numbers groups as a mixed-radix index over the per-variable
// interval indices; a spectrum outside any variable's intervals gets no
// group.
func (ga *GroupAssignment) assignAnd(cat *Catalogue, cuts []CutSet, columns [][]float64) {
	ga.numGroups = 1
	for _, cs := range cuts {
		ga.numGroups *= cs.numIntervals()
	}

	for row, id := range cat.specIDs {
		group := 0
		radix := 1
		assigned := true
		for vi, cs := range cuts {
			idx := cs.intervalIndex(columns[vi][row])
			if idx == NoGroup {
				assigned = false
				break
			}
			group += idx * radix
			radix *= cs.numIntervals()
		}
		if assigned {
			ga.groups[id] = []int{group}
		}
	}

	for g := 0; g < ga.numGroups; g++ {
		def := GroupDef{Number: g}
		rem := g
		for _, cs := range cuts {
			idx := rem % cs.numIntervals()
			rem /= cs.numIntervals()
			def.Bounds = append(def.Bounds, VarBound{
				Variable: cs.Variable, Min: cs.Cuts[idx], Max: cs.Cuts[idx+1]})
		}
		ga.defs = append(ga.defs, def)
	}
}

// NumGroups returns the total number of groups.
func (ga *GroupAssignment) NumGroups() int {
	return ga.numGroups
}

// Policy returns the combination policy.
func (ga *GroupAssignment) Policy() SplitPolicy {
	return ga.policy
}

// Groups returns the group numbers a spectrum belongs to; nil means no
// group (the NoGroup sentinel applied to every variable).
func (ga *GroupAssignment) Groups(specID int64) []int {
	return ga.groups[specID]
}

// GroupDefs returns the group-definition metadata, one entry per group in
// group-number order.
func (ga *GroupAssignment) GroupDefs() []GroupDef {
	return append([]GroupDef(nil), ga.defs...)
}
