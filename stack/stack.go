package stack

import (
	"errors"
	"fmt"

	"github.com/cwbudde/algo-specstack/spectra"
)

var (
	// ErrNilGrid indicates construction without a common wavelength grid.
	ErrNilGrid = errors.New("stack: common wavelength grid not configured")
	// ErrNilFactory indicates a decorator constructed without a base factory.
	ErrNilFactory = errors.New("stack: stacker factory not configured")
	// ErrCommonGridLength indicates a spectrum whose arrays are not on the
	// common grid.
	ErrCommonGridLength = errors.New("stack: spectrum arrays not on the common grid")
	// ErrNotImplemented indicates the weighted median variant, which is
	// documented but unimplemented and must fail rather than degrade to
	// the unweighted median.
	ErrNotImplemented = errors.New("stack: weighted median not implemented")
	// ErrExpectsNoSpectra indicates a merge-family stacker invoked with
	// live spectra; merge stackers only consume precomputed partial stacks.
	ErrExpectsNoSpectra = errors.New("stack: merge stacker expects no spectra")
	// ErrGridMismatch indicates partial stacks on different wavelength grids.
	ErrGridMismatch = errors.New("stack: partial stacks computed on different wavelength grids")
	// ErrNoPartials indicates a merge stacker constructed without input stacks.
	ErrNoPartials = errors.New("stack: no partial stacks to merge")
	// ErrStackerCount indicates a split stacker whose per-group stackers do
	// not match the group count.
	ErrStackerCount = errors.New("stack: per-group stackers not initialized")
	// ErrRealizations indicates an invalid bootstrap realization count.
	ErrRealizations = errors.New("stack: number of bootstrap realizations must be positive")
)

// Result holds a stacked spectrum. For split stacking the arrays are
// group-major concatenations of length groups*gridSize; use
// SplitStacker.GroupResults for per-group views. Error is nil unless a
// bootstrap stacker computed it.
type Result struct {
	Flux   []float64
	Weight []float64
	Error  []float64
}

// Stacker combines many normalized spectra into one composite. A Stacker
// is single-use: construct, call Stack once, then read Result.
type Stacker interface {
	Stack(spectra []*spectra.Spectrum) error
	Result() *Result
}

// Factory builds a fresh Stacker of some concrete kind. Decorators use it
// to create their inner stackers.
type Factory func() (Stacker, error)

// checkOnCommonGrid verifies the invariant that every stacked spectrum
// carries normalized flux and ivar of the common-grid length.
func checkOnCommonGrid(grid *spectra.Grid, list []*spectra.Spectrum) error {
	for _, s := range list {
		if len(s.NormalizedFlux) != grid.Size() || len(s.IvarCommonGrid) != grid.Size() {
			return fmt.Errorf("%w: spectrum %d has flux %d, ivar %d, grid %d",
				ErrCommonGridLength, s.SpecID,
				len(s.NormalizedFlux), len(s.IvarCommonGrid), grid.Size())
		}
	}
	return nil
}
