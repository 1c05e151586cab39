package stack

import (
	"fmt"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/stat"

	"github.com/cwbudde/algo-specstack/spectra"
)

// BootstrapStacker decorates a base stacker with bootstrap error
// estimation: the main stack runs on the full input, then each of the N
// realizations stacks a resample drawn with replacement, and the per-bin
// standard deviation across realizations becomes the stacked error.
//
// The generator is seeded once and consumed in a fixed order (main stack
// first, then realizations 0..N-1), independent of worker count, so two
// runs with identical seed and input produce bit-for-bit identical
// errors.
type BootstrapStacker struct {
	grid         *spectra.Grid
	main         Stacker
	realizations []Stacker
	seed         int64
}

// NewBootstrap creates a bootstrap decorator over stackers built by
// factory.
func NewBootstrap(grid *spectra.Grid, factory Factory, realizations int, seed int64) (*BootstrapStacker, error) {
	if grid == nil {
		return nil, ErrNilGrid
	}
	if factory == nil {
		return nil, ErrNilFactory
	}
	if realizations <= 0 {
		return nil, fmt.Errorf("%w: found %d", ErrRealizations, realizations)
	}

	main, err := factory()
	if err != nil {
		return nil, fmt.Errorf("stack: building main stacker: %w", err)
	}
	inner := make([]Stacker, realizations)
	for i := range inner {
		if inner[i], err = factory(); err != nil {
			return nil, fmt.Errorf("stack: building bootstrap stacker %d: %w", i, err)
		}
	}

	return &BootstrapStacker{
		grid:         grid,
		main:         main,
		realizations: inner,
		seed:         seed,
	}, nil
}

// Stack runs the main stack, the bootstrap realizations, and the error
// estimation. Resampling is sequential on the caller so the pseudo-random
// draws stay deterministic.
func (b *BootstrapStacker) Stack(list []*spectra.Spectrum) error {
	if err := b.main.Stack(list); err != nil {
		return err
	}

	rng := rand.New(rand.NewSource(b.seed))
	for i, stacker := range b.realizations {
		resample := make([]*spectra.Spectrum, len(list))
		for j := range resample {
			resample[j] = list[rng.Intn(len(list))]
		}
		if err := stacker.Stack(resample); err != nil {
			return fmt.Errorf("stack: bootstrap realization %d: %w", i, err)
		}
	}

	b.main.Result().Error = b.computeErrors()
	return nil
}

// computeErrors returns the NaN-aware per-bin population standard
// deviation across the realization fluxes.
func (b *BootstrapStacker) computeErrors() []float64 {
	size := len(b.main.Result().Flux)
	errs := make([]float64, size)
	values := make([]float64, 0, len(b.realizations))
	for j := 0; j < size; j++ {
		values = values[:0]
		for _, stacker := range b.realizations {
			if f := stacker.Result().Flux[j]; !math.IsNaN(f) {
				values = append(values, f)
			}
		}
		if len(values) == 0 {
			errs[j] = math.NaN()
			continue
		}
		errs[j] = math.Sqrt(stat.PopVariance(values, nil))
	}
	return errs
}

// Result returns the main stack with the bootstrap error attached.
func (b *BootstrapStacker) Result() *Result {
	return b.main.Result()
}

// Main exposes the decorated stacker that ran on the full input, for
// callers that need its concrete type (split stackers expose per-group
// views there).
func (b *BootstrapStacker) Main() Stacker {
	return b.main
}
