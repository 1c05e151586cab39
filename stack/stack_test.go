package stack

import (
	"bytes"
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cwbudde/algo-specstack/internal/testutil"
	"github.com/cwbudde/algo-specstack/spectra"
)

// stackReady builds a spectrum on the grid with the given per-bin flux
// and ivar, marked as normalized so stackers accept it directly.
func stackReady(t *testing.T, specID int64, grid *spectra.Grid, flux, ivar []float64) *spectra.Spectrum {
	t.Helper()
	s, err := spectra.New(specID, 0, flux, ivar, grid.Wavelength())
	require.NoError(t, err)
	return testutil.Normalized(s)
}

func TestMeanStackerWeightedAverage(t *testing.T) {
	grid := testutil.MustGrid(t, 1000, 1003, 1, spectra.StepLinear)

	list := []*spectra.Spectrum{
		stackReady(t, 1, grid, []float64{2, 2, 2}, []float64{1, 1, 1}),
		stackReady(t, 2, grid, []float64{4, 4, 4}, []float64{1, 1, 1}),
		stackReady(t, 3, grid, []float64{6, 6, 6}, []float64{1, 1, 1}),
	}

	m, err := NewMean(grid)
	require.NoError(t, err)
	require.NoError(t, m.Stack(list))

	testutil.RequireSliceNearlyEqual(t, m.Result().Flux, []float64{4, 4, 4}, 1e-12)
	testutil.RequireSliceNearlyEqual(t, m.Result().Weight, []float64{3, 3, 3}, 1e-12)
}

func TestMeanStackerSkipsNaNAndZeroIvar(t *testing.T) {
	grid := testutil.MustGrid(t, 1000, 1003, 1, spectra.StepLinear)

	list := []*spectra.Spectrum{
		stackReady(t, 1, grid, []float64{2, 2, 2}, []float64{1, 1, 1}),
		stackReady(t, 2, grid, []float64{4, 4, 4}, []float64{1, 1, 1}),
		stackReady(t, 3, grid, []float64{6, math.NaN(), 6}, []float64{1, 1, 0}),
	}

	m, err := NewMean(grid)
	require.NoError(t, err)
	require.NoError(t, m.Stack(list))

	// bin 0 uses all three; bin 1 drops the NaN flux; bin 2 drops the
	// zero-ivar pixel.
	testutil.RequireSliceNearlyEqual(t, m.Result().Flux, []float64{4, 3, 3}, 1e-12)
	testutil.RequireSliceNearlyEqual(t, m.Result().Weight, []float64{3, 2, 2}, 1e-12)
}

func TestMeanStackerZeroWeightBinStaysZero(t *testing.T) {
	grid := testutil.MustGrid(t, 1000, 1002, 1, spectra.StepLinear)

	list := []*spectra.Spectrum{
		stackReady(t, 1, grid, []float64{5, 5}, []float64{1, 0}),
	}

	m, err := NewMean(grid)
	require.NoError(t, err)
	require.NoError(t, m.Stack(list))

	require.Equal(t, 0.0, m.Result().Flux[1])
	require.Equal(t, 0.0, m.Result().Weight[1])
}

func TestMeanStackerRegularizedWeights(t *testing.T) {
	grid := testutil.MustGrid(t, 1000, 1001, 1, spectra.StepLinear)

	// Without regularization the huge-ivar pixel dominates completely;
	// with sigmaI = 1 both weights saturate near 1 and the mean moves
	// toward the midpoint.
	list := []*spectra.Spectrum{
		stackReady(t, 1, grid, []float64{10}, []float64{1000}),
		stackReady(t, 2, grid, []float64{0}, []float64{1}),
	}

	plain, err := NewMean(grid)
	require.NoError(t, err)
	require.NoError(t, plain.Stack(list))
	require.Greater(t, plain.Result().Flux[0], 9.9)

	reg, err := NewMean(grid, WithSigmaI(1))
	require.NoError(t, err)
	require.NoError(t, reg.Stack(list))
	require.Less(t, reg.Result().Flux[0], 7.0)
	require.Greater(t, reg.Result().Flux[0], 5.0)
}

func TestMeanStackerRejectsOffGridSpectrum(t *testing.T) {
	grid := testutil.MustGrid(t, 1000, 1003, 1, spectra.StepLinear)
	short := testutil.MustGrid(t, 1000, 1002, 1, spectra.StepLinear)

	m, err := NewMean(grid)
	require.NoError(t, err)
	err = m.Stack([]*spectra.Spectrum{
		stackReady(t, 7, short, []float64{1, 1}, []float64{1, 1}),
	})
	require.ErrorIs(t, err, ErrCommonGridLength)
	require.Contains(t, err.Error(), "7")
}

func TestMedianStacker(t *testing.T) {
	grid := testutil.MustGrid(t, 1000, 1003, 1, spectra.StepLinear)

	list := []*spectra.Spectrum{
		stackReady(t, 1, grid, []float64{1, 1, 4}, []float64{1, 1, 1}),
		stackReady(t, 2, grid, []float64{2, math.NaN(), 8}, []float64{1, 2, 1}),
		stackReady(t, 3, grid, []float64{9, 3, 6}, []float64{1, 1, 0}),
	}

	m, err := NewMedian(grid)
	require.NoError(t, err)
	require.NoError(t, m.Stack(list))

	// bin 0: median(1, 2, 9); bin 1: median(1, 3) with the NaN dropped;
	// bin 2: median(4, 8) with the zero-ivar pixel dropped.
	testutil.RequireSliceNearlyEqual(t, m.Result().Flux, []float64{2, 2, 6}, 1e-12)
	// Weights are the plain ivar sums, zero-ivar pixels included as zero.
	testutil.RequireSliceNearlyEqual(t, m.Result().Weight, []float64{3, 4, 2}, 1e-12)
}

func TestMedianStackerEmptyBinIsNaN(t *testing.T) {
	grid := testutil.MustGrid(t, 1000, 1002, 1, spectra.StepLinear)

	list := []*spectra.Spectrum{
		stackReady(t, 1, grid, []float64{5, 5}, []float64{1, 0}),
	}

	m, err := NewMedian(grid)
	require.NoError(t, err)
	require.NoError(t, m.Stack(list))
	require.True(t, math.IsNaN(m.Result().Flux[1]))
}

func TestWeightedMedianNotImplemented(t *testing.T) {
	grid := testutil.MustGrid(t, 1000, 1002, 1, spectra.StepLinear)

	m, err := NewMedian(grid, WithWeightedMedian())
	require.NoError(t, err)
	err = m.Stack([]*spectra.Spectrum{
		stackReady(t, 1, grid, []float64{1, 1}, []float64{1, 1}),
	})
	require.ErrorIs(t, err, ErrNotImplemented)
}

func TestBootstrapReproducibility(t *testing.T) {
	grid := testutil.MustGrid(t, 1000, 1020, 1, spectra.StepLinear)

	list := make([]*spectra.Spectrum, 8)
	for i := range list {
		list[i] = testutil.Normalized(testutil.NoisySpectrum(t, int64(i+1), grid, 10, int64(100+i)))
	}

	factory := func() (Stacker, error) { return NewMean(grid) }

	run := func() *Result {
		b, err := NewBootstrap(grid, factory, 25, 42)
		require.NoError(t, err)
		require.NoError(t, b.Stack(list))
		return b.Result()
	}

	first := run()
	second := run()
	require.Len(t, first.Error, grid.Size())
	testutil.RequireSliceIdentical(t, first.Error, second.Error)
	testutil.RequireSliceIdentical(t, first.Flux, second.Flux)
	testutil.RequireFinite(t, first.Error)
}

func TestBootstrapSeedChangesErrors(t *testing.T) {
	grid := testutil.MustGrid(t, 1000, 1020, 1, spectra.StepLinear)

	list := make([]*spectra.Spectrum, 8)
	for i := range list {
		list[i] = testutil.Normalized(testutil.NoisySpectrum(t, int64(i+1), grid, 10, int64(200+i)))
	}
	factory := func() (Stacker, error) { return NewMean(grid) }

	a, err := NewBootstrap(grid, factory, 25, 1)
	require.NoError(t, err)
	require.NoError(t, a.Stack(list))
	b, err := NewBootstrap(grid, factory, 25, 2)
	require.NoError(t, err)
	require.NoError(t, b.Stack(list))

	different := false
	for j := range a.Result().Error {
		if a.Result().Error[j] != b.Result().Error[j] {
			different = true
			break
		}
	}
	require.True(t, different, "distinct seeds should produce distinct errors")
}

func TestBootstrapValidation(t *testing.T) {
	grid := testutil.MustGrid(t, 1000, 1002, 1, spectra.StepLinear)
	factory := func() (Stacker, error) { return NewMean(grid) }

	_, err := NewBootstrap(nil, factory, 10, 0)
	require.ErrorIs(t, err, ErrNilGrid)
	_, err = NewBootstrap(grid, nil, 10, 0)
	require.ErrorIs(t, err, ErrNilFactory)
	_, err = NewBootstrap(grid, factory, 0, 0)
	require.ErrorIs(t, err, ErrRealizations)
}

func TestGroupAssignmentOr(t *testing.T) {
	cat, err := NewCatalogue(
		[]int64{1, 2, 3},
		map[string][]float64{
			"z":    {0.5, 1.5, 5.0},
			"mass": {9.5, 10.5, 9.5},
		},
	)
	require.NoError(t, err)

	ga, err := NewGroupAssignment(cat, []CutSet{
		{Variable: "z", Cuts: []float64{0, 1, 2}},
		{Variable: "mass", Cuts: []float64{9, 10, 11}},
	}, SplitOr)
	require.NoError(t, err)

	require.Equal(t, 4, ga.NumGroups())
	// Spectrum 1: z interval 0 and mass interval 0 (group 2 after offset).
	require.Equal(t, []int{0, 2}, ga.Groups(1))
	// Spectrum 2: z interval 1, mass interval 1.
	require.Equal(t, []int{1, 3}, ga.Groups(2))
	// Spectrum 3: z outside all cuts, mass interval 0.
	require.Equal(t, []int{2}, ga.Groups(3))

	defs := ga.GroupDefs()
	require.Len(t, defs, 4)
	require.Equal(t, "z", defs[0].Bounds[0].Variable)
	require.Equal(t, "mass", defs[2].Bounds[0].Variable)
	require.Equal(t, 9.0, defs[2].Bounds[0].Min)
}

func TestGroupAssignmentAndPartition(t *testing.T) {
	specIDs := []int64{1, 2, 3, 4, 5, 6}
	cat, err := NewCatalogue(
		specIDs,
		map[string][]float64{
			"z":    {0.5, 1.5, 0.5, 1.5, 0.5, 9.0},
			"mass": {9.5, 9.5, 10.5, 10.5, 9.5, 9.5},
		},
	)
	require.NoError(t, err)

	ga, err := NewGroupAssignment(cat, []CutSet{
		{Variable: "z", Cuts: []float64{0, 1, 2}},
		{Variable: "mass", Cuts: []float64{9, 10, 11}},
	}, SplitAnd)
	require.NoError(t, err)
	require.Equal(t, 4, ga.NumGroups())

	// Under AND every spectrum lands in at most one group, and the group
	// sizes account for every assigned spectrum exactly once.
	counts := make([]int, ga.NumGroups())
	assigned := 0
	for _, id := range specIDs {
		groups := ga.Groups(id)
		require.LessOrEqual(t, len(groups), 1)
		if len(groups) == 1 {
			counts[groups[0]]++
			assigned++
		}
	}
	require.Equal(t, 5, assigned, "spectrum 6 lies outside the z cuts")
	require.Equal(t, []int{2, 1, 1, 1}, counts)

	defs := ga.GroupDefs()
	require.Len(t, defs, 4)
	// Group 0 is the first interval of every variable.
	require.Equal(t, 0.0, defs[0].Bounds[0].Min)
	require.Equal(t, 9.0, defs[0].Bounds[1].Min)
	// Group 3 is the last interval of every variable.
	require.Equal(t, 1.0, defs[3].Bounds[0].Min)
	require.Equal(t, 10.0, defs[3].Bounds[1].Min)
}

func TestGroupAssignmentValidation(t *testing.T) {
	cat, err := NewCatalogue([]int64{1}, map[string][]float64{"z": {0.5}})
	require.NoError(t, err)

	_, err = NewGroupAssignment(cat, []CutSet{{Variable: "mass", Cuts: []float64{9, 10}}}, SplitAnd)
	require.ErrorIs(t, err, ErrMissingColumn)

	_, err = NewGroupAssignment(cat, []CutSet{{Variable: "z", Cuts: []float64{1}}}, SplitAnd)
	require.ErrorIs(t, err, ErrInvalidCuts)

	_, err = NewGroupAssignment(cat, []CutSet{{Variable: "z", Cuts: []float64{1, 1}}}, SplitAnd)
	require.ErrorIs(t, err, ErrInvalidCuts)

	_, err = NewGroupAssignment(cat, nil, SplitAnd)
	require.ErrorIs(t, err, ErrInvalidCuts)

	_, err = NewGroupAssignment(cat, []CutSet{{Variable: "z", Cuts: []float64{0, 1}}}, SplitPolicy(9))
	require.ErrorIs(t, err, ErrSplitPolicy)

	_, err = NewCatalogue([]int64{1, 1}, nil)
	require.ErrorIs(t, err, ErrCatalogueShape)

	_, err = NewCatalogue([]int64{1, 2}, map[string][]float64{"z": {0.5}})
	require.ErrorIs(t, err, ErrCatalogueShape)
}

func TestSplitStacker(t *testing.T) {
	grid := testutil.MustGrid(t, 1000, 1002, 1, spectra.StepLinear)

	cat, err := NewCatalogue(
		[]int64{1, 2, 3},
		map[string][]float64{"z": {0.5, 0.5, 1.5}},
	)
	require.NoError(t, err)
	ga, err := NewGroupAssignment(cat, []CutSet{
		{Variable: "z", Cuts: []float64{0, 1, 2}},
	}, SplitAnd)
	require.NoError(t, err)

	sp, err := NewSplit(grid, ga, func() (Stacker, error) { return NewMean(grid) })
	require.NoError(t, err)

	list := []*spectra.Spectrum{
		stackReady(t, 1, grid, []float64{2, 2}, []float64{1, 1}),
		stackReady(t, 2, grid, []float64{4, 4}, []float64{1, 1}),
		stackReady(t, 3, grid, []float64{10, 10}, []float64{2, 2}),
	}
	require.NoError(t, sp.Stack(list))

	combined := sp.Result()
	testutil.RequireSliceNearlyEqual(t, combined.Flux, []float64{3, 3, 10, 10}, 1e-12)
	testutil.RequireSliceNearlyEqual(t, combined.Weight, []float64{2, 2, 2, 2}, 1e-12)

	groups := sp.GroupResults()
	require.Len(t, groups, 2)
	testutil.RequireSliceNearlyEqual(t, groups[0].Flux, []float64{3, 3}, 1e-12)
	testutil.RequireSliceNearlyEqual(t, groups[1].Flux, []float64{10, 10}, 1e-12)

	defs := sp.GroupDefs()
	require.Len(t, defs, 2)
	require.Equal(t, 0, defs[0].Number)
}

func TestSplitStackerWithBootstrap(t *testing.T) {
	grid := testutil.MustGrid(t, 1000, 1002, 1, spectra.StepLinear)

	cat, err := NewCatalogue(
		[]int64{1, 2, 3, 4},
		map[string][]float64{"z": {0.5, 0.5, 1.5, 1.5}},
	)
	require.NoError(t, err)
	ga, err := NewGroupAssignment(cat, []CutSet{
		{Variable: "z", Cuts: []float64{0, 1, 2}},
	}, SplitAnd)
	require.NoError(t, err)

	factory := func() (Stacker, error) {
		return NewSplit(grid, ga, func() (Stacker, error) { return NewMean(grid) })
	}
	b, err := NewBootstrap(grid, factory, 10, 7)
	require.NoError(t, err)

	list := []*spectra.Spectrum{
		stackReady(t, 1, grid, []float64{2, 2}, []float64{1, 1}),
		stackReady(t, 2, grid, []float64{4, 4}, []float64{1, 1}),
		stackReady(t, 3, grid, []float64{10, 10}, []float64{1, 1}),
		stackReady(t, 4, grid, []float64{12, 12}, []float64{1, 1}),
	}
	require.NoError(t, b.Stack(list))

	// The bootstrap error spans the full concatenated result.
	require.Len(t, b.Result().Error, 2*grid.Size())
}

func TestMergeMeanMatchesDirectStack(t *testing.T) {
	grid := testutil.MustGrid(t, 1000, 1005, 1, spectra.StepLinear)

	all := []*spectra.Spectrum{
		stackReady(t, 1, grid, []float64{2, 2, 2, 2, 2}, []float64{1, 1, 1, 1, 1}),
		stackReady(t, 2, grid, []float64{4, 4, 4, 4, 4}, []float64{2, 2, 2, 2, 2}),
		stackReady(t, 3, grid, []float64{6, 6, 6, 6, 6}, []float64{1, 1, 1, 1, 1}),
		stackReady(t, 4, grid, []float64{8, 8, 8, 8, 8}, []float64{3, 3, 3, 3, 3}),
	}

	direct, err := NewMean(grid)
	require.NoError(t, err)
	require.NoError(t, direct.Stack(all))

	stackSubset := func(subset []*spectra.Spectrum) *Partial {
		m, err := NewMean(grid)
		require.NoError(t, err)
		require.NoError(t, m.Stack(subset))
		return &Partial{
			Wavelength: grid.Wavelength(),
			Flux:       m.Result().Flux,
			Weight:     m.Result().Weight,
		}
	}

	merge, err := NewMergeMean(grid, []*Partial{
		stackSubset(all[:2]),
		stackSubset(all[2:]),
	})
	require.NoError(t, err)
	require.NoError(t, merge.Stack(nil))

	testutil.RequireSliceNearlyEqual(t, merge.Result().Flux, direct.Result().Flux, 1e-12)
	testutil.RequireSliceNearlyEqual(t, merge.Result().Weight, direct.Result().Weight, 1e-12)
}

func TestMergeMeanNaNFluxKeepsWeight(t *testing.T) {
	grid := testutil.MustGrid(t, 1000, 1002, 1, spectra.StepLinear)

	merge, err := NewMergeMean(grid, []*Partial{
		{Wavelength: grid.Wavelength(), Flux: []float64{2, math.NaN()}, Weight: []float64{1, 1}},
		{Wavelength: grid.Wavelength(), Flux: []float64{4, 6}, Weight: []float64{1, 2}},
	})
	require.NoError(t, err)
	require.NoError(t, merge.Stack(nil))

	require.InDelta(t, 3.0, merge.Result().Flux[0], 1e-12)
	require.InDelta(t, 2.0, merge.Result().Weight[0], 1e-12)

	// bin 1: the NaN-flux partial adds nothing to the numerator but its
	// weight stays in the denominator and the weight sum
	require.InDelta(t, 4.0, merge.Result().Flux[1], 1e-12)
	require.InDelta(t, 3.0, merge.Result().Weight[1], 1e-12)
}

func TestMergeMedian(t *testing.T) {
	grid := testutil.MustGrid(t, 1000, 1002, 1, spectra.StepLinear)

	partials := []*Partial{
		{Wavelength: grid.Wavelength(), Flux: []float64{1, math.NaN()}, Weight: []float64{1, 1}},
		{Wavelength: grid.Wavelength(), Flux: []float64{3, 4}, Weight: []float64{1, 1}},
		{Wavelength: grid.Wavelength(), Flux: []float64{9, 8}, Weight: []float64{1, 1}},
	}
	merge, err := NewMergeMedian(grid, partials)
	require.NoError(t, err)
	require.NoError(t, merge.Stack(nil))

	testutil.RequireSliceNearlyEqual(t, merge.Result().Flux, []float64{3, 6}, 1e-12)
	testutil.RequireSliceNearlyEqual(t, merge.Result().Weight, []float64{3, 3}, 1e-12)

	weighted, err := NewMergeMedian(grid, partials, WithWeightedMedian())
	require.NoError(t, err)
	require.ErrorIs(t, weighted.Stack(nil), ErrNotImplemented)
}

func TestMergeRejectsSpectra(t *testing.T) {
	grid := testutil.MustGrid(t, 1000, 1002, 1, spectra.StepLinear)
	partials := []*Partial{
		{Wavelength: grid.Wavelength(), Flux: []float64{1, 2}, Weight: []float64{1, 1}},
	}

	merge, err := NewMergeMean(grid, partials)
	require.NoError(t, err)
	err = merge.Stack([]*spectra.Spectrum{
		stackReady(t, 1, grid, []float64{1, 1}, []float64{1, 1}),
	})
	require.ErrorIs(t, err, ErrExpectsNoSpectra)

	median, err := NewMergeMedian(grid, partials)
	require.NoError(t, err)
	err = median.Stack([]*spectra.Spectrum{
		stackReady(t, 1, grid, []float64{1, 1}, []float64{1, 1}),
	})
	require.ErrorIs(t, err, ErrExpectsNoSpectra)
}

func TestMergeGridVerification(t *testing.T) {
	grid := testutil.MustGrid(t, 1000, 1002, 1, spectra.StepLinear)

	_, err := NewMergeMean(grid, nil)
	require.ErrorIs(t, err, ErrNoPartials)

	_, err = NewMergeMean(grid, []*Partial{
		{Wavelength: []float64{1000}, Flux: []float64{1}, Weight: []float64{1}},
	})
	require.ErrorIs(t, err, ErrGridMismatch)
	require.Contains(t, err.Error(), "partial 0")

	_, err = NewMergeMean(grid, []*Partial{
		{Wavelength: grid.Wavelength(), Flux: []float64{1, 2}, Weight: []float64{1, 1}},
		{Wavelength: []float64{1000, 1001.5}, Flux: []float64{1, 2}, Weight: []float64{1, 1}},
	})
	require.ErrorIs(t, err, ErrGridMismatch)
	require.Contains(t, err.Error(), "partial 1 bin 1")
}

func TestPartialCSVRoundTrip(t *testing.T) {
	grid := testutil.MustGrid(t, 1000, 1003, 1, spectra.StepLinear)
	result := &Result{
		Flux:   []float64{1.5, math.NaN(), 3.25},
		Weight: []float64{2, 0, 4},
		Error:  []float64{0.1, math.NaN(), 0.3},
	}

	var buf bytes.Buffer
	require.NoError(t, WritePartialCSV(&buf, grid.Wavelength(), result))

	p, err := ReadPartialCSV(&buf)
	require.NoError(t, err)
	testutil.RequireSliceIdentical(t, p.Wavelength, grid.Wavelength())
	testutil.RequireSliceIdentical(t, p.Flux, result.Flux)
	testutil.RequireSliceIdentical(t, p.Weight, result.Weight)
	testutil.RequireSliceIdentical(t, p.Error, result.Error)
}

func TestPartialCSVWithoutErrorColumn(t *testing.T) {
	grid := testutil.MustGrid(t, 1000, 1002, 1, spectra.StepLinear)
	result := &Result{Flux: []float64{1, 2}, Weight: []float64{3, 4}}

	var buf bytes.Buffer
	require.NoError(t, WritePartialCSV(&buf, grid.Wavelength(), result))
	require.NotContains(t, buf.String(), "stacked_error")

	p, err := ReadPartialCSV(&buf)
	require.NoError(t, err)
	require.Nil(t, p.Error)
	testutil.RequireSliceIdentical(t, p.Flux, result.Flux)
}

func TestReadPartialCSVRejectsMalformed(t *testing.T) {
	cases := map[string]string{
		"empty":      "",
		"bad header": "a,b,c\n1,2,3\n",
		"bad value":  "wavelength,stacked_flux,stacked_weight\n1000,x,1\n",
	}
	for name, input := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ReadPartialCSV(strings.NewReader(input))
			require.Error(t, err)
		})
	}
}
