package normalize

import (
	"context"
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"

	"github.com/cwbudde/algo-specstack/internal/parallel"
	"github.com/cwbudde/algo-specstack/spectra"
)

var (
	// ErrNilGrid indicates construction without a common wavelength grid.
	ErrNilGrid = errors.New("normalize: common wavelength grid not configured")
	// ErrNoRegions indicates an empty region list.
	ErrNoRegions = errors.New("normalize: no normalization regions configured")
	// ErrInvalidRegion indicates a region whose start is not below its end.
	ErrInvalidRegion = errors.New("normalize: invalid normalization region")
	// ErrInvalidMainRegion indicates a main-region index outside the region list.
	ErrInvalidMainRegion = errors.New("normalize: main region index out of range")
	// ErrNoCommonMeasurements indicates a region that shares no valid
	// spectra with the main region and therefore cannot be bias-corrected.
	ErrNoCommonMeasurements = errors.New("normalize: no common measurements with the main region")
	// ErrUnknownSpectrum indicates a spectrum missing from the factors table.
	ErrUnknownSpectrum = errors.New("normalize: spectrum not present in the factors table")
	// ErrFactorsNotComputed indicates Apply before ComputeFactors/UseFactors.
	ErrFactorsNotComputed = errors.New("normalize: normalization factors not computed")
	// ErrRegionMismatch indicates a reloaded factors table whose regions
	// differ from the configured ones.
	ErrRegionMismatch = errors.New("normalize: factors table regions do not match configuration")
	// ErrCommonGridLength indicates a spectrum whose common-grid arrays do
	// not have the common-grid length.
	ErrCommonGridLength = errors.New("normalize: spectrum arrays not on the common grid")
)

type config struct {
	regions    []Region
	mainRegion int
	sigmaI     float64
	workers    int
}

// Option configures the Normalizer.
type Option func(*config)

// WithRegions sets the normalization regions as half-open [start, end)
// wavelength intervals.
func WithRegions(regions ...Region) Option {
	return func(cfg *config) {
		cfg.regions = regions
	}
}

// WithMainRegion designates the reference region all correction factors
// are expressed against.
func WithMainRegion(index int) Option {
	return func(cfg *config) {
		cfg.mainRegion = index
	}
}

// WithSigmaI sets the regularization constant bounding the weight of
// anomalously low-noise pixels. Zero disables the regularization; the
// default is 0.05.
func WithSigmaI(sigma float64) Option {
	return func(cfg *config) {
		if sigma >= 0 {
			cfg.sigmaI = sigma
		}
	}
}

// WithWorkers sets the worker count for per-spectrum factor computation.
// Values <= 1 run sequentially with identical results.
func WithWorkers(n int) Option {
	return func(cfg *config) {
		cfg.workers = n
	}
}

func defaultConfig() config {
	return config{
		regions: []Region{
			{Start: 1300, End: 1500},
			{Start: 2000, End: 2600},
			{Start: 4400, End: 4800},
		},
		mainRegion: 1,
		sigmaI:     0.05,
		workers:    1,
	}
}

// Normalizer computes multi-region normalization factors and applies them.
type Normalizer struct {
	grid       *spectra.Grid
	regions    []Region
	mainRegion int
	sigmaI2    float64
	workers    int

	table *FactorsTable
}

// New creates a multi-region Normalizer for the given grid.
func New(grid *spectra.Grid, opts ...Option) (*Normalizer, error) {
	if grid == nil {
		return nil, ErrNilGrid
	}

	cfg := defaultConfig()
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}

	if len(cfg.regions) == 0 {
		return nil, ErrNoRegions
	}
	for i, reg := range cfg.regions {
		if math.IsNaN(reg.Start) || math.IsNaN(reg.End) || reg.Start >= reg.End {
			return nil, fmt.Errorf("%w: region %d [%v, %v)",
				ErrInvalidRegion, i, reg.Start, reg.End)
		}
	}
	if cfg.mainRegion < 0 || cfg.mainRegion >= len(cfg.regions) {
		return nil, fmt.Errorf("%w: main region %d, have %d regions",
			ErrInvalidMainRegion, cfg.mainRegion, len(cfg.regions))
	}

	return &Normalizer{
		grid:       grid,
		regions:    append([]Region(nil), cfg.regions...),
		mainRegion: cfg.mainRegion,
		sigmaI2:    cfg.sigmaI * cfg.sigmaI,
		workers:    cfg.workers,
	}, nil
}

// Regions returns a copy of the configured regions.
func (n *Normalizer) Regions() []Region {
	return append([]Region(nil), n.regions...)
}

// ComputeFactors measures the per-spectrum per-region normalization
// factors, derives the correction factors and final selection, and
// retains the table for Apply. Rows keep the input spectrum order
// regardless of worker count.
func (n *Normalizer) ComputeFactors(ctx context.Context, spectraList []*spectra.Spectrum) (*FactorsTable, error) {
	table := newFactorsTable(n.regions, n.mainRegion, len(spectraList))

	err := parallel.Map(ctx, n.workers, len(spectraList), func(i int) error {
		s := spectraList[i]
		table.SpecIDs[i] = s.SpecID
		n.measureSpectrum(s, table.NormFactors[i], table.NormSN[i],
			table.NumPixels[i], table.TotalWeights[i])
		return nil
	})
	if err != nil {
		return nil, err
	}

	if err := table.finalize(); err != nil {
		return nil, err
	}
	n.table = table
	return table, nil
}

// measureSpectrum fills the per-region quantities for one spectrum from
// its raw arrays. A region with no usable pixel, or whose factor comes out
// non-positive, yields NaN factor/sn/weight; the pixel count is kept. A
// non-positive factor cannot normalize and must not enter the correction
// means, where a single negative value can flip or zero the population
// mean.
func (n *Normalizer) measureSpectrum(s *spectra.Spectrum, factors, sn []float64, pixels []int, weights []float64) {
	for r, reg := range n.regions {
		var sumFluxW, sumW, sumNoiseW float64
		count := 0
		for j, w := range s.Wavelength {
			iv := s.Ivar[j]
			if w < reg.Start || w >= reg.End || iv == 0 {
				continue
			}
			weight := iv / (1 + n.sigmaI2*iv)
			sumFluxW += s.Flux[j] * weight
			sumW += weight
			sumNoiseW += weight / iv
			count++
		}

		pixels[r] = count
		factor := math.NaN()
		if count > 0 {
			factor = sumFluxW / sumW
		}
		if math.IsNaN(factor) || factor <= 0 {
			factors[r] = math.NaN()
			sn[r] = math.NaN()
			weights[r] = math.NaN()
			continue
		}
		factors[r] = factor
		sn[r] = factor / math.Sqrt(sumNoiseW/sumW)
		weights[r] = sumW
	}
}

// UseFactors adopts a previously computed (typically reloaded) factors
// table instead of recomputing, after checking it was built for the same
// regions.
func (n *Normalizer) UseFactors(table *FactorsTable) error {
	if len(table.Regions) != len(n.regions) || table.MainRegion != n.mainRegion {
		return fmt.Errorf("%w: table has %d regions (main %d), configured %d (main %d)",
			ErrRegionMismatch, len(table.Regions), table.MainRegion,
			len(n.regions), n.mainRegion)
	}
	for i, reg := range table.Regions {
		if reg != n.regions[i] {
			return fmt.Errorf("%w: region %d is [%v, %v), configured [%v, %v)",
				ErrRegionMismatch, i, reg.Start, reg.End,
				n.regions[i].Start, n.regions[i].End)
		}
	}
	if table.index == nil {
		if err := table.finalize(); err != nil {
			return err
		}
	}
	n.table = table
	return nil
}

// Apply divides the spectrum's common-grid flux by its final normalization
// factor, writing NormalizedFlux in place and returning the same spectrum.
// A non-positive or NaN factor produces an all-NaN normalized flux rather
// than an error; such spectra are excluded from stacks by NaN-aware
// aggregation downstream.
func (n *Normalizer) Apply(s *spectra.Spectrum) (*spectra.Spectrum, error) {
	if n.table == nil {
		return nil, ErrFactorsNotComputed
	}
	if len(s.FluxCommonGrid) != n.grid.Size() {
		return nil, errCommonGridLength(s, n.grid)
	}

	row, ok := n.table.Row(s.SpecID)
	if !ok {
		return nil, fmt.Errorf("%w: specid %d", ErrUnknownSpectrum, s.SpecID)
	}

	factor := n.table.FinalFactor[row]
	normalized := make([]float64, len(s.FluxCommonGrid))
	if math.IsNaN(factor) || factor <= 0 {
		for i := range normalized {
			normalized[i] = math.NaN()
		}
	} else {
		floats.ScaleTo(normalized, 1/factor, s.FluxCommonGrid)
	}
	s.NormalizedFlux = normalized
	return s, nil
}

func errCommonGridLength(s *spectra.Spectrum, grid *spectra.Grid) error {
	return fmt.Errorf("%w: spectrum %d has %d pixels, grid has %d",
		ErrCommonGridLength, s.SpecID, len(s.FluxCommonGrid), grid.Size())
}
