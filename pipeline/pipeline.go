package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cwbudde/algo-specstack/internal/parallel"
	"github.com/cwbudde/algo-specstack/normalize"
	"github.com/cwbudde/algo-specstack/rebin"
	"github.com/cwbudde/algo-specstack/spectra"
	"github.com/cwbudde/algo-specstack/stack"
)

var (
	// ErrNoSpectra indicates a run without input spectra.
	ErrNoSpectra = errors.New("pipeline: no input spectra")
	// ErrUnknownStacker indicates a stacker kind outside the known set.
	ErrUnknownStacker = errors.New("pipeline: unknown stacker kind")
	// ErrNilCatalogue indicates a split run without the catalogue the cuts
	// apply to.
	ErrNilCatalogue = errors.New("pipeline: split stacking requires a catalogue")
)

// StackerKind selects the stacking statistic.
type StackerKind int

const (
	// StackMean is the inverse-variance weighted mean.
	StackMean StackerKind = iota
	// StackMedian is the per-bin median.
	StackMedian
)

// String returns the configuration name of the kind.
func (k StackerKind) String() string {
	switch k {
	case StackMean:
		return "mean"
	case StackMedian:
		return "median"
	default:
		return fmt.Sprintf("StackerKind(%d)", int(k))
	}
}

// ParseStackerKind converts a configuration string to a StackerKind.
func ParseStackerKind(s string) (StackerKind, error) {
	switch s {
	case "mean":
		return StackMean, nil
	case "median":
		return StackMedian, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownStacker, s)
	}
}

// SplitSpec configures group splitting.
type SplitSpec struct {
	Policy stack.SplitPolicy
	Cuts   []stack.CutSet
}

// Config assembles one stacking run. The zero value is not usable; grid
// bounds and step are mandatory.
type Config struct {
	GridMin  float64
	GridMax  float64
	GridStep float64
	GridKind spectra.StepKind

	// Restframe shifts wavelengths to the rest frame before rebinning.
	Restframe bool
	// SkipRebinning accepts spectra already sampled on the common grid.
	SkipRebinning bool

	// SkipNormalization stacks the common-grid flux without normalizing.
	SkipNormalization bool
	Regions           []normalize.Region
	MainRegion        int
	// SigmaI is the weight regularization constant. Zero keeps the
	// normalize package default (0.05); a negative value disables the
	// regularization.
	SigmaI float64

	Stacker        StackerKind
	WeightedMedian bool

	// BootstrapRealizations enables bootstrap error estimation when > 0.
	BootstrapRealizations int
	BootstrapSeed         int64

	// Split enables group splitting when non-nil.
	Split *SplitSpec

	// Workers bounds per-spectrum parallelism; <= 1 runs sequentially.
	// Results are identical for any worker count.
	Workers int

	// Logger receives per-stage progress; nil disables logging.
	Logger *slog.Logger
}

// normalizer is the stage contract satisfied by both normalize.Normalizer
// and normalize.NoNormalization.
type normalizer interface {
	ComputeFactors(ctx context.Context, list []*spectra.Spectrum) (*normalize.FactorsTable, error)
	Apply(s *spectra.Spectrum) (*spectra.Spectrum, error)
}

// Pipeline is a configured stacking run, reusable across Run calls.
type Pipeline struct {
	cfg    Config
	grid   *spectra.Grid
	rebin  *rebin.Rebinner
	norm   normalizer
	logger *slog.Logger
}

// RunResult bundles the outputs of one run.
type RunResult struct {
	// Stack is the combined result; for split runs it concatenates the
	// per-group arrays in group-number order.
	Stack *stack.Result
	// GroupResults and Groups are set only for split runs.
	GroupResults []*stack.Result
	Groups       []stack.GroupDef
	// Factors is the normalization table, trivial when normalization was
	// skipped.
	Factors *normalize.FactorsTable
}

// New resolves the configuration into a ready pipeline. All configuration
// errors surface here rather than mid-run.
func New(cfg Config) (*Pipeline, error) {
	grid, err := spectra.NewGrid(cfg.GridMin, cfg.GridMax, cfg.GridStep, cfg.GridKind)
	if err != nil {
		return nil, err
	}

	var rebinOpts []rebin.Option
	if cfg.Restframe {
		rebinOpts = append(rebinOpts, rebin.WithRestframe())
	}
	if cfg.SkipRebinning {
		rebinOpts = append(rebinOpts, rebin.WithoutRebinning())
	}
	rb, err := rebin.New(grid, rebinOpts...)
	if err != nil {
		return nil, err
	}

	var norm normalizer
	if cfg.SkipNormalization {
		norm, err = normalize.NewNoNormalization(grid)
	} else {
		var normOpts []normalize.Option
		if cfg.Regions != nil {
			normOpts = append(normOpts,
				normalize.WithRegions(cfg.Regions...),
				normalize.WithMainRegion(cfg.MainRegion))
		}
		if cfg.SigmaI != 0 {
			normOpts = append(normOpts, normalize.WithSigmaI(max(cfg.SigmaI, 0)))
		}
		normOpts = append(normOpts, normalize.WithWorkers(cfg.Workers))
		norm, err = normalize.New(grid, normOpts...)
	}
	if err != nil {
		return nil, err
	}

	if cfg.Stacker != StackMean && cfg.Stacker != StackMedian {
		return nil, fmt.Errorf("%w: %d", ErrUnknownStacker, int(cfg.Stacker))
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	return &Pipeline{
		cfg:    cfg,
		grid:   grid,
		rebin:  rb,
		norm:   norm,
		logger: logger,
	}, nil
}

// Grid returns the common wavelength grid of the run.
func (p *Pipeline) Grid() *spectra.Grid {
	return p.grid
}

// Normalizer exposes the resolved normalizer, for callers that reload a
// persisted factors table before Run.
func (p *Pipeline) Normalizer() (*normalize.Normalizer, bool) {
	n, ok := p.norm.(*normalize.Normalizer)
	return n, ok
}

// Run executes the pipeline on the given spectra. The catalogue is
// required only for split runs. Spectra are modified in place (common-grid
// and normalized arrays are attached).
func (p *Pipeline) Run(ctx context.Context, list []*spectra.Spectrum, cat *stack.Catalogue) (*RunResult, error) {
	if len(list) == 0 {
		return nil, ErrNoSpectra
	}
	if p.cfg.Split != nil && cat == nil {
		return nil, ErrNilCatalogue
	}

	start := time.Now()
	err := parallel.Map(ctx, p.cfg.Workers, len(list), func(i int) error {
		_, err := p.rebin.Apply(list[i])
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("pipeline: rebinning: %w", err)
	}
	p.logger.Info("rebinned spectra", "count", len(list), "elapsed", time.Since(start))

	start = time.Now()
	factors, err := p.norm.ComputeFactors(ctx, list)
	if err != nil {
		return nil, fmt.Errorf("pipeline: computing normalization factors: %w", err)
	}
	err = parallel.Map(ctx, p.cfg.Workers, len(list), func(i int) error {
		_, err := p.norm.Apply(list[i])
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("pipeline: normalizing: %w", err)
	}
	p.logger.Info("normalized spectra", "count", len(list), "elapsed", time.Since(start))

	stacker, split, err := p.buildStacker(cat)
	if err != nil {
		return nil, err
	}

	start = time.Now()
	if err := stacker.Stack(list); err != nil {
		return nil, fmt.Errorf("pipeline: stacking: %w", err)
	}
	p.logger.Info("stacked spectra", "count", len(list), "elapsed", time.Since(start))

	result := &RunResult{
		Stack:   stacker.Result(),
		Factors: factors,
	}
	if split != nil {
		result.GroupResults = split.GroupResults()
		result.Groups = split.GroupDefs()
	}
	return result, nil
}

// buildStacker composes the stacker chain: base statistic, optionally
// wrapped per group by a split stacker, optionally decorated with
// bootstrap error estimation. The split stacker is returned separately so
// Run can read per-group results through it.
func (p *Pipeline) buildStacker(cat *stack.Catalogue) (stack.Stacker, *stack.SplitStacker, error) {
	base := p.baseFactory()

	factory := base
	var split *stack.SplitStacker
	if p.cfg.Split != nil {
		assignment, err := stack.NewGroupAssignment(cat, p.cfg.Split.Cuts, p.cfg.Split.Policy)
		if err != nil {
			return nil, nil, err
		}
		factory = func() (stack.Stacker, error) {
			return stack.NewSplit(p.grid, assignment, base)
		}
	}

	if p.cfg.BootstrapRealizations > 0 {
		b, err := stack.NewBootstrap(p.grid, factory, p.cfg.BootstrapRealizations, p.cfg.BootstrapSeed)
		if err != nil {
			return nil, nil, err
		}
		// Per-group results must come from the decorator's own main
		// stacker, the one that sees the full input.
		if p.cfg.Split != nil {
			split = b.Main().(*stack.SplitStacker)
		}
		return b, split, nil
	}

	top, err := factory()
	if err != nil {
		return nil, nil, err
	}
	if s, ok := top.(*stack.SplitStacker); ok {
		split = s
	}
	return top, split, nil
}

// baseFactory returns the factory for the configured statistic.
func (p *Pipeline) baseFactory() stack.Factory {
	switch p.cfg.Stacker {
	case StackMedian:
		var opts []stack.MedianOption
		if p.cfg.WeightedMedian {
			opts = append(opts, stack.WithWeightedMedian())
		}
		return func() (stack.Stacker, error) {
			return stack.NewMedian(p.grid, opts...)
		}
	default:
		return func() (stack.Stacker, error) {
			return stack.NewMean(p.grid, stack.WithSigmaI(p.cfg.SigmaI))
		}
	}
}
