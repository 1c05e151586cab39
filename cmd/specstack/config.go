package main

import (
	"fmt"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/cwbudde/algo-specstack/normalize"
	"github.com/cwbudde/algo-specstack/pipeline"
	"github.com/cwbudde/algo-specstack/spectra"
	"github.com/cwbudde/algo-specstack/stack"
)

// runConfig is the YAML run description. Field semantics mirror
// pipeline.Config; strings stand in for the enums.
type runConfig struct {
	Grid struct {
		Min  float64 `yaml:"min"`
		Max  float64 `yaml:"max"`
		Step float64 `yaml:"step"`
		Kind string  `yaml:"kind"`
	} `yaml:"grid"`

	Restframe     bool `yaml:"restframe"`
	SkipRebinning bool `yaml:"skip_rebinning"`

	Normalization struct {
		Skip    bool `yaml:"skip"`
		Regions []struct {
			Start float64 `yaml:"start"`
			End   float64 `yaml:"end"`
		} `yaml:"regions"`
		MainRegion int     `yaml:"main_region"`
		SigmaI     float64 `yaml:"sigma_i"`
	} `yaml:"normalization"`

	Stacker struct {
		Kind           string `yaml:"kind"`
		WeightedMedian bool   `yaml:"weighted_median"`
	} `yaml:"stacker"`

	Bootstrap struct {
		Realizations int   `yaml:"realizations"`
		Seed         int64 `yaml:"seed"`
	} `yaml:"bootstrap"`

	Split *struct {
		Policy string `yaml:"policy"`
		Cuts   []struct {
			Variable string    `yaml:"variable"`
			Bounds   []float64 `yaml:"bounds"`
		} `yaml:"cuts"`
	} `yaml:"split"`

	Workers int `yaml:"workers"`
}

func loadRunConfig(path string) (*runConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg runConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("specstack: parsing %s: %w", path, err)
	}
	return &cfg, nil
}

func (c *runConfig) pipelineConfig(logger *slog.Logger) (pipeline.Config, error) {
	cfg := pipeline.Config{
		GridMin:               c.Grid.Min,
		GridMax:               c.Grid.Max,
		GridStep:              c.Grid.Step,
		Restframe:             c.Restframe,
		SkipRebinning:         c.SkipRebinning,
		SkipNormalization:     c.Normalization.Skip,
		MainRegion:            c.Normalization.MainRegion,
		SigmaI:                c.Normalization.SigmaI,
		WeightedMedian:        c.Stacker.WeightedMedian,
		BootstrapRealizations: c.Bootstrap.Realizations,
		BootstrapSeed:         c.Bootstrap.Seed,
		Workers:               c.Workers,
		Logger:                logger,
	}

	switch c.Grid.Kind {
	case "", "lin":
		cfg.GridKind = spectra.StepLinear
	case "log":
		cfg.GridKind = spectra.StepLog
	default:
		return cfg, fmt.Errorf("specstack: unknown grid kind %q (want lin or log)", c.Grid.Kind)
	}

	if c.Stacker.Kind != "" {
		kind, err := pipeline.ParseStackerKind(c.Stacker.Kind)
		if err != nil {
			return cfg, err
		}
		cfg.Stacker = kind
	}

	for _, r := range c.Normalization.Regions {
		cfg.Regions = append(cfg.Regions, normalize.Region{Start: r.Start, End: r.End})
	}

	if c.Split != nil {
		split := &pipeline.SplitSpec{}
		switch c.Split.Policy {
		case "", "AND":
			split.Policy = stack.SplitAnd
		case "OR":
			split.Policy = stack.SplitOr
		default:
			return cfg, fmt.Errorf("specstack: unknown split policy %q (want AND or OR)", c.Split.Policy)
		}
		for _, cut := range c.Split.Cuts {
			split.Cuts = append(split.Cuts, stack.CutSet{Variable: cut.Variable, Cuts: cut.Bounds})
		}
		cfg.Split = split
	}

	return cfg, nil
}
