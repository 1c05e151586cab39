// Command specstack stacks astronomical spectra onto a common wavelength
// grid.
//
// Usage:
//
//	specstack -config run.yaml -spectra spectra.csv -out stack.csv
//
// The run configuration (grid, normalization regions, stacking mode) is
// read from a YAML file; spectra and the optional catalogue arrive as CSV.
// Split runs write one stack file per group next to -out.
//
// Examples:
//
//	specstack -config run.yaml -spectra spectra.csv -out stack.csv
//	specstack -config run.yaml -spectra s.csv -catalogue cat.csv -out stack.csv
//	specstack -config run.yaml -spectra s.csv -out stack.csv -factors factors.csv
//	specstack -merge partA.csv,partB.csv -config run.yaml -out merged.csv
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/cwbudde/algo-specstack/normalize"
	"github.com/cwbudde/algo-specstack/pipeline"
	"github.com/cwbudde/algo-specstack/stack"
)

func main() {
	configPath := flag.String("config", "", "run configuration YAML file (required)")
	spectraPath := flag.String("spectra", "", "input spectra CSV file")
	cataloguePath := flag.String("catalogue", "", "catalogue CSV file for split runs")
	outPath := flag.String("out", "stack.csv", "output stack CSV file")
	factorsPath := flag.String("factors", "", "write the normalization factors table to this CSV file")
	useFactorsPath := flag.String("use-factors", "", "reuse a previously written factors table instead of recomputing")
	mergeList := flag.String("merge", "", "comma-separated partial stack files to merge instead of stacking spectra")
	mergeMedian := flag.Bool("merge-median", false, "merge partial stacks by median instead of mean")
	workers := flag.Int("workers", 0, "override the worker count from the configuration")
	verbose := flag.Bool("v", false, "log per-stage progress")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: specstack [flags]\n\n")
		fmt.Fprintf(os.Stderr, "Stacks astronomical spectra onto a common wavelength grid.\n\n")
		fmt.Fprintf(os.Stderr, "Flags:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  specstack -config run.yaml -spectra spectra.csv -out stack.csv\n")
		fmt.Fprintf(os.Stderr, "  specstack -config run.yaml -spectra s.csv -catalogue cat.csv -out stack.csv\n")
		fmt.Fprintf(os.Stderr, "  specstack -merge partA.csv,partB.csv -config run.yaml -out merged.csv\n")
	}
	flag.Parse()

	if *configPath == "" {
		fmt.Fprintf(os.Stderr, "error: -config is required\n")
		flag.Usage()
		os.Exit(1)
	}

	cfg, err := loadRunConfig(*configPath)
	if err != nil {
		fatal(err)
	}
	if *workers > 0 {
		cfg.Workers = *workers
	}

	var logger *slog.Logger
	if *verbose {
		logger = slog.New(slog.NewTextHandler(os.Stderr, nil))
	}

	pcfg, err := cfg.pipelineConfig(logger)
	if err != nil {
		fatal(err)
	}
	p, err := pipeline.New(pcfg)
	if err != nil {
		fatal(err)
	}

	if *mergeList != "" {
		if err := runMerge(p, strings.Split(*mergeList, ","), *mergeMedian, *outPath); err != nil {
			fatal(err)
		}
		return
	}

	if *spectraPath == "" {
		fmt.Fprintf(os.Stderr, "error: -spectra is required unless -merge is given\n")
		os.Exit(1)
	}
	if err := runStack(p, *spectraPath, *cataloguePath, *outPath, *factorsPath, *useFactorsPath); err != nil {
		fatal(err)
	}
}

func runStack(p *pipeline.Pipeline, spectraPath, cataloguePath, outPath, factorsPath, useFactorsPath string) error {
	list, err := readSpectraCSV(spectraPath)
	if err != nil {
		return err
	}

	var cat *stack.Catalogue
	if cataloguePath != "" {
		if cat, err = readCatalogueCSV(cataloguePath); err != nil {
			return err
		}
	}

	if useFactorsPath != "" {
		n, ok := p.Normalizer()
		if !ok {
			return fmt.Errorf("specstack: -use-factors requires normalization to be enabled")
		}
		table, err := readFactorsFile(useFactorsPath)
		if err != nil {
			return err
		}
		if err := n.UseFactors(table); err != nil {
			return err
		}
	}

	res, err := p.Run(context.Background(), list, cat)
	if err != nil {
		return err
	}

	if factorsPath != "" {
		if err := writeFactorsFile(factorsPath, res.Factors); err != nil {
			return err
		}
	}

	if res.GroupResults == nil {
		return writeStackFile(outPath, p.Grid().Wavelength(), res.Stack)
	}
	for g, r := range res.GroupResults {
		if err := writeStackFile(groupPath(outPath, g), p.Grid().Wavelength(), r); err != nil {
			return err
		}
	}
	return writeGroupDefsFile(groupDefsPath(outPath), res.Groups)
}

func runMerge(p *pipeline.Pipeline, paths []string, byMedian bool, outPath string) error {
	partials := make([]*stack.Partial, 0, len(paths))
	for _, path := range paths {
		path = strings.TrimSpace(path)
		if path == "" {
			continue
		}
		partial, err := readPartialFile(path)
		if err != nil {
			return err
		}
		partials = append(partials, partial)
	}

	var (
		merger stack.Stacker
		err    error
	)
	if byMedian {
		merger, err = stack.NewMergeMedian(p.Grid(), partials)
	} else {
		merger, err = stack.NewMergeMean(p.Grid(), partials)
	}
	if err != nil {
		return err
	}
	if err := merger.Stack(nil); err != nil {
		return err
	}
	return writeStackFile(outPath, p.Grid().Wavelength(), merger.Result())
}

// groupPath derives the per-group output name: stack.csv -> stack_group0.csv.
func groupPath(outPath string, group int) string {
	ext := filepath.Ext(outPath)
	return fmt.Sprintf("%s_group%d%s", strings.TrimSuffix(outPath, ext), group, ext)
}

func groupDefsPath(outPath string) string {
	ext := filepath.Ext(outPath)
	return strings.TrimSuffix(outPath, ext) + "_groups" + ext
}

func writeStackFile(path string, wavelength []float64, result *stack.Result) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	if err := stack.WritePartialCSV(f, wavelength, result); err != nil {
		return err
	}
	return f.Close()
}

func readPartialFile(path string) (*stack.Partial, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return stack.ReadPartialCSV(f)
}

func writeFactorsFile(path string, table *normalize.FactorsTable) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	if err := table.WriteCSV(f); err != nil {
		return err
	}
	return f.Close()
}

func readFactorsFile(path string) (*normalize.FactorsTable, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return normalize.ReadFactorsCSV(f)
}

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(1)
}
