// Package pipeline orchestrates the full stacking run: rebinning onto the
// common wavelength grid, multi-region normalization, and stacking, with
// optional splitting into groups, bootstrap error estimation, and bounded
// per-spectrum parallelism. It is the programmatic equivalent of one
// specstack invocation.
package pipeline
