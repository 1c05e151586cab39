// Package stack combines normalized spectra into weighted composite
// spectra.
//
// The Stacker variants form a closed set composed through interfaces:
//   - MeanStacker: inverse-variance weighted mean per bin
//   - MedianStacker: NaN-aware per-bin median
//   - BootstrapStacker: decorates any base stacker with resampled error
//     estimation using a deterministic seeded generator
//   - SplitStacker: one inner stacker per catalogue-defined group
//   - MergeMeanStacker / MergeMedianStacker: combine previously computed
//     partial stacks without access to raw spectra
//
// Every stacker requires the common wavelength grid at construction.
// Decorators receive a Factory building fresh inner stackers, so the
// variants combine freely (a bootstrap over a split over means, for
// example).
package stack
