// Package normalize computes per-spectrum flux normalization factors from
// one or more wavelength regions and divides each spectrum's common-grid
// flux by its final factor.
//
// Per spectrum and region, pixels with ivar != 0 inside the half-open
// region [start, end) contribute with a regularized weight
//
//	w = ivar / (1 + sigmaI^2 * ivar)
//
// where the sigmaI^2 term bounds the influence of anomalously low-noise
// pixels. Regions are reconciled through correction factors relative to a
// designated main region, and the final factor per spectrum comes from the
// region with the greatest total weight.
//
// A spectrum whose final factor is non-positive or NaN gets an all-NaN
// normalized flux instead of an error; downstream NaN-aware stacking
// excludes it naturally.
//
// The factors table can be persisted as CSV and reloaded in a later run,
// which re-derives the correction factors without recomputing the
// per-spectrum measurements.
package normalize
