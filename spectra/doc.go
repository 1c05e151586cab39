// Package spectra defines the data model shared by the stacking pipeline:
// the Spectrum record holding one observation's arrays, and the common
// wavelength Grid every spectrum is rebinned onto before combination.
//
// The grid is constructed once per run and passed explicitly to every
// component that needs it; there is no package-level shared state.
//
// Grid construction modes:
//   - StepLinear: equally spaced in wavelength
//   - StepLog: equally spaced in log10(wavelength)
//
// Grid coverage is half-open [min, max): the configured maximum is an
// exclusive upper bound, and (max - min) (or its log10 equivalent) must be
// an integer multiple of the step within floating tolerance.
package spectra
