package spectra

import (
	"errors"
	"fmt"
	"math"
)

var (
	// ErrGridBounds indicates invalid wavelength bounds.
	ErrGridBounds = errors.New("spectra: invalid grid bounds")
	// ErrGridStep indicates an invalid grid step.
	ErrGridStep = errors.New("spectra: invalid grid step")
	// ErrGridInconsistent indicates bounds that are not an integer number
	// of steps apart.
	ErrGridInconsistent = errors.New("spectra: inconsistent grid bounds and step")
)

// gridTolerance is the relative tolerance used when reconstructing the
// configured maximum from min + size*step.
const gridTolerance = 1e-8

// StepKind selects the spacing of the common wavelength grid.
type StepKind int

const (
	// StepLinear spaces grid points linearly in wavelength.
	StepLinear StepKind = iota
	// StepLog spaces grid points linearly in log10(wavelength).
	StepLog
)

// String returns the configuration name of the step kind.
func (k StepKind) String() string {
	switch k {
	case StepLinear:
		return "lin"
	case StepLog:
		return "log"
	default:
		return fmt.Sprintf("StepKind(%d)", int(k))
	}
}

// Grid is the common wavelength grid shared by all spectra in a run.
// It is immutable after construction and safe for concurrent readers.
type Grid struct {
	wavelength []float64
	origin     float64 // transformed minimum wavelength
	step       float64 // step in transformed space
	kind       StepKind
}

// NewGrid builds a common wavelength grid covering [min, max) with the
// given step. For StepLog the step applies to log10(wavelength).
//
// The grid size is round((T(max)-T(min))/step) where T is the identity for
// StepLinear and log10 for StepLog. Construction fails unless
// T(min)+size*step reproduces T(max) within floating tolerance, which
// guards against silently truncating or padding the grid.
func NewGrid(minWavelength, maxWavelength, step float64, kind StepKind) (*Grid, error) {
	if kind != StepLinear && kind != StepLog {
		return nil, fmt.Errorf("%w: unknown step kind %d", ErrGridStep, int(kind))
	}
	if math.IsNaN(minWavelength) || math.IsNaN(maxWavelength) || minWavelength >= maxWavelength {
		return nil, fmt.Errorf("%w: min %v, max %v", ErrGridBounds, minWavelength, maxWavelength)
	}
	if kind == StepLog && minWavelength <= 0 {
		return nil, fmt.Errorf("%w: log grid requires positive wavelengths, got min %v",
			ErrGridBounds, minWavelength)
	}
	if math.IsNaN(step) || step <= 0 {
		return nil, fmt.Errorf("%w: step %v", ErrGridStep, step)
	}

	transform := identity
	inverse := identity
	if kind == StepLog {
		transform = math.Log10
		inverse = pow10
	}

	tmin := transform(minWavelength)
	tmax := transform(maxWavelength)

	size := int(math.Round((tmax - tmin) / step))
	if size <= 0 {
		return nil, fmt.Errorf("%w: bounds [%v, %v) span less than one step %v",
			ErrGridInconsistent, minWavelength, maxWavelength, step)
	}

	expectedMax := inverse(tmin + float64(size)*step)
	if !nearlyEqual(expectedMax, maxWavelength, gridTolerance) {
		return nil, fmt.Errorf(
			"%w: limiting wavelengths must be separated by an integer number of "+
				"steps; min %v, max %v, step %v (%s) yield an expected maximum of %v",
			ErrGridInconsistent, minWavelength, maxWavelength, step, kind, expectedMax)
	}

	wavelength := make([]float64, size)
	for i := range wavelength {
		wavelength[i] = inverse(tmin + float64(i)*step)
	}

	return &Grid{
		wavelength: wavelength,
		origin:     tmin,
		step:       step,
		kind:       kind,
	}, nil
}

// Size returns the number of grid points.
func (g *Grid) Size() int {
	return len(g.wavelength)
}

// Kind returns the grid spacing mode.
func (g *Grid) Kind() StepKind {
	return g.kind
}

// Step returns the step in transformed space (wavelength for StepLinear,
// log10(wavelength) for StepLog).
func (g *Grid) Step() float64 {
	return g.step
}

// At returns the wavelength of grid point i, always in linear space.
func (g *Grid) At(i int) float64 {
	return g.wavelength[i]
}

// Wavelength returns a copy of the grid wavelengths in linear space.
func (g *Grid) Wavelength() []float64 {
	out := make([]float64, len(g.wavelength))
	copy(out, g.wavelength)
	return out
}

// Bin maps a wavelength to its target grid index by rounding in
// transformed space. It returns -1 for wavelengths outside [0, Size()).
func (g *Grid) Bin(wavelength float64) int {
	t := wavelength
	if g.kind == StepLog {
		if wavelength <= 0 {
			return -1
		}
		t = math.Log10(wavelength)
	}
	idx := int(math.Round((t - g.origin) / g.step))
	if idx < 0 || idx >= len(g.wavelength) {
		return -1
	}
	return idx
}

// Matches reports whether a wavelength array equals this grid point by
// point within the absolute tolerance tol.
func (g *Grid) Matches(wavelength []float64, tol float64) bool {
	if len(wavelength) != len(g.wavelength) {
		return false
	}
	for i, w := range wavelength {
		if math.Abs(w-g.wavelength[i]) > tol {
			return false
		}
	}
	return true
}

func identity(v float64) float64 { return v }

func pow10(v float64) float64 { return math.Pow(10, v) }

func nearlyEqual(a, b, relTol float64) bool {
	scale := math.Max(math.Abs(a), math.Abs(b))
	if scale == 0 {
		return true
	}
	return math.Abs(a-b) <= relTol*scale
}
