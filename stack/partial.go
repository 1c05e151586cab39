package stack

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
)

// ErrPartialFormat indicates a partial-stack CSV that does not match the
// expected layout.
var ErrPartialFormat = errors.New("stack: malformed partial stack file")

// Partial is a stacked spectrum persisted together with its wavelength
// axis, the unit of exchange between independent stacking runs and a
// merge stacker.
type Partial struct {
	Wavelength []float64
	Flux       []float64
	Weight     []float64
	Error      []float64
}

// WritePartialCSV persists a stack result with its wavelength axis. The
// error column is present only when the result carries bootstrap errors.
func WritePartialCSV(w io.Writer, wavelength []float64, result *Result) error {
	if len(wavelength) != len(result.Flux) || len(result.Flux) != len(result.Weight) {
		return fmt.Errorf("%w: wavelength %d, flux %d, weight %d",
			ErrPartialFormat, len(wavelength), len(result.Flux), len(result.Weight))
	}
	withError := result.Error != nil
	if withError && len(result.Error) != len(result.Flux) {
		return fmt.Errorf("%w: error column has %d values for %d bins",
			ErrPartialFormat, len(result.Error), len(result.Flux))
	}

	cw := csv.NewWriter(w)
	header := []string{"wavelength", "stacked_flux", "stacked_weight"}
	if withError {
		header = append(header, "stacked_error")
	}
	if err := cw.Write(header); err != nil {
		return err
	}
	record := make([]string, len(header))
	for j := range wavelength {
		record[0] = formatFloat(wavelength[j])
		record[1] = formatFloat(result.Flux[j])
		record[2] = formatFloat(result.Weight[j])
		if withError {
			record[3] = formatFloat(result.Error[j])
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// ReadPartialCSV loads a partial stack written by WritePartialCSV.
func ReadPartialCSV(r io.Reader) (*Partial, error) {
	cr := csv.NewReader(r)
	records, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("stack: reading partial stack: %w", err)
	}
	if len(records) < 1 {
		return nil, fmt.Errorf("%w: empty file", ErrPartialFormat)
	}
	header := records[0]
	withError := false
	switch {
	case len(header) == 3:
	case len(header) == 4 && header[3] == "stacked_error":
		withError = true
	default:
		return nil, fmt.Errorf("%w: unexpected header %v", ErrPartialFormat, header)
	}
	if header[0] != "wavelength" || header[1] != "stacked_flux" || header[2] != "stacked_weight" {
		return nil, fmt.Errorf("%w: unexpected header %v", ErrPartialFormat, header)
	}

	n := len(records) - 1
	p := &Partial{
		Wavelength: make([]float64, n),
		Flux:       make([]float64, n),
		Weight:     make([]float64, n),
	}
	if withError {
		p.Error = make([]float64, n)
	}
	for i, record := range records[1:] {
		if len(record) != len(header) {
			return nil, fmt.Errorf("%w: row %d has %d fields", ErrPartialFormat, i+1, len(record))
		}
		if p.Wavelength[i], err = parseFloat(record[0]); err != nil {
			return nil, fmt.Errorf("%w: row %d: %v", ErrPartialFormat, i+1, err)
		}
		if p.Flux[i], err = parseFloat(record[1]); err != nil {
			return nil, fmt.Errorf("%w: row %d: %v", ErrPartialFormat, i+1, err)
		}
		if p.Weight[i], err = parseFloat(record[2]); err != nil {
			return nil, fmt.Errorf("%w: row %d: %v", ErrPartialFormat, i+1, err)
		}
		if withError {
			if p.Error[i], err = parseFloat(record[3]); err != nil {
				return nil, fmt.Errorf("%w: row %d: %v", ErrPartialFormat, i+1, err)
			}
		}
	}
	return p, nil
}

// formatFloat renders a value so that parseFloat round-trips it exactly,
// NaN included.
func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

func parseFloat(s string) (float64, error) {
	return strconv.ParseFloat(s, 64)
}
