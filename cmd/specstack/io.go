package main

import (
	"encoding/csv"
	"fmt"
	"os"
	"strconv"

	"github.com/cwbudde/algo-specstack/spectra"
	"github.com/cwbudde/algo-specstack/stack"
)

// readSpectraCSV loads spectra from a long-format CSV with one row per
// pixel: specid,redshift,wavelength,flux,ivar. Rows of one spectrum must
// be contiguous and in increasing wavelength order.
func readSpectraCSV(path string) ([]*spectra.Spectrum, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	cr := csv.NewReader(f)
	records, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("specstack: reading %s: %w", path, err)
	}
	if len(records) < 2 {
		return nil, fmt.Errorf("specstack: %s holds no spectra", path)
	}
	header := records[0]
	if len(header) != 5 || header[0] != "specid" || header[1] != "redshift" ||
		header[2] != "wavelength" || header[3] != "flux" || header[4] != "ivar" {
		return nil, fmt.Errorf("specstack: %s: unexpected header %v", path, header)
	}

	var (
		list       []*spectra.Spectrum
		current    int64
		redshift   float64
		wavelength []float64
		flux       []float64
		ivar       []float64
	)
	flush := func() error {
		if wavelength == nil {
			return nil
		}
		s, err := spectra.New(current, redshift, flux, ivar, wavelength)
		if err != nil {
			return fmt.Errorf("specstack: %s: spectrum %d: %w", path, current, err)
		}
		list = append(list, s)
		wavelength, flux, ivar = nil, nil, nil
		return nil
	}

	for i, record := range records[1:] {
		if len(record) != 5 {
			return nil, fmt.Errorf("specstack: %s: row %d has %d fields, want 5", path, i+1, len(record))
		}
		id, err := strconv.ParseInt(record[0], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("specstack: %s: row %d: bad specid: %w", path, i+1, err)
		}
		values := make([]float64, 4)
		for j := 1; j < 5; j++ {
			if values[j-1], err = strconv.ParseFloat(record[j], 64); err != nil {
				return nil, fmt.Errorf("specstack: %s: row %d: bad %s: %w", path, i+1, header[j], err)
			}
		}

		if wavelength != nil && id != current {
			if err := flush(); err != nil {
				return nil, err
			}
		}
		current = id
		redshift = values[0]
		wavelength = append(wavelength, values[1])
		flux = append(flux, values[2])
		ivar = append(ivar, values[3])
	}
	if err := flush(); err != nil {
		return nil, err
	}
	return list, nil
}

// writeGroupDefsFile records the interval behind each group number:
// group,variable,min,max with one row per variable per group.
func writeGroupDefsFile(path string, defs []stack.GroupDef) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	cw := csv.NewWriter(f)
	if err := cw.Write([]string{"group", "variable", "min", "max"}); err != nil {
		return err
	}
	for _, def := range defs {
		for _, b := range def.Bounds {
			record := []string{
				strconv.Itoa(def.Number),
				b.Variable,
				strconv.FormatFloat(b.Min, 'g', -1, 64),
				strconv.FormatFloat(b.Max, 'g', -1, 64),
			}
			if err := cw.Write(record); err != nil {
				return err
			}
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return err
	}
	return f.Close()
}

// readCatalogueCSV loads the split catalogue: a specid column followed by
// one numeric column per split variable.
func readCatalogueCSV(path string) (*stack.Catalogue, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	cr := csv.NewReader(f)
	records, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("specstack: reading %s: %w", path, err)
	}
	if len(records) < 1 {
		return nil, fmt.Errorf("specstack: %s is empty", path)
	}
	header := records[0]
	if len(header) < 2 || header[0] != "specid" {
		return nil, fmt.Errorf("specstack: %s: unexpected header %v", path, header)
	}

	specIDs := make([]int64, 0, len(records)-1)
	columns := make(map[string][]float64, len(header)-1)
	for i, record := range records[1:] {
		if len(record) != len(header) {
			return nil, fmt.Errorf("specstack: %s: row %d has %d fields, want %d",
				path, i+1, len(record), len(header))
		}
		id, err := strconv.ParseInt(record[0], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("specstack: %s: row %d: bad specid: %w", path, i+1, err)
		}
		specIDs = append(specIDs, id)
		for j := 1; j < len(header); j++ {
			v, err := strconv.ParseFloat(record[j], 64)
			if err != nil {
				return nil, fmt.Errorf("specstack: %s: row %d: bad %s: %w", path, i+1, header[j], err)
			}
			columns[header[j]] = append(columns[header[j]], v)
		}
	}
	return stack.NewCatalogue(specIDs, columns)
}
