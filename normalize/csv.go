package normalize

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
)

// ErrFactorsFormat indicates a malformed persisted factors table.
var ErrFactorsFormat = errors.New("normalize: malformed factors table")

// The persisted layout is three metadata records followed by a regular
// CSV table, one row per spectrum:
//
//	regions,start0,end0,start1,end1,...
//	main_region,<index>
//	correction_factors,c0,c1,...
//	specid,norm_factor_0,norm_sn_0,num_pixels_0,total_weight_0,...,norm_factor,norm_sn,chosen_region
//	<rows>

// WriteCSV persists the table, including the region boundaries and
// correction factors, so a later run can reconstruct the normalization
// state without recomputation.
func (t *FactorsTable) WriteCSV(w io.Writer) error {
	cw := csv.NewWriter(w)

	regions := make([]string, 0, 1+2*len(t.Regions))
	regions = append(regions, "regions")
	for _, reg := range t.Regions {
		regions = append(regions, formatFloat(reg.Start), formatFloat(reg.End))
	}
	if err := cw.Write(regions); err != nil {
		return err
	}
	if err := cw.Write([]string{"main_region", strconv.Itoa(t.MainRegion)}); err != nil {
		return err
	}

	corrections := make([]string, 0, 1+len(t.CorrectionFactors))
	corrections = append(corrections, "correction_factors")
	for _, c := range t.CorrectionFactors {
		corrections = append(corrections, formatFloat(c))
	}
	if err := cw.Write(corrections); err != nil {
		return err
	}

	header := []string{"specid"}
	for r := range t.Regions {
		header = append(header,
			fmt.Sprintf("norm_factor_%d", r),
			fmt.Sprintf("norm_sn_%d", r),
			fmt.Sprintf("num_pixels_%d", r),
			fmt.Sprintf("total_weight_%d", r))
	}
	header = append(header, "norm_factor", "norm_sn", "chosen_region")
	if err := cw.Write(header); err != nil {
		return err
	}

	for i := range t.SpecIDs {
		row := []string{strconv.FormatInt(t.SpecIDs[i], 10)}
		for r := range t.Regions {
			row = append(row,
				formatFloat(t.NormFactors[i][r]),
				formatFloat(t.NormSN[i][r]),
				strconv.Itoa(t.NumPixels[i][r]),
				formatFloat(t.TotalWeights[i][r]))
		}
		row = append(row,
			formatFloat(t.FinalFactor[i]),
			formatFloat(t.FinalSN[i]),
			strconv.Itoa(t.ChosenRegion[i]))
		if err := cw.Write(row); err != nil {
			return err
		}
	}

	cw.Flush()
	return cw.Error()
}

// ReadFactorsCSV loads a persisted factors table. The correction factors
// and final selections are re-derived from the per-region columns rather
// than trusted, so a table merged or edited between runs stays consistent.
func ReadFactorsCSV(r io.Reader) (*FactorsTable, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	records, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFactorsFormat, err)
	}
	if len(records) < 4 {
		return nil, fmt.Errorf("%w: expected 3 metadata records and a header, found %d records",
			ErrFactorsFormat, len(records))
	}

	regions, err := parseRegionsRecord(records[0])
	if err != nil {
		return nil, err
	}
	mainRegion, err := parseMainRegionRecord(records[1], len(regions))
	if err != nil {
		return nil, err
	}
	if err := checkRecordName(records[2], "correction_factors"); err != nil {
		return nil, err
	}

	rows := records[4:]
	t := newFactorsTable(regions, mainRegion, len(rows))

	wantFields := 1 + 4*len(regions) + 3
	for i, row := range rows {
		if len(row) != wantFields {
			return nil, fmt.Errorf("%w: row %d has %d fields, expected %d",
				ErrFactorsFormat, i, len(row), wantFields)
		}
		t.SpecIDs[i], err = strconv.ParseInt(row[0], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: row %d specid %q", ErrFactorsFormat, i, row[0])
		}
		for r := range regions {
			base := 1 + 4*r
			if t.NormFactors[i][r], err = parseFloat(row[base]); err != nil {
				return nil, fmt.Errorf("%w: row %d region %d: %v", ErrFactorsFormat, i, r, err)
			}
			if t.NormSN[i][r], err = parseFloat(row[base+1]); err != nil {
				return nil, fmt.Errorf("%w: row %d region %d: %v", ErrFactorsFormat, i, r, err)
			}
			if t.NumPixels[i][r], err = strconv.Atoi(row[base+2]); err != nil {
				return nil, fmt.Errorf("%w: row %d region %d: %v", ErrFactorsFormat, i, r, err)
			}
			if t.TotalWeights[i][r], err = parseFloat(row[base+3]); err != nil {
				return nil, fmt.Errorf("%w: row %d region %d: %v", ErrFactorsFormat, i, r, err)
			}
		}
	}

	if err := t.finalize(); err != nil {
		return nil, err
	}
	return t, nil
}

func parseRegionsRecord(record []string) ([]Region, error) {
	if err := checkRecordName(record, "regions"); err != nil {
		return nil, err
	}
	if len(record)%2 != 1 {
		return nil, fmt.Errorf("%w: regions record needs start/end pairs, found %d values",
			ErrFactorsFormat, len(record)-1)
	}
	regions := make([]Region, 0, (len(record)-1)/2)
	for i := 1; i < len(record); i += 2 {
		start, err := parseFloat(record[i])
		if err != nil {
			return nil, fmt.Errorf("%w: region start %q", ErrFactorsFormat, record[i])
		}
		end, err := parseFloat(record[i+1])
		if err != nil {
			return nil, fmt.Errorf("%w: region end %q", ErrFactorsFormat, record[i+1])
		}
		regions = append(regions, Region{Start: start, End: end})
	}
	return regions, nil
}

func parseMainRegionRecord(record []string, numRegions int) (int, error) {
	if err := checkRecordName(record, "main_region"); err != nil {
		return 0, err
	}
	if len(record) != 2 {
		return 0, fmt.Errorf("%w: main_region record has %d fields", ErrFactorsFormat, len(record))
	}
	main, err := strconv.Atoi(record[1])
	if err != nil || main < 0 || main >= numRegions {
		return 0, fmt.Errorf("%w: main region %q with %d regions",
			ErrFactorsFormat, record[1], numRegions)
	}
	return main, nil
}

func checkRecordName(record []string, name string) error {
	if len(record) == 0 || record[0] != name {
		return fmt.Errorf("%w: expected %q record", ErrFactorsFormat, name)
	}
	return nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

func parseFloat(s string) (float64, error) {
	return strconv.ParseFloat(s, 64)
}
