package route

import (
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"
)

var ErrVariableTable = errors.New("route: invalid variable table")

// ReadVariables reads a variable table: one row per histogrammed column
// with the columns Variable, nbins, xmin and xmax. A header row starting
// with "Variable" is skipped. Files ending in .xlsx are read from their
// first sheet, anything else as CSV.
func ReadVariables(path string) ([]Category, error) {
	var (
		rows [][]string
		err  error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx":
		rows, err = readSheet(path)
	default:
		rows, err = readCSV(path)
	}
	if err != nil {
		return nil, err
	}
	return ParseVariables(rows)
}

func readCSV(path string) ([][]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("could not open variable table: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true
	r.Comment = '#'
	rows, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("could not read variable table %q: %w", path, err)
	}
	return rows, nil
}

func readSheet(path string) ([][]string, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("could not open variable table: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("%w: %q has no sheet", ErrVariableTable, path)
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("could not read sheet %q of %q: %w", sheets[0], path, err)
	}
	return rows, nil
}

// ParseVariables converts the rows of a variable table.
func ParseVariables(rows [][]string) ([]Category, error) {
	var out []Category
	for i, row := range rows {
		if len(row) == 0 || strings.TrimSpace(row[0]) == "" {
			continue
		}
		name := strings.TrimSpace(row[0])
		if name == "Variable" {
			continue
		}
		if len(row) < 4 {
			return nil, fmt.Errorf("%w: row %d has %d fields, want 4", ErrVariableTable, i+1, len(row))
		}
		nbins, err := strconv.Atoi(strings.TrimSpace(row[1]))
		if err != nil {
			return nil, fmt.Errorf("%w: row %d: nbins: %v", ErrVariableTable, i+1, err)
		}
		xmin, err := strconv.ParseFloat(strings.TrimSpace(row[2]), 64)
		if err != nil {
			return nil, fmt.Errorf("%w: row %d: xmin: %v", ErrVariableTable, i+1, err)
		}
		xmax, err := strconv.ParseFloat(strings.TrimSpace(row[3]), 64)
		if err != nil {
			return nil, fmt.Errorf("%w: row %d: xmax: %v", ErrVariableTable, i+1, err)
		}
		if nbins <= 0 || !(xmin < xmax) {
			return nil, fmt.Errorf("%w: row %d: invalid binning (%d, %g, %g) for %q", ErrVariableTable, i+1, nbins, xmin, xmax, name)
		}
		out = append(out, Category{Name: name, Variable: name, Bins: nbins, Min: xmin, Max: xmax})
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: no variables", ErrVariableTable)
	}
	return out, nil
}
