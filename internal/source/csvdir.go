package source

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// CSVDir serves spreadsheets from a directory tree laid out as
// <dir>/<spreadsheet>/<sheet>.csv. Useful for local runs without API access.
type CSVDir struct {
	Dir string
}

func (c CSVDir) path(loc Locator) (string, error) {
	for _, part := range []string{loc.SpreadsheetID, loc.Sheet} {
		if part == "" || strings.ContainsAny(part, `/\`) || part == "." || part == ".." {
			return "", &FetchError{Locator: loc, Err: fmt.Errorf("invalid path component %q", part)}
		}
	}
	return filepath.Join(c.Dir, loc.SpreadsheetID, loc.Sheet+".csv"), nil
}

// GetRows reads the whole CSV file; rangeSpec is not supported and must
// be empty.
func (c CSVDir) GetRows(ctx context.Context, loc Locator, rangeSpec string) ([][]any, error) {
	if strings.TrimSpace(rangeSpec) != "" {
		return nil, &FetchError{Locator: loc, Err: errors.New("csv source does not support ranges")}
	}
	p, err := c.path(loc)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(p)
	if err != nil {
		return nil, &FetchError{Locator: loc, Err: err}
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	records, err := r.ReadAll()
	if err != nil {
		return nil, &FetchError{Locator: loc, Err: err}
	}
	rows := make([][]any, len(records))
	for i, rec := range records {
		row := make([]any, len(rec))
		for j, cell := range rec {
			row[j] = cell
		}
		rows[i] = row
	}
	return rows, ctx.Err()
}

// GetRangeNames lists the CSV files of a spreadsheet directory.
func (c CSVDir) GetRangeNames(_ context.Context, spreadsheetID string) ([]string, error) {
	loc := Locator{SpreadsheetID: spreadsheetID, Sheet: "x"}
	if _, err := c.path(loc); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(filepath.Join(c.Dir, spreadsheetID))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, &FetchError{Locator: Locator{SpreadsheetID: spreadsheetID}, Status: 404, Err: err}
		}
		return nil, &FetchError{Locator: Locator{SpreadsheetID: spreadsheetID}, Err: err}
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".csv") {
			names = append(names, strings.TrimSuffix(e.Name(), ".csv"))
		}
	}
	sort.Strings(names)
	return names, nil
}
