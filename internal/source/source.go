// Package source reads tabular rows from spreadsheet-like providers.
package source

import (
	"context"
	"fmt"
	"strings"
)

// Locator identifies one tab of one spreadsheet.
type Locator struct {
	SpreadsheetID string
	Sheet         string
}

func (l Locator) String() string {
	return l.SpreadsheetID + "/" + l.Sheet
}

// Provider fetches rows from a source. Implementations must return an error
// rather than partial or substitute data when a read fails.
type Provider interface {
	// GetRows returns the rows of loc, optionally narrowed to an A1 range
	// inside the tab. Cells are nil, string, float64 or bool.
	GetRows(ctx context.Context, loc Locator, rangeSpec string) ([][]any, error)
	// GetRangeNames lists the tab names of a spreadsheet.
	GetRangeNames(ctx context.Context, spreadsheetID string) ([]string, error)
}

// FetchError reports a failed read from a remote source.
type FetchError struct {
	Locator Locator
	Status  int
	Body    string
	Err     error
}

func (e *FetchError) Error() string {
	msg := fmt.Sprintf("source: fetch %s", e.Locator)
	if e.Status != 0 {
		msg += fmt.Sprintf(": status %d", e.Status)
	}
	if e.Body != "" {
		msg += ": " + e.Body
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *FetchError) Unwrap() error { return e.Err }

// Temporary reports whether retrying later could succeed.
func (e *FetchError) Temporary() bool {
	return e.Status == 0 || e.Status == 429 || e.Status >= 500
}

// A1Range builds the A1 notation for a tab and an optional inner range,
// quoting the tab name.
func A1Range(sheet, rangeSpec string) string {
	quoted := "'" + strings.ReplaceAll(sheet, "'", "''") + "'"
	rangeSpec = strings.TrimSpace(rangeSpec)
	if rangeSpec == "" {
		return quoted
	}
	return quoted + "!" + rangeSpec
}
