package source

import (
	"context"
	"sort"
	"sync"
)

// Static is an in-memory provider. Safe for concurrent use.
type Static struct {
	mu    sync.Mutex
	rows  map[Locator][][]any
	errs  map[Locator]error
	calls int
}

// NewStatic creates an empty in-memory provider.
func NewStatic() *Static {
	return &Static{rows: make(map[Locator][][]any), errs: make(map[Locator]error)}
}

// Set replaces the rows served for loc and clears any injected error.
func (s *Static) Set(loc Locator, rows [][]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows[loc] = copyRows(rows)
	delete(s.errs, loc)
}

// Fail makes every read of loc return err.
func (s *Static) Fail(loc Locator, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errs[loc] = err
}

// Calls returns the number of GetRows calls served.
func (s *Static) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func (s *Static) GetRows(ctx context.Context, loc Locator, _ string) ([][]any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err, ok := s.errs[loc]; ok {
		return nil, err
	}
	rows, ok := s.rows[loc]
	if !ok {
		return nil, &FetchError{Locator: loc, Status: 404, Body: "not found"}
	}
	return copyRows(rows), nil
}

func (s *Static) GetRangeNames(_ context.Context, spreadsheetID string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var names []string
	for loc := range s.rows {
		if loc.SpreadsheetID == spreadsheetID {
			names = append(names, loc.Sheet)
		}
	}
	if names == nil {
		return nil, &FetchError{Locator: Locator{SpreadsheetID: spreadsheetID}, Status: 404, Body: "not found"}
	}
	sort.Strings(names)
	return names, nil
}

func copyRows(rows [][]any) [][]any {
	out := make([][]any, len(rows))
	for i, r := range rows {
		out[i] = append([]any(nil), r...)
	}
	return out
}
