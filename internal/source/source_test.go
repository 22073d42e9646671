package source

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"google.golang.org/api/googleapi"
)

func TestA1Range(t *testing.T) {
	tests := []struct {
		sheet, spec, want string
	}{
		{"Sheet1", "", "'Sheet1'"},
		{"Q1 Sales", "A1:D", "'Q1 Sales'!A1:D"},
		{"Bob's", " B2:C9 ", "'Bob''s'!B2:C9"},
	}
	for _, tt := range tests {
		if got := A1Range(tt.sheet, tt.spec); got != tt.want {
			t.Errorf("A1Range(%q, %q) = %q, want %q", tt.sheet, tt.spec, got, tt.want)
		}
	}
}

// testSheets points an API-key provider at srv.
func testSheets(t *testing.T, srv *httptest.Server) *Sheets {
	t.Helper()
	s, err := NewSheets(context.Background(), SheetsConfig{APIKey: "k123", BaseURL: srv.URL})
	if err != nil {
		t.Fatalf("NewSheets: %v", err)
	}
	return s
}

func TestSheets_GetRows(t *testing.T) {
	var gotPath, gotKey string
	var gotQuery url.Values
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.EscapedPath()
		gotQuery = r.URL.Query()
		gotKey = gotQuery.Get("key")
		if gotKey == "" {
			gotKey = r.Header.Get("X-Goog-Api-Key")
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"range":"'People'!A1:C3","majorDimension":"ROWS","values":[["Name","Age","Active"],["Ann",30,true],["Bob",45356.5]]}`))
	}))
	defer srv.Close()

	rows, err := testSheets(t, srv).GetRows(context.Background(), Locator{SpreadsheetID: "abc", Sheet: "People"}, "")
	if err != nil {
		t.Fatalf("GetRows: %v", err)
	}
	want := [][]any{{"Name", "Age", "Active"}, {"Ann", float64(30), true}, {"Bob", 45356.5}}
	if !reflect.DeepEqual(rows, want) {
		t.Errorf("rows = %#v", rows)
	}
	if !strings.HasPrefix(gotPath, "/v4/spreadsheets/abc/values/") {
		t.Errorf("path = %s", gotPath)
	}
	for k, v := range map[string]string{
		"valueRenderOption":    "UNFORMATTED_VALUE",
		"dateTimeRenderOption": "SERIAL_NUMBER",
		"majorDimension":       "ROWS",
	} {
		if got := gotQuery.Get(k); got != v {
			t.Errorf("query %s = %q, want %q", k, got, v)
		}
	}
	if gotKey != "k123" {
		t.Errorf("api key = %q, want k123", gotKey)
	}
}

func TestSheets_GetRowsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte(`{"error":{"code":403,"message":"denied"}}`))
	}))
	defer srv.Close()

	rows, err := testSheets(t, srv).GetRows(context.Background(), Locator{SpreadsheetID: "abc", Sheet: "People"}, "A1:B")
	if rows != nil {
		t.Errorf("rows = %v, want nil on failure", rows)
	}
	var fe *FetchError
	if !errors.As(err, &fe) {
		t.Fatalf("error = %v, want *FetchError", err)
	}
	if fe.Status != http.StatusForbidden || !strings.Contains(err.Error(), "denied") {
		t.Errorf("fetch error = %v (status %d)", err, fe.Status)
	}
	var gerr *googleapi.Error
	if !errors.As(err, &gerr) {
		t.Errorf("error does not unwrap to *googleapi.Error: %v", err)
	}
	if fe.Temporary() {
		t.Error("403 should not be temporary")
	}
}

func TestSheets_GetRangeNames(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("fields") != "sheets.properties.title" {
			t.Errorf("fields = %q", r.URL.Query().Get("fields"))
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"sheets":[{"properties":{"title":"People"}},{"properties":{"title":"Orders"}}]}`))
	}))
	defer srv.Close()

	names, err := testSheets(t, srv).GetRangeNames(context.Background(), "abc")
	if err != nil {
		t.Fatalf("GetRangeNames: %v", err)
	}
	if !reflect.DeepEqual(names, []string{"People", "Orders"}) {
		t.Errorf("names = %v", names)
	}
}

func TestNewSheets_RequiresCredentials(t *testing.T) {
	if _, err := NewSheets(context.Background(), SheetsConfig{}); err == nil {
		t.Fatal("expected error without credentials")
	}
	bad := filepath.Join(t.TempDir(), "sa.json")
	os.WriteFile(bad, []byte(`{"client_email":""}`), 0o600)
	if _, err := NewSheets(context.Background(), SheetsConfig{CredentialsFile: bad}); err == nil {
		t.Fatal("expected error for incomplete credentials")
	}
	if _, err := NewSheets(context.Background(), SheetsConfig{CredentialsFile: filepath.Join(t.TempDir(), "missing.json")}); err == nil {
		t.Fatal("expected error for missing credentials file")
	}
	if _, err := NewSheets(context.Background(), SheetsConfig{APIKey: "k"}); err != nil {
		t.Fatalf("api key config: %v", err)
	}
}

func TestCSVDir(t *testing.T) {
	dir := t.TempDir()
	os.MkdirAll(filepath.Join(dir, "book"), 0o755)
	os.WriteFile(filepath.Join(dir, "book", "People.csv"), []byte("Name,Age\nAnn,30\nBob\n"), 0o644)
	os.WriteFile(filepath.Join(dir, "book", "Orders.csv"), []byte("id\n1\n"), 0o644)

	c := CSVDir{Dir: dir}
	rows, err := c.GetRows(context.Background(), Locator{SpreadsheetID: "book", Sheet: "People"}, "")
	if err != nil {
		t.Fatalf("GetRows: %v", err)
	}
	want := [][]any{{"Name", "Age"}, {"Ann", "30"}, {"Bob"}}
	if !reflect.DeepEqual(rows, want) {
		t.Errorf("rows = %#v", rows)
	}

	names, err := c.GetRangeNames(context.Background(), "book")
	if err != nil || !reflect.DeepEqual(names, []string{"Orders", "People"}) {
		t.Errorf("names = %v, %v", names, err)
	}

	var fe *FetchError
	if _, err := c.GetRows(context.Background(), Locator{SpreadsheetID: "book", Sheet: "Missing"}, ""); !errors.As(err, &fe) {
		t.Errorf("missing file error = %v, want *FetchError", err)
	}
	if _, err := c.GetRows(context.Background(), Locator{SpreadsheetID: "..", Sheet: "People"}, ""); err == nil {
		t.Error("expected error for path traversal")
	}
}

func TestStatic(t *testing.T) {
	s := NewStatic()
	loc := Locator{SpreadsheetID: "s", Sheet: "t"}
	s.Set(loc, [][]any{{"a"}})

	rows, err := s.GetRows(context.Background(), loc, "")
	if err != nil || len(rows) != 1 {
		t.Fatalf("GetRows = %v, %v", rows, err)
	}
	rows[0][0] = "mutated"
	again, _ := s.GetRows(context.Background(), loc, "")
	if again[0][0] != "a" {
		t.Error("Static returned shared rows")
	}

	boom := errors.New("boom")
	s.Fail(loc, boom)
	if _, err := s.GetRows(context.Background(), loc, ""); !errors.Is(err, boom) {
		t.Errorf("error = %v, want boom", err)
	}
	if s.Calls() != 3 {
		t.Errorf("calls = %d, want 3", s.Calls())
	}
}
