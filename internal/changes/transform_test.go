package changes

import (
	"reflect"
	"strings"
	"testing"

	"github.com/zulandar/sheetsync/internal/dialect"
)

func annMappings() []Mapping {
	return []Mapping{{Source: "Name"}, {Source: "Email"}, {Source: "Age"}}
}

func TestTransform_HeaderAndBlankRows(t *testing.T) {
	rows := [][]any{
		{"Name", "Email", "Age"},
		{"Bob", "bob@x.com", "41"},
		{"", "  ", nil},
		{"Ann", "ann@x.com", "30"},
	}
	res, err := Transform(rows, annMappings(), TransformOptions{HasHeader: true})
	if err != nil {
		t.Fatalf("Transform: %v", err)
	}
	if len(res.Records) != 2 {
		t.Fatalf("records = %d, want 2", len(res.Records))
	}
	if res.Records[0].SourceRowIndex != 1 || res.Records[1].SourceRowIndex != 3 {
		t.Errorf("indices = %d,%d, want 1,3", res.Records[0].SourceRowIndex, res.Records[1].SourceRowIndex)
	}
	want := []any{"Ann", "ann@x.com", int64(30)}
	if !reflect.DeepEqual(res.Records[1].Values, want) {
		t.Errorf("values = %#v, want %#v", res.Records[1].Values, want)
	}
	if res.Records[1].Hash != Hash(want) {
		t.Error("record hash does not match Hash(values)")
	}

	types := []dialect.ColumnType{dialect.TypeString, dialect.TypeString, dialect.TypeInteger}
	for i, m := range res.Mappings {
		if m.Type != types[i] {
			t.Errorf("mapping %s type = %s, want %s", m.Source, m.Type, types[i])
		}
	}
	if res.Mappings[0].Target != "name" {
		t.Errorf("target = %q, want name", res.Mappings[0].Target)
	}
}

func TestTransform_KeepBlankRows(t *testing.T) {
	rows := [][]any{{"Name"}, {"a"}, {""}, {"b"}}
	res, err := Transform(rows, []Mapping{{Source: "Name"}}, TransformOptions{HasHeader: true, KeepBlankRows: true})
	if err != nil {
		t.Fatalf("Transform: %v", err)
	}
	if len(res.Records) != 3 {
		t.Fatalf("records = %d, want 3", len(res.Records))
	}
	if res.Records[1].Values[0] != nil {
		t.Errorf("blank row value = %v, want nil", res.Records[1].Values[0])
	}
}

func TestTransform_Idempotent(t *testing.T) {
	rows := [][]any{{"Name", "Age"}, {"Ann", "30"}, {"Bob", "x"}}
	a, err := Transform(rows, []Mapping{{Source: "Name"}, {Source: "Age"}}, TransformOptions{HasHeader: true})
	if err != nil {
		t.Fatal(err)
	}
	b, err := Transform(rows, []Mapping{{Source: "Name"}, {Source: "Age"}}, TransformOptions{HasHeader: true})
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(a.Records, b.Records) {
		t.Error("two transforms of the same rows differ")
	}
}

func TestTransform_ColumnLetters(t *testing.T) {
	rows := [][]any{{"x", "skip", "1"}, {"y", "skip"}}
	maps := []Mapping{{Source: "A", Target: "label"}, {Source: "C", Target: "n", Type: dialect.TypeInteger}}
	res, err := Transform(rows, maps, TransformOptions{})
	if err != nil {
		t.Fatalf("Transform: %v", err)
	}
	if len(res.Records) != 2 {
		t.Fatalf("records = %d, want 2", len(res.Records))
	}
	if !reflect.DeepEqual(res.Records[0].Values, []any{"x", int64(1)}) {
		t.Errorf("row 1 = %#v", res.Records[0].Values)
	}
	if !reflect.DeepEqual(res.Records[1].Values, []any{"y", nil}) {
		t.Errorf("short row = %#v", res.Records[1].Values)
	}
}

func TestTransform_MissingColumns(t *testing.T) {
	rows := [][]any{{"Name"}, {"Ann"}}
	res, err := Transform(rows, []Mapping{{Source: "Name"}, {Source: "Phone"}}, TransformOptions{HasHeader: true})
	if err != nil {
		t.Fatalf("Transform: %v", err)
	}
	if !reflect.DeepEqual(res.Missing, []string{"Phone"}) {
		t.Errorf("missing = %v, want [Phone]", res.Missing)
	}

	_, err = Transform(rows, []Mapping{{Source: "Phone"}}, TransformOptions{HasHeader: true})
	if err == nil || !strings.Contains(err.Error(), "Phone") {
		t.Fatalf("expected error naming Phone, got %v", err)
	}
}

func TestTransform_EmptySource(t *testing.T) {
	res, err := Transform(nil, annMappings(), TransformOptions{HasHeader: true})
	if err != nil {
		t.Fatalf("Transform: %v", err)
	}
	if len(res.Records) != 0 {
		t.Errorf("records = %d, want 0", len(res.Records))
	}
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		name    string
		in      []Mapping
		wantErr string
	}{
		{"derived target", []Mapping{{Source: "First Name"}}, ""},
		{"empty", nil, "at least one"},
		{"reserved", []Mapping{{Source: "x", Target: "row_hash"}}, "reserved"},
		{"duplicate", []Mapping{{Source: "a", Target: "c"}, {Source: "b", Target: "C"}}, "duplicated"},
		{"bad identifier", []Mapping{{Source: "a", Target: "drop table;"}}, "valid identifier"},
		{"unknown type", []Mapping{{Source: "a", Type: "money"}}, "unknown"},
		{"missing source", []Mapping{{Target: "a"}}, "source is required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := Normalize(tt.in)
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				if out[0].Target != "first_name" || out[0].Type != dialect.TypeAuto {
					t.Errorf("normalized = %+v", out[0])
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestSanitizeIdentifier(t *testing.T) {
	tests := map[string]string{
		"First Name":    "first_name",
		"  E-mail ":     "e_mail",
		"2024 Revenue":  "c_2024_revenue",
		"%%%":           "col",
		"Price ($)":     "price",
		"already_snake": "already_snake",
	}
	for in, want := range tests {
		if got := SanitizeIdentifier(in); got != want {
			t.Errorf("SanitizeIdentifier(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestColumnIndex(t *testing.T) {
	tests := map[string]int{"A": 0, "b": 1, "Z": 25, "AA": 26, "AZ": 51, "": -1, "A1": -1}
	for in, want := range tests {
		if got := ColumnIndex(in); got != want {
			t.Errorf("ColumnIndex(%q) = %d, want %d", in, got, want)
		}
	}
}

func TestMappingsRoundTrip(t *testing.T) {
	raw := `[{"source":"Name","target":"name","type":"string"},{"source":"Age"}]`
	m, err := DecodeMappings(raw)
	if err != nil {
		t.Fatalf("DecodeMappings: %v", err)
	}
	if m[1].Target != "age" || m[1].Type != dialect.TypeAuto {
		t.Errorf("decoded = %+v", m[1])
	}
	if _, err := DecodeMappings("{"); err == nil {
		t.Error("expected error for malformed JSON")
	}
}
