// Package changes turns raw source rows into typed, hashed records and
// classifies them against the tracked state of a target table.
package changes

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"github.com/zulandar/sheetsync/internal/dialect"
)

// Mapping maps one source column onto one target column.
type Mapping struct {
	Source string             `json:"source" yaml:"source"`
	Target string             `json:"target,omitempty" yaml:"target"`
	Type   dialect.ColumnType `json:"type,omitempty" yaml:"type"`
}

var identRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]{0,62}$`)

// ValidIdentifier reports whether name is safe as a table or column name.
func ValidIdentifier(name string) bool {
	return identRe.MatchString(name)
}

// SanitizeIdentifier derives a column name from a header: lowercased, runs
// of non-alphanumerics collapsed to "_", leading digits prefixed with "c_".
func SanitizeIdentifier(header string) string {
	var b strings.Builder
	underscore := false
	for _, r := range strings.ToLower(strings.TrimSpace(header)) {
		if r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)) {
			b.WriteRune(r)
			underscore = false
			continue
		}
		if !underscore && b.Len() > 0 {
			b.WriteByte('_')
			underscore = true
		}
	}
	name := strings.TrimRight(b.String(), "_")
	if name == "" {
		return "col"
	}
	if name[0] >= '0' && name[0] <= '9' {
		name = "c_" + name
	}
	if len(name) > 63 {
		name = name[:63]
	}
	return name
}

// Normalize fills derived targets and default types and validates the set.
func Normalize(mappings []Mapping) ([]Mapping, error) {
	if len(mappings) == 0 {
		return nil, fmt.Errorf("changes: at least one column mapping is required")
	}
	out := make([]Mapping, len(mappings))
	seen := make(map[string]bool, len(mappings))
	var errs []string
	for i, m := range mappings {
		m.Source = strings.TrimSpace(m.Source)
		if m.Source == "" {
			errs = append(errs, fmt.Sprintf("mapping[%d].source is required", i))
		}
		if m.Target == "" {
			m.Target = SanitizeIdentifier(m.Source)
		}
		if m.Type == "" {
			m.Type = dialect.TypeAuto
		}
		m.Type = dialect.ColumnType(strings.ToLower(string(m.Type)))
		switch {
		case !ValidIdentifier(m.Target):
			errs = append(errs, fmt.Sprintf("mapping[%d].target %q is not a valid identifier", i, m.Target))
		case dialect.IsReserved(m.Target):
			errs = append(errs, fmt.Sprintf("mapping[%d].target %q is reserved", i, m.Target))
		case seen[strings.ToLower(m.Target)]:
			errs = append(errs, fmt.Sprintf("mapping[%d].target %q is duplicated", i, m.Target))
		}
		if !dialect.ValidType(m.Type) {
			errs = append(errs, fmt.Sprintf("mapping[%d].type %q is unknown", i, m.Type))
		}
		seen[strings.ToLower(m.Target)] = true
		out[i] = m
	}
	if len(errs) > 0 {
		return nil, fmt.Errorf("changes: invalid column mapping: %s", strings.Join(errs, "; "))
	}
	return out, nil
}

// DecodeMappings parses the JSON form stored on a job.
func DecodeMappings(raw string) ([]Mapping, error) {
	var m []Mapping
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return nil, fmt.Errorf("changes: decode column mapping: %w", err)
	}
	return Normalize(m)
}

// EncodeMappings renders mappings in the JSON form stored on a job.
func EncodeMappings(mappings []Mapping) (string, error) {
	data, err := json.Marshal(mappings)
	if err != nil {
		return "", fmt.Errorf("changes: encode column mapping: %w", err)
	}
	return string(data), nil
}

// Columns returns the target columns described by mappings.
func Columns(mappings []Mapping) []dialect.Column {
	cols := make([]dialect.Column, len(mappings))
	for i, m := range mappings {
		t := m.Type
		if t == dialect.TypeAuto {
			t = dialect.TypeString
		}
		cols[i] = dialect.Column{Name: m.Target, Type: t}
	}
	return cols
}

// Mapper resolves mapping sources to positions within a source row.
type Mapper struct {
	mappings []Mapping
	index    []int
}

// NewMapper resolves each mapping against header. With a nil header, sources
// are read as column letters (A, B, ..., AA). Unresolved sources map to -1
// and yield nil cells.
func NewMapper(mappings []Mapping, header []any) *Mapper {
	byName := make(map[string]int, len(header))
	for i, h := range header {
		name := strings.ToLower(strings.TrimSpace(fmt.Sprint(valueOrEmpty(h))))
		if _, dup := byName[name]; !dup && name != "" {
			byName[name] = i
		}
	}
	idx := make([]int, len(mappings))
	for i, m := range mappings {
		idx[i] = -1
		if header != nil {
			if pos, ok := byName[strings.ToLower(m.Source)]; ok {
				idx[i] = pos
			}
			continue
		}
		idx[i] = ColumnIndex(m.Source)
	}
	return &Mapper{mappings: mappings, index: idx}
}

// Missing returns the sources that did not resolve to a column.
func (m *Mapper) Missing() []string {
	var out []string
	for i, pos := range m.index {
		if pos < 0 {
			out = append(out, m.mappings[i].Source)
		}
	}
	return out
}

// Cell returns the raw cell for mapping i in row, or nil when absent.
func (m *Mapper) Cell(row []any, i int) any {
	pos := m.index[i]
	if pos < 0 || pos >= len(row) {
		return nil
	}
	return row[pos]
}

// ColumnIndex converts spreadsheet column letters to a 0-based index.
// Anything else returns -1.
func ColumnIndex(letters string) int {
	letters = strings.ToUpper(strings.TrimSpace(letters))
	if letters == "" || len(letters) > 3 {
		return -1
	}
	n := 0
	for _, r := range letters {
		if r < 'A' || r > 'Z' {
			return -1
		}
		n = n*26 + int(r-'A'+1)
	}
	return n - 1
}

func valueOrEmpty(v any) any {
	if v == nil {
		return ""
	}
	return v
}
