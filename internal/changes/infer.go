package changes

import (
	"strconv"
	"strings"

	"github.com/zulandar/sheetsync/internal/dialect"
)

// InferType picks the narrowest type that accepts every non-blank value.
// Blank columns infer as string. Numeric strings with leading zeros stay
// strings so identifiers such as ZIP codes keep their digits.
func InferType(values []any) dialect.ColumnType {
	candidates := map[dialect.ColumnType]bool{
		dialect.TypeInteger:  true,
		dialect.TypeDecimal:  true,
		dialect.TypeBoolean:  true,
		dialect.TypeDate:     true,
		dialect.TypeDateTime: true,
	}
	seen := 0
	for _, v := range values {
		if isBlank(v) {
			continue
		}
		seen++
		if !looksInteger(v) {
			candidates[dialect.TypeInteger] = false
		}
		if !looksDecimal(v) {
			candidates[dialect.TypeDecimal] = false
		}
		if !looksBoolean(v) {
			candidates[dialect.TypeBoolean] = false
		}
		date, datetime := looksDate(v)
		if !date {
			candidates[dialect.TypeDate] = false
		}
		if !datetime {
			candidates[dialect.TypeDateTime] = false
		}
	}
	if seen == 0 {
		return dialect.TypeString
	}
	for _, t := range []dialect.ColumnType{
		dialect.TypeInteger,
		dialect.TypeDecimal,
		dialect.TypeBoolean,
		dialect.TypeDate,
		dialect.TypeDateTime,
	} {
		if candidates[t] {
			return t
		}
	}
	return dialect.TypeString
}

// InferTypes resolves every TypeAuto mapping from the column values in rows.
func InferTypes(mappings []Mapping, mapper *Mapper, rows [][]any) []Mapping {
	out := make([]Mapping, len(mappings))
	copy(out, mappings)
	for i, m := range out {
		if m.Type != dialect.TypeAuto && m.Type != "" {
			continue
		}
		col := make([]any, 0, len(rows))
		for _, row := range rows {
			col = append(col, mapper.Cell(row, i))
		}
		out[i].Type = InferType(col)
	}
	return out
}

func hasLeadingZero(s string) bool {
	s = strings.TrimPrefix(strings.TrimSpace(s), "-")
	return len(s) > 1 && s[0] == '0' && s[1] != '.'
}

func looksInteger(v any) bool {
	switch x := v.(type) {
	case float64:
		return x == float64(int64(x))
	case int, int64:
		return true
	case string:
		s := strings.TrimSpace(x)
		if hasLeadingZero(s) {
			return false
		}
		_, err := strconv.ParseInt(cleanNumber(s), 10, 64)
		return err == nil
	}
	return false
}

func looksDecimal(v any) bool {
	switch x := v.(type) {
	case float64, int, int64:
		return true
	case string:
		if hasLeadingZero(x) {
			return false
		}
		_, ok := toFloat(x)
		return ok
	}
	return false
}

func looksBoolean(v any) bool {
	switch x := v.(type) {
	case bool:
		return true
	case string:
		switch strings.ToLower(strings.TrimSpace(x)) {
		case "true", "false", "yes", "no":
			return true
		}
	}
	return false
}

// looksDate reports whether v is a textual date, and whether it also fits
// a datetime column. Numbers never infer as dates.
func looksDate(v any) (date, datetime bool) {
	s, ok := v.(string)
	if !ok {
		return false, false
	}
	s = strings.TrimSpace(s)
	if _, err := strconv.ParseFloat(s, 64); err == nil {
		return false, false
	}
	tm, ok := toTime(s)
	if !ok {
		return false, false
	}
	dateOnly := tm.Hour() == 0 && tm.Minute() == 0 && tm.Second() == 0
	return dateOnly, true
}
