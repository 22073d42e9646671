package changes

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/zulandar/sheetsync/internal/dialect"
)

// Normalized date layouts.
const (
	DateLayout     = "2006-01-02"
	DateTimeLayout = "2006-01-02 15:04:05"
)

// excelEpoch is day zero of the spreadsheet serial date system.
var excelEpoch = time.Date(1899, 12, 30, 0, 0, 0, 0, time.UTC)

// maxExcelSerial is 9999-12-31.
const maxExcelSerial = 2958465

var dateLayouts = []string{
	DateLayout,
	DateTimeLayout,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04",
	"2006/01/02",
	"2006/01/02 15:04:05",
	"1/2/2006",
	"1/2/2006 15:04:05",
	"1/2/2006 15:04",
	"01/02/2006",
	"02.01.2006",
	"2 Jan 2006",
	"Jan 2, 2006",
	"January 2, 2006",
}

// Coerce converts a raw cell to the Go value stored for type t. Values that
// cannot be converted become nil; coercion never fails a row.
func Coerce(v any, t dialect.ColumnType) any {
	if isBlank(v) {
		return nil
	}
	switch t {
	case dialect.TypeInteger:
		if n, ok := toInt(v); ok {
			return n
		}
	case dialect.TypeDecimal:
		if f, ok := toFloat(v); ok {
			return f
		}
	case dialect.TypeBoolean:
		if b, ok := toBool(v); ok {
			return b
		}
	case dialect.TypeDate:
		if tm, ok := toTime(v); ok {
			return tm.Format(DateLayout)
		}
	case dialect.TypeDateTime:
		if tm, ok := toTime(v); ok {
			return tm.Format(DateTimeLayout)
		}
	default:
		return toText(v)
	}
	return nil
}

func isBlank(v any) bool {
	switch x := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(x) == ""
	}
	return false
}

func toText(v any) any {
	switch x := v.(type) {
	case string:
		s := strings.TrimSpace(x)
		if s == "" {
			return nil
		}
		return s
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case json.Number:
		return x.String()
	case bool:
		return strconv.FormatBool(x)
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case time.Time:
		return formatTime(x)
	}
	return strings.TrimSpace(normalizeValue(v))
}

// cleanNumber strips grouping separators and currency decoration.
func cleanNumber(s string) string {
	s = strings.TrimSpace(s)
	s = strings.NewReplacer(",", "", " ", "", "$", "", "€", "", "£", "").Replace(s)
	return s
}

func toInt(v any) (int64, bool) {
	switch x := v.(type) {
	case int:
		return int64(x), true
	case int64:
		return x, true
	case float64:
		// float64(MaxInt64) rounds up to 2^63, which does not fit.
		if math.IsNaN(x) || x >= 9.223372036854775807e18 || x < -9.223372036854775808e18 {
			return 0, false
		}
		return int64(x), true
	case json.Number:
		return toInt(x.String())
	case bool:
		if x {
			return 1, true
		}
		return 0, true
	case string:
		s := cleanNumber(x)
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			return n, true
		}
		// Truncate decimal strings the way spreadsheet integer parsing does.
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return toInt(f)
		}
	}
	return 0, false
}

func toFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case int:
		return float64(x), true
	case int64:
		return float64(x), true
	case float64:
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return 0, false
		}
		return x, true
	case json.Number:
		return toFloat(x.String())
	case string:
		f, err := strconv.ParseFloat(cleanNumber(x), 64)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return 0, false
		}
		return f, true
	}
	return 0, false
}

func toBool(v any) (bool, bool) {
	switch x := v.(type) {
	case bool:
		return x, true
	case float64:
		if x == 1 || x == 0 {
			return x == 1, true
		}
	case int64:
		if x == 1 || x == 0 {
			return x == 1, true
		}
	case string:
		switch strings.ToLower(strings.TrimSpace(x)) {
		case "true", "yes", "y", "1", "on", "t":
			return true, true
		case "false", "no", "n", "0", "off", "f":
			return false, true
		}
	}
	return false, false
}

// toTime accepts time values, spreadsheet serial numbers (numeric or
// numeric strings), and the layouts in dateLayouts.
func toTime(v any) (time.Time, bool) {
	switch x := v.(type) {
	case time.Time:
		return x.UTC(), true
	case float64:
		return fromSerial(x)
	case int64:
		return fromSerial(float64(x))
	case int:
		return fromSerial(float64(x))
	case json.Number:
		return toTime(x.String())
	case string:
		s := strings.TrimSpace(x)
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return fromSerial(f)
		}
		for _, layout := range dateLayouts {
			if tm, err := time.Parse(layout, s); err == nil {
				return tm.UTC(), true
			}
		}
	}
	return time.Time{}, false
}

// fromSerial converts a spreadsheet serial date (days since 1899-12-30,
// fraction = time of day) to a UTC time.
func fromSerial(serial float64) (time.Time, bool) {
	if math.IsNaN(serial) || serial < 1 || serial > maxExcelSerial {
		return time.Time{}, false
	}
	days := math.Floor(serial)
	secs := math.Round((serial - days) * 86400)
	return excelEpoch.AddDate(0, 0, int(days)).Add(time.Duration(secs) * time.Second), true
}

// formatTime renders a date-only layout when there is no time of day.
func formatTime(t time.Time) string {
	t = t.UTC()
	if t.Hour() == 0 && t.Minute() == 0 && t.Second() == 0 {
		return t.Format(DateLayout)
	}
	return t.Format(DateTimeLayout)
}
