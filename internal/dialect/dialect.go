// Package dialect hides the SQL differences between the supported target
// backends (MySQL, PostgreSQL, SQLite) behind a single Dialect interface.
package dialect

import (
	"fmt"
	"strings"
)

// ColumnType is the scalar type carried by a mapped column.
type ColumnType string

const (
	TypeAuto     ColumnType = "auto"
	TypeString   ColumnType = "string"
	TypeInteger  ColumnType = "integer"
	TypeDecimal  ColumnType = "decimal"
	TypeBoolean  ColumnType = "boolean"
	TypeDate     ColumnType = "date"
	TypeDateTime ColumnType = "datetime"

	// Tracking column types. Not valid in a column mapping.
	typeRowIndex  ColumnType = "row_index"
	typeRowHash   ColumnType = "row_hash"
	typeTimestamp ColumnType = "timestamp"
)

// Tracking column names present on every reconciled table.
const (
	ColID             = "id"
	ColSourceRowIndex = "source_row_index"
	ColRowHash        = "row_hash"
	ColSyncedAt       = "synced_at"
)

// HashLength is the width of the row_hash column.
const HashLength = 32

// ValidType reports whether t may appear in a column mapping.
func ValidType(t ColumnType) bool {
	switch t {
	case TypeAuto, TypeString, TypeInteger, TypeDecimal, TypeBoolean, TypeDate, TypeDateTime, "":
		return true
	}
	return false
}

// IsReserved reports whether name collides with a tracking column.
func IsReserved(name string) bool {
	switch strings.ToLower(name) {
	case ColID, ColSourceRowIndex, ColRowHash, ColSyncedAt:
		return true
	}
	return false
}

// Column describes one physical column of a target table.
type Column struct {
	Name    string
	Type    ColumnType
	NotNull bool
	// DefaultNow asks for a current-timestamp default where the dialect allows it.
	DefaultNow bool
}

// TrackingColumns returns the reconciliation metadata columns in insert order.
func TrackingColumns() []Column {
	return []Column{
		{Name: ColSourceRowIndex, Type: typeRowIndex},
		{Name: ColRowHash, Type: typeRowHash},
		{Name: ColSyncedAt, Type: typeTimestamp, NotNull: true, DefaultNow: true},
	}
}

// Dialect generates dialect-correct DDL and DML.
type Dialect interface {
	Name() string
	DriverName() string
	QuoteIdentifier(name string) string
	Placeholder(n int) string
	// MaxParams is the bind-parameter ceiling of a single statement.
	MaxParams() int

	BuildCreateTable(table string, columns []Column) string
	BuildAddColumn(table string, column Column) string
	BuildCreateUniqueIndex(table, index, column string) string
	BuildBatchInsert(table string, columns []string, batchSize int) (string, int)
	BuildUpsert(table string, columns, conflictColumns []string) string
	BuildBatchUpsert(table string, columns, conflictColumns []string, batchSize int) (string, int)
	BuildDeleteIn(table, column string, count int) string
	BuildDropTable(table string) string

	// IsDuplicateColumn reports an "already exists" failure from ADD COLUMN.
	IsDuplicateColumn(err error) bool
	// IsDuplicateObject reports an "already exists" failure for an index.
	IsDuplicateObject(err error) bool
}

// For returns the dialect registered under name.
func For(name string) (Dialect, error) {
	switch strings.ToLower(name) {
	case "mysql", "mariadb":
		return MySQL{}, nil
	case "postgres", "postgresql", "pg":
		return Postgres{}, nil
	case "sqlite", "sqlite3":
		return SQLite{}, nil
	}
	return nil, &ConfigError{Reason: fmt.Sprintf("unsupported dialect %q", name)}
}

// ConfigError reports a malformed or unsupported connection configuration.
type ConfigError struct {
	URL    string
	Reason string
	Err    error
}

func (e *ConfigError) Error() string {
	msg := "dialect: invalid configuration"
	if e.URL != "" {
		msg += fmt.Sprintf(" %q", e.URL)
	}
	msg += ": " + e.Reason
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ConfigError) Unwrap() error { return e.Err }

// IndexName builds the unique index name for a table's source_row_index.
func IndexName(table string) string {
	name := "uq_" + table + "_" + ColSourceRowIndex
	if len(name) > 63 {
		name = name[:63]
	}
	return name
}

// quoteWith wraps name in q, doubling any embedded q.
func quoteWith(name, q string) string {
	return q + strings.ReplaceAll(name, q, q+q) + q
}

// valueGroups renders batchSize "(p, p, ...)" groups with contiguous numbering
// starting at 1 and returns the SQL fragment and total parameter count.
func valueGroups(d Dialect, width, batchSize int) (string, int) {
	var b strings.Builder
	n := 1
	for r := 0; r < batchSize; r++ {
		if r > 0 {
			b.WriteString(", ")
		}
		b.WriteByte('(')
		for c := 0; c < width; c++ {
			if c > 0 {
				b.WriteString(", ")
			}
			b.WriteString(d.Placeholder(n))
			n++
		}
		b.WriteByte(')')
	}
	return b.String(), n - 1
}

func quoteList(d Dialect, names []string) string {
	quoted := make([]string, len(names))
	for i, n := range names {
		quoted[i] = d.QuoteIdentifier(n)
	}
	return strings.Join(quoted, ", ")
}

func buildBatchInsert(d Dialect, table string, columns []string, batchSize int) (string, int) {
	if batchSize < 1 {
		batchSize = 1
	}
	groups, params := valueGroups(d, len(columns), batchSize)
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES %s",
		d.QuoteIdentifier(table), quoteList(d, columns), groups), params
}

func buildCreateTable(d Dialect, table, idDef string, columns []Column, def func(Column) string) string {
	defs := []string{d.QuoteIdentifier(ColID) + " " + idDef}
	for _, c := range columns {
		defs = append(defs, def(c))
	}
	for _, c := range TrackingColumns() {
		defs = append(defs, def(c))
	}
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n  %s\n)",
		d.QuoteIdentifier(table), strings.Join(defs, ",\n  "))
}

func columnDef(d Dialect, c Column, sqlType string) string {
	def := d.QuoteIdentifier(c.Name) + " " + sqlType
	if c.NotNull {
		def += " NOT NULL"
	} else {
		def += " NULL"
	}
	if c.DefaultNow {
		def += " DEFAULT CURRENT_TIMESTAMP"
	}
	return def
}

func buildAddColumn(d Dialect, table, def string) string {
	return fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s", d.QuoteIdentifier(table), def)
}

// updatable returns the columns not named in conflict.
func updatable(columns, conflict []string) []string {
	skip := make(map[string]bool, len(conflict))
	for _, c := range conflict {
		skip[c] = true
	}
	var out []string
	for _, c := range columns {
		if !skip[c] {
			out = append(out, c)
		}
	}
	return out
}

func buildDeleteIn(d Dialect, table, column string, count int) string {
	ph := make([]string, count)
	for i := range ph {
		ph[i] = d.Placeholder(i + 1)
	}
	return fmt.Sprintf("DELETE FROM %s WHERE %s IN (%s)",
		d.QuoteIdentifier(table), d.QuoteIdentifier(column), strings.Join(ph, ", "))
}
