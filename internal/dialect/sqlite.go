package dialect

import (
	"errors"
	"fmt"
	"strings"

	"github.com/mattn/go-sqlite3"
)

// SQLite targets local SQLite files through mattn/go-sqlite3. It exists for
// development and tests; production targets are MySQL or PostgreSQL.
type SQLite struct{}

func (SQLite) Name() string       { return "sqlite" }
func (SQLite) DriverName() string { return "sqlite3" }
func (SQLite) MaxParams() int     { return 32766 }

func (SQLite) QuoteIdentifier(name string) string { return quoteWith(name, `"`) }

func (SQLite) Placeholder(int) string { return "?" }

func (d SQLite) sqlType(c Column) string {
	switch c.Type {
	case TypeInteger, TypeBoolean, typeRowIndex:
		return "INTEGER"
	case TypeDecimal:
		return "REAL"
	case typeTimestamp:
		return "DATETIME"
	default:
		return "TEXT"
	}
}

func (d SQLite) columnDef(c Column) string {
	return columnDef(d, c, d.sqlType(c))
}

func (d SQLite) BuildCreateTable(table string, columns []Column) string {
	return buildCreateTable(d, table, "INTEGER PRIMARY KEY AUTOINCREMENT", columns, d.columnDef)
}

// BuildAddColumn drops NOT NULL and the timestamp default: SQLite refuses
// non-constant defaults in ALTER TABLE.
func (d SQLite) BuildAddColumn(table string, column Column) string {
	column.NotNull = false
	column.DefaultNow = false
	return buildAddColumn(d, table, d.columnDef(column))
}

func (d SQLite) BuildCreateUniqueIndex(table, index, column string) string {
	return fmt.Sprintf("CREATE UNIQUE INDEX IF NOT EXISTS %s ON %s (%s)",
		d.QuoteIdentifier(index), d.QuoteIdentifier(table), d.QuoteIdentifier(column))
}

func (d SQLite) BuildBatchInsert(table string, columns []string, batchSize int) (string, int) {
	return buildBatchInsert(d, table, columns, batchSize)
}

func (d SQLite) BuildUpsert(table string, columns, conflictColumns []string) string {
	sql, _ := d.BuildBatchUpsert(table, columns, conflictColumns, 1)
	return sql
}

func (d SQLite) BuildBatchUpsert(table string, columns, conflictColumns []string, batchSize int) (string, int) {
	insert, params := buildBatchInsert(d, table, columns, batchSize)
	return insert + onConflict(d, columns, conflictColumns), params
}

func (d SQLite) BuildDeleteIn(table, column string, count int) string {
	return buildDeleteIn(d, table, column, count)
}

func (d SQLite) BuildDropTable(table string) string {
	return "DROP TABLE IF EXISTS " + d.QuoteIdentifier(table)
}

func (SQLite) IsDuplicateColumn(err error) bool {
	return sqliteErrorContains(err, "duplicate column name")
}

func (SQLite) IsDuplicateObject(err error) bool {
	return sqliteErrorContains(err, "already exists")
}

func sqliteErrorContains(err error, text string) bool {
	var se sqlite3.Error
	if errors.As(err, &se) {
		return strings.Contains(se.Error(), text)
	}
	return err != nil && strings.Contains(err.Error(), text)
}
