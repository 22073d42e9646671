package dialect

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/lib/pq"
)

// PostgreSQL SQLSTATE codes inspected by the schema upgrade path.
const (
	pgDuplicateColumn = "42701"
	pgDuplicateTable  = "42P07"
	pgDuplicateObject = "42710"
)

// Postgres targets PostgreSQL through lib/pq.
type Postgres struct{}

func (Postgres) Name() string       { return "postgres" }
func (Postgres) DriverName() string { return "postgres" }
func (Postgres) MaxParams() int     { return 65535 }

func (Postgres) QuoteIdentifier(name string) string { return quoteWith(name, `"`) }

func (Postgres) Placeholder(n int) string { return "$" + strconv.Itoa(n) }

func (d Postgres) sqlType(c Column) string {
	switch c.Type {
	case TypeInteger, typeRowIndex:
		return "BIGINT"
	case TypeDecimal:
		return "NUMERIC(20,6)"
	case TypeBoolean:
		return "BOOLEAN"
	case TypeDate:
		return "DATE"
	case TypeDateTime, typeTimestamp:
		return "TIMESTAMP"
	case typeRowHash:
		return fmt.Sprintf("CHAR(%d)", HashLength)
	default:
		return "TEXT"
	}
}

func (d Postgres) columnDef(c Column) string {
	return columnDef(d, c, d.sqlType(c))
}

func (d Postgres) BuildCreateTable(table string, columns []Column) string {
	return buildCreateTable(d, table, "BIGSERIAL PRIMARY KEY", columns, d.columnDef)
}

func (d Postgres) BuildAddColumn(table string, column Column) string {
	return buildAddColumn(d, table, d.columnDef(column))
}

func (d Postgres) BuildCreateUniqueIndex(table, index, column string) string {
	return fmt.Sprintf("CREATE UNIQUE INDEX IF NOT EXISTS %s ON %s (%s)",
		d.QuoteIdentifier(index), d.QuoteIdentifier(table), d.QuoteIdentifier(column))
}

func (d Postgres) BuildBatchInsert(table string, columns []string, batchSize int) (string, int) {
	return buildBatchInsert(d, table, columns, batchSize)
}

func (d Postgres) BuildUpsert(table string, columns, conflictColumns []string) string {
	sql, _ := d.BuildBatchUpsert(table, columns, conflictColumns, 1)
	return sql
}

func (d Postgres) BuildBatchUpsert(table string, columns, conflictColumns []string, batchSize int) (string, int) {
	insert, params := buildBatchInsert(d, table, columns, batchSize)
	return insert + onConflict(d, columns, conflictColumns), params
}

func (d Postgres) BuildDeleteIn(table, column string, count int) string {
	return buildDeleteIn(d, table, column, count)
}

func (d Postgres) BuildDropTable(table string) string {
	return "DROP TABLE IF EXISTS " + d.QuoteIdentifier(table)
}

func (Postgres) IsDuplicateColumn(err error) bool {
	var pe *pq.Error
	return errors.As(err, &pe) && string(pe.Code) == pgDuplicateColumn
}

func (Postgres) IsDuplicateObject(err error) bool {
	var pe *pq.Error
	if !errors.As(err, &pe) {
		return false
	}
	return string(pe.Code) == pgDuplicateTable || string(pe.Code) == pgDuplicateObject
}

// onConflict renders the ON CONFLICT clause shared by PostgreSQL and SQLite.
func onConflict(d Dialect, columns, conflictColumns []string) string {
	target := quoteList(d, conflictColumns)
	cols := updatable(columns, conflictColumns)
	if len(cols) == 0 {
		return fmt.Sprintf(" ON CONFLICT (%s) DO NOTHING", target)
	}
	sets := make([]string, len(cols))
	for i, c := range cols {
		q := d.QuoteIdentifier(c)
		sets[i] = fmt.Sprintf("%s = EXCLUDED.%s", q, q)
	}
	return fmt.Sprintf(" ON CONFLICT (%s) DO UPDATE SET %s", target, strings.Join(sets, ", "))
}
