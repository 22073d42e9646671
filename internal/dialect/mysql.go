package dialect

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-sql-driver/mysql"
)

// MySQL error numbers inspected by the schema upgrade path.
const (
	mysqlErrDupFieldName = 1060
	mysqlErrDupKeyName   = 1061
)

// MySQL targets MySQL and MariaDB through go-sql-driver/mysql.
type MySQL struct{}

func (MySQL) Name() string       { return "mysql" }
func (MySQL) DriverName() string { return "mysql" }
func (MySQL) MaxParams() int     { return 65535 }

func (MySQL) QuoteIdentifier(name string) string { return quoteWith(name, "`") }

func (MySQL) Placeholder(int) string { return "?" }

func (d MySQL) sqlType(c Column) string {
	switch c.Type {
	case TypeInteger, typeRowIndex:
		return "BIGINT"
	case TypeDecimal:
		return "DECIMAL(20,6)"
	case TypeBoolean:
		return "TINYINT(1)"
	case TypeDate:
		return "DATE"
	case TypeDateTime:
		return "DATETIME"
	case typeRowHash:
		return fmt.Sprintf("CHAR(%d)", HashLength)
	case typeTimestamp:
		return "TIMESTAMP"
	default:
		return "TEXT"
	}
}

func (d MySQL) columnDef(c Column) string {
	def := columnDef(d, c, d.sqlType(c))
	if c.DefaultNow {
		def += " ON UPDATE CURRENT_TIMESTAMP"
	}
	return def
}

func (d MySQL) BuildCreateTable(table string, columns []Column) string {
	return buildCreateTable(d, table, "BIGINT NOT NULL AUTO_INCREMENT PRIMARY KEY", columns, d.columnDef)
}

func (d MySQL) BuildAddColumn(table string, column Column) string {
	return buildAddColumn(d, table, d.columnDef(column))
}

// BuildCreateUniqueIndex has no IF NOT EXISTS form on MySQL; callers ignore
// IsDuplicateObject errors.
func (d MySQL) BuildCreateUniqueIndex(table, index, column string) string {
	return fmt.Sprintf("CREATE UNIQUE INDEX %s ON %s (%s)",
		d.QuoteIdentifier(index), d.QuoteIdentifier(table), d.QuoteIdentifier(column))
}

func (d MySQL) BuildBatchInsert(table string, columns []string, batchSize int) (string, int) {
	return buildBatchInsert(d, table, columns, batchSize)
}

func (d MySQL) BuildUpsert(table string, columns, conflictColumns []string) string {
	sql, _ := d.BuildBatchUpsert(table, columns, conflictColumns, 1)
	return sql
}

// BuildBatchUpsert relies on the unique keys of the table; conflictColumns
// only decides which columns are left untouched on update.
func (d MySQL) BuildBatchUpsert(table string, columns, conflictColumns []string, batchSize int) (string, int) {
	insert, params := buildBatchInsert(d, table, columns, batchSize)
	cols := updatable(columns, conflictColumns)
	if len(cols) == 0 {
		// No-op assignment keeps the statement valid.
		c := d.QuoteIdentifier(conflictColumns[0])
		return insert + " ON DUPLICATE KEY UPDATE " + c + " = " + c, params
	}
	sets := make([]string, len(cols))
	for i, c := range cols {
		q := d.QuoteIdentifier(c)
		sets[i] = fmt.Sprintf("%s = VALUES(%s)", q, q)
	}
	return insert + " ON DUPLICATE KEY UPDATE " + strings.Join(sets, ", "), params
}

func (d MySQL) BuildDeleteIn(table, column string, count int) string {
	return buildDeleteIn(d, table, column, count)
}

func (d MySQL) BuildDropTable(table string) string {
	return "DROP TABLE IF EXISTS " + d.QuoteIdentifier(table)
}

func (MySQL) IsDuplicateColumn(err error) bool {
	var me *mysql.MySQLError
	return errors.As(err, &me) && me.Number == mysqlErrDupFieldName
}

func (MySQL) IsDuplicateObject(err error) bool {
	var me *mysql.MySQLError
	return errors.As(err, &me) && me.Number == mysqlErrDupKeyName
}
