package dialect

import (
	"errors"
	"strings"
	"testing"

	"github.com/go-sql-driver/mysql"
	"github.com/lib/pq"
)

func TestQuoteIdentifier(t *testing.T) {
	tests := []struct {
		name string
		d    Dialect
		in   string
		want string
	}{
		{"mysql plain", MySQL{}, "users", "`users`"},
		{"mysql embedded backtick", MySQL{}, "we`ird", "`we``ird`"},
		{"postgres plain", Postgres{}, "users", `"users"`},
		{"postgres embedded quote", Postgres{}, `we"ird`, `"we""ird"`},
		{"sqlite plain", SQLite{}, "Email", `"Email"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.d.QuoteIdentifier(tt.in); got != tt.want {
				t.Errorf("QuoteIdentifier(%q) = %s, want %s", tt.in, got, tt.want)
			}
		})
	}
}

func TestBuildBatchInsert_Postgres(t *testing.T) {
	sql, n := Postgres{}.BuildBatchInsert("people", []string{"name", "age"}, 3)
	want := `INSERT INTO "people" ("name", "age") VALUES ($1, $2), ($3, $4), ($5, $6)`
	if sql != want {
		t.Errorf("sql = %s\nwant  %s", sql, want)
	}
	if n != 6 {
		t.Errorf("paramCount = %d, want 6", n)
	}
}

func TestBuildBatchInsert_MySQL(t *testing.T) {
	sql, n := MySQL{}.BuildBatchInsert("people", []string{"name", "age"}, 2)
	want := "INSERT INTO `people` (`name`, `age`) VALUES (?, ?), (?, ?)"
	if sql != want {
		t.Errorf("sql = %s\nwant  %s", sql, want)
	}
	if n != 4 {
		t.Errorf("paramCount = %d, want 4", n)
	}
}

func TestBuildBatchInsert_ZeroBatchIsOneRow(t *testing.T) {
	_, n := SQLite{}.BuildBatchInsert("t", []string{"a"}, 0)
	if n != 1 {
		t.Errorf("paramCount = %d, want 1", n)
	}
}

func TestBuildBatchInsert_ContiguousNumbering(t *testing.T) {
	sql, n := Postgres{}.BuildBatchInsert("t", []string{"a", "b", "c"}, 50)
	if n != 150 {
		t.Fatalf("paramCount = %d, want 150", n)
	}
	for i := 1; i <= n; i++ {
		if !strings.Contains(sql, Postgres{}.Placeholder(i)+",") && !strings.Contains(sql, Postgres{}.Placeholder(i)+")") {
			t.Fatalf("placeholder $%d missing from statement", i)
		}
	}
	if strings.Contains(sql, "$151") {
		t.Error("statement references a parameter past paramCount")
	}
}

func TestBuildUpsert(t *testing.T) {
	cols := []string{"name", "source_row_index", "row_hash"}
	conflict := []string{"source_row_index"}

	tests := []struct {
		name string
		d    Dialect
		want string
	}{
		{
			name: "postgres",
			d:    Postgres{},
			want: `INSERT INTO "t" ("name", "source_row_index", "row_hash") VALUES ($1, $2, $3) ON CONFLICT ("source_row_index") DO UPDATE SET "name" = EXCLUDED."name", "row_hash" = EXCLUDED."row_hash"`,
		},
		{
			name: "sqlite",
			d:    SQLite{},
			want: `INSERT INTO "t" ("name", "source_row_index", "row_hash") VALUES (?, ?, ?) ON CONFLICT ("source_row_index") DO UPDATE SET "name" = EXCLUDED."name", "row_hash" = EXCLUDED."row_hash"`,
		},
		{
			name: "mysql",
			d:    MySQL{},
			want: "INSERT INTO `t` (`name`, `source_row_index`, `row_hash`) VALUES (?, ?, ?) ON DUPLICATE KEY UPDATE `name` = VALUES(`name`), `row_hash` = VALUES(`row_hash`)",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.d.BuildUpsert("t", cols, conflict); got != tt.want {
				t.Errorf("BuildUpsert =\n%s\nwant\n%s", got, tt.want)
			}
		})
	}
}

func TestBuildUpsert_OnlyConflictColumns(t *testing.T) {
	got := Postgres{}.BuildUpsert("t", []string{"k"}, []string{"k"})
	if !strings.HasSuffix(got, `ON CONFLICT ("k") DO NOTHING`) {
		t.Errorf("got %s, want DO NOTHING clause", got)
	}
	got = MySQL{}.BuildUpsert("t", []string{"k"}, []string{"k"})
	if !strings.HasSuffix(got, "ON DUPLICATE KEY UPDATE `k` = `k`") {
		t.Errorf("got %s, want no-op assignment", got)
	}
}

func TestBuildBatchUpsert_ParamCount(t *testing.T) {
	_, n := Postgres{}.BuildBatchUpsert("t", []string{"a", "b"}, []string{"a"}, 4)
	if n != 8 {
		t.Errorf("paramCount = %d, want 8", n)
	}
}

func TestBuildCreateTable(t *testing.T) {
	cols := []Column{
		{Name: "name", Type: TypeString},
		{Name: "age", Type: TypeInteger},
		{Name: "joined", Type: TypeDate, NotNull: true},
	}

	pg := Postgres{}.BuildCreateTable("people", cols)
	for _, want := range []string{
		`CREATE TABLE IF NOT EXISTS "people"`,
		`"id" BIGSERIAL PRIMARY KEY`,
		`"name" TEXT NULL`,
		`"age" BIGINT NULL`,
		`"joined" DATE NOT NULL`,
		`"source_row_index" BIGINT NULL`,
		`"row_hash" CHAR(32) NULL`,
		`"synced_at" TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP`,
	} {
		if !strings.Contains(pg, want) {
			t.Errorf("postgres DDL missing %q:\n%s", want, pg)
		}
	}

	my := MySQL{}.BuildCreateTable("people", cols)
	for _, want := range []string{
		"`id` BIGINT NOT NULL AUTO_INCREMENT PRIMARY KEY",
		"`synced_at` TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP",
	} {
		if !strings.Contains(my, want) {
			t.Errorf("mysql DDL missing %q:\n%s", want, my)
		}
	}

	lite := SQLite{}.BuildCreateTable("people", cols)
	if !strings.Contains(lite, `"id" INTEGER PRIMARY KEY AUTOINCREMENT`) {
		t.Errorf("sqlite DDL missing autoincrement key:\n%s", lite)
	}
}

func TestBuildAddColumn_SQLiteDropsDefault(t *testing.T) {
	got := SQLite{}.BuildAddColumn("t", Column{Name: ColSyncedAt, Type: typeTimestamp, NotNull: true, DefaultNow: true})
	want := `ALTER TABLE "t" ADD COLUMN "synced_at" DATETIME NULL`
	if got != want {
		t.Errorf("BuildAddColumn = %s, want %s", got, want)
	}
}

func TestBuildDeleteIn(t *testing.T) {
	got := Postgres{}.BuildDeleteIn("t", ColSourceRowIndex, 3)
	want := `DELETE FROM "t" WHERE "source_row_index" IN ($1, $2, $3)`
	if got != want {
		t.Errorf("BuildDeleteIn = %s, want %s", got, want)
	}
}

func TestIsDuplicateColumn(t *testing.T) {
	if !(MySQL{}).IsDuplicateColumn(&mysql.MySQLError{Number: 1060, Message: "Duplicate column name"}) {
		t.Error("mysql 1060 should be a duplicate column")
	}
	if (MySQL{}).IsDuplicateColumn(&mysql.MySQLError{Number: 1146}) {
		t.Error("mysql 1146 is not a duplicate column")
	}
	if !(Postgres{}).IsDuplicateColumn(&pq.Error{Code: "42701"}) {
		t.Error("pg 42701 should be a duplicate column")
	}
	if (Postgres{}).IsDuplicateColumn(errors.New("boom")) {
		t.Error("plain error is not a duplicate column")
	}
	if !(SQLite{}).IsDuplicateColumn(errors.New("duplicate column name: row_hash")) {
		t.Error("sqlite message should be a duplicate column")
	}
}

func TestIsDuplicateObject(t *testing.T) {
	if !(MySQL{}).IsDuplicateObject(&mysql.MySQLError{Number: 1061}) {
		t.Error("mysql 1061 should be a duplicate object")
	}
	if !(Postgres{}).IsDuplicateObject(&pq.Error{Code: "42P07"}) {
		t.Error("pg 42P07 should be a duplicate object")
	}
}

func TestFor(t *testing.T) {
	for name, want := range map[string]string{"mysql": "mysql", "PostgreSQL": "postgres", "sqlite3": "sqlite"} {
		d, err := For(name)
		if err != nil {
			t.Fatalf("For(%q): %v", name, err)
		}
		if d.Name() != want {
			t.Errorf("For(%q).Name() = %q, want %q", name, d.Name(), want)
		}
	}
	_, err := For("oracle")
	var ce *ConfigError
	if !errors.As(err, &ce) {
		t.Fatalf("For(oracle) error = %v, want *ConfigError", err)
	}
}

func TestIsReserved(t *testing.T) {
	for _, name := range []string{"id", "ROW_HASH", "source_row_index", "synced_at"} {
		if !IsReserved(name) {
			t.Errorf("IsReserved(%q) = false", name)
		}
	}
	if IsReserved("email") {
		t.Error("IsReserved(email) = true")
	}
}

func TestIndexName_Truncated(t *testing.T) {
	name := IndexName(strings.Repeat("x", 80))
	if len(name) != 63 {
		t.Errorf("len(IndexName) = %d, want 63", len(name))
	}
}
