package job

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/zulandar/sheetsync/internal/changes"
	"github.com/zulandar/sheetsync/internal/db"
	"github.com/zulandar/sheetsync/internal/models"
	"gorm.io/gorm"
)

func testDB(t *testing.T) *gorm.DB {
	t.Helper()
	gdb, err := db.Connect("sqlite://" + filepath.Join(t.TempDir(), "store.db"))
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if err := db.AutoMigrate(gdb); err != nil {
		t.Fatalf("AutoMigrate: %v", err)
	}
	return gdb
}

func peopleOpts() Opts {
	return Opts{
		Name:          "people",
		SpreadsheetID: "s1",
		Sheet:         "People",
		Table:         "people",
		Schedule:      "@hourly",
		Columns:       []changes.Mapping{{Source: "Name"}, {Source: "Age", Type: "integer"}},
	}
}

func TestCreate(t *testing.T) {
	gdb := testDB(t)
	j, err := Create(gdb, peopleOpts())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if j.ID == 0 || j.Status != models.StatusIdle || !j.HasHeader || !j.Enabled {
		t.Errorf("created = %+v", j)
	}
	m, err := Mappings(j)
	if err != nil {
		t.Fatalf("Mappings: %v", err)
	}
	if len(m) != 2 || m[0].Target != "name" || m[1].Type != "integer" {
		t.Errorf("mappings = %+v", m)
	}

	if _, err := Create(gdb, peopleOpts()); err == nil {
		t.Error("expected unique-name violation")
	}
}

func TestCreate_Validation(t *testing.T) {
	gdb := testDB(t)
	tests := []struct {
		name   string
		mutate func(*Opts)
		want   string
	}{
		{"no name", func(o *Opts) { o.Name = " " }, "name is required"},
		{"no sheet", func(o *Opts) { o.Sheet = "" }, "sheet is required"},
		{"bad table", func(o *Opts) { o.Table = "x;drop" }, "valid identifier"},
		{"reserved column", func(o *Opts) { o.Columns = []changes.Mapping{{Source: "x", Target: "synced_at"}} }, "reserved"},
		{"half window", func(o *Opts) { o.WindowEnd = "02:00" }, "set together"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := peopleOpts()
			tt.mutate(&o)
			_, err := Create(gdb, o)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error = %v, want containing %q", err, tt.want)
			}
		})
	}
}

func TestGet_NotFound(t *testing.T) {
	gdb := testDB(t)
	if _, err := Get(gdb, 42); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get error = %v, want ErrNotFound", err)
	}
	if _, err := GetByName(gdb, "nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetByName error = %v, want ErrNotFound", err)
	}
}

func TestUpdate_KeepsRuntimeState(t *testing.T) {
	gdb := testDB(t)
	j, _ := Create(gdb, peopleOpts())
	gdb.Model(&models.SyncJob{}).Where("id = ?", j.ID).Updates(map[string]interface{}{"status": models.StatusSuccess, "row_count": 9})

	o := peopleOpts()
	o.Sheet = "People 2"
	off := false
	o.Enabled = &off
	updated, err := Update(gdb, j.ID, o)
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if updated.SheetName != "People 2" || updated.Enabled {
		t.Errorf("updated = %+v", updated)
	}

	got, _ := Get(gdb, j.ID)
	if got.Enabled {
		t.Error("enabled=false was not persisted")
	}
	if got.Status != models.StatusSuccess || got.RowCount != 9 {
		t.Errorf("runtime state lost: %+v", got)
	}

	if _, err := Update(gdb, 999, o); !errors.Is(err, ErrNotFound) {
		t.Errorf("Update missing = %v, want ErrNotFound", err)
	}
}

func TestList_Filters(t *testing.T) {
	gdb := testDB(t)
	Create(gdb, peopleOpts())
	o := peopleOpts()
	o.Name, o.Table = "orders", "orders"
	off := false
	o.Enabled = &off
	Create(gdb, o)

	all, err := List(gdb, ListFilters{})
	if err != nil || len(all) != 2 {
		t.Fatalf("List = %d, %v", len(all), err)
	}
	on := true
	enabled, _ := List(gdb, ListFilters{Enabled: &on})
	if len(enabled) != 1 || enabled[0].Name != "people" {
		t.Errorf("enabled = %+v", enabled)
	}
	byTable, _ := List(gdb, ListFilters{Table: "orders"})
	if len(byTable) != 1 || byTable[0].Name != "orders" {
		t.Errorf("byTable = %+v", byTable)
	}
}

func TestDelete(t *testing.T) {
	gdb := testDB(t)
	j, _ := Create(gdb, peopleOpts())
	StartRun(gdb, j.ID, models.TriggerManual, "i1", time.Now())

	if err := Delete(gdb, j.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	var logs int64
	gdb.Model(&models.SyncRunLog{}).Where("job_id = ?", j.ID).Count(&logs)
	if logs != 0 {
		t.Errorf("run logs left = %d", logs)
	}
	if err := Delete(gdb, j.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("second Delete = %v, want ErrNotFound", err)
	}
}

func TestSaveMappings(t *testing.T) {
	gdb := testDB(t)
	j, _ := Create(gdb, peopleOpts())
	resolved := []changes.Mapping{{Source: "Name", Target: "name", Type: "string"}, {Source: "Age", Target: "age", Type: "integer"}}
	if err := SaveMappings(gdb, j.ID, resolved); err != nil {
		t.Fatalf("SaveMappings: %v", err)
	}
	got, _ := Get(gdb, j.ID)
	m, _ := Mappings(got)
	if m[0].Type != "string" {
		t.Errorf("type = %q, want string", m[0].Type)
	}
}

func TestRunLogs(t *testing.T) {
	gdb := testDB(t)
	j, _ := Create(gdb, peopleOpts())
	start := time.Now().Add(-2 * time.Second)

	first, err := StartRun(gdb, j.ID, models.TriggerSchedule, "i1", start)
	if err != nil {
		t.Fatalf("StartRun: %v", err)
	}
	first.Status = models.StatusSuccess
	first.Inserted = 3
	if err := FinishRun(gdb, first, start.Add(time.Second)); err != nil {
		t.Fatalf("FinishRun: %v", err)
	}

	second, _ := StartRun(gdb, j.ID, models.TriggerManual, "i1", start.Add(time.Second))
	n, err := FailRunning(gdb, j.ID, "interrupted or timed out", time.Now())
	if err != nil || n != 1 {
		t.Fatalf("FailRunning = %d, %v; want 1", n, err)
	}
	// A late finalize must not overwrite the sweep's verdict.
	second.Status = models.StatusSuccess
	FinishRun(gdb, second, time.Now())

	logs, err := ListRuns(gdb, j.ID, 10)
	if err != nil || len(logs) != 2 {
		t.Fatalf("ListRuns = %d, %v", len(logs), err)
	}
	if logs[0].ID != second.ID || logs[0].Status != models.StatusFailed {
		t.Errorf("newest = %+v, want failed second run", logs[0])
	}
	if logs[1].Status != models.StatusSuccess || logs[1].Inserted != 3 || logs[1].DurationMs != 1000 {
		t.Errorf("oldest = %+v", logs[1])
	}

	limited, _ := ListRuns(gdb, j.ID, 1)
	if len(limited) != 1 {
		t.Errorf("limit ignored: %d", len(limited))
	}
}

func TestCreate_RejectsSharedTable(t *testing.T) {
	gdb := testDB(t)
	if _, err := Create(gdb, peopleOpts()); err != nil {
		t.Fatalf("Create: %v", err)
	}

	tests := []struct {
		name       string
		connection string
		wantErr    bool
	}{
		{"same table implicit default", "", true},
		{"same table explicit default", "default", true},
		{"same table other connection", "warehouse", false},
	}
	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := peopleOpts()
			o.Name = fmt.Sprintf("people_copy_%d", i)
			o.Connection = tt.connection
			_, err := Create(gdb, o)
			if tt.wantErr && !errors.Is(err, ErrTableInUse) {
				t.Errorf("err = %v, want ErrTableInUse", err)
			}
			if !tt.wantErr && err != nil {
				t.Errorf("err = %v, want nil", err)
			}
		})
	}
}

func TestCreate_NormalizesConnection(t *testing.T) {
	gdb := testDB(t)
	j, err := Create(gdb, peopleOpts())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if j.Connection != "default" {
		t.Errorf("connection = %q, want default", j.Connection)
	}
}

func TestUpdate_RejectsSharedTable(t *testing.T) {
	gdb := testDB(t)
	people, _ := Create(gdb, peopleOpts())
	o := peopleOpts()
	o.Name, o.Table = "orders", "orders"
	orders, err := Create(gdb, o)
	if err != nil {
		t.Fatalf("Create orders: %v", err)
	}

	o.Table = "people"
	if _, err := Update(gdb, orders.ID, o); !errors.Is(err, ErrTableInUse) {
		t.Fatalf("Update err = %v, want ErrTableInUse", err)
	}
	got, _ := Get(gdb, orders.ID)
	if got.TargetTable != "orders" {
		t.Errorf("rejected update was persisted: table = %q", got.TargetTable)
	}

	// A job may keep its own table across updates.
	p := peopleOpts()
	p.Sheet = "People v2"
	if _, err := Update(gdb, people.ID, p); err != nil {
		t.Errorf("self update: %v", err)
	}
}

func TestSharedTable_UniqueIndex(t *testing.T) {
	gdb := testDB(t)
	if _, err := Create(gdb, peopleOpts()); err != nil {
		t.Fatalf("Create: %v", err)
	}
	dup := models.SyncJob{
		Name:          "sneaky",
		SpreadsheetID: "s2",
		SheetName:     "Other",
		TargetTable:   "people",
		Connection:    "default",
		Status:        models.StatusIdle,
	}
	if err := gdb.Create(&dup).Error; err == nil {
		t.Fatal("store accepted a second job on the same connection and table")
	}
}

func TestGetByTable(t *testing.T) {
	gdb := testDB(t)
	people, _ := Create(gdb, peopleOpts())

	got, err := GetByTable(gdb, "", "people")
	if err != nil || got.ID != people.ID {
		t.Fatalf("GetByTable = %+v, %v", got, err)
	}
	if _, err := GetByTable(gdb, "", "nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing table err = %v, want ErrNotFound", err)
	}

	o := peopleOpts()
	o.Name, o.Connection = "people_wh", "warehouse"
	wh, err := Create(gdb, o)
	if err != nil {
		t.Fatalf("Create warehouse: %v", err)
	}
	if _, err := GetByTable(gdb, "", "people"); !errors.Is(err, ErrAmbiguousTable) {
		t.Errorf("ambiguous err = %v, want ErrAmbiguousTable", err)
	}
	got, err = GetByTable(gdb, "warehouse", "people")
	if err != nil || got.ID != wh.ID {
		t.Errorf("GetByTable(warehouse) = %+v, %v", got, err)
	}
	got, err = GetByTable(gdb, "default", "people")
	if err != nil || got.ID != people.ID {
		t.Errorf("GetByTable(default) = %+v, %v", got, err)
	}
}
