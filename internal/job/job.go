// Package job provides sync job definition and run-log operations on the
// job store.
package job

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/zulandar/sheetsync/internal/changes"
	"github.com/zulandar/sheetsync/internal/config"
	"github.com/zulandar/sheetsync/internal/dialect"
	"github.com/zulandar/sheetsync/internal/models"
)

var (
	// ErrNotFound is returned when no job matches.
	ErrNotFound = errors.New("job: not found")
	// ErrTableInUse is returned when another job already writes the
	// target table on the same connection.
	ErrTableInUse = errors.New("job: target table is synced by another job")
	// ErrAmbiguousTable is returned when a table name matches jobs on
	// several connections and none was named.
	ErrAmbiguousTable = errors.New("job: table is synced on several connections")
)

// Opts holds the definition of a job. It is the request body of the job
// create and update endpoints.
type Opts struct {
	Name          string            `json:"name"`
	SpreadsheetID string            `json:"spreadsheet_id"`
	Sheet         string            `json:"sheet"`
	Range         string            `json:"range"`
	Table         string            `json:"table"`
	Connection    string            `json:"connection"`
	Columns       []changes.Mapping `json:"columns"`
	HasHeader     *bool             `json:"has_header"`
	Enabled       *bool             `json:"enabled"`
	Schedule      string            `json:"schedule"`
	WindowStart   string            `json:"window_start"`
	WindowEnd     string            `json:"window_end"`
}

// ListFilters holds optional filters for listing jobs.
type ListFilters struct {
	Enabled *bool
	Status  string
	Table   string
}

// validate checks the definition and returns the normalized mappings.
func (o *Opts) validate() ([]changes.Mapping, error) {
	var errs []string
	o.Name = strings.TrimSpace(o.Name)
	if o.Name == "" {
		errs = append(errs, "name is required")
	}
	if o.SpreadsheetID == "" {
		errs = append(errs, "spreadsheet_id is required")
	}
	if o.Sheet == "" {
		errs = append(errs, "sheet is required")
	}
	if !changes.ValidIdentifier(o.Table) {
		errs = append(errs, fmt.Sprintf("table %q is not a valid identifier", o.Table))
	}
	if (o.WindowStart == "") != (o.WindowEnd == "") {
		errs = append(errs, "window_start and window_end must be set together")
	}
	for _, w := range []string{o.WindowStart, o.WindowEnd} {
		if w != "" && !config.ValidClock(w) {
			errs = append(errs, fmt.Sprintf("window time %q must be HH:MM", w))
		}
	}
	mappings, err := changes.Normalize(o.Columns)
	if err != nil {
		errs = append(errs, err.Error())
	}
	if len(errs) > 0 {
		return nil, fmt.Errorf("job: invalid definition: %s", strings.Join(errs, "; "))
	}
	return mappings, nil
}

func (o *Opts) apply(j *models.SyncJob, mappings []changes.Mapping) error {
	encoded, err := changes.EncodeMappings(mappings)
	if err != nil {
		return err
	}
	j.Name = o.Name
	j.SpreadsheetID = o.SpreadsheetID
	j.SheetName = o.Sheet
	j.Range = o.Range
	j.TargetTable = o.Table
	j.Connection = dialect.ConnectionName(o.Connection)
	j.ColumnMapping = encoded
	j.HasHeader = o.HasHeader == nil || *o.HasHeader
	j.Enabled = o.Enabled == nil || *o.Enabled
	j.Schedule = strings.TrimSpace(o.Schedule)
	j.WindowStart = o.WindowStart
	j.WindowEnd = o.WindowEnd
	return nil
}

// Create validates opts and inserts a new idle job.
func Create(db *gorm.DB, opts Opts) (*models.SyncJob, error) {
	mappings, err := opts.validate()
	if err != nil {
		return nil, err
	}
	j := models.SyncJob{Status: models.StatusIdle}
	if err := opts.apply(&j, mappings); err != nil {
		return nil, fmt.Errorf("job: create: %w", err)
	}
	if err := checkTableFree(db, 0, j.Connection, j.TargetTable); err != nil {
		return nil, err
	}
	if err := db.Create(&j).Error; err != nil {
		return nil, fmt.Errorf("job: create %q: %w", opts.Name, err)
	}
	return &j, nil
}

// Update replaces the definition of job id. Scheduling state is kept.
func Update(db *gorm.DB, id uint, opts Opts) (*models.SyncJob, error) {
	mappings, err := opts.validate()
	if err != nil {
		return nil, err
	}
	j, err := Get(db, id)
	if err != nil {
		return nil, err
	}
	if err := opts.apply(j, mappings); err != nil {
		return nil, fmt.Errorf("job: update %d: %w", id, err)
	}
	if err := checkTableFree(db, id, j.Connection, j.TargetTable); err != nil {
		return nil, err
	}
	// A map so false booleans are written and scheduling columns untouched.
	updates := map[string]interface{}{
		"name":           j.Name,
		"spreadsheet_id": j.SpreadsheetID,
		"sheet_name":     j.SheetName,
		"range":          j.Range,
		"target_table":   j.TargetTable,
		"connection":     j.Connection,
		"column_mapping": j.ColumnMapping,
		"has_header":     j.HasHeader,
		"enabled":        j.Enabled,
		"schedule":       j.Schedule,
		"window_start":   j.WindowStart,
		"window_end":     j.WindowEnd,
	}
	if err := db.Model(&models.SyncJob{}).Where("id = ?", id).Updates(updates).Error; err != nil {
		return nil, fmt.Errorf("job: update %d: %w", id, err)
	}
	return j, nil
}

// checkTableFree fails with ErrTableInUse when a job other than id writes
// table on connection. The unique index backs this up under races.
func checkTableFree(db *gorm.DB, id uint, connection, table string) error {
	var other models.SyncJob
	err := db.Where("connection = ? AND target_table = ? AND id <> ?", connection, table, id).
		First(&other).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("job: check table %q: %w", table, err)
	}
	return fmt.Errorf("%w: %s on connection %q belongs to job %q", ErrTableInUse, table, connection, other.Name)
}

// GetByTable retrieves the job that writes table. An empty connection
// matches any connection as long as exactly one job writes the table.
func GetByTable(db *gorm.DB, connection, table string) (*models.SyncJob, error) {
	q := db.Where("target_table = ?", table)
	if connection != "" {
		q = q.Where("connection = ?", dialect.ConnectionName(connection))
	}
	var jobs []models.SyncJob
	if err := q.Order("id ASC").Limit(2).Find(&jobs).Error; err != nil {
		return nil, fmt.Errorf("job: get table %q: %w", table, err)
	}
	switch len(jobs) {
	case 0:
		return nil, fmt.Errorf("%w: no job writes table %q", ErrNotFound, table)
	case 1:
		return &jobs[0], nil
	}
	return nil, fmt.Errorf("%w: %q; name the connection", ErrAmbiguousTable, table)
}

// Get retrieves a job by ID.
func Get(db *gorm.DB, id uint) (*models.SyncJob, error) {
	var j models.SyncJob
	if err := db.Where("id = ?", id).First(&j).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: id %d", ErrNotFound, id)
		}
		return nil, fmt.Errorf("job: get %d: %w", id, err)
	}
	return &j, nil
}

// GetByName retrieves a job by its unique name.
func GetByName(db *gorm.DB, name string) (*models.SyncJob, error) {
	var j models.SyncJob
	if err := db.Where("name = ?", name).First(&j).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: name %q", ErrNotFound, name)
		}
		return nil, fmt.Errorf("job: get %q: %w", name, err)
	}
	return &j, nil
}

// List returns jobs matching the given filters, ordered by ID.
func List(db *gorm.DB, filters ListFilters) ([]models.SyncJob, error) {
	q := db.Model(&models.SyncJob{})
	if filters.Enabled != nil {
		q = q.Where("enabled = ?", *filters.Enabled)
	}
	if filters.Status != "" {
		q = q.Where("status = ?", filters.Status)
	}
	if filters.Table != "" {
		q = q.Where("target_table = ?", filters.Table)
	}
	var jobs []models.SyncJob
	if err := q.Order("id ASC").Find(&jobs).Error; err != nil {
		return nil, fmt.Errorf("job: list: %w", err)
	}
	return jobs, nil
}

// Delete removes a job and its run logs.
func Delete(db *gorm.DB, id uint) error {
	return db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("job_id = ?", id).Delete(&models.SyncRunLog{}).Error; err != nil {
			return fmt.Errorf("job: delete logs of %d: %w", id, err)
		}
		res := tx.Where("id = ?", id).Delete(&models.SyncJob{})
		if res.Error != nil {
			return fmt.Errorf("job: delete %d: %w", id, res.Error)
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("%w: id %d", ErrNotFound, id)
		}
		return nil
	})
}

// Mappings decodes the column mapping stored on j.
func Mappings(j *models.SyncJob) ([]changes.Mapping, error) {
	m, err := changes.DecodeMappings(j.ColumnMapping)
	if err != nil {
		return nil, fmt.Errorf("job %d: %w", j.ID, err)
	}
	return m, nil
}

// SaveMappings stores resolved mappings on job id so inferred types stay
// fixed across runs.
func SaveMappings(db *gorm.DB, id uint, mappings []changes.Mapping) error {
	encoded, err := changes.EncodeMappings(mappings)
	if err != nil {
		return err
	}
	if err := db.Model(&models.SyncJob{}).Where("id = ?", id).Update("column_mapping", encoded).Error; err != nil {
		return fmt.Errorf("job: save mappings of %d: %w", id, err)
	}
	return nil
}

// SetNextRun stores the next scheduled fire time of job id.
func SetNextRun(db *gorm.DB, id uint, next *time.Time) error {
	if err := db.Model(&models.SyncJob{}).Where("id = ?", id).Update("next_run_at", next).Error; err != nil {
		return fmt.Errorf("job: set next run of %d: %w", id, err)
	}
	return nil
}
