// Package models holds the GORM models of the sheetsync job store.
package models

import "time"

// Job statuses. Only StatusRunning holds the execution lock; the others
// record the last outcome.
const (
	StatusIdle    = "idle"
	StatusRunning = "running"
	StatusSuccess = "success"
	StatusFailed  = "failed"
	StatusSkipped = "skipped"
)

// SyncJob is a persisted spreadsheet-to-table sync definition together with
// its scheduling state.
type SyncJob struct {
	ID            uint   `gorm:"primaryKey;autoIncrement" json:"id"`
	Name          string `gorm:"size:128;uniqueIndex;not null" json:"name"`
	SpreadsheetID string `gorm:"size:128;not null" json:"spreadsheet_id"`
	SheetName     string `gorm:"size:128;not null" json:"sheet_name"`
	Range         string `gorm:"size:64" json:"range,omitempty"`
	// A target table belongs to exactly one job per connection.
	TargetTable string `gorm:"size:64;not null;uniqueIndex:idx_sync_jobs_target,priority:2" json:"target_table"`
	Connection  string `gorm:"size:64;not null;uniqueIndex:idx_sync_jobs_target,priority:1" json:"connection"`
	// ColumnMapping is the JSON form of []changes.Mapping.
	ColumnMapping string `gorm:"type:text" json:"column_mapping"`
	HasHeader     bool   `json:"has_header"`
	Enabled       bool   `gorm:"index" json:"enabled"`
	Schedule      string `gorm:"size:64" json:"schedule,omitempty"`
	WindowStart   string `gorm:"size:5" json:"window_start,omitempty"`
	WindowEnd     string `gorm:"size:5" json:"window_end,omitempty"`

	Status    string     `gorm:"size:16;default:idle;index" json:"status"`
	LastRunAt *time.Time `json:"last_run_at,omitempty"`
	NextRunAt *time.Time `json:"next_run_at,omitempty"`
	RowCount  int64      `json:"row_count"`
	LastError string     `gorm:"type:text" json:"last_error,omitempty"`
	LockedBy  string     `gorm:"size:64" json:"locked_by,omitempty"`
	LockedAt  *time.Time `json:"locked_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}
