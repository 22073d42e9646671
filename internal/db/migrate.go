package db

import (
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/zulandar/sheetsync/internal/changes"
	"github.com/zulandar/sheetsync/internal/config"
	"github.com/zulandar/sheetsync/internal/dialect"
	"github.com/zulandar/sheetsync/internal/models"
)

// AllModels returns the list of all GORM models for migration.
func AllModels() []interface{} {
	return []interface{}{
		&models.SyncJob{},
		&models.SyncRunLog{},
	}
}

// AutoMigrate creates or updates the store tables.
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(AllModels()...); err != nil {
		return fmt.Errorf("db: auto-migrate: %w", err)
	}
	return nil
}

// JobFromConfig converts a configured job into its model form.
func JobFromConfig(jc config.JobConfig) (models.SyncJob, error) {
	mappings, err := changes.Normalize(jc.Columns)
	if err != nil {
		return models.SyncJob{}, fmt.Errorf("db: job %q: %w", jc.Name, err)
	}
	mapping, err := changes.EncodeMappings(mappings)
	if err != nil {
		return models.SyncJob{}, fmt.Errorf("db: job %q: %w", jc.Name, err)
	}
	return models.SyncJob{
		Name:          jc.Name,
		SpreadsheetID: jc.SpreadsheetID,
		SheetName:     jc.Sheet,
		Range:         jc.Range,
		TargetTable:   jc.Table,
		Connection:    dialect.ConnectionName(jc.Connection),
		ColumnMapping: mapping,
		HasHeader:     jc.Header(),
		Enabled:       jc.IsEnabled(),
		Schedule:      jc.Schedule,
		WindowStart:   jc.WindowStart,
		WindowEnd:     jc.WindowEnd,
		Status:        models.StatusIdle,
	}, nil
}

// definitionColumns are overwritten when a seeded job already exists.
// Scheduling state (status, locks, run times) is left alone.
var definitionColumns = []string{
	"spreadsheet_id", "sheet_name", "range", "target_table", "connection",
	"column_mapping", "has_header", "enabled", "schedule", "window_start", "window_end",
}

// SeedJobs upserts SyncJob rows from configuration, keyed by name.
func SeedJobs(db *gorm.DB, jobs []config.JobConfig) error {
	for _, jc := range jobs {
		job, err := JobFromConfig(jc)
		if err != nil {
			return err
		}
		result := db.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "name"}},
			DoUpdates: clause.AssignmentColumns(definitionColumns),
		}).Create(&job)
		if result.Error != nil {
			return fmt.Errorf("db: seed job %q: %w", jc.Name, result.Error)
		}
	}
	return nil
}
