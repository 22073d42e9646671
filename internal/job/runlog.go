package job

import (
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/zulandar/sheetsync/internal/models"
)

// DefaultLogLimit bounds ListRuns when no limit is given.
const DefaultLogLimit = 50

// StartRun inserts a running log entry for job id.
func StartRun(db *gorm.DB, jobID uint, trigger, instanceID string, now time.Time) (*models.SyncRunLog, error) {
	log := models.SyncRunLog{
		JobID:      jobID,
		Trigger:    trigger,
		Status:     models.StatusRunning,
		StartedAt:  now,
		InstanceID: instanceID,
	}
	if err := db.Create(&log).Error; err != nil {
		return nil, fmt.Errorf("job: start run of %d: %w", jobID, err)
	}
	return &log, nil
}

// FinishRun finalizes a running log entry. It is a no-op when the entry
// was already finalized, e.g. by the recovery sweep.
func FinishRun(db *gorm.DB, log *models.SyncRunLog, now time.Time) error {
	log.CompletedAt = &now
	log.DurationMs = now.Sub(log.StartedAt).Milliseconds()
	res := db.Model(&models.SyncRunLog{}).
		Where("id = ? AND status = ?", log.ID, models.StatusRunning).
		Updates(map[string]interface{}{
			"status":       log.Status,
			"completed_at": now,
			"duration_ms":  log.DurationMs,
			"message":      log.Message,
			"error":        log.Error,
			"inserted":     log.Inserted,
			"updated":      log.Updated,
			"deleted":      log.Deleted,
			"unchanged":    log.Unchanged,
		})
	if res.Error != nil {
		return fmt.Errorf("job: finish run %d: %w", log.ID, res.Error)
	}
	return nil
}

// FailRunning marks every running log of job id as failed with message.
func FailRunning(db *gorm.DB, jobID uint, message string, now time.Time) (int64, error) {
	res := db.Model(&models.SyncRunLog{}).
		Where("job_id = ? AND status = ?", jobID, models.StatusRunning).
		Updates(map[string]interface{}{
			"status":       models.StatusFailed,
			"error":        message,
			"completed_at": now,
		})
	if res.Error != nil {
		return 0, fmt.Errorf("job: fail running logs of %d: %w", jobID, res.Error)
	}
	return res.RowsAffected, nil
}

// ListRuns returns the most recent run logs of job id, newest first.
func ListRuns(db *gorm.DB, jobID uint, limit int) ([]models.SyncRunLog, error) {
	if limit <= 0 {
		limit = DefaultLogLimit
	}
	var logs []models.SyncRunLog
	err := db.Where("job_id = ?", jobID).Order("started_at DESC, id DESC").Limit(limit).Find(&logs).Error
	if err != nil {
		return nil, fmt.Errorf("job: list runs of %d: %w", jobID, err)
	}
	return logs, nil
}
