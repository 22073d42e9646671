package models

import "time"

// Run triggers.
const (
	TriggerSchedule = "schedule"
	TriggerManual   = "manual"
	TriggerFanOut   = "fanout"
)

// SyncRunLog records one execution attempt of a SyncJob.
type SyncRunLog struct {
	ID          uint       `gorm:"primaryKey;autoIncrement" json:"id"`
	JobID       uint       `gorm:"not null;index" json:"job_id"`
	Trigger     string     `gorm:"size:16" json:"trigger"`
	Status      string     `gorm:"size:16;default:running;index" json:"status"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	DurationMs  int64      `json:"duration_ms"`
	Message     string     `gorm:"type:text" json:"message,omitempty"`
	Error       string     `gorm:"type:text" json:"error,omitempty"`
	Inserted    int        `json:"inserted"`
	Updated     int        `json:"updated"`
	Deleted     int        `json:"deleted"`
	Unchanged   int        `json:"unchanged"`
	InstanceID  string     `gorm:"size:64" json:"instance_id"`
}
