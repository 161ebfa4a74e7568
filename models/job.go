package models

import (
	"time"

	"gorm.io/gorm"
)

// Job run statuses recorded in job history
const (
	JobStatusSuccess = "success"
	JobStatusFailed  = "failed"
	JobStatusSkipped = "skipped"
)

// JobRunState holds the last successful completion time for one job
// signature (job name plus any discriminator, e.g. "sync_futures:TXF").
// The row is created on first attempt and only ever mutated through a
// compare-and-swap on LastSuccessfulRunAt, so concurrent workers in
// different processes cannot both claim a completed run.
type JobRunState struct {
	JobSignature        string     `gorm:"primaryKey;size:100" json:"job_signature"`
	LastSuccessfulRunAt *time.Time `json:"last_successful_run_at"`
	CreatedAt           time.Time  `json:"created_at"`
	UpdatedAt           time.Time  `json:"updated_at"`
}

func (JobRunState) TableName() string {
	return "job_run_states"
}

// JobHistoryEntry is an append-only audit record of one job attempt.
// Entries are never mutated after write.
type JobHistoryEntry struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	JobSignature string    `gorm:"size:100;index" json:"job_signature"`
	StartedAt    time.Time `json:"started_at"`
	FinishedAt   time.Time `json:"finished_at"`
	Status       string    `gorm:"size:10;index" json:"status"`
	Summary      string    `json:"summary"`
	ErrorDetail  string    `json:"error_detail,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

func (JobHistoryEntry) TableName() string {
	return "job_histories"
}

// MigrateJobModels runs database migrations for job coordination models
func MigrateJobModels(db *gorm.DB) error {
	return db.AutoMigrate(
		&JobRunState{},
		&JobHistoryEntry{},
		&IntegrityReport{},
	)
}
