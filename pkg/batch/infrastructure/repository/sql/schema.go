package sql

import (
	"time"

	model "github.com/tidewave/riptide/pkg/batch/core/domain/model"
)

// BatchEntity is a schema model used for persistence.
type BatchEntity struct {
	ID            string
	Name          string
	WorkflowID    string
	Status        model.BatchStatus
	TotalJobs     int
	CompletedJobs int
	FailedJobs    int
	SkippedJobs   int
	Config        model.ProcessingConfig
	Metadata      model.Metadata
	CreatedAt     time.Time
	StartedAt     *time.Time
	CompletedAt   *time.Time
	Version       int
}

func (BatchEntity) TableName() string {
	return "batches"
}

// JobEntity is a schema model used for persistence.
// ExecutionTimeMs stores the final-attempt duration in milliseconds.
type JobEntity struct {
	ID              string
	BatchID         string
	WorkflowID      string
	Input           model.Payload
	Status          model.JobStatus
	Result          model.Payload
	ErrorMessage    string
	StartedAt       *time.Time
	CompletedAt     *time.Time
	ExecutionTimeMs int64
	RetryCount      int
	Priority        int
	Ordinal         int
	CreatedAt       time.Time
	Version         int
}

func (JobEntity) TableName() string {
	return "batch_jobs"
}

// ProgressEntity is a schema model used for persistence.
type ProgressEntity struct {
	BatchID          string
	TotalJobs        int
	CompletedJobs    int
	FailedJobs       int
	SkippedJobs      int
	Percentage       float64
	AvgJobDurationMs int64
	ETA              *time.Time
	UpdatedAt        time.Time
}

func (ProgressEntity) TableName() string {
	return "batch_progress"
}
