package model

import "time"

// Progress is the durable progress snapshot of a batch, recomputed after every
// terminal job event.
type Progress struct {
	BatchID        string
	TotalJobs      int
	CompletedJobs  int
	FailedJobs     int
	SkippedJobs    int
	Percentage     float64
	AvgJobDuration time.Duration
	// ETA is nil until at least one job has completed successfully.
	ETA       *time.Time
	UpdatedAt time.Time
}

// BatchStatusView is a point-in-time monitoring view of a batch. Counters are
// recomputed from the persisted job rows, never from the cached batch row.
type BatchStatusView struct {
	BatchID        string
	Name           string
	WorkflowID     string
	Status         BatchStatus
	TotalJobs      int
	PendingJobs    int
	RunningJobs    int
	RetryingJobs   int
	CompletedJobs  int
	FailedJobs     int
	SkippedJobs    int
	Percentage     float64
	AvgJobDuration time.Duration
	ETA            *time.Time
	CreatedAt      time.Time
	StartedAt      *time.Time
	CompletedAt    *time.Time
}

// JobResult is the per-job slice of a batch result.
type JobResult struct {
	JobID         string
	Status        JobStatus
	Result        Payload
	ErrorMessage  string
	RetryCount    int
	ExecutionTime time.Duration
}

// BatchResult is the read-only outcome aggregate of a batch, derived on demand
// from the persisted job rows. BatchStatus marks in-flight results clearly.
type BatchResult struct {
	BatchID       string
	Name          string
	Status        BatchStatus
	TotalJobs     int
	CompletedJobs int
	FailedJobs    int
	SkippedJobs   int
	// TotalExecutionTime is the sum of final-attempt durations over terminal jobs.
	TotalExecutionTime time.Duration
	AvgExecutionTime   time.Duration
	StartedAt          *time.Time
	CompletedAt        *time.Time
	// Jobs is populated only when details are requested.
	Jobs []JobResult
}

// BatchSummary is a compact listing entry for a batch.
type BatchSummary struct {
	ID          string
	Name        string
	WorkflowID  string
	Status      BatchStatus
	TotalJobs   int
	CreatedAt   time.Time
	CompletedAt *time.Time
}
