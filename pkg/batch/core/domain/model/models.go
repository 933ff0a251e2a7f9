package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/tidewave/riptide/pkg/batch/support/util/exception"
	logger "github.com/tidewave/riptide/pkg/batch/support/util/logger"

	"github.com/google/uuid"
)

// BatchStatus represents the lifecycle state of a batch.
type BatchStatus string

const (
	BatchStatusPending   BatchStatus = "PENDING"
	BatchStatusRunning   BatchStatus = "RUNNING"
	BatchStatusPaused    BatchStatus = "PAUSED"
	BatchStatusCompleted BatchStatus = "COMPLETED"
	BatchStatusFailed    BatchStatus = "FAILED"
	BatchStatusCancelled BatchStatus = "CANCELLED"
)

// String returns the string representation of the BatchStatus.
func (s BatchStatus) String() string {
	return string(s)
}

// IsTerminal checks if the BatchStatus represents a terminal state.
func (s BatchStatus) IsTerminal() bool {
	switch s {
	case BatchStatusCompleted, BatchStatusFailed, BatchStatusCancelled:
		return true
	default:
		return false
	}
}

// JobStatus represents the lifecycle state of a single job.
type JobStatus string

const (
	JobStatusPending   JobStatus = "PENDING"
	JobStatusRunning   JobStatus = "RUNNING"
	JobStatusRetrying  JobStatus = "RETRYING"
	JobStatusCompleted JobStatus = "COMPLETED"
	JobStatusFailed    JobStatus = "FAILED"
	JobStatusSkipped   JobStatus = "SKIPPED"
)

// String returns the string representation of the JobStatus.
func (s JobStatus) String() string {
	return string(s)
}

// IsTerminal checks if the JobStatus represents a terminal state.
func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusFailed, JobStatusSkipped:
		return true
	default:
		return false
	}
}

// isValidBatchTransition checks if the state transition for a Batch is valid.
func isValidBatchTransition(current, next BatchStatus) bool {
	switch current {
	case BatchStatusPending:
		return next == BatchStatusRunning || next == BatchStatusCancelled
	case BatchStatusRunning:
		return next == BatchStatusPaused || next == BatchStatusCompleted ||
			next == BatchStatusFailed || next == BatchStatusCancelled
	case BatchStatusPaused:
		// Resume is the only way back into an earlier lifecycle stage.
		return next == BatchStatusRunning || next == BatchStatusCancelled
	case BatchStatusCompleted, BatchStatusFailed, BatchStatusCancelled:
		return false // Cannot transition out of terminal states
	default:
		return false
	}
}

// isValidJobTransition checks if the state transition for a Job is valid.
func isValidJobTransition(current, next JobStatus) bool {
	switch current {
	case JobStatusPending:
		return next == JobStatusRunning || next == JobStatusSkipped
	case JobStatusRunning:
		return next == JobStatusCompleted || next == JobStatusFailed || next == JobStatusRetrying
	case JobStatusRetrying:
		return next == JobStatusRunning || next == JobStatusFailed
	case JobStatusCompleted, JobStatusFailed, JobStatusSkipped:
		return false // Cannot transition out of terminal states
	default:
		return false
	}
}

// Payload is an opaque key-value document carried by a job (its input or its result).
type Payload map[string]interface{}

// Value implements the `driver.Valuer` interface, converting the Payload to a JSON string.
func (p Payload) Value() (driver.Value, error) {
	if p == nil {
		return "{}", nil
	}
	data, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

// Scan implements the `sql.Scanner` interface, converting a JSON string to a Payload.
func (p *Payload) Scan(value interface{}) error {
	if value == nil {
		*p = make(Payload)
		return nil
	}
	var b []byte
	switch v := value.(type) {
	case []byte:
		b = v
	case string:
		b = []byte(v)
	default:
		return fmt.Errorf("unsupported Scan type for Payload: %T", value)
	}

	if len(b) == 0 {
		*p = make(Payload)
		return nil
	}

	if err := json.Unmarshal(b, p); err != nil {
		return fmt.Errorf("failed to unmarshal Payload JSON: %w", err)
	}
	return nil
}

// Copy creates a shallow copy of the Payload.
func (p Payload) Copy() Payload {
	newP := make(Payload, len(p))
	for k, v := range p {
		newP[k] = v
	}
	return newP
}

// Metadata is a free-form key-value annotation attached to a batch.
type Metadata map[string]interface{}

// Value implements the `driver.Valuer` interface, converting the Metadata to a JSON string.
func (m Metadata) Value() (driver.Value, error) {
	if m == nil {
		return "{}", nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

// Scan implements the `sql.Scanner` interface, converting a JSON string to Metadata.
func (m *Metadata) Scan(value interface{}) error {
	if value == nil {
		*m = make(Metadata)
		return nil
	}
	var b []byte
	switch v := value.(type) {
	case []byte:
		b = v
	case string:
		b = []byte(v)
	default:
		return fmt.Errorf("unsupported Scan type for Metadata: %T", value)
	}

	if len(b) == 0 {
		*m = make(Metadata)
		return nil
	}

	if err := json.Unmarshal(b, m); err != nil {
		return fmt.Errorf("failed to unmarshal Metadata JSON: %w", err)
	}
	return nil
}

// ProcessingConfig controls how a batch's jobs are scheduled and executed.
// It is snapshotted into the batch at creation time and never changes afterwards.
type ProcessingConfig struct {
	MaxConcurrentJobs  int           `yaml:"max_concurrent_jobs" json:"max_concurrent_jobs"`
	MaxRetries         int           `yaml:"max_retries" json:"max_retries"`
	RetryDelay         time.Duration `yaml:"retry_delay" json:"retry_delay"`
	TimeoutPerJob      time.Duration `yaml:"timeout_per_job" json:"timeout_per_job"`
	EnableValidation   bool          `yaml:"enable_validation" json:"enable_validation"`
	EnableEnrichment   bool          `yaml:"enable_enrichment" json:"enable_enrichment"`
	ChunkSize          int           `yaml:"chunk_size" json:"chunk_size"`
	PriorityProcessing bool          `yaml:"priority_processing" json:"priority_processing"`
}

// DefaultProcessingConfig returns the compiled-in processing defaults.
func DefaultProcessingConfig() ProcessingConfig {
	return ProcessingConfig{
		MaxConcurrentJobs:  5,
		MaxRetries:         3,
		RetryDelay:         1 * time.Second,
		TimeoutPerJob:      5 * time.Minute,
		EnableValidation:   true,
		EnableEnrichment:   true,
		ChunkSize:          10,
		PriorityProcessing: false,
	}
}

// Validate checks the processing configuration for acceptable values.
func (c ProcessingConfig) Validate() error {
	if c.MaxConcurrentJobs < 1 {
		return fmt.Errorf("max_concurrent_jobs must be at least 1, got %d", c.MaxConcurrentJobs)
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("max_retries must not be negative, got %d", c.MaxRetries)
	}
	if c.RetryDelay < 0 {
		return fmt.Errorf("retry_delay must not be negative, got %s", c.RetryDelay)
	}
	if c.TimeoutPerJob <= 0 {
		return fmt.Errorf("timeout_per_job must be positive, got %s", c.TimeoutPerJob)
	}
	if c.ChunkSize < 1 {
		return fmt.Errorf("chunk_size must be at least 1, got %d", c.ChunkSize)
	}
	return nil
}

// Value implements the `driver.Valuer` interface, converting the ProcessingConfig to a JSON string.
func (c ProcessingConfig) Value() (driver.Value, error) {
	data, err := json.Marshal(c)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

// Scan implements the `sql.Scanner` interface, converting a JSON string to a ProcessingConfig.
func (c *ProcessingConfig) Scan(value interface{}) error {
	if value == nil {
		*c = DefaultProcessingConfig()
		return nil
	}
	var b []byte
	switch v := value.(type) {
	case []byte:
		b = v
	case string:
		b = []byte(v)
	default:
		return fmt.Errorf("unsupported Scan type for ProcessingConfig: %T", value)
	}

	if len(b) == 0 {
		*c = DefaultProcessingConfig()
		return nil
	}

	if err := json.Unmarshal(b, c); err != nil {
		return fmt.Errorf("failed to unmarshal ProcessingConfig JSON: %w", err)
	}
	return nil
}

// Batch is a submitted collection of independent jobs sharing one workflow
// and one immutable processing configuration.
type Batch struct {
	ID            string
	Name          string
	WorkflowID    string
	Status        BatchStatus
	TotalJobs     int
	CompletedJobs int
	FailedJobs    int
	SkippedJobs   int
	Config        ProcessingConfig
	Metadata      Metadata
	CreatedAt     time.Time
	StartedAt     *time.Time
	CompletedAt   *time.Time
	Version       int
}

// Job is a single unit of work within a batch.
type Job struct {
	ID           string
	BatchID      string
	WorkflowID   string
	Input        Payload
	Status       JobStatus
	Result       Payload
	ErrorMessage string
	StartedAt    *time.Time
	CompletedAt  *time.Time
	// ExecutionTime records the duration of the final attempt only.
	ExecutionTime time.Duration
	RetryCount    int
	Priority      int
	// Ordinal is the zero-based submission position within the batch.
	// Dispatch order ties break on it, never on the lexicographic ID.
	Ordinal   int
	CreatedAt time.Time
	Version   int
}

// NewID generates a new UUID string.
func NewID() string {
	return uuid.New().String()
}

// NewJobID derives the deterministic job identifier for the given batch and ordinal.
func NewJobID(batchID string, ordinal int) string {
	return fmt.Sprintf("%s-job-%d", batchID, ordinal)
}

// NewBatch creates a new Batch in the PENDING state.
func NewBatch(name, workflowID string, config ProcessingConfig, metadata Metadata) *Batch {
	if metadata == nil {
		metadata = make(Metadata)
	}
	return &Batch{
		ID:         NewID(),
		Name:       name,
		WorkflowID: workflowID,
		Status:     BatchStatusPending,
		Config:     config,
		Metadata:   metadata,
		CreatedAt:  time.Now(),
		Version:    0,
	}
}

// NewJob creates a new Job in the PENDING state. The job identifier is derived
// from the batch identifier and the submission ordinal.
func NewJob(batch *Batch, ordinal int, input Payload, priority int) *Job {
	if input == nil {
		input = make(Payload)
	}
	return &Job{
		ID:         NewJobID(batch.ID, ordinal),
		BatchID:    batch.ID,
		WorkflowID: batch.WorkflowID,
		Input:      input,
		Status:     JobStatusPending,
		Priority:   priority,
		Ordinal:    ordinal,
		CreatedAt:  time.Now(),
		Version:    0,
	}
}

// TransitionTo safely transitions the state of the Batch.
// Note: Fields other than Status must be set separately by the caller.
func (b *Batch) TransitionTo(newStatus BatchStatus) error {
	if !isValidBatchTransition(b.Status, newStatus) {
		return fmt.Errorf("Batch (ID: %s): Invalid state transition: %s -> %s", b.ID, b.Status, newStatus)
	}
	b.Status = newStatus
	return nil
}

// MarkAsRunning updates the Batch status to RUNNING and stamps the start time
// if this is the first activation.
func (b *Batch) MarkAsRunning() error {
	if err := b.TransitionTo(BatchStatusRunning); err != nil {
		return err
	}
	if b.StartedAt == nil {
		now := time.Now()
		b.StartedAt = &now
	}
	return nil
}

// MarkAsPaused updates the Batch status to PAUSED.
func (b *Batch) MarkAsPaused() error {
	return b.TransitionTo(BatchStatusPaused)
}

// MarkAsCompleted updates the Batch status to COMPLETED and stamps the completion time.
func (b *Batch) MarkAsCompleted() error {
	if err := b.TransitionTo(BatchStatusCompleted); err != nil {
		return err
	}
	now := time.Now()
	b.CompletedAt = &now
	return nil
}

// MarkAsFailed updates the Batch status to FAILED and stamps the completion time.
func (b *Batch) MarkAsFailed() error {
	if err := b.TransitionTo(BatchStatusFailed); err != nil {
		return err
	}
	now := time.Now()
	b.CompletedAt = &now
	return nil
}

// MarkAsCancelled updates the Batch status to CANCELLED and stamps the completion time.
func (b *Batch) MarkAsCancelled() error {
	if err := b.TransitionTo(BatchStatusCancelled); err != nil {
		return err
	}
	now := time.Now()
	b.CompletedAt = &now
	return nil
}

// TerminalJobs returns the number of jobs that have reached a terminal state.
func (b *Batch) TerminalJobs() int {
	return b.CompletedJobs + b.FailedJobs + b.SkippedJobs
}

// TransitionTo safely transitions the state of the Job.
// Note: Fields other than Status must be set separately by the caller.
func (j *Job) TransitionTo(newStatus JobStatus) error {
	if !isValidJobTransition(j.Status, newStatus) {
		return fmt.Errorf("Job (ID: %s): Invalid state transition: %s -> %s", j.ID, j.Status, newStatus)
	}
	j.Status = newStatus
	return nil
}

// MarkAsRunning updates the Job status to RUNNING and stamps the attempt start time.
func (j *Job) MarkAsRunning() error {
	if err := j.TransitionTo(JobStatusRunning); err != nil {
		return err
	}
	now := time.Now()
	j.StartedAt = &now
	return nil
}

// MarkAsRetrying updates the Job status to RETRYING and increments the retry count.
func (j *Job) MarkAsRetrying(cause error) error {
	if err := j.TransitionTo(JobStatusRetrying); err != nil {
		return err
	}
	j.RetryCount++
	j.ErrorMessage = exception.ExtractErrorMessage(cause)
	return nil
}

// MarkAsCompleted updates the Job status to COMPLETED with the executor result
// and the duration of the final attempt.
func (j *Job) MarkAsCompleted(result Payload, executionTime time.Duration) error {
	if err := j.TransitionTo(JobStatusCompleted); err != nil {
		return err
	}
	j.Result = result
	j.ErrorMessage = ""
	j.ExecutionTime = executionTime
	now := time.Now()
	j.CompletedAt = &now
	return nil
}

// MarkAsFailed updates the Job status to FAILED with the final failure
// and the duration of the final attempt.
func (j *Job) MarkAsFailed(cause error, executionTime time.Duration) error {
	if err := j.TransitionTo(JobStatusFailed); err != nil {
		return err
	}
	j.ErrorMessage = exception.ExtractErrorMessage(cause)
	j.ExecutionTime = executionTime
	now := time.Now()
	j.CompletedAt = &now
	return nil
}

// MarkAsSkipped updates the Job status to SKIPPED. Used when the owning batch is cancelled.
func (j *Job) MarkAsSkipped() error {
	if err := j.TransitionTo(JobStatusSkipped); err != nil {
		return err
	}
	now := time.Now()
	j.CompletedAt = &now
	return nil
}

// RequeueForRecovery returns an interrupted job to PENDING so the scheduler can
// pick it up again after a restart. The retry count is preserved.
func (j *Job) RequeueForRecovery() {
	if j.Status != JobStatusRunning && j.Status != JobStatusRetrying {
		logger.Warnf("Job (ID: %s) in status %s does not need recovery requeue.", j.ID, j.Status)
		return
	}
	j.Status = JobStatusPending
	j.StartedAt = nil
}
