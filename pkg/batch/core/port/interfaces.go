// Package port defines the core interfaces (ports) of the batch engine.
// These interfaces abstract the external collaborators the engine drives,
// allowing for flexible implementation and testing.
package port

import (
	"context"

	model "github.com/tidewave/riptide/pkg/batch/core/domain/model"
)

// TaskExecutor executes a single job's workflow task. Implementations live
// outside the engine; the engine only drives them.
type TaskExecutor interface {
	// Execute runs the workflow task for one job input and returns the task result.
	// The context carries the per-job timeout; implementations are expected to honor it.
	//
	// Parameters:
	//   ctx: The context for the operation, with the per-job timeout applied.
	//   workflowID: The workflow the owning batch was submitted against.
	//   input: The job input payload (possibly enriched).
	//
	// Returns:
	//   model.Payload: The task result payload.
	//   error: An error if the task execution fails.
	Execute(ctx context.Context, workflowID string, input model.Payload) (model.Payload, error)
}

// ValidationResult is the outcome of validating a job input.
type ValidationResult struct {
	Valid bool
	// Reason carries the rejection detail when Valid is false.
	Reason string
}

// Validator checks a job input before execution. A rejected input fails the
// job terminally without invoking the TaskExecutor, and is never retried.
type Validator interface {
	// Validate inspects one job input.
	//
	// Parameters:
	//   ctx: The context for the operation.
	//   workflowID: The workflow the owning batch was submitted against.
	//   input: The job input payload.
	//
	// Returns:
	//   ValidationResult: The validation verdict.
	//   error: An error if the validator itself fails to run.
	Validate(ctx context.Context, workflowID string, input model.Payload) (ValidationResult, error)
}

// Enricher augments a job input before execution. The enriched payload is used
// for execution only; the originally submitted input is retained on the job.
type Enricher interface {
	// Enrich returns the augmented payload for one job input.
	//
	// Parameters:
	//   ctx: The context for the operation.
	//   workflowID: The workflow the owning batch was submitted against.
	//   input: The job input payload.
	//
	// Returns:
	//   model.Payload: The enriched payload.
	//   error: An error if the enrichment fails.
	Enrich(ctx context.Context, workflowID string, input model.Payload) (model.Payload, error)
}

// JobExecutionListener receives notifications around each job's execution.
// AfterJob fires exactly once per job, with the job in its terminal state.
type JobExecutionListener interface {
	// BeforeJob is called after the job has been persisted as RUNNING,
	// before the first execution attempt.
	BeforeJob(ctx context.Context, batch *model.Batch, job *model.Job)
	// AfterJob is called exactly once when the job reaches a terminal state.
	AfterJob(ctx context.Context, batch *model.Batch, job *model.Job)
}

// BatchExecutionListener receives notifications around a batch run.
type BatchExecutionListener interface {
	// BeforeBatch is called when a batch run begins dispatching.
	BeforeBatch(ctx context.Context, batch *model.Batch)
	// AfterBatch is called when a batch run stops, whatever the outcome.
	AfterBatch(ctx context.Context, batch *model.Batch)
}

// JobRetryListener receives a notification for every retry transition.
type JobRetryListener interface {
	// OnJobRetry is called after a RUNNING to RETRYING transition has been persisted.
	OnJobRetry(ctx context.Context, batch *model.Batch, job *model.Job, cause error)
}
