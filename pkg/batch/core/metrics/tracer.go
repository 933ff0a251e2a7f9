package metrics

import (
	"context"

	model "github.com/tidewave/riptide/pkg/batch/core/domain/model"
)

// Tracer is an abstract interface for distributed tracing.
// This interface provides functionality to integrate with tracing systems like OpenTelemetry,
// enabling visualization of batch and job execution flows.
type Tracer interface {
	// StartBatchSpan starts a Span for a batch run.
	//
	// ctx: The parent context.
	// batch: The batch to be traced.
	//
	// Returns: A context with the new Span set, and a function to end the Span.
	//          It is recommended to call the returned function in a defer statement.
	StartBatchSpan(ctx context.Context, batch *model.Batch) (context.Context, func())

	// StartJobSpan starts a Span for a job execution.
	//
	// ctx: The parent context (typically a context with a batch Span).
	// job: The job to be traced.
	//
	// Returns: A context with the new Span set, and a function to end the Span.
	StartJobSpan(ctx context.Context, job *model.Job) (context.Context, func())

	// RecordError records an error in the current Span.
	//
	// ctx: The context with the current Span.
	// module: The name of the module where the error occurred (e.g., "scheduler", "controller").
	// err: The error to record.
	RecordError(ctx context.Context, module string, err error)

	// RecordEvent records an event in the current Span.
	//
	// ctx: The context with the current Span.
	// name: The name of the event (e.g., "job_retry", "batch_cancelled").
	// attributes: Additional attributes to associate with the event.
	RecordEvent(ctx context.Context, name string, attributes map[string]interface{})
}
