package metrics

import (
	"context"

	model "github.com/tidewave/riptide/pkg/batch/core/domain/model"
)

// MetricRecorder is an abstract interface for recording metrics related to batch execution.
//
// This interface provides a standardized way to record batch-level and job-level events.
// This facilitates integration with different metrics backends (e.g., Prometheus, OpenTelemetry Metrics).
type MetricRecorder interface {
	// RecordBatchStart records the start of a batch run.
	//
	// ctx: The context for the operation.
	// batch: The batch whose run started.
	RecordBatchStart(ctx context.Context, batch *model.Batch)

	// RecordBatchEnd records the end of a batch run.
	//
	// ctx: The context for the operation.
	// batch: The batch whose run ended, in its final status.
	RecordBatchEnd(ctx context.Context, batch *model.Batch)

	// RecordJobStart records the start of a job attempt. Implementations maintain
	// an in-flight gauge between RecordJobStart and RecordJobEnd.
	//
	// ctx: The context for the operation.
	// job: The job whose attempt started.
	RecordJobStart(ctx context.Context, job *model.Job)

	// RecordJobEnd records the terminal outcome of a job.
	//
	// ctx: The context for the operation.
	// job: The job in its terminal status.
	RecordJobEnd(ctx context.Context, job *model.Job)

	// RecordJobRetry records a retry transition of a job.
	//
	// ctx: The context for the operation.
	// job: The retrying job.
	// reason: A string indicating the reason for the retry (e.g., error text).
	RecordJobRetry(ctx context.Context, job *model.Job, reason string)

	// RecordJobSkip records the skipping of a job, typically on batch cancellation.
	//
	// ctx: The context for the operation.
	// batchID: The owning batch.
	// count: The number of jobs skipped.
	RecordJobSkip(ctx context.Context, batchID string, count int)

	// RecordProgress records a progress snapshot of a batch.
	//
	// ctx: The context for the operation.
	// progress: The progress snapshot.
	RecordProgress(ctx context.Context, progress *model.Progress)
}
