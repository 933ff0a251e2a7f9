package metrics

import (
	"context"

	model "github.com/tidewave/riptide/pkg/batch/core/domain/model"
)

// NoOpMetricRecorder is an implementation of MetricRecorder that does nothing.
// It is used when metrics are disabled or during testing.
type NoOpMetricRecorder struct{}

// NewNoOpMetricRecorder creates a new instance of NoOpMetricRecorder.
func NewNoOpMetricRecorder() MetricRecorder {
	return &NoOpMetricRecorder{}
}

// RecordBatchStart does nothing.
func (r *NoOpMetricRecorder) RecordBatchStart(ctx context.Context, batch *model.Batch) {}

// RecordBatchEnd does nothing.
func (r *NoOpMetricRecorder) RecordBatchEnd(ctx context.Context, batch *model.Batch) {}

// RecordJobStart does nothing.
func (r *NoOpMetricRecorder) RecordJobStart(ctx context.Context, job *model.Job) {}

// RecordJobEnd does nothing.
func (r *NoOpMetricRecorder) RecordJobEnd(ctx context.Context, job *model.Job) {}

// RecordJobRetry does nothing.
func (r *NoOpMetricRecorder) RecordJobRetry(ctx context.Context, job *model.Job, reason string) {}

// RecordJobSkip does nothing.
func (r *NoOpMetricRecorder) RecordJobSkip(ctx context.Context, batchID string, count int) {}

// RecordProgress does nothing.
func (r *NoOpMetricRecorder) RecordProgress(ctx context.Context, progress *model.Progress) {}

var _ MetricRecorder = (*NoOpMetricRecorder)(nil)

// --- NoOpTracer ---

// NoOpTracer is an implementation of Tracer that does nothing.
type NoOpTracer struct{}

// NewNoOpTracer creates a new instance of NoOpTracer.
func NewNoOpTracer() Tracer {
	return &NoOpTracer{}
}

// StartBatchSpan starts a Span for a batch run.
func (t *NoOpTracer) StartBatchSpan(ctx context.Context, batch *model.Batch) (context.Context, func()) {
	return ctx, func() {}
}

// StartJobSpan starts a Span for a job execution.
func (t *NoOpTracer) StartJobSpan(ctx context.Context, job *model.Job) (context.Context, func()) {
	return ctx, func() {}
}

// RecordError records an error in the current Span.
func (t *NoOpTracer) RecordError(ctx context.Context, module string, err error) {}

// RecordEvent records an event in the current Span.
func (t *NoOpTracer) RecordEvent(ctx context.Context, name string, attributes map[string]interface{}) {
}

var _ Tracer = (*NoOpTracer)(nil)
