package metrics

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	model "github.com/tidewave/riptide/pkg/batch/core/domain/model"
	metrics "github.com/tidewave/riptide/pkg/batch/core/metrics"
)

const tracerName = "github.com/tidewave/riptide"

// OpenTelemetryTracer is an implementation of metrics.Tracer using OpenTelemetry.
// Spans go to whatever trace provider the application has installed globally;
// without one they are no-ops.
type OpenTelemetryTracer struct {
	tracer trace.Tracer
}

// NewOpenTelemetryTracer creates a new instance of OpenTelemetryTracer.
func NewOpenTelemetryTracer() *OpenTelemetryTracer {
	return &OpenTelemetryTracer{
		tracer: otel.Tracer(tracerName),
	}
}

// StartBatchSpan starts a new span for a batch run.
func (t *OpenTelemetryTracer) StartBatchSpan(ctx context.Context, batch *model.Batch) (context.Context, func()) {
	ctx, span := t.tracer.Start(ctx, "batch.run",
		trace.WithAttributes(
			attribute.String("batch.id", batch.ID),
			attribute.String("batch.name", batch.Name),
			attribute.String("batch.workflow_id", batch.WorkflowID),
			attribute.Int("batch.total_jobs", batch.TotalJobs),
		))
	return ctx, func() {
		span.SetAttributes(attribute.String("batch.status", batch.Status.String()))
		span.End()
	}
}

// StartJobSpan starts a new span for a job execution.
func (t *OpenTelemetryTracer) StartJobSpan(ctx context.Context, job *model.Job) (context.Context, func()) {
	ctx, span := t.tracer.Start(ctx, "job.execute",
		trace.WithAttributes(
			attribute.String("job.id", job.ID),
			attribute.String("job.batch_id", job.BatchID),
			attribute.Int("job.priority", job.Priority),
		))
	return ctx, func() {
		span.SetAttributes(
			attribute.String("job.status", job.Status.String()),
			attribute.Int("job.retry_count", job.RetryCount),
		)
		span.End()
	}
}

// RecordError records an error in the current span.
func (t *OpenTelemetryTracer) RecordError(ctx context.Context, module string, err error) {
	span := trace.SpanFromContext(ctx)
	if !span.IsRecording() {
		return
	}
	span.RecordError(err, trace.WithAttributes(attribute.String("module", module)))
	span.SetStatus(codes.Error, err.Error())
}

// RecordEvent records an event in the current span.
func (t *OpenTelemetryTracer) RecordEvent(ctx context.Context, name string, attributes map[string]interface{}) {
	span := trace.SpanFromContext(ctx)
	if !span.IsRecording() {
		return
	}
	attrs := make([]attribute.KeyValue, 0, len(attributes))
	for k, v := range attributes {
		switch val := v.(type) {
		case string:
			attrs = append(attrs, attribute.String(k, val))
		case int:
			attrs = append(attrs, attribute.Int(k, val))
		case int64:
			attrs = append(attrs, attribute.Int64(k, val))
		case float64:
			attrs = append(attrs, attribute.Float64(k, val))
		case bool:
			attrs = append(attrs, attribute.Bool(k, val))
		default:
			attrs = append(attrs, attribute.String(k, fmt.Sprintf("%v", val)))
		}
	}
	span.AddEvent(name, trace.WithAttributes(attrs...))
}

var _ metrics.Tracer = (*OpenTelemetryTracer)(nil)
