package metrics

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	model "github.com/tidewave/riptide/pkg/batch/core/domain/model"
	metrics "github.com/tidewave/riptide/pkg/batch/core/metrics"
	logger "github.com/tidewave/riptide/pkg/batch/support/util/logger"
)

// PrometheusRecorder is a Prometheus implementation of the metrics.MetricRecorder interface.
type PrometheusRecorder struct {
	registry *prometheus.Registry

	// Batch Metrics
	batchDurationSeconds *prometheus.HistogramVec
	batchStatusCounter   *prometheus.CounterVec
	batchProgressRatio   *prometheus.GaugeVec

	// Job Metrics
	jobDurationSeconds *prometheus.HistogramVec
	jobStatusCounter   *prometheus.CounterVec
	jobsInFlight       prometheus.Gauge
	jobRetryCounter    *prometheus.CounterVec
	jobSkipCounter     *prometheus.CounterVec
}

// NewPrometheusRecorder creates a new instance of PrometheusRecorder.
func NewPrometheusRecorder() *PrometheusRecorder {
	registry := prometheus.NewRegistry()

	// Register Go standard metrics and process/OS metrics.
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	r := &PrometheusRecorder{
		registry: registry,
		batchDurationSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "riptide_batch_duration_seconds",
			Help:    "Duration of batch runs.",
			Buckets: prometheus.DefBuckets,
		}, []string{"workflow_id", "status"}),
		batchStatusCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "riptide_batch_status_total",
			Help: "Total number of batch runs by final status.",
		}, []string{"workflow_id", "status"}),
		batchProgressRatio: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "riptide_batch_progress_percentage",
			Help: "Current progress of active batches in percent.",
		}, []string{"batch_id"}),
		jobDurationSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "riptide_job_duration_seconds",
			Help:    "Final-attempt duration of job executions.",
			Buckets: prometheus.DefBuckets,
		}, []string{"workflow_id", "status"}),
		jobStatusCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "riptide_job_status_total",
			Help: "Total number of terminal job outcomes by status.",
		}, []string{"workflow_id", "status"}),
		jobsInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "riptide_jobs_in_flight",
			Help: "Number of jobs currently executing.",
		}),
		jobRetryCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "riptide_job_retry_total",
			Help: "Total job retries by workflow.",
		}, []string{"workflow_id"}),
		jobSkipCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "riptide_job_skip_total",
			Help: "Total jobs skipped on batch cancellation.",
		}, []string{"batch_id"}),
	}

	registry.MustRegister(r.batchDurationSeconds)
	registry.MustRegister(r.batchStatusCounter)
	registry.MustRegister(r.batchProgressRatio)
	registry.MustRegister(r.jobDurationSeconds)
	registry.MustRegister(r.jobStatusCounter)
	registry.MustRegister(r.jobsInFlight)
	registry.MustRegister(r.jobRetryCounter)
	registry.MustRegister(r.jobSkipCounter)

	return r
}

// GetRegistry returns the Prometheus registry.
func (r *PrometheusRecorder) GetRegistry() *prometheus.Registry {
	return r.registry
}

// RecordBatchStart records the start of a batch run.
func (r *PrometheusRecorder) RecordBatchStart(ctx context.Context, batch *model.Batch) {
	r.batchStatusCounter.WithLabelValues(batch.WorkflowID, batch.Status.String()).Inc()
	logger.Debugf("Metrics: Batch '%s' started.", batch.ID)
}

// RecordBatchEnd records the end of a batch run.
func (r *PrometheusRecorder) RecordBatchEnd(ctx context.Context, batch *model.Batch) {
	r.batchStatusCounter.WithLabelValues(batch.WorkflowID, batch.Status.String()).Inc()
	if batch.StartedAt != nil && batch.CompletedAt != nil {
		duration := batch.CompletedAt.Sub(*batch.StartedAt).Seconds()
		r.batchDurationSeconds.WithLabelValues(batch.WorkflowID, batch.Status.String()).Observe(duration)
		logger.Debugf("Metrics: Batch '%s' ended. Duration: %.3fs", batch.ID, duration)
	}
	r.batchProgressRatio.DeleteLabelValues(batch.ID)
}

// RecordJobStart records the start of a job attempt.
func (r *PrometheusRecorder) RecordJobStart(ctx context.Context, job *model.Job) {
	r.jobsInFlight.Inc()
}

// RecordJobEnd records the terminal outcome of a job.
func (r *PrometheusRecorder) RecordJobEnd(ctx context.Context, job *model.Job) {
	r.jobsInFlight.Dec()
	r.jobStatusCounter.WithLabelValues(job.WorkflowID, job.Status.String()).Inc()
	if job.Status == model.JobStatusCompleted || job.Status == model.JobStatusFailed {
		r.jobDurationSeconds.WithLabelValues(job.WorkflowID, job.Status.String()).Observe(job.ExecutionTime.Seconds())
	}
}

// RecordJobRetry records a retry transition of a job.
func (r *PrometheusRecorder) RecordJobRetry(ctx context.Context, job *model.Job, reason string) {
	r.jobRetryCounter.WithLabelValues(job.WorkflowID).Inc()
	logger.Debugf("Metrics: Job '%s' retry recorded (%s).", job.ID, reason)
}

// RecordJobSkip records the skipping of jobs on batch cancellation.
func (r *PrometheusRecorder) RecordJobSkip(ctx context.Context, batchID string, count int) {
	r.jobSkipCounter.WithLabelValues(batchID).Add(float64(count))
}

// RecordProgress records a progress snapshot of a batch.
func (r *PrometheusRecorder) RecordProgress(ctx context.Context, progress *model.Progress) {
	r.batchProgressRatio.WithLabelValues(progress.BatchID).Set(progress.Percentage)
}

var _ metrics.MetricRecorder = (*PrometheusRecorder)(nil)
