package logging

import (
	"context"

	model "github.com/tidewave/riptide/pkg/batch/core/domain/model"
	port "github.com/tidewave/riptide/pkg/batch/core/port"
	logger "github.com/tidewave/riptide/pkg/batch/support/util/logger"
	serialization "github.com/tidewave/riptide/pkg/batch/support/util/serialization"
)

// --- Batch Execution Listener ---

type LoggingBatchListener struct{}

func NewLoggingBatchListener() *LoggingBatchListener {
	return &LoggingBatchListener{}
}

func (l *LoggingBatchListener) BeforeBatch(ctx context.Context, batch *model.Batch) {
	logger.Infof("BatchExecutionListener: BeforeBatch - ID: %s, Name: %s, Workflow: %s, TotalJobs: %d", batch.ID, batch.Name, batch.WorkflowID, batch.TotalJobs)
}

func (l *LoggingBatchListener) AfterBatch(ctx context.Context, batch *model.Batch) {
	logger.Infof("BatchExecutionListener: AfterBatch - ID: %s, Status: %s, Completed: %d, Failed: %d, Skipped: %d", batch.ID, batch.Status, batch.CompletedJobs, batch.FailedJobs, batch.SkippedJobs)
}

var _ port.BatchExecutionListener = (*LoggingBatchListener)(nil)

// --- Job Execution Listener ---

type LoggingJobListener struct{}

func NewLoggingJobListener() *LoggingJobListener {
	return &LoggingJobListener{}
}

func (l *LoggingJobListener) BeforeJob(ctx context.Context, batch *model.Batch, job *model.Job) {
	logger.Infof("JobExecutionListener: BeforeJob - ID: %s, Input: %+v", job.ID, serialization.GetMaskedPayloadMap(job.Input))
}

func (l *LoggingJobListener) AfterJob(ctx context.Context, batch *model.Batch, job *model.Job) {
	if job.Status == model.JobStatusFailed {
		logger.Errorf("JobExecutionListener: AfterJob - ID: %s, Status: %s, Retries: %d, Error: %s", job.ID, job.Status, job.RetryCount, job.ErrorMessage)
		return
	}
	logger.Infof("JobExecutionListener: AfterJob - ID: %s, Status: %s, ExecutionTime: %s", job.ID, job.Status, job.ExecutionTime)
}

var _ port.JobExecutionListener = (*LoggingJobListener)(nil)

// --- Job Retry Listener ---

type LoggingRetryListener struct{}

func NewLoggingRetryListener() *LoggingRetryListener {
	return &LoggingRetryListener{}
}

func (l *LoggingRetryListener) OnJobRetry(ctx context.Context, batch *model.Batch, job *model.Job, cause error) {
	logger.Warnf("JobRetryListener: OnJobRetry - ID: %s, Attempt: %d, Error: %v", job.ID, job.RetryCount, cause)
}

var _ port.JobRetryListener = (*LoggingRetryListener)(nil)
