package controller

import (
	"context"

	model "github.com/tidewave/riptide/pkg/batch/core/domain/model"
	"github.com/tidewave/riptide/pkg/batch/core/domain/repository"
	reg "github.com/tidewave/riptide/pkg/batch/core/registry"
	"github.com/tidewave/riptide/pkg/batch/engine/progress"
	"github.com/tidewave/riptide/pkg/batch/support/util/exception"
	logger "github.com/tidewave/riptide/pkg/batch/support/util/logger"
)

// counterUpdateAttempts bounds the reload-and-retry loop around versioned counter updates.
const counterUpdateAttempts = 3

// BatchCounterListener folds each job's single terminal event into the owning
// batch's persisted counters, the registry mirror, and the progress tracker.
// It is the only writer of the batch counter columns during a run, which keeps
// completed + failed + skipped bounded by the total.
type BatchCounterListener struct {
	repo     repository.BatchRepository
	registry *reg.BatchRegistry
	tracker  *progress.Tracker
}

// NewBatchCounterListener creates a new BatchCounterListener.
func NewBatchCounterListener(repo repository.BatchRepository, registry *reg.BatchRegistry, tracker *progress.Tracker) *BatchCounterListener {
	return &BatchCounterListener{
		repo:     repo,
		registry: registry,
		tracker:  tracker,
	}
}

// BeforeJob does nothing; counters move on terminal events only.
func (l *BatchCounterListener) BeforeJob(ctx context.Context, batch *model.Batch, job *model.Job) {
}

// AfterJob applies the terminal outcome of a job. The registry mirror is
// updated first for cheap reads, then the counter is persisted with a
// versioned update; a persistence failure rolls the mirror back to its
// pre-mutation snapshot.
func (l *BatchCounterListener) AfterJob(ctx context.Context, batch *model.Batch, job *model.Job) {
	if !job.Status.IsTerminal() {
		logger.Warnf("Batch %s: AfterJob fired for non-terminal job %s (%s); ignoring.", batch.ID, job.ID, job.Status)
		return
	}

	snapshot, hasSnapshot := l.registry.Snapshot(batch.ID)
	l.registry.ApplyTerminalJob(batch.ID, job.Status)

	if err := l.persistCounter(ctx, batch.ID, job.Status); err != nil {
		if hasSnapshot {
			l.registry.Restore(snapshot)
		}
		logger.Errorf("Batch %s: failed to persist counter for job %s: %v", batch.ID, job.ID, err)
		return
	}

	if err := l.tracker.RecordTerminal(ctx, job); err != nil {
		logger.Errorf("Batch %s: failed to record progress for job %s: %v", batch.ID, job.ID, err)
	}
}

// persistCounter increments the counter column matching the job outcome,
// retrying around version conflicts with concurrent workers.
func (l *BatchCounterListener) persistCounter(ctx context.Context, batchID string, status model.JobStatus) error {
	var lastErr error
	for attempt := 0; attempt < counterUpdateAttempts; attempt++ {
		batch, err := l.repo.FindBatchByID(ctx, batchID)
		if err != nil {
			return err
		}
		switch status {
		case model.JobStatusCompleted:
			batch.CompletedJobs++
		case model.JobStatusFailed:
			batch.FailedJobs++
		case model.JobStatusSkipped:
			batch.SkippedJobs++
		}
		if err := l.repo.UpdateBatch(ctx, batch); err != nil {
			if exception.IsOptimisticLock(err) {
				lastErr = err
				continue
			}
			return err
		}
		return nil
	}
	return exception.NewPersistenceFailure(moduleName, "counter update lost the version race repeatedly", lastErr)
}
