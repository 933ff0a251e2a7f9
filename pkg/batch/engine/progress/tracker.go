// Package progress derives and persists batch progress snapshots.
// A snapshot is recomputed after every terminal job event, never on a timer.
package progress

import (
	"context"
	"sync"
	"time"

	model "github.com/tidewave/riptide/pkg/batch/core/domain/model"
	"github.com/tidewave/riptide/pkg/batch/core/domain/repository"
	metrics "github.com/tidewave/riptide/pkg/batch/core/metrics"
	reg "github.com/tidewave/riptide/pkg/batch/core/registry"
	"github.com/tidewave/riptide/pkg/batch/support/util/exception"
	logger "github.com/tidewave/riptide/pkg/batch/support/util/logger"
)

const moduleName = "progress"

// aggregate is the per-batch running tally the tracker folds terminal events into.
type aggregate struct {
	total     int
	completed int
	failed    int
	skipped   int
	// sumExec accumulates final-attempt durations of COMPLETED jobs only.
	sumExec time.Duration
}

// Tracker computes progress snapshots from terminal job events and upserts
// them through the progress store. The latest snapshot is also cached in the
// batch registry for cheap reads.
type Tracker struct {
	store    repository.ProgressStore
	registry *reg.BatchRegistry
	recorder metrics.MetricRecorder

	mu         sync.Mutex
	aggregates map[string]*aggregate
}

// NewTracker creates a new progress Tracker.
func NewTracker(store repository.ProgressStore, registry *reg.BatchRegistry, recorder metrics.MetricRecorder) *Tracker {
	return &Tracker{
		store:      store,
		registry:   registry,
		recorder:   recorder,
		aggregates: make(map[string]*aggregate),
	}
}

// Track seeds the running tally of a batch from its persisted counters.
// Jobs already terminal (e.g. after a restart) must be passed so the average
// duration survives recovery.
func (t *Tracker) Track(batch *model.Batch, terminalJobs []*model.Job) {
	agg := &aggregate{
		total:     batch.TotalJobs,
		completed: batch.CompletedJobs,
		failed:    batch.FailedJobs,
		skipped:   batch.SkippedJobs,
	}
	for _, job := range terminalJobs {
		if job.Status == model.JobStatusCompleted {
			agg.sumExec += job.ExecutionTime
		}
	}
	t.mu.Lock()
	t.aggregates[batch.ID] = agg
	t.mu.Unlock()
}

// Untrack drops the running tally of a batch once it is terminal.
func (t *Tracker) Untrack(batchID string) {
	t.mu.Lock()
	delete(t.aggregates, batchID)
	t.mu.Unlock()
}

// RecordTerminal folds one terminal job outcome into the batch tally,
// derives a fresh snapshot, and persists it.
func (t *Tracker) RecordTerminal(ctx context.Context, job *model.Job) error {
	t.mu.Lock()
	agg, ok := t.aggregates[job.BatchID]
	if !ok {
		t.mu.Unlock()
		logger.Warnf("Progress tracker has no tally for batch %s; dropping terminal event for job %s.", job.BatchID, job.ID)
		return nil
	}
	switch job.Status {
	case model.JobStatusCompleted:
		agg.completed++
		agg.sumExec += job.ExecutionTime
	case model.JobStatusFailed:
		agg.failed++
	case model.JobStatusSkipped:
		agg.skipped++
	}
	snapshot := agg.snapshot(job.BatchID)
	t.mu.Unlock()

	return t.persist(ctx, snapshot)
}

// RecordSkipped folds a bulk skip (batch cancellation) into the batch tally.
func (t *Tracker) RecordSkipped(ctx context.Context, batchID string, count int) error {
	t.mu.Lock()
	agg, ok := t.aggregates[batchID]
	if !ok {
		t.mu.Unlock()
		return nil
	}
	agg.skipped += count
	snapshot := agg.snapshot(batchID)
	t.mu.Unlock()

	return t.persist(ctx, snapshot)
}

// snapshot derives a Progress from the tally. Caller holds the tracker lock.
func (agg *aggregate) snapshot(batchID string) *model.Progress {
	now := time.Now()
	p := &model.Progress{
		BatchID:       batchID,
		TotalJobs:     agg.total,
		CompletedJobs: agg.completed,
		FailedJobs:    agg.failed,
		SkippedJobs:   agg.skipped,
		UpdatedAt:     now,
	}
	if agg.total > 0 {
		p.Percentage = float64(agg.completed+agg.failed) / float64(agg.total) * 100.0
	}
	if agg.completed > 0 {
		p.AvgJobDuration = agg.sumExec / time.Duration(agg.completed)
		eta := now.Add(p.AvgJobDuration * time.Duration(agg.total-agg.completed))
		p.ETA = &eta
	}
	return p
}

// persist upserts the snapshot and caches it in the registry.
func (t *Tracker) persist(ctx context.Context, snapshot *model.Progress) error {
	if err := t.store.UpsertProgress(ctx, snapshot); err != nil {
		return exception.NewPersistenceFailure(moduleName, "failed to upsert progress snapshot", err)
	}
	t.registry.SetProgress(snapshot)
	t.recorder.RecordProgress(ctx, snapshot)
	return nil
}
