package progress_test

import (
	"context"
	"testing"
	"time"

	model "github.com/tidewave/riptide/pkg/batch/core/domain/model"
	metrics "github.com/tidewave/riptide/pkg/batch/core/metrics"
	registry "github.com/tidewave/riptide/pkg/batch/core/registry"
	"github.com/tidewave/riptide/pkg/batch/engine/progress"
	"github.com/tidewave/riptide/pkg/batch/infrastructure/repository/inmemory"

	"github.com/stretchr/testify/assert"
)

type trackerFixture struct {
	tracker  *progress.Tracker
	store    *inmemory.InMemoryBatchRepository
	registry *registry.BatchRegistry
}

func newTrackerFixture() *trackerFixture {
	store := inmemory.NewInMemoryBatchRepository()
	reg := registry.NewBatchRegistry()
	return &trackerFixture{
		tracker:  progress.NewTracker(store, reg, metrics.NewNoOpMetricRecorder()),
		store:    store,
		registry: reg,
	}
}

func terminalJob(batch *model.Batch, ordinal int, status model.JobStatus, execTime time.Duration) *model.Job {
	j := model.NewJob(batch, ordinal, model.Payload{"item": ordinal}, 0)
	j.Status = status
	j.ExecutionTime = execTime
	return j
}

func TestTracker_RecordTerminal_PercentageAndETA(t *testing.T) {
	f := newTrackerFixture()
	ctx := context.Background()

	batch := model.NewBatch("b", "wf", model.DefaultProcessingConfig(), nil)
	batch.TotalJobs = 4
	f.registry.Register(batch)
	f.tracker.Track(batch, nil)

	// First terminal event: one failure. No completion yet, so no ETA.
	assert.NoError(t, f.tracker.RecordTerminal(ctx, terminalJob(batch, 0, model.JobStatusFailed, 0)))

	p, err := f.store.FindProgressByBatchID(ctx, batch.ID)
	assert.NoError(t, err)
	assert.Equal(t, 25.0, p.Percentage)
	assert.Nil(t, p.ETA)
	assert.Zero(t, p.AvgJobDuration)

	// A completion brings the average and the ETA.
	assert.NoError(t, f.tracker.RecordTerminal(ctx, terminalJob(batch, 1, model.JobStatusCompleted, 2*time.Second)))

	p, err = f.store.FindProgressByBatchID(ctx, batch.ID)
	assert.NoError(t, err)
	assert.Equal(t, 50.0, p.Percentage)
	assert.Equal(t, 2*time.Second, p.AvgJobDuration)
	assert.NotNil(t, p.ETA)

	// The average is over completed jobs only.
	assert.NoError(t, f.tracker.RecordTerminal(ctx, terminalJob(batch, 2, model.JobStatusCompleted, 4*time.Second)))

	p, err = f.store.FindProgressByBatchID(ctx, batch.ID)
	assert.NoError(t, err)
	assert.Equal(t, 75.0, p.Percentage)
	assert.Equal(t, 3*time.Second, p.AvgJobDuration)

	// The registry mirrors the latest snapshot.
	cached, ok := f.registry.GetProgress(batch.ID)
	assert.True(t, ok)
	assert.Equal(t, 75.0, cached.Percentage)
}

func TestTracker_SkippedJobsDoNotMovePercentage(t *testing.T) {
	f := newTrackerFixture()
	ctx := context.Background()

	batch := model.NewBatch("b", "wf", model.DefaultProcessingConfig(), nil)
	batch.TotalJobs = 4
	f.registry.Register(batch)
	f.tracker.Track(batch, nil)

	assert.NoError(t, f.tracker.RecordTerminal(ctx, terminalJob(batch, 0, model.JobStatusCompleted, time.Second)))
	assert.NoError(t, f.tracker.RecordSkipped(ctx, batch.ID, 3))

	p, err := f.store.FindProgressByBatchID(ctx, batch.ID)
	assert.NoError(t, err)
	// Percentage counts completed + failed only.
	assert.Equal(t, 25.0, p.Percentage)
	assert.Equal(t, 3, p.SkippedJobs)
}

func TestTracker_TrackSeedsFromPersistedCounters(t *testing.T) {
	f := newTrackerFixture()
	ctx := context.Background()

	// After a restart the batch row already carries counters and some jobs are
	// terminal; their execution times must survive into the average.
	batch := model.NewBatch("b", "wf", model.DefaultProcessingConfig(), nil)
	batch.TotalJobs = 4
	batch.CompletedJobs = 2
	f.registry.Register(batch)

	f.tracker.Track(batch, []*model.Job{
		terminalJob(batch, 0, model.JobStatusCompleted, 1*time.Second),
		terminalJob(batch, 1, model.JobStatusCompleted, 3*time.Second),
	})

	assert.NoError(t, f.tracker.RecordTerminal(ctx, terminalJob(batch, 2, model.JobStatusCompleted, 2*time.Second)))

	p, err := f.store.FindProgressByBatchID(ctx, batch.ID)
	assert.NoError(t, err)
	assert.Equal(t, 3, p.CompletedJobs)
	assert.Equal(t, 2*time.Second, p.AvgJobDuration)
}

func TestTracker_UntrackedBatchDropsEvents(t *testing.T) {
	f := newTrackerFixture()
	ctx := context.Background()

	batch := model.NewBatch("b", "wf", model.DefaultProcessingConfig(), nil)
	batch.TotalJobs = 1
	f.tracker.Track(batch, nil)
	f.tracker.Untrack(batch.ID)

	// Events for an untracked batch are dropped without error.
	assert.NoError(t, f.tracker.RecordTerminal(ctx, terminalJob(batch, 0, model.JobStatusCompleted, time.Second)))
	assert.NoError(t, f.tracker.RecordSkipped(ctx, batch.ID, 1))

	_, err := f.store.FindProgressByBatchID(ctx, batch.ID)
	assert.Error(t, err)
}
