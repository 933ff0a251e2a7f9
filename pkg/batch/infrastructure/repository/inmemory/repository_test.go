package inmemory_test

import (
	"context"
	"testing"
	"time"

	model "github.com/tidewave/riptide/pkg/batch/core/domain/model"
	repository "github.com/tidewave/riptide/pkg/batch/core/domain/repository"
	"github.com/tidewave/riptide/pkg/batch/infrastructure/repository/inmemory"
	"github.com/tidewave/riptide/pkg/batch/support/util/exception"

	"github.com/stretchr/testify/assert"
)

func seedBatch(t *testing.T, repo *inmemory.InMemoryBatchRepository, jobCount int) (*model.Batch, []*model.Job) {
	t.Helper()
	batch := model.NewBatch("test-batch", "test-workflow", model.DefaultProcessingConfig(), nil)
	batch.TotalJobs = jobCount
	jobs := make([]*model.Job, 0, jobCount)
	for i := 0; i < jobCount; i++ {
		jobs = append(jobs, model.NewJob(batch, i, model.Payload{"item": i}, 0))
	}
	assert.NoError(t, repo.SaveBatch(context.Background(), batch, jobs))
	return batch, jobs
}

func TestInMemory_SaveAndFindBatch(t *testing.T) {
	repo := inmemory.NewInMemoryBatchRepository()
	ctx := context.Background()
	batch, jobs := seedBatch(t, repo, 3)

	got, err := repo.FindBatchByID(ctx, batch.ID)
	assert.NoError(t, err)
	assert.Equal(t, batch.ID, got.ID)
	assert.Equal(t, model.BatchStatusPending, got.Status)

	// Saving the same batch twice is rejected.
	assert.Error(t, repo.SaveBatch(ctx, batch, nil))

	// Unknown lookups return the sentinel.
	_, err = repo.FindBatchByID(ctx, "no-such-batch")
	assert.ErrorIs(t, err, repository.ErrBatchNotFound)

	gotJobs, err := repo.FindJobsByBatch(ctx, batch.ID)
	assert.NoError(t, err)
	assert.Len(t, gotJobs, 3)
	assert.Equal(t, jobs[0].ID, gotJobs[0].ID)
}

func TestInMemory_UpdateBatch_OptimisticLocking(t *testing.T) {
	repo := inmemory.NewInMemoryBatchRepository()
	ctx := context.Background()
	batch, _ := seedBatch(t, repo, 1)

	// First writer wins and bumps the version.
	copy1, _ := repo.FindBatchByID(ctx, batch.ID)
	copy2, _ := repo.FindBatchByID(ctx, batch.ID)

	copy1.CompletedJobs = 1
	assert.NoError(t, repo.UpdateBatch(ctx, copy1))
	assert.Equal(t, 1, copy1.Version)

	// Second writer holds a stale version and loses.
	copy2.FailedJobs = 1
	err := repo.UpdateBatch(ctx, copy2)
	assert.Error(t, err)
	assert.True(t, exception.IsOptimisticLock(err))
	assert.Equal(t, 0, copy2.Version) // not incremented on failure

	// Reload and retry succeeds.
	fresh, _ := repo.FindBatchByID(ctx, batch.ID)
	fresh.FailedJobs = 1
	assert.NoError(t, repo.UpdateBatch(ctx, fresh))
}

func TestInMemory_UpdateJob_OptimisticLocking(t *testing.T) {
	repo := inmemory.NewInMemoryBatchRepository()
	ctx := context.Background()
	_, jobs := seedBatch(t, repo, 1)

	stale, _ := repo.FindJobByID(ctx, jobs[0].ID)
	current, _ := repo.FindJobByID(ctx, jobs[0].ID)

	assert.NoError(t, current.MarkAsRunning())
	assert.NoError(t, repo.UpdateJob(ctx, current))

	err := repo.UpdateJob(ctx, stale)
	assert.True(t, exception.IsOptimisticLock(err))

	_, err = repo.FindJobByID(ctx, "no-such-job")
	assert.ErrorIs(t, err, repository.ErrJobNotFound)
}

func TestInMemory_FindPendingJobs_PriorityOrdering(t *testing.T) {
	repo := inmemory.NewInMemoryBatchRepository()
	ctx := context.Background()

	batch := model.NewBatch("test-batch", "test-workflow", model.DefaultProcessingConfig(), nil)
	priorities := []int{5, 1, 5, 3}
	jobs := make([]*model.Job, 0, len(priorities))
	for i, p := range priorities {
		jobs = append(jobs, model.NewJob(batch, i, nil, p))
	}
	assert.NoError(t, repo.SaveBatch(ctx, batch, jobs))

	// Priority descending, submission order within equal priorities.
	got, err := repo.FindPendingJobs(ctx, batch.ID, 0, true)
	assert.NoError(t, err)
	ids := []string{got[0].ID, got[1].ID, got[2].ID, got[3].ID}
	assert.Equal(t, []string{jobs[0].ID, jobs[2].ID, jobs[3].ID, jobs[1].ID}, ids)

	// Without priority processing, pure submission order.
	got, err = repo.FindPendingJobs(ctx, batch.ID, 0, false)
	assert.NoError(t, err)
	assert.Equal(t, jobs[0].ID, got[0].ID)
	assert.Equal(t, jobs[1].ID, got[1].ID)

	// Limit trims the tail.
	got, err = repo.FindPendingJobs(ctx, batch.ID, 2, true)
	assert.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestInMemory_FindPendingJobs_SubmissionOrderBeyondTenJobs(t *testing.T) {
	repo := inmemory.NewInMemoryBatchRepository()
	ctx := context.Background()

	// Eleven jobs sharing one creation timestamp: a lexicographic ID order
	// would dispatch job-10 before job-2, the ordinal must not.
	batch := model.NewBatch("test-batch", "test-workflow", model.DefaultProcessingConfig(), nil)
	created := time.Now()
	jobs := make([]*model.Job, 0, 11)
	for i := 0; i < 11; i++ {
		j := model.NewJob(batch, i, nil, 0)
		j.CreatedAt = created
		jobs = append(jobs, j)
	}
	assert.NoError(t, repo.SaveBatch(ctx, batch, jobs))

	got, err := repo.FindPendingJobs(ctx, batch.ID, 0, false)
	assert.NoError(t, err)
	assert.Len(t, got, 11)
	for i, j := range got {
		assert.Equal(t, model.NewJobID(batch.ID, i), j.ID)
	}
}

func TestInMemory_CountJobsByStatus(t *testing.T) {
	repo := inmemory.NewInMemoryBatchRepository()
	ctx := context.Background()
	_, jobs := seedBatch(t, repo, 3)

	running, _ := repo.FindJobByID(ctx, jobs[0].ID)
	assert.NoError(t, running.MarkAsRunning())
	assert.NoError(t, repo.UpdateJob(ctx, running))
	assert.NoError(t, running.MarkAsCompleted(nil, time.Second))
	assert.NoError(t, repo.UpdateJob(ctx, running))

	counts, err := repo.CountJobsByStatus(ctx, jobs[0].BatchID)
	assert.NoError(t, err)
	assert.Equal(t, 1, counts[model.JobStatusCompleted])
	assert.Equal(t, 2, counts[model.JobStatusPending])
}

func TestInMemory_SkipPendingJobs(t *testing.T) {
	repo := inmemory.NewInMemoryBatchRepository()
	ctx := context.Background()
	batch, jobs := seedBatch(t, repo, 3)

	// One job is already terminal; only the pending two are skipped.
	done, _ := repo.FindJobByID(ctx, jobs[0].ID)
	assert.NoError(t, done.MarkAsRunning())
	assert.NoError(t, repo.UpdateJob(ctx, done))
	assert.NoError(t, done.MarkAsCompleted(nil, time.Second))
	assert.NoError(t, repo.UpdateJob(ctx, done))

	skipped, err := repo.SkipPendingJobs(ctx, batch.ID)
	assert.NoError(t, err)
	assert.Equal(t, 2, skipped)

	counts, _ := repo.CountJobsByStatus(ctx, batch.ID)
	assert.Equal(t, 2, counts[model.JobStatusSkipped])
	assert.Equal(t, 1, counts[model.JobStatusCompleted])
	assert.Equal(t, 0, counts[model.JobStatusPending])

	// Skipped jobs carry a completion stamp.
	j, _ := repo.FindJobByID(ctx, jobs[1].ID)
	assert.NotNil(t, j.CompletedAt)
}

func TestInMemory_RequeueInterruptedJobs(t *testing.T) {
	repo := inmemory.NewInMemoryBatchRepository()
	ctx := context.Background()
	batch, jobs := seedBatch(t, repo, 3)

	running, _ := repo.FindJobByID(ctx, jobs[0].ID)
	assert.NoError(t, running.MarkAsRunning())
	assert.NoError(t, repo.UpdateJob(ctx, running))

	retrying, _ := repo.FindJobByID(ctx, jobs[1].ID)
	assert.NoError(t, retrying.MarkAsRunning())
	assert.NoError(t, repo.UpdateJob(ctx, retrying))
	assert.NoError(t, retrying.MarkAsRetrying(assert.AnError))
	assert.NoError(t, repo.UpdateJob(ctx, retrying))

	requeued, err := repo.RequeueInterruptedJobs(ctx, batch.ID)
	assert.NoError(t, err)
	assert.Equal(t, 2, requeued)

	counts, _ := repo.CountJobsByStatus(ctx, batch.ID)
	assert.Equal(t, 3, counts[model.JobStatusPending])

	// The retry count of the interrupted job is preserved.
	j, _ := repo.FindJobByID(ctx, jobs[1].ID)
	assert.Equal(t, 1, j.RetryCount)
	assert.Nil(t, j.StartedAt)
}

func TestInMemory_FindBatchSummariesAndNonTerminal(t *testing.T) {
	repo := inmemory.NewInMemoryBatchRepository()
	ctx := context.Background()

	b1, _ := seedBatch(t, repo, 1)
	time.Sleep(time.Millisecond)
	b2, _ := seedBatch(t, repo, 1)

	completed, _ := repo.FindBatchByID(ctx, b1.ID)
	assert.NoError(t, completed.MarkAsRunning())
	assert.NoError(t, repo.UpdateBatch(ctx, completed))
	assert.NoError(t, completed.MarkAsCompleted())
	assert.NoError(t, repo.UpdateBatch(ctx, completed))

	// Newest first, unfiltered.
	summaries, err := repo.FindBatchSummaries(ctx, "", 0)
	assert.NoError(t, err)
	assert.Len(t, summaries, 2)
	assert.Equal(t, b2.ID, summaries[0].ID)

	// Filtered by status.
	summaries, err = repo.FindBatchSummaries(ctx, model.BatchStatusCompleted, 0)
	assert.NoError(t, err)
	assert.Len(t, summaries, 1)
	assert.Equal(t, b1.ID, summaries[0].ID)

	// Limit applies after filtering and ordering.
	summaries, err = repo.FindBatchSummaries(ctx, "", 1)
	assert.NoError(t, err)
	assert.Len(t, summaries, 1)

	// Non-terminal listing is oldest first and excludes the completed batch.
	active, err := repo.FindNonTerminalBatches(ctx)
	assert.NoError(t, err)
	assert.Len(t, active, 1)
	assert.Equal(t, b2.ID, active[0].ID)
}

func TestInMemory_CleanupCandidatesAndDelete(t *testing.T) {
	repo := inmemory.NewInMemoryBatchRepository()
	ctx := context.Background()
	batch, _ := seedBatch(t, repo, 2)

	// An active batch is never a candidate and cannot be deleted.
	ids, err := repo.FindCleanupCandidates(ctx, time.Now().Add(time.Hour))
	assert.NoError(t, err)
	assert.Empty(t, ids)
	assert.Error(t, repo.DeleteBatch(ctx, batch.ID))

	b, _ := repo.FindBatchByID(ctx, batch.ID)
	assert.NoError(t, b.MarkAsCancelled())
	assert.NoError(t, repo.UpdateBatch(ctx, b))

	// Terminal and older than the cutoff.
	ids, err = repo.FindCleanupCandidates(ctx, time.Now().Add(time.Hour))
	assert.NoError(t, err)
	assert.Equal(t, []string{batch.ID}, ids)

	// But not with a cutoff in the past.
	ids, err = repo.FindCleanupCandidates(ctx, time.Now().Add(-time.Hour))
	assert.NoError(t, err)
	assert.Empty(t, ids)

	assert.NoError(t, repo.DeleteBatch(ctx, batch.ID))
	_, err = repo.FindBatchByID(ctx, batch.ID)
	assert.ErrorIs(t, err, repository.ErrBatchNotFound)
	jobs, _ := repo.FindJobsByBatch(ctx, batch.ID)
	assert.Empty(t, jobs)
}

func TestInMemory_ProgressUpsert(t *testing.T) {
	repo := inmemory.NewInMemoryBatchRepository()
	ctx := context.Background()

	_, err := repo.FindProgressByBatchID(ctx, "b-1")
	assert.ErrorIs(t, err, repository.ErrProgressNotFound)

	p := &model.Progress{BatchID: "b-1", TotalJobs: 2, CompletedJobs: 1, Percentage: 50, UpdatedAt: time.Now()}
	assert.NoError(t, repo.UpsertProgress(ctx, p))

	p.CompletedJobs = 2
	p.Percentage = 100
	assert.NoError(t, repo.UpsertProgress(ctx, p))

	got, err := repo.FindProgressByBatchID(ctx, "b-1")
	assert.NoError(t, err)
	assert.Equal(t, 100.0, got.Percentage)
}
