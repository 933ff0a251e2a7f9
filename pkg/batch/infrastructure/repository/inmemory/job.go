package inmemory

import (
	"context"
	"fmt"
	"sort"
	"time"

	model "github.com/tidewave/riptide/pkg/batch/core/domain/model"
	repository "github.com/tidewave/riptide/pkg/batch/core/domain/repository"
	"github.com/tidewave/riptide/pkg/batch/support/util/exception"
)

// copyJob returns a detached copy so callers cannot mutate stored state.
func copyJob(j *model.Job) *model.Job {
	c := *j
	if j.Input != nil {
		c.Input = j.Input.Copy()
	}
	if j.Result != nil {
		c.Result = j.Result.Copy()
	}
	if j.StartedAt != nil {
		t := *j.StartedAt
		c.StartedAt = &t
	}
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		c.CompletedAt = &t
	}
	return &c
}

// bySubmission orders jobs by their submission ordinal. Creation timestamps
// tie within one submission and the ID sorts lexicographically, so neither is
// a usable order.
func bySubmission(jobs []*model.Job) {
	sort.Slice(jobs, func(i, j int) bool {
		return jobs[i].Ordinal < jobs[j].Ordinal
	})
}

func (r *InMemoryBatchRepository) UpdateJob(ctx context.Context, job *model.Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.jobs[job.ID]
	if !ok {
		return repository.ErrJobNotFound
	}
	if stored.Version != job.Version {
		return exception.NewPersistenceFailure(moduleName,
			fmt.Sprintf("job (ID: %s) with version %d not found for update", job.ID, job.Version),
			exception.ErrOptimisticLock)
	}
	job.Version++
	r.jobs[job.ID] = copyJob(job)
	return nil
}

func (r *InMemoryBatchRepository) FindJobByID(ctx context.Context, jobID string) (*model.Job, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stored, ok := r.jobs[jobID]
	if !ok {
		return nil, repository.ErrJobNotFound
	}
	return copyJob(stored), nil
}

func (r *InMemoryBatchRepository) FindJobsByBatch(ctx context.Context, batchID string) ([]*model.Job, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var jobs []*model.Job
	for _, j := range r.jobs {
		if j.BatchID == batchID {
			jobs = append(jobs, copyJob(j))
		}
	}
	bySubmission(jobs)
	return jobs, nil
}

func (r *InMemoryBatchRepository) FindPendingJobs(ctx context.Context, batchID string, limit int, byPriority bool) ([]*model.Job, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var jobs []*model.Job
	for _, j := range r.jobs {
		if j.BatchID == batchID && j.Status == model.JobStatusPending {
			jobs = append(jobs, copyJob(j))
		}
	}
	bySubmission(jobs)
	if byPriority {
		sort.SliceStable(jobs, func(i, j int) bool {
			return jobs[i].Priority > jobs[j].Priority
		})
	}
	if limit > 0 && len(jobs) > limit {
		jobs = jobs[:limit]
	}
	return jobs, nil
}

func (r *InMemoryBatchRepository) CountJobsByStatus(ctx context.Context, batchID string) (map[model.JobStatus]int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	counts := make(map[model.JobStatus]int)
	for _, j := range r.jobs {
		if j.BatchID == batchID {
			counts[j.Status]++
		}
	}
	return counts, nil
}

func (r *InMemoryBatchRepository) SkipPendingJobs(ctx context.Context, batchID string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	skipped := 0
	for _, j := range r.jobs {
		if j.BatchID == batchID && j.Status == model.JobStatusPending {
			j.Status = model.JobStatusSkipped
			t := now
			j.CompletedAt = &t
			j.Version++
			skipped++
		}
	}
	return skipped, nil
}

func (r *InMemoryBatchRepository) RequeueInterruptedJobs(ctx context.Context, batchID string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	requeued := 0
	for _, j := range r.jobs {
		if j.BatchID == batchID && (j.Status == model.JobStatusRunning || j.Status == model.JobStatusRetrying) {
			j.Status = model.JobStatusPending
			j.StartedAt = nil
			j.Version++
			requeued++
		}
	}
	return requeued, nil
}
