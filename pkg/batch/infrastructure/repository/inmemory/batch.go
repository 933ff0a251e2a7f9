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

const moduleName = "InMemoryBatchRepository"

// copyBatch returns a detached copy so callers cannot mutate stored state.
func copyBatch(b *model.Batch) *model.Batch {
	c := *b
	if b.Metadata != nil {
		c.Metadata = make(model.Metadata, len(b.Metadata))
		for k, v := range b.Metadata {
			c.Metadata[k] = v
		}
	}
	if b.StartedAt != nil {
		t := *b.StartedAt
		c.StartedAt = &t
	}
	if b.CompletedAt != nil {
		t := *b.CompletedAt
		c.CompletedAt = &t
	}
	return &c
}

func (r *InMemoryBatchRepository) SaveBatch(ctx context.Context, batch *model.Batch, jobs []*model.Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.batches[batch.ID]; exists {
		return exception.NewPersistenceFailure(moduleName, fmt.Sprintf("batch (ID: %s) already exists", batch.ID), nil)
	}
	r.batches[batch.ID] = copyBatch(batch)
	for _, job := range jobs {
		r.jobs[job.ID] = copyJob(job)
	}
	return nil
}

func (r *InMemoryBatchRepository) UpdateBatch(ctx context.Context, batch *model.Batch) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.batches[batch.ID]
	if !ok {
		return repository.ErrBatchNotFound
	}
	if stored.Version != batch.Version {
		return exception.NewPersistenceFailure(moduleName,
			fmt.Sprintf("batch (ID: %s) with version %d not found for update", batch.ID, batch.Version),
			exception.ErrOptimisticLock)
	}
	batch.Version++
	r.batches[batch.ID] = copyBatch(batch)
	return nil
}

func (r *InMemoryBatchRepository) FindBatchByID(ctx context.Context, batchID string) (*model.Batch, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stored, ok := r.batches[batchID]
	if !ok {
		return nil, repository.ErrBatchNotFound
	}
	return copyBatch(stored), nil
}

func (r *InMemoryBatchRepository) FindBatchSummaries(ctx context.Context, statusFilter model.BatchStatus, limit int) ([]*model.BatchSummary, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var matched []*model.Batch
	for _, b := range r.batches {
		if statusFilter != "" && b.Status != statusFilter {
			continue
		}
		matched = append(matched, b)
	}
	sort.Slice(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})
	if limit > 0 && len(matched) > limit {
		matched = matched[:limit]
	}

	summaries := make([]*model.BatchSummary, 0, len(matched))
	for _, b := range matched {
		c := copyBatch(b)
		summaries = append(summaries, &model.BatchSummary{
			ID:          c.ID,
			Name:        c.Name,
			WorkflowID:  c.WorkflowID,
			Status:      c.Status,
			TotalJobs:   c.TotalJobs,
			CreatedAt:   c.CreatedAt,
			CompletedAt: c.CompletedAt,
		})
	}
	return summaries, nil
}

func (r *InMemoryBatchRepository) FindNonTerminalBatches(ctx context.Context) ([]*model.Batch, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var matched []*model.Batch
	for _, b := range r.batches {
		if !b.Status.IsTerminal() {
			matched = append(matched, copyBatch(b))
		}
	}
	sort.Slice(matched, func(i, j int) bool {
		return matched[i].CreatedAt.Before(matched[j].CreatedAt)
	})
	return matched, nil
}

func (r *InMemoryBatchRepository) FindCleanupCandidates(ctx context.Context, cutoff time.Time) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var ids []string
	for _, b := range r.batches {
		if b.Status.IsTerminal() && b.CompletedAt != nil && b.CompletedAt.Before(cutoff) {
			ids = append(ids, b.ID)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (r *InMemoryBatchRepository) DeleteBatch(ctx context.Context, batchID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.batches[batchID]
	if !ok {
		return repository.ErrBatchNotFound
	}
	if !stored.Status.IsTerminal() {
		return exception.NewPersistenceFailure(moduleName,
			fmt.Sprintf("batch (ID: %s) in status %s is not terminal and cannot be deleted", batchID, stored.Status), nil)
	}
	for id, job := range r.jobs {
		if job.BatchID == batchID {
			delete(r.jobs, id)
		}
	}
	delete(r.progress, batchID)
	delete(r.batches, batchID)
	return nil
}
