package inmemory

import (
	"context"

	model "github.com/tidewave/riptide/pkg/batch/core/domain/model"
	repository "github.com/tidewave/riptide/pkg/batch/core/domain/repository"
)

// copyProgress returns a detached copy so callers cannot mutate stored state.
func copyProgress(p *model.Progress) *model.Progress {
	c := *p
	if p.ETA != nil {
		t := *p.ETA
		c.ETA = &t
	}
	return &c
}

func (r *InMemoryBatchRepository) UpsertProgress(ctx context.Context, progress *model.Progress) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.progress[progress.BatchID] = copyProgress(progress)
	return nil
}

func (r *InMemoryBatchRepository) FindProgressByBatchID(ctx context.Context, batchID string) (*model.Progress, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stored, ok := r.progress[batchID]
	if !ok {
		return nil, repository.ErrProgressNotFound
	}
	return copyProgress(stored), nil
}
