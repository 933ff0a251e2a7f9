// Package inmemory provides an in-memory implementation of the BatchRepository
// interface. It stores all batch-related data in maps within memory, suitable
// for testing and scenarios where persistence is not required.
package inmemory

import (
	"sync"

	model "github.com/tidewave/riptide/pkg/batch/core/domain/model"
	repository "github.com/tidewave/riptide/pkg/batch/core/domain/repository"
)

// InMemoryBatchRepository is an in-memory implementation of the BatchRepository interface.
// It applies the same versioned-update discipline as the SQL repository so the
// engine behaves identically against either store.
type InMemoryBatchRepository struct {
	batches  map[string]*model.Batch
	jobs     map[string]*model.Job
	progress map[string]*model.Progress
	mu       sync.RWMutex
}

// NewInMemoryBatchRepository creates and initializes a new instance of InMemoryBatchRepository.
func NewInMemoryBatchRepository() *InMemoryBatchRepository {
	return &InMemoryBatchRepository{
		batches:  make(map[string]*model.Batch),
		jobs:     make(map[string]*model.Job),
		progress: make(map[string]*model.Progress),
	}
}

// Close releases resources used by the repository.
// As an in-memory repository it holds no external resources, so this always returns nil.
func (r *InMemoryBatchRepository) Close() error {
	return nil
}

var _ repository.BatchRepository = (*InMemoryBatchRepository)(nil)
