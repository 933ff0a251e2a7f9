package repository

import (
	"context"
	"errors"
	"time"

	model "github.com/tidewave/riptide/pkg/batch/core/domain/model"
)

// ErrBatchNotFound is the error returned when a Batch is not found.
var ErrBatchNotFound = errors.New("batch not found")

// BatchStore defines persistence operations for Batch rows.
type BatchStore interface {
	// SaveBatch persists a new Batch together with its jobs in a single transaction.
	SaveBatch(ctx context.Context, batch *model.Batch, jobs []*model.Job) error

	// UpdateBatch updates the state of an existing Batch.
	// The update is versioned: a stale Version yields an optimistic locking failure.
	UpdateBatch(ctx context.Context, batch *model.Batch) error

	// FindBatchByID finds a Batch by its ID.
	FindBatchByID(ctx context.Context, batchID string) (*model.Batch, error)

	// FindBatchSummaries lists batches newest-first, optionally filtered by status.
	// A limit of 0 means no limit.
	FindBatchSummaries(ctx context.Context, statusFilter model.BatchStatus, limit int) ([]*model.BatchSummary, error)

	// FindNonTerminalBatches returns all batches that have not reached a terminal state.
	// Used to rebuild the in-memory registry at engine start.
	FindNonTerminalBatches(ctx context.Context) ([]*model.Batch, error)

	// FindCleanupCandidates returns the identifiers of terminal batches whose
	// completion time is older than the cutoff.
	FindCleanupCandidates(ctx context.Context, cutoff time.Time) ([]string, error)

	// DeleteBatch removes a terminal batch together with its jobs and progress rows.
	// Non-terminal batches are never deleted.
	DeleteBatch(ctx context.Context, batchID string) error
}
