package repository

import (
	"context"
	"errors"

	model "github.com/tidewave/riptide/pkg/batch/core/domain/model"
)

// ErrProgressNotFound is the error returned when a progress snapshot is not found.
var ErrProgressNotFound = errors.New("progress not found")

// ProgressStore defines persistence operations for progress snapshots.
type ProgressStore interface {
	// UpsertProgress inserts or replaces the progress snapshot of a batch.
	UpsertProgress(ctx context.Context, progress *model.Progress) error

	// FindProgressByBatchID retrieves the latest progress snapshot of a batch.
	FindProgressByBatchID(ctx context.Context, batchID string) (*model.Progress, error)
}
