package repository

import (
	"context"
	"errors"

	model "github.com/tidewave/riptide/pkg/batch/core/domain/model"
)

// ErrJobNotFound is the error returned when a Job is not found.
var ErrJobNotFound = errors.New("job not found")

// JobStore defines persistence operations for Job rows.
type JobStore interface {
	// UpdateJob updates the state of an existing Job.
	// The update is versioned: a stale Version yields an optimistic locking failure.
	UpdateJob(ctx context.Context, job *model.Job) error

	// FindJobByID finds a Job by its ID.
	FindJobByID(ctx context.Context, jobID string) (*model.Job, error)

	// FindJobsByBatch returns all jobs of a batch in submission order.
	FindJobsByBatch(ctx context.Context, batchID string) ([]*model.Job, error)

	// FindPendingJobs returns up to limit PENDING jobs of a batch.
	// When byPriority is set the order is (priority desc, creation asc),
	// otherwise plain creation order.
	FindPendingJobs(ctx context.Context, batchID string, limit int, byPriority bool) ([]*model.Job, error)

	// CountJobsByStatus returns the number of jobs of a batch per status.
	CountJobsByStatus(ctx context.Context, batchID string) (map[model.JobStatus]int, error)

	// SkipPendingJobs marks every still-PENDING job of a batch SKIPPED in one pass.
	// Returns the number of jobs skipped.
	SkipPendingJobs(ctx context.Context, batchID string) (int, error)

	// RequeueInterruptedJobs returns jobs left RUNNING or RETRYING by a crash to
	// PENDING, preserving their retry counts. Returns the number of jobs requeued.
	RequeueInterruptedJobs(ctx context.Context, batchID string) (int, error)
}
