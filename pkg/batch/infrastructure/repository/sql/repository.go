// Package sql implements the batch repository on a relational database.
// Statements are raw parameterized SQL issued through the database adapter,
// portable across the supported dialects. All state-changing updates are
// versioned for optimistic locking.
package sql

import (
	"context"
	"fmt"
	"time"

	"github.com/tidewave/riptide/pkg/batch/adapter/database"
	model "github.com/tidewave/riptide/pkg/batch/core/domain/model"
	repository "github.com/tidewave/riptide/pkg/batch/core/domain/repository"
	"github.com/tidewave/riptide/pkg/batch/support/util/exception"
)

const moduleName = "SQLBatchRepository"

// SQLBatchRepository implements the repository.BatchRepository interface.
type SQLBatchRepository struct {
	dbResolver database.DBConnectionResolver
	// dbName is the logical name of the database connection used by this repository.
	dbName string
}

// NewSQLBatchRepository creates a new instance of SQLBatchRepository.
//
// Parameters:
//
//	dbResolver: The database connection resolver.
//	dbName: The name of the database connection to be used by this repository (e.g., "default").
//
// Returns:
//
//	A new instance of repository.BatchRepository.
func NewSQLBatchRepository(dbResolver database.DBConnectionResolver, dbName string) repository.BatchRepository {
	return &SQLBatchRepository{
		dbResolver: dbResolver,
		dbName:     dbName,
	}
}

// getDBConnection resolves the DBConnection used by this repository.
func (r *SQLBatchRepository) getDBConnection(ctx context.Context) (database.DBConnection, error) {
	conn, err := r.dbResolver.ResolveDBConnection(ctx, r.dbName)
	if err != nil {
		return nil, exception.NewPersistenceFailure(moduleName, fmt.Sprintf("failed to resolve DB connection '%s'", r.dbName), err)
	}
	return conn, nil
}

// --- BatchStore implementation ---

const insertBatchSQL = `INSERT INTO batches
  (id, name, workflow_id, status, total_jobs, completed_jobs, failed_jobs, skipped_jobs,
   config, metadata, created_at, started_at, completed_at, version)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

const insertJobSQL = `INSERT INTO batch_jobs
  (id, batch_id, workflow_id, input, status, result, error_message, started_at, completed_at,
   execution_time_ms, retry_count, priority, ordinal, created_at, version)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

func (r *SQLBatchRepository) SaveBatch(ctx context.Context, batch *model.Batch, jobs []*model.Job) error {
	const op = "SQLBatchRepository.SaveBatch"

	conn, err := r.getDBConnection(ctx)
	if err != nil {
		return err
	}

	err = conn.Transaction(ctx, func(tx database.DBExecutor) error {
		be := fromDomainBatch(batch)
		if _, err := tx.Execute(ctx, insertBatchSQL,
			be.ID, be.Name, be.WorkflowID, be.Status, be.TotalJobs, be.CompletedJobs, be.FailedJobs, be.SkippedJobs,
			be.Config, be.Metadata, be.CreatedAt, be.StartedAt, be.CompletedAt, be.Version,
		); err != nil {
			return err
		}
		for _, job := range jobs {
			je := fromDomainJob(job)
			if _, err := tx.Execute(ctx, insertJobSQL,
				je.ID, je.BatchID, je.WorkflowID, je.Input, je.Status, je.Result, je.ErrorMessage, je.StartedAt, je.CompletedAt,
				je.ExecutionTimeMs, je.RetryCount, je.Priority, je.Ordinal, je.CreatedAt, je.Version,
			); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return exception.NewPersistenceFailure(op, fmt.Sprintf("failed to save batch (ID: %s) with %d jobs", batch.ID, len(jobs)), err)
	}
	return nil
}

func (r *SQLBatchRepository) UpdateBatch(ctx context.Context, batch *model.Batch) error {
	const op = "SQLBatchRepository.UpdateBatch"

	conn, err := r.getDBConnection(ctx)
	if err != nil {
		return err
	}

	be := fromDomainBatch(batch)
	rowsAffected, err := conn.Execute(ctx, `UPDATE batches
SET name = ?, workflow_id = ?, status = ?, total_jobs = ?, completed_jobs = ?, failed_jobs = ?,
    skipped_jobs = ?, config = ?, metadata = ?, started_at = ?, completed_at = ?, version = version + 1
WHERE id = ? AND version = ?`,
		be.Name, be.WorkflowID, be.Status, be.TotalJobs, be.CompletedJobs, be.FailedJobs,
		be.SkippedJobs, be.Config, be.Metadata, be.StartedAt, be.CompletedAt,
		be.ID, be.Version,
	)
	if err != nil {
		return exception.NewPersistenceFailure(op, fmt.Sprintf("failed to update batch (ID: %s)", batch.ID), err)
	}
	if rowsAffected == 0 {
		return exception.NewPersistenceFailure(op,
			fmt.Sprintf("batch (ID: %s) with version %d not found for update", batch.ID, batch.Version),
			exception.ErrOptimisticLock)
	}
	batch.Version++
	return nil
}

func (r *SQLBatchRepository) FindBatchByID(ctx context.Context, batchID string) (*model.Batch, error) {
	const op = "SQLBatchRepository.FindBatchByID"

	conn, err := r.getDBConnection(ctx)
	if err != nil {
		return nil, err
	}

	var entity BatchEntity
	found, err := conn.FetchOne(ctx, &entity, `SELECT * FROM batches WHERE id = ?`, batchID)
	if err != nil {
		return nil, exception.NewPersistenceFailure(op, fmt.Sprintf("failed to find batch by ID: %s", batchID), err)
	}
	if !found {
		return nil, repository.ErrBatchNotFound
	}
	return toDomainBatch(&entity), nil
}

func (r *SQLBatchRepository) FindBatchSummaries(ctx context.Context, statusFilter model.BatchStatus, limit int) ([]*model.BatchSummary, error) {
	const op = "SQLBatchRepository.FindBatchSummaries"

	conn, err := r.getDBConnection(ctx)
	if err != nil {
		return nil, err
	}

	query := `SELECT id, name, workflow_id, status, total_jobs, created_at, completed_at FROM batches`
	args := []interface{}{}
	if statusFilter != "" {
		query += ` WHERE status = ?`
		args = append(args, statusFilter)
	}
	query += ` ORDER BY created_at DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	var entities []BatchEntity
	if err := conn.FetchAll(ctx, &entities, query, args...); err != nil {
		return nil, exception.NewPersistenceFailure(op, "failed to list batches", err)
	}

	summaries := make([]*model.BatchSummary, 0, len(entities))
	for i := range entities {
		e := &entities[i]
		summaries = append(summaries, &model.BatchSummary{
			ID:          e.ID,
			Name:        e.Name,
			WorkflowID:  e.WorkflowID,
			Status:      e.Status,
			TotalJobs:   e.TotalJobs,
			CreatedAt:   e.CreatedAt,
			CompletedAt: e.CompletedAt,
		})
	}
	return summaries, nil
}

func (r *SQLBatchRepository) FindNonTerminalBatches(ctx context.Context) ([]*model.Batch, error) {
	const op = "SQLBatchRepository.FindNonTerminalBatches"

	conn, err := r.getDBConnection(ctx)
	if err != nil {
		return nil, err
	}

	var entities []BatchEntity
	err = conn.FetchAll(ctx, &entities,
		`SELECT * FROM batches WHERE status IN (?, ?, ?) ORDER BY created_at ASC`,
		model.BatchStatusPending, model.BatchStatusRunning, model.BatchStatusPaused,
	)
	if err != nil {
		return nil, exception.NewPersistenceFailure(op, "failed to find non-terminal batches", err)
	}

	batches := make([]*model.Batch, 0, len(entities))
	for i := range entities {
		batches = append(batches, toDomainBatch(&entities[i]))
	}
	return batches, nil
}

func (r *SQLBatchRepository) FindCleanupCandidates(ctx context.Context, cutoff time.Time) ([]string, error) {
	const op = "SQLBatchRepository.FindCleanupCandidates"

	conn, err := r.getDBConnection(ctx)
	if err != nil {
		return nil, err
	}

	var ids []string
	err = conn.FetchAll(ctx, &ids,
		`SELECT id FROM batches WHERE status IN (?, ?, ?) AND completed_at IS NOT NULL AND completed_at < ?`,
		model.BatchStatusCompleted, model.BatchStatusFailed, model.BatchStatusCancelled, cutoff,
	)
	if err != nil {
		return nil, exception.NewPersistenceFailure(op, "failed to find cleanup candidates", err)
	}
	return ids, nil
}

func (r *SQLBatchRepository) DeleteBatch(ctx context.Context, batchID string) error {
	const op = "SQLBatchRepository.DeleteBatch"

	conn, err := r.getDBConnection(ctx)
	if err != nil {
		return err
	}

	err = conn.Transaction(ctx, func(tx database.DBExecutor) error {
		var entity BatchEntity
		found, err := tx.FetchOne(ctx, &entity, `SELECT * FROM batches WHERE id = ?`, batchID)
		if err != nil {
			return err
		}
		if !found {
			return repository.ErrBatchNotFound
		}
		if !entity.Status.IsTerminal() {
			return fmt.Errorf("batch (ID: %s) in status %s is not terminal and cannot be deleted", batchID, entity.Status)
		}
		if _, err := tx.Execute(ctx, `DELETE FROM batch_progress WHERE batch_id = ?`, batchID); err != nil {
			return err
		}
		if _, err := tx.Execute(ctx, `DELETE FROM batch_jobs WHERE batch_id = ?`, batchID); err != nil {
			return err
		}
		if _, err := tx.Execute(ctx, `DELETE FROM batches WHERE id = ?`, batchID); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		return exception.NewPersistenceFailure(op, fmt.Sprintf("failed to delete batch (ID: %s)", batchID), err)
	}
	return nil
}

// --- JobStore implementation ---

func (r *SQLBatchRepository) UpdateJob(ctx context.Context, job *model.Job) error {
	const op = "SQLBatchRepository.UpdateJob"

	conn, err := r.getDBConnection(ctx)
	if err != nil {
		return err
	}

	je := fromDomainJob(job)
	rowsAffected, err := conn.Execute(ctx, `UPDATE batch_jobs
SET status = ?, result = ?, error_message = ?, started_at = ?, completed_at = ?,
    execution_time_ms = ?, retry_count = ?, version = version + 1
WHERE id = ? AND version = ?`,
		je.Status, je.Result, je.ErrorMessage, je.StartedAt, je.CompletedAt,
		je.ExecutionTimeMs, je.RetryCount,
		je.ID, je.Version,
	)
	if err != nil {
		return exception.NewPersistenceFailure(op, fmt.Sprintf("failed to update job (ID: %s)", job.ID), err)
	}
	if rowsAffected == 0 {
		return exception.NewPersistenceFailure(op,
			fmt.Sprintf("job (ID: %s) with version %d not found for update", job.ID, job.Version),
			exception.ErrOptimisticLock)
	}
	job.Version++
	return nil
}

func (r *SQLBatchRepository) FindJobByID(ctx context.Context, jobID string) (*model.Job, error) {
	const op = "SQLBatchRepository.FindJobByID"

	conn, err := r.getDBConnection(ctx)
	if err != nil {
		return nil, err
	}

	var entity JobEntity
	found, err := conn.FetchOne(ctx, &entity, `SELECT * FROM batch_jobs WHERE id = ?`, jobID)
	if err != nil {
		return nil, exception.NewPersistenceFailure(op, fmt.Sprintf("failed to find job by ID: %s", jobID), err)
	}
	if !found {
		return nil, repository.ErrJobNotFound
	}
	return toDomainJob(&entity), nil
}

func (r *SQLBatchRepository) FindJobsByBatch(ctx context.Context, batchID string) ([]*model.Job, error) {
	const op = "SQLBatchRepository.FindJobsByBatch"

	conn, err := r.getDBConnection(ctx)
	if err != nil {
		return nil, err
	}

	var entities []JobEntity
	err = conn.FetchAll(ctx, &entities,
		`SELECT * FROM batch_jobs WHERE batch_id = ? ORDER BY ordinal ASC`, batchID)
	if err != nil {
		return nil, exception.NewPersistenceFailure(op, fmt.Sprintf("failed to find jobs of batch %s", batchID), err)
	}

	jobs := make([]*model.Job, 0, len(entities))
	for i := range entities {
		jobs = append(jobs, toDomainJob(&entities[i]))
	}
	return jobs, nil
}

func (r *SQLBatchRepository) FindPendingJobs(ctx context.Context, batchID string, limit int, byPriority bool) ([]*model.Job, error) {
	const op = "SQLBatchRepository.FindPendingJobs"

	conn, err := r.getDBConnection(ctx)
	if err != nil {
		return nil, err
	}

	// The ordinal is the submission-order tie-break. Timestamps are too coarse
	// on some dialects and the ID is lexicographic.
	order := `ordinal ASC`
	if byPriority {
		order = `priority DESC, ordinal ASC`
	}
	query := `SELECT * FROM batch_jobs WHERE batch_id = ? AND status = ? ORDER BY ` + order
	args := []interface{}{batchID, model.JobStatusPending}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	var entities []JobEntity
	if err := conn.FetchAll(ctx, &entities, query, args...); err != nil {
		return nil, exception.NewPersistenceFailure(op, fmt.Sprintf("failed to find pending jobs of batch %s", batchID), err)
	}

	jobs := make([]*model.Job, 0, len(entities))
	for i := range entities {
		jobs = append(jobs, toDomainJob(&entities[i]))
	}
	return jobs, nil
}

func (r *SQLBatchRepository) CountJobsByStatus(ctx context.Context, batchID string) (map[model.JobStatus]int, error) {
	const op = "SQLBatchRepository.CountJobsByStatus"

	conn, err := r.getDBConnection(ctx)
	if err != nil {
		return nil, err
	}

	var rows []struct {
		Status model.JobStatus
		Total  int
	}
	err = conn.FetchAll(ctx, &rows,
		`SELECT status, COUNT(*) AS total FROM batch_jobs WHERE batch_id = ? GROUP BY status`, batchID)
	if err != nil {
		return nil, exception.NewPersistenceFailure(op, fmt.Sprintf("failed to count jobs of batch %s", batchID), err)
	}

	counts := make(map[model.JobStatus]int, len(rows))
	for _, row := range rows {
		counts[row.Status] = row.Total
	}
	return counts, nil
}

func (r *SQLBatchRepository) SkipPendingJobs(ctx context.Context, batchID string) (int, error) {
	const op = "SQLBatchRepository.SkipPendingJobs"

	conn, err := r.getDBConnection(ctx)
	if err != nil {
		return 0, err
	}

	now := time.Now()
	rowsAffected, err := conn.Execute(ctx,
		`UPDATE batch_jobs SET status = ?, completed_at = ?, version = version + 1 WHERE batch_id = ? AND status = ?`,
		model.JobStatusSkipped, now, batchID, model.JobStatusPending,
	)
	if err != nil {
		return 0, exception.NewPersistenceFailure(op, fmt.Sprintf("failed to skip pending jobs of batch %s", batchID), err)
	}
	return int(rowsAffected), nil
}

func (r *SQLBatchRepository) RequeueInterruptedJobs(ctx context.Context, batchID string) (int, error) {
	const op = "SQLBatchRepository.RequeueInterruptedJobs"

	conn, err := r.getDBConnection(ctx)
	if err != nil {
		return 0, err
	}

	rowsAffected, err := conn.Execute(ctx,
		`UPDATE batch_jobs SET status = ?, started_at = NULL, version = version + 1 WHERE batch_id = ? AND status IN (?, ?)`,
		model.JobStatusPending, batchID, model.JobStatusRunning, model.JobStatusRetrying,
	)
	if err != nil {
		return 0, exception.NewPersistenceFailure(op, fmt.Sprintf("failed to requeue interrupted jobs of batch %s", batchID), err)
	}
	return int(rowsAffected), nil
}

// --- ProgressStore implementation ---

func (r *SQLBatchRepository) UpsertProgress(ctx context.Context, progress *model.Progress) error {
	const op = "SQLBatchRepository.UpsertProgress"

	conn, err := r.getDBConnection(ctx)
	if err != nil {
		return err
	}

	pe := fromDomainProgress(progress)

	// Update-then-insert keeps the statement portable across dialects.
	err = conn.Transaction(ctx, func(tx database.DBExecutor) error {
		rowsAffected, err := tx.Execute(ctx, `UPDATE batch_progress
SET total_jobs = ?, completed_jobs = ?, failed_jobs = ?, skipped_jobs = ?,
    percentage = ?, avg_job_duration_ms = ?, eta = ?, updated_at = ?
WHERE batch_id = ?`,
			pe.TotalJobs, pe.CompletedJobs, pe.FailedJobs, pe.SkippedJobs,
			pe.Percentage, pe.AvgJobDurationMs, pe.ETA, pe.UpdatedAt,
			pe.BatchID,
		)
		if err != nil {
			return err
		}
		if rowsAffected > 0 {
			return nil
		}
		_, err = tx.Execute(ctx, `INSERT INTO batch_progress
  (batch_id, total_jobs, completed_jobs, failed_jobs, skipped_jobs, percentage, avg_job_duration_ms, eta, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			pe.BatchID, pe.TotalJobs, pe.CompletedJobs, pe.FailedJobs, pe.SkippedJobs,
			pe.Percentage, pe.AvgJobDurationMs, pe.ETA, pe.UpdatedAt,
		)
		return err
	})
	if err != nil {
		return exception.NewPersistenceFailure(op, fmt.Sprintf("failed to upsert progress of batch %s", progress.BatchID), err)
	}
	return nil
}

func (r *SQLBatchRepository) FindProgressByBatchID(ctx context.Context, batchID string) (*model.Progress, error) {
	const op = "SQLBatchRepository.FindProgressByBatchID"

	conn, err := r.getDBConnection(ctx)
	if err != nil {
		return nil, err
	}

	var entity ProgressEntity
	found, err := conn.FetchOne(ctx, &entity, `SELECT * FROM batch_progress WHERE batch_id = ?`, batchID)
	if err != nil {
		return nil, exception.NewPersistenceFailure(op, fmt.Sprintf("failed to find progress of batch %s", batchID), err)
	}
	if !found {
		return nil, repository.ErrProgressNotFound
	}
	return toDomainProgress(&entity), nil
}

// Close releases the underlying database connection.
func (r *SQLBatchRepository) Close() error {
	conn, err := r.getDBConnection(context.Background())
	if err != nil {
		return err
	}
	return conn.Close()
}

var _ repository.BatchRepository = (*SQLBatchRepository)(nil)
