package sql_test

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/tidewave/riptide/pkg/batch/adapter/database"
	dbconfig "github.com/tidewave/riptide/pkg/batch/adapter/database/config"
	gormadapter "github.com/tidewave/riptide/pkg/batch/adapter/database/gorm"
	model "github.com/tidewave/riptide/pkg/batch/core/domain/model"
	"github.com/tidewave/riptide/pkg/batch/core/domain/repository"
	sqlrepo "github.com/tidewave/riptide/pkg/batch/infrastructure/repository/sql"
	"github.com/tidewave/riptide/pkg/batch/support/util/exception"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fixedResolver hands out one pre-built connection regardless of name.
type fixedResolver struct {
	conn database.DBConnection
}

func (r *fixedResolver) ResolveDBConnection(ctx context.Context, name string) (database.DBConnection, error) {
	return r.conn, nil
}

// newMockedRepository wires the repository onto a sqlmock-backed gorm handle.
func newMockedRepository(t *testing.T) (repository.BatchRepository, sqlmock.Sqlmock) {
	t.Helper()

	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })

	gormDB, err := gorm.Open(mysql.New(mysql.Config{
		Conn:                      sqlDB,
		SkipInitializeWithVersion: true,
	}), &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Silent)})
	require.NoError(t, err)

	conn := gormadapter.NewGormDBAdapter(gormDB, dbconfig.DatabaseConfig{Type: "mysql"}, "mock_db")
	repo := sqlrepo.NewSQLBatchRepository(&fixedResolver{conn: conn}, "mock_db")
	return repo, mock
}

func mockBatch() *model.Batch {
	batch := model.NewBatch("nightly", "wf-1", model.DefaultProcessingConfig(), nil)
	batch.TotalJobs = 2
	return batch
}

func TestSQLRepository_SaveBatch_InsertsBatchAndJobsInOneTransaction(t *testing.T) {
	repo, mock := newMockedRepository(t)
	ctx := context.Background()

	batch := mockBatch()
	jobs := []*model.Job{
		model.NewJob(batch, 0, model.Payload{"item": "a"}, 0),
		model.NewJob(batch, 1, model.Payload{"item": "b"}, 5),
	}

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO batches")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO batch_jobs")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO batch_jobs")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	assert.NoError(t, repo.SaveBatch(ctx, batch, jobs))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLRepository_SaveBatch_RollsBackOnJobInsertFailure(t *testing.T) {
	repo, mock := newMockedRepository(t)
	ctx := context.Background()

	batch := mockBatch()
	jobs := []*model.Job{model.NewJob(batch, 0, model.Payload{"item": "a"}, 0)}

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO batches")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO batch_jobs")).
		WillReturnError(errors.New("duplicate key"))
	mock.ExpectRollback()

	err := repo.SaveBatch(ctx, batch, jobs)
	assert.Error(t, err)
	assert.True(t, exception.IsKind(err, exception.KindPersistence))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLRepository_UpdateBatch_BumpsVersionOnMatch(t *testing.T) {
	repo, mock := newMockedRepository(t)
	ctx := context.Background()

	batch := mockBatch()
	batch.Version = 3

	mock.ExpectExec(regexp.QuoteMeta("UPDATE batches")).
		WithArgs(
			sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(),
			sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(),
			sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(),
			batch.ID, 3,
		).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.UpdateBatch(ctx, batch))
	assert.Equal(t, 4, batch.Version)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLRepository_UpdateBatch_ZeroRowsMeansVersionRaceLost(t *testing.T) {
	repo, mock := newMockedRepository(t)
	ctx := context.Background()

	batch := mockBatch()
	batch.Version = 3

	mock.ExpectExec(regexp.QuoteMeta("UPDATE batches")).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.UpdateBatch(ctx, batch)
	assert.True(t, exception.IsOptimisticLock(err))
	// The in-memory version stays put so the caller can reload and retry.
	assert.Equal(t, 3, batch.Version)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLRepository_UpdateJob_VersionedUpdate(t *testing.T) {
	repo, mock := newMockedRepository(t)
	ctx := context.Background()

	batch := mockBatch()
	job := model.NewJob(batch, 0, model.Payload{"item": "a"}, 0)
	job.Version = 1

	mock.ExpectExec(regexp.QuoteMeta("UPDATE batch_jobs")).
		WithArgs(
			sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(),
			sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(),
			job.ID, 1,
		).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.UpdateJob(ctx, job))
	assert.Equal(t, 2, job.Version)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE batch_jobs")).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.UpdateJob(ctx, job)
	assert.True(t, exception.IsOptimisticLock(err))
	assert.Equal(t, 2, job.Version)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLRepository_FindBatchByID(t *testing.T) {
	repo, mock := newMockedRepository(t)
	ctx := context.Background()

	createdAt := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	rows := sqlmock.NewRows([]string{
		"id", "name", "workflow_id", "status", "total_jobs", "completed_jobs",
		"failed_jobs", "skipped_jobs", "config", "metadata", "created_at",
		"started_at", "completed_at", "version",
	}).AddRow(
		"b-1", "nightly", "wf-1", "RUNNING", 4, 1,
		0, 0, `{"max_concurrent_jobs":5,"max_retries":3,"retry_delay":1000000000,"timeout_per_job":300000000000,"enable_validation":true,"enable_enrichment":true,"chunk_size":10,"priority_processing":false}`,
		`{}`, createdAt,
		nil, nil, 2,
	)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT * FROM batches WHERE id = ?")).
		WithArgs("b-1").
		WillReturnRows(rows)

	batch, err := repo.FindBatchByID(ctx, "b-1")
	require.NoError(t, err)
	assert.Equal(t, "b-1", batch.ID)
	assert.Equal(t, model.BatchStatusRunning, batch.Status)
	assert.Equal(t, 4, batch.TotalJobs)
	assert.Equal(t, 5, batch.Config.MaxConcurrentJobs)
	assert.Equal(t, 2, batch.Version)
	assert.Nil(t, batch.StartedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLRepository_FindBatchByID_NotFound(t *testing.T) {
	repo, mock := newMockedRepository(t)
	ctx := context.Background()

	mock.ExpectQuery(regexp.QuoteMeta("SELECT * FROM batches WHERE id = ?")).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := repo.FindBatchByID(ctx, "missing")
	assert.ErrorIs(t, err, repository.ErrBatchNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLRepository_FindPendingJobs_OrdersBySubmissionOrdinal(t *testing.T) {
	repo, mock := newMockedRepository(t)
	ctx := context.Background()

	rows := sqlmock.NewRows([]string{"id", "batch_id", "status", "ordinal"}).
		AddRow("b-1-job-0", "b-1", "PENDING", 0).
		AddRow("b-1-job-2", "b-1", "PENDING", 2).
		AddRow("b-1-job-10", "b-1", "PENDING", 10)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT * FROM batch_jobs WHERE batch_id = ? AND status = ? ORDER BY ordinal ASC")).
		WithArgs("b-1", "PENDING").
		WillReturnRows(rows)

	jobs, err := repo.FindPendingJobs(ctx, "b-1", 0, false)
	require.NoError(t, err)
	require.Len(t, jobs, 3)
	assert.Equal(t, []int{0, 2, 10}, []int{jobs[0].Ordinal, jobs[1].Ordinal, jobs[2].Ordinal})

	// Priority processing keeps the ordinal as the tie-break.
	mock.ExpectQuery(regexp.QuoteMeta("SELECT * FROM batch_jobs WHERE batch_id = ? AND status = ? ORDER BY priority DESC, ordinal ASC LIMIT ?")).
		WithArgs("b-1", "PENDING", 2).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err = repo.FindPendingJobs(ctx, "b-1", 2, true)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLRepository_SkipPendingJobs_ReportsAffectedRows(t *testing.T) {
	repo, mock := newMockedRepository(t)
	ctx := context.Background()

	mock.ExpectExec(regexp.QuoteMeta("UPDATE batch_jobs SET status = ?")).
		WillReturnResult(sqlmock.NewResult(0, 3))

	skipped, err := repo.SkipPendingJobs(ctx, "b-1")
	require.NoError(t, err)
	assert.Equal(t, 3, skipped)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLRepository_UpsertProgress_UpdatesThenInsertsWhenMissing(t *testing.T) {
	repo, mock := newMockedRepository(t)
	ctx := context.Background()

	progress := &model.Progress{
		BatchID:       "b-1",
		TotalJobs:     4,
		CompletedJobs: 2,
		Percentage:    50.0,
		UpdatedAt:     time.Now(),
	}

	// No existing row: the UPDATE touches nothing and the INSERT follows.
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE batch_progress")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO batch_progress")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, repo.UpsertProgress(ctx, progress))

	// Existing row: the UPDATE suffices.
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE batch_progress")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, repo.UpsertProgress(ctx, progress))
	assert.NoError(t, mock.ExpectationsWereMet())
}
