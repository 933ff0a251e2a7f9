// Package controller exposes the public batch lifecycle API: submission,
// activation, cancellation, monitoring, results, listing, cleanup, recovery,
// and shutdown. Background runs are always managed through registry handles,
// never fire-and-forget.
package controller

import (
	"context"
	"errors"
	"time"

	"github.com/hashicorp/go-multierror"
	"go.uber.org/fx"

	config "github.com/tidewave/riptide/pkg/batch/core/config"
	model "github.com/tidewave/riptide/pkg/batch/core/domain/model"
	"github.com/tidewave/riptide/pkg/batch/core/domain/repository"
	metrics "github.com/tidewave/riptide/pkg/batch/core/metrics"
	reg "github.com/tidewave/riptide/pkg/batch/core/registry"
	"github.com/tidewave/riptide/pkg/batch/engine/progress"
	"github.com/tidewave/riptide/pkg/batch/engine/scheduler"
	"github.com/tidewave/riptide/pkg/batch/support/util/configbinder"
	"github.com/tidewave/riptide/pkg/batch/support/util/exception"
	logger "github.com/tidewave/riptide/pkg/batch/support/util/logger"
)

const moduleName = "controller"

// Params defines the dependencies for NewBatchController.
type Params struct {
	fx.In
	Repo      repository.BatchRepository
	Registry  *reg.BatchRegistry
	Tracker   *progress.Tracker
	Scheduler *scheduler.Scheduler
	Config    *config.Config
	Recorder  metrics.MetricRecorder
}

// BatchController is the engine's public entry point.
type BatchController struct {
	repo      repository.BatchRepository
	registry  *reg.BatchRegistry
	tracker   *progress.Tracker
	scheduler *scheduler.Scheduler
	config    *config.Config
	recorder  metrics.MetricRecorder
}

// NewBatchController creates a new BatchController.
func NewBatchController(p Params) *BatchController {
	return &BatchController{
		repo:      p.Repo,
		registry:  p.Registry,
		tracker:   p.Tracker,
		scheduler: p.Scheduler,
		config:    p.Config,
		recorder:  p.Recorder,
	}
}

// Create validates a submission, snapshots the effective processing
// configuration, and persists the batch together with one PENDING job per
// input in a single transaction. Jobs are identified deterministically by
// their submission ordinal. Returns the new batch identifier.
func (c *BatchController) Create(
	ctx context.Context,
	name string,
	workflowID string,
	jobInputs []model.Payload,
	configOverride map[string]interface{},
	priorities map[int]int,
) (string, error) {
	if len(jobInputs) == 0 {
		return "", exception.NewInvalidConfigError(moduleName, "a batch requires at least one job input", nil)
	}
	if workflowID == "" {
		return "", exception.NewInvalidConfigError(moduleName, "a batch requires a workflow id", nil)
	}

	// The per-batch override merges over the engine-wide defaults and is
	// frozen into the batch; later submissions never see it.
	cfg := c.config.Riptide.Engine.ProcessingConfig
	if len(configOverride) > 0 {
		if err := configbinder.BindProperties(configOverride, &cfg); err != nil {
			return "", exception.NewInvalidConfigError(moduleName, "malformed processing config override", err)
		}
	}
	if err := cfg.Validate(); err != nil {
		return "", exception.NewInvalidConfigError(moduleName, "unacceptable processing config override", err)
	}

	batch := model.NewBatch(name, workflowID, cfg, nil)
	batch.TotalJobs = len(jobInputs)

	jobs := make([]*model.Job, 0, len(jobInputs))
	for i, input := range jobInputs {
		jobs = append(jobs, model.NewJob(batch, i, input, priorities[i]))
	}

	if err := c.repo.SaveBatch(ctx, batch, jobs); err != nil {
		return "", exception.NewPersistenceFailure(moduleName, "failed to persist batch submission", err)
	}

	c.registry.Register(batch)
	c.tracker.Track(batch, nil)
	logger.Infof("Created batch %s (%q, workflow %s) with %d jobs.", batch.ID, name, workflowID, batch.TotalJobs)
	return batch.ID, nil
}

// Start activates a PENDING or PAUSED batch. The run is spawned as a managed
// background goroutine whose cancellable handle lives in the registry.
// Returns true when a run was started.
func (c *BatchController) Start(ctx context.Context, batchID string) (bool, error) {
	batch, err := c.repo.FindBatchByID(ctx, batchID)
	if err != nil {
		return false, c.asLookupError(batchID, err)
	}
	if batch.Status != model.BatchStatusPending && batch.Status != model.BatchStatusPaused {
		return false, exception.NewInvalidConfigError(moduleName,
			"batch "+batchID+" is not startable from status "+batch.Status.String(), nil)
	}

	if err := batch.MarkAsRunning(); err != nil {
		return false, exception.NewInternalError(moduleName, "invalid start transition", err)
	}
	if err := c.repo.UpdateBatch(ctx, batch); err != nil {
		return false, exception.NewPersistenceFailure(moduleName, "failed to persist batch start", err)
	}

	c.registry.Register(batch)
	c.registry.SetPaused(batchID, false)
	c.seedTracker(ctx, batch)
	c.spawnRun(batch)
	return true, nil
}

// Pause cooperatively pauses a RUNNING batch: dispatch stops, in-flight jobs
// run to completion, and the batch can later be resumed with Start.
func (c *BatchController) Pause(ctx context.Context, batchID string) (bool, error) {
	batch, err := c.repo.FindBatchByID(ctx, batchID)
	if err != nil {
		return false, c.asLookupError(batchID, err)
	}
	if batch.Status != model.BatchStatusRunning {
		return false, nil
	}

	// Raise the flag first so dispatch stops promptly; roll it back if the
	// transition cannot be persisted.
	c.registry.SetPaused(batchID, true)
	if err := batch.MarkAsPaused(); err != nil {
		c.registry.SetPaused(batchID, false)
		return false, exception.NewInternalError(moduleName, "invalid pause transition", err)
	}
	if err := c.repo.UpdateBatch(ctx, batch); err != nil {
		c.registry.SetPaused(batchID, false)
		return false, exception.NewPersistenceFailure(moduleName, "failed to persist batch pause", err)
	}
	c.registry.Update(batch)
	logger.Infof("Paused batch %s.", batchID)
	return true, nil
}

// Cancel cancels a batch: the batch row is transitioned to CANCELLED, every
// still-PENDING job is marked SKIPPED in one pass, and dispatch stops.
// In-flight jobs always run to completion. Terminal batches report false.
func (c *BatchController) Cancel(ctx context.Context, batchID string) (bool, error) {
	batch, err := c.repo.FindBatchByID(ctx, batchID)
	if err != nil {
		return false, c.asLookupError(batchID, err)
	}
	if batch.Status.IsTerminal() {
		return false, nil
	}

	snapshot, hasSnapshot := c.registry.Snapshot(batchID)
	c.registry.SetCancelled(batchID)

	if err := batch.MarkAsCancelled(); err != nil {
		return false, exception.NewInternalError(moduleName, "invalid cancel transition", err)
	}
	if err := c.repo.UpdateBatch(ctx, batch); err != nil {
		if hasSnapshot {
			c.registry.Restore(snapshot)
		}
		return false, exception.NewPersistenceFailure(moduleName, "failed to persist batch cancellation", err)
	}
	c.registry.Update(batch)

	skipped, err := c.repo.SkipPendingJobs(ctx, batchID)
	if err != nil {
		return false, exception.NewPersistenceFailure(moduleName, "failed to skip pending jobs", err)
	}
	if skipped > 0 {
		c.recorder.RecordJobSkip(ctx, batchID, skipped)
		if err := c.tracker.RecordSkipped(ctx, batchID, skipped); err != nil {
			logger.Errorf("Batch %s: failed to record skipped progress: %v", batchID, err)
		}
		if err := c.applySkippedCounter(ctx, batchID, skipped); err != nil {
			logger.Errorf("Batch %s: failed to persist skipped counter: %v", batchID, err)
		}
	}

	// A batch with no active run is finished now; one with a run is cleaned
	// up when the run returns.
	if _, running := c.registry.GetRunHandle(batchID); !running {
		c.registry.Deregister(batchID)
		c.tracker.Untrack(batchID)
	}
	logger.Infof("Cancelled batch %s, skipped %d pending jobs.", batchID, skipped)
	return true, nil
}

// Status reports a monitoring view of a batch. Counters are recomputed from
// the persisted job rows, never trusted from the cached batch row.
func (c *BatchController) Status(ctx context.Context, batchID string) (*model.BatchStatusView, error) {
	batch, err := c.repo.FindBatchByID(ctx, batchID)
	if err != nil {
		return nil, c.asLookupError(batchID, err)
	}
	counts, err := c.repo.CountJobsByStatus(ctx, batchID)
	if err != nil {
		return nil, exception.NewPersistenceFailure(moduleName, "failed to count jobs", err)
	}

	view := &model.BatchStatusView{
		BatchID:       batch.ID,
		Name:          batch.Name,
		WorkflowID:    batch.WorkflowID,
		Status:        batch.Status,
		TotalJobs:     batch.TotalJobs,
		PendingJobs:   counts[model.JobStatusPending],
		RunningJobs:   counts[model.JobStatusRunning],
		RetryingJobs:  counts[model.JobStatusRetrying],
		CompletedJobs: counts[model.JobStatusCompleted],
		FailedJobs:    counts[model.JobStatusFailed],
		SkippedJobs:   counts[model.JobStatusSkipped],
		CreatedAt:     batch.CreatedAt,
		StartedAt:     batch.StartedAt,
		CompletedAt:   batch.CompletedAt,
	}
	if batch.TotalJobs > 0 {
		view.Percentage = float64(view.CompletedJobs+view.FailedJobs) / float64(batch.TotalJobs) * 100.0
	}
	if p, ok := c.registry.GetProgress(batchID); ok {
		view.AvgJobDuration = p.AvgJobDuration
		view.ETA = p.ETA
	} else if p, err := c.repo.FindProgressByBatchID(ctx, batchID); err == nil {
		view.AvgJobDuration = p.AvgJobDuration
		view.ETA = p.ETA
	}
	return view, nil
}

// Results returns the outcome aggregate of a batch, derived on demand from
// the persisted job rows. It is valid in any status; on a terminal batch the
// result is stable and the call is idempotent.
func (c *BatchController) Results(ctx context.Context, batchID string, includeDetails bool) (*model.BatchResult, error) {
	batch, err := c.repo.FindBatchByID(ctx, batchID)
	if err != nil {
		return nil, c.asLookupError(batchID, err)
	}
	jobs, err := c.repo.FindJobsByBatch(ctx, batchID)
	if err != nil {
		return nil, exception.NewPersistenceFailure(moduleName, "failed to load jobs", err)
	}

	result := &model.BatchResult{
		BatchID:     batch.ID,
		Name:        batch.Name,
		Status:      batch.Status,
		TotalJobs:   batch.TotalJobs,
		StartedAt:   batch.StartedAt,
		CompletedAt: batch.CompletedAt,
	}
	for _, job := range jobs {
		switch job.Status {
		case model.JobStatusCompleted:
			result.CompletedJobs++
			result.TotalExecutionTime += job.ExecutionTime
		case model.JobStatusFailed:
			result.FailedJobs++
			result.TotalExecutionTime += job.ExecutionTime
		case model.JobStatusSkipped:
			result.SkippedJobs++
		}
		if includeDetails {
			result.Jobs = append(result.Jobs, model.JobResult{
				JobID:         job.ID,
				Status:        job.Status,
				Result:        job.Result,
				ErrorMessage:  job.ErrorMessage,
				RetryCount:    job.RetryCount,
				ExecutionTime: job.ExecutionTime,
			})
		}
	}
	if result.CompletedJobs > 0 {
		var sum time.Duration
		for _, job := range jobs {
			if job.Status == model.JobStatusCompleted {
				sum += job.ExecutionTime
			}
		}
		result.AvgExecutionTime = sum / time.Duration(result.CompletedJobs)
	}
	return result, nil
}

// List returns batch summaries newest-first, optionally filtered by status.
// A limit of 0 means no limit.
func (c *BatchController) List(ctx context.Context, statusFilter model.BatchStatus, limit int) ([]*model.BatchSummary, error) {
	summaries, err := c.repo.FindBatchSummaries(ctx, statusFilter, limit)
	if err != nil {
		return nil, exception.NewPersistenceFailure(moduleName, "failed to list batches", err)
	}
	return summaries, nil
}

// Cleanup removes terminal batches older than daysOld days, together with
// their jobs and progress rows. Active batches are never touched. Per-batch
// failures are aggregated; the returned count covers what was removed.
func (c *BatchController) Cleanup(ctx context.Context, daysOld int) (int, error) {
	if daysOld < 0 {
		return 0, exception.NewInvalidConfigError(moduleName, "daysOld must not be negative", nil)
	}
	cutoff := time.Now().AddDate(0, 0, -daysOld)

	ids, err := c.repo.FindCleanupCandidates(ctx, cutoff)
	if err != nil {
		return 0, exception.NewPersistenceFailure(moduleName, "failed to find cleanup candidates", err)
	}

	var removed int
	var merr *multierror.Error
	for _, id := range ids {
		if err := c.repo.DeleteBatch(ctx, id); err != nil {
			merr = multierror.Append(merr, exception.NewPersistenceFailure(moduleName, "failed to delete batch "+id, err))
			continue
		}
		c.registry.Deregister(id)
		c.tracker.Untrack(id)
		removed++
	}
	if removed > 0 {
		logger.Infof("Cleanup removed %d terminal batches older than %d days.", removed, daysOld)
	}
	return removed, merr.ErrorOrNil()
}

// Recover rebuilds the registry from the persisted non-terminal batches after
// a restart. Jobs left RUNNING or RETRYING by a crash are requeued to PENDING
// with their retry counts preserved, and batches that were RUNNING resume
// automatically.
func (c *BatchController) Recover(ctx context.Context) error {
	batches, err := c.repo.FindNonTerminalBatches(ctx)
	if err != nil {
		return exception.NewPersistenceFailure(moduleName, "failed to load non-terminal batches", err)
	}

	var merr *multierror.Error
	for _, batch := range batches {
		requeued, err := c.repo.RequeueInterruptedJobs(ctx, batch.ID)
		if err != nil {
			merr = multierror.Append(merr, exception.NewPersistenceFailure(moduleName, "failed to requeue jobs of batch "+batch.ID, err))
			continue
		}
		if requeued > 0 {
			logger.Infof("Recovery requeued %d interrupted jobs of batch %s.", requeued, batch.ID)
		}

		c.registry.Register(batch)
		c.seedTracker(ctx, batch)

		if batch.Status == model.BatchStatusRunning {
			c.spawnRun(batch)
			logger.Infof("Recovery resumed batch %s.", batch.ID)
		}
	}
	logger.Infof("Recovery rebuilt registry with %d active batches.", len(batches))
	return merr.ErrorOrNil()
}

// Shutdown stops dispatching and joins every outstanding background run.
// In-flight jobs finish their current attempt before the runs return.
func (c *BatchController) Shutdown(ctx context.Context) error {
	handles := c.registry.ActiveRunHandles()
	for _, h := range handles {
		h.Cancel()
	}

	var merr *multierror.Error
	for _, h := range handles {
		select {
		case <-h.Done:
		case <-ctx.Done():
			merr = multierror.Append(merr, exception.NewInternalError(moduleName, "shutdown deadline reached before all runs finished", ctx.Err()))
			return merr.ErrorOrNil()
		}
	}
	logger.Infof("Shutdown joined %d batch runs.", len(handles))
	return merr.ErrorOrNil()
}

// spawnRun launches the managed background run of a batch and arranges
// registry and tracker cleanup when it returns.
func (c *BatchController) spawnRun(batch *model.Batch) {
	runCtx, cancel := context.WithCancel(context.Background())
	handle := reg.NewRunHandle(cancel)
	c.registry.SetRunHandle(batch.ID, handle)

	go func() {
		defer close(handle.Done)
		defer cancel()

		if err := c.scheduler.Run(runCtx, batch); err != nil {
			logger.Errorf("Batch %s: run finished with error: %v", batch.ID, err)
		}
		c.registry.ClearRunHandle(batch.ID)

		// The scheduler never writes CANCELLED itself, so a batch cancelled
		// mid-run still reads RUNNING on the local copy. The registry entry
		// carries the status Cancel persisted.
		status := batch.Status
		if cached, ok := c.registry.Get(batch.ID); ok {
			status = cached.Status
		}
		if status.IsTerminal() {
			c.registry.Deregister(batch.ID)
			c.tracker.Untrack(batch.ID)
		}
	}()
}

// seedTracker primes the progress tally of a batch, including the execution
// times of jobs that were already terminal before this activation.
func (c *BatchController) seedTracker(ctx context.Context, batch *model.Batch) {
	jobs, err := c.repo.FindJobsByBatch(ctx, batch.ID)
	if err != nil {
		logger.Warnf("Batch %s: could not seed progress tally: %v", batch.ID, err)
		c.tracker.Track(batch, nil)
		return
	}
	terminal := make([]*model.Job, 0, len(jobs))
	for _, job := range jobs {
		if job.Status.IsTerminal() {
			terminal = append(terminal, job)
		}
	}
	c.tracker.Track(batch, terminal)
}

// applySkippedCounter folds a bulk skip into the persisted batch counters.
func (c *BatchController) applySkippedCounter(ctx context.Context, batchID string, skipped int) error {
	var lastErr error
	for attempt := 0; attempt < counterUpdateAttempts; attempt++ {
		batch, err := c.repo.FindBatchByID(ctx, batchID)
		if err != nil {
			return err
		}
		batch.SkippedJobs += skipped
		if err := c.repo.UpdateBatch(ctx, batch); err != nil {
			if exception.IsOptimisticLock(err) {
				lastErr = err
				continue
			}
			return err
		}
		c.registry.Update(batch)
		return nil
	}
	return exception.NewPersistenceFailure(moduleName, "skipped counter update lost the version race repeatedly", lastErr)
}

// asLookupError maps repository not-found sentinels to the NotFound kind.
func (c *BatchController) asLookupError(batchID string, err error) error {
	if errors.Is(err, repository.ErrBatchNotFound) {
		return exception.NewNotFoundError(moduleName, "batch %s not found", batchID)
	}
	return exception.NewPersistenceFailure(moduleName, "failed to load batch "+batchID, err)
}
