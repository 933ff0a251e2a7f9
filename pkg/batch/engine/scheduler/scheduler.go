// Package scheduler drives every pending job of a batch to a terminal state
// under the batch's concurrency, priority, timeout, and retry configuration.
package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/fx"
	"golang.org/x/sync/semaphore"

	model "github.com/tidewave/riptide/pkg/batch/core/domain/model"
	"github.com/tidewave/riptide/pkg/batch/core/domain/repository"
	metrics "github.com/tidewave/riptide/pkg/batch/core/metrics"
	port "github.com/tidewave/riptide/pkg/batch/core/port"
	reg "github.com/tidewave/riptide/pkg/batch/core/registry"
	"github.com/tidewave/riptide/pkg/batch/engine/progress"
	"github.com/tidewave/riptide/pkg/batch/engine/retry"
	"github.com/tidewave/riptide/pkg/batch/support/util/exception"
	logger "github.com/tidewave/riptide/pkg/batch/support/util/logger"
)

const moduleName = "scheduler"

// statusUpdateAttempts bounds the reload-and-retry loop around versioned batch updates.
const statusUpdateAttempts = 3

// Params defines the dependencies for NewScheduler.
type Params struct {
	fx.In
	Repo          repository.BatchRepository
	Registry      *reg.BatchRegistry
	Tracker       *progress.Tracker
	PolicyFactory *retry.DefaultRetryPolicyFactory
	Executor      port.TaskExecutor
	Validator     port.Validator `optional:"true"`
	Enricher      port.Enricher  `optional:"true"`
	JobListeners  []port.JobExecutionListener   `group:"jobListeners"`
	BatchListeners []port.BatchExecutionListener `group:"batchListeners"`
	RetryListeners []port.JobRetryListener       `group:"retryListeners"`
	Recorder      metrics.MetricRecorder
	Tracer        metrics.Tracer
}

// Scheduler executes the jobs of one batch at a time under a bounded
// counting semaphore. Semaphore acquisition happens in dispatch order, making
// dispatch deterministic; completion order is unspecified.
type Scheduler struct {
	repo          repository.BatchRepository
	registry      *reg.BatchRegistry
	tracker       *progress.Tracker
	policyFactory *retry.DefaultRetryPolicyFactory
	executor      port.TaskExecutor
	validator     port.Validator
	enricher      port.Enricher
	jobListeners  []port.JobExecutionListener
	batchListeners []port.BatchExecutionListener
	retryListeners []port.JobRetryListener
	recorder      metrics.MetricRecorder
	tracer        metrics.Tracer
}

// NewScheduler creates a new Scheduler.
func NewScheduler(p Params) *Scheduler {
	return &Scheduler{
		repo:           p.Repo,
		registry:       p.Registry,
		tracker:        p.Tracker,
		policyFactory:  p.PolicyFactory,
		executor:       p.Executor,
		validator:      p.Validator,
		enricher:       p.Enricher,
		jobListeners:   p.JobListeners,
		batchListeners: p.BatchListeners,
		retryListeners: p.RetryListeners,
		recorder:       p.Recorder,
		tracer:         p.Tracer,
	}
}

// Run drives every PENDING job of the batch to a terminal state and then
// finalizes the batch. It blocks until dispatch has stopped and all in-flight
// jobs have finished. Cancelling ctx stops further dispatch; jobs already
// dispatched always run to completion.
func (s *Scheduler) Run(ctx context.Context, batch *model.Batch) error {
	cfg := batch.Config
	policy := s.policyFactory.Create(cfg)

	ctx, endSpan := s.tracer.StartBatchSpan(ctx, batch)
	defer endSpan()

	s.recorder.RecordBatchStart(ctx, batch)
	for _, l := range s.batchListeners {
		l.BeforeBatch(ctx, batch)
	}
	defer func() {
		for _, l := range s.batchListeners {
			l.AfterBatch(ctx, batch)
		}
		s.recorder.RecordBatchEnd(ctx, batch)
	}()

	// In-flight jobs survive dispatch cancellation.
	jobCtx := context.WithoutCancel(ctx)

	sem := semaphore.NewWeighted(int64(cfg.MaxConcurrentJobs))
	var wg sync.WaitGroup
	var runErr error

dispatch:
	for {
		if ctx.Err() != nil {
			logger.Infof("Batch %s: dispatch stopped, context done.", batch.ID)
			break dispatch
		}
		if s.registry.IsCancelled(batch.ID) || s.registry.IsPaused(batch.ID) {
			break dispatch
		}

		// ChunkSize bounds how many rows are held in memory per fetch,
		// it is not an execution partition boundary.
		jobs, err := s.repo.FindPendingJobs(ctx, batch.ID, cfg.ChunkSize, cfg.PriorityProcessing)
		if err != nil {
			runErr = exception.NewPersistenceFailure(moduleName, "failed to fetch pending jobs", err)
			break dispatch
		}
		if len(jobs) == 0 {
			break dispatch
		}

		for _, job := range jobs {
			if s.registry.IsCancelled(batch.ID) || s.registry.IsPaused(batch.ID) {
				break dispatch
			}
			if err := sem.Acquire(ctx, 1); err != nil {
				break dispatch
			}
			// A flag raised while blocked on the semaphore must stop this job
			// from dispatching.
			if s.registry.IsCancelled(batch.ID) || s.registry.IsPaused(batch.ID) {
				sem.Release(1)
				break dispatch
			}

			// Persist the RUNNING transition before the job is considered dispatched.
			// This also keeps the next chunk fetch from returning the same row.
			if err := job.MarkAsRunning(); err != nil {
				sem.Release(1)
				runErr = exception.NewInternalError(moduleName, "invalid dispatch transition", err)
				break dispatch
			}
			if err := s.repo.UpdateJob(ctx, job); err != nil {
				sem.Release(1)
				runErr = exception.NewPersistenceFailure(moduleName, "failed to persist job dispatch", err)
				break dispatch
			}

			wg.Add(1)
			go func(job *model.Job) {
				defer wg.Done()
				defer sem.Release(1)
				if err := s.runJob(jobCtx, batch, job, policy); err != nil {
					logger.Errorf("Batch %s: job %s could not be driven to a terminal state: %v", batch.ID, job.ID, err)
					s.tracer.RecordError(jobCtx, moduleName, err)
				}
			}(job)
		}
	}

	wg.Wait()

	if runErr != nil {
		s.tracer.RecordError(ctx, moduleName, runErr)
		if err := s.transitionBatch(jobCtx, batch, model.BatchStatusFailed); err != nil {
			logger.Errorf("Batch %s: failed to persist FAILED status: %v", batch.ID, err)
		}
		return runErr
	}

	if ctx.Err() != nil || s.registry.IsCancelled(batch.ID) || s.registry.IsPaused(batch.ID) {
		// Cancelled and paused batches were already transitioned by the controller;
		// an interrupted run leaves the batch RUNNING for recovery.
		return nil
	}

	return s.finalize(jobCtx, batch)
}

// finalize transitions the batch to COMPLETED once every job is terminal.
// A batch with failed jobs still completes; failures live on the job rows.
func (s *Scheduler) finalize(ctx context.Context, batch *model.Batch) error {
	counts, err := s.repo.CountJobsByStatus(ctx, batch.ID)
	if err != nil {
		return exception.NewPersistenceFailure(moduleName, "failed to count jobs for finalization", err)
	}
	nonTerminal := counts[model.JobStatusPending] + counts[model.JobStatusRunning] + counts[model.JobStatusRetrying]
	if nonTerminal > 0 {
		logger.Warnf("Batch %s: %d jobs still non-terminal after dispatch drained; leaving batch RUNNING.", batch.ID, nonTerminal)
		return nil
	}
	return s.transitionBatch(ctx, batch, model.BatchStatusCompleted)
}

// transitionBatch applies a terminal transition to the batch row with a
// bounded reload-and-retry loop around version conflicts.
func (s *Scheduler) transitionBatch(ctx context.Context, batch *model.Batch, status model.BatchStatus) error {
	var lastErr error
	for attempt := 0; attempt < statusUpdateAttempts; attempt++ {
		current, err := s.repo.FindBatchByID(ctx, batch.ID)
		if err != nil {
			return exception.NewPersistenceFailure(moduleName, "failed to reload batch for transition", err)
		}
		if current.Status.IsTerminal() {
			*batch = *current
			return nil
		}
		var terr error
		switch status {
		case model.BatchStatusCompleted:
			terr = current.MarkAsCompleted()
		case model.BatchStatusFailed:
			terr = current.MarkAsFailed()
		default:
			terr = current.TransitionTo(status)
		}
		if terr != nil {
			return exception.NewInternalError(moduleName, "invalid batch transition", terr)
		}
		if err := s.repo.UpdateBatch(ctx, current); err != nil {
			if exception.IsOptimisticLock(err) {
				lastErr = err
				continue
			}
			return exception.NewPersistenceFailure(moduleName, "failed to persist batch transition", err)
		}
		*batch = *current
		s.registry.Update(current)
		return nil
	}
	return exception.NewPersistenceFailure(moduleName, "batch transition lost the version race repeatedly", lastErr)
}

// runJob executes the per-job pipeline: optional validation, optional
// enrichment, timed execution, and the bounded retry loop. Every state
// transition is persisted before it is considered applied, and exactly one
// terminal event is fanned out per job.
func (s *Scheduler) runJob(ctx context.Context, batch *model.Batch, job *model.Job, policy retry.RetryPolicy) error {
	cfg := batch.Config

	ctx, endSpan := s.tracer.StartJobSpan(ctx, job)
	defer endSpan()

	for _, l := range s.jobListeners {
		l.BeforeJob(ctx, batch, job)
	}
	s.recorder.RecordJobStart(ctx, job)
	terminal := false
	defer func() {
		s.recorder.RecordJobEnd(ctx, job)
		if terminal {
			for _, l := range s.jobListeners {
				l.AfterJob(ctx, batch, job)
			}
		}
	}()

	// Validation happens once, before the first attempt. A rejected input is
	// terminal and the executor is never invoked.
	if cfg.EnableValidation && s.validator != nil {
		verdict, err := s.validator.Validate(ctx, job.WorkflowID, job.Input)
		if err != nil {
			failure := exception.NewValidationFailure(moduleName, "validator failed: "+err.Error(), err)
			if terr := s.persistFailed(ctx, job, failure, 0); terr != nil {
				return terr
			}
			terminal = true
			return nil
		}
		if !verdict.Valid {
			failure := exception.NewValidationFailure(moduleName, "input rejected: "+verdict.Reason, nil)
			if terr := s.persistFailed(ctx, job, failure, 0); terr != nil {
				return terr
			}
			terminal = true
			return nil
		}
	}

	// Bounded retry loop. Never recursion.
	for {
		attemptStart := time.Now()

		input := job.Input
		var execErr error
		if cfg.EnableEnrichment && s.enricher != nil {
			// The enriched payload is used for execution only; the submitted
			// input stays on the job row.
			enriched, err := s.enricher.Enrich(ctx, job.WorkflowID, job.Input)
			if err != nil {
				execErr = exception.NewExecutionFailure(moduleName, "enrichment failed", err)
			} else if enriched != nil {
				input = enriched
			}
		}

		var result model.Payload
		if execErr == nil {
			execCtx, cancel := context.WithTimeout(ctx, cfg.TimeoutPerJob)
			result, execErr = s.executor.Execute(execCtx, job.WorkflowID, input)
			cancel()
			// Every executor failure is an execution failure and subject to the
			// retry policy. Executors that want a different classification must
			// return a BatchError themselves.
			switch {
			case execErr == nil:
			case errors.Is(execErr, context.DeadlineExceeded):
				execErr = exception.NewExecutionFailure(moduleName, "job execution timed out", execErr)
			case !exception.IsBatchError(execErr):
				execErr = exception.NewExecutionFailure(moduleName, "job execution failed: "+execErr.Error(), execErr)
			}
		}
		attemptDuration := time.Since(attemptStart)

		if execErr == nil {
			if err := job.MarkAsCompleted(result, attemptDuration); err != nil {
				return exception.NewInternalError(moduleName, "invalid completion transition", err)
			}
			if err := s.repo.UpdateJob(ctx, job); err != nil {
				return exception.NewPersistenceFailure(moduleName, "failed to persist job completion", err)
			}
			terminal = true
			return nil
		}

		if policy.ShouldRetry(execErr) && job.RetryCount < policy.GetMaxRetries() {
			if err := job.MarkAsRetrying(execErr); err != nil {
				return exception.NewInternalError(moduleName, "invalid retry transition", err)
			}
			if err := s.repo.UpdateJob(ctx, job); err != nil {
				return exception.NewPersistenceFailure(moduleName, "failed to persist retry transition", err)
			}
			s.recorder.RecordJobRetry(ctx, job, exception.ExtractErrorMessage(execErr))
			for _, l := range s.retryListeners {
				l.OnJobRetry(ctx, batch, job, execErr)
			}
			logger.Warnf("Job %s: attempt failed, retry %d/%d in %s: %v",
				job.ID, job.RetryCount, policy.GetMaxRetries(), policy.GetBackoffInterval(job.RetryCount), execErr)

			select {
			case <-time.After(policy.GetBackoffInterval(job.RetryCount)):
			case <-ctx.Done():
			}

			if err := job.MarkAsRunning(); err != nil {
				return exception.NewInternalError(moduleName, "invalid re-dispatch transition", err)
			}
			if err := s.repo.UpdateJob(ctx, job); err != nil {
				return exception.NewPersistenceFailure(moduleName, "failed to persist re-dispatch", err)
			}
			continue
		}

		// Retries exhausted or the failure is not retryable.
		if terr := s.persistFailed(ctx, job, execErr, attemptDuration); terr != nil {
			return terr
		}
		terminal = true
		return nil
	}
}

// persistFailed applies and persists the terminal FAILED transition.
func (s *Scheduler) persistFailed(ctx context.Context, job *model.Job, cause error, attemptDuration time.Duration) error {
	if err := job.MarkAsFailed(cause, attemptDuration); err != nil {
		return exception.NewInternalError(moduleName, "invalid failure transition", err)
	}
	if err := s.repo.UpdateJob(ctx, job); err != nil {
		return exception.NewPersistenceFailure(moduleName, "failed to persist job failure", err)
	}
	return nil
}
