package scheduler_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	controller "github.com/tidewave/riptide/pkg/batch/controller"
	model "github.com/tidewave/riptide/pkg/batch/core/domain/model"
	metrics "github.com/tidewave/riptide/pkg/batch/core/metrics"
	port "github.com/tidewave/riptide/pkg/batch/core/port"
	registry "github.com/tidewave/riptide/pkg/batch/core/registry"
	"github.com/tidewave/riptide/pkg/batch/engine/progress"
	"github.com/tidewave/riptide/pkg/batch/engine/retry"
	"github.com/tidewave/riptide/pkg/batch/engine/scheduler"
	"github.com/tidewave/riptide/pkg/batch/infrastructure/repository/inmemory"
	"github.com/tidewave/riptide/pkg/batch/support/util/exception"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingExecutor records execution order and simulates failures.
type recordingExecutor struct {
	mu       sync.Mutex
	order    []string
	attempts map[string]int
	// failures maps an item to how many attempts should fail before success.
	// A negative count fails every attempt.
	failures map[string]int
	// plainErrors makes simulated failures bare errors instead of classified
	// execution failures.
	plainErrors bool
	// started is signalled once per Execute entry when not nil.
	started chan string
	// proceed blocks Execute until closed when not nil.
	proceed chan struct{}

	inFlight    int
	maxInFlight int
}

func newRecordingExecutor() *recordingExecutor {
	return &recordingExecutor{
		attempts: make(map[string]int),
		failures: make(map[string]int),
	}
}

func (e *recordingExecutor) Execute(ctx context.Context, workflowID string, input model.Payload) (model.Payload, error) {
	item := fmt.Sprintf("%v", input["item"])

	e.mu.Lock()
	e.order = append(e.order, item)
	e.attempts[item]++
	attempt := e.attempts[item]
	remaining := e.failures[item]
	e.inFlight++
	if e.inFlight > e.maxInFlight {
		e.maxInFlight = e.inFlight
	}
	e.mu.Unlock()

	if e.started != nil {
		e.started <- item
	}
	if e.proceed != nil {
		<-e.proceed
	}

	defer func() {
		e.mu.Lock()
		e.inFlight--
		e.mu.Unlock()
	}()

	if remaining < 0 || attempt <= remaining {
		if e.plainErrors {
			return nil, errors.New("plain failure of " + item)
		}
		return nil, exception.NewExecutionFailure("testExecutor", "simulated failure of "+item, nil)
	}
	return model.Payload{"echo": item}, nil
}

func (e *recordingExecutor) executionOrder() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.order...)
}

// recordingJobListener counts terminal events per job.
type recordingJobListener struct {
	mu       sync.Mutex
	afterJob map[string]int
}

func newRecordingJobListener() *recordingJobListener {
	return &recordingJobListener{afterJob: make(map[string]int)}
}

func (l *recordingJobListener) BeforeJob(ctx context.Context, batch *model.Batch, job *model.Job) {}

func (l *recordingJobListener) AfterJob(ctx context.Context, batch *model.Batch, job *model.Job) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.afterJob[job.ID]++
}

// rejectingValidator rejects inputs whose "item" matches the configured value.
type rejectingValidator struct {
	rejectItem string
}

func (v *rejectingValidator) Validate(ctx context.Context, workflowID string, input model.Payload) (port.ValidationResult, error) {
	if fmt.Sprintf("%v", input["item"]) == v.rejectItem {
		return port.ValidationResult{Valid: false, Reason: "item is on the deny list"}, nil
	}
	return port.ValidationResult{Valid: true}, nil
}

type fixture struct {
	repo      *inmemory.InMemoryBatchRepository
	registry  *registry.BatchRegistry
	tracker   *progress.Tracker
	executor  *recordingExecutor
	listener  *recordingJobListener
	scheduler *scheduler.Scheduler
}

func newFixture(executor *recordingExecutor, validator port.Validator) *fixture {
	repo := inmemory.NewInMemoryBatchRepository()
	reg := registry.NewBatchRegistry()
	tracker := progress.NewTracker(repo, reg, metrics.NewNoOpMetricRecorder())
	listener := newRecordingJobListener()
	counter := controller.NewBatchCounterListener(repo, reg, tracker)

	s := scheduler.NewScheduler(scheduler.Params{
		Repo:          repo,
		Registry:      reg,
		Tracker:       tracker,
		PolicyFactory: retry.NewDefaultRetryPolicyFactory(),
		Executor:      executor,
		Validator:     validator,
		JobListeners:  []port.JobExecutionListener{counter, listener},
		Recorder:      metrics.NewNoOpMetricRecorder(),
		Tracer:        metrics.NewNoOpTracer(),
	})
	return &fixture{repo: repo, registry: reg, tracker: tracker, executor: executor, listener: listener, scheduler: s}
}

// newRunningBatch persists a RUNNING batch with one PENDING job per item,
// the way the controller prepares a batch before spawning its run.
func (f *fixture) newRunningBatch(t *testing.T, cfg model.ProcessingConfig, items []string, priorities map[int]int) *model.Batch {
	t.Helper()
	ctx := context.Background()

	batch := model.NewBatch("test-batch", "test-workflow", cfg, nil)
	batch.TotalJobs = len(items)
	jobs := make([]*model.Job, 0, len(items))
	for i, item := range items {
		jobs = append(jobs, model.NewJob(batch, i, model.Payload{"item": item}, priorities[i]))
	}
	require.NoError(t, f.repo.SaveBatch(ctx, batch, jobs))
	require.NoError(t, batch.MarkAsRunning())
	require.NoError(t, f.repo.UpdateBatch(ctx, batch))

	f.registry.Register(batch)
	f.tracker.Track(batch, nil)
	return batch
}

func quickConfig() model.ProcessingConfig {
	cfg := model.DefaultProcessingConfig()
	cfg.MaxRetries = 0
	cfg.RetryDelay = time.Millisecond
	cfg.TimeoutPerJob = 5 * time.Second
	cfg.EnableValidation = false
	cfg.EnableEnrichment = false
	return cfg
}

func TestScheduler_RunCompletesAllJobs(t *testing.T) {
	f := newFixture(newRecordingExecutor(), nil)
	batch := f.newRunningBatch(t, quickConfig(), []string{"a", "b", "c"}, nil)

	assert.NoError(t, f.scheduler.Run(context.Background(), batch))
	assert.Equal(t, model.BatchStatusCompleted, batch.Status)

	counts, _ := f.repo.CountJobsByStatus(context.Background(), batch.ID)
	assert.Equal(t, 3, counts[model.JobStatusCompleted])

	persisted, _ := f.repo.FindBatchByID(context.Background(), batch.ID)
	assert.Equal(t, model.BatchStatusCompleted, persisted.Status)
	assert.Equal(t, 3, persisted.CompletedJobs)
	assert.NotNil(t, persisted.CompletedAt)

	// Results and final-attempt durations are on the job rows.
	jobs, _ := f.repo.FindJobsByBatch(context.Background(), batch.ID)
	for _, job := range jobs {
		assert.Equal(t, model.JobStatusCompleted, job.Status)
		assert.NotNil(t, job.Result)
	}

	// Exactly one terminal event per job.
	for _, job := range jobs {
		assert.Equal(t, 1, f.listener.afterJob[job.ID], "job %s", job.ID)
	}
}

func TestScheduler_PriorityOrdering(t *testing.T) {
	executor := newRecordingExecutor()
	f := newFixture(executor, nil)

	cfg := quickConfig()
	cfg.MaxConcurrentJobs = 1
	cfg.ChunkSize = 1
	cfg.PriorityProcessing = true

	// Priorities 5,1,5,3: the two fives dispatch first in submission order,
	// then 3, then 1.
	batch := f.newRunningBatch(t, cfg, []string{"p5a", "p1", "p5b", "p3"},
		map[int]int{0: 5, 1: 1, 2: 5, 3: 3})

	assert.NoError(t, f.scheduler.Run(context.Background(), batch))
	assert.Equal(t, []string{"p5a", "p5b", "p3", "p1"}, executor.executionOrder())
}

func TestScheduler_SubmissionOrderWithoutPriorities(t *testing.T) {
	executor := newRecordingExecutor()
	f := newFixture(executor, nil)

	cfg := quickConfig()
	cfg.MaxConcurrentJobs = 1
	cfg.ChunkSize = 2
	cfg.PriorityProcessing = false

	batch := f.newRunningBatch(t, cfg, []string{"a", "b", "c", "d"}, map[int]int{1: 9})

	assert.NoError(t, f.scheduler.Run(context.Background(), batch))
	assert.Equal(t, []string{"a", "b", "c", "d"}, executor.executionOrder())
}

func TestScheduler_MaxConcurrencyIsRespected(t *testing.T) {
	executor := newRecordingExecutor()
	f := newFixture(executor, nil)

	cfg := quickConfig()
	cfg.MaxConcurrentJobs = 2

	batch := f.newRunningBatch(t, cfg, []string{"a", "b", "c", "d", "e"}, nil)

	assert.NoError(t, f.scheduler.Run(context.Background(), batch))
	assert.LessOrEqual(t, executor.maxInFlight, 2)
	assert.Equal(t, model.BatchStatusCompleted, batch.Status)
}

func TestScheduler_RetryThenSuccess(t *testing.T) {
	executor := newRecordingExecutor()
	executor.failures["flaky"] = 1
	f := newFixture(executor, nil)

	cfg := quickConfig()
	cfg.MaxRetries = 2

	batch := f.newRunningBatch(t, cfg, []string{"flaky", "solid"}, nil)

	assert.NoError(t, f.scheduler.Run(context.Background(), batch))
	assert.Equal(t, model.BatchStatusCompleted, batch.Status)

	jobs, _ := f.repo.FindJobsByBatch(context.Background(), batch.ID)
	flaky := jobs[0]
	assert.Equal(t, model.JobStatusCompleted, flaky.Status)
	assert.Equal(t, 1, flaky.RetryCount)
	assert.Empty(t, flaky.ErrorMessage)
	assert.Equal(t, 2, executor.attempts["flaky"])
	assert.Equal(t, 1, executor.attempts["solid"])
}

func TestScheduler_RetriesExhaustedFailsJobNotBatch(t *testing.T) {
	executor := newRecordingExecutor()
	executor.failures["doomed"] = -1
	f := newFixture(executor, nil)

	cfg := quickConfig()
	cfg.MaxRetries = 1

	batch := f.newRunningBatch(t, cfg, []string{"a", "doomed", "b"}, nil)

	assert.NoError(t, f.scheduler.Run(context.Background(), batch))

	// A batch with failed jobs still completes; failures live on the job rows.
	assert.Equal(t, model.BatchStatusCompleted, batch.Status)

	jobs, _ := f.repo.FindJobsByBatch(context.Background(), batch.ID)
	doomed := jobs[1]
	assert.Equal(t, model.JobStatusFailed, doomed.Status)
	assert.Equal(t, 1, doomed.RetryCount)
	assert.Contains(t, doomed.ErrorMessage, "doomed")
	assert.Equal(t, 2, executor.attempts["doomed"]) // first attempt + one retry

	persisted, _ := f.repo.FindBatchByID(context.Background(), batch.ID)
	assert.Equal(t, 2, persisted.CompletedJobs)
	assert.Equal(t, 1, persisted.FailedJobs)

	// Exactly one terminal event, even through the retry loop.
	assert.Equal(t, 1, f.listener.afterJob[doomed.ID])
}

func TestScheduler_UnclassifiedExecutorErrorIsRetried(t *testing.T) {
	executor := newRecordingExecutor()
	executor.plainErrors = true
	executor.failures["flaky"] = 1
	executor.failures["doomed"] = -1
	f := newFixture(executor, nil)

	cfg := quickConfig()
	cfg.MaxRetries = 1

	batch := f.newRunningBatch(t, cfg, []string{"flaky", "doomed"}, nil)

	assert.NoError(t, f.scheduler.Run(context.Background(), batch))
	assert.Equal(t, model.BatchStatusCompleted, batch.Status)

	jobs, _ := f.repo.FindJobsByBatch(context.Background(), batch.ID)
	flaky, doomed := jobs[0], jobs[1]

	// A bare executor error is an execution failure and runs through the
	// retry policy like any other.
	assert.Equal(t, model.JobStatusCompleted, flaky.Status)
	assert.Equal(t, 1, flaky.RetryCount)
	assert.Equal(t, 2, executor.attempts["flaky"])

	assert.Equal(t, model.JobStatusFailed, doomed.Status)
	assert.Equal(t, 1, doomed.RetryCount)
	assert.Equal(t, 2, executor.attempts["doomed"])
	assert.Contains(t, doomed.ErrorMessage, "plain failure of doomed")
}

func TestScheduler_ValidationFailureIsTerminalWithoutExecution(t *testing.T) {
	executor := newRecordingExecutor()
	f := newFixture(executor, &rejectingValidator{rejectItem: "bad"})

	cfg := quickConfig()
	cfg.EnableValidation = true
	cfg.MaxRetries = 3

	batch := f.newRunningBatch(t, cfg, []string{"good", "bad"}, nil)

	assert.NoError(t, f.scheduler.Run(context.Background(), batch))
	assert.Equal(t, model.BatchStatusCompleted, batch.Status)

	jobs, _ := f.repo.FindJobsByBatch(context.Background(), batch.ID)
	bad := jobs[1]
	assert.Equal(t, model.JobStatusFailed, bad.Status)
	// Never retried and never executed.
	assert.Equal(t, 0, bad.RetryCount)
	assert.Contains(t, bad.ErrorMessage, "deny list")
	assert.Zero(t, executor.attempts["bad"])
	assert.Equal(t, 1, executor.attempts["good"])
}

func TestScheduler_CancellationStopsDispatchButFinishesInFlight(t *testing.T) {
	executor := newRecordingExecutor()
	executor.started = make(chan string, 1)
	executor.proceed = make(chan struct{})
	f := newFixture(executor, nil)

	cfg := quickConfig()
	cfg.MaxConcurrentJobs = 1
	cfg.ChunkSize = 1

	batch := f.newRunningBatch(t, cfg, []string{"first", "second", "third"}, nil)

	done := make(chan error, 1)
	go func() { done <- f.scheduler.Run(context.Background(), batch) }()

	// Wait until the first job is in flight, then cancel the batch.
	<-executor.started
	f.registry.SetCancelled(batch.ID)
	close(executor.proceed)

	assert.NoError(t, <-done)

	jobs, _ := f.repo.FindJobsByBatch(context.Background(), batch.ID)
	// The in-flight job ran to completion.
	assert.Equal(t, model.JobStatusCompleted, jobs[0].Status)
	// The rest were never dispatched; skipping them is the controller's job.
	assert.Equal(t, model.JobStatusPending, jobs[1].Status)
	assert.Equal(t, model.JobStatusPending, jobs[2].Status)

	// The scheduler does not touch the batch status of a cancelled run.
	persisted, _ := f.repo.FindBatchByID(context.Background(), batch.ID)
	assert.Equal(t, model.BatchStatusRunning, persisted.Status)
}

func TestScheduler_PauseStopsDispatch(t *testing.T) {
	executor := newRecordingExecutor()
	f := newFixture(executor, nil)

	cfg := quickConfig()
	batch := f.newRunningBatch(t, cfg, []string{"a", "b"}, nil)
	f.registry.SetPaused(batch.ID, true)

	assert.NoError(t, f.scheduler.Run(context.Background(), batch))

	// Nothing dispatched, nothing finalized.
	assert.Empty(t, executor.executionOrder())
	persisted, _ := f.repo.FindBatchByID(context.Background(), batch.ID)
	assert.Equal(t, model.BatchStatusRunning, persisted.Status)
	counts, _ := f.repo.CountJobsByStatus(context.Background(), batch.ID)
	assert.Equal(t, 2, counts[model.JobStatusPending])
}

func TestScheduler_ContextCancelLeavesBatchRunning(t *testing.T) {
	executor := newRecordingExecutor()
	f := newFixture(executor, nil)

	batch := f.newRunningBatch(t, quickConfig(), []string{"a"}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.NoError(t, f.scheduler.Run(ctx, batch))

	// An interrupted run leaves the batch RUNNING for recovery.
	persisted, _ := f.repo.FindBatchByID(context.Background(), batch.ID)
	assert.Equal(t, model.BatchStatusRunning, persisted.Status)
}

func TestScheduler_ExecutorTimeoutIsRetryable(t *testing.T) {
	slow := &slowExecutor{delay: 200 * time.Millisecond}
	repo := inmemory.NewInMemoryBatchRepository()
	reg := registry.NewBatchRegistry()
	tracker := progress.NewTracker(repo, reg, metrics.NewNoOpMetricRecorder())
	counter := controller.NewBatchCounterListener(repo, reg, tracker)

	s := scheduler.NewScheduler(scheduler.Params{
		Repo:          repo,
		Registry:      reg,
		Tracker:       tracker,
		PolicyFactory: retry.NewDefaultRetryPolicyFactory(),
		Executor:      slow,
		JobListeners:  []port.JobExecutionListener{counter},
		Recorder:      metrics.NewNoOpMetricRecorder(),
		Tracer:        metrics.NewNoOpTracer(),
	})

	cfg := quickConfig()
	cfg.TimeoutPerJob = 20 * time.Millisecond
	cfg.MaxRetries = 1

	ctx := context.Background()
	batch := model.NewBatch("test-batch", "test-workflow", cfg, nil)
	batch.TotalJobs = 1
	job := model.NewJob(batch, 0, model.Payload{"item": "slow"}, 0)
	require.NoError(t, repo.SaveBatch(ctx, batch, []*model.Job{job}))
	require.NoError(t, batch.MarkAsRunning())
	require.NoError(t, repo.UpdateBatch(ctx, batch))
	reg.Register(batch)
	tracker.Track(batch, nil)

	assert.NoError(t, s.Run(ctx, batch))

	got, _ := repo.FindJobByID(ctx, job.ID)
	assert.Equal(t, model.JobStatusFailed, got.Status)
	assert.Equal(t, 1, got.RetryCount)
	assert.Contains(t, got.ErrorMessage, "timed out")
}

// slowExecutor honors the per-job timeout by waiting on the context.
type slowExecutor struct {
	delay time.Duration
}

func (e *slowExecutor) Execute(ctx context.Context, workflowID string, input model.Payload) (model.Payload, error) {
	select {
	case <-time.After(e.delay):
		return model.Payload{}, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("interrupted: %w", ctx.Err())
	}
}
