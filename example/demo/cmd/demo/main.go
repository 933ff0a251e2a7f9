package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "embed"

	"go.uber.org/fx"

	"github.com/tidewave/riptide/pkg/batch/adapter/database"
	controller "github.com/tidewave/riptide/pkg/batch/controller"
	model "github.com/tidewave/riptide/pkg/batch/core/domain/model"
	sqlrepo "github.com/tidewave/riptide/pkg/batch/infrastructure/repository/sql"
	"github.com/tidewave/riptide/pkg/batch/support/util/logger"
)

// embeddedConfig holds the content of the application's YAML configuration file.
//
//go:embed resources/application.yaml
var embeddedConfig []byte

const pollingInterval = 500 * time.Millisecond

// demoInputs is the submission the demo drives through the engine. One item
// always fails to show the retry and failure paths; the rest complete.
func demoInputs() ([]model.Payload, map[int]int) {
	inputs := []model.Payload{
		{"item": "alpha", "work_ms": 200},
		{"item": "bravo", "work_ms": 150},
		{"item": "charlie", "work_ms": 100, "fail": true},
		{"item": "delta", "work_ms": 250},
		{"item": "echo", "work_ms": 50},
	}
	priorities := map[int]int{
		3: 5, // delta jumps the queue
		4: 1,
	}
	return inputs, priorities
}

// startDemoBatch is an Fx Hook helper that runs the demo flow on startup:
// migrate the schema, recover any interrupted batches, then submit, start and
// monitor one batch before requesting shutdown.
func startDemoBatch(
	lc fx.Lifecycle,
	shutdowner fx.Shutdowner,
	ctrl *controller.BatchController,
	dbResolver database.DBConnectionResolver,
	appCtx context.Context,
) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			conn, err := dbResolver.ResolveDBConnection(ctx, sqlrepo.DefaultConnectionName)
			if err != nil {
				return err
			}
			if err := sqlrepo.NewMigrator(conn).Up(ctx); err != nil {
				return err
			}
			if err := ctrl.Recover(ctx); err != nil {
				logger.Warnf("Recovery reported errors: %v", err)
			}

			go runDemoBatch(appCtx, ctrl, shutdowner)
			return nil
		},
		OnStop: func(ctx context.Context) error {
			if err := ctrl.Shutdown(ctx); err != nil {
				logger.Warnf("Shutdown reported errors: %v", err)
			}
			logger.Infof("Application is shutting down.")
			return nil
		},
	})
}

// runDemoBatch drives one batch from submission to terminal state.
func runDemoBatch(appCtx context.Context, ctrl *controller.BatchController, shutdowner fx.Shutdowner) {
	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("Panic recovered in demo batch: %v", r)
		}
		logger.Infof("Requesting application shutdown after batch completion.")
		if err := shutdowner.Shutdown(); err != nil {
			logger.Errorf("Failed to shutdown application: %v", err)
		}
	}()

	inputs, priorities := demoInputs()
	batchID, err := ctrl.Create(appCtx, "demo-batch", "demo-workflow", inputs, nil, priorities)
	if err != nil {
		logger.Errorf("Failed to create batch: %v", err)
		return
	}
	logger.Infof("Created batch %s with %d jobs.", batchID, len(inputs))

	if _, err := ctrl.Start(appCtx, batchID); err != nil {
		logger.Errorf("Failed to start batch %s: %v", batchID, err)
		return
	}

	for {
		select {
		case <-appCtx.Done():
			logger.Warnf("Application context cancelled. Cancelling batch %s.", batchID)
			if _, err := ctrl.Cancel(context.Background(), batchID); err != nil {
				logger.Errorf("Failed to cancel batch %s: %v", batchID, err)
			}
			return
		case <-time.After(pollingInterval):
			view, err := ctrl.Status(appCtx, batchID)
			if err != nil {
				logger.Errorf("Failed to fetch status of batch %s: %v", batchID, err)
				continue
			}
			logger.Infof("Batch %s: %s %.1f%% (completed=%d failed=%d skipped=%d)",
				batchID, view.Status, view.Percentage, view.CompletedJobs, view.FailedJobs, view.SkippedJobs)

			if view.Status.IsTerminal() {
				printResults(appCtx, ctrl, batchID)
				return
			}
		}
	}
}

// printResults logs the final per-job outcomes of a terminal batch.
func printResults(ctx context.Context, ctrl *controller.BatchController, batchID string) {
	result, err := ctrl.Results(ctx, batchID, true)
	if err != nil {
		logger.Errorf("Failed to fetch results of batch %s: %v", batchID, err)
		return
	}
	logger.Infof("Batch %s finished with status %s: %d completed, %d failed, %d skipped (avg job time %v).",
		batchID, result.Status, result.CompletedJobs, result.FailedJobs, result.SkippedJobs, result.AvgExecutionTime)
	for _, job := range result.Jobs {
		if job.ErrorMessage != "" {
			logger.Infof("  job %s: %s after %d retries: %s", job.JobID, job.Status, job.RetryCount, job.ErrorMessage)
			continue
		}
		logger.Infof("  job %s: %s in %v", job.JobID, job.Status, job.ExecutionTime)
	}
}

// main is the application entry point.
func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		logger.Warnf("Received signal '%v'. Attempting to stop the batch...", sig)
		cancel()
	}()

	envFilePath := os.Getenv("ENV_FILE_PATH")
	if envFilePath == "" {
		envFilePath = ".env"
	}

	fxApp := fx.New(GetApplicationOptions(ctx, envFilePath, embeddedConfig)...)
	fxApp.Run()
	if fxApp.Err() != nil {
		logger.Fatalf("Application run failed: %v", fxApp.Err())
	}
	os.Exit(0)
}
