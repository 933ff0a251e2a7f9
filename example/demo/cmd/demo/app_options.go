package main

import (
	"context"

	"go.uber.org/fx"

	gormadapter "github.com/tidewave/riptide/pkg/batch/adapter/database/gorm"
	sqlite "github.com/tidewave/riptide/pkg/batch/adapter/database/gorm/sqlite"
	controller "github.com/tidewave/riptide/pkg/batch/controller"
	config "github.com/tidewave/riptide/pkg/batch/core/config"
	registry "github.com/tidewave/riptide/pkg/batch/core/registry"
	progress "github.com/tidewave/riptide/pkg/batch/engine/progress"
	retry "github.com/tidewave/riptide/pkg/batch/engine/retry"
	scheduler "github.com/tidewave/riptide/pkg/batch/engine/scheduler"
	metrics "github.com/tidewave/riptide/pkg/batch/infrastructure/metrics"
	sqlrepo "github.com/tidewave/riptide/pkg/batch/infrastructure/repository/sql"
	logginglistener "github.com/tidewave/riptide/pkg/batch/listener/logging"
	logger "github.com/tidewave/riptide/pkg/batch/support/util/logger"

	task "github.com/tidewave/riptide/example/demo/internal/task"
)

// GetApplicationOptions builds the uber-fx options for the demo application
// and returns them as a slice. The demo runs the full engine against a local
// SQLite database with the Prometheus recorder and OpenTelemetry tracer wired.
func GetApplicationOptions(appCtx context.Context, envFilePath string, embeddedConfig config.EmbeddedConfig) []fx.Option {
	var options []fx.Option

	options = append(options, fx.Supply(
		embeddedConfig,
		fx.Annotate(envFilePath, fx.ResultTags(`name:"envFilePath"`)),
		fx.Annotate(appCtx, fx.As(new(context.Context)), fx.ResultTags(`name:"appCtx"`)),
	))
	options = append(options, logger.Module)
	options = append(options, config.Module)
	options = append(options, metrics.Module)
	options = append(options, registry.Module)
	options = append(options, progress.Module)
	options = append(options, retry.Module)
	options = append(options, scheduler.Module)
	options = append(options, controller.Module)
	options = append(options, logginglistener.Module)
	options = append(options, gormadapter.Module)
	options = append(options, sqlite.Module)
	options = append(options, sqlrepo.Module)
	options = append(options, task.Module)
	options = append(options, fx.Invoke(fx.Annotate(startDemoBatch, fx.ParamTags("", "", "", "", `name:"appCtx"`))))

	return options
}
