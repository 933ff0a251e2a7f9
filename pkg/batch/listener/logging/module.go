package logging

import (
	"go.uber.org/fx"

	port "github.com/tidewave/riptide/pkg/batch/core/port"
)

// Module aggregates the logging listeners provided by this package.
var Module = fx.Options(
	fx.Provide(fx.Annotate(
		NewLoggingBatchListener,
		fx.As(new(port.BatchExecutionListener)),
		fx.ResultTags(`group:"batchListeners"`),
	)),
	fx.Provide(fx.Annotate(
		NewLoggingJobListener,
		fx.As(new(port.JobExecutionListener)),
		fx.ResultTags(`group:"jobListeners"`),
	)),
	fx.Provide(fx.Annotate(
		NewLoggingRetryListener,
		fx.As(new(port.JobRetryListener)),
		fx.ResultTags(`group:"retryListeners"`),
	)),
)
