package controller

import (
	"go.uber.org/fx"

	port "github.com/tidewave/riptide/pkg/batch/core/port"
)

// Module is an Fx module that provides the batch controller and the counter
// listener that folds terminal job events back into batch state.
var Module = fx.Options(
	fx.Provide(NewBatchController),
	fx.Provide(fx.Annotate(
		NewBatchCounterListener,
		fx.As(new(port.JobExecutionListener)),
		fx.ResultTags(`group:"jobListeners"`),
	)),
)
