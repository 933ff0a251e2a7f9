package task

import (
	"go.uber.org/fx"

	port "github.com/tidewave/riptide/pkg/batch/core/port"
)

// Module exports the demo task executor for dependency injection.
var Module = fx.Options(
	fx.Provide(fx.Annotate(
		NewDemoTaskExecutor,
		fx.As(new(port.TaskExecutor)),
	)),
)
