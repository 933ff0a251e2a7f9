package scheduler

import "go.uber.org/fx"

// Module is an Fx module that provides the batch scheduler.
var Module = fx.Options(
	fx.Provide(NewScheduler),
)
