package progress

import "go.uber.org/fx"

// Module is an Fx module that provides the progress tracker.
var Module = fx.Options(
	fx.Provide(NewTracker),
)
