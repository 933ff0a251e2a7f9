package registry

import "go.uber.org/fx"

// Module is an Fx module that provides the batch registry.
var Module = fx.Options(
	fx.Provide(NewBatchRegistry),
)
