package metrics

import (
	"go.uber.org/fx"
)

// Module is an Fx module that provides no-op metrics components.
// Applications wanting real observability wire the infrastructure metrics
// module instead; the two are mutually exclusive in one Fx graph.
var Module = fx.Options(
	fx.Provide(NewNoOpMetricRecorder),
	fx.Provide(NewNoOpTracer),
)
