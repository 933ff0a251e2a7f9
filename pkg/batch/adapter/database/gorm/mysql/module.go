package mysql

import (
	"go.uber.org/fx"

	"github.com/tidewave/riptide/pkg/batch/adapter/database"
)

// Module exports the MySQL DBProvider for dependency injection.
var Module = fx.Options(
	fx.Provide(
		fx.Annotate(
			NewProvider,
			fx.As(new(database.DBProvider)),
			fx.ResultTags(database.DBProviderGroup),
		),
	),
)
