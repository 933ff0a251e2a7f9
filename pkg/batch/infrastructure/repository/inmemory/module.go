package inmemory

import (
	"go.uber.org/fx"

	repository "github.com/tidewave/riptide/pkg/batch/core/domain/repository"
)

// Module exports the in-memory repository for dependency injection.
// It is an alternative to the SQL repository module; wire exactly one.
var Module = fx.Options(
	fx.Provide(fx.Annotate(
		NewInMemoryBatchRepository,
		fx.As(new(repository.BatchRepository)),
	)),
)
