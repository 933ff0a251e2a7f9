package sql

import (
	"go.uber.org/fx"

	"github.com/tidewave/riptide/pkg/batch/adapter/database"
	repository "github.com/tidewave/riptide/pkg/batch/core/domain/repository"
)

// DefaultConnectionName is the logical connection the repository binds to
// unless the application wires a different one.
const DefaultConnectionName = "default"

// NewDefaultSQLBatchRepository creates the repository bound to the default connection.
func NewDefaultSQLBatchRepository(dbResolver database.DBConnectionResolver) repository.BatchRepository {
	return NewSQLBatchRepository(dbResolver, DefaultConnectionName)
}

// Module exports the SQL repository for dependency injection.
var Module = fx.Options(
	fx.Provide(NewDefaultSQLBatchRepository),
)
