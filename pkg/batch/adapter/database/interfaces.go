package database

import (
	"context"
	"database/sql"

	dbconfig "github.com/tidewave/riptide/pkg/batch/adapter/database/config"
)

// DBExecutor defines common write and read operations for a database.
// It is implemented by both DBConnection and the executor passed into Transaction,
// so repository code runs unchanged inside and outside a transaction.
type DBExecutor interface {
	// Execute runs a write statement (INSERT, UPDATE, DELETE) with the given
	// arguments and returns the number of affected rows.
	Execute(ctx context.Context, query string, args ...interface{}) (rowsAffected int64, err error)

	// FetchOne scans the first row of a query into dest. The boolean reports
	// whether a row was found; no row is not an error.
	FetchOne(ctx context.Context, dest interface{}, query string, args ...interface{}) (found bool, err error)

	// FetchAll scans every row of a query into dest, which must be a pointer to a slice.
	FetchAll(ctx context.Context, dest interface{}, query string, args ...interface{}) error
}

// DBConnection represents an abstraction of a database connection.
type DBConnection interface {
	DBExecutor

	// Transaction runs fn inside a single database transaction. A non-nil error
	// from fn rolls the transaction back; otherwise it is committed.
	Transaction(ctx context.Context, fn func(tx DBExecutor) error) error

	// Type returns the database type (e.g., "postgres", "sqlite").
	Type() string
	// Name returns the logical connection name.
	Name() string
	// Close releases the underlying connection pool.
	Close() error
	// RefreshConnection forces the re-establishment of the database connection.
	RefreshConnection(ctx context.Context) error
	// Config returns the database configuration associated with this connection.
	Config() dbconfig.DatabaseConfig
	// GetSQLDB returns the underlying *sql.DB connection.
	GetSQLDB() (*sql.DB, error)
}

// DBConnectionResolver resolves the required database connection instance by name.
type DBConnectionResolver interface {
	// ResolveDBConnection resolves a database connection instance by name.
	// This method is responsible for ensuring that the returned connection is
	// valid and re-established if necessary.
	ResolveDBConnection(ctx context.Context, name string) (DBConnection, error)
}

// DBProvider is an interface responsible for providing database connections based on configuration.
type DBProvider interface {
	// GetConnection retrieves a database connection with the specified name.
	GetConnection(name string) (DBConnection, error)
	// CloseAll closes all connections managed by this provider.
	CloseAll() error
	// Type returns the database type handled by this provider.
	Type() string
	// ForceReconnect forces the closure and re-establishment of an existing connection with the specified name.
	ForceReconnect(name string) (DBConnection, error)
}

// DBProviderGroup is an Fx tag used to group all DBProvider implementations.
const DBProviderGroup = `group:"db_providers"`
