// Package sqlite provides a GORM DBProvider implementation for SQLite databases.
package sqlite

import (
	"errors"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/tidewave/riptide/pkg/batch/adapter/database"
	dbconfig "github.com/tidewave/riptide/pkg/batch/adapter/database/config"
	gormadapter "github.com/tidewave/riptide/pkg/batch/adapter/database/gorm"
	"github.com/tidewave/riptide/pkg/batch/core/config"
)

// init registers the SQLite dialector factory with the GORM adapter.
// It allows the `gormadapter` to create SQLite-specific `gorm.Dialector`
// instances from the provided `dbconfig.DatabaseConfig`.
func init() {
	gormadapter.RegisterDialector("sqlite", func(cfg dbconfig.DatabaseConfig) (gorm.Dialector, error) {
		if cfg.Database == "" {
			return nil, errors.New("SQLite database path cannot be empty")
		}
		p := &SQLiteDBProvider{}
		return sqlite.Open(p.ConnectionString(cfg)), nil
	})
}

// SQLiteDBProvider implements database.DBProvider for SQLite connections.
type SQLiteDBProvider struct {
	*gormadapter.BaseProvider
}

// ConnectionString generates the DSN (Data Source Name) for SQLite connections.
func (p *SQLiteDBProvider) ConnectionString(c dbconfig.DatabaseConfig) string {
	// The GORM SQLite dialector expects the file path directly.
	return c.Database
}

// NewProvider creates a new `database.DBProvider` for SQLite.
// This function is intended to be used with `fx.Provide`.
func NewProvider(cfg *config.Config) database.DBProvider {
	return &SQLiteDBProvider{BaseProvider: gormadapter.NewBaseProvider(cfg, "sqlite")}
}
