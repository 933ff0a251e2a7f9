package gorm

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
	gorm_logger "gorm.io/gorm/logger"

	"github.com/tidewave/riptide/pkg/batch/adapter/database"
	dbconfig "github.com/tidewave/riptide/pkg/batch/adapter/database/config"
	"github.com/tidewave/riptide/pkg/batch/support/util/logger"
)

// NewGormLogger creates a gorm.Logger instance based on the configured log level.
func NewGormLogger(level string) gorm_logger.Interface {
	var gormLevel gorm_logger.LogLevel
	switch strings.ToUpper(level) {
	case "ERROR":
		gormLevel = gorm_logger.Error
	case "WARN":
		gormLevel = gorm_logger.Warn
	case "INFO", "DEBUG":
		gormLevel = gorm_logger.Info
	default:
		gormLevel = gorm_logger.Silent
	}

	return gorm_logger.New(
		NewGormWriter(),
		gorm_logger.Config{
			SlowThreshold:             200 * time.Millisecond,
			LogLevel:                  gormLevel,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
}

// GormWriter is an io.Writer that redirects GORM log output to riptide's logger.
type GormWriter struct{}

// NewGormWriter creates a new instance of GormWriter.
func NewGormWriter() *GormWriter {
	return &GormWriter{}
}

// Write implements io.Writer.
func (w *GormWriter) Write(p []byte) (n int, err error) {
	w.Printf("%s", string(p))
	return len(p), nil
}

// Printf implements gorm_logger.Writer.
func (w *GormWriter) Printf(format string, v ...interface{}) {
	msg := strings.TrimSpace(fmt.Sprintf(format, v...))
	// SQL statement traces are DEBUG, everything else (connection info, warnings) INFO.
	if strings.Contains(msg, "SELECT") || strings.Contains(msg, "INSERT") || strings.Contains(msg, "UPDATE") || strings.Contains(msg, "DELETE") {
		logger.Debugf("[GORM] %s", msg)
	} else {
		logger.Infof("[GORM] %s", msg)
	}
}

// GormDBAdapter implements database.DBConnection on top of a *gorm.DB.
// Statements are issued as raw parameterized SQL; GORM contributes connection
// management, scanning, and dialect handling.
type GormDBAdapter struct {
	db     *gorm.DB
	sqlDB  *sql.DB
	cfg    dbconfig.DatabaseConfig
	dbType string
	name   string
}

// NewGormDBAdapter creates a new GormDBAdapter.
func NewGormDBAdapter(db *gorm.DB, cfg dbconfig.DatabaseConfig, name string) database.DBConnection {
	sqlDB, err := db.DB()
	if err != nil {
		logger.Fatalf("Failed to get underlying *sql.DB: %v", err)
	}

	return &GormDBAdapter{
		db:     db,
		sqlDB:  sqlDB,
		cfg:    cfg,
		dbType: cfg.Type,
		name:   name,
	}
}

func (a *GormDBAdapter) Close() error {
	if a.sqlDB != nil {
		logger.Infof("Closing database connection '%s'...", a.name)
		return a.sqlDB.Close()
	}
	return nil
}

func (a *GormDBAdapter) Type() string {
	return a.dbType
}

func (a *GormDBAdapter) Name() string {
	return a.name
}

// RefreshConnection implements database.DBConnection.
func (a *GormDBAdapter) RefreshConnection(ctx context.Context) error {
	if a.sqlDB == nil {
		return fmt.Errorf("database connection is not initialized")
	}
	return a.sqlDB.PingContext(ctx)
}

// Config implements database.DBConnection.
func (a *GormDBAdapter) Config() dbconfig.DatabaseConfig {
	return a.cfg
}

// GetSQLDB implements database.DBConnection.
func (a *GormDBAdapter) GetSQLDB() (*sql.DB, error) {
	if a.sqlDB == nil {
		return nil, fmt.Errorf("underlying sql.DB is nil")
	}
	return a.sqlDB, nil
}

// Execute implements database.DBExecutor.
func (a *GormDBAdapter) Execute(ctx context.Context, query string, args ...interface{}) (int64, error) {
	result := a.db.WithContext(ctx).Exec(query, args...)
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}

// FetchOne implements database.DBExecutor.
func (a *GormDBAdapter) FetchOne(ctx context.Context, dest interface{}, query string, args ...interface{}) (bool, error) {
	return fetchOne(a.db.WithContext(ctx), dest, query, args...)
}

// FetchAll implements database.DBExecutor.
func (a *GormDBAdapter) FetchAll(ctx context.Context, dest interface{}, query string, args ...interface{}) error {
	return a.db.WithContext(ctx).Raw(query, args...).Scan(dest).Error
}

// Transaction implements database.DBConnection.
func (a *GormDBAdapter) Transaction(ctx context.Context, fn func(tx database.DBExecutor) error) error {
	return a.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&gormTxExecutor{tx: tx})
	})
}

// gormTxExecutor is the DBExecutor handed to Transaction callbacks.
// It shares the statement semantics of the adapter but runs on the transaction handle.
type gormTxExecutor struct {
	tx *gorm.DB
}

func (e *gormTxExecutor) Execute(ctx context.Context, query string, args ...interface{}) (int64, error) {
	result := e.tx.WithContext(ctx).Exec(query, args...)
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}

func (e *gormTxExecutor) FetchOne(ctx context.Context, dest interface{}, query string, args ...interface{}) (bool, error) {
	return fetchOne(e.tx.WithContext(ctx), dest, query, args...)
}

func (e *gormTxExecutor) FetchAll(ctx context.Context, dest interface{}, query string, args ...interface{}) error {
	return e.tx.WithContext(ctx).Raw(query, args...).Scan(dest).Error
}

// fetchOne scans the first row into dest. Raw().Scan does not report
// gorm.ErrRecordNotFound for struct targets, so presence is derived from the
// affected row count.
func fetchOne(db *gorm.DB, dest interface{}, query string, args ...interface{}) (bool, error) {
	result := db.Raw(query, args...).Scan(dest)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

var _ database.DBConnection = (*GormDBAdapter)(nil)
var _ database.DBExecutor = (*gormTxExecutor)(nil)
