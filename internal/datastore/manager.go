// Package datastore owns the gorm connection, the schema, transactional retry
// and the job progress documents of vocabstats.
package datastore

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/lexitally/vocabstats/internal/conf"
	"github.com/lexitally/vocabstats/internal/datastore/entities"
	"github.com/lexitally/vocabstats/internal/logger"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// Manager defines the interface for database lifecycle operations.
type Manager interface {
	// Initialize creates the schema and seeds the job progress rows.
	Initialize(ctx context.Context) error
	// DB returns the underlying GORM database.
	DB() *gorm.DB
	// Path returns the database location (file path for SQLite, host/database for MySQL).
	Path() string
	// Close closes the database connection.
	Close() error
	// IsMySQL returns true if this is a MySQL manager.
	IsMySQL() bool
}

// Config holds database configuration for the SQLite manager.
type Config struct {
	// Path is the SQLite database file.
	Path string
	// Logger receives GORM query logs. Nil discards them.
	Logger logger.Logger
	// SlowQueryThreshold marks queries logged at warn level.
	SlowQueryThreshold time.Duration
}

// SQLiteManager handles the SQLite record store.
type SQLiteManager struct {
	db     *gorm.DB
	dbPath string
}

// NewSQLiteManager opens (and creates if needed) the SQLite database at cfg.Path.
func NewSQLiteManager(cfg Config) (*SQLiteManager, error) {
	if cfg.Path == "" {
		return nil, validationError("sqlite path is required", "database.sqlite.path", cfg.Path)
	}
	if dir := filepath.Dir(cfg.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, dbError(err, "create_data_dir", "", "path", dir)
		}
	}

	// WAL for concurrent readers; immediate transactions so read-modify-write
	// transactions take the write lock up front and wait on busy_timeout.
	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=ON&_txlock=immediate", cfg.Path)

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormLogger(cfg.Logger, cfg.SlowQueryThreshold),
	})
	if err != nil {
		return nil, dbError(err, "open_sqlite", "", "path", cfg.Path)
	}

	return &SQLiteManager{
		db:     db,
		dbPath: cfg.Path,
	}, nil
}

// Initialize creates the schema and seeds the job progress rows.
func (m *SQLiteManager) Initialize(ctx context.Context) error {
	return initializeSchema(ctx, m.db)
}

// DB returns the underlying GORM database.
func (m *SQLiteManager) DB() *gorm.DB {
	return m.db
}

// Path returns the database file path.
func (m *SQLiteManager) Path() string {
	return m.dbPath
}

// Close closes the database connection.
func (m *SQLiteManager) Close() error {
	sqlDB, err := m.db.DB()
	if err != nil {
		return fmt.Errorf("failed to get underlying database: %w", err)
	}
	return sqlDB.Close()
}

// IsMySQL returns false for SQLite.
func (m *SQLiteManager) IsMySQL() bool {
	return false
}

// NewManager opens the store selected by settings.Type.
func NewManager(settings *conf.DatabaseSettings, log logger.Logger, slowQueryThreshold time.Duration) (Manager, error) {
	switch settings.Type {
	case conf.DatabaseTypeSQLite:
		return NewSQLiteManager(Config{
			Path:               settings.SQLite.Path,
			Logger:             log,
			SlowQueryThreshold: slowQueryThreshold,
		})
	case conf.DatabaseTypeMySQL:
		return NewMySQLManager(&MySQLConfig{
			Host:               settings.MySQL.Host,
			Port:               settings.MySQL.Port,
			Username:           settings.MySQL.Username,
			Password:           settings.MySQL.Password,
			Database:           settings.MySQL.Database,
			Logger:             log,
			SlowQueryThreshold: slowQueryThreshold,
		})
	default:
		return nil, validationError("unsupported database type", "database.type", settings.Type)
	}
}

// models lists every table managed by AutoMigrate.
func models() []any {
	return []any{
		&entities.Word{},
		&entities.Analysis{},
		&entities.AnalysisMember{},
		&entities.Learner{},
		&entities.LearnerAggregate{},
		&entities.JobProgress{},
	}
}

func initializeSchema(ctx context.Context, db *gorm.DB) error {
	db = db.WithContext(ctx)

	if err := db.AutoMigrate(models()...); err != nil {
		return dbError(err, "auto_migrate", "high")
	}

	// One progress row per job kind, created idempotently
	for _, kind := range entities.AllJobKinds {
		row := entities.JobProgress{Kind: kind, Status: entities.JobStatusNotStarted}
		if err := db.Where(entities.JobProgress{Kind: kind}).FirstOrCreate(&row).Error; err != nil {
			return dbError(err, "seed_job_progress", "", "kind", string(kind))
		}
	}
	return nil
}

func gormLogger(log logger.Logger, slowThreshold time.Duration) *logger.GormLoggerAdapter {
	if log == nil {
		log = logger.NewSlogLogger(io.Discard, logger.LogLevelError, time.UTC)
	}
	return logger.NewGormLoggerAdapter(log, slowThreshold)
}
