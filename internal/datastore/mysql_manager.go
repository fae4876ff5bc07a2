package datastore

import (
	"context"
	"fmt"
	"time"

	"github.com/lexitally/vocabstats/internal/logger"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
)

// MySQLConfig holds MySQL-specific configuration.
type MySQLConfig struct {
	Host     string
	Port     string
	Username string
	Password string
	Database string
	// Logger receives GORM query logs. Nil discards them.
	Logger             logger.Logger
	SlowQueryThreshold time.Duration
}

// MySQLManager handles the MySQL record store.
type MySQLManager struct {
	db       *gorm.DB
	location string // host:port/database for display
}

// mysqlDSN builds the connection string. clientFoundRows makes RowsAffected count
// matched rows, which the conditional lease updates rely on.
func mysqlDSN(cfg *MySQLConfig) string {
	return fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=True&loc=UTC&clientFoundRows=true",
		cfg.Username, cfg.Password, cfg.Host, cfg.Port, cfg.Database)
}

// NewMySQLManager creates a new MySQL database manager.
func NewMySQLManager(cfg *MySQLConfig) (*MySQLManager, error) {
	db, err := gorm.Open(mysql.Open(mysqlDSN(cfg)), &gorm.Config{
		Logger: gormLogger(cfg.Logger, cfg.SlowQueryThreshold),
	})
	if err != nil {
		return nil, dbError(err, "open_mysql", "", "host", cfg.Host, "database", cfg.Database)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying database: %w", err)
	}
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(100)
	sqlDB.SetConnMaxLifetime(time.Hour)

	return &MySQLManager{
		db:       db,
		location: fmt.Sprintf("%s:%s/%s", cfg.Host, cfg.Port, cfg.Database),
	}, nil
}

// Initialize creates the schema and seeds the job progress rows.
func (m *MySQLManager) Initialize(ctx context.Context) error {
	return initializeSchema(ctx, m.db)
}

// DB returns the underlying GORM database.
func (m *MySQLManager) DB() *gorm.DB {
	return m.db
}

// Path returns host:port/database.
func (m *MySQLManager) Path() string {
	return m.location
}

// Close closes the database connection.
func (m *MySQLManager) Close() error {
	sqlDB, err := m.db.DB()
	if err != nil {
		return fmt.Errorf("failed to get underlying database: %w", err)
	}
	return sqlDB.Close()
}

// IsMySQL returns true.
func (m *MySQLManager) IsMySQL() bool {
	return true
}
