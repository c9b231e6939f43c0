// Package db provides database setup for 7 Cycles. Postgres is the
// production store; sqlite backs local development and tests.
package db

import (
	"fmt"
	"log"
	"strings"
	"sync/atomic"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/bxt-team/sevencycles/pkg/models"
)

// Database wraps the GORM database instance
type Database struct {
	DB *gorm.DB
}

// NewDatabase opens a connection for the given DSN. DSNs starting
// with "file:" or ending in ".db" select the sqlite driver.
func NewDatabase(dsn string) (*Database, error) {
	gormConfig := &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	}

	var db *gorm.DB
	var err error

	if isSQLite(dsn) {
		db, err = gorm.Open(sqlite.Open(dsn), gormConfig)
	} else {
		db, err = gorm.Open(postgres.Open(dsn), gormConfig)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(100)
	sqlDB.SetConnMaxLifetime(time.Hour)

	database := &Database{DB: db}

	if err := database.Migrate(); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	log.Println("Database connected successfully")
	return database, nil
}

var testDBSeq atomic.Uint64

// NewTestDatabase opens an in-memory sqlite database with the full
// schema applied. Used by package tests. Each call names its own
// database so tests never share state.
func NewTestDatabase() (*Database, error) {
	n := testDBSeq.Add(1)
	return NewDatabase(fmt.Sprintf("file:test%d?mode=memory&cache=shared", n))
}

func isSQLite(dsn string) bool {
	return strings.HasPrefix(dsn, "file:") || strings.HasSuffix(dsn, ".db") || dsn == ":memory:"
}

// Migrate applies the schema and performance indexes.
func (d *Database) Migrate() error {
	if err := d.DB.AutoMigrate(models.AllModels()...); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	if err := d.createIndexes(); err != nil {
		return fmt.Errorf("failed to create indexes: %w", err)
	}

	return nil
}

// createIndexes creates partial indexes Postgres-side. SQLite ignores
// the errors since it lacks CONCURRENTLY.
func (d *Database) createIndexes() error {
	if d.DB.Dialector.Name() != "postgres" {
		return nil
	}

	d.DB.Exec("CREATE INDEX CONCURRENTLY IF NOT EXISTS idx_ideas_project_status ON ideas(project_id, status) WHERE deleted_at IS NULL")
	d.DB.Exec("CREATE INDEX CONCURRENTLY IF NOT EXISTS idx_artifacts_project_type ON content_artifacts(project_id, type) WHERE deleted_at IS NULL")
	d.DB.Exec("CREATE INDEX CONCURRENTLY IF NOT EXISTS idx_runs_org_status ON workflow_runs(organization_id, status)")
	d.DB.Exec("CREATE INDEX CONCURRENTLY IF NOT EXISTS idx_scheduled_posts_due ON scheduled_posts(publish_at) WHERE status = 'scheduled'")
	d.DB.Exec("CREATE INDEX CONCURRENTLY IF NOT EXISTS idx_credit_tx_org_date ON credit_transactions(organization_id, created_at DESC)")
	d.DB.Exec("CREATE INDEX CONCURRENTLY IF NOT EXISTS idx_generation_records_org_day ON generation_records(organization_id, day_key)")

	return nil
}

// Health checks database connectivity
func (d *Database) Health() error {
	sqlDB, err := d.DB.DB()
	if err != nil {
		return fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}

	if err := sqlDB.Ping(); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}

	return nil
}

// Close closes the database connection
func (d *Database) Close() error {
	sqlDB, err := d.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// GetStats returns database connection statistics
func (d *Database) GetStats() map[string]interface{} {
	sqlDB, err := d.DB.DB()
	if err != nil {
		return map[string]interface{}{"error": err.Error()}
	}

	stats := sqlDB.Stats()
	return map[string]interface{}{
		"max_open_connections": stats.MaxOpenConnections,
		"open_connections":     stats.OpenConnections,
		"in_use":               stats.InUse,
		"idle":                 stats.Idle,
		"wait_count":           stats.WaitCount,
		"wait_duration_ms":     stats.WaitDuration.Milliseconds(),
	}
}

// Transaction wraps a function in a database transaction
func (d *Database) Transaction(fn func(*gorm.DB) error) error {
	return d.DB.Transaction(fn)
}
