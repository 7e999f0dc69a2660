package postgres

import (
	"context"
	"database/sql"
	"time"

	"github.com/flexprice/invoicing/internal/config"
	ierr "github.com/flexprice/invoicing/internal/errors"
	"github.com/flexprice/invoicing/internal/logger"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

// DB wraps sqlx.DB to provide transaction management
type DB struct {
	*sqlx.DB
	logger       *logger.Logger
	queryTimeout time.Duration
}

// Querier interface defines all database operations
// Both *sqlx.DB and *sqlx.Tx implement these methods
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
	GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	SelectContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
}

// NewDB creates a new DB instance
func NewDB(config *config.Configuration, logger *logger.Logger) (*DB, error) {
	dsn := config.Postgres.GetDSN()
	db, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		return nil, ierr.WithError(err).
			WithHint("Failed to connect to postgres").
			WithReportableDetails(map[string]any{
				"host":   config.Postgres.Host,
				"dbname": config.Postgres.DBName,
			}).
			Mark(ierr.ErrDatabase)
	}

	// Configure connection pool
	db.SetMaxOpenConns(config.Postgres.MaxOpenConns)
	db.SetMaxIdleConns(config.Postgres.MaxIdleConns)
	db.SetConnMaxLifetime(time.Duration(config.Postgres.ConnMaxLifetimeMinutes) * time.Minute)

	return NewDBFromSQLX(db, logger, config.Postgres.QueryTimeout), nil
}

// NewDBFromSQLX wraps an existing connection, used with sqlmock in tests
func NewDBFromSQLX(db *sqlx.DB, logger *logger.Logger, queryTimeout time.Duration) *DB {
	return &DB{DB: db, logger: logger, queryTimeout: queryTimeout}
}

// Close closes the database connection
func (db *DB) Close() {
	if err := db.DB.Close(); err != nil {
		db.logger.Errorw("error closing database", "error", err)
	}
}

// GetQuerier returns either the transaction from context or the base DB
func (db *DB) GetQuerier(ctx context.Context) Querier {
	if tx, ok := GetTx(ctx); ok {
		return NewTracedQuerier(tx.Tx, db.logger, tx.ID)
	}
	return NewTracedQuerier(db.DB, db.logger, "")
}

// WithQueryTimeout bounds ctx by postgres.query_timeout when one is configured
func (db *DB) WithQueryTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if db.queryTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, db.queryTimeout)
}

// QueryTimeout returns the configured per-query bound
func (db *DB) QueryTimeout() time.Duration {
	return db.queryTimeout
}
