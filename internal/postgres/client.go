package postgres

import (
	"context"

	"github.com/flexprice/invoicing/internal/config"
	"github.com/flexprice/invoicing/internal/logger"
	"go.uber.org/fx"
)

// IClient defines the interface for postgres client operations
type IClient interface {
	// WithTx wraps the given function in a transaction
	WithTx(ctx context.Context, fn func(context.Context) error) error
}

// Module provides an fx.Option to integrate the database with the application
func Module() fx.Option {
	return fx.Options(
		fx.Provide(
			NewOptionalDB,
			NewClient,
		),
	)
}

// NewOptionalDB connects when postgres.enabled is set and returns nil otherwise
func NewOptionalDB(lc fx.Lifecycle, cfg *config.Configuration, log *logger.Logger) (*DB, error) {
	if !cfg.Postgres.Enabled {
		log.Warnw("postgres is disabled, invoices will not be persisted durably")
		return nil, nil
	}

	db, err := NewDB(cfg, log)
	if err != nil {
		return nil, err
	}

	if cfg.Postgres.AutoMigrate {
		if err := MigrateUp(cfg, log); err != nil {
			db.Close()
			return nil, err
		}
	}

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			db.Close()
			return nil
		},
	})
	return db, nil
}

// Client runs work in transactions on the wrapped DB.
// A nil DB runs the work directly.
type Client struct {
	db     *DB
	logger *logger.Logger
}

// NewClient creates a new transaction manager
func NewClient(db *DB, logger *logger.Logger) IClient {
	return &Client{
		db:     db,
		logger: logger,
	}
}

// WithTx wraps the given function in a transaction
func (c *Client) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if c.db == nil {
		return fn(ctx)
	}
	return c.db.WithTx(ctx, fn)
}
