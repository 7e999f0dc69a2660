package postgres

import (
	"errors"

	"github.com/flexprice/invoicing/internal/config"
	ierr "github.com/flexprice/invoicing/internal/errors"
	"github.com/flexprice/invoicing/internal/logger"
	"github.com/flexprice/invoicing/migrations"
	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

// Migrator applies the embedded SQL migrations with golang-migrate
type Migrator struct {
	migrate *migrate.Migrate
	logger  *logger.Logger
}

// NewMigrator opens the embedded migrations against the configured database
func NewMigrator(cfg *config.Configuration, log *logger.Logger) (*Migrator, error) {
	src, err := iofs.New(migrations.FS, ".")
	if err != nil {
		return nil, ierr.WithError(err).
			WithHint("Failed to load embedded migrations").
			Mark(ierr.ErrSystem)
	}

	m, err := migrate.NewWithSourceInstance("iofs", src, cfg.Postgres.GetMigrationURL())
	if err != nil {
		return nil, ierr.WithError(err).
			WithHint("Failed to create migrator").
			Mark(ierr.ErrDatabase)
	}

	return &Migrator{migrate: m, logger: log}, nil
}

// Up runs all pending migrations
func (m *Migrator) Up() error {
	m.logger.Info("running migrations up")

	err := m.migrate.Up()
	if errors.Is(err, migrate.ErrNoChange) {
		m.logger.Info("no migrations to apply")
		return nil
	}
	if err != nil {
		return ierr.WithError(err).
			WithHint("Migration up failed").
			Mark(ierr.ErrDatabase)
	}

	version, dirty, _ := m.Version()
	m.logger.Infow("migrations completed", "version", version, "dirty", dirty)
	return nil
}

// Down rolls back all migrations
func (m *Migrator) Down() error {
	m.logger.Info("running migrations down")

	err := m.migrate.Down()
	if errors.Is(err, migrate.ErrNoChange) {
		m.logger.Info("no migrations to roll back")
		return nil
	}
	if err != nil {
		return ierr.WithError(err).
			WithHint("Migration down failed").
			Mark(ierr.ErrDatabase)
	}
	return nil
}

// Steps applies n migrations (positive = up, negative = down)
func (m *Migrator) Steps(n int) error {
	m.logger.Infow("running migration steps", "steps", n)

	err := m.migrate.Steps(n)
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return ierr.WithError(err).
			WithHintf("Migration of %d steps failed", n).
			Mark(ierr.ErrDatabase)
	}
	return nil
}

// Version returns the current migration version
func (m *Migrator) Version() (uint, bool, error) {
	version, dirty, err := m.migrate.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, ierr.WithError(err).
			WithHint("Failed to read migration version").
			Mark(ierr.ErrDatabase)
	}
	return version, dirty, nil
}

// Force sets the migration version without running migrations
func (m *Migrator) Force(version int) error {
	m.logger.Warnw("forcing migration version", "version", version)
	if err := m.migrate.Force(version); err != nil {
		return ierr.WithError(err).
			WithHintf("Failed to force version %d", version).
			Mark(ierr.ErrDatabase)
	}
	return nil
}

// Close closes the migrator and releases resources
func (m *Migrator) Close() {
	if sourceErr, dbErr := m.migrate.Close(); sourceErr != nil || dbErr != nil {
		m.logger.Warnw("failed to close migrator", "source_error", sourceErr, "db_error", dbErr)
	}
}

// MigrateUp is a shortcut used by postgres.auto_migrate
func MigrateUp(cfg *config.Configuration, log *logger.Logger) error {
	m, err := NewMigrator(cfg, log)
	if err != nil {
		return err
	}
	defer m.Close()
	return m.Up()
}
