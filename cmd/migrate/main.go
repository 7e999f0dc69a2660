package main

import (
	"flag"
	"log"

	"github.com/flexprice/invoicing/internal/config"
	"github.com/flexprice/invoicing/internal/logger"
	"github.com/flexprice/invoicing/internal/postgres"
)

func main() {
	down := flag.Bool("down", false, "Roll back every migration")
	steps := flag.Int("steps", 0, "Apply n migrations, negative values roll back")
	version := flag.Bool("version", false, "Print the current migration version and exit")
	force := flag.Int("force", -1, "Force the migration version without running migrations")
	flag.Parse()

	cfg, err := config.NewConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := logger.NewLogger(cfg)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}

	logger.Infow("connecting to database", "host", cfg.Postgres.Host, "dbname", cfg.Postgres.DBName)

	m, err := postgres.NewMigrator(cfg, logger)
	if err != nil {
		logger.Fatalw("failed to create migrator", "error", err)
	}
	defer m.Close()

	switch {
	case *version:
		v, dirty, err := m.Version()
		if err != nil {
			logger.Fatalw("failed to read version", "error", err)
		}
		logger.Infow("current migration version", "version", v, "dirty", dirty)
		return
	case *force >= 0:
		err = m.Force(*force)
	case *steps != 0:
		err = m.Steps(*steps)
	case *down:
		err = m.Down()
	default:
		err = m.Up()
	}

	if err != nil {
		logger.Fatalw("migration failed", "error", err)
	}
	logger.Info("migration finished")
}
