// Package storage implements the PostgreSQL persistence of jobs, scheduled
// tasks, alert rules and the sync bookkeeping tables.
package storage

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"log/slog"
	"sort"

	"github.com/cuongbtq/marketsync/shared/postgresql"
	"github.com/jmoiron/sqlx"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Storage handles all database operations
type Storage struct {
	client *postgresql.Client
	db     *sqlx.DB
	logger *slog.Logger
}

// NewStorage creates a new Storage instance
func NewStorage(client *postgresql.Client, logger *slog.Logger) *Storage {
	return &Storage{
		client: client,
		db:     client.GetDB(),
		logger: logger,
	}
}

// Migrate applies embedded migrations that have not been recorded yet
func (s *Storage) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version    TEXT PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`); err != nil {
		return fmt.Errorf("failed to create schema_migrations: %w", err)
	}

	files, err := fs.Glob(migrations, "migrations/*.sql")
	if err != nil {
		return fmt.Errorf("failed to list migrations: %w", err)
	}
	sort.Strings(files)

	for _, file := range files {
		var applied bool
		if err := s.db.GetContext(ctx, &applied,
			`SELECT EXISTS (SELECT 1 FROM schema_migrations WHERE version = $1)`, file); err != nil {
			return fmt.Errorf("failed to check migration %s: %w", file, err)
		}
		if applied {
			continue
		}

		body, err := migrations.ReadFile(file)
		if err != nil {
			return fmt.Errorf("failed to read migration %s: %w", file, err)
		}

		err = s.client.InTx(ctx, func(tx *sqlx.Tx) error {
			if _, err := tx.ExecContext(ctx, string(body)); err != nil {
				return err
			}
			_, err := tx.ExecContext(ctx, `INSERT INTO schema_migrations (version) VALUES ($1)`, file)
			return err
		})
		if err != nil {
			return fmt.Errorf("failed to apply migration %s: %w", file, err)
		}

		s.logger.Info("Migration applied", slog.String("version", file))
	}

	return nil
}

// Ping checks database connectivity. Failures are logged with the pool usage.
func (s *Storage) Ping(ctx context.Context) error {
	if err := s.client.HealthCheck(ctx); err != nil {
		s.logger.Warn("Database ping failed",
			slog.String("pool", s.client.Stats()),
			slog.Any("error", err),
		)
		return err
	}
	return nil
}
