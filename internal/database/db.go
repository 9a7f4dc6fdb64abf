// Package database is the PostgreSQL guild store: connection pool, schema
// migrations and the queries the cache and timer engines run.
package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/parsascontentcorner/guildwarden/internal/config"
)

const (
	connectTimeout = 5 * time.Second
	healthTimeout  = 2 * time.Second
	migrationTable = "schema_migrations"
)

// DB is the guild store. Every query retries lost connections within the
// configured window before reporting ErrStoreUnavailable.
type DB struct {
	*sql.DB
	logger *zap.Logger
	retry  RetryConfig
}

// NewDB opens the store's pool and waits, within the retry window, for
// Postgres to accept a connection. Refused credentials fail at once.
func NewDB(cfg *config.DatabaseConfig, logger *zap.Logger) (*DB, error) {
	pool, err := sql.Open("postgres", cfg.GetDSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open guild store: %w", err)
	}
	pool.SetMaxOpenConns(cfg.MaxOpenConns)
	pool.SetMaxIdleConns(cfg.MaxIdleConns)
	pool.SetConnMaxLifetime(time.Hour)

	db := &DB{
		DB:     pool,
		logger: logger,
		retry:  retryConfigFrom(cfg),
	}

	err = db.withRetry(context.Background(), "connect", func() error {
		ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
		defer cancel()
		return pool.PingContext(ctx)
	})
	if err != nil {
		_ = pool.Close()
		return nil, fmt.Errorf("failed to reach guild store: %w", err)
	}

	logger.Info("guild store connected",
		zap.String("host", cfg.Host),
		zap.String("port", cfg.Port),
		zap.String("database", cfg.Name),
		zap.Int("max_open_conns", cfg.MaxOpenConns),
	)
	return db, nil
}

func (db *DB) Close() error {
	db.logger.Info("guild store closing")
	return db.DB.Close()
}

// Health pings the store once, without retrying
func (db *DB) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, healthTimeout)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("guild store unhealthy: %w", err)
	}
	return nil
}

// RunMigrations brings the guild and timer tables up to the newest version
// found in dir. A schema left dirty by a failed migration is refused.
func (db *DB) RunMigrations(dir string) error {
	driver, err := postgres.WithInstance(db.DB, &postgres.Config{
		MigrationsTable: migrationTable,
	})
	if err != nil {
		return fmt.Errorf("failed to open migration driver: %w", err)
	}

	m, err := migrate.NewWithDatabaseInstance("file://"+dir, "postgres", driver)
	if err != nil {
		return fmt.Errorf("failed to load migrations from %s: %w", dir, err)
	}

	err = m.Up()
	switch {
	case errors.Is(err, migrate.ErrNoChange):
		db.logger.Debug("guild store schema current", zap.String("dir", dir))
		return nil
	case err != nil:
		return fmt.Errorf("failed to migrate guild store: %w", err)
	}

	version, _, err := m.Version()
	if err != nil {
		db.logger.Warn("migrated guild store but could not read its version", zap.Error(err))
		return nil
	}
	db.logger.Info("guild store schema migrated",
		zap.String("dir", dir),
		zap.Uint("version", version),
	)
	return nil
}
