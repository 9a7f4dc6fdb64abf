package testutil

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap"

	"github.com/parsascontentcorner/guildwarden/internal/config"
	"github.com/parsascontentcorner/guildwarden/internal/database"
)

// SetupTestDB starts a throwaway Postgres, migrates it and returns a store
// with a short retry window. cleanup closes the store and removes the
// container.
func SetupTestDB(ctx context.Context) (db *database.DB, cleanup func(), err error) {
	container, err := postgres.RunContainer(ctx,
		testcontainers.WithImage("postgres:15-alpine"),
		postgres.WithDatabase("guildwarden"),
		postgres.WithUsername("guildwarden"),
		postgres.WithPassword("guildwarden"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to start postgres container: %w", err)
	}
	terminate := func() { _ = container.Terminate(context.Background()) }

	host, err := container.Host(ctx)
	if err != nil {
		terminate()
		return nil, nil, fmt.Errorf("failed to get container host: %w", err)
	}
	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		terminate()
		return nil, nil, fmt.Errorf("failed to get container port: %w", err)
	}

	db, err = database.NewDB(&config.DatabaseConfig{
		Host:         host,
		Port:         port.Port(),
		User:         "guildwarden",
		Password:     "guildwarden",
		Name:         "guildwarden",
		SSLMode:      "disable",
		MaxOpenConns: 5,
		MaxIdleConns: 2,
	}, zap.NewNop())
	if err != nil {
		terminate()
		return nil, nil, err
	}
	db.SetRetryConfig(database.RetryConfig{Initial: 10 * time.Millisecond, MaxElapsed: 500 * time.Millisecond})

	dir, err := migrationsDir()
	if err == nil {
		err = db.RunMigrations(dir)
	}
	if err != nil {
		_ = db.Close()
		terminate()
		return nil, nil, err
	}

	return db, func() {
		_ = db.Close()
		terminate()
	}, nil
}

// migrationsDir finds internal/database/migrations from any package directory
// by walking up to the module root.
func migrationsDir() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", err
	}
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return filepath.Join(dir, "internal", "database", "migrations"), nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", errors.New("module root not found above the test directory")
		}
		dir = parent
	}
}

// TruncateTables removes all guild data. Every guild-scoped table cascades
// from global_config.
func TruncateTables(ctx context.Context, db *database.DB) error {
	if _, err := db.ExecContext(ctx, "TRUNCATE TABLE global_config CASCADE"); err != nil {
		return fmt.Errorf("failed to truncate guild tables: %w", err)
	}
	return nil
}

// SeedGuild creates a guild with a prefix, one permission row and one tag
func SeedGuild(ctx context.Context, db *database.DB, guildID int64, prefix string) error {
	if err := db.EnsureGuild(ctx, guildID); err != nil {
		return fmt.Errorf("failed to seed guild: %w", err)
	}

	statements := []struct {
		query string
		args  []any
	}{
		{`UPDATE global_config SET prefix = $1 WHERE guild_id = $2`, []any{prefix, guildID}},
		{`INSERT INTO permissions (guild_id, ptype, target_id, allow) VALUES ($1, 'user', $2, TRUE)`, []any{guildID, TestUserID}},
		{`INSERT INTO tags (guild_id, name, content, owner_id) VALUES ($1, 'rules', 'be nice', $2)`, []any{guildID, TestUserID}},
	}
	for _, stmt := range statements {
		if _, err := db.ExecContext(ctx, stmt.query, stmt.args...); err != nil {
			return fmt.Errorf("failed to seed guild %d: %w", guildID, err)
		}
	}

	return nil
}

// CountTimers returns the number of stored timers
func CountTimers(ctx context.Context, db *database.DB) (int, error) {
	var n int
	if err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM timers").Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count timers: %w", err)
	}
	return n, nil
}
