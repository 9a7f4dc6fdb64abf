package database

import (
	"context"
	"testing"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/parsascontentcorner/guildwarden/internal/config"
)

// guildTables are the tables keyed by guild that must go with their guild
var guildTables = []string{"users", "mod_config", "permissions", "modules", "tags", "timers"}

func TestNewDB_PoolLimits(t *testing.T) {
	cfg := testConfig(t)
	cfg.MaxOpenConns = 7

	db, err := NewDB(cfg, zaptest.NewLogger(t))
	require.NoError(t, err)
	defer db.Close()

	assert.Equal(t, 7, db.Stats().MaxOpenConnections)
	assert.NoError(t, db.Health(context.Background()))
}

func TestNewDB_RejectedCredentialsFailFast(t *testing.T) {
	cfg := testConfig(t)
	cfg.Password = "not-the-password"
	cfg.RetryMaxElapse = time.Minute

	start := time.Now()
	db, err := NewDB(cfg, zap.NewNop())

	require.Error(t, err)
	assert.Nil(t, db)
	assert.NotErrorIs(t, err, ErrStoreUnavailable)
	assert.Less(t, time.Since(start), 30*time.Second)
}

func TestNewDB_UnreachableStoreIsUnavailable(t *testing.T) {
	cfg := &config.DatabaseConfig{
		Host:           "127.0.0.1",
		Port:           "1",
		User:           "guildwarden",
		Password:       "guildwarden",
		Name:           "guildwarden",
		SSLMode:        "disable",
		MaxOpenConns:   1,
		RetryInitial:   20 * time.Millisecond,
		RetryMaxElapse: 200 * time.Millisecond,
	}

	db, err := NewDB(cfg, zap.NewNop())

	require.Error(t, err)
	assert.Nil(t, db)
	assert.ErrorIs(t, err, ErrStoreUnavailable)
}

func TestHealth_AfterClose(t *testing.T) {
	db, err := NewDB(testConfig(t), zaptest.NewLogger(t))
	require.NoError(t, err)

	require.NoError(t, db.Close())

	err = db.Health(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "guild store unhealthy")
}

func TestRunMigrations_GuildTablesCascadeFromGlobalConfig(t *testing.T) {
	ctx := context.Background()
	db := newTestStore(t)

	for _, table := range guildTables {
		var onDelete string
		err := db.QueryRowContext(ctx, `
			SELECT c.confdeltype
			FROM pg_constraint c
			WHERE c.contype = 'f'
			  AND c.conrelid = $1::regclass
			  AND c.confrelid = 'global_config'::regclass
		`, table).Scan(&onDelete)

		require.NoError(t, err, "%s has no foreign key to global_config", table)
		assert.Equal(t, "c", onDelete, "%s must cascade on guild delete", table)
	}
}

func TestRunMigrations_TimerIndexes(t *testing.T) {
	ctx := context.Background()
	db := newTestStore(t)

	rows, err := db.QueryContext(ctx, `SELECT indexname, indexdef FROM pg_indexes WHERE tablename = 'timers'`)
	require.NoError(t, err)
	defer rows.Close()

	defs := map[string]string{}
	for rows.Next() {
		var name, def string
		require.NoError(t, rows.Scan(&name, &def))
		defs[name] = def
	}
	require.NoError(t, rows.Err())

	// the dispatcher's soonest-timer query and the per-user listing
	require.Contains(t, defs, "timers_expires_idx")
	assert.Contains(t, defs["timers_expires_idx"], "(expires)")
	require.Contains(t, defs, "timers_guild_user_idx")
	assert.Contains(t, defs["timers_guild_user_idx"], "(guild_id, user_id)")
}

func TestRunMigrations_RerunKeepsVersion(t *testing.T) {
	ctx := context.Background()
	db := newTestStore(t)

	require.NoError(t, db.RunMigrations("migrations"))

	var version int64
	var dirty bool
	err := db.QueryRowContext(ctx, `SELECT version, dirty FROM schema_migrations`).Scan(&version, &dirty)
	require.NoError(t, err)
	assert.Equal(t, int64(2), version)
	assert.False(t, dirty)
}

func TestRunMigrations_DirtySchemaRefused(t *testing.T) {
	ctx := context.Background()
	db := newTestStore(t)

	_, err := db.ExecContext(ctx, `UPDATE schema_migrations SET dirty = true`)
	require.NoError(t, err)
	defer func() {
		_, err := db.ExecContext(ctx, `UPDATE schema_migrations SET dirty = false`)
		assert.NoError(t, err)
	}()

	err = db.RunMigrations("migrations")

	var dirtyErr migrate.ErrDirty
	require.ErrorAs(t, err, &dirtyErr)
	assert.Equal(t, 2, dirtyErr.Version)
}

func TestRunMigrations_MissingDirectory(t *testing.T) {
	db := newTestStore(t)

	err := db.RunMigrations("/nonexistent/migrations")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "/nonexistent/migrations")
}
