package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/parsascontentcorner/guildwarden/internal/models"
)

// ErrGuildNotFound is returned when a guild has no global_config row
var ErrGuildNotFound = errors.New("guild not found")

// EnsureGuild creates the global_config row for a guild if it does not exist yet
func (db *DB) EnsureGuild(ctx context.Context, guildID int64) error {
	query := `
		INSERT INTO global_config (guild_id)
		VALUES ($1)
		ON CONFLICT (guild_id) DO NOTHING
	`

	err := db.withRetry(ctx, "ensure_guild", func() error {
		_, err := db.ExecContext(ctx, query, guildID)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to ensure guild: %w", err)
	}

	return nil
}

// GetGuildConfig retrieves the global_config row of a guild
func (db *DB) GetGuildConfig(ctx context.Context, guildID int64) (*models.GuildConfig, error) {
	query := `
		SELECT guild_id, prefix, mute_role_id, log_channel_id, created_at, updated_at
		FROM global_config
		WHERE guild_id = $1
	`

	var guild models.GuildConfig
	err := db.withRetry(ctx, "get_guild_config", func() error {
		return db.QueryRowContext(ctx, query, guildID).Scan(
			&guild.GuildID,
			&guild.Prefix,
			&guild.MuteRoleID,
			&guild.LogChannelID,
			&guild.CreatedAt,
			&guild.UpdatedAt,
		)
	})
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrGuildNotFound
		}
		return nil, fmt.Errorf("failed to get guild config: %w", err)
	}

	return &guild, nil
}

// DeleteGuild removes a guild's global_config row. Every dependent row goes
// with it through ON DELETE CASCADE; the caller must wipe the guild cache.
func (db *DB) DeleteGuild(ctx context.Context, guildID int64) (bool, error) {
	query := `DELETE FROM global_config WHERE guild_id = $1`

	var affected int64
	err := db.withWriteRetry(ctx, "delete_guild", func() error {
		result, err := db.ExecContext(ctx, query, guildID)
		if err != nil {
			return err
		}
		affected, err = result.RowsAffected()
		return err
	})
	if err != nil {
		return false, fmt.Errorf("failed to delete guild: %w", err)
	}

	return affected > 0, nil
}
