package models

import (
	"database/sql"
	"time"
)

// GuildConfig is the global_config row every other guild-scoped table hangs off
type GuildConfig struct {
	GuildID      int64          `json:"guild_id"`
	Prefix       sql.NullString `json:"prefix"`
	MuteRoleID   sql.NullInt64  `json:"mute_role_id"`
	LogChannelID sql.NullInt64  `json:"log_channel_id"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

// PrefixOr returns the configured command prefix or the fallback
func (g *GuildConfig) PrefixOr(fallback string) string {
	if g.Prefix.Valid && g.Prefix.String != "" {
		return g.Prefix.String
	}
	return fallback
}
