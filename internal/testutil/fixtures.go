package testutil

import (
	"database/sql"
	"time"

	"github.com/parsascontentcorner/guildwarden/internal/config"
	"github.com/parsascontentcorner/guildwarden/internal/models"
)

// Snowflakes used across tests
const (
	TestGuildID   int64 = 111111111111111111
	TestUserID    int64 = 222222222222222222
	TestChannelID int64 = 333333333333333333
)

// GenerateTimer creates a reminder timer for the test guild expiring after in
func GenerateTimer(in time.Duration, notes string) *models.Timer {
	return &models.Timer{
		GuildID:   TestGuildID,
		UserID:    TestUserID,
		ChannelID: sql.NullInt64{Int64: TestChannelID, Valid: true},
		Event:     models.TimerEventReminder,
		Expires:   time.Now().Add(in).Unix(),
		Notes:     sql.NullString{String: notes, Valid: notes != ""},
	}
}

// GenerateDMTimer creates a reminder timer delivered by DM
func GenerateDMTimer(in time.Duration) *models.Timer {
	timer := GenerateTimer(in, "")
	timer.ChannelID = sql.NullInt64{}
	return timer
}

// GenerateTestConfig creates a config suitable for tests
func GenerateTestConfig() *config.Config {
	return &config.Config{
		Discord: config.DiscordConfig{
			Token:         "test_bot_token",
			CommandPrefix: "!",
		},
		Server: config.ServerConfig{
			HTTPPort: "0",
			GRPCPort: "0",
			Env:      "test",
		},
		Timers: config.TimerConfig{
			Horizon:        40 * 24 * time.Hour,
			RescanInterval: time.Hour,
			RetryDelay:     50 * time.Millisecond,
		},
		Cache: config.CacheConfig{
			ExcludedTables: []string{"timers"},
			StatsInterval:  time.Minute,
		},
		Reminders: config.ReminderConfig{
			RatePerMinute: 60,
			Burst:         5,
		},
		Logging: config.LoggingConfig{
			Level:  "debug",
			Format: "console",
		},
	}
}
