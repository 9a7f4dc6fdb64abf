package models

import (
	"database/sql"
	"time"
)

// Timer events understood by the bot's own consumers
const (
	TimerEventReminder = "reminder"
	TimerEventGiveaway = "giveaway"
	TimerEventEvent    = "event"
	TimerEventMute     = "mute"
)

// Timer represents one durable, scheduled future event
type Timer struct {
	ID        int64          `json:"id"`
	GuildID   int64          `json:"guild_id"`
	UserID    int64          `json:"user_id"`
	ChannelID sql.NullInt64  `json:"channel_id"`
	Event     string         `json:"event"`
	Expires   int64          `json:"expires"`
	Notes     sql.NullString `json:"notes"`
}

// CompletionEvent returns the dispatch event name fired when the timer completes
func (t *Timer) CompletionEvent() string {
	return t.Event + "_timer_complete"
}

// ExpiresAt returns the expiry as a time.Time
func (t *Timer) ExpiresAt() time.Time {
	return time.Unix(t.Expires, 0)
}

// IsDue checks if the timer has expired relative to now
func (t *Timer) IsDue(now time.Time) bool {
	return t.Expires <= now.Unix()
}

// Clone returns a copy that does not share state with t
func (t *Timer) Clone() *Timer {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}
