package models

import (
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// ============================================================================
// Timer Tests
// ============================================================================

func TestTimer_CompletionEvent(t *testing.T) {
	tests := []struct {
		event    string
		expected string
	}{
		{TimerEventReminder, "reminder_timer_complete"},
		{TimerEventGiveaway, "giveaway_timer_complete"},
		{TimerEventMute, "mute_timer_complete"},
	}

	for _, tt := range tests {
		t.Run(tt.event, func(t *testing.T) {
			timer := &Timer{Event: tt.event}
			assert.Equal(t, tt.expected, timer.CompletionEvent())
		})
	}
}

func TestTimer_IsDue(t *testing.T) {
	now := time.Unix(1700000000, 0)

	assert.True(t, (&Timer{Expires: now.Unix() - 1}).IsDue(now))
	assert.True(t, (&Timer{Expires: now.Unix()}).IsDue(now))
	assert.False(t, (&Timer{Expires: now.Unix() + 1}).IsDue(now))
}

func TestTimer_ExpiresAt(t *testing.T) {
	timer := &Timer{Expires: 1700000000}

	assert.True(t, timer.ExpiresAt().Equal(time.Unix(1700000000, 0)))
}

func TestTimer_Clone(t *testing.T) {
	original := &Timer{
		ID:        1,
		GuildID:   2,
		UserID:    3,
		ChannelID: sql.NullInt64{Int64: 4, Valid: true},
		Event:     TimerEventReminder,
		Expires:   5,
		Notes:     sql.NullString{String: "tea", Valid: true},
	}

	clone := original.Clone()
	assert.Equal(t, original, clone)

	clone.Notes.String = "coffee"
	assert.Equal(t, "tea", original.Notes.String)

	var nilTimer *Timer
	assert.Nil(t, nilTimer.Clone())
}
