package testutil

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/parsascontentcorner/guildwarden/internal/models"
)

// AssertTimerEqual compares two timers field by field, ignoring ID when
// expected has none.
func AssertTimerEqual(t *testing.T, expected, actual *models.Timer) {
	t.Helper()

	if expected.ID != 0 {
		assert.Equal(t, expected.ID, actual.ID, "ID should match")
	}
	assert.Equal(t, expected.GuildID, actual.GuildID, "GuildID should match")
	assert.Equal(t, expected.UserID, actual.UserID, "UserID should match")
	assert.Equal(t, expected.ChannelID, actual.ChannelID, "ChannelID should match")
	assert.Equal(t, expected.Event, actual.Event, "Event should match")
	assert.Equal(t, expected.Expires, actual.Expires, "Expires should match")
	assert.Equal(t, expected.Notes, actual.Notes, "Notes should match")
}

// AssertRowsHave checks that every row carries value in column
func AssertRowsHave(t *testing.T, rows []models.Row, column string, value any) {
	t.Helper()

	for i, row := range rows {
		assert.EqualValues(t, value, row[column], "row %d column %s", i, column)
	}
}

// AssertTimeAlmostEqual checks if two times are within a specified delta.
// Useful for timestamp comparisons where exact equality isn't expected.
func AssertTimeAlmostEqual(t *testing.T, expected, actual time.Time, delta time.Duration) {
	t.Helper()

	diff := expected.Sub(actual)
	if diff < 0 {
		diff = -diff
	}

	assert.True(t,
		diff <= delta,
		"Times should be within %v of each other. Expected: %v, Actual: %v, Diff: %v",
		delta, expected, actual, diff,
	)
}
