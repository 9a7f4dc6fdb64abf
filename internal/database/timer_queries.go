package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/parsascontentcorner/guildwarden/internal/models"
)

// ErrTimerNotFound is returned when no timer matches the given id and guild
var ErrTimerNotFound = errors.New("timer not found")

const timerColumns = `id, guild_id, user_id, channel_id, event, expires, notes`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTimer(row rowScanner) (*models.Timer, error) {
	t := &models.Timer{}
	err := row.Scan(
		&t.ID,
		&t.GuildID,
		&t.UserID,
		&t.ChannelID,
		&t.Event,
		&t.Expires,
		&t.Notes,
	)
	if err != nil {
		return nil, err
	}
	return t, nil
}

// InsertTimer stores a new timer and fills in its database-assigned ID.
// A connection lost after the insert was sent is not retried, the row may
// already exist.
func (db *DB) InsertTimer(ctx context.Context, timer *models.Timer) error {
	query := `
		INSERT INTO timers (guild_id, user_id, channel_id, event, expires, notes)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`

	err := db.withWriteRetry(ctx, "insert_timer", func() error {
		return db.QueryRowContext(ctx, query,
			timer.GuildID,
			timer.UserID,
			timer.ChannelID,
			timer.Event,
			timer.Expires,
			timer.Notes,
		).Scan(&timer.ID)
	})
	if err != nil {
		return fmt.Errorf("failed to insert timer: %w", err)
	}

	return nil
}

// GetTimer retrieves a timer by id within a guild
func (db *DB) GetTimer(ctx context.Context, id, guildID int64) (*models.Timer, error) {
	query := `SELECT ` + timerColumns + ` FROM timers WHERE id = $1 AND guild_id = $2`

	var timer *models.Timer
	err := db.withRetry(ctx, "get_timer", func() error {
		var err error
		timer, err = scanTimer(db.QueryRowContext(ctx, query, id, guildID))
		return err
	})
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrTimerNotFound
		}
		return nil, fmt.Errorf("failed to get timer: %w", err)
	}

	return timer, nil
}

// UpdateTimer changes a timer's expiry and, when notes is non-nil, its notes.
// It reports whether a row matched.
func (db *DB) UpdateTimer(ctx context.Context, id, guildID, expires int64, notes *string) (bool, error) {
	query := `
		UPDATE timers
		SET expires = $3, notes = COALESCE($4::text, notes)
		WHERE id = $1 AND guild_id = $2
	`

	var notesVal sql.NullString
	if notes != nil {
		notesVal = sql.NullString{String: *notes, Valid: true}
	}

	// setting the same values twice is harmless, so lost replies are retried
	var affected int64
	err := db.withRetry(ctx, "update_timer", func() error {
		result, err := db.ExecContext(ctx, query, id, guildID, expires, notesVal)
		if err != nil {
			return err
		}
		affected, err = result.RowsAffected()
		return err
	})
	if err != nil {
		return false, fmt.Errorf("failed to update timer: %w", err)
	}

	return affected > 0, nil
}

// DeleteTimer deletes a timer by id within a guild and reports whether it existed
func (db *DB) DeleteTimer(ctx context.Context, id, guildID int64) (bool, error) {
	return db.deleteTimer(ctx, `DELETE FROM timers WHERE id = $1 AND guild_id = $2`, id, guildID)
}

// DeleteTimerByID deletes a timer by id alone. The dispatcher uses the result
// as its claim: only the caller that removed the row may fire it. A retried
// delete would report false for a row it removed itself, so a lost reply
// surfaces as ErrOutcomeUnknown instead.
func (db *DB) DeleteTimerByID(ctx context.Context, id int64) (bool, error) {
	return db.deleteTimer(ctx, `DELETE FROM timers WHERE id = $1`, id)
}

func (db *DB) deleteTimer(ctx context.Context, query string, args ...any) (bool, error) {
	var affected int64
	err := db.withWriteRetry(ctx, "delete_timer", func() error {
		result, err := db.ExecContext(ctx, query, args...)
		if err != nil {
			return err
		}
		affected, err = result.RowsAffected()
		return err
	})
	if err != nil {
		return false, fmt.Errorf("failed to delete timer: %w", err)
	}

	return affected > 0, nil
}

// NextTimer returns the soonest-expiring timer that expires before the given
// UNIX time, or nil when there is none.
func (db *DB) NextTimer(ctx context.Context, before int64) (*models.Timer, error) {
	query := `SELECT ` + timerColumns + ` FROM timers WHERE expires < $1 ORDER BY expires, id LIMIT 1`

	var timer *models.Timer
	err := db.withRetry(ctx, "next_timer", func() error {
		var err error
		timer, err = scanTimer(db.QueryRowContext(ctx, query, before))
		return err
	})
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get next timer: %w", err)
	}

	return timer, nil
}

// ListTimers returns a user's pending timers of one event kind in a guild,
// soonest first.
func (db *DB) ListTimers(ctx context.Context, guildID, userID int64, event string) ([]*models.Timer, error) {
	query := `
		SELECT ` + timerColumns + `
		FROM timers
		WHERE guild_id = $1 AND user_id = $2 AND event = $3
		ORDER BY expires, id
	`

	var timers []*models.Timer
	err := db.withRetry(ctx, "list_timers", func() error {
		rows, err := db.QueryContext(ctx, query, guildID, userID, event)
		if err != nil {
			return err
		}
		defer rows.Close()

		var found []*models.Timer
		for rows.Next() {
			t, err := scanTimer(rows)
			if err != nil {
				return err
			}
			found = append(found, t)
		}
		if err := rows.Err(); err != nil {
			return err
		}

		timers = found
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list timers: %w", err)
	}

	return timers, nil
}
