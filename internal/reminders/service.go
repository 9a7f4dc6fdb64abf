// Package reminders implements user reminders on top of the timer engine.
package reminders

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/parsascontentcorner/guildwarden/internal/models"
	"github.com/parsascontentcorner/guildwarden/internal/timers"
)

// MaxTextLength bounds the stored reminder text
const MaxTextLength = 1500

// Errors returned by the service
var (
	ErrEmptyReminder   = errors.New("reminder text is empty")
	ErrReminderTooLong = fmt.Errorf("reminder text is longer than %d characters", MaxTextLength)
)

// TimerEngine is the part of the timer engine reminders use
type TimerEngine interface {
	CreateTimer(ctx context.Context, expires time.Time, event string, guildID, userID int64, opts ...timers.TimerOption) (*models.Timer, error)
	GetTimer(ctx context.Context, id, guildID int64) (*models.Timer, error)
	CancelTimer(ctx context.Context, id, guildID int64) error
}

// Lister lists pending timers
type Lister interface {
	ListTimers(ctx context.Context, guildID, userID int64, event string) ([]*models.Timer, error)
}

// Service schedules, lists and cancels reminders
type Service struct {
	timers TimerEngine
	lister Lister
	parser *Parser
	logger *zap.Logger
}

// NewService creates a reminder service
func NewService(engine TimerEngine, lister Lister, parser *Parser, logger *zap.Logger) *Service {
	return &Service{
		timers: engine,
		lister: lister,
		parser: parser,
		logger: logger,
	}
}

// ParseWhen resolves user input to an absolute time
func (s *Service) ParseWhen(input string, now time.Time) (time.Time, error) {
	return s.parser.ParseWhen(input, now)
}

// Schedule creates a reminder timer. channelID 0 means deliver by DM.
func (s *Service) Schedule(ctx context.Context, guildID, userID, channelID int64, when time.Time, text string) (*models.Timer, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmptyReminder
	}
	if len([]rune(text)) > MaxTextLength {
		return nil, ErrReminderTooLong
	}

	opts := []timers.TimerOption{timers.WithNotes(text)}
	if channelID != 0 {
		opts = append(opts, timers.WithChannel(channelID))
	}

	timer, err := s.timers.CreateTimer(ctx, when, models.TimerEventReminder, guildID, userID, opts...)
	if err != nil {
		return nil, err
	}

	s.logger.Info("reminder scheduled",
		zap.Int64("timer_id", timer.ID),
		zap.Int64("guild_id", guildID),
		zap.Int64("user_id", userID),
		zap.Time("expires", timer.ExpiresAt()),
	)
	return timer, nil
}

// Postpone stores a fired reminder again to fire at when, keeping its owner,
// channel and text. The text was validated when it was first scheduled.
func (s *Service) Postpone(ctx context.Context, timer *models.Timer, when time.Time) (*models.Timer, error) {
	var opts []timers.TimerOption
	if timer.Notes.Valid {
		opts = append(opts, timers.WithNotes(timer.Notes.String))
	}
	if timer.ChannelID.Valid {
		opts = append(opts, timers.WithChannel(timer.ChannelID.Int64))
	}

	next, err := s.timers.CreateTimer(ctx, when, timer.Event, timer.GuildID, timer.UserID, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to postpone reminder: %w", err)
	}

	s.logger.Debug("reminder postponed",
		zap.Int64("timer_id", timer.ID),
		zap.Int64("next_timer_id", next.ID),
		zap.Time("expires", next.ExpiresAt()),
	)
	return next, nil
}

// Cancel removes one of the user's own reminders. Timers owned by someone
// else, or that are not reminders, are reported as not found.
func (s *Service) Cancel(ctx context.Context, guildID, userID, id int64) error {
	timer, err := s.timers.GetTimer(ctx, id, guildID)
	if err != nil {
		return err
	}
	if timer.UserID != userID || timer.Event != models.TimerEventReminder {
		return timers.ErrTimerNotFound
	}

	return s.timers.CancelTimer(ctx, id, guildID)
}

// List returns the user's pending reminders in a guild, soonest first
func (s *Service) List(ctx context.Context, guildID, userID int64) ([]*models.Timer, error) {
	list, err := s.lister.ListTimers(ctx, guildID, userID, models.TimerEventReminder)
	if err != nil {
		return nil, fmt.Errorf("failed to list reminders: %w", err)
	}
	return list, nil
}

// Render builds the message delivered when a reminder fires
func Render(timer *models.Timer) string {
	if !timer.Notes.Valid || timer.Notes.String == "" {
		return fmt.Sprintf("<@%d>, here is your reminder.", timer.UserID)
	}
	return fmt.Sprintf("<@%d>, you asked me to remind you: %s", timer.UserID, timer.Notes.String)
}

// RenderList builds the reply for a reminder listing
func RenderList(list []*models.Timer) string {
	if len(list) == 0 {
		return "You have no pending reminders."
	}

	var b strings.Builder
	b.WriteString("Your reminders:\n")
	for _, t := range list {
		fmt.Fprintf(&b, "`#%d` <t:%d:R> %s\n", t.ID, t.Expires, truncate(t.Notes.String, 80))
	}
	return strings.TrimRight(b.String(), "\n")
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
