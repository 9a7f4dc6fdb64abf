package discord

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"

	"github.com/parsascontentcorner/guildwarden/internal/models"
	"github.com/parsascontentcorner/guildwarden/internal/ratelimit"
	"github.com/parsascontentcorner/guildwarden/internal/reminders"
)

// minPostpone is the shortest delay a postponed reminder is stored with
const minPostpone = time.Second

// DeliverReminder sends a completed reminder to the channel it was set in,
// or by DM when it has no channel. It runs on the timer dispatcher, so a
// destination that is rate limited gets the reminder stored again for later
// instead of a wait.
func (b *Bot) DeliverReminder(ctx context.Context, payload any) error {
	timer, ok := payload.(*models.Timer)
	if !ok {
		return fmt.Errorf("unexpected reminder payload %T", payload)
	}

	key := ratelimit.UserKey(timer.UserID)
	if timer.ChannelID.Valid {
		key = ratelimit.ChannelKey(timer.ChannelID.Int64)
	}

	if !b.limiter.Allow(key) {
		return b.postpone(ctx, timer, b.limiter.RetryIn(key))
	}

	channelID, err := b.destination(timer)
	if err != nil {
		return err
	}

	_, err = b.session.ChannelMessageSend(channelID, reminders.Render(timer))
	if err != nil {
		var rateLimited *discordgo.RateLimitError
		if errors.As(err, &rateLimited) && rateLimited.RateLimit != nil && rateLimited.TooManyRequests != nil {
			b.limiter.Block(key, rateLimited.RetryAfter)
			return b.postpone(ctx, timer, rateLimited.RetryAfter)
		}
		return fmt.Errorf("failed to deliver reminder %d: %w", timer.ID, err)
	}

	b.logger.Info("reminder delivered",
		zap.Int64("timer_id", timer.ID),
		zap.Int64("user_id", timer.UserID),
		zap.String("channel_id", channelID),
	)
	return nil
}

func (b *Bot) postpone(ctx context.Context, timer *models.Timer, d time.Duration) error {
	if d < minPostpone {
		d = minPostpone
	}

	next, err := b.reminders.Postpone(ctx, timer, time.Now().Add(d))
	if err != nil {
		return fmt.Errorf("failed to postpone reminder %d: %w", timer.ID, err)
	}

	b.logger.Info("reminder delivery postponed",
		zap.Int64("timer_id", timer.ID),
		zap.Int64("next_timer_id", next.ID),
		zap.Duration("delay", d),
	)
	return nil
}

func (b *Bot) destination(timer *models.Timer) (string, error) {
	if timer.ChannelID.Valid {
		return formatSnowflake(timer.ChannelID.Int64), nil
	}

	dm, err := b.session.UserChannelCreate(formatSnowflake(timer.UserID))
	if err != nil {
		return "", fmt.Errorf("failed to open DM with user %d: %w", timer.UserID, err)
	}
	return dm.ID, nil
}
