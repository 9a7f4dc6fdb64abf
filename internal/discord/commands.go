package discord

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/parsascontentcorner/guildwarden/internal/cache"
	"github.com/parsascontentcorner/guildwarden/internal/database"
	"github.com/parsascontentcorner/guildwarden/internal/reminders"
	"github.com/parsascontentcorner/guildwarden/internal/timers"
)

const maxPrefixLength = 5

// Message is a guild text message addressed to the bot
type Message struct {
	GuildID   string
	ChannelID string
	AuthorID  string
	Content   string
}

type command struct {
	guildID   int64
	channelID int64
	authorID  int64
	name      string
	args      string
	replyTo   string
}

// HandleMessage runs a prefixed command and replies in the same channel
func (b *Bot) HandleMessage(ctx context.Context, msg Message) {
	guildID, err := parseSnowflake(msg.GuildID)
	if err != nil {
		return
	}

	prefix := b.prefix(ctx, guildID)
	name, args, ok := parseCommand(msg.Content, prefix)
	if !ok {
		return
	}

	channelID, _ := parseSnowflake(msg.ChannelID)
	authorID, err := parseSnowflake(msg.AuthorID)
	if err != nil {
		return
	}

	cmd := command{
		guildID:   guildID,
		channelID: channelID,
		authorID:  authorID,
		name:      name,
		args:      args,
		replyTo:   msg.ChannelID,
	}

	var reply string
	switch name {
	case "remind":
		reply = b.remind(ctx, cmd, prefix)
	case "reminders":
		reply = b.listReminders(ctx, cmd)
	case "forget":
		reply = b.forget(ctx, cmd, prefix)
	case "prefix":
		reply = b.setPrefix(ctx, cmd, prefix)
	default:
		return
	}

	b.reply(cmd.replyTo, reply)
}

func (b *Bot) remind(ctx context.Context, cmd command, prefix string) string {
	whenText, text := splitReminder(cmd.args)
	if whenText == "" || text == "" {
		return fmt.Sprintf("Usage: `%sremind <when> | <text>`, for example `%sremind in 2 hours | stretch`", prefix, prefix)
	}

	when, err := b.reminders.ParseWhen(whenText, time.Now())
	if err != nil {
		return b.explain(err, cmd)
	}

	timer, err := b.reminders.Schedule(ctx, cmd.guildID, cmd.authorID, cmd.channelID, when, text)
	if err != nil {
		return b.explain(err, cmd)
	}

	return fmt.Sprintf("Okay, I'll remind you <t:%d:R>. (reminder `#%d`)", timer.Expires, timer.ID)
}

func (b *Bot) listReminders(ctx context.Context, cmd command) string {
	list, err := b.reminders.List(ctx, cmd.guildID, cmd.authorID)
	if err != nil {
		return b.explain(err, cmd)
	}
	return reminders.RenderList(list)
}

func (b *Bot) forget(ctx context.Context, cmd command, prefix string) string {
	id, err := strconv.ParseInt(strings.TrimPrefix(strings.TrimSpace(cmd.args), "#"), 10, 64)
	if err != nil {
		return fmt.Sprintf("Usage: `%sforget <id>`", prefix)
	}

	if err := b.reminders.Cancel(ctx, cmd.guildID, cmd.authorID, id); err != nil {
		if errors.Is(err, timers.ErrTimerNotFound) {
			return fmt.Sprintf("You have no reminder `#%d`.", id)
		}
		return b.explain(err, cmd)
	}

	return fmt.Sprintf("Reminder `#%d` cancelled.", id)
}

func (b *Bot) setPrefix(ctx context.Context, cmd command, prefix string) string {
	newPrefix := strings.TrimSpace(cmd.args)
	if newPrefix == "" || len(newPrefix) > maxPrefixLength || strings.ContainsAny(newPrefix, " \n\t") {
		return fmt.Sprintf("Usage: `%sprefix <new prefix>` (at most %d characters, no spaces)", prefix, maxPrefixLength)
	}

	allowed, err := b.cache.Get(ctx, "permissions", cmd.guildID,
		cache.Where("ptype", "user"),
		cache.Where("target_id", cmd.authorID),
		cache.Where("allow", true),
	)
	if err != nil {
		return b.explain(err, cmd)
	}
	if len(allowed) == 0 {
		return "You are not allowed to change the prefix here."
	}

	err = b.cache.Update(ctx,
		`UPDATE global_config SET prefix = $1, updated_at = NOW() WHERE guild_id = $2`,
		newPrefix, cmd.guildID,
	)
	if err != nil {
		return b.explain(err, cmd)
	}

	return fmt.Sprintf("Prefix changed to `%s`.", newPrefix)
}

// explain turns an engine error into a reply. Unexpected errors are logged.
func (b *Bot) explain(err error, cmd command) string {
	switch {
	case errors.Is(err, reminders.ErrUnparseableTime):
		return "I couldn't work out when that is. Try `90m`, `in 2 hours` or `tomorrow at 5pm`."
	case errors.Is(err, reminders.ErrEmptyReminder):
		return "What should I remind you about?"
	case errors.Is(err, reminders.ErrReminderTooLong):
		return fmt.Sprintf("That reminder is too long, keep it under %d characters.", reminders.MaxTextLength)
	case errors.Is(err, timers.ErrInvalidExpiry):
		return "That time is in the past."
	case errors.Is(err, timers.ErrTimerTooFarInFuture):
		return fmt.Sprintf("That's too far away, reminders can be at most %d days ahead.", int(b.horizon.Hours()/24))
	case errors.Is(err, timers.ErrTimerNotFound):
		return "I couldn't find that reminder."
	case errors.Is(err, database.ErrStoreUnavailable):
		b.logger.Error("store unavailable while handling command",
			zap.String("command", cmd.name),
			zap.Int64("guild_id", cmd.guildID),
			zap.Error(err),
		)
		return "My database is unavailable right now, please try again in a minute."
	default:
		b.logger.Error("command failed",
			zap.String("command", cmd.name),
			zap.Int64("guild_id", cmd.guildID),
			zap.Error(err),
		)
		return "Something went wrong, please try again later."
	}
}

// prefix returns the guild's command prefix, falling back to the default
func (b *Bot) prefix(ctx context.Context, guildID int64) string {
	row, err := b.cache.GetOne(ctx, "global_config", guildID)
	if err != nil {
		b.logger.Warn("failed to read guild prefix", zap.Int64("guild_id", guildID), zap.Error(err))
		return b.defaultPrefix
	}
	if row == nil {
		return b.defaultPrefix
	}

	switch v := row["prefix"].(type) {
	case string:
		if v != "" {
			return v
		}
	case []byte:
		if len(v) > 0 {
			return string(v)
		}
	}
	return b.defaultPrefix
}

func (b *Bot) reply(channelID, content string) {
	if _, err := b.session.ChannelMessageSend(channelID, content); err != nil {
		b.logger.Warn("failed to send reply", zap.String("channel_id", channelID), zap.Error(err))
	}
}

// parseCommand splits "<prefix><name> <args>"
func parseCommand(content, prefix string) (name, args string, ok bool) {
	if prefix == "" || !strings.HasPrefix(content, prefix) {
		return "", "", false
	}

	rest := strings.TrimSpace(content[len(prefix):])
	if rest == "" {
		return "", "", false
	}

	name, args, _ = strings.Cut(rest, " ")
	return strings.ToLower(name), strings.TrimSpace(args), true
}

// splitReminder accepts "<when> | <text>", or "<duration> <text>" without a pipe
func splitReminder(args string) (when, text string) {
	if before, after, found := strings.Cut(args, "|"); found {
		return strings.TrimSpace(before), strings.TrimSpace(after)
	}
	first, rest, _ := strings.Cut(strings.TrimSpace(args), " ")
	return first, strings.TrimSpace(rest)
}
