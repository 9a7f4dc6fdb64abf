// Package discord connects the engines to the Discord gateway.
package discord

import (
	"context"
	"strconv"
	"time"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"

	"github.com/parsascontentcorner/guildwarden/internal/cache"
	"github.com/parsascontentcorner/guildwarden/internal/events"
	"github.com/parsascontentcorner/guildwarden/internal/models"
)

const handlerTimeout = 10 * time.Second

// Session is the subset of *discordgo.Session the bot uses
type Session interface {
	ChannelMessageSend(channelID string, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
	UserChannelCreate(recipientID string, options ...discordgo.RequestOption) (*discordgo.Channel, error)
}

var _ Session = (*discordgo.Session)(nil)

// GuildStore manages a guild's root config row
type GuildStore interface {
	EnsureGuild(ctx context.Context, guildID int64) error
	DeleteGuild(ctx context.Context, guildID int64) (bool, error)
}

// GuildCache is the part of the guild cache the bot uses
type GuildCache interface {
	Get(ctx context.Context, table string, guildID int64, filters ...cache.Filter) ([]models.Row, error)
	GetOne(ctx context.Context, table string, guildID int64, filters ...cache.Filter) (models.Row, error)
	Refresh(ctx context.Context, table string, guildID int64) error
	Update(ctx context.Context, query string, args ...any) error
	Wipe(guildID int64)
}

// TimerPoker asks the timer dispatcher to re-query
type TimerPoker interface {
	Poke()
}

// Reminders is the reminder service
type Reminders interface {
	ParseWhen(input string, now time.Time) (time.Time, error)
	Schedule(ctx context.Context, guildID, userID, channelID int64, when time.Time, text string) (*models.Timer, error)
	Cancel(ctx context.Context, guildID, userID, id int64) error
	List(ctx context.Context, guildID, userID int64) ([]*models.Timer, error)
	Postpone(ctx context.Context, timer *models.Timer, when time.Time) (*models.Timer, error)
}

// Limiter paces deliveries per destination
type Limiter interface {
	Allow(key string) bool
	RetryIn(key string) time.Duration
	Block(key string, d time.Duration)
}

// Subscriber registers event handlers
type Subscriber interface {
	Subscribe(name string, handler events.Handler)
}

// Deps are the components the bot drives
type Deps struct {
	Session   Session
	Store     GuildStore
	Cache     GuildCache
	Timers    TimerPoker
	Reminders Reminders
	Limiter   Limiter
}

// Bot handles gateway events and delivers completed reminders
type Bot struct {
	session       Session
	store         GuildStore
	cache         GuildCache
	timers        TimerPoker
	reminders     Reminders
	limiter       Limiter
	defaultPrefix string
	horizon       time.Duration
	logger        *zap.Logger
}

// NewBot creates a Bot. horizon is only used in user-facing replies.
func NewBot(deps Deps, defaultPrefix string, horizon time.Duration, logger *zap.Logger) *Bot {
	return &Bot{
		session:       deps.Session,
		store:         deps.Store,
		cache:         deps.Cache,
		timers:        deps.Timers,
		reminders:     deps.Reminders,
		limiter:       deps.Limiter,
		defaultPrefix: defaultPrefix,
		horizon:       horizon,
		logger:        logger,
	}
}

// NewSession creates a gateway session with the intents the bot needs
func NewSession(token string) (*discordgo.Session, error) {
	s, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, err
	}

	s.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMessages |
		discordgo.IntentsDirectMessages |
		discordgo.IntentMessageContent

	return s, nil
}

// Register adds the gateway handlers to s
func (b *Bot) Register(s *discordgo.Session) {
	s.AddHandler(b.onReady)
	s.AddHandler(b.onGuildCreate)
	s.AddHandler(b.onGuildDelete)
	s.AddHandler(b.onMessageCreate)
}

// Subscribe registers the bot's timer completion handlers
func (b *Bot) Subscribe(bus Subscriber) {
	bus.Subscribe(models.TimerEventReminder+"_timer_complete", b.DeliverReminder)
}

func (b *Bot) onReady(_ *discordgo.Session, r *discordgo.Ready) {
	b.logger.Info("connected to Discord gateway",
		zap.String("user", r.User.Username),
		zap.Int("guilds", len(r.Guilds)),
	)
}

func (b *Bot) onGuildCreate(_ *discordgo.Session, g *discordgo.GuildCreate) {
	ctx, cancel := context.WithTimeout(context.Background(), handlerTimeout)
	defer cancel()

	if err := b.HandleGuildCreate(ctx, g.ID); err != nil {
		b.logger.Error("failed to handle guild create", zap.String("guild_id", g.ID), zap.Error(err))
	}
}

func (b *Bot) onGuildDelete(_ *discordgo.Session, g *discordgo.GuildDelete) {
	ctx, cancel := context.WithTimeout(context.Background(), handlerTimeout)
	defer cancel()

	if err := b.HandleGuildDelete(ctx, g.ID, g.Unavailable); err != nil {
		b.logger.Error("failed to handle guild delete", zap.String("guild_id", g.ID), zap.Error(err))
	}
}

func (b *Bot) onMessageCreate(_ *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.Bot || m.GuildID == "" {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), handlerTimeout)
	defer cancel()

	b.HandleMessage(ctx, Message{
		GuildID:   m.GuildID,
		ChannelID: m.ChannelID,
		AuthorID:  m.Author.ID,
		Content:   m.Content,
	})
}

// HandleGuildCreate makes sure a joined guild has a config row and caches it
func (b *Bot) HandleGuildCreate(ctx context.Context, rawGuildID string) error {
	guildID, err := parseSnowflake(rawGuildID)
	if err != nil {
		return err
	}

	if err := b.store.EnsureGuild(ctx, guildID); err != nil {
		return err
	}

	if err := b.cache.Refresh(ctx, "global_config", guildID); err != nil {
		return err
	}

	b.logger.Info("guild available", zap.Int64("guild_id", guildID))
	return nil
}

// HandleGuildDelete purges a guild the bot was removed from. Outages, where
// Discord marks the guild unavailable, are ignored.
func (b *Bot) HandleGuildDelete(ctx context.Context, rawGuildID string, unavailable bool) error {
	guildID, err := parseSnowflake(rawGuildID)
	if err != nil {
		return err
	}

	if unavailable {
		b.logger.Warn("guild unavailable", zap.Int64("guild_id", guildID))
		return nil
	}

	deleted, err := b.store.DeleteGuild(ctx, guildID)
	if err != nil {
		return err
	}

	// the cascade removed the guild's rows and timers, drop what we hold too
	b.cache.Wipe(guildID)
	b.timers.Poke()

	b.logger.Info("guild removed",
		zap.Int64("guild_id", guildID),
		zap.Bool("had_config", deleted),
	)
	return nil
}

func parseSnowflake(raw string) (int64, error) {
	return strconv.ParseInt(raw, 10, 64)
}

func formatSnowflake(id int64) string {
	return strconv.FormatInt(id, 10)
}
