package integration

import (
	"context"
	"net"
	"strconv"
	"sync"
	"testing"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/parsascontentcorner/guildwarden/internal/cache"
	"github.com/parsascontentcorner/guildwarden/internal/config"
	"github.com/parsascontentcorner/guildwarden/internal/database"
	"github.com/parsascontentcorner/guildwarden/internal/discord"
	"github.com/parsascontentcorner/guildwarden/internal/events"
	grpcserver "github.com/parsascontentcorner/guildwarden/internal/grpc"
	httpserver "github.com/parsascontentcorner/guildwarden/internal/http"
	"github.com/parsascontentcorner/guildwarden/internal/ratelimit"
	"github.com/parsascontentcorner/guildwarden/internal/reminders"
	"github.com/parsascontentcorner/guildwarden/internal/testutil"
	"github.com/parsascontentcorner/guildwarden/internal/timers"
)

// recordingSession stands in for the gateway session and keeps every message
type recordingSession struct {
	mu   sync.Mutex
	sent map[string][]string
}

func newRecordingSession() *recordingSession {
	return &recordingSession{sent: make(map[string][]string)}
}

func (s *recordingSession) ChannelMessageSend(channelID string, content string, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent[channelID] = append(s.sent[channelID], content)
	return &discordgo.Message{ChannelID: channelID, Content: content}, nil
}

func (s *recordingSession) UserChannelCreate(recipientID string, _ ...discordgo.RequestOption) (*discordgo.Channel, error) {
	return &discordgo.Channel{ID: "dm-" + recipientID}, nil
}

func (s *recordingSession) messages(channelID string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.sent[channelID]...)
}

// stack is every component of the bot wired the way main wires them
type stack struct {
	cfg       *config.Config
	db        *database.DB
	cache     *cache.Engine
	bus       *events.Bus
	timers    *timers.Engine
	limiter   *ratelimit.RateLimiter
	reminders *reminders.Service
	bot       *discord.Bot
	session   *recordingSession
	http      *httpserver.Server
	grpc      *grpcserver.Server
}

func setupStack(t *testing.T) *stack {
	t.Helper()

	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	ctx, cancel := context.WithCancel(context.Background())

	db, cleanupDB, err := testutil.SetupTestDB(ctx)
	require.NoError(t, err)

	cfg := testutil.GenerateTestConfig()
	logger := zap.NewNop()

	cacheEngine := cache.NewEngine(db, logger, cache.WithExcludedTables(cfg.Cache.ExcludedTables...))
	require.NoError(t, cacheEngine.Start(ctx))

	bus := events.NewBus(logger)
	timerEngine := timers.NewEngine(db, bus, logger,
		timers.WithHorizon(cfg.Timers.Horizon),
		timers.WithRetryDelay(cfg.Timers.RetryDelay),
	)
	limiter := ratelimit.NewRateLimiter(cfg.Reminders.RatePerMinute, cfg.Reminders.Burst, logger)

	parser, err := reminders.NewParser()
	require.NoError(t, err)
	service := reminders.NewService(timerEngine, db, parser, logger)

	session := newRecordingSession()
	bot := discord.NewBot(discord.Deps{
		Session:   session,
		Store:     db,
		Cache:     cacheEngine,
		Timers:    timerEngine,
		Reminders: service,
		Limiter:   limiter,
	}, cfg.Discord.CommandPrefix, cfg.Timers.Horizon, logger)
	bot.Subscribe(bus)

	handlers := httpserver.NewHandlers(cacheEngine, timerEngine, db, logger)
	httpSrv := httpserver.NewServer(handlers, cfg.Server.HTTPPort, logger)

	grpcSrv, err := grpcserver.NewServer(cfg.Server.GRPCPort, logger)
	require.NoError(t, err)
	grpcSrv.WatchReady(ctx, cacheEngine.Ready())
	go func() { _ = grpcSrv.Serve() }()

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = timerEngine.Run(ctx)
	}()

	t.Cleanup(func() {
		cancel()
		<-done
		grpcSrv.Stop()
		cleanupDB()
	})

	return &stack{
		cfg:       cfg,
		db:        db,
		cache:     cacheEngine,
		bus:       bus,
		timers:    timerEngine,
		limiter:   limiter,
		reminders: service,
		bot:       bot,
		session:   session,
		http:      httpSrv,
		grpc:      grpcSrv,
	}
}

// grpcAddr returns a dialable loopback address for the gRPC server
func (s *stack) grpcAddr(t *testing.T) string {
	t.Helper()

	_, port, err := net.SplitHostPort(s.grpc.Addr())
	require.NoError(t, err)
	return net.JoinHostPort("127.0.0.1", port)
}

// say delivers a guild message from the test user in the test channel
func (s *stack) say(ctx context.Context, content string) {
	s.bot.HandleMessage(ctx, discord.Message{
		GuildID:   formatID(testutil.TestGuildID),
		ChannelID: formatID(testutil.TestChannelID),
		AuthorID:  formatID(testutil.TestUserID),
		Content:   content,
	})
}

func formatID(id int64) string {
	return strconv.FormatInt(id, 10)
}
