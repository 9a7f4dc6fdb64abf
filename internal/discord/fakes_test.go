package discord

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/parsascontentcorner/guildwarden/internal/cache"
	"github.com/parsascontentcorner/guildwarden/internal/models"
	"github.com/parsascontentcorner/guildwarden/internal/reminders"
	"github.com/parsascontentcorner/guildwarden/internal/timers"
)

type sentMessage struct {
	channelID string
	content   string
}

type fakeSession struct {
	mu      sync.Mutex
	sent    []sentMessage
	dms     []string
	sendErr error
}

func (s *fakeSession) ChannelMessageSend(channelID string, content string, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sendErr != nil {
		return nil, s.sendErr
	}
	s.sent = append(s.sent, sentMessage{channelID: channelID, content: content})
	return &discordgo.Message{ChannelID: channelID, Content: content}, nil
}

func (s *fakeSession) UserChannelCreate(recipientID string, _ ...discordgo.RequestOption) (*discordgo.Channel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dms = append(s.dms, recipientID)
	return &discordgo.Channel{ID: "dm-" + recipientID}, nil
}

func (s *fakeSession) messages() []sentMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]sentMessage(nil), s.sent...)
}

func (s *fakeSession) last() sentMessage {
	msgs := s.messages()
	if len(msgs) == 0 {
		return sentMessage{}
	}
	return msgs[len(msgs)-1]
}

type fakeStore struct {
	ensured []int64
	deleted []int64
	err     error
}

func (s *fakeStore) EnsureGuild(_ context.Context, guildID int64) error {
	if s.err != nil {
		return s.err
	}
	s.ensured = append(s.ensured, guildID)
	return nil
}

func (s *fakeStore) DeleteGuild(_ context.Context, guildID int64) (bool, error) {
	if s.err != nil {
		return false, s.err
	}
	s.deleted = append(s.deleted, guildID)
	return true, nil
}

type updateCall struct {
	query string
	args  []any
}

// fakeCache serves rows from a table -> guild map and applies prefix updates
type fakeCache struct {
	rows      map[string]map[int64][]models.Row
	refreshed []string
	updates   []updateCall
	wiped     []int64
	getErr    error
}

func newFakeCache() *fakeCache {
	return &fakeCache{rows: make(map[string]map[int64][]models.Row)}
}

func (c *fakeCache) put(table string, guildID int64, row models.Row) {
	if c.rows[table] == nil {
		c.rows[table] = make(map[int64][]models.Row)
	}
	c.rows[table][guildID] = append(c.rows[table][guildID], row)
}

func (c *fakeCache) Get(_ context.Context, table string, guildID int64, filters ...cache.Filter) ([]models.Row, error) {
	if c.getErr != nil {
		return nil, c.getErr
	}
	out := []models.Row{}
	for _, row := range c.rows[table][guildID] {
		match := true
		for _, f := range filters {
			if row[f.Column] != f.Value {
				match = false
				break
			}
		}
		if match {
			out = append(out, row)
		}
	}
	return out, nil
}

func (c *fakeCache) GetOne(ctx context.Context, table string, guildID int64, filters ...cache.Filter) (models.Row, error) {
	rows, err := c.Get(ctx, table, guildID, filters...)
	if err != nil || len(rows) == 0 {
		return nil, err
	}
	return rows[0], nil
}

func (c *fakeCache) Refresh(_ context.Context, table string, _ int64) error {
	c.refreshed = append(c.refreshed, table)
	return nil
}

func (c *fakeCache) Update(_ context.Context, query string, args ...any) error {
	c.updates = append(c.updates, updateCall{query: query, args: args})
	guildID := args[1].(int64)
	if rows := c.rows["global_config"][guildID]; len(rows) > 0 {
		rows[0]["prefix"] = args[0]
	}
	return nil
}

func (c *fakeCache) Wipe(guildID int64) {
	c.wiped = append(c.wiped, guildID)
	for _, guilds := range c.rows {
		delete(guilds, guildID)
	}
}

type fakePoker struct {
	pokes int
}

func (p *fakePoker) Poke() { p.pokes++ }

// fakeReminders understands Go durations only
type fakeReminders struct {
	nextID    int64
	scheduled []*models.Timer
	cancelled []int64
	postponed []*models.Timer
	err       error
}

func (r *fakeReminders) ParseWhen(input string, now time.Time) (time.Time, error) {
	d, err := time.ParseDuration(input)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q", reminders.ErrUnparseableTime, input)
	}
	return now.Add(d), nil
}

func (r *fakeReminders) Schedule(_ context.Context, guildID, userID, channelID int64, when time.Time, text string) (*models.Timer, error) {
	if r.err != nil {
		return nil, r.err
	}
	r.nextID++
	timer := &models.Timer{
		ID:        r.nextID,
		GuildID:   guildID,
		UserID:    userID,
		ChannelID: sql.NullInt64{Int64: channelID, Valid: channelID != 0},
		Event:     models.TimerEventReminder,
		Expires:   when.Unix(),
		Notes:     sql.NullString{String: text, Valid: true},
	}
	r.scheduled = append(r.scheduled, timer)
	return timer, nil
}

func (r *fakeReminders) Cancel(_ context.Context, guildID, userID, id int64) error {
	for _, t := range r.scheduled {
		if t.ID == id && t.GuildID == guildID && t.UserID == userID {
			r.cancelled = append(r.cancelled, id)
			return nil
		}
	}
	return timers.ErrTimerNotFound
}

func (r *fakeReminders) Postpone(_ context.Context, timer *models.Timer, when time.Time) (*models.Timer, error) {
	if r.err != nil {
		return nil, r.err
	}
	r.nextID++
	next := timer.Clone()
	next.ID = r.nextID
	next.Expires = when.Unix()
	r.postponed = append(r.postponed, next)
	return next, nil
}

func (r *fakeReminders) List(_ context.Context, guildID, userID int64) ([]*models.Timer, error) {
	var out []*models.Timer
	for _, t := range r.scheduled {
		if t.GuildID == guildID && t.UserID == userID {
			out = append(out, t)
		}
	}
	return out, nil
}

// fakeLimiter allows every key not listed in denied
type fakeLimiter struct {
	allowed []string
	denied  map[string]time.Duration
	blocked map[string]time.Duration
}

func newFakeLimiter() *fakeLimiter {
	return &fakeLimiter{
		denied:  make(map[string]time.Duration),
		blocked: make(map[string]time.Duration),
	}
}

func (l *fakeLimiter) Allow(key string) bool {
	if _, ok := l.denied[key]; ok {
		return false
	}
	l.allowed = append(l.allowed, key)
	return true
}

func (l *fakeLimiter) RetryIn(key string) time.Duration {
	return l.denied[key]
}

func (l *fakeLimiter) Block(key string, d time.Duration) {
	l.blocked[key] = d
}
