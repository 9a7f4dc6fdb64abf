package cache

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/parsascontentcorner/guildwarden/internal/database"
	"github.com/parsascontentcorner/guildwarden/internal/models"
)

var _ Store = (*database.DB)(nil)

// fakeStore is an in-memory Store that counts round trips
type fakeStore struct {
	mu       sync.Mutex
	columns  map[string][]string
	rows     map[string][]models.Row
	fetches  map[string]int
	execs    []string
	execHook func(query string, args []any) error
	fetchErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		columns: map[string][]string{
			"global_config": {"guild_id", "prefix", "mute_role_id"},
			"permissions":   {"guild_id", "ptype", "target_id", "allow"},
			"tags":          {"guild_id", "name", "content", "owner_id"},
			"timers":        {"id", "guild_id", "user_id", "event", "expires"},
		},
		rows:    make(map[string][]models.Row),
		fetches: make(map[string]int),
	}
}

func (s *fakeStore) addRow(table string, row models.Row) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows[table] = append(s.rows[table], row)
}

func (s *fakeStore) fetchCount(table string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fetches[table]
}

func (s *fakeStore) TableColumns(_ context.Context) (map[string][]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string][]string, len(s.columns))
	for k, v := range s.columns {
		out[k] = append([]string(nil), v...)
	}
	return out, nil
}

func (s *fakeStore) FetchGuildRows(_ context.Context, table string, guildID int64) (*models.RowSet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fetches[table]++
	if s.fetchErr != nil {
		return nil, s.fetchErr
	}

	set := models.NewEmptyRowSet(s.columns[table])
	for _, row := range s.rows[table] {
		if row["guild_id"] == guildID {
			set.Rows = append(set.Rows, row.Clone())
		}
	}
	return set, nil
}

func (s *fakeStore) ExecInTx(_ context.Context, query string, args ...any) error {
	s.mu.Lock()
	s.execs = append(s.execs, strings.TrimSpace(query))
	hook := s.execHook
	s.mu.Unlock()

	if hook != nil {
		return hook(query, args)
	}
	return nil
}

var errStoreDown = errors.New("store down")
