package timers

import (
	"context"
	"fmt"
	"sync"

	"github.com/parsascontentcorner/guildwarden/internal/database"
	"github.com/parsascontentcorner/guildwarden/internal/models"
)

var errLostReply = fmt.Errorf("%w: %w: delete_timer: read: connection reset", database.ErrStoreUnavailable, database.ErrOutcomeUnknown)

// memoryStore is an in-memory Store shared by one or more engines
type memoryStore struct {
	mu        sync.Mutex
	timers    map[int64]*models.Timer
	nextID    int64
	nextErrs  int
	nextCalls int

	lostClaims    int
	lostClaimsRan bool
	getCalls      int
}

func newMemoryStore() *memoryStore {
	return &memoryStore{timers: make(map[int64]*models.Timer)}
}

// seed inserts a timer directly, bypassing any engine
func (s *memoryStore) seed(guildID int64, event string, expires int64) *models.Timer {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	t := &models.Timer{ID: s.nextID, GuildID: guildID, UserID: 1, Event: event, Expires: expires}
	s.timers[t.ID] = t
	return t.Clone()
}

func (s *memoryStore) failNext(n int) {
	s.mu.Lock()
	s.nextErrs = n
	s.mu.Unlock()
}

// loseClaimReplies makes the next n DeleteTimerByID calls fail as if the
// connection broke after the statement was sent
func (s *memoryStore) loseClaimReplies(n int, applied bool) {
	s.mu.Lock()
	s.lostClaims = n
	s.lostClaimsRan = applied
	s.mu.Unlock()
}

func (s *memoryStore) gets() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getCalls
}

func (s *memoryStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

func (s *memoryStore) InsertTimer(_ context.Context, timer *models.Timer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	timer.ID = s.nextID
	s.timers[timer.ID] = timer.Clone()
	return nil
}

func (s *memoryStore) GetTimer(_ context.Context, id, guildID int64) (*models.Timer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.getCalls++
	t, ok := s.timers[id]
	if !ok || t.GuildID != guildID {
		return nil, ErrTimerNotFound
	}
	return t.Clone(), nil
}

func (s *memoryStore) UpdateTimer(_ context.Context, id, guildID, expires int64, notes *string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.timers[id]
	if !ok || t.GuildID != guildID {
		return false, nil
	}
	t.Expires = expires
	if notes != nil {
		t.Notes.String = *notes
		t.Notes.Valid = true
	}
	return true, nil
}

func (s *memoryStore) DeleteTimer(_ context.Context, id, guildID int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.timers[id]
	if !ok || t.GuildID != guildID {
		return false, nil
	}
	delete(s.timers, id)
	return true, nil
}

func (s *memoryStore) DeleteTimerByID(_ context.Context, id int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lostClaims > 0 {
		s.lostClaims--
		if s.lostClaimsRan {
			delete(s.timers, id)
		}
		return false, errLostReply
	}
	if _, ok := s.timers[id]; !ok {
		return false, nil
	}
	delete(s.timers, id)
	return true, nil
}

func (s *memoryStore) NextTimer(_ context.Context, before int64) (*models.Timer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextCalls++
	if s.nextErrs > 0 {
		s.nextErrs--
		return nil, errStoreDown
	}

	var next *models.Timer
	for _, t := range s.timers {
		if t.Expires >= before {
			continue
		}
		if next == nil || t.Expires < next.Expires || (t.Expires == next.Expires && t.ID < next.ID) {
			next = t
		}
	}
	return next.Clone(), nil
}

// recordingDispatcher remembers every dispatched timer in order
type recordingDispatcher struct {
	mu     sync.Mutex
	events []string
	fired  []*models.Timer
}

func (d *recordingDispatcher) Dispatch(_ context.Context, name string, payload any) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.events = append(d.events, name)
	d.fired = append(d.fired, payload.(*models.Timer))
}

func (d *recordingDispatcher) ids() []int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	ids := make([]int64, 0, len(d.fired))
	for _, t := range d.fired {
		ids = append(ids, t.ID)
	}
	return ids
}

func (d *recordingDispatcher) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.fired)
}
