// Package timers runs durable, scheduled events stored in the timers table.
//
// A single dispatch loop per process keeps at most one timer armed: the
// soonest one inside the horizon. Writes that could change which timer is
// soonest wake the loop, which re-queries the store instead of trusting its
// in-memory view.
package timers

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/parsascontentcorner/guildwarden/internal/database"
	"github.com/parsascontentcorner/guildwarden/internal/models"
)

// DefaultHorizon is how far ahead the dispatcher looks for timers
const DefaultHorizon = 40 * 24 * time.Hour

const defaultRetryDelay = 5 * time.Second

// Errors returned by the engine
var (
	ErrTimerNotFound       = database.ErrTimerNotFound
	ErrTimerTooFarInFuture = errors.New("timer expires beyond the scheduling horizon")
	ErrInvalidExpiry       = errors.New("timer expiry must be in the future")
	ErrAlreadyRunning      = errors.New("timer dispatcher is already running")
)

// Store persists timers
type Store interface {
	InsertTimer(ctx context.Context, timer *models.Timer) error
	GetTimer(ctx context.Context, id, guildID int64) (*models.Timer, error)
	UpdateTimer(ctx context.Context, id, guildID, expires int64, notes *string) (bool, error)
	DeleteTimer(ctx context.Context, id, guildID int64) (bool, error)
	DeleteTimerByID(ctx context.Context, id int64) (bool, error)
	NextTimer(ctx context.Context, before int64) (*models.Timer, error)
}

var _ Store = (*database.DB)(nil)

// Dispatcher receives completed timers
type Dispatcher interface {
	Dispatch(ctx context.Context, name string, payload any)
}

// Stats describes the dispatcher state
type Stats struct {
	Running bool          `json:"running"`
	Armed   *models.Timer `json:"armed,omitempty"`
	Fired   int64         `json:"fired"`
}

// Engine creates timers and fires them when they expire
type Engine struct {
	store      Store
	dispatcher Dispatcher
	logger     *zap.Logger
	horizon    time.Duration
	retryDelay time.Duration

	mu      sync.Mutex
	current *models.Timer

	wake    chan struct{}
	running atomic.Bool
	fired   atomic.Int64
}

// Option configures an Engine
type Option func(*Engine)

// WithHorizon sets how far ahead timers are accepted and armed
func WithHorizon(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.horizon = d
		}
	}
}

// WithRetryDelay sets the pause after a failed store call in the dispatch loop
func WithRetryDelay(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.retryDelay = d
		}
	}
}

// TimerOption sets optional timer fields on creation
type TimerOption func(*models.Timer)

// WithChannel attaches the channel the timer was created from
func WithChannel(channelID int64) TimerOption {
	return func(t *models.Timer) {
		t.ChannelID.Int64 = channelID
		t.ChannelID.Valid = true
	}
}

// WithNotes attaches free-form notes to the timer
func WithNotes(notes string) TimerOption {
	return func(t *models.Timer) {
		t.Notes.String = notes
		t.Notes.Valid = true
	}
}

// NewEngine creates a timer engine. Nothing fires until Run is called.
func NewEngine(store Store, dispatcher Dispatcher, logger *zap.Logger, opts ...Option) *Engine {
	e := &Engine{
		store:      store,
		dispatcher: dispatcher,
		logger:     logger,
		horizon:    DefaultHorizon,
		retryDelay: defaultRetryDelay,
		wake:       make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// CreateTimer stores a new timer and re-arms the dispatcher if it is now the
// soonest one.
func (e *Engine) CreateTimer(ctx context.Context, expires time.Time, event string, guildID, userID int64, opts ...TimerOption) (*models.Timer, error) {
	if err := e.validateExpiry(expires); err != nil {
		return nil, err
	}

	timer := &models.Timer{
		GuildID: guildID,
		UserID:  userID,
		Event:   event,
		Expires: expires.Unix(),
	}
	for _, opt := range opts {
		opt(timer)
	}

	if err := e.store.InsertTimer(ctx, timer); err != nil {
		return nil, fmt.Errorf("failed to create timer: %w", err)
	}

	e.logger.Info("timer created",
		zap.Int64("timer_id", timer.ID),
		zap.String("event", event),
		zap.Int64("guild_id", guildID),
		zap.Time("expires", timer.ExpiresAt()),
	)

	if e.isSooner(timer.Expires) {
		e.Poke()
	}

	return timer.Clone(), nil
}

// GetTimer returns a pending timer of a guild
func (e *Engine) GetTimer(ctx context.Context, id, guildID int64) (*models.Timer, error) {
	timer, err := e.store.GetTimer(ctx, id, guildID)
	if err != nil {
		if errors.Is(err, ErrTimerNotFound) {
			return nil, ErrTimerNotFound
		}
		return nil, fmt.Errorf("failed to get timer: %w", err)
	}
	return timer, nil
}

// UpdateTimer moves a timer to a new expiry and, when newNotes is non-nil,
// replaces its notes.
func (e *Engine) UpdateTimer(ctx context.Context, newExpiry time.Time, id, guildID int64, newNotes *string) error {
	if err := e.validateExpiry(newExpiry); err != nil {
		return err
	}

	updated, err := e.store.UpdateTimer(ctx, id, guildID, newExpiry.Unix(), newNotes)
	if err != nil {
		return fmt.Errorf("failed to update timer: %w", err)
	}
	if !updated {
		return ErrTimerNotFound
	}

	e.logger.Info("timer updated",
		zap.Int64("timer_id", id),
		zap.Int64("guild_id", guildID),
		zap.Time("expires", time.Unix(newExpiry.Unix(), 0)),
	)

	// moving the armed timer later must also re-arm, another timer may now be first
	if e.isArmed(id) || e.isSooner(newExpiry.Unix()) {
		e.Poke()
	}
	return nil
}

// CancelTimer deletes a pending timer. A timer that already fired is not found.
func (e *Engine) CancelTimer(ctx context.Context, id, guildID int64) error {
	deleted, err := e.store.DeleteTimer(ctx, id, guildID)
	if err != nil {
		return fmt.Errorf("failed to cancel timer: %w", err)
	}
	if !deleted {
		return ErrTimerNotFound
	}

	e.logger.Info("timer cancelled",
		zap.Int64("timer_id", id),
		zap.Int64("guild_id", guildID),
	)

	if e.isArmed(id) {
		e.Poke()
	}
	return nil
}

// Current returns a copy of the armed timer, or nil when the dispatcher is idle
func (e *Engine) Current() *models.Timer {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.current.Clone()
}

// Stats returns a snapshot of the dispatcher state
func (e *Engine) Stats() Stats {
	return Stats{
		Running: e.running.Load(),
		Armed:   e.Current(),
		Fired:   e.fired.Load(),
	}
}

// Poke asks the dispatch loop to re-query the store. It never blocks and
// signals sent while one is pending are merged.
func (e *Engine) Poke() {
	select {
	case e.wake <- struct{}{}:
	default:
	}
}

// Run is the dispatch loop. It blocks until ctx is done.
func (e *Engine) Run(ctx context.Context) error {
	if !e.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer e.running.Store(false)

	e.logger.Info("timer dispatcher started", zap.Duration("horizon", e.horizon))

	for ctx.Err() == nil {
		e.setCurrent(nil)

		timer, err := e.store.NextTimer(ctx, time.Now().Add(e.horizon).Unix())
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			e.logger.Error("failed to query next timer",
				zap.Error(err),
				zap.Duration("retry_in", e.retryDelay),
			)
			e.sleep(ctx, e.retryDelay)
			continue
		}

		if timer == nil {
			e.logger.Debug("no pending timers, idling")
			e.idle(ctx)
			continue
		}

		e.setCurrent(timer)
		if !e.waitUntilDue(ctx, timer) {
			continue
		}
		e.fire(ctx, timer)
	}

	e.setCurrent(nil)
	e.logger.Info("timer dispatcher stopped")
	return nil
}

// waitUntilDue reports whether timer came due before a wake signal or shutdown
func (e *Engine) waitUntilDue(ctx context.Context, timer *models.Timer) bool {
	wait := time.Until(timer.ExpiresAt())
	if wait <= 0 {
		return true
	}

	e.logger.Debug("timer armed",
		zap.Int64("timer_id", timer.ID),
		zap.Duration("wait", wait),
	)

	alarm := time.NewTimer(wait)
	defer alarm.Stop()

	select {
	case <-alarm.C:
		return true
	case <-e.wake:
		return false
	case <-ctx.Done():
		return false
	}
}

// fire claims the timer by deleting it and dispatches it only if this call
// removed the row. A concurrent cancel or another process wins otherwise.
func (e *Engine) fire(ctx context.Context, timer *models.Timer) {
	claimed, err := e.store.DeleteTimerByID(ctx, timer.ID)
	e.setCurrent(nil)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		if !errors.Is(err, database.ErrOutcomeUnknown) {
			e.logger.Error("failed to claim timer",
				zap.Int64("timer_id", timer.ID),
				zap.Error(err),
			)
			e.sleep(ctx, e.retryDelay)
			return
		}

		e.logger.Warn("timer claim reply lost, checking the row",
			zap.Int64("timer_id", timer.ID),
			zap.Error(err),
		)
		claimed = e.resolveClaim(ctx, timer)
	}
	if !claimed {
		e.logger.Debug("timer already claimed", zap.Int64("timer_id", timer.ID))
		return
	}

	e.fired.Add(1)
	e.logger.Info("timer fired",
		zap.Int64("timer_id", timer.ID),
		zap.String("event", timer.CompletionEvent()),
		zap.Int64("guild_id", timer.GuildID),
		zap.Duration("lateness", time.Since(timer.ExpiresAt())),
	)

	e.dispatcher.Dispatch(ctx, timer.CompletionEvent(), timer)
}

// resolveClaim decides a delete whose reply was lost. A row that is still
// stored was not deleted and stays pending for the next pass. A missing row
// is taken as removed by that delete.
func (e *Engine) resolveClaim(ctx context.Context, timer *models.Timer) bool {
	for ctx.Err() == nil {
		_, err := e.store.GetTimer(ctx, timer.ID, timer.GuildID)
		if err == nil {
			return false
		}
		if errors.Is(err, ErrTimerNotFound) {
			return true
		}
		if ctx.Err() != nil {
			break
		}

		e.logger.Error("failed to check timer after lost claim",
			zap.Int64("timer_id", timer.ID),
			zap.Error(err),
			zap.Duration("retry_in", e.retryDelay),
		)
		e.sleep(ctx, e.retryDelay)
	}
	return false
}

func (e *Engine) sleep(ctx context.Context, d time.Duration) {
	pause := time.NewTimer(d)
	defer pause.Stop()

	select {
	case <-pause.C:
	case <-e.wake:
	case <-ctx.Done():
	}
}

func (e *Engine) idle(ctx context.Context) {
	select {
	case <-e.wake:
	case <-ctx.Done():
	}
}

func (e *Engine) validateExpiry(expires time.Time) error {
	now := time.Now()
	if !expires.After(now) {
		return ErrInvalidExpiry
	}
	if !expires.Before(now.Add(e.horizon)) {
		return fmt.Errorf("%w: %s is more than %s away", ErrTimerTooFarInFuture, expires.Format(time.RFC3339), e.horizon)
	}
	return nil
}

func (e *Engine) setCurrent(timer *models.Timer) {
	e.mu.Lock()
	e.current = timer.Clone()
	e.mu.Unlock()
}

// isSooner reports whether a timer expiring at expires should replace the
// armed one. With nothing armed the loop is idle or mid-query, so it is.
func (e *Engine) isSooner(expires int64) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.current == nil || expires < e.current.Expires
}

func (e *Engine) isArmed(id int64) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.current != nil && e.current.ID == id
}
