// Package cache keeps per-guild copies of guild-scoped tables in memory.
//
// Slices are loaded lazily on first read and replaced wholesale on Refresh.
// There is no TTL: every write that touches cached data must go through
// Write or Update, or be followed by an explicit Refresh.
package cache

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/parsascontentcorner/guildwarden/internal/models"
)

// Errors returned by the engine
var (
	ErrNotReady             = errors.New("cache is not ready")
	ErrUnknownTable         = errors.New("unknown cache table")
	ErrInvalidFilterKey     = errors.New("invalid filter key")
	ErrUnsupportedStatement = errors.New("unsupported statement")
	ErrSchemaParse          = errors.New("could not infer statement schema")
)

// Store is the persistent store the cache reads from and writes through
type Store interface {
	TableColumns(ctx context.Context) (map[string][]string, error)
	FetchGuildRows(ctx context.Context, table string, guildID int64) (*models.RowSet, error)
	ExecInTx(ctx context.Context, query string, args ...any) error
}

// Filter is an exact-match column predicate. Like SQL's col = NULL, a nil
// Value matches no row, not even rows whose cell is NULL.
type Filter struct {
	Column string
	Value  any
}

// Where builds a Filter
func Where(column string, value any) Filter {
	return Filter{Column: column, Value: value}
}

// Stats describes the cache contents
type Stats struct {
	Tables       int   `json:"tables"`
	LoadedSlices int   `json:"loaded_slices"`
	CachedRows   int   `json:"cached_rows"`
	StoreFetches int64 `json:"store_fetches"`
	Writes       int64 `json:"writes"`
}

type table struct {
	columns []string
	guilds  map[int64]*models.RowSet
}

// Engine is the guild cache
type Engine struct {
	store    Store
	logger   *zap.Logger
	excluded map[string]bool

	mu     sync.RWMutex
	tables map[string]*table

	ready     chan struct{}
	readyOnce sync.Once

	fetches atomic.Int64
	writes  atomic.Int64
}

// Option configures an Engine
type Option func(*Engine)

// WithExcludedTables keeps the named tables out of the cache
func WithExcludedTables(names ...string) Option {
	return func(e *Engine) {
		for _, name := range names {
			e.excluded[name] = true
		}
	}
}

// NewEngine creates a cache engine. It serves nothing until Start completes.
func NewEngine(store Store, logger *zap.Logger, opts ...Option) *Engine {
	e := &Engine{
		store:    store,
		logger:   logger,
		excluded: make(map[string]bool),
		tables:   make(map[string]*table),
		ready:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Start registers an empty table for every guild-scoped table in the store
// and marks the cache ready.
func (e *Engine) Start(ctx context.Context) error {
	start := time.Now()

	columns, err := e.store.TableColumns(ctx)
	if err != nil {
		return fmt.Errorf("failed to enumerate tables: %w", err)
	}

	e.mu.Lock()
	for name, cols := range columns {
		if e.excluded[name] {
			continue
		}
		if _, exists := e.tables[name]; exists {
			continue
		}
		e.tables[name] = &table{
			columns: cols,
			guilds:  make(map[int64]*models.RowSet),
		}
	}
	count := len(e.tables)
	e.mu.Unlock()

	e.readyOnce.Do(func() { close(e.ready) })

	e.logger.Info("guild cache ready",
		zap.Int("tables", count),
		zap.Duration("duration", time.Since(start)),
	)
	return nil
}

// Ready returns a channel closed once the cache has started
func (e *Engine) Ready() <-chan struct{} {
	return e.ready
}

// IsReady reports whether Start has completed
func (e *Engine) IsReady() bool {
	select {
	case <-e.ready:
		return true
	default:
		return false
	}
}

// WaitReady blocks until the cache is ready or ctx is done
func (e *Engine) WaitReady(ctx context.Context) error {
	select {
	case <-e.ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Tables returns the registered table names in sorted order
func (e *Engine) Tables() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()

	names := make([]string, 0, len(e.tables))
	for name := range e.tables {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Get returns the rows of a table for a guild that match every filter.
// The first read of a (table, guild) pair loads it from the store. An empty
// result is always a non-nil, zero-length slice.
func (e *Engine) Get(ctx context.Context, tableName string, guildID int64, filters ...Filter) ([]models.Row, error) {
	if !e.IsReady() {
		return nil, ErrNotReady
	}

	rows, loaded, err := e.lookup(tableName, guildID, filters)
	if err != nil || loaded {
		return rows, err
	}

	if err := e.Refresh(ctx, tableName, guildID); err != nil {
		return nil, err
	}

	// one retry only; a slice still missing here was dropped concurrently
	rows, loaded, err = e.lookup(tableName, guildID, filters)
	if err != nil {
		return nil, err
	}
	if !loaded {
		return []models.Row{}, nil
	}
	return rows, nil
}

// GetOne returns the first matching row, or nil when nothing matches
func (e *Engine) GetOne(ctx context.Context, tableName string, guildID int64, filters ...Filter) (models.Row, error) {
	rows, err := e.Get(ctx, tableName, guildID, filters...)
	if err != nil || len(rows) == 0 {
		return nil, err
	}
	return rows[0], nil
}

func (e *Engine) lookup(tableName string, guildID int64, filters []Filter) ([]models.Row, bool, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	t, ok := e.tables[tableName]
	if !ok {
		return nil, false, fmt.Errorf("%w: %s", ErrUnknownTable, tableName)
	}

	set, ok := t.guilds[guildID]
	if !ok || set == nil {
		return nil, false, nil
	}

	rows, err := filterRows(tableName, set, filters)
	return rows, true, err
}

// filterRows intersects the row indices matching each filter
func filterRows(tableName string, set *models.RowSet, filters []Filter) ([]models.Row, error) {
	for _, f := range filters {
		if !set.HasColumn(f.Column) {
			return nil, fmt.Errorf("%w: %q is not a column of %s", ErrInvalidFilterKey, f.Column, tableName)
		}
	}

	candidates := make([]int, 0, len(set.Rows))
	for i := range set.Rows {
		candidates = append(candidates, i)
	}

	for _, f := range filters {
		kept := candidates[:0]
		for _, i := range candidates {
			if valuesEqual(set.Rows[i][f.Column], f.Value) {
				kept = append(kept, i)
			}
		}
		candidates = kept
		if len(candidates) == 0 {
			break
		}
	}

	rows := make([]models.Row, 0, len(candidates))
	for _, i := range candidates {
		rows = append(rows, set.Rows[i].Clone())
	}
	return rows, nil
}

// Refresh reloads one guild's slice of a table from the store
func (e *Engine) Refresh(ctx context.Context, tableName string, guildID int64) error {
	if !e.IsReady() {
		return ErrNotReady
	}
	if !e.hasTable(tableName) {
		return fmt.Errorf("%w: %s", ErrUnknownTable, tableName)
	}

	e.fetches.Add(1)
	set, err := e.store.FetchGuildRows(ctx, tableName, guildID)
	if err != nil {
		return fmt.Errorf("failed to refresh %s for guild %d: %w", tableName, guildID, err)
	}

	e.mu.Lock()
	if t, ok := e.tables[tableName]; ok {
		t.guilds[guildID] = set
	}
	e.mu.Unlock()

	e.logger.Debug("refreshed guild cache",
		zap.String("table", tableName),
		zap.Int64("guild_id", guildID),
		zap.Int("rows", set.Len()),
	)
	return nil
}

// Write executes a statement the caller knows touches only tableName for
// guildID, then refreshes that slice.
func (e *Engine) Write(ctx context.Context, tableName string, guildID int64, query string, args ...any) error {
	if !e.IsReady() {
		return ErrNotReady
	}
	if !e.hasTable(tableName) {
		return fmt.Errorf("%w: %s", ErrUnknownTable, tableName)
	}

	e.writes.Add(1)
	if err := e.store.ExecInTx(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to write %s: %w", tableName, err)
	}

	return e.Refresh(ctx, tableName, guildID)
}

// Update executes an INSERT, UPDATE or DELETE and refreshes every cached
// table it names, for the guild bound to its guild_id column. Statements
// whose guild cannot be inferred fail with ErrSchemaParse before anything
// is executed; use Write or an explicit Refresh for those.
func (e *Engine) Update(ctx context.Context, query string, args ...any) error {
	if !e.IsReady() {
		return ErrNotReady
	}

	stmt, err := ParseStatement(query, e.Tables())
	if err != nil {
		return err
	}

	guildID, err := stmt.GuildID(args)
	if err != nil {
		return err
	}

	e.writes.Add(1)
	if err := e.store.ExecInTx(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to execute update: %w", err)
	}

	for _, tableName := range stmt.Tables {
		if err := e.Refresh(ctx, tableName, guildID); err != nil {
			return err
		}
	}
	return nil
}

// Wipe marks a guild as loaded-and-empty in every table. Later reads return
// no rows without going back to the store.
func (e *Engine) Wipe(guildID int64) {
	e.mu.Lock()
	for _, t := range e.tables {
		t.guilds[guildID] = models.NewEmptyRowSet(t.columns)
	}
	e.mu.Unlock()

	e.logger.Info("wiped guild cache", zap.Int64("guild_id", guildID))
}

// Stats returns a snapshot of the cache contents
func (e *Engine) Stats() Stats {
	e.mu.RLock()
	defer e.mu.RUnlock()

	stats := Stats{
		Tables:       len(e.tables),
		StoreFetches: e.fetches.Load(),
		Writes:       e.writes.Load(),
	}
	for _, t := range e.tables {
		stats.LoadedSlices += len(t.guilds)
		for _, set := range t.guilds {
			stats.CachedRows += set.Len()
		}
	}
	return stats
}

func (e *Engine) hasTable(name string) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	_, ok := e.tables[name]
	return ok
}

// valuesEqual compares a stored value against a filter value, treating all
// integer kinds alike and []byte like string. NULL equals nothing.
func valuesEqual(stored, want any) bool {
	a, b := normalize(stored), normalize(want)
	if a == nil || b == nil {
		return false
	}

	switch av := a.(type) {
	case int64:
		if bv, ok := b.(float64); ok {
			return float64(av) == bv
		}
	case float64:
		if bv, ok := b.(int64); ok {
			return av == float64(bv)
		}
	case time.Time:
		if bv, ok := b.(time.Time); ok {
			return av.Equal(bv)
		}
		return false
	}

	return reflect.DeepEqual(a, b)
}

func normalize(v any) any {
	switch x := v.(type) {
	case int:
		return int64(x)
	case int8:
		return int64(x)
	case int16:
		return int64(x)
	case int32:
		return int64(x)
	case uint:
		return int64(x)
	case uint8:
		return int64(x)
	case uint16:
		return int64(x)
	case uint32:
		return int64(x)
	case uint64:
		return int64(x)
	case float32:
		return float64(x)
	case []byte:
		return string(x)
	case *string:
		if x == nil {
			return nil
		}
		return *x
	default:
		return v
	}
}
