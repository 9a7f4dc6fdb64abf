// Package scheduler runs the bot's periodic background jobs.
package scheduler

import (
	"fmt"
	"time"

	"github.com/go-co-op/gocron/v2"
	"go.uber.org/zap"

	"github.com/parsascontentcorner/guildwarden/internal/cache"
	"github.com/parsascontentcorner/guildwarden/internal/timers"
)

// TimerEngine is the part of the timer engine the jobs use
type TimerEngine interface {
	Poke()
	Stats() timers.Stats
}

// CacheEngine is the part of the guild cache the jobs use
type CacheEngine interface {
	Stats() cache.Stats
}

// Pruner forgets idle per-destination state
type Pruner interface {
	Prune(idle time.Duration) int
}

// Deps are the components the jobs act on. Limiter is optional.
type Deps struct {
	Timers  TimerEngine
	Cache   CacheEngine
	Limiter Pruner
}

// Config holds the job intervals
type Config struct {
	RescanInterval time.Duration
	StatsInterval  time.Duration
	PruneIdle      time.Duration
}

// Start registers the periodic jobs and starts the scheduler. The caller owns
// the returned scheduler and must Shutdown it.
func Start(deps Deps, cfg Config, logger *zap.Logger) (gocron.Scheduler, error) {
	timerEngine, cacheEngine := deps.Timers, deps.Cache
	if cfg.PruneIdle <= 0 {
		cfg.PruneIdle = time.Hour
	}
	if cfg.RescanInterval <= 0 || cfg.StatsInterval <= 0 {
		return nil, fmt.Errorf("job intervals must be positive (rescan %s, stats %s)", cfg.RescanInterval, cfg.StatsInterval)
	}

	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("failed to create scheduler: %w", err)
	}

	// Timers beyond the dispatcher horizon are only noticed by a re-query
	_, err = s.NewJob(
		gocron.DurationJob(cfg.RescanInterval),
		gocron.NewTask(func() {
			logger.Debug("rescanning timers")
			timerEngine.Poke()
		}),
		gocron.WithName("timer-rescan"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		_ = s.Shutdown()
		return nil, fmt.Errorf("failed to register timer rescan job: %w", err)
	}

	_, err = s.NewJob(
		gocron.DurationJob(cfg.StatsInterval),
		gocron.NewTask(func() {
			cs := cacheEngine.Stats()
			ts := timerEngine.Stats()

			fields := []zap.Field{
				zap.Int("cache_tables", cs.Tables),
				zap.Int("cache_slices", cs.LoadedSlices),
				zap.Int("cache_rows", cs.CachedRows),
				zap.Int64("cache_fetches", cs.StoreFetches),
				zap.Int64("cache_writes", cs.Writes),
				zap.Bool("dispatcher_running", ts.Running),
				zap.Int64("timers_fired", ts.Fired),
			}
			if ts.Armed != nil {
				fields = append(fields,
					zap.Int64("armed_timer_id", ts.Armed.ID),
					zap.Time("armed_expires", ts.Armed.ExpiresAt()),
				)
			}
			logger.Info("runtime stats", fields...)
		}),
		gocron.WithName("runtime-stats"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		_ = s.Shutdown()
		return nil, fmt.Errorf("failed to register stats job: %w", err)
	}

	if deps.Limiter != nil {
		_, err = s.NewJob(
			gocron.DurationJob(cfg.PruneIdle),
			gocron.NewTask(func() {
				if pruned := deps.Limiter.Prune(cfg.PruneIdle); pruned > 0 {
					logger.Debug("pruned idle delivery buckets", zap.Int("pruned", pruned))
				}
			}),
			gocron.WithName("limiter-prune"),
			gocron.WithSingletonMode(gocron.LimitModeReschedule),
		)
		if err != nil {
			_ = s.Shutdown()
			return nil, fmt.Errorf("failed to register limiter prune job: %w", err)
		}
	}

	s.Start()

	logger.Info("scheduler started",
		zap.Duration("rescan_interval", cfg.RescanInterval),
		zap.Duration("stats_interval", cfg.StatsInterval),
	)
	return s, nil
}
