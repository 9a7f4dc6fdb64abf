// Package http serves the bot's health and status endpoints.
package http

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/parsascontentcorner/guildwarden/internal/cache"
	"github.com/parsascontentcorner/guildwarden/internal/timers"
)

// CacheStatus reports on the guild cache
type CacheStatus interface {
	IsReady() bool
	Stats() cache.Stats
}

// TimerStatus reports on the timer dispatcher
type TimerStatus interface {
	Stats() timers.Stats
}

// HealthChecker pings the store
type HealthChecker interface {
	Health(ctx context.Context) error
}

// StatusResponse is the body of /status
type StatusResponse struct {
	Status   string       `json:"status"`
	Uptime   string       `json:"uptime"`
	Database string       `json:"database"`
	Cache    cache.Stats  `json:"cache"`
	Timers   timers.Stats `json:"timers"`
}

// Handlers contains all HTTP handlers
type Handlers struct {
	cache   CacheStatus
	timers  TimerStatus
	db      HealthChecker
	started time.Time
	logger  *zap.Logger
}

// NewHandlers creates a new handlers instance
func NewHandlers(cacheStatus CacheStatus, timerStatus TimerStatus, db HealthChecker, logger *zap.Logger) *Handlers {
	return &Handlers{
		cache:   cacheStatus,
		timers:  timerStatus,
		db:      db,
		started: time.Now(),
		logger:  logger,
	}
}

// HealthHandler reports that the process is up
func (h *Handlers) HealthHandler(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte("OK")); err != nil {
		h.logger.Error("failed to write health check response", zap.Error(err))
	}
}

// ReadyHandler returns 503 until the cache has started and the store answers
func (h *Handlers) ReadyHandler(w http.ResponseWriter, r *http.Request) {
	if !h.cache.IsReady() {
		h.writeText(w, http.StatusServiceUnavailable, "cache not ready")
		return
	}

	if err := h.db.Health(r.Context()); err != nil {
		h.logger.Warn("readiness check failed", zap.Error(err))
		h.writeText(w, http.StatusServiceUnavailable, "database unavailable")
		return
	}

	h.writeText(w, http.StatusOK, "READY")
}

// StatusHandler returns cache and timer statistics as JSON
func (h *Handlers) StatusHandler(w http.ResponseWriter, r *http.Request) {
	resp := StatusResponse{
		Status:   "ok",
		Uptime:   time.Since(h.started).Round(time.Second).String(),
		Database: "ok",
		Cache:    h.cache.Stats(),
		Timers:   h.timers.Stats(),
	}

	if !h.cache.IsReady() {
		resp.Status = "starting"
	}
	if err := h.db.Health(r.Context()); err != nil {
		resp.Status = "degraded"
		resp.Database = err.Error()
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		h.logger.Error("failed to write status response", zap.Error(err))
	}
}

func (h *Handlers) writeText(w http.ResponseWriter, status int, body string) {
	w.WriteHeader(status)
	if _, err := w.Write([]byte(body)); err != nil {
		h.logger.Error("failed to write response", zap.Error(err))
	}
}
