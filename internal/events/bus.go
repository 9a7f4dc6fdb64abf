// Package events fans dispatched events out to in-process subscribers.
package events

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Handler consumes one dispatched event
type Handler func(ctx context.Context, payload any) error

// Bus delivers events to every handler subscribed to the event name
type Bus struct {
	// Map of event name -> handlers, in subscription order
	handlers map[string][]Handler
	mu       sync.RWMutex
	logger   *zap.Logger
}

// NewBus creates an empty event bus
func NewBus(logger *zap.Logger) *Bus {
	return &Bus{
		handlers: make(map[string][]Handler),
		logger:   logger,
	}
}

// Subscribe registers a handler for an event name
func (b *Bus) Subscribe(name string, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.handlers[name] = append(b.handlers[name], handler)

	b.logger.Debug("handler subscribed",
		zap.String("event", name),
		zap.Int("handlers", len(b.handlers[name])),
	)
}

// HandlerCount returns how many handlers are subscribed to an event name
func (b *Bus) HandlerCount(name string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.handlers[name])
}

// Dispatch runs every handler of name in order on the caller's goroutine.
// Handler errors and panics are logged and never reach the caller.
func (b *Bus) Dispatch(ctx context.Context, name string, payload any) {
	b.mu.RLock()
	handlers := make([]Handler, len(b.handlers[name]))
	copy(handlers, b.handlers[name])
	b.mu.RUnlock()

	dispatchID := uuid.NewString()
	logger := b.logger.With(
		zap.String("event", name),
		zap.String("dispatch_id", dispatchID),
	)

	if len(handlers) == 0 {
		logger.Debug("no handlers for event")
		return
	}

	start := time.Now()
	failed := 0
	for i, handler := range handlers {
		if err := invoke(ctx, handler, payload); err != nil {
			failed++
			logger.Error("event handler failed",
				zap.Int("handler", i),
				zap.Error(err),
			)
		}
	}

	logger.Debug("event dispatched",
		zap.Int("handlers", len(handlers)),
		zap.Int("failed", failed),
		zap.Duration("duration", time.Since(start)),
	)
}

func invoke(ctx context.Context, handler Handler, payload any) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panicked: %v", r)
		}
	}()
	return handler(ctx, payload)
}
