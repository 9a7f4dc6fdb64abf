package database

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/parsascontentcorner/guildwarden/internal/config"
)

// ErrStoreUnavailable is returned when the store stayed unreachable for the
// whole retry window.
var ErrStoreUnavailable = errors.New("store unavailable")

// ErrOutcomeUnknown is returned alongside ErrStoreUnavailable when the
// connection broke after a write was sent. The write may or may not have
// been applied.
var ErrOutcomeUnknown = errors.New("write outcome unknown")

// RetryConfig bounds how long a store call keeps retrying connection failures
type RetryConfig struct {
	Initial    time.Duration
	MaxElapsed time.Duration
}

func retryConfigFrom(cfg *config.DatabaseConfig) RetryConfig {
	rc := RetryConfig{
		Initial:    cfg.RetryInitial,
		MaxElapsed: cfg.RetryMaxElapse,
	}
	if rc.Initial <= 0 {
		rc.Initial = 200 * time.Millisecond
	}
	if rc.MaxElapsed <= 0 {
		rc.MaxElapsed = 30 * time.Second
	}
	return rc
}

// SetRetryConfig replaces the retry window used by store calls
func (db *DB) SetRetryConfig(rc RetryConfig) {
	db.retry = rc
}

// withRetry runs fn, retrying connection-class failures with exponential
// backoff. Any other failure is returned on the first attempt. Only use it
// for reads and for writes that are safe to apply twice.
func (db *DB) withRetry(ctx context.Context, op string, fn func() error) error {
	return db.runWithRetry(ctx, op, isTransient, fn)
}

// withWriteRetry runs a write that must not be applied twice. It only retries
// failures that happened before the statement reached the server; a broken
// connection after that surfaces as ErrOutcomeUnknown on the first attempt.
func (db *DB) withWriteRetry(ctx context.Context, op string, fn func() error) error {
	return db.runWithRetry(ctx, op, isUnsent, fn)
}

func (db *DB) runWithRetry(ctx context.Context, op string, retryable func(error) bool, fn func() error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = db.retry.Initial
	b.MaxElapsedTime = db.retry.MaxElapsed

	err := backoff.RetryNotify(func() error {
		err := fn()
		if err == nil {
			return nil
		}
		if !retryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}, backoff.WithContext(b, ctx), func(err error, wait time.Duration) {
		db.logger.Warn("store call failed, retrying",
			zap.String("operation", op),
			zap.Duration("wait", wait),
			zap.Error(err),
		)
	})
	if err == nil {
		return nil
	}
	if !isTransient(err) {
		return err
	}

	if !retryable(err) {
		db.logger.Error("connection lost after write was sent",
			zap.String("operation", op),
			zap.Error(err),
		)
		return fmt.Errorf("%w: %w: %s: %w", ErrStoreUnavailable, ErrOutcomeUnknown, op, err)
	}

	db.logger.Error("store unavailable",
		zap.String("operation", op),
		zap.Error(err),
	)
	return fmt.Errorf("%w: %s: %w", ErrStoreUnavailable, op, err)
}

// uncommittedError marks a failure inside a transaction that never committed.
// The server rolls such a transaction back, so it is safe to run again.
type uncommittedError struct {
	err error
}

func (e *uncommittedError) Error() string { return e.err.Error() }
func (e *uncommittedError) Unwrap() error { return e.err }

func uncommitted(err error) error {
	if err == nil {
		return nil
	}
	return &uncommittedError{err: err}
}

// isUnsent reports whether err is a connection failure that happened before
// any statement reached the server.
func isUnsent(err error) bool {
	if !isTransient(err) {
		return false
	}

	var ue *uncommittedError
	if errors.As(err, &ue) {
		return true
	}
	// database/sql and lib/pq only report ErrBadConn for a statement never sent
	if errors.Is(err, driver.ErrBadConn) {
		return true
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		return true
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		// refused during connection startup
		case "08001", "08004", "57P03", "53300":
			return true
		}
	}
	return false
}

// isTransient reports whether err looks like a lost or refused connection
func isTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		if pqErr.Code.Class() == "08" {
			return true
		}
		switch pqErr.Code {
		case "57P01", "57P02", "57P03", "53300":
			return true
		}
		return false
	}

	var netErr net.Error
	return errors.As(err, &netErr)
}
