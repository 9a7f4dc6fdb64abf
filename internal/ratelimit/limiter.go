// Package ratelimit paces outgoing Discord deliveries per destination.
package ratelimit

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Bucket is the token bucket for one destination (a channel or a DM)
type Bucket struct {
	Sent         int64     // Deliveries let through
	BlockedUntil time.Time // Set after Discord answered 429
	LastUsed     time.Time
	limiter      *rate.Limiter
	mu           sync.Mutex
}

// Status is a snapshot of one bucket
type Status struct {
	Tokens       float64
	Burst        int
	Sent         int64
	BlockedUntil time.Time
}

// RateLimiter hands out delivery slots per destination key
type RateLimiter struct {
	buckets map[string]*Bucket // key -> bucket
	mu      sync.RWMutex
	limit   rate.Limit
	burst   int
	logger  *zap.Logger
}

// NewRateLimiter allows perMinute deliveries per key with the given burst
func NewRateLimiter(perMinute, burst int, logger *zap.Logger) *RateLimiter {
	if perMinute <= 0 {
		perMinute = 30
	}
	if burst <= 0 {
		burst = 1
	}
	return &RateLimiter{
		buckets: make(map[string]*Bucket),
		limit:   rate.Every(time.Minute / time.Duration(perMinute)),
		burst:   burst,
		logger:  logger,
	}
}

// ChannelKey is the limiter key for a guild channel
func ChannelKey(channelID int64) string {
	return fmt.Sprintf("channel:%d", channelID)
}

// UserKey is the limiter key for a direct message to a user
func UserKey(userID int64) string {
	return fmt.Sprintf("user:%d", userID)
}

// getBucket retrieves or creates the bucket for a key
func (rl *RateLimiter) getBucket(key string) *Bucket {
	rl.mu.RLock()
	bucket, exists := rl.buckets[key]
	rl.mu.RUnlock()
	if exists {
		return bucket
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()

	if bucket, exists := rl.buckets[key]; exists {
		return bucket
	}

	bucket = &Bucket{
		LastUsed: time.Now(),
		limiter:  rate.NewLimiter(rl.limit, rl.burst),
	}
	rl.buckets[key] = bucket
	return bucket
}

// Allow reports whether key may deliver right now, consuming a token if so
func (rl *RateLimiter) Allow(key string) bool {
	bucket := rl.getBucket(key)

	bucket.mu.Lock()
	defer bucket.mu.Unlock()

	if time.Now().Before(bucket.BlockedUntil) || !bucket.limiter.Allow() {
		return false
	}
	bucket.Sent++
	bucket.LastUsed = time.Now()
	return true
}

// RetryIn returns how long until key may deliver again. It consumes nothing.
func (rl *RateLimiter) RetryIn(key string) time.Duration {
	bucket := rl.getBucket(key)

	bucket.mu.Lock()
	defer bucket.mu.Unlock()

	wait := time.Until(bucket.BlockedUntil)
	if tokens := bucket.limiter.Tokens(); tokens < 1 {
		refill := time.Duration((1 - tokens) / float64(bucket.limiter.Limit()) * float64(time.Second))
		if refill > wait {
			wait = refill
		}
	}
	if wait < 0 {
		return 0
	}
	return wait
}

// Block stops deliveries to key for d, after Discord rejected one with 429
func (rl *RateLimiter) Block(key string, d time.Duration) {
	if d <= 0 {
		d = time.Second
	}

	bucket := rl.getBucket(key)
	bucket.mu.Lock()
	bucket.BlockedUntil = time.Now().Add(d)
	bucket.mu.Unlock()

	rl.logger.Warn("rate limited by Discord API",
		zap.String("key", key),
		zap.Duration("retry_after", d),
	)
}

// Status returns the current state of a key's bucket
func (rl *RateLimiter) Status(key string) Status {
	bucket := rl.getBucket(key)

	bucket.mu.Lock()
	defer bucket.mu.Unlock()

	return Status{
		Tokens:       bucket.limiter.Tokens(),
		Burst:        bucket.limiter.Burst(),
		Sent:         bucket.Sent,
		BlockedUntil: bucket.BlockedUntil,
	}
}

// Prune drops buckets unused for longer than idle and returns how many went
func (rl *RateLimiter) Prune(idle time.Duration) int {
	cutoff := time.Now().Add(-idle)

	rl.mu.Lock()
	defer rl.mu.Unlock()

	pruned := 0
	for key, bucket := range rl.buckets {
		bucket.mu.Lock()
		stale := bucket.LastUsed.Before(cutoff) && time.Now().After(bucket.BlockedUntil)
		bucket.mu.Unlock()
		if stale {
			delete(rl.buckets, key)
			pruned++
		}
	}
	return pruned
}

// Len returns the number of tracked keys
func (rl *RateLimiter) Len() int {
	rl.mu.RLock()
	defer rl.mu.RUnlock()
	return len(rl.buckets)
}

// Reset clears all buckets
func (rl *RateLimiter) Reset() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	rl.buckets = make(map[string]*Bucket)
	rl.logger.Info("rate limiter reset")
}
