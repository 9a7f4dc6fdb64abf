package ratelimit

import (
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestNewRateLimiter(t *testing.T) {
	logger, _ := zap.NewDevelopment()
	limiter := NewRateLimiter(60, 2, logger)

	if limiter == nil {
		t.Fatal("Expected non-nil rate limiter")
	}

	if limiter.buckets == nil {
		t.Error("Expected buckets map to be initialized")
	}

	if limiter.burst != 2 {
		t.Errorf("Expected burst 2, got %d", limiter.burst)
	}
}

func TestNewRateLimiter_Defaults(t *testing.T) {
	limiter := NewRateLimiter(0, 0, zap.NewNop())

	if limiter.burst != 1 {
		t.Errorf("Expected default burst 1, got %d", limiter.burst)
	}

	if limiter.limit != 0.5 {
		t.Errorf("Expected default of 30 per minute, got %v per second", limiter.limit)
	}
}

func TestAllow_NewKey(t *testing.T) {
	limiter := NewRateLimiter(60, 5, zap.NewNop())

	if !limiter.Allow(ChannelKey(123)) {
		t.Fatal("Expected first delivery for a new key to be allowed")
	}

	if sent := limiter.Status(ChannelKey(123)).Sent; sent != 1 {
		t.Errorf("Expected 1 delivery recorded, got %d", sent)
	}
}

func TestRetryIn_BurstExhausted(t *testing.T) {
	// 600 per minute = one token every 100ms
	limiter := NewRateLimiter(600, 2, zap.NewNop())
	key := ChannelKey(1)

	if wait := limiter.RetryIn(key); wait != 0 {
		t.Errorf("Expected no wait for a fresh key, got %v", wait)
	}

	for i := 0; i < 2; i++ {
		if !limiter.Allow(key) {
			t.Fatalf("Expected delivery %d to be allowed", i+1)
		}
	}

	wait := limiter.RetryIn(key)
	if wait <= 0 || wait > 100*time.Millisecond {
		t.Errorf("Expected a wait of at most one token interval, got %v", wait)
	}

	// RetryIn must not consume anything
	if sent := limiter.Status(key).Sent; sent != 2 {
		t.Errorf("Expected 2 deliveries recorded, got %d", sent)
	}
}

func TestAllow(t *testing.T) {
	limiter := NewRateLimiter(1, 2, zap.NewNop())
	key := ChannelKey(5)

	if !limiter.Allow(key) || !limiter.Allow(key) {
		t.Fatal("Expected the burst to be allowed")
	}

	if limiter.Allow(key) {
		t.Error("Expected third delivery to be refused")
	}

	if sent := limiter.Status(key).Sent; sent != 2 {
		t.Errorf("Expected 2 deliveries recorded, got %d", sent)
	}
}

func TestBlock(t *testing.T) {
	limiter := NewRateLimiter(600, 5, zap.NewNop())
	key := ChannelKey(77)

	limiter.Block(key, time.Minute)

	if limiter.Allow(key) {
		t.Error("Expected Allow() to refuse while blocked")
	}

	if wait := limiter.RetryIn(key); wait < 59*time.Second {
		t.Errorf("Expected RetryIn() to honour the block, got %v", wait)
	}

	if !limiter.Allow(ChannelKey(78)) {
		t.Error("Expected a block to affect only its own key")
	}
}

func TestBlock_Expires(t *testing.T) {
	limiter := NewRateLimiter(600, 5, zap.NewNop())
	key := ChannelKey(79)

	limiter.Block(key, 30*time.Millisecond)
	time.Sleep(50 * time.Millisecond)

	if !limiter.Allow(key) {
		t.Error("Expected Allow() once the block has passed")
	}
}

func TestConcurrentAccess(t *testing.T) {
	limiter := NewRateLimiter(6000, 10, zap.NewNop())
	key := ChannelKey(42)

	// Multiple goroutines sharing one key
	done := make(chan bool)
	for i := 0; i < 10; i++ {
		go func() {
			if !limiter.Allow(key) {
				t.Error("Expected delivery inside the burst to be allowed")
			}
			limiter.Status(key)
			done <- true
		}()
	}

	for i := 0; i < 10; i++ {
		<-done
	}

	if sent := limiter.Status(key).Sent; sent != 10 {
		t.Errorf("Expected 10 deliveries, got %d", sent)
	}
}

func TestMultipleKeys(t *testing.T) {
	limiter := NewRateLimiter(1, 1, zap.NewNop())

	keys := []string{ChannelKey(1), ChannelKey(2), UserKey(1)}

	// Each key has its own bucket, so none of these block
	for _, key := range keys {
		if !limiter.Allow(key) {
			t.Errorf("Expected first delivery for %s to be allowed", key)
		}
	}

	if limiter.Len() != len(keys) {
		t.Errorf("Expected %d buckets, got %d", len(keys), limiter.Len())
	}
}

func TestPrune(t *testing.T) {
	limiter := NewRateLimiter(60, 1, zap.NewNop())

	limiter.Allow(ChannelKey(1))
	time.Sleep(30 * time.Millisecond)
	limiter.Allow(ChannelKey(2))

	if pruned := limiter.Prune(20 * time.Millisecond); pruned != 1 {
		t.Errorf("Expected 1 bucket pruned, got %d", pruned)
	}

	if limiter.Len() != 1 {
		t.Errorf("Expected 1 bucket left, got %d", limiter.Len())
	}
}

func TestReset(t *testing.T) {
	limiter := NewRateLimiter(60, 1, zap.NewNop())
	limiter.Allow(ChannelKey(1))

	limiter.Reset()

	if limiter.Len() != 0 {
		t.Errorf("Expected no buckets after reset, got %d", limiter.Len())
	}
}
