package services

import (
	"sync"
	"time"
)

const (
	DefaultRateLimitMaxAttempts = 5
	DefaultRateLimitWindow      = 60 * time.Second
)

// RateLimitConfig holds configuration for the sliding-window limiter
type RateLimitConfig struct {
	MaxAttempts int
	Window      time.Duration
}

// DefaultRateLimitConfig returns 5 attempts per 60 seconds
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		MaxAttempts: DefaultRateLimitMaxAttempts,
		Window:      DefaultRateLimitWindow,
	}
}

// RateLimiter counts attempts per key inside a sliding window. Each attempt
// expires Window after it was recorded; there are no fixed buckets.
//
// A single mutex guards the whole map so that CheckLimit is one atomic
// check-and-record step.
type RateLimiter struct {
	mu       sync.Mutex
	attempts map[string][]time.Time // oldest first
	config   RateLimitConfig
	now      func() time.Time
}

// NewRateLimiter creates a RateLimiter; non-positive values fall back to defaults
func NewRateLimiter(config RateLimitConfig) *RateLimiter {
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = DefaultRateLimitMaxAttempts
	}
	if config.Window <= 0 {
		config.Window = DefaultRateLimitWindow
	}

	return &RateLimiter{
		attempts: make(map[string][]time.Time),
		config:   config,
		now:      time.Now,
	}
}

// SetClock replaces the time source. Intended for tests.
func (rl *RateLimiter) SetClock(now func() time.Time) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.now = now
}

// Config returns the limiter configuration
func (rl *RateLimiter) Config() RateLimitConfig {
	return rl.config
}

// CheckLimit records an attempt for key and returns true if the key is under
// the limit. When the limit is reached nothing is recorded and false is returned.
func (rl *RateLimiter) CheckLimit(key string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	window := rl.pruneLocked(key, now)
	if len(window) >= rl.config.MaxAttempts {
		return false
	}

	rl.attempts[key] = append(window, now)
	return true
}

// GetRemainingAttempts returns how many attempts key has left in the current window
func (rl *RateLimiter) GetRemainingAttempts(key string) int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	remaining := rl.config.MaxAttempts - len(rl.pruneLocked(key, rl.now()))
	if remaining < 0 {
		return 0
	}
	return remaining
}

// GetTimeUntilReset returns the time until the oldest counted attempt for key
// expires. The bool is false when key has no counted attempts.
func (rl *RateLimiter) GetTimeUntilReset(key string) (time.Duration, bool) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	window := rl.pruneLocked(key, now)
	if len(window) == 0 {
		return 0, false
	}
	return window[0].Add(rl.config.Window).Sub(now), true
}

// Reset forgets all attempts for key
func (rl *RateLimiter) Reset(key string) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	delete(rl.attempts, key)
}

// Cleanup drops expired attempts for every key and removes keys left empty.
// Returns the number of keys removed.
func (rl *RateLimiter) Cleanup() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	removed := 0
	for key := range rl.attempts {
		if len(rl.pruneLocked(key, now)) == 0 {
			removed++
		}
	}
	return removed
}

// TrackedKeys returns the number of keys currently held in memory
func (rl *RateLimiter) TrackedKeys() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.attempts)
}

// pruneLocked drops attempts older than now-Window and returns what is left.
// An attempt recorded exactly Window ago still counts. Must hold rl.mu.
func (rl *RateLimiter) pruneLocked(key string, now time.Time) []time.Time {
	window, ok := rl.attempts[key]
	if !ok {
		return nil
	}

	cutoff := now.Add(-rl.config.Window)
	expired := 0
	for expired < len(window) && window[expired].Before(cutoff) {
		expired++
	}

	if expired == len(window) {
		delete(rl.attempts, key)
		return nil
	}
	if expired > 0 {
		// Copy down so the backing array does not pin expired entries
		window = append(window[:0], window[expired:]...)
		rl.attempts[key] = window
	}
	return window
}
