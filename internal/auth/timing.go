package auth

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"time"
)

// TimingConfig holds configuration for response time flattening
type TimingConfig struct {
	MinDuration    time.Duration // Floor for a failed authentication response
	Jitter         time.Duration // Random extra delay in [0, Jitter)
	DelayOnSuccess bool
}

// TimingDelay pads authentication responses so failures take roughly the
// same wall time whichever factor failed.
type TimingDelay struct {
	config TimingConfig
	now    func() time.Time
	sleep  func(ctx context.Context, d time.Duration)
}

// NewTimingDelay creates a new TimingDelay instance
func NewTimingDelay(config TimingConfig) *TimingDelay {
	return &TimingDelay{
		config: config,
		now:    time.Now,
		sleep:  sleepContext,
	}
}

// cryptoRandDuration returns a uniformly random duration in [0, max)
func cryptoRandDuration(max time.Duration) time.Duration {
	if max <= 0 {
		return 0
	}

	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return 0
	}
	return time.Duration(binary.BigEndian.Uint64(buf[:]) % uint64(max))
}

// WaitFrom blocks until at least MinDuration plus jitter has passed since
// start. Returns early if ctx is cancelled.
func (td *TimingDelay) WaitFrom(ctx context.Context, start time.Time, success bool) {
	if success && !td.config.DelayOnSuccess {
		return
	}

	target := td.config.MinDuration + cryptoRandDuration(td.config.Jitter)
	if elapsed := td.now().Sub(start); elapsed < target {
		td.sleep(ctx, target-elapsed)
	}
}

func sleepContext(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
