package background

import (
	"context"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hht-diary/authcore/internal/services"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingSweeper struct {
	calls atomic.Int32
}

func (s *countingSweeper) Cleanup() int {
	s.calls.Add(1)
	return 0
}

func TestCleanupManager_SweepsOnInterval(t *testing.T) {
	sweeper := &countingSweeper{}
	cm := NewCleanupManager(sweeper, slog.Default(), 5*time.Millisecond)

	done := make(chan struct{})
	go func() {
		cm.Start(context.Background())
		close(done)
	}()

	require.Eventually(t, func() bool { return sweeper.calls.Load() >= 2 }, time.Second, time.Millisecond)

	cm.Stop()
	cm.Stop()
	<-done
}

func TestCleanupManager_StopsOnContextCancel(t *testing.T) {
	cm := NewCleanupManager(&countingSweeper{}, slog.Default(), time.Hour)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		cm.Start(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("cleanup manager did not stop")
	}
}

func TestCleanupManager_SweepsRateLimiter(t *testing.T) {
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	limiter := services.NewRateLimiter(services.DefaultRateLimitConfig())
	limiter.SetClock(func() time.Time { return now })

	limiter.CheckLimit("callisto:203.0.113.7:alice")
	require.Equal(t, 1, limiter.TrackedKeys())

	now = now.Add(2 * time.Minute)
	cm := NewCleanupManager(limiter, slog.Default(), time.Hour)
	cm.runCleanup()

	assert.Equal(t, 0, limiter.TrackedKeys())
}
