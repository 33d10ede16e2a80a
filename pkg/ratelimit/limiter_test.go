package ratelimit

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func TestAdmit_RejectsThirtyFirstWithinWindow(t *testing.T) {
	clock := newClock()
	l := New(DefaultConfig(), WithClock(clock.Now))
	ctx := context.Background()

	for i := 0; i < 30; i++ {
		d, err := l.Admit(ctx, "key-a")
		require.NoError(t, err)
		require.True(t, d.Allowed, "request %d", i+1)
		require.Equal(t, 29-i, d.Remaining)
		clock.Advance(time.Second)
	}

	d, err := l.Admit(ctx, "key-a")
	require.NoError(t, err)
	require.False(t, d.Allowed)
	require.Equal(t, 60*time.Second, d.RetryAfter)

	other, err := l.Admit(ctx, "key-b")
	require.NoError(t, err)
	require.True(t, other.Allowed, "identities are independent")

	// The first admission was at t=0 and the clock is at t=30s.
	clock.Advance(30 * time.Second)
	d, err = l.Admit(ctx, "key-a")
	require.NoError(t, err)
	require.True(t, d.Allowed)
}

func TestAdmit_BurstAdmittedAgainAfterWindow(t *testing.T) {
	clock := newClock()
	l := New(Config{Limit: 3, Window: time.Minute}, WithClock(clock.Now))
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		d, err := l.Admit(ctx, "k")
		require.NoError(t, err)
		require.True(t, d.Allowed)
	}
	d, _ := l.Admit(ctx, "k")
	require.False(t, d.Allowed)

	clock.Advance(d.RetryAfter)
	d, err := l.Admit(ctx, "k")
	require.NoError(t, err)
	require.True(t, d.Allowed)
}

func TestAdmit_RejectionsAreNotRecorded(t *testing.T) {
	clock := newClock()
	store := NewMemoryStore()
	l := New(Config{Limit: 1, Window: time.Minute}, WithClock(clock.Now), WithStore(store))
	ctx := context.Background()

	d, _ := l.Admit(ctx, "k")
	require.True(t, d.Allowed)
	clock.Advance(30 * time.Second)
	for i := 0; i < 5; i++ {
		d, _ = l.Admit(ctx, "k")
		require.False(t, d.Allowed)
	}
	clock.Advance(30 * time.Second)
	d, _ = l.Admit(ctx, "k")
	require.True(t, d.Allowed)
}

func TestAdmit_EmptyIdentity(t *testing.T) {
	_, err := New(DefaultConfig()).Admit(context.Background(), "  ")
	require.Error(t, err)
}

func TestSweep_DropsIdleWindows(t *testing.T) {
	clock := newClock()
	store := NewMemoryStore()
	l := New(DefaultConfig(), WithClock(clock.Now), WithStore(store))
	ctx := context.Background()

	_, _ = l.Admit(ctx, "idle")
	clock.Advance(30 * time.Second)
	_, _ = l.Admit(ctx, "active")
	require.Equal(t, 2, store.Len())

	clock.Advance(31 * time.Second)
	require.Equal(t, 1, l.sweepOnce(ctx))
	require.Equal(t, 1, store.Len())

	clock.Advance(time.Minute)
	require.Equal(t, 1, l.sweepOnce(ctx))
	require.Zero(t, store.Len())
}

func TestRun_StopsOnCancel(t *testing.T) {
	l := New(Config{SweepInterval: time.Millisecond})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()
	time.Sleep(5 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("sweep loop did not stop")
	}
}

func TestPrune(t *testing.T) {
	base := time.Unix(0, 0)
	ts := []time.Time{base, base.Add(time.Second), base.Add(2 * time.Second)}
	require.Len(t, prune(ts, base.Add(-time.Second)), 3)
	require.Len(t, prune(ts, base), 2)
	require.Empty(t, prune(ts, base.Add(5*time.Second)))
}

func TestRedisStore(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { _ = client.Close() })

	clock := newClock()
	prefix := "discordbridge-test:" + uuid.NewString() + ":"
	l := New(Config{Limit: 2, Window: time.Minute}, WithClock(clock.Now), WithStore(NewRedisStore(client, prefix)))
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		d, err := l.Admit(ctx, "k")
		require.NoError(t, err)
		require.True(t, d.Allowed)
	}
	d, err := l.Admit(ctx, "k")
	require.NoError(t, err)
	require.False(t, d.Allowed)
	require.Equal(t, time.Minute, d.RetryAfter)

	clock.Advance(time.Minute)
	d, err = l.Admit(ctx, "k")
	require.NoError(t, err)
	require.True(t, d.Allowed)
}
