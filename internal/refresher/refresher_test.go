package refresher

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/scribehub/recordcache/internal/cache"
	apperrors "github.com/scribehub/recordcache/internal/errors"
	"github.com/scribehub/recordcache/internal/query"
	"github.com/stretchr/testify/assert"
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
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestRefresher(t *testing.T) (*Refresher, *query.Coordinator, *fakeClock) {
	t.Helper()
	clock := &fakeClock{now: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)}
	store := cache.NewStore(cache.WithClock(clock.Now))
	cfg := query.DefaultConfig()
	cfg.MaxRetries = 0
	queries := query.NewCoordinator(store, cfg, nil)
	t.Cleanup(queries.Close)
	return New(queries, Config{Enabled: true, Interval: time.Hour, MaxConcurrent: 2}, nil), queries, clock
}

type source struct {
	calls atomic.Int32
	fail  atomic.Bool
}

func (s *source) fetch(context.Context) (any, error) {
	n := s.calls.Add(1)
	if s.fail.Load() {
		return nil, apperrors.NewServerError(503, "unavailable")
	}
	return int(n), nil
}

func TestSweep_RevalidatesObservedEntriesPastSoftThreshold(t *testing.T) {
	r, queries, clock := newTestRefresher(t)
	key := cache.NewKey("list", nil)
	src := &source{}

	sub := queries.Subscribe(key, src.fetch, query.Options{})
	defer sub.Unsubscribe()
	_, err := sub.Wait(context.Background())
	require.NoError(t, err)

	var mu sync.Mutex
	var statuses []cache.Status
	stop := queries.Store().Listen(key, func(e cache.Entry) {
		mu.Lock()
		statuses = append(statuses, e.Status)
		mu.Unlock()
	})
	defer stop()

	n, err := r.Sweep(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)

	clock.Advance(4*time.Minute + time.Second)
	n, err = r.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 2, sub.Data())

	mu.Lock()
	defer mu.Unlock()
	assert.NotContains(t, statuses, cache.StatusLoading)
}

func TestSweep_IgnoresUnobservedEntries(t *testing.T) {
	r, queries, clock := newTestRefresher(t)
	key := cache.NewKey("detail", map[string]any{"id": "m-1"})
	src := &source{}

	require.NoError(t, queries.Prefetch(context.Background(), key, src.fetch, query.Options{}))
	clock.Advance(time.Hour)

	assert.Empty(t, r.Candidates(clock.Now()))
	n, err := r.Sweep(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, int32(1), src.calls.Load())
}

func TestSweep_FailureKeepsStaleData(t *testing.T) {
	r, queries, clock := newTestRefresher(t)
	key := cache.NewKey("stats", nil)
	src := &source{}

	sub := queries.Subscribe(key, src.fetch, query.Options{})
	defer sub.Unsubscribe()
	_, err := sub.Wait(context.Background())
	require.NoError(t, err)

	src.fail.Store(true)
	clock.Advance(5 * time.Minute)

	n, err := r.Sweep(context.Background())
	assert.Error(t, err)
	assert.Zero(t, n)

	e := sub.Entry()
	assert.Equal(t, 1, e.Data)
	assert.Equal(t, cache.StatusError, e.Status)

	stats := r.GetStats()
	assert.Equal(t, int64(1), stats.TotalFailed)
	assert.Equal(t, int64(1), stats.TotalRuns)
}

func TestStartStop(t *testing.T) {
	r, _, _ := newTestRefresher(t)

	require.NoError(t, r.Start(context.Background()))
	assert.True(t, r.IsRunning())
	assert.ErrorIs(t, r.Start(context.Background()), apperrors.ErrAlreadyRunning)
	assert.Equal(t, StatusRunning, r.GetStats().Status)

	require.NoError(t, r.Stop())
	assert.False(t, r.IsRunning())
	assert.ErrorIs(t, r.Stop(), apperrors.ErrNotRunning)
	assert.Equal(t, StatusStopped, r.GetStats().Status)
}

func TestStart_DisabledIsNoop(t *testing.T) {
	_, queries, _ := newTestRefresher(t)
	r := New(queries, Config{Enabled: false}, nil)

	require.NoError(t, r.Start(context.Background()))
	assert.False(t, r.IsRunning())
}

func TestTickerDrivesSweep(t *testing.T) {
	_, queries, clock := newTestRefresher(t)
	r := New(queries, Config{Enabled: true, Interval: 10 * time.Millisecond}, nil)
	key := cache.NewKey("list", map[string]any{"page": 3})
	src := &source{}

	sub := queries.Subscribe(key, src.fetch, query.Options{})
	defer sub.Unsubscribe()
	_, err := sub.Wait(context.Background())
	require.NoError(t, err)
	clock.Advance(10 * time.Minute)

	require.NoError(t, r.Start(context.Background()))
	defer func() { _ = r.Stop() }()

	assert.Eventually(t, func() bool { return src.calls.Load() >= 2 }, 2*time.Second, 5*time.Millisecond)
}
