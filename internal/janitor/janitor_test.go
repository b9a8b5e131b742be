package janitor

import (
	"testing"
	"time"

	"github.com/scribehub/recordcache/internal/cache"
	apperrors "github.com/scribehub/recordcache/internal/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var start = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

func newTestStore(now *time.Time) *cache.Store {
	return cache.NewStore(cache.WithClock(func() time.Time { return *now }))
}

func TestSweep_EvictsIdleEntriesPastThreshold(t *testing.T) {
	now := start
	store := newTestStore(&now)
	j := New(store, Config{EvictAfter: 10 * time.Minute}, nil)

	idle := cache.NewKey("detail", map[string]any{"id": "old"})
	store.Observe(idle)
	store.Release(idle)

	now = now.Add(5 * time.Minute)
	assert.Empty(t, j.Sweep(now))

	now = now.Add(5 * time.Minute)
	assert.Equal(t, []cache.QueryKey{idle}, j.Sweep(now))
	_, ok := store.Get(idle)
	assert.False(t, ok)
	assert.Equal(t, uint64(1), store.Stats().Evictions)
}

func TestSweep_NeverEvictsObservedEntries(t *testing.T) {
	now := start
	store := newTestStore(&now)
	j := New(store, Config{EvictAfter: time.Minute}, nil)

	observed := cache.NewKey("list", nil)
	store.Observe(observed)

	now = now.Add(24 * time.Hour)
	assert.Empty(t, j.Sweep(now))
	_, ok := store.Get(observed)
	assert.True(t, ok)
}

func TestSweep_SkipsOptimisticAndLoadingEntries(t *testing.T) {
	now := start
	store := newTestStore(&now)
	j := New(store, Config{EvictAfter: time.Minute}, nil)

	optimistic := cache.NewKey("list", map[string]any{"page": 1})
	store.Upsert(optimistic, func(e *cache.Entry) bool {
		e.Optimistic = true
		return true
	})
	loading := cache.NewKey("list", map[string]any{"page": 2})
	store.Upsert(loading, func(e *cache.Entry) bool {
		e.Status = cache.StatusLoading
		return true
	})

	now = now.Add(time.Hour)
	assert.Empty(t, j.Sweep(now))
	assert.Equal(t, 2, store.Len())
}

func TestSweep_ReobservedEntryRestartsIdleClock(t *testing.T) {
	now := start
	store := newTestStore(&now)
	j := New(store, Config{EvictAfter: 10 * time.Minute}, nil)

	key := cache.NewKey("stats", nil)
	store.Observe(key)
	store.Release(key)

	now = now.Add(8 * time.Minute)
	store.Observe(key)
	store.Release(key)

	now = now.Add(8 * time.Minute)
	assert.Empty(t, j.Sweep(now))
}

func TestStartStop(t *testing.T) {
	now := start
	j := New(newTestStore(&now), Config{Enabled: true, Schedule: "@every 1m"}, nil)

	require.NoError(t, j.Start())
	assert.True(t, j.IsRunning())
	assert.ErrorIs(t, j.Start(), apperrors.ErrAlreadyRunning)

	require.NoError(t, j.Stop())
	assert.False(t, j.IsRunning())
	assert.ErrorIs(t, j.Stop(), apperrors.ErrNotRunning)
}

func TestStart_InvalidSchedule(t *testing.T) {
	now := start
	j := New(newTestStore(&now), Config{Enabled: true, Schedule: "every minute"}, nil)

	assert.Error(t, j.Start())
	assert.False(t, j.IsRunning())
}
