package prefetch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/scribehub/recordcache/internal/behavior"
	"github.com/scribehub/recordcache/internal/cache"
	apperrors "github.com/scribehub/recordcache/internal/errors"
	"github.com/scribehub/recordcache/internal/platform"
	"github.com/scribehub/recordcache/internal/query"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type counter struct {
	mu    sync.Mutex
	calls map[cache.QueryKey]int
}

func (c *counter) fetcher(key cache.QueryKey) query.Fetcher {
	return func(context.Context) (any, error) {
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.calls == nil {
			c.calls = make(map[cache.QueryKey]int)
		}
		c.calls[key]++
		return key.String(), nil
	}
}

func (c *counter) count(key cache.QueryKey) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[key]
}

func (c *counter) total() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, v := range c.calls {
		n += v
	}
	return n
}

func (c *counter) target(key cache.QueryKey) Target {
	return Target{Key: key, Fetch: c.fetcher(key)}
}

type resolver struct{ c *counter }

func (r resolver) ListTarget(fs behavior.FilterSet) Target {
	return r.c.target(cache.NewKey("list", fs))
}

func (r resolver) DetailTarget(id string) Target {
	return r.c.target(cache.NewKey("detail", map[string]any{"id": id}))
}

func newTestEngine(t *testing.T, cfg Config) (*Engine, *query.Coordinator) {
	t.Helper()
	queries := query.NewCoordinator(cache.NewStore(), query.DefaultConfig(), nil)
	engine, err := NewEngine(queries, platform.NewTimerScheduler(), cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() {
		engine.Close()
		queries.Close()
	})
	return engine, queries
}

func TestHover_EndedBeforeDelayNeverFetches(t *testing.T) {
	engine, queries := newTestEngine(t, DefaultConfig())
	c := &counter{}
	key := cache.NewKey("detail", map[string]any{"id": "m-1"})

	intent := engine.HoverAfter(c.target(key), 50*time.Millisecond)
	assert.True(t, intent.End())
	assert.False(t, intent.End())

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 0, c.count(key))
	assert.False(t, intent.Fired())
	_, ok := queries.Store().Get(key)
	assert.False(t, ok)
}

func TestHover_LongHoverFetchesOnceAndIsReused(t *testing.T) {
	engine, queries := newTestEngine(t, DefaultConfig())
	c := &counter{}
	key := cache.NewKey("detail", map[string]any{"id": "m-1"})

	intent := engine.HoverAfter(c.target(key), 10*time.Millisecond)
	require.Eventually(t, func() bool {
		e, ok := queries.Store().Get(key)
		return ok && e.Status == cache.StatusSuccess
	}, 2*time.Second, 5*time.Millisecond)
	assert.True(t, intent.Fired())
	assert.False(t, intent.End())

	sub := queries.Subscribe(key, c.fetcher(key), query.Options{})
	defer sub.Unsubscribe()
	assert.Equal(t, key.String(), sub.Data())
	assert.Equal(t, 1, c.count(key))
}

func TestNextPage_WarmsSilentlyAfterCurrentResolves(t *testing.T) {
	engine, queries := newTestEngine(t, DefaultConfig())
	c := &counter{}
	page1 := cache.NewKey("list", map[string]any{"page": 1, "kind": "meeting"})
	page2 := cache.NewKey("list", map[string]any{"page": 2, "kind": "meeting"})

	var statuses []cache.Status
	var mu sync.Mutex
	stop := queries.Store().Listen(page2, func(e cache.Entry) {
		mu.Lock()
		statuses = append(statuses, e.Status)
		mu.Unlock()
	})
	defer stop()

	sub := queries.Subscribe(page1, c.fetcher(page1), query.Options{})
	defer sub.Unsubscribe()

	require.NoError(t, engine.NextPage(context.Background(), sub, func(data any) (Target, bool) {
		assert.Equal(t, page1.String(), data)
		return c.target(page2), true
	}))

	e, ok := queries.Store().Get(page2)
	require.True(t, ok)
	assert.Equal(t, cache.StatusSuccess, e.Status)
	assert.Equal(t, 0, e.ObserverCount)
	assert.Equal(t, 1, c.count(page2))

	mu.Lock()
	defer mu.Unlock()
	assert.NotContains(t, statuses, cache.StatusLoading)
}

func TestNextPage_SkipsWhenCurrentFails(t *testing.T) {
	engine, queries := newTestEngine(t, DefaultConfig())
	c := &counter{}
	page1 := cache.NewKey("list", map[string]any{"page": 1})
	page2 := cache.NewKey("list", map[string]any{"page": 2})

	sub := queries.Subscribe(page1, func(context.Context) (any, error) {
		return nil, apperrors.NewValidationError("page", "out of range")
	}, query.Options{})
	defer sub.Unsubscribe()

	err := engine.NextPage(context.Background(), sub, func(any) (Target, bool) {
		return c.target(page2), true
	})
	assert.True(t, apperrors.IsValidation(err))
	assert.Equal(t, 0, c.count(page2))
}

func TestNextPage_SkipsLastPage(t *testing.T) {
	engine, queries := newTestEngine(t, DefaultConfig())
	c := &counter{}
	page1 := cache.NewKey("list", map[string]any{"page": 1})

	sub := queries.Subscribe(page1, c.fetcher(page1), query.Options{})
	defer sub.Unsubscribe()

	require.NoError(t, engine.NextPage(context.Background(), sub, func(any) (Target, bool) {
		return Target{}, false
	}))
	assert.Equal(t, 1, c.total())
}

func TestBehavior_WarmsTopSignals(t *testing.T) {
	cfg := DefaultConfig()
	cfg.BehaviorRate = 1000
	cfg.BehaviorBurst = 20
	engine, _ := newTestEngine(t, cfg)
	c := &counter{}

	profile := behavior.Profile{
		CommonFilterSets: []behavior.FilterSet{
			{"kind": "meeting"},
			{"status": "processing"},
			{"kind": "transcription"},
			{"status": "failed"},
		},
	}
	for i := range 7 {
		profile.RecentlyViewed = append(profile.RecentlyViewed, fmt.Sprintf("m-%d", i))
	}

	issued := engine.Behavior(context.Background(), profile, resolver{c})
	assert.Equal(t, 8, issued)
	assert.Equal(t, 8, c.total())
	assert.Equal(t, 0, c.count(cache.NewKey("list", map[string]any{"status": "failed"})))
	assert.Equal(t, 0, c.count(cache.NewKey("detail", map[string]any{"id": "m-5"})))

	again := engine.Behavior(context.Background(), profile, resolver{c})
	assert.Equal(t, 0, again)
	assert.Equal(t, 8, c.total())
}

func TestBehavior_RateLimited(t *testing.T) {
	cfg := DefaultConfig()
	cfg.BehaviorRate = 1
	cfg.BehaviorBurst = 1
	engine, _ := newTestEngine(t, cfg)
	c := &counter{}

	profile := behavior.Profile{RecentlyViewed: []string{"a", "b", "c"}}
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	assert.Equal(t, 1, engine.Behavior(ctx, profile, resolver{c}))
	assert.Equal(t, 1, c.total())
}

func TestClose_CancelsPendingHovers(t *testing.T) {
	queries := query.NewCoordinator(cache.NewStore(), query.DefaultConfig(), nil)
	defer queries.Close()
	engine, err := NewEngine(queries, platform.NewTimerScheduler(), DefaultConfig(), nil)
	require.NoError(t, err)

	var calls atomic.Int32
	key := cache.NewKey("detail", map[string]any{"id": "m-1"})
	intent := engine.HoverAfter(Target{Key: key, Fetch: func(context.Context) (any, error) {
		calls.Add(1)
		return nil, errors.New("unexpected")
	}}, 30*time.Millisecond)

	engine.Close()
	time.Sleep(60 * time.Millisecond)
	assert.Zero(t, calls.Load())
	assert.False(t, intent.End())

	late := engine.HoverAfter(Target{Key: key}, time.Millisecond)
	assert.False(t, late.End())
}
