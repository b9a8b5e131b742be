package query

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/scribehub/recordcache/internal/cache"
	apperrors "github.com/scribehub/recordcache/internal/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCoordinator(t *testing.T) (*Coordinator, *cache.Store) {
	t.Helper()
	store := cache.NewStore()
	cfg := DefaultConfig()
	cfg.RetryDelay = time.Millisecond
	cfg.MaxRetryDelay = 5 * time.Millisecond
	c := NewCoordinator(store, cfg, nil)
	t.Cleanup(c.Close)
	return c, store
}

func waitCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestSubscribeDeduplicatesConcurrentSubscribers(t *testing.T) {
	c, store := newTestCoordinator(t)
	key := cache.NewKey("list", map[string]any{"page": 1})

	var calls atomic.Int32
	release := make(chan struct{})
	fetch := func(ctx context.Context) (any, error) {
		calls.Add(1)
		<-release
		return "records", nil
	}

	subs := make([]*Subscription, 5)
	for i := range subs {
		subs[i] = c.Subscribe(key, fetch, Options{})
	}
	assert.True(t, c.IsFetching(key))
	close(release)

	for _, sub := range subs {
		e, err := sub.Wait(waitCtx(t))
		require.NoError(t, err)
		assert.Equal(t, "records", e.Data)
	}
	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, uint64(4), store.Stats().Deduplicated)

	e, ok := store.Get(key)
	require.True(t, ok)
	assert.Equal(t, 5, e.ObserverCount)
}

func TestSubscribeServesFreshDataWithoutFetching(t *testing.T) {
	c, _ := newTestCoordinator(t)
	key := cache.NewKey("stats", nil)

	var calls atomic.Int32
	fetch := func(ctx context.Context) (any, error) {
		calls.Add(1)
		return 42, nil
	}

	first := c.Subscribe(key, fetch, Options{})
	_, err := first.Wait(waitCtx(t))
	require.NoError(t, err)
	first.Unsubscribe()

	second := c.Subscribe(key, fetch, Options{})
	defer second.Unsubscribe()
	assert.Equal(t, cache.StatusSuccess, second.Status())
	assert.Equal(t, 42, second.Data())
	assert.Equal(t, int32(1), calls.Load())
}

func TestFetchRetriesTransientErrors(t *testing.T) {
	c, _ := newTestCoordinator(t)
	key := cache.NewKey("detail", map[string]any{"id": "m-1"})

	var calls atomic.Int32
	fetch := func(ctx context.Context) (any, error) {
		if calls.Add(1) < 3 {
			return nil, apperrors.NewNetworkError("get detail", errors.New("connection reset"))
		}
		return "detail", nil
	}

	sub := c.Subscribe(key, fetch, Options{})
	defer sub.Unsubscribe()

	e, err := sub.Wait(waitCtx(t))
	require.NoError(t, err)
	assert.Equal(t, "detail", e.Data)
	assert.Equal(t, int32(3), calls.Load())
}

func TestFetchDoesNotRetryClientErrors(t *testing.T) {
	c, _ := newTestCoordinator(t)
	key := cache.NewKey("detail", map[string]any{"id": "missing"})

	var calls atomic.Int32
	fetch := func(ctx context.Context) (any, error) {
		calls.Add(1)
		return nil, apperrors.NewNotFoundError("meeting", "missing")
	}

	sub := c.Subscribe(key, fetch, Options{})
	defer sub.Unsubscribe()

	e, err := sub.Wait(waitCtx(t))
	require.Error(t, err)
	assert.True(t, apperrors.IsNotFound(err))
	assert.Equal(t, cache.StatusError, e.Status)
	assert.Equal(t, int32(1), calls.Load())
}

func TestFetchErrorKeepsLastKnownGoodData(t *testing.T) {
	c, _ := newTestCoordinator(t)
	key := cache.NewKey("stats", nil)

	var fail atomic.Bool
	fetch := func(ctx context.Context) (any, error) {
		if fail.Load() {
			return nil, apperrors.NewServerError(400, "bad request")
		}
		return "v1", nil
	}

	sub := c.Subscribe(key, fetch, Options{})
	defer sub.Unsubscribe()
	_, err := sub.Wait(waitCtx(t))
	require.NoError(t, err)

	fail.Store(true)
	err = sub.Refetch(waitCtx(t))
	require.Error(t, err)

	e := sub.Entry()
	assert.Equal(t, cache.StatusError, e.Status)
	assert.Equal(t, "v1", e.Data)
	assert.Error(t, e.Err)
}

func TestPrefetchedDataIsReusedBySubscriber(t *testing.T) {
	c, store := newTestCoordinator(t)
	key := cache.NewKey("detail", map[string]any{"id": "t-9"})

	var calls atomic.Int32
	fetch := func(ctx context.Context) (any, error) {
		calls.Add(1)
		return "transcription", nil
	}

	require.NoError(t, c.Prefetch(waitCtx(t), key, fetch, Options{}))
	require.NoError(t, c.Prefetch(waitCtx(t), key, fetch, Options{}))

	e, ok := store.Get(key)
	require.True(t, ok)
	assert.Equal(t, 0, e.ObserverCount)

	sub := c.Subscribe(key, fetch, Options{})
	defer sub.Unsubscribe()
	assert.Equal(t, "transcription", sub.Data())
	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, uint64(1), store.Stats().Prefetches)
}

func TestInvalidateDiscardsInFlightResultAndRefetches(t *testing.T) {
	c, store := newTestCoordinator(t)
	key := cache.NewKey("list", nil)

	var calls atomic.Int32
	release := make(chan struct{})
	fetch := func(ctx context.Context) (any, error) {
		if calls.Add(1) == 1 {
			<-release
			return "old", nil
		}
		return "new", nil
	}

	sub := c.Subscribe(key, fetch, Options{})
	defer sub.Unsubscribe()

	keys := c.Invalidate(cache.MatchResource("list"))
	assert.Equal(t, []cache.QueryKey{key}, keys)
	close(release)

	assert.Eventually(t, func() bool {
		e := sub.Entry()
		return e.Status == cache.StatusSuccess && e.Data == "new"
	}, 2*time.Second, 5*time.Millisecond)

	assert.Equal(t, int32(2), calls.Load())
	assert.Equal(t, uint64(1), store.Stats().Discarded)
	assert.False(t, sub.Entry().Invalidated)
}

func TestInvalidateLeavesUnobservedEntriesStale(t *testing.T) {
	c, store := newTestCoordinator(t)
	key := cache.NewKey("search", map[string]any{"q": "budget"})

	var calls atomic.Int32
	fetch := func(ctx context.Context) (any, error) {
		calls.Add(1)
		return "hits", nil
	}
	require.NoError(t, c.Prefetch(waitCtx(t), key, fetch, Options{}))

	c.Invalidate(cache.MatchResource("search"))

	e, ok := store.Get(key)
	require.True(t, ok)
	assert.True(t, e.IsStale(store.Now(), time.Hour))
	assert.Equal(t, "hits", e.Data)
	assert.Equal(t, int32(1), calls.Load())
}

func TestRefetchIntervalFollowsData(t *testing.T) {
	c, _ := newTestCoordinator(t)
	key := cache.NewKey("list", nil)

	var processing atomic.Bool
	processing.Store(true)
	fetch := func(ctx context.Context) (any, error) {
		return processing.Load(), nil
	}
	interval := func(data any) time.Duration {
		if data.(bool) {
			return 2 * time.Minute
		}
		return 15 * time.Minute
	}

	sub := c.Subscribe(key, fetch, Options{RefetchInterval: interval})
	_, err := sub.Wait(waitCtx(t))
	require.NoError(t, err)
	assert.Eventually(t, func() bool {
		return c.Interval(key) == 2*time.Minute
	}, time.Second, 5*time.Millisecond)

	processing.Store(false)
	require.NoError(t, sub.Refetch(waitCtx(t)))
	assert.Eventually(t, func() bool {
		return c.Interval(key) == 15*time.Minute
	}, time.Second, 5*time.Millisecond)

	sub.Unsubscribe()
	assert.Zero(t, c.Interval(key))
}

func TestRefetchIntervalTimerFires(t *testing.T) {
	c, _ := newTestCoordinator(t)
	key := cache.NewKey("list", map[string]any{"status": "processing"})

	var calls atomic.Int32
	fetch := func(ctx context.Context) (any, error) {
		return int(calls.Add(1)), nil
	}

	sub := c.Subscribe(key, fetch, Options{
		RefetchInterval: func(any) time.Duration { return 20 * time.Millisecond },
	})
	defer sub.Unsubscribe()

	assert.Eventually(t, func() bool {
		return calls.Load() >= 3
	}, 2*time.Second, 5*time.Millisecond)
}

func TestWatcherDropsResultsForPreviousKey(t *testing.T) {
	c, _ := newTestCoordinator(t)
	first := cache.NewKey("list", map[string]any{"page": 1})
	second := cache.NewKey("list", map[string]any{"page": 2})

	release := make(chan struct{})
	slow := func(ctx context.Context) (any, error) {
		<-release
		return "page1", nil
	}
	fast := func(ctx context.Context) (any, error) {
		return "page2", nil
	}

	var mu sync.Mutex
	var seen []cache.Entry
	w := c.Watch(func(e cache.Entry) {
		mu.Lock()
		seen = append(seen, e)
		mu.Unlock()
	})
	defer w.Close()

	w.SetKey(first, slow, Options{})
	sub := w.SetKey(second, fast, Options{})
	require.NotNil(t, sub)
	_, err := sub.Wait(waitCtx(t))
	require.NoError(t, err)

	mu.Lock()
	switched := len(seen)
	mu.Unlock()
	close(release)

	assert.Eventually(t, func() bool { return !c.IsFetching(first) }, time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	for _, e := range seen[switched:] {
		assert.Equal(t, second, e.Key)
	}
	got, ok := w.Key()
	require.True(t, ok)
	assert.Equal(t, second, got)
	assert.Equal(t, "page2", w.Entry().Data)
}

func TestUnsubscribeMarksEntryIdle(t *testing.T) {
	c, store := newTestCoordinator(t)
	key := cache.NewKey("stats", nil)

	sub := c.Subscribe(key, func(ctx context.Context) (any, error) { return 1, nil }, Options{})
	_, err := sub.Wait(waitCtx(t))
	require.NoError(t, err)
	sub.Unsubscribe()
	sub.Unsubscribe()

	e, ok := store.Get(key)
	require.True(t, ok)
	assert.Equal(t, 0, e.ObserverCount)
	assert.False(t, e.IdleSince.IsZero())
}

func TestClosedCoordinatorRejectsFetches(t *testing.T) {
	c, _ := newTestCoordinator(t)
	c.Close()

	err := c.Prefetch(waitCtx(t), cache.NewKey("stats", nil), func(ctx context.Context) (any, error) {
		return 1, nil
	}, Options{})
	assert.ErrorIs(t, err, apperrors.ErrClosed)
}
