// Package query resolves cache keys to fetches. It deduplicates concurrent
// requests per key, retries transient failures, keeps last known good data on
// error and schedules adaptive refetches while a key is observed.
package query

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/scribehub/recordcache/internal/cache"
	apperrors "github.com/scribehub/recordcache/internal/errors"
	"golang.org/x/sync/singleflight"
)

// Fetcher loads the value of one key from the backend.
type Fetcher func(ctx context.Context) (any, error)

// IntervalFunc derives the refetch interval from freshly fetched data.
// A non-positive result disables interval refetching until the next fetch.
type IntervalFunc func(data any) time.Duration

// Options tune a subscription or prefetch.
type Options struct {
	// StaleTime is how long fetched data is served without refetching.
	// Zero uses the coordinator default.
	StaleTime time.Duration
	// RefetchInterval is recomputed after every successful fetch.
	RefetchInterval IntervalFunc
	// OnChange is called with every new state of the entry.
	OnChange func(cache.Entry)
}

// Config holds coordinator-wide defaults.
type Config struct {
	StaleTime        time.Duration
	SoftRefreshAfter time.Duration
	HardStaleAfter   time.Duration
	MaxRetries       int
	RetryDelay       time.Duration
	MaxRetryDelay    time.Duration
	FetchTimeout     time.Duration
}

// DefaultConfig returns a coordinator configuration with sensible defaults.
func DefaultConfig() Config {
	return Config{
		StaleTime:        5 * time.Minute,
		SoftRefreshAfter: 4 * time.Minute,
		HardStaleAfter:   10 * time.Minute,
		MaxRetries:       3,
		RetryDelay:       500 * time.Millisecond,
		MaxRetryDelay:    8 * time.Second,
		FetchTimeout:     30 * time.Second,
	}
}

type mode int

const (
	// foreground fetches flip the entry to loading.
	foreground mode = iota
	// background fetches are silent: status is untouched until the result lands.
	background
)

type registration struct {
	fetcher  Fetcher
	interval IntervalFunc
	stale    time.Duration
}

// Coordinator owns every fetch that writes into a store.
type Coordinator struct {
	store  *cache.Store
	cfg    Config
	group  singleflight.Group
	logger *slog.Logger

	mu       sync.Mutex
	regs     map[cache.QueryKey]registration
	inflight map[cache.QueryKey]int
	pending  map[cache.QueryKey]bool
	timers   map[cache.QueryKey]*time.Timer
	closed   bool

	ctx    context.Context
	cancel context.CancelFunc
}

// NewCoordinator creates a coordinator writing into store.
func NewCoordinator(store *cache.Store, cfg Config, logger *slog.Logger) *Coordinator {
	def := DefaultConfig()
	if cfg.StaleTime <= 0 {
		cfg.StaleTime = def.StaleTime
	}
	if cfg.SoftRefreshAfter <= 0 {
		cfg.SoftRefreshAfter = def.SoftRefreshAfter
	}
	if cfg.HardStaleAfter <= 0 {
		cfg.HardStaleAfter = def.HardStaleAfter
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if logger == nil {
		logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Coordinator{
		store:    store,
		cfg:      cfg,
		logger:   logger.With("component", "query-coordinator"),
		regs:     make(map[cache.QueryKey]registration),
		inflight: make(map[cache.QueryKey]int),
		pending:  make(map[cache.QueryKey]bool),
		timers:   make(map[cache.QueryKey]*time.Timer),
		ctx:      ctx,
		cancel:   cancel,
	}

	store.OnRemove(c.forget)
	return c
}

// Store returns the store the coordinator writes into.
func (c *Coordinator) Store() *cache.Store {
	return c.store
}

// Config returns the effective configuration.
func (c *Coordinator) Config() Config {
	return c.cfg
}

// Subscribe observes key. The entry is created on first subscription and a
// fetch is started when there is no fresh data; a fetch already in flight for
// the key is joined instead of issuing a second request.
func (c *Coordinator) Subscribe(key cache.QueryKey, fetcher Fetcher, opts Options) *Subscription {
	reg := c.register(key, fetcher, opts)
	sub := newSubscription(c, key, opts.OnChange)

	sub.stopListening = c.store.Listen(key, sub.deliver)
	entry := c.store.Observe(key)
	sub.deliver(entry)

	if entry.IsStale(c.store.Now(), reg.stale) {
		if entry.HasData() {
			c.store.Metrics().Hit()
		} else {
			c.store.Metrics().Miss()
		}
		c.start(key, reg, foreground)
		return sub
	}

	c.store.Metrics().Hit()
	if reg.interval != nil && entry.HasData() {
		c.schedule(key, reg.interval(entry.Data))
	}
	return sub
}

// Prefetch warms key without observing it. It returns without contacting
// the backend when the cached value is still within the stale time.
func (c *Coordinator) Prefetch(ctx context.Context, key cache.QueryKey, fetcher Fetcher, opts Options) error {
	reg := c.register(key, fetcher, opts)
	entry := c.store.Ensure(key)
	if !entry.IsStale(c.store.Now(), reg.stale) {
		return nil
	}

	c.store.Metrics().Prefetch()
	return c.wait(ctx, c.start(key, reg, background))
}

// Revalidate silently refetches key with its registered fetcher.
func (c *Coordinator) Revalidate(ctx context.Context, key cache.QueryKey) error {
	c.mu.Lock()
	reg, ok := c.regs[key]
	c.mu.Unlock()
	if !ok {
		return fmt.Errorf("no fetcher registered for %s", key)
	}

	c.store.Metrics().Revalidate()
	return c.wait(ctx, c.start(key, reg, background))
}

// Invalidate marks every matching entry stale and supersedes fetches already
// in flight for them. Observed entries are refetched in the background.
func (c *Coordinator) Invalidate(m cache.Matcher) []cache.QueryKey {
	entries := c.store.UpdateMatching(m, func(e *cache.Entry) bool {
		e.Supersede()
		e.Invalidated = true
		return true
	})

	keys := make([]cache.QueryKey, 0, len(entries))
	for _, e := range entries {
		keys = append(keys, e.Key)
		if e.ObserverCount == 0 {
			continue
		}

		c.mu.Lock()
		reg, ok := c.regs[e.Key]
		busy := c.inflight[e.Key] > 0
		if busy {
			c.pending[e.Key] = true
		}
		c.mu.Unlock()

		if ok && !busy {
			c.start(e.Key, reg, background)
		}
	}

	if len(keys) > 0 {
		c.logger.Debug("Invalidated cache entries", "count", len(keys))
	}
	return keys
}

// IsFetching reports whether a fetch for key is in flight.
func (c *Coordinator) IsFetching(key cache.QueryKey) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inflight[key] > 0
}

// Watch creates a watcher that follows a changing key.
func (c *Coordinator) Watch(onChange func(cache.Entry)) *Watcher {
	return &Watcher{c: c, onChange: onChange}
}

// Close cancels in-flight fetches and stops interval timers.
func (c *Coordinator) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	c.closed = true
	c.cancel()
	for k, t := range c.timers {
		t.Stop()
		delete(c.timers, k)
	}
}

func (c *Coordinator) register(key cache.QueryKey, fetcher Fetcher, opts Options) registration {
	reg := registration{
		fetcher:  fetcher,
		interval: opts.RefetchInterval,
		stale:    opts.StaleTime,
	}
	if reg.stale <= 0 {
		reg.stale = c.cfg.StaleTime
	}

	c.mu.Lock()
	c.regs[key] = reg
	c.mu.Unlock()
	return reg
}

// start launches a fetch for key or joins the one in flight.
func (c *Coordinator) start(key cache.QueryKey, reg registration, m mode) <-chan singleflight.Result {
	if c.isClosed() {
		return closedResult()
	}

	// The generation is captured before the fetch goroutine runs so that an
	// invalidation racing with its start still supersedes the result.
	entry := c.store.Upsert(key, func(e *cache.Entry) bool {
		if m != foreground || e.Status == cache.StatusLoading {
			return false
		}
		e.Status = cache.StatusLoading
		return true
	})
	gen := entry.Generation()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return closedResult()
	}
	if c.inflight[key] > 0 {
		c.store.Metrics().Deduplicate()
		c.logger.Debug("Joining in-flight fetch", "key", key.String())
	}
	c.inflight[key]++
	shared := c.group.DoChan(key.String(), func() (any, error) {
		return c.run(key, reg, gen)
	})
	c.mu.Unlock()

	out := make(chan singleflight.Result, 1)
	go func() {
		res := <-shared
		c.done(key)
		out <- res
	}()
	return out
}

func (c *Coordinator) run(key cache.QueryKey, reg registration, gen uint64) (any, error) {
	c.store.Metrics().Fetch()

	ctx := c.ctx
	if c.cfg.FetchTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.FetchTimeout)
		defer cancel()
	}

	var data any
	err := retry.Do(
		func() error {
			v, err := reg.fetcher(ctx)
			if err != nil {
				return err
			}
			data = v
			return nil
		},
		retry.Attempts(uint(c.cfg.MaxRetries+1)),
		retry.Delay(c.cfg.RetryDelay),
		retry.MaxDelay(c.cfg.MaxRetryDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.RetryIf(apperrors.IsRetryable),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			c.logger.Debug("Retrying fetch", "key", key.String(), "attempt", n+1, "error", err)
		}),
		retry.Context(ctx),
	)

	var interval time.Duration
	if err == nil && reg.interval != nil {
		interval = reg.interval(data)
	}

	now := c.store.Now()
	applied := false
	_, exists := c.store.Update(key, func(e *cache.Entry) bool {
		if e.Generation() != gen {
			// Superseded by a mutation or invalidation while in flight.
			if e.Status == cache.StatusLoading {
				e.Status = e.SettledStatus()
				return true
			}
			return false
		}

		applied = true
		if err != nil {
			e.Err = err
			e.Status = cache.StatusError
			return true
		}

		e.Data = data
		e.Err = nil
		e.Status = cache.StatusSuccess
		e.Invalidated = false
		e.FetchedAt = now
		e.SoftStaleAfter = now.Add(c.cfg.SoftRefreshAfter)
		e.HardStaleAfter = now.Add(c.cfg.HardStaleAfter)
		e.RefetchInterval = interval
		return true
	})

	switch {
	case !exists || !applied:
		c.store.Metrics().Discard()
		c.logger.Debug("Discarded superseded fetch result", "key", key.String())
	case err != nil:
		c.logger.Warn("Fetch failed", "key", key.String(), "error", err)
	default:
		c.schedule(key, interval)
	}

	return data, err
}

// done is called once per caller of start after its result arrived. When the
// last caller for key is done, a refetch requested by Invalidate is started.
func (c *Coordinator) done(key cache.QueryKey) {
	c.mu.Lock()
	c.inflight[key]--
	if c.inflight[key] > 0 {
		c.mu.Unlock()
		return
	}
	delete(c.inflight, key)
	again := c.pending[key]
	delete(c.pending, key)
	reg, ok := c.regs[key]
	closed := c.closed
	c.mu.Unlock()

	if again && ok && !closed {
		c.start(key, reg, background)
	}
}

func (c *Coordinator) wait(ctx context.Context, ch <-chan singleflight.Result) error {
	select {
	case res := <-ch:
		return res.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// schedule arms the adaptive refetch timer for an observed key.
func (c *Coordinator) schedule(key cache.QueryKey, d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if t, ok := c.timers[key]; ok {
		t.Stop()
		delete(c.timers, key)
	}
	if d <= 0 || c.closed {
		return
	}
	if e, ok := c.store.Get(key); !ok || e.ObserverCount == 0 {
		return
	}

	c.timers[key] = time.AfterFunc(d, func() {
		c.mu.Lock()
		reg, ok := c.regs[key]
		delete(c.timers, key)
		c.mu.Unlock()

		e, exists := c.store.Get(key)
		if !ok || !exists || e.ObserverCount == 0 {
			return
		}
		c.start(key, reg, background)
	})
}

// Interval returns the armed refetch interval of key, or zero.
func (c *Coordinator) Interval(key cache.QueryKey) time.Duration {
	c.mu.Lock()
	_, armed := c.timers[key]
	c.mu.Unlock()
	if !armed {
		return 0
	}
	e, _ := c.store.Get(key)
	return e.RefetchInterval
}

func (c *Coordinator) release(key cache.QueryKey) {
	e, ok := c.store.Release(key)
	if !ok || e.ObserverCount > 0 {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if t, ok := c.timers[key]; ok {
		t.Stop()
		delete(c.timers, key)
	}
}

func (c *Coordinator) forget(key cache.QueryKey) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.regs, key)
	if t, ok := c.timers[key]; ok {
		t.Stop()
		delete(c.timers, key)
	}
}

func (c *Coordinator) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func closedResult() <-chan singleflight.Result {
	ch := make(chan singleflight.Result, 1)
	ch <- singleflight.Result{Err: apperrors.ErrClosed}
	return ch
}
