// Package prefetch warms cache entries ahead of need: on hover intent, for the
// next page of a list and for queries derived from the behavior profile.
// Every warm goes through the query coordinator as a silent fetch.
package prefetch

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/scribehub/recordcache/internal/behavior"
	"github.com/scribehub/recordcache/internal/cache"
	"github.com/scribehub/recordcache/internal/platform"
	"github.com/scribehub/recordcache/internal/query"
	"golang.org/x/time/rate"
)

// Config tunes the engine.
type Config struct {
	HoverDelay    time.Duration
	BehaviorRate  float64
	BehaviorBurst int
	TopFilterSets int
	RecentViews   int
	DedupWindow   time.Duration
	DedupSize     int
}

// DefaultConfig returns the default prefetch configuration.
func DefaultConfig() Config {
	return Config{
		HoverDelay:    300 * time.Millisecond,
		BehaviorRate:  1,
		BehaviorBurst: 1,
		TopFilterSets: 3,
		RecentViews:   5,
		DedupWindow:   30 * time.Second,
		DedupSize:     256,
	}
}

// Target is one key to warm.
type Target struct {
	Key     cache.QueryKey
	Fetch   query.Fetcher
	Options query.Options
}

// Resolver turns behavior signals into targets.
type Resolver interface {
	ListTarget(filters behavior.FilterSet) Target
	DetailTarget(id string) Target
}

// Engine issues silent prefetches.
type Engine struct {
	queries *query.Coordinator
	sched   platform.Scheduler
	cfg     Config
	logger  *slog.Logger
	limiter *rate.Limiter

	// recent remembers when each key was last warmed so repeated hovers over
	// the same card do not queue duplicate work.
	recent *lru.Cache[cache.QueryKey, time.Time]

	mu      sync.Mutex
	pending map[*Intent]struct{}
	wg      sync.WaitGroup
	ctx     context.Context
	cancel context.CancelFunc
}

// NewEngine creates a prefetch engine.
func NewEngine(queries *query.Coordinator, sched platform.Scheduler, cfg Config, logger *slog.Logger) (*Engine, error) {
	def := DefaultConfig()
	if cfg.HoverDelay < 0 {
		cfg.HoverDelay = def.HoverDelay
	}
	if cfg.BehaviorRate <= 0 {
		cfg.BehaviorRate = def.BehaviorRate
	}
	if cfg.BehaviorBurst <= 0 {
		cfg.BehaviorBurst = def.BehaviorBurst
	}
	if cfg.DedupSize <= 0 {
		cfg.DedupSize = def.DedupSize
	}
	if logger == nil {
		logger = slog.Default()
	}

	recent, err := lru.New[cache.QueryKey, time.Time](cfg.DedupSize)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Engine{
		queries: queries,
		sched:   sched,
		cfg:     cfg,
		logger:  logger.With("component", "prefetch-engine"),
		limiter: rate.NewLimiter(rate.Limit(cfg.BehaviorRate), cfg.BehaviorBurst),
		recent:  recent,
		pending: make(map[*Intent]struct{}),
		ctx:     ctx,
		cancel:  cancel,
	}, nil
}

// Intent is a pending hover prefetch.
type Intent struct {
	engine *Engine
	task   platform.Task
	fired  atomic.Bool
}

// End signals that the hover ended. It reports whether the prefetch was
// cancelled before it started.
func (i *Intent) End() bool {
	if !i.engine.claim(i) {
		return false
	}
	i.task.Cancel()
	i.engine.wg.Done()
	i.engine.logger.Debug("Hover prefetch cancelled")
	return true
}

// Fired reports whether the delay elapsed and the prefetch was issued.
func (i *Intent) Fired() bool {
	return i.fired.Load()
}

// Hover schedules a prefetch of t after the hover delay. Ending the intent
// before the delay elapses cancels it without contacting the backend.
func (e *Engine) Hover(t Target) *Intent {
	return e.HoverAfter(t, e.cfg.HoverDelay)
}

// HoverAfter is Hover with an explicit delay.
func (e *Engine) HoverAfter(t Target, delay time.Duration) *Intent {
	intent := &Intent{engine: e}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.ctx.Err() != nil {
		intent.task = noopTask{}
		return intent
	}

	e.pending[intent] = struct{}{}
	e.wg.Add(1)
	intent.task = e.sched.Schedule(func() {
		// Whoever removes the intent from pending owns it: End and Close
		// may win the race against the timer.
		if !e.claim(intent) {
			return
		}
		defer e.wg.Done()
		intent.fired.Store(true)
		_ = e.warm(e.ctx, t)
	}, delay)

	e.logger.Debug("Hover prefetch scheduled", "key", t.Key.String(), "delay", delay)
	return intent
}

// NextPage waits for the current page to resolve and then warms the target
// next derives from its data. Nothing is fetched when the current page failed
// or next reports there is no following page.
func (e *Engine) NextPage(ctx context.Context, current *query.Subscription, next func(data any) (Target, bool)) error {
	entry, err := current.Wait(ctx)
	if err != nil {
		return err
	}
	t, ok := next(entry.Data)
	if !ok {
		return nil
	}
	return e.warm(ctx, t)
}

// Behavior warms the most common filter sets and the most recently viewed
// records of the profile. Requests are paced by the rate limiter. It returns
// the number of prefetches issued.
func (e *Engine) Behavior(ctx context.Context, p behavior.Profile, r Resolver) int {
	var targets []Target
	for i, fs := range p.CommonFilterSets {
		if i == e.cfg.TopFilterSets {
			break
		}
		targets = append(targets, r.ListTarget(fs))
	}
	for i, id := range p.RecentlyViewed {
		if i == e.cfg.RecentViews {
			break
		}
		targets = append(targets, r.DetailTarget(id))
	}

	issued := 0
	for _, t := range targets {
		if e.warmedRecently(t.Key) {
			continue
		}
		if err := e.limiter.Wait(ctx); err != nil {
			break
		}
		if err := e.warm(ctx, t); err == nil {
			issued++
		}
	}

	if issued > 0 {
		e.logger.Debug("Behavior prefetch finished", "issued", issued, "candidates", len(targets))
	}
	return issued
}

// Close cancels pending hover prefetches and waits for running ones.
func (e *Engine) Close() {
	e.cancel()

	e.mu.Lock()
	for intent := range e.pending {
		intent.task.Cancel()
		delete(e.pending, intent)
		e.wg.Done()
	}
	e.mu.Unlock()

	e.wg.Wait()
}

func (e *Engine) claim(i *Intent) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.pending[i]; !ok {
		return false
	}
	delete(e.pending, i)
	return true
}

type noopTask struct{}

func (noopTask) Cancel() bool { return false }

func (e *Engine) warm(ctx context.Context, t Target) error {
	e.mark(t.Key)
	err := e.queries.Prefetch(ctx, t.Key, t.Fetch, t.Options)
	if err != nil {
		e.logger.Debug("Prefetch failed", "key", t.Key.String(), "error", err)
	}
	return err
}

func (e *Engine) warmedRecently(key cache.QueryKey) bool {
	if e.cfg.DedupWindow <= 0 {
		return false
	}
	at, ok := e.recent.Get(key)
	if !ok {
		return false
	}
	return e.queries.Store().Now().Sub(at) < e.cfg.DedupWindow
}

func (e *Engine) mark(key cache.QueryKey) {
	e.recent.Add(key, e.queries.Store().Now())
}
