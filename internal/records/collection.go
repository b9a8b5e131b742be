// Package records assembles the cache coordinators into the resource
// collection the view layer talks to: lists, details, search, stats,
// mutations, exports and prefetch hints for meeting and transcription records.
package records

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/scribehub/recordcache/internal/behavior"
	"github.com/scribehub/recordcache/internal/cache"
	apperrors "github.com/scribehub/recordcache/internal/errors"
	"github.com/scribehub/recordcache/internal/export"
	"github.com/scribehub/recordcache/internal/janitor"
	"github.com/scribehub/recordcache/internal/model"
	"github.com/scribehub/recordcache/internal/mutation"
	"github.com/scribehub/recordcache/internal/platform"
	"github.com/scribehub/recordcache/internal/prefetch"
	"github.com/scribehub/recordcache/internal/progress"
	"github.com/scribehub/recordcache/internal/query"
	"github.com/scribehub/recordcache/internal/refresher"
)

// Backend is the REST boundary the collection consumes.
type Backend interface {
	List(ctx context.Context, f model.ListFilters) (*model.ListResult, error)
	Detail(ctx context.Context, id string) (*model.RecordDetail, error)
	Search(ctx context.Context, q string) (*model.SearchResult, error)
	Stats(ctx context.Context) (*model.Stats, error)
	Create(ctx context.Context, in model.NewRecord) (model.Record, error)
	Update(ctx context.Context, id string, patch model.RecordPatch) (model.Record, error)
	Delete(ctx context.Context, id string) error
	export.Backend
}

// Config gathers the configuration of every component of the collection.
type Config struct {
	Query query.Config
	// ProcessingInterval is the refetch cadence of lists and details that
	// contain a record still processing.
	ProcessingInterval time.Duration
	// IdleInterval is the refetch cadence once nothing is processing.
	IdleInterval time.Duration
	Prefetch     prefetch.Config
	Refresher    refresher.Config
	Janitor      janitor.Config
	Behavior     behavior.Config
	Export       export.Config
}

// DefaultConfig returns the default collection configuration.
func DefaultConfig() Config {
	return Config{
		Query:              query.DefaultConfig(),
		ProcessingInterval: 2 * time.Minute,
		IdleInterval:       15 * time.Minute,
		Prefetch:           prefetch.DefaultConfig(),
		Refresher:          refresher.Config{Enabled: true, Interval: time.Minute, MaxConcurrent: 4},
		Janitor:            janitor.Config{Enabled: true, Schedule: "@every 1m", EvictAfter: 10 * time.Minute},
		Behavior:           behavior.DefaultConfig(),
		Export:             export.DefaultConfig(),
	}
}

// Deps are the collaborators injected into a collection.
type Deps struct {
	Backend   Backend
	Storage   platform.Storage
	Saver     platform.Saver
	Scheduler platform.Scheduler
	Logger    *slog.Logger
	// Clock replaces time.Now. Tests use it to age entries.
	Clock func() time.Time
}

// Collection is the API surface of the record cache. It owns one store and
// the components acting on it, created together and torn down by Close.
type Collection struct {
	cfg     Config
	backend Backend
	logger  *slog.Logger
	now     func() time.Time

	store     *cache.Store
	queries   *query.Coordinator
	mutations *mutation.Coordinator
	tracker   *behavior.Tracker
	prefetch  *prefetch.Engine
	refresher *refresher.Refresher
	janitor   *janitor.Janitor
	exports   *export.Orchestrator
	progress  *progress.Broadcaster

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	started bool
	closed  bool
}

// NewCollection wires a collection from its configuration and collaborators.
func NewCollection(cfg Config, deps Deps) (*Collection, error) {
	if deps.Backend == nil {
		return nil, fmt.Errorf("records: backend is required")
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Clock == nil {
		deps.Clock = time.Now
	}
	if deps.Storage == nil {
		deps.Storage = platform.NewMemoryStorage()
	}
	if deps.Scheduler == nil {
		deps.Scheduler = platform.NewTimerScheduler()
	}
	if deps.Saver == nil {
		return nil, fmt.Errorf("records: saver is required")
	}

	def := DefaultConfig()
	if cfg.ProcessingInterval <= 0 {
		cfg.ProcessingInterval = def.ProcessingInterval
	}
	if cfg.IdleInterval <= 0 {
		cfg.IdleInterval = def.IdleInterval
	}

	store := cache.NewStore(cache.WithClock(deps.Clock), cache.WithLogger(deps.Logger))
	queries := query.NewCoordinator(store, cfg.Query, deps.Logger)

	engine, err := prefetch.NewEngine(queries, deps.Scheduler, cfg.Prefetch, deps.Logger)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("records: create prefetch engine: %w", err)
	}

	broadcaster := progress.NewBroadcaster(deps.Logger)
	ctx, cancel := context.WithCancel(context.Background())

	return &Collection{
		cfg:       cfg,
		backend:   deps.Backend,
		logger:    deps.Logger.With("component", "records"),
		now:       deps.Clock,
		store:     store,
		queries:   queries,
		mutations: mutation.NewCoordinator(queries, deps.Logger),
		tracker:   behavior.NewTracker(deps.Storage, cfg.Behavior, deps.Logger),
		prefetch:  engine,
		refresher: refresher.New(queries, cfg.Refresher, deps.Logger),
		janitor:   janitor.New(store, cfg.Janitor, deps.Logger),
		exports: export.NewOrchestrator(deps.Backend, deps.Saver, deps.Scheduler, broadcaster, cfg.Export,
			export.WithClock(deps.Clock), export.WithLogger(deps.Logger)),
		progress: broadcaster,
		ctx:      ctx,
		cancel:   cancel,
	}, nil
}

// Start launches the background refresher and the janitor when enabled.
func (c *Collection) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return apperrors.ErrClosed
	}
	if c.started {
		return apperrors.ErrAlreadyRunning
	}

	if c.cfg.Refresher.Enabled {
		if err := c.refresher.Start(ctx); err != nil {
			return fmt.Errorf("start refresher: %w", err)
		}
	}
	if c.cfg.Janitor.Enabled {
		if err := c.janitor.Start(); err != nil {
			if c.refresher.IsRunning() {
				_ = c.refresher.Stop()
			}
			return fmt.Errorf("start janitor: %w", err)
		}
	}

	c.started = true
	c.logger.Info("Record collection started",
		"refresher", c.cfg.Refresher.Enabled,
		"janitor", c.cfg.Janitor.Enabled)
	return nil
}

// Close stops every component and releases the store. Subscriptions handed
// out earlier stop receiving updates.
func (c *Collection) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()

	c.cancel()
	if c.refresher.IsRunning() {
		_ = c.refresher.Stop()
	}
	if c.janitor.IsRunning() {
		_ = c.janitor.Stop()
	}
	c.prefetch.Close()
	c.exports.Close()
	c.wg.Wait()

	c.queries.Close()
	c.store.Close()
	_ = c.progress.Close()
}

// List subscribes to one page of records. The list refetches every
// ProcessingInterval while any record on the page is processing and every
// IdleInterval otherwise. Once the page resolves, the next page is warmed
// silently.
func (c *Collection) List(ctx context.Context, f model.ListFilters, onChange func(cache.Entry)) (*query.Subscription, error) {
	f = f.Normalize()
	if err := model.Validate(f); err != nil {
		return nil, err
	}

	c.tracker.TrackFilters(ctx, filterSet(f))
	sub := c.queries.Subscribe(ListKey(f), c.listFetcher(f), c.listOptions(onChange))
	c.prefetchNext(sub)
	return sub, nil
}

// Detail subscribes to one record and records the view.
func (c *Collection) Detail(ctx context.Context, id string, onChange func(cache.Entry)) (*query.Subscription, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, apperrors.NewValidationError("id", "record id is required")
	}

	c.tracker.TrackView(ctx, id)
	t := c.DetailTarget(id)
	t.Options.OnChange = onChange
	return c.queries.Subscribe(t.Key, t.Fetch, t.Options), nil
}

// Search subscribes to the results of a full text query. Blank queries are
// rejected without a backend call.
func (c *Collection) Search(ctx context.Context, q string, onChange func(cache.Entry)) (*query.Subscription, error) {
	q = strings.TrimSpace(q)
	if q == "" {
		return nil, apperrors.NewValidationError("query", "search query is required")
	}

	c.tracker.TrackSearch(ctx, q)
	fetch := func(ctx context.Context) (any, error) {
		return c.backend.Search(ctx, q)
	}
	return c.queries.Subscribe(SearchKey(q), fetch, query.Options{OnChange: onChange}), nil
}

// Stats subscribes to the aggregate statistics.
func (c *Collection) Stats(onChange func(cache.Entry)) *query.Subscription {
	fetch := func(ctx context.Context) (any, error) {
		return c.backend.Stats(ctx)
	}
	return c.queries.Subscribe(StatsKey(), fetch, query.Options{OnChange: onChange})
}

// ListView follows the filters of one list view. Results for filters the
// view has moved away from are never delivered.
type ListView struct {
	c       *Collection
	watcher *query.Watcher
}

// WatchList creates a list view delivering the state of its current page.
func (c *Collection) WatchList(onChange func(cache.Entry)) *ListView {
	return &ListView{c: c, watcher: c.queries.Watch(onChange)}
}

// SetFilters switches the view to f.
func (v *ListView) SetFilters(ctx context.Context, f model.ListFilters) (*query.Subscription, error) {
	f = f.Normalize()
	if err := model.Validate(f); err != nil {
		return nil, err
	}

	v.c.tracker.TrackFilters(ctx, filterSet(f))
	sub := v.watcher.SetKey(ListKey(f), v.c.listFetcher(f), v.c.listOptions(nil))
	if sub == nil {
		return nil, apperrors.ErrClosed
	}
	v.c.prefetchNext(sub)
	return sub, nil
}

// Entry returns the state of the current page.
func (v *ListView) Entry() cache.Entry {
	return v.watcher.Entry()
}

// Close releases the current page.
func (v *ListView) Close() {
	v.watcher.Close()
}

// PrefetchOnHover warms the detail of id after the hover delay. End the
// returned intent when the pointer leaves; the fetch is then never issued.
func (c *Collection) PrefetchOnHover(id string) *prefetch.Intent {
	return c.prefetch.Hover(c.DetailTarget(id))
}

// PrefetchLikely warms the queries the behavior profile suggests. It returns
// the number of prefetches issued.
func (c *Collection) PrefetchLikely(ctx context.Context) int {
	return c.prefetch.Behavior(ctx, c.tracker.Profile(ctx), c)
}

// ListTarget resolves a tracked filter set to the first page it selects.
func (c *Collection) ListTarget(fs behavior.FilterSet) prefetch.Target {
	f := filtersFrom(fs).Normalize()
	return prefetch.Target{Key: ListKey(f), Fetch: c.listFetcher(f), Options: c.listOptions(nil)}
}

// DetailTarget resolves a record id to its detail query.
func (c *Collection) DetailTarget(id string) prefetch.Target {
	fetch := func(ctx context.Context) (any, error) {
		return c.backend.Detail(ctx, id)
	}
	return prefetch.Target{
		Key:   DetailKey(id),
		Fetch: fetch,
		Options: query.Options{
			RefetchInterval: c.interval,
		},
	}
}

// Profile returns the tracked behavior profile.
func (c *Collection) Profile(ctx context.Context) behavior.Profile {
	return c.tracker.Profile(ctx)
}

// CacheStats returns the store counters.
func (c *Collection) CacheStats() cache.Stats {
	return c.store.Stats()
}

// RefresherStats returns the background refresher counters.
func (c *Collection) RefresherStats() refresher.Stats {
	return c.refresher.GetStats()
}

// Progress returns the broadcaster carrying export progress.
func (c *Collection) Progress() *progress.Broadcaster {
	return c.progress
}

// Invalidate marks every entry of the given resources stale. Observed entries
// refetch immediately.
func (c *Collection) Invalidate(resources ...string) []cache.QueryKey {
	return c.queries.Invalidate(cache.MatchResource(resources...))
}

func (c *Collection) listFetcher(f model.ListFilters) query.Fetcher {
	return func(ctx context.Context) (any, error) {
		return c.backend.List(ctx, f)
	}
}

func (c *Collection) listOptions(onChange func(cache.Entry)) query.Options {
	return query.Options{RefetchInterval: c.interval, OnChange: onChange}
}

// interval picks the adaptive refetch cadence from fetched data.
func (c *Collection) interval(data any) time.Duration {
	switch v := data.(type) {
	case *model.ListResult:
		if v.HasProcessing() {
			return c.cfg.ProcessingInterval
		}
	case *model.RecordDetail:
		if v.Status == model.StatusProcessing {
			return c.cfg.ProcessingInterval
		}
	}
	return c.cfg.IdleInterval
}

// prefetchNext warms page+1 once sub resolves with a following page.
func (c *Collection) prefetchNext(sub *query.Subscription) {
	f, ok := listFilters(sub.Key())
	if !ok {
		return
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.wg.Add(1)
	c.mu.Unlock()

	go func() {
		defer c.wg.Done()
		_ = c.prefetch.NextPage(c.ctx, sub, func(data any) (prefetch.Target, bool) {
			page, ok := data.(*model.ListResult)
			if !ok || !page.Pagination.HasNext() {
				return prefetch.Target{}, false
			}
			next := f.WithPage(f.Page + 1)
			return prefetch.Target{Key: ListKey(next), Fetch: c.listFetcher(next), Options: c.listOptions(nil)}, true
		})
	}()
}

// filterSet keeps the filters that describe what the user looks at; paging
// is not part of a tracked combination.
func filterSet(f model.ListFilters) behavior.FilterSet {
	return behavior.FilterSet{
		"kind":      string(f.Kind),
		"status":    string(f.Status),
		"search":    f.Search,
		"language":  f.Language,
		"sortBy":    f.SortBy,
		"sortOrder": f.SortOrder,
	}
}

func filtersFrom(fs behavior.FilterSet) model.ListFilters {
	str := func(k string) string {
		s, _ := fs[k].(string)
		return s
	}
	return model.ListFilters{
		Kind:      model.Kind(str("kind")),
		Status:    model.Status(str("status")),
		Search:    str("search"),
		Language:  str("language"),
		SortBy:    str("sortBy"),
		SortOrder: str("sortOrder"),
	}
}
