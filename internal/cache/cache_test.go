package cache

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type filters struct {
	Status string   `json:"status,omitempty"`
	Kind   string   `json:"kind,omitempty"`
	Page   int      `json:"page"`
	Tags   []string `json:"tags,omitempty"`
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
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

func TestNewKey_OrderIndependent(t *testing.T) {
	a := NewKey("list", map[string]any{"status": "completed", "page": 2, "kind": "meeting"})
	b := NewKey("list", map[string]any{"kind": "meeting", "page": 2, "status": "completed"})
	c := NewKey("list", filters{Kind: "meeting", Status: "completed", Page: 2})

	assert.Equal(t, a, b)
	assert.Equal(t, a, c)
	assert.Equal(t, `list?{"kind":"meeting","page":2,"status":"completed"}`, a.String())
}

func TestNewKey_DropsEmptyValues(t *testing.T) {
	a := NewKey("list", map[string]any{"status": "", "page": 1, "tags": []string{}, "archived": false})
	b := NewKey("list", map[string]any{"page": 1})
	assert.Equal(t, a, b)

	assert.Equal(t, "stats", NewKey("stats", nil).String())
	assert.Equal(t, NewKey("stats", nil), NewKey("stats", map[string]any{}))
}

func TestNewKey_DistinguishesResourcesAndValues(t *testing.T) {
	assert.NotEqual(t, NewKey("list", map[string]any{"page": 1}), NewKey("search", map[string]any{"page": 1}))
	assert.NotEqual(t, NewKey("list", map[string]any{"page": 1}), NewKey("list", map[string]any{"page": 2}))
}

func TestQueryKey_Decode(t *testing.T) {
	key := NewKey("list", filters{Status: "processing", Page: 3})

	var f filters
	require.NoError(t, key.Decode(&f))
	assert.Equal(t, filters{Status: "processing", Page: 3}, f)
}

func TestMatchers(t *testing.T) {
	list := NewKey("list", map[string]any{"page": 1})
	stats := NewKey("stats", nil)

	assert.True(t, MatchResource("list", "search")(list))
	assert.False(t, MatchResource("list")(stats))
	assert.True(t, MatchKey(stats)(stats))
	assert.True(t, MatchAny(MatchKey(list), MatchResource("stats"))(stats))
}

func TestStore_ObserveRelease(t *testing.T) {
	clock := newFakeClock()
	s := NewStore(WithClock(clock.Now))
	key := NewKey("detail", map[string]any{"id": "r1"})

	e := s.Observe(key)
	assert.Equal(t, 1, e.ObserverCount)
	assert.Equal(t, StatusIdle, e.Status)

	s.Observe(key)
	e, ok := s.Release(key)
	require.True(t, ok)
	assert.Equal(t, 1, e.ObserverCount)
	assert.True(t, e.IdleSince.IsZero())

	clock.Advance(time.Second)
	e, _ = s.Release(key)
	assert.Equal(t, 0, e.ObserverCount)
	assert.Equal(t, clock.Now(), e.IdleSince)

	// Releasing an unobserved entry is a no-op
	e, _ = s.Release(key)
	assert.Equal(t, 0, e.ObserverCount)

	_, ok = s.Get(key)
	assert.True(t, ok, "release must not delete the entry")
}

func TestStore_ListenersReceiveChanges(t *testing.T) {
	s := NewStore()
	key := NewKey("stats", nil)

	var got []Entry
	cancel := s.Listen(key, func(e Entry) { got = append(got, e) })

	s.Upsert(key, func(e *Entry) bool {
		e.Data = 42
		e.Status = StatusSuccess
		return true
	})
	s.Update(key, func(e *Entry) bool { return false })

	require.Len(t, got, 1)
	assert.Equal(t, 42, got[0].Data)

	cancel()
	s.Update(key, func(e *Entry) bool {
		e.Data = 43
		return true
	})
	assert.Len(t, got, 1)
}

func TestStore_VersionsIncrease(t *testing.T) {
	s := NewStore()
	a := NewKey("list", map[string]any{"page": 1})
	b := NewKey("list", map[string]any{"page": 2})

	e1 := s.Upsert(a, func(e *Entry) bool { e.Data = 1; return true })
	e2 := s.Upsert(b, func(e *Entry) bool { e.Data = 2; return true })
	e3 := s.Upsert(a, func(e *Entry) bool { e.Data = 3; return true })

	assert.Less(t, e1.Version(), e2.Version())
	assert.Less(t, e2.Version(), e3.Version())
}

func TestStore_UpdateMatching(t *testing.T) {
	s := NewStore()
	for i := 1; i <= 3; i++ {
		s.Upsert(NewKey("list", map[string]any{"page": i}), func(e *Entry) bool { e.Data = i; return true })
	}
	s.Upsert(NewKey("stats", nil), func(e *Entry) bool { e.Data = "stats"; return true })

	changed := s.UpdateMatching(MatchResource("list"), func(e *Entry) bool {
		e.Data = e.Data.(int) * 10
		return true
	})
	assert.Len(t, changed, 3)

	for _, e := range s.Entries(MatchResource("list")) {
		assert.Equal(t, 0, e.Data.(int)%10)
	}
	stats, _ := s.Get(NewKey("stats", nil))
	assert.Equal(t, "stats", stats.Data)
}

type clonable struct {
	Items []string
}

func (c *clonable) CloneData() any {
	return &clonable{Items: append([]string(nil), c.Items...)}
}

func TestStore_SnapshotRestore(t *testing.T) {
	clock := newFakeClock()
	s := NewStore(WithClock(clock.Now))
	key := NewKey("list", map[string]any{"page": 1})

	s.Upsert(key, func(e *Entry) bool {
		e.Data = &clonable{Items: []string{"a", "b"}}
		e.Status = StatusSuccess
		e.FetchedAt = clock.Now()
		return true
	})
	before, _ := s.Get(key)
	snap := before.Snapshot()

	clock.Advance(time.Minute)
	s.Update(key, func(e *Entry) bool {
		// mutate in place: the snapshot must not share the slice
		e.Data.(*clonable).Items[0] = "changed"
		e.Status = StatusError
		e.Err = errors.New("boom")
		e.Supersede()
		return true
	})

	s.Restore([]Snapshot{snap})
	after, _ := s.Get(key)

	assert.Equal(t, snap, after.Snapshot())
	assert.Equal(t, []string{"a", "b"}, after.Data.(*clonable).Items)
	assert.Greater(t, after.Generation(), before.Generation())
}

func TestStore_RestoreRecreatesRemovedEntries(t *testing.T) {
	s := NewStore()
	key := NewKey("detail", map[string]any{"id": "x"})
	e := s.Upsert(key, func(e *Entry) bool { e.Data = "v"; e.Status = StatusSuccess; return true })
	snap := e.Snapshot()

	s.Remove(key)
	_, ok := s.Get(key)
	require.False(t, ok)

	s.Restore([]Snapshot{snap})
	got, ok := s.Get(key)
	require.True(t, ok)
	assert.Equal(t, "v", got.Data)
}

func TestStore_RestoreNeverLeavesEntryLoading(t *testing.T) {
	s := NewStore()
	key := NewKey("list", map[string]any{"page": 1})

	e := s.Upsert(key, func(e *Entry) bool { e.Data = "v"; e.Status = StatusLoading; return true })
	withData := e.Snapshot()

	s.Upsert(key, func(e *Entry) bool { e.Data = nil; e.Err = errors.New("boom"); return true })
	e, _ = s.Get(key)
	failed := e.Snapshot()

	s.Restore([]Snapshot{withData})
	got, _ := s.Get(key)
	assert.Equal(t, StatusSuccess, got.Status)

	s.Restore([]Snapshot{failed})
	got, _ = s.Get(key)
	assert.Equal(t, StatusError, got.Status)

	s.Restore([]Snapshot{{Key: key, Status: StatusLoading}})
	got, _ = s.Get(key)
	assert.Equal(t, StatusIdle, got.Status)
}

func TestStore_RemoveIfRunsHooks(t *testing.T) {
	s := NewStore()
	observed := NewKey("list", map[string]any{"page": 1})
	idle := NewKey("list", map[string]any{"page": 2})
	s.Observe(observed)
	s.Ensure(idle)

	var hooked []QueryKey
	s.OnRemove(func(k QueryKey) { hooked = append(hooked, k) })

	removed := s.RemoveIf(func(e Entry) bool { return e.ObserverCount == 0 })
	assert.Equal(t, []QueryKey{idle}, removed)
	assert.Equal(t, []QueryKey{idle}, hooked)
	assert.Equal(t, 1, s.Len())
}

func TestEntry_Staleness(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	e := Entry{Data: 1, FetchedAt: now.Add(-2 * time.Minute), SoftStaleAfter: now.Add(-time.Second)}

	assert.True(t, e.IsStale(now, time.Minute))
	assert.False(t, e.IsStale(now, 5*time.Minute))
	assert.True(t, e.NeedsRevalidation(now))
	assert.True(t, Entry{}.IsStale(now, time.Hour))

	e.ObserverCount = 1
	assert.Zero(t, e.IdleFor(now))
	e.ObserverCount = 0
	e.UpdatedAt = now.Add(-time.Hour)
	e.IdleSince = now.Add(-10 * time.Minute)
	assert.Equal(t, 10*time.Minute, e.IdleFor(now))
}

func TestStore_Stats(t *testing.T) {
	s := NewStore()
	s.Observe(NewKey("list", nil))
	s.Upsert(NewKey("stats", nil), func(e *Entry) bool { e.Status = StatusError; return true })
	s.Metrics().Hit()
	s.Metrics().Fetch()
	s.Metrics().Evict(2)

	st := s.Stats()
	assert.Equal(t, 2, st.Entries)
	assert.Equal(t, 1, st.Observed)
	assert.Equal(t, 1, st.Errored)
	assert.Equal(t, uint64(1), st.Hits)
	assert.Equal(t, uint64(1), st.Fetches)
	assert.Equal(t, uint64(2), st.Evictions)
}
