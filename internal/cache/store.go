package cache

import (
	"log/slog"
	"sync"
	"time"
)

// Listener receives a copy of an entry after every change to it.
type Listener func(Entry)

// RemoveHook is called after an entry has been removed from the store.
type RemoveHook func(QueryKey)

// Store is the single piece of shared mutable state. All writes go through
// its methods, which apply changes under one lock and notify listeners after
// the lock is released.
type Store struct {
	mu        sync.RWMutex
	entries   map[QueryKey]*Entry
	listeners map[QueryKey]map[uint64]Listener
	onRemove  []RemoveHook
	nextID    uint64
	version   uint64
	closed    bool

	now     func() time.Time
	metrics Metrics
	logger  *slog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithClock replaces time.Now. Used by tests to age entries.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// WithLogger sets the logger used by the store.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// NewStore creates an empty store.
func NewStore(opts ...Option) *Store {
	s := &Store{
		entries:   make(map[QueryKey]*Entry),
		listeners: make(map[QueryKey]map[uint64]Listener),
		now:       time.Now,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "cache-store")
	return s
}

// Now returns the store clock.
func (s *Store) Now() time.Time {
	return s.now()
}

// Metrics returns the counters shared with the coordinators.
func (s *Store) Metrics() *Metrics {
	return &s.metrics
}

// Get returns a copy of the entry for key.
func (s *Store) Get(key QueryKey) (Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entries[key]
	if !ok {
		return Entry{}, false
	}
	return *e, true
}

// Entries returns copies of all entries selected by m. A nil matcher selects all.
func (s *Store) Entries(m Matcher) []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Entry, 0, len(s.entries))
	for k, e := range s.entries {
		if m == nil || m(k) {
			out = append(out, *e)
		}
	}
	return out
}

// Len returns the number of entries.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Ensure returns the entry for key, creating an idle one if missing.
func (s *Store) Ensure(key QueryKey) Entry {
	return s.Upsert(key, func(*Entry) bool { return false })
}

// Upsert applies fn to the entry for key, creating it first if missing.
// fn reports whether it changed the entry; listeners are only notified then.
func (s *Store) Upsert(key QueryKey, fn func(*Entry) bool) Entry {
	s.mu.Lock()
	e, created := s.entryLocked(key)
	changed := fn(e) || created
	if changed {
		s.touchLocked(e)
	}
	snapshot := *e
	calls := s.listenersLocked(key, changed)
	s.mu.Unlock()

	notify(calls, snapshot)
	return snapshot
}

// Update applies fn to an existing entry. It returns false if key is absent.
func (s *Store) Update(key QueryKey, fn func(*Entry) bool) (Entry, bool) {
	s.mu.Lock()
	e, ok := s.entries[key]
	if !ok {
		s.mu.Unlock()
		return Entry{}, false
	}
	changed := fn(e)
	if changed {
		s.touchLocked(e)
	}
	snapshot := *e
	calls := s.listenersLocked(key, changed)
	s.mu.Unlock()

	notify(calls, snapshot)
	return snapshot, true
}

// UpdateMatching applies fn to every entry selected by m in one critical
// section, so no reader observes a partially applied change.
func (s *Store) UpdateMatching(m Matcher, fn func(*Entry) bool) []Entry {
	type pending struct {
		calls []Listener
		entry Entry
	}

	s.mu.Lock()
	var changed []pending
	for k, e := range s.entries {
		if !m(k) {
			continue
		}
		if !fn(e) {
			continue
		}
		s.touchLocked(e)
		changed = append(changed, pending{calls: s.listenersLocked(k, true), entry: *e})
	}
	s.mu.Unlock()

	out := make([]Entry, 0, len(changed))
	for _, p := range changed {
		notify(p.calls, p.entry)
		out = append(out, p.entry)
	}
	return out
}

// Restore puts every snapshot back in one critical section. Entries removed
// in the meantime are recreated. Restored entries get a new generation so
// that fetches started against the replaced state are discarded.
func (s *Store) Restore(snaps []Snapshot) {
	type pending struct {
		calls []Listener
		entry Entry
	}

	s.mu.Lock()
	out := make([]pending, 0, len(snaps))
	for _, snap := range snaps {
		e, _ := s.entryLocked(snap.Key)
		e.restore(snap)
		e.generation++
		s.version++
		e.version = s.version
		out = append(out, pending{calls: s.listenersLocked(snap.Key, true), entry: *e})
	}
	s.mu.Unlock()

	for _, p := range out {
		notify(p.calls, p.entry)
	}
}

// Observe increments the observer count of key, creating the entry if needed.
func (s *Store) Observe(key QueryKey) Entry {
	return s.Upsert(key, func(e *Entry) bool {
		e.ObserverCount++
		e.IdleSince = time.Time{}
		return false
	})
}

// Release decrements the observer count of key. Reaching zero only marks the
// entry idle; removal is left to the janitor.
func (s *Store) Release(key QueryKey) (Entry, bool) {
	return s.Update(key, func(e *Entry) bool {
		if e.ObserverCount == 0 {
			return false
		}
		e.ObserverCount--
		if e.ObserverCount == 0 {
			e.IdleSince = s.now()
		}
		return false
	})
}

// Listen registers fn for changes to key. The returned func unregisters it.
func (s *Store) Listen(key QueryKey, fn Listener) func() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	id := s.nextID
	if s.listeners[key] == nil {
		s.listeners[key] = make(map[uint64]Listener)
	}
	s.listeners[key][id] = fn

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if ls, ok := s.listeners[key]; ok {
			delete(ls, id)
			if len(ls) == 0 {
				delete(s.listeners, key)
			}
		}
	}
}

// OnRemove registers a hook called for every removed key.
func (s *Store) OnRemove(hook RemoveHook) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onRemove = append(s.onRemove, hook)
}

// Remove deletes key unconditionally.
func (s *Store) Remove(key QueryKey) bool {
	removed := s.RemoveIf(func(e Entry) bool { return e.Key == key })
	return len(removed) > 0
}

// RemoveIf deletes every entry for which pred returns true. The predicate runs
// under the store lock, so an entry cannot gain an observer between the check
// and the removal.
func (s *Store) RemoveIf(pred func(Entry) bool) []QueryKey {
	s.mu.Lock()
	var removed []QueryKey
	for k, e := range s.entries {
		if pred(*e) {
			delete(s.entries, k)
			removed = append(removed, k)
		}
	}
	hooks := make([]RemoveHook, len(s.onRemove))
	copy(hooks, s.onRemove)
	s.mu.Unlock()

	if len(removed) == 0 {
		return nil
	}

	for _, k := range removed {
		for _, h := range hooks {
			h(k)
		}
	}
	return removed
}

// Stats returns cache statistics.
func (s *Store) Stats() Stats {
	s.mu.RLock()
	var st Stats
	st.Entries = len(s.entries)
	for _, e := range s.entries {
		if e.ObserverCount > 0 {
			st.Observed++
		}
		switch e.Status {
		case StatusLoading:
			st.Loading++
		case StatusError:
			st.Errored++
		}
		if e.Optimistic {
			st.Optimistic++
		}
	}
	s.mu.RUnlock()

	s.metrics.fill(&st)
	return st
}

// Close drops all entries and listeners. The store must not be used afterwards.
func (s *Store) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	s.closed = true
	s.entries = make(map[QueryKey]*Entry)
	s.listeners = make(map[QueryKey]map[uint64]Listener)
	s.onRemove = nil
}

// Supersede marks every in-flight fetch of the entry as outdated. Their
// results will be discarded instead of applied.
func (e *Entry) Supersede() {
	e.generation++
}

func (s *Store) entryLocked(key QueryKey) (*Entry, bool) {
	if e, ok := s.entries[key]; ok {
		return e, false
	}
	e := &Entry{
		Key:       key,
		Status:    StatusIdle,
		UpdatedAt: s.now(),
	}
	s.entries[key] = e
	return e, true
}

func (s *Store) touchLocked(e *Entry) {
	s.version++
	e.version = s.version
	e.UpdatedAt = s.now()
}

func (s *Store) listenersLocked(key QueryKey, changed bool) []Listener {
	if !changed {
		return nil
	}
	ls := s.listeners[key]
	if len(ls) == 0 {
		return nil
	}
	out := make([]Listener, 0, len(ls))
	for _, l := range ls {
		out = append(out, l)
	}
	return out
}

func notify(calls []Listener, e Entry) {
	for _, fn := range calls {
		fn(e)
	}
}
