// Package mutation applies optimistic writes to the cache around a backend
// call and commits or rolls them back as a unit.
package mutation

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/scribehub/recordcache/internal/cache"
	"github.com/scribehub/recordcache/internal/query"
)

// Mutation describes one write.
type Mutation struct {
	// Name identifies the mutation in logs.
	Name string
	// Affected selects every entry the write can change.
	Affected cache.Matcher
	// Optimistic returns the data an affected entry should show while the
	// call is in flight. Returning false leaves the entry untouched.
	Optimistic func(key cache.QueryKey, data any) (any, bool)
	// Call performs the write against the backend.
	Call func(ctx context.Context) (any, error)
	// Commit merges the confirmed result into an affected entry. When nil the
	// optimistic data is kept as confirmed.
	Commit func(key cache.QueryKey, data, result any) (any, bool)
	// Invalidate selects derived entries that must refetch after success.
	Invalidate cache.Matcher
}

// Coordinator runs mutations one at a time. The lock is held across the
// backend call, so a slow write delays every later mutation, including ones
// on unrelated records. Snapshots of overlapping entries therefore never
// interleave, and a rollback cannot undo another mutation's optimistic data.
type Coordinator struct {
	store   *cache.Store
	queries *query.Coordinator
	logger  *slog.Logger

	mu sync.Mutex
}

// NewCoordinator creates a mutation coordinator.
func NewCoordinator(queries *query.Coordinator, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		store:   queries.Store(),
		queries: queries,
		logger:  logger.With("component", "mutation-coordinator"),
	}
}

// Mutate snapshots and optimistically updates the affected entries, runs the
// call and then either commits the confirmed result or restores the
// snapshots. No entry is left optimistic once Mutate returns.
func (c *Coordinator) Mutate(ctx context.Context, m Mutation) (any, error) {
	if m.Call == nil {
		return nil, fmt.Errorf("mutation %q has no call", m.Name)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.store.Metrics().Mutate()
	snaps, touched := c.apply(m)

	result, err := m.Call(ctx)
	if err != nil {
		c.store.Restore(snaps)
		c.store.Metrics().Rollback()
		c.logger.Warn("Mutation failed, rolled back",
			"mutation", m.Name,
			"entries", len(snaps),
			"error", err)
		return nil, err
	}

	c.commit(m, touched, result)
	if m.Invalidate != nil {
		c.queries.Invalidate(m.Invalidate)
	}

	c.logger.Debug("Mutation committed", "mutation", m.Name, "entries", len(touched))
	return result, nil
}

// apply captures snapshots and writes optimistic data in one critical
// section, so no subscriber sees a partially applied mutation.
func (c *Coordinator) apply(m Mutation) ([]cache.Snapshot, map[cache.QueryKey]bool) {
	touched := make(map[cache.QueryKey]bool)
	if m.Affected == nil || m.Optimistic == nil {
		return nil, touched
	}

	var snaps []cache.Snapshot
	c.store.UpdateMatching(m.Affected, func(e *cache.Entry) bool {
		if !e.HasData() {
			return false
		}
		snap := e.Snapshot()
		next, ok := m.Optimistic(e.Key, e.Data)
		if !ok {
			return false
		}

		snaps = append(snaps, snap)
		touched[e.Key] = true

		e.Supersede()
		e.Data = next
		e.Optimistic = true
		return true
	})
	return snaps, touched
}

func (c *Coordinator) commit(m Mutation, touched map[cache.QueryKey]bool, result any) {
	if len(touched) == 0 {
		return
	}

	c.store.UpdateMatching(func(k cache.QueryKey) bool { return touched[k] }, func(e *cache.Entry) bool {
		if m.Commit != nil {
			if next, ok := m.Commit(e.Key, e.Data, result); ok {
				e.Data = next
			}
		}
		e.Optimistic = false
		e.Err = nil
		return true
	})
}
