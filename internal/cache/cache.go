// Package cache provides the key-addressed table of query results shared by
// the query, mutation, prefetch and sweep components. It performs no I/O.
package cache

import (
	"sync/atomic"
)

// Stats provides cache statistics for monitoring.
type Stats struct {
	Entries       int    `json:"entries"`
	Observed      int    `json:"observed"`
	Loading       int    `json:"loading"`
	Errored       int    `json:"errored"`
	Optimistic    int    `json:"optimistic"`
	Hits          uint64 `json:"hits"`
	Misses        uint64 `json:"misses"`
	Fetches       uint64 `json:"fetches"`
	Deduplicated  uint64 `json:"deduplicated"`
	Discarded     uint64 `json:"discarded"`
	Evictions     uint64 `json:"evictions"`
	Revalidations uint64 `json:"revalidations"`
	Prefetches    uint64 `json:"prefetches"`
	Mutations     uint64 `json:"mutations"`
	Rollbacks     uint64 `json:"rollbacks"`
}

// Metrics holds the counters the coordinators report into.
type Metrics struct {
	hits          atomic.Uint64
	misses        atomic.Uint64
	fetches       atomic.Uint64
	deduplicated  atomic.Uint64
	discarded     atomic.Uint64
	evictions     atomic.Uint64
	revalidations atomic.Uint64
	prefetches    atomic.Uint64
	mutations     atomic.Uint64
	rollbacks     atomic.Uint64
}

// Each recorder below counts one event.
func (m *Metrics) Hit() { m.hits.Add(1) }
func (m *Metrics) Miss() { m.misses.Add(1) }
func (m *Metrics) Fetch() { m.fetches.Add(1) }
func (m *Metrics) Deduplicate() { m.deduplicated.Add(1) }
func (m *Metrics) Discard() { m.discarded.Add(1) }
func (m *Metrics) Revalidate() { m.revalidations.Add(1) }
func (m *Metrics) Prefetch() { m.prefetches.Add(1) }
func (m *Metrics) Mutate() { m.mutations.Add(1) }
func (m *Metrics) Rollback() { m.rollbacks.Add(1) }
func (m *Metrics) Evict(n int) { m.evictions.Add(uint64(n)) }

func (m *Metrics) fill(s *Stats) {
	s.Hits = m.hits.Load()
	s.Misses = m.misses.Load()
	s.Fetches = m.fetches.Load()
	s.Deduplicated = m.deduplicated.Load()
	s.Discarded = m.discarded.Load()
	s.Evictions = m.evictions.Load()
	s.Revalidations = m.revalidations.Load()
	s.Prefetches = m.prefetches.Load()
	s.Mutations = m.mutations.Load()
	s.Rollbacks = m.rollbacks.Load()
}
