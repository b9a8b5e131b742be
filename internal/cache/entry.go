package cache

import (
	"time"
)

// Status is the fetch state of an entry.
type Status string

const (
	StatusIdle    Status = "idle"
	StatusLoading Status = "loading"
	StatusSuccess Status = "success"
	StatusError   Status = "error"
)

// Cloner is implemented by cached values that can produce an independent copy.
// Snapshots of values that do not implement it keep the original reference,
// so such values must be treated as immutable.
type Cloner interface {
	CloneData() any
}

// Entry is one row of the store. Data may be present with StatusError: the
// last known good value is retained when a fetch fails.
type Entry struct {
	Key            QueryKey
	Data           any
	Err            error
	Status         Status
	FetchedAt      time.Time
	UpdatedAt      time.Time
	SoftStaleAfter time.Time
	HardStaleAfter time.Time
	ObserverCount  int
	// IdleSince is when the observer count last dropped to zero.
	IdleSince time.Time
	// Optimistic is set while a mutation holds unconfirmed data in the entry.
	Optimistic bool
	// Invalidated forces the next access to refetch regardless of age.
	Invalidated bool
	// RefetchInterval is the adaptive interval computed after the last fetch.
	RefetchInterval time.Duration

	// generation changes on every write that must invalidate in-flight fetches.
	generation uint64
	// version increases on every change and orders notifications.
	version uint64
}

// Generation returns the write generation of the entry.
func (e Entry) Generation() uint64 {
	return e.generation
}

// Version returns the store-wide change sequence of the entry.
func (e Entry) Version() uint64 {
	return e.version
}

// HasData reports whether the entry holds a value.
func (e Entry) HasData() bool {
	return e.Data != nil
}

// SettledStatus is the status the entry has when no fetch is running:
// error when the last fetch failed, success when it holds data, idle otherwise.
func (e Entry) SettledStatus() Status {
	switch {
	case e.Err != nil:
		return StatusError
	case e.HasData():
		return StatusSuccess
	default:
		return StatusIdle
	}
}

// Age returns the time since the last successful fetch, or since the entry
// was created when it was never fetched.
func (e Entry) Age(now time.Time) time.Duration {
	if e.FetchedAt.IsZero() {
		return now.Sub(e.UpdatedAt)
	}
	return now.Sub(e.FetchedAt)
}

// IsStale reports whether the data is older than staleTime. Entries without
// data are always stale.
func (e Entry) IsStale(now time.Time, staleTime time.Duration) bool {
	if !e.HasData() || e.FetchedAt.IsZero() || e.Invalidated {
		return true
	}
	return now.Sub(e.FetchedAt) > staleTime
}

// NeedsRevalidation reports whether the soft refresh threshold has passed.
func (e Entry) NeedsRevalidation(now time.Time) bool {
	if e.Invalidated {
		return true
	}
	if e.SoftStaleAfter.IsZero() {
		return e.HasData()
	}
	return now.After(e.SoftStaleAfter)
}

// IdleFor returns how long the entry has been unobserved and untouched.
// Observed entries are never idle.
func (e Entry) IdleFor(now time.Time) time.Duration {
	if e.ObserverCount > 0 {
		return 0
	}
	last := e.UpdatedAt
	if e.IdleSince.After(last) {
		last = e.IdleSince
	}
	return now.Sub(last)
}

// Snapshot is the restorable state of an entry. Observer bookkeeping is not
// part of it: observers are owned by subscribers, not by mutations.
type Snapshot struct {
	Key            QueryKey
	Data           any
	Err            error
	Status         Status
	FetchedAt      time.Time
	UpdatedAt      time.Time
	SoftStaleAfter time.Time
	HardStaleAfter time.Time
	Optimistic     bool
	Invalidated    bool
}

// Snapshot captures the entry state. Data implementing Cloner is deep copied.
func (e Entry) Snapshot() Snapshot {
	data := e.Data
	if c, ok := data.(Cloner); ok {
		data = c.CloneData()
	}
	return Snapshot{
		Key:            e.Key,
		Data:           data,
		Err:            e.Err,
		Status:         e.Status,
		FetchedAt:      e.FetchedAt,
		UpdatedAt:      e.UpdatedAt,
		SoftStaleAfter: e.SoftStaleAfter,
		HardStaleAfter: e.HardStaleAfter,
		Optimistic:     e.Optimistic,
		Invalidated:    e.Invalidated,
	}
}

func (e *Entry) restore(s Snapshot) {
	data := s.Data
	if c, ok := data.(Cloner); ok {
		data = c.CloneData()
	}
	e.Data = data
	e.Err = s.Err
	e.Status = s.Status
	e.FetchedAt = s.FetchedAt
	e.UpdatedAt = s.UpdatedAt
	e.SoftStaleAfter = s.SoftStaleAfter
	e.HardStaleAfter = s.HardStaleAfter
	e.Optimistic = s.Optimistic
	e.Invalidated = s.Invalidated

	// Restore supersedes any fetch in flight, so nothing would ever clear a
	// loading status captured in the snapshot.
	if e.Status == StatusLoading {
		e.Status = e.SettledStatus()
	}
}
