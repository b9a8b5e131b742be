// Package progress fans job progress out to stream subscribers and keeps the
// latest state of every running job.
package progress

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Update represents a progress update event
type Update struct {
	JobID      string    `json:"job_id"`
	Status     string    `json:"status"`
	Percentage int       `json:"percentage"`
	Error      string    `json:"error,omitempty"`
	Terminal   bool      `json:"terminal"`
	Timestamp  time.Time `json:"timestamp"`
}

// Broadcaster keeps the latest update per job and forwards every accepted
// update to subscribers. Percentages never decrease for a job, and once a
// job has reported a terminal update further updates are ignored until the
// job is cleared.
type Broadcaster struct {
	progress map[string]Update
	mu       sync.RWMutex
	log      *slog.Logger

	subscribers map[string]chan Update
	subMu       sync.RWMutex
	closed      bool
}

// NewBroadcaster creates a new progress broadcaster
func NewBroadcaster(logger *slog.Logger) *Broadcaster {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broadcaster{
		progress:    make(map[string]Update),
		subscribers: make(map[string]chan Update),
		log:         logger.With("component", "progress-broadcaster"),
	}
}

// Close closes every subscriber channel and drops all progress.
func (b *Broadcaster) Close() error {
	b.subMu.Lock()
	for _, ch := range b.subscribers {
		close(ch)
	}
	b.subscribers = make(map[string]chan Update)
	b.closed = true
	b.subMu.Unlock()

	b.mu.Lock()
	b.progress = make(map[string]Update)
	b.mu.Unlock()

	return nil
}

// Publish records u and forwards it. It returns the stored update and false
// when the update was rejected because the job already finished.
func (b *Broadcaster) Publish(u Update) (Update, bool) {
	u.Percentage = min(max(u.Percentage, 0), 100)
	if u.Timestamp.IsZero() {
		u.Timestamp = time.Now()
	}

	b.mu.Lock()
	prev, exists := b.progress[u.JobID]
	if exists {
		if prev.Terminal {
			b.mu.Unlock()
			return prev, false
		}
		u.Percentage = max(u.Percentage, prev.Percentage)
	}
	b.progress[u.JobID] = u
	b.mu.Unlock()

	b.broadcast(u)
	return u, true
}

func (b *Broadcaster) broadcast(u Update) {
	b.subMu.RLock()
	defer b.subMu.RUnlock()

	for subID, ch := range b.subscribers {
		select {
		case ch <- u:
		default:
			// Slow consumers miss intermediate updates; the latest state is
			// always available through Get.
			b.log.WarnContext(context.Background(), "subscriber channel full, skipping update",
				"subscriber_id", subID,
				"job_id", u.JobID)
		}
	}
}

// Clear removes the job.
func (b *Broadcaster) Clear(jobID string) {
	b.mu.Lock()
	delete(b.progress, jobID)
	b.mu.Unlock()
}

// Get returns the latest update of a job.
func (b *Broadcaster) Get(jobID string) (Update, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	u, ok := b.progress[jobID]
	return u, ok
}

// All returns a copy of the latest update of every job.
func (b *Broadcaster) All() map[string]Update {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make(map[string]Update, len(b.progress))
	for id, u := range b.progress {
		out[id] = u
	}
	return out
}

// CreateTracker creates a tracker reporting job progress within [minPercent, maxPercent].
func (b *Broadcaster) CreateTracker(jobID string, minPercent, maxPercent int) *Tracker {
	return NewTracker(b, jobID, minPercent, maxPercent)
}

// Subscribe registers a stream subscriber. The channel is closed by
// Unsubscribe or Close.
func (b *Broadcaster) Subscribe() (string, <-chan Update) {
	b.subMu.Lock()
	defer b.subMu.Unlock()

	subID := uuid.NewString()
	ch := make(chan Update, 32)
	if b.closed {
		close(ch)
		return subID, ch
	}
	b.subscribers[subID] = ch
	return subID, ch
}

// Unsubscribe removes a subscriber and closes its channel
func (b *Broadcaster) Unsubscribe(subID string) {
	b.subMu.Lock()
	defer b.subMu.Unlock()

	if ch, exists := b.subscribers[subID]; exists {
		close(ch)
		delete(b.subscribers, subID)
	}
}
