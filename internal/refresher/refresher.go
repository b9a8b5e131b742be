// Package refresher periodically revalidates entries that are still observed
// and older than their soft refresh threshold.
package refresher

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/scribehub/recordcache/internal/cache"
	apperrors "github.com/scribehub/recordcache/internal/errors"
	"github.com/scribehub/recordcache/internal/query"
	concpool "github.com/sourcegraph/conc/pool"
)

// Status represents the current status of the refresher
type Status string

const (
	StatusStopped  Status = "stopped"
	StatusRunning  Status = "running"
	StatusStopping Status = "stopping"
)

// Stats represents statistics about the refresher
type Stats struct {
	Status           Status     `json:"status"`
	LastRunTime      *time.Time `json:"last_run_time,omitempty"`
	NextRunTime      *time.Time `json:"next_run_time,omitempty"`
	TotalRuns        int64      `json:"total_runs"`
	TotalRevalidated int64      `json:"total_revalidated"`
	TotalFailed      int64      `json:"total_failed"`
	LastRunRefreshed int        `json:"last_run_refreshed"`
}

// Config holds configuration for the refresher
type Config struct {
	Enabled       bool
	Interval      time.Duration
	MaxConcurrent int
}

// Refresher swaps in fresh data for observed entries without flipping them
// to loading.
type Refresher struct {
	queries *query.Coordinator
	store   *cache.Store
	config  Config
	logger  *slog.Logger

	status   Status
	running  bool
	stopChan chan struct{}
	wg       sync.WaitGroup
	mu       sync.RWMutex

	stats   Stats
	statsMu sync.RWMutex
}

// New creates a refresher
func New(queries *query.Coordinator, config Config, logger *slog.Logger) *Refresher {
	if config.Interval <= 0 {
		config.Interval = time.Minute
	}
	if config.MaxConcurrent <= 0 {
		config.MaxConcurrent = 4
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Refresher{
		queries: queries,
		store:   queries.Store(),
		config:  config,
		logger:  logger.With("component", "refresher"),
		status:  StatusStopped,
		stats:   Stats{Status: StatusStopped},
	}
}

// Start begins the periodic sweep
func (r *Refresher) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.running {
		return apperrors.ErrAlreadyRunning
	}

	if !r.config.Enabled {
		r.logger.Info("Background refresher is disabled in configuration")
		return nil
	}

	r.running = true
	r.status = StatusRunning
	r.stopChan = make(chan struct{})
	r.updateStats(func(s *Stats) {
		s.Status = StatusRunning
		next := time.Now().Add(r.config.Interval)
		s.NextRunTime = &next
	})

	r.logger.Info("Starting background refresher",
		"interval", r.config.Interval,
		"max_concurrent", r.config.MaxConcurrent)

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.run(ctx, r.stopChan)
	}()

	return nil
}

// Stop stops the sweep and waits for a running one to finish
func (r *Refresher) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.running {
		return apperrors.ErrNotRunning
	}

	r.status = StatusStopping
	r.updateStats(func(s *Stats) { s.Status = StatusStopping })

	close(r.stopChan)
	r.running = false
	r.wg.Wait()

	r.status = StatusStopped
	r.updateStats(func(s *Stats) {
		s.Status = StatusStopped
		s.NextRunTime = nil
	})

	r.logger.Info("Background refresher stopped")
	return nil
}

// IsRunning returns whether the refresher is currently running
func (r *Refresher) IsRunning() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.running
}

// GetStats returns current statistics
func (r *Refresher) GetStats() Stats {
	r.statsMu.RLock()
	defer r.statsMu.RUnlock()
	return r.stats
}

// Candidates returns the keys a sweep at now would revalidate.
func (r *Refresher) Candidates(now time.Time) []cache.QueryKey {
	var keys []cache.QueryKey
	for _, e := range r.store.Entries(nil) {
		if e.ObserverCount == 0 || !e.HasData() || e.Optimistic {
			continue
		}
		if e.Status == cache.StatusLoading || r.queries.IsFetching(e.Key) {
			continue
		}
		if e.SoftStaleAfter.IsZero() || now.Before(e.SoftStaleAfter) {
			continue
		}
		keys = append(keys, e.Key)
	}
	return keys
}

// Sweep revalidates every candidate with bounded concurrency and returns the
// number of entries refreshed successfully.
func (r *Refresher) Sweep(ctx context.Context) (int, error) {
	now := r.store.Now()
	keys := r.Candidates(now)

	var refreshed, failed atomic.Int64
	pl := concpool.New().WithErrors().WithMaxGoroutines(r.config.MaxConcurrent)
	for _, key := range keys {
		pl.Go(func() error {
			if err := r.queries.Revalidate(ctx, key); err != nil {
				failed.Add(1)
				r.logger.Warn("Background revalidation failed, keeping stale data",
					"key", key.String(),
					"error", err)
				return err
			}
			refreshed.Add(1)
			return nil
		})
	}
	err := pl.Wait()

	r.updateStats(func(s *Stats) {
		s.TotalRuns++
		s.TotalRevalidated += refreshed.Load()
		s.TotalFailed += failed.Load()
		s.LastRunRefreshed = int(refreshed.Load())
		s.LastRunTime = &now
		next := now.Add(r.config.Interval)
		s.NextRunTime = &next
	})

	if len(keys) > 0 {
		r.logger.Info("Background refresh completed",
			"candidates", len(keys),
			"refreshed", refreshed.Load(),
			"failed", failed.Load())
	}
	return int(refreshed.Load()), err
}

func (r *Refresher) run(ctx context.Context, stop <-chan struct{}) {
	ticker := time.NewTicker(r.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-ticker.C:
			_, _ = r.Sweep(ctx)
		}
	}
}

func (r *Refresher) updateStats(fn func(*Stats)) {
	r.statsMu.Lock()
	defer r.statsMu.Unlock()
	fn(&r.stats)
}
