// Package janitor evicts cache entries nobody has observed for a while.
package janitor

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/scribehub/recordcache/internal/cache"
	apperrors "github.com/scribehub/recordcache/internal/errors"
)

// Config holds configuration for the janitor
type Config struct {
	Enabled bool
	// Schedule is a cron spec, e.g. "@every 1m".
	Schedule   string
	EvictAfter time.Duration
}

// Janitor removes idle entries on a cron schedule. Entries with observers,
// optimistic writes or a fetch in flight are never removed.
type Janitor struct {
	store  *cache.Store
	config Config
	logger *slog.Logger

	mu      sync.Mutex
	cron    *cron.Cron
	running bool
}

// New creates a janitor for store.
func New(store *cache.Store, config Config, logger *slog.Logger) *Janitor {
	if config.Schedule == "" {
		config.Schedule = "@every 1m"
	}
	if config.EvictAfter <= 0 {
		config.EvictAfter = 10 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Janitor{
		store:  store,
		config: config,
		logger: logger.With("component", "janitor"),
	}
}

// Start schedules the sweep.
func (j *Janitor) Start() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.running {
		return apperrors.ErrAlreadyRunning
	}
	if !j.config.Enabled {
		j.logger.Info("Cache janitor is disabled in configuration")
		return nil
	}

	c := cron.New()
	if _, err := c.AddFunc(j.config.Schedule, func() { j.Sweep(j.store.Now()) }); err != nil {
		return fmt.Errorf("invalid janitor schedule %q: %w", j.config.Schedule, err)
	}
	c.Start()

	j.cron = c
	j.running = true
	j.logger.Info("Cache janitor started",
		"schedule", j.config.Schedule,
		"evict_after", j.config.EvictAfter)
	return nil
}

// Stop unschedules the sweep and waits for a running one to finish.
func (j *Janitor) Stop() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if !j.running {
		return apperrors.ErrNotRunning
	}

	<-j.cron.Stop().Done()
	j.cron = nil
	j.running = false
	j.logger.Info("Cache janitor stopped")
	return nil
}

// IsRunning reports whether the sweep is scheduled.
func (j *Janitor) IsRunning() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.running
}

// Sweep evicts every evictable entry idle for at least EvictAfter at now and
// returns the removed keys.
func (j *Janitor) Sweep(now time.Time) []cache.QueryKey {
	removed := j.store.RemoveIf(func(e cache.Entry) bool {
		if e.ObserverCount > 0 || e.Optimistic || e.Status == cache.StatusLoading {
			return false
		}
		return e.IdleFor(now) >= j.config.EvictAfter
	})

	if len(removed) > 0 {
		j.store.Metrics().Evict(len(removed))
		j.logger.Info("Evicted idle cache entries", "count", len(removed))
	}
	return removed
}
