// Package behavior records bounded usage signals used to bias prefetching.
// Tracking is best effort: storage failures are logged and never returned.
package behavior

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"sync"

	"github.com/scribehub/recordcache/internal/cache"
	"github.com/scribehub/recordcache/internal/platform"
	"golang.org/x/text/cases"
)

// FilterSet is one combination of list filters.
type FilterSet map[string]any

// Profile is the persisted behavior document. Every list is most recent first.
type Profile struct {
	RecentSearches   []string    `json:"recentSearches"`
	CommonFilterSets []FilterSet `json:"commonFilterSets"`
	RecentlyViewed   []string    `json:"recentlyViewed"`
}

// Config bounds the profile lists.
type Config struct {
	MaxSearches   int
	MaxFilterSets int
	MaxViewed     int
	StorageKey    string
}

// DefaultConfig returns the default bounds.
func DefaultConfig() Config {
	return Config{
		MaxSearches:   10,
		MaxFilterSets: 5,
		MaxViewed:     20,
		StorageKey:    "user-behavior",
	}
}

// Tracker reads and writes the profile as a whole document.
type Tracker struct {
	storage platform.Storage
	cfg     Config
	logger  *slog.Logger

	mu   sync.Mutex
	fold cases.Caser
}

// NewTracker creates a tracker persisting to storage.
func NewTracker(storage platform.Storage, cfg Config, logger *slog.Logger) *Tracker {
	def := DefaultConfig()
	if cfg.MaxSearches <= 0 {
		cfg.MaxSearches = def.MaxSearches
	}
	if cfg.MaxFilterSets <= 0 {
		cfg.MaxFilterSets = def.MaxFilterSets
	}
	if cfg.MaxViewed <= 0 {
		cfg.MaxViewed = def.MaxViewed
	}
	if cfg.StorageKey == "" {
		cfg.StorageKey = def.StorageKey
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Tracker{
		storage: storage,
		cfg:     cfg,
		logger:  logger.With("component", "behavior-tracker"),
		fold:    cases.Fold(),
	}
}

// Profile returns the stored profile, or an empty one if it cannot be read.
func (t *Tracker) Profile(ctx context.Context) Profile {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.load(ctx)
}

// TrackSearch records a search query. Blank queries are ignored and queries
// differing only in case count as the same search.
func (t *Tracker) TrackSearch(ctx context.Context, q string) {
	q = strings.TrimSpace(q)
	if q == "" {
		return
	}

	t.update(ctx, func(p *Profile) {
		folded := t.fold.String(q)
		p.RecentSearches = pushFront(p.RecentSearches, q, func(s string) bool {
			return t.fold.String(s) == folded
		}, t.cfg.MaxSearches)
	})
}

// TrackFilters records a list filter combination. Empty filter values are
// ignored, so {status: "", page: 1} and {page: 1} are the same set.
func (t *Tracker) TrackFilters(ctx context.Context, fs FilterSet) {
	canonical := cache.Canonical(fs)
	if canonical == "" {
		return
	}

	var normalized FilterSet
	if err := json.Unmarshal([]byte(canonical), &normalized); err != nil {
		return
	}

	t.update(ctx, func(p *Profile) {
		p.CommonFilterSets = pushFront(p.CommonFilterSets, normalized, func(s FilterSet) bool {
			return cache.Canonical(s) == canonical
		}, t.cfg.MaxFilterSets)
	})
}

// TrackView records that a record was opened.
func (t *Tracker) TrackView(ctx context.Context, id string) {
	if id == "" {
		return
	}

	t.update(ctx, func(p *Profile) {
		p.RecentlyViewed = pushFront(p.RecentlyViewed, id, func(s string) bool {
			return s == id
		}, t.cfg.MaxViewed)
	})
}

func (t *Tracker) update(ctx context.Context, fn func(*Profile)) {
	t.mu.Lock()
	defer t.mu.Unlock()

	p := t.load(ctx)
	fn(&p)

	raw, err := json.Marshal(p)
	if err != nil {
		t.logger.Warn("Failed to encode behavior profile", "error", err)
		return
	}
	if err := t.storage.Persist(ctx, t.cfg.StorageKey, raw); err != nil {
		t.logger.Warn("Failed to persist behavior profile", "error", err)
	}
}

func (t *Tracker) load(ctx context.Context) Profile {
	var p Profile

	raw, err := t.storage.Read(ctx, t.cfg.StorageKey)
	if err != nil {
		if !errors.Is(err, platform.ErrNotFound) {
			t.logger.Warn("Failed to read behavior profile", "error", err)
		}
		return p
	}

	if err := json.Unmarshal(raw, &p); err != nil {
		t.logger.Warn("Discarding unreadable behavior profile", "error", err)
		return Profile{}
	}

	// A document written with larger bounds is trimmed on read.
	p.RecentSearches = bound(p.RecentSearches, t.cfg.MaxSearches)
	p.CommonFilterSets = bound(p.CommonFilterSets, t.cfg.MaxFilterSets)
	p.RecentlyViewed = bound(p.RecentlyViewed, t.cfg.MaxViewed)
	return p
}

// pushFront inserts item at the front, dropping any element same reports as
// equal to it, and bounds the result to limit elements.
func pushFront[T any](list []T, item T, same func(T) bool, limit int) []T {
	out := make([]T, 0, min(len(list)+1, limit))
	out = append(out, item)
	for _, v := range list {
		if len(out) == limit {
			break
		}
		if same(v) {
			continue
		}
		out = append(out, v)
	}
	return out
}

func bound[T any](list []T, limit int) []T {
	if len(list) > limit {
		return list[:limit]
	}
	return list
}
