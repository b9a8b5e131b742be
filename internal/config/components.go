package config

import (
	"github.com/scribehub/recordcache/internal/backend"
	"github.com/scribehub/recordcache/internal/behavior"
	"github.com/scribehub/recordcache/internal/database"
	"github.com/scribehub/recordcache/internal/export"
	"github.com/scribehub/recordcache/internal/janitor"
	"github.com/scribehub/recordcache/internal/prefetch"
	"github.com/scribehub/recordcache/internal/query"
	"github.com/scribehub/recordcache/internal/records"
	"github.com/scribehub/recordcache/internal/refresher"
)

// BackendClient returns the settings of the backend REST client.
func (c *Config) BackendClient() backend.Config {
	return backend.Config{
		BaseURL: c.Backend.BaseURL,
		Timeout: c.Backend.Timeout,
		APIKey:  c.Backend.APIKey,
	}
}

// DatabaseSettings returns the settings of the document store.
func (c *Config) DatabaseSettings() database.Config {
	return database.Config{DatabasePath: c.Database.Path}
}

// Collection maps the configuration onto every component of the record
// collection.
func (c *Config) Collection() records.Config {
	return records.Config{
		Query: query.Config{
			StaleTime:        c.Cache.StaleTime,
			SoftRefreshAfter: c.Cache.SoftRefreshAfter,
			HardStaleAfter:   c.Cache.HardStaleAfter,
			MaxRetries:       c.Cache.MaxRetries,
			RetryDelay:       c.Cache.RetryDelay,
			MaxRetryDelay:    c.Cache.MaxRetryDelay,
			FetchTimeout:     c.Cache.FetchTimeout,
		},
		ProcessingInterval: c.Cache.ProcessingInterval,
		IdleInterval:       c.Cache.IdleInterval,
		Prefetch: prefetch.Config{
			HoverDelay:    c.Prefetch.HoverDelay,
			BehaviorRate:  c.Prefetch.BehaviorRate,
			BehaviorBurst: c.Prefetch.BehaviorBurst,
			TopFilterSets: c.Prefetch.TopFilterSets,
			RecentViews:   c.Prefetch.RecentViews,
			DedupWindow:   c.Prefetch.DedupWindow,
			DedupSize:     c.Prefetch.DedupSize,
		},
		Refresher: refresher.Config{
			Enabled:       c.RefresherEnabled(),
			Interval:      c.Refresher.Interval,
			MaxConcurrent: c.Refresher.MaxConcurrent,
		},
		Janitor: janitor.Config{
			Enabled:    c.JanitorEnabled(),
			Schedule:   c.Janitor.Schedule,
			EvictAfter: c.Janitor.EvictAfter,
		},
		Behavior: behavior.Config{
			MaxSearches:   c.Behavior.MaxSearches,
			MaxFilterSets: c.Behavior.MaxFilterSets,
			MaxViewed:     c.Behavior.MaxViewed,
			StorageKey:    c.Behavior.StorageKey,
		},
		Export: export.Config{
			BulkDelay:     c.Export.BulkDelay,
			DisplayWindow: c.Export.DisplayWindow,
		},
	}
}
