package api

import (
	"time"

	"github.com/scribehub/recordcache/internal/cache"
	"github.com/scribehub/recordcache/internal/export"
	"github.com/scribehub/recordcache/internal/refresher"
)

// APIResponse represents a standard API response wrapper
type APIResponse struct {
	Success bool       `json:"success"`
	Data    any        `json:"data,omitempty"`
	Error   *APIError  `json:"error,omitempty"`
	Meta    *CacheMeta `json:"meta,omitempty"`
}

// APIError represents an error response
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

// CacheMeta describes the cache entry a response was served from.
type CacheMeta struct {
	Key        string       `json:"key"`
	Status     cache.Status `json:"status"`
	FetchedAt  *time.Time   `json:"fetchedAt,omitempty"`
	Optimistic bool         `json:"optimistic,omitempty"`
	// Error is set when the last fetch failed and older data is served.
	Error string `json:"error,omitempty"`
}

func newCacheMeta(e cache.Entry) *CacheMeta {
	m := &CacheMeta{
		Key:        e.Key.String(),
		Status:     e.Status,
		Optimistic: e.Optimistic,
	}
	if !e.FetchedAt.IsZero() {
		at := e.FetchedAt
		m.FetchedAt = &at
	}
	if e.Err != nil {
		m.Error = e.Err.Error()
	}
	return m
}

// EntryEvent is one message of a live list stream.
type EntryEvent struct {
	Type string     `json:"type"`
	Data any        `json:"data,omitempty"`
	Meta *CacheMeta `json:"meta"`
}

// ExportRequest is the body of a single export.
type ExportRequest struct {
	Options export.Options `json:"options"`
}

// BulkExportRequest is the body of a bulk export.
type BulkExportRequest struct {
	IDs     []string       `json:"ids"`
	Options export.Options `json:"options"`
}

// InvalidateRequest lists the resources to mark stale.
type InvalidateRequest struct {
	Resources []string `json:"resources"`
}

// HoverResponse reports the state of a hover prefetch intent.
type HoverResponse struct {
	RecordID  string `json:"recordId"`
	Cancelled bool   `json:"cancelled,omitempty"`
	Fired     bool   `json:"fired"`
}

// CacheStatsResponse combines store and refresher counters.
type CacheStatsResponse struct {
	Cache     cache.Stats     `json:"cache"`
	Refresher refresher.Stats `json:"refresher"`
}
