package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/jinzhu/copier"
	"github.com/robfig/cron/v3"
)

// Config represents the complete application configuration
type Config struct {
	Backend   BackendConfig   `yaml:"backend" mapstructure:"backend"`
	Cache     CacheConfig     `yaml:"cache" mapstructure:"cache"`
	Refresher RefresherConfig `yaml:"refresher" mapstructure:"refresher"`
	Janitor   JanitorConfig   `yaml:"janitor" mapstructure:"janitor"`
	Prefetch  PrefetchConfig  `yaml:"prefetch" mapstructure:"prefetch"`
	Behavior  BehaviorConfig  `yaml:"behavior" mapstructure:"behavior"`
	Export    ExportConfig    `yaml:"export" mapstructure:"export"`
	Database  DatabaseConfig  `yaml:"database" mapstructure:"database"`
	API       APIConfig       `yaml:"api" mapstructure:"api"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
}

// BackendConfig represents the transcription backend connection
type BackendConfig struct {
	BaseURL string        `yaml:"base_url" mapstructure:"base_url"`
	Timeout time.Duration `yaml:"timeout" mapstructure:"timeout"`
	APIKey  string        `yaml:"api_key" mapstructure:"api_key"`
}

// CacheConfig represents staleness, retry and refetch cadence settings
type CacheConfig struct {
	StaleTime          time.Duration `yaml:"stale_time" mapstructure:"stale_time"`
	SoftRefreshAfter   time.Duration `yaml:"soft_refresh_after" mapstructure:"soft_refresh_after"`
	HardStaleAfter     time.Duration `yaml:"hard_stale_after" mapstructure:"hard_stale_after"`
	MaxRetries         int           `yaml:"max_retries" mapstructure:"max_retries"`
	RetryDelay         time.Duration `yaml:"retry_delay" mapstructure:"retry_delay"`
	MaxRetryDelay      time.Duration `yaml:"max_retry_delay" mapstructure:"max_retry_delay"`
	FetchTimeout       time.Duration `yaml:"fetch_timeout" mapstructure:"fetch_timeout"`
	ProcessingInterval time.Duration `yaml:"processing_interval" mapstructure:"processing_interval"`
	IdleInterval       time.Duration `yaml:"idle_interval" mapstructure:"idle_interval"`
}

// RefresherConfig represents background revalidation settings
type RefresherConfig struct {
	Enabled       *bool         `yaml:"enabled" mapstructure:"enabled"`
	Interval      time.Duration `yaml:"interval" mapstructure:"interval"`
	MaxConcurrent int           `yaml:"max_concurrent" mapstructure:"max_concurrent"`
}

// JanitorConfig represents eviction settings
type JanitorConfig struct {
	Enabled    *bool         `yaml:"enabled" mapstructure:"enabled"`
	Schedule   string        `yaml:"schedule" mapstructure:"schedule"` // Cron spec, e.g. "@every 1m"
	EvictAfter time.Duration `yaml:"evict_after" mapstructure:"evict_after"`
}

// PrefetchConfig represents prefetch heuristics settings
type PrefetchConfig struct {
	HoverDelay    time.Duration `yaml:"hover_delay" mapstructure:"hover_delay"`
	BehaviorRate  float64       `yaml:"behavior_rate" mapstructure:"behavior_rate"` // Prefetches per second
	BehaviorBurst int           `yaml:"behavior_burst" mapstructure:"behavior_burst"`
	TopFilterSets int           `yaml:"top_filter_sets" mapstructure:"top_filter_sets"`
	RecentViews   int           `yaml:"recent_views" mapstructure:"recent_views"`
	DedupWindow   time.Duration `yaml:"dedup_window" mapstructure:"dedup_window"`
	DedupSize     int           `yaml:"dedup_size" mapstructure:"dedup_size"`
}

// BehaviorConfig represents the bounds of the tracked behavior profile
type BehaviorConfig struct {
	MaxSearches   int    `yaml:"max_searches" mapstructure:"max_searches"`
	MaxFilterSets int    `yaml:"max_filter_sets" mapstructure:"max_filter_sets"`
	MaxViewed     int    `yaml:"max_viewed" mapstructure:"max_viewed"`
	StorageKey    string `yaml:"storage_key" mapstructure:"storage_key"`
}

// ExportConfig represents export job settings
type ExportConfig struct {
	DownloadDir   string        `yaml:"download_dir" mapstructure:"download_dir"`
	BulkDelay     time.Duration `yaml:"bulk_delay" mapstructure:"bulk_delay"`
	DisplayWindow time.Duration `yaml:"display_window" mapstructure:"display_window"`
}

// DatabaseConfig represents database configuration
type DatabaseConfig struct {
	Path string `yaml:"path" mapstructure:"path"` // Empty = in-memory behavior profile
}

// APIConfig represents local REST API configuration
type APIConfig struct {
	Port   int    `yaml:"port" mapstructure:"port"`
	Prefix string `yaml:"prefix" mapstructure:"prefix"`
}

// LogConfig represents logging configuration with rotation support
type LogConfig struct {
	File       string `yaml:"file" mapstructure:"file"`               // Log file path (empty = console only)
	Level      string `yaml:"level" mapstructure:"level"`             // Log level (debug, info, warn, error)
	MaxSize    int    `yaml:"max_size" mapstructure:"max_size"`       // Max size in MB before rotation
	MaxAge     int    `yaml:"max_age" mapstructure:"max_age"`         // Max age in days to keep files
	MaxBackups int    `yaml:"max_backups" mapstructure:"max_backups"` // Max number of old files to keep
	Compress   bool   `yaml:"compress" mapstructure:"compress"`       // Compress old log files
}

// SlogLevel returns the configured level, defaulting to info.
func (l LogConfig) SlogLevel() slog.Level {
	switch strings.ToLower(l.Level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// DeepCopy returns a deep copy of the configuration
func (c *Config) DeepCopy() *Config {
	if c == nil {
		return nil
	}

	copyCfg := &Config{}
	if err := copier.CopyWithOption(copyCfg, c, copier.Option{DeepCopy: true}); err != nil {
		// Config holds only plain values and pointers to them.
		panic(fmt.Sprintf("config: deep copy failed: %v", err))
	}
	return copyCfg
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Backend.BaseURL == "" {
		return fmt.Errorf("backend base_url cannot be empty")
	}
	if u, err := url.Parse(c.Backend.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("backend base_url must be an absolute URL")
	}

	if c.Backend.Timeout < 0 {
		return fmt.Errorf("backend timeout must be non-negative")
	}

	if c.Cache.StaleTime <= 0 {
		return fmt.Errorf("cache stale_time must be greater than 0")
	}

	if c.Cache.SoftRefreshAfter <= 0 {
		return fmt.Errorf("cache soft_refresh_after must be greater than 0")
	}

	if c.Cache.HardStaleAfter <= c.Cache.SoftRefreshAfter {
		return fmt.Errorf("cache hard_stale_after must be greater than soft_refresh_after")
	}

	if c.Cache.MaxRetries < 0 {
		return fmt.Errorf("cache max_retries must be non-negative")
	}

	if c.Cache.RetryDelay < 0 || c.Cache.MaxRetryDelay < 0 {
		return fmt.Errorf("cache retry delays must be non-negative")
	}

	if c.Cache.ProcessingInterval <= 0 || c.Cache.IdleInterval <= 0 {
		return fmt.Errorf("cache processing_interval and idle_interval must be greater than 0")
	}

	if c.Cache.ProcessingInterval > c.Cache.IdleInterval {
		return fmt.Errorf("cache processing_interval cannot be longer than idle_interval")
	}

	if c.RefresherEnabled() {
		if c.Refresher.Interval <= 0 {
			return fmt.Errorf("refresher interval must be greater than 0")
		}
		if c.Refresher.MaxConcurrent <= 0 {
			return fmt.Errorf("refresher max_concurrent must be greater than 0")
		}
	}

	if c.JanitorEnabled() {
		if _, err := cron.ParseStandard(c.Janitor.Schedule); err != nil {
			return fmt.Errorf("janitor schedule %q is invalid: %w", c.Janitor.Schedule, err)
		}
		if c.Janitor.EvictAfter <= 0 {
			return fmt.Errorf("janitor evict_after must be greater than 0")
		}
	}

	if c.Prefetch.HoverDelay < 0 {
		return fmt.Errorf("prefetch hover_delay must be non-negative")
	}

	if c.Prefetch.BehaviorRate <= 0 || c.Prefetch.BehaviorBurst <= 0 {
		return fmt.Errorf("prefetch behavior_rate and behavior_burst must be greater than 0")
	}

	if c.Prefetch.DedupSize <= 0 {
		return fmt.Errorf("prefetch dedup_size must be greater than 0")
	}

	if c.Behavior.MaxSearches <= 0 || c.Behavior.MaxFilterSets <= 0 || c.Behavior.MaxViewed <= 0 {
		return fmt.Errorf("behavior list bounds must be greater than 0")
	}

	if c.Behavior.StorageKey == "" {
		return fmt.Errorf("behavior storage_key cannot be empty")
	}

	if c.Export.DownloadDir == "" {
		return fmt.Errorf("export download_dir cannot be empty")
	}

	if c.Export.BulkDelay < 0 {
		return fmt.Errorf("export bulk_delay must be non-negative")
	}

	if c.Export.DisplayWindow <= 0 {
		return fmt.Errorf("export display_window must be greater than 0")
	}

	if c.API.Port <= 0 || c.API.Port > 65535 {
		return fmt.Errorf("api port must be between 1 and 65535")
	}

	if c.API.Prefix != "" && !strings.HasPrefix(c.API.Prefix, "/") {
		return fmt.Errorf("api prefix must start with /")
	}

	if c.Log.Level != "" {
		switch c.Log.Level {
		case "debug", "info", "warn", "error":
		default:
			return fmt.Errorf("log.level must be one of: debug, info, warn, error")
		}
	}

	if c.Log.MaxSize < 0 {
		return fmt.Errorf("log.max_size must be non-negative")
	}

	if c.Log.MaxAge < 0 {
		return fmt.Errorf("log.max_age must be non-negative")
	}

	if c.Log.MaxBackups < 0 {
		return fmt.Errorf("log.max_backups must be non-negative")
	}

	return nil
}

// RefresherEnabled reports whether background revalidation runs. Defaults to true.
func (c *Config) RefresherEnabled() bool {
	return c.Refresher.Enabled == nil || *c.Refresher.Enabled
}

// JanitorEnabled reports whether eviction runs. Defaults to true.
func (c *Config) JanitorEnabled() bool {
	return c.Janitor.Enabled == nil || *c.Janitor.Enabled
}

// DefaultConfig returns a config with default values
func DefaultConfig() *Config {
	refresherEnabled := true
	janitorEnabled := true

	return &Config{
		Backend: BackendConfig{
			BaseURL: "http://localhost:3000/api",
			Timeout: 30 * time.Second,
		},
		Cache: CacheConfig{
			StaleTime:          5 * time.Minute,
			SoftRefreshAfter:   4 * time.Minute,
			HardStaleAfter:     10 * time.Minute,
			MaxRetries:         3,
			RetryDelay:         500 * time.Millisecond,
			MaxRetryDelay:      8 * time.Second,
			FetchTimeout:       30 * time.Second,
			ProcessingInterval: 2 * time.Minute,
			IdleInterval:       15 * time.Minute,
		},
		Refresher: RefresherConfig{
			Enabled:       &refresherEnabled,
			Interval:      time.Minute,
			MaxConcurrent: 4,
		},
		Janitor: JanitorConfig{
			Enabled:    &janitorEnabled,
			Schedule:   "@every 1m",
			EvictAfter: 10 * time.Minute,
		},
		Prefetch: PrefetchConfig{
			HoverDelay:    300 * time.Millisecond,
			BehaviorRate:  1,
			BehaviorBurst: 1,
			TopFilterSets: 3,
			RecentViews:   5,
			DedupWindow:   30 * time.Second,
			DedupSize:     256,
		},
		Behavior: BehaviorConfig{
			MaxSearches:   10,
			MaxFilterSets: 5,
			MaxViewed:     20,
			StorageKey:    "user-behavior",
		},
		Export: ExportConfig{
			DownloadDir:   "./downloads",
			BulkDelay:     500 * time.Millisecond,
			DisplayWindow: 3 * time.Second,
		},
		Database: DatabaseConfig{
			Path: "recordcache.db",
		},
		API: APIConfig{
			Port:   8090,
			Prefix: "/api",
		},
		Log: LogConfig{
			File:       "",     // Empty = console only
			Level:      "info", // Default log level
			MaxSize:    100,    // 100MB max size
			MaxAge:     30,     // Keep for 30 days
			MaxBackups: 10,     // Keep 10 old files
			Compress:   true,   // Compress old files
		},
	}
}
