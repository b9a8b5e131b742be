// Package api exposes the record collection over a local HTTP API.
package api

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/scribehub/recordcache/internal/config"
	"github.com/scribehub/recordcache/internal/prefetch"
	"github.com/scribehub/recordcache/internal/records"
	"github.com/scribehub/recordcache/internal/slogutil"
)

// RequestIDHeader carries the id assigned to every request.
const RequestIDHeader = "X-Request-ID"

// Config represents API server configuration
type Config struct {
	Prefix string // API path prefix (default: "/api")
}

// DefaultConfig returns default API configuration
func DefaultConfig() *Config {
	return &Config{
		Prefix: "/api",
	}
}

// Server represents the API server
type Server struct {
	config        *Config
	collection    *records.Collection
	configManager *config.Manager
	logger        *slog.Logger

	hoverMu sync.Mutex
	hovers  map[string]*prefetch.Intent
}

// NewServer creates a new API server. configManager may be nil, the config
// endpoints then answer 503.
func NewServer(
	config *Config,
	collection *records.Collection,
	configManager *config.Manager,
	logger *slog.Logger,
) *Server {
	if config == nil {
		config = DefaultConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Server{
		config:        config,
		collection:    collection,
		configManager: configManager,
		logger:        logger.With("component", "api"),
		hovers:        make(map[string]*prefetch.Intent),
	}
}

// NewApp creates the fiber application with the JSON error handler.
func NewApp(logger *slog.Logger) *fiber.App {
	if logger == nil {
		logger = slog.Default()
	}

	return fiber.New(fiber.Config{
		AppName:               "recordcache",
		DisableStartupMessage: true,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code, errCode := fiber.StatusInternalServerError, ErrCodeInternalServer
			var e *fiber.Error
			if errors.As(err, &e) {
				code = e.Code
			}
			if code == fiber.StatusNotFound {
				errCode = ErrCodeNotFound
			}
			logger.ErrorContext(c.UserContext(), "Request failed",
				"path", c.Path(),
				"status", code,
				"error", err)

			return RespondError(c, code, errCode, err.Error(), "")
		},
	})
}

// SetupRoutes configures the API routes
func (s *Server) SetupRoutes(app *fiber.App) {
	api := app.Group(s.config.Prefix, s.requestContext)

	// Records
	api.Get("/records", s.handleListRecords)
	api.Get("/records/live", s.handleListStream)
	api.Post("/records", s.handleCreateRecord)
	api.Get("/records/:id", s.handleGetRecord)
	api.Patch("/records/:id", s.handleUpdateRecord)
	api.Delete("/records/:id", s.handleDeleteRecord)
	api.Get("/search", s.handleSearch)
	api.Get("/stats", s.handleStats)

	// Prefetch
	api.Post("/records/:id/prefetch", s.handleHoverStart)
	api.Delete("/records/:id/prefetch", s.handleHoverEnd)
	api.Post("/prefetch/likely", s.handlePrefetchLikely)
	api.Get("/profile", s.handleGetProfile)

	// Exports
	api.Post("/records/:id/export", s.handleExportRecord)
	api.Post("/exports", s.handleBulkExport)
	api.Get("/exports", s.handleListExports)
	api.Get("/exports/progress/stream", s.handleProgressStream)

	// Cache
	api.Get("/cache/stats", s.handleCacheStats)
	api.Post("/cache/invalidate", s.handleInvalidate)

	// Configuration
	api.Get("/config", s.handleGetConfig)
	api.Put("/config", s.handleUpdateConfig)
}

// requestContext tags the request with an id that every log line of the
// request carries.
func (s *Server) requestContext(c *fiber.Ctx) error {
	id := c.Get(RequestIDHeader)
	if id == "" {
		id = uuid.NewString()
	}
	c.Set(RequestIDHeader, id)
	c.SetUserContext(slogutil.With(c.UserContext(), "request_id", id))

	start := time.Now()
	err := c.Next()
	s.logger.DebugContext(c.UserContext(), "Handled request",
		"method", c.Method(),
		"path", c.Path(),
		"status", c.Response().StatusCode(),
		"duration", time.Since(start))
	return err
}
