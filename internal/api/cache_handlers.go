package api

import (
	"github.com/gofiber/fiber/v2"
	apperrors "github.com/scribehub/recordcache/internal/errors"
	"github.com/scribehub/recordcache/internal/records"
)

var invalidatable = map[string]bool{
	records.ResourceList:   true,
	records.ResourceDetail: true,
	records.ResourceSearch: true,
	records.ResourceStats:  true,
}

// handleCacheStats handles GET /cache/stats
func (s *Server) handleCacheStats(c *fiber.Ctx) error {
	return RespondSuccess(c, CacheStatsResponse{
		Cache:     s.collection.CacheStats(),
		Refresher: s.collection.RefresherStats(),
	})
}

// handleInvalidate handles POST /cache/invalidate. Without resources every
// entry is marked stale.
func (s *Server) handleInvalidate(c *fiber.Ctx) error {
	var req InvalidateRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return RespondBadRequest(c, "Invalid request body", err.Error())
		}
	}

	resources := req.Resources
	if len(resources) == 0 {
		resources = []string{records.ResourceList, records.ResourceDetail, records.ResourceSearch, records.ResourceStats}
	}
	for _, r := range resources {
		if !invalidatable[r] {
			return RespondAppError(c, apperrors.NewValidationError("resources", "unknown resource "+r))
		}
	}

	keys := s.collection.Invalidate(resources...)
	invalidated := make([]string, 0, len(keys))
	for _, k := range keys {
		invalidated = append(invalidated, k.String())
	}
	return RespondSuccess(c, fiber.Map{"invalidated": invalidated})
}
