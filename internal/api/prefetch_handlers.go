package api

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	apperrors "github.com/scribehub/recordcache/internal/errors"
)

// handleHoverStart handles POST /records/:id/prefetch. The detail is warmed
// once the hover delay elapses unless the hover ends first.
func (s *Server) handleHoverStart(c *fiber.Ctx) error {
	id := strings.TrimSpace(c.Params("id"))
	if id == "" {
		return RespondAppError(c, apperrors.NewValidationError("id", "record id is required"))
	}

	s.hoverMu.Lock()
	for hovered, intent := range s.hovers {
		if intent.Fired() {
			delete(s.hovers, hovered)
		}
	}
	if prev, ok := s.hovers[id]; ok {
		prev.End()
	}
	s.hovers[id] = s.collection.PrefetchOnHover(id)
	s.hoverMu.Unlock()

	return RespondAccepted(c, HoverResponse{RecordID: id})
}

// handleHoverEnd handles DELETE /records/:id/prefetch
func (s *Server) handleHoverEnd(c *fiber.Ctx) error {
	id := strings.TrimSpace(c.Params("id"))

	s.hoverMu.Lock()
	intent, ok := s.hovers[id]
	delete(s.hovers, id)
	s.hoverMu.Unlock()

	if !ok {
		return RespondAppError(c, apperrors.NewNotFoundError("hover", id))
	}

	cancelled := intent.End()
	return RespondSuccess(c, HoverResponse{
		RecordID:  id,
		Cancelled: cancelled,
		Fired:     intent.Fired(),
	})
}

// handlePrefetchLikely handles POST /prefetch/likely
func (s *Server) handlePrefetchLikely(c *fiber.Ctx) error {
	issued := s.collection.PrefetchLikely(c.UserContext())
	return RespondSuccess(c, fiber.Map{"issued": issued})
}

// handleGetProfile handles GET /profile
func (s *Server) handleGetProfile(c *fiber.Ctx) error {
	return RespondSuccess(c, s.collection.Profile(c.UserContext()))
}
