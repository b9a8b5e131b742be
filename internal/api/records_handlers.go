package api

import (
	"github.com/gofiber/fiber/v2"
	"github.com/scribehub/recordcache/internal/model"
	"github.com/scribehub/recordcache/internal/query"
)

// handleListRecords handles GET /records
func (s *Server) handleListRecords(c *fiber.Ctx) error {
	sub, err := s.collection.List(c.UserContext(), listFiltersFromQuery(c), nil)
	if err != nil {
		return RespondAppError(c, err)
	}
	defer sub.Unsubscribe()

	return s.respondSettled(c, sub)
}

// handleGetRecord handles GET /records/:id
func (s *Server) handleGetRecord(c *fiber.Ctx) error {
	sub, err := s.collection.Detail(c.UserContext(), c.Params("id"), nil)
	if err != nil {
		return RespondAppError(c, err)
	}
	defer sub.Unsubscribe()

	return s.respondSettled(c, sub)
}

// handleSearch handles GET /search?q=
func (s *Server) handleSearch(c *fiber.Ctx) error {
	sub, err := s.collection.Search(c.UserContext(), c.Query("q"), nil)
	if err != nil {
		return RespondAppError(c, err)
	}
	defer sub.Unsubscribe()

	return s.respondSettled(c, sub)
}

// handleStats handles GET /stats
func (s *Server) handleStats(c *fiber.Ctx) error {
	sub := s.collection.Stats(nil)
	defer sub.Unsubscribe()

	return s.respondSettled(c, sub)
}

// handleCreateRecord handles POST /records
func (s *Server) handleCreateRecord(c *fiber.Ctx) error {
	var in model.NewRecord
	if err := c.BodyParser(&in); err != nil {
		return RespondBadRequest(c, "Invalid request body", err.Error())
	}

	rec, err := s.collection.Create(c.UserContext(), in)
	if err != nil {
		return RespondAppError(c, err)
	}
	return RespondCreated(c, rec)
}

// handleUpdateRecord handles PATCH /records/:id
func (s *Server) handleUpdateRecord(c *fiber.Ctx) error {
	var patch model.RecordPatch
	if err := c.BodyParser(&patch); err != nil {
		return RespondBadRequest(c, "Invalid request body", err.Error())
	}

	rec, err := s.collection.Update(c.UserContext(), c.Params("id"), patch)
	if err != nil {
		return RespondAppError(c, err)
	}
	return RespondSuccess(c, rec)
}

// handleDeleteRecord handles DELETE /records/:id
func (s *Server) handleDeleteRecord(c *fiber.Ctx) error {
	if err := s.collection.Remove(c.UserContext(), c.Params("id")); err != nil {
		return RespondAppError(c, err)
	}
	return RespondNoContent(c)
}

// respondSettled waits for the subscription to settle. Data kept from an
// earlier fetch is served when the refetch fails; the meta then carries the
// error.
func (s *Server) respondSettled(c *fiber.Ctx, sub *query.Subscription) error {
	e, err := sub.Wait(c.UserContext())
	if err != nil && !e.HasData() {
		return RespondAppError(c, err)
	}
	if err != nil {
		s.logger.WarnContext(c.UserContext(), "Serving stale data after failed fetch",
			"key", e.Key.String(),
			"error", err)
	}
	return RespondCached(c, e.Data, newCacheMeta(e))
}

func listFiltersFromQuery(c *fiber.Ctx) model.ListFilters {
	return model.ListFilters{
		Kind:      model.Kind(c.Query("kind")),
		Status:    model.Status(c.Query("status")),
		Search:    c.Query("search"),
		Language:  c.Query("language"),
		Page:      c.QueryInt("page"),
		PageSize:  c.QueryInt("pageSize"),
		SortBy:    c.Query("sortBy"),
		SortOrder: c.Query("sortOrder"),
	}
}

// validateFilters checks f the way a list query would, for handlers that
// cannot report errors once they start streaming.
func validateFilters(f model.ListFilters) (model.ListFilters, error) {
	f = f.Normalize()
	return f, model.Validate(f)
}
