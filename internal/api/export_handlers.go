package api

import (
	"github.com/gofiber/fiber/v2"
)

// handleExportRecord handles POST /records/:id/export
func (s *Server) handleExportRecord(c *fiber.Ctx) error {
	var req ExportRequest
	if err := c.BodyParser(&req); err != nil {
		return RespondBadRequest(c, "Invalid request body", err.Error())
	}

	job, err := s.collection.ExportOne(c.UserContext(), c.Params("id"), req.Options)
	if err != nil {
		// A failed job stays visible through /exports for the display window.
		if job.ID != "" {
			s.logger.WarnContext(c.UserContext(), "Export failed",
				"record_id", job.RecordID,
				"error", err)
		}
		return RespondAppError(c, err)
	}
	return RespondSuccess(c, job)
}

// handleBulkExport handles POST /exports. Records are exported one after
// another; the response summarizes the batch.
func (s *Server) handleBulkExport(c *fiber.Ctx) error {
	var req BulkExportRequest
	if err := c.BodyParser(&req); err != nil {
		return RespondBadRequest(c, "Invalid request body", err.Error())
	}

	result, err := s.collection.ExportMany(c.UserContext(), req.IDs, req.Options)
	if err != nil {
		return RespondAppError(c, err)
	}
	return RespondSuccess(c, result)
}

// handleListExports handles GET /exports
func (s *Server) handleListExports(c *fiber.Ctx) error {
	return RespondSuccess(c, s.collection.Jobs())
}
