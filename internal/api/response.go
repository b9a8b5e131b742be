package api

import (
	"github.com/gofiber/fiber/v2"
)

// Response builder functions for Fiber handlers.

// RespondSuccess sends a successful response with data.
func RespondSuccess(c *fiber.Ctx, data any) error {
	return c.JSON(APIResponse{Success: true, Data: data})
}

// RespondCached sends cached data together with the state of its entry.
func RespondCached(c *fiber.Ctx, data any, meta *CacheMeta) error {
	return c.JSON(APIResponse{Success: true, Data: data, Meta: meta})
}

// RespondCreated sends a 201 Created response with data.
func RespondCreated(c *fiber.Ctx, data any) error {
	return c.Status(fiber.StatusCreated).JSON(APIResponse{Success: true, Data: data})
}

// RespondAccepted sends a 202 Accepted response with data.
func RespondAccepted(c *fiber.Ctx, data any) error {
	return c.Status(fiber.StatusAccepted).JSON(APIResponse{Success: true, Data: data})
}

// RespondNoContent sends a 204 No Content response.
func RespondNoContent(c *fiber.Ctx) error {
	return c.SendStatus(fiber.StatusNoContent)
}

// RespondError sends an error response with a custom status code.
func RespondError(c *fiber.Ctx, status int, code, message, details string) error {
	return c.Status(status).JSON(APIResponse{
		Success: false,
		Error: &APIError{
			Code:    code,
			Message: message,
			Details: details,
		},
	})
}

// RespondBadRequest sends a 400 Bad Request error.
func RespondBadRequest(c *fiber.Ctx, message, details string) error {
	return RespondError(c, fiber.StatusBadRequest, ErrCodeBadRequest, message, details)
}
