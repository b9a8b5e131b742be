package api

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	apperrors "github.com/scribehub/recordcache/internal/errors"
	"github.com/scribehub/recordcache/internal/export"
)

// Standard error codes
const (
	ErrCodeInternalServer = "INTERNAL_SERVER_ERROR"
	ErrCodeBadRequest     = "BAD_REQUEST"
	ErrCodeNotFound       = "NOT_FOUND"
	ErrCodeValidation     = "VALIDATION_ERROR"
	ErrCodeConflict       = "CONFLICT"
	ErrCodeBadGateway     = "BAD_GATEWAY"
	ErrCodeUnavailable    = "SERVICE_UNAVAILABLE"
)

// RespondAppError maps an error of the taxonomy to its HTTP response.
func RespondAppError(c *fiber.Ctx, err error) error {
	var (
		validation *apperrors.ValidationError
		notFound   *apperrors.NotFoundError
		server     *apperrors.ServerError
		network    *apperrors.NetworkError
	)

	switch {
	case errors.As(err, &validation):
		return RespondError(c, fiber.StatusBadRequest, ErrCodeValidation, validation.Message, validation.Field)
	case errors.As(err, &notFound):
		return RespondError(c, fiber.StatusNotFound, ErrCodeNotFound, notFound.Error(), "")
	case errors.Is(err, export.ErrJobActive):
		return RespondError(c, fiber.StatusConflict, ErrCodeConflict, err.Error(), "")
	case errors.As(err, &server):
		return RespondError(c, fiber.StatusBadGateway, ErrCodeBadGateway, "Backend request failed", server.Error())
	case errors.As(err, &network), errors.Is(err, apperrors.ErrClosed):
		return RespondError(c, fiber.StatusServiceUnavailable, ErrCodeUnavailable, "Backend unavailable", err.Error())
	default:
		return RespondError(c, fiber.StatusInternalServerError, ErrCodeInternalServer, "An internal server error occurred", err.Error())
	}
}
