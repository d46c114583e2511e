package api

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/dstowell/margin/internal/extract"
	"github.com/dstowell/margin/internal/generation"
	"github.com/dstowell/margin/internal/notebook"
	"github.com/dstowell/margin/internal/vectorindex"
)

// apiError is the JSON error envelope.
type apiError struct {
	Error string `json:"error"`
}

// ErrorHandler maps the service error taxonomy onto HTTP statuses.
func ErrorHandler(c *fiber.Ctx, err error) error {
	var fiberErr *fiber.Error
	if errors.As(err, &fiberErr) {
		return c.Status(fiberErr.Code).JSON(apiError{Error: fiberErr.Message})
	}
	return c.Status(statusFor(err)).JSON(apiError{Error: err.Error()})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, notebook.ErrNotFound):
		return fiber.StatusNotFound
	case errors.Is(err, notebook.ErrAccessDenied):
		return fiber.StatusForbidden
	case errors.Is(err, notebook.ErrFileTooLarge):
		return fiber.StatusRequestEntityTooLarge
	case errors.Is(err, extract.ErrUnsupportedFormat):
		return fiber.StatusUnsupportedMediaType
	case errors.Is(err, extract.ErrExtractionFailed):
		return fiber.StatusUnprocessableEntity
	case errors.Is(err, generation.ErrTimeout):
		return fiber.StatusGatewayTimeout
	case errors.Is(err, generation.ErrQuotaExceeded):
		return fiber.StatusTooManyRequests
	case errors.Is(err, generation.ErrAuthFailure):
		return fiber.StatusBadGateway
	case errors.Is(err, vectorindex.ErrCapacityExceeded):
		return fiber.StatusInsufficientStorage
	default:
		return fiber.StatusInternalServerError
	}
}
