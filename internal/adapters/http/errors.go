package http

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/samirrijal/geoar/internal/core/domain"
	"github.com/samirrijal/geoar/internal/session"
)

// APIError is a structured error response.
type APIError struct {
	Status    int    `json:"status"`
	Code      string `json:"code"`    // bad_request, not_found, conflict, ...
	Message   string `json:"message"` // Human-readable message
	RequestID string `json:"request_id,omitempty"`
}

// newError builds a JSON error response with a request ID.
func newError(c *fiber.Ctx, status int, code string, message string) error {
	reqID, _ := c.Locals("requestid").(string)
	return c.Status(status).JSON(APIError{
		Status:    status,
		Code:      code,
		Message:   message,
		RequestID: reqID,
	})
}

func errBadRequest(c *fiber.Ctx, msg string) error {
	return newError(c, fiber.StatusBadRequest, "bad_request", msg)
}

func errNotFound(c *fiber.Ctx, msg string) error {
	return newError(c, fiber.StatusNotFound, "not_found", msg)
}

func errConflict(c *fiber.Ctx, msg string) error {
	return newError(c, fiber.StatusConflict, "conflict", msg)
}

func errUnavailable(c *fiber.Ctx, msg string) error {
	return newError(c, fiber.StatusServiceUnavailable, "unavailable", msg)
}

func errInternal(c *fiber.Ctx, msg string) error {
	return newError(c, fiber.StatusInternalServerError, "internal_error", msg)
}

// writeError maps domain errors onto API errors.
func writeError(c *fiber.Ctx, err error) error {
	var (
		verr *domain.ValidationError
		cerr *domain.CapabilityError
	)
	switch {
	case errors.As(err, &verr):
		return errBadRequest(c, verr.Error())
	case errors.As(err, &cerr):
		return newError(c, fiber.StatusUnprocessableEntity, "capability_unavailable", cerr.Error())
	case errors.Is(err, domain.ErrNotFound):
		return errNotFound(c, err.Error())
	case errors.Is(err, domain.ErrSessionNotActive),
		errors.Is(err, domain.ErrSessionEnded),
		errors.Is(err, domain.ErrNoAnchor),
		errors.Is(err, session.ErrInitAborted):
		return errConflict(c, err.Error())
	}
	LoggerFromCtx(c.UserContext()).Error("request failed", "path", c.Path(), "error", err)
	return errInternal(c, err.Error())
}
