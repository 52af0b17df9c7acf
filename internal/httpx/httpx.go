package httpx

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/telio-letalle/Pronote-sub002/internal/models"
	"github.com/telio-letalle/Pronote-sub002/internal/service"
)

type ErrorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

func requestID(c *fiber.Ctx) string {
	if v := c.Locals("requestid"); v != nil {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

func Error(c *fiber.Ctx, status int, code string, message string) error {
	if message == "" {
		message = "Request failed"
	}
	return c.Status(status).JSON(ErrorResponse{
		Error:     message,
		Code:      code,
		RequestID: requestID(c),
	})
}

func BadRequest(c *fiber.Ctx, code string, message string) error {
	return Error(c, fiber.StatusBadRequest, code, message)
}

func Unauthorized(c *fiber.Ctx, code string, message string) error {
	return Error(c, fiber.StatusUnauthorized, code, message)
}

func Forbidden(c *fiber.Ctx, code string, message string) error {
	return Error(c, fiber.StatusForbidden, code, message)
}

func NotFound(c *fiber.Ctx, code string, message string) error {
	return Error(c, fiber.StatusNotFound, code, message)
}

func TooManyRequests(c *fiber.Ctx, code string, message string) error {
	return Error(c, fiber.StatusTooManyRequests, code, message)
}

func Internal(c *fiber.Ctx, code string) error {
	return Error(c, fiber.StatusInternalServerError, code, "Internal server error")
}

// FromServiceError maps the service sentinels onto HTTP statuses. Anything
// unrecognized is a 500 with the detail kept out of the response.
func FromServiceError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, service.ErrInvalidArgument):
		return BadRequest(c, "invalid_argument", err.Error())
	case errors.Is(err, service.ErrNotAuthorized):
		return Forbidden(c, "forbidden", "Not allowed")
	case errors.Is(err, service.ErrNotFound):
		return NotFound(c, "not_found", "Resource not found")
	default:
		return Internal(c, "internal_error")
	}
}

// LocalPrincipal returns the principal stored by the auth middleware. Zero
// value when the middleware did not run; routes behind AuthRequired can
// rely on it being set.
func LocalPrincipal(c *fiber.Ctx) models.Principal {
	if v := c.Locals("principal"); v != nil {
		if p, ok := v.(models.Principal); ok {
			return p
		}
	}
	return models.Principal{}
}

// LocalDisplayName returns the display name asserted by the session token.
func LocalDisplayName(c *fiber.Ctx) string {
	if v := c.Locals("displayName"); v != nil {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}
