package plugins

import (
	"context"
	"errors"
	"log/slog"

	"github.com/gofiber/fiber/v2"
	"github.com/linht/fm-tuner/tuner"
)

// APIResponse represents a standard API response
type APIResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
	Message string      `json:"message,omitempty"`
}

// SendSuccess sends a successful response
func SendSuccess(c *fiber.Ctx, data interface{}, message string) error {
	return c.JSON(APIResponse{
		Success: true,
		Data:    data,
		Message: message,
	})
}

// SendError sends an error response with the status matching err
func SendError(c *fiber.Ctx, status int, err error) error {
	return c.Status(status).JSON(APIResponse{
		Success: false,
		Error:   err.Error(),
	})
}

// SendErrorMessage sends an error response with a custom message
func SendErrorMessage(c *fiber.Ctx, status int, message string) error {
	return c.Status(status).JSON(APIResponse{
		Success: false,
		Error:   message,
	})
}

// ErrorStatus maps tuner and preset errors to HTTP status codes:
// timeouts are 504, device bus failures 502, unknown pins 400, unknown
// presets 404. A cancelled operation or a plugin that has shut down is 503.
func ErrorStatus(err error) int {
	var busErr *tuner.BusError
	switch {
	case errors.Is(err, tuner.ErrTuneTimeout):
		return fiber.StatusGatewayTimeout
	case errors.Is(err, tuner.ErrInvalidPin):
		return fiber.StatusBadRequest
	case errors.Is(err, ErrPresetNotFound):
		return fiber.StatusNotFound
	case errors.As(err, &busErr):
		return fiber.StatusBadGateway
	case errors.Is(err, context.Canceled), errors.Is(err, ErrShutdown):
		return fiber.StatusServiceUnavailable
	}
	return fiber.StatusInternalServerError
}

// sendTunerError logs a failed radio request and sends err with its status.
func sendTunerError(c *fiber.Ctx, err error) error {
	slog.Error("Radio request failed", "path", c.Path(), "error", err)
	return SendError(c, ErrorStatus(err), err)
}
