package handler

import (
	"errors"

	"grocery-pos-terminal/internal/backend"
	"grocery-pos-terminal/internal/service"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

// statusFor maps service errors to HTTP status codes.
func statusFor(err error) int {
	var conflict *service.StockConflictError
	var apiErr *backend.APIError
	switch {
	case errors.As(err, &conflict):
		return fiber.StatusConflict
	case errors.As(err, &apiErr), errors.Is(err, backend.ErrUnreachable):
		return fiber.StatusBadGateway
	case errors.Is(err, service.ErrCartNotReady):
		return fiber.StatusServiceUnavailable
	case errors.Is(err, service.ErrInvalidQuantity),
		errors.Is(err, service.ErrInvalidInput),
		errors.Is(err, service.ErrInsufficientTender),
		errors.Is(err, service.ErrWrongChannel):
		return fiber.StatusBadRequest
	case errors.Is(err, service.ErrLineNotFound),
		errors.Is(err, service.ErrProductNotFound),
		errors.Is(err, service.ErrSessionNotFound),
		errors.Is(err, service.ErrNoBackup),
		errors.Is(err, service.ErrNoQR):
		return fiber.StatusNotFound
	case errors.Is(err, service.ErrClearNotConfirmed):
		return fiber.StatusPreconditionRequired
	case errors.Is(err, service.ErrNoStock),
		errors.Is(err, service.ErrCartEmpty),
		errors.Is(err, service.ErrCartNotEmpty),
		errors.Is(err, service.ErrCheckoutInProgress),
		errors.Is(err, service.ErrCheckoutBusy):
		return fiber.StatusConflict
	}
	return fiber.StatusInternalServerError
}

func respondError(c *fiber.Ctx, err error) error {
	body := fiber.Map{"error": backend.Message(err, err.Error())}
	var conflict *service.StockConflictError
	if errors.As(err, &conflict) {
		body["violations"] = conflict.Violations
	}
	return c.Status(statusFor(err)).JSON(body)
}

// Helper untuk parse UUID dari path param
func parseID(c *fiber.Ctx) (uuid.UUID, error) {
	return uuid.Parse(c.Params("id"))
}
