package handlers

import (
	"errors"

	"github.com/chat-escrow/backend/internal/http/dto"
	"github.com/chat-escrow/backend/internal/middleware"
	"github.com/chat-escrow/backend/internal/rates"
	"github.com/chat-escrow/backend/internal/registry"
	"github.com/chat-escrow/backend/internal/services"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

// statusFor maps service errors onto HTTP statuses.
func statusFor(err error) int {
	switch {
	case errors.Is(err, services.ErrValidation):
		return fiber.StatusBadRequest
	case errors.Is(err, services.ErrUnauthorized):
		return fiber.StatusForbidden
	case errors.Is(err, registry.ErrNotFound):
		return fiber.StatusNotFound
	case errors.Is(err, services.ErrInvalidState), errors.Is(err, registry.ErrDuplicateSession):
		return fiber.StatusConflict
	case errors.Is(err, services.ErrTransport), errors.Is(err, rates.ErrNoRateAvailable):
		return fiber.StatusServiceUnavailable
	default:
		return fiber.StatusInternalServerError
	}
}

func respondError(c *fiber.Ctx, log *zap.Logger, err error) error {
	status := statusFor(err)
	reqID, _ := c.Locals(middleware.CtxRequestID).(string)

	msg := err.Error()
	if status == fiber.StatusInternalServerError {
		log.Error("request failed", zap.String("request_id", reqID), zap.Error(err))
		msg = "internal error"
	}
	return c.Status(status).JSON(dto.ErrorResponse{Error: msg, RequestID: reqID})
}

func badRequest(c *fiber.Ctx, msg string) error {
	return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: msg})
}
