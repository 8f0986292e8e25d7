package handler

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/mulu-store/checkout/pkg/mylogger"
	"github.com/mulu-store/checkout/services/checkout/internal/service"
	"go.uber.org/zap"
)

// writeError maps service errors onto status codes. Internal details are
// logged and never written to the response.
func writeError(c *fiber.Ctx, logger *zap.Logger, op string, err error) error {
	var (
		stockErr   *service.InsufficientStockError
		invalidErr *service.InvalidProductError
	)

	switch {
	case errors.As(err, &stockErr):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"error":      stockErr.Error(),
			"product_id": stockErr.ProductID,
		})
	case errors.As(err, &invalidErr):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error":      "Invalid product",
			"product_id": invalidErr.ProductID,
		})
	case errors.Is(err, service.ErrValidation):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	case errors.Is(err, service.ErrOrderNotFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "order not found"})
	case errors.Is(err, service.ErrProviderNotConfigured):
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "payment provider is not configured"})
	case errors.Is(err, service.ErrPaymentUnavailable):
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": service.ErrPaymentUnavailable.Error()})
	}

	mylogger.Error(c.UserContext(), logger, op+" failed", zap.Error(err))

	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal error"})
}
