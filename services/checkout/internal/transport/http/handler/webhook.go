package handler

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/mulu-store/checkout/pkg/mylogger"
	"github.com/mulu-store/checkout/services/checkout/internal/service"
	"go.uber.org/zap"
)

const headerStripeSignature = "Stripe-Signature"

type WebhookHandler struct {
	webhooks service.WebhookService
	logger   *zap.Logger
}

func NewWebhookHandler(webhooks service.WebhookService, logger *zap.Logger) *WebhookHandler {
	return &WebhookHandler{
		webhooks: webhooks,
		logger:   logger,
	}
}

// Stripe needs the untouched body for signature verification.
func (h *WebhookHandler) Stripe(c *fiber.Ctx) error {
	outcome, err := h.webhooks.Handle(c.UserContext(), c.Body(), c.Get(headerStripeSignature))
	if err != nil {
		if errors.Is(err, service.ErrWebhookMisconfigured) {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "webhook is not configured"})
		}
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid signature"})
	}

	mylogger.Debug(c.UserContext(), h.logger, "webhook handled", zap.String("outcome", string(outcome)))

	return c.JSON(fiber.Map{"received": true})
}
