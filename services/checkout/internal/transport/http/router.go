package http

import (
	"github.com/gofiber/fiber/v2"
	"github.com/mulu-store/checkout/services/checkout/internal/transport/http/handler"
	"github.com/mulu-store/checkout/services/checkout/internal/transport/http/middleware"
	"go.uber.org/zap"
)

type Handlers struct {
	Checkout *handler.CheckoutHandler
	Order    *handler.OrderHandler
	Webhook  *handler.WebhookHandler
	Health   *handler.HealthHandler
}

func RegisterRoutes(app *fiber.App, h *Handlers, accessSecret string, logger *zap.Logger) {
	app.Get("/health", h.Health.Check)

	api := app.Group("/api")

	api.Post("/webhooks/stripe", h.Webhook.Stripe)

	optionalAuth := middleware.NewOptionalAuthMiddleware(accessSecret, logger)
	api.Post("/checkout", optionalAuth, h.Checkout.Checkout)

	order := api.Group("/orders", optionalAuth)
	order.Post("", h.Checkout.PlaceOrder)
	order.Get("/me", middleware.NewRequireAuthMiddleware(), h.Order.ListMine)
	order.Get("/:id", middleware.NewRequireAuthMiddleware(), h.Order.FindByID)
}
