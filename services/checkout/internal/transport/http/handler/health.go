package handler

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/mulu-store/checkout/pkg/mylogger"
	"go.uber.org/zap"
)

// Pinger is satisfied by *pgxpool.Pool.
type Pinger interface {
	Ping(ctx context.Context) error
}

type HealthHandler struct {
	db     Pinger
	logger *zap.Logger
}

func NewHealthHandler(db Pinger, logger *zap.Logger) *HealthHandler {
	return &HealthHandler{db: db, logger: logger}
}

func (h *HealthHandler) Check(c *fiber.Ctx) error {
	if h.db != nil {
		ctx, cancel := context.WithTimeout(c.UserContext(), time.Second)
		defer cancel()

		if err := h.db.Ping(ctx); err != nil {
			mylogger.Warn(ctx, h.logger, "health check failed", zap.Error(err))
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"status": "unavailable"})
		}
	}

	return c.JSON(fiber.Map{"status": "ok"})
}
