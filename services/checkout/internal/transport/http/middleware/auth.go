package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/mulu-store/checkout/pkg/mylogger"
	"github.com/mulu-store/checkout/pkg/utils"
	"go.uber.org/zap"
)

const LocalUserID = "userId"

// NewOptionalAuthMiddleware lets anonymous requests through as guests.
// A bearer token that is present but invalid is rejected.
func NewOptionalAuthMiddleware(secret string, logger *zap.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		authHeader := c.Get(fiber.HeaderAuthorization)
		if authHeader == "" {
			return c.Next()
		}

		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Unauthorized: Invalid header format"})
		}

		claims, err := utils.ValidateToken(secret, parts[1])
		if err != nil {
			mylogger.Debug(c.UserContext(), logger, "Rejected bearer token", zap.Error(err))
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Unauthorized: Invalid token"})
		}

		c.Locals(LocalUserID, claims.UserID)
		return c.Next()
	}
}

func NewRequireAuthMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if _, ok := UserID(c); !ok {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Unauthorized: missed user"})
		}
		return c.Next()
	}
}

func UserID(c *fiber.Ctx) (int64, bool) {
	userID, ok := c.Locals(LocalUserID).(int64)
	return userID, ok && userID > 0
}
