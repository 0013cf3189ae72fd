package middleware

import (
	"strings"

	"github.com/chat-escrow/backend/internal/auth"
	"github.com/chat-escrow/backend/internal/config"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

const (
	CtxTelegramUserID = "telegram_user_id"
	CtxOperator       = "operator"
)

func AuthMiddleware(cfg *config.Config, log *zap.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		authHeader := c.Get("Authorization")
		if authHeader == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "missing authorization header"})
		}

		tokenStr := strings.TrimPrefix(authHeader, "Bearer ")
		if tokenStr == authHeader {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "invalid authorization format"})
		}

		claims, err := auth.ParseJWT(cfg.JWTSecret, tokenStr)
		if err != nil {
			log.Debug("jwt parse error", zap.Error(err))
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "invalid or expired token"})
		}

		c.Locals(CtxTelegramUserID, claims.TelegramUserID)
		// operator status follows the live config, not the token claim
		c.Locals(CtxOperator, cfg.IsOperator(claims.TelegramUserID))

		return c.Next()
	}
}

func GetTelegramUserID(c *fiber.Ctx) int64 {
	id, _ := c.Locals(CtxTelegramUserID).(int64)
	return id
}

func IsOperator(c *fiber.Ctx) bool {
	op, _ := c.Locals(CtxOperator).(bool)
	return op
}

// OperatorMiddleware requires a configured operator identity.
func OperatorMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if !IsOperator(c) {
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "operator access required"})
		}
		return c.Next()
	}
}
