package middleware

import (
	"strings"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"

	"feedsync/pkg/models"
)

// TokenParser verifies a bearer credential.
type TokenParser interface {
	Parse(token string) (models.Claims, error)
}

func bearer(c *fiber.Ctx) string {
	auth := c.Get("Authorization")
	if strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimSpace(auth[7:])
	}
	return ""
}

// Auth rejects requests without a valid bearer credential and stores the
// caller in Locals("user_id") and Locals("username").
func Auth(p TokenParser) fiber.Handler {
	return func(c *fiber.Ctx) error {
		tokenStr := bearer(c)
		if tokenStr == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "missing credential"})
		}

		claims, err := p.Parse(tokenStr)
		if err != nil {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "invalid credential"})
		}

		c.Locals("user_id", claims.UserID)
		c.Locals("username", claims.Username)
		return c.Next()
	}
}

// WebSocket admits only upgrade requests. A credential passed as ?token= or
// as a bearer header identifies the client; without one it stays anonymous.
func WebSocket(p TokenParser) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if !websocket.IsWebSocketUpgrade(c) {
			return fiber.ErrUpgradeRequired
		}

		tokenStr := c.Query("token")
		if tokenStr == "" {
			tokenStr = bearer(c)
		}

		userID := 0
		username := ""
		if tokenStr != "" {
			if claims, err := p.Parse(tokenStr); err == nil {
				userID = claims.UserID
				username = claims.Username
			}
		}

		c.Locals("user_id", userID)
		c.Locals("username", username)
		return c.Next()
	}
}
