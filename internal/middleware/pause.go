package middleware

import (
	"github.com/gofiber/fiber/v2"
	"github.com/milestone-escrow/backend/internal/config"
)

// PauseMiddleware rejects writes while the platform pause flag is set.
// Reads keep working so parties can still inspect their agreements.
func PauseMiddleware(cfg *config.Config) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if !cfg.Paused {
			return c.Next()
		}
		switch c.Method() {
		case fiber.MethodGet, fiber.MethodHead, fiber.MethodOptions:
			return c.Next()
		}
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "platform is paused for maintenance"})
	}
}
