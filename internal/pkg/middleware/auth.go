package middleware

import (
	"github.com/gofiber/fiber/v2"

	"github.com/mohsenbt/marzsell/internal/pkg/opcontext"
)

// RequireAdmin rejects requests whose operator does not hold the admin role.
// Runs behind OperatorAuthMiddleware.
func RequireAdmin(c *fiber.Ctx) error {
	ctx := opcontext.Get(c)
	if !ctx.IsAuthenticated {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": "Authentication required"})
	}
	if !ctx.IsAdmin {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "forbidden", "message": "Admin role required"})
	}
	return c.Next()
}
