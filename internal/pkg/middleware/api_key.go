package middleware

import (
	"errors"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/mohsenbt/marzsell/app/models"
	"github.com/mohsenbt/marzsell/app/repository"
	"github.com/mohsenbt/marzsell/internal/pkg/opcontext"
)

// OperatorAuthMiddleware authenticates admin API requests. It accepts either
// an operator API key (X-API-Key header or a Bearer token with the key
// prefix) or a login JWT as Bearer token.
func OperatorAuthMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if apiKey := strings.TrimSpace(c.Get("X-API-Key")); apiKey != "" {
			return authenticateAPIKey(c, apiKey)
		}

		auth := strings.TrimSpace(c.Get("Authorization"))
		if strings.HasPrefix(strings.ToLower(auth), "bearer ") {
			token := strings.TrimSpace(auth[7:])
			if strings.HasPrefix(token, "mzs_") {
				return authenticateAPIKey(c, token)
			}
			return authenticateJWT(c, token)
		}

		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": "Missing credentials"})
	}
}

// authenticateAPIKey resolves a raw API key to an operator and populates the
// operator context.
func authenticateAPIKey(c *fiber.Ctx, apiKey string) error {
	hash := models.HashAPIKey(apiKey)
	repo := repository.GetGlobalFactory().GetOperatorRepository()
	operator, err := repo.GetByAPIKeyHash(hash)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": "Invalid API key"})
		}
		log.Errorf("[Middleware] api key lookup failed: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "API key verification failed"})
	}

	if !operator.IsActive() {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "forbidden", "message": "Operator disabled"})
	}

	// Refresh last-used timestamp best-effort.
	if err := repo.TouchAPIKeyUsage(operator.ID, time.Now()); err != nil {
		log.Warnf("[Middleware] failed to update api key usage timestamp for operator %d: %v", operator.ID, err)
	}

	opcontext.Set(c, opcontext.OperatorContext{
		OperatorID:      operator.ID,
		Name:            operator.Name,
		Role:            operator.Role,
		IsAuthenticated: true,
		IsAdmin:         operator.IsAdmin(),
		AuthMethod:      "api_key",
	})
	return c.Next()
}
