package controllers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/mohsenbt/marzsell/app/models"
	"github.com/mohsenbt/marzsell/app/repository"
)

// HandleGetSettings returns the runtime shop settings the bot renders to
// customers.
func HandleGetSettings(c *fiber.Ctx) error {
	settings, err := repository.GetGlobalFactory().GetSettingRepository().Get()
	if err != nil {
		log.Errorf("[API] settings load failed: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Failed to load settings"})
	}
	return c.JSON(settings)
}

// HandleUpdateSettings replaces the shop settings. The full document is
// required; the new values take effect for the next bot interaction.
func HandleUpdateSettings(c *fiber.Ctx) error {
	var settings models.ShopSettings
	if err := c.BodyParser(&settings); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "Malformed request body"})
	}
	if err := settings.Validate(); err != nil {
		return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{"error": "validation_failed", "message": err.Error()})
	}
	if !settings.CardToCardEnabled && !settings.CryptoEnabled && !settings.GatewayEnabled {
		return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{"error": "validation_failed", "message": "at least one payment method must stay enabled"})
	}

	if err := repository.GetGlobalFactory().GetSettingRepository().Save(&settings); err != nil {
		log.Errorf("[API] settings save failed: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Failed to save settings"})
	}
	return c.JSON(settings)
}
