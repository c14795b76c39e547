package router

import (
	"github.com/gofiber/fiber/v2"

	"github.com/mohsenbt/marzsell/app/controllers"
	"github.com/mohsenbt/marzsell/internal/pkg/constants"
	"github.com/mohsenbt/marzsell/internal/pkg/database"
)

// HttpRouter carries the unauthenticated browser-facing routes: the health
// probe and the gateway redirect landing.
type HttpRouter struct {
}

func (h HttpRouter) InstallRouter(app *fiber.App) {
	app.Get(constants.HealthRoute, handleHealth)
	app.Get(constants.PaymentCallbackRoute, controllers.HandlePaymentCallback)
}

func NewHttpRouter() *HttpRouter {
	return &HttpRouter{}
}

func handleHealth(c *fiber.Ctx) error {
	dbState := "up"
	if db := database.GetDB(); db == nil {
		dbState = "down"
	} else if sqlDB, err := db.DB(); err != nil || sqlDB.Ping() != nil {
		dbState = "down"
	}

	if dbState != "up" {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"status": "degraded", "database": dbState})
	}
	return c.JSON(fiber.Map{"status": "ok", "database": dbState})
}
