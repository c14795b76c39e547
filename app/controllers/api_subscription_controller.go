package controllers

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/mohsenbt/marzsell/internal/pkg/subscription"
)

type renewRequest struct {
	AddDays   int     `json:"add_days"`
	AddDataGB float64 `json:"add_data_gb"`
}

func subscriptionErrorResponse(c *fiber.Ctx, err error) error {
	if errors.Is(err, subscription.ErrSubscriptionNotFound) {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not_found", "message": "Subscription not found"})
	}
	log.Errorf("[API] subscription operation failed: %v", err)
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Subscription operation failed"})
}

func HandleListSubscriptions(c *fiber.Ctx) error {
	offset, limit := pagination(c)
	filter := subscription.ListFilter{
		Status:     c.Query("status"),
		CustomerID: uint(c.QueryInt("customer_id", 0)),
		PanelID:    uint(c.QueryInt("panel_id", 0)),
		Offset:     offset,
		Limit:      limit,
	}
	subs, total, err := services.subs.List(c.Context(), filter)
	if err != nil {
		log.Errorf("[API] subscription list failed: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Failed to load subscriptions"})
	}
	return c.JSON(listEnvelope(subs, total, offset, limit))
}

func HandleGetSubscription(c *fiber.Ctx) error {
	id, err := parseIDParam(c)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "invalid id"})
	}
	sub, err := services.subs.Get(c.Context(), id)
	if err != nil {
		return subscriptionErrorResponse(c, err)
	}
	return c.JSON(sub)
}

// HandleTerminateSubscription expires a subscription immediately and removes
// the remote account. A failed remote delete is queued for reconciliation,
// so the call still succeeds.
func HandleTerminateSubscription(c *fiber.Ctx) error {
	id, err := parseIDParam(c)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "invalid id"})
	}
	if err := services.subs.Terminate(c.Context(), id); err != nil {
		return subscriptionErrorResponse(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// HandleRenewSubscription grants extra days or data without a payment, for
// goodwill or support cases. Paid renewals run through the bot.
func HandleRenewSubscription(c *fiber.Ctx) error {
	id, err := parseIDParam(c)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "invalid id"})
	}
	var req renewRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "Malformed request body"})
	}
	if req.AddDays <= 0 && req.AddDataGB <= 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "add_days or add_data_gb must be positive"})
	}

	sub, err := services.subs.Renew(c.Context(), id, req.AddDays, req.AddDataGB)
	if err != nil {
		return subscriptionErrorResponse(c, err)
	}
	return c.JSON(sub)
}

// HandleSyncSubscriptions pulls fresh usage for every live subscription,
// the same pass the scheduler runs on its interval.
func HandleSyncSubscriptions(c *fiber.Ctx) error {
	updated, err := services.subs.SyncUsage(c.Context())
	if err != nil {
		log.Errorf("[API] usage sync failed: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Usage sync failed"})
	}
	return c.JSON(fiber.Map{"updated": updated})
}

// HandleReapSubscriptions expires overdue subscriptions right now instead of
// waiting for the scheduler tick.
func HandleReapSubscriptions(c *fiber.Ctx) error {
	reaped, err := services.subs.ReapExpired(c.Context())
	if err != nil {
		log.Errorf("[API] reap failed: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Reap failed"})
	}
	return c.JSON(fiber.Map{"reaped": reaped})
}
