package controllers

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/mohsenbt/marzsell/app/models"
	"github.com/mohsenbt/marzsell/app/repository"
	"github.com/mohsenbt/marzsell/internal/pkg/subscription"
)

// HandleListReconcile returns the remote-cleanup dead-letter list. With
// ?unresolved=true only open entries are returned.
func HandleListReconcile(c *fiber.Ctx) error {
	offset, limit := pagination(c)
	repo := repository.GetGlobalFactory().GetReconcileRepository()

	var (
		entries []models.ReconcileEntry
		err     error
	)
	if c.QueryBool("unresolved", false) {
		entries, err = repo.ListUnresolved(limit)
	} else {
		entries, err = repo.List(offset, limit)
	}
	if err != nil {
		log.Errorf("[API] reconcile list failed: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Failed to load reconcile entries"})
	}

	open, err := repo.CountUnresolved()
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Failed to count reconcile entries"})
	}
	return c.JSON(fiber.Map{"items": entries, "unresolved": open, "offset": offset, "limit": limit})
}

// HandleRetryReconcile replays the failed remote write right now. Unlike the
// scheduler, a manual retry ignores the attempt cap.
func HandleRetryReconcile(c *fiber.Ctx) error {
	id, err := parseIDParam(c)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "invalid id"})
	}
	factory := repository.GetGlobalFactory()
	repo := factory.GetReconcileRepository()
	entry, err := repo.GetByID(id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not_found", "message": "Reconcile entry not found"})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Failed to load reconcile entry"})
	}
	if entry.IsResolved() {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "conflict", "message": "Entry is already resolved"})
	}

	panel, err := factory.GetPanelRepository().GetByID(entry.PanelID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			// The panel itself is gone; there is no remote account left to clean.
			return resolveAndReturn(c, id)
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Failed to load panel"})
	}

	var retryErr error
	switch entry.Reason {
	case subscription.ReconcileReasonDeleteFailed:
		_, retryErr = services.panels.DeleteAccount(c.Context(), panel, entry.RemoteUsername)
	case subscription.ReconcileReasonRenewFailed:
		retryErr = services.subs.PushRemoteState(c.Context(), entry.PanelID, entry.RemoteUsername)
		if errors.Is(retryErr, subscription.ErrSubscriptionNotFound) {
			// The subscription was terminated meanwhile; nothing to push.
			retryErr = nil
		}
	default:
		return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{"error": "validation_failed", "message": "Entry has an unknown reason; resolve it manually"})
	}

	if retryErr != nil {
		if err := repo.RecordAttempt(id, retryErr.Error()); err != nil {
			log.Warnf("[API] failed to record reconcile attempt for entry %d: %v", id, err)
		}
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": "bad_gateway", "message": "Remote write failed again", "last_error": retryErr.Error()})
	}
	return resolveAndReturn(c, id)
}

// HandleResolveReconcile closes an entry without touching the panel, for
// cases an operator cleaned up by hand.
func HandleResolveReconcile(c *fiber.Ctx) error {
	id, err := parseIDParam(c)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "invalid id"})
	}
	repo := repository.GetGlobalFactory().GetReconcileRepository()
	entry, err := repo.GetByID(id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not_found", "message": "Reconcile entry not found"})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Failed to load reconcile entry"})
	}
	if entry.IsResolved() {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "conflict", "message": "Entry is already resolved"})
	}
	return resolveAndReturn(c, id)
}

func resolveAndReturn(c *fiber.Ctx, id uint) error {
	repo := repository.GetGlobalFactory().GetReconcileRepository()
	if err := repo.MarkResolved(id); err != nil {
		log.Errorf("[API] failed to resolve reconcile entry %d: %v", id, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Failed to resolve entry"})
	}
	entry, err := repo.GetByID(id)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Failed to reload entry"})
	}
	return c.JSON(entry)
}
