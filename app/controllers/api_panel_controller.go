package controllers

import (
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/mohsenbt/marzsell/app/models"
	"github.com/mohsenbt/marzsell/app/repository"
)

type panelRequest struct {
	Name            string `json:"name"`
	BaseURL         string `json:"base_url"`
	AdminUsername   string `json:"admin_username"`
	AdminCredential string `json:"admin_credential"`
}

// HandleListPanels returns all registered panels. Credentials never leave
// the server; the model serializer drops them.
func HandleListPanels(c *fiber.Ctx) error {
	panels, err := repository.GetGlobalFactory().GetPanelRepository().GetAll()
	if err != nil {
		log.Errorf("[API] panel list failed: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Failed to load panels"})
	}
	return c.JSON(fiber.Map{"items": panels, "total": len(panels)})
}

func HandleGetPanel(c *fiber.Ctx) error {
	id, err := parseIDParam(c)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "invalid id"})
	}
	panel, err := repository.GetGlobalFactory().GetPanelRepository().GetByID(id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not_found", "message": "Panel not found"})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Failed to load panel"})
	}
	return c.JSON(panel)
}

// HandleCreatePanel registers a new remote panel and probes it once so the
// row starts with a meaningful connectivity status.
func HandleCreatePanel(c *fiber.Ctx) error {
	var req panelRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "Malformed request body"})
	}

	now := time.Now()
	panel := &models.Panel{
		Name:               req.Name,
		BaseURL:            req.BaseURL,
		AdminUsername:      req.AdminUsername,
		AdminCredential:    req.AdminCredential,
		ConnectivityStatus: models.PanelStatusDisconnected,
		LastCheckedAt:      &now,
	}
	panel.NormalizeBaseURL()
	if err := panel.Validate(); err != nil {
		return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{"error": "validation_failed", "message": err.Error()})
	}

	if services.panels != nil {
		if services.panels.TestConnectivity(c.Context(), panel) {
			panel.ConnectivityStatus = models.PanelStatusConnected
		} else {
			panel.ConnectivityStatus = models.PanelStatusError
		}
	}

	if err := repository.GetGlobalFactory().GetPanelRepository().Create(panel); err != nil {
		log.Errorf("[API] panel create failed: %v", err)
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "conflict", "message": "Panel could not be created; the name may already be taken"})
	}
	return c.Status(fiber.StatusCreated).JSON(panel)
}

// HandleUpdatePanel patches the mutable panel fields. Empty request fields
// keep their current value, so credentials are only rotated when sent.
func HandleUpdatePanel(c *fiber.Ctx) error {
	id, err := parseIDParam(c)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "invalid id"})
	}
	repo := repository.GetGlobalFactory().GetPanelRepository()
	panel, err := repo.GetByID(id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not_found", "message": "Panel not found"})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Failed to load panel"})
	}

	var req panelRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "Malformed request body"})
	}
	if req.Name != "" {
		panel.Name = req.Name
	}
	if req.BaseURL != "" {
		panel.BaseURL = req.BaseURL
		panel.NormalizeBaseURL()
	}
	if req.AdminUsername != "" {
		panel.AdminUsername = req.AdminUsername
	}
	if req.AdminCredential != "" {
		panel.AdminCredential = req.AdminCredential
	}
	if err := panel.Validate(); err != nil {
		return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{"error": "validation_failed", "message": err.Error()})
	}

	if err := repo.Update(panel); err != nil {
		log.Errorf("[API] panel %d update failed: %v", id, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Failed to update panel"})
	}
	return c.JSON(panel)
}

// HandleDeletePanel removes a panel. Panels still referenced by plans or
// live subscriptions are refused; remove or repoint those first.
func HandleDeletePanel(c *fiber.Ctx) error {
	id, err := parseIDParam(c)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "invalid id"})
	}
	factory := repository.GetGlobalFactory()
	if _, err := factory.GetPanelRepository().GetByID(id); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not_found", "message": "Panel not found"})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Failed to load panel"})
	}

	planCount, err := factory.GetPlanRepository().CountByPanel(id)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Failed to check plan references"})
	}
	if planCount > 0 {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "conflict", "message": "Panel still has plans attached"})
	}
	subCount, err := services.subs.CountByPanel(c.Context(), id)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Failed to check subscription references"})
	}
	if subCount > 0 {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "conflict", "message": "Panel still has live subscriptions"})
	}

	if err := factory.GetPanelRepository().Delete(id); err != nil {
		log.Errorf("[API] panel %d delete failed: %v", id, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Failed to delete panel"})
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// HandleTestPanel probes the panel right now and persists the outcome.
func HandleTestPanel(c *fiber.Ctx) error {
	id, err := parseIDParam(c)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "invalid id"})
	}
	repo := repository.GetGlobalFactory().GetPanelRepository()
	panel, err := repo.GetByID(id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not_found", "message": "Panel not found"})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Failed to load panel"})
	}

	status := models.PanelStatusError
	if services.panels != nil && services.panels.TestConnectivity(c.Context(), panel) {
		status = models.PanelStatusConnected
	}
	checkedAt := time.Now()
	if err := repo.UpdateConnectivity(panel.ID, status, checkedAt); err != nil {
		log.Warnf("[API] failed to persist connectivity for panel %d: %v", panel.ID, err)
	}

	return c.JSON(fiber.Map{
		"id":                  panel.ID,
		"connectivity_status": status,
		"checked_at":          checkedAt.UTC().Format(time.RFC3339),
	})
}
