package controllers

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/mohsenbt/marzsell/app/models"
	"github.com/mohsenbt/marzsell/app/repository"
)

type planRequest struct {
	PanelID        uint     `json:"panel_id"`
	Name           string   `json:"name"`
	DataLimitGB    float64  `json:"data_limit_gb"`
	DurationDays   int      `json:"duration_days"`
	Price          *int64   `json:"price"`
	MaxConnections int      `json:"max_connections"`
	Visible        *bool    `json:"visible"`
	Features       []string `json:"features"`
}

func HandleListPlans(c *fiber.Ctx) error {
	offset, limit := pagination(c)
	repo := repository.GetGlobalFactory().GetPlanRepository()
	plans, err := repo.GetAll(offset, limit)
	if err != nil {
		log.Errorf("[API] plan list failed: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Failed to load plans"})
	}
	total, err := repo.Count()
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Failed to count plans"})
	}
	return c.JSON(listEnvelope(plans, total, offset, limit))
}

func HandleGetPlan(c *fiber.Ctx) error {
	id, err := parseIDParam(c)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "invalid id"})
	}
	plan, err := repository.GetGlobalFactory().GetPlanRepository().GetByID(id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not_found", "message": "Plan not found"})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Failed to load plan"})
	}
	return c.JSON(plan)
}

// HandleCreatePlan adds a sellable plan. The target panel must exist; the
// panel binding is fixed for the plan's lifetime.
func HandleCreatePlan(c *fiber.Ctx) error {
	var req planRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "Malformed request body"})
	}

	factory := repository.GetGlobalFactory()
	if _, err := factory.GetPanelRepository().GetByID(req.PanelID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{"error": "validation_failed", "message": "panel_id does not reference a registered panel"})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Failed to verify panel"})
	}

	plan := &models.Plan{
		PanelID:        req.PanelID,
		Name:           req.Name,
		DataLimitGB:    req.DataLimitGB,
		DurationDays:   req.DurationDays,
		MaxConnections: req.MaxConnections,
		Visible:        true,
	}
	if req.Price != nil {
		plan.Price = *req.Price
	}
	if req.Visible != nil {
		plan.Visible = *req.Visible
	}
	if plan.MaxConnections == 0 {
		plan.MaxConnections = 1
	}
	if err := plan.SetFeatures(req.Features); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "Invalid feature list"})
	}
	if err := plan.Validate(); err != nil {
		return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{"error": "validation_failed", "message": err.Error()})
	}

	if err := factory.GetPlanRepository().Create(plan); err != nil {
		log.Errorf("[API] plan create failed: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Failed to create plan"})
	}
	return c.Status(fiber.StatusCreated).JSON(plan)
}

// HandleUpdatePlan patches a plan. Sold subscriptions carry their own copies
// of limit and duration, so edits here never touch existing customers.
// The panel binding cannot change.
func HandleUpdatePlan(c *fiber.Ctx) error {
	id, err := parseIDParam(c)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "invalid id"})
	}
	repo := repository.GetGlobalFactory().GetPlanRepository()
	plan, err := repo.GetByID(id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not_found", "message": "Plan not found"})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Failed to load plan"})
	}

	var req planRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "Malformed request body"})
	}
	if req.PanelID != 0 && req.PanelID != plan.PanelID {
		return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{"error": "validation_failed", "message": "a plan cannot move to another panel"})
	}
	if req.Name != "" {
		plan.Name = req.Name
	}
	if req.DataLimitGB > 0 {
		plan.DataLimitGB = req.DataLimitGB
	}
	if req.DurationDays > 0 {
		plan.DurationDays = req.DurationDays
	}
	if req.Price != nil {
		plan.Price = *req.Price
	}
	if req.MaxConnections > 0 {
		plan.MaxConnections = req.MaxConnections
	}
	if req.Visible != nil {
		plan.Visible = *req.Visible
	}
	if req.Features != nil {
		if err := plan.SetFeatures(req.Features); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "Invalid feature list"})
		}
	}
	if err := plan.Validate(); err != nil {
		return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{"error": "validation_failed", "message": err.Error()})
	}

	if err := repo.Update(plan); err != nil {
		log.Errorf("[API] plan %d update failed: %v", id, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Failed to update plan"})
	}
	return c.JSON(plan)
}

// HandleDeletePlan removes a plan from the catalog. Plans with active or
// suspended subscriptions are refused; hide them instead.
func HandleDeletePlan(c *fiber.Ctx) error {
	id, err := parseIDParam(c)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "invalid id"})
	}
	repo := repository.GetGlobalFactory().GetPlanRepository()
	if _, err := repo.GetByID(id); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not_found", "message": "Plan not found"})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Failed to load plan"})
	}

	live, err := services.subs.HasLivePlanSubscriptions(c.Context(), id)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Failed to check subscription references"})
	}
	if live {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "conflict", "message": "Plan still has live subscriptions; hide it instead"})
	}

	if err := repo.Delete(id); err != nil {
		log.Errorf("[API] plan %d delete failed: %v", id, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Failed to delete plan"})
	}
	return c.SendStatus(fiber.StatusNoContent)
}
