package controllers

import (
	"errors"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/mohsenbt/marzsell/app/repository"
	"github.com/mohsenbt/marzsell/internal/pkg/middleware"
)

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// HandleAPILogin exchanges operator credentials for a short-lived JWT.
// Wrong email and wrong password answer identically so the endpoint does not
// leak which operator accounts exist.
func HandleAPILogin(c *fiber.Ctx) error {
	var req loginRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "Malformed request body"})
	}
	req.Email = strings.TrimSpace(req.Email)
	if req.Email == "" || req.Password == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "email and password are required"})
	}

	repo := repository.GetGlobalFactory().GetOperatorRepository()
	operator, err := repo.GetByEmail(req.Email)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": "Invalid email or password"})
		}
		log.Errorf("[Auth] operator lookup failed: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Login failed"})
	}

	if !operator.CheckPassword(req.Password) {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": "Invalid email or password"})
	}
	if !operator.IsActive() {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "forbidden", "message": "Operator disabled"})
	}

	token, expiresAt, err := middleware.IssueOperatorToken(operator)
	if err != nil {
		log.Errorf("[Auth] token signing failed for operator %d: %v", operator.ID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Login failed"})
	}

	if err := repo.TouchLogin(operator.ID, time.Now()); err != nil {
		log.Warnf("[Auth] failed to record login time for operator %d: %v", operator.ID, err)
	}

	return c.JSON(fiber.Map{
		"token":      token,
		"expires_at": expiresAt.UTC().Format(time.RFC3339),
		"operator": fiber.Map{
			"id":    operator.ID,
			"name":  operator.Name,
			"email": operator.Email,
			"role":  operator.Role,
		},
	})
}
