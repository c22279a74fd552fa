package handlers

import (
	"social-rewards-system/models"
	"social-rewards-system/services"

	"github.com/gofiber/fiber/v2"
)

// SetupVerificationRoutes wires account-linking for the platform adapters.
func SetupVerificationRoutes(app *fiber.App, verification *services.VerificationService) {
	app.Post("/verification/codes", func(c *fiber.Ctx) error {
		var req struct {
			UserID   string          `json:"user_id"`
			Platform models.Platform `json:"platform"`
		}
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid JSON"})
		}
		code, err := verification.GenerateCode(c.Context(), req.UserID, req.Platform)
		if err != nil {
			return fail(c, err)
		}
		return c.JSON(fiber.Map{
			"code":       code.Code,
			"platform":   code.Platform,
			"expires_at": code.ExpiresAt,
		})
	})

	app.Post("/verification/verify", func(c *fiber.Ctx) error {
		var req struct {
			Code              string          `json:"code"`
			Platform          models.Platform `json:"platform"`
			PlatformAccountID string          `json:"platform_account_id"`
			PlatformUsername  string          `json:"platform_username"`
		}
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid JSON"})
		}
		if req.Code == "" || req.PlatformAccountID == "" {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "code and platform_account_id are required"})
		}
		user, err := verification.VerifyCode(c.Context(), req.Code, req.Platform, req.PlatformAccountID, req.PlatformUsername)
		if err != nil {
			return fail(c, err)
		}
		return c.JSON(user)
	})
}
