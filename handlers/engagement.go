package handlers

import (
	"social-rewards-system/models"
	"social-rewards-system/services"

	"github.com/gofiber/fiber/v2"
)

// SetupEngagementRoutes wires the routes platform adapters call on every
// user action, plus the ledger projections.
func SetupEngagementRoutes(app *fiber.App, engagement *services.EngagementService, stats *services.StatsService) {
	app.Post("/engagements", func(c *fiber.Ctx) error {
		var req struct {
			UserID   string                `json:"user_id"`
			Platform models.Platform       `json:"platform"`
			Type     models.EngagementType `json:"type"`
			Metadata string                `json:"metadata"`
		}
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid JSON"})
		}
		if req.UserID == "" || req.Platform == "" || req.Type == "" {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "user_id, platform and type are required"})
		}

		result, err := engagement.TrackEngagement(c.Context(), models.EngagementEvent{
			UserID:   req.UserID,
			Platform: req.Platform,
			Type:     req.Type,
			Metadata: req.Metadata,
		})
		if err != nil {
			return fail(c, err)
		}
		// Cooldown and daily-limit rejections are expected outcomes, not
		// errors: adapters turn them into "please wait" replies.
		return c.JSON(result)
	})

	app.Get("/users/:id/stats", func(c *fiber.Ctx) error {
		userStats, err := stats.GetUserStats(c.Context(), c.Params("id"))
		if err != nil {
			return fail(c, err)
		}
		return c.JSON(userStats)
	})

	app.Get("/users/:id/rank", func(c *fiber.Ctx) error {
		rank, err := stats.GetGlobalRank(c.Context(), c.Params("id"))
		if err != nil {
			return fail(c, err)
		}
		return c.JSON(fiber.Map{"user_id": c.Params("id"), "global_rank": rank})
	})
}
