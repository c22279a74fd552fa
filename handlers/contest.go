package handlers

import (
	"strconv"

	"social-rewards-system/config"
	"social-rewards-system/lock"
	"social-rewards-system/middleware"
	"social-rewards-system/services"

	"github.com/gofiber/fiber/v2"
)

// SetupContestRoutes wires the contest lifecycle (admin), leaderboard and
// reward claim surface.
func SetupContestRoutes(app *fiber.App, contests *services.ContestService, rewards *services.RewardService, rules *config.Rules, locks *lock.Manager) {
	secured := app.Group("/", middleware.UserContextMiddleware())

	secured.Get("/contests/current", func(c *fiber.Ctx) error {
		contest, err := contests.GetCurrentContest(c.Context())
		if err != nil {
			return fail(c, err)
		}
		return c.JSON(contest)
	})

	secured.Get("/contests/:id/leaderboard", func(c *fiber.Ctx) error {
		limit, _ := strconv.Atoi(c.Query("limit", "50"))
		entries, err := contests.GetContestLeaderboard(c.Context(), c.Params("id"), limit)
		if err != nil {
			return fail(c, err)
		}
		return c.JSON(fiber.Map{"contest_id": c.Params("id"), "entries": entries})
	})

	secured.Get("/users/me/rewards", func(c *fiber.Ctx) error {
		userID := c.Locals("user_id").(string)
		list, err := rewards.GetContestRewards(c.Context(), userID)
		if err != nil {
			return fail(c, err)
		}
		return c.JSON(fiber.Map{"rewards": list})
	})

	secured.Post("/rewards/:id/claim", func(c *fiber.Ctx) error {
		userID := c.Locals("user_id").(string)
		reward, err := rewards.ClaimReward(c.Context(), c.Params("id"), userID)
		if err != nil {
			return fail(c, err)
		}
		return c.JSON(reward)
	})

	// Lifecycle management, admin only.
	admin := secured.Group("/admin", middleware.RequireAdmin())

	admin.Post("/contests", func(c *fiber.Ctx) error {
		var params services.StartContestParams
		if err := c.BodyParser(&params); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid JSON"})
		}
		contest, err := contests.StartNewContest(c.Context(), params)
		if err != nil {
			if _, ok := statusFor(err); ok {
				return fail(c, err)
			}
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
		}
		return c.Status(fiber.StatusCreated).JSON(contest)
	})

	admin.Post("/contests/pause", func(c *fiber.Ctx) error {
		if err := contests.PauseContest(c.Context()); err != nil {
			return fail(c, err)
		}
		return c.JSON(fiber.Map{"message": "contest paused"})
	})

	admin.Post("/contests/resume", func(c *fiber.Ctx) error {
		if err := contests.ResumeContest(c.Context()); err != nil {
			return fail(c, err)
		}
		return c.JSON(fiber.Map{"message": "contest resumed"})
	})

	// Retry path for a COMPLETED contest that has no rewards yet, e.g. one
	// that was force-completed while wedged. The distribution guard makes a
	// repeat call a no-op failure, never a double payout.
	admin.Post("/contests/:id/distribute", func(c *fiber.Ctx) error {
		summary, err := rewards.DistributeRewards(c.Context(), c.Params("id"))
		if err != nil {
			return fail(c, err)
		}
		return c.JSON(summary)
	})

	admin.Post("/contests/end", func(c *fiber.Ctx) error {
		// Body is optional; without a contest_id the current contest ends.
		var req struct {
			ContestID string `json:"contest_id"`
		}
		if len(c.Body()) > 0 {
			if err := c.BodyParser(&req); err != nil {
				return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid JSON"})
			}
		}
		summary, err := contests.EndContest(c.Context(), req.ContestID)
		if err != nil {
			return fail(c, err)
		}
		return c.JSON(summary)
	})

	// Operator escape hatch for a wedged lifecycle lock. Never part of the
	// normal flow.
	admin.Post("/locks/:key/force-release", func(c *fiber.Ctx) error {
		if err := locks.ForceRelease(c.Context(), c.Params("key")); err != nil {
			return internalError(c, err)
		}
		return c.JSON(fiber.Map{"message": "lock released"})
	})

	// Non-production hot reload of the engagement rule table.
	admin.Post("/rules/reload", func(c *fiber.Ctx) error {
		if err := rules.Reload(); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
		}
		return c.JSON(fiber.Map{"message": "rules reloaded"})
	})
}
