package handlers

import (
	"errors"

	"social-rewards-system/lock"
	"social-rewards-system/services"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/rs/zerolog/log"
)

// statusFor maps typed service errors onto HTTP statuses. Anything unmapped
// is an unexpected store failure and handled by internalError.
func statusFor(err error) (int, bool) {
	switch {
	case errors.Is(err, services.ErrUnknownUser),
		errors.Is(err, services.ErrUnknownPlatform):
		return fiber.StatusBadRequest, true
	case errors.Is(err, services.ErrContestNotFound),
		errors.Is(err, services.ErrRewardNotFound),
		errors.Is(err, services.ErrNoActiveContest),
		errors.Is(err, services.ErrNoPausedContest):
		return fiber.StatusNotFound, true
	case errors.Is(err, services.ErrRewardNotOwner):
		return fiber.StatusForbidden, true
	case errors.Is(err, services.ErrContestNotCompleted),
		errors.Is(err, services.ErrRewardsAlreadyDistributed),
		errors.Is(err, services.ErrRewardAlreadyClaimed),
		errors.Is(err, services.ErrRewardExpired),
		errors.Is(err, services.ErrAlreadyLinked),
		errors.Is(err, services.ErrCodeUsed),
		errors.Is(err, services.ErrCodeExpired),
		errors.Is(err, services.ErrCodeInvalid):
		return fiber.StatusConflict, true
	case errors.Is(err, lock.ErrNotAcquired):
		// Another lifecycle operation holds the lock; the caller retries.
		return fiber.StatusServiceUnavailable, true
	}
	return 0, false
}

// fail renders a typed service error, or an opaque failure carrying the
// request correlation id when the error is unexpected.
func fail(c *fiber.Ctx, err error) error {
	if status, ok := statusFor(err); ok {
		return c.Status(status).JSON(fiber.Map{"error": err.Error()})
	}
	return internalError(c, err)
}

func internalError(c *fiber.Ctx, err error) error {
	correlationID, _ := c.Locals(requestid.ConfigDefault.ContextKey).(string)
	log.Error().Err(err).Str("correlation_id", correlationID).Str("path", c.Path()).
		Msg("unexpected failure")
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
		"error":          "internal error",
		"correlation_id": correlationID,
	})
}
