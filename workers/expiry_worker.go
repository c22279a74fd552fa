// workers/expiry_worker.go
package workers

import (
	"context"
	"time"

	"social-rewards-system/services"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// ExpirySweeper pushes overdue reward and verification-code rows to their
// terminal states. Claims race it safely: both sides use conditional updates.
type ExpirySweeper struct {
	rewards      *services.RewardService
	verification *services.VerificationService
	log          zerolog.Logger
}

func NewExpirySweeper(rewards *services.RewardService, verification *services.VerificationService) *ExpirySweeper {
	return &ExpirySweeper{
		rewards:      rewards,
		verification: verification,
		log:          log.With().Str("component", "expiry_sweeper").Logger(),
	}
}

// PollExpiry runs the sweeper until ctx is cancelled.
func PollExpiry(ctx context.Context, sweeper *ExpirySweeper, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			sweeper.sweep(ctx)
		case <-ctx.Done():
			sweeper.log.Info().Msg("expiry sweeper stopped")
			return
		}
	}
}

func (s *ExpirySweeper) sweep(ctx context.Context) {
	expired, err := s.rewards.ExpireOverdue(ctx)
	if err != nil {
		s.log.Error().Err(err).Msg("reward expiry sweep failed")
	} else if expired > 0 {
		s.log.Info().Int64("expired", expired).Msg("overdue rewards expired")
	}

	purged, err := s.verification.PurgeExpiredCodes(ctx)
	if err != nil {
		s.log.Error().Err(err).Msg("verification code purge failed")
	} else if purged > 0 {
		s.log.Info().Int64("purged", purged).Msg("stale verification codes purged")
	}
}
