package services

import (
	"context"
	"errors"
	"time"

	"social-rewards-system/lock"
	"social-rewards-system/models"

	"github.com/go-co-op/gocron/v2"
	"gorm.io/gorm"
)

// StartLifecycleScheduler runs the time-driven contest transitions: UPCOMING
// contests go ACTIVE once their start time arrives, and running contests past
// their end time are settled through the same locked EndCurrentContest path
// admins use, so scheduler and admin can never double-distribute.
func (s *ContestService) StartLifecycleScheduler() {
	sched, _ := gocron.NewScheduler()
	sched.Start()

	_, _ = sched.NewJob(
		gocron.DurationJob(1*time.Minute),
		gocron.NewTask(func() {
			ctx, cancel := context.WithTimeout(context.Background(), 45*time.Second)
			defer cancel()
			s.activateDue(ctx)
			s.endDue(ctx)
		}),
	)
}

func (s *ContestService) activateDue(ctx context.Context) {
	err := s.Locks.WithLock(ctx, lifecycleLockKey, lock.Options{}, func(ctx context.Context) error {
		var running int64
		if err := s.DB.WithContext(ctx).Model(&models.Contest{}).
			Where("status IN ?", []models.ContestStatus{models.ContestStatusActive, models.ContestStatusPaused}).
			Count(&running).Error; err != nil {
			return err
		}
		if running > 0 {
			return nil
		}

		var due models.Contest
		err := s.DB.WithContext(ctx).
			Where("status = ? AND start_time <= ?", models.ContestStatusUpcoming, time.Now().UTC()).
			Order("start_time ASC").
			First(&due).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		if err != nil {
			return err
		}

		if err := s.DB.WithContext(ctx).Model(&models.Contest{}).
			Where("id = ? AND status = ?", due.ID, models.ContestStatusUpcoming).
			Update("status", models.ContestStatusActive).Error; err != nil {
			return err
		}
		s.log.Info().Str("contest_id", due.ID).Str("slug", due.Slug).Msg("contest auto-activated")
		return nil
	})
	if err != nil && !errors.Is(err, lock.ErrNotAcquired) {
		s.log.Error().Err(err).Msg("scheduled contest activation failed")
	}
}

func (s *ContestService) endDue(ctx context.Context) {
	current, err := s.GetCurrentContest(ctx)
	if err != nil {
		if !errors.Is(err, ErrNoActiveContest) {
			s.log.Error().Err(err).Msg("scheduled contest lookup failed")
		}
		return
	}
	if current.EndTime.IsZero() || current.EndTime.After(time.Now().UTC()) {
		return
	}

	summary, err := s.EndCurrentContest(ctx)
	if err != nil {
		// Another process may have ended it between the check and the lock.
		if errors.Is(err, ErrNoActiveContest) || errors.Is(err, lock.ErrNotAcquired) {
			return
		}
		s.log.Error().Err(err).Str("contest_id", current.ID).Msg("scheduled contest end failed")
		return
	}
	s.log.Info().Str("contest_id", current.ID).Int("rewards", summary.TotalRewards).
		Msg("contest auto-ended at scheduled end time")
}
