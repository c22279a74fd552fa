package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"social-rewards-system/config"
	"social-rewards-system/lock"
	"social-rewards-system/models"

	"github.com/google/uuid"
	"github.com/gosimple/slug"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

// lifecycleLockKey guards every contest state transition. It is the only
// distributed lock in the system; per-event awarding never takes it.
const lifecycleLockKey = "contest:lifecycle"

type ContestService struct {
	DB      *gorm.DB
	Locks   *lock.Manager
	Rules   *config.Rules
	Rewards *RewardService
	log     zerolog.Logger
}

func NewContestService(db *gorm.DB, locks *lock.Manager, rules *config.Rules, rewards *RewardService) *ContestService {
	return &ContestService{
		DB:      db,
		Locks:   locks,
		Rules:   rules,
		Rewards: rewards,
		log:     log.With().Str("component", "contest").Logger(),
	}
}

// StartContestParams describes a new contest. Rules must carry at least one
// tier; the qualification floor and rank prize table fall back to the
// configured defaults when omitted.
type StartContestParams struct {
	Name      string               `json:"name"`
	StartTime time.Time            `json:"start_time"`
	EndTime   time.Time            `json:"end_time"`
	Rules     *models.ContestRules `json:"rules"`
}

// StartNewContest creates a contest under the lifecycle lock. Any still
// ACTIVE or PAUSED contest is settled first, best-effort: a stuck row is
// forced to COMPLETED rather than blocking the new contest. Two processes
// calling this simultaneously serialize on the lock, so at most one contest
// ends up ACTIVE.
func (s *ContestService) StartNewContest(ctx context.Context, params StartContestParams) (*models.Contest, error) {
	if params.Name == "" {
		return nil, fmt.Errorf("contest name is required")
	}
	if params.Rules == nil || len(params.Rules.Tiers) == 0 {
		return nil, fmt.Errorf("contest rules must define at least one tier")
	}

	rules := *params.Rules
	if rules.MinQualifyingPoints == 0 {
		rules.MinQualifyingPoints = s.Rules.MinQualifyingPoints()
	}
	if len(rules.RankPrizes) == 0 {
		rules.RankPrizes = s.Rules.RankPrizes()
	}
	if err := rules.Validate(); err != nil {
		return nil, err
	}
	rulesJSON, err := json.Marshal(&rules)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	start := params.StartTime
	if start.IsZero() {
		start = now
	}
	status := models.ContestStatusActive
	if start.After(now) {
		status = models.ContestStatusUpcoming
	}

	contest := &models.Contest{
		ID:        uuid.NewString(),
		Name:      params.Name,
		Slug:      slug.Make(params.Name),
		StartTime: start,
		EndTime:   params.EndTime,
		Status:    status,
		Rules:     string(rulesJSON),
	}

	err = s.Locks.WithLock(ctx, lifecycleLockKey, lock.Options{}, func(ctx context.Context) error {
		if status == models.ContestStatusActive {
			s.settleLingering(ctx)
		}
		return s.DB.WithContext(ctx).Create(contest).Error
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().Str("contest_id", contest.ID).Str("slug", contest.Slug).
		Str("status", string(contest.Status)).Msg("contest created")
	return contest, nil
}

// settleLingering completes whatever contest is still running so the new one
// can be the single ACTIVE row. Failures are logged, never propagated: the
// losing path forces the status over and moves on.
func (s *ContestService) settleLingering(ctx context.Context) {
	var lingering []models.Contest
	if err := s.DB.WithContext(ctx).
		Where("status IN ?", []models.ContestStatus{models.ContestStatusActive, models.ContestStatusPaused}).
		Find(&lingering).Error; err != nil {
		s.log.Error().Err(err).Msg("failed to look up lingering contests")
		return
	}
	for i := range lingering {
		if _, err := s.settle(ctx, &lingering[i]); err != nil {
			s.log.Warn().Err(err).Str("contest_id", lingering[i].ID).
				Msg("settlement of lingering contest failed, forcing completion")
			if err := s.DB.WithContext(ctx).Model(&models.Contest{}).
				Where("id = ?", lingering[i].ID).
				Update("status", models.ContestStatusCompleted).Error; err != nil {
				s.log.Error().Err(err).Str("contest_id", lingering[i].ID).Msg("forced completion failed")
			}
		}
	}
}

// PauseContest flips the ACTIVE contest to PAUSED. No side effects on
// entries; engagement simply stops accumulating contest points.
func (s *ContestService) PauseContest(ctx context.Context) error {
	return s.Locks.WithLock(ctx, lifecycleLockKey, lock.Options{}, func(ctx context.Context) error {
		res := s.DB.WithContext(ctx).Model(&models.Contest{}).
			Where("status = ?", models.ContestStatusActive).
			Update("status", models.ContestStatusPaused)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNoActiveContest
		}
		s.log.Info().Msg("contest paused")
		return nil
	})
}

// ResumeContest flips the PAUSED contest back to ACTIVE.
func (s *ContestService) ResumeContest(ctx context.Context) error {
	return s.Locks.WithLock(ctx, lifecycleLockKey, lock.Options{}, func(ctx context.Context) error {
		res := s.DB.WithContext(ctx).Model(&models.Contest{}).
			Where("status = ?", models.ContestStatusPaused).
			Update("status", models.ContestStatusActive)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNoPausedContest
		}
		s.log.Info().Msg("contest resumed")
		return nil
	})
}

// EndCurrentContest completes the running contest under the lifecycle lock:
// status flip, rank assignment and reward distribution happen inside the same
// guarded operation, so a second concurrent call cannot double-distribute.
func (s *ContestService) EndCurrentContest(ctx context.Context) (*DistributionSummary, error) {
	return s.EndContest(ctx, "")
}

// EndContest completes the contest with contestID, or the running contest
// when contestID is empty. Only an ACTIVE or PAUSED contest can be ended.
func (s *ContestService) EndContest(ctx context.Context, contestID string) (*DistributionSummary, error) {
	var summary *DistributionSummary
	err := s.Locks.WithLock(ctx, lifecycleLockKey, lock.Options{}, func(ctx context.Context) error {
		var contest models.Contest
		query := s.DB.WithContext(ctx).
			Where("status IN ?", []models.ContestStatus{models.ContestStatusActive, models.ContestStatusPaused})
		if contestID != "" {
			var exists models.Contest
			if err := s.DB.WithContext(ctx).First(&exists, "id = ?", contestID).Error; err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					return ErrContestNotFound
				}
				return err
			}
			query = query.Where("id = ?", contestID)
		}
		err := query.First(&contest).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrNoActiveContest
		}
		if err != nil {
			return err
		}
		var settleErr error
		summary, settleErr = s.settle(ctx, &contest)
		return settleErr
	})
	if err != nil {
		return nil, err
	}
	return summary, nil
}

// settle completes a contest and pays it out. Rank order is points
// descending; ties break on earlier qualification time, then on entry
// creation order. Status flip, ranking and reward distribution commit in one
// transaction: a distribution failure rolls the contest back to its running
// state, so ending it again retries the whole settlement.
func (s *ContestService) settle(ctx context.Context, contest *models.Contest) (*DistributionSummary, error) {
	var summary *DistributionSummary
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.Contest{}).Where("id = ?", contest.ID).
			Update("status", models.ContestStatusCompleted).Error; err != nil {
			return err
		}

		var entries []models.ContestEntry
		if err := tx.Where("contest_id = ?", contest.ID).
			Order("points DESC, qualified_at ASC NULLS LAST, created_at ASC").
			Find(&entries).Error; err != nil {
			return err
		}
		for i := range entries {
			rank := i + 1
			if err := tx.Model(&models.ContestEntry{}).
				Where("id = ?", entries[i].ID).
				Update("rank", rank).Error; err != nil {
				return err
			}
		}

		var err error
		summary, err = s.Rewards.distribute(tx, contest)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.Rewards.uploadReport(ctx, contest, summary)
	s.log.Info().Str("contest_id", contest.ID).Int("rewards", summary.TotalRewards).
		Msg("contest settled")
	return summary, nil
}

// GetCurrentContest returns the running (ACTIVE or PAUSED) contest.
func (s *ContestService) GetCurrentContest(ctx context.Context) (*models.Contest, error) {
	var contest models.Contest
	err := s.DB.WithContext(ctx).
		Where("status IN ?", []models.ContestStatus{models.ContestStatusActive, models.ContestStatusPaused}).
		First(&contest).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNoActiveContest
	}
	if err != nil {
		return nil, err
	}
	return &contest, nil
}

// GetContestLeaderboard returns entries ordered the same way final ranks are
// assigned, so the live view matches the eventual settlement order.
func (s *ContestService) GetContestLeaderboard(ctx context.Context, contestID string, limit int) ([]models.ContestEntry, error) {
	if limit < 1 || limit > 200 {
		limit = 50
	}
	var contest models.Contest
	if err := s.DB.WithContext(ctx).First(&contest, "id = ?", contestID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrContestNotFound
		}
		return nil, err
	}
	var entries []models.ContestEntry
	err := s.DB.WithContext(ctx).Where("contest_id = ?", contestID).
		Order("points DESC, qualified_at ASC NULLS LAST, created_at ASC").
		Limit(limit).
		Find(&entries).Error
	return entries, err
}
