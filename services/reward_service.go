package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"social-rewards-system/config"
	"social-rewards-system/models"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

// ReportUploader pushes settlement reports to object storage. Optional;
// distribution never fails because a report could not be written.
type ReportUploader interface {
	UploadSettlementReport(ctx context.Context, key string, body []byte) (string, error)
}

// DistributionSummary is returned by a successful reward distribution.
type DistributionSummary struct {
	ContestID    string         `json:"contest_id"`
	TotalRewards int            `json:"total_rewards"`
	TierCounts   map[string]int `json:"tier_counts"`
	RankPrizes   int            `json:"rank_prizes"`
	ReportURL    string         `json:"report_url,omitempty"`
}

type RewardService struct {
	DB      *gorm.DB
	Rules   *config.Rules
	Reports ReportUploader
	log     zerolog.Logger
}

func NewRewardService(db *gorm.DB, rules *config.Rules, reports ReportUploader) *RewardService {
	return &RewardService{
		DB:      db,
		Rules:   rules,
		Reports: reports,
		log:     log.With().Str("component", "rewards").Logger(),
	}
}

// DistributeRewards produces reward rows for a COMPLETED contest exactly
// once. The idempotency guard is the existing reward set: any non-empty set
// for this contest makes the call fail with ErrRewardsAlreadyDistributed and
// create zero additional rows. Settlement normally distributes in the same
// transaction that completes the contest; this entry point is the retry path
// for a contest that ended up COMPLETED without rewards.
func (s *RewardService) DistributeRewards(ctx context.Context, contestID string) (*DistributionSummary, error) {
	var contest models.Contest
	if err := s.DB.WithContext(ctx).First(&contest, "id = ?", contestID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrContestNotFound
		}
		return nil, err
	}
	if contest.Status != models.ContestStatusCompleted {
		s.log.Warn().Str("contest_id", contestID).Str("status", string(contest.Status)).
			Msg("distribution refused, contest not completed")
		return nil, ErrContestNotCompleted
	}

	var summary *DistributionSummary
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		summary, err = s.distribute(tx, &contest)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.uploadReport(ctx, &contest, summary)
	s.log.Info().Str("contest_id", contestID).Int("total", summary.TotalRewards).
		Int("rank_prizes", summary.RankPrizes).Msg("rewards distributed")
	return summary, nil
}

// distribute writes the reward rows inside the caller's transaction, so a
// settlement that fails partway leaves no partial state behind.
//
// Each qualifying entry receives the highest tier whose threshold its points
// meet (thresholds iterated descending, first match wins) plus, independently,
// a rank prize when its finishing rank is in the prize table. Both can go to
// the same user.
func (s *RewardService) distribute(tx *gorm.DB, contest *models.Contest) (*DistributionSummary, error) {
	rules, err := contest.ParseRules()
	if err != nil {
		return nil, err
	}

	expiresAt := time.Now().UTC().Add(s.Rules.ClaimWindow())
	summary := &DistributionSummary{ContestID: contest.ID, TierCounts: map[string]int{}}

	var existing int64
	if err := tx.Model(&models.ContestReward{}).Where("contest_id = ?", contest.ID).Count(&existing).Error; err != nil {
		return nil, err
	}
	if existing > 0 {
		s.log.Warn().Str("contest_id", contest.ID).Int64("existing", existing).
			Msg("distribution refused, rewards already exist")
		return nil, ErrRewardsAlreadyDistributed
	}

	var entries []models.ContestEntry
	if err := tx.Where("contest_id = ? AND points >= ?", contest.ID, rules.MinQualifyingPoints).
		Order("rank ASC").Find(&entries).Error; err != nil {
		return nil, err
	}

	for _, entry := range entries {
		tier := highestTier(rules.Tiers, entry.Points)
		if tier != nil {
			qual := models.ContestQualification{
				ID:        uuid.NewString(),
				ContestID: contest.ID,
				UserID:    entry.UserID,
				Tier:      tier.Name,
				Metadata:  fmt.Sprintf(`{"points":%d,"threshold":%d}`, entry.Points, tier.Threshold),
			}
			if err := tx.Create(&qual).Error; err != nil {
				return nil, err
			}
			reward := models.ContestReward{
				ID:        uuid.NewString(),
				ContestID: contest.ID,
				UserID:    entry.UserID,
				Type:      tier.Reward,
				System:    models.RewardSystemTier,
				Status:    models.RewardStatusPending,
				Metadata:  fmt.Sprintf(`{"tier":%q}`, tier.Name),
				ExpiresAt: expiresAt,
			}
			if err := tx.Create(&reward).Error; err != nil {
				return nil, err
			}
			summary.TotalRewards++
			summary.TierCounts[tier.Name]++
		}

		if prize := prizeForRank(rules.RankPrizes, entry.Rank); prize != nil {
			reward := models.ContestReward{
				ID:        uuid.NewString(),
				ContestID: contest.ID,
				UserID:    entry.UserID,
				Type:      models.RewardTokenPrize,
				System:    models.RewardSystemRank,
				Status:    models.RewardStatusPending,
				Metadata:  fmt.Sprintf(`{"rank":%d,"amount":%d}`, prize.Rank, prize.Amount),
				ExpiresAt: expiresAt,
			}
			if err := tx.Create(&reward).Error; err != nil {
				return nil, err
			}
			summary.TotalRewards++
			summary.RankPrizes++
		}
	}
	return summary, nil
}

// highestTier returns the top tier whose threshold points meet or exceed.
func highestTier(tiers []models.ContestTier, points int64) *models.ContestTier {
	for i := len(tiers) - 1; i >= 0; i-- {
		if points >= tiers[i].Threshold {
			return &tiers[i]
		}
	}
	return nil
}

func prizeForRank(prizes []models.RankPrize, rank *int) *models.RankPrize {
	if rank == nil {
		return nil
	}
	for i := range prizes {
		if prizes[i].Rank == *rank {
			return &prizes[i]
		}
	}
	return nil
}

// uploadReport writes the settlement summary to object storage, best-effort.
func (s *RewardService) uploadReport(ctx context.Context, contest *models.Contest, summary *DistributionSummary) {
	if s.Reports == nil {
		return
	}
	body, err := json.Marshal(summary)
	if err != nil {
		return
	}
	key := fmt.Sprintf("settlements/%s-%s.json", contest.Slug, contest.ID)
	url, err := s.Reports.UploadSettlementReport(ctx, key, body)
	if err != nil {
		s.log.Warn().Err(err).Str("contest_id", contest.ID).Msg("settlement report upload failed")
		return
	}
	summary.ReportURL = url
}

// ClaimReward transitions a PENDING reward owned by userID to CLAIMED.
// Every other state, ownership or expiry combination fails with its own
// reason so the caller can show the user exactly what happened.
func (s *RewardService) ClaimReward(ctx context.Context, rewardID, userID string) (*models.ContestReward, error) {
	var reward models.ContestReward
	if err := s.DB.WithContext(ctx).First(&reward, "id = ?", rewardID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRewardNotFound
		}
		return nil, err
	}
	if reward.UserID != userID {
		s.log.Warn().Str("reward_id", rewardID).Str("user_id", userID).Msg("claim refused, not owner")
		return nil, ErrRewardNotOwner
	}
	switch reward.Status {
	case models.RewardStatusClaimed:
		return nil, ErrRewardAlreadyClaimed
	case models.RewardStatusExpired:
		return nil, ErrRewardExpired
	}

	now := time.Now().UTC()
	if now.After(reward.ExpiresAt) {
		// Lazily flip to EXPIRED; the sweeper would catch it eventually.
		res := s.DB.WithContext(ctx).Model(&models.ContestReward{}).
			Where("id = ? AND status = ?", rewardID, models.RewardStatusPending).
			Update("status", models.RewardStatusExpired)
		if res.Error != nil {
			s.log.Warn().Err(res.Error).Str("reward_id", rewardID).Msg("lazy reward expiry failed")
		}
		return nil, ErrRewardExpired
	}

	// Conditional update so two concurrent claims cannot both succeed.
	res := s.DB.WithContext(ctx).Model(&models.ContestReward{}).
		Where("id = ? AND status = ?", rewardID, models.RewardStatusPending).
		Updates(map[string]interface{}{
			"status":     models.RewardStatusClaimed,
			"claimed_at": now,
		})
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, ErrRewardAlreadyClaimed
	}

	reward.Status = models.RewardStatusClaimed
	reward.ClaimedAt = &now
	s.log.Info().Str("reward_id", rewardID).Str("user_id", userID).Msg("reward claimed")
	return &reward, nil
}

// GetContestRewards lists a user's rewards, newest first.
func (s *RewardService) GetContestRewards(ctx context.Context, userID string) ([]models.ContestReward, error) {
	var rewards []models.ContestReward
	err := s.DB.WithContext(ctx).Where("user_id = ?", userID).
		Order("created_at DESC").Find(&rewards).Error
	return rewards, err
}

// ExpireOverdue marks PENDING rewards past their claim window as EXPIRED.
// Called by the expiry sweeper worker.
func (s *RewardService) ExpireOverdue(ctx context.Context) (int64, error) {
	res := s.DB.WithContext(ctx).Model(&models.ContestReward{}).
		Where("status = ? AND expires_at < ?", models.RewardStatusPending, time.Now().UTC()).
		Update("status", models.RewardStatusExpired)
	return res.RowsAffected, res.Error
}
