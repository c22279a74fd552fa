package services

import (
	"context"
	"errors"

	"social-rewards-system/models"

	"gorm.io/gorm"
)

// StatsService serves read-only projections over the point ledger.
type StatsService struct {
	DB *gorm.DB
}

func NewStatsService(db *gorm.DB) *StatsService {
	return &StatsService{DB: db}
}

// UserStats is the aggregate view returned to adapters and the admin UI.
type UserStats struct {
	UserID           string `json:"user_id"`
	WalletAddress    string `json:"wallet_address"`
	Username         string `json:"username"`
	Points           int64  `json:"points"`
	LifetimePoints   int64  `json:"lifetime_points"`
	TransactionCount int64  `json:"transaction_count"`
	GlobalRank       int64  `json:"global_rank"`
}

func (s *StatsService) GetUserStats(ctx context.Context, userID string) (*UserStats, error) {
	var user models.User
	if err := s.DB.WithContext(ctx).First(&user, "id = ?", userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUnknownUser
		}
		return nil, err
	}

	var txCount int64
	if err := s.DB.WithContext(ctx).Model(&models.PointTransaction{}).
		Where("user_id = ?", userID).Count(&txCount).Error; err != nil {
		return nil, err
	}

	rank, err := s.rankOf(ctx, user.Points)
	if err != nil {
		return nil, err
	}

	return &UserStats{
		UserID:           user.ID,
		WalletAddress:    user.WalletAddress,
		Username:         user.Username,
		Points:           user.Points,
		LifetimePoints:   user.LifetimePoints,
		TransactionCount: txCount,
		GlobalRank:       rank,
	}, nil
}

// GetGlobalRank is the user's 1-based position by current points.
func (s *StatsService) GetGlobalRank(ctx context.Context, userID string) (int64, error) {
	var user models.User
	if err := s.DB.WithContext(ctx).First(&user, "id = ?", userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, ErrUnknownUser
		}
		return 0, err
	}
	return s.rankOf(ctx, user.Points)
}

func (s *StatsService) rankOf(ctx context.Context, points int64) (int64, error) {
	var ahead int64
	err := s.DB.WithContext(ctx).Model(&models.User{}).
		Where("points > ?", points).Count(&ahead).Error
	if err != nil {
		return 0, err
	}
	return ahead + 1, nil
}
