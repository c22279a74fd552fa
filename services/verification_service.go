package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"social-rewards-system/models"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

// codeTTL is how long a freshly minted verification code stays redeemable.
const codeTTL = 10 * time.Minute

type VerificationService struct {
	DB  *gorm.DB
	log zerolog.Logger
}

func NewVerificationService(db *gorm.DB) *VerificationService {
	return &VerificationService{
		DB:  db,
		log: log.With().Str("component", "verification").Logger(),
	}
}

func newCode() string {
	return strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
}

// GenerateCode issues a one-time code for linking userID to a platform
// account. Issuance is idempotent: an unused, unexpired code for the same
// (user, platform) is returned unchanged instead of minting a duplicate.
// Fails when the user is already linked to that platform.
func (s *VerificationService) GenerateCode(ctx context.Context, userID string, platform models.Platform) (*models.VerificationCode, error) {
	if !platform.Known() {
		return nil, ErrUnknownPlatform
	}
	var user models.User
	if err := s.DB.WithContext(ctx).First(&user, "id = ?", userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUnknownUser
		}
		return nil, err
	}

	var link models.PlatformLink
	err := s.DB.WithContext(ctx).Where("user_id = ? AND platform = ?", userID, platform).First(&link).Error
	if err == nil {
		return nil, ErrAlreadyLinked
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	var existing models.VerificationCode
	err = s.DB.WithContext(ctx).
		Where("user_id = ? AND platform = ? AND is_used = ? AND expires_at > ?", userID, platform, false, time.Now().UTC()).
		First(&existing).Error
	if err == nil {
		return &existing, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	code := &models.VerificationCode{
		ID:        uuid.NewString(),
		UserID:    userID,
		Platform:  platform,
		Code:      newCode(),
		ExpiresAt: time.Now().UTC().Add(codeTTL),
	}
	if err := s.DB.WithContext(ctx).Create(code).Error; err != nil {
		return nil, err
	}
	s.log.Info().Str("user_id", userID).Str("platform", string(platform)).Msg("verification code issued")
	return code, nil
}

// VerifyCode redeems a code presented on a platform. In one transaction it
// marks the code used, creates the platform link and writes the user's
// denormalized platform username. The unique index on
// (platform, platform_account_id) stops two codes racing into linking the
// same account: the loser hits a duplicate-key error and gets
// ErrAlreadyLinked.
func (s *VerificationService) VerifyCode(ctx context.Context, code string, platform models.Platform, platformAccountID, platformUsername string) (*models.User, error) {
	if !platform.Known() {
		return nil, ErrUnknownPlatform
	}

	var vc models.VerificationCode
	err := s.DB.WithContext(ctx).Where("code = ? AND platform = ?", code, platform).First(&vc).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrCodeInvalid
	}
	if err != nil {
		return nil, err
	}
	if vc.IsUsed {
		return nil, ErrCodeUsed
	}
	if time.Now().UTC().After(vc.ExpiresAt) {
		return nil, ErrCodeExpired
	}

	var taken models.PlatformLink
	err = s.DB.WithContext(ctx).
		Where("platform = ? AND platform_account_id = ?", platform, platformAccountID).
		First(&taken).Error
	if err == nil {
		s.log.Warn().Str("platform", string(platform)).Str("platform_account_id", platformAccountID).
			Msg("verification refused, account already linked")
		return nil, ErrAlreadyLinked
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	var user models.User
	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// Conditional flip guards against the same code racing itself.
		res := tx.Model(&models.VerificationCode{}).
			Where("id = ? AND is_used = ?", vc.ID, false).
			Update("is_used", true)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrCodeUsed
		}

		link := models.PlatformLink{
			ID:                uuid.NewString(),
			UserID:            vc.UserID,
			Platform:          platform,
			PlatformAccountID: platformAccountID,
			PlatformUsername:  platformUsername,
		}
		if err := tx.Create(&link).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return ErrAlreadyLinked
			}
			return err
		}

		if col := usernameColumn(platform); col != "" && platformUsername != "" {
			if err := tx.Model(&models.User{}).Where("id = ?", vc.UserID).
				Update(col, platformUsername).Error; err != nil {
				return err
			}
		}
		return tx.First(&user, "id = ?", vc.UserID).Error
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().Str("user_id", user.ID).Str("platform", string(platform)).Msg("platform account linked")
	return &user, nil
}

func usernameColumn(platform models.Platform) string {
	switch platform {
	case models.PlatformTelegram:
		return "telegram_username"
	case models.PlatformDiscord:
		return "discord_username"
	case models.PlatformTwitter:
		return "twitter_username"
	}
	return ""
}

// PurgeExpiredCodes deletes stale unused codes. Called by the expiry
// sweeper; redeemed codes are kept for audit.
func (s *VerificationService) PurgeExpiredCodes(ctx context.Context) (int64, error) {
	res := s.DB.WithContext(ctx).
		Where("is_used = ? AND expires_at < ?", false, time.Now().UTC().Add(-1*time.Hour)).
		Delete(&models.VerificationCode{})
	return res.RowsAffected, res.Error
}
