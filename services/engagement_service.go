package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"social-rewards-system/config"
	"social-rewards-system/models"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// RejectionReason classifies an expected trackEngagement rejection. These are
// frequent and non-fatal; adapters surface them as "please wait" responses.
type RejectionReason string

const (
	ReasonCooldownActive     RejectionReason = "COOLDOWN_ACTIVE"
	ReasonDailyLimitExceeded RejectionReason = "DAILY_LIMIT_EXCEEDED"
	ReasonRuleDisabled       RejectionReason = "RULE_DISABLED"
)

// TrackResult is the outcome of a single engagement event.
type TrackResult struct {
	Accepted      bool            `json:"accepted"`
	Reason        RejectionReason `json:"reason,omitempty"`
	PointsAwarded int64           `json:"points_awarded"`
	RetryAfter    time.Duration   `json:"retry_after,omitempty"`
}

type EngagementService struct {
	DB    *gorm.DB
	Rules *config.Rules
	log   zerolog.Logger
}

func NewEngagementService(db *gorm.DB, rules *config.Rules) *EngagementService {
	return &EngagementService{
		DB:    db,
		Rules: rules,
		log:   log.With().Str("component", "engagement").Logger(),
	}
}

// TrackEngagement applies the cooldown and daily-limit rules for the event
// and, when accepted, awards points in one durable transaction: ledger
// append, user total increments, engagement row update and contest entry
// upsert all commit or roll back together.
//
// Serialization happens at the store layer: the engagement row is claimed by
// a conditional UPDATE keyed on the stored last-accepted timestamp and daily
// count, so two adapters racing the same (user, platform, type) cannot both
// pass a stale check. No application-level lock is taken per event.
func (s *EngagementService) TrackEngagement(ctx context.Context, event models.EngagementEvent) (*TrackResult, error) {
	if !event.Platform.Known() {
		s.log.Error().Str("platform", string(event.Platform)).Str("user_id", event.UserID).
			Msg("engagement for unknown platform, caller defect")
		return nil, ErrUnknownPlatform
	}

	rule, ok := s.Rules.RuleFor(event.Platform, event.Type)
	if !ok {
		return &TrackResult{Accepted: false, Reason: ReasonRuleDisabled}, nil
	}

	now := time.Now().UTC()
	today := now.Format("2006-01-02")
	cutoff := now.Add(-rule.Cooldown())

	result := &TrackResult{}
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var user models.User
		if err := tx.First(&user, "id = ?", event.UserID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				s.log.Error().Str("user_id", event.UserID).Msg("engagement for unknown user, caller defect")
				return ErrUnknownUser
			}
			return err
		}

		// Ensure the tracking row exists so the conditional claim below has
		// something to race against. A zero last-accepted time always passes
		// the cooldown check for first-time engagements.
		seed := models.Engagement{
			UserID:         event.UserID,
			Platform:       event.Platform,
			EngagementType: event.Type,
			Day:            today,
		}
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&seed).Error; err != nil {
			return err
		}

		// The atomic claim. Exactly one of N concurrent events for this key
		// can move last_accepted_at forward and bump the counter.
		claim := tx.Model(&models.Engagement{}).
			Where("user_id = ? AND platform = ? AND engagement_type = ?", event.UserID, event.Platform, event.Type).
			Where("last_accepted_at <= ?", cutoff)
		if rule.DailyLimit > 0 {
			claim = claim.Where("day <> ? OR daily_count < ?", today, rule.DailyLimit)
		}
		res := claim.Updates(map[string]interface{}{
			"last_accepted_at": now,
			"daily_count":      gorm.Expr("CASE WHEN day = ? THEN daily_count + 1 ELSE 1 END", today),
			"day":              today,
		})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			// Rejected. Read (never write) the row to name the reason.
			var row models.Engagement
			if err := tx.Where("user_id = ? AND platform = ? AND engagement_type = ?",
				event.UserID, event.Platform, event.Type).First(&row).Error; err != nil {
				return err
			}
			if remaining := rule.Cooldown() - now.Sub(row.LastAcceptedAt); remaining > 0 {
				result.Reason = ReasonCooldownActive
				result.RetryAfter = remaining
			} else {
				result.Reason = ReasonDailyLimitExceeded
			}
			return nil
		}

		if err := s.award(tx, &user, event, rule.Points, now); err != nil {
			return err
		}
		result.Accepted = true
		result.PointsAwarded = rule.Points
		return nil
	})
	if err != nil {
		return nil, err
	}

	if result.Accepted {
		s.log.Info().Str("user_id", event.UserID).Str("platform", string(event.Platform)).
			Str("type", string(event.Type)).Int64("points", result.PointsAwarded).Msg("engagement accepted")
	} else {
		s.log.Debug().Str("user_id", event.UserID).Str("platform", string(event.Platform)).
			Str("type", string(event.Type)).Str("reason", string(result.Reason)).Msg("engagement rejected")
	}
	return result, nil
}

// award runs inside the claim transaction: ledger entry, user totals, and
// the contest entry when a contest is ACTIVE.
func (s *EngagementService) award(tx *gorm.DB, user *models.User, event models.EngagementEvent, points int64, now time.Time) error {
	var contestID *string
	var active models.Contest
	err := tx.Where("status = ?", models.ContestStatusActive).First(&active).Error
	switch {
	case err == nil:
		contestID = &active.ID
	case errors.Is(err, gorm.ErrRecordNotFound):
		// no contest running, award outside any contest
	default:
		return err
	}

	txn := models.PointTransaction{
		ID:        uuid.NewString(),
		UserID:    user.ID,
		Amount:    points,
		Reason:    strings.ToLower(string(event.Type)),
		Platform:  event.Platform,
		ContestID: contestID,
	}
	if err := tx.Create(&txn).Error; err != nil {
		return err
	}

	if err := tx.Model(&models.User{}).Where("id = ?", user.ID).Updates(map[string]interface{}{
		"points":          gorm.Expr("points + ?", points),
		"lifetime_points": gorm.Expr("lifetime_points + ?", points),
	}).Error; err != nil {
		return err
	}

	if contestID != nil {
		if err := s.bumpContestEntry(tx, &active, user.ID, points, now); err != nil {
			return err
		}
	}
	return nil
}

func (s *EngagementService) bumpContestEntry(tx *gorm.DB, contest *models.Contest, userID string, points int64, now time.Time) error {
	rules, err := contest.ParseRules()
	if err != nil {
		return err
	}

	entry := models.ContestEntry{
		ID:        uuid.NewString(),
		ContestID: contest.ID,
		UserID:    userID,
		Points:    points,
	}
	if err := tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "contest_id"}, {Name: "user_id"}},
		DoUpdates: clause.Assignments(map[string]interface{}{"points": gorm.Expr("contest_entries.points + ?", points)}),
	}).Create(&entry).Error; err != nil {
		return err
	}

	var current models.ContestEntry
	if err := tx.Where("contest_id = ? AND user_id = ?", contest.ID, userID).First(&current).Error; err != nil {
		return err
	}
	if current.QualifiedAt == nil && current.Points >= rules.MinQualifyingPoints {
		if err := tx.Model(&models.ContestEntry{}).
			Where("id = ? AND qualified_at IS NULL", current.ID).
			Update("qualified_at", now).Error; err != nil {
			return err
		}
		s.log.Info().Str("user_id", userID).Str("contest_id", contest.ID).
			Int64("points", current.Points).Msg(fmt.Sprintf("user qualified for contest %s", contest.Slug))
	}
	return nil
}
