package models

import (
	"time"
)

// Platform identifies a connected social platform.
type Platform string

const (
	PlatformTelegram Platform = "TELEGRAM"
	PlatformDiscord  Platform = "DISCORD"
	PlatformTwitter  Platform = "TWITTER"
)

// KnownPlatforms is the closed set of platforms the service understands.
// A platform missing from the rule file is known but disabled.
var KnownPlatforms = []Platform{PlatformTelegram, PlatformDiscord, PlatformTwitter}

func (p Platform) Known() bool {
	for _, k := range KnownPlatforms {
		if p == k {
			return true
		}
	}
	return false
}

// EngagementType classifies a point-earning user action.
type EngagementType string

const (
	EngagementChatMessage  EngagementType = "CHAT_MESSAGE"
	EngagementReaction     EngagementType = "REACTION"
	EngagementMusicShare   EngagementType = "MUSIC_SHARE"
	EngagementInvite       EngagementType = "INVITE"
	EngagementDailyCheckin EngagementType = "DAILY_CHECKIN"
)

// EngagementEvent is the ephemeral input reported by a platform adapter.
// It is never persisted as such; accepted events leave behind a
// PointTransaction and an updated Engagement row.
type EngagementEvent struct {
	UserID    string         `json:"user_id"`
	Platform  Platform       `json:"platform"`
	Type      EngagementType `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	Metadata  string         `json:"metadata,omitempty"`
}

// Engagement stores the most recent accepted engagement per
// (user, platform, type) plus the same-day occurrence count. Cooldown and
// daily-limit checks are serialized through a conditional UPDATE on this row,
// so concurrent adapters cannot both pass a stale check.
type Engagement struct {
	ID             uint64         `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID         string         `gorm:"uniqueIndex:uk_engagement;not null" json:"user_id"`
	Platform       Platform       `gorm:"uniqueIndex:uk_engagement;not null" json:"platform"`
	EngagementType EngagementType `gorm:"uniqueIndex:uk_engagement;not null" json:"engagement_type"`
	LastAcceptedAt time.Time      `json:"last_accepted_at"`
	Day            string         `gorm:"size:10" json:"day"` // YYYY-MM-DD, resets the daily count
	DailyCount     int            `gorm:"default:0" json:"daily_count"`
	UpdatedAt      time.Time      `json:"updated_at" gorm:"autoUpdateTime"`
}

// PointTransaction is the append-only ledger entry behind every award.
// Rows are never updated or deleted; sum(amount) per user must equal the
// user's lifetime points.
type PointTransaction struct {
	ID        string    `gorm:"primaryKey;type:uuid" json:"id"`
	UserID    string    `gorm:"index;not null" json:"user_id"`
	Amount    int64     `gorm:"not null" json:"amount"`
	Reason    string    `gorm:"not null" json:"reason"`
	Platform  Platform  `json:"platform"`
	ContestID *string   `gorm:"index" json:"contest_id,omitempty"`
	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`
}
