package models

import (
	"time"
)

// VerificationCode is a short-lived one-time code linking a user to a
// platform account. Redemption marks it used and creates the PlatformLink in
// the same transaction.
type VerificationCode struct {
	ID        string    `gorm:"primaryKey;type:uuid" json:"id"`
	UserID    string    `gorm:"index;not null" json:"user_id"`
	Platform  Platform  `gorm:"not null" json:"platform"`
	Code      string    `gorm:"uniqueIndex;not null" json:"code"`
	ExpiresAt time.Time `gorm:"not null" json:"expires_at"`
	IsUsed    bool      `gorm:"default:false" json:"is_used"`
	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`
}

// PlatformLink binds a platform account id to a user. The unique index on
// (platform, platform_account_id) is the guard that stops two codes racing
// into linking the same account twice.
type PlatformLink struct {
	ID                string    `gorm:"primaryKey;type:uuid" json:"id"`
	UserID            string    `gorm:"uniqueIndex:uk_user_platform;not null" json:"user_id"`
	Platform          Platform  `gorm:"uniqueIndex:uk_user_platform;uniqueIndex:uk_platform_account;not null" json:"platform"`
	PlatformAccountID string    `gorm:"uniqueIndex:uk_platform_account;not null" json:"platform_account_id"`
	PlatformUsername  string    `json:"platform_username,omitempty"`
	CreatedAt         time.Time `json:"created_at" gorm:"autoCreateTime"`
}
