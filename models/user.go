package models

import (
	"time"

	"gorm.io/gorm"
)

// User is the local point-ledger view of a user, keyed by wallet address.
// Profile data (username) is denormalized here and refreshed by the identity
// sync worker; points are mutated only through the engagement award path.
type User struct {
	ID            string `gorm:"primaryKey;type:uuid" json:"id"`
	WalletAddress string `gorm:"uniqueIndex;not null" json:"wallet_address"`
	Username      string `gorm:"index" json:"username"`

	// Running totals. Points is the current contest-agnostic balance,
	// LifetimePoints is monotonic and must reconcile with the sum of the
	// user's point transactions.
	Points         int64 `json:"points" gorm:"default:0"`
	LifetimePoints int64 `json:"lifetime_points" gorm:"default:0"`

	// Per-platform usernames, set when a verification code is redeemed.
	TelegramUsername string `json:"telegram_username,omitempty"`
	DiscordUsername  string `json:"discord_username,omitempty"`
	TwitterUsername  string `json:"twitter_username,omitempty"`

	Timestamps
}

// Timestamps adds GORM auto-times
type Timestamps struct {
	CreatedAt time.Time      `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt time.Time      `json:"updated_at" gorm:"autoUpdateTime"`
	DeletedAt gorm.DeletedAt `json:"deleted_at,omitempty" gorm:"index"`
}
