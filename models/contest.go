package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// ContestStatus is the lifecycle state of a contest.
// COMPLETED is terminal; a contest is never reactivated.
type ContestStatus string

const (
	ContestStatusUpcoming  ContestStatus = "UPCOMING"
	ContestStatusActive    ContestStatus = "ACTIVE"
	ContestStatusPaused    ContestStatus = "PAUSED"
	ContestStatusCompleted ContestStatus = "COMPLETED"
)

// Contest represents a time-boxed engagement contest.
// At most one contest is ACTIVE at any time, process-wide; the lifecycle
// lock enforces that across processes.
type Contest struct {
	ID        string        `gorm:"primaryKey;type:uuid" json:"id"`
	Name      string        `gorm:"not null" json:"name"`
	Slug      string        `gorm:"index" json:"slug"`
	StartTime time.Time     `gorm:"not null" json:"start_time"`
	EndTime   time.Time     `json:"end_time"`
	Status    ContestStatus `gorm:"not null;default:'UPCOMING';index" json:"status"`
	Rules     string        `gorm:"type:jsonb" json:"rules"` // serialized ContestRules, validated at creation
	CreatedAt time.Time     `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt time.Time     `json:"updated_at" gorm:"autoUpdateTime"`
}

// ContestEntry accumulates a user's points inside a single contest window.
// One row per (contest, user), created lazily on the first qualifying
// engagement. Rank stays null until the contest completes.
type ContestEntry struct {
	ID          string     `gorm:"primaryKey;type:uuid" json:"id"`
	ContestID   string     `gorm:"uniqueIndex:uk_contest_entry;not null" json:"contest_id"`
	UserID      string     `gorm:"uniqueIndex:uk_contest_entry;not null" json:"user_id"`
	Points      int64      `gorm:"default:0" json:"points"`
	Rank        *int       `json:"rank,omitempty"`
	QualifiedAt *time.Time `json:"qualified_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt   time.Time  `json:"updated_at" gorm:"autoUpdateTime"`
}

// ContestQualification records the highest tier a user reached in a contest.
// Written exactly once, during reward distribution.
type ContestQualification struct {
	ID        string    `gorm:"primaryKey;type:uuid" json:"id"`
	ContestID string    `gorm:"uniqueIndex:uk_contest_qual;not null" json:"contest_id"`
	UserID    string    `gorm:"uniqueIndex:uk_contest_qual;not null" json:"user_id"`
	Tier      string    `gorm:"not null" json:"tier"`
	Metadata  string    `gorm:"type:jsonb" json:"metadata,omitempty"`
	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`
}

// RewardType is the closed set of reward kinds a contest can pay out.
type RewardType string

const (
	RewardWhitelist  RewardType = "WHITELIST"
	RewardFreeMint   RewardType = "FREE_MINT"
	RewardMerchDrop  RewardType = "MERCH_DROP"
	RewardTokenPrize RewardType = "TOKEN_PRIZE"
)

func (r RewardType) Valid() bool {
	switch r {
	case RewardWhitelist, RewardFreeMint, RewardMerchDrop, RewardTokenPrize:
		return true
	}
	return false
}

// RewardStatus is the claim state of a distributed reward.
type RewardStatus string

const (
	RewardStatusPending RewardStatus = "PENDING"
	RewardStatusClaimed RewardStatus = "CLAIMED"
	RewardStatusExpired RewardStatus = "EXPIRED"
)

// RewardSystem tags which distribution pass produced a reward. A user may
// receive one tier reward and one rank reward for the same contest.
const (
	RewardSystemTier = "tier"
	RewardSystemRank = "rank"
)

// ContestReward is a single distributed reward awaiting claim.
type ContestReward struct {
	ID        string       `gorm:"primaryKey;type:uuid" json:"id"`
	ContestID string       `gorm:"index;not null" json:"contest_id"`
	UserID    string       `gorm:"index;not null" json:"user_id"`
	Type      RewardType   `gorm:"not null" json:"type"`
	System    string       `gorm:"not null;default:'tier'" json:"system"` // tier | rank
	Status    RewardStatus `gorm:"not null;default:'PENDING';index" json:"status"`
	Metadata  string       `gorm:"type:jsonb" json:"metadata,omitempty"`
	ExpiresAt time.Time    `gorm:"not null" json:"expires_at"`
	ClaimedAt *time.Time   `json:"claimed_at,omitempty"`
	CreatedAt time.Time    `json:"created_at" gorm:"autoCreateTime"`
}

// ContestTier maps an ascending point threshold to a reward type.
type ContestTier struct {
	Name      string     `json:"name"`
	Threshold int64      `json:"threshold"`
	Reward    RewardType `json:"reward"`
}

// RankPrize is a token amount keyed to a finishing position.
type RankPrize struct {
	Rank   int   `json:"rank"`
	Amount int64 `json:"amount"`
}

// ContestRules is the strongly-typed form of Contest.Rules. It is validated
// once when the contest is created and only parsed afterwards.
type ContestRules struct {
	MinQualifyingPoints int64         `json:"min_qualifying_points"`
	Tiers               []ContestTier `json:"tiers"`       // ascending thresholds
	RankPrizes          []RankPrize   `json:"rank_prizes"` // strictly decreasing amounts
}

// Validate enforces the contest rule schema: tiers strictly ascending with
// valid reward types, rank prizes strictly decreasing by descending rank.
func (r *ContestRules) Validate() error {
	if r.MinQualifyingPoints < 0 {
		return fmt.Errorf("min_qualifying_points must be >= 0, got %d", r.MinQualifyingPoints)
	}
	var prev int64 = -1
	for i, t := range r.Tiers {
		if t.Name == "" {
			return fmt.Errorf("tier %d has no name", i)
		}
		if !t.Reward.Valid() {
			return fmt.Errorf("tier %q has unknown reward type %q", t.Name, t.Reward)
		}
		if t.Threshold <= prev {
			return fmt.Errorf("tier %q threshold %d is not ascending", t.Name, t.Threshold)
		}
		prev = t.Threshold
	}
	for i, p := range r.RankPrizes {
		if p.Rank != i+1 {
			return fmt.Errorf("rank prize %d is out of order (rank %d)", i, p.Rank)
		}
		if i > 0 && p.Amount >= r.RankPrizes[i-1].Amount {
			return fmt.Errorf("rank %d prize %d does not decrease", p.Rank, p.Amount)
		}
		if p.Amount <= 0 {
			return fmt.Errorf("rank %d prize must be positive, got %d", p.Rank, p.Amount)
		}
	}
	return nil
}

// ParseRules decodes the stored rule document. Rules were validated when the
// contest was created, so parse failures here indicate corruption.
func (c *Contest) ParseRules() (*ContestRules, error) {
	var rules ContestRules
	if err := json.Unmarshal([]byte(c.Rules), &rules); err != nil {
		return nil, fmt.Errorf("contest %s has malformed rules: %w", c.ID, err)
	}
	return &rules, nil
}
