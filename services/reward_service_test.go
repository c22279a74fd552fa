package services

import (
	"context"
	"testing"
	"time"

	"social-rewards-system/models"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// completedContest inserts a COMPLETED contest with ranked entries, bypassing
// the lifecycle service so distribution can be exercised in isolation.
func (f *fixture) completedContest(t *testing.T, entries ...models.ContestEntry) *models.Contest {
	t.Helper()
	rules := models.ContestRules{
		MinQualifyingPoints: 50,
		Tiers:               defaultTestTiers(),
		RankPrizes: []models.RankPrize{
			{Rank: 1, Amount: 500},
			{Rank: 2, Amount: 300},
		},
	}
	contest := newContestRow(t, f, "Settled Drop", models.ContestStatusCompleted, &rules)
	for i := range entries {
		entries[i].ID = uuid.NewString()
		entries[i].ContestID = contest.ID
		require.NoError(t, f.db.Create(&entries[i]).Error)
	}
	return contest
}

func intPtr(n int) *int { return &n }

func TestDistributeHighestTierWins(t *testing.T) {
	f := newFixture(t)
	user := f.createUser(t, "wallet-1")

	// 120 points crosses both thresholds; only SILVER pays out.
	contest := f.completedContest(t, models.ContestEntry{UserID: user.ID, Points: 120, Rank: intPtr(5)})

	summary, err := f.rewards.DistributeRewards(context.Background(), contest.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.TotalRewards)
	assert.Equal(t, map[string]int{"SILVER": 1}, summary.TierCounts)
	assert.Zero(t, summary.RankPrizes)

	var reward models.ContestReward
	require.NoError(t, f.db.Where("user_id = ?", user.ID).First(&reward).Error)
	assert.Equal(t, models.RewardFreeMint, reward.Type)
	assert.Equal(t, models.RewardSystemTier, reward.System)
	assert.Equal(t, models.RewardStatusPending, reward.Status)
	assert.WithinDuration(t, time.Now().UTC().Add(168*time.Hour), reward.ExpiresAt, time.Minute)
}

func TestDistributeDualAward(t *testing.T) {
	f := newFixture(t)
	user := f.createUser(t, "wallet-1")

	contest := f.completedContest(t, models.ContestEntry{UserID: user.ID, Points: 200, Rank: intPtr(1)})

	summary, err := f.rewards.DistributeRewards(context.Background(), contest.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.TotalRewards)
	assert.Equal(t, 1, summary.RankPrizes)

	var rewards []models.ContestReward
	require.NoError(t, f.db.Where("user_id = ?", user.ID).Order("system").Find(&rewards).Error)
	require.Len(t, rewards, 2)
	assert.Equal(t, models.RewardSystemRank, rewards[0].System)
	assert.Equal(t, models.RewardTokenPrize, rewards[0].Type)
	assert.Equal(t, models.RewardSystemTier, rewards[1].System)
}

func TestDistributeSkipsBelowFloor(t *testing.T) {
	f := newFixture(t)
	user := f.createUser(t, "wallet-1")

	// Rank 1 but under the qualification floor: no prize, no tier.
	contest := f.completedContest(t, models.ContestEntry{UserID: user.ID, Points: 30, Rank: intPtr(1)})

	summary, err := f.rewards.DistributeRewards(context.Background(), contest.ID)
	require.NoError(t, err)
	assert.Zero(t, summary.TotalRewards)
}

func TestDistributeIsIdempotent(t *testing.T) {
	f := newFixture(t)
	user := f.createUser(t, "wallet-1")
	contest := f.completedContest(t, models.ContestEntry{UserID: user.ID, Points: 200, Rank: intPtr(1)})
	ctx := context.Background()

	_, err := f.rewards.DistributeRewards(ctx, contest.ID)
	require.NoError(t, err)

	var before int64
	f.db.Model(&models.ContestReward{}).Where("contest_id = ?", contest.ID).Count(&before)

	_, err = f.rewards.DistributeRewards(ctx, contest.ID)
	assert.ErrorIs(t, err, ErrRewardsAlreadyDistributed)

	var after int64
	f.db.Model(&models.ContestReward{}).Where("contest_id = ?", contest.ID).Count(&after)
	assert.Equal(t, before, after, "second call must create zero rows")
}

func TestDistributeRequiresCompletedContest(t *testing.T) {
	f := newFixture(t)
	contest := newContestRow(t, f, "Still Running", models.ContestStatusActive, &models.ContestRules{
		MinQualifyingPoints: 50,
		Tiers:               defaultTestTiers(),
	})

	_, err := f.rewards.DistributeRewards(context.Background(), contest.ID)
	assert.ErrorIs(t, err, ErrContestNotCompleted)

	_, err = f.rewards.DistributeRewards(context.Background(), uuid.NewString())
	assert.ErrorIs(t, err, ErrContestNotFound)
}

func (f *fixture) pendingReward(t *testing.T, userID string, expiresAt time.Time) *models.ContestReward {
	t.Helper()
	reward := &models.ContestReward{
		ID:        uuid.NewString(),
		ContestID: uuid.NewString(),
		UserID:    userID,
		Type:      models.RewardWhitelist,
		System:    models.RewardSystemTier,
		Status:    models.RewardStatusPending,
		ExpiresAt: expiresAt,
	}
	require.NoError(t, f.db.Create(reward).Error)
	return reward
}

func TestClaimReward(t *testing.T) {
	f := newFixture(t)
	user := f.createUser(t, "wallet-1")
	reward := f.pendingReward(t, user.ID, time.Now().UTC().Add(time.Hour))

	claimed, err := f.rewards.ClaimReward(context.Background(), reward.ID, user.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RewardStatusClaimed, claimed.Status)
	require.NotNil(t, claimed.ClaimedAt)

	_, err = f.rewards.ClaimReward(context.Background(), reward.ID, user.ID)
	assert.ErrorIs(t, err, ErrRewardAlreadyClaimed)
}

func TestClaimRewardNotOwner(t *testing.T) {
	f := newFixture(t)
	owner := f.createUser(t, "wallet-1")
	other := f.createUser(t, "wallet-2")
	reward := f.pendingReward(t, owner.ID, time.Now().UTC().Add(time.Hour))

	_, err := f.rewards.ClaimReward(context.Background(), reward.ID, other.ID)
	assert.ErrorIs(t, err, ErrRewardNotOwner)

	var stored models.ContestReward
	require.NoError(t, f.db.First(&stored, "id = ?", reward.ID).Error)
	assert.Equal(t, models.RewardStatusPending, stored.Status)
}

func TestClaimRewardExpired(t *testing.T) {
	f := newFixture(t)
	user := f.createUser(t, "wallet-1")
	reward := f.pendingReward(t, user.ID, time.Now().UTC().Add(-time.Hour))

	_, err := f.rewards.ClaimReward(context.Background(), reward.ID, user.ID)
	assert.ErrorIs(t, err, ErrRewardExpired)

	// The failed claim flips the row so later reads agree.
	var stored models.ContestReward
	require.NoError(t, f.db.First(&stored, "id = ?", reward.ID).Error)
	assert.Equal(t, models.RewardStatusExpired, stored.Status)
}

func TestClaimRewardNotFound(t *testing.T) {
	f := newFixture(t)
	user := f.createUser(t, "wallet-1")

	_, err := f.rewards.ClaimReward(context.Background(), uuid.NewString(), user.ID)
	assert.ErrorIs(t, err, ErrRewardNotFound)
}

func TestExpireOverdue(t *testing.T) {
	f := newFixture(t)
	user := f.createUser(t, "wallet-1")
	overdue := f.pendingReward(t, user.ID, time.Now().UTC().Add(-time.Minute))
	fresh := f.pendingReward(t, user.ID, time.Now().UTC().Add(time.Hour))

	n, err := f.rewards.ExpireOverdue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	var stored models.ContestReward
	require.NoError(t, f.db.First(&stored, "id = ?", overdue.ID).Error)
	assert.Equal(t, models.RewardStatusExpired, stored.Status)
	require.NoError(t, f.db.First(&stored, "id = ?", fresh.ID).Error)
	assert.Equal(t, models.RewardStatusPending, stored.Status)
}

func TestGetContestRewards(t *testing.T) {
	f := newFixture(t)
	user := f.createUser(t, "wallet-1")
	f.pendingReward(t, user.ID, time.Now().UTC().Add(time.Hour))
	f.pendingReward(t, user.ID, time.Now().UTC().Add(time.Hour))

	rewards, err := f.rewards.GetContestRewards(context.Background(), user.ID)
	require.NoError(t, err)
	assert.Len(t, rewards, 2)
}
