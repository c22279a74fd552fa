package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"social-rewards-system/lock"
	"social-rewards-system/models"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startParams(name string) StartContestParams {
	return StartContestParams{
		Name:    name,
		EndTime: time.Now().UTC().Add(24 * time.Hour),
		Rules:   &models.ContestRules{MinQualifyingPoints: 50, Tiers: defaultTestTiers()},
	}
}

func countByStatus(f *fixture, status models.ContestStatus) int64 {
	var n int64
	f.db.Model(&models.Contest{}).Where("status = ?", status).Count(&n)
	return n
}

func TestStartNewContestIsActive(t *testing.T) {
	f := newFixture(t)

	contest, err := f.contests.StartNewContest(context.Background(), startParams("Genesis Drop"))
	require.NoError(t, err)
	assert.Equal(t, models.ContestStatusActive, contest.Status)
	assert.Equal(t, "genesis-drop", contest.Slug)
}

func TestAtMostOneActiveContest(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for _, name := range []string{"First", "Second", "Third"} {
		_, err := f.contests.StartNewContest(ctx, startParams(name))
		require.NoError(t, err)
	}

	assert.Equal(t, int64(1), countByStatus(f, models.ContestStatusActive))
	assert.Equal(t, int64(2), countByStatus(f, models.ContestStatusCompleted))

	current, err := f.contests.GetCurrentContest(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Third", current.Name)
}

func TestConcurrentStartsLeaveOneActive(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	const starters = 5
	errs := make([]error, starters)
	var wg sync.WaitGroup
	wg.Add(starters)
	for i := 0; i < starters; i++ {
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.contests.StartNewContest(ctx, startParams("Race Drop"))
		}(i)
	}
	wg.Wait()

	// The lifecycle lock serializes the starters; a loser that exhausts its
	// retry budget fails with ErrNotAcquired and creates nothing.
	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
		} else {
			require.ErrorIs(t, err, lock.ErrNotAcquired)
		}
	}
	require.GreaterOrEqual(t, succeeded, 1)

	assert.Equal(t, int64(1), countByStatus(f, models.ContestStatusActive))
	assert.Equal(t, int64(succeeded-1), countByStatus(f, models.ContestStatusCompleted))
}

func TestStartRequiresTiers(t *testing.T) {
	f := newFixture(t)
	_, err := f.contests.StartNewContest(context.Background(), StartContestParams{Name: "No Rules"})
	assert.Error(t, err)
}

func TestFutureStartCreatesUpcoming(t *testing.T) {
	f := newFixture(t)
	params := startParams("Later")
	params.StartTime = time.Now().UTC().Add(2 * time.Hour)

	contest, err := f.contests.StartNewContest(context.Background(), params)
	require.NoError(t, err)
	assert.Equal(t, models.ContestStatusUpcoming, contest.Status)
	assert.Zero(t, countByStatus(f, models.ContestStatusActive))
}

func TestPauseAndResume(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.contests.StartNewContest(ctx, startParams("Drop"))
	require.NoError(t, err)

	require.NoError(t, f.contests.PauseContest(ctx))
	assert.Equal(t, int64(1), countByStatus(f, models.ContestStatusPaused))

	assert.ErrorIs(t, f.contests.PauseContest(ctx), ErrNoActiveContest)

	require.NoError(t, f.contests.ResumeContest(ctx))
	assert.Equal(t, int64(1), countByStatus(f, models.ContestStatusActive))

	assert.ErrorIs(t, f.contests.ResumeContest(ctx), ErrNoPausedContest)
}

func TestEndWithNoContest(t *testing.T) {
	f := newFixture(t)
	_, err := f.contests.EndCurrentContest(context.Background())
	assert.ErrorIs(t, err, ErrNoActiveContest)
}

func (f *fixture) insertEntry(t *testing.T, contestID, userID string, points int64, qualifiedAt *time.Time) models.ContestEntry {
	t.Helper()
	entry := models.ContestEntry{
		ID:          uuid.NewString(),
		ContestID:   contestID,
		UserID:      userID,
		Points:      points,
		QualifiedAt: qualifiedAt,
	}
	require.NoError(t, f.db.Create(&entry).Error)
	return entry
}

func TestEndCurrentContestRanksAndDistributes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	contest, err := f.contests.StartNewContest(ctx, startParams("Ranked Drop"))
	require.NoError(t, err)

	u1 := f.createUser(t, "wallet-1")
	u2 := f.createUser(t, "wallet-2")
	u3 := f.createUser(t, "wallet-3")

	now := time.Now().UTC()
	f.insertEntry(t, contest.ID, u1.ID, 120, &now)
	f.insertEntry(t, contest.ID, u2.ID, 80, &now)
	f.insertEntry(t, contest.ID, u3.ID, 30, nil) // below the qualification floor

	summary, err := f.contests.EndCurrentContest(ctx)
	require.NoError(t, err)

	var completed models.Contest
	require.NoError(t, f.db.First(&completed, "id = ?", contest.ID).Error)
	assert.Equal(t, models.ContestStatusCompleted, completed.Status)

	rankOf := func(userID string) int {
		var entry models.ContestEntry
		require.NoError(t, f.db.Where("contest_id = ? AND user_id = ?", contest.ID, userID).First(&entry).Error)
		require.NotNil(t, entry.Rank)
		return *entry.Rank
	}
	assert.Equal(t, 1, rankOf(u1.ID))
	assert.Equal(t, 2, rankOf(u2.ID))
	assert.Equal(t, 3, rankOf(u3.ID))

	// u1: SILVER tier + rank-1 prize; u2: BRONZE tier + rank-2 prize;
	// u3 is below the floor and receives nothing.
	assert.Equal(t, 4, summary.TotalRewards)
	assert.Equal(t, 2, summary.RankPrizes)
	assert.Equal(t, map[string]int{"SILVER": 1, "BRONZE": 1}, summary.TierCounts)

	var u1Rewards []models.ContestReward
	require.NoError(t, f.db.Where("user_id = ?", u1.ID).Order("system").Find(&u1Rewards).Error)
	require.Len(t, u1Rewards, 2, "tier and rank rewards are independent")
	assert.Equal(t, models.RewardTokenPrize, u1Rewards[0].Type)
	assert.Equal(t, models.RewardSystemRank, u1Rewards[0].System)
	assert.Equal(t, models.RewardFreeMint, u1Rewards[1].Type)
	assert.Equal(t, models.RewardSystemTier, u1Rewards[1].System)

	var u3Rewards int64
	f.db.Model(&models.ContestReward{}).Where("user_id = ?", u3.ID).Count(&u3Rewards)
	assert.Zero(t, u3Rewards)

	var qual models.ContestQualification
	require.NoError(t, f.db.Where("contest_id = ? AND user_id = ?", contest.ID, u1.ID).First(&qual).Error)
	assert.Equal(t, "SILVER", qual.Tier, "highest tier reached, not every tier crossed")
}

func TestRankTieBreaksByEarlierQualification(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	contest, err := f.contests.StartNewContest(ctx, startParams("Tie Drop"))
	require.NoError(t, err)

	u1 := f.createUser(t, "wallet-1")
	u2 := f.createUser(t, "wallet-2")

	earlier := time.Now().UTC().Add(-2 * time.Hour)
	later := time.Now().UTC().Add(-1 * time.Hour)
	f.insertEntry(t, contest.ID, u1.ID, 100, &later)
	f.insertEntry(t, contest.ID, u2.ID, 100, &earlier)

	_, err = f.contests.EndCurrentContest(ctx)
	require.NoError(t, err)

	var first models.ContestEntry
	require.NoError(t, f.db.Where("contest_id = ? AND rank = 1", contest.ID).First(&first).Error)
	assert.Equal(t, u2.ID, first.UserID, "earlier qualification wins the tie")
}

func TestEndRollsBackWhenDistributionFails(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	contest, err := f.contests.StartNewContest(ctx, startParams("Fragile Drop"))
	require.NoError(t, err)

	user := f.createUser(t, "wallet-1")
	now := time.Now().UTC()
	f.insertEntry(t, contest.ID, user.ID, 120, &now)

	// Corrupt the stored rules so distribution fails mid-settlement.
	goodRules := contest.Rules
	require.NoError(t, f.db.Model(&models.Contest{}).Where("id = ?", contest.ID).
		Update("rules", "not json").Error)

	_, err = f.contests.EndCurrentContest(ctx)
	require.Error(t, err)

	// The failed settlement must leave no partial state: the contest is
	// still running, entries are unranked and nothing was paid out.
	var stored models.Contest
	require.NoError(t, f.db.First(&stored, "id = ?", contest.ID).Error)
	assert.Equal(t, models.ContestStatusActive, stored.Status)

	var entry models.ContestEntry
	require.NoError(t, f.db.Where("contest_id = ?", contest.ID).First(&entry).Error)
	assert.Nil(t, entry.Rank)

	var rewardCount int64
	f.db.Model(&models.ContestReward{}).Where("contest_id = ?", contest.ID).Count(&rewardCount)
	assert.Zero(t, rewardCount)

	// Repair the rules and retry: the same end call settles cleanly.
	require.NoError(t, f.db.Model(&models.Contest{}).Where("id = ?", contest.ID).
		Update("rules", goodRules).Error)

	summary, err := f.contests.EndCurrentContest(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.TotalRewards)
}

func TestEndContestByID(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	contest, err := f.contests.StartNewContest(ctx, startParams("Named Drop"))
	require.NoError(t, err)
	require.NoError(t, f.contests.PauseContest(ctx))

	_, err = f.contests.EndContest(ctx, uuid.NewString())
	assert.ErrorIs(t, err, ErrContestNotFound)

	_, err = f.contests.EndContest(ctx, contest.ID)
	require.NoError(t, err)

	var stored models.Contest
	require.NoError(t, f.db.First(&stored, "id = ?", contest.ID).Error)
	assert.Equal(t, models.ContestStatusCompleted, stored.Status)

	// A completed contest is not running and cannot be ended again.
	_, err = f.contests.EndContest(ctx, contest.ID)
	assert.ErrorIs(t, err, ErrNoActiveContest)
}

func TestGetContestLeaderboardOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	contest, err := f.contests.StartNewContest(ctx, startParams("Board Drop"))
	require.NoError(t, err)

	u1 := f.createUser(t, "wallet-1")
	u2 := f.createUser(t, "wallet-2")
	now := time.Now().UTC()
	f.insertEntry(t, contest.ID, u1.ID, 10, nil)
	f.insertEntry(t, contest.ID, u2.ID, 99, &now)

	entries, err := f.contests.GetContestLeaderboard(ctx, contest.ID, 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, u2.ID, entries[0].UserID)

	_, err = f.contests.GetContestLeaderboard(ctx, uuid.NewString(), 10)
	assert.ErrorIs(t, err, ErrContestNotFound)
}
