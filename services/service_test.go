package services

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"social-rewards-system/config"
	"social-rewards-system/lock"
	"social-rewards-system/models"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/gosimple/slug"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

const testRules = `
platforms:
  TELEGRAM:
    MUSIC_SHARE:
      points: 5
      cooldown_seconds: 60
      daily_limit: 10
    CHAT_MESSAGE:
      points: 1
      cooldown_seconds: 0
      daily_limit: 0
  DISCORD:
    REACTION:
      points: 2
      cooldown_seconds: 0
      daily_limit: 3
contest:
  min_qualifying_points: 50
  claim_window_hours: 168
  rank_prizes:
    - { rank: 1, amount: 500 }
    - { rank: 2, amount: 300 }
    - { rank: 3, amount: 200 }
`

type fixture struct {
	db           *gorm.DB
	rules        *config.Rules
	locks        *lock.Manager
	engagement   *EngagementService
	contests     *ContestService
	rewards      *RewardService
	verification *VerificationService
	stats        *StatsService
}

func setupDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{TranslateError: true})
	require.NoError(t, err)

	// Shared-cache sqlite returns table-lock errors under concurrent writers;
	// a single connection serializes them the way postgres row locks would.
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, db.AutoMigrate(
		&models.User{},
		&models.Engagement{},
		&models.PointTransaction{},
		&models.Contest{},
		&models.ContestEntry{},
		&models.ContestQualification{},
		&models.ContestReward{},
		&models.VerificationCode{},
		&models.PlatformLink{},
	))
	return db
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := setupDB(t)

	rulesPath := filepath.Join(t.TempDir(), "rules.yaml")
	require.NoError(t, os.WriteFile(rulesPath, []byte(testRules), 0o644))
	rules, err := config.Load(rulesPath, "test")
	require.NoError(t, err)

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	locks := lock.NewManager(rdb)

	rewards := NewRewardService(db, rules, nil)
	return &fixture{
		db:           db,
		rules:        rules,
		locks:        locks,
		engagement:   NewEngagementService(db, rules),
		contests:     NewContestService(db, locks, rules, rewards),
		rewards:      rewards,
		verification: NewVerificationService(db),
		stats:        NewStatsService(db),
	}
}

func (f *fixture) createUser(t *testing.T, wallet string) *models.User {
	t.Helper()
	user := &models.User{ID: uuid.NewString(), WalletAddress: wallet, Username: wallet}
	require.NoError(t, f.db.Create(user).Error)
	return user
}

func defaultTestTiers() []models.ContestTier {
	return []models.ContestTier{
		{Name: "BRONZE", Threshold: 50, Reward: models.RewardWhitelist},
		{Name: "SILVER", Threshold: 100, Reward: models.RewardFreeMint},
	}
}

// newContestRow inserts a contest row directly, skipping the lifecycle
// service, so tests can set up any status they need.
func newContestRow(t *testing.T, f *fixture, name string, status models.ContestStatus, rules *models.ContestRules) *models.Contest {
	t.Helper()
	rulesJSON, err := json.Marshal(rules)
	require.NoError(t, err)
	contest := &models.Contest{
		ID:        uuid.NewString(),
		Name:      name,
		Slug:      slug.Make(name),
		StartTime: time.Now().UTC().Add(-time.Hour),
		EndTime:   time.Now().UTC().Add(time.Hour),
		Status:    status,
		Rules:     string(rulesJSON),
	}
	require.NoError(t, f.db.Create(contest).Error)
	return contest
}
