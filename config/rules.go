package config

import (
	"fmt"
	"os"
	"sync"
	"time"

	"social-rewards-system/models"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

// MaxPointsPerAction is the hard cap a single engagement rule may award.
const MaxPointsPerAction = 1000

// EngagementRule holds the point value, cooldown and daily limit for one
// (platform, engagement type) pair.
type EngagementRule struct {
	Points          int64 `yaml:"points"`
	CooldownSeconds int   `yaml:"cooldown_seconds"`
	DailyLimit      int   `yaml:"daily_limit"` // 0 = unlimited
	Disabled        bool  `yaml:"disabled"`
}

// Cooldown returns the rule's cooldown as a duration.
func (r EngagementRule) Cooldown() time.Duration {
	return time.Duration(r.CooldownSeconds) * time.Second
}

// ContestDefaults are contest parameters applied when a new contest does not
// override them: qualification floor, claim window and the rank prize table.
type ContestDefaults struct {
	MinQualifyingPoints int64           `yaml:"min_qualifying_points"`
	ClaimWindowHours    int             `yaml:"claim_window_hours"`
	RankPrizes          []RankPrizeRule `yaml:"rank_prizes"`
}

// RankPrizeRule maps a finishing rank to a token prize amount.
type RankPrizeRule struct {
	Rank   int   `yaml:"rank"`
	Amount int64 `yaml:"amount"`
}

type ruleFile struct {
	Platforms    map[string]map[string]EngagementRule `yaml:"platforms"`
	Contest      ContestDefaults                      `yaml:"contest"`
	Environments map[string]ruleOverlay               `yaml:"environments"`
}

type ruleOverlay struct {
	Platforms map[string]map[string]EngagementRule `yaml:"platforms"`
	Contest   *ContestDefaults                     `yaml:"contest"`
}

// Error is a structured configuration error. Schema failures are fatal at
// startup and are never silently defaulted.
type Error struct {
	CorrelationID string
	Field         string
	Value         string
	Reason        string
}

func (e *Error) Error() string {
	return fmt.Sprintf("config error [%s]: %s=%q %s", e.CorrelationID, e.Field, e.Value, e.Reason)
}

func newError(field string, value interface{}, reason string) *Error {
	return &Error{
		CorrelationID: uuid.NewString(),
		Field:         field,
		Value:         fmt.Sprintf("%v", value),
		Reason:        reason,
	}
}

// Rules is the validated, environment-merged rule table. Accessors are
// read-only; Reload re-runs the identical load+validate path and swaps the
// table atomically, and is refused in production.
type Rules struct {
	mu      sync.RWMutex
	path    string
	env     string
	table   map[models.Platform]map[models.EngagementType]EngagementRule
	contest ContestDefaults
}

// Load reads the rule file at path, merges the overlay for env over the base
// table, and validates the result. It is a fatal startup condition for the
// caller when this returns an error.
func Load(path, env string) (*Rules, error) {
	r := &Rules{path: path, env: env}
	if err := r.load(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Rules) load() error {
	raw, err := os.ReadFile(r.path)
	if err != nil {
		return newError("rules_path", r.path, err.Error())
	}
	var file ruleFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return newError("rules_file", r.path, "invalid YAML: "+err.Error())
	}

	merged := file
	if overlay, ok := file.Environments[r.env]; ok {
		merged = applyOverlay(file, overlay)
	}

	table, err := buildTable(merged.Platforms)
	if err != nil {
		return err
	}
	if err := validateContestDefaults(merged.Contest); err != nil {
		return err
	}

	r.mu.Lock()
	r.table = table
	r.contest = merged.Contest
	r.mu.Unlock()

	log.Info().Str("path", r.path).Str("env", r.env).Msg("engagement rule table loaded")
	return nil
}

func applyOverlay(base ruleFile, overlay ruleOverlay) ruleFile {
	for platform, rules := range overlay.Platforms {
		if base.Platforms == nil {
			base.Platforms = map[string]map[string]EngagementRule{}
		}
		if base.Platforms[platform] == nil {
			base.Platforms[platform] = map[string]EngagementRule{}
		}
		for typ, rule := range rules {
			base.Platforms[platform][typ] = rule
		}
	}
	if overlay.Contest != nil {
		if overlay.Contest.MinQualifyingPoints != 0 {
			base.Contest.MinQualifyingPoints = overlay.Contest.MinQualifyingPoints
		}
		if overlay.Contest.ClaimWindowHours != 0 {
			base.Contest.ClaimWindowHours = overlay.Contest.ClaimWindowHours
		}
		if len(overlay.Contest.RankPrizes) > 0 {
			base.Contest.RankPrizes = overlay.Contest.RankPrizes
		}
	}
	return base
}

func buildTable(platforms map[string]map[string]EngagementRule) (map[models.Platform]map[models.EngagementType]EngagementRule, error) {
	table := make(map[models.Platform]map[models.EngagementType]EngagementRule, len(models.KnownPlatforms))

	for name, rules := range platforms {
		platform := models.Platform(name)
		if !platform.Known() {
			return nil, newError("platforms", name, "unknown platform")
		}
		entry := make(map[models.EngagementType]EngagementRule, len(rules))
		for typ, rule := range rules {
			field := fmt.Sprintf("platforms.%s.%s", name, typ)
			if rule.Points <= 0 {
				return nil, newError(field+".points", rule.Points, "must be positive")
			}
			if rule.Points > MaxPointsPerAction {
				return nil, newError(field+".points", rule.Points, fmt.Sprintf("exceeds cap %d", MaxPointsPerAction))
			}
			if rule.CooldownSeconds < 0 {
				return nil, newError(field+".cooldown_seconds", rule.CooldownSeconds, "must be >= 0")
			}
			if rule.DailyLimit < 0 {
				return nil, newError(field+".daily_limit", rule.DailyLimit, "must be >= 0")
			}
			entry[models.EngagementType(typ)] = rule
		}
		table[platform] = entry
	}

	// A platform absent from the file stays known but fully disabled.
	for _, platform := range models.KnownPlatforms {
		if _, ok := table[platform]; !ok {
			log.Warn().Str("platform", string(platform)).Msg("platform absent from rule file, disabled")
			table[platform] = map[models.EngagementType]EngagementRule{}
		}
	}
	return table, nil
}

func validateContestDefaults(c ContestDefaults) error {
	if c.MinQualifyingPoints < 0 {
		return newError("contest.min_qualifying_points", c.MinQualifyingPoints, "must be >= 0")
	}
	if c.ClaimWindowHours <= 0 {
		return newError("contest.claim_window_hours", c.ClaimWindowHours, "must be positive")
	}
	for i, prize := range c.RankPrizes {
		field := fmt.Sprintf("contest.rank_prizes[%d]", i)
		if prize.Rank != i+1 {
			return newError(field+".rank", prize.Rank, "ranks must be contiguous from 1")
		}
		if prize.Amount <= 0 {
			return newError(field+".amount", prize.Amount, "must be positive")
		}
		if i > 0 && prize.Amount >= c.RankPrizes[i-1].Amount {
			return newError(field+".amount", prize.Amount, "prize amounts must strictly decrease by rank")
		}
	}
	return nil
}

// RuleFor returns the rule for (platform, type). ok is false when the
// platform or type has no enabled rule.
func (r *Rules) RuleFor(platform models.Platform, typ models.EngagementType) (EngagementRule, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rules, ok := r.table[platform]
	if !ok {
		return EngagementRule{}, false
	}
	rule, ok := rules[typ]
	if !ok || rule.Disabled {
		return EngagementRule{}, false
	}
	return rule, true
}

// MinQualifyingPoints is the default contest qualification floor.
func (r *Rules) MinQualifyingPoints() int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.contest.MinQualifyingPoints
}

// ClaimWindow is the fixed claim window applied to distributed rewards.
func (r *Rules) ClaimWindow() time.Duration {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return time.Duration(r.contest.ClaimWindowHours) * time.Hour
}

// RankPrizes returns the default rank prize table as model values.
func (r *Rules) RankPrizes() []models.RankPrize {
	r.mu.RLock()
	defer r.mu.RUnlock()
	prizes := make([]models.RankPrize, len(r.contest.RankPrizes))
	for i, p := range r.contest.RankPrizes {
		prizes[i] = models.RankPrize{Rank: p.Rank, Amount: p.Amount}
	}
	return prizes
}

// Reload re-reads and re-validates the rule file. Refused in production; the
// running table is untouched when validation fails.
func (r *Rules) Reload() error {
	if r.env == "production" {
		return newError("env", r.env, "hot reload is not allowed in production")
	}
	return r.load()
}
