package engine

import (
	"context"
	"log/slog"
	"time"

	"rankkit/core"
)

// AchievementEngine evaluates achievement rules and persists grants on a
// ranking record. Grants are idempotent by achievement name.
type AchievementEngine struct {
	store RankingStore
	rules []core.AchievementRule
	log   *slog.Logger
	now   func() time.Time
}

func NewAchievementEngine(store RankingStore, logger *slog.Logger, rules ...core.AchievementRule) *AchievementEngine {
	if logger == nil {
		logger = slog.Default()
	}
	return &AchievementEngine{store: store, rules: rules, log: logger, now: time.Now}
}

// Rules returns the configured rule set.
func (a *AchievementEngine) Rules() []core.AchievementRule { return a.rules }

// Grant awards ach on the record at key. granted is false when the record
// already held an achievement with the same name.
func (a *AchievementEngine) Grant(ctx context.Context, key core.RecordKey, ach core.Achievement) (bool, core.RankingRecord, error) {
	if err := core.ValidateAchievement(ach); err != nil {
		return false, core.RankingRecord{}, err
	}
	var granted bool
	rec, err := a.store.UpdateRecord(ctx, key, func(r *core.RankingRecord) error {
		granted, _ = core.GrantAchievement(r, ach, a.now())
		return nil
	})
	if err != nil {
		return false, core.RankingRecord{}, err
	}
	return granted, rec, nil
}

// Evaluate runs every rule against the current record and grants whatever
// they propose in a single atomic update. It returns only the newly granted
// achievements.
func (a *AchievementEngine) Evaluate(ctx context.Context, key core.RecordKey, profile core.UserProfile, trigger core.Event) ([]core.Achievement, core.RankingRecord, error) {
	if len(a.rules) == 0 {
		rec, err := a.store.GetRecord(ctx, key)
		return nil, rec, err
	}
	var unlocked []core.Achievement
	rec, err := a.store.UpdateRecord(ctx, key, func(r *core.RankingRecord) error {
		unlocked = unlocked[:0]
		now := a.now()
		for _, rule := range a.rules {
			for _, ach := range rule.Evaluate(ctx, *r, profile, trigger) {
				if core.ValidateAchievement(ach) != nil {
					continue
				}
				if ok, _ := core.GrantAchievement(r, ach, now); ok {
					unlocked = append(unlocked, r.Achievements[len(r.Achievements)-1])
				}
			}
		}
		return nil
	})
	if err != nil {
		return nil, core.RankingRecord{}, err
	}
	for _, ach := range unlocked {
		a.log.Info("achievement unlocked", "user_id", key.UserID, "achievement", ach.Name, "bonus", ach.PointsBonus)
	}
	return unlocked, rec, nil
}
