package core

import (
	"context"
	"fmt"
)

// AchievementRule decides which achievements a record has unlocked after a
// trigger event. Rules only propose; granting is idempotent by name.
type AchievementRule interface {
	Evaluate(ctx context.Context, rec RankingRecord, profile UserProfile, trigger Event) []Achievement
}

// RuleFunc adapts a function to AchievementRule.
type RuleFunc func(ctx context.Context, rec RankingRecord, profile UserProfile, trigger Event) []Achievement

func (f RuleFunc) Evaluate(ctx context.Context, rec RankingRecord, profile UserProfile, trigger Event) []Achievement {
	return f(ctx, rec, profile, trigger)
}

// CompletionMilestoneRule unlocks once the record reaches Count completions.
type CompletionMilestoneRule struct {
	Count int64
	Award Achievement
}

func (r CompletionMilestoneRule) Evaluate(_ context.Context, rec RankingRecord, _ UserProfile, trigger Event) []Achievement {
	if trigger.Type != EventActivityCompleted || rec.Statistics.Completions < r.Count {
		return nil
	}
	return []Achievement{r.Award}
}

// LevelReachedRule unlocks when the profile reaches Level.
type LevelReachedRule struct {
	Level int64
	Award Achievement
}

func (r LevelReachedRule) Evaluate(_ context.Context, _ RankingRecord, profile UserProfile, _ Event) []Achievement {
	if profile.Level < r.Level {
		return nil
	}
	return []Achievement{r.Award}
}

// StreakRule unlocks when the current streak reaches Days.
type StreakRule struct {
	Days  int64
	Award Achievement
}

func (r StreakRule) Evaluate(_ context.Context, rec RankingRecord, _ UserProfile, _ Event) []Achievement {
	if rec.Statistics.CurrentStreak < r.Days {
		return nil
	}
	return []Achievement{r.Award}
}

// PolyglotRule unlocks once Count languages are mastered.
type PolyglotRule struct {
	Count int
	Award Achievement
}

func (r PolyglotRule) Evaluate(_ context.Context, rec RankingRecord, _ UserProfile, _ Event) []Achievement {
	if len(rec.Statistics.MasteredLanguages) < r.Count {
		return nil
	}
	return []Achievement{r.Award}
}

// DefaultAchievementRules returns the built-in achievement catalog.
func DefaultAchievementRules() []AchievementRule {
	return []AchievementRule{
		CompletionMilestoneRule{Count: 1, Award: Achievement{Name: "first-activity", Description: "Completed a first activity", Icon: "rocket", PointsBonus: 10}},
		CompletionMilestoneRule{Count: 5, Award: Achievement{Name: "five-activities", Description: "Completed five activities", Icon: "star", PointsBonus: 25}},
		CompletionMilestoneRule{Count: 25, Award: Achievement{Name: "twenty-five-activities", Description: "Completed twenty-five activities", Icon: "trophy", PointsBonus: 100}},
		LevelReachedRule{Level: 10, Award: Achievement{Name: "level-10", Description: "Reached level 10", Icon: "crown", PointsBonus: 50}},
		StreakRule{Days: 7, Award: Achievement{Name: "week-streak", Description: "Studied seven days in a row", Icon: "fire", PointsBonus: 30}},
		PolyglotRule{Count: 3, Award: Achievement{Name: "polyglot", Description: "Mastered three languages", Icon: "globe", PointsBonus: 40}},
	}
}

// ValidateRules rejects catalogs whose awards are malformed.
func ValidateRules(rules []AchievementRule) error {
	for i, r := range rules {
		var a Achievement
		switch v := r.(type) {
		case CompletionMilestoneRule:
			a = v.Award
		case LevelReachedRule:
			a = v.Award
		case StreakRule:
			a = v.Award
		case PolyglotRule:
			a = v.Award
		default:
			continue
		}
		if err := ValidateAchievement(a); err != nil {
			return fmt.Errorf("rule %d: %w", i, err)
		}
	}
	return nil
}
