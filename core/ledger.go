package core

import "math"

// DefaultXPPerLevel is the experience needed per level on the default curve.
const DefaultXPPerLevel int64 = 100

// MaxScore is the upper bound of a completion score.
const MaxScore = 100

// LevelCurve maps experience to levels with a fixed amount of XP per level.
// Levels are non-decreasing in experience for any positive XPPerLevel.
type LevelCurve struct {
	XPPerLevel int64
}

// DefaultCurve returns the 100-XP-per-level curve.
func DefaultCurve() LevelCurve { return LevelCurve{XPPerLevel: DefaultXPPerLevel} }

func (c LevelCurve) per() int64 {
	if c.XPPerLevel <= 0 {
		return DefaultXPPerLevel
	}
	return c.XPPerLevel
}

// Level computes floor(xp / per) + 1.
func (c LevelCurve) Level(xp int64) int64 {
	if xp <= 0 {
		return 1
	}
	return xp/c.per() + 1
}

// Threshold is the experience at which level+1 starts.
func (c LevelCurve) Threshold(level int64) int64 {
	if level < 1 {
		level = 1
	}
	return level * c.per()
}

// LedgerResult is the outcome of applying a point delta.
type LedgerResult struct {
	NewExperience      int64 `json:"new_experience"`
	NewLevel           int64 `json:"new_level"`
	NextLevelThreshold int64 `json:"next_level_threshold"`
}

// ApplyPoints adds delta to currentExperience and derives the new level.
// Negative inputs are rejected with ErrInvalidInput.
func (c LevelCurve) ApplyPoints(currentExperience, delta int64) (LedgerResult, error) {
	if currentExperience < 0 {
		return LedgerResult{}, NewInputError("experience", "must be non-negative")
	}
	if delta < 0 {
		return LedgerResult{}, NewInputError("delta", "must be non-negative")
	}
	xp, err := AddSafe(currentExperience, delta)
	if err != nil {
		return LedgerResult{}, NewInputError("delta", err.Error())
	}
	lvl := c.Level(xp)
	return LedgerResult{NewExperience: xp, NewLevel: lvl, NextLevelThreshold: c.Threshold(lvl)}, nil
}

// ApplyPoints applies delta on the default curve.
func ApplyPoints(currentExperience, delta int64) (LedgerResult, error) {
	return DefaultCurve().ApplyPoints(currentExperience, delta)
}

// PointsForScore returns floor(score/100 * totalPoints).
func PointsForScore(score int, totalPoints int64) (int64, error) {
	if score < 0 || score > MaxScore {
		return 0, NewInputError("score", "must be between 0 and 100")
	}
	if totalPoints < 0 {
		return 0, NewInputError("total_points", "must be non-negative")
	}
	if totalPoints > math.MaxInt64/MaxScore {
		return 0, NewInputError("total_points", "too large")
	}
	return totalPoints * int64(score) / MaxScore, nil
}
