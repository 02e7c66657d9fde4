package core

import (
	"strings"
	"time"
)

// Achievement is a named award held at most once per ranking record.
type Achievement struct {
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Icon        string    `json:"icon"`
	PointsBonus int64     `json:"points_bonus"`
	GrantedAt   time.Time `json:"granted_at"`
}

// ValidateAchievement checks the name charset and a non-negative bonus.
func ValidateAchievement(a Achievement) error {
	s := strings.TrimSpace(a.Name)
	if s == "" {
		return NewInputError("achievement", "empty name")
	}
	// simple check: alnum, dash, underscore
	for _, r := range s {
		if r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || r == '-' || r == '_' {
			continue
		}
		return NewInputError("achievement", "invalid name")
	}
	if a.PointsBonus < 0 {
		return NewInputError("points_bonus", "must be non-negative")
	}
	return nil
}

// HasAchievement reports whether the record already holds name.
func (r RankingRecord) HasAchievement(name string) bool {
	for _, a := range r.Achievements {
		if a.Name == name {
			return true
		}
	}
	return false
}

// GrantAchievement appends a to rec unless an achievement with the same name
// is held, in which case rec is left untouched.
func GrantAchievement(rec *RankingRecord, a Achievement, now time.Time) (granted bool, newPointsTotal int64) {
	if rec.HasAchievement(a.Name) {
		return false, rec.PointsTotal
	}
	total, err := AddSafe(rec.PointsTotal, a.PointsBonus)
	if err != nil {
		return false, rec.PointsTotal
	}
	a.GrantedAt = now.UTC()
	rec.Achievements = append(rec.Achievements, a)
	rec.PointsTotal = total
	rec.LastUpdated = now.UTC()
	return true, rec.PointsTotal
}
