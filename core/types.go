package core

import (
	"errors"
	"math"
	"sort"
	"strings"
	"time"
)

// UserID uniquely identifies a competitor.
type UserID string

// ActivityID uniquely identifies a learnable activity.
type ActivityID string

// UserProfile is the slice of the account record this engine reads and writes.
type UserProfile struct {
	UserID                UserID                  `json:"user_id"`
	Points                int64                   `json:"points"`
	Experience            int64                   `json:"experience"`
	Level                 int64                   `json:"level"`
	ExperienceToNextLevel int64                   `json:"experience_to_next_level"`
	CompletedActivities   map[ActivityID]struct{} `json:"completed_activities"`
	Updated               time.Time               `json:"updated"`
}

// NewUserProfile returns a level-1 profile with no experience.
func NewUserProfile(user UserID) UserProfile {
	return UserProfile{
		UserID:                user,
		Level:                 1,
		ExperienceToNextLevel: DefaultXPPerLevel,
		CompletedActivities:   map[ActivityID]struct{}{},
		Updated:               time.Now().UTC(),
	}
}

// Clone returns a deep copy of the profile.
func (p UserProfile) Clone() UserProfile {
	cp := p
	cp.CompletedActivities = make(map[ActivityID]struct{}, len(p.CompletedActivities))
	for k := range p.CompletedActivities {
		cp.CompletedActivities[k] = struct{}{}
	}
	return cp
}

// Statistics are the per-record activity counters.
type Statistics struct {
	Completions       int64    `json:"completions"`
	Publications      int64    `json:"publications"`
	StudyMinutes      int64    `json:"study_minutes"`
	CurrentStreak     int64    `json:"current_streak"`
	LongestStreak     int64    `json:"longest_streak"`
	MasteredLanguages []string `json:"mastered_languages"`
	AverageRating     float64  `json:"average_rating"`
	Ratings           int64    `json:"ratings"`
	// LastActiveDay is the UTC day of the latest completion, used for streaks.
	LastActiveDay time.Time `json:"last_active_day,omitempty"`
}

// HistoryEntry records one awarded completion on a ranking record.
type HistoryEntry struct {
	ActivityID    ActivityID `json:"activity_id"`
	PointsAwarded int64      `json:"points_awarded"`
	Timestamp     time.Time  `json:"timestamp"`
}

// RankingRecord is one competitor's standing within a partition.
// Position is only authoritative right after a recalculation pass.
type RankingRecord struct {
	UserID       UserID         `json:"user_id"`
	Period       Period         `json:"period"`
	Category     string         `json:"category,omitempty"`
	Position     int            `json:"position"`
	PointsTotal  int64          `json:"points_total"`
	Level        int64          `json:"level"`
	Statistics   Statistics     `json:"statistics"`
	Achievements []Achievement  `json:"achievements"`
	// History keeps the most recent MaxHistory awards of the window.
	History []HistoryEntry `json:"history"`
	// Activities holds every activity applied in the current window and is
	// the record's idempotency key set; it is not capped like History.
	Activities  map[ActivityID]struct{} `json:"activities,omitempty"`
	WindowStart time.Time               `json:"window_start"`
	LastUpdated time.Time               `json:"last_updated"`
}

// MaxHistory caps RankingRecord.History.
const MaxHistory = 100

// NewRankingRecord returns an empty record for user in the keyed partition.
func NewRankingRecord(key RecordKey, position int, now time.Time) RankingRecord {
	return RankingRecord{
		UserID:       key.UserID,
		Period:       key.Partition.Period,
		Category:     key.Partition.Category,
		Position:     position,
		Level:        1,
		Achievements: []Achievement{},
		History:      []HistoryEntry{},
		WindowStart:  key.Partition.Period.WindowStart(now),
		LastUpdated:  now.UTC(),
	}
}

// Key returns the record's storage key.
func (r RankingRecord) Key() RecordKey {
	return RecordKey{UserID: r.UserID, Partition: Partition{Period: r.Period, Category: r.Category}}
}

// Clone returns a deep copy of the record.
func (r RankingRecord) Clone() RankingRecord {
	cp := r
	cp.Statistics.MasteredLanguages = append([]string(nil), r.Statistics.MasteredLanguages...)
	cp.Achievements = append([]Achievement{}, r.Achievements...)
	cp.History = append([]HistoryEntry{}, r.History...)
	if r.Activities != nil {
		cp.Activities = make(map[ActivityID]struct{}, len(r.Activities))
		for k := range r.Activities {
			cp.Activities[k] = struct{}{}
		}
	}
	return cp
}

// HasActivity reports whether the activity was already applied to this record.
// Records written before the activity set existed fall back to their history.
func (r RankingRecord) HasActivity(id ActivityID) bool {
	if r.Activities != nil {
		_, ok := r.Activities[id]
		return ok
	}
	for _, h := range r.History {
		if h.ActivityID == id {
			return true
		}
	}
	return false
}

// CompletionRecord is the immutable proof that a user completed an activity.
type CompletionRecord struct {
	ID               string     `json:"id"`
	UserID           UserID     `json:"user_id"`
	ActivityID       ActivityID `json:"activity_id"`
	Score            int        `json:"score"`
	TimeSpentMinutes int64      `json:"time_spent_minutes"`
	PointsAwarded    int64      `json:"points_awarded"`
	Category         string     `json:"category,omitempty"`
	Language         string     `json:"language,omitempty"`
	CompletedAt      time.Time  `json:"completed_at"`
}

// AddSafe adds delta to base ensuring no signed overflow occurs.
func AddSafe(base int64, delta int64) (int64, error) {
	if (delta > 0 && base > math.MaxInt64-delta) || (delta < 0 && base < math.MinInt64-delta) {
		return 0, errors.New("integer overflow in AddSafe")
	}
	return base + delta, nil
}

// NormalizeUserID trims and lowercases user identifiers.
func NormalizeUserID(id UserID) (UserID, error) {
	s := strings.TrimSpace(string(id))
	if s == "" {
		return "", NewInputError("user_id", "empty user id")
	}
	return UserID(strings.ToLower(s)), nil
}

// NormalizeActivityID trims activity identifiers.
func NormalizeActivityID(id ActivityID) (ActivityID, error) {
	s := strings.TrimSpace(string(id))
	if s == "" {
		return "", NewInputError("activity_id", "empty activity id")
	}
	return ActivityID(s), nil
}

// addLanguage inserts lang into a sorted, de-duplicated list.
func addLanguage(langs []string, lang string) []string {
	lang = strings.ToLower(strings.TrimSpace(lang))
	if lang == "" {
		return langs
	}
	i := sort.SearchStrings(langs, lang)
	if i < len(langs) && langs[i] == lang {
		return langs
	}
	langs = append(langs, "")
	copy(langs[i+1:], langs[i:])
	langs[i] = lang
	return langs
}
