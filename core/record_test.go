package core

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var day0 = time.Date(2024, 5, 6, 9, 0, 0, 0, time.UTC) // Monday

func completion(activity string, points int64, at time.Time) CompletionRecord {
	return CompletionRecord{UserID: "u", ActivityID: ActivityID(activity), Score: 100, PointsAwarded: points, CompletedAt: at}
}

func TestApplyToProfileIsIdempotent(t *testing.T) {
	p := NewUserProfile("u")
	res, applied, err := ApplyToProfile(&p, completion("a", 130, day0), DefaultCurve())
	require.NoError(t, err)
	assert.True(t, applied)
	assert.Equal(t, int64(2), res.NewLevel)

	_, applied, err = ApplyToProfile(&p, completion("a", 130, day0), DefaultCurve())
	require.NoError(t, err)
	assert.False(t, applied)
	assert.Equal(t, int64(130), p.Experience)
	assert.Equal(t, int64(130), p.Points)
	assert.Equal(t, int64(200), p.ExperienceToNextLevel)
}

func TestApplyCompletionStatistics(t *testing.T) {
	rec := NewRankingRecord(RecordKey{UserID: "u", Partition: Partition{Period: PeriodAllTime}}, 1, day0)
	c := completion("a", 40, day0)
	c.TimeSpentMinutes, c.Language, c.Score = 25, "Rust", 70
	require.True(t, ApplyCompletion(&rec, c, 3, 0, day0))
	assert.False(t, ApplyCompletion(&rec, c, 3, 0, day0))

	low := completion("b", 10, day0.Add(time.Hour))
	low.Language, low.Score = "go", 69
	require.True(t, ApplyCompletion(&rec, low, 1, 0, day0))

	assert.Equal(t, int64(50), rec.PointsTotal)
	assert.Equal(t, int64(3), rec.Level)
	assert.Equal(t, int64(2), rec.Statistics.Completions)
	assert.Equal(t, int64(25), rec.Statistics.StudyMinutes)
	assert.Equal(t, []string{"rust"}, rec.Statistics.MasteredLanguages)
	assert.Len(t, rec.History, 2)
}

func TestStreaks(t *testing.T) {
	rec := NewRankingRecord(RecordKey{UserID: "u", Partition: Partition{Period: PeriodAllTime}}, 1, day0)
	days := []int{0, 0, 1, 2, 5, 6}
	for i, d := range days {
		ApplyCompletion(&rec, completion(string(rune('a'+i)), 1, day0.AddDate(0, 0, d)), 1, 0, day0)
	}
	assert.Equal(t, int64(2), rec.Statistics.CurrentStreak)
	assert.Equal(t, int64(3), rec.Statistics.LongestStreak)
}

func TestApplyCompletionWindows(t *testing.T) {
	key := RecordKey{UserID: "u", Partition: Partition{Period: PeriodWeekly}}
	rec := NewRankingRecord(key, 1, day0)
	require.True(t, ApplyCompletion(&rec, completion("a", 10, day0), 1, 0, day0))

	nextWeek := day0.AddDate(0, 0, 8)
	require.True(t, ApplyCompletion(&rec, completion("b", 7, nextWeek), 1, 0, nextWeek))
	assert.Equal(t, int64(7), rec.PointsTotal)
	assert.Equal(t, int64(1), rec.Statistics.Completions)

	// a late completion from the previous week is ignored
	assert.False(t, ApplyCompletion(&rec, completion("c", 5, day0), 1, 0, nextWeek))
	assert.Equal(t, int64(7), rec.PointsTotal)

	// an empty record adopts an earlier window
	fresh := NewRankingRecord(key, 1, nextWeek)
	require.True(t, ApplyCompletion(&fresh, completion("a", 3, day0), 1, 0, nextWeek))
	assert.Equal(t, PeriodWeekly.WindowStart(day0), fresh.WindowStart)
}

func TestApplyPublicationAverage(t *testing.T) {
	rec := NewRankingRecord(RecordKey{UserID: "u", Partition: Partition{Period: PeriodAllTime}}, 1, day0)
	five, three := 5.0, 3.0
	require.NoError(t, ApplyPublication(&rec, &five, day0))
	require.NoError(t, ApplyPublication(&rec, nil, day0))
	require.NoError(t, ApplyPublication(&rec, &three, day0))
	bad := 6.0
	assert.ErrorIs(t, ApplyPublication(&rec, &bad, day0), ErrInvalidInput)
	assert.Equal(t, int64(3), rec.Statistics.Publications)
	assert.InDelta(t, 4.0, rec.Statistics.AverageRating, 1e-9)
}

func TestGrantAchievementIdempotent(t *testing.T) {
	rec := NewRankingRecord(RecordKey{UserID: "u", Partition: Partition{Period: PeriodAllTime}}, 1, day0)
	rec.PointsTotal = 100
	a := Achievement{Name: "first-activity", PointsBonus: 10}

	granted, total := GrantAchievement(&rec, a, day0)
	assert.True(t, granted)
	assert.Equal(t, int64(110), total)
	granted, total = GrantAchievement(&rec, a, day0)
	assert.False(t, granted)
	assert.Equal(t, int64(110), total)
	assert.Len(t, rec.Achievements, 1)
	assert.Equal(t, day0, rec.Achievements[0].GrantedAt)
}

func TestDefaultRules(t *testing.T) {
	require.NoError(t, ValidateRules(DefaultAchievementRules()))
	err := ValidateRules([]AchievementRule{LevelReachedRule{Level: 2, Award: Achievement{Name: "bad name"}}})
	assert.ErrorIs(t, err, ErrInvalidInput)

	rec := RankingRecord{Statistics: Statistics{Completions: 5, CurrentStreak: 7, MasteredLanguages: []string{"a", "b", "c"}}}
	profile := UserProfile{Level: 10}
	trigger := NewActivityCompleted("u", "x", 1, 1)
	var names []string
	for _, r := range DefaultAchievementRules() {
		for _, a := range r.Evaluate(context.Background(), rec, profile, trigger) {
			names = append(names, a.Name)
		}
	}
	assert.Equal(t, []string{"first-activity", "five-activities", "level-10", "week-streak", "polyglot"}, names)

	// completion milestones only fire on completions
	none := CompletionMilestoneRule{Count: 1, Award: Achievement{Name: "x"}}.Evaluate(context.Background(), rec, profile, NewLevelUp("u", 2))
	assert.Empty(t, none)
}

func TestErrorsMatchSentinels(t *testing.T) {
	dup := &AlreadyCompletedError{Existing: CompletionRecord{UserID: "u", ActivityID: "a"}}
	assert.True(t, errors.Is(dup, ErrAlreadyCompleted))
	cause := errors.New("conn refused")
	err := StorageError("get record", cause)
	assert.True(t, errors.Is(err, ErrStorageUnavailable))
	assert.True(t, errors.Is(err, cause))
	assert.Nil(t, StorageError("noop", nil))
}

func TestHistoryCapKeepsIdempotency(t *testing.T) {
	rec := NewRankingRecord(RecordKey{UserID: "u", Partition: Partition{Period: PeriodAllTime}}, 1, day0)
	n := MaxHistory + 20
	for i := 0; i < n; i++ {
		require.True(t, ApplyCompletion(&rec, completion(fmt.Sprintf("a%03d", i), 1, day0.Add(time.Duration(i)*time.Minute)), 1, 0, day0))
	}
	require.Len(t, rec.History, MaxHistory)
	assert.Equal(t, ActivityID("a020"), rec.History[0].ActivityID)
	assert.Len(t, rec.Activities, n)
	assert.Equal(t, int64(n), rec.PointsTotal)

	// a000 fell out of History but is still known
	assert.True(t, rec.HasActivity("a000"))
	assert.False(t, ApplyCompletion(&rec, completion("a000", 1, day0), 1, 0, day0))
	assert.Equal(t, int64(n), rec.PointsTotal)

	c := rec.Clone()
	c.Activities["zzz"] = struct{}{}
	assert.False(t, rec.HasActivity("zzz"))
}

func TestRollOver(t *testing.T) {
	rec := NewRankingRecord(RecordKey{UserID: "u", Partition: Partition{Period: PeriodMonthly}}, 4, day0)
	require.True(t, ApplyCompletion(&rec, completion("a", 40, day0), 2, 0, day0))
	rec.Achievements = []Achievement{{Name: "first-activity"}}

	assert.False(t, RollOver(&rec, day0.AddDate(0, 0, 10)))
	assert.Equal(t, int64(40), rec.PointsTotal)

	later := day0.AddDate(0, 2, 0)
	require.True(t, rec.Expired(later))
	require.True(t, RollOver(&rec, later))
	assert.Equal(t, int64(0), rec.PointsTotal)
	assert.Empty(t, rec.History)
	assert.Equal(t, Statistics{}, rec.Statistics)
	assert.Equal(t, PeriodMonthly.WindowStart(later), rec.WindowStart)
	assert.Equal(t, 4, rec.Position)
	assert.Equal(t, int64(2), rec.Level)
	assert.Len(t, rec.Achievements, 1)
	assert.False(t, rec.HasActivity("a"))
	assert.False(t, RollOver(&rec, later))

	all := NewRankingRecord(RecordKey{UserID: "u", Partition: Partition{Period: PeriodAllTime}}, 1, day0)
	assert.False(t, all.Expired(day0.AddDate(5, 0, 0)))
}
