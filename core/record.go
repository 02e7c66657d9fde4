package core

import "time"

// DefaultMasteryScore is the minimum score that marks a language as mastered.
const DefaultMasteryScore = 70

// MaxRating bounds publication ratings.
const MaxRating = 5.0

// ApplyToProfile credits a completion to a profile unless the activity was
// already applied. The returned LedgerResult reflects the profile after the call.
func ApplyToProfile(p *UserProfile, c CompletionRecord, curve LevelCurve) (LedgerResult, bool, error) {
	if p.CompletedActivities == nil {
		p.CompletedActivities = map[ActivityID]struct{}{}
	}
	if _, ok := p.CompletedActivities[c.ActivityID]; ok {
		return LedgerResult{NewExperience: p.Experience, NewLevel: p.Level, NextLevelThreshold: p.ExperienceToNextLevel}, false, nil
	}
	res, err := curve.ApplyPoints(p.Experience, c.PointsAwarded)
	if err != nil {
		return LedgerResult{}, false, err
	}
	points, err := AddSafe(p.Points, c.PointsAwarded)
	if err != nil {
		return LedgerResult{}, false, NewInputError("points", err.Error())
	}
	p.Points = points
	p.Experience = res.NewExperience
	p.Level = res.NewLevel
	p.ExperienceToNextLevel = res.NextLevelThreshold
	p.CompletedActivities[c.ActivityID] = struct{}{}
	p.Updated = time.Now().UTC()
	return res, true, nil
}

// Expired reports whether the record's window ended before now. All-time
// records never expire.
func (r RankingRecord) Expired(now time.Time) bool {
	if r.Period == PeriodAllTime || r.Period == "" {
		return false
	}
	return r.WindowStart.Before(r.Period.WindowStart(now))
}

// RollOver moves an expired record into the window containing now, clearing
// its totals, statistics and history. Achievements, level and position are
// kept. It reports whether anything changed.
func RollOver(rec *RankingRecord, now time.Time) bool {
	if !rec.Expired(now) {
		return false
	}
	resetWindow(rec, rec.Period.WindowStart(now))
	rec.LastUpdated = now.UTC()
	return true
}

func resetWindow(rec *RankingRecord, window time.Time) {
	rec.PointsTotal = 0
	rec.Statistics = Statistics{}
	rec.History = []HistoryEntry{}
	rec.Activities = nil
	rec.WindowStart = window
}

func (r RankingRecord) empty() bool {
	return len(r.History) == 0 && len(r.Activities) == 0
}

// ApplyCompletion folds a completion into a ranking record. It is a no-op when
// the activity was already applied in the record's window or when the
// completion belongs to a window the record has already left with awards in
// it. A completion in a newer window first resets the record's totals,
// statistics and history.
func ApplyCompletion(rec *RankingRecord, c CompletionRecord, level int64, masteryScore int, now time.Time) bool {
	window := rec.Period.WindowStart(c.CompletedAt)
	if window.Before(rec.WindowStart) {
		if !rec.empty() {
			return false
		}
		// an empty record adopts the window of its first completion
		rec.WindowStart = window
	}
	if window.After(rec.WindowStart) {
		resetWindow(rec, window)
	}
	if rec.HasActivity(c.ActivityID) {
		return false
	}
	total, err := AddSafe(rec.PointsTotal, c.PointsAwarded)
	if err != nil {
		return false
	}
	rec.PointsTotal = total
	if level > rec.Level {
		rec.Level = level
	}
	st := &rec.Statistics
	st.Completions++
	st.StudyMinutes += c.TimeSpentMinutes
	updateStreak(st, c.CompletedAt)
	if masteryScore <= 0 {
		masteryScore = DefaultMasteryScore
	}
	if c.Language != "" && c.Score >= masteryScore {
		st.MasteredLanguages = addLanguage(st.MasteredLanguages, c.Language)
	}
	if rec.Activities == nil {
		rec.Activities = make(map[ActivityID]struct{}, len(rec.History)+1)
		for _, h := range rec.History {
			rec.Activities[h.ActivityID] = struct{}{}
		}
	}
	rec.Activities[c.ActivityID] = struct{}{}
	rec.History = append(rec.History, HistoryEntry{
		ActivityID:    c.ActivityID,
		PointsAwarded: c.PointsAwarded,
		Timestamp:     c.CompletedAt.UTC(),
	})
	if n := len(rec.History); n > MaxHistory {
		rec.History = append([]HistoryEntry{}, rec.History[n-MaxHistory:]...)
	}
	rec.LastUpdated = now.UTC()
	return true
}

func updateStreak(st *Statistics, at time.Time) {
	at = at.UTC()
	day := time.Date(at.Year(), at.Month(), at.Day(), 0, 0, 0, 0, time.UTC)
	switch {
	case st.LastActiveDay.IsZero():
		st.CurrentStreak = 1
	case day.Equal(st.LastActiveDay):
		// same day, streak unchanged
	case day.Equal(st.LastActiveDay.AddDate(0, 0, 1)):
		st.CurrentStreak++
	case day.After(st.LastActiveDay):
		st.CurrentStreak = 1
	default:
		// out-of-order completion for an earlier day
		return
	}
	st.LastActiveDay = day
	if st.CurrentStreak > st.LongestStreak {
		st.LongestStreak = st.CurrentStreak
	}
}

// ApplyPublication counts a published activity and folds rating into the
// running average. A nil rating only bumps the counter.
func ApplyPublication(rec *RankingRecord, rating *float64, now time.Time) error {
	if rating != nil && (*rating < 0 || *rating > MaxRating) {
		return NewInputError("rating", "must be between 0 and 5")
	}
	rec.Statistics.Publications++
	if rating != nil {
		rec.Statistics.Ratings++
		n := float64(rec.Statistics.Ratings)
		rec.Statistics.AverageRating = (rec.Statistics.AverageRating*(n-1) + *rating) / n
	}
	rec.LastUpdated = now.UTC()
	return nil
}
