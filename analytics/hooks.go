package analytics

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"rankkit/core"
)

// Hook receives domain events for KPI aggregation.
type Hook interface {
	OnEvent(e core.Event)
}

// Handler adapts a hook to the event bus handler signature.
func Handler(h Hook) func(context.Context, core.Event) {
	return func(_ context.Context, e core.Event) { h.OnEvent(e) }
}

// BridgeHook bridges an event source to multiple hooks.
type BridgeHook struct{ hooks []Hook }

func NewBridge(hooks ...Hook) *BridgeHook { return &BridgeHook{hooks: hooks} }

func (b *BridgeHook) OnEvent(e core.Event) {
	for _, h := range b.hooks {
		h.OnEvent(e)
	}
}

// DAU tracks daily active users, counting users who completed an activity.
type DAU struct {
	mu   sync.Mutex
	days map[string]map[core.UserID]struct{}
}

func NewDAU() *DAU { return &DAU{days: map[string]map[core.UserID]struct{}{}} }

func (d *DAU) OnEvent(e core.Event) {
	if e.Type != core.EventActivityCompleted || e.UserID == "" {
		return
	}
	day := dayKey(e.Time)
	d.mu.Lock()
	defer d.mu.Unlock()
	m := d.days[day]
	if m == nil {
		m = map[core.UserID]struct{}{}
		d.days[day] = m
	}
	m[e.UserID] = struct{}{}
}

func (d *DAU) Count(day string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.days[day])
}

// ActivityMetrics keeps in-process counters of the ranking engine's
// activity: active users per day/week/month, points, level ups and
// achievement unlocks.
type ActivityMetrics struct {
	mu sync.RWMutex

	activeByDay   map[string]map[core.UserID]struct{}
	activeByWeek  map[string]map[core.UserID]struct{}
	activeByMonth map[string]map[core.UserID]struct{}

	pointsByDay       map[string]int64
	completionsByDay  map[string]int64
	levelUpsByDay     map[string]int64
	levelDistribution map[int64]int
	achievements      map[string]int64
	publications      map[string]int64
	recalculations    int64
}

func NewActivityMetrics() *ActivityMetrics {
	return &ActivityMetrics{
		activeByDay:       map[string]map[core.UserID]struct{}{},
		activeByWeek:      map[string]map[core.UserID]struct{}{},
		activeByMonth:     map[string]map[core.UserID]struct{}{},
		pointsByDay:       map[string]int64{},
		completionsByDay:  map[string]int64{},
		levelUpsByDay:     map[string]int64{},
		levelDistribution: map[int64]int{},
		achievements:      map[string]int64{},
		publications:      map[string]int64{},
	}
}

func (m *ActivityMetrics) OnEvent(e core.Event) {
	m.mu.Lock()
	defer m.mu.Unlock()

	day := dayKey(e.Time)
	switch e.Type {
	case core.EventActivityCompleted:
		m.trackActive(e.UserID, e.Time)
		m.completionsByDay[day]++
		if e.Delta > 0 {
			m.pointsByDay[day] += e.Delta
		}
	case core.EventLevelUp:
		m.levelUpsByDay[day]++
		m.levelDistribution[e.Level]++
	case core.EventAchievementUnlocked:
		m.achievements[e.Achievement]++
	case core.EventPublicationRecorded:
		m.trackActive(e.UserID, e.Time)
		m.publications[e.Category]++
	case core.EventRankingsRecalculated:
		m.recalculations++
	}
}

func (m *ActivityMetrics) trackActive(user core.UserID, t time.Time) {
	add := func(set map[string]map[core.UserID]struct{}, key string) {
		if set[key] == nil {
			set[key] = map[core.UserID]struct{}{}
		}
		set[key][user] = struct{}{}
	}
	add(m.activeByDay, dayKey(t))
	add(m.activeByWeek, weekKey(t))
	add(m.activeByMonth, monthKey(t))
}

func (m *ActivityMetrics) DailyActiveUsers(day string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.activeByDay[day])
}

// WeeklyActiveUsers takes an ISO week key such as "2024-W05".
func (m *ActivityMetrics) WeeklyActiveUsers(week string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.activeByWeek[week])
}

func (m *ActivityMetrics) MonthlyActiveUsers(month string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.activeByMonth[month])
}

func (m *ActivityMetrics) PointsAwarded(day string) int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.pointsByDay[day]
}

func (m *ActivityMetrics) Completions(day string) int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.completionsByDay[day]
}

func (m *ActivityMetrics) LevelUps(day string) int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.levelUpsByDay[day]
}

// LevelDistribution returns how many level ups landed on each level.
func (m *ActivityMetrics) LevelDistribution() map[int64]int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[int64]int, len(m.levelDistribution))
	for k, v := range m.levelDistribution {
		out[k] = v
	}
	return out
}

func (m *ActivityMetrics) Recalculations() int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.recalculations
}

// AchievementCount is one row of TopAchievements.
type AchievementCount struct {
	Name  string `json:"name"`
	Count int64  `json:"count"`
}

// TopAchievements returns the most unlocked achievements, most frequent first.
func (m *ActivityMetrics) TopAchievements(limit int) []AchievementCount {
	m.mu.RLock()
	out := make([]AchievementCount, 0, len(m.achievements))
	for name, n := range m.achievements {
		out = append(out, AchievementCount{Name: name, Count: n})
	}
	m.mu.RUnlock()
	slices.SortFunc(out, func(a, b AchievementCount) int {
		if a.Count != b.Count {
			if a.Count > b.Count {
				return -1
			}
			return 1
		}
		return strings.Compare(a.Name, b.Name)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func dayKey(t time.Time) string { return t.UTC().Format("2006-01-02") }

func weekKey(t time.Time) string {
	year, week := t.UTC().ISOWeek()
	return fmt.Sprintf("%d-W%02d", year, week)
}

func monthKey(t time.Time) string { return t.UTC().Format("2006-01") }
