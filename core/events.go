package core

import (
	"time"

	"github.com/google/uuid"
)

// EventType enumerates domain events.
type EventType string

const (
	EventActivityCompleted    EventType = "activity_completed"
	EventLevelUp              EventType = "level_up"
	EventAchievementUnlocked  EventType = "achievement_unlocked"
	EventRankingsRecalculated EventType = "rankings_recalculated"
	EventPublicationRecorded  EventType = "publication_recorded"
)

// EventTypes lists every event the engine publishes.
var EventTypes = []EventType{
	EventActivityCompleted,
	EventLevelUp,
	EventAchievementUnlocked,
	EventRankingsRecalculated,
	EventPublicationRecorded,
}

// Event represents an immutable domain event.
type Event struct {
	ID          string         `json:"id"`
	Type        EventType      `json:"type"`
	Time        time.Time      `json:"time"`
	UserID      UserID         `json:"user_id,omitempty"`
	ActivityID  ActivityID     `json:"activity_id,omitempty"`
	Period      Period         `json:"period,omitempty"`
	Category    string         `json:"category,omitempty"`
	Delta       int64          `json:"delta,omitempty"`
	Total       int64          `json:"total,omitempty"`
	Level       int64          `json:"level,omitempty"`
	Achievement string         `json:"achievement,omitempty"`
	Count       int            `json:"count,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

func newEvent(typ EventType) Event {
	return Event{ID: uuid.NewString(), Type: typ, Time: time.Now().UTC()}
}

// NewActivityCompleted reports awarded points and the new experience total.
func NewActivityCompleted(user UserID, activity ActivityID, awarded int64, experience int64) Event {
	ev := newEvent(EventActivityCompleted)
	ev.UserID, ev.ActivityID, ev.Delta, ev.Total = user, activity, awarded, experience
	return ev
}

func NewLevelUp(user UserID, level int64) Event {
	ev := newEvent(EventLevelUp)
	ev.UserID, ev.Level = user, level
	return ev
}

func NewAchievementUnlocked(user UserID, p Partition, a Achievement, pointsTotal int64) Event {
	ev := newEvent(EventAchievementUnlocked)
	ev.UserID, ev.Period, ev.Category = user, p.Period, p.Category
	ev.Achievement, ev.Delta, ev.Total = a.Name, a.PointsBonus, pointsTotal
	return ev
}

func NewRankingsRecalculated(p Partition, size int, touched int) Event {
	ev := newEvent(EventRankingsRecalculated)
	ev.Period, ev.Category, ev.Total, ev.Count = p.Period, p.Category, int64(size), touched
	return ev
}

func NewPublicationRecorded(user UserID, category string) Event {
	ev := newEvent(EventPublicationRecorded)
	ev.UserID, ev.Category = user, category
	return ev
}
