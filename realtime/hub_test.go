package realtime

import (
	"context"
	"encoding/json"
	"testing"

	"rankkit/core"
)

func TestHubSubscribeBroadcastUnsubscribe(t *testing.T) {
	h := NewHub()
	id, ch := h.Subscribe(1)

	ev := core.NewActivityCompleted("bob", "a1", 10, 10)
	h.Broadcast(context.Background(), ev)

	received := <-ch
	if received.UserID != "bob" || received.Type != core.EventActivityCompleted {
		t.Fatalf("unexpected event: %+v", received)
	}

	h.Unsubscribe(id)
	_, ok := <-ch
	if ok {
		t.Fatal("expected channel closed after unsubscribe")
	}
	if h.Subscribers() != 0 {
		t.Fatalf("expected no subscribers, got %d", h.Subscribers())
	}
}

func TestHubFilterAndDrop(t *testing.T) {
	h := NewHub()
	_, mine := h.SubscribeFiltered(1, Filter{UserID: "alice", Types: []core.EventType{core.EventLevelUp}})

	h.Broadcast(context.Background(), core.NewLevelUp("bob", 2))
	h.Broadcast(context.Background(), core.NewActivityCompleted("alice", "a1", 5, 5))
	h.Broadcast(context.Background(), core.NewLevelUp("alice", 2))
	h.Broadcast(context.Background(), core.NewLevelUp("alice", 3)) // buffer full

	got := <-mine
	if got.UserID != "alice" || got.Level != 2 {
		t.Fatalf("unexpected event: %+v", got)
	}
	select {
	case ev := <-mine:
		t.Fatalf("unexpected extra event: %+v", ev)
	default:
	}
	if h.Dropped() != 1 {
		t.Fatalf("expected 1 dropped, got %d", h.Dropped())
	}
}

func TestMarshalJSON(t *testing.T) {
	ev := core.NewAchievementUnlocked("alice", core.Partition{Period: core.PeriodAllTime}, core.Achievement{Name: "first-activity", PointsBonus: 10}, 60)
	b := MarshalJSON(ev)
	var out core.Event
	if err := json.Unmarshal(b, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if out.Achievement != "first-activity" || out.Total != 60 {
		t.Fatalf("unexpected event: %+v", out)
	}
}
