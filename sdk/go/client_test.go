package sdk

import (
	"context"
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	mem "rankkit/adapters/memory"
	"rankkit/api/httpapi"
	"rankkit/core"
	"rankkit/engine"
	"rankkit/realtime"
)

const testAdminKey = "admin"

// newTestServer serves the real API over an in-memory store with synchronous events.
func newTestServer(t *testing.T) (*httptest.Server, *realtime.Hub) {
	t.Helper()
	hub := realtime.NewHub()
	bus := engine.NewEventBus(engine.DispatchSync)
	bus.SubscribeAll(hub.Broadcast)
	svc := engine.NewRankingService(mem.New(),
		engine.WithPublisher(bus),
		engine.WithAuthorizer(engine.NewKeyAuthorizer([]string{testAdminKey})),
	)
	srv := httptest.NewServer(httpapi.NewMux(svc, hub, httpapi.Options{PathPrefix: "/api", APIKeys: []string{"k1"}}))
	t.Cleanup(srv.Close)
	return srv, hub
}

func TestClient_CompleteProfileAndHealth(t *testing.T) {
	srv, _ := newTestServer(t)

	client, err := NewClient(srv.URL+"/api", WithAPIKey("k1"))
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	ctx := context.Background()

	res, err := client.CompleteActivity(ctx, "alice", "a1", Completion{Score: 80, TotalPoints: 50, Language: "Go"})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if res.PointsAwarded != 40 || res.NewLevel != 1 {
		t.Fatalf("unexpected result: %+v", res)
	}

	_, err = client.CompleteActivity(ctx, "alice", "a1", Completion{Score: 100, TotalPoints: 50})
	if !errors.Is(err, core.ErrAlreadyCompleted) {
		t.Fatalf("expected already completed, got %v", err)
	}
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != 409 {
		t.Fatalf("expected APIError 409, got %v", err)
	}

	profile, err := client.GetProfile(ctx, "alice")
	if err != nil {
		t.Fatalf("get profile: %v", err)
	}
	if profile.Experience != 40 {
		t.Fatalf("unexpected profile: %+v", profile)
	}

	if _, err := client.GetProfile(ctx, "ghost"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, err := client.GetProfile(ctx, " "); !errors.Is(err, ErrEmptyUserID) {
		t.Fatalf("expected empty user id error, got %v", err)
	}

	health, err := client.Health(ctx)
	if err != nil || health.Status != "healthy" {
		t.Fatalf("health: %+v err=%v", health, err)
	}
}

func TestClient_LeaderboardAndRecalculate(t *testing.T) {
	srv, _ := newTestServer(t)
	ctx := context.Background()

	admin, err := NewClient(srv.URL+"/api/", WithAPIKey("k1"), WithAdminKey(testAdminKey))
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	for user, score := range map[string]int{"amy": 100, "bob": 50, "cat": 80} {
		if _, err := admin.CompleteActivity(ctx, user, "quiz", Completion{Score: score, TotalPoints: 100, Category: "math"}); err != nil {
			t.Fatalf("complete %s: %v", user, err)
		}
	}
	rating := 4.0
	if err := admin.RecordPublication(ctx, "bob", "math", &rating); err != nil {
		t.Fatalf("publication: %v", err)
	}

	math := Partition{Period: core.PeriodAllTime, Category: "math"}
	if _, err := admin.Recalculate(ctx, math); err != nil {
		t.Fatalf("recalculate: %v", err)
	}

	page, err := admin.Leaderboard(ctx, math, 1, 2)
	if err != nil {
		t.Fatalf("leaderboard: %v", err)
	}
	if page.Total != 3 || len(page.Records) != 2 || !page.HasNext {
		t.Fatalf("unexpected page: %+v", page)
	}
	if page.Records[0].UserID != "amy" || page.Records[1].UserID != "cat" {
		t.Fatalf("unexpected order: %s, %s", page.Records[0].UserID, page.Records[1].UserID)
	}

	ranking, err := admin.GetRanking(ctx, "bob", math)
	if err != nil {
		t.Fatalf("ranking: %v", err)
	}
	if ranking.Record.Position != 3 || ranking.Record.Statistics.Publications != 1 {
		t.Fatalf("unexpected ranking: %+v", ranking.Record)
	}

	around, err := admin.GetNeighbors(ctx, "amy", math, 1)
	if err != nil || len(around) != 2 {
		t.Fatalf("neighbors: %v err=%v", around, err)
	}

	hist, err := admin.GetHistory(ctx, "cat", math, 5)
	if err != nil || len(hist.Entries) != 1 {
		t.Fatalf("history: %+v err=%v", hist, err)
	}

	st, err := admin.Stats(ctx, math)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if st.Count != 3 || st.TopScorer == nil || st.TopScorer.UserID != "amy" {
		t.Fatalf("unexpected stats: %+v", st)
	}

	plain, _ := NewClient(srv.URL+"/api", WithAPIKey("k1"))
	if _, err := plain.Recalculate(ctx, math); !errors.Is(err, core.ErrUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
}

func TestClient_SubscribeEvents(t *testing.T) {
	srv, hub := newTestServer(t)

	client, err := NewClient(srv.URL+"/api", WithAuthToken("k1"))
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	events, err := client.SubscribeEvents(ctx, "alice", core.EventLevelUp)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	for hub.Subscribers() == 0 {
		select {
		case <-ctx.Done():
			t.Fatal("timed out waiting for subscription")
		case <-time.After(5 * time.Millisecond):
		}
	}

	if _, err := client.CompleteActivity(ctx, "bob", "a1", Completion{Score: 100, TotalPoints: 200}); err != nil {
		t.Fatalf("complete bob: %v", err)
	}
	if _, err := client.CompleteActivity(ctx, "alice", "a1", Completion{Score: 100, TotalPoints: 200}); err != nil {
		t.Fatalf("complete alice: %v", err)
	}

	select {
	case evt := <-events:
		if evt.Type != core.EventLevelUp || evt.UserID != "alice" {
			t.Fatalf("unexpected event: %+v", evt)
		}
	case <-ctx.Done():
		t.Fatal("timed out waiting for event")
	}
}

func TestDeriveWSURL(t *testing.T) {
	cases := map[string]string{
		"http://localhost:8080/api": "ws://localhost:8080/api/ws",
		"https://rank.example/":     "wss://rank.example/ws",
		"https://rank.example/v1/":  "wss://rank.example/v1/ws",
	}
	for in, want := range cases {
		if got := deriveWSURL(in); got != want {
			t.Errorf("deriveWSURL(%q) = %q, want %q", in, got, want)
		}
	}
}
