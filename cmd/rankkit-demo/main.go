package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"rankkit/analytics"
	"rankkit/api/httpapi"
	"rankkit/core"
	"rankkit/engine"
	"rankkit/gamify"
	"rankkit/realtime"
)

const demoAdminKey = "demo-admin"

func main() {
	// Use readable text logging for development/demo
	textHandler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})
	logger := slog.New(textHandler)
	slog.SetDefault(logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := realtime.NewHub()
	metrics := analytics.NewPrometheus("rankkit_demo")
	activity := analytics.NewActivityMetrics()
	eng := gamify.New(
		gamify.WithRealtime(hub),
		gamify.WithLogger(logger),
		gamify.WithPrometheus(metrics),
		gamify.WithHooks(activity),
		gamify.WithScheduler(30*time.Second),
		gamify.WithServiceOptions(engine.WithAuthorizer(engine.NewKeyAuthorizer([]string{demoAdminKey}))),
	)
	defer eng.Close()

	if err := seed(ctx, eng.Service); err != nil {
		slog.Error("seeding demo data failed", "error", err)
		os.Exit(1)
	}
	eng.Start(ctx)

	mux := http.NewServeMux()
	mux.Handle("/", httpapi.NewMux(eng.Service, hub, httpapi.Options{AllowCORSOrigin: "*", Logger: logger}))
	mux.Handle("GET /metrics", metrics.Handler())
	mux.HandleFunc("GET /activity", func(w http.ResponseWriter, r *http.Request) {
		day := time.Now().UTC().Format(time.DateOnly)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"daily_active_users":%d,"completions":%d,"level_ups":%d}`,
			activity.DailyActiveUsers(day), activity.Completions(day), activity.LevelUps(day))
	})

	slog.Info("starting demo server on :8080", "admin_key", demoAdminKey)

	srv := &http.Server{Addr: ":8080", Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	if err := srv.ListenAndServe(); err != nil {
		slog.Error("demo server crashed", "error", err)
		os.Exit(1)
	}
}

// seed completes a handful of activities so the leaderboard is not empty.
func seed(ctx context.Context, svc *engine.RankingService) error {
	completions := []engine.CompletionRequest{
		{UserID: "ada", ActivityID: "intro-go", Score: 95, TotalPoints: 100, Category: "programming", Language: "Go"},
		{UserID: "ada", ActivityID: "channels", Score: 88, TotalPoints: 80, Category: "programming", Language: "Go"},
		{UserID: "grace", ActivityID: "intro-go", Score: 72, TotalPoints: 100, Category: "programming", Language: "Go"},
		{UserID: "grace", ActivityID: "algebra-1", Score: 100, TotalPoints: 60, Category: "math"},
		{UserID: "linus", ActivityID: "algebra-1", Score: 64, TotalPoints: 60, Category: "math"},
		{UserID: "linus", ActivityID: "intro-rust", Score: 81, TotalPoints: 90, Category: "programming", Language: "Rust"},
	}
	for _, c := range completions {
		if _, err := svc.CompleteActivity(ctx, c); err != nil {
			return fmt.Errorf("seed %s/%s: %w", c.UserID, c.ActivityID, err)
		}
	}
	rating := 4.5
	if err := svc.RecordPublication(ctx, "grace", "math", &rating); err != nil {
		return err
	}
	for _, p := range []core.Period{core.PeriodAllTime, core.PeriodWeekly, core.PeriodMonthly} {
		for _, category := range []string{"", "programming", "math"} {
			if _, err := svc.RecalculateRankings(ctx, engine.Capability(demoAdminKey), p, category); err != nil {
				return err
			}
		}
	}
	return nil
}
