package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"rankkit/adapters/jsonfile"
	mem "rankkit/adapters/memory"
	redisAdapter "rankkit/adapters/redis"
	sqlxAdapter "rankkit/adapters/sqlx"
	"rankkit/analytics"
	"rankkit/api/httpapi"
	"rankkit/config"
	"rankkit/core"
	"rankkit/engine"
	"rankkit/gamify"
	"rankkit/integrations/webhook"
	"rankkit/realtime"
)

// App aggregates the assembled server components.
type App struct {
	Config  *config.Config
	Logger  *slog.Logger
	Hub     *realtime.Hub
	Store   engine.Store
	Metrics *analytics.Prometheus
	Engine  *gamify.Engine
	Service *engine.RankingService
	Handler http.Handler
	Server  *http.Server
}

func provideConfig(ctx context.Context) (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if cfg.Environment == config.EnvProduction {
		if err := cfg.LoadSecretsFromEnv(ctx); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

func provideLogger(cfg *config.Config) *slog.Logger {
	return setupLogging(cfg)
}

func provideHub() *realtime.Hub {
	return realtime.NewHub()
}

func provideStorage(ctx context.Context, cfg *config.Config) (engine.Store, error) {
	return setupStorage(ctx, cfg)
}

func provideMetrics(cfg *config.Config) *analytics.Prometheus {
	var opts []analytics.PrometheusOption
	if cfg.Metrics.CollectSystem {
		opts = append(opts, analytics.WithSystemCollectors())
	}
	return analytics.NewPrometheus(cfg.Metrics.Namespace, opts...)
}

func provideEngine(cfg *config.Config, logger *slog.Logger, hub *realtime.Hub, store engine.Store, metrics *analytics.Prometheus) (*gamify.Engine, error) {
	partitions, err := cfg.Ranking.ParsedPartitions()
	if err != nil {
		return nil, err
	}
	mode := engine.DispatchAsync
	if cfg.Ranking.DispatchMode == "sync" {
		mode = engine.DispatchSync
	}
	opts := []gamify.Option{
		gamify.WithStorage(store),
		gamify.WithRealtime(hub),
		gamify.WithDispatchMode(mode),
		gamify.WithLogger(logger),
		gamify.WithPrometheus(metrics),
		gamify.WithScheduler(cfg.Ranking.RecalculateInterval, partitions...),
		gamify.WithServiceOptions(
			engine.WithAuthorizer(engine.NewKeyAuthorizer(cfg.Security.AdminKeys)),
			engine.WithPageSizes(cfg.Ranking.DefaultPageSize, cfg.Ranking.MaxPageSize),
			engine.WithMaxRadius(cfg.Ranking.MaxRadius),
			engine.WithMasteryScore(cfg.Ranking.MasteryScore),
			engine.WithLanguageLimit(cfg.Ranking.TopLanguages),
			engine.WithLevelCurve(core.LevelCurve{XPPerLevel: cfg.Ranking.XPPerLevel}),
		),
	}
	if len(cfg.Webhook.Endpoints) > 0 {
		types := make([]core.EventType, 0, len(cfg.Webhook.Events))
		for _, e := range cfg.Webhook.Events {
			types = append(types, core.EventType(e))
		}
		sink := webhook.New(cfg.Webhook.Endpoints,
			webhook.WithTimeout(cfg.Webhook.Timeout),
			webhook.WithEventTypes(types...),
			webhook.WithLogger(logger),
		)
		opts = append(opts, gamify.WithWebhook(sink))
	}
	return gamify.New(opts...), nil
}

func provideService(eng *gamify.Engine) *engine.RankingService {
	return eng.Service
}

func provideHandler(svc *engine.RankingService, hub *realtime.Hub, cfg *config.Config, logger *slog.Logger) http.Handler {
	return httpapi.NewMux(svc, hub, httpapi.Options{
		PathPrefix:       cfg.Server.PathPrefix,
		AllowCORSOrigin:  cfg.Server.CORSOrigin,
		APIKeys:          cfg.Security.APIKeys,
		RateLimitEnabled: cfg.Security.EnableRateLimit,
		RateLimitRPM:     cfg.Security.RateLimit.RequestsPerMinute,
		RateLimitBurst:   cfg.Security.RateLimit.BurstSize,
		RateLimitCleanup: cfg.Security.RateLimit.CleanupInterval,
		Logger:           logger,
	})
}

func provideServer(cfg *config.Config, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              cfg.Server.Address,
		Handler:           handler,
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
		ReadTimeout:       cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
	}
}

// metricsServer exposes the Prometheus endpoint on its own listener.
func metricsServer(cfg *config.Config, metrics *analytics.Prometheus) *http.Server {
	mux := http.NewServeMux()
	mux.Handle(cfg.Metrics.Path, metrics.Handler())
	return &http.Server{
		Addr:              cfg.Metrics.Address,
		Handler:           mux,
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
	}
}

// setupLogging configures the logger based on configuration.
func setupLogging(cfg *config.Config) *slog.Logger {
	var handler slog.Handler

	opts := &slog.HandlerOptions{
		Level: parseLogLevel(cfg.Logging.Level),
	}

	out := os.Stdout
	if cfg.Logging.Output == "stderr" {
		out = os.Stderr
	}

	switch cfg.Logging.Format {
	case "text":
		handler = slog.NewTextHandler(out, opts)
	default:
		handler = slog.NewJSONHandler(out, opts)
	}

	if len(cfg.Logging.Attributes) > 0 {
		handler = handler.WithAttrs(convertAttributes(cfg.Logging.Attributes))
	}

	logger := slog.New(handler).With("service", "rankkit")
	slog.SetDefault(logger)
	return logger
}

// parseLogLevel converts string log level to slog.Level.
func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// convertAttributes converts map[string]string to []slog.Attr.
func convertAttributes(attrs map[string]string) []slog.Attr {
	var result []slog.Attr
	for k, v := range attrs {
		result = append(result, slog.String(k, v))
	}
	return result
}

// setupStorage creates the appropriate storage adapter based on configuration.
func setupStorage(_ context.Context, cfg *config.Config) (engine.Store, error) {
	switch cfg.Storage.Adapter {
	case "memory":
		return mem.New(), nil
	case "redis":
		return redisAdapter.New(cfg.Storage.Redis)
	case "sql":
		return sqlxAdapter.New(cfg.Storage.SQL)
	case "file":
		return jsonfile.New(cfg.Storage.File.Path)
	default:
		return nil, fmt.Errorf("unknown storage adapter: %s", cfg.Storage.Adapter)
	}
}
