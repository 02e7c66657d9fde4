package gamify

import (
	"context"
	"log/slog"
	"time"

	"rankkit/adapters/memory"
	"rankkit/analytics"
	"rankkit/core"
	"rankkit/engine"
	"rankkit/integrations/webhook"
	"rankkit/realtime"
)

// Option configures the ranking engine builder.
type Option func(*config)

type config struct {
	storage     engine.Store
	mode        engine.DispatchMode
	hub         *realtime.Hub
	webhook     *webhook.Sink
	hooks       []analytics.Hook
	prom        *analytics.Prometheus
	logger      *slog.Logger
	interval    time.Duration
	partitions  []core.Partition
	serviceOpts []engine.Option
}

// WithStorage sets the persistence adapter.
func WithStorage(s engine.Store) Option { return func(c *config) { c.storage = s } }

// WithDispatchMode selects sync or async event dispatch.
func WithDispatchMode(m engine.DispatchMode) Option { return func(c *config) { c.mode = m } }

// WithRealtime wires a realtime hub to receive all engine events.
func WithRealtime(h *realtime.Hub) Option { return func(c *config) { c.hub = h } }

// WithWebhook forwards all engine events to a webhook sink.
func WithWebhook(s *webhook.Sink) Option { return func(c *config) { c.webhook = s } }

// WithHooks subscribes analytics hooks to all engine events.
func WithHooks(hooks ...analytics.Hook) Option {
	return func(c *config) { c.hooks = append(c.hooks, hooks...) }
}

// WithPrometheus exports events and recalculation passes to p.
func WithPrometheus(p *analytics.Prometheus) Option { return func(c *config) { c.prom = p } }

func WithLogger(l *slog.Logger) Option { return func(c *config) { c.logger = l } }

// WithScheduler enables periodic recalculation of the given partitions (all
// stored partitions when none are given). Zero interval disables the loop.
func WithScheduler(interval time.Duration, partitions ...core.Partition) Option {
	return func(c *config) {
		c.interval = interval
		c.partitions = partitions
	}
}

// WithServiceOptions passes options through to engine.NewRankingService.
func WithServiceOptions(opts ...engine.Option) Option {
	return func(c *config) { c.serviceOpts = append(c.serviceOpts, opts...) }
}

// Engine bundles the service with the event bus and scheduler it owns.
type Engine struct {
	Service   *engine.RankingService
	Bus       *engine.EventBus
	Scheduler *engine.Scheduler
}

// Start runs the recalculation scheduler until Close or ctx is done.
func (e *Engine) Start(ctx context.Context) { e.Scheduler.Start(ctx) }

// Close stops the scheduler and drains the event bus.
func (e *Engine) Close() {
	e.Scheduler.Stop()
	e.Bus.Close()
}

// New builds a configured ranking engine. If not provided, defaults are used:
//   - storage: in-memory
//   - dispatch: async
//   - scheduler: disabled
func New(opts ...Option) *Engine {
	cfg := &config{mode: engine.DispatchAsync}
	for _, o := range opts {
		o(cfg)
	}
	if cfg.storage == nil {
		cfg.storage = memory.New()
	}
	if cfg.logger == nil {
		cfg.logger = slog.Default()
	}
	bus := engine.NewEventBus(cfg.mode)

	svcOpts := []engine.Option{engine.WithPublisher(bus), engine.WithLogger(cfg.logger)}
	if cfg.prom != nil {
		svcOpts = append(svcOpts, engine.WithRecalcObserver(cfg.prom))
		cfg.hooks = append(cfg.hooks, cfg.prom)
	}
	svc := engine.NewRankingService(cfg.storage, append(svcOpts, cfg.serviceOpts...)...)

	if cfg.hub != nil {
		bus.SubscribeAll(cfg.hub.Broadcast)
	}
	if cfg.webhook != nil {
		bus.SubscribeAll(cfg.webhook.Handle)
	}
	if len(cfg.hooks) > 0 {
		bus.SubscribeAll(analytics.Handler(analytics.NewBridge(cfg.hooks...)))
	}

	sched := engine.NewScheduler(svc.Recalculator(), cfg.storage, cfg.interval, cfg.logger, cfg.partitions...)
	return &Engine{Service: svc, Bus: bus, Scheduler: sched}
}
