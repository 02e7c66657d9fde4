package analytics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"rankkit/core"
)

// Prometheus exports engine events and recalculation passes as Prometheus
// metrics. It is both an event hook and a recalculation observer.
type Prometheus struct {
	registry *prometheus.Registry

	events         *prometheus.CounterVec
	pointsAwarded  prometheus.Counter
	levelUps       prometheus.Counter
	achievements   *prometheus.CounterVec
	recalcDuration *prometheus.HistogramVec
	recalcTouched  *prometheus.CounterVec
	partitionSize  *prometheus.GaugeVec
}

// PrometheusOption tunes the registry built by NewPrometheus.
type PrometheusOption func(*prometheus.Registry)

// WithSystemCollectors adds the Go runtime and process collectors.
func WithSystemCollectors() PrometheusOption {
	return func(reg *prometheus.Registry) {
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
}

// NewPrometheus registers the rankkit metrics on a fresh registry. An empty
// namespace defaults to "rankkit".
func NewPrometheus(namespace string, opts ...PrometheusOption) *Prometheus {
	if namespace == "" {
		namespace = "rankkit"
	}
	reg := prometheus.NewRegistry()
	for _, opt := range opts {
		opt(reg)
	}
	auto := promauto.With(reg)
	return &Prometheus{
		registry: reg,
		events: auto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "Engine events by type",
		}, []string{"type"}),
		pointsAwarded: auto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "points_awarded_total",
			Help:      "Points awarded by completed activities",
		}),
		levelUps: auto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "level_ups_total",
			Help:      "Level increases across all users",
		}),
		achievements: auto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "achievements_unlocked_total",
			Help:      "Achievement unlocks by achievement name",
		}, []string{"achievement"}),
		recalcDuration: auto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "recalc",
			Name:      "duration_seconds",
			Help:      "Duration of a partition recalculation",
			Buckets:   prometheus.DefBuckets,
		}, []string{"period"}),
		recalcTouched: auto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "recalc",
			Name:      "positions_changed_total",
			Help:      "Positions rewritten by recalculation",
		}, []string{"period"}),
		partitionSize: auto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "recalc",
			Name:      "partition_size",
			Help:      "Records in the partition at its last recalculation",
		}, []string{"period", "category"}),
	}
}

func (p *Prometheus) OnEvent(e core.Event) {
	p.events.WithLabelValues(string(e.Type)).Inc()
	switch e.Type {
	case core.EventActivityCompleted:
		if e.Delta > 0 {
			p.pointsAwarded.Add(float64(e.Delta))
		}
	case core.EventLevelUp:
		p.levelUps.Inc()
	case core.EventAchievementUnlocked:
		p.achievements.WithLabelValues(e.Achievement).Inc()
	}
}

func (p *Prometheus) ObserveRecalculation(part core.Partition, size, touched int, took time.Duration) {
	period := string(part.Period)
	p.recalcDuration.WithLabelValues(period).Observe(took.Seconds())
	p.recalcTouched.WithLabelValues(period).Add(float64(touched))
	p.partitionSize.WithLabelValues(period, part.Category).Set(float64(size))
}

// Registry exposes the underlying registry for custom collectors.
func (p *Prometheus) Registry() *prometheus.Registry { return p.registry }

// Handler serves the metrics in the Prometheus exposition format.
func (p *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}
