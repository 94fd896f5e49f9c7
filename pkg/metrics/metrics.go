// Package metrics provides metrics collection capabilities for the agent.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all the metrics collectors for the agent.
type Metrics struct {
	// Registry is the Prometheus registry for all metrics.
	Registry *prometheus.Registry

	// Socket endpoint metrics
	ConnectionsOpen  prometheus.Gauge
	ConnectionsTotal prometheus.Counter
	CommandCount     *prometheus.CounterVec
	CommandDuration  *prometheus.HistogramVec

	// Transaction queue metrics
	QueueDepth       prometheus.Gauge
	SubmissionsTotal prometheus.Counter
	BroadcastCount   *prometheus.CounterVec
	ConfirmLatency   prometheus.Histogram
	TrackedNonce     prometheus.Gauge
}

// Config holds the configuration for metrics.
type Config struct {
	// Namespace is the Prometheus namespace for all metrics.
	Namespace string
}

// DefaultConfig returns a default metrics configuration.
func DefaultConfig() Config {
	return Config{Namespace: "agentd"}
}

// New creates a new metrics collector with the given configuration.
func New(cfg Config) *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Metrics{
		Registry: registry,

		ConnectionsOpen: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: cfg.Namespace,
				Subsystem: "socket",
				Name:      "connections_open",
				Help:      "Current number of open socket connections",
			},
		),

		ConnectionsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: "socket",
				Name:      "connections_total",
				Help:      "Total number of accepted socket connections",
			},
		),

		CommandCount: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: "command",
				Name:      "total",
				Help:      "Total number of dispatched commands",
			},
			[]string{"namespace", "verb", "status"},
		),

		CommandDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: cfg.Namespace,
				Subsystem: "command",
				Name:      "duration_seconds",
				Help:      "Command dispatch duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"namespace", "verb"},
		),

		QueueDepth: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: cfg.Namespace,
				Subsystem: "txqueue",
				Name:      "depth",
				Help:      "Number of transactions waiting in the submission queue",
			},
		),

		SubmissionsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: "txqueue",
				Name:      "submissions_total",
				Help:      "Total number of transaction submissions",
			},
		),

		BroadcastCount: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: "txqueue",
				Name:      "broadcasts_total",
				Help:      "Total number of broadcasts by result",
			},
			[]string{"result"},
		),

		ConfirmLatency: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: cfg.Namespace,
				Subsystem: "txqueue",
				Name:      "confirm_latency_seconds",
				Help:      "Time from broadcast to terminal confirmation status",
				Buckets:   prometheus.DefBuckets,
			},
		),

		TrackedNonce: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: cfg.Namespace,
				Subsystem: "txqueue",
				Name:      "tracked_nonce",
				Help:      "Current locally tracked signer nonce",
			},
		),
	}
}

// Handler returns an HTTP handler exposing the registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}
