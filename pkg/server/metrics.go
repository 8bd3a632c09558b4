package server

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// MetricsConfig configures the Prometheus collectors.
type MetricsConfig struct {
	// Namespace prefixes every metric name. Default: "livetree".
	Namespace string

	// Subsystem is placed between namespace and name.
	Subsystem string

	// ConstLabels are attached to every metric.
	ConstLabels prometheus.Labels

	// Buckets are the duration histogram buckets. Default: prometheus.DefBuckets.
	Buckets []float64

	// Registry receives the collectors. Default: prometheus.DefaultRegisterer.
	Registry prometheus.Registerer
}

// MetricsOption configures metrics collection.
type MetricsOption func(*MetricsConfig)

// WithNamespace sets the metric namespace.
func WithNamespace(ns string) MetricsOption {
	return func(c *MetricsConfig) {
		c.Namespace = ns
	}
}

// WithSubsystem sets the metric subsystem.
func WithSubsystem(sub string) MetricsOption {
	return func(c *MetricsConfig) {
		c.Subsystem = sub
	}
}

// WithConstLabels sets labels attached to every metric.
func WithConstLabels(labels prometheus.Labels) MetricsOption {
	return func(c *MetricsConfig) {
		c.ConstLabels = labels
	}
}

// WithBuckets sets the duration histogram buckets.
func WithBuckets(buckets []float64) MetricsOption {
	return func(c *MetricsConfig) {
		c.Buckets = buckets
	}
}

// WithRegistry sets the Prometheus registry.
func WithRegistry(registry prometheus.Registerer) MetricsOption {
	return func(c *MetricsConfig) {
		c.Registry = registry
	}
}

func defaultMetricsConfig() MetricsConfig {
	return MetricsConfig{
		Namespace: "livetree",
		Buckets:   prometheus.DefBuckets,
		Registry:  prometheus.DefaultRegisterer,
	}
}

// Metrics holds the Prometheus collectors for a server. It also serves as
// the session observer.
type Metrics struct {
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	renderDuration  prometheus.Histogram
	renderedRoots   prometheus.Counter
	eventsRejected  *prometheus.CounterVec
	tokensRejected  prometheus.Counter
	activeStreams   prometheus.Gauge
	streamsRejected *prometheus.CounterVec
	messagesSent    prometheus.Counter
}

// NewMetrics registers the collectors and returns them.
//
// Metrics collected:
//   - livetree_requests_total: requests by kind (page, update, stream) and status
//   - livetree_request_duration_seconds: request duration by kind
//   - livetree_render_duration_seconds: duration of update passes
//   - livetree_rendered_roots_total: subtrees re-rendered
//   - livetree_events_rejected_total: invalid input events by handler
//   - livetree_tokens_rejected_total: state tokens that did not resolve
//   - livetree_active_streams: open websocket streams
//   - livetree_streams_rejected_total: refused upgrades by reason
//   - livetree_stream_messages_sent_total: update messages sent on streams
func NewMetrics(opts ...MetricsOption) *Metrics {
	config := defaultMetricsConfig()
	for _, opt := range opts {
		opt(&config)
	}
	factory := promauto.With(config.Registry)

	return &Metrics{
		requestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "requests_total",
			Help:        "Total number of requests by kind and status",
			ConstLabels: config.ConstLabels,
		}, []string{"kind", "status"}),

		requestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "request_duration_seconds",
			Help:        "Request duration in seconds",
			ConstLabels: config.ConstLabels,
			Buckets:     config.Buckets,
		}, []string{"kind"}),

		renderDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "render_duration_seconds",
			Help:        "Duration of session update passes in seconds",
			ConstLabels: config.ConstLabels,
			Buckets:     config.Buckets,
		}),

		renderedRoots: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "rendered_roots_total",
			Help:        "Total number of re-rendered subtrees",
			ConstLabels: config.ConstLabels,
		}),

		eventsRejected: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "events_rejected_total",
			Help:        "Total number of rejected input events by handler",
			ConstLabels: config.ConstLabels,
		}, []string{"handler"}),

		tokensRejected: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "tokens_rejected_total",
			Help:        "Total number of state tokens that failed to resolve",
			ConstLabels: config.ConstLabels,
		}),

		activeStreams: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "active_streams",
			Help:        "Number of open websocket streams",
			ConstLabels: config.ConstLabels,
		}),

		streamsRejected: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "streams_rejected_total",
			Help:        "Total number of refused websocket streams by reason",
			ConstLabels: config.ConstLabels,
		}, []string{"reason"}),

		messagesSent: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "stream_messages_sent_total",
			Help:        "Total number of update messages sent on streams",
			ConstLabels: config.ConstLabels,
		}),
	}
}

// RenderDone implements session.Observer.
func (m *Metrics) RenderDone(roots int, took time.Duration) {
	m.renderDuration.Observe(took.Seconds())
	m.renderedRoots.Add(float64(roots))
}

// EventRejected implements session.Observer.
func (m *Metrics) EventRejected(handler string) {
	m.eventsRejected.WithLabelValues(handler).Inc()
}

// TokenRejected implements session.Observer.
func (m *Metrics) TokenRejected() {
	m.tokensRejected.Inc()
}

func (m *Metrics) requestDone(kind, status string, took time.Duration) {
	if m == nil {
		return
	}
	m.requestsTotal.WithLabelValues(kind, status).Inc()
	m.requestDuration.WithLabelValues(kind).Observe(took.Seconds())
}

func (m *Metrics) streamOpened() {
	if m != nil {
		m.activeStreams.Inc()
	}
}

func (m *Metrics) streamClosed() {
	if m != nil {
		m.activeStreams.Dec()
	}
}

func (m *Metrics) streamRejected(reason string) {
	if m != nil {
		m.streamsRejected.WithLabelValues(reason).Inc()
	}
}

func (m *Metrics) messageSent() {
	if m != nil {
		m.messagesSent.Inc()
	}
}
