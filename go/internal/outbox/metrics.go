package outbox

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/mcdev12/pgoutbox/go/internal/cdc"
)

// MetricsCollector defines the interface for collecting outbox metrics
type MetricsCollector interface {
	RecordEventProcessed(eventType string, success bool, duration time.Duration)
	RecordRetry(eventType string, remainingTTL int16)
	RecordDead(eventType string)
}

// NoOpMetricsCollector is a no-op implementation for when metrics aren't needed
type NoOpMetricsCollector struct{}

func (n *NoOpMetricsCollector) RecordEventProcessed(eventType string, success bool, duration time.Duration) {
}
func (n *NoOpMetricsCollector) RecordRetry(eventType string, remainingTTL int16) {}
func (n *NoOpMetricsCollector) RecordDead(eventType string)                      {}

// MetricHandler wraps a record handler with metrics collection
type MetricHandler struct {
	handler cdc.Handler[*EventRecord]
	metrics MetricsCollector
}

func NewMetricHandler(handler cdc.Handler[*EventRecord], metrics MetricsCollector) *MetricHandler {
	return &MetricHandler{
		handler: handler,
		metrics: metrics,
	}
}

func (h *MetricHandler) Handle(ctx context.Context, record *EventRecord) error {
	start := time.Now()

	err := h.handler.Handle(ctx, record)

	h.metrics.RecordEventProcessed(record.EventType, err == nil, time.Since(start))
	return err
}

// StatsSource reports subscriber progress.
type StatsSource interface {
	Stats() cdc.Stats
}

// PrometheusMetrics implements MetricsCollector using Prometheus
type PrometheusMetrics struct {
	eventCounter  *prometheus.CounterVec
	eventDuration *prometheus.HistogramVec
	retries       *prometheus.CounterVec
	remainingTTL  *prometheus.HistogramVec
	dead          *prometheus.CounterVec
	reg           prometheus.Registerer
}

func NewPrometheusMetrics(reg prometheus.Registerer) *PrometheusMetrics {
	m := &PrometheusMetrics{
		eventCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "outbox",
			Name:      "events_processed_total",
			Help:      "Events handed to the sink, by outcome.",
		}, []string{"event_type", "status"}),
		eventDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "outbox",
			Name:      "event_duration_seconds",
			Help:      "Time spent publishing one event.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"event_type"}),
		retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "outbox",
			Name:      "retries_total",
			Help:      "Failed deliveries converted into a ttl decrement.",
		}, []string{"event_type"}),
		remainingTTL: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "outbox",
			Name:      "retry_remaining_ttl",
			Help:      "Retry budget left after a failed delivery.",
			Buckets:   prometheus.LinearBuckets(0, 1, 6),
		}, []string{"event_type"}),
		dead: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "outbox",
			Name:      "dead_events_total",
			Help:      "Deliveries of events whose retry budget was exhausted.",
		}, []string{"event_type"}),
		reg: reg,
	}
	reg.MustRegister(m.eventCounter, m.eventDuration, m.retries, m.remainingTTL, m.dead)
	return m
}

func (m *PrometheusMetrics) RecordEventProcessed(eventType string, success bool, duration time.Duration) {
	status := "success"
	if !success {
		status = "failure"
	}
	m.eventCounter.WithLabelValues(eventType, status).Inc()
	m.eventDuration.WithLabelValues(eventType).Observe(duration.Seconds())
}

func (m *PrometheusMetrics) RecordRetry(eventType string, remainingTTL int16) {
	m.retries.WithLabelValues(eventType).Inc()
	m.remainingTTL.WithLabelValues(eventType).Observe(float64(remainingTTL))
}

func (m *PrometheusMetrics) RecordDead(eventType string) {
	m.dead.WithLabelValues(eventType).Inc()
}

// ObserveSubscriber exports the progress of whichever subscriber src
// currently reports. src must count Transactions across subscriber
// restarts since it backs a counter.
func (m *PrometheusMetrics) ObserveSubscriber(src StatsSource) {
	m.reg.MustRegister(
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "outbox",
			Name:      "acknowledged_lsn",
			Help:      "Last WAL position acknowledged to the replication slot.",
		}, func() float64 { return float64(src.Stats().LastAckLSN) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: "outbox",
			Name:      "transactions_acknowledged_total",
			Help:      "Source transactions acknowledged to the replication slot.",
		}, func() float64 { return float64(src.Stats().Transactions) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "outbox",
			Name:      "subscriber_streaming",
			Help:      "Whether the subscriber is streaming.",
		}, func() float64 {
			if src.Stats().State == cdc.StateStreaming {
				return 1
			}
			return 0
		}),
	)
}
