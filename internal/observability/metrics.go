// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	// Indexer metrics
	TicksProcessed  prometheus.Counter
	TicksSkipped    prometheus.Counter
	TradesIndexed   prometheus.Counter
	TickErrors      *prometheus.CounterVec
	CurrentTick     prometheus.Gauge
	LastIndexedTick prometheus.Gauge
	TicksBehind     prometheus.Gauge
	RPCCallLatency  *prometheus.HistogramVec
	RPCRateLimited  prometheus.Counter

	// Alert metrics
	AlertEvaluations *prometheus.CounterVec
	AlertsTriggered  *prometheus.CounterVec
	AlertFailures    prometheus.Counter

	// Webhook metrics
	WebhookDeliveries     *prometheus.CounterVec
	WebhookDeliveryTime   prometheus.Histogram
	WebhookBreakerTripped prometheus.Counter

	// Database metrics
	DBQueryErrors *prometheus.CounterVec

	// Live feed metrics
	FeedSubscribers prometheus.Gauge
}

// NewMetrics creates a new Metrics instance with all metrics registered.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "qx_indexer"
	}

	return &Metrics{
		TicksProcessed: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "indexer",
			Name:      "ticks_processed_total",
			Help:      "Total number of ticks scanned and checkpointed",
		}),
		TicksSkipped: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "indexer",
			Name:      "ticks_skipped_total",
			Help:      "Total number of ticks skipped because a checkpoint already existed",
		}),
		TradesIndexed: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "indexer",
			Name:      "trades_indexed_total",
			Help:      "Total number of decoded trades written to storage",
		}),
		TickErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "indexer",
			Name:      "tick_errors_total",
			Help:      "Total number of tick processing errors by stage",
		}, []string{"stage"}),
		CurrentTick: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "indexer",
			Name:      "current_tick",
			Help:      "Latest chain tick reported by the node",
		}),
		LastIndexedTick: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "indexer",
			Name:      "last_indexed_tick",
			Help:      "Highest tick fully processed and checkpointed",
		}),
		TicksBehind: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "indexer",
			Name:      "ticks_behind",
			Help:      "Gap between the chain tip and the last indexed tick",
		}),
		RPCCallLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "rpc",
			Name:      "call_latency_seconds",
			Help:      "Node RPC call latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),
		RPCRateLimited: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "rpc",
			Name:      "rate_limited_total",
			Help:      "Total number of rate-limited RPC responses",
		}),

		AlertEvaluations: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "alerts",
			Name:      "evaluations_total",
			Help:      "Total number of alert evaluations by event type",
		}, []string{"event_type"}),
		AlertsTriggered: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "alerts",
			Name:      "triggered_total",
			Help:      "Total number of alerts triggered by event type",
		}, []string{"event_type"}),
		AlertFailures: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "alerts",
			Name:      "failures_total",
			Help:      "Total number of alert evaluations that errored",
		}),

		WebhookDeliveries: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "webhooks",
			Name:      "deliveries_total",
			Help:      "Total number of webhook delivery attempts by outcome",
		}, []string{"outcome"}),
		WebhookDeliveryTime: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "webhooks",
			Name:      "delivery_seconds",
			Help:      "Webhook delivery round-trip time in seconds",
			Buckets:   prometheus.DefBuckets,
		}),
		WebhookBreakerTripped: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "webhooks",
			Name:      "breaker_tripped_total",
			Help:      "Total number of deliveries rejected by an open circuit breaker",
		}),

		DBQueryErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "query_errors_total",
			Help:      "Total number of database query errors",
		}, []string{"database", "operation"}),

		FeedSubscribers: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "feed",
			Name:      "subscribers",
			Help:      "Current number of live feed websocket subscribers",
		}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// DefaultMetrics is the default metrics instance.
var DefaultMetrics = NewMetrics("")

// RecordTickProcessed increments the processed tick counter and moves the
// last indexed tick gauge.
func RecordTickProcessed(tick uint32) {
	DefaultMetrics.TicksProcessed.Inc()
	DefaultMetrics.LastIndexedTick.Set(float64(tick))
}

// RecordTickSkipped increments the skipped tick counter.
func RecordTickSkipped() {
	DefaultMetrics.TicksSkipped.Inc()
}

// RecordTradesIndexed adds to the indexed trade counter.
func RecordTradesIndexed(n int) {
	DefaultMetrics.TradesIndexed.Add(float64(n))
}

// RecordTickError records a tick processing error by stage.
func RecordTickError(stage string) {
	DefaultMetrics.TickErrors.WithLabelValues(stage).Inc()
}

// UpdateCrawlPosition updates the chain tip and lag gauges.
func UpdateCrawlPosition(currentTick uint32, ticksBehind int64) {
	DefaultMetrics.CurrentTick.Set(float64(currentTick))
	DefaultMetrics.TicksBehind.Set(float64(ticksBehind))
}

// RecordRPCLatency records node RPC call latency.
func RecordRPCLatency(method string, seconds float64) {
	DefaultMetrics.RPCCallLatency.WithLabelValues(method).Observe(seconds)
}

// RecordRateLimited increments the rate-limited response counter.
func RecordRateLimited() {
	DefaultMetrics.RPCRateLimited.Inc()
}

// RecordAlertEvaluation increments the evaluation counter.
func RecordAlertEvaluation(eventType string) {
	DefaultMetrics.AlertEvaluations.WithLabelValues(eventType).Inc()
}

// RecordAlertTriggered increments the triggered counter.
func RecordAlertTriggered(eventType string) {
	DefaultMetrics.AlertsTriggered.WithLabelValues(eventType).Inc()
}

// RecordAlertFailure increments the evaluation failure counter.
func RecordAlertFailure() {
	DefaultMetrics.AlertFailures.Inc()
}

// RecordWebhookDelivery records one delivery attempt.
func RecordWebhookDelivery(outcome string, seconds float64) {
	DefaultMetrics.WebhookDeliveries.WithLabelValues(outcome).Inc()
	DefaultMetrics.WebhookDeliveryTime.Observe(seconds)
}

// RecordWebhookBreakerTripped increments the open-breaker rejection counter.
func RecordWebhookBreakerTripped() {
	DefaultMetrics.WebhookBreakerTripped.Inc()
}

// RecordDBQueryError records a database query error.
func RecordDBQueryError(database, operation string) {
	DefaultMetrics.DBQueryErrors.WithLabelValues(database, operation).Inc()
}

// UpdateFeedSubscribers updates the live feed subscriber gauge.
func UpdateFeedSubscribers(n int) {
	DefaultMetrics.FeedSubscribers.Set(float64(n))
}
