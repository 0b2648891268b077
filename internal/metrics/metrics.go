// Package metrics defines the Prometheus instruments for the service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics groups every instrument so wiring stays in one place.
type Metrics struct {
	HTTPRequests     *prometheus.CounterVec
	HTTPDuration     *prometheus.HistogramVec
	SyncItems        *prometheus.CounterVec
	TriageSessions   *prometheus.CounterVec
	ComplaintsByStat *prometheus.CounterVec
	Escalations      prometheus.Counter
	AnchorSubmits    *prometheus.CounterVec
	AnchorQueueDepth prometheus.Gauge
	AnalyticsBuffer  prometheus.Gauge
	AnalyticsFlushes prometheus.Counter
	ViewRefreshes    *prometheus.CounterVec
}

// New registers all instruments on the default registry.
func New() *Metrics {
	return &Metrics{
		HTTPRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "sahay_http_requests_total",
			Help: "HTTP requests by method, route and status class",
		}, []string{"method", "route", "status"}),

		HTTPDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "sahay_http_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),

		SyncItems: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "sahay_sync_items_total",
			Help: "Sync batch items by outcome",
		}, []string{"outcome"}),

		TriageSessions: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "sahay_triage_sessions_total",
			Help: "Triage sessions by category",
		}, []string{"category"}),

		ComplaintsByStat: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "sahay_complaint_transitions_total",
			Help: "Complaint state transitions by new status",
		}, []string{"status"}),

		Escalations: promauto.NewCounter(prometheus.CounterOpts{
			Name: "sahay_complaint_escalations_total",
			Help: "Automatic SLA escalations",
		}),

		AnchorSubmits: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "sahay_anchor_submissions_total",
			Help: "On-chain anchor submissions by result",
		}, []string{"result"}),

		AnchorQueueDepth: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "sahay_anchor_queue_depth",
			Help: "Pending anchor jobs in the Redis queue",
		}),

		AnalyticsBuffer: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "sahay_analytics_buffer_size",
			Help: "De-identified events waiting in the aggregation buffer",
		}),

		AnalyticsFlushes: promauto.NewCounter(prometheus.CounterOpts{
			Name: "sahay_analytics_flushes_total",
			Help: "Aggregation buffer flushes",
		}),

		ViewRefreshes: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "sahay_view_refreshes_total",
			Help: "Materialized view refreshes by view",
		}, []string{"view"}),
	}
}
