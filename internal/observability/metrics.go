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
	// Run metrics
	ActiveRuns prometheus.Gauge
	RunsTotal  *prometheus.CounterVec

	// Tick metrics
	TicksTotal   *prometheus.CounterVec
	TickDuration prometheus.Histogram

	// Payment metrics
	PaymentsTotal   *prometheus.CounterVec
	PaymentAmount   prometheus.Histogram
	RejectionsTotal *prometheus.CounterVec
	StalledTicks    prometheus.Counter

	// Clearing metrics
	ClearingPassesTotal *prometheus.CounterVec
	ClearedCycles       prometheus.Counter
	ClearedVolume       prometheus.Counter
	ClearingDuration    prometheus.Histogram

	// Trust drift metrics
	LimitAdjustments *prometheus.CounterVec

	// Event feed metrics
	EventsPublished      prometheus.Counter
	SubscribersConnected prometheus.Gauge
}

// NewMetrics creates a new Metrics instance with all metrics registered.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "creditnet_lab"
	}

	return &Metrics{
		ActiveRuns: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "runs",
			Name:      "active",
			Help:      "Number of runs currently in a non-terminal state",
		}),
		RunsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "runs",
			Name:      "total",
			Help:      "Total runs created, by final transition",
		}, []string{"state"}),

		TicksTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ticks",
			Name:      "total",
			Help:      "Total ticks executed, by result",
		}, []string{"result"}),
		TickDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "ticks",
			Name:      "duration_seconds",
			Help:      "Wall-clock duration of one tick",
			Buckets:   prometheus.DefBuckets,
		}),

		PaymentsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "payments",
			Name:      "total",
			Help:      "Total payment attempts, by outcome",
		}, []string{"outcome"}),
		PaymentAmount: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "payments",
			Name:      "amount",
			Help:      "Committed payment amounts",
			Buckets:   prometheus.ExponentialBuckets(1, 4, 10),
		}),
		RejectionsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "payments",
			Name:      "rejections_total",
			Help:      "Total payment rejections, by code",
		}, []string{"code"}),
		StalledTicks: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "payments",
			Name:      "stalled_ticks_total",
			Help:      "Ticks with attempts but no commits and no errors",
		}),

		ClearingPassesTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "clearing",
			Name:      "passes_total",
			Help:      "Total clearing passes, by result",
		}, []string{"result"}),
		ClearedCycles: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "clearing",
			Name:      "cycles_total",
			Help:      "Total settled debt cycles",
		}),
		ClearedVolume: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "clearing",
			Name:      "volume_total",
			Help:      "Total cleared debt volume",
		}),
		ClearingDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "clearing",
			Name:      "duration_seconds",
			Help:      "Wall-clock duration of one clearing pass",
			Buckets:   prometheus.DefBuckets,
		}),

		LimitAdjustments: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "drift",
			Name:      "limit_adjustments_total",
			Help:      "Trust-limit adjustments, by direction",
		}, []string{"direction"}),

		EventsPublished: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "events",
			Name:      "published_total",
			Help:      "Total domain events published to observers",
		}),
		SubscribersConnected: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "events",
			Name:      "subscribers",
			Help:      "Currently connected event-feed subscribers",
		}),
	}
}

// Handler returns the HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// DefaultMetrics is the default metrics instance.
var DefaultMetrics = NewMetrics("")

// RecordPayment records one emitted payment outcome.
func RecordPayment(outcome string, amount float64) {
	DefaultMetrics.PaymentsTotal.WithLabelValues(outcome).Inc()
	if outcome == "committed" {
		DefaultMetrics.PaymentAmount.Observe(amount)
	}
}

// RecordRejection records one payment rejection by stable code.
func RecordRejection(code string) {
	DefaultMetrics.RejectionsTotal.WithLabelValues(code).Inc()
}

// RecordTick records one completed tick.
func RecordTick(result string, seconds float64) {
	DefaultMetrics.TicksTotal.WithLabelValues(result).Inc()
	DefaultMetrics.TickDuration.Observe(seconds)
}

// RecordClearing records one clearing pass.
func RecordClearing(result string, cycles int, volume, seconds float64) {
	DefaultMetrics.ClearingPassesTotal.WithLabelValues(result).Inc()
	DefaultMetrics.ClearedCycles.Add(float64(cycles))
	DefaultMetrics.ClearedVolume.Add(volume)
	DefaultMetrics.ClearingDuration.Observe(seconds)
}

// RecordLimitAdjustment records a drift limit change.
func RecordLimitAdjustment(direction string, count int) {
	DefaultMetrics.LimitAdjustments.WithLabelValues(direction).Add(float64(count))
}
