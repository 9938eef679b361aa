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
	// Poller metrics
	PollsTotal      *prometheus.CounterVec
	PollsSkipped    *prometheus.CounterVec
	EventsDelivered *prometheus.CounterVec
	PollDuration    *prometheus.HistogramVec
	PollerHealthy   prometheus.Gauge

	// Position metrics
	PositionsOpened   prometheus.Counter
	PositionsClosed   *prometheus.CounterVec
	OpenPositions     prometheus.Gauge
	DuplicateBuys     prometheus.Counter
	EmergencyTimeouts prometheus.Counter
	SellFailures      prometheus.Counter

	// Ledger metrics
	RPCCallLatency *prometheus.HistogramVec

	// Database metrics
	DBQueryDuration *prometheus.HistogramVec
	DBQueryErrors   *prometheus.CounterVec

	// Health metrics
	LastSuccessfulPoll prometheus.Gauge
	UptimeSeconds      prometheus.Counter
}

// NewMetrics creates a new Metrics instance with all metrics registered.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "sui_sniper"
	}

	return &Metrics{
		// Poller metrics
		PollsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "poller",
			Name:      "polls_total",
			Help:      "Total number of poll cycles by tracker and status",
		}, []string{"tracker", "status"}),
		PollsSkipped: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "poller",
			Name:      "polls_skipped_total",
			Help:      "Total number of poll ticks skipped by the concurrency guard",
		}, []string{"tracker"}),
		EventsDelivered: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "poller",
			Name:      "events_delivered_total",
			Help:      "Total number of events delivered to tracker callbacks",
		}, []string{"tracker"}),
		PollDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "poller",
			Name:      "poll_duration_seconds",
			Help:      "Poll cycle duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"tracker"}),
		PollerHealthy: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "poller",
			Name:      "healthy",
			Help:      "1 when the poller health monitor reports healthy, 0 otherwise",
		}),

		// Position metrics
		PositionsOpened: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "positions_opened_total",
			Help:      "Total number of positions opened",
		}),
		PositionsClosed: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "positions_closed_total",
			Help:      "Total number of positions closed by exit reason",
		}, []string{"reason"}),
		OpenPositions: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "open_positions",
			Help:      "Current number of open positions",
		}),
		DuplicateBuys: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "duplicate_buys_total",
			Help:      "Total number of buy digests rejected as duplicates",
		}),
		EmergencyTimeouts: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "emergency_timeouts_total",
			Help:      "Total number of emergency sells abandoned on timeout",
		}),
		SellFailures: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "sell_failures_total",
			Help:      "Total number of failed sell attempts",
		}),

		// Ledger metrics
		RPCCallLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "rpc_call_latency_seconds",
			Help:      "Ledger RPC call latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),

		// Database metrics
		DBQueryDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "query_duration_seconds",
			Help:      "Database query duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"database", "operation"}),
		DBQueryErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "query_errors_total",
			Help:      "Total number of database query errors",
		}, []string{"database", "operation"}),

		// Health metrics
		LastSuccessfulPoll: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "last_successful_poll_timestamp",
			Help:      "Unix timestamp of the last successful poll cycle",
		}),
		UptimeSeconds: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "uptime_seconds_total",
			Help:      "Total uptime in seconds",
		}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// DefaultMetrics is the default metrics instance.
var DefaultMetrics = NewMetrics("")

// RecordPollSuccess records a successful poll cycle.
func RecordPollSuccess(tracker string, seconds float64) {
	DefaultMetrics.PollsTotal.WithLabelValues(tracker, "success").Inc()
	DefaultMetrics.PollDuration.WithLabelValues(tracker).Observe(seconds)
	DefaultMetrics.LastSuccessfulPoll.SetToCurrentTime()
}

// RecordPollFailure records a failed poll cycle.
func RecordPollFailure(tracker string) {
	DefaultMetrics.PollsTotal.WithLabelValues(tracker, "failure").Inc()
}

// RecordPollSkipped records a tick skipped by the concurrency guard.
func RecordPollSkipped(tracker string) {
	DefaultMetrics.PollsSkipped.WithLabelValues(tracker).Inc()
}

// RecordEventsDelivered records events handed to a tracker callback.
func RecordEventsDelivered(tracker string, count int) {
	DefaultMetrics.EventsDelivered.WithLabelValues(tracker).Add(float64(count))
}

// SetPollerHealthy updates the poller health gauge.
func SetPollerHealthy(healthy bool) {
	if healthy {
		DefaultMetrics.PollerHealthy.Set(1)
	} else {
		DefaultMetrics.PollerHealthy.Set(0)
	}
}

// RecordPositionOpened records a newly opened position.
func RecordPositionOpened(open int) {
	DefaultMetrics.PositionsOpened.Inc()
	DefaultMetrics.OpenPositions.Set(float64(open))
}

// RecordPositionClosed records a closed position by exit reason.
func RecordPositionClosed(reason string, open int) {
	DefaultMetrics.PositionsClosed.WithLabelValues(reason).Inc()
	DefaultMetrics.OpenPositions.Set(float64(open))
}

// RecordDuplicateBuy records a buy rejected by digest deduplication.
func RecordDuplicateBuy() {
	DefaultMetrics.DuplicateBuys.Inc()
}

// RecordEmergencyTimeout records an emergency sell abandoned on timeout.
func RecordEmergencyTimeout() {
	DefaultMetrics.EmergencyTimeouts.Inc()
}

// RecordSellFailure records a failed sell attempt.
func RecordSellFailure() {
	DefaultMetrics.SellFailures.Inc()
}

// RecordRPCLatency records ledger RPC call latency.
func RecordRPCLatency(method string, seconds float64) {
	DefaultMetrics.RPCCallLatency.WithLabelValues(method).Observe(seconds)
}

// RecordDBQuery records database query metrics.
func RecordDBQuery(database, operation string, seconds float64, err error) {
	DefaultMetrics.DBQueryDuration.WithLabelValues(database, operation).Observe(seconds)
	if err != nil {
		DefaultMetrics.DBQueryErrors.WithLabelValues(database, operation).Inc()
	}
}
