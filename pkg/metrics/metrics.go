package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Collector struct {
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	InFlightGauge   prometheus.Gauge

	SlotTransitionsTotal *prometheus.CounterVec
	SlotsMaterialized    prometheus.Counter
	BookingsTotal        *prometheus.CounterVec
	SessionTransitions   *prometheus.CounterVec
	CancellationsTotal   *prometheus.CounterVec
	PayoutAttemptsTotal  *prometheus.CounterVec

	RealtimeSubscribers   prometheus.Gauge
	RealtimeEventsTotal   *prometheus.CounterVec
	RealtimeDroppedEvents prometheus.Counter

	DBQueryDuration *prometheus.HistogramVec

	AuditEntriesTotal  prometheus.Counter
	AuditBufferDropped prometheus.Counter
}

// NewCollector registers every metric on reg. Pass prometheus.DefaultRegisterer
// in production and a fresh registry in tests.
func NewCollector(serviceName string, reg prometheus.Registerer) *Collector {
	f := promauto.With(reg)
	return &Collector{
		RequestsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: serviceName,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests by method, path, and status code.",
		}, []string{"method", "path", "status"}),

		RequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: serviceName,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency distribution.",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
		}, []string{"method", "path", "status"}),

		InFlightGauge: f.NewGauge(prometheus.GaugeOpts{
			Namespace: serviceName,
			Subsystem: "http",
			Name:      "in_flight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		}),

		SlotTransitionsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: serviceName,
			Subsystem: "calendar",
			Name:      "slot_transitions_total",
			Help:      "Provider slot toggles by target status and outcome (applied, skipped, rejected).",
		}, []string{"status", "outcome"}),

		SlotsMaterialized: f.NewCounter(prometheus.CounterOpts{
			Namespace: serviceName,
			Subsystem: "calendar",
			Name:      "slots_materialized_total",
			Help:      "Slots written while initializing provider days.",
		}),

		BookingsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: serviceName,
			Subsystem: "calendar",
			Name:      "bookings_total",
			Help:      "Booking attempts by outcome.",
		}, []string{"outcome"}),

		SessionTransitions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: serviceName,
			Subsystem: "sessions",
			Name:      "transitions_total",
			Help:      "Session status writes by target status.",
		}, []string{"status"}),

		CancellationsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: serviceName,
			Subsystem: "sessions",
			Name:      "cancellations_total",
			Help:      "Accepted cancellations by category.",
		}, []string{"category"}),

		PayoutAttemptsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: serviceName,
			Subsystem: "payouts",
			Name:      "attempts_total",
			Help:      "Payout request attempts by outcome.",
		}, []string{"outcome"}),

		RealtimeSubscribers: f.NewGauge(prometheus.GaugeOpts{
			Namespace: serviceName,
			Subsystem: "realtime",
			Name:      "subscribers",
			Help:      "Current number of event subscriptions.",
		}),

		RealtimeEventsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: serviceName,
			Subsystem: "realtime",
			Name:      "events_total",
			Help:      "Events published by type.",
		}, []string{"type"}),

		RealtimeDroppedEvents: f.NewCounter(prometheus.CounterOpts{
			Namespace: serviceName,
			Subsystem: "realtime",
			Name:      "coalesced_events_total",
			Help:      "Events folded into an already pending refetch signal.",
		}),

		DBQueryDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: serviceName,
			Subsystem: "db",
			Name:      "query_duration_seconds",
			Help:      "Database query latency distribution.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0},
		}, []string{"operation", "table"}),

		AuditEntriesTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: serviceName,
			Subsystem: "audit",
			Name:      "entries_total",
			Help:      "Total audit log entries written.",
		}),

		AuditBufferDropped: f.NewCounter(prometheus.CounterOpts{
			Namespace: serviceName,
			Subsystem: "audit",
			Name:      "buffer_dropped_total",
			Help:      "Audit entries dropped due to full buffer. Alert if non-zero.",
		}),
	}
}

// Handler serves the given gatherer, or the default registry when nil.
func Handler(g prometheus.Gatherer) http.Handler {
	if g == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
