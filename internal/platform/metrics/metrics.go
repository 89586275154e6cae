// Package metrics exposes Prometheus instruments for the context
// participant.
package metrics

import (
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const subsystem = "context_participant"

var (
	// contextCallsTotal counts Contextor calls, labeled by method and the
	// status they resolved to.
	//
	// Usage:
	// - Spot UnknownParticipant bursts (participant dropped by the Contextor).
	// - Compare failure rates of reads and writes.
	contextCallsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Subsystem: subsystem,
		Name:      "context_calls_total",
		Help:      "Total number of Contextor calls, labeled by method and status.",
	}, []string{"method", "status"})

	// contextCallDurationSeconds observes Contextor call latency.
	contextCallDurationSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Subsystem: subsystem,
		Name:      "context_call_duration_seconds",
		Help:      "Histogram of Contextor call durations.",
		Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10},
	}, []string{"method"})

	// notificationsTotal counts callbacks received from the Contextor.
	notificationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Subsystem: subsystem,
		Name:      "notifications_total",
		Help:      "Total number of Contextor notifications, labeled by kind.",
	}, []string{"kind"})

	// eventsTotal counts application events emitted by the synchronizer.
	eventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Subsystem: subsystem,
		Name:      "events_total",
		Help:      "Total number of synchronizer events, labeled by kind.",
	}, []string{"kind"})

	// patientLookupsTotal counts patient directory lookups by result.
	patientLookupsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Subsystem: subsystem,
		Name:      "patient_lookups_total",
		Help:      "Total number of patient directory lookups, labeled by result (hit, fetched, not_found, error).",
	}, []string{"result"})
)

// ObserveContextCall records one Contextor call.
func ObserveContextCall(method, status string, seconds float64) {
	contextCallsTotal.WithLabelValues(method, status).Inc()
	contextCallDurationSeconds.WithLabelValues(method).Observe(seconds)
}

// ObserveNotification records one Contextor callback.
func ObserveNotification(kind string) {
	notificationsTotal.WithLabelValues(kind).Inc()
}

// ObserveEvent records one synchronizer event.
func ObserveEvent(kind string) {
	eventsTotal.WithLabelValues(kind).Inc()
}

// ObservePatientLookup records a directory lookup result.
func ObservePatientLookup(result string) {
	patientLookupsTotal.WithLabelValues(result).Inc()
}

// Handler serves the default registry in the Prometheus text format.
func Handler() echo.HandlerFunc {
	return echo.WrapHandler(promhttp.Handler())
}
