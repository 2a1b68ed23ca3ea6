package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Host-local inventory gauges.
	ComponentsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "lattice_components_total",
			Help: "Loaded component instances by state",
		},
		[]string{"state"},
	)

	ProvidersTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "lattice_providers_total",
			Help: "Running provider processes by health",
		},
		[]string{"health"},
	)

	LinksTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "lattice_links_total",
			Help: "Total number of links materialized in the link table",
		},
	)

	InvocationsInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "lattice_invocations_in_flight",
			Help: "Invocations currently executing on this host",
		},
	)

	// Invocation router metrics.
	InvocationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lattice_invocations_total",
			Help: "Total invocations routed by this host, by outcome",
		},
		[]string{"outcome"},
	)

	InvocationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "lattice_invocation_duration_seconds",
			Help:    "Invocation round-trip duration by WIT interface",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"interface"},
	)

	// Control protocol metrics.
	ControlRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lattice_control_requests_total",
			Help: "Control-protocol requests handled by this host, by verb and outcome",
		},
		[]string{"verb", "outcome"},
	)

	// Provider bridge metrics.
	ProviderStartDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "lattice_provider_start_duration_seconds",
			Help:    "Time from spawn to completed handshake for a provider process",
			Buckets: prometheus.DefBuckets,
		},
	)

	ProviderCrashesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "lattice_provider_crashes_total",
			Help: "Total provider processes that exited without a prior stop request",
		},
	)

	// Reconciler metrics.
	ReconciliationEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lattice_reconciliation_events_total",
			Help: "KV watch events applied by the reconciler, by key prefix",
		},
		[]string{"prefix"},
	)

	ReconciliationApplyDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "lattice_reconciliation_apply_duration_seconds",
			Help:    "Time to apply one reconciler KV event",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Lifecycle event bus.
	EventsPublishedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lattice_events_published_total",
			Help: "Lifecycle events published on the evt subject, by type",
		},
		[]string{"type"},
	)
)

func init() {
	prometheus.MustRegister(
		ComponentsTotal,
		ProvidersTotal,
		LinksTotal,
		InvocationsInFlight,
		InvocationsTotal,
		InvocationDuration,
		ControlRequestsTotal,
		ProviderStartDuration,
		ProviderCrashesTotal,
		ReconciliationEventsTotal,
		ReconciliationApplyDuration,
		EventsPublishedTotal,
	)
}

// Handler returns the Prometheus HTTP handler for /metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer times an operation against one or more histograms.
type Timer struct {
	start time.Time
}

// NewTimer starts a timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the elapsed time to histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}

// ObserveDurationVec records the elapsed time to a labeled histogram vec.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	histogram.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
