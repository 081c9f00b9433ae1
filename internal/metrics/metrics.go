package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds Prometheus counters and gauges for the tracking agent.
type Metrics struct {
	registry           *prometheus.Registry
	deltasAppliedTotal prometheus.Counter
	publishedTotal     prometheus.Counter
	publishErrorsTotal prometheus.Counter
	activeWatches      prometheus.Gauge
	reconnects         prometheus.Gauge
}

// New creates and registers Prometheus metrics for the agent.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	deltasAppliedTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "bookingwatch_deltas_applied_total",
		Help: "Total number of snapshot changes merged from any source",
	})
	publishedTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "bookingwatch_published_total",
		Help: "Total number of booking.updated messages published",
	})
	publishErrorsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "bookingwatch_publish_errors_total",
		Help: "Total number of failed publishes after retries",
	})
	activeWatches := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "bookingwatch_active_watches",
		Help: "Number of bookings currently being watched",
	})
	reconnects := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "bookingwatch_reconnects",
		Help: "Push channel reconnections across all watches",
	})

	registry.MustRegister(
		deltasAppliedTotal,
		publishedTotal,
		publishErrorsTotal,
		activeWatches,
		reconnects,
	)

	return &Metrics{
		registry:           registry,
		deltasAppliedTotal: deltasAppliedTotal,
		publishedTotal:     publishedTotal,
		publishErrorsTotal: publishErrorsTotal,
		activeWatches:      activeWatches,
		reconnects:         reconnects,
	}
}

// IncDeltasApplied increments the merged-changes counter.
func (m *Metrics) IncDeltasApplied() {
	m.deltasAppliedTotal.Inc()
}

// IncPublished increments the published-messages counter.
func (m *Metrics) IncPublished() {
	m.publishedTotal.Inc()
}

// IncPublishErrors increments the failed-publish counter.
func (m *Metrics) IncPublishErrors() {
	m.publishErrorsTotal.Inc()
}

// SetActiveWatches sets the active watches gauge.
func (m *Metrics) SetActiveWatches(n int) {
	m.activeWatches.Set(float64(n))
}

// SetReconnects sets the cumulative reconnects gauge.
func (m *Metrics) SetReconnects(n int64) {
	m.reconnects.Set(float64(n))
}

// Handler returns an http.Handler that serves Prometheus metrics.
// updateGauges is called before each scrape to refresh gauge values.
func (m *Metrics) Handler(updateGauges func()) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if updateGauges != nil {
			updateGauges()
		}
		promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}).ServeHTTP(w, r)
	})
}
