// Package metrics exposes Prometheus instrumentation for the service.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every instrument the service records into.
type Metrics struct {
	registry *prometheus.Registry

	AllocatorTicks    prometheus.Counter
	AllocatedKW       prometheus.Gauge
	AvailableKW       prometheus.Gauge
	ChargingLoadKW    prometheus.Gauge
	ActiveStations    prometheus.Gauge
	SheddingLevel     prometheus.Gauge
	Dispatches        *prometheus.CounterVec
	DispatchDuration  prometheus.Histogram
	Violations        *prometheus.CounterVec
	FailSafeActive    prometheus.Gauge
	BreakerState      *prometheus.GaugeVec
	BusEventsDropped  prometheus.Gauge
	EventsPublished   prometheus.Gauge
	WebsocketSessions prometheus.Gauge
}

// New builds the metric set on a fresh registry, including the
// standard process and Go runtime collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		AllocatorTicks: factory.NewCounter(prometheus.CounterOpts{
			Name: "dlm_allocator_ticks_total",
			Help: "Completed allocation cycles.",
		}),
		AllocatedKW: factory.NewGauge(prometheus.GaugeOpts{
			Name: "dlm_allocated_kw",
			Help: "Total power allocated to stations in the last cycle.",
		}),
		AvailableKW: factory.NewGauge(prometheus.GaugeOpts{
			Name: "dlm_available_kw",
			Help: "Capacity available for charging in the last cycle.",
		}),
		ChargingLoadKW: factory.NewGauge(prometheus.GaugeOpts{
			Name: "dlm_charging_load_kw",
			Help: "Measured charging load.",
		}),
		ActiveStations: factory.NewGauge(prometheus.GaugeOpts{
			Name: "dlm_active_stations",
			Help: "Stations with an active charging session.",
		}),
		SheddingLevel: factory.NewGauge(prometheus.GaugeOpts{
			Name: "dlm_shedding_level",
			Help: "Current load shedding level, 0 through 5.",
		}),
		Dispatches: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "dlm_dispatches_total",
			Help: "Setpoint dispatches by outcome.",
		}, []string{"outcome"}),
		DispatchDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "dlm_dispatch_duration_seconds",
			Help:    "Latency of a single station dispatch.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
		}),
		Violations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "dlm_violations_total",
			Help: "Recorded constraint violations by type.",
		}, []string{"type", "severity"}),
		FailSafeActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "dlm_fail_safe_active",
			Help: "Stations currently in fail-safe mode.",
		}),
		BreakerState: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "dlm_breaker_state",
			Help: "Circuit breaker state per endpoint: 0 closed, 1 half-open, 2 open.",
		}, []string{"endpoint"}),
		BusEventsDropped: factory.NewGauge(prometheus.GaugeOpts{
			Name: "dlm_bus_events_dropped_total",
			Help: "Bus events lost to full subscriber queues.",
		}),
		EventsPublished: factory.NewGauge(prometheus.GaugeOpts{
			Name: "dlm_bus_events_published_total",
			Help: "Bus events published.",
		}),
		WebsocketSessions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "dlm_websocket_sessions",
			Help: "Connected push-channel clients.",
		}),
	}
}

// Handler serves the registry over HTTP for the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry for additional collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
