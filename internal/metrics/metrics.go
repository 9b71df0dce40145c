// Package metrics exposes the gateway's Prometheus instrumentation:
// session pool occupancy, query durations, drain volume, and engine
// connectivity — the ambient observability layer the teacher's pool
// package carries for tenant connections, retargeted to sessions.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Collector holds every Prometheus metric the gateway registers.
type Collector struct {
	Registry *prometheus.Registry

	sessionsAvailable prometheus.Gauge
	sessionsUnavailable prometheus.Gauge
	sessionsTotal       prometheus.Gauge
	poolExhaustedTotal  prometheus.Counter
	sessionsReapedTotal prometheus.Counter

	queryDuration   *prometheus.HistogramVec
	queriesTotal    *prometheus.CounterVec
	engineConnectFailuresTotal prometheus.Counter

	drainBytesTotal prometheus.Counter
	drainLinesTotal prometheus.Counter

	healthCheckDuration prometheus.Histogram
	healthCheckErrors   prometheus.Counter
}

// New creates and registers every metric on an independent registry.
func New() *Collector {
	reg := prometheus.NewRegistry()

	c := &Collector{
		Registry: reg,
		sessionsAvailable: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "shimgate_sessions_available",
			Help: "Number of session slots currently AVAILABLE.",
		}),
		sessionsUnavailable: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "shimgate_sessions_unavailable",
			Help: "Number of session slots currently UNAVAILABLE.",
		}),
		sessionsTotal: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "shimgate_sessions_total",
			Help: "Total number of session slots in the pool.",
		}),
		poolExhaustedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "shimgate_pool_exhausted_total",
			Help: "Number of acquire calls that returned OUT_OF_RESOURCES.",
		}),
		sessionsReapedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "shimgate_sessions_reaped_total",
			Help: "Number of orphaned sessions reclaimed by the allocator.",
		}),
		queryDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "shimgate_query_duration_seconds",
			Help:    "Duration of execute_query calls by outcome.",
			Buckets: prometheus.DefBuckets,
		}, []string{"outcome"}),
		queriesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "shimgate_queries_total",
			Help: "Number of execute_query calls by outcome.",
		}, []string{"outcome"}),
		engineConnectFailuresTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "shimgate_engine_connect_failures_total",
			Help: "Number of failed engine connection attempts during acquire.",
		}),
		drainBytesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "shimgate_drain_bytes_total",
			Help: "Total bytes returned by read_bytes.",
		}),
		drainLinesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "shimgate_drain_lines_total",
			Help: "Total lines returned by read_lines.",
		}),
		healthCheckDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "shimgate_health_check_duration_seconds",
			Help:    "Duration of engine connectivity health checks.",
			Buckets: prometheus.DefBuckets,
		}),
		healthCheckErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "shimgate_health_check_errors_total",
			Help: "Number of failed engine connectivity health checks.",
		}),
	}

	reg.MustRegister(
		c.sessionsAvailable,
		c.sessionsUnavailable,
		c.sessionsTotal,
		c.poolExhaustedTotal,
		c.sessionsReapedTotal,
		c.queryDuration,
		c.queriesTotal,
		c.engineConnectFailuresTotal,
		c.drainBytesTotal,
		c.drainLinesTotal,
		c.healthCheckDuration,
		c.healthCheckErrors,
	)

	return c
}

// SetPoolStats records a pool occupancy snapshot.
func (c *Collector) SetPoolStats(available, unavailable, total int) {
	c.sessionsAvailable.Set(float64(available))
	c.sessionsUnavailable.Set(float64(unavailable))
	c.sessionsTotal.Set(float64(total))
}

// ObservePoolExhausted records one OUT_OF_RESOURCES response.
func (c *Collector) ObservePoolExhausted() {
	c.poolExhaustedTotal.Inc()
}

// ObserveSessionReaped records one orphan reclamation.
func (c *Collector) ObserveSessionReaped() {
	c.sessionsReapedTotal.Inc()
}

// ObserveQuery records one execute_query call's outcome and duration.
func (c *Collector) ObserveQuery(outcome string, d time.Duration) {
	c.queryDuration.WithLabelValues(outcome).Observe(d.Seconds())
	c.queriesTotal.WithLabelValues(outcome).Inc()
}

// ObserveEngineConnectFailure records one failed engine dial during acquire.
func (c *Collector) ObserveEngineConnectFailure() {
	c.engineConnectFailuresTotal.Inc()
}

// ObserveDrainBytes records bytes returned by read_bytes.
func (c *Collector) ObserveDrainBytes(n int) {
	c.drainBytesTotal.Add(float64(n))
}

// ObserveDrainLines records lines returned by read_lines.
func (c *Collector) ObserveDrainLines(n int) {
	c.drainLinesTotal.Add(float64(n))
}

// ObserveHealthCheck records one engine connectivity probe.
func (c *Collector) ObserveHealthCheck(d time.Duration, err error) {
	c.healthCheckDuration.Observe(d.Seconds())
	if err != nil {
		c.healthCheckErrors.Inc()
	}
}
