// Package telemetry exposes the service's Prometheus collectors: HTTP server
// metrics, risk scoring outcomes, inference latency and event publishing.
package telemetry

import (
	"strconv"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "rcm"

var defaultDurationBuckets = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30}

// Metrics groups every collector the service records. A nil *Metrics is
// valid and records nothing, which keeps call sites free of nil checks.
type Metrics struct {
	registry *prometheus.Registry

	requestDuration   *prometheus.HistogramVec
	activeRequests    prometheus.Gauge
	predictions       *prometheus.CounterVec
	inferenceDuration *prometheus.HistogramVec
	snapshotUpserts   *prometheus.CounterVec
	eventsPublished   *prometheus.CounterVec
}

// NewMetrics creates the collectors on a private registry that also carries
// the Go runtime and process collectors.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &Metrics{
		registry: reg,
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Duration of HTTP requests in seconds.",
			Buckets:   defaultDurationBuckets,
		}, []string{"method", "route", "status"}),
		activeRequests: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "http_active_requests",
			Help:      "Number of in-flight HTTP requests.",
		}),
		predictions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "risk_predictions_total",
			Help:      "Risk predictions by domain and producing source.",
		}, []string{"domain", "source"}),
		inferenceDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "inference_request_duration_seconds",
			Help:      "Latency of calls to the inference service.",
			Buckets:   defaultDurationBuckets,
		}, []string{"endpoint", "outcome"}),
		snapshotUpserts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "feature_snapshot_upserts_total",
			Help:      "Feature snapshot upserts by domain and result.",
		}, []string{"domain", "result"}),
		eventsPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_published_total",
			Help:      "risk.scored events by publish result.",
		}, []string{"result"}),
	}

	reg.MustRegister(
		m.requestDuration,
		m.activeRequests,
		m.predictions,
		m.inferenceDuration,
		m.snapshotUpserts,
		m.eventsPublished,
	)
	return m
}

// RegisterPool exports connection pool gauges sampled at scrape time.
func (m *Metrics) RegisterPool(pool *pgxpool.Pool) {
	if m == nil || pool == nil {
		return
	}
	m.registry.MustRegister(
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "db_pool_acquired_connections",
			Help:      "Connections currently acquired from the pool.",
		}, func() float64 { return float64(pool.Stat().AcquiredConns()) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "db_pool_idle_connections",
			Help:      "Idle connections in the pool.",
		}, func() float64 { return float64(pool.Stat().IdleConns()) }),
	)
}

func (m *Metrics) ObservePrediction(domain, source string) {
	if m == nil {
		return
	}
	m.predictions.WithLabelValues(domain, source).Inc()
}

func (m *Metrics) ObserveInference(endpoint, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.inferenceDuration.WithLabelValues(endpoint, outcome).Observe(d.Seconds())
}

func (m *Metrics) ObserveSnapshotUpsert(domain string, err error) {
	if m == nil {
		return
	}
	m.snapshotUpserts.WithLabelValues(domain, resultLabel(err)).Inc()
}

func (m *Metrics) ObserveEventPublish(err error) {
	if m == nil {
		return
	}
	m.eventsPublished.WithLabelValues(resultLabel(err)).Inc()
}

func resultLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// MetricsMiddleware records request duration by method, route pattern and
// status, plus the in-flight request gauge.
func (m *Metrics) MetricsMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if m == nil {
				return next(c)
			}

			m.activeRequests.Inc()
			defer m.activeRequests.Dec()

			start := time.Now()
			err := next(c)

			status := c.Response().Status
			if err != nil {
				if he, ok := err.(*echo.HTTPError); ok {
					status = he.Code
				} else {
					status = 500
				}
			}

			route := c.Path()
			if route == "" {
				route = "unmatched"
			}

			m.requestDuration.
				WithLabelValues(c.Request().Method, route, strconv.Itoa(status)).
				Observe(time.Since(start).Seconds())

			return err
		}
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() echo.HandlerFunc {
	return echo.WrapHandler(promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
}
