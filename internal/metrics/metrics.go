// Package metrics provides Prometheus metrics for the onedrive-serve server.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "onedrive_serve"

// Metrics holds every collector, registered on its own registry so tests
// can build as many as they like.
type Metrics struct {
	registry *prometheus.Registry

	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	upstreamRequestsTotal   *prometheus.CounterVec
	upstreamRequestDuration *prometheus.HistogramVec

	listingEntries prometheus.Histogram
	guardChecks    *prometheus.CounterVec
	tokenMisses    prometheus.Counter
}

// New creates and registers all collectors, plus the Go runtime and process
// collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		httpRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		}, []string{"method", "route", "status"}),
		httpRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
		upstreamRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upstream_requests_total",
			Help:      "Total Graph API request attempts; status 0 is a transport error",
		}, []string{"method", "status"}),
		upstreamRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "upstream_request_duration_seconds",
			Help:      "Graph API request attempt duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),
		listingEntries: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "listing_entries",
			Help:      "Number of entries in served directory listings",
			Buckets:   prometheus.ExponentialBuckets(1, 4, 8),
		}),
		guardChecks: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "guard_checks_total",
			Help:      "Protected route checks by resulting status",
		}, []string{"status"}),
		tokenMisses: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "token_unavailable_total",
			Help:      "Requests rejected because no access token was stored",
		}),
	}
}

// Handler returns the Prometheus metrics HTTP handler.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Middleware records every request handled by the gin engine. The route
// label is the matched route pattern, not the raw path.
func (m *Metrics) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}

		m.RecordHTTPRequest(c.Request.Method, route, c.Writer.Status(), time.Since(start))
	}
}

// RecordHTTPRequest records an HTTP request metric.
func (m *Metrics) RecordHTTPRequest(method, route string, status int, duration time.Duration) {
	m.httpRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.httpRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveUpstream records one Graph API attempt.
func (m *Metrics) ObserveUpstream(method string, status int, elapsed time.Duration) {
	m.upstreamRequestsTotal.WithLabelValues(method, strconv.Itoa(status)).Inc()
	m.upstreamRequestDuration.WithLabelValues(method).Observe(elapsed.Seconds())
}

// RecordListing records the size of a served listing.
func (m *Metrics) RecordListing(entries int) {
	m.listingEntries.Observe(float64(entries))
}

// RecordGuardCheck records the outcome of a protected route check.
func (m *Metrics) RecordGuardCheck(status int) {
	m.guardChecks.WithLabelValues(strconv.Itoa(status)).Inc()
}

// RecordTokenUnavailable records a request refused for lack of a token.
func (m *Metrics) RecordTokenUnavailable() {
	m.tokenMisses.Inc()
}
