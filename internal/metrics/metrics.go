// Package metrics holds the Prometheus collectors of the exam room.
package metrics

import (
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	registerOnce       sync.Once
	sessionsActive     prometheus.Gauge
	sessionsSubmitted  *prometheus.CounterVec
	violationsTotal    *prometheus.CounterVec
	resultSaves        *prometheus.CounterVec
	queueDepth         *prometheus.GaugeVec
	httpRequestsTotal  *prometheus.CounterVec
	httpLatencySeconds *prometheus.HistogramVec
)

// RegisterMetrics initialises the collectors once per process.
func RegisterMetrics() {
	registerOnce.Do(func() {
		sessionsActive = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "examroom_sessions_active",
			Help: "Number of exam sessions currently in progress.",
		})

		sessionsSubmitted = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "examroom_sessions_submitted_total",
			Help: "Total number of submitted sessions by trigger.",
		}, []string{"trigger"})

		violationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "examroom_violations_total",
			Help: "Total number of integrity violations by kind.",
		}, []string{"kind"})

		resultSaves = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "examroom_result_saves_total",
			Help: "Result persistence attempts by outcome.",
		}, []string{"outcome"})

		queueDepth = prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "examroom_queue_depth",
			Help: "Last observed length of each Redis work queue.",
		}, []string{"queue"})

		httpRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "examroom_http_requests_total",
			Help: "Total number of HTTP requests served.",
		}, []string{"method", "route", "status"})

		httpLatencySeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "examroom_http_latency_seconds",
			Help:    "Latency distribution for HTTP requests.",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.0},
		}, []string{"method", "route"})

		prometheus.MustRegister(
			sessionsActive, sessionsSubmitted, violationsTotal, resultSaves,
			queueDepth, httpRequestsTotal, httpLatencySeconds,
		)
	})
}

// SessionsActive exposes the active session gauge.
func SessionsActive() prometheus.Gauge {
	RegisterMetrics()
	return sessionsActive
}

// SessionsSubmitted exposes the submission counter, labelled manual or auto.
func SessionsSubmitted() *prometheus.CounterVec {
	RegisterMetrics()
	return sessionsSubmitted
}

// Violations exposes the violation counter.
func Violations() *prometheus.CounterVec {
	RegisterMetrics()
	return violationsTotal
}

// ResultSaves exposes the result persistence counter, labelled saved or failed.
func ResultSaves() *prometheus.CounterVec {
	RegisterMetrics()
	return resultSaves
}

// QueueDepth exposes the per-queue depth gauge.
func QueueDepth() *prometheus.GaugeVec {
	RegisterMetrics()
	return queueDepth
}

// Handler exposes the Prometheus scrape endpoint via gin.
func Handler() gin.HandlerFunc {
	RegisterMetrics()
	return gin.WrapH(promhttp.Handler())
}

// Middleware records request counts and latency per matched route.
func Middleware() gin.HandlerFunc {
	RegisterMetrics()
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		httpRequestsTotal.WithLabelValues(c.Request.Method, route, strconv.Itoa(c.Writer.Status())).Inc()
		httpLatencySeconds.WithLabelValues(c.Request.Method, route).Observe(time.Since(start).Seconds())
	}
}
