package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector holds the Prometheus metrics for the bridge
type Collector struct {
	prefix string

	// Action call metrics
	callsTotal          *prometheus.CounterVec
	callDuration        *prometheus.HistogramVec
	consecutiveFailures *prometheus.GaugeVec
	retryDelaySeconds   *prometheus.GaugeVec

	// HTTP metrics
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
}

// NewCollector registers and returns the bridge metrics
func NewCollector(prefix string) *Collector {
	if prefix == "" {
		prefix = "action_result"
	}

	return &Collector{
		prefix: prefix,
		callsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: prefix + "_calls_total",
				Help: "Total number of service call attempts",
			},
			[]string{"action", "outcome", "error_kind"},
		),
		callDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    prefix + "_call_duration_seconds",
				Help:    "Service call duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"action"},
		),
		consecutiveFailures: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: prefix + "_consecutive_failures",
				Help: "Current consecutive failure count per action",
			},
			[]string{"action"},
		),
		retryDelaySeconds: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: prefix + "_retry_delay_seconds",
				Help: "Backoff before the next retry per action",
			},
			[]string{"action"},
		),
		httpRequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: prefix + "_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		httpRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    prefix + "_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
	}
}

// RecordCall records one resolved service call attempt
func (c *Collector) RecordCall(actionID string, success bool, errorKind string, duration time.Duration) {
	outcome := "failure"
	if success {
		outcome = "success"
		errorKind = ""
	}
	c.callsTotal.WithLabelValues(actionID, outcome, errorKind).Inc()
	c.callDuration.WithLabelValues(actionID).Observe(duration.Seconds())
}

// RecordRetryState updates the per-action failure gauges
func (c *Collector) RecordRetryState(actionID string, consecutiveFailures int, retryDelay time.Duration) {
	c.consecutiveFailures.WithLabelValues(actionID).Set(float64(consecutiveFailures))
	c.retryDelaySeconds.WithLabelValues(actionID).Set(retryDelay.Seconds())
}

// RecordHTTPRequest records one handled HTTP request
func (c *Collector) RecordHTTPRequest(method, path string, statusCode int, duration time.Duration) {
	c.httpRequestsTotal.WithLabelValues(method, path, strconv.Itoa(statusCode)).Inc()
	c.httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}
