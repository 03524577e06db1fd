// Package metrics exposes Prometheus collectors for the archive pipeline.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	stackResolvesTotal            *prometheus.CounterVec
	recordWritesTotal             *prometheus.CounterVec
	proxyRequestsTotal            *prometheus.CounterVec
	proxyRequestDurationSeconds   *prometheus.HistogramVec
	controlRequestsTotal          *prometheus.CounterVec
	controlRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		stackResolvesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sliver_stack_resolves_total",
				Help: "Total stack resolutions, labeled by winning tier and outcome.",
			},
			[]string{"tier", "outcome"},
		)

		recordWritesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sliver_record_writes_total",
				Help: "Total write-through recordings into the local tier, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		proxyRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sliver_proxy_requests_total",
				Help: "Total requests served by the recording proxy, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		proxyRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "sliver_proxy_request_duration_seconds",
				Help:    "Histogram of proxy request latencies, labeled by method.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 15},
			},
			[]string{"method"},
		)

		controlRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sliver_control_requests_total",
				Help: "Total requests to the control endpoints, labeled by route and code.",
			},
			[]string{"route", "code"},
		)

		controlRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "sliver_control_request_duration_seconds",
				Help:    "Histogram of control endpoint latencies, labeled by route.",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
			},
			[]string{"route"},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveResolve increments the stack resolution counter.
func ObserveResolve(tier, outcome string) {
	Init()
	stackResolvesTotal.WithLabelValues(tier, outcome).Inc()
}

// ObserveRecordWrite increments the recording counter for the given outcome.
func ObserveRecordWrite(outcome string) {
	Init()
	recordWritesTotal.WithLabelValues(outcome).Inc()
}

// ObserveProxyRequest increments the proxy request metrics.
func ObserveProxyRequest(method string, code int, duration time.Duration) {
	Init()
	proxyRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	proxyRequestDurationSeconds.WithLabelValues(method).Observe(duration.Seconds())
}

// ObserveControlRequest increments the control endpoint metrics.
func ObserveControlRequest(route string, code int, duration time.Duration) {
	Init()
	controlRequestsTotal.WithLabelValues(route, strconv.Itoa(code)).Inc()
	controlRequestDurationSeconds.WithLabelValues(route).Observe(duration.Seconds())
}
