// Package observability provides Prometheus metrics and HTTP middleware
// for monitoring the todo service.
package observability

import "github.com/prometheus/client_golang/prometheus"

// HTTPBuckets defines histogram buckets for request latencies,
// ranging from 5ms to 10s.
var HTTPBuckets = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}

var (
	// RequestsTotal counts all HTTP requests by method and status class.
	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "todoapi_requests_total",
			Help: "Total requests",
		},
		[]string{"method", "status"},
	)

	// RequestDuration records HTTP request duration in seconds by method.
	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "todoapi_request_duration_seconds",
			Help:    "Request duration",
			Buckets: HTTPBuckets,
		},
		[]string{"method"},
	)

	// InFlightRequests tracks requests currently being served.
	InFlightRequests = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "todoapi_requests_in_flight",
			Help: "Requests in flight",
		},
	)

	// TodoOperationsTotal counts todo store operations by outcome.
	TodoOperationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "todoapi_todo_operations_total",
			Help: "Todo operations",
		},
		[]string{"operation", "outcome"},
	)

	// NoncesIssuedTotal counts issued sign-in nonces.
	NoncesIssuedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "todoapi_nonces_issued_total",
			Help: "Nonces issued",
		},
	)

	// SignInsTotal counts sign-in attempts by outcome.
	SignInsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "todoapi_signins_total",
			Help: "Sign-in attempts",
		},
		[]string{"outcome"},
	)

	// AuthRejectedTotal counts requests rejected by the request gate.
	AuthRejectedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "todoapi_auth_rejected_total",
			Help: "Unauthenticated requests",
		},
	)

	// RateLimitRejectedTotal counts requests rejected by a rate limiter.
	RateLimitRejectedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "todoapi_ratelimit_rejected_total",
			Help: "Rate limit rejections",
		},
		[]string{"scope"},
	)

	// PurgedTotal counts expired records removed by the janitor.
	PurgedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "todoapi_purged_total",
			Help: "Expired records purged",
		},
		[]string{"kind"},
	)
)

func init() {
	prometheus.MustRegister(
		RequestsTotal,
		RequestDuration,
		InFlightRequests,
		TodoOperationsTotal,
		NoncesIssuedTotal,
		SignInsTotal,
		AuthRejectedTotal,
		RateLimitRejectedTotal,
		PurgedTotal,
	)
}
