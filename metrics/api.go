package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// Request outcomes.
const (
	OutcomeSuccess     = "success"
	OutcomeFailure     = "failure"
	OutcomeClientError = "failure_4xx"
)

// Most replies need one or two calls to the network, so the buckets reach
// well past what a database read takes.
var apiLatencyBuckets = []float64{0.01, 0.05, 0.1, 0.3, 0.5, 1, 2.5, 5, 10}

// APIMetrics instruments the lottery API serving one network.
type APIMetrics struct {
	network string

	// Requests seen by the router, partitioned by route and outcome.
	requests *prometheus.CounterVec

	// Replies written by the handlers, partitioned by route, outcome and cause.
	replies *prometheus.CounterVec

	latencies *prometheus.HistogramVec
}

// NewAPIMetrics creates the API instrumentation for the named network.
func NewAPIMetrics(network string) APIMetrics {
	m := APIMetrics{
		network: network,
		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: fmt.Sprintf("%s_api_requests", pkgName),
				Help: "How many API requests were served, partitioned by network, route, and outcome.",
			},
			[]string{"network", "route", "outcome"},
		),
		replies: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: fmt.Sprintf("%s_api_replies", pkgName),
				Help: "How many replies the API handlers wrote, partitioned by network, route, outcome, and cause.",
			},
			[]string{"network", "route", "outcome", "cause"},
		),
		latencies: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    fmt.Sprintf("%s_api_request_latencies", pkgName),
				Help:    "How long API requests take to serve, partitioned by network and route.",
				Buckets: apiLatencyBuckets,
			},
			[]string{"network", "route"},
		),
	}
	m.requests = registerOnce(m.requests).(*prometheus.CounterVec)
	m.replies = registerOnce(m.replies).(*prometheus.CounterVec)
	m.latencies = registerOnce(m.latencies).(*prometheus.HistogramVec)
	return m
}

// Request returns the counter of requests to route with the given outcome.
func (m *APIMetrics) Request(route, outcome string) prometheus.Counter {
	return m.requests.WithLabelValues(m.network, route, outcome)
}

// Reply returns the counter of replies to route. cause is empty on success.
func (m *APIMetrics) Reply(route, outcome, cause string) prometheus.Counter {
	return m.replies.WithLabelValues(m.network, route, outcome, cause)
}

// Latency returns the latency observer of route.
func (m *APIMetrics) Latency(route string) prometheus.Observer {
	return m.latencies.WithLabelValues(m.network, route)
}
