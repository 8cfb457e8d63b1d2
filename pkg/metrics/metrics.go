// Package metrics holds the Prometheus collectors served on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	AuthorizationFlows = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "integration_authorization_flows_total",
		Help: "Authorization flows by provider, environment, stage and outcome.",
	}, []string{"provider", "environment", "stage", "outcome"})

	TokenRefreshes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "integration_token_refreshes_total",
		Help: "Provider token refresh attempts by outcome.",
	}, []string{"provider", "environment", "outcome"})

	StateTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "integration_connection_transitions_total",
		Help: "Connection state transitions.",
	}, []string{"provider", "environment", "to"})

	GatewayRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "integration_gateway_requests_total",
		Help: "Provider data fetches by operation and outcome.",
	}, []string{"provider", "environment", "operation", "outcome"})

	GatewayLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "integration_gateway_duration_seconds",
		Help:    "Provider data fetch latency.",
		Buckets: prometheus.DefBuckets,
	}, []string{"provider", "operation"})
)

// Outcome renders an error as a low-cardinality label value.
func Outcome(kind string) string {
	if kind == "" {
		return "ok"
	}
	return kind
}
