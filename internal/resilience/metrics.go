package resilience

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collectors live on the default registry so every breaker and client in the
// process reports through the same series, keyed by target.
var (
	BreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "circuit_breaker_state",
		Help: "Breaker state per target (0 closed, 1 open, 2 half-open).",
	}, []string{"target"})

	BreakerTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "circuit_breaker_transitions_total",
		Help: "Breaker state changes per target.",
	}, []string{"target", "from", "to"})

	BreakerOpenedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "circuit_breaker_opened_total",
		Help: "Times a breaker tripped open.",
	}, []string{"target"})

	HTTPAttemptsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "upstream_http_attempts_total",
		Help: "Outbound HTTP attempts per target and outcome (ok, server_error, transport_error, rejected).",
	}, []string{"target", "outcome"})
)

func countAttempt(target, outcome string) {
	if target == "" {
		target = "default"
	}
	HTTPAttemptsTotal.WithLabelValues(target, outcome).Inc()
}
