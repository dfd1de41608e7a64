package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	RateLimitAllowed = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "signdesk", Name: "rate_limit_allowed_total", Help: "Number of allowed requests by limiter type."},
		[]string{"limiter"},
	)
	RateLimitRejected = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "signdesk", Name: "rate_limit_rejected_total", Help: "Number of rejected requests by limiter type."},
		[]string{"limiter"},
	)
	DocumentsCreated = prometheus.NewCounter(
		prometheus.CounterOpts{Namespace: "signdesk", Name: "documents_created_total", Help: "Number of signable documents distributed."},
	)
	DocumentsDeleted = prometheus.NewCounter(
		prometheus.CounterOpts{Namespace: "signdesk", Name: "documents_deleted_total", Help: "Number of signable documents deleted."},
	)
	// SigningAttempts counts finished attempts by outcome: success, error kind.
	SigningAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "signdesk", Name: "signing_attempts_total", Help: "Finished signing attempts by outcome."},
		[]string{"outcome"},
	)
	AgentStepDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "signdesk",
			Name:      "agent_step_duration_seconds",
			Help:      "Duration of signing agent protocol steps.",
			Buckets:   []float64{0.05, 0.1, 0.5, 1, 2.5, 5, 15, 30, 60, 120, 300},
		},
		[]string{"step", "result"},
	)
)

func RegisterCollectors(reg prometheus.Registerer) {
	reg.MustRegister(RateLimitAllowed)
	reg.MustRegister(RateLimitRejected)
	reg.MustRegister(DocumentsCreated)
	reg.MustRegister(DocumentsDeleted)
	reg.MustRegister(SigningAttempts)
	reg.MustRegister(AgentStepDuration)
}
