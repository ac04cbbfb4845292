// Package metrics exposes Prometheus collectors for the tutor server.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Logins counts login attempts by result
	// (ok, invalid_credentials, already_active, error).
	Logins = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tutor_logins_total",
		Help: "Login attempts by result",
	}, []string{"result"})

	// ModelCalls counts model calls by kind (summary, chat) and status.
	ModelCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tutor_model_calls_total",
		Help: "Model calls by kind and status",
	}, []string{"kind", "status"})

	// ModelCallDuration tracks model call latency.
	ModelCallDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "tutor_model_call_seconds",
		Help:    "Model call duration in seconds",
		Buckets: prometheus.ExponentialBuckets(0.25, 2, 8), // 250ms to 32s
	}, []string{"kind"})

	// Tokens counts metered tokens by type (prompt, completion).
	Tokens = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tutor_tokens_total",
		Help: "Tokens recorded in the usage ledger by type",
	}, []string{"type"})

	// Uploads counts document uploads by format and result.
	Uploads = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tutor_uploads_total",
		Help: "Document uploads by format and result",
	}, []string{"format", "result"})

	// ActiveSessions is the number of sessions held by the controller.
	ActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tutor_active_sessions",
		Help: "Sessions currently logged in on this server",
	})
)

// ObserveModelCall records one model call of kind.
func ObserveModelCall(kind, status string, elapsed time.Duration) {
	ModelCalls.WithLabelValues(kind, status).Inc()
	ModelCallDuration.WithLabelValues(kind).Observe(elapsed.Seconds())
}

// AddTokens records metered prompt and completion tokens.
func AddTokens(prompt, completion int) {
	Tokens.WithLabelValues("prompt").Add(float64(prompt))
	Tokens.WithLabelValues("completion").Add(float64(completion))
}
