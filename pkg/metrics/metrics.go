// Package metrics provides Prometheus metrics instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestDuration tracks HTTP request duration.
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path", "status"},
	)

	// RequestsTotal tracks total HTTP requests.
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// TurnsTotal tracks handled conversation turns by phase and resolved intent.
	TurnsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "intake_turns_total",
			Help: "Conversation turns handled",
		},
		[]string{"phase", "intent"},
	)

	// ExtractionDuration tracks extraction service call duration.
	ExtractionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "intake_extraction_duration_seconds",
			Help:    "Extraction service call duration",
			Buckets: []float64{.25, .5, 1, 2, 5, 10, 20, 30},
		},
		[]string{"shape", "provider", "status"},
	)

	// ExtractionTokensTotal tracks LLM tokens used by extraction calls.
	ExtractionTokensTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "intake_extraction_tokens_total",
			Help: "LLM tokens used by extraction calls",
		},
		[]string{"shape", "provider", "direction"},
	)

	// ZeroFieldTurnsTotal tracks turns where extraction produced nothing.
	ZeroFieldTurnsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "intake_zero_field_turns_total",
			Help: "Turns where extraction populated no field",
		},
	)

	// RawFallbackTotal tracks raw-text fallback applications.
	RawFallbackTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "intake_raw_fallback_total",
			Help: "Turns advanced by storing raw message text",
		},
	)

	// ConversationsCompleted tracks terminal transitions by final status.
	ConversationsCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "intake_conversations_completed_total",
			Help: "Conversations reaching a terminal status",
		},
		[]string{"final_status", "classification"},
	)

	// ReaperNotified tracks timeout reminders sent by the reaper.
	ReaperNotified = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "intake_reaper_notified_total",
			Help: "Idle conversations reminded by the timeout reaper",
		},
	)

	// ReaperReaped tracks conversations auto-cancelled by the reaper.
	ReaperReaped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "intake_reaper_reaped_total",
			Help: "Idle conversations auto-cancelled by the timeout reaper",
		},
	)
)

// RecordRequest records metrics for an HTTP request.
func RecordRequest(method, path, status string, duration float64) {
	RequestDuration.WithLabelValues(method, path, status).Observe(duration)
	RequestsTotal.WithLabelValues(method, path, status).Inc()
}

// RecordExtraction records metrics for one extraction service call.
func RecordExtraction(shape, provider, status string, duration float64, tokensIn, tokensOut int) {
	ExtractionDuration.WithLabelValues(shape, provider, status).Observe(duration)
	ExtractionTokensTotal.WithLabelValues(shape, provider, "in").Add(float64(tokensIn))
	ExtractionTokensTotal.WithLabelValues(shape, provider, "out").Add(float64(tokensOut))
}

// RecordTurn records one handled conversation turn.
func RecordTurn(phase, intent string) {
	TurnsTotal.WithLabelValues(phase, intent).Inc()
}

// RecordCompletion records a terminal transition.
func RecordCompletion(finalStatus, classification string) {
	ConversationsCompleted.WithLabelValues(finalStatus, classification).Inc()
}
