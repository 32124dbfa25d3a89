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

	// PipelinesTotal tracks completed reply pipelines by outcome.
	PipelinesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipelines_total",
			Help: "Total reply pipelines run",
		},
		[]string{"mode", "status"},
	)

	// PhaseDuration tracks the duration of each generation phase.
	PhaseDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "phase_duration_seconds",
			Help:    "Generation phase duration in seconds",
			Buckets: []float64{1, 2, 5, 10, 20, 30, 45, 60, 90, 120},
		},
		[]string{"phase", "status"},
	)

	// FramesTotal tracks decoded stream frames by kind.
	FramesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stream_frames_total",
			Help: "Total decoded stream frames",
		},
		[]string{"kind"},
	)

	// FollowUpsTotal tracks follow-up generation attempts.
	FollowUpsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "followups_total",
			Help: "Total follow-up question generation attempts",
		},
		[]string{"status"},
	)

	// SSEConnectionsActive tracks active SSE connections.
	SSEConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sse_connections_active",
			Help: "Number of active SSE connections",
		},
	)

	// MessagesTotal tracks total messages appended to the store.
	MessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "messages_total",
			Help: "Total messages appended",
		},
		[]string{"role"},
	)

	// ConversationsTotal tracks total conversations created.
	ConversationsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "conversations_total",
			Help: "Total conversations created",
		},
	)

	// PersistWritesTotal tracks snapshot write-throughs.
	PersistWritesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "persist_writes_total",
			Help: "Total state snapshot writes",
		},
		[]string{"backend", "status"},
	)
)

// RecordRequest records metrics for an HTTP request.
func RecordRequest(method, path, status string, duration float64) {
	RequestDuration.WithLabelValues(method, path, status).Observe(duration)
	RequestsTotal.WithLabelValues(method, path, status).Inc()
}

// RecordPhase records metrics for one generation phase.
func RecordPhase(phase, status string, duration float64) {
	PhaseDuration.WithLabelValues(phase, status).Observe(duration)
}

// RecordPipeline records the outcome of one reply pipeline.
func RecordPipeline(mode, status string) {
	PipelinesTotal.WithLabelValues(mode, status).Inc()
}

// RecordFollowUp records the outcome of one follow-up generation attempt.
func RecordFollowUp(status string) {
	FollowUpsTotal.WithLabelValues(status).Inc()
}

// IncrementSSEConnections increments the active SSE connection count.
func IncrementSSEConnections() {
	SSEConnectionsActive.Inc()
}

// DecrementSSEConnections decrements the active SSE connection count.
func DecrementSSEConnections() {
	SSEConnectionsActive.Dec()
}
