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

	// SSEConnectionsActive tracks active SSE connections.
	SSEConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sse_connections_active",
			Help: "Number of active SSE connections",
		},
	)

	// MessagesTotal tracks total messages persisted, by sender role.
	MessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "messages_total",
			Help: "Total encrypted messages persisted",
		},
		[]string{"role"},
	)

	// CounsellingRequestsTotal tracks request lifecycle outcomes.
	CounsellingRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "counselling_requests_total",
			Help: "Counselling requests by lifecycle outcome",
		},
		[]string{"outcome"},
	)

	// ConversationsActivatedTotal tracks conversation activations.
	ConversationsActivatedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "conversations_activated_total",
			Help: "Conversation activations, reused vs freshly created",
		},
		[]string{"mode"},
	)

	// DecryptFailuresTotal tracks AEAD authentication failures.
	DecryptFailuresTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "decrypt_failures_total",
			Help: "AEAD tag verification failures on unwrap or decrypt",
		},
	)

	// RoomEventsPublished tracks events fanned out to rooms.
	RoomEventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "room_events_published_total",
			Help: "Events published to broadcast rooms",
		},
		[]string{"event"},
	)
)

// RecordRequest records metrics for an HTTP request.
func RecordRequest(method, path, status string, duration float64) {
	RequestDuration.WithLabelValues(method, path, status).Observe(duration)
	RequestsTotal.WithLabelValues(method, path, status).Inc()
}

// IncrementSSEConnections increments the active SSE connection count.
func IncrementSSEConnections() {
	SSEConnectionsActive.Inc()
}

// DecrementSSEConnections decrements the active SSE connection count.
func DecrementSSEConnections() {
	SSEConnectionsActive.Dec()
}
