// Package metrics provides Prometheus metrics for the realtime messaging service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ActiveSessions tracks live sessions registered on this node.
	ActiveSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "scenyx_active_sessions",
			Help: "Number of live sessions registered on this node",
		},
	)

	// SessionsClosed counts deregistrations by reason.
	SessionsClosed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scenyx_sessions_closed_total",
			Help: "Total number of sessions removed from the registry",
		},
		[]string{"reason"},
	)

	// MessagesSequenced counts messages durably stamped by the sequencer.
	MessagesSequenced = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "scenyx_messages_sequenced_total",
			Help: "Total number of messages assigned a sequence number and persisted",
		},
	)

	// PersistRetries counts retried persistence attempts.
	PersistRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "scenyx_persist_retries_total",
			Help: "Total number of retried message persistence attempts",
		},
	)

	// PersistFailures counts sends that surfaced a persistence failure.
	PersistFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "scenyx_persist_failures_total",
			Help: "Total number of sends that failed after exhausting retries",
		},
	)

	// SendDuration tracks end-to-end sequencing latency.
	SendDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "scenyx_send_duration_seconds",
			Help:    "Duration of sequencing and persisting a message",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		},
	)

	// Deliveries counts delivery outcomes.
	Deliveries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scenyx_deliveries_total",
			Help: "Total number of delivery attempts by outcome",
		},
		[]string{"outcome"},
	)

	// StatusTransitions counts delivery status changes.
	StatusTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scenyx_status_transitions_total",
			Help: "Total number of message delivery status transitions",
		},
		[]string{"to_status"},
	)

	// FramesDropped counts droppable frames shed under backpressure.
	FramesDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scenyx_frames_dropped_total",
			Help: "Total number of outbound frames dropped under backpressure",
		},
		[]string{"kind"},
	)

	// SlowConsumers counts forced slow-consumer disconnects.
	SlowConsumers = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "scenyx_slow_consumer_disconnects_total",
			Help: "Total number of sessions disconnected for not draining their outbox",
		},
	)

	// PresenceFanout counts presence frames accepted by peer sessions.
	PresenceFanout = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scenyx_presence_fanout_total",
			Help: "Total number of presence frames pushed to peer sessions",
		},
		[]string{"state"},
	)

	// OfflineNotifications counts offline-notification hand-offs by result.
	OfflineNotifications = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scenyx_offline_notifications_total",
			Help: "Total number of offline notifications by result",
		},
		[]string{"result"},
	)
)

// RecordSessionOpened increments session gauges.
func RecordSessionOpened() {
	ActiveSessions.Inc()
}

// RecordSessionClosed decrements the active gauge and counts the reason.
func RecordSessionClosed(reason string) {
	ActiveSessions.Dec()
	SessionsClosed.WithLabelValues(reason).Inc()
}

// RecordDelivery counts one delivery outcome.
func RecordDelivery(outcome string) {
	Deliveries.WithLabelValues(outcome).Inc()
}

// RecordStatusTransition counts a status change.
func RecordStatusTransition(to string) {
	StatusTransitions.WithLabelValues(to).Inc()
}
