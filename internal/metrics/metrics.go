package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Ingestion metrics
	MessagesIngested = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sms_bridge_messages_ingested_total",
			Help: "Messages stored, by delivery channel",
		},
		[]string{"channel"}, // "stream", "mirror", "poll" or "threads"
	)

	MessagesDeduplicated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sms_bridge_messages_deduplicated_total",
			Help: "Inserts dropped because the message id was already stored",
		},
	)

	StoredMessages = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sms_bridge_stored_messages",
			Help: "Messages currently held in the buffer",
		},
	)

	// Channel metrics
	StreamReconnects = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sms_bridge_stream_reconnects_total",
			Help: "Stream connection attempts scheduled after a close or error",
		},
	)

	PollRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sms_bridge_poll_requests_total",
			Help: "Poll fallback fetches",
		},
		[]string{"outcome"}, // "ok" or "error"
	)

	// Caller-facing metrics
	ActiveWaiters = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sms_bridge_active_waiters",
			Help: "Blocked wait_for_sms calls",
		},
	)

	ToolCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sms_bridge_tool_calls_total",
			Help: "Tool invocations",
		},
		[]string{"tool", "status"},
	)
)
