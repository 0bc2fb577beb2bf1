// ABOUTME: Prometheus metrics for the messaging gateway
// ABOUTME: Counters and gauges covering authentication, streams, and message operations

package gateway

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	authTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "parley_authentications_total",
		Help: "Total session tokens issued.",
	})

	activeStreams = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "parley_event_streams_active",
		Help: "Currently open SSE event streams.",
	})

	messagesSubmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "parley_messages_submitted_total",
		Help: "Messages accepted, labeled by status after initial fan-out.",
	}, []string{"status"})

	messagesRead = promauto.NewCounter(prometheus.CounterOpts{
		Name: "parley_messages_read_total",
		Help: "Messages whose read-by set changed via read receipts.",
	})

	messagesEdited = promauto.NewCounter(prometheus.CounterOpts{
		Name: "parley_messages_edited_total",
		Help: "Successful message edits.",
	})

	messagesDeleted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "parley_messages_deleted_total",
		Help: "Successful message deletions.",
	})

	sendRateLimited = promauto.NewCounter(prometheus.CounterOpts{
		Name: "parley_sends_rate_limited_total",
		Help: "Send requests rejected by the per-user rate limiter.",
	})
)
