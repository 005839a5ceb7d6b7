package monitoring

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Prometheus collectors shared across the process, registered once at
// package init as package-level vars rather than threaded through
// every constructor.
var (
	ConnectionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "duelcore_connections_active",
		Help: "Number of currently authenticated sessions.",
	})
	ConnectionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "duelcore_connections_total",
		Help: "Total sessions ever established.",
	})
	ConnectionsFailed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "duelcore_connections_failed_total",
		Help: "Total connections rejected by admission control or failing the WebSocket upgrade.",
	})

	MessagesReceived = promauto.NewCounter(prometheus.CounterOpts{
		Name: "duelcore_messages_received_total",
		Help: "Total inbound messages processed.",
	})
	MessagesSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "duelcore_messages_sent_total",
		Help: "Total outbound messages delivered.",
	})
	MessagesDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "duelcore_messages_dropped_total",
		Help: "Messages dropped due to a full send buffer, by channel.",
	}, []string{"channel"})

	QueueSize = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "duelcore_queue_size",
		Help: "Current matchmaking queue size, by mode.",
	}, []string{"mode"})

	BattlesActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "duelcore_battles_active",
		Help: "Number of battles created and not yet finished (waiting or active phase).",
	})
	BattlesFinished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "duelcore_battles_finished_total",
		Help: "Total battles that reached the finished phase, by termination reason.",
	}, []string{"reason"})

	RateLimitedMessages = promauto.NewCounter(prometheus.CounterOpts{
		Name: "duelcore_rate_limited_messages_total",
		Help: "Inbound messages dropped for exceeding the per-client rate limit.",
	})

	SettlementFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "duelcore_settlement_failures_total",
		Help: "PlayerStore save failures encountered while settling a battle.",
	})
)

// HandleMetrics serves the Prometheus exposition format.
var HandleMetrics = promhttp.Handler().ServeHTTP

// Handler exposes the /metrics endpoint as an http.Handler, for callers
// that want to mount it with their own mux.
func Handler() http.Handler {
	return promhttp.Handler()
}
