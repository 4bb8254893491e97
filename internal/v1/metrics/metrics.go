package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics for the signaling service.
//
// Naming convention: namespace_subsystem_name
// - namespace: serenada (application-level grouping)
// - subsystem: signaling (this service)
// - name: specific metric (connections_active, messages_rx_total, etc.)
//
// Metric Types:
// - Gauge: current state (connections, rooms, watcher subscriptions)
// - Counter: cumulative events (messages, drops, disconnects)
// - Histogram: latency distributions (join handling time)
//
// Label cardinality is bounded: transport is ws|sse, message types and
// disconnect reasons come from fixed protocol vocabularies (callers
// normalize unknown values before recording).

var (
	// ConnectionAttempts counts transport handshakes started, by transport.
	ConnectionAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "serenada",
		Subsystem: "signaling",
		Name:      "connection_attempts_total",
		Help:      "Total connection attempts by transport",
	}, []string{"transport"})

	// ConnectionSuccesses counts handshakes that produced a registered session.
	ConnectionSuccesses = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "serenada",
		Subsystem: "signaling",
		Name:      "connection_successes_total",
		Help:      "Total successful connections by transport",
	}, []string{"transport"})

	// ConnectionFailures counts handshakes rejected or failed before registration.
	ConnectionFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "serenada",
		Subsystem: "signaling",
		Name:      "connection_failures_total",
		Help:      "Total failed connection attempts by transport",
	}, []string{"transport"})

	// ActiveConnections tracks currently registered sessions, by transport.
	ActiveConnections = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "serenada",
		Subsystem: "signaling",
		Name:      "connections_active",
		Help:      "Current number of registered sessions by transport",
	}, []string{"transport"})

	// ActiveRooms tracks rooms with at least one participant.
	ActiveRooms = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "serenada",
		Subsystem: "signaling",
		Name:      "rooms_active",
		Help:      "Current number of active rooms",
	})

	// WatchedRooms tracks distinct rooms with at least one watcher.
	WatchedRooms = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "serenada",
		Subsystem: "signaling",
		Name:      "watched_rooms",
		Help:      "Current number of rooms with at least one watcher",
	})

	// WatcherSubscriptions tracks total session-to-room watch edges.
	WatcherSubscriptions = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "serenada",
		Subsystem: "signaling",
		Name:      "watcher_subscriptions",
		Help:      "Current number of watcher subscriptions across all rooms",
	})

	// MessagesReceived counts inbound envelopes by message type.
	MessagesReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "serenada",
		Subsystem: "signaling",
		Name:      "messages_rx_total",
		Help:      "Total inbound messages by type",
	}, []string{"type"})

	// MessagesSent counts outbound envelopes by message type.
	MessagesSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "serenada",
		Subsystem: "signaling",
		Name:      "messages_tx_total",
		Help:      "Total outbound messages by type",
	}, []string{"type"})

	// SendQueueDrops counts outbound frames dropped on full session queues.
	SendQueueDrops = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "serenada",
		Subsystem: "signaling",
		Name:      "send_queue_drops_total",
		Help:      "Total outbound messages dropped due to full send queues",
	})

	// Disconnects counts session teardowns by reason.
	Disconnects = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "serenada",
		Subsystem: "signaling",
		Name:      "disconnects_total",
		Help:      "Total disconnects by reason",
	}, []string{"reason"})

	// RateLimited counts requests rejected by the per-IP limiter, by endpoint.
	RateLimited = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "serenada",
		Subsystem: "signaling",
		Name:      "rate_limited_total",
		Help:      "Total requests rejected by the rate limiter by endpoint",
	}, []string{"endpoint"})

	// JoinDuration tracks time spent handling a join request.
	JoinDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "serenada",
		Subsystem: "signaling",
		Name:      "join_duration_seconds",
		Help:      "Time spent handling join requests",
		Buckets:   []float64{.005, .01, .025, .05, .1, .2, .5, 1, 2, 5, 10},
	})
)
