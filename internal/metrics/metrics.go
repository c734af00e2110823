// Package metrics declares the Prometheus metrics for the gomoku server.
//
// Naming convention: namespace_subsystem_name
//   - namespace: gomoku (application-level grouping)
//   - subsystem: connection, room, session (feature-level grouping)
//   - name: specific metric
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ActiveConnections tracks the current number of connected clients.
	ActiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "gomoku",
		Subsystem: "connection",
		Name:      "active",
		Help:      "Current number of active WebSocket connections",
	})

	// ActiveRooms tracks the current number of live rooms.
	ActiveRooms = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "gomoku",
		Subsystem: "room",
		Name:      "active",
		Help:      "Current number of live rooms in the registry",
	})

	// RoomSlotsOccupied tracks occupied slots per room.
	RoomSlotsOccupied = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "gomoku",
		Subsystem: "room",
		Name:      "slots_occupied",
		Help:      "Number of occupied seats in a room (0, 1 or 2)",
	}, []string{"room_token"})

	// ActiveSessions tracks the number of in-progress game sessions.
	ActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "gomoku",
		Subsystem: "session",
		Name:      "active",
		Help:      "Current number of in-progress game sessions",
	})

	// MovesTotal counts accepted moves by color.
	MovesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gomoku",
		Subsystem: "session",
		Name:      "moves_total",
		Help:      "Total accepted moves, by color",
	}, []string{"color"})

	// SessionEndsTotal counts how game sessions ended, by reason.
	SessionEndsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gomoku",
		Subsystem: "session",
		Name:      "ends_total",
		Help:      "Total game sessions ended, labeled by reason",
	}, []string{"reason"})

	// UndoRequestsTotal counts undo requests by outcome.
	UndoRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gomoku",
		Subsystem: "session",
		Name:      "undo_requests_total",
		Help:      "Total undo requests, labeled by outcome",
	}, []string{"outcome"})

	// MessageEventsTotal counts inbound client messages processed, by kind and status.
	MessageEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gomoku",
		Subsystem: "connection",
		Name:      "messages_total",
		Help:      "Total inbound client messages processed",
	}, []string{"kind", "status"})

	// OutboundDroppedTotal counts outbound messages dropped due to a full send queue.
	OutboundDroppedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gomoku",
		Subsystem: "connection",
		Name:      "outbound_dropped_total",
		Help:      "Total outbound messages dropped because the send queue was full",
	}, []string{"kind"})

	// RateLimitExceeded counts requests rejected by the rate limiter.
	RateLimitExceeded = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gomoku",
		Subsystem: "ratelimit",
		Name:      "exceeded_total",
		Help:      "Total requests rejected by the rate limiter",
	}, []string{"scope"})
)

// IncConnection records a newly established connection.
func IncConnection() {
	ActiveConnections.Inc()
}

// DecConnection records a torn-down connection.
func DecConnection() {
	ActiveConnections.Dec()
}
