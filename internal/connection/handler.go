// Package connection implements the Connection Handler (spec §4.5): the
// per-client task that ingests client messages, enforces the current
// phase, routes valid messages to Room/Session, and forwards Responses
// back to the socket.
//
// Grounded on the retrieval pack's transport.Client: the same
// readPump/writePump goroutine pair, a bounded outbound channel in place
// of Client.send/prioritySend (this protocol has no priority class to
// split on), and conn wrapped behind a small interface so tests can swap
// in a fake without a real socket (wsConnection in the teacher).
package connection

import (
	"context"
	"sync"
	"time"

	"github.com/Congyuwang/wuziqi/internal/logging"
	"github.com/Congyuwang/wuziqi/internal/metrics"
	"github.com/Congyuwang/wuziqi/internal/protocol"
	"github.com/Congyuwang/wuziqi/internal/registry"
	"github.com/Congyuwang/wuziqi/internal/room"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Phase is the Connection Handler's own state (spec §4.5).
type Phase int

const (
	PhaseAwaitUserName Phase = iota
	PhaseIdle
	PhaseInRoom
	PhaseInGame
	phaseTerminal
)

// Socket is the subset of *websocket.Conn the Handler depends on, narrowed
// so tests can substitute an in-memory fake (mirrors the teacher's
// wsConnection interface).
type Socket interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
	SetWriteDeadline(t time.Time) error
}

// UserLimiter enforces the per-username connection-attempt rate limit
// (spec §6 configuration surface), checked once the UserName handshake
// message is read.
type UserLimiter interface {
	CheckUser(ctx context.Context, userName string) error
}

// Handler is the per-connection task described in spec §4.5.
type Handler struct {
	conn        Socket
	registry    *registry.Registry
	userLimiter UserLimiter

	outbound   chan protocol.ServerMessage
	stallGrace time.Duration
	closeOnce  sync.Once
	closedCh   chan struct{}

	mu       sync.Mutex
	phase    Phase
	userName string
	room     *room.Room
	seat     room.Seat
}

// New creates a Handler. outboundCapacity and stallGrace come from the
// configuration surface named in spec §6. userLimiter may be nil to skip
// the per-username rate check (e.g. in tests).
func New(conn Socket, reg *registry.Registry, userLimiter UserLimiter, outboundCapacity int, stallGrace time.Duration) *Handler {
	return &Handler{
		conn:        conn,
		registry:    reg,
		userLimiter: userLimiter,
		outbound:    make(chan protocol.ServerMessage, outboundCapacity),
		stallGrace:  stallGrace,
		closedCh:    make(chan struct{}),
		phase:       PhaseAwaitUserName,
	}
}

// Run drives the connection until the socket closes or the client exits.
// It blocks, so callers run it directly on the goroutine spawned per
// accepted connection.
func (h *Handler) Run() {
	metrics.IncConnection()
	defer metrics.DecConnection()

	go h.writePump()
	h.readPump()
}

func (h *Handler) readPump() {
	defer h.teardown()

	for {
		messageType, data, err := h.conn.ReadMessage()
		if err != nil {
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}

		msg, err := protocol.UnmarshalClientMessage(data)
		if err != nil {
			logging.Warn(context.Background(), "dropping malformed client message", zap.Error(err))
			continue
		}

		h.handle(msg)
	}
}

func (h *Handler) writePump() {
	const writeWait = 10 * time.Second
	defer h.conn.Close()

	for {
		select {
		case msg := <-h.outbound:
			data, err := msg.Marshal()
			if err != nil {
				logging.Error(context.Background(), "failed to marshal server message", zap.Error(err))
				continue
			}
			h.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := h.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-h.closedCh:
			h.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		}
	}
}

// Deliver implements room.ConnSender. A full outbound queue is backpressure
// (spec §5): the caller (a Room or Session goroutine) suspends here for up
// to stallGrace before the connection is declared stalled and torn down as
// a Disconnected.
//
// h.outbound is never closed (only h.closedCh is) precisely so a Room or
// Session goroutine racing a concurrent teardown can never select a send on
// a closed channel and panic; every select below carries a closedCh case
// as the only shutdown signal this method ever watches.
func (h *Handler) Deliver(msg protocol.ServerMessage) {
	h.mu.Lock()
	h.applyPhaseTransition(msg.Kind)
	h.mu.Unlock()

	select {
	case h.outbound <- msg:
		return
	case <-h.closedCh:
		return
	default:
	}

	select {
	case h.outbound <- msg:
	case <-time.After(h.stallGrace):
		logging.Warn(context.Background(), "connection stalled past grace window, disconnecting")
		h.teardown()
	case <-h.closedCh:
	}
}

// applyPhaseTransition updates the Handler's own phase in response to a
// server message it is about to deliver to its client — the InRoom→InGame
// and InGame→InRoom edges of spec §4.5's automaton are driven by these
// Room/Session-originated messages, not by anything the client sent.
// Must be called with h.mu held.
func (h *Handler) applyPhaseTransition(kind protocol.ServerKind) {
	switch kind {
	case protocol.KindGameStarted:
		h.phase = PhaseInGame
	case protocol.KindGameEndBlackWins, protocol.KindGameEndWhiteWins, protocol.KindGameEndDraw,
		protocol.KindGameEndBlackTimeout, protocol.KindGameEndWhiteTimeout,
		protocol.KindOpponentQuitGameSession:
		h.phase = PhaseInRoom
	}
}

func (h *Handler) handle(msg protocol.ClientMessage) {
	h.mu.Lock()
	phase := h.phase
	h.mu.Unlock()

	switch phase {
	case PhaseAwaitUserName:
		h.handleAwaitUserName(msg)
	case PhaseIdle:
		h.handleIdle(msg)
	case PhaseInRoom:
		h.handleInRoom(msg)
	case PhaseInGame:
		h.handleInGame(msg)
	}
}

func (h *Handler) handleAwaitUserName(msg protocol.ClientMessage) {
	if msg.Kind != protocol.KindUserName || msg.UserName == "" {
		h.Deliver(protocol.ServerMessage{Kind: protocol.KindConnectionInitFailure, ConnectionInitFailureReason: "first message must be UserName"})
		return
	}

	if h.userLimiter != nil {
		if err := h.userLimiter.CheckUser(context.Background(), msg.UserName); err != nil {
			h.Deliver(protocol.ServerMessage{Kind: protocol.KindConnectionInitFailure, ConnectionInitFailureReason: "rate limited"})
			h.teardown()
			return
		}
	}

	h.mu.Lock()
	h.userName = msg.UserName
	h.phase = PhaseIdle
	h.mu.Unlock()

	h.Deliver(protocol.ServerMessage{Kind: protocol.KindConnectionSuccess})
}

func (h *Handler) handleIdle(msg protocol.ClientMessage) {
	switch msg.Kind {
	case protocol.KindUserName:
		h.Deliver(protocol.ServerMessage{Kind: protocol.KindConnectionInitFailure, ConnectionInitFailureReason: "already registered"})

	case protocol.KindCreateRoom:
		token, r := h.registry.Create(msg.SessionConfig, h.userName, h)
		h.mu.Lock()
		h.room = r
		h.seat = room.SeatCreator
		h.phase = PhaseInRoom
		h.mu.Unlock()
		h.Deliver(protocol.ServerMessage{Kind: protocol.KindRoomCreated, RoomToken: token})

	case protocol.KindJoinRoom:
		r, state, err := h.registry.Join(msg.RoomToken, h.userName, h)
		if err != nil {
			switch err.(type) {
			case registry.ErrTokenNotFound:
				h.Deliver(protocol.ServerMessage{Kind: protocol.KindJoinRoomFailureTokenNotFound})
			default:
				h.Deliver(protocol.ServerMessage{Kind: protocol.KindJoinRoomFailureRoomFull})
			}
			return
		}
		h.mu.Lock()
		h.room = r
		h.seat = room.SeatJoiner
		h.phase = PhaseInRoom
		h.mu.Unlock()
		h.Deliver(protocol.ServerMessage{Kind: protocol.KindJoinRoomSuccess, RoomToken: msg.RoomToken, RoomState: &state})

	default:
		h.rejectPhaseInvalid()
	}
}

func (h *Handler) handleInRoom(msg protocol.ClientMessage) {
	r, seat := h.currentRoom()
	if r == nil {
		h.rejectPhaseInvalid()
		return
	}

	switch msg.Kind {
	case protocol.KindReady:
		r.Ready(seat)
	case protocol.KindUnready:
		r.Unready(seat)
	case protocol.KindQuitRoom:
		r.QuitRoom(seat)
		h.mu.Lock()
		h.room = nil
		h.phase = PhaseIdle
		h.mu.Unlock()
	case protocol.KindChatMessage:
		r.Chat(seat, h.userName, msg.Text)
	case protocol.KindExitGame:
		h.exitGame(r, seat)
	default:
		h.rejectPhaseInvalid()
	}
}

func (h *Handler) handleInGame(msg protocol.ClientMessage) {
	r, seat := h.currentRoom()
	if r == nil {
		h.rejectPhaseInvalid()
		return
	}

	switch msg.Kind {
	case protocol.KindPlay:
		r.Play(seat, msg.X, msg.Y)
	case protocol.KindRequestUndo:
		r.RequestUndo(seat)
	case protocol.KindApproveUndo:
		r.ApproveUndo(seat)
	case protocol.KindRejectUndo:
		r.RejectUndo(seat)
	case protocol.KindQuitGameSession:
		r.QuitGameSession(seat)
	case protocol.KindChatMessage:
		r.Chat(seat, h.userName, msg.Text)
	case protocol.KindExitGame:
		h.exitGame(r, seat)
	default:
		h.rejectPhaseInvalid()
	}
}

// exitGame has already told the Room about the departure (spec §4.3:
// "ExitGame is QuitRoom composed with closing the connection"), so the
// teardown here must not notify the Room a second time as a Disconnected.
func (h *Handler) exitGame(r *room.Room, seat room.Seat) {
	h.closeOnce.Do(func() {
		h.mu.Lock()
		h.room = nil
		h.phase = phaseTerminal
		h.mu.Unlock()

		r.ExitGame(seat)
		close(h.closedCh)
		h.conn.Close()
	})
}

func (h *Handler) currentRoom() (*room.Room, room.Seat) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.room, h.seat
}

// rejectPhaseInvalid answers a message that is not routable in the
// connection's current phase (spec §4.5: "never routed").
func (h *Handler) rejectPhaseInvalid() {
	h.Deliver(protocol.ServerMessage{Kind: protocol.KindGameSessionError, ErrorMessage: "message not valid in current phase"})
}

// teardown notifies the Room (if any) of this connection's departure and
// closes the outbound pipeline exactly once.
func (h *Handler) teardown() {
	h.closeOnce.Do(func() {
		h.mu.Lock()
		r := h.room
		seat := h.seat
		h.phase = phaseTerminal
		h.mu.Unlock()

		if r != nil {
			r.Disconnected(seat)
		}

		close(h.closedCh)
		h.conn.Close()
	})
}
