// Package room implements the Room state machine (spec §4.3): pairs two
// connections, tracks ready flags, owns consecutive game sessions, and
// accumulates scores across rounds.
//
// Grounded on the retrieval pack's room state machine shapes: the locked,
// synchronous-method style of internal/v1/room/room.go (sync.RWMutex plus
// an onEmpty callback fired when the last slot vacates) combined with the
// two-seat Register/Unregister shape of the os-tactiactoe-backend room
// package. Unlike gamesession.Session, a Room is not a channel actor: its
// mutations are short, non-blocking, and triggered directly by the owning
// Connection Handler's goroutine, so a mutex is the idiomatic fit (matching
// the teacher's own choice for its Room type).
package room

import (
	"context"
	"sync"

	"github.com/Congyuwang/wuziqi/internal/board"
	"github.com/Congyuwang/wuziqi/internal/gamesession"
	"github.com/Congyuwang/wuziqi/internal/logging"
	"github.com/Congyuwang/wuziqi/internal/metrics"
	"github.com/Congyuwang/wuziqi/internal/protocol"
	"go.uber.org/zap"
)

// ConnSender delivers a ServerMessage to one connected player. Implemented
// by internal/connection's per-connection handler.
type ConnSender interface {
	Deliver(msg protocol.ServerMessage)
}

// Seat identifies which of a Room's two slots a Connection Handler holds.
// The creator is always Black and the joiner always White, for every
// session played in this room (spec §4.3: "the room creator is Black, the
// joiner is White").
type Seat int

const (
	SeatCreator Seat = iota
	SeatJoiner
)

func (s Seat) color() board.Color {
	if s == SeatCreator {
		return board.Black
	}
	return board.White
}

// slot is one occupied seat (spec §3 PlayerSlot).
type slot struct {
	name  string
	ready bool
	conn  ConnSender
	score int
}

// ErrRoomFull is returned by Join when the joiner seat is already occupied
// or the creator's seat has been vacated; a vacated creator seat is never
// refilled, so a room whose creator has left accepts no new joiner.
type ErrRoomFull struct{}

func (ErrRoomFull) Error() string { return "room is full" }

// Room is a two-seat container owning consecutive game sessions and score
// counters (spec §3 "Room").
type Room struct {
	mu sync.Mutex

	token      string
	defaultCfg gamesession.Config

	creator *slot
	joiner  *slot

	session *gamesession.Session

	// onEmpty notifies the Registry that this room has no seats left and
	// can be removed from the process-wide map (spec §4.4).
	onEmpty func(token string)
}

// New creates a Room with its creator already seated. Matches spec §3's
// lifecycle note: "A Room is created by CreateRoom... A PlayerSlot exists
// from JoinRoomSuccess (or RoomCreated)".
func New(token string, defaultCfg gamesession.Config, creatorName string, creatorConn ConnSender, onEmpty func(string)) *Room {
	return &Room{
		token:      token,
		defaultCfg: defaultCfg,
		creator:    &slot{name: creatorName, conn: creatorConn},
		onEmpty:    onEmpty,
	}
}

// Token returns the room's identifier.
func (r *Room) Token() string {
	return r.token
}

// Join seats a second player, returning the RoomState snapshot the joiner
// needs for its own JoinRoomSuccess response, and notifies the creator with
// OpponentJoinRoom (spec §4.3).
func (r *Room) Join(name string, conn ConnSender) (protocol.RoomState, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.joiner != nil || r.creator == nil {
		return protocol.RoomState{}, ErrRoomFull{}
	}

	r.joiner = &slot{name: name, conn: conn}
	r.creator.conn.Deliver(protocol.ServerMessage{Kind: protocol.KindOpponentJoinRoom, OpponentName: name})

	metrics.RoomSlotsOccupied.WithLabelValues(r.token).Set(2)

	return protocol.RoomState{OpponentName: r.creator.name, OpponentReady: r.creator.ready}, nil
}

func (r *Room) slotFor(seat Seat) *slot {
	if seat == SeatCreator {
		return r.creator
	}
	return r.joiner
}

func (r *Room) opponentSlot(seat Seat) *slot {
	if seat == SeatCreator {
		return r.joiner
	}
	return r.creator
}

// Ready marks seat's slot ready, notifying the opponent, and starts a
// Session once both slots are ready (spec §4.3 Ready→Ready transition).
func (r *Room) Ready(seat Seat) {
	r.mu.Lock()
	me := r.slotFor(seat)
	opp := r.opponentSlot(seat)
	if me == nil || me.ready {
		r.mu.Unlock()
		return
	}
	me.ready = true
	if opp != nil {
		opp.conn.Deliver(protocol.ServerMessage{Kind: protocol.KindOpponentReady})
	}

	start := opp != nil && opp.ready && r.session == nil
	r.mu.Unlock()

	if start {
		r.startSession()
	}
}

// Unready clears seat's ready flag and notifies the opponent.
func (r *Room) Unready(seat Seat) {
	r.mu.Lock()
	defer r.mu.Unlock()

	me := r.slotFor(seat)
	if me == nil || !me.ready {
		return
	}
	me.ready = false
	if opp := r.opponentSlot(seat); opp != nil {
		opp.conn.Deliver(protocol.ServerMessage{Kind: protocol.KindOpponentUnready})
	}
}

// sessionSender adapts a Room into gamesession.Sender, looking up the live
// connection for a color at send time.
type sessionSender struct {
	room *Room
}

func (a sessionSender) Send(to board.Color, msg protocol.ServerMessage) {
	a.room.mu.Lock()
	var target *slot
	if to == SeatCreator.color() {
		target = a.room.creator
	} else {
		target = a.room.joiner
	}
	a.room.mu.Unlock()

	if target != nil {
		target.conn.Deliver(msg)
	}
}

func (r *Room) startSession() {
	r.mu.Lock()
	if r.session != nil {
		r.mu.Unlock()
		return
	}
	session := gamesession.New(r.defaultCfg, sessionSender{room: r})
	r.session = session
	r.mu.Unlock()

	r.creator.conn.Deliver(protocol.ServerMessage{Kind: protocol.KindGameStarted, Color: board.Black.String()})
	r.joiner.conn.Deliver(protocol.ServerMessage{Kind: protocol.KindGameStarted, Color: board.White.String()})

	metrics.ActiveSessions.Inc()
	logging.Info(context.Background(), "game session started", zap.String("room_token", r.token))

	go r.awaitSessionEnd(session)
}

func (r *Room) awaitSessionEnd(session *gamesession.Session) {
	result := <-session.Done()
	metrics.ActiveSessions.Dec()
	r.onSessionEnd(result)
}

// onSessionEnd applies the end-of-session accounting in spec §4.2 and
// restores the Room to TwoSeated (or fewer seats, for Exit/Disconnect).
func (r *Room) onSessionEnd(result gamesession.Result) {
	r.mu.Lock()

	r.session = nil
	r.creator.ready = false
	if r.joiner != nil {
		r.joiner.ready = false
	}

	var scoresMsg *protocol.ServerMessage
	switch result.Reason {
	case gamesession.EndWin:
		winnerSlot := r.creator
		if result.Winner == board.White {
			winnerSlot = r.joiner
		}
		winnerSlot.score++
		msg := protocol.ServerMessage{
			Kind: protocol.KindRoomScores,
			Scores: []protocol.ScoreLine{
				{Name: r.creator.name, Score: r.creator.score},
				{Name: r.joiner.name, Score: r.joiner.score},
			},
		}
		scoresMsg = &msg
	case gamesession.EndExit, gamesession.EndDisconnected:
		r.removeSeat(result.Actor)
	}

	empty := r.creator == nil && r.joiner == nil
	token := r.token
	onEmpty := r.onEmpty

	r.mu.Unlock()

	if scoresMsg != nil {
		r.creator.conn.Deliver(*scoresMsg)
		if r.joiner != nil {
			r.joiner.conn.Deliver(*scoresMsg)
		}
	}

	if empty && onEmpty != nil {
		onEmpty(token)
	}
}

// removeSeat clears the slot for color, called while r.mu is held.
func (r *Room) removeSeat(color board.Color) {
	if color == board.Black {
		r.creator = nil
	} else {
		r.joiner = nil
	}
}

// forwardToSession is a small helper used by every in-game routing method below.
func (r *Room) forwardToSession(f func(s *gamesession.Session)) {
	r.mu.Lock()
	s := r.session
	r.mu.Unlock()
	if s != nil {
		f(s)
	}
}

// Play routes a Play message to the active Session, if any.
func (r *Room) Play(seat Seat, x, y int) {
	color := seat.color()
	r.forwardToSession(func(s *gamesession.Session) { s.Play(color, x, y) })
}

// RequestUndo routes an undo request to the active Session.
func (r *Room) RequestUndo(seat Seat) {
	color := seat.color()
	r.forwardToSession(func(s *gamesession.Session) { s.RequestUndo(color) })
}

// ApproveUndo routes an undo approval to the active Session.
func (r *Room) ApproveUndo(seat Seat) {
	color := seat.color()
	r.forwardToSession(func(s *gamesession.Session) { s.ApproveUndo(color) })
}

// RejectUndo routes an undo rejection to the active Session.
func (r *Room) RejectUndo(seat Seat) {
	color := seat.color()
	r.forwardToSession(func(s *gamesession.Session) { s.RejectUndo(color) })
}

// QuitGameSession routes an in-game quit to the active Session; both slots
// remain seated (spec §4.2).
func (r *Room) QuitGameSession(seat Seat) {
	color := seat.color()
	r.forwardToSession(func(s *gamesession.Session) { s.QuitGameSession(color) })
}

// ExitGame ends any active session for seat's color (the Session itself
// notifies the opponent and reports EndExit, which onSessionEnd uses to
// remove the slot) and, if no session is active, performs the seat removal
// directly — mirroring QuitRoom but for the closing-connection case.
func (r *Room) ExitGame(seat Seat) {
	color := seat.color()

	r.mu.Lock()
	active := r.session != nil
	r.mu.Unlock()

	if active {
		r.forwardToSession(func(s *gamesession.Session) { s.ExitGame(color) })
		return
	}

	r.quitRoomAsColor(color, protocol.KindOpponentExitGame)
}

// Disconnected is the transport-level equivalent of ExitGame, fired by the
// Connection Handler when the socket closes unexpectedly.
func (r *Room) Disconnected(seat Seat) {
	color := seat.color()

	r.mu.Lock()
	active := r.session != nil
	r.mu.Unlock()

	if active {
		r.forwardToSession(func(s *gamesession.Session) { s.Disconnected(color) })
		return
	}

	r.quitRoomAsColor(color, protocol.KindOpponentDisconnected)
}

// QuitRoom removes seat's slot while no session is active: the opponent is
// notified and the room returns to OneSeated (spec §4.3). The Connection
// Handler is responsible for rejecting a QuitRoom message received while
// InGame (spec §4.5's phase automaton has no InGame→QuitRoom edge; that
// case reaches the Session via QuitGameSession or ExitGame instead).
func (r *Room) QuitRoom(seat Seat) {
	r.quitRoomAsColor(seat.color(), protocol.KindOpponentQuitRoom)
}

func (r *Room) quitRoomAsColor(color board.Color, notify protocol.ServerKind) {
	r.mu.Lock()

	var opp *slot
	if color == board.Black {
		opp = r.joiner
	} else {
		opp = r.creator
	}
	r.removeSeat(color)

	empty := r.creator == nil && r.joiner == nil
	token := r.token
	onEmpty := r.onEmpty

	r.mu.Unlock()

	if opp != nil {
		opp.conn.Deliver(protocol.ServerMessage{Kind: notify})
	}
	if empty && onEmpty != nil {
		onEmpty(token)
	}
}

// Chat forwards a chat message from seat to its opponent, if seated. Chat is
// not gated by session state: it is available in both InRoom and InGame
// (spec §6 lists ChatMessage without scoping it to a phase).
func (r *Room) Chat(seat Seat, from, text string) {
	r.mu.Lock()
	opp := r.opponentSlot(seat)
	r.mu.Unlock()

	if opp != nil {
		opp.conn.Deliver(protocol.ServerMessage{Kind: protocol.KindChatMessageOut, ChatFrom: from, ChatText: text})
	}
}

// IsEmpty reports whether both seats are vacant.
func (r *Room) IsEmpty() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.creator == nil && r.joiner == nil
}
