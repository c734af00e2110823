// Package gamesession implements the Game Session state machine (spec §4.2):
// one round of play from GameStarted to GameEnd*, including turn order,
// per-color move clocks, and undo negotiation.
//
// Grounded on the retrieval pack's yagoggame-gomaster game package: a single
// goroutine owns all mutable state and is driven exclusively by a command
// channel (there: `Game chan *gameCommand`; here: Session.cmdCh), with
// exported methods that only construct a command and enqueue it. That
// actor shape is what makes the Session's ordering guarantees in spec §4.2
// ("Ordering guarantees" paragraph) hold without any lock: every Play,
// RequestUndo, ApproveUndo, RejectUndo, timer fire, and disconnect notice
// is linearized by arriving through the same channel.
package gamesession

import (
	"time"

	"github.com/Congyuwang/wuziqi/internal/board"
	"github.com/Congyuwang/wuziqi/internal/protocol"
)

// Sender delivers a ServerMessage to one color's connection. Room supplies
// this when it creates a Session; the Session never talks to a connection
// directly (spec §9: "each holds only a send-handle to the other").
type Sender interface {
	Send(to board.Color, msg protocol.ServerMessage)
}

// EndReason classifies how a Session reached its ended state.
type EndReason int

const (
	EndWin EndReason = iota
	EndDraw
	EndBlackTimeout
	EndWhiteTimeout
	EndQuit
	EndExit
	EndDisconnected
)

// Result is delivered on Session.Done() exactly once, when the session
// transitions to ended (spec §3 "Lifecycles").
type Result struct {
	Reason EndReason
	// Winner is valid only when Reason == EndWin.
	Winner board.Color
	// Actor is the color that quit, exited, or disconnected; valid only
	// for EndQuit, EndExit, EndDisconnected.
	Actor board.Color
}

// undoPending describes an in-flight undo negotiation.
type undoPending struct {
	requester board.Color
	approver  board.Color
	gen       int
}

// Session is the single-goroutine actor for one round of play.
type Session struct {
	cmdCh    chan any
	closedCh chan struct{}

	send Sender
	cfg  Config

	board *board.Board

	undo *undoPending // nil when undo_state == Idle

	undosUsed map[board.Color]int

	moveTimer *time.Timer
	moveGen   int

	undoTimer *time.Timer
	undoGenCounter int

	doneCh chan Result
}

// command payloads. Unexported: only this package's goroutine ever switches on them.
type (
	cmdPlay struct {
		color board.Color
		x, y  int
	}
	cmdRequestUndo struct{ color board.Color }
	cmdApproveUndo struct{ color board.Color }
	cmdRejectUndo  struct{ color board.Color }
	cmdQuit        struct{ color board.Color }
	cmdExit        struct{ color board.Color }
	cmdDisconnect  struct{ color board.Color }
	cmdMoveTimeout struct {
		color board.Color
		gen   int
	}
	cmdUndoTimeout struct{ gen int }
)

// New creates and starts a Session goroutine. Black always moves first
// (spec §3); the move clock for Black starts immediately.
func New(cfg Config, send Sender) *Session {
	s := &Session{
		cmdCh:     make(chan any, 32),
		closedCh:  make(chan struct{}),
		send:      send,
		cfg:       cfg,
		board:     board.New(),
		undosUsed: map[board.Color]int{board.Black: 0, board.White: 0},
		doneCh:    make(chan Result, 1),
	}
	go s.run()
	s.armMoveTimer(board.Black)
	return s
}

// Done returns the channel that receives this Session's single Result once
// it ends.
func (s *Session) Done() <-chan Result {
	return s.doneCh
}

// Play enqueues a move attempt by color at (x, y).
func (s *Session) Play(color board.Color, x, y int) {
	s.enqueue(cmdPlay{color: color, x: x, y: y})
}

// RequestUndo enqueues an undo request from color.
func (s *Session) RequestUndo(color board.Color) {
	s.enqueue(cmdRequestUndo{color: color})
}

// ApproveUndo enqueues an undo approval from color.
func (s *Session) ApproveUndo(color board.Color) {
	s.enqueue(cmdApproveUndo{color: color})
}

// RejectUndo enqueues an undo rejection from color.
func (s *Session) RejectUndo(color board.Color) {
	s.enqueue(cmdRejectUndo{color: color})
}

// QuitGameSession enqueues a voluntary, in-game quit from color.
func (s *Session) QuitGameSession(color board.Color) {
	s.enqueue(cmdQuit{color: color})
}

// ExitGame enqueues a full exit (quit plus connection close) from color.
func (s *Session) ExitGame(color board.Color) {
	s.enqueue(cmdExit{color: color})
}

// Disconnected enqueues a transport-level disconnect notice for color.
func (s *Session) Disconnected(color board.Color) {
	s.enqueue(cmdDisconnect{color: color})
}

// enqueue delivers cmd to the actor goroutine, or drops it silently once the
// Session has already ended — matching spec §8 invariant 5 ("after GameEnd*,
// no further FieldUpdate or Undo is emitted").
func (s *Session) enqueue(cmd any) {
	select {
	case s.cmdCh <- cmd:
	case <-s.closedCh:
	}
}

func (s *Session) run() {
	defer close(s.closedCh)
	defer s.cancelTimers()

	for cmd := range s.cmdCh {
		var result *Result
		switch c := cmd.(type) {
		case cmdPlay:
			result = s.handlePlay(c.color, c.x, c.y)
		case cmdRequestUndo:
			s.handleRequestUndo(c.color)
		case cmdApproveUndo:
			s.handleApproveUndo(c.color)
		case cmdRejectUndo:
			s.handleRejectUndo(c.color)
		case cmdQuit:
			result = &Result{Reason: EndQuit, Actor: c.color}
		case cmdExit:
			result = &Result{Reason: EndExit, Actor: c.color}
		case cmdDisconnect:
			result = &Result{Reason: EndDisconnected, Actor: c.color}
		case cmdMoveTimeout:
			if c.gen == s.moveGen {
				reason := EndBlackTimeout
				if c.color == board.White {
					reason = EndWhiteTimeout
				}
				result = &Result{Reason: reason}
			}
		case cmdUndoTimeout:
			if s.undo != nil && c.gen == s.undo.gen {
				s.send.Send(board.Black, protocol.ServerMessage{Kind: protocol.KindUndoTimeoutRejected})
				s.send.Send(board.White, protocol.ServerMessage{Kind: protocol.KindUndoTimeoutRejected})
				s.undo = nil
			}
		}

		if result != nil {
			s.finish(*result)
			return
		}
	}
}

func (s *Session) finish(result Result) {
	switch result.Reason {
	case EndQuit:
		s.sendToOpponent(result.Actor, protocol.ServerMessage{Kind: protocol.KindOpponentQuitGameSession})
	case EndExit:
		s.sendToOpponent(result.Actor, protocol.ServerMessage{Kind: protocol.KindOpponentExitGame})
	case EndDisconnected:
		s.sendToOpponent(result.Actor, protocol.ServerMessage{Kind: protocol.KindOpponentDisconnected})
	case EndBlackTimeout:
		s.sendBoth(protocol.ServerMessage{Kind: protocol.KindGameEndBlackTimeout})
	case EndWhiteTimeout:
		s.sendBoth(protocol.ServerMessage{Kind: protocol.KindGameEndWhiteTimeout})
	}
	s.doneCh <- result
}

// handlePlay implements spec §4.2's Play operation, including the undo-race
// resolution: if the mover is the color currently on the hook to approve a
// pending undo, that pending request is auto-rejected before the move is
// applied (spec S3).
func (s *Session) handlePlay(color board.Color, x, y int) *Result {
	pos := board.Position{X: x, Y: y}
	if !pos.InBounds() {
		return nil // silently dropped, spec §3
	}

	if s.undo != nil && s.undo.approver == color {
		s.sendBoth(protocol.ServerMessage{Kind: protocol.KindUndoAutoRejected})
		s.cancelUndoTimer()
		s.undo = nil
	}

	if s.board.ToMove() != color {
		s.send.Send(color, gameSessionError("not your turn"))
		return nil
	}

	res, field := s.board.Place(color, pos)
	switch res {
	case board.Occupied:
		s.send.Send(color, gameSessionError("occupied"))
		return nil
	case board.OutOfBounds:
		return nil
	}

	s.resetMoveClock(field.ToMove)

	update := protocol.ServerMessage{Kind: protocol.KindFieldUpdate, FieldState: ptrFieldState(wireFieldState(field))}
	s.send.Send(color, update)
	s.send.Send(color.Opponent(), update)

	term := s.board.CheckTerminal(pos)
	switch term.Kind {
	case board.Win:
		kind := protocol.KindGameEndBlackWins
		if term.Winner == board.White {
			kind = protocol.KindGameEndWhiteWins
		}
		s.sendBoth(protocol.ServerMessage{Kind: kind})
		return &Result{Reason: EndWin, Winner: term.Winner}
	case board.Draw:
		s.sendBoth(protocol.ServerMessage{Kind: protocol.KindGameEndDraw})
		return &Result{Reason: EndDraw}
	}
	return nil
}

// handleRequestUndo implements spec §4.2's RequestUndo operation. The
// literal "if turn = c -> error" precondition in the prose is inconsistent
// with scenario S2 (where the requester legitimately holds the turn after
// their opponent's move) and is not enforced here; see DESIGN.md.
func (s *Session) handleRequestUndo(color board.Color) {
	if s.undo != nil {
		return // ban Undo while one is already pending
	}
	if s.board.MoveCount() == 0 {
		s.send.Send(color, gameSessionError("no move to undo"))
		return
	}
	if dial := s.cfg.UndoDial; dial != nil && s.undosUsed[color] >= *dial {
		s.send.Send(color, gameSessionError("undo dial exhausted"))
		return
	}

	approver := color.Opponent()
	s.undoGenCounter++
	s.undo = &undoPending{requester: color, approver: approver, gen: s.undoGenCounter}
	s.send.Send(approver, protocol.ServerMessage{Kind: protocol.KindUndoRequest})
	s.armUndoTimer(s.undo.gen)
}

func (s *Session) handleApproveUndo(color board.Color) {
	if s.undo == nil || s.undo.approver != color {
		s.send.Send(color, gameSessionError("no undo pending"))
		return
	}
	requester := s.undo.requester
	s.cancelUndoTimer()
	s.undo = nil

	field := s.board.UndoLast()
	s.undosUsed[requester]++
	s.resetMoveClock(field.ToMove)

	msg := protocol.ServerMessage{Kind: protocol.KindUndo, FieldStateNullable: ptrFieldStateNullable(wireFieldStateNullable(field))}
	s.sendBoth(msg)
}

func (s *Session) handleRejectUndo(color board.Color) {
	if s.undo == nil || s.undo.approver != color {
		return
	}
	requester := s.undo.requester
	s.cancelUndoTimer()
	s.undo = nil
	s.send.Send(requester, protocol.ServerMessage{Kind: protocol.KindUndoRejectedByOpponent})
}

func (s *Session) sendBoth(msg protocol.ServerMessage) {
	s.send.Send(board.Black, msg)
	s.send.Send(board.White, msg)
}

func (s *Session) sendToOpponent(of board.Color, msg protocol.ServerMessage) {
	s.send.Send(of.Opponent(), msg)
}

func gameSessionError(text string) protocol.ServerMessage {
	return protocol.ServerMessage{Kind: protocol.KindGameSessionError, ErrorMessage: text}
}

func ptrFieldState(f protocol.FieldState) *protocol.FieldState { return &f }

func ptrFieldStateNullable(f protocol.FieldStateNullable) *protocol.FieldStateNullable {
	return &f
}

// --- move clock ---

func (s *Session) armMoveTimer(color board.Color) {
	s.moveGen++
	gen := s.moveGen
	timeout := s.cfg.MoveTimeout
	s.moveTimer = time.AfterFunc(timeout, func() {
		s.enqueue(cmdMoveTimeout{color: color, gen: gen})
	})
}

func (s *Session) resetMoveClock(newMover board.Color) {
	if s.moveTimer != nil {
		s.moveTimer.Stop()
	}
	s.armMoveTimer(newMover)
}

// --- undo clock ---

func (s *Session) armUndoTimer(gen int) {
	s.undoTimer = time.AfterFunc(s.cfg.UndoRequestTimeout, func() {
		s.enqueue(cmdUndoTimeout{gen: gen})
	})
}

func (s *Session) cancelUndoTimer() {
	if s.undoTimer != nil {
		s.undoTimer.Stop()
		s.undoTimer = nil
	}
}

func (s *Session) cancelTimers() {
	if s.moveTimer != nil {
		s.moveTimer.Stop()
	}
	s.cancelUndoTimer()
}
