package gamesession

import (
	"testing"
	"time"

	"github.com/Congyuwang/wuziqi/internal/board"
	"github.com/Congyuwang/wuziqi/internal/protocol"
	"github.com/stretchr/testify/assert"
)

// recordingSender captures every message sent to each color for assertions.
type recordingSender struct {
	mu   chan struct{} // trivial mutex via buffered channel, avoids importing sync in a tiny test helper
	msgs map[board.Color][]protocol.ServerMessage
}

func newRecordingSender() *recordingSender {
	s := &recordingSender{mu: make(chan struct{}, 1), msgs: map[board.Color][]protocol.ServerMessage{}}
	s.mu <- struct{}{}
	return s
}

func (s *recordingSender) Send(to board.Color, msg protocol.ServerMessage) {
	<-s.mu
	s.msgs[to] = append(s.msgs[to], msg)
	s.mu <- struct{}{}
}

func (s *recordingSender) kindsFor(c board.Color) []protocol.ServerKind {
	<-s.mu
	defer func() { s.mu <- struct{}{} }()
	var kinds []protocol.ServerKind
	for _, m := range s.msgs[c] {
		kinds = append(kinds, m.Kind)
	}
	return kinds
}

func lastKind(kinds []protocol.ServerKind) protocol.ServerKind {
	if len(kinds) == 0 {
		return ""
	}
	return kinds[len(kinds)-1]
}

func testConfig() Config {
	return Config{
		MoveTimeout:        200 * time.Millisecond,
		UndoRequestTimeout: 200 * time.Millisecond,
	}
}

func waitForResult(t *testing.T, s *Session) Result {
	t.Helper()
	select {
	case r := <-s.Done():
		return r
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for session result")
		return Result{}
	}
}

// newTestSession creates a Session and registers a cleanup that forces it to
// end (if it hasn't already), so its actor goroutine and timers never
// outlive the test — required for this package's goleak check to stay
// clean.
func newTestSession(t *testing.T, cfg Config, sender Sender) *Session {
	t.Helper()
	s := New(cfg, sender)
	t.Cleanup(func() { s.Disconnected(board.Black) })
	return s
}

func TestHappyGameBlackWins(t *testing.T) {
	sender := newRecordingSender()
	s := newTestSession(t, testConfig(), sender)

	// Black plays a horizontal five-in-a-row at y=0; White plays elsewhere each turn.
	for i := 0; i < 5; i++ {
		s.Play(board.Black, i, 0)
		time.Sleep(5 * time.Millisecond)
		if i < 4 {
			s.Play(board.White, i, 5)
			time.Sleep(5 * time.Millisecond)
		}
	}

	result := waitForResult(t, s)
	assert.Equal(t, EndWin, result.Reason)
	assert.Equal(t, board.Black, result.Winner)

	blackKinds := sender.kindsFor(board.Black)
	assert.Equal(t, protocol.KindGameEndBlackWins, lastKind(blackKinds))
}

func TestOccupiedCellIsGameSessionError(t *testing.T) {
	sender := newRecordingSender()
	s := newTestSession(t, testConfig(), sender)

	s.Play(board.Black, 7, 7)
	time.Sleep(10 * time.Millisecond)
	s.Play(board.White, 7, 7)
	time.Sleep(10 * time.Millisecond)

	assert.Equal(t, protocol.KindGameSessionError, lastKind(sender.kindsFor(board.White)))
}

func TestNotYourTurnIsGameSessionError(t *testing.T) {
	sender := newRecordingSender()
	s := newTestSession(t, testConfig(), sender)

	s.Play(board.White, 1, 1) // Black moves first; White playing now is out of turn
	time.Sleep(10 * time.Millisecond)

	assert.Equal(t, protocol.KindGameSessionError, lastKind(sender.kindsFor(board.White)))
}

func TestOutOfBoundsIsSilentlyDropped(t *testing.T) {
	sender := newRecordingSender()
	s := newTestSession(t, testConfig(), sender)

	s.Play(board.Black, -1, 0)
	time.Sleep(10 * time.Millisecond)

	assert.Empty(t, sender.kindsFor(board.Black))
}

// TestUndoApproved mirrors scenario S2: after Black plays, White requests an
// undo and Black approves it; turn returns to Black.
func TestUndoApproved(t *testing.T) {
	sender := newRecordingSender()
	s := newTestSession(t, testConfig(), sender)

	s.Play(board.Black, 3, 3)
	time.Sleep(10 * time.Millisecond)

	s.RequestUndo(board.White)
	time.Sleep(10 * time.Millisecond)

	assert.Equal(t, protocol.KindUndoRequest, lastKind(sender.kindsFor(board.Black)), "expected Black (approver) to receive UndoRequest")

	s.ApproveUndo(board.Black)
	time.Sleep(10 * time.Millisecond)

	assert.Equal(t, protocol.KindUndo, lastKind(sender.kindsFor(board.Black)))
	assert.Equal(t, protocol.KindUndo, lastKind(sender.kindsFor(board.White)), "expected Undo message to White too")

	// Turn is back to Black: Black should be able to play again immediately.
	s.Play(board.Black, 5, 5)
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, protocol.KindFieldUpdate, lastKind(sender.kindsFor(board.Black)), "expected Black's replay to succeed after undo")
}

// TestUndoAutoRejectRace mirrors scenario S3: Black plays, then (racing)
// requests an undo, but White plays instead of answering — the pending
// request is auto-rejected rather than silently accepted or errored.
func TestUndoAutoRejectRace(t *testing.T) {
	sender := newRecordingSender()
	s := newTestSession(t, testConfig(), sender)

	s.Play(board.Black, 3, 3)
	time.Sleep(10 * time.Millisecond)

	// Black's undo request reaches the actor first and White's play follows
	// right behind it, simulating the race described in S3: the approver
	// (White) moves instead of responding to the pending request.
	s.RequestUndo(board.Black)
	s.Play(board.White, 4, 4)
	time.Sleep(20 * time.Millisecond)

	assert.Contains(t, sender.kindsFor(board.Black), protocol.KindUndoAutoRejected)
}

func TestRejectUndoNotifiesRequester(t *testing.T) {
	sender := newRecordingSender()
	s := newTestSession(t, testConfig(), sender)

	s.Play(board.Black, 0, 0)
	time.Sleep(10 * time.Millisecond)
	s.RequestUndo(board.White)
	time.Sleep(10 * time.Millisecond)
	s.RejectUndo(board.Black)
	time.Sleep(10 * time.Millisecond)

	assert.Equal(t, protocol.KindUndoRejectedByOpponent, lastKind(sender.kindsFor(board.White)))
}

func TestUndoTimeoutFiresAfterGracePeriod(t *testing.T) {
	sender := newRecordingSender()
	cfg := testConfig()
	cfg.UndoRequestTimeout = 30 * time.Millisecond
	s := newTestSession(t, cfg, sender)

	s.Play(board.Black, 0, 0)
	time.Sleep(10 * time.Millisecond)
	s.RequestUndo(board.White)
	time.Sleep(80 * time.Millisecond)

	assert.Equal(t, protocol.KindUndoTimeoutRejected, lastKind(sender.kindsFor(board.Black)))
	assert.Equal(t, protocol.KindUndoTimeoutRejected, lastKind(sender.kindsFor(board.White)), "expected UndoTimeoutRejected for requester too")
}

// TestMoveTimeout mirrors scenario S4.
func TestMoveTimeout(t *testing.T) {
	sender := newRecordingSender()
	cfg := testConfig()
	cfg.MoveTimeout = 30 * time.Millisecond
	s := newTestSession(t, cfg, sender)

	result := waitForResult(t, s)
	assert.Equal(t, EndBlackTimeout, result.Reason)
	assert.Equal(t, protocol.KindGameEndBlackTimeout, lastKind(sender.kindsFor(board.White)))
}

func TestQuitGameSessionNotifiesOpponentWithoutScoring(t *testing.T) {
	sender := newRecordingSender()
	s := newTestSession(t, testConfig(), sender)

	s.QuitGameSession(board.Black)
	result := waitForResult(t, s)
	assert.Equal(t, EndQuit, result.Reason)
	assert.Equal(t, board.Black, result.Actor)
	assert.Equal(t, protocol.KindOpponentQuitGameSession, lastKind(sender.kindsFor(board.White)))
}

func TestDisconnectedNotifiesOpponent(t *testing.T) {
	sender := newRecordingSender()
	s := newTestSession(t, testConfig(), sender)

	s.Disconnected(board.Black)
	result := waitForResult(t, s)
	assert.Equal(t, EndDisconnected, result.Reason)
	assert.Equal(t, board.Black, result.Actor)
	assert.Equal(t, protocol.KindOpponentDisconnected, lastKind(sender.kindsFor(board.White)))
}

func TestUndoDialExhaustion(t *testing.T) {
	sender := newRecordingSender()
	cfg := testConfig()
	dial := 0
	cfg.UndoDial = &dial
	s := newTestSession(t, cfg, sender)

	s.Play(board.Black, 0, 0)
	time.Sleep(10 * time.Millisecond)
	s.RequestUndo(board.White)
	time.Sleep(10 * time.Millisecond)

	assert.Equal(t, protocol.KindGameSessionError, lastKind(sender.kindsFor(board.White)), "expected GameSessionError once undo dial is exhausted")
}

func TestNoMessagesAfterGameEnd(t *testing.T) {
	sender := newRecordingSender()
	s := newTestSession(t, testConfig(), sender)

	for i := 0; i < 5; i++ {
		s.Play(board.Black, i, 0)
		time.Sleep(5 * time.Millisecond)
		if i < 4 {
			s.Play(board.White, i, 5)
			time.Sleep(5 * time.Millisecond)
		}
	}
	waitForResult(t, s)

	before := len(sender.kindsFor(board.Black))
	s.Play(board.Black, 10, 10) // dropped: session already ended
	time.Sleep(10 * time.Millisecond)
	after := len(sender.kindsFor(board.Black))

	assert.Equal(t, before, after, "expected no further messages after game end")
}
