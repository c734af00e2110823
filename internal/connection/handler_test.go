package connection

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/Congyuwang/wuziqi/internal/protocol"
	"github.com/Congyuwang/wuziqi/internal/registry"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeSocket is an in-memory Socket so Handler can be exercised without a
// real network connection, mirroring the teacher's own wsConnection test
// doubles.
type fakeSocket struct {
	mu        sync.Mutex
	fromPeer  chan []byte
	toPeer    [][]byte
	closed    bool
	closeOnce sync.Once
}

func newFakeSocket() *fakeSocket {
	return &fakeSocket{fromPeer: make(chan []byte, 32)}
}

func (f *fakeSocket) ReadMessage() (int, []byte, error) {
	data, ok := <-f.fromPeer
	if !ok {
		return 0, nil, errClosed
	}
	return websocket.TextMessage, data, nil
}

func (f *fakeSocket) WriteMessage(messageType int, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := make([]byte, len(data))
	copy(cp, data)
	f.toPeer = append(f.toPeer, cp)
	return nil
}

func (f *fakeSocket) Close() error {
	f.closeOnce.Do(func() {
		f.mu.Lock()
		f.closed = true
		f.mu.Unlock()
		close(f.fromPeer)
	})
	return nil
}

func (f *fakeSocket) SetWriteDeadline(t time.Time) error { return nil }

func (f *fakeSocket) send(t *testing.T, msg protocol.ClientMessage) {
	t.Helper()
	data, err := json.Marshal(msg)
	require.NoError(t, err, "marshal client message")
	f.fromPeer <- data
}

func (f *fakeSocket) lastKind(t *testing.T) protocol.ServerKind {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.toPeer) == 0 {
		return ""
	}
	var msg protocol.ServerMessage
	require.NoError(t, json.Unmarshal(f.toPeer[len(f.toPeer)-1], &msg), "unmarshal server message")
	return msg.Kind
}

func (f *fakeSocket) lastRaw(t *testing.T) []byte {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.toPeer, "no outbound frames captured yet")
	raw := f.toPeer[len(f.toPeer)-1]
	cp := make([]byte, len(raw))
	copy(cp, raw)
	return cp
}

func (f *fakeSocket) kinds(t *testing.T) []protocol.ServerKind {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []protocol.ServerKind
	for _, raw := range f.toPeer {
		var msg protocol.ServerMessage
		require.NoError(t, json.Unmarshal(raw, &msg), "unmarshal server message")
		out = append(out, msg.Kind)
	}
	return out
}

// errClosed is a sentinel used by fakeSocket.ReadMessage once the channel closes.
type closedError struct{}

func (closedError) Error() string { return "fake socket closed" }

var errClosed = closedError{}

func testDefaults() registry.Defaults {
	return registry.Defaults{MoveTimeout: 2 * time.Second, UndoRequestTimeout: 2 * time.Second}
}

// newTestHandler wires a Handler over a fakeSocket and guarantees the
// socket is closed at test end, which drives readPump/writePump to exit —
// required for this package's goleak check to stay clean.
func newTestHandler(t *testing.T, reg *registry.Registry) (*Handler, *fakeSocket) {
	t.Helper()
	sock := newFakeSocket()
	h := New(sock, reg, nil, 8, time.Second)
	t.Cleanup(func() { sock.Close() })
	go h.Run()
	return h, sock
}

func TestUserNameHandshake(t *testing.T) {
	_, sock := newTestHandler(t, registry.New(testDefaults()))

	sock.send(t, protocol.ClientMessage{Kind: protocol.KindUserName, UserName: "alice"})
	time.Sleep(10 * time.Millisecond)

	assert.Equal(t, protocol.KindConnectionSuccess, sock.lastKind(t), "expected ConnectionSuccess, got %v", sock.kinds(t))
}

func TestPlayBeforeUserNameIsConnectionInitFailure(t *testing.T) {
	_, sock := newTestHandler(t, registry.New(testDefaults()))

	sock.send(t, protocol.ClientMessage{Kind: protocol.KindPlay, X: 1, Y: 1})
	time.Sleep(10 * time.Millisecond)

	assert.Equal(t, protocol.KindConnectionInitFailure, sock.lastKind(t), "expected ConnectionInitFailure, got %v", sock.kinds(t))
}

func TestPlayWhileIdleIsRejectedAsPhaseInvalid(t *testing.T) {
	_, sock := newTestHandler(t, registry.New(testDefaults()))

	sock.send(t, protocol.ClientMessage{Kind: protocol.KindUserName, UserName: "alice"})
	time.Sleep(10 * time.Millisecond)
	sock.send(t, protocol.ClientMessage{Kind: protocol.KindPlay, X: 1, Y: 1})
	time.Sleep(10 * time.Millisecond)

	assert.Equal(t, protocol.KindGameSessionError, sock.lastKind(t), "expected GameSessionError for Play while Idle, got %v", sock.kinds(t))
}

func TestCreateThenJoinEndToEnd(t *testing.T) {
	reg := registry.New(testDefaults())

	_, aSock := newTestHandler(t, reg)
	_, bSock := newTestHandler(t, reg)

	aSock.send(t, protocol.ClientMessage{Kind: protocol.KindUserName, UserName: "alice"})
	time.Sleep(5 * time.Millisecond)
	aSock.send(t, protocol.ClientMessage{Kind: protocol.KindCreateRoom})
	time.Sleep(10 * time.Millisecond)

	require.Equal(t, protocol.KindRoomCreated, aSock.lastKind(t), "expected RoomCreated, got %v", aSock.kinds(t))
	var created protocol.ServerMessage
	require.NoError(t, json.Unmarshal(aSock.lastRaw(t), &created), "unmarshal RoomCreated")
	token := created.RoomToken

	bSock.send(t, protocol.ClientMessage{Kind: protocol.KindUserName, UserName: "bob"})
	time.Sleep(5 * time.Millisecond)
	bSock.send(t, protocol.ClientMessage{Kind: protocol.KindJoinRoom, RoomToken: token})
	time.Sleep(10 * time.Millisecond)

	assert.Equal(t, protocol.KindJoinRoomSuccess, bSock.lastKind(t), "expected JoinRoomSuccess, got %v", bSock.kinds(t))
	assert.Contains(t, aSock.kinds(t), protocol.KindOpponentJoinRoom, "expected alice to see OpponentJoinRoom")

	aSock.send(t, protocol.ClientMessage{Kind: protocol.KindReady})
	bSock.send(t, protocol.ClientMessage{Kind: protocol.KindReady})
	time.Sleep(20 * time.Millisecond)

	assert.Contains(t, aSock.kinds(t), protocol.KindGameStarted, "expected alice to see GameStarted")
	assert.Contains(t, bSock.kinds(t), protocol.KindGameStarted, "expected bob to see GameStarted")

	aSock.send(t, protocol.ClientMessage{Kind: protocol.KindPlay, X: 7, Y: 7})
	time.Sleep(10 * time.Millisecond)

	assert.Contains(t, aSock.kinds(t), protocol.KindFieldUpdate, "expected FieldUpdate after a valid play")
}

func TestJoinUnknownTokenFailureTokenNotFound(t *testing.T) {
	reg := registry.New(testDefaults())
	_, sock := newTestHandler(t, reg)

	sock.send(t, protocol.ClientMessage{Kind: protocol.KindUserName, UserName: "alice"})
	time.Sleep(5 * time.Millisecond)
	sock.send(t, protocol.ClientMessage{Kind: protocol.KindJoinRoom, RoomToken: "NOPE"})
	time.Sleep(10 * time.Millisecond)

	assert.Equal(t, protocol.KindJoinRoomFailureTokenNotFound, sock.lastKind(t), "expected JoinRoomFailureTokenNotFound, got %v", sock.kinds(t))
}
