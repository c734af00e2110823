// Package protocol defines the JSON wire envelopes exchanged between a
// Connection Handler and its client (spec §6).
//
// The teacher repo encodes its wire messages with protobuf oneofs generated
// from .proto sources (internal/v1/types/types.go's pb.WebSocketMessage).
// No .proto file or generated gen/proto package exists anywhere in the
// retrieval pack, so generating one here would mean hand-authoring a fake
// protobuf.Message implementation behind a replace directive — exactly the
// kind of vendored fake this project avoids. Instead this package follows
// the plain tagged-union-over-JSON shape used by the pack's message-builder
// helpers (internal/v1/room/admin_helpers.go's buildKickMessage and
// friends): one envelope type with a `Kind` discriminator and a single
// populated payload field, marshaled with encoding/json.
package protocol

import "encoding/json"

// ClientKind discriminates an inbound ClientMessage.
type ClientKind string

const (
	KindUserName        ClientKind = "UserName"
	KindCreateRoom       ClientKind = "CreateRoom"
	KindJoinRoom         ClientKind = "JoinRoom"
	KindQuitRoom         ClientKind = "QuitRoom"
	KindReady            ClientKind = "Ready"
	KindUnready          ClientKind = "Unready"
	KindPlay             ClientKind = "Play"
	KindRequestUndo      ClientKind = "RequestUndo"
	KindApproveUndo      ClientKind = "ApproveUndo"
	KindRejectUndo       ClientKind = "RejectUndo"
	KindQuitGameSession  ClientKind = "QuitGameSession"
	KindChatMessage      ClientKind = "ChatMessage"
	KindExitGame         ClientKind = "ExitGame"
	KindClientError      ClientKind = "ClientError"
)

// ClientMessage is the envelope for every client→server message (spec §6).
// Exactly the fields relevant to Kind are populated; the rest are zero.
type ClientMessage struct {
	Kind ClientKind `json:"kind"`

	UserName string `json:"userName,omitempty"`

	SessionConfig *SessionConfig `json:"sessionConfig,omitempty"`

	RoomToken string `json:"roomToken,omitempty"`

	X int `json:"x,omitempty"`
	Y int `json:"y,omitempty"`

	Text string `json:"text,omitempty"`
}

// SessionConfig carries the client-supplied room options named in spec §3.
// Zero values mean "use server default"; internal/registry resolves
// those against the configured defaults when the room is created.
type SessionConfig struct {
	MoveTimeoutMs        int64 `json:"moveTimeoutMs,omitempty"`
	UndoRequestTimeoutMs int64 `json:"undoRequestTimeoutMs,omitempty"`
	UndoDial             *int  `json:"undoDial,omitempty"`
}

// ServerKind discriminates an outbound ServerMessage.
type ServerKind string

const (
	KindConnectionSuccess             ServerKind = "ConnectionSuccess"
	KindConnectionInitFailure         ServerKind = "ConnectionInitFailure"
	KindRoomCreated                   ServerKind = "RoomCreated"
	KindJoinRoomSuccess               ServerKind = "JoinRoomSuccess"
	KindJoinRoomFailureTokenNotFound  ServerKind = "JoinRoomFailureTokenNotFound"
	KindJoinRoomFailureRoomFull       ServerKind = "JoinRoomFailureRoomFull"
	KindOpponentJoinRoom              ServerKind = "OpponentJoinRoom"
	KindOpponentQuitRoom              ServerKind = "OpponentQuitRoom"
	KindOpponentReady                 ServerKind = "OpponentReady"
	KindOpponentUnready               ServerKind = "OpponentUnready"
	KindGameStarted                   ServerKind = "GameStarted"
	KindFieldUpdate                   ServerKind = "FieldUpdate"
	KindUndoRequest                   ServerKind = "UndoRequest"
	KindUndoTimeoutRejected           ServerKind = "UndoTimeoutRejected"
	KindUndoAutoRejected              ServerKind = "UndoAutoRejected"
	KindUndo                          ServerKind = "Undo"
	KindUndoRejectedByOpponent        ServerKind = "UndoRejectedByOpponent"
	KindGameEndBlackTimeout           ServerKind = "GameEndBlackTimeout"
	KindGameEndWhiteTimeout           ServerKind = "GameEndWhiteTimeout"
	KindGameEndBlackWins              ServerKind = "GameEndBlackWins"
	KindGameEndWhiteWins              ServerKind = "GameEndWhiteWins"
	KindGameEndDraw                   ServerKind = "GameEndDraw"
	KindRoomScores                    ServerKind = "RoomScores"
	KindOpponentQuitGameSession       ServerKind = "OpponentQuitGameSession"
	KindOpponentExitGame              ServerKind = "OpponentExitGame"
	KindOpponentDisconnected          ServerKind = "OpponentDisconnected"
	KindGameSessionError              ServerKind = "GameSessionError"
	KindChatMessageOut                ServerKind = "ChatMessage"
)

// RoomState reports the opposing slot's name and ready flag, sent to a
// joiner on JoinRoomSuccess (spec §4.3).
type RoomState struct {
	OpponentName  string `json:"opponentName"`
	OpponentReady bool   `json:"opponentReady"`
}

// ScoreLine is one (name, score) pair in a RoomScores message.
type ScoreLine struct {
	Name  string `json:"name"`
	Score int    `json:"score"`
}

// Cell mirrors board.Cell's three values for wire encoding, decoupling the
// wire format from the board package's internal representation.
type Cell int

const (
	CellEmpty Cell = iota
	CellBlack
	CellWhite
)

// FieldState mirrors board.FieldState for wire encoding (spec §3).
type FieldState struct {
	Cells     [][]Cell `json:"cells"`
	ToMove    string   `json:"toMove"`
	MoveCount int      `json:"moveCount"`
}

// FieldStateNullable mirrors board.FieldStateNullable for wire encoding.
type FieldStateNullable struct {
	Cells     [][]Cell `json:"cells"`
	ToMove    string   `json:"toMove"`
	MoveCount int      `json:"moveCount"`
	Cleared   *Pos     `json:"cleared,omitempty"`
}

// Pos is a wire-encoded board coordinate.
type Pos struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// ServerMessage is the envelope for every server→client message (spec §6).
type ServerMessage struct {
	Kind ServerKind `json:"kind"`

	ConnectionInitFailureReason string `json:"connectionInitFailureReason,omitempty"`

	RoomToken string     `json:"roomToken,omitempty"`
	RoomState *RoomState `json:"roomState,omitempty"`

	OpponentName string `json:"opponentName,omitempty"`

	Color string `json:"color,omitempty"`

	FieldState         *FieldState         `json:"fieldState,omitempty"`
	FieldStateNullable *FieldStateNullable `json:"fieldStateNullable,omitempty"`

	Scores []ScoreLine `json:"scores,omitempty"`

	ErrorMessage string `json:"errorMessage,omitempty"`

	ChatFrom string `json:"chatFrom,omitempty"`
	ChatText string `json:"chatText,omitempty"`
}

// Marshal encodes a ServerMessage as a JSON text frame.
func (m ServerMessage) Marshal() ([]byte, error) {
	return json.Marshal(m)
}

// UnmarshalClientMessage decodes a JSON text frame into a ClientMessage.
func UnmarshalClientMessage(data []byte) (ClientMessage, error) {
	var m ClientMessage
	err := json.Unmarshal(data, &m)
	return m, err
}
