package types

import (
	"encoding/json"
)

// --- Core Domain Types ---

// RoomID identifies a signaling room. Minted server-side, self-authenticating
// (random bytes plus an HMAC tag, see the roomid package).
type RoomID string

// ClientID identifies a caller within a room. It survives transport
// reconnects so peers can recognize a returning caller.
type ClientID string

// SessionID identifies one live transport connection. A reconnect gets a new
// session unless it reuses the same sid over SSE.
type SessionID string

// TransportKind distinguishes how a session is connected.
type TransportKind string

const (
	TransportWS  TransportKind = "ws"
	TransportSSE TransportKind = "sse"
)

// ProtocolVersion is the only envelope version the server accepts.
const ProtocolVersion = 1

// --- Wire Envelope ---

// Message is the single envelope exchanged over both transports. Every
// field except V and Type is optional and omitted when empty.
type Message struct {
	V       int             `json:"v"`
	Type    string          `json:"type"`
	RID     RoomID          `json:"rid,omitempty"`
	SID     SessionID       `json:"sid,omitempty"`
	CID     ClientID        `json:"cid,omitempty"`
	To      ClientID        `json:"to,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Participant is the wire shape of a room member. JoinedAt is included in
// `joined` payloads and omitted from `room_state` snapshots.
type Participant struct {
	CID      ClientID `json:"cid"`
	JoinedAt int64    `json:"joinedAt,omitempty"`
}

// --- Message Types ---

// Requests (client to server).
const (
	MsgJoin        = "join"
	MsgLeave       = "leave"
	MsgEndRoom     = "end_room"
	MsgTurnRefresh = "turn-refresh"
	MsgWatchRooms  = "watch_rooms"
	MsgPing        = "ping"
	MsgOffer       = "offer"
	MsgAnswer      = "answer"
	MsgICE         = "ice"
)

// Events (server to client).
const (
	MsgJoined           = "joined"
	MsgPong             = "pong"
	MsgRoomState        = "room_state"
	MsgRoomEnded        = "room_ended"
	MsgTurnRefreshed    = "turn-refreshed"
	MsgRoomStatuses     = "room_statuses"
	MsgRoomStatusUpdate = "room_status_update"
	MsgError            = "error"
)

// --- Error Codes ---

// Codes carried in `error` event payloads.
const (
	ErrBadRequest          = "BAD_REQUEST"
	ErrUnsupportedVersion  = "UNSUPPORTED_VERSION"
	ErrInvalidRoomID       = "INVALID_ROOM_ID"
	ErrServerNotConfigured = "SERVER_NOT_CONFIGURED"
	ErrRoomFull            = "ROOM_FULL"
	ErrInvalidReconnect    = "INVALID_RECONNECT_TOKEN"
	ErrNotInRoom           = "NOT_IN_ROOM"
	ErrNotHost             = "NOT_HOST"
	ErrTurnRefreshFailed   = "TURN_REFRESH_FAILED"
)

// --- Disconnect Reasons ---

// Reason labels recorded when a session is torn down.
const (
	DisconnectWS          = "ws"
	DisconnectPongTimeout = "pong_timeout"
	DisconnectSSE         = "sse"
	DisconnectStaleIdle   = "stale_idle"
	DisconnectStaleInRoom = "stale_in_room"
	DisconnectShutdown    = "server_shutdown"
)
