package signaling

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/serenada/signaling/internal/v1/auth"
	"github.com/serenada/signaling/internal/v1/roomid"
	"github.com/serenada/signaling/internal/v1/turn"
	"github.com/serenada/signaling/internal/v1/types"
)

const (
	testRoomSecret      = "test-room-secret"
	testReconnectSecret = "test-reconnect-secret"
)

func newTestHub() (*Hub, *roomid.Service) {
	ids := roomid.NewService(testRoomSecret, "test")
	tokens := auth.NewReconnectTokens(testReconnectSecret)
	relay := turn.NewService("relay-secret", "turn.example.com", "")
	h := NewHub(ids, tokens, relay, []string{"http://localhost:3000"})
	return h, ids
}

func addTestClient(h *Hub, transport types.TransportKind) *Client {
	c := newClient(h, transport, newSessionID(), "203.0.113.7")
	h.registerClient(c)
	return c
}

func mintRoomID(t *testing.T, ids *roomid.Service) types.RoomID {
	t.Helper()
	rid, err := ids.Mint()
	require.NoError(t, err)
	return rid
}

// sendRaw pushes one raw envelope through the hub as if it arrived on c's
// transport.
func sendRaw(h *Hub, c *Client, format string, args ...any) {
	h.handleMessage(c, []byte(fmt.Sprintf(format, args...)))
}

// recvMessage pops the next queued outbound message. Hub handlers enqueue
// synchronously, but grace and reaper paths are asynchronous, hence the
// timeout instead of a bare channel read.
func recvMessage(t *testing.T, c *Client) types.Message {
	t.Helper()
	select {
	case b, ok := <-c.send:
		require.True(t, ok, "send channel closed while awaiting message")
		var msg types.Message
		require.NoError(t, json.Unmarshal(b, &msg))
		return msg
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for message")
		return types.Message{}
	}
}

func recvPayload(t *testing.T, c *Client, wantType string) map[string]any {
	t.Helper()
	msg := recvMessage(t, c)
	require.Equal(t, wantType, msg.Type)
	payload := map[string]any{}
	if len(msg.Payload) > 0 {
		require.NoError(t, json.Unmarshal(msg.Payload, &payload))
	}
	return payload
}

func expectNoMessage(t *testing.T, c *Client) {
	t.Helper()
	select {
	case b := <-c.send:
		t.Fatalf("unexpected message: %s", b)
	default:
	}
}

func expectError(t *testing.T, c *Client, code string) {
	t.Helper()
	msg := recvMessage(t, c)
	require.Equal(t, types.MsgError, msg.Type)
	var payload struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	}
	require.NoError(t, json.Unmarshal(msg.Payload, &payload))
	require.Equal(t, code, payload.Code)
}

// joinRoom drives a full join and returns the joined payload.
func joinRoom(t *testing.T, h *Hub, c *Client, rid types.RoomID) map[string]any {
	t.Helper()
	sendRaw(h, c, `{"v":1,"type":"join","rid":%q}`, rid)
	return recvPayload(t, c, types.MsgJoined)
}

func hubClientCount(h *Hub) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func hubRoomCount(h *Hub) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms)
}

// --- fake WebSocket connection ---

type fakeFrame struct {
	messageType int
	data        []byte
	err         error
}

// fakeWSConn scripts inbound frames and records outbound ones so the pumps
// can be exercised without a network.
type fakeWSConn struct {
	inbound chan fakeFrame

	mu      sync.Mutex
	written []fakeFrame
	closed  bool
	pong    func(string) error
}

func newFakeWSConn() *fakeWSConn {
	return &fakeWSConn{inbound: make(chan fakeFrame, 16)}
}

func (f *fakeWSConn) ReadMessage() (int, []byte, error) {
	fr, ok := <-f.inbound
	if !ok {
		return 0, nil, errors.New("fake connection closed")
	}
	if fr.err != nil {
		return 0, nil, fr.err
	}
	return fr.messageType, fr.data, nil
}

func (f *fakeWSConn) WriteMessage(messageType int, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return errors.New("write on closed fake connection")
	}
	f.written = append(f.written, fakeFrame{
		messageType: messageType,
		data:        append([]byte(nil), data...),
	})
	return nil
}

func (f *fakeWSConn) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}

func (f *fakeWSConn) SetReadLimit(int64)               {}
func (f *fakeWSConn) SetReadDeadline(time.Time) error  { return nil }
func (f *fakeWSConn) SetWriteDeadline(time.Time) error { return nil }

func (f *fakeWSConn) SetPongHandler(h func(string) error) {
	f.mu.Lock()
	f.pong = h
	f.mu.Unlock()
}

func (f *fakeWSConn) pongHandler() func(string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pong
}

func (f *fakeWSConn) writtenFrames() []fakeFrame {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]fakeFrame(nil), f.written...)
}

// timeoutError mimics the net.Error a dead connection's read deadline
// produces.
type timeoutError struct{}

func (timeoutError) Error() string   { return "read deadline exceeded" }
func (timeoutError) Timeout() bool   { return true }
func (timeoutError) Temporary() bool { return true }

// --- fake SSE stream writer ---

type fakeStreamWriter struct {
	mu  sync.Mutex
	buf []byte
}

func (f *fakeStreamWriter) Write(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.buf = append(f.buf, p...)
	return len(p), nil
}

func (f *fakeStreamWriter) Flush() {}

func (f *fakeStreamWriter) String() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return string(f.buf)
}
