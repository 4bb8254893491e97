package signaling

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/serenada/signaling/internal/v1/logging"
	"github.com/serenada/signaling/internal/v1/stats"
	"github.com/serenada/signaling/internal/v1/types"
)

const (
	// maxMessageSize caps inbound frames and SSE POST bodies at 64 KiB.
	maxMessageSize = 65536

	// sendQueueSize bounds each session's outbound buffer. When it fills the
	// newest message is dropped and counted rather than blocking the hub.
	sendQueueSize = 256
)

// Client is one live transport session. The sid, ip, and transport are fixed
// at construction; cid and rid change as the session joins and leaves rooms
// and are guarded by mu together with the replaced and closed flags.
type Client struct {
	hub       *Hub
	send      chan []byte
	sid       types.SessionID
	ip        string
	transport types.TransportKind

	mu       sync.Mutex
	cid      types.ClientID
	rid      types.RoomID
	replaced bool
	closed   bool

	lastSeen  atomic.Int64
	closeOnce sync.Once
}

func newClient(h *Hub, transport types.TransportKind, sid types.SessionID, ip string) *Client {
	return &Client{
		hub:       h,
		send:      make(chan []byte, sendQueueSize),
		sid:       sid,
		ip:        ip,
		transport: transport,
	}
}

func newID(prefix string) string {
	b := make([]byte, 8)
	rand.Read(b)
	return prefix + hex.EncodeToString(b)
}

func newSessionID() types.SessionID {
	return types.SessionID(newID("S-"))
}

func newClientID() types.ClientID {
	return types.ClientID(newID("C-"))
}

// membership returns the session's current room assignment.
func (c *Client) membership() (types.ClientID, types.RoomID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cid, c.rid
}

func (c *Client) setMembership(cid types.ClientID, rid types.RoomID) {
	c.mu.Lock()
	c.cid = cid
	c.rid = rid
	c.mu.Unlock()
}

func (c *Client) clearMembership() {
	c.mu.Lock()
	c.cid = ""
	c.rid = ""
	c.mu.Unlock()
}

func (c *Client) markReplaced() {
	c.mu.Lock()
	c.replaced = true
	c.mu.Unlock()
}

func (c *Client) isReplaced() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.replaced
}

// markSeen records inbound activity for the stale-session reaper.
func (c *Client) markSeen() {
	c.lastSeen.Store(time.Now().UnixNano())
}

// closeSend closes the outbound channel, which is the signal for the write
// loop to finish. Safe to call more than once.
func (c *Client) closeSend() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	c.closeOnce.Do(func() { close(c.send) })
}

// sendMessage enqueues msg on the session's buffered channel without ever
// blocking. A full queue drops the message; a racing closeSend is absorbed by
// the recover. Both outcomes are counted as queue drops.
func (c *Client) sendMessage(msg types.Message) {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return
	}

	b, err := json.Marshal(msg)
	if err != nil {
		logging.Error(context.Background(), "failed to marshal outbound message",
			zap.String("sid", string(c.sid)), zap.Error(err))
		return
	}

	defer func() {
		if r := recover(); r != nil {
			stats.IncSendQueueDrop()
		}
	}()

	select {
	case c.send <- b:
		stats.IncMessageTX(msg.Type)
	default:
		stats.IncSendQueueDrop()
	}
}

func (c *Client) sendError(rid types.RoomID, code, message string) {
	payload, _ := json.Marshal(map[string]string{
		"code":    code,
		"message": message,
	})
	c.sendMessage(types.Message{
		V:       types.ProtocolVersion,
		Type:    types.MsgError,
		RID:     rid,
		Payload: payload,
	})
}
