// Package signaling implements the call-setup core: a hub of two-party rooms
// reachable over WebSocket and SSE, relaying SDP and ICE between peers and
// handing out the tokens clients need for TURN and reconnection.
package signaling

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/serenada/signaling/internal/v1/auth"
	"github.com/serenada/signaling/internal/v1/logging"
	"github.com/serenada/signaling/internal/v1/roomid"
	"github.com/serenada/signaling/internal/v1/stats"
	"github.com/serenada/signaling/internal/v1/types"
)

// reaperInterval is how often the hub sweeps for stale SSE sessions and
// refreshes the room and watcher gauges.
const reaperInterval = 15 * time.Second

// TurnIssuer mints the relay tokens embedded in joined and turn-refreshed
// replies. Implemented by turn.Service.
type TurnIssuer interface {
	IssueCallToken(ip string) (token string, expiresAt time.Time, err error)
	CallTokenTTL() time.Duration
}

// Hub is the central registry of sessions, rooms, and watchers. All four maps
// are guarded by mu; room contents have their own lock taken after mu.
type Hub struct {
	mu           sync.RWMutex
	clients      map[*Client]bool
	clientsBySID map[types.SessionID]*Client
	rooms        map[types.RoomID]*Room
	watchers     map[types.RoomID]map[*Client]bool

	roomIDs   *roomid.Service
	reconnect *auth.ReconnectTokens
	turn      TurnIssuer
	origins   []string

	upgrader websocket.Upgrader
	sseGrace time.Duration
}

// NewHub wires a Hub from its dependencies. turn may be nil, in which case
// joined replies carry no TURN token and turn-refresh fails.
func NewHub(roomIDs *roomid.Service, reconnect *auth.ReconnectTokens, turn TurnIssuer, allowedOrigins []string) *Hub {
	return &Hub{
		clients:      make(map[*Client]bool),
		clientsBySID: make(map[types.SessionID]*Client),
		rooms:        make(map[types.RoomID]*Room),
		watchers:     make(map[types.RoomID]map[*Client]bool),
		roomIDs:      roomIDs,
		reconnect:    reconnect,
		turn:         turn,
		origins:      allowedOrigins,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return auth.ValidateOrigin(r, allowedOrigins) == nil
			},
			WriteBufferPool: &sync.Pool{
				New: func() any {
					return make([]byte, 4096)
				},
			},
		},
		sseGrace: sseGracePeriod,
	}
}

// Run drives the periodic maintenance loop until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	ticker := time.NewTicker(reaperInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.evictStaleSSE()
			h.RefreshGauges()
		}
	}
}

func (h *Hub) registerClient(c *Client) {
	h.mu.Lock()
	h.clients[c] = true
	h.clientsBySID[c.sid] = c
	h.mu.Unlock()
}

func (h *Hub) getClientBySID(sid types.SessionID) *Client {
	h.mu.RLock()
	client := h.clientsBySID[sid]
	h.mu.RUnlock()
	return client
}

func (h *Hub) isClientActive(c *Client) bool {
	h.mu.RLock()
	_, exists := h.clients[c]
	h.mu.RUnlock()
	return exists
}

func (h *Hub) getOrCreateRoom(rid types.RoomID) *Room {
	h.mu.Lock()
	defer h.mu.Unlock()
	if room, ok := h.rooms[rid]; ok {
		return room
	}
	logging.Info(context.Background(), "creating room", zap.String("rid", string(rid)))
	room := newRoom(rid)
	h.rooms[rid] = room
	return room
}

func (h *Hub) lookupRoom(rid types.RoomID) *Room {
	h.mu.RLock()
	room := h.rooms[rid]
	h.mu.RUnlock()
	return room
}

// replaceClient hands an existing session's identity to a new connection that
// arrived with the same sid. Room membership, the joinedAt record, and any
// watcher subscriptions move over; the old connection is flagged so its
// teardown does not disturb the new one.
func (h *Hub) replaceClient(oldClient, newClient *Client) {
	h.mu.Lock()
	delete(h.clients, oldClient)
	h.clients[newClient] = true
	h.clientsBySID[newClient.sid] = newClient
	for _, set := range h.watchers {
		if set[oldClient] {
			delete(set, oldClient)
			set[newClient] = true
		}
	}
	h.mu.Unlock()

	if _, rid := oldClient.membership(); rid != "" {
		if room := h.lookupRoom(rid); room != nil {
			room.mu.Lock()
			if p, ok := room.participants[oldClient]; ok {
				delete(room.participants, oldClient)
				room.participants[newClient] = p
				newClient.setMembership(p.cid, rid)
			}
			room.mu.Unlock()
		}
	}

	oldClient.markReplaced()
	logging.Info(context.Background(), "session replaced",
		zap.String("sid", string(newClient.sid)))
}

// disconnectClient removes c from every registry, its room included, and
// closes its send channel. Reports whether c was still registered so callers
// can count the disconnect exactly once.
func (h *Hub) disconnectClient(c *Client) bool {
	h.mu.Lock()
	if _, ok := h.clients[c]; !ok {
		h.mu.Unlock()
		return false
	}
	delete(h.clients, c)
	if h.clientsBySID[c.sid] == c {
		delete(h.clientsBySID, c.sid)
	}
	for rid, set := range h.watchers {
		delete(set, c)
		if len(set) == 0 {
			delete(h.watchers, rid)
		}
	}
	h.mu.Unlock()

	switch c.transport {
	case types.TransportWS:
		stats.AddActiveWSClients(-1)
	case types.TransportSSE:
		stats.AddActiveSSEClients(-1)
	}

	if _, rid := c.membership(); rid != "" {
		h.removeClientFromRoom(c)
	}
	c.closeSend()
	return true
}

// dropClient is disconnectClient plus reason accounting.
func (h *Hub) dropClient(c *Client, reason string) {
	if h.disconnectClient(c) {
		stats.IncDisconnect(reason)
	}
}

// cleanupEvictedClient finishes hub-level teardown of a ghost already removed
// from its room under the room lock. Must be called without the room lock.
func (h *Hub) cleanupEvictedClient(ghost *Client) {
	h.mu.Lock()
	_, registered := h.clients[ghost]
	if registered {
		delete(h.clients, ghost)
		if h.clientsBySID[ghost.sid] == ghost {
			delete(h.clientsBySID, ghost.sid)
		}
		for rid, set := range h.watchers {
			delete(set, ghost)
			if len(set) == 0 {
				delete(h.watchers, rid)
			}
		}
	}
	h.mu.Unlock()

	if registered {
		switch ghost.transport {
		case types.TransportWS:
			stats.AddActiveWSClients(-1)
		case types.TransportSSE:
			stats.AddActiveSSEClients(-1)
		}
	}
	ghost.closeSend()
}

// removeClientFromRoom takes c out of its current room, re-elects the host if
// needed, and deletes the room once empty.
func (h *Hub) removeClientFromRoom(c *Client) {
	cid, rid := c.membership()
	if rid == "" {
		return
	}

	room := h.lookupRoom(rid)
	if room == nil {
		c.clearMembership()
		return
	}

	room.mu.Lock()
	delete(room.participants, c)
	if room.hostCID == cid {
		room.hostCID = ""
		for _, p := range room.participants {
			room.hostCID = p.cid
			break
		}
		if room.hostCID != "" {
			logging.Info(context.Background(), "host left, elected new host",
				zap.String("rid", string(rid)), zap.String("host", string(room.hostCID)))
		}
	}
	empty := len(room.participants) == 0
	room.mu.Unlock()

	c.clearMembership()

	if empty {
		h.mu.Lock()
		delete(h.rooms, rid)
		h.mu.Unlock()
		logging.Info(context.Background(), "room emptied, deleting",
			zap.String("rid", string(rid)))
	} else {
		h.broadcastRoomState(room)
	}

	h.broadcastRoomStatusUpdate(rid)
}

// RefreshGauges recomputes the registry-derived gauges. Called from the
// maintenance loop and before rendering an internal stats snapshot.
func (h *Hub) RefreshGauges() {
	h.mu.RLock()
	defer h.mu.RUnlock()

	stats.SetActiveClients(int64(len(h.clients)))
	stats.SetActiveRooms(int64(len(h.rooms)))
	stats.SetWatcherRooms(int64(len(h.watchers)))

	var subscriptions int64
	for _, set := range h.watchers {
		subscriptions += int64(len(set))
	}
	stats.SetWatcherSubscriptions(subscriptions)
}

// Shutdown disconnects every session. In-flight transports observe their
// send channels closing and finish on their own.
func (h *Hub) Shutdown(ctx context.Context) {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		h.dropClient(c, types.DisconnectShutdown)
	}
	logging.Info(ctx, "hub shut down", zap.Int("sessions", len(clients)))
}
