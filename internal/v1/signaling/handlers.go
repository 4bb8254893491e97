package signaling

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/serenada/signaling/internal/v1/logging"
	"github.com/serenada/signaling/internal/v1/roomid"
	"github.com/serenada/signaling/internal/v1/stats"
	"github.com/serenada/signaling/internal/v1/types"
)

// handleMessage validates one inbound envelope and routes it. Both transports
// deliver through here, so everything below is transport-agnostic.
func (h *Hub) handleMessage(c *Client, raw []byte) {
	if !h.isClientActive(c) {
		return
	}

	var msg types.Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		stats.IncMessageRX("invalid_json")
		c.sendError("", types.ErrBadRequest, "Invalid JSON")
		return
	}

	stats.IncMessageRX(msg.Type)

	if msg.V != types.ProtocolVersion {
		c.sendError(msg.RID, types.ErrUnsupportedVersion, "Only version 1 is supported")
		return
	}

	switch msg.Type {
	case types.MsgPing:
		c.sendMessage(types.Message{V: types.ProtocolVersion, Type: types.MsgPong})
	case types.MsgJoin:
		if _, rid := c.membership(); rid != "" {
			h.removeClientFromRoom(c)
		}
		h.handleJoin(c, msg)
	case types.MsgLeave:
		h.handleLeave(c)
	case types.MsgEndRoom:
		h.handleEndRoom(c)
	case types.MsgWatchRooms:
		h.handleWatchRooms(c, msg)
	case types.MsgTurnRefresh:
		h.handleTurnRefresh(c, msg)
	case types.MsgOffer, types.MsgAnswer, types.MsgICE:
		h.handleRelay(c, msg)
	default:
		logging.GetLogger().Debug("ignoring unknown message type",
			zap.String("type", msg.Type), zap.String("sid", string(c.sid)))
	}
}

type joinPayload struct {
	ReconnectCID   types.ClientID  `json:"reconnectCid"`
	ReconnectToken string          `json:"reconnectToken"`
	Device         string          `json:"device"`
	Capabilities   json.RawMessage `json:"capabilities"`

	// Opaque client-side bookkeeping, accepted without server behavior.
	PushEndpoint string `json:"pushEndpoint"`
	SnapshotID   string `json:"snapshotId"`
}

// handleJoin admits a session into a room. Reconnecting sessions present
// their previous cid plus an HMAC proof; the stale session still holding that
// cid is evicted so the seat frees up. The joined reply is enqueued before
// the room lock is released, making it the first event the session receives.
func (h *Hub) handleJoin(c *Client, msg types.Message) {
	start := time.Now()

	rid := msg.RID
	if rid == "" {
		c.sendError("", types.ErrBadRequest, "Missing roomId")
		return
	}
	if err := h.roomIDs.Validate(rid); err != nil {
		if errors.Is(err, roomid.ErrSecretMissing) {
			c.sendError(rid, types.ErrServerNotConfigured, "Room ID service is not configured")
			return
		}
		c.sendError(rid, types.ErrInvalidRoomID, "Room ID must be a valid room token")
		return
	}

	var join joinPayload
	if len(msg.Payload) > 0 {
		if err := json.Unmarshal(msg.Payload, &join); err != nil {
			logging.Warn(context.Background(), "unparseable join payload",
				zap.String("sid", string(c.sid)), zap.Error(err))
		}
	}
	if join.Device != "" || len(join.Capabilities) > 0 {
		logging.Debug(context.Background(), "join client info",
			zap.String("sid", string(c.sid)),
			zap.String("device", join.Device),
			zap.ByteString("capabilities", join.Capabilities))
	}

	room := h.getOrCreateRoom(rid)
	room.mu.Lock()

	reusedCID := false
	var ghost *Client
	if join.ReconnectCID != "" {
		if h.reconnect.Enabled() && !h.reconnect.Verify(join.ReconnectToken, join.ReconnectCID, rid) {
			room.mu.Unlock()
			logging.Warn(context.Background(), "reconnect token rejected",
				zap.String("sid", string(c.sid)), zap.String("cid", string(join.ReconnectCID)))
			c.sendError(rid, types.ErrInvalidReconnect, "Reconnect token validation failed")
			return
		}

		if ghost = room.findByCIDLocked(join.ReconnectCID); ghost != nil {
			logging.Info(context.Background(), "evicting ghost session for reconnect",
				zap.String("rid", string(rid)),
				zap.String("cid", string(join.ReconnectCID)),
				zap.String("ghostSid", string(ghost.sid)))
			delete(room.participants, ghost)
			ghost.clearMembership()
			reusedCID = true
			// hostCID is left alone: the reconnecting session reclaims the
			// same cid, so a host keeps hosting across the reconnect.
		}
	}

	if len(room.participants) >= maxRoomSize {
		room.mu.Unlock()
		c.sendError(rid, types.ErrRoomFull, "Room is full")
		return
	}

	// Hub-level ghost teardown needs the hub lock, so it happens outside the
	// room lock. Another join can slip in meanwhile, hence the second
	// fullness check.
	if ghost != nil {
		room.mu.Unlock()
		h.cleanupEvictedClient(ghost)
		room.mu.Lock()
		if len(room.participants) >= maxRoomSize {
			room.mu.Unlock()
			c.sendError(rid, types.ErrRoomFull, "Room is full")
			return
		}
	}

	cid := newClientID()
	if reusedCID {
		cid = join.ReconnectCID
	}
	c.setMembership(cid, rid)
	room.participants[c] = &participant{cid: cid, joinedAt: time.Now()}
	if room.hostCID == "" {
		room.hostCID = cid
	}

	logging.Info(context.Background(), "session joined room",
		zap.String("sid", string(c.sid)),
		zap.String("cid", string(cid)),
		zap.String("rid", string(rid)),
		zap.String("host", string(room.hostCID)),
		zap.Bool("reconnect", reusedCID))

	payload := map[string]any{
		"hostCid":      room.hostCID,
		"participants": room.wireParticipantsLocked(true),
	}
	if h.turn != nil {
		if token, expiresAt, err := h.turn.IssueCallToken(c.ip); err != nil {
			logging.Error(context.Background(), "failed to issue turn token", zap.Error(err))
		} else {
			payload["turnToken"] = token
			payload["turnTokenExpiresAt"] = expiresAt.Unix()
			payload["turnTokenTTLMs"] = int64(h.turn.CallTokenTTL() / time.Millisecond)
		}
	}
	if rt := h.reconnect.Issue(cid, rid); rt != "" {
		payload["reconnectToken"] = rt
	}
	payloadBytes, _ := json.Marshal(payload)

	c.sendMessage(types.Message{
		V:       types.ProtocolVersion,
		Type:    types.MsgJoined,
		RID:     rid,
		SID:     c.sid,
		CID:     cid,
		Payload: payloadBytes,
	})
	room.mu.Unlock()

	stats.RecordJoinLatency(time.Since(start))

	h.broadcastRoomState(room)
	h.broadcastRoomStatusUpdate(rid)
}

func (h *Hub) handleLeave(c *Client) {
	if _, rid := c.membership(); rid == "" {
		return
	}
	h.removeClientFromRoom(c)
}

// handleEndRoom tears the room down for everyone. Host only.
func (h *Hub) handleEndRoom(c *Client) {
	cid, rid := c.membership()
	if rid == "" {
		return
	}

	room := h.lookupRoom(rid)
	if room == nil {
		return
	}

	room.mu.Lock()
	if room.hostCID != cid {
		room.mu.Unlock()
		c.sendError(rid, types.ErrNotHost, "Only host can end room")
		return
	}
	clients := room.clientsLocked()
	room.mu.Unlock()

	payload, _ := json.Marshal(map[string]string{
		"by":     string(cid),
		"reason": "host_ended",
	})
	endMsg := types.Message{
		V:       types.ProtocolVersion,
		Type:    types.MsgRoomEnded,
		RID:     rid,
		Payload: payload,
	}
	for _, client := range clients {
		client.sendMessage(endMsg)
		client.clearMembership()
	}

	h.mu.Lock()
	delete(h.rooms, rid)
	h.mu.Unlock()

	room.mu.Lock()
	room.participants = make(map[*Client]*participant)
	room.hostCID = ""
	room.mu.Unlock()

	logging.Info(context.Background(), "room ended by host",
		zap.String("rid", string(rid)),
		zap.String("host", string(cid)),
		zap.Int("notified", len(clients)))

	h.broadcastRoomStatusUpdate(rid)
}

// handleRelay forwards an offer, answer, or ice envelope to the peer. The
// sender's cid is stamped into the payload as "from" so the recipient never
// trusts a client-supplied identity.
func (h *Hub) handleRelay(c *Client, msg types.Message) {
	senderCID, rid := c.membership()
	if rid == "" {
		c.sendError(msg.RID, types.ErrNotInRoom, "Must be in a room to relay")
		return
	}

	room := h.lookupRoom(rid)
	if room == nil {
		c.sendError(rid, types.ErrNotInRoom, "Must be in a room to relay")
		return
	}

	room.mu.Lock()
	defer room.mu.Unlock()

	if _, ok := room.participants[c]; !ok {
		c.sendError(rid, types.ErrNotInRoom, "Must be in a room to relay")
		return
	}

	var raw map[string]any
	if len(msg.Payload) > 0 {
		if err := json.Unmarshal(msg.Payload, &raw); err != nil {
			raw = nil
		}
	}
	if raw == nil {
		raw = make(map[string]any)
	}
	raw["from"] = string(senderCID)
	payload, _ := json.Marshal(raw)

	relay := types.Message{
		V:       types.ProtocolVersion,
		Type:    msg.Type,
		RID:     rid,
		Payload: payload,
	}

	if msg.To != "" {
		target := room.findByCIDLocked(msg.To)
		if target == nil || target == c {
			c.sendError(rid, types.ErrBadRequest, "Unknown relay target")
			return
		}
		target.sendMessage(relay)
		return
	}

	for client := range room.participants {
		if client != c {
			client.sendMessage(relay)
		}
	}
}

// handleTurnRefresh issues a fresh TURN token mid-call.
func (h *Hub) handleTurnRefresh(c *Client, msg types.Message) {
	cid, rid := c.membership()
	if rid == "" {
		c.sendError(msg.RID, types.ErrNotInRoom, "Must be in a room to refresh TURN credentials")
		return
	}

	if h.turn == nil {
		c.sendError(rid, types.ErrTurnRefreshFailed, "Failed to refresh TURN credentials")
		return
	}
	token, expiresAt, err := h.turn.IssueCallToken(c.ip)
	if err != nil {
		logging.Error(context.Background(), "turn token refresh failed",
			zap.String("cid", string(cid)), zap.Error(err))
		c.sendError(rid, types.ErrTurnRefreshFailed, "Failed to refresh TURN credentials")
		return
	}

	payload, _ := json.Marshal(map[string]any{
		"turnToken":          token,
		"turnTokenExpiresAt": expiresAt.Unix(),
		"turnTokenTTLMs":     int64(h.turn.CallTokenTTL() / time.Millisecond),
	})
	c.sendMessage(types.Message{
		V:       types.ProtocolVersion,
		Type:    types.MsgTurnRefreshed,
		RID:     rid,
		Payload: payload,
	})
}

// handleWatchRooms subscribes the session to occupancy updates for a list of
// rooms. Invalid room IDs are skipped rather than failing the whole request.
func (h *Hub) handleWatchRooms(c *Client, msg types.Message) {
	var payload struct {
		RIDs []types.RoomID `json:"rids"`
	}
	if len(msg.Payload) == 0 || json.Unmarshal(msg.Payload, &payload) != nil {
		c.sendError(msg.RID, types.ErrBadRequest, "Invalid payload")
		return
	}

	h.mu.Lock()
	statuses := make(map[types.RoomID]int)
	for _, rid := range payload.RIDs {
		if h.roomIDs.Validate(rid) != nil {
			continue
		}
		if h.watchers[rid] == nil {
			h.watchers[rid] = make(map[*Client]bool)
		}
		h.watchers[rid][c] = true

		count := 0
		if room, ok := h.rooms[rid]; ok {
			room.mu.Lock()
			count = len(room.participants)
			room.mu.Unlock()
		}
		statuses[rid] = count
	}
	h.mu.Unlock()

	body, _ := json.Marshal(statuses)
	c.sendMessage(types.Message{
		V:       types.ProtocolVersion,
		Type:    types.MsgRoomStatuses,
		Payload: body,
	})
}

// broadcastRoomState pushes the authoritative membership snapshot to every
// participant. Callers must not hold the room lock.
func (h *Hub) broadcastRoomState(room *Room) {
	room.mu.Lock()
	payload, _ := json.Marshal(map[string]any{
		"hostCid":      room.hostCID,
		"participants": room.wireParticipantsLocked(false),
	})
	rid := room.rid
	clients := room.clientsLocked()
	room.mu.Unlock()

	msg := types.Message{
		V:       types.ProtocolVersion,
		Type:    types.MsgRoomState,
		RID:     rid,
		Payload: payload,
	}
	for _, client := range clients {
		client.sendMessage(msg)
	}
}

// broadcastRoomStatusUpdate fans the room's occupancy out to its watchers.
func (h *Hub) broadcastRoomStatusUpdate(rid types.RoomID) {
	h.mu.RLock()
	set := h.watchers[rid]
	if len(set) == 0 {
		h.mu.RUnlock()
		return
	}
	targets := make([]*Client, 0, len(set))
	for client := range set {
		targets = append(targets, client)
	}
	count := 0
	if room, ok := h.rooms[rid]; ok {
		room.mu.Lock()
		count = len(room.participants)
		room.mu.Unlock()
	}
	h.mu.RUnlock()

	payload, _ := json.Marshal(map[string]any{
		"rid":   rid,
		"count": count,
	})
	msg := types.Message{
		V:       types.ProtocolVersion,
		Type:    types.MsgRoomStatusUpdate,
		Payload: payload,
	}
	for _, client := range targets {
		client.sendMessage(msg)
	}
}
