package signaling

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/serenada/signaling/internal/v1/auth"
	"github.com/serenada/signaling/internal/v1/logging"
	"github.com/serenada/signaling/internal/v1/stats"
	"github.com/serenada/signaling/internal/v1/types"
)

const (
	// wsWriteWait bounds a single frame write, pings included.
	wsWriteWait = 5 * time.Second

	// wsPingPeriod is how often the server pings an idle connection.
	wsPingPeriod = 12 * time.Second

	// wsPongWait allows two missed ping intervals before the read deadline
	// fires and the connection is torn down as pong_timeout.
	wsPongWait = 2 * wsPingPeriod
)

// wsConnection is the slice of *websocket.Conn the pumps use, an interface so
// tests can script frames without a network.
type wsConnection interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
	SetReadLimit(limit int64)
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetPongHandler(h func(appData string) error)
}

// ServeWS upgrades GET /ws to a WebSocket session and starts its pumps.
func (h *Hub) ServeWS(c *gin.Context) {
	stats.IncConnectionAttempt(types.TransportWS)

	if err := auth.ValidateOrigin(c.Request, h.origins); err != nil {
		stats.IncConnectionFailure(types.TransportWS)
		c.JSON(http.StatusForbidden, gin.H{"error": "origin not allowed"})
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade has already written the handshake error.
		stats.IncConnectionFailure(types.TransportWS)
		logging.Warn(c.Request.Context(), "websocket upgrade failed", zap.Error(err))
		return
	}

	client := newClient(h, types.TransportWS, newSessionID(), c.ClientIP())
	h.registerClient(client)
	stats.AddActiveWSClients(1)
	stats.IncConnectionSuccess(types.TransportWS)
	client.markSeen()

	logging.Info(context.Background(), "websocket session connected",
		zap.String("sid", string(client.sid)), zap.String("ip", client.ip))

	go client.writePump(conn)
	go client.readPump(conn)
}

// readPump delivers inbound frames to the hub until the connection dies. It
// owns the read deadline: any inbound traffic, pong frames included, pushes
// it out by wsPongWait.
func (c *Client) readPump(conn wsConnection) {
	reason := types.DisconnectWS
	defer func() {
		conn.Close()
		c.hub.dropClient(c, reason)
	}()

	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		c.markSeen()
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				reason = types.DisconnectPongTimeout
			}
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logging.GetLogger().Debug("websocket read ended",
					zap.String("sid", string(c.sid)), zap.Error(err))
			}
			return
		}
		c.markSeen()
		_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
		c.hub.handleMessage(c, data)
	}
}

// writePump drains the send channel onto the wire and keeps the connection
// alive with pings. A closed send channel means the hub disconnected us, so
// the peer gets a close frame.
func (c *Client) writePump(conn wsConnection) {
	ticker := time.NewTicker(wsPingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
