package signaling

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/serenada/signaling/internal/v1/logging"
	"github.com/serenada/signaling/internal/v1/stats"
	"github.com/serenada/signaling/internal/v1/types"
)

const (
	// ssePingPeriod is the comment-frame heartbeat keeping proxies from
	// idling the stream out.
	ssePingPeriod = 12 * time.Second

	// sseGracePeriod is how long a dropped stream may reappear under the
	// same sid before the session is truly disconnected.
	sseGracePeriod = 5 * time.Second

	// Stale cutoffs for sessions whose stream died without a clean close.
	// In-room sessions get the longer leash since an active call is at stake.
	sseStaleIdle   = 60 * time.Second
	sseStaleInRoom = 5 * time.Minute
)

// streamWriter is what the SSE loop needs from gin's ResponseWriter.
type streamWriter interface {
	io.Writer
	Flush()
}

// ServeSSEStream handles GET /sse: it registers (or, when the sid is already
// known, replaces) a session and streams events until the client goes away.
// Reusing a sid within the grace period carries room membership over, which
// is how SSE clients survive network blips without losing their call.
func (h *Hub) ServeSSEStream(c *gin.Context) {
	stats.IncConnectionAttempt(types.TransportSSE)

	header := c.Writer.Header()
	header.Set("Content-Type", "text/event-stream; charset=utf-8")
	header.Set("Cache-Control", "no-cache")
	header.Set("Connection", "keep-alive")
	header.Set("X-Accel-Buffering", "no")

	sid := types.SessionID(strings.TrimSpace(c.Query("sid")))
	if sid == "" {
		sid = newSessionID()
	}

	client := newClient(h, types.TransportSSE, sid, c.ClientIP())
	if existing := h.getClientBySID(sid); existing != nil {
		h.replaceClient(existing, client)
	} else {
		h.registerClient(client)
		stats.AddActiveSSEClients(1)
	}
	stats.IncConnectionSuccess(types.TransportSSE)
	client.markSeen()

	logging.Info(context.Background(), "sse session connected",
		zap.String("sid", string(client.sid)), zap.String("ip", client.ip))

	if _, err := io.WriteString(c.Writer, ": ready\n\n"); err != nil {
		h.finishSSEStream(client)
		return
	}
	c.Writer.Flush()

	client.streamSSE(c.Writer, c.Request.Context().Done())
	h.finishSSEStream(client)
}

// ServeSSEPost handles POST /sse: one envelope per request, attributed to the
// stream session named by the sid query parameter.
func (h *Hub) ServeSSEPost(c *gin.Context) {
	sid := types.SessionID(strings.TrimSpace(c.Query("sid")))
	if sid == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing sse session"})
		return
	}

	client := h.getClientBySID(sid)
	if client == nil {
		c.JSON(http.StatusGone, gin.H{"error": "unknown sse session"})
		return
	}

	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxMessageSize)
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if len(bytes.TrimSpace(body)) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "empty request body"})
		return
	}

	client.markSeen()
	h.handleMessage(client, body)
	c.Status(http.StatusNoContent)
}

// streamSSE pumps the send channel onto the stream until the request context
// ends, the channel closes, or a write fails.
func (c *Client) streamSSE(w streamWriter, done <-chan struct{}) {
	ticker := time.NewTicker(ssePingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case msg, ok := <-c.send:
			if !ok {
				return
			}
			if err := writeSSEEvent(w, msg); err != nil {
				return
			}
		case <-ticker.C:
			if _, err := io.WriteString(w, ": ping\n\n"); err != nil {
				return
			}
			w.Flush()
		}
	}
}

// writeSSEEvent frames one message as SSE data lines. Payloads are compact
// JSON without newlines, but the framing stays correct if that ever changes.
func writeSSEEvent(w streamWriter, data []byte) error {
	for _, line := range bytes.Split(data, []byte("\n")) {
		if _, err := fmt.Fprintf(w, "data: %s\n", line); err != nil {
			return err
		}
	}
	if _, err := io.WriteString(w, "\n"); err != nil {
		return err
	}
	w.Flush()
	return nil
}

// finishSSEStream runs when a stream ends. Replaced sessions were already
// superseded and just need their struct dropped; everything else gets the
// reconnect grace window before the session is dismantled.
func (h *Hub) finishSSEStream(c *Client) {
	if c.isReplaced() {
		h.mu.Lock()
		delete(h.clients, c)
		h.mu.Unlock()
		return
	}
	stats.IncDisconnect(types.DisconnectSSE)
	go h.delayDisconnectSSE(c)
}

func (h *Hub) delayDisconnectSSE(c *Client) {
	time.Sleep(h.sseGrace)
	if h.getClientBySID(c.sid) != c {
		// A new stream claimed the sid within the grace period.
		return
	}
	h.disconnectClient(c)
}

// evictStaleSSE sweeps SSE sessions that stopped showing signs of life. WS
// sessions are excluded since their pong deadline already handles this.
func (h *Hub) evictStaleSSE() {
	now := time.Now().UnixNano()
	cutoffIdle := now - sseStaleIdle.Nanoseconds()
	cutoffInRoom := now - sseStaleInRoom.Nanoseconds()

	type eviction struct {
		client *Client
		reason string
	}
	var stale []eviction

	h.mu.RLock()
	for client := range h.clients {
		if client.transport != types.TransportSSE || client.isReplaced() {
			continue
		}
		lastSeen := client.lastSeen.Load()
		if lastSeen == 0 {
			continue
		}
		cutoff, reason := cutoffIdle, types.DisconnectStaleIdle
		if _, rid := client.membership(); rid != "" {
			cutoff, reason = cutoffInRoom, types.DisconnectStaleInRoom
		}
		if lastSeen < cutoff {
			stale = append(stale, eviction{client: client, reason: reason})
		}
	}
	h.mu.RUnlock()

	for _, e := range stale {
		logging.Info(context.Background(), "evicting stale sse session",
			zap.String("sid", string(e.client.sid)), zap.String("reason", e.reason))
		h.dropClient(e.client, e.reason)
	}
}
