package stats

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// TokenHeader carries the operator token on snapshot fetches.
const TokenHeader = "X-Internal-Token"

// Handler serves the operator-facing stats snapshot.
type Handler struct {
	enabled bool
	token   string
	refresh func()
}

// NewHandler builds the snapshot handler. refresh runs before every snapshot
// so gauges derived from live registries are current; nil is allowed when
// there is nothing to refresh.
func NewHandler(enabled bool, token string, refresh func()) *Handler {
	return &Handler{
		enabled: enabled,
		token:   strings.TrimSpace(token),
		refresh: refresh,
	}
}

// Snapshot handles the internal stats endpoint.
// GET /api/internal/stats
// Replies 404 when the endpoint is disabled so its existence is not
// discoverable, 503 when enabled without a configured token, and 401 unless
// X-Internal-Token matches the configured token in constant time.
func (h *Handler) Snapshot(c *gin.Context) {
	if !h.enabled {
		c.String(http.StatusNotFound, "404 page not found")
		return
	}
	if h.token == "" {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "internal stats token is required"})
		return
	}

	provided := strings.TrimSpace(c.GetHeader(TokenHeader))
	if subtle.ConstantTimeCompare([]byte(provided), []byte(h.token)) != 1 {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	if h.refresh != nil {
		h.refresh()
	}

	c.Header("Cache-Control", "no-store")
	c.JSON(http.StatusOK, SnapshotNow())
}
