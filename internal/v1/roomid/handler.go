package roomid

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/serenada/signaling/internal/v1/logging"
)

// Handler serves the room-id endpoint.
type Handler struct {
	svc *Service
}

// NewHandler builds the room-id HTTP handler around a Service.
func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// Mint handles GET and POST /api/room-id. Both mint; the GET form doubles as
// a liveness probe for monitors that only issue GETs.
// Replies {"roomId": "<27-char token>"}.
func (h *Handler) Mint(c *gin.Context) {
	rid, err := h.svc.Mint()
	if err != nil {
		if err == ErrSecretMissing {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "room id service is not configured"})
			return
		}
		logging.Error(c.Request.Context(), "Failed to mint room id", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to mint room id"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"roomId": rid})
}
