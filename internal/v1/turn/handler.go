package turn

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/serenada/signaling/internal/v1/logging"
)

// TokenHeader carries the caller's TURN token on credential fetches.
const TokenHeader = "X-Turn-Token"

// Handler serves the TURN credential and diagnostic token endpoints.
type Handler struct {
	svc *Service
}

// NewHandler builds a Handler around svc.
func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// Credentials handles GET /api/turn-credentials. The caller must present a
// live token in X-Turn-Token; call tokens yield full-length credentials,
// diagnostic tokens a single short-lived set.
func (h *Handler) Credentials(c *gin.Context) {
	token := c.GetHeader(TokenHeader)
	if token == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing TURN token"})
		return
	}

	ip := c.ClientIP()
	ttl, ok := h.svc.Authorize(token, ip)
	if !ok {
		logging.Warn(c.Request.Context(), "rejected TURN credential request",
			zap.String("client_ip", ip),
		)
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid or expired TURN token"})
		return
	}

	if !h.svc.Configured() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "TURN is not configured"})
		return
	}

	c.Header("Cache-Control", "no-store")
	c.JSON(http.StatusOK, h.svc.CredentialsFor(ip, ttl))
}

// DiagnosticToken handles POST /api/diagnostic-token, minting a one-shot
// token pre-call network tests redeem for throwaway credentials.
func (h *Handler) DiagnosticToken(c *gin.Context) {
	ip := c.ClientIP()
	token, expires, err := h.svc.IssueDiagnosticToken(ip)
	if err != nil {
		logging.Error(c.Request.Context(), "failed to issue diagnostic token", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to issue diagnostic token"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"token":   token,
		"expires": expires.Unix(),
		"ttl":     int(DiagnosticTokenTTL / time.Second),
	})
}
