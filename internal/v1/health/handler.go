// Package health exposes the liveness and readiness probes. The server has no
// external dependencies to ping, so readiness gates on configuration instead:
// an instance missing its secrets would serve nothing but error replies.
package health

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// ConfiguredReporter is implemented by services that can tell whether their
// configuration is complete, such as the room-id and TURN services.
type ConfiguredReporter interface {
	Configured() bool
}

// Handler manages the health check endpoints.
type Handler struct {
	roomIDs ConfiguredReporter
	turn    ConfiguredReporter
}

// NewHandler creates a health handler gating readiness on the given services.
// Either may be nil, which reads as unconfigured.
func NewHandler(roomIDs, turn ConfiguredReporter) *Handler {
	return &Handler{
		roomIDs: roomIDs,
		turn:    turn,
	}
}

// LivenessResponse represents the liveness probe response.
type LivenessResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
}

// ReadinessResponse represents the readiness probe response.
type ReadinessResponse struct {
	Status    string            `json:"status"`
	Checks    map[string]string `json:"checks"`
	Timestamp string            `json:"timestamp"`
}

// Liveness handles the liveness probe endpoint.
// GET /healthz
// Returns 200 whenever the process is alive, with no dependency checks.
func (h *Handler) Liveness(c *gin.Context) {
	c.JSON(http.StatusOK, LivenessResponse{
		Status:    "ok",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// Readiness handles the readiness probe endpoint.
// GET /readyz
// Returns 200 only when every check passes, 503 with per-check detail
// otherwise.
func (h *Handler) Readiness(c *gin.Context) {
	checks := map[string]string{
		"room_id_secret":   checkConfigured(h.roomIDs),
		"turn_credentials": checkConfigured(h.turn),
	}

	status := "ready"
	statusCode := http.StatusOK
	for _, state := range checks {
		if state != "healthy" {
			status = "unavailable"
			statusCode = http.StatusServiceUnavailable
			break
		}
	}

	c.JSON(statusCode, ReadinessResponse{
		Status:    status,
		Checks:    checks,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

func checkConfigured(r ConfiguredReporter) string {
	if r == nil || !r.Configured() {
		return "unhealthy"
	}
	return "healthy"
}
