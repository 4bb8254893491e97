package stats

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func statsRouter(h *Handler) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.GET("/api/internal/stats", h.Snapshot)
	return router
}

func TestSnapshotDisabledReturnsNotFound(t *testing.T) {
	router := statsRouter(NewHandler(false, "test-token", nil))

	req := httptest.NewRequest(http.MethodGet, "/api/internal/stats", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSnapshotEnabledRequiresConfiguredToken(t *testing.T) {
	router := statsRouter(NewHandler(true, "", nil))

	req := httptest.NewRequest(http.MethodGet, "/api/internal/stats", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestSnapshotRejectsMissingHeaderToken(t *testing.T) {
	router := statsRouter(NewHandler(true, "test-token", nil))

	req := httptest.NewRequest(http.MethodGet, "/api/internal/stats", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestSnapshotRejectsWrongHeaderToken(t *testing.T) {
	router := statsRouter(NewHandler(true, "test-token", nil))

	req := httptest.NewRequest(http.MethodGet, "/api/internal/stats", nil)
	req.Header.Set("X-Internal-Token", "other-token")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestSnapshotSuccessWithToken(t *testing.T) {
	refreshed := false
	router := statsRouter(NewHandler(true, "test-token", func() { refreshed = true }))

	req := httptest.NewRequest(http.MethodGet, "/api/internal/stats", nil)
	req.Header.Set("X-Internal-Token", "test-token")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, refreshed)
	assert.Contains(t, rec.Header().Get("Content-Type"), "application/json")
	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
	assert.Contains(t, rec.Body.String(), `"timestampMs"`)
	assert.Contains(t, rec.Body.String(), `"joinLatency"`)
}
