package turn

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRouter(svc *Service) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	h := NewHandler(svc)
	router.GET("/api/turn-credentials", h.Credentials)
	router.POST("/api/diagnostic-token", h.DiagnosticToken)
	return router
}

func doRequest(router *gin.Engine, method, path, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	req.RemoteAddr = "203.0.113.7:52044"
	if token != "" {
		req.Header.Set(TokenHeader, token)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestCredentialsEndpointRequiresToken(t *testing.T) {
	router := newTestRouter(NewService("relay-secret", "turn.example.com", ""))

	w := doRequest(router, http.MethodGet, "/api/turn-credentials", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestCredentialsEndpointRejectsUnknownToken(t *testing.T) {
	router := newTestRouter(NewService("relay-secret", "turn.example.com", ""))

	w := doRequest(router, http.MethodGet, "/api/turn-credentials", "bogus")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestCredentialsEndpointServesCallToken(t *testing.T) {
	svc := NewService("relay-secret", "turn.example.com", "relay.example.com")
	router := newTestRouter(svc)

	token, _, err := svc.IssueCallToken("203.0.113.7")
	require.NoError(t, err)

	w := doRequest(router, http.MethodGet, "/api/turn-credentials", token)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "no-store", w.Header().Get("Cache-Control"))

	var creds Credentials
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &creds))
	assert.Equal(t, 900, creds.TTL)
	assert.NotEmpty(t, creds.Username)
	assert.NotEmpty(t, creds.Password)
	assert.Len(t, creds.URIs, 3)

	w = doRequest(router, http.MethodGet, "/api/turn-credentials", token)
	assert.Equal(t, http.StatusOK, w.Code, "call tokens stay valid across fetches")
}

func TestDiagnosticTokenFlow(t *testing.T) {
	svc := NewService("relay-secret", "turn.example.com", "")
	router := newTestRouter(svc)

	w := doRequest(router, http.MethodPost, "/api/diagnostic-token", "")
	require.Equal(t, http.StatusOK, w.Code)

	var issued struct {
		Token   string `json:"token"`
		Expires int64  `json:"expires"`
		TTL     int    `json:"ttl"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &issued))
	assert.NotEmpty(t, issued.Token)
	assert.Greater(t, issued.Expires, int64(0))
	assert.Equal(t, 300, issued.TTL)

	w = doRequest(router, http.MethodGet, "/api/turn-credentials", issued.Token)
	require.Equal(t, http.StatusOK, w.Code)

	var creds Credentials
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &creds))
	assert.Equal(t, 5, creds.TTL, "diagnostic hits get the shortened credential TTL")

	w = doRequest(router, http.MethodGet, "/api/turn-credentials", issued.Token)
	assert.Equal(t, http.StatusUnauthorized, w.Code, "diagnostic tokens are one-shot")
}

func TestCredentialsEndpointUnconfigured(t *testing.T) {
	svc := NewService("", "", "")
	router := newTestRouter(svc)

	token, _, err := svc.IssueCallToken("203.0.113.7")
	require.NoError(t, err)

	w := doRequest(router, http.MethodGet, "/api/turn-credentials", token)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}
