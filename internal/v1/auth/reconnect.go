package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"

	"github.com/serenada/signaling/internal/v1/types"
)

// ReconnectTokens issues and verifies the HMAC proofs that let a caller
// reclaim its client ID after a transport drop. A token is bound to
// (cid, rid) rather than the session id, because the session id changes on
// every reconnect while the caller's identity inside the room must not.
//
// Format: hex(HMAC-SHA256(secret, cid + "|" + rid)).
type ReconnectTokens struct {
	secret []byte
}

// NewReconnectTokens builds the token service. An empty secret puts the
// service in legacy mode: Issue returns "" and Verify accepts any claim, the
// backwards-compatible behavior for deployments predating the secret.
func NewReconnectTokens(secret string) *ReconnectTokens {
	return &ReconnectTokens{secret: []byte(secret)}
}

// Enabled reports whether tokens are actually enforced.
func (rt *ReconnectTokens) Enabled() bool {
	return len(rt.secret) > 0
}

// Issue returns the reconnect token for (cid, rid), or "" in legacy mode.
func (rt *ReconnectTokens) Issue(cid types.ClientID, rid types.RoomID) string {
	if !rt.Enabled() {
		return ""
	}
	mac := hmac.New(sha256.New, rt.secret)
	mac.Write([]byte(string(cid) + "|" + string(rid)))
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify checks a presented token against the expected HMAC in constant
// time. In legacy mode every claim passes.
func (rt *ReconnectTokens) Verify(token string, cid types.ClientID, rid types.RoomID) bool {
	if !rt.Enabled() {
		return true
	}
	expected := rt.Issue(cid, rid)
	return hmac.Equal([]byte(expected), []byte(token))
}
