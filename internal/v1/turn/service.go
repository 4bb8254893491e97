package turn

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"fmt"
	"strings"
	"time"
)

const (
	// CallTokenTTL is how long the token minted alongside a room join stays
	// redeemable for full-length credentials.
	CallTokenTTL = 30 * time.Minute

	// DiagnosticTokenTTL bounds the window in which a pre-call network test
	// can redeem its one-shot token.
	DiagnosticTokenTTL = 5 * time.Minute

	// CallCredentialTTL is the lifetime baked into credentials issued for a
	// call, matching the longest session the relays should carry.
	CallCredentialTTL = 15 * time.Minute

	// DiagnosticCredentialTTL keeps diagnostic credentials too short-lived
	// to be worth scraping.
	DiagnosticCredentialTTL = 5 * time.Second
)

// Credentials is the TURN REST payload handed to clients, consumed directly
// by RTCPeerConnection ice server config.
type Credentials struct {
	Username string   `json:"username"`
	Password string   `json:"password"`
	URIs     []string `json:"uris"`
	TTL      int      `json:"ttl"`
}

// Service owns both token stores and derives TURN REST credentials from the
// shared relay secret.
type Service struct {
	secret      string
	stunHost    string
	turnHost    string
	calls       *TokenStore
	diagnostics *TokenStore
}

// NewService wires a Service from configuration. secret and stunHost may be
// empty; Configured then reports false and the handler refuses credential
// requests, but tokens are still issued so the signaling path keeps working.
func NewService(secret, stunHost, turnHost string) *Service {
	return &Service{
		secret:      secret,
		stunHost:    stunHost,
		turnHost:    turnHost,
		calls:       NewTokenStore(CallTokenTTL),
		diagnostics: NewTokenStore(DiagnosticTokenTTL),
	}
}

// Configured reports whether credential derivation has what it needs.
func (s *Service) Configured() bool {
	return s.secret != "" && s.stunHost != ""
}

// IssueCallToken mints a token redeemable for call-length credentials. The
// token is deliberately not pinned to ip: clients roam between networks
// mid-call and must still be able to refresh.
func (s *Service) IssueCallToken(ip string) (string, time.Time, error) {
	return s.calls.Issue("")
}

// CallTokenTTL reports the call token lifetime, used by join replies to tell
// clients when to refresh.
func (s *Service) CallTokenTTL() time.Duration {
	return CallTokenTTL
}

// IssueDiagnosticToken mints a short-lived token pinned to the caller's IP.
func (s *Service) IssueDiagnosticToken(ip string) (string, time.Time, error) {
	return s.diagnostics.Issue(ip)
}

// Authorize resolves a presented token against both stores. Call tokens stay
// valid for repeated fetches; a diagnostic hit is consumed immediately and
// yields only the shortened credential TTL.
func (s *Service) Authorize(token, ip string) (ttl time.Duration, ok bool) {
	if s.calls.Validate(token, ip) {
		return CallCredentialTTL, true
	}
	if s.diagnostics.Validate(token, ip) {
		s.diagnostics.Delete(token)
		return DiagnosticCredentialTTL, true
	}
	return 0, false
}

// CredentialsFor derives a TURN REST username/password pair valid for ttl.
// The username is "<unix expiry>:<sanitized ip>" and the password is the
// base64 HMAC-SHA1 of the username under the relay secret, the scheme coturn
// implements as static-auth-secret.
func (s *Service) CredentialsFor(ip string, ttl time.Duration) Credentials {
	if ip == "" {
		ip = "unknown"
	}
	sanitized := strings.NewReplacer(":", "-", "%", "-").Replace(ip)
	username := fmt.Sprintf("%d:%s", time.Now().Add(ttl).Unix(), sanitized)

	mac := hmac.New(sha1.New, []byte(s.secret))
	mac.Write([]byte(username))
	password := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	uris := []string{
		"stun:" + s.stunHost,
		"turn:" + s.stunHost,
	}
	if s.turnHost != "" {
		uris = append(uris, "turns:"+s.turnHost+":443?transport=tcp")
	}

	return Credentials{
		Username: username,
		Password: password,
		URIs:     uris,
		TTL:      int(ttl / time.Second),
	}
}
