// Package turn issues the ephemeral tokens and TURN REST credentials that
// let calling clients use the relay fleet without shared accounts. Tokens are
// opaque random handles held in process memory; the TURN username/password
// pair is derived per fetch from TURN_SECRET, so the relays themselves stay
// stateless.
package turn

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"
	"time"
)

type tokenEntry struct {
	ip      string
	expires time.Time
}

// TokenStore is an in-memory map of opaque tokens with a fixed TTL. Expired
// entries are removed opportunistically: Issue sweeps the whole map at most
// once per TTL, and Validate deletes the entry it touches when stale.
type TokenStore struct {
	mu        sync.Mutex
	tokens    map[string]tokenEntry
	ttl       time.Duration
	lastSweep time.Time
}

// NewTokenStore builds a store whose tokens expire after ttl.
func NewTokenStore(ttl time.Duration) *TokenStore {
	return &TokenStore{
		tokens:    make(map[string]tokenEntry),
		ttl:       ttl,
		lastSweep: time.Now(),
	}
}

// Issue mints a fresh token. A non-empty ip pins the token to that caller;
// an empty ip leaves it unpinned (call tokens survive WiFi-to-cellular
// switches mid-call, so they must not be IP-bound).
func (s *TokenStore) Issue(ip string) (string, time.Time, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", time.Time{}, fmt.Errorf("drawing token randomness: %w", err)
	}
	token := hex.EncodeToString(b)

	now := time.Now()
	expires := now.Add(s.ttl)

	s.mu.Lock()
	if now.Sub(s.lastSweep) >= s.ttl {
		for t, entry := range s.tokens {
			if now.After(entry.expires) {
				delete(s.tokens, t)
			}
		}
		s.lastSweep = now
	}
	s.tokens[token] = tokenEntry{ip: ip, expires: expires}
	s.mu.Unlock()

	return token, expires, nil
}

// Validate reports whether token is live and, when it was pinned at issue
// time, whether ip matches the pin. Expired entries are dropped on the spot.
func (s *TokenStore) Validate(token, ip string) bool {
	if token == "" {
		return false
	}
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.tokens[token]
	if !ok {
		return false
	}
	if now.After(entry.expires) {
		delete(s.tokens, token)
		return false
	}
	if entry.ip != "" && entry.ip != ip {
		return false
	}
	return true
}

// Delete removes a token, used to make diagnostic tokens one-shot.
func (s *TokenStore) Delete(token string) {
	if token == "" {
		return
	}
	s.mu.Lock()
	delete(s.tokens, token)
	s.mu.Unlock()
}

// Len reports the number of live-or-not-yet-swept entries.
func (s *TokenStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tokens)
}
