// Package roomid mints and validates self-authenticating room identifiers.
//
// A room ID is 12 random bytes followed by an 8-byte truncated HMAC-SHA256
// tag over the random bytes and a versioned context string, base64url-encoded
// without padding (27 characters). Validation recomputes the tag, so the
// server needs no room registry to tell real IDs from fabricated ones.
package roomid

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/serenada/signaling/internal/v1/types"
)

const (
	version     = "v1"
	entity      = "room"
	randomBytes = 12
	tagBytes    = 8

	// EncodedLength is the exact length of a well-formed room ID.
	EncodedLength = 27
)

var (
	// ErrSecretMissing signals that ROOM_ID_SECRET is not configured and the
	// service can neither mint nor validate. Surfaces as SERVER_NOT_CONFIGURED.
	ErrSecretMissing = errors.New("room id secret is not configured")

	// ErrInvalidRoomID covers every malformed or forged room ID. Surfaces as
	// INVALID_ROOM_ID.
	ErrInvalidRoomID = errors.New("invalid room id")
)

// Service mints and validates room IDs bound to one secret and environment.
type Service struct {
	secret  []byte
	context []byte
}

// NewService builds a Service. An empty env defaults to "dev" so IDs minted
// by misconfigured dev servers stay distinguishable from production ones.
func NewService(secret, env string) *Service {
	if strings.TrimSpace(env) == "" {
		env = "dev"
	}
	return &Service{
		secret:  []byte(strings.TrimSpace(secret)),
		context: []byte(fmt.Sprintf("id:%s|%s|%s", version, env, entity)),
	}
}

// Configured reports whether a secret is present.
func (s *Service) Configured() bool {
	return len(s.secret) > 0
}

// Mint draws fresh randomness and returns a new room ID.
func (s *Service) Mint() (types.RoomID, error) {
	if !s.Configured() {
		return "", ErrSecretMissing
	}

	random := make([]byte, randomBytes)
	if _, err := rand.Read(random); err != nil {
		return "", fmt.Errorf("drawing room id randomness: %w", err)
	}

	token := make([]byte, 0, randomBytes+tagBytes)
	token = append(token, random...)
	token = append(token, s.tag(random)...)
	return types.RoomID(base64.RawURLEncoding.EncodeToString(token)), nil
}

// Validate checks that rid was minted with this service's secret.
// Returns nil, ErrSecretMissing, or ErrInvalidRoomID.
func (s *Service) Validate(rid types.RoomID) error {
	if !s.Configured() {
		return ErrSecretMissing
	}
	if len(rid) != EncodedLength {
		return ErrInvalidRoomID
	}

	token, err := base64.RawURLEncoding.DecodeString(string(rid))
	if err != nil || len(token) != randomBytes+tagBytes {
		return ErrInvalidRoomID
	}

	if !hmac.Equal(token[randomBytes:], s.tag(token[:randomBytes])) {
		return ErrInvalidRoomID
	}
	return nil
}

func (s *Service) tag(random []byte) []byte {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write(random)
	mac.Write(s.context)
	return mac.Sum(nil)[:tagBytes]
}
