// Package auth holds the two trust decisions the signaling server makes:
// which browser origins may connect, and whether a reconnecting caller really
// owned the client ID it claims.
package auth

import (
	"fmt"
	"net/http"
	"net/url"

	"go.uber.org/zap"

	"github.com/serenada/signaling/internal/v1/logging"
)

// ValidateOrigin checks the request Origin header against an allowed list.
// A missing Origin header is allowed: native mobile clients and CLI tools
// don't send one. An empty allowed list means no restriction is configured
// and every origin passes.
func ValidateOrigin(r *http.Request, allowedOrigins []string) error {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return nil
	}
	if len(allowedOrigins) == 0 {
		return nil
	}

	originURL, err := url.Parse(origin)
	if err != nil {
		logging.Warn(r.Context(), "Invalid origin URL", zap.String("origin", origin), zap.Error(err))
		return fmt.Errorf("invalid origin URL: %w", err)
	}

	for _, allowed := range allowedOrigins {
		allowedURL, err := url.Parse(allowed)
		if err != nil {
			continue
		}
		// Scheme and host must both match.
		if originURL.Scheme == allowedURL.Scheme && originURL.Host == allowedURL.Host {
			return nil
		}
	}

	logging.Warn(r.Context(), "Origin not in allowed list", zap.String("origin", origin), zap.Strings("allowedOrigins", allowedOrigins))
	return fmt.Errorf("origin not allowed: %s", origin)
}
