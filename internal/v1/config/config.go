package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
)

// Config holds validated environment configuration
type Config struct {
	Port  string
	GoEnv string

	// Room ID minting
	RoomIDSecret string
	RoomIDEnv    string

	// TURN / reconnect secrets
	TurnSecret      string
	TurnTokenSecret string
	StunHost        string
	TurnHost        string

	// HTTP surface
	AllowedOrigins []string
	TrustProxy     bool

	// Rate limiting
	RateLimitBypassIPs []string
	RateLimitRPS       float64
	RateLimitBurst     int

	// Introspection
	InternalStatsEnabled bool
	InternalStatsToken   string

	// Tracing
	TracingEnabled    bool
	OtelCollectorAddr string
}

// ValidateEnv validates all environment variables and returns a Config object.
// Missing secrets degrade the matching feature at runtime (room minting,
// TURN credentials, reconnect auth) and are warned about rather than fatal;
// malformed values are collected and returned as one error.
func ValidateEnv() (*Config, error) {
	cfg := &Config{}
	var errors []string

	// Optional: PORT (defaults to 8080, must be a valid port when set)
	cfg.Port = getEnvOrDefault("PORT", "8080")
	if port, err := strconv.Atoi(cfg.Port); err != nil || port < 1 || port > 65535 {
		errors = append(errors, fmt.Sprintf("PORT must be a valid port number between 1 and 65535 (got '%s')", cfg.Port))
	}

	// Optional: GO_ENV (defaults to "production")
	cfg.GoEnv = getEnvOrDefault("GO_ENV", "production")

	// Optional: ROOM_ID_SECRET. Without it the room-id service refuses to
	// mint or validate and clients see SERVER_NOT_CONFIGURED.
	cfg.RoomIDSecret = os.Getenv("ROOM_ID_SECRET")
	if cfg.RoomIDSecret == "" {
		slog.Warn("ROOM_ID_SECRET not set, room-id service will report SERVER_NOT_CONFIGURED")
	}
	cfg.RoomIDEnv = getEnvOrDefault("ROOM_ID_ENV", "dev")

	// Optional: TURN_SECRET + STUN_HOST gate the TURN credential endpoint.
	cfg.TurnSecret = os.Getenv("TURN_SECRET")
	cfg.StunHost = os.Getenv("STUN_HOST")
	cfg.TurnHost = os.Getenv("TURN_HOST")
	if cfg.TurnSecret == "" || cfg.StunHost == "" {
		slog.Warn("TURN_SECRET or STUN_HOST not set, TURN credential endpoint will return 503")
	}

	// Optional: TURN_TOKEN_SECRET keys reconnect tokens, falling back to
	// TURN_SECRET. With neither set, reconnects run in legacy mode
	// (unauthenticated CID reuse).
	cfg.TurnTokenSecret = os.Getenv("TURN_TOKEN_SECRET")
	if cfg.TurnTokenSecret == "" {
		cfg.TurnTokenSecret = cfg.TurnSecret
	}
	if cfg.TurnTokenSecret == "" {
		slog.Warn("TURN_TOKEN_SECRET and TURN_SECRET not set, reconnect tokens disabled (legacy mode)")
	}

	// Optional: ALLOWED_ORIGINS (comma list). Empty allows any origin.
	cfg.AllowedOrigins = splitAndTrim(os.Getenv("ALLOWED_ORIGINS"))

	// Optional: TRUST_PROXY=1 honors X-Real-IP / X-Forwarded-For.
	cfg.TrustProxy = os.Getenv("TRUST_PROXY") == "1"

	// Optional: RATE_LIMIT_BYPASS_IPS (comma list of IPs, CIDRs, or "*").
	cfg.RateLimitBypassIPs = splitAndTrim(os.Getenv("RATE_LIMIT_BYPASS_IPS"))

	// Optional: RATE_LIMIT_RPS / RATE_LIMIT_BURST
	rps := getEnvOrDefault("RATE_LIMIT_RPS", "5")
	if v, err := strconv.ParseFloat(rps, 64); err != nil || v <= 0 {
		errors = append(errors, fmt.Sprintf("RATE_LIMIT_RPS must be a positive number (got '%s')", rps))
	} else {
		cfg.RateLimitRPS = v
	}
	burst := getEnvOrDefault("RATE_LIMIT_BURST", "10")
	if v, err := strconv.Atoi(burst); err != nil || v < 1 {
		errors = append(errors, fmt.Sprintf("RATE_LIMIT_BURST must be a positive integer (got '%s')", burst))
	} else {
		cfg.RateLimitBurst = v
	}

	// Optional: internal stats endpoint gating
	cfg.InternalStatsEnabled = os.Getenv("ENABLE_INTERNAL_STATS") == "1"
	cfg.InternalStatsToken = os.Getenv("INTERNAL_STATS_TOKEN")
	if cfg.InternalStatsEnabled && cfg.InternalStatsToken == "" {
		slog.Warn("ENABLE_INTERNAL_STATS=1 but INTERNAL_STATS_TOKEN not set, stats endpoint will return 503")
	}

	// Optional: tracing (requires a collector address when enabled)
	cfg.TracingEnabled = os.Getenv("TRACING_ENABLED") == "1"
	if cfg.TracingEnabled {
		cfg.OtelCollectorAddr = os.Getenv("OTEL_COLLECTOR_ADDR")
		if cfg.OtelCollectorAddr == "" {
			errors = append(errors, "OTEL_COLLECTOR_ADDR is required when TRACING_ENABLED=1")
		} else if !isValidHostPort(cfg.OtelCollectorAddr) {
			errors = append(errors, fmt.Sprintf("OTEL_COLLECTOR_ADDR must be in format 'host:port' (got '%s')", cfg.OtelCollectorAddr))
		}
	}

	// If there are validation errors, return them
	if len(errors) > 0 {
		return nil, fmt.Errorf("environment validation failed:\n  - %s", strings.Join(errors, "\n  - "))
	}

	// Log validated configuration (with secrets redacted)
	logValidatedConfig(cfg)

	return cfg, nil
}

// DevelopmentMode reports whether the server runs with development logging.
func (c *Config) DevelopmentMode() bool {
	return c.GoEnv == "development"
}

// isValidHostPort checks if a string is in the format "host:port"
func isValidHostPort(addr string) bool {
	parts := strings.Split(addr, ":")
	if len(parts) != 2 {
		return false
	}

	// Validate port is a number
	port, err := strconv.Atoi(parts[1])
	if err != nil || port < 1 || port > 65535 {
		return false
	}

	// Validate host is not empty
	if parts[0] == "" {
		return false
	}

	return true
}

// splitAndTrim splits a comma-separated list, dropping empty entries.
func splitAndTrim(raw string) []string {
	if raw == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// logValidatedConfig logs the validated configuration with secrets redacted
func logValidatedConfig(cfg *Config) {
	slog.Info("✅ Environment configuration validated successfully")
	slog.Info("Configuration",
		"port", cfg.Port,
		"go_env", cfg.GoEnv,
		"room_id_secret", redactSecret(cfg.RoomIDSecret),
		"room_id_env", cfg.RoomIDEnv,
		"turn_secret", redactSecret(cfg.TurnSecret),
		"turn_token_secret", redactSecret(cfg.TurnTokenSecret),
		"stun_host", cfg.StunHost,
		"turn_host", cfg.TurnHost,
		"allowed_origins", strings.Join(cfg.AllowedOrigins, ","),
		"trust_proxy", cfg.TrustProxy,
		"rate_limit_rps", cfg.RateLimitRPS,
		"rate_limit_burst", cfg.RateLimitBurst,
		"rate_limit_bypass", strings.Join(cfg.RateLimitBypassIPs, ","),
		"internal_stats_enabled", cfg.InternalStatsEnabled,
		"tracing_enabled", cfg.TracingEnabled,
	)
}

// getEnvOrDefault returns the value of the environment variable or a default value if not set
func getEnvOrDefault(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

// redactSecret redacts a secret by showing only the first 8 characters
func redactSecret(secret string) string {
	if secret == "" {
		return ""
	}
	if len(secret) <= 8 {
		return "***"
	}
	return secret[:8] + "***"
}
