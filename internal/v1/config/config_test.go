package config

import (
	"os"
	"strings"
	"testing"
)

var testEnvVars = []string{
	"PORT",
	"GO_ENV",
	"ROOM_ID_SECRET",
	"ROOM_ID_ENV",
	"TURN_SECRET",
	"TURN_TOKEN_SECRET",
	"STUN_HOST",
	"TURN_HOST",
	"ALLOWED_ORIGINS",
	"TRUST_PROXY",
	"RATE_LIMIT_BYPASS_IPS",
	"RATE_LIMIT_RPS",
	"RATE_LIMIT_BURST",
	"ENABLE_INTERNAL_STATS",
	"INTERNAL_STATS_TOKEN",
	"TRACING_ENABLED",
	"OTEL_COLLECTOR_ADDR",
}

// setupTestEnv clears the config env surface and returns a restore function
func setupTestEnv(t *testing.T) func() {
	origVars := map[string]string{}
	for _, key := range testEnvVars {
		origVars[key] = os.Getenv(key)
		os.Unsetenv(key)
	}

	return func() {
		for key, val := range origVars {
			if val != "" {
				os.Setenv(key, val)
			} else {
				os.Unsetenv(key)
			}
		}
	}
}

func TestValidateEnv_Defaults(t *testing.T) {
	cleanup := setupTestEnv(t)
	defer cleanup()

	cfg, err := ValidateEnv()
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if cfg.Port != "8080" {
		t.Errorf("Expected PORT to default to '8080', got '%s'", cfg.Port)
	}
	if cfg.GoEnv != "production" {
		t.Errorf("Expected GO_ENV to default to 'production', got '%s'", cfg.GoEnv)
	}
	if cfg.RoomIDEnv != "dev" {
		t.Errorf("Expected ROOM_ID_ENV to default to 'dev', got '%s'", cfg.RoomIDEnv)
	}
	if cfg.RateLimitRPS != 5 {
		t.Errorf("Expected RATE_LIMIT_RPS to default to 5, got %v", cfg.RateLimitRPS)
	}
	if cfg.RateLimitBurst != 10 {
		t.Errorf("Expected RATE_LIMIT_BURST to default to 10, got %d", cfg.RateLimitBurst)
	}
	if cfg.TrustProxy {
		t.Error("Expected TRUST_PROXY to default to false")
	}
	if cfg.InternalStatsEnabled {
		t.Error("Expected ENABLE_INTERNAL_STATS to default to false")
	}
}

func TestValidateEnv_ValidConfiguration(t *testing.T) {
	cleanup := setupTestEnv(t)
	defer cleanup()

	os.Setenv("PORT", "9000")
	os.Setenv("ROOM_ID_SECRET", "deadbeefdeadbeefdeadbeefdeadbeef")
	os.Setenv("ROOM_ID_ENV", "prod")
	os.Setenv("TURN_SECRET", "turn-secret-value")
	os.Setenv("STUN_HOST", "stun.example.com:3478")
	os.Setenv("TURN_HOST", "turn.example.com")
	os.Setenv("ALLOWED_ORIGINS", "https://app.example.com, https://staging.example.com")
	os.Setenv("TRUST_PROXY", "1")
	os.Setenv("RATE_LIMIT_BYPASS_IPS", "10.0.0.0/8,192.168.1.5")

	cfg, err := ValidateEnv()
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if cfg.Port != "9000" {
		t.Errorf("Expected PORT to be '9000', got '%s'", cfg.Port)
	}
	if cfg.RoomIDSecret != "deadbeefdeadbeefdeadbeefdeadbeef" {
		t.Errorf("Expected ROOM_ID_SECRET to be set correctly")
	}
	if cfg.RoomIDEnv != "prod" {
		t.Errorf("Expected ROOM_ID_ENV to be 'prod', got '%s'", cfg.RoomIDEnv)
	}
	if len(cfg.AllowedOrigins) != 2 || cfg.AllowedOrigins[0] != "https://app.example.com" {
		t.Errorf("Expected ALLOWED_ORIGINS to be split and trimmed, got %v", cfg.AllowedOrigins)
	}
	if !cfg.TrustProxy {
		t.Error("Expected TRUST_PROXY to be true")
	}
	if len(cfg.RateLimitBypassIPs) != 2 {
		t.Errorf("Expected 2 bypass entries, got %v", cfg.RateLimitBypassIPs)
	}
}

func TestValidateEnv_TurnTokenSecretFallback(t *testing.T) {
	cleanup := setupTestEnv(t)
	defer cleanup()

	os.Setenv("TURN_SECRET", "shared-turn-secret")

	cfg, err := ValidateEnv()
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if cfg.TurnTokenSecret != "shared-turn-secret" {
		t.Errorf("Expected TURN_TOKEN_SECRET to fall back to TURN_SECRET, got '%s'", cfg.TurnTokenSecret)
	}

	os.Setenv("TURN_TOKEN_SECRET", "dedicated-token-secret")
	cfg, err = ValidateEnv()
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if cfg.TurnTokenSecret != "dedicated-token-secret" {
		t.Errorf("Expected TURN_TOKEN_SECRET to take precedence, got '%s'", cfg.TurnTokenSecret)
	}
}

func TestValidateEnv_InvalidPort(t *testing.T) {
	cleanup := setupTestEnv(t)
	defer cleanup()

	os.Setenv("PORT", "99999")

	_, err := ValidateEnv()
	if err == nil {
		t.Fatal("Expected error for invalid PORT, got nil")
	}
	if !strings.Contains(err.Error(), "PORT must be a valid port number") {
		t.Errorf("Expected error message about invalid PORT, got: %v", err)
	}
}

func TestValidateEnv_InvalidRateLimits(t *testing.T) {
	cleanup := setupTestEnv(t)
	defer cleanup()

	os.Setenv("RATE_LIMIT_RPS", "zero")
	os.Setenv("RATE_LIMIT_BURST", "-3")

	_, err := ValidateEnv()
	if err == nil {
		t.Fatal("Expected error for invalid rate limit values, got nil")
	}
	if !strings.Contains(err.Error(), "RATE_LIMIT_RPS must be a positive number") {
		t.Errorf("Expected error message about RATE_LIMIT_RPS, got: %v", err)
	}
	if !strings.Contains(err.Error(), "RATE_LIMIT_BURST must be a positive integer") {
		t.Errorf("Expected error message about RATE_LIMIT_BURST, got: %v", err)
	}
}

func TestValidateEnv_TracingRequiresCollector(t *testing.T) {
	cleanup := setupTestEnv(t)
	defer cleanup()

	os.Setenv("TRACING_ENABLED", "1")

	_, err := ValidateEnv()
	if err == nil {
		t.Fatal("Expected error for missing OTEL_COLLECTOR_ADDR, got nil")
	}
	if !strings.Contains(err.Error(), "OTEL_COLLECTOR_ADDR is required") {
		t.Errorf("Expected error message about OTEL_COLLECTOR_ADDR, got: %v", err)
	}

	os.Setenv("OTEL_COLLECTOR_ADDR", "no-port-here")
	_, err = ValidateEnv()
	if err == nil {
		t.Fatal("Expected error for malformed OTEL_COLLECTOR_ADDR, got nil")
	}
	if !strings.Contains(err.Error(), "OTEL_COLLECTOR_ADDR must be in format 'host:port'") {
		t.Errorf("Expected error message about OTEL_COLLECTOR_ADDR format, got: %v", err)
	}

	os.Setenv("OTEL_COLLECTOR_ADDR", "collector:4317")
	cfg, err := ValidateEnv()
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if cfg.OtelCollectorAddr != "collector:4317" {
		t.Errorf("Expected collector addr to be kept, got '%s'", cfg.OtelCollectorAddr)
	}
}

func TestDevelopmentMode(t *testing.T) {
	cleanup := setupTestEnv(t)
	defer cleanup()

	os.Setenv("GO_ENV", "development")
	cfg, err := ValidateEnv()
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if !cfg.DevelopmentMode() {
		t.Error("Expected DevelopmentMode to be true for GO_ENV=development")
	}

	os.Setenv("GO_ENV", "production")
	cfg, err = ValidateEnv()
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if cfg.DevelopmentMode() {
		t.Error("Expected DevelopmentMode to be false for GO_ENV=production")
	}
}

func TestRedactSecret(t *testing.T) {
	tests := []struct {
		name     string
		secret   string
		expected string
	}{
		{"Empty", "", ""},
		{"Long secret", "this-is-a-very-long-secret-key", "this-is-***"},
		{"Short secret", "short", "***"},
		{"Exactly 8 chars", "12345678", "***"},
		{"9 chars", "123456789", "12345678***"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := redactSecret(tt.secret)
			if result != tt.expected {
				t.Errorf("Expected '%s', got '%s'", tt.expected, result)
			}
		})
	}
}

func TestIsValidHostPort(t *testing.T) {
	tests := []struct {
		name     string
		addr     string
		expected bool
	}{
		{"Valid localhost", "localhost:8080", true},
		{"Valid IP", "127.0.0.1:3000", true},
		{"Valid hostname", "example.com:443", true},
		{"Missing port", "localhost", false},
		{"Missing host", ":8080", false},
		{"Invalid port", "localhost:99999", false},
		{"Non-numeric port", "localhost:abc", false},
		{"Multiple colons", "localhost:8080:9090", false},
		{"Empty string", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := isValidHostPort(tt.addr)
			if result != tt.expected {
				t.Errorf("isValidHostPort('%s') = %v, expected %v", tt.addr, result, tt.expected)
			}
		})
	}
}

func TestSplitAndTrim(t *testing.T) {
	tests := []struct {
		name     string
		raw      string
		expected int
	}{
		{"Empty", "", 0},
		{"Single", "https://a.example.com", 1},
		{"Spaces and empties", " a.example.com , ,b.example.com,", 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := splitAndTrim(tt.raw)
			if len(result) != tt.expected {
				t.Errorf("splitAndTrim('%s') = %v, expected %d entries", tt.raw, result, tt.expected)
			}
		})
	}
}
