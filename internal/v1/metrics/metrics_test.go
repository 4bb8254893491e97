package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

// These are promauto collectors registered on the global default registry,
// so tests verify observed values rather than registration.

func TestCounterVecs(t *testing.T) {
	ConnectionAttempts.WithLabelValues("ws").Inc()
	if val := testutil.ToFloat64(ConnectionAttempts.WithLabelValues("ws")); val < 1 {
		t.Errorf("Expected ConnectionAttempts{ws} to be at least 1, got %v", val)
	}

	Disconnects.WithLabelValues("pong_timeout").Inc()
	if val := testutil.ToFloat64(Disconnects.WithLabelValues("pong_timeout")); val < 1 {
		t.Errorf("Expected Disconnects{pong_timeout} to be at least 1, got %v", val)
	}

	MessagesReceived.WithLabelValues("join").Add(2)
	if val := testutil.ToFloat64(MessagesReceived.WithLabelValues("join")); val < 2 {
		t.Errorf("Expected MessagesReceived{join} to be at least 2, got %v", val)
	}
}

func TestGauges(t *testing.T) {
	ActiveConnections.WithLabelValues("sse").Set(3)
	if val := testutil.ToFloat64(ActiveConnections.WithLabelValues("sse")); val != 3 {
		t.Errorf("Expected ActiveConnections{sse} to be 3, got %v", val)
	}

	ActiveRooms.Set(2)
	if val := testutil.ToFloat64(ActiveRooms); val != 2 {
		t.Errorf("Expected ActiveRooms to be 2, got %v", val)
	}
}

func TestJoinDurationObserve(t *testing.T) {
	// Histogram verification is value-free here, the point is that observing
	// does not panic with the configured buckets.
	JoinDuration.Observe(0.042)
}
