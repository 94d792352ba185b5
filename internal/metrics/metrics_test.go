package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestSetHeartbeatStateIsOneHot(t *testing.T) {
	HeartbeatState.Reset()
	states := []string{"ALIVE", "DEAD", "STUCK", "QUARANTINED"}

	SetHeartbeatState("collector", states, "ALIVE")
	if got := testutil.ToFloat64(HeartbeatState.WithLabelValues("collector", "ALIVE")); got != 1 {
		t.Fatalf("expected ALIVE=1, got %v", got)
	}
	if got := testutil.ToFloat64(HeartbeatState.WithLabelValues("collector", "DEAD")); got != 0 {
		t.Fatalf("expected DEAD=0, got %v", got)
	}

	SetHeartbeatState("collector", states, "STUCK")
	if got := testutil.ToFloat64(HeartbeatState.WithLabelValues("collector", "ALIVE")); got != 0 {
		t.Fatalf("expected ALIVE=0 after transition, got %v", got)
	}
	if got := testutil.ToFloat64(HeartbeatState.WithLabelValues("collector", "STUCK")); got != 1 {
		t.Fatalf("expected STUCK=1 after transition, got %v", got)
	}
}

func TestHandlerServesRegisteredMetrics(t *testing.T) {
	if Handler() == nil {
		t.Fatal("expected non-nil handler")
	}
}
