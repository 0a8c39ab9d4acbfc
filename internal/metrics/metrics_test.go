package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRegisterIdempotent(t *testing.T) {
	reg := prometheus.NewRegistry()
	if err := Register(reg); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := Register(reg); err != nil {
		t.Fatalf("second Register: %v", err)
	}
}

func TestHelpersRecord(t *testing.T) {
	reg := prometheus.NewRegistry()
	if err := Register(reg); err != nil {
		t.Fatalf("Register: %v", err)
	}

	IncRelayCall("persistent")
	IncRelayCall("persistent")
	IncRelayCall("spawn")
	IncRelayError()
	ObserveRelayDuration(0.05)
	IncWorkerExit()
	IncSchedulerFallback("gemini-flash")
	AddRegistryRepairs(3)
	AddRegistryRepairs(0) // must not record

	if got := testutil.ToFloat64(relayCalls.WithLabelValues("persistent")); got != 2 {
		t.Fatalf("relay calls persistent = %v, want 2", got)
	}
	if got := testutil.ToFloat64(relayCalls.WithLabelValues("spawn")); got != 1 {
		t.Fatalf("relay calls spawn = %v, want 1", got)
	}
	if got := testutil.ToFloat64(relayCallErrors); got != 1 {
		t.Fatalf("relay errors = %v, want 1", got)
	}
	if got := testutil.ToFloat64(workerExits); got != 1 {
		t.Fatalf("worker exits = %v, want 1", got)
	}
	if got := testutil.ToFloat64(schedulerFallbacks.WithLabelValues("gemini-flash")); got != 1 {
		t.Fatalf("scheduler fallbacks = %v, want 1", got)
	}
	if got := testutil.ToFloat64(registryRepairs); got != 3 {
		t.Fatalf("registry repairs = %v, want 3", got)
	}
}
