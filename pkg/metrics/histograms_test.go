package metrics

import (
	"testing"
	"time"
)

func TestHistogramObserve(t *testing.T) {
	h := NewHistogram("POST /v1/chat")
	for _, d := range []time.Duration{
		10 * time.Millisecond,
		50 * time.Millisecond,
		200 * time.Millisecond,
		500 * time.Millisecond,
		time.Second,
	} {
		h.Observe(d)
	}

	snap := h.Snapshot()
	if snap.Count != 5 {
		t.Fatalf("count = %d, want 5", snap.Count)
	}
	if snap.Sum <= 0 {
		t.Fatal("sum should be positive")
	}
	if snap.Name != "POST /v1/chat" {
		t.Fatalf("name = %q, want %q", snap.Name, "POST /v1/chat")
	}
}

func TestHistogramPercentiles(t *testing.T) {
	h := NewHistogram("GET /v1/models")
	for i := 0; i < 100; i++ {
		h.Observe(10 * time.Millisecond)
	}
	// Uniform 10ms observations land in the 0.01 bucket at every rank.
	for _, p := range []float64{0.50, 0.95, 0.99} {
		if got := h.Percentile(p); got > 0.025 {
			t.Fatalf("p%.0f = %f, want <= 0.025", p*100, got)
		}
	}
}

func TestHistogramEmpty(t *testing.T) {
	h := NewHistogram("GET /health")
	if p := h.Percentile(0.50); p != 0 {
		t.Fatalf("empty p50 = %f, want 0", p)
	}
	if snap := h.Snapshot(); snap.Count != 0 {
		t.Fatalf("count = %d, want 0", snap.Count)
	}
}

func TestHistogramRegistryPerEndpoint(t *testing.T) {
	reg := NewHistogramRegistry()
	reg.ObserveDuration("POST /v1/chat", 100*time.Millisecond)
	reg.ObserveDuration("POST /v1/chat", 200*time.Millisecond)
	reg.ObserveDuration("GET /memory", 5*time.Millisecond)

	snaps := reg.Snapshots()
	if len(snaps) != 2 {
		t.Fatalf("len(snaps) = %d, want 2", len(snaps))
	}
	if h1, h2 := reg.Get("POST /v1/chat"), reg.Get("POST /v1/chat"); h1 != h2 {
		t.Fatal("Get must return the same histogram instance per endpoint")
	}
}

func TestHistogramSnapshotSplitsFastAndSlow(t *testing.T) {
	h := NewHistogram("POST /v1/chat")
	for i := 0; i < 90; i++ {
		h.Observe(5 * time.Millisecond)
	}
	// A slow tail, the shape of upstream chat calls stalling.
	for i := 0; i < 10; i++ {
		h.Observe(2 * time.Second)
	}

	snap := h.Snapshot()
	if snap.Count != 100 {
		t.Fatalf("count = %d, want 100", snap.Count)
	}
	if snap.P50 > 0.01 {
		t.Fatalf("p50 = %f, want <= 0.01", snap.P50)
	}
	if snap.P99 < 0.1 {
		t.Fatalf("p99 = %f, want >= 0.1 to reflect the slow tail", snap.P99)
	}
}

func TestRegistryObserveLatency(t *testing.T) {
	reg := NewRegistry()
	reg.ObserveLatency("GET /health", 10*time.Millisecond)
	reg.ObserveLatency("GET /health", 20*time.Millisecond)

	snap := reg.Snapshot()
	if len(snap.Histograms) != 1 {
		t.Fatalf("expected 1 histogram, got %d", len(snap.Histograms))
	}
	if snap.Histograms[0].Count != 2 {
		t.Fatalf("histogram count = %d, want 2", snap.Histograms[0].Count)
	}
}
