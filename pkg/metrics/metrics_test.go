package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestRegistryObserveAndSnapshot(t *testing.T) {
	r := NewRegistry()
	r.Observe("POST /v1/chat", 200, 15*time.Millisecond)
	r.Observe("POST /v1/chat", 502, 35*time.Millisecond)
	r.IncProvider("openai")
	r.IncProvider("openai")
	r.IncProviderError("openai")
	r.IncErrorKind("provider_error")
	r.IncRateLimitDenial()
	r.AddStreamFrames(4)
	r.SetGauge("audit_chain_len", 12)

	snap := r.Snapshot()
	ep, ok := snap.Endpoints["POST /v1/chat"]
	if !ok {
		t.Fatal("missing endpoint metric")
	}
	if ep.Count != 2 || ep.ErrorCount != 1 || ep.MaxMillis != 35 {
		t.Fatalf("unexpected endpoint stat: %+v", ep)
	}
	if snap.ProviderRequests["openai"] != 2 || snap.ProviderErrors["openai"] != 1 {
		t.Fatalf("provider counters wrong: %+v", snap)
	}
	if snap.ErrorKinds["provider_error"] != 1 {
		t.Fatalf("error kind counter wrong: %+v", snap.ErrorKinds)
	}
	if snap.RateLimitDenials != 1 || snap.StreamFrames != 4 {
		t.Fatalf("denials/frames wrong: %+v", snap)
	}
	if snap.Gauges["audit_chain_len"] != 12 {
		t.Fatalf("gauge wrong: %v", snap.Gauges)
	}
}

func TestSortedKeys(t *testing.T) {
	keys := SortedKeys(map[string]int{"b": 2, "a": 1, "c": 3})
	if len(keys) != 3 || keys[0] != "a" || keys[1] != "b" || keys[2] != "c" {
		t.Fatalf("unexpected order: %#v", keys)
	}
}

func TestPrometheusHandler(t *testing.T) {
	r := NewRegistry()
	r.Observe("POST /v1/chat", 200, 12*time.Millisecond)
	r.IncProvider("anthropic")
	r.IncErrorKind("rate_limited")
	r.SetGauge("memory_chain_len", 7)

	rr := httptest.NewRecorder()
	r.PrometheusHandler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics/prometheus", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	body := rr.Body.String()
	if !strings.Contains(body, "gateway_endpoint_count") {
		t.Fatalf("missing endpoint metric: %s", body)
	}
	if !strings.Contains(body, "gateway_provider_requests_total{provider=\"anthropic\"} 1") {
		t.Fatalf("missing provider metric: %s", body)
	}
	if !strings.Contains(body, "gateway_gauge{name=\"memory_chain_len\"} 7.000") {
		t.Fatalf("missing gauge metric: %s", body)
	}
}

func TestJSONHandlerAndEmptyInputs(t *testing.T) {
	r := NewRegistry()
	r.IncProvider("")
	r.IncErrorKind("")
	r.SetGauge("", 5)
	r.AddStreamFrames(-1)
	r.Observe("GET /health", 204, 5*time.Millisecond)
	rr := httptest.NewRecorder()
	r.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if got := rr.Header().Get("Content-Type"); got != "application/json" {
		t.Fatalf("expected json content type, got %q", got)
	}
	body := rr.Body.String()
	if !strings.Contains(body, "\"generated_at\"") {
		t.Fatalf("expected generated timestamp in body: %s", body)
	}
	if strings.Contains(body, "\"\"") {
		t.Fatalf("did not expect empty-key counters in body: %s", body)
	}
}
