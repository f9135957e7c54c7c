package httpx

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
)

func TestUpstreamJSONSuccess(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Probe") != "yes" {
			t.Errorf("missing header")
		}
		w.WriteHeader(200)
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer ts.Close()

	status, body, err := UpstreamJSON(context.Background(), ts.Client(), http.MethodPost, ts.URL, []byte(`{}`), map[string]string{"X-Probe": "yes"})
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if status != 200 || string(body) != `{"ok":true}` {
		t.Fatalf("unexpected response: %d %s", status, body)
	}
}

func TestUpstreamJSONNoRetryOn5xx(t *testing.T) {
	var calls int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(500)
	}))
	defer ts.Close()

	status, _, err := UpstreamJSON(context.Background(), ts.Client(), http.MethodPost, ts.URL, nil, nil)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if status != 500 {
		t.Fatalf("expected 500 passthrough, got %d", status)
	}
	if atomic.LoadInt32(&calls) != 1 {
		t.Fatalf("5xx must not be retried, got %d calls", calls)
	}
}

func TestUpstreamJSONRetriesConnectOnce(t *testing.T) {
	// Nothing listens here; both attempts must fail fast.
	_, _, err := UpstreamJSON(context.Background(), &http.Client{}, http.MethodGet, "http://127.0.0.1:1", nil, nil)
	if err == nil {
		t.Fatal("expected transport error")
	}
}
