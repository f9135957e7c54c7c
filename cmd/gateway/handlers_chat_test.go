package main

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/BlackRoad-OS-Inc/blackroad-gateway/pkg/providers"
)

func TestChatUnary(t *testing.T) {
	adapter := &fakeAdapter{chatResp: &providers.ChatResponse{
		Model:           "llama3",
		Message:         providers.Message{Role: "assistant", Content: "hello there"},
		PromptEvalCount: 12,
		EvalCount:       7,
	}}
	router := newTestServer(t, adapter).Router()

	rr := doJSON(t, router, http.MethodPost, "/v1/chat", "", `{"model":"llama3","messages":[{"role":"user","content":"hi"}]}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var resp providers.ChatResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Message.Role != "assistant" || resp.Message.Content != "hello there" {
		t.Fatalf("unexpected message: %+v", resp.Message)
	}
	if resp.PromptEvalCount != 12 || resp.EvalCount != 7 {
		t.Fatalf("token counts lost: %+v", resp)
	}
}

func TestChatValidation(t *testing.T) {
	router := newTestServer(t, &fakeAdapter{}).Router()
	rr := doJSON(t, router, http.MethodPost, "/v1/chat", "", `{"model":"","messages":[]}`)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
	var body struct {
		Error  string   `json:"error"`
		Errors []string `json:"errors"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.Error != "validation_error" || len(body.Errors) == 0 {
		t.Fatalf("unexpected validation body: %+v", body)
	}
}

func TestChatProviderUnavailable(t *testing.T) {
	// gpt-* routes to openai, which is not registered.
	router := newTestServer(t, &fakeAdapter{}).Router()
	rr := doJSON(t, router, http.MethodPost, "/v1/chat", "", `{"model":"gpt-4o","messages":[{"role":"user","content":"hi"}]}`)
	if rr.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "provider_unavailable") {
		t.Fatalf("unexpected body: %s", rr.Body.String())
	}
}

func TestChatProviderError(t *testing.T) {
	adapter := &fakeAdapter{chatErr: &providers.UpstreamError{Provider: "ollama", Status: 500, Excerpt: "boom"}}
	s := newTestServer(t, adapter)
	rr := doJSON(t, s.Router(), http.MethodPost, "/v1/chat", "", `{"model":"llama3","messages":[{"role":"user","content":"hi"}]}`)
	if rr.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "provider_error") {
		t.Fatalf("unexpected body: %s", rr.Body.String())
	}
	snap := s.Metrics.Snapshot()
	if snap.ProviderErrors["ollama"] != 1 {
		t.Fatalf("provider error not counted: %+v", snap.ProviderErrors)
	}
}

func TestChatStreamFrames(t *testing.T) {
	adapter := &fakeAdapter{deltas: []string{"Hello", " ", "world"}}
	router := newTestServer(t, adapter).Router()

	rr := doJSON(t, router, http.MethodPost, "/v1/chat", "", `{"model":"llama3","stream":true,"messages":[{"role":"user","content":"hi"}]}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if ct := rr.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("expected event-stream content type, got %q", ct)
	}
	frames := strings.Split(strings.TrimSuffix(rr.Body.String(), "\n\n"), "\n\n")
	if len(frames) != 4 {
		t.Fatalf("expected 4 frames, got %d: %q", len(frames), frames)
	}
	var assembled strings.Builder
	for _, frame := range frames[:3] {
		var payload streamFrame
		if err := json.Unmarshal([]byte(strings.TrimPrefix(frame, "data: ")), &payload); err != nil {
			t.Fatalf("decode frame %q: %v", frame, err)
		}
		assembled.WriteString(payload.Message.Content)
	}
	if assembled.String() != "Hello world" {
		t.Fatalf("reassembled stream %q", assembled.String())
	}
	if frames[3] != "data: [DONE]" {
		t.Fatalf("missing terminator, got %q", frames[3])
	}
}

func TestChatStreamUpstreamFailureBeforeFirstFrame(t *testing.T) {
	adapter := &fakeAdapter{streamErr: errors.New("connection refused")}
	router := newTestServer(t, adapter).Router()
	rr := doJSON(t, router, http.MethodPost, "/v1/chat", "", `{"model":"llama3","stream":true,"messages":[{"role":"user","content":"hi"}]}`)
	if rr.Code != http.StatusBadGateway {
		t.Fatalf("expected 502 when no frame was sent, got %d", rr.Code)
	}
}

func TestGenerateLegacyPath(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/generate" {
			t.Fatalf("unexpected upstream path %s", r.URL.Path)
		}
		var req map[string]any
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req["model"] != "qwen2.5:3b" || req["prompt"] != "say hi" {
			t.Fatalf("unexpected upstream payload: %v", req)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"model":"qwen2.5:3b","response":"hi","done":true}`))
	}))
	defer upstream.Close()

	s := newTestServer(t, &fakeAdapter{})
	s.Ollama = providers.NewOllama(upstream.URL)
	rr := doJSON(t, s.Router(), http.MethodPost, "/v1/generate", "", `{"model":"qwen2.5:3b","prompt":"say hi"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if !strings.Contains(rr.Body.String(), `"response":"hi"`) {
		t.Fatalf("upstream body not passed through: %s", rr.Body.String())
	}
}

func TestGenerateValidation(t *testing.T) {
	router := newTestServer(t, &fakeAdapter{}).Router()
	rr := doJSON(t, router, http.MethodPost, "/v1/generate", "", `{"model":"","prompt":""}`)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}

func TestModelsUsesCache(t *testing.T) {
	adapter := &fakeAdapter{models: []providers.ModelInfo{{ID: "llama3", Provider: "ollama"}}}
	s := newTestServer(t, adapter)
	router := s.Router()

	for i := 0; i < 3; i++ {
		rr := doJSON(t, router, http.MethodGet, "/v1/models", "", "")
		if rr.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rr.Code)
		}
		if !strings.Contains(rr.Body.String(), `"llama3"`) {
			t.Fatalf("model list missing: %s", rr.Body.String())
		}
	}
	if adapter.modelCall != 1 {
		t.Fatalf("expected a single upstream model fetch, got %d", adapter.modelCall)
	}
}

func TestHealthReportsProviders(t *testing.T) {
	s := newTestServer(t, &fakeAdapter{healthy: true})
	rr := doJSON(t, s.Router(), http.MethodGet, "/health", "", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var body struct {
		Status    string            `json:"status"`
		Providers map[string]string `json:"providers"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.Status != "ok" || body.Providers["ollama"] != "ok" {
		t.Fatalf("unexpected health body: %+v", body)
	}
}
