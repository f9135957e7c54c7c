package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/BlackRoad-OS-Inc/blackroad-gateway/pkg/audit"
	"github.com/BlackRoad-OS-Inc/blackroad-gateway/pkg/httpx"
	"github.com/BlackRoad-OS-Inc/blackroad-gateway/pkg/providers"
)

func readRequestBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	body, err := io.ReadAll(r.Body)
	if err == nil {
		return body, true
	}
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		httpx.Error(w, http.StatusRequestEntityTooLarge, httpx.KindValidation, "request body too large")
		return nil, false
	}
	httpx.Error(w, http.StatusBadRequest, httpx.KindValidation, "invalid request body")
	return nil, false
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	body, ok := readRequestBody(w, r)
	if !ok {
		return
	}
	var req providers.ChatRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.Error(w, http.StatusBadRequest, httpx.KindValidation, "invalid json")
		return
	}
	if errs := req.Validate(); len(errs) > 0 {
		httpx.ValidationError(w, errs)
		return
	}
	note := audit.NoteFromContext(r.Context())
	name, adapter, err := s.Providers.Resolve(req.Model)
	if err != nil {
		note.SetProvider(providers.Pick(req.Model), req.Model)
		note.SetError(httpx.KindProviderUnavailable)
		httpx.Error(w, http.StatusBadGateway, httpx.KindProviderUnavailable, "no provider configured for model")
		return
	}
	note.SetProvider(name, req.Model)
	s.Metrics.IncProvider(name)

	ctx, cancel := context.WithTimeout(r.Context(), s.ChatTimeout)
	defer cancel()

	if req.Stream {
		s.streamChat(ctx, w, note, name, adapter, req)
		return
	}

	resp, err := adapter.Chat(ctx, req)
	if err != nil {
		s.Metrics.IncProviderError(name)
		s.writeProviderError(w, note, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, resp)
}

// streamFrame is the client-facing SSE payload, one per content delta.
type streamFrame struct {
	Message struct {
		Content string `json:"content"`
	} `json:"message"`
}

// streamChat re-frames upstream deltas as data: {json} events and closes
// with data: [DONE]. Frames are forwarded in upstream order, never
// coalesced. Once the first frame is on the wire the status is committed,
// so a late upstream failure can only be recorded on the audit note.
func (s *Server) streamChat(ctx context.Context, w http.ResponseWriter, note *audit.Note, name string, adapter providers.Adapter, req providers.ChatRequest) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		httpx.Error(w, http.StatusInternalServerError, httpx.KindInternal, "streaming unsupported")
		return
	}
	frames := 0
	started := false
	emit := func(delta string) error {
		if !started {
			w.Header().Set("Content-Type", "text/event-stream")
			w.Header().Set("Cache-Control", "no-cache")
			w.Header().Set("X-Accel-Buffering", "no")
			w.WriteHeader(http.StatusOK)
			started = true
		}
		var frame streamFrame
		frame.Message.Content = delta
		payload, err := json.Marshal(frame)
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintf(w, "data: %s\n\n", payload); err != nil {
			return err
		}
		flusher.Flush()
		frames++
		return nil
	}

	err := adapter.ChatStream(ctx, req, emit)
	s.Metrics.AddStreamFrames(int64(frames))
	if err != nil {
		s.Metrics.IncProviderError(name)
		if !started {
			s.writeProviderError(w, note, err)
			return
		}
		note.SetError(providerErrorKind(err))
		return
	}
	if !started {
		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.WriteHeader(http.StatusOK)
	}
	_, _ = io.WriteString(w, "data: [DONE]\n\n")
	flusher.Flush()
}

func providerErrorKind(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return httpx.KindTimeout
	}
	return httpx.KindProviderError
}

// writeProviderError maps upstream failures to the 502/504 taxonomy. The
// message carries at most a short excerpt of the upstream body, never
// headers or credentials.
func (s *Server) writeProviderError(w http.ResponseWriter, note *audit.Note, err error) {
	if errors.Is(err, context.DeadlineExceeded) {
		note.SetError(httpx.KindTimeout)
		httpx.Error(w, http.StatusGatewayTimeout, httpx.KindTimeout, "upstream deadline exceeded")
		return
	}
	note.SetError(httpx.KindProviderError)
	var upstream *providers.UpstreamError
	if errors.As(err, &upstream) {
		httpx.Error(w, http.StatusBadGateway, httpx.KindProviderError, upstream.Error())
		return
	}
	httpx.Error(w, http.StatusBadGateway, httpx.KindProviderError, "upstream request failed")
}

type generateRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

// handleGenerate serves the legacy ollama-shaped prompt-completion path.
func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	body, ok := readRequestBody(w, r)
	if !ok {
		return
	}
	var req generateRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.Error(w, http.StatusBadRequest, httpx.KindValidation, "invalid json")
		return
	}
	var errs []string
	if strings.TrimSpace(req.Model) == "" {
		errs = append(errs, "model is required")
	}
	if req.Prompt == "" {
		errs = append(errs, "prompt is required")
	}
	if len(errs) > 0 {
		httpx.ValidationError(w, errs)
		return
	}
	note := audit.NoteFromContext(r.Context())
	note.SetProvider("ollama", req.Model)
	s.Metrics.IncProvider("ollama")

	ctx, cancel := context.WithTimeout(r.Context(), s.ChatTimeout)
	defer cancel()
	raw, err := s.Ollama.Generate(ctx, req.Model, req.Prompt)
	if err != nil {
		s.Metrics.IncProviderError("ollama")
		s.writeProviderError(w, note, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(raw)
}

func (s *Server) handleModels(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	out := map[string][]providers.ModelInfo{}
	count := 0
	for _, name := range s.Providers.Names() {
		models := s.cachedModels(ctx, name)
		out[name] = models
		count += len(models)
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"models": out, "count": count})
}

// cachedModels consults the shared cache before asking the provider, so a
// burst of /v1/models calls does not fan out to every upstream.
func (s *Server) cachedModels(ctx context.Context, name string) []providers.ModelInfo {
	cacheKey := "models:" + name
	if cached, err := s.Cache.Get(ctx, cacheKey); err == nil && cached != "" {
		var models []providers.ModelInfo
		if json.Unmarshal([]byte(cached), &models) == nil {
			return models
		}
	}
	adapter, ok := s.Providers.Adapter(name)
	if !ok {
		return nil
	}
	models, err := adapter.Models(ctx)
	if err != nil {
		return nil
	}
	if encoded, err := json.Marshal(models); err == nil {
		_ = s.Cache.Set(ctx, cacheKey, string(encoded), 60*time.Second)
	}
	return models
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), s.HealthTimeout)
	defer cancel()

	names := s.Providers.Names()
	statuses := make(map[string]string, len(names))
	var mu sync.Mutex
	var wg sync.WaitGroup
	for _, name := range names {
		adapter, ok := s.Providers.Adapter(name)
		if !ok {
			continue
		}
		wg.Add(1)
		go func(name string, adapter providers.Adapter) {
			defer wg.Done()
			state := "unreachable"
			if adapter.Health(ctx) {
				state = "ok"
			}
			mu.Lock()
			statuses[name] = state
			mu.Unlock()
		}(name, adapter)
	}
	wg.Wait()

	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"status":     "ok",
		"service":    "blackroad-gateway",
		"uptime_sec": int64(time.Since(s.StartedAt).Seconds()),
		"providers":  statuses,
	})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	httpx.WriteJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}
