package providers

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/BlackRoad-OS-Inc/blackroad-gateway/pkg/httpx"
)

// OllamaAdapter talks to a local ollama daemon. No credential is involved
// and /api/chat responses already match the normalized shape.
type OllamaAdapter struct {
	BaseURL string
	Client  *http.Client
}

func NewOllama(baseURL string) *OllamaAdapter {
	if strings.TrimSpace(baseURL) == "" {
		baseURL = "http://localhost:11434"
	}
	return &OllamaAdapter{BaseURL: strings.TrimRight(baseURL, "/"), Client: &http.Client{}}
}

func (a *OllamaAdapter) payload(req ChatRequest, stream bool) map[string]any {
	body := map[string]any{
		"model":    req.Model,
		"messages": req.Messages,
		"stream":   stream,
	}
	options := map[string]any{}
	if req.Temperature != nil {
		options["temperature"] = *req.Temperature
	}
	if req.MaxTokens > 0 {
		options["num_predict"] = req.MaxTokens
	}
	if len(options) > 0 {
		body["options"] = options
	}
	return body
}

func (a *OllamaAdapter) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	raw, err := json.Marshal(a.payload(req, false))
	if err != nil {
		return nil, err
	}
	status, body, err := httpx.UpstreamJSON(ctx, a.Client, http.MethodPost, a.BaseURL+"/api/chat", raw, nil)
	if err != nil {
		return nil, err
	}
	if status < 200 || status >= 300 {
		return nil, &UpstreamError{Provider: "ollama", Status: status, Excerpt: excerpt(body)}
	}
	var parsed ChatResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("decode ollama response: %w", err)
	}
	return &parsed, nil
}

// ChatStream reads ollama's NDJSON stream, one JSON object per line, and
// forwards message content until done.
func (a *OllamaAdapter) ChatStream(ctx context.Context, req ChatRequest, emit func(delta string) error) error {
	raw, err := json.Marshal(a.payload(req, true))
	if err != nil {
		return err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.BaseURL+"/api/chat", bytes.NewReader(raw))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	resp, err := a.client().Do(httpReq)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &UpstreamError{Provider: "ollama", Status: resp.StatusCode, Excerpt: excerpt(body)}
	}
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		var frame struct {
			Message Message `json:"message"`
			Done    bool    `json:"done"`
		}
		if err := json.Unmarshal(scanner.Bytes(), &frame); err != nil {
			continue
		}
		if frame.Message.Content != "" {
			if err := emit(frame.Message.Content); err != nil {
				return err
			}
		}
		if frame.Done {
			return nil
		}
	}
	return scanner.Err()
}

// Generate serves the legacy prompt-completion path.
func (a *OllamaAdapter) Generate(ctx context.Context, model, prompt string) (json.RawMessage, error) {
	raw, err := json.Marshal(map[string]any{"model": model, "prompt": prompt, "stream": false})
	if err != nil {
		return nil, err
	}
	status, body, err := httpx.UpstreamJSON(ctx, a.Client, http.MethodPost, a.BaseURL+"/api/generate", raw, nil)
	if err != nil {
		return nil, err
	}
	if status < 200 || status >= 300 {
		return nil, &UpstreamError{Provider: "ollama", Status: status, Excerpt: excerpt(body)}
	}
	return json.RawMessage(body), nil
}

func (a *OllamaAdapter) Models(ctx context.Context) ([]ModelInfo, error) {
	status, body, err := httpx.UpstreamJSON(ctx, a.Client, http.MethodGet, a.BaseURL+"/api/tags", nil, nil)
	if err != nil {
		return nil, err
	}
	if status < 200 || status >= 300 {
		return nil, &UpstreamError{Provider: "ollama", Status: status, Excerpt: excerpt(body)}
	}
	var parsed struct {
		Models []struct {
			Name string `json:"name"`
		} `json:"models"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, err
	}
	models := make([]ModelInfo, 0, len(parsed.Models))
	for _, m := range parsed.Models {
		models = append(models, ModelInfo{ID: m.Name, Provider: "ollama"})
	}
	return models, nil
}

func (a *OllamaAdapter) Health(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	status, _, err := httpx.UpstreamJSON(ctx, a.Client, http.MethodGet, a.BaseURL+"/api/tags", nil, nil)
	return err == nil && status < 500
}

func (a *OllamaAdapter) client() *http.Client {
	if a.Client != nil {
		return a.Client
	}
	return http.DefaultClient
}
