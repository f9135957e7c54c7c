package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/BlackRoad-OS-Inc/blackroad-gateway/pkg/httpx"
)

const anthropicVersion = "2023-06-01"

type AnthropicAdapter struct {
	BaseURL string
	Key     string
	Client  *http.Client
}

func NewAnthropic(key string) *AnthropicAdapter {
	return &AnthropicAdapter{BaseURL: "https://api.anthropic.com", Key: key, Client: &http.Client{}}
}

func (a *AnthropicAdapter) headers() map[string]string {
	return map[string]string{
		"x-api-key":         a.Key,
		"anthropic-version": anthropicVersion,
	}
}

// payload lifts system messages into the top-level system field the
// messages API requires; the rest of the conversation passes through.
func (a *AnthropicAdapter) payload(req ChatRequest, stream bool) map[string]any {
	var system string
	messages := make([]Message, 0, len(req.Messages))
	for _, m := range req.Messages {
		if m.Role == "system" {
			if system != "" {
				system += "\n"
			}
			system += m.Content
			continue
		}
		messages = append(messages, m)
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	body := map[string]any{
		"model":      req.Model,
		"messages":   messages,
		"max_tokens": maxTokens,
		"stream":     stream,
	}
	if system != "" {
		body["system"] = system
	}
	if req.Temperature != nil {
		body["temperature"] = *req.Temperature
	}
	return body
}

func (a *AnthropicAdapter) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	raw, err := json.Marshal(a.payload(req, false))
	if err != nil {
		return nil, err
	}
	status, body, err := httpx.UpstreamJSON(ctx, a.Client, http.MethodPost, a.BaseURL+"/v1/messages", raw, a.headers())
	if err != nil {
		return nil, err
	}
	if status < 200 || status >= 300 {
		return nil, &UpstreamError{Provider: "anthropic", Status: status, Excerpt: excerpt(body, a.Key)}
	}
	var parsed struct {
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
		Usage struct {
			InputTokens  int `json:"input_tokens"`
			OutputTokens int `json:"output_tokens"`
		} `json:"usage"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("decode anthropic response: %w", err)
	}
	var text string
	for _, block := range parsed.Content {
		if block.Type == "text" {
			text += block.Text
		}
	}
	return &ChatResponse{
		Model:           req.Model,
		Message:         Message{Role: "assistant", Content: text},
		PromptEvalCount: parsed.Usage.InputTokens,
		EvalCount:       parsed.Usage.OutputTokens,
	}, nil
}

func (a *AnthropicAdapter) ChatStream(ctx context.Context, req ChatRequest, emit func(delta string) error) error {
	raw, err := json.Marshal(a.payload(req, true))
	if err != nil {
		return err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.BaseURL+"/v1/messages", bytes.NewReader(raw))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	httpReq.Header.Set("x-api-key", a.Key)
	httpReq.Header.Set("anthropic-version", anthropicVersion)
	resp, err := a.client().Do(httpReq)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &UpstreamError{Provider: "anthropic", Status: resp.StatusCode, Excerpt: excerpt(body, a.Key)}
	}
	// Only content_block_delta events carry text; everything else
	// (message_start, ping, message_stop) is dropped.
	return readSSE(resp.Body, func(event string, data []byte) error {
		var frame struct {
			Type  string `json:"type"`
			Delta struct {
				Type string `json:"type"`
				Text string `json:"text"`
			} `json:"delta"`
		}
		if err := json.Unmarshal(data, &frame); err != nil {
			return nil
		}
		kind := frame.Type
		if kind == "" {
			kind = event
		}
		if kind != "content_block_delta" || frame.Delta.Text == "" {
			return nil
		}
		return emit(frame.Delta.Text)
	})
}

func (a *AnthropicAdapter) Models(ctx context.Context) ([]ModelInfo, error) {
	status, body, err := httpx.UpstreamJSON(ctx, a.Client, http.MethodGet, a.BaseURL+"/v1/models", nil, a.headers())
	if err != nil {
		return nil, err
	}
	if status < 200 || status >= 300 {
		return nil, &UpstreamError{Provider: "anthropic", Status: status, Excerpt: excerpt(body, a.Key)}
	}
	var parsed struct {
		Data []struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, err
	}
	models := make([]ModelInfo, 0, len(parsed.Data))
	for _, m := range parsed.Data {
		models = append(models, ModelInfo{ID: m.ID, Provider: "anthropic"})
	}
	return models, nil
}

func (a *AnthropicAdapter) Health(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	status, _, err := httpx.UpstreamJSON(ctx, a.Client, http.MethodGet, a.BaseURL+"/v1/models", nil, a.headers())
	return err == nil && status < 500
}

func (a *AnthropicAdapter) client() *http.Client {
	if a.Client != nil {
		return a.Client
	}
	return http.DefaultClient
}
