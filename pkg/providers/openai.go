package providers

import (
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

// OpenAIAdapter speaks the chat-completions dialect. Together exposes the
// same wire shape, so both providers share this adapter with different
// base URLs and credentials.
type OpenAIAdapter struct {
	Name    string
	BaseURL string
	Key     string
	Client  *http.Client
}

func NewOpenAI(key string) *OpenAIAdapter {
	return &OpenAIAdapter{Name: "openai", BaseURL: "https://api.openai.com", Key: key, Client: &http.Client{}}
}

func NewTogether(key string) *OpenAIAdapter {
	return &OpenAIAdapter{Name: "together", BaseURL: "https://api.together.xyz", Key: key, Client: &http.Client{}}
}

func (a *OpenAIAdapter) headers() map[string]string {
	return map[string]string{"Authorization": "Bearer " + a.Key}
}

func (a *OpenAIAdapter) payload(req ChatRequest, stream bool) map[string]any {
	body := map[string]any{
		"model":    req.Model,
		"messages": req.Messages,
		"stream":   stream,
	}
	if req.Temperature != nil {
		body["temperature"] = *req.Temperature
	}
	if req.MaxTokens > 0 {
		body["max_tokens"] = req.MaxTokens
	}
	return body
}

func (a *OpenAIAdapter) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	raw, err := json.Marshal(a.payload(req, false))
	if err != nil {
		return nil, err
	}
	status, body, err := httpx.UpstreamJSON(ctx, a.Client, http.MethodPost, a.BaseURL+"/v1/chat/completions", raw, a.headers())
	if err != nil {
		return nil, err
	}
	if status < 200 || status >= 300 {
		return nil, &UpstreamError{Provider: a.Name, Status: status, Excerpt: excerpt(body, a.Key)}
	}
	var parsed struct {
		Choices []struct {
			Message Message `json:"message"`
		} `json:"choices"`
		Usage struct {
			PromptTokens     int `json:"prompt_tokens"`
			CompletionTokens int `json:"completion_tokens"`
		} `json:"usage"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("decode %s response: %w", a.Name, err)
	}
	if len(parsed.Choices) == 0 {
		return nil, &UpstreamError{Provider: a.Name, Status: status, Excerpt: "response has no choices"}
	}
	return &ChatResponse{
		Model:           req.Model,
		Message:         parsed.Choices[0].Message,
		PromptEvalCount: parsed.Usage.PromptTokens,
		EvalCount:       parsed.Usage.CompletionTokens,
	}, nil
}

func (a *OpenAIAdapter) ChatStream(ctx context.Context, req ChatRequest, emit func(delta string) error) error {
	raw, err := json.Marshal(a.payload(req, true))
	if err != nil {
		return err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.BaseURL+"/v1/chat/completions", bytes.NewReader(raw))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	httpReq.Header.Set("Authorization", "Bearer "+a.Key)
	resp, err := a.client().Do(httpReq)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &UpstreamError{Provider: a.Name, Status: resp.StatusCode, Excerpt: excerpt(body, a.Key)}
	}
	return readSSE(resp.Body, func(_ string, data []byte) error {
		var frame struct {
			Choices []struct {
				Delta struct {
					Content string `json:"content"`
				} `json:"delta"`
			} `json:"choices"`
		}
		if err := json.Unmarshal(data, &frame); err != nil {
			return nil
		}
		if len(frame.Choices) == 0 || frame.Choices[0].Delta.Content == "" {
			return nil
		}
		return emit(frame.Choices[0].Delta.Content)
	})
}

func (a *OpenAIAdapter) Models(ctx context.Context) ([]ModelInfo, error) {
	status, body, err := httpx.UpstreamJSON(ctx, a.Client, http.MethodGet, a.BaseURL+"/v1/models", nil, a.headers())
	if err != nil {
		return nil, err
	}
	if status < 200 || status >= 300 {
		return nil, &UpstreamError{Provider: a.Name, Status: status, Excerpt: excerpt(body, a.Key)}
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
		models = append(models, ModelInfo{ID: m.ID, Provider: a.Name})
	}
	return models, nil
}

func (a *OpenAIAdapter) Health(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	status, _, err := httpx.UpstreamJSON(ctx, a.Client, http.MethodGet, a.BaseURL+"/v1/models", nil, a.headers())
	return err == nil && status < 500
}

func (a *OpenAIAdapter) client() *http.Client {
	if a.Client != nil {
		return a.Client
	}
	return http.DefaultClient
}

// excerpt bounds an upstream body for inclusion in a provider_error
// message. Any configured credential is scrubbed before truncation so an
// upstream that echoes the key back (auth errors commonly do) cannot leak
// it to the caller.
func excerpt(body []byte, secrets ...string) string {
	s := string(body)
	for _, secret := range secrets {
		if secret == "" {
			continue
		}
		s = strings.ReplaceAll(s, secret, "[REDACTED]")
	}
	const max = 200
	if len(s) > max {
		s = s[:max]
	}
	return s
}
