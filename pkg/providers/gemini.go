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

type GeminiAdapter struct {
	BaseURL string
	Key     string
	Client  *http.Client
}

func NewGemini(key string) *GeminiAdapter {
	return &GeminiAdapter{BaseURL: "https://generativelanguage.googleapis.com", Key: key, Client: &http.Client{}}
}

// payload converts the shared envelope into the generateContent shape.
// Gemini has no system role in contents; system messages become
// systemInstruction. Assistant turns map to the "model" role.
func (a *GeminiAdapter) payload(req ChatRequest) map[string]any {
	var system string
	contents := make([]map[string]any, 0, len(req.Messages))
	for _, m := range req.Messages {
		switch m.Role {
		case "system":
			if system != "" {
				system += "\n"
			}
			system += m.Content
		case "assistant":
			contents = append(contents, map[string]any{
				"role":  "model",
				"parts": []map[string]string{{"text": m.Content}},
			})
		default:
			contents = append(contents, map[string]any{
				"role":  "user",
				"parts": []map[string]string{{"text": m.Content}},
			})
		}
	}
	body := map[string]any{"contents": contents}
	if system != "" {
		body["systemInstruction"] = map[string]any{"parts": []map[string]string{{"text": system}}}
	}
	genCfg := map[string]any{}
	if req.Temperature != nil {
		genCfg["temperature"] = *req.Temperature
	}
	if req.MaxTokens > 0 {
		genCfg["maxOutputTokens"] = req.MaxTokens
	}
	if len(genCfg) > 0 {
		body["generationConfig"] = genCfg
	}
	return body
}

func (a *GeminiAdapter) endpoint(model, verb string) string {
	return fmt.Sprintf("%s/v1beta/models/%s:%s", a.BaseURL, model, verb)
}

func (a *GeminiAdapter) headers() map[string]string {
	return map[string]string{"x-goog-api-key": a.Key}
}

func (a *GeminiAdapter) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	raw, err := json.Marshal(a.payload(req))
	if err != nil {
		return nil, err
	}
	status, body, err := httpx.UpstreamJSON(ctx, a.Client, http.MethodPost, a.endpoint(req.Model, "generateContent"), raw, a.headers())
	if err != nil {
		return nil, err
	}
	if status < 200 || status >= 300 {
		return nil, &UpstreamError{Provider: "gemini", Status: status, Excerpt: excerpt(body, a.Key)}
	}
	var parsed geminiResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("decode gemini response: %w", err)
	}
	return &ChatResponse{
		Model:           req.Model,
		Message:         Message{Role: "assistant", Content: parsed.text()},
		PromptEvalCount: parsed.UsageMetadata.PromptTokenCount,
		EvalCount:       parsed.UsageMetadata.CandidatesTokenCount,
	}, nil
}

func (a *GeminiAdapter) ChatStream(ctx context.Context, req ChatRequest, emit func(delta string) error) error {
	raw, err := json.Marshal(a.payload(req))
	if err != nil {
		return err
	}
	url := a.endpoint(req.Model, "streamGenerateContent") + "?alt=sse"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(raw))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-goog-api-key", a.Key)
	resp, err := a.client().Do(httpReq)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &UpstreamError{Provider: "gemini", Status: resp.StatusCode, Excerpt: excerpt(body, a.Key)}
	}
	return readSSE(resp.Body, func(_ string, data []byte) error {
		var frame geminiResponse
		if err := json.Unmarshal(data, &frame); err != nil {
			return nil
		}
		if text := frame.text(); text != "" {
			return emit(text)
		}
		return nil
	})
}

func (a *GeminiAdapter) Models(ctx context.Context) ([]ModelInfo, error) {
	status, body, err := httpx.UpstreamJSON(ctx, a.Client, http.MethodGet, a.BaseURL+"/v1beta/models", nil, a.headers())
	if err != nil {
		return nil, err
	}
	if status < 200 || status >= 300 {
		return nil, &UpstreamError{Provider: "gemini", Status: status, Excerpt: excerpt(body, a.Key)}
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
		models = append(models, ModelInfo{ID: m.Name, Provider: "gemini"})
	}
	return models, nil
}

func (a *GeminiAdapter) Health(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	status, _, err := httpx.UpstreamJSON(ctx, a.Client, http.MethodGet, a.BaseURL+"/v1beta/models", nil, a.headers())
	return err == nil && status < 500
}

func (a *GeminiAdapter) client() *http.Client {
	if a.Client != nil {
		return a.Client
	}
	return http.DefaultClient
}

type geminiResponse struct {
	Candidates []struct {
		Content struct {
			Parts []struct {
				Text string `json:"text"`
			} `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
	UsageMetadata struct {
		PromptTokenCount     int `json:"promptTokenCount"`
		CandidatesTokenCount int `json:"candidatesTokenCount"`
	} `json:"usageMetadata"`
}

func (r geminiResponse) text() string {
	var out string
	for _, c := range r.Candidates {
		for _, p := range c.Content.Parts {
			out += p.Text
		}
	}
	return out
}
