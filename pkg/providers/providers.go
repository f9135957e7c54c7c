// Package providers holds the upstream adapters behind the gateway trust
// boundary. Adapters inject credentials and normalize responses; credential
// material never leaves this package in any returned value.
package providers

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest is the shared envelope accepted on /v1/chat regardless of the
// upstream the model resolves to.
type ChatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Stream      bool      `json:"stream,omitempty"`
	Temperature *float64  `json:"temperature,omitempty"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
}

// Validate returns all envelope violations at once so the caller can fix
// them in a single round trip.
func (r ChatRequest) Validate() []string {
	var errs []string
	if strings.TrimSpace(r.Model) == "" {
		errs = append(errs, "model is required")
	}
	if len(r.Messages) == 0 {
		errs = append(errs, "messages must not be empty")
	}
	for i, m := range r.Messages {
		if strings.TrimSpace(m.Role) == "" {
			errs = append(errs, fmt.Sprintf("messages[%d].role is required", i))
		}
	}
	if r.Temperature != nil && (*r.Temperature < 0 || *r.Temperature > 2) {
		errs = append(errs, "temperature must be in [0, 2]")
	}
	if r.MaxTokens < 0 {
		errs = append(errs, "max_tokens must be non-negative")
	}
	return errs
}

// ChatResponse is the normalized shape returned to agents for every
// provider. Token counts follow the ollama field names.
type ChatResponse struct {
	Model           string  `json:"model"`
	Message         Message `json:"message"`
	PromptEvalCount int     `json:"prompt_eval_count"`
	EvalCount       int     `json:"eval_count"`
}

type ModelInfo struct {
	ID       string `json:"id"`
	Provider string `json:"provider"`
}

// Adapter shapes requests for one upstream. ChatStream calls emit once per
// content delta, in upstream order; emit returning an error aborts the
// upstream read.
type Adapter interface {
	Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error)
	ChatStream(ctx context.Context, req ChatRequest, emit func(delta string) error) error
	Models(ctx context.Context) ([]ModelInfo, error)
	Health(ctx context.Context) bool
}

// UpstreamError reports a non-2xx upstream status. Excerpt is a bounded
// slice of the upstream body and never contains gateway credentials.
type UpstreamError struct {
	Provider string
	Status   int
	Excerpt  string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("%s upstream status %d: %s", e.Provider, e.Status, e.Excerpt)
}

// ErrUnavailable marks a model that routed to a provider with no binding.
var ErrUnavailable = errors.New("no binding for selected provider")

// Pick maps a model string to a provider identity. First rule wins; every
// non-empty model maps to exactly one provider.
func Pick(model string) string {
	switch {
	case strings.HasPrefix(model, "claude"):
		return "anthropic"
	case strings.HasPrefix(model, "gpt"), strings.HasPrefix(model, "o1"), strings.HasPrefix(model, "o3"):
		return "openai"
	case strings.HasPrefix(model, "gemini"):
		return "gemini"
	case strings.Contains(model, "/"):
		return "together"
	default:
		return "ollama"
	}
}

// Registry is the immutable provider-binding table built at startup.
type Registry struct {
	adapters map[string]Adapter
}

func NewRegistry() *Registry {
	return &Registry{adapters: make(map[string]Adapter)}
}

func (r *Registry) Register(name string, a Adapter) {
	r.adapters[name] = a
}

// Resolve picks the provider for a model and returns its adapter, or
// ErrUnavailable when the provider has no binding.
func (r *Registry) Resolve(model string) (string, Adapter, error) {
	name := Pick(model)
	a, ok := r.adapters[name]
	if !ok {
		return name, nil, ErrUnavailable
	}
	return name, a, nil
}

func (r *Registry) Adapter(name string) (Adapter, bool) {
	a, ok := r.adapters[name]
	return a, ok
}

// Names returns registered provider identities in no particular order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.adapters))
	for name := range r.adapters {
		names = append(names, name)
	}
	return names
}
