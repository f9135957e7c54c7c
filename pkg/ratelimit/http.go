package ratelimit

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/BlackRoad-OS-Inc/blackroad-gateway/pkg/httpx"
)

// Classes holds the per-window request budget for each route class.
type Classes struct {
	Chat   int
	Memory int
	Agents int
	Global int
}

func DefaultClasses() Classes {
	return Classes{Chat: 60, Memory: 120, Agents: 30, Global: 200}
}

// ForPath maps a request path to its route class. Unknown paths fall into
// the global class.
func (c Classes) ForPath(path string) (string, int) {
	switch {
	case strings.HasPrefix(path, "/v1/chat") || strings.HasPrefix(path, "/v1/generate"):
		return "chat", c.Chat
	case strings.HasPrefix(path, "/memory"):
		return "memory", c.Memory
	case strings.HasPrefix(path, "/agents") || strings.HasPrefix(path, "/tasks"):
		return "agents", c.Agents
	default:
		return "global", c.Global
	}
}

// Middleware applies the limiter before auth runs. clientID must not depend
// on token validity, only on the raw credential or the source address, so a
// 429 reveals nothing about whether a token would have been accepted.
func Middleware(limiter Limiter, classes Classes, clientID func(*http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			class, limit := classes.ForPath(r.URL.Path)
			decision := limiter.Allow(clientID(r)+":"+class, limit)
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(decision.Remaining))
			w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(decision.ResetAt.Unix(), 10))
			if !decision.Allowed {
				w.Header().Set("Retry-After", strconv.Itoa(decision.RetryAfter))
				httpx.WriteJSON(w, http.StatusTooManyRequests, httpx.ErrorBody{
					Error:      httpx.KindRateLimited,
					Message:    "rate limit exceeded for " + class,
					RetryAfter: decision.RetryAfter,
				})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
