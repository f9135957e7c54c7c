package httpx

import (
	"encoding/json"
	"net/http"
)

// Error kinds on the wire. Each maps to exactly one HTTP status.
const (
	KindValidation          = "validation_error"
	KindUnauthorized        = "unauthorized"
	KindForbidden           = "forbidden"
	KindNotFound            = "not_found"
	KindConflict            = "conflict"
	KindRateLimited         = "rate_limited"
	KindProviderError       = "provider_error"
	KindProviderUnavailable = "provider_unavailable"
	KindTimeout             = "timeout"
	KindInternal            = "internal_error"
)

// ErrorBody is the stable error shape for every non-2xx response.
type ErrorBody struct {
	Error      string   `json:"error"`
	Message    string   `json:"message,omitempty"`
	Errors     []string `json:"errors,omitempty"`
	RetryAfter int      `json:"retry_after,omitempty"`
}

func WriteJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func Error(w http.ResponseWriter, status int, kind, message string) {
	WriteJSON(w, status, ErrorBody{Error: kind, Message: message})
}

func ValidationError(w http.ResponseWriter, errs []string) {
	WriteJSON(w, http.StatusBadRequest, ErrorBody{Error: KindValidation, Errors: errs})
}

func Unauthorized(w http.ResponseWriter, message string) {
	Error(w, http.StatusUnauthorized, KindUnauthorized, message)
}

func NotFound(w http.ResponseWriter, message string) {
	Error(w, http.StatusNotFound, KindNotFound, message)
}

func Conflict(w http.ResponseWriter, message string) {
	Error(w, http.StatusConflict, KindConflict, message)
}

// SecurityHeadersMiddleware applies baseline hardening headers to API responses.
func SecurityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Referrer-Policy", "no-referrer")
		h.Set("Cache-Control", "no-store")
		next.ServeHTTP(w, r)
	})
}

// CORSMiddleware answers preflight requests and stamps permissive CORS
// headers. Agents are already gated by bearer auth; origin restriction adds
// nothing at this trust boundary.
func CORSMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
		h.Set("Access-Control-Allow-Headers", "Content-Type,Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
