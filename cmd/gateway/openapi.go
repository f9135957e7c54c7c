package main

import (
	"net/http"

	"github.com/BlackRoad-OS-Inc/blackroad-gateway/pkg/httpx"
)

// openAPIDocument is the static schema served at /openapi.json. It describes
// the surface; request/response schemas stay loose on purpose.
var openAPIDocument = map[string]any{
	"openapi": "3.0.3",
	"info": map[string]any{
		"title":   "BlackRoad Gateway",
		"version": "1.0.0",
	},
	"paths": map[string]any{
		"/health":               map[string]any{"get": opSummary("Instance and provider availability")},
		"/ready":                map[string]any{"get": opSummary("Readiness probe")},
		"/v1/chat":              map[string]any{"post": opSummary("Unified chat completion, optionally streamed as SSE")},
		"/v1/generate":          map[string]any{"post": opSummary("Legacy prompt completion")},
		"/v1/models":            map[string]any{"get": opSummary("Per-provider model list")},
		"/v1/events":            map[string]any{"get": opSummary("WebSocket audit event feed")},
		"/agents":               map[string]any{"get": opSummary("Static agent roster")},
		"/tasks":                map[string]any{"get": opSummary("List tasks"), "post": opSummary("Create task")},
		"/tasks/{id}":           map[string]any{"get": opSummary("Read task")},
		"/tasks/{id}/claim":     map[string]any{"post": opSummary("Claim an available task")},
		"/tasks/{id}/complete":  map[string]any{"post": opSummary("Complete a claimed task")},
		"/tasks/{id}/cancel":    map[string]any{"post": opSummary("Cancel an available task")},
		"/memory":               map[string]any{"get": opSummary("List memory entries"), "post": opSummary("Append memory entry")},
		"/memory/{key}":         map[string]any{"get": opSummary("Read memory entry"), "delete": opSummary("Redactively erase memory entry")},
		"/memory/verify":        map[string]any{"get": opSummary("Verify memory chain integrity")},
		"/metrics":              map[string]any{"get": opSummary("JSON metrics snapshot")},
		"/metrics/prometheus":   map[string]any{"get": opSummary("Prometheus text metrics")},
	},
}

func opSummary(summary string) map[string]any {
	return map[string]any{"summary": summary, "responses": map[string]any{"200": map[string]any{"description": "OK"}}}
}

func (s *Server) handleOpenAPI(w http.ResponseWriter, r *http.Request) {
	httpx.WriteJSON(w, http.StatusOK, openAPIDocument)
}
