package main

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/BlackRoad-OS-Inc/blackroad-gateway/pkg/httpx"
	"github.com/BlackRoad-OS-Inc/blackroad-gateway/pkg/tasks"
)

func queryInt(r *http.Request, key string, def int) int {
	if v := r.URL.Query().Get(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := tasks.Filter{
		Status:   q.Get("status"),
		Priority: q.Get("priority"),
		Agent:    q.Get("agent"),
	}
	list, total := s.Tasks.List(filter, queryInt(r, "limit", 50), queryInt(r, "offset", 0))
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"tasks": list, "total": total})
}

type createTaskRequest struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Priority    string `json:"priority"`
}

func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	body, ok := readRequestBody(w, r)
	if !ok {
		return
	}
	var req createTaskRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.Error(w, http.StatusBadRequest, httpx.KindValidation, "invalid json")
		return
	}
	if errs := tasks.ValidateNew(req.Title, req.Priority); len(errs) > 0 {
		httpx.ValidationError(w, errs)
		return
	}
	task, err := s.Tasks.Create(req.Title, req.Description, req.Priority)
	if err != nil {
		httpx.Error(w, http.StatusInternalServerError, httpx.KindInternal, "task create failed")
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, task)
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	task, err := s.Tasks.Get(chi.URLParam(r, "id"))
	if err != nil {
		httpx.NotFound(w, "task not found")
		return
	}
	httpx.WriteJSON(w, http.StatusOK, task)
}

type taskActionRequest struct {
	Agent   string `json:"agent"`
	Summary string `json:"summary"`
}

func decodeTaskAction(w http.ResponseWriter, r *http.Request, requireAgent bool) (taskActionRequest, bool) {
	body, ok := readRequestBody(w, r)
	if !ok {
		return taskActionRequest{}, false
	}
	var req taskActionRequest
	if len(body) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			httpx.Error(w, http.StatusBadRequest, httpx.KindValidation, "invalid json")
			return taskActionRequest{}, false
		}
	}
	if requireAgent && req.Agent == "" {
		httpx.ValidationError(w, []string{"agent is required"})
		return taskActionRequest{}, false
	}
	return req, true
}

func writeTaskError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, tasks.ErrNotFound):
		httpx.NotFound(w, "task not found")
	case errors.Is(err, tasks.ErrNotAvailable):
		httpx.Conflict(w, "not_available")
	case errors.Is(err, tasks.ErrBadState):
		httpx.Conflict(w, "invalid state for transition")
	default:
		httpx.Error(w, http.StatusInternalServerError, httpx.KindInternal, "task update failed")
	}
}

func (s *Server) handleClaimTask(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeTaskAction(w, r, true)
	if !ok {
		return
	}
	task, err := s.Tasks.Claim(chi.URLParam(r, "id"), req.Agent)
	if err != nil {
		writeTaskError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, task)
}

func (s *Server) handleCompleteTask(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeTaskAction(w, r, true)
	if !ok {
		return
	}
	task, err := s.Tasks.Complete(chi.URLParam(r, "id"), req.Agent, req.Summary)
	if err != nil {
		writeTaskError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, task)
}

func (s *Server) handleCancelTask(w http.ResponseWriter, r *http.Request) {
	task, err := s.Tasks.Cancel(chi.URLParam(r, "id"))
	if err != nil {
		writeTaskError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, task)
}

// agentInfo is one row of the static roster at /agents.
type agentInfo struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Type   string `json:"type"`
	Status string `json:"status"`
	Model  string `json:"model"`
}

var agentRoster = []agentInfo{
	{ID: "core", Name: "Core Assistant", Type: "chat", Status: "online", Model: "claude-sonnet-4-5"},
	{ID: "coder", Name: "Code Assistant", Type: "chat", Status: "online", Model: "gpt-4o"},
	{ID: "scout", Name: "Research Scout", Type: "chat", Status: "online", Model: "gemini-1.5-pro"},
	{ID: "local", Name: "Local Runner", Type: "chat", Status: "online", Model: "qwen2.5:3b"},
}

func (s *Server) handleAgents(w http.ResponseWriter, r *http.Request) {
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"agents": agentRoster, "count": len(agentRoster)})
}
