package main

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/BlackRoad-OS-Inc/blackroad-gateway/pkg/httpx"
	"github.com/BlackRoad-OS-Inc/blackroad-gateway/pkg/memory"
)

func (s *Server) handleListMemory(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	entries, total := s.Memory.List(q.Get("type"), q.Get("agent"), queryInt(r, "limit", 50), queryInt(r, "offset", 0))
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"entries": entries, "total": total})
}

func (s *Server) handleAppendMemory(w http.ResponseWriter, r *http.Request) {
	body, ok := readRequestBody(w, r)
	if !ok {
		return
	}
	var entry memory.Entry
	if err := json.Unmarshal(body, &entry); err != nil {
		httpx.Error(w, http.StatusBadRequest, httpx.KindValidation, "invalid json")
		return
	}
	if errs := memory.Validate(entry); len(errs) > 0 {
		httpx.ValidationError(w, errs)
		return
	}
	rec, err := s.Memory.Append(entry)
	if err != nil {
		httpx.Error(w, http.StatusInternalServerError, httpx.KindInternal, "memory append failed")
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, rec)
}

func (s *Server) handleGetMemory(w http.ResponseWriter, r *http.Request) {
	rec, err := s.Memory.Get(chi.URLParam(r, "key"))
	if err != nil {
		if errors.Is(err, memory.ErrNotFound) {
			httpx.NotFound(w, "memory key not found")
			return
		}
		httpx.Error(w, http.StatusInternalServerError, httpx.KindInternal, "memory read failed")
		return
	}
	httpx.WriteJSON(w, http.StatusOK, rec)
}

func (s *Server) handleEraseMemory(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	if err := s.Memory.Erase(key); err != nil {
		if errors.Is(err, memory.ErrNotFound) {
			httpx.NotFound(w, "memory key not found")
			return
		}
		httpx.Error(w, http.StatusInternalServerError, httpx.KindInternal, "memory erase failed")
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]string{"status": "erased", "key": key})
}

func (s *Server) handleVerifyMemory(w http.ResponseWriter, r *http.Request) {
	httpx.WriteJSON(w, http.StatusOK, s.Memory.Verify())
}
