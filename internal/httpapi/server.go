// Package httpapi is the agent's HTTP surface: message intake, status,
// outbox and history browsing, and repair-signal delivery. Every
// response is JSON.
package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/agentloom/agentloom/internal/config"
	"github.com/agentloom/agentloom/internal/executor"
	"github.com/agentloom/agentloom/internal/history"
	"github.com/agentloom/agentloom/internal/jobs"
	"github.com/agentloom/agentloom/internal/logger"
	"github.com/agentloom/agentloom/internal/metrics"
	"github.com/agentloom/agentloom/internal/queue"
	"github.com/agentloom/agentloom/internal/schedule"
	"github.com/agentloom/agentloom/internal/validation"
	"github.com/agentloom/agentloom/internal/wstore"
)

// Server holds everything the HTTP handlers need to read or mutate a
// single workspace.
type Server struct {
	WorkspaceDir string
	Queue        *queue.Queue
	Jobs         *jobs.Registry
	Loop         *executor.Loop
	History      *history.Store
	Scheduler    *schedule.Runner
}

// Handler builds the top-level mux. Route patterns use Go 1.22+'s
// method-aware ServeMux syntax.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /message", s.handlePostMessage)
	mux.HandleFunc("GET /status", s.handleStatus)
	mux.HandleFunc("POST /repair-signal", s.handleRepairSignal)
	mux.HandleFunc("GET /outbox", s.handleListOutbox)
	mux.HandleFunc("DELETE /outbox/{id}", s.handleDeleteOutbox)
	mux.HandleFunc("GET /history", s.handleListHistory)
	mux.HandleFunc("GET /history/{round}", s.handleGetHistory)
	mux.HandleFunc("GET /schedules", s.handleListSchedules)
	mux.HandleFunc("POST /schedules", s.handleCreateSchedule)
	mux.HandleFunc("DELETE /schedules/{id}", s.handleDeleteSchedule)
	mux.Handle("GET /metrics", metrics.Handler())

	return metrics.Middleware(mux)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

type postMessageRequest struct {
	Content  string         `json:"content"`
	Source   string         `json:"source,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

func (s *Server) handlePostMessage(w http.ResponseWriter, r *http.Request) {
	var req postMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Content == "" {
		writeError(w, http.StatusBadRequest, "content is required")
		return
	}
	if req.Source == "" {
		req.Source = "http:" + strconv.FormatInt(time.Now().UnixMilli(), 10)
	}

	id := s.Queue.Push(req.Content, req.Source, req.Metadata)
	writeJSON(w, http.StatusOK, map[string]string{"messageId": id})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	state, err := config.LoadAgentState(s.WorkspaceDir)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	status, errInfo := s.Loop.Status()
	resp := map[string]any{
		"status":   status,
		"round":    state.Round,
		"provider": state.Provider,
		"queueLen": s.Queue.Len(),
	}
	if state.Model != "" {
		resp["model"] = state.Model
	}
	if s.Jobs != nil {
		resp["runningJobs"] = s.Jobs.Len()
	}
	if errInfo != nil {
		resp["error"] = errInfo
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleRepairSignal(w http.ResponseWriter, r *http.Request) {
	if err := wstore.WriteRepairSignal(s.WorkspaceDir); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleListOutbox(w http.ResponseWriter, r *http.Request) {
	messages, err := wstore.ListOutbox(s.WorkspaceDir)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, messages)
}

func (s *Server) handleDeleteOutbox(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := validation.ValidateUUID(id); err != nil {
		// Outbox ids are always UUIDs, so a malformed id names no message.
		writeError(w, http.StatusNotFound, "outbox message not found")
		return
	}
	err := wstore.DeleteOutbox(s.WorkspaceDir, id)
	if err != nil {
		if err == wstore.ErrOutboxNotFound {
			writeError(w, http.StatusNotFound, "outbox message not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if s.History != nil {
		_ = s.History.RemoveOutbox(id)
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}
