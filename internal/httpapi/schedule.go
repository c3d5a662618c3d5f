package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/agentloom/agentloom/internal/schedule"
)

type createScheduleRequest struct {
	Name            string                   `json:"name"`
	CronExpr        string                   `json:"cronExpr"`
	Prompt          string                   `json:"prompt"`
	Source          string                   `json:"source,omitempty"`
	OverlapBehavior schedule.OverlapBehavior `json:"overlapBehavior,omitempty"`
}

func (s *Server) handleListSchedules(w http.ResponseWriter, r *http.Request) {
	if s.Scheduler == nil {
		writeJSON(w, http.StatusOK, []schedule.Schedule{})
		return
	}
	schedules, err := s.Scheduler.Store().List()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, schedules)
}

func (s *Server) handleCreateSchedule(w http.ResponseWriter, r *http.Request) {
	if s.Scheduler == nil {
		writeError(w, http.StatusServiceUnavailable, "scheduling is disabled")
		return
	}
	var req createScheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.OverlapBehavior == "" {
		req.OverlapBehavior = schedule.OverlapSkip
	}

	sched, err := s.Scheduler.Store().Create(req.Name, req.CronExpr, req.Prompt, req.Source, req.OverlapBehavior)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, sched)
}

func (s *Server) handleDeleteSchedule(w http.ResponseWriter, r *http.Request) {
	if s.Scheduler == nil {
		writeError(w, http.StatusServiceUnavailable, "scheduling is disabled")
		return
	}
	id := r.PathValue("id")
	if err := s.Scheduler.Store().Delete(id); err != nil {
		if err == schedule.ErrScheduleNotFound {
			writeError(w, http.StatusNotFound, "schedule not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}
