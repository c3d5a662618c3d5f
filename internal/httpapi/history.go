package httpapi

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/agentloom/agentloom/internal/validation"
	"github.com/agentloom/agentloom/internal/wstore"
)

const (
	defaultHistoryLimit = 20
	maxHistoryLimit     = 100
)

// toolCallSummary is the args-summary form of a tool call listed in a
// history page entry.
type toolCallSummary struct {
	Name        string `json:"name"`
	ArgsSummary string `json:"argsSummary"`
}

type historyEntry struct {
	Round            int               `json:"round"`
	Timestamp        string            `json:"timestamp"`
	Provider         string            `json:"provider"`
	Model            string            `json:"model,omitempty"`
	MessageCount     int               `json:"messageCount"`
	ToolCallCount    int               `json:"toolCallCount"`
	ToolNames        []string          `json:"toolNames"`
	ToolCalls        []toolCallSummary `json:"toolCalls"`
	UserPreview      string            `json:"userPreview,omitempty"`
	AssistantPreview string            `json:"assistantPreview,omitempty"`
	Usage            *wstore.Usage     `json:"usage,omitempty"`
}

func preview(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "..."
}

func summarizeArgs(args map[string]any) string {
	var parts []string
	for k, v := range args {
		parts = append(parts, k+"="+preview(argToString(v), 40))
	}
	return strings.Join(parts, ", ")
}

func argToString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

func buildEntry(round int, rec *wstore.HistoryRound) historyEntry {
	entry := historyEntry{
		Round:         round,
		Timestamp:     rec.Timestamp.Format("2006-01-02T15:04:05Z07:00"),
		Provider:      rec.Provider,
		Model:         rec.Model,
		MessageCount:  len(rec.Messages),
		ToolCallCount: len(rec.Response.ToolCalls),
		Usage:         rec.Response.Usage,
	}

	seenTools := make(map[string]bool)
	for _, tc := range rec.Response.ToolCalls {
		if !seenTools[tc.Name] {
			seenTools[tc.Name] = true
			entry.ToolNames = append(entry.ToolNames, tc.Name)
		}
		entry.ToolCalls = append(entry.ToolCalls, toolCallSummary{Name: tc.Name, ArgsSummary: summarizeArgs(tc.Args)})
	}

	for _, m := range rec.Messages {
		switch m.Role {
		case wstore.RoleUser:
			if entry.UserPreview == "" {
				entry.UserPreview = preview(m.Content, 120)
			}
		case wstore.RoleAssistant:
			if entry.AssistantPreview == "" {
				entry.AssistantPreview = preview(m.Content, 200)
			}
		}
	}

	return entry
}

func (s *Server) handleListHistory(w http.ResponseWriter, r *http.Request) {
	offset, limit := parsePaging(r)

	if s.History != nil {
		summaries, err := s.History.ListRounds(offset, limit)
		if err == nil {
			total, _ := s.History.CountRounds()
			entries := make([]historyEntry, 0, len(summaries))
			for _, sm := range summaries {
				rec, err := wstore.LoadRound(s.WorkspaceDir, sm.Round)
				if err != nil {
					continue
				}
				entries = append(entries, buildEntry(sm.Round, rec))
			}
			writeJSON(w, http.StatusOK, map[string]any{"total": total, "rounds": entries})
			return
		}
	}

	// Fallback: scan the history directory directly if the index is
	// unavailable.
	rounds, err := wstore.ListRoundNumbers(s.WorkspaceDir)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	total := len(rounds)
	if offset > total {
		offset = total
	}
	end := offset + limit
	if end > total {
		end = total
	}
	page := rounds[offset:end]

	entries := make([]historyEntry, 0, len(page))
	for _, n := range page {
		rec, err := wstore.LoadRound(s.WorkspaceDir, n)
		if err != nil {
			continue
		}
		entries = append(entries, buildEntry(n, rec))
	}
	writeJSON(w, http.StatusOK, map[string]any{"total": total, "rounds": entries})
}

func parsePaging(r *http.Request) (offset, limit int) {
	offset = 0
	limit = defaultHistoryLimit

	if v := r.URL.Query().Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}
	return offset, limit
}

func (s *Server) handleGetHistory(w http.ResponseWriter, r *http.Request) {
	roundStr := r.PathValue("round")
	round, err := strconv.Atoi(roundStr)
	if err != nil {
		writeError(w, http.StatusBadRequest, "round must be an integer")
		return
	}
	if _, ok := validation.ParseRoundFilename(fmt.Sprintf("round-%05d.json", round)); !ok {
		writeError(w, http.StatusBadRequest, "round must be in range [0, 99999]")
		return
	}

	rec, err := wstore.LoadRound(s.WorkspaceDir, round)
	if err != nil {
		writeError(w, http.StatusNotFound, "round not found")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}
