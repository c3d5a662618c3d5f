// Package audit records security- and lifecycle-relevant events
// (token mint/revoke, schedule create/delete, repair entry/exit) as
// structured JSON log lines, separate from the general application
// log so they can be shipped or retained under a different policy.
package audit

import (
	"encoding/json"
	"log/slog"
	"os"
	"sync"
	"time"
)

// Operation identifies the kind of audited event.
type Operation string

const (
	OpTokenMint      Operation = "token.mint"
	OpTokenRevoke    Operation = "token.revoke"
	OpScheduleCreate Operation = "schedule.create"
	OpScheduleDelete Operation = "schedule.delete"
	OpRepairEnter    Operation = "repair.enter"
	OpRepairExit     Operation = "repair.exit"
)

// Event is one audit log entry.
type Event struct {
	Timestamp time.Time      `json:"timestamp"`
	Operation Operation      `json:"operation"`
	TokenID   string         `json:"token_id,omitempty"`
	Route     string         `json:"route,omitempty"`
	Success   bool           `json:"success"`
	Error     string         `json:"error,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
}

// Logger writes audit events to a JSON handler. Disabled loggers drop
// events, so callers can wire audit.Log everywhere without a hot-path
// branch.
type Logger struct {
	logger  *slog.Logger
	enabled bool
	mu      sync.RWMutex
}

var (
	defaultLogger *Logger
	once          sync.Once
)

// Default returns the process-wide audit logger, enabled by default.
func Default() *Logger {
	once.Do(func() {
		defaultLogger = New(true)
	})
	return defaultLogger
}

// New creates a Logger writing JSON lines to stdout.
func New(enabled bool) *Logger {
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})
	return &Logger{logger: slog.New(handler), enabled: enabled}
}

// SetEnabled toggles whether Log actually writes.
func (l *Logger) SetEnabled(enabled bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.enabled = enabled
}

// Log records an audit event.
func (l *Logger) Log(event Event) {
	l.mu.RLock()
	enabled := l.enabled
	l.mu.RUnlock()
	if !enabled {
		return
	}

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	attrs := []any{
		slog.String("audit", "true"),
		slog.String("operation", string(event.Operation)),
		slog.Bool("success", event.Success),
	}
	if event.TokenID != "" {
		attrs = append(attrs, slog.String("token_id", maskToken(event.TokenID)))
	}
	if event.Route != "" {
		attrs = append(attrs, slog.String("route", event.Route))
	}
	if event.Error != "" {
		attrs = append(attrs, slog.String("error", event.Error))
	}
	if event.Details != nil {
		detailsJSON, _ := json.Marshal(event.Details)
		attrs = append(attrs, slog.String("details", string(detailsJSON)))
	}

	l.logger.Info("AUDIT", attrs...)
}

func maskToken(tokenID string) string {
	if len(tokenID) <= 12 {
		return "***"
	}
	return tokenID[:8] + "..."
}

// Log records an audit event on the default logger.
func Log(event Event) { Default().Log(event) }
