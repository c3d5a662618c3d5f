// Package logger provides structured, dual-sink logging for the agent
// process: every line goes to stderr and to a dated file under the
// workspace's log directory.
package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

var (
	instance *slog.Logger
	logFile  *os.File
	once     sync.Once
)

// Init initializes the global logger instance. Safe to call more than
// once; only the first call takes effect.
func Init(logDir string) error {
	var initErr error
	once.Do(func() {
		instance, logFile, initErr = newLogger(logDir)
	})
	return initErr
}

func newLogger(logDir string) (*slog.Logger, *os.File, error) {
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return nil, nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	name := fmt.Sprintf("agent-%s.log", time.Now().Format("2006-01-02"))
	f, err := os.OpenFile(filepath.Join(logDir, name), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open log file: %w", err)
	}

	writer := io.MultiWriter(os.Stderr, f)
	handler := slog.NewTextHandler(writer, &slog.HandlerOptions{Level: slog.LevelInfo})
	return slog.New(handler), f, nil
}

// Close closes the log file, if one was opened.
func Close() error {
	if logFile != nil {
		return logFile.Close()
	}
	return nil
}

// Slog returns the global structured logger, falling back to slog's
// default if Init was never called (e.g. in unit tests).
func Slog() *slog.Logger {
	if instance == nil {
		return slog.Default()
	}
	return instance
}

type contextKey string

const (
	ContextKeyRound     contextKey = "round"
	ContextKeyWorkspace contextKey = "workspace"
)

// WithContext returns a logger enriched with round/workspace fields
// carried on ctx, if present.
func WithContext(ctx context.Context) *slog.Logger {
	l := Slog()
	if round := ctx.Value(ContextKeyRound); round != nil {
		l = l.With("round", round)
	}
	if ws := ctx.Value(ContextKeyWorkspace); ws != nil {
		l = l.With("workspace", ws)
	}
	return l
}

func Info(msg string, args ...any)  { Slog().Info(msg, args...) }
func Warn(msg string, args ...any)  { Slog().Warn(msg, args...) }
func Error(msg string, args ...any) { Slog().Error(msg, args...) }
func Debug(msg string, args ...any) { Slog().Debug(msg, args...) }

func InfoContext(ctx context.Context, msg string, args ...any) {
	WithContext(ctx).Info(msg, args...)
}

func ErrorContext(ctx context.Context, msg string, args ...any) {
	WithContext(ctx).Error(msg, args...)
}
