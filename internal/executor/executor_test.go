package executor

import (
	"context"
	"testing"
	"time"

	"github.com/agentloom/agentloom/internal/config"
	"github.com/agentloom/agentloom/internal/history"
	"github.com/agentloom/agentloom/internal/jobs"
	"github.com/agentloom/agentloom/internal/queue"
	"github.com/agentloom/agentloom/internal/workspace"
	"github.com/agentloom/agentloom/internal/wstore"
)

func setupLoop(t *testing.T) (*Loop, string, *queue.Queue) {
	t.Helper()
	dir := t.TempDir()

	if err := workspace.Init(dir, config.RoleWorker, "echo", "you are a test agent"); err != nil {
		t.Fatalf("workspace.Init() error = %v", err)
	}

	hist, err := history.Open(dir)
	if err != nil {
		t.Fatalf("history.Open() error = %v", err)
	}
	t.Cleanup(func() { _ = hist.Close() })

	q := queue.New()
	registry := jobs.NewRegistry()

	loop, err := New(dir, q, registry, hist, "")
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return loop, dir, q
}

func TestLoop_EchoRound(t *testing.T) {
	loop, dir, q := setupLoop(t)

	state, err := config.LoadAgentState(dir)
	if err != nil {
		t.Fatalf("LoadAgentState() error = %v", err)
	}
	state.MaxRounds = 1
	if err := config.SaveAgentState(dir, state); err != nil {
		t.Fatalf("SaveAgentState() error = %v", err)
	}

	q.Push("hi", "test:1", nil)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := loop.Run(ctx); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	final, err := config.LoadAgentState(dir)
	if err != nil {
		t.Fatalf("LoadAgentState() error = %v", err)
	}
	if final.Round != 1 {
		t.Fatalf("Round = %d, want 1", final.Round)
	}

	messages, err := wstore.LoadContext(dir)
	if err != nil {
		t.Fatalf("LoadContext() error = %v", err)
	}
	var sawUser, sawAssistant bool
	for _, m := range messages {
		if m.Role == wstore.RoleUser && m.Content == "[test:1] hi" {
			sawUser = true
		}
		if m.Role == wstore.RoleAssistant {
			sawAssistant = true
			if len(m.ToolCalls) != 2 {
				t.Errorf("expected 2 tool calls (reply, wait_for), got %d", len(m.ToolCalls))
			}
		}
	}
	if !sawUser {
		t.Error("expected the folded inbound message in context")
	}
	if !sawAssistant {
		t.Error("expected an assistant message in context")
	}

	outbox, err := wstore.ListOutbox(dir)
	if err != nil {
		t.Fatalf("ListOutbox() error = %v", err)
	}
	if len(outbox) != 1 {
		t.Fatalf("expected 1 outbox message (no routes.json configured), got %d", len(outbox))
	}
	if outbox[0].Content != "Echo: hi" {
		t.Errorf("outbox content = %q, want %q", outbox[0].Content, "Echo: hi")
	}
	if outbox[0].Source != "test:1" {
		t.Errorf("outbox source = %q, want %q", outbox[0].Source, "test:1")
	}

	status, errInfo := loop.Status()
	if status != StatusWaiting {
		t.Errorf("status = %v, want %v", status, StatusWaiting)
	}
	if errInfo != nil {
		t.Errorf("expected no error info, got %+v", errInfo)
	}
}

func TestLoop_StopsAtMaxRounds(t *testing.T) {
	loop, dir, q := setupLoop(t)

	state, err := config.LoadAgentState(dir)
	if err != nil {
		t.Fatalf("LoadAgentState() error = %v", err)
	}
	state.MaxRounds = 1
	state.Round = 1
	if err := config.SaveAgentState(dir, state); err != nil {
		t.Fatalf("SaveAgentState() error = %v", err)
	}

	q.Push("should not be processed", "test:2", nil)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := loop.Run(ctx); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if q.Len() != 1 {
		t.Errorf("expected the message to remain undrained, got queue len %d", q.Len())
	}
}
