package workspace

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/agentloom/agentloom/internal/config"
	"github.com/agentloom/agentloom/internal/wstore"
)

func TestInit_LayersTemplatesAndAgentState(t *testing.T) {
	dir := t.TempDir()

	if err := Init(dir, config.RoleWorker, "echo", "base prompt"); err != nil {
		t.Fatalf("Init() error = %v", err)
	}

	for _, rel := range []string{
		"scripts/tools/bash.js",
		"scripts/tools/read_file.js",
		"scripts/providers/echo.js",
		"prompt.md",
		"skills/user-tasks/SKILL.md",
	} {
		if _, err := os.Stat(filepath.Join(dir, rel)); err != nil {
			t.Errorf("expected %s to exist after Init: %v", rel, err)
		}
	}

	state, err := config.LoadAgentState(dir)
	if err != nil {
		t.Fatalf("LoadAgentState() error = %v", err)
	}
	if state.Provider != "echo" || state.Role != config.RoleWorker || state.Round != 0 {
		t.Errorf("unexpected state: %+v", state)
	}
}

func TestInit_RootLayersRootPrompt(t *testing.T) {
	dir := t.TempDir()
	if err := Init(dir, config.RoleRoot, "echo", "base"); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "skills", "spawn-worker", "SKILL.md")); err != nil {
		t.Errorf("expected root skill to exist: %v", err)
	}
}

func TestInit_Idempotent(t *testing.T) {
	dir := t.TempDir()
	if err := Init(dir, config.RoleWorker, "echo", "base"); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	promptPath := filepath.Join(dir, "prompt.md")
	if err := os.WriteFile(promptPath, []byte("customized"), 0o644); err != nil {
		t.Fatalf("write custom prompt: %v", err)
	}

	if err := Init(dir, config.RoleWorker, "echo", "base"); err != nil {
		t.Fatalf("second Init() error = %v", err)
	}
	data, err := os.ReadFile(promptPath)
	if err != nil {
		t.Fatalf("read prompt.md: %v", err)
	}
	if string(data) != "customized" {
		t.Error("second Init() should not clobber an already-initialized workspace")
	}
}

func TestNeedsWorkerReset_RootRole(t *testing.T) {
	dir := t.TempDir()
	if err := Init(dir, config.RoleRoot, "echo", "base"); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	needs, err := NeedsWorkerReset(dir)
	if err != nil {
		t.Fatalf("NeedsWorkerReset() error = %v", err)
	}
	if !needs {
		t.Error("expected reset to be needed when role is root")
	}
}

func TestNeedsWorkerReset_BootMessageInContext(t *testing.T) {
	dir := t.TempDir()
	if err := Init(dir, config.RoleWorker, "echo", "base"); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	err := wstore.SaveContext(dir, []wstore.Message{
		{Role: wstore.RoleUser, Content: "[system:boot] spawn a worker"},
	})
	if err != nil {
		t.Fatalf("SaveContext() error = %v", err)
	}

	needs, err := NeedsWorkerReset(dir)
	if err != nil {
		t.Fatalf("NeedsWorkerReset() error = %v", err)
	}
	if !needs {
		t.Error("expected reset to be needed when context has a system:boot message")
	}
}

func TestNeedsWorkerReset_RoundWithEmptyContext(t *testing.T) {
	dir := t.TempDir()
	if err := Init(dir, config.RoleWorker, "echo", "base"); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	state, err := config.LoadAgentState(dir)
	if err != nil {
		t.Fatalf("LoadAgentState() error = %v", err)
	}
	state.Round = 3
	if err := config.SaveAgentState(dir, state); err != nil {
		t.Fatalf("SaveAgentState() error = %v", err)
	}

	needs, err := NeedsWorkerReset(dir)
	if err != nil {
		t.Fatalf("NeedsWorkerReset() error = %v", err)
	}
	if !needs {
		t.Error("expected reset to be needed for round > 0 with empty context")
	}
}

func TestNeedsWorkerReset_NormalWorker(t *testing.T) {
	dir := t.TempDir()
	if err := Init(dir, config.RoleWorker, "echo", "base"); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	err := wstore.SaveContext(dir, []wstore.Message{
		{Role: wstore.RoleUser, Content: "[test:1] hello"},
	})
	if err != nil {
		t.Fatalf("SaveContext() error = %v", err)
	}

	needs, err := NeedsWorkerReset(dir)
	if err != nil {
		t.Fatalf("NeedsWorkerReset() error = %v", err)
	}
	if needs {
		t.Error("expected no reset for a normal worker with real context")
	}
}

func TestResetToWorker(t *testing.T) {
	dir := t.TempDir()
	if err := Init(dir, config.RoleRoot, "echo", "base"); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	if err := wstore.SaveContext(dir, []wstore.Message{{Role: wstore.RoleUser, Content: "[system:boot] hi"}}); err != nil {
		t.Fatalf("SaveContext() error = %v", err)
	}
	if err := wstore.SaveRound(dir, wstore.HistoryRound{Round: 0}); err != nil {
		t.Fatalf("SaveRound() error = %v", err)
	}

	if err := ResetToWorker(dir); err != nil {
		t.Fatalf("ResetToWorker() error = %v", err)
	}

	state, err := config.LoadAgentState(dir)
	if err != nil {
		t.Fatalf("LoadAgentState() error = %v", err)
	}
	if state.Role != config.RoleWorker || state.Round != 0 {
		t.Errorf("unexpected post-reset state: %+v", state)
	}

	messages, err := wstore.LoadContext(dir)
	if err != nil {
		t.Fatalf("LoadContext() error = %v", err)
	}
	if len(messages) != 0 {
		t.Errorf("expected empty context after reset, got %d messages", len(messages))
	}

	rounds, err := wstore.ListRoundNumbers(dir)
	if err != nil {
		t.Fatalf("ListRoundNumbers() error = %v", err)
	}
	if len(rounds) != 0 {
		t.Errorf("expected no history after reset, got %v", rounds)
	}

	if _, err := os.Stat(filepath.Join(dir, "skills", "user-tasks", "SKILL.md")); err != nil {
		t.Errorf("expected worker skill to be re-layered: %v", err)
	}
}
