package scripthost

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/agentloom/agentloom/internal/jobs"
	"github.com/agentloom/agentloom/internal/queue"
	"github.com/agentloom/agentloom/internal/sandbox"
	"github.com/agentloom/agentloom/internal/validation"
)

// Bridge is the "host" global every loaded script sees. It is the only
// path from script code back into the process: file access is confined
// to the workspace directory, and process execution goes through the
// sandbox backend rather than a raw exec bridge, so the bash tool's
// timing and job-registry behavior lives here once instead of being
// re-implemented per script.
type Bridge struct {
	WorkspaceDir string
	Backend      sandbox.Backend
	Jobs         *jobs.Registry
	Queue        *queue.Queue
}

func (b *Bridge) resolve(relPath string) (string, error) {
	clean, err := validation.SanitizeRelPath(relPath)
	if err != nil {
		return "", err
	}
	return filepath.Join(b.WorkspaceDir, clean), nil
}

// ReadFile reads a workspace-relative file as text.
func (b *Bridge) ReadFile(relPath string) (string, error) {
	path, err := b.resolve(relPath)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// WriteFile writes a workspace-relative file, creating parent
// directories as needed.
func (b *Bridge) WriteFile(relPath, content string) error {
	path, err := b.resolve(relPath)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("mkdir: %w", err)
	}
	return os.WriteFile(path, []byte(content), 0o644)
}

// ListDir lists a workspace-relative directory's entry names.
func (b *Bridge) ListDir(relPath string) ([]string, error) {
	path, err := b.resolve(relPath)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names, nil
}

// PostMessage pushes a message into the local queue, the direct path
// the bash tool's exit notification and any other script-originated
// callback uses instead of looping a request back through HTTP.
func (b *Bridge) PostMessage(content, source string) string {
	return b.Queue.Push(content, source, nil)
}

// BashArgs is the argument shape the bash tool's execute() forwards
// verbatim from the provider's tool call.
type BashArgs struct {
	Command string `json:"command"`
	Async   bool   `json:"async"`
}

// BashResult is what host.bash returns to the calling script, which
// hands it back to the executor unchanged as the tool result.
type BashResult struct {
	Content    string `json:"content"`
	JobID      string `json:"jobId,omitempty"`
	OutputPath string `json:"outputPath,omitempty"`
	Async      bool   `json:"async"`
}

// Bash implements the full timing state machine bash.js delegates to:
// launch, race against the async threshold, and either return inline
// output or hand off to the background job registry.
func (b *Bridge) Bash(args BashArgs) (BashResult, error) {
	return runBash(context.Background(), b.WorkspaceDir, b.Backend, b.Jobs, b.Queue, args)
}

// BashKillArgs is bash_kill's argument shape.
type BashKillArgs struct {
	ID string `json:"id"`
}

// BashKillResult confirms termination.
type BashKillResult struct {
	Content    string `json:"content"`
	OutputPath string `json:"outputPath,omitempty"`
}

// BashKill terminates a tracked background job.
func (b *Bridge) BashKill(args BashKillArgs) (BashKillResult, error) {
	if err := validation.ValidateJobID(args.ID); err != nil {
		return BashKillResult{}, err
	}
	job, err := b.Jobs.Kill(args.ID)
	if err != nil {
		return BashKillResult{}, err
	}
	return BashKillResult{
		Content:    fmt.Sprintf("job %s terminated", job.ID),
		OutputPath: job.OutputPath,
	}, nil
}
