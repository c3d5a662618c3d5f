// Package workspace initializes a fresh agent workspace from the
// embedded role templates and detects/repairs the case where a worker
// process inherited a root's on-disk artifacts (both roles share the
// same launcher and workspace layout).
package workspace

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/agentloom/agentloom/internal/config"
	"github.com/agentloom/agentloom/internal/wstore"
	"github.com/agentloom/agentloom/templates"
)

// Init lays down a fresh workspace: the shared _base layer, then the
// role layer, then agent.json. It is a no-op (bar re-checking
// agent.json) if the workspace already has one.
func Init(workspaceDir, role, provider, systemPrompt string) error {
	if err := os.MkdirAll(workspaceDir, 0o755); err != nil {
		return fmt.Errorf("create workspace dir: %w", err)
	}

	if _, err := config.LoadAgentState(workspaceDir); err == nil {
		return nil // already initialized
	}

	if err := layerTemplate(workspaceDir, "_base"); err != nil {
		return fmt.Errorf("layer _base template: %w", err)
	}
	if err := layerTemplate(workspaceDir, role); err != nil {
		return fmt.Errorf("layer %s template: %w", role, err)
	}

	state := &config.AgentState{
		Provider:     provider,
		Round:        0,
		SystemPrompt: systemPrompt,
		Role:         role,
	}
	return config.SaveAgentState(workspaceDir, state)
}

// layerTemplate copies templates/<name>/** into workspaceDir, without
// overwriting files the workspace already has (a role reset overwrites
// prompt.md and skills/ explicitly before calling this, so ordinary
// Init calls never need to clobber user edits).
func layerTemplate(workspaceDir, name string) error {
	root := name
	return fs.WalkDir(templates.FS, root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		rel := strings.TrimPrefix(strings.TrimPrefix(path, root), "/")
		if rel == "" {
			return nil
		}
		dest := filepath.Join(workspaceDir, rel)

		if d.IsDir() {
			return os.MkdirAll(dest, 0o755)
		}

		if _, err := os.Stat(dest); err == nil {
			return nil // don't clobber an existing file
		}
		data, err := templates.FS.ReadFile(path)
		if err != nil {
			return err
		}
		if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
			return err
		}
		return os.WriteFile(dest, data, 0o644)
	})
}

// NeedsWorkerReset implements the inherited-root-state check: a
// process launched as worker resets to a clean worker identity if it
// finds context containing a system:boot message, agent.json says
// role == root, or round > 0 with an effectively empty context.
func NeedsWorkerReset(workspaceDir string) (bool, error) {
	state, err := config.LoadAgentState(workspaceDir)
	if err != nil {
		if err == config.ErrNotExist {
			return false, nil
		}
		return false, err
	}
	if state.Role == config.RoleRoot {
		return true, nil
	}

	messages, err := wstore.LoadContext(workspaceDir)
	if err != nil {
		return false, err
	}
	for _, m := range messages {
		if m.Role == wstore.RoleUser && strings.Contains(m.Content, "[system:boot]") {
			return true, nil
		}
	}
	if state.Round > 0 && len(messages) == 0 {
		return true, nil
	}
	return false, nil
}

// ResetToWorker clears context and history, rewrites agent.json for
// the worker role, and re-layers _base + worker over skills/ and
// prompt.md.
func ResetToWorker(workspaceDir string) error {
	state, err := config.LoadAgentState(workspaceDir)
	if err != nil {
		return err
	}

	if err := wstore.SaveContext(workspaceDir, nil); err != nil {
		return err
	}
	if err := clearHistory(workspaceDir); err != nil {
		return err
	}

	skillsDir := filepath.Join(workspaceDir, "skills")
	if err := os.RemoveAll(skillsDir); err != nil {
		return fmt.Errorf("wipe skills: %w", err)
	}
	promptPath := filepath.Join(workspaceDir, "prompt.md")
	if err := os.Remove(promptPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove prompt.md: %w", err)
	}

	if err := layerTemplate(workspaceDir, "_base"); err != nil {
		return fmt.Errorf("re-layer _base: %w", err)
	}
	if err := layerTemplate(workspaceDir, config.RoleWorker); err != nil {
		return fmt.Errorf("re-layer worker: %w", err)
	}

	state.Role = config.RoleWorker
	state.Round = 0
	return config.SaveAgentState(workspaceDir, state)
}

func clearHistory(workspaceDir string) error {
	dir := filepath.Join(workspaceDir, "history")
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("remove history: %w", err)
	}
	return os.MkdirAll(dir, 0o755)
}
