package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
)

var ErrNotExist = errors.New("config file does not exist")

// LoadAgentState reads and parses <workspace>/agent.json.
func LoadAgentState(workspaceDir string) (*AgentState, error) {
	data, err := os.ReadFile(filepath.Join(workspaceDir, "agent.json"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotExist
		}
		return nil, fmt.Errorf("read agent.json: %w", err)
	}
	var state AgentState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("parse agent.json: %w", err)
	}
	return &state, nil
}

// SaveAgentState atomically writes agent.json (write to a temp file,
// then rename), the same pattern the round history and outbox writers
// use to avoid readers observing a half-written file.
func SaveAgentState(workspaceDir string, state *AgentState) error {
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal agent.json: %w", err)
	}
	return atomicWrite(filepath.Join(workspaceDir, "agent.json"), data)
}

// LoadRoutes reads routes.json; a missing file yields an empty map, not
// an error, since every workspace may fall back to the outbox entirely.
func LoadRoutes(workspaceDir string) (Routes, error) {
	data, err := os.ReadFile(filepath.Join(workspaceDir, "routes.json"))
	if err != nil {
		if os.IsNotExist(err) {
			return Routes{}, nil
		}
		return nil, fmt.Errorf("read routes.json: %w", err)
	}
	var routes Routes
	if err := json.Unmarshal(data, &routes); err != nil {
		return nil, fmt.Errorf("parse routes.json: %w", err)
	}
	return routes, nil
}

// LoadRuntimeConfig reads a host-level runtime.jsonc, if present, and
// layers it over DefaultRuntimeConfig. homeDir is the directory
// containing the workspace, not the workspace itself.
func LoadRuntimeConfig(homeDir string) (*RuntimeConfig, error) {
	cfg := DefaultRuntimeConfig()

	path := filepath.Join(homeDir, "runtime.jsonc")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("read runtime.jsonc: %w", err)
	}

	stripped := StripJSONComments(data)
	if err := json.Unmarshal(stripped, cfg); err != nil {
		return nil, fmt.Errorf("parse runtime.jsonc: %w", err)
	}
	if cfg.Server.Address == "" {
		cfg.Server.Address = ":3000"
	}
	if cfg.Limits.MaxContextChars == 0 {
		cfg.Limits.MaxContextChars = 160_000
	}
	return cfg, nil
}

// atomicWrite writes data to a temp file next to path, then renames it
// into place so a crash never leaves a half-written file behind.
func atomicWrite(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", tmp, err)
	}
	// Best-effort: strip extended attributes that can block rename on
	// macOS (com.apple.provenance and similar).
	_ = exec.Command("xattr", "-c", tmp).Run()
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("rename %s: %w", tmp, err)
	}
	return nil
}
