package wstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

var ErrOutboxNotFound = errors.New("outbox message not found")

func atomicWrite(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", tmp, err)
	}
	_ = exec.Command("xattr", "-c", tmp).Run()
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("rename %s: %w", tmp, err)
	}
	return nil
}

// LoadContext reads memory/context.json. A missing file returns an
// empty context, not an error — a freshly-initialized workspace has
// none yet.
func LoadContext(workspaceDir string) ([]Message, error) {
	data, err := os.ReadFile(filepath.Join(workspaceDir, "memory", "context.json"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read context.json: %w", err)
	}
	var messages []Message
	if err := json.Unmarshal(data, &messages); err != nil {
		return nil, fmt.Errorf("parse context.json: %w", err)
	}
	return messages, nil
}

// SaveContext atomically persists the full context. Called immediately
// after draining the queue and again after tool results are appended,
// so a crash mid-round never leaves an unrecoverable structural gap.
func SaveContext(workspaceDir string, messages []Message) error {
	if messages == nil {
		messages = []Message{}
	}
	data, err := json.MarshalIndent(messages, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal context: %w", err)
	}
	dir := filepath.Join(workspaceDir, "memory")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("mkdir memory: %w", err)
	}
	return atomicWrite(filepath.Join(dir, "context.json"), data)
}

// AppendSummary appends compacted text to the append-only compaction
// log, memory/summary.md.
func AppendSummary(workspaceDir, text string) error {
	dir := filepath.Join(workspaceDir, "memory")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("mkdir memory: %w", err)
	}
	f, err := os.OpenFile(filepath.Join(dir, "summary.md"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open summary.md: %w", err)
	}
	defer func() { _ = f.Close() }()
	if _, err := f.WriteString(text + "\n\n"); err != nil {
		return fmt.Errorf("append summary.md: %w", err)
	}
	return nil
}

func roundFilename(round int) string {
	return fmt.Sprintf("round-%05d.json", round)
}

// SaveRound writes history/round-NNNNN.json.
func SaveRound(workspaceDir string, rec HistoryRound) error {
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal round record: %w", err)
	}
	dir := filepath.Join(workspaceDir, "history")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("mkdir history: %w", err)
	}
	return atomicWrite(filepath.Join(dir, roundFilename(rec.Round)), data)
}

// LoadRound reads a single round record by number.
func LoadRound(workspaceDir string, round int) (*HistoryRound, error) {
	data, err := os.ReadFile(filepath.Join(workspaceDir, "history", roundFilename(round)))
	if err != nil {
		return nil, err
	}
	var rec HistoryRound
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("parse round record: %w", err)
	}
	return &rec, nil
}

// ListRoundNumbers scans history/ and returns every round number found,
// descending (newest first). Used as the fallback path when the SQLite
// round index (internal/history) is absent or stale.
func ListRoundNumbers(workspaceDir string) ([]int, error) {
	entries, err := os.ReadDir(filepath.Join(workspaceDir, "history"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read history dir: %w", err)
	}

	var rounds []int
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		name := strings.TrimSuffix(strings.TrimPrefix(e.Name(), "round-"), ".json")
		n, err := strconv.Atoi(name)
		if err != nil {
			continue
		}
		rounds = append(rounds, n)
	}
	sort.Sort(sort.Reverse(sort.IntSlice(rounds)))
	return rounds, nil
}

// WriteOutbox persists an undelivered reply as outbox/<id>.json,
// generating a fresh id if the caller did not already assign one.
func WriteOutbox(workspaceDir string, msg OutboxMessage) (OutboxMessage, error) {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	dir := filepath.Join(workspaceDir, "outbox")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return msg, fmt.Errorf("mkdir outbox: %w", err)
	}
	data, err := json.MarshalIndent(msg, "", "  ")
	if err != nil {
		return msg, fmt.Errorf("marshal outbox message: %w", err)
	}
	if err := atomicWrite(filepath.Join(dir, msg.ID+".json"), data); err != nil {
		return msg, err
	}
	return msg, nil
}

// ListOutbox returns every pending outbox message.
func ListOutbox(workspaceDir string) ([]OutboxMessage, error) {
	entries, err := os.ReadDir(filepath.Join(workspaceDir, "outbox"))
	if err != nil {
		if os.IsNotExist(err) {
			return []OutboxMessage{}, nil
		}
		return nil, fmt.Errorf("read outbox dir: %w", err)
	}

	messages := make([]OutboxMessage, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(workspaceDir, "outbox", e.Name()))
		if err != nil {
			continue
		}
		var msg OutboxMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		messages = append(messages, msg)
	}
	return messages, nil
}

// DeleteOutbox removes outbox/<id>.json. Returns ErrOutboxNotFound if it
// does not exist, so the HTTP handler can answer 404 on a second delete.
func DeleteOutbox(workspaceDir, id string) error {
	path := filepath.Join(workspaceDir, "outbox", id+".json")
	if err := os.Remove(path); err != nil {
		if os.IsNotExist(err) {
			return ErrOutboxNotFound
		}
		return fmt.Errorf("remove outbox message: %w", err)
	}
	return nil
}

// AppendCrash appends one JSON line to crash.log.
func AppendCrash(workspaceDir string, event CrashEvent) error {
	f, err := os.OpenFile(filepath.Join(workspaceDir, "crash.log"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open crash.log: %w", err)
	}
	defer func() { _ = f.Close() }()

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal crash event: %w", err)
	}
	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("append crash.log: %w", err)
	}
	return nil
}

// LastCrash returns the most recent crash.log entry, if any.
func LastCrash(workspaceDir string) (*CrashEvent, error) {
	data, err := os.ReadFile(filepath.Join(workspaceDir, "crash.log"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read crash.log: %w", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) == 0 || lines[len(lines)-1] == "" {
		return nil, nil
	}
	var event CrashEvent
	if err := json.Unmarshal([]byte(lines[len(lines)-1]), &event); err != nil {
		return nil, fmt.Errorf("parse crash.log: %w", err)
	}
	return &event, nil
}

// WriteRepairSignal creates the .repair-signal sentinel file.
func WriteRepairSignal(workspaceDir string) error {
	return os.WriteFile(filepath.Join(workspaceDir, ".repair-signal"), []byte{}, 0o644)
}

// ConsumeRepairSignal reports whether .repair-signal is present and, if
// so, removes it.
func ConsumeRepairSignal(workspaceDir string) (bool, error) {
	path := filepath.Join(workspaceDir, ".repair-signal")
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("stat repair signal: %w", err)
	}
	if err := os.Remove(path); err != nil {
		return false, fmt.Errorf("remove repair signal: %w", err)
	}
	return true, nil
}

// ToolOutputPath returns the path a background job streams output to.
func ToolOutputPath(workspaceDir, jobID string) string {
	return filepath.Join(workspaceDir, ".tool-output", jobID+".txt")
}
