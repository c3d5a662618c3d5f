// Package executor drives the per-workspace round loop: drain the
// queue, prune and compact context, call the provider, dispatch tools,
// persist, and either continue or wait. It owns the error/repair state
// machine that is the only mechanism halting the loop without killing
// the process.
package executor

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/agentloom/agentloom/internal/audit"
	"github.com/agentloom/agentloom/internal/config"
	"github.com/agentloom/agentloom/internal/history"
	"github.com/agentloom/agentloom/internal/jobs"
	"github.com/agentloom/agentloom/internal/logger"
	"github.com/agentloom/agentloom/internal/memory"
	"github.com/agentloom/agentloom/internal/metrics"
	"github.com/agentloom/agentloom/internal/queue"
	"github.com/agentloom/agentloom/internal/router"
	"github.com/agentloom/agentloom/internal/sandbox"
	"github.com/agentloom/agentloom/internal/scripthost"
	"github.com/agentloom/agentloom/internal/tools"
	"github.com/agentloom/agentloom/internal/wstore"
)

const (
	repairPollInterval = 15 * time.Second
	repairTimeout      = 10 * time.Minute
	providerRetries    = 3
)

var retryBackoff = []time.Duration{2 * time.Second, 4 * time.Second}

// Status is the process' current lifecycle state, mirrored on /status.
type Status string

const (
	StatusWaiting Status = "waiting"
	StatusRunning Status = "running"
	StatusError   Status = "error"
)

// ErrorInfo is the record surfaced on /status while in the error state.
type ErrorInfo struct {
	Source    string    `json:"source"`
	Message   string    `json:"message"`
	Stack     string    `json:"stack,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Loop owns one workspace's executor state and every subsystem it drives.
type Loop struct {
	WorkspaceDir     string
	Queue            *queue.Queue
	Jobs             *jobs.Registry
	Router           *router.Router
	History          *history.Store
	RepairAgentURL   string

	// defaultModel and defaultMaxRounds come from the host-level
	// runtime.jsonc and only apply when agent.json omits the field,
	// which stays externally authoritative otherwise.
	defaultModel     string
	defaultMaxRounds int
	memoryLimits     memory.Limits

	backend sandbox.Backend

	mu      sync.Mutex
	status  Status
	errInfo *ErrorInfo
	nudges  int
}

// New wires up a loop for workspaceDir. The sandbox backend is resolved
// fresh here from the current agent.json so a self-edit to "sandbox"
// takes effect on the next construction (workspace init time), matching
// how provider/tool scripts are already re-resolved per round.
func New(workspaceDir string, q *queue.Queue, registry *jobs.Registry, hist *history.Store, repairAgentURL string) (*Loop, error) {
	state, err := config.LoadAgentState(workspaceDir)
	if err != nil {
		return nil, fmt.Errorf("load agent state: %w", err)
	}

	backend, err := sandbox.Resolve(state.Sandbox)
	if err != nil {
		return nil, fmt.Errorf("resolve sandbox backend: %w", err)
	}

	runtimeCfg, err := config.LoadRuntimeConfig(filepath.Dir(workspaceDir))
	if err != nil {
		return nil, fmt.Errorf("load runtime config: %w", err)
	}

	return &Loop{
		WorkspaceDir:     workspaceDir,
		Queue:            q,
		Jobs:             registry,
		Router:           router.New(workspaceDir, hist),
		History:          hist,
		RepairAgentURL:   repairAgentURL,
		defaultModel:     runtimeCfg.Defaults.Model,
		defaultMaxRounds: runtimeCfg.Limits.MaxRounds,
		memoryLimits:     memory.LimitsFor(runtimeCfg.Limits.MaxContextChars),
		backend:          backend,
		status:           StatusWaiting,
	}, nil
}

// Status reports the loop's current lifecycle state and, if in error,
// the recorded failure. Safe to call from the HTTP handler goroutine
// while the loop goroutine is running.
func (l *Loop) Status() (Status, *ErrorInfo) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.status, l.errInfo
}

func (l *Loop) setStatus(s Status) {
	l.mu.Lock()
	l.status = s
	l.mu.Unlock()
}

func (l *Loop) setErrorState(info *ErrorInfo) {
	l.mu.Lock()
	l.status = StatusError
	l.errInfo = info
	l.mu.Unlock()
}

func (l *Loop) clearErrorState() {
	l.mu.Lock()
	l.status = StatusWaiting
	l.errInfo = nil
	l.mu.Unlock()
}

// Run advances rounds until agent.json's maxRounds is reached or ctx is
// canceled. A fatal error (repair timeout, unrecoverable panic) returns
// a non-nil error; the caller is expected to write a crash record and
// exit 1.
func (l *Loop) Run(ctx context.Context) error {
	// The loop blocks on the queue before the first round, after a round
	// that requested a wait, and after a repaired error; otherwise the
	// next round starts at once.
	needWait := true
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		state, err := config.LoadAgentState(l.WorkspaceDir)
		if err != nil {
			return fmt.Errorf("load agent state: %w", err)
		}
		maxRounds := state.MaxRounds
		if maxRounds == 0 {
			maxRounds = l.defaultMaxRounds
		}
		if maxRounds > 0 && state.Round >= maxRounds {
			return nil
		}

		if needWait {
			l.setStatus(StatusWaiting)
			if err := l.Queue.Wait(ctx); err != nil {
				return nil // context canceled
			}
		}

		l.setStatus(StatusRunning)
		shouldWait, err := l.runRound(ctx, state)
		if err != nil {
			if repairErr := l.enterErrorAndRepair(ctx, state, err); repairErr != nil {
				return repairErr
			}
			needWait = true
			continue
		}

		needWait = shouldWait
		if shouldWait {
			l.setStatus(StatusWaiting)
		}
	}
}

// runRound executes exactly one round: steps 3-11 of the loop. Step 1
// (load agent.json, maxRounds check) and step 2's error entry are
// handled by the caller.
func (l *Loop) runRound(ctx context.Context, state *config.AgentState) (shouldWait bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in round: %v\n%s", r, debug.Stack())
		}
	}()

	model := state.Model
	if model == "" {
		model = l.defaultModel
	}

	bridge := &scripthost.Bridge{WorkspaceDir: l.WorkspaceDir, Backend: l.backend, Jobs: l.Jobs, Queue: l.Queue}

	provider, err := scripthost.LoadProvider(bridge, state.Provider)
	if err != nil {
		return false, roundError{source: "script_load", err: err}
	}
	loadedTools, err := scripthost.LoadTools(bridge)
	if err != nil {
		return false, roundError{source: "script_load", err: err}
	}

	messages, err := wstore.LoadContext(l.WorkspaceDir)
	if err != nil {
		return false, roundError{source: "unknown", err: err}
	}

	inbound := l.Queue.Drain()
	newMessages := make([]wstore.Message, 0, len(inbound))
	for _, m := range inbound {
		msg := wstore.Message{
			Role:    wstore.RoleUser,
			Content: fmt.Sprintf("[%s] %s", m.Source, m.Content),
		}
		messages = append(messages, msg)
		newMessages = append(newMessages, msg)
	}
	if err := wstore.SaveContext(l.WorkspaceDir, messages); err != nil {
		return false, roundError{source: "unknown", err: err}
	}

	messages = memory.Prune(messages, l.memoryLimits)
	if memory.NeedsCompaction(messages, l.memoryLimits) {
		summarizer := func(chunk string) (string, error) {
			resp, err := provider.Chat(
				[]wstore.Message{{Role: wstore.RoleUser, Content: "Summarize the following conversation excerpt concisely:\n\n" + chunk}},
				nil, scripthost.ChatOptions{Model: model},
			)
			if err != nil {
				return "", err
			}
			return resp.Content, nil
		}
		if compacted, cerr := memory.Compact(l.WorkspaceDir, messages, summarizer); cerr != nil {
			logger.Warn("compaction failed, continuing with pruned context", "error", cerr)
			metrics.RecordCompaction("error")
		} else {
			messages = memory.Repair(compacted)
			metrics.RecordCompaction("ok")
		}
	}

	systemPrompt := l.assembleSystemPrompt(state)
	toolDefs := make([]scripthost.ToolDef, 0, len(loadedTools)+3)
	for _, t := range loadedTools {
		toolDefs = append(toolDefs, t.Def())
	}

	callMessages := append([]wstore.Message{{Role: wstore.RoleSystem, Content: systemPrompt}}, messages...)
	resp, err := l.callProviderWithRetry(provider, callMessages, toolDefs, scripthost.ChatOptions{Model: model})
	if err != nil {
		return false, roundError{source: "llm_call", err: err}
	}

	assistantMsg := wstore.Message{Role: wstore.RoleAssistant, Content: resp.Content, ToolCalls: resp.ToolCalls}
	messages = append(messages, assistantMsg)
	newMessages = append(newMessages, assistantMsg)

	dispatcher := &tools.Dispatcher{Tools: loadedTools, Router: l.Router}
	results := dispatcher.DispatchAll(resp.ToolCalls)
	for _, r := range results {
		messages = append(messages, r.Message)
		newMessages = append(newMessages, r.Message)
		if r.ShouldWait {
			shouldWait = true
		}
	}

	if err := wstore.SaveContext(l.WorkspaceDir, messages); err != nil {
		return shouldWait, roundError{source: "unknown", err: err}
	}

	round := wstore.HistoryRound{
		Round:     state.Round,
		Timestamp: time.Now(),
		Messages:  newMessages,
		Response:  resp,
		Provider:  state.Provider,
		Model:     model,
	}
	if err := wstore.SaveRound(l.WorkspaceDir, round); err != nil {
		return shouldWait, roundError{source: "unknown", err: err}
	}
	if l.History != nil {
		if err := l.History.IndexRound(round); err != nil {
			logger.Warn("failed to index round", "round", round.Round, "error", err)
		}
	}

	if err := l.bumpRound(); err != nil {
		return shouldWait, roundError{source: "unknown", err: err}
	}

	if len(resp.ToolCalls) == 0 {
		l.nudges++
		if l.nudges < 3 {
			l.Queue.Push("Please use one of your available tools to make progress or reply to the user.", "system:nudge", nil)
		} else {
			shouldWait = true
		}
	} else {
		l.nudges = 0
	}

	metrics.RoundsTotal.Inc()
	return shouldWait, nil
}

// bumpRound re-reads agent.json and increments only the round counter,
// preserving any self-edit the round itself made to other fields.
func (l *Loop) bumpRound() error {
	current, err := config.LoadAgentState(l.WorkspaceDir)
	if err != nil {
		return fmt.Errorf("re-read agent state: %w", err)
	}
	current.Round++
	return config.SaveAgentState(l.WorkspaceDir, current)
}

func (l *Loop) assembleSystemPrompt(state *config.AgentState) string {
	prompt := state.SystemPrompt
	if fragment, err := os.ReadFile(l.WorkspaceDir + "/prompt.md"); err == nil {
		prompt += "\n\n" + string(fragment)
	}
	prompt += fmt.Sprintf("\n\nWorkspace: %s", l.WorkspaceDir)
	return prompt
}

func (l *Loop) callProviderWithRetry(provider *scripthost.Provider, messages []wstore.Message, toolDefs []scripthost.ToolDef, opts scripthost.ChatOptions) (wstore.ProviderResponse, error) {
	var lastErr error
	for attempt := 0; attempt < providerRetries; attempt++ {
		resp, err := provider.Chat(messages, toolDefs, opts)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if attempt < len(retryBackoff) {
			time.Sleep(retryBackoff[attempt])
		}
	}
	return wstore.ProviderResponse{}, lastErr
}

type roundError struct {
	source string
	err    error
}

func (e roundError) Error() string { return e.err.Error() }
func (e roundError) Unwrap() error { return e.err }

// enterErrorAndRepair records the error, notifies the parent, and polls
// for repair. Returns a non-nil error only when the repair timeout is
// exceeded, which is fatal.
func (l *Loop) enterErrorAndRepair(ctx context.Context, state *config.AgentState, cause error) error {
	source := "unknown"
	if re, ok := cause.(roundError); ok {
		source = re.source
	}

	errInfo := &ErrorInfo{
		Source:    source,
		Message:   cause.Error(),
		Stack:     string(debug.Stack()),
		Timestamp: time.Now(),
	}
	l.setErrorState(errInfo)
	logger.Error("entering error state", "source", source, "error", cause)
	metrics.RecordErrorState(source)
	audit.Log(audit.Event{Operation: audit.OpRepairEnter, Success: false, Details: map[string]any{"source": source, "error": cause.Error()}})

	l.notifyParent(*errInfo)

	deadline := time.Now().Add(repairTimeout)
	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(repairPollInterval):
		}

		consumed, err := wstore.ConsumeRepairSignal(l.WorkspaceDir)
		if err != nil {
			logger.Warn("failed to check repair signal", "error", err)
		}

		bridge := &scripthost.Bridge{WorkspaceDir: l.WorkspaceDir, Backend: l.backend, Jobs: l.Jobs, Queue: l.Queue}
		probeErr := scripthost.Probe(bridge, state.Provider)

		if consumed || probeErr == nil {
			l.clearErrorState()
			audit.Log(audit.Event{Operation: audit.OpRepairExit, Success: true, Details: map[string]any{"source": source}})
			return nil
		}
	}

	audit.Log(audit.Event{Operation: audit.OpRepairExit, Success: false, Details: map[string]any{"source": source, "error": "repair timeout exceeded"}})
	return fmt.Errorf("repair timeout exceeded for source %s: %w", source, cause)
}

func (l *Loop) notifyParent(info ErrorInfo) {
	if l.RepairAgentURL == "" {
		return
	}
	go func() {
		body := fmt.Sprintf(`{"content":%q,"source":"repair:worker"}`, info.Message)
		req, err := http.NewRequest(http.MethodPost, l.RepairAgentURL+"/message", strings.NewReader(body))
		if err != nil {
			return
		}
		req.Header.Set("Content-Type", "application/json")
		client := &http.Client{Timeout: 5 * time.Second}
		resp, err := client.Do(req)
		if err != nil {
			return
		}
		_ = resp.Body.Close()
	}()
}
