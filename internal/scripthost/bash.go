package scripthost

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/agentloom/agentloom/internal/jobs"
	"github.com/agentloom/agentloom/internal/queue"
	"github.com/agentloom/agentloom/internal/sandbox"
	"github.com/agentloom/agentloom/internal/wstore"
)

const (
	asyncThreshold  = 5 * time.Second
	syncTimeout     = 60 * time.Second
	inlineLineLimit = 100
)

// runBash is the bash tool's timing state machine: launch the command,
// mirror its output to both a transient file and an in-memory buffer,
// then either return inline once it exits within asyncThreshold or hand
// it off to the background job registry.
func runBash(ctx context.Context, workspaceDir string, backend sandbox.Backend, registry *jobs.Registry, q *queue.Queue, args BashArgs) (BashResult, error) {
	outputDir := filepath.Join(workspaceDir, ".tool-output")
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return BashResult{}, fmt.Errorf("create tool-output dir: %w", err)
	}

	id := jobs.NewID()
	outputPath := wstore.ToolOutputPath(workspaceDir, id)
	f, err := os.OpenFile(outputPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return BashResult{}, fmt.Errorf("create output file: %w", err)
	}

	runCtx, cancel := context.WithCancel(ctx)

	handle, err := backend.Start(runCtx, args.Command, workspaceDir)
	if err != nil {
		cancel()
		_ = f.Close()
		_ = os.Remove(outputPath)
		return BashResult{}, fmt.Errorf("start command: %w", err)
	}

	// killTimer enforces the 60s wall-clock only while the command is
	// still being run synchronously; it is stopped the moment a job
	// hands off to async so background jobs get unlimited life.
	killTimer := time.AfterFunc(syncTimeout, cancel)

	var mu sync.Mutex
	var buf strings.Builder
	lineCount := 0
	write := func(prefix, line string) {
		mu.Lock()
		defer mu.Unlock()
		fmt.Fprintf(f, "%s%s\n", prefix, line)
		buf.WriteString(prefix)
		buf.WriteString(line)
		buf.WriteByte('\n')
		lineCount++
	}

	var streamWG sync.WaitGroup
	streamWG.Add(2)
	go func() { defer streamWG.Done(); streamLines(handle.Stdout(), "", write) }()
	go func() { defer streamWG.Done(); streamLines(handle.Stderr(), "[stderr] ", write) }()

	exitCh := make(chan int, 1)
	go func() {
		code, _ := handle.Wait()
		streamWG.Wait()
		exitCh <- code
	}()

	if args.Async {
		killTimer.Stop()
		job := &jobs.Job{ID: id, Command: args.Command, OutputPath: outputPath, StartedAt: time.Now(), Handle: handle}
		registry.Add(job)
		go finishAsync(f, outputPath, exitCh, registry, id, q, cancel)
		return BashResult{
			Content:    fmt.Sprintf("started background job %s", id),
			JobID:      id,
			OutputPath: outputPath,
			Async:      true,
		}, nil
	}

	select {
	case <-exitCh:
		killTimer.Stop()
		cancel()
		_ = f.Close()

		mu.Lock()
		content, lines := buf.String(), lineCount
		mu.Unlock()

		if lines <= inlineLineLimit {
			_ = os.Remove(outputPath)
			return BashResult{Content: content}, nil
		}
		return BashResult{Content: truncateInline(content, inlineLineLimit)}, nil

	case <-time.After(asyncThreshold):
		killTimer.Stop()
		job := &jobs.Job{ID: id, Command: args.Command, OutputPath: outputPath, StartedAt: time.Now(), Handle: handle}
		registry.Add(job)
		go finishAsync(f, outputPath, exitCh, registry, id, q, cancel)
		return BashResult{
			Content:    fmt.Sprintf("still running as background job %s", id),
			JobID:      id,
			OutputPath: outputPath,
			Async:      true,
		}, nil
	}
}

// finishAsync waits for the process the sync path already handed off,
// appends the exit marker, and posts the wake-up notification. It owns
// closing f and canceling the exec context started in runBash.
func finishAsync(f *os.File, outputPath string, exitCh <-chan int, registry *jobs.Registry, id string, q *queue.Queue, cancel context.CancelFunc) {
	code := <-exitCh
	cancel()

	_, _ = fmt.Fprintf(f, "[exit code: %d]\n", code)
	_ = f.Close()
	registry.Remove(id)

	q.Push(fmt.Sprintf("job %s exited with code %d", id, code), "system:bash", map[string]any{
		"jobId":      id,
		"exitCode":   code,
		"outputPath": outputPath,
	})
}

func streamLines(r io.Reader, prefix string, write func(prefix, line string)) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		write(prefix, scanner.Text())
	}
}

// truncateInline returns text unchanged if it has at most limit lines;
// otherwise the first limit lines followed by a note that the full
// output was saved to the job's output file.
func truncateInline(text string, limit int) string {
	lines := strings.Split(strings.TrimRight(text, "\n"), "\n")
	if len(lines) <= limit {
		return text
	}
	head := strings.Join(lines[:limit], "\n")
	return fmt.Sprintf("%s\n... [output truncated, %d total lines, full output saved]", head, len(lines))
}
