// Package memory implements the three context-management layers the
// executor loop runs every round: pruning, LLM-driven compaction, and
// tool-pair repair. Character counts stand in for token counts
// throughout, at a fixed approximation of four characters per token.
package memory

import (
	"fmt"
	"strings"

	"github.com/agentloom/agentloom/internal/wstore"
)

const (
	defaultCompactionThreshold = 160_000

	softTrimLen  = 4_000
	hardTrimLen  = 100
	compactChunk = 30_000

	keepLastAssistant = 3
)

// Limits holds the character thresholds pruning and compaction trigger
// at, scaled from a single configured ceiling.
type Limits struct {
	Soft       int
	Hard       int
	Compaction int
}

// LimitsFor derives Limits from runtime.jsonc's limits.maxContextChars,
// keeping the soft-prune-at-50%/hard-prune-at-75%/compact-at-100% ratios
// this package always used. maxContextChars <= 0 falls back to the
// package's historical 160,000-char ceiling.
func LimitsFor(maxContextChars int) Limits {
	if maxContextChars <= 0 {
		maxContextChars = defaultCompactionThreshold
	}
	return Limits{
		Soft:       maxContextChars / 2,
		Hard:       maxContextChars * 3 / 4,
		Compaction: maxContextChars,
	}
}

// Chars returns the total character count of a context, the proxy this
// package uses for token cost.
func Chars(messages []wstore.Message) int {
	total := 0
	for _, m := range messages {
		total += len(m.Content)
		for _, tc := range m.ToolCalls {
			total += len(tc.Name) + len(fmt.Sprint(tc.Args))
		}
	}
	return total
}

// cutoffIndex locates the index before the last keepLastAssistant
// assistant messages; pruning never touches messages at or after it.
func cutoffIndex(messages []wstore.Message) int {
	seen := 0
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == wstore.RoleAssistant {
			seen++
			if seen == keepLastAssistant {
				return i
			}
		}
	}
	return 0
}

// Prune rewrites tool messages earlier than the cutoff in place,
// operating in memory only; the caller persists the result. Returns the
// same slice, mutated, for convenience.
func Prune(messages []wstore.Message, limits Limits) []wstore.Message {
	total := Chars(messages)
	if total < limits.Soft {
		return messages
	}

	cutoff := cutoffIndex(messages)
	hard := total >= limits.Hard

	for i := 0; i < cutoff; i++ {
		if messages[i].Role != wstore.RoleTool {
			continue
		}
		content := messages[i].Content

		if hard {
			if len(content) > hardTrimLen {
				messages[i].Content = "[Tool result cleared to save context space]"
			}
			continue
		}

		if len(content) > softTrimLen {
			head := content[:1500]
			tail := content[len(content)-1500:]
			messages[i].Content = fmt.Sprintf(
				"%s\n... [trimmed %d chars to save context space] ...\n%s",
				head, len(content)-3000, tail,
			)
		}
	}

	return messages
}

// NeedsCompaction reports whether the pruned context still exceeds the
// compaction threshold.
func NeedsCompaction(messages []wstore.Message, limits Limits) bool {
	return Chars(messages) >= limits.Compaction
}

// Summarizer calls the provider with a fixed summarization prompt over a
// chunk of rendered context text and returns the produced summary.
// The executor supplies this so the memory package stays provider
// agnostic.
type Summarizer func(chunk string) (string, error)

// splitIndex targets the last third of the context, then walks forward
// to the next user message so a tool call and its result are never
// separated across the split.
func splitIndex(messages []wstore.Message) int {
	target := len(messages) - len(messages)/3
	if target < 0 {
		target = 0
	}
	for i := target; i < len(messages); i++ {
		if messages[i].Role == wstore.RoleUser {
			return i
		}
	}
	return len(messages)
}

// Render flattens messages into plain text for summarization purposes.
func Render(messages []wstore.Message) string {
	var b strings.Builder
	for _, m := range messages {
		fmt.Fprintf(&b, "[%s] %s\n", m.Role, m.Content)
		for _, tc := range m.ToolCalls {
			fmt.Fprintf(&b, "  toolCall %s(%s)\n", tc.Name, tc.ID)
		}
	}
	return b.String()
}

// Compact summarizes the prefix before the split index in ≤30000-char
// chunks, appends the concatenated partial summaries to
// memory/summary.md, and returns a context with that prefix replaced by
// a single synthetic user message. It is best-effort: a summarizer
// error is returned unchanged so the caller can log and continue with
// the merely-pruned context.
func Compact(workspaceDir string, messages []wstore.Message, summarize Summarizer) ([]wstore.Message, error) {
	split := splitIndex(messages)
	if split == 0 {
		return messages, nil
	}

	rendered := Render(messages[:split])
	var summaries []string
	for len(rendered) > 0 {
		end := len(rendered)
		if end > compactChunk {
			end = compactChunk
		}
		chunk := rendered[:end]
		rendered = rendered[end:]

		summary, err := summarize(chunk)
		if err != nil {
			return messages, fmt.Errorf("summarize chunk: %w", err)
		}
		summaries = append(summaries, summary)
	}

	full := strings.Join(summaries, "\n\n")
	if err := wstore.AppendSummary(workspaceDir, full); err != nil {
		return messages, fmt.Errorf("append summary: %w", err)
	}

	replacement := wstore.Message{
		Role:    wstore.RoleUser,
		Content: "[Previous context summary]\n" + full,
	}
	out := append([]wstore.Message{replacement}, messages[split:]...)
	return out, nil
}

// Repair drops orphaned or duplicate tool messages and inserts a
// synthetic placeholder tool message for any assistant tool call left
// without a later result. Run after any structural edit (pruning
// doesn't need it; compaction does, since it can slice a pairing).
func Repair(messages []wstore.Message) []wstore.Message {
	// Collect every tool call id emitted by any assistant message; a tool
	// message whose id is not among them is an orphan.
	pendingCalls := make(map[string]int)
	for i, m := range messages {
		if m.Role != wstore.RoleAssistant {
			continue
		}
		for _, tc := range m.ToolCalls {
			pendingCalls[tc.ID] = i
		}
	}

	seenResults := make(map[string]bool)
	repaired := make([]wstore.Message, 0, len(messages))
	for _, m := range messages {
		if m.Role == wstore.RoleTool {
			if _, known := pendingCalls[m.ToolCallID]; !known {
				continue // orphan: no assistant call claims this id
			}
			if seenResults[m.ToolCallID] {
				continue // duplicate
			}
			seenResults[m.ToolCallID] = true
		}
		repaired = append(repaired, m)
	}

	// Insert synthetic results for calls that were never answered,
	// immediately after the assistant message that made them.
	var final []wstore.Message
	for _, m := range repaired {
		final = append(final, m)
		if m.Role != wstore.RoleAssistant {
			continue
		}
		for _, tc := range m.ToolCalls {
			if seenResults[tc.ID] {
				continue
			}
			final = append(final, wstore.Message{
				Role:       wstore.RoleTool,
				Content:    "[Result cleared during context compaction]",
				ToolCallID: tc.ID,
			})
			seenResults[tc.ID] = true
		}
	}

	return final
}
