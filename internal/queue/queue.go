// Package queue implements the in-memory inbound message FIFO the
// executor loop blocks on between rounds.
package queue

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/agentloom/agentloom/internal/metrics"
)

// Message is one inbound item waiting to be folded into context as a
// user message.
type Message struct {
	ID        string         `json:"id"`
	Content   string         `json:"content"`
	Source    string         `json:"source"`
	Timestamp time.Time      `json:"timestamp"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// Queue is a thread-safe FIFO with single-waiter wake semantics: the
// executor loop is the sole caller of Wait, but Push is called
// concurrently from HTTP handlers and from tool execution (the bash
// tool's async-job-exit notification).
type Queue struct {
	mu       sync.Mutex
	pending  []Message
	notifyCh chan struct{}
}

// New creates an empty queue.
func New() *Queue {
	return &Queue{notifyCh: make(chan struct{})}
}

// Push appends a message and wakes any current waiter. Returns the
// message's assigned id.
func (q *Queue) Push(content, source string, metadata map[string]any) string {
	q.mu.Lock()
	defer q.mu.Unlock()

	id := uuid.NewString()
	q.pending = append(q.pending, Message{
		ID:        id,
		Content:   content,
		Source:    source,
		Timestamp: time.Now(),
		Metadata:  metadata,
	})

	select {
	case <-q.notifyCh:
		// already closed, no waiter to wake twice
	default:
		close(q.notifyCh)
	}
	metrics.QueueDepth.Set(float64(len(q.pending)))
	return id
}

// Drain atomically removes and returns all pending messages, resetting
// the wake channel for the next wait cycle.
func (q *Queue) Drain() []Message {
	q.mu.Lock()
	defer q.mu.Unlock()

	drained := q.pending
	q.pending = nil
	q.notifyCh = make(chan struct{})
	metrics.QueueDepth.Set(0)
	return drained
}

// Len reports the number of messages currently pending, for /status.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Wait blocks until at least one message is pending, returning
// immediately if the queue is already non-empty. It respects ctx
// cancellation so the executor loop can be shut down cleanly.
func (q *Queue) Wait(ctx context.Context) error {
	for {
		q.mu.Lock()
		nonEmpty := len(q.pending) > 0
		ch := q.notifyCh
		q.mu.Unlock()

		if nonEmpty {
			return nil
		}

		select {
		case <-ch:
			continue
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
