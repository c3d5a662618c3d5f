// Package router implements the reply-routing fabric: given a message
// source and content, deliver it either to an HTTP endpoint named in
// routes.json or, failing a match, to the workspace outbox.
package router

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/agentloom/agentloom/internal/config"
	"github.com/agentloom/agentloom/internal/history"
	"github.com/agentloom/agentloom/internal/logger"
	"github.com/agentloom/agentloom/internal/wstore"
)

// Router resolves and delivers replies for one workspace.
type Router struct {
	workspaceDir string
	client       *http.Client
	index        *history.Store
}

// New returns a Router bound to a workspace directory. idx may be nil, in
// which case outbox writes are not indexed.
func New(workspaceDir string, idx *history.Store) *Router {
	return &Router{
		workspaceDir: workspaceDir,
		client:       &http.Client{Timeout: 10 * time.Second},
		index:        idx,
	}
}

// Result describes where a reply ended up.
type Result struct {
	Destination string // route URL, or "outbox"
	OutboxID    string
}

// Deliver extracts the prefix up to the first ':' in source, looks it up
// in routes.json, and POSTs {source, content} if a route matches;
// otherwise it writes outbox/<id>.json.
func (r *Router) Deliver(source, content string, metadata map[string]any) (Result, error) {
	routes, err := config.LoadRoutes(r.workspaceDir)
	if err != nil {
		return Result{}, fmt.Errorf("load routes: %w", err)
	}

	prefix := source
	if idx := strings.IndexByte(source, ':'); idx >= 0 {
		prefix = source[:idx]
	}

	if entry, ok := routes[prefix]; ok && entry.URL != "" {
		if err := r.post(entry, source, content); err != nil {
			return Result{}, fmt.Errorf("deliver to route %q: %w", prefix, err)
		}
		return Result{Destination: entry.URL}, nil
	}

	msg, err := wstore.WriteOutbox(r.workspaceDir, wstore.OutboxMessage{
		Source:    source,
		Content:   content,
		Metadata:  metadata,
		Timestamp: time.Now(),
	})
	if err != nil {
		return Result{}, fmt.Errorf("write outbox: %w", err)
	}
	if r.index != nil {
		if err := r.index.IndexOutbox(msg); err != nil {
			logger.Error("index outbox message", "id", msg.ID, "error", err)
		}
	}
	return Result{Destination: "outbox", OutboxID: msg.ID}, nil
}

func (r *Router) post(entry config.RouteEntry, source, content string) error {
	body, err := json.Marshal(map[string]string{"source": source, "content": content})
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequest(http.MethodPost, entry.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if entry.Token != "" {
		req.Header.Set("Authorization", "Bearer "+entry.Token)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("post: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("route responded with status %d", resp.StatusCode)
	}
	return nil
}
