// Package jobs implements the process-wide background job registry
// backing the bash and bash_kill tools: a synchronous bash call that
// outruns its threshold, or is started with async:true, is handed off
// here so bash_kill and later rounds can find it again by id.
package jobs

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"sync"
	"time"

	"github.com/agentloom/agentloom/internal/metrics"
	"github.com/agentloom/agentloom/internal/sandbox"
)

// ErrNotFound is returned by Get and Kill for an unknown or already-exited id.
var ErrNotFound = errors.New("no such job")

// Job is one running background command. Output streaming is owned by
// the caller (internal/scripthost's bash implementation); the registry
// only tracks identity and the handle needed to signal it.
type Job struct {
	ID         string
	Command    string
	OutputPath string
	StartedAt  time.Time
	Handle     sandbox.Handle
}

// Registry is the process-wide, mutex-guarded map from job id to Job.
// Both the bash and bash_kill tool implementations share one instance.
type Registry struct {
	mu   sync.Mutex
	jobs map[string]*Job
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{jobs: make(map[string]*Job)}
}

// NewID generates a fresh 8-hex job id.
func NewID() string {
	buf := make([]byte, 4)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

// Add registers a job that has already started.
func (r *Registry) Add(job *Job) {
	r.mu.Lock()
	r.jobs[job.ID] = job
	n := len(r.jobs)
	r.mu.Unlock()
	metrics.BackgroundJobsRunning.Set(float64(n))
}

// Remove unregisters a job, typically once its exit has been recorded.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	delete(r.jobs, id)
	n := len(r.jobs)
	r.mu.Unlock()
	metrics.BackgroundJobsRunning.Set(float64(n))
}

// Get looks up a job by id.
func (r *Registry) Get(id string) (*Job, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.jobs[id]
	return j, ok
}

// Kill sends a graceful termination signal to the job's handle and
// force-kills it after a 2-second grace period if it is still tracked.
func (r *Registry) Kill(id string) (*Job, error) {
	job, ok := r.Get(id)
	if !ok {
		return nil, ErrNotFound
	}

	_ = job.Handle.Signal()

	go func() {
		time.Sleep(2 * time.Second)
		if _, stillRunning := r.Get(id); stillRunning {
			_ = job.Handle.Kill()
		}
	}()

	return job, nil
}

// Len reports the number of running jobs, for /status.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.jobs)
}
