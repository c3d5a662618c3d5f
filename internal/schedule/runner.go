package schedule

import (
	"context"
	"sync"
	"time"

	"github.com/agentloom/agentloom/internal/logger"
	"github.com/agentloom/agentloom/internal/queue"
)

// Pusher is the narrow queue interface a Runner needs: enough to inject
// a schedule's prompt as an inbound message without depending on the
// full queue.Queue type in tests.
type Pusher interface {
	Push(content, source string, metadata map[string]any) string
}

// Runner polls the schedule store once a minute and pushes the prompt
// of every due schedule onto the workspace queue under the schedule's
// Source (system:schedule when unset), then advances its NextRunAt.
type Runner struct {
	store *Store
	q     Pusher
	ctx   context.Context
	cancel context.CancelFunc
	wg    sync.WaitGroup

	running   map[string]bool
	runningMu sync.Mutex
}

var _ Pusher = (*queue.Queue)(nil)

// NewRunner builds a Runner bound to store and q. Call Start to begin
// polling.
func NewRunner(store *Store, q Pusher) *Runner {
	ctx, cancel := context.WithCancel(context.Background())
	return &Runner{
		store:   store,
		q:       q,
		ctx:     ctx,
		cancel:  cancel,
		running: make(map[string]bool),
	}
}

// Store returns the schedule store backing this runner, for callers
// (the HTTP API) that need direct CRUD access.
func (r *Runner) Store() *Store {
	return r.store
}

// Start begins the polling loop in a background goroutine.
func (r *Runner) Start() {
	r.wg.Add(1)
	go r.loop()
	logger.Info("schedule runner started")
}

// Stop cancels the loop and waits for any in-flight push to finish.
func (r *Runner) Stop() {
	r.cancel()
	r.wg.Wait()
	logger.Info("schedule runner stopped")
}

func (r *Runner) loop() {
	defer r.wg.Done()

	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	r.checkDue()
	for {
		select {
		case <-r.ctx.Done():
			return
		case <-ticker.C:
			r.checkDue()
		}
	}
}

func (r *Runner) checkDue() {
	due, err := r.store.ListDue(time.Now())
	if err != nil {
		logger.Error("failed to list due schedules", "error", err)
		return
	}
	for _, sched := range due {
		r.fire(sched)
	}
}

// fire respects OverlapSkip by tracking one in-flight push per schedule
// id; OverlapParallel always proceeds.
func (r *Runner) fire(sched Schedule) {
	if sched.OverlapBehavior == OverlapSkip {
		r.runningMu.Lock()
		if r.running[sched.ID] {
			r.runningMu.Unlock()
			logger.Info("skipping schedule, previous run still in flight", "schedule", sched.ID, "name", sched.Name)
			return
		}
		r.running[sched.ID] = true
		r.runningMu.Unlock()
	}

	source := sched.Source
	if source == "" {
		source = "system:schedule"
	}
	now := time.Now()
	r.q.Push(sched.Prompt, source, map[string]any{
		"scheduleId":   sched.ID,
		"scheduleName": sched.Name,
	})
	if err := r.store.MarkRun(sched.ID, now); err != nil {
		logger.Error("failed to record schedule run", "schedule", sched.ID, "error", err)
	}
	logger.Info("fired schedule", "schedule", sched.ID, "name", sched.Name)

	if sched.OverlapBehavior == OverlapSkip {
		r.runningMu.Lock()
		delete(r.running, sched.ID)
		r.runningMu.Unlock()
	}
}
