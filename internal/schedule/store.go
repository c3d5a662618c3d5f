package schedule

import (
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/agentloom/agentloom/internal/audit"
)

// Store persists schedules as a single JSON array at schedule.json. All
// mutation happens under a mutex and every write is atomic (write to a
// .tmp file, rename over the target) so a crash mid-write never leaves
// a truncated file behind.
type Store struct {
	mu   sync.Mutex
	path string
}

// OpenStore returns a Store bound to <workspaceDir>/schedule.json. The
// file is created lazily on first write; a missing file reads back as
// an empty schedule list.
func OpenStore(workspaceDir string) *Store {
	return &Store{path: filepath.Join(workspaceDir, "schedule.json")}
}

func (s *Store) load() ([]Schedule, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read schedule.json: %w", err)
	}
	var schedules []Schedule
	if err := json.Unmarshal(data, &schedules); err != nil {
		return nil, fmt.Errorf("parse schedule.json: %w", err)
	}
	return schedules, nil
}

func (s *Store) save(schedules []Schedule) error {
	if schedules == nil {
		schedules = []Schedule{}
	}
	data, err := json.MarshalIndent(schedules, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal schedule.json: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", tmp, err)
	}
	_ = exec.Command("xattr", "-c", tmp).Run()
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("rename %s: %w", tmp, err)
	}
	return nil
}

// List returns every schedule, in file order.
func (s *Store) List() ([]Schedule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load()
}

// Get returns a single schedule by id.
func (s *Store) Get(id string) (*Schedule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	schedules, err := s.load()
	if err != nil {
		return nil, err
	}
	for i := range schedules {
		if schedules[i].ID == id {
			return &schedules[i], nil
		}
	}
	return nil, ErrScheduleNotFound
}

// Create validates, assigns an id, computes the first NextRunAt, and
// appends the schedule.
func (s *Store) Create(name, cronExpr, prompt, source string, overlap OverlapBehavior) (Schedule, error) {
	if name == "" {
		return Schedule{}, ErrEmptyName
	}
	if prompt == "" {
		return Schedule{}, ErrEmptyPrompt
	}
	if source == "" {
		source = "system:schedule"
	}
	if err := ValidateCron(cronExpr); err != nil {
		return Schedule{}, err
	}
	if !IsValidOverlapBehavior(overlap) {
		overlap = OverlapSkip
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	schedules, err := s.load()
	if err != nil {
		return Schedule{}, err
	}

	now := time.Now()
	next, err := NextRun(cronExpr, now)
	if err != nil {
		return Schedule{}, err
	}

	sched := Schedule{
		ID:              "sched_" + uuid.New().String()[:8],
		Name:            name,
		CronExpr:        cronExpr,
		Prompt:          prompt,
		Source:          source,
		Enabled:         true,
		OverlapBehavior: overlap,
		CreatedAt:       now,
		UpdatedAt:       now,
		NextRunAt:       &next,
	}
	schedules = append(schedules, sched)
	if err := s.save(schedules); err != nil {
		audit.Log(audit.Event{Operation: audit.OpScheduleCreate, Success: false, Error: err.Error()})
		return Schedule{}, err
	}
	audit.Log(audit.Event{Operation: audit.OpScheduleCreate, Success: true, Details: map[string]any{"id": sched.ID, "name": sched.Name}})
	return sched, nil
}

// Delete removes a schedule by id.
func (s *Store) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	schedules, err := s.load()
	if err != nil {
		return err
	}
	kept := schedules[:0]
	found := false
	for _, sc := range schedules {
		if sc.ID == id {
			found = true
			continue
		}
		kept = append(kept, sc)
	}
	if !found {
		return ErrScheduleNotFound
	}
	if err := s.save(kept); err != nil {
		audit.Log(audit.Event{Operation: audit.OpScheduleDelete, Success: false, Error: err.Error()})
		return err
	}
	audit.Log(audit.Event{Operation: audit.OpScheduleDelete, Success: true, Details: map[string]any{"id": id}})
	return nil
}

// ListDue returns enabled schedules whose NextRunAt is at or before now.
func (s *Store) ListDue(now time.Time) ([]Schedule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	schedules, err := s.load()
	if err != nil {
		return nil, err
	}
	var due []Schedule
	for _, sc := range schedules {
		if sc.Enabled && sc.NextRunAt != nil && !sc.NextRunAt.After(now) {
			due = append(due, sc)
		}
	}
	return due, nil
}

// MarkRun records that a schedule fired at ranAt and advances its
// NextRunAt to the following occurrence.
func (s *Store) MarkRun(id string, ranAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	schedules, err := s.load()
	if err != nil {
		return err
	}
	for i := range schedules {
		if schedules[i].ID != id {
			continue
		}
		schedules[i].LastRunAt = &ranAt
		if next, err := NextRun(schedules[i].CronExpr, ranAt); err == nil {
			schedules[i].NextRunAt = &next
		}
		schedules[i].UpdatedAt = ranAt
		return s.save(schedules)
	}
	return ErrScheduleNotFound
}
