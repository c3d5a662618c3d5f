package schedule

import "time"

// OverlapBehavior defines what to do if a previous run is still active.
type OverlapBehavior string

const (
	OverlapSkip     OverlapBehavior = "skip"     // don't start if previous still running
	OverlapParallel OverlapBehavior = "parallel" // allow concurrent execution
)

// Schedule injects Prompt into the workspace queue every time CronExpr
// fires, as a message from Source (system:schedule when unset).
type Schedule struct {
	ID              string          `json:"id"`
	Name            string          `json:"name"`
	CronExpr        string          `json:"cronExpr"`
	Prompt          string          `json:"prompt"`
	Source          string          `json:"source,omitempty"`
	Enabled         bool            `json:"enabled"`
	OverlapBehavior OverlapBehavior `json:"overlapBehavior"`
	CreatedAt       time.Time       `json:"createdAt"`
	UpdatedAt       time.Time       `json:"updatedAt"`
	LastRunAt       *time.Time      `json:"lastRunAt,omitempty"`
	NextRunAt       *time.Time      `json:"nextRunAt,omitempty"`
}

// IsValidOverlapBehavior reports whether b is a recognized value.
func IsValidOverlapBehavior(b OverlapBehavior) bool {
	return b == OverlapSkip || b == OverlapParallel
}
