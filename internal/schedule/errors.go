package schedule

import "errors"

var (
	// ErrInvalidCron is wrapped by ParseCron when an expression fails to parse.
	ErrInvalidCron = errors.New("invalid cron expression")
	// ErrScheduleNotFound is returned when a schedule id has no match.
	ErrScheduleNotFound = errors.New("schedule not found")
	// ErrEmptyName is returned when a schedule is created without a name.
	ErrEmptyName = errors.New("schedule name is required")
	// ErrEmptyPrompt is returned when a schedule is created without a prompt.
	ErrEmptyPrompt = errors.New("schedule prompt is required")
)
