package schedule

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// standard 5-field cron: minute hour day month weekday
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// ParseCron parses a 5-field cron expression.
func ParseCron(expr string) (cron.Schedule, error) {
	sched, err := cronParser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidCron, err)
	}
	return sched, nil
}

// NextRun returns the first fire time strictly after after.
func NextRun(expr string, after time.Time) (time.Time, error) {
	sched, err := ParseCron(expr)
	if err != nil {
		return time.Time{}, err
	}
	return sched.Next(after), nil
}

// ValidateCron reports whether expr parses as a valid cron expression.
func ValidateCron(expr string) error {
	_, err := ParseCron(expr)
	return err
}
