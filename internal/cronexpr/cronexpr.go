// Package cronexpr parses 5-field cron expressions and computes the next
// occurrence strictly after a given instant, evaluated in UTC. It wraps
// robfig/cron/v3 the same way the teacher's scheduler dispatcher and
// schedule usecase do, but exposes the "next occurrence strictly after T"
// primitive the scheduling algebra needs directly, instead of re-deriving it
// with a skip-missed-runs loop at each call site.
package cronexpr

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

var parser = cron.NewParser(
	cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow,
)

// Validate reports whether expr is a well-formed 5-field cron expression.
func Validate(expr string) error {
	_, err := parser.Parse(expr)
	if err != nil {
		return fmt.Errorf("invalid cron expression %q: %w", expr, err)
	}
	return nil
}

// Next returns the first occurrence of expr strictly after after, evaluated
// in UTC. Callers pass lastRunAt (or now, on first scheduling) as after.
func Next(expr string, after time.Time) (time.Time, error) {
	sched, err := parser.Parse(expr)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid cron expression %q: %w", expr, err)
	}
	return sched.Next(after.UTC()), nil
}
