// Package schedule fires a job once a day at a fixed wall-clock time.
package schedule

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/revenue-digest/internal/fault"
)

// Daily is a once-a-day trigger at Hour:Minute in Location.
type Daily struct {
	Hour     int
	Minute   int
	Location *time.Location
}

// Parse builds a Daily from an "HH:MM" time and an IANA zone name. An empty
// zone or "Local" uses the process's local zone.
func Parse(at, tz string) (Daily, error) {
	t, err := time.Parse("15:04", at)
	if err != nil {
		return Daily{}, fault.Configuration("schedule", fmt.Sprintf("invalid schedule.at %q, want HH:MM", at))
	}

	loc := time.Local
	if tz != "" && tz != "Local" {
		loc, err = time.LoadLocation(tz)
		if err != nil {
			return Daily{}, fault.Configuration("schedule", fmt.Sprintf("invalid schedule.timezone %q", tz))
		}
	}
	return Daily{Hour: t.Hour(), Minute: t.Minute(), Location: loc}, nil
}

func (d Daily) String() string {
	return fmt.Sprintf("%02d:%02d %s", d.Hour, d.Minute, d.loc())
}

func (d Daily) loc() *time.Location {
	if d.Location == nil {
		return time.Local
	}
	return d.Location
}

// Next returns the first fire time strictly after now.
func (d Daily) Next(now time.Time) time.Time {
	now = now.In(d.loc())
	next := time.Date(now.Year(), now.Month(), now.Day(), d.Hour, d.Minute, 0, 0, d.loc())
	if !next.After(now) {
		next = time.Date(now.Year(), now.Month(), now.Day()+1, d.Hour, d.Minute, 0, 0, d.loc())
	}
	return next
}

// Run blocks, calling job at every fire time until ctx is cancelled. Jobs run
// on the calling goroutine, so a slow job delays the next fire instead of
// overlapping it.
func (d Daily) Run(ctx context.Context, job func(context.Context)) error {
	return loop(ctx, d.Next, job)
}

func loop(ctx context.Context, next func(time.Time) time.Time, job func(context.Context)) error {
	for {
		at := next(time.Now())
		zap.L().Info("schedule: next run", zap.Time("at", at))

		timer := time.NewTimer(time.Until(at))
		select {
		case <-ctx.Done():
			timer.Stop()
			zap.L().Info("schedule: stopped")
			return ctx.Err()
		case <-timer.C:
		}

		job(ctx)
	}
}
