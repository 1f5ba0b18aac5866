// Package schedule runs recurring maintenance jobs at a fixed local
// time of day.
package schedule

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// misfireGrace is how late a missed firing may still run. Wakeups later
// than this (suspend, clock jumps) coalesce into the next day.
const misfireGrace = time.Hour

// Job is a named unit of scheduled work.
type Job struct {
	Name string
	Run  func(ctx context.Context) error
}

// Daily fires a job once per day at hour:minute local time. At most one
// instance runs at a time; a firing that arrives while the previous run
// is still going is skipped.
type Daily struct {
	hour   int
	minute int
	job    Job
	now    func() time.Time

	mu      sync.Mutex
	running bool
}

// NewDaily builds a scheduler for the given local wall-clock time.
func NewDaily(hour, minute int, job Job) *Daily {
	return &Daily{hour: hour, minute: minute, job: job, now: time.Now}
}

// nextAfter returns the next firing strictly after t.
func (d *Daily) nextAfter(t time.Time) time.Time {
	next := time.Date(t.Year(), t.Month(), t.Day(), d.hour, d.minute, 0, 0, t.Location())
	if !next.After(t) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

// Start blocks until ctx is cancelled, firing the job on schedule.
func (d *Daily) Start(ctx context.Context) {
	for {
		now := d.now()
		next := d.nextAfter(now)
		timer := time.NewTimer(next.Sub(now))

		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		woke := d.now()
		if late := woke.Sub(next); late > misfireGrace {
			slog.Warn("schedule: firing missed beyond grace, coalescing",
				"job", d.job.Name, "late", late.String())
			continue
		}
		d.fire(ctx)
	}
}

// fire runs the job unless one is already in flight.
func (d *Daily) fire(ctx context.Context) {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		slog.Warn("schedule: previous run still in flight, skipping", "job", d.job.Name)
		return
	}
	d.running = true
	d.mu.Unlock()

	defer func() {
		d.mu.Lock()
		d.running = false
		d.mu.Unlock()
	}()

	start := d.now()
	if err := d.job.Run(ctx); err != nil {
		slog.Error("schedule: job failed", "job", d.job.Name, "error", err)
		return
	}
	slog.Info("schedule: job finished", "job", d.job.Name,
		"duration_ms", d.now().Sub(start).Milliseconds())
}
