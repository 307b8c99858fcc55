package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"ArxivMind/internal/ports"
)

// DailyScheduler fires a job once a day at a wall-clock time in a location.
type DailyScheduler struct {
	hour   int
	minute int
	loc    *time.Location

	now   func() time.Time
	after func(time.Duration) <-chan time.Time

	mu   sync.Mutex
	stop chan struct{}
	done chan struct{}
}

var _ ports.Scheduler = (*DailyScheduler)(nil)

// NewDailyScheduler builds a scheduler firing at hour:minute in loc.
func NewDailyScheduler(hour, minute int, loc *time.Location) (*DailyScheduler, error) {
	if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return nil, fmt.Errorf("invalid run time %02d:%02d", hour, minute)
	}
	if loc == nil {
		loc = time.UTC
	}
	return &DailyScheduler{
		hour:   hour,
		minute: minute,
		loc:    loc,
		now:    time.Now,
		after:  time.After,
	}, nil
}

// Next returns the first run time strictly after now.
func (d *DailyScheduler) Next(now time.Time) time.Time {
	local := now.In(d.loc)
	next := time.Date(local.Year(), local.Month(), local.Day(), d.hour, d.minute, 0, 0, d.loc)
	if !next.After(local) {
		next = time.Date(local.Year(), local.Month(), local.Day()+1, d.hour, d.minute, 0, 0, d.loc)
	}
	return next
}

// Start launches the loop; calling it twice is a no-op.
func (d *DailyScheduler) Start(ctx context.Context, job func(time.Time)) error {
	if job == nil {
		return nil
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stop != nil {
		return nil
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	d.stop, d.done = stop, done

	go func() {
		defer close(done)
		for {
			next := d.Next(d.now())
			select {
			case <-d.after(next.Sub(d.now())):
				job(next)
			case <-ctx.Done():
				return
			case <-stop:
				return
			}
		}
	}()

	return nil
}

// Stop halts the loop and waits for a running job to return, or for ctx.
func (d *DailyScheduler) Stop(ctx context.Context) error {
	d.mu.Lock()
	stop, done := d.stop, d.done
	d.stop, d.done = nil, nil
	d.mu.Unlock()

	if stop == nil {
		return nil
	}
	close(stop)

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
