// Package scheduler runs cron-scheduled jobs synchronously on the caller's goroutine.
//
// Nothing runs in the background: the loop calls RunDue, which executes every job
// whose next fire time has passed, one after another. A job's next fire time is
// computed from the time it ran, so a job missed during a long stall runs once.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/rewired-gh/marketpulse/internal/logger"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc/panics"
)

// Job represents a scheduled job
type Job interface {
	Run(ctx context.Context) error
	Name() string
}

// JobFunc adapts a function to Job.
type JobFunc struct {
	JobName string
	Fn      func(ctx context.Context) error
}

// Name returns JobName.
func (j JobFunc) Name() string { return j.JobName }

// Run calls Fn.
func (j JobFunc) Run(ctx context.Context) error { return j.Fn(ctx) }

type entry struct {
	spec     string
	schedule cron.Schedule
	job      Job
	next     time.Time
}

// Scheduler manages jobs run from the main loop
type Scheduler struct {
	entries []*entry
	loc     *time.Location
	log     zerolog.Logger
}

// New creates a new scheduler evaluating expressions in loc (nil means local time).
func New(loc *time.Location) *Scheduler {
	if loc == nil {
		loc = time.Local
	}
	return &Scheduler{
		loc: loc,
		log: logger.Component("scheduler"),
	}
}

// Validate reports whether spec is a schedule expression AddJob accepts.
func Validate(spec string) error {
	_, err := cron.ParseStandard(spec)
	return err
}

// AddJob registers a job with a cron schedule, first firing after now.
// Schedule examples:
//   - "0 10 * * *"  - 10:00 every day
//   - "@hourly"     - every hour
//   - "@every 1m"   - every minute
func (s *Scheduler) AddJob(spec string, job Job, now time.Time) error {
	schedule, err := cron.ParseStandard(spec)
	if err != nil {
		return fmt.Errorf("invalid schedule %q for %s: %w", spec, job.Name(), err)
	}
	e := &entry{spec: spec, schedule: schedule, job: job}
	e.next = schedule.Next(now.In(s.loc))
	s.entries = append(s.entries, e)

	s.log.Info().
		Str("schedule", spec).
		Str("job", job.Name()).
		Time("next", e.next).
		Msg("Job registered")
	return nil
}

// RunDue runs every job due at now in registration order and returns how many ran.
// Job errors are logged and never stop the remaining jobs.
func (s *Scheduler) RunDue(ctx context.Context, now time.Time) int {
	ran := 0
	for _, e := range s.entries {
		if ctx.Err() != nil {
			return ran
		}
		if now.Before(e.next) {
			continue
		}
		s.run(ctx, e)
		e.next = e.schedule.Next(now.In(s.loc))
		ran++
	}
	return ran
}

func (s *Scheduler) run(ctx context.Context, e *entry) {
	start := time.Now()
	s.log.Debug().Str("job", e.job.Name()).Msg("Running job")

	err := runSafely(ctx, e.job)
	if err != nil {
		s.log.Error().
			Err(err).
			Str("job", e.job.Name()).
			Dur("elapsed", time.Since(start)).
			Msg("Job failed")
		return
	}
	s.log.Debug().
		Str("job", e.job.Name()).
		Dur("elapsed", time.Since(start)).
		Msg("Job completed")
}

func runSafely(ctx context.Context, job Job) error {
	var err error
	if r := panics.Try(func() { err = job.Run(ctx) }); r != nil {
		return fmt.Errorf("job panicked: %w", r.AsError())
	}
	return err
}

// RunNow executes a job immediately (outside schedule)
func (s *Scheduler) RunNow(ctx context.Context, job Job) error {
	s.log.Info().Str("job", job.Name()).Msg("Running job immediately")
	return runSafely(ctx, job)
}

// Next returns the next fire time of the named job.
func (s *Scheduler) Next(name string) (time.Time, bool) {
	for _, e := range s.entries {
		if e.job.Name() == name {
			return e.next, true
		}
	}
	return time.Time{}, false
}

// NextDue returns the earliest next fire time across all jobs.
func (s *Scheduler) NextDue() (time.Time, bool) {
	var earliest time.Time
	for _, e := range s.entries {
		if earliest.IsZero() || e.next.Before(earliest) {
			earliest = e.next
		}
	}
	return earliest, !earliest.IsZero()
}
