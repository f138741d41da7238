// Package runner is the single cooperative loop: each iteration runs due jobs, then
// one poll-and-dispatch pass, then sleeps. Nothing runs concurrently with anything
// else, so a slow job delays polling and vice versa.
package runner

import (
	"context"
	"errors"
	"time"

	"github.com/rewired-gh/marketpulse/internal/logger"
)

// Jobs runs scheduled work that is due.
type Jobs interface {
	RunDue(ctx context.Context, now time.Time) int
}

// Poller performs one poll-and-dispatch pass.
type Poller interface {
	Poll(ctx context.Context) (int, error)
}

// Config holds loop options.
type Config struct {
	Interval time.Duration // sleep between iterations
	// MaxBackoff caps the extra delay added after consecutive poll failures.
	MaxBackoff time.Duration
}

// Runner drives the loop.
type Runner struct {
	jobs   Jobs
	poller Poller
	cfg    Config

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error

	pollFailures int
}

// New creates a Runner. A zero Interval means one second and a zero MaxBackoff one minute.
func New(jobs Jobs, poller Poller, cfg Config) *Runner {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Second
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = time.Minute
	}
	return &Runner{jobs: jobs, poller: poller, cfg: cfg, now: time.Now, sleep: sleepContext}
}

// Tick runs one iteration without sleeping.
func (r *Runner) Tick(ctx context.Context) {
	if n := r.jobs.RunDue(ctx, r.now()); n > 0 {
		logger.Debug("Ran %d scheduled job(s)", n)
	}
	if ctx.Err() != nil {
		return
	}

	n, err := r.poller.Poll(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		r.pollFailures++
		logger.Warn("Poll failed (%d in a row): %v", r.pollFailures, err)
		return
	}
	if r.pollFailures > 0 {
		logger.Info("Polling recovered after %d failure(s)", r.pollFailures)
		r.pollFailures = 0
	}
	if n > 0 {
		logger.Debug("Handled %d update(s)", n)
	}
}

// delay is the sleep after an iteration; it grows linearly with consecutive poll
// failures up to MaxBackoff.
func (r *Runner) delay() time.Duration {
	d := r.cfg.Interval * time.Duration(r.pollFailures+1)
	if extra := d - r.cfg.Interval; extra > r.cfg.MaxBackoff {
		d = r.cfg.Interval + r.cfg.MaxBackoff
	}
	return d
}

// Run loops until ctx is cancelled.
func (r *Runner) Run(ctx context.Context) error {
	logger.Info("Loop started (interval %v)", r.cfg.Interval)
	for {
		r.Tick(ctx)
		if err := r.sleep(ctx, r.delay()); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				logger.Info("Loop stopped")
				return nil
			}
			return err
		}
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
