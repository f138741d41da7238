package dataset

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rewired-gh/marketpulse/internal/logger"
)

// Acquirer produces one export artifact inside dir and returns its path.
type Acquirer interface {
	Acquire(ctx context.Context, dir string) (string, error)
}

// Clock abstracts time so retry backoff can be faked in tests.
type Clock interface {
	Now() time.Time
	Sleep(ctx context.Context, d time.Duration) error
}

type realClock struct{}

// Now returns time.Now.
func (realClock) Now() time.Time { return time.Now() }

// Sleep waits for d or until ctx is done.
func (realClock) Sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// RealClock is the wall clock.
var RealClock Clock = realClock{}

// RetryPolicy bounds acquisition attempts.
type RetryPolicy struct {
	MaxAttempts int
	Backoff     time.Duration
}

// DefaultRetryPolicy is 5 attempts 30s apart.
var DefaultRetryPolicy = RetryPolicy{MaxAttempts: 5, Backoff: 30 * time.Second}

// Phase is the refresher state.
type Phase string

const (
	PhaseIdle       Phase = "idle"
	PhaseAcquiring  Phase = "acquiring"
	PhaseValidating Phase = "validating"
)

// Status is a snapshot of the refresher for reporting.
type Status struct {
	Phase       Phase     `json:"phase"`
	Attempt     int       `json:"attempt"`
	LastError   string    `json:"last_error,omitempty"`
	LastAttempt time.Time `json:"last_attempt,omitempty"`
	LastSuccess time.Time `json:"last_success,omitempty"`
}

// RefresherConfig holds refresher options.
type RefresherConfig struct {
	Path       string // where the active export lives
	StagingDir string // where the acquirer downloads; defaults to <dir of Path>/staging
	Policy     RetryPolicy
	Validator  Validator
}

// Refresher acquires, validates and installs the reference dataset.
type Refresher struct {
	acquirer Acquirer
	state    *State
	clock    Clock
	cfg      RefresherConfig

	mu     sync.Mutex
	status Status
}

// NewRefresher creates a Refresher. clock may be nil for the wall clock.
func NewRefresher(acquirer Acquirer, state *State, clock Clock, cfg RefresherConfig) *Refresher {
	if clock == nil {
		clock = RealClock
	}
	if cfg.Policy.MaxAttempts <= 0 {
		cfg.Policy.MaxAttempts = DefaultRetryPolicy.MaxAttempts
	}
	if cfg.Policy.Backoff < 0 {
		cfg.Policy.Backoff = 0
	}
	if cfg.StagingDir == "" {
		cfg.StagingDir = filepath.Join(filepath.Dir(cfg.Path), "staging")
	}
	return &Refresher{
		acquirer: acquirer,
		state:    state,
		clock:    clock,
		cfg:      cfg,
		status:   Status{Phase: PhaseIdle},
	}
}

// Status returns the current refresher status.
func (r *Refresher) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

func (r *Refresher) setPhase(phase Phase, attempt int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.status.Phase = phase
	r.status.Attempt = attempt
	if phase == PhaseAcquiring {
		r.status.LastAttempt = r.clock.Now()
	}
}

func (r *Refresher) finish(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.status.Phase = PhaseIdle
	if err != nil {
		r.status.LastError = err.Error()
		return
	}
	r.status.LastError = ""
	r.status.LastSuccess = r.clock.Now()
}

// Refresh runs up to Policy.MaxAttempts acquisitions separated by Policy.Backoff.
// The first artifact that passes validation is installed and the State is replaced
// exactly once. When every attempt fails the current dataset is left in place and
// ErrAcquisitionFailed is returned.
func (r *Refresher) Refresh(ctx context.Context) error {
	if err := os.MkdirAll(r.cfg.StagingDir, 0o755); err != nil {
		return fmt.Errorf("failed to create staging directory: %w", err)
	}

	var lastErr error
	for attempt := 1; attempt <= r.cfg.Policy.MaxAttempts; attempt++ {
		if attempt > 1 {
			if err := r.clock.Sleep(ctx, r.cfg.Policy.Backoff); err != nil {
				r.finish(err)
				return err
			}
		}

		d, err := r.attempt(ctx, attempt)
		if err == nil {
			r.state.Replace(d)
			r.finish(nil)
			logger.Info("Dataset refreshed on attempt %d/%d: %d codes", attempt, r.cfg.Policy.MaxAttempts, d.Rows)
			return nil
		}
		lastErr = err
		logger.Warn("Dataset refresh attempt %d/%d failed: %v", attempt, r.cfg.Policy.MaxAttempts, err)
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = fmt.Errorf("%w: interrupted on attempt %d: %w", ErrAcquisitionFailed, attempt, ctxErr)
			r.finish(err)
			return err
		}
	}

	err := fmt.Errorf("%w after %d attempts: %w", ErrAcquisitionFailed, r.cfg.Policy.MaxAttempts, lastErr)
	r.finish(err)
	return err
}

// attempt performs one acquire-validate-install cycle. The staged artifact is
// always removed before returning.
func (r *Refresher) attempt(ctx context.Context, n int) (*Dataset, error) {
	r.setPhase(PhaseAcquiring, n)
	artifact, err := r.acquirer.Acquire(ctx, r.cfg.StagingDir)
	if artifact != "" {
		defer os.Remove(artifact)
	}
	if err != nil {
		return nil, err
	}

	r.setPhase(PhaseValidating, n)
	d, err := r.cfg.Validator.Validate(artifact)
	if err != nil {
		return nil, err
	}

	if err := installFile(artifact, r.cfg.Path); err != nil {
		return nil, fmt.Errorf("failed to install dataset: %w", err)
	}
	d.Path = r.cfg.Path
	d.AcquiredAt = r.clock.Now()
	return d, nil
}

// installFile copies src next to dst and renames it into place.
func installFile(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	tmp, err := os.CreateTemp(filepath.Dir(dst), filepath.Base(dst)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := io.Copy(tmp, in); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, dst); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}

// Load installs the dataset already on disk, if it is valid.
func (r *Refresher) Load() error {
	d, err := r.cfg.Validator.Validate(r.cfg.Path)
	if err != nil {
		return err
	}
	r.state.Replace(d)
	logger.Info("Loaded dataset from %s: %d codes", r.cfg.Path, d.Rows)
	return nil
}

// HealthCheck re-validates the dataset on disk and refreshes it when the file is
// missing or below threshold. It reports whether a refresh was triggered.
func (r *Refresher) HealthCheck(ctx context.Context) (bool, error) {
	_, err := r.cfg.Validator.Validate(r.cfg.Path)
	if err == nil {
		return false, nil
	}
	if !errors.Is(err, ErrInvalidDataset) {
		return false, err
	}
	logger.Warn("Dataset health check failed, refreshing: %v", err)
	return true, r.Refresh(ctx)
}
