package runner

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type trace struct {
	events []string
}

type fakeJobs struct{ tr *trace }

func (f fakeJobs) RunDue(context.Context, time.Time) int {
	f.tr.events = append(f.tr.events, "jobs")
	return 1
}

type fakePoller struct {
	tr   *trace
	errs []error
}

func (f *fakePoller) Poll(context.Context) (int, error) {
	f.tr.events = append(f.tr.events, "poll")
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		return 0, err
	}
	return 0, nil
}

func TestRunOrdersJobsPollSleep(t *testing.T) {
	tr := &trace{}
	r := New(fakeJobs{tr}, &fakePoller{tr: tr}, Config{Interval: time.Second})

	ctx, cancel := context.WithCancel(context.Background())
	sleeps := 0
	r.sleep = func(ctx context.Context, d time.Duration) error {
		tr.events = append(tr.events, "sleep")
		sleeps++
		if sleeps == 2 {
			cancel()
			return ctx.Err()
		}
		return nil
	}

	require.NoError(t, r.Run(ctx))
	assert.Equal(t, []string{"jobs", "poll", "sleep", "jobs", "poll", "sleep"}, tr.events)
}

func TestPollFailuresBackOff(t *testing.T) {
	tr := &trace{}
	poller := &fakePoller{tr: tr, errs: []error{errors.New("a"), errors.New("b"), errors.New("c")}}
	r := New(fakeJobs{tr}, poller, Config{Interval: time.Second, MaxBackoff: 90 * time.Second})

	ctx := context.Background()
	assert.Equal(t, time.Second, r.delay())
	r.Tick(ctx)
	assert.Equal(t, 2*time.Second, r.delay())
	r.Tick(ctx)
	r.Tick(ctx)
	assert.Equal(t, 4*time.Second, r.delay())
	r.Tick(ctx)
	assert.Equal(t, time.Second, r.delay(), "a successful poll resets the backoff")

	r.pollFailures = 1000
	assert.Equal(t, 91*time.Second, r.delay())
}

func TestTickSkipsPollWhenCancelled(t *testing.T) {
	tr := &trace{}
	r := New(fakeJobs{tr}, &fakePoller{tr: tr}, Config{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	r.Tick(ctx)
	assert.Equal(t, []string{"jobs"}, tr.events)
}
