package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	ran []string
}

func (r *recorder) job(name string, err error) JobFunc {
	return JobFunc{JobName: name, Fn: func(context.Context) error {
		r.ran = append(r.ran, name)
		return err
	}}
}

func at(h, m int) time.Time {
	return time.Date(2026, 10, 15, h, m, 0, 0, time.UTC)
}

func TestValidate(t *testing.T) {
	for _, spec := range []string{"0 10 * * *", "@every 1m", "@hourly", "CRON_TZ=Europe/Istanbul 0 18 * * *"} {
		assert.NoError(t, Validate(spec), spec)
	}
	assert.Error(t, Validate("every minute"))
	assert.Error(t, Validate("61 * * * *"))
}

func TestRunDueFiresAtScheduledTime(t *testing.T) {
	rec := &recorder{}
	s := New(time.UTC)
	require.NoError(t, s.AddJob("0 10 * * *", rec.job("broadcast_summary", nil), at(9, 0)))

	next, ok := s.Next("broadcast_summary")
	require.True(t, ok)
	assert.True(t, next.Equal(at(10, 0)), "got %v", next)

	assert.Zero(t, s.RunDue(context.Background(), at(9, 59)))
	assert.Equal(t, 1, s.RunDue(context.Background(), at(10, 0)))
	assert.Zero(t, s.RunDue(context.Background(), at(10, 0).Add(30*time.Second)), "a job runs once per slot")

	next, _ = s.Next("broadcast_summary")
	assert.True(t, next.Equal(at(10, 0).AddDate(0, 0, 1)), "got %v", next)
	assert.Equal(t, []string{"broadcast_summary"}, rec.ran)
}

func TestRunDueMissedSlotsRunOnce(t *testing.T) {
	rec := &recorder{}
	s := New(time.UTC)
	require.NoError(t, s.AddJob("@every 1m", rec.job("check_alerts", nil), at(10, 0)))

	assert.Equal(t, 1, s.RunDue(context.Background(), at(12, 0)))
	assert.Len(t, rec.ran, 1)

	next, _ := s.Next("check_alerts")
	assert.True(t, next.Equal(at(12, 1)), "got %v", next)
}

func TestRunDueOrderAndIsolation(t *testing.T) {
	rec := &recorder{}
	s := New(time.UTC)
	start := at(5, 0)
	require.NoError(t, s.AddJob("@hourly", rec.job("first", errors.New("boom")), start))
	require.NoError(t, s.AddJob("@hourly", JobFunc{JobName: "panics", Fn: func(context.Context) error {
		rec.ran = append(rec.ran, "panics")
		panic("unexpected")
	}}, start))
	require.NoError(t, s.AddJob("@hourly", rec.job("last", nil), start))

	assert.Equal(t, 3, s.RunDue(context.Background(), at(6, 0)))
	assert.Equal(t, []string{"first", "panics", "last"}, rec.ran)
}

func TestRunDueStopsOnCancel(t *testing.T) {
	rec := &recorder{}
	s := New(time.UTC)
	require.NoError(t, s.AddJob("@hourly", rec.job("a", nil), at(5, 0)))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Zero(t, s.RunDue(ctx, at(6, 0)))
	assert.Empty(t, rec.ran)
}

func TestAddJobRejectsBadSpec(t *testing.T) {
	s := New(nil)
	assert.Error(t, s.AddJob("not a schedule", (&recorder{}).job("x", nil), time.Now()))
	_, ok := s.NextDue()
	assert.False(t, ok)
}

func TestTimezone(t *testing.T) {
	loc := time.FixedZone("TRT", 3*60*60)
	s := New(loc)
	require.NoError(t, s.AddJob("0 10 * * *", (&recorder{}).job("x", nil), at(0, 0)))

	next, ok := s.NextDue()
	require.True(t, ok)
	assert.True(t, next.Equal(at(7, 0)), "10:00 in UTC+3 is 07:00 UTC, got %v", next)
}

func TestRunNow(t *testing.T) {
	rec := &recorder{}
	s := New(time.UTC)
	err := s.RunNow(context.Background(), rec.job("refresh_dataset", errors.New("failed")))
	assert.EqualError(t, err, "failed")
	assert.Equal(t, []string{"refresh_dataset"}, rec.ran)
}
