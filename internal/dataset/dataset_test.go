package dataset

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func writeExport(t *testing.T, path string, codes ...string) {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()
	require.NoError(t, f.SetCellValue("Sheet1", "A1", "Fon Kodu"))
	require.NoError(t, f.SetCellValue("Sheet1", "B1", "Fon Adı"))
	for i, c := range codes {
		require.NoError(t, f.SetCellValue("Sheet1", fmt.Sprintf("A%d", i+2), c))
		require.NoError(t, f.SetCellValue("Sheet1", fmt.Sprintf("B%d", i+2), "Fund "+c))
	}
	require.NoError(t, f.SaveAs(path))
}

func codes(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("F%02d", i)
	}
	return out
}

type fakeClock struct {
	now    time.Time
	sleeps []time.Duration
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	c.sleeps = append(c.sleeps, d)
	c.now = c.now.Add(d)
	return ctx.Err()
}

// scriptedAcquirer writes an export per attempt; attempts listed in bad produce a
// file that is too small to pass validation, attempts in fail return an error.
type scriptedAcquirer struct {
	calls int
	bad   map[int]bool
	fail  map[int]bool
	t     *testing.T
}

func (a *scriptedAcquirer) Acquire(_ context.Context, dir string) (string, error) {
	a.calls++
	if a.fail[a.calls] {
		return "", errors.New("export button never appeared")
	}
	path := filepath.Join(dir, fmt.Sprintf("export-%d.xlsx", a.calls))
	if a.bad[a.calls] {
		writeExport(a.t, path, "ONLY", "TWO")
	} else {
		writeExport(a.t, path, codes(10)...)
	}
	return path, nil
}

func newTestRefresher(t *testing.T, acq Acquirer, state *State, clock Clock) (*Refresher, string) {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "funds.xlsx")
	r := NewRefresher(acq, state, clock, RefresherConfig{
		Path:      path,
		Policy:    RetryPolicy{MaxAttempts: 5, Backoff: 30 * time.Second},
		Validator: Validator{MinRows: 5, MinBytes: 100},
	})
	return r, path
}

func TestValidator(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "x.xlsx")
	writeExport(t, path, " abc ", "ABC", "DEF", "", "GHI")

	d, err := Validator{MinRows: 3}.Validate(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"ABC", "DEF", "GHI"}, d.Codes)
	assert.Equal(t, 3, d.Rows)
	assert.True(t, d.Contains("def"))
	assert.False(t, d.Contains("Fon Kodu"), "header row is skipped")

	_, err = Validator{MinRows: 4}.Validate(path)
	assert.ErrorIs(t, err, ErrInvalidDataset)

	_, err = Validator{MinBytes: 50 << 20}.Validate(path)
	assert.ErrorIs(t, err, ErrInvalidDataset)

	_, err = Validator{}.Validate(filepath.Join(dir, "missing.xlsx"))
	assert.ErrorIs(t, err, ErrInvalidDataset)

	garbage := filepath.Join(dir, "garbage.xlsx")
	require.NoError(t, os.WriteFile(garbage, []byte("not a workbook at all, just some bytes"), 0o644))
	_, err = Validator{}.Validate(garbage)
	assert.ErrorIs(t, err, ErrInvalidDataset)
}

func TestRefreshSucceedsOnThirdAttempt(t *testing.T) {
	acq := &scriptedAcquirer{t: t, bad: map[int]bool{1: true, 2: true}}
	state := NewState()
	clock := &fakeClock{now: time.Date(2026, 10, 15, 6, 0, 0, 0, time.UTC)}
	r, path := newTestRefresher(t, acq, state, clock)

	require.NoError(t, r.Refresh(context.Background()))
	assert.Equal(t, 3, acq.calls)
	assert.Equal(t, []time.Duration{30 * time.Second, 30 * time.Second}, clock.sleeps)
	assert.Equal(t, 1, state.Version(), "dataset replaced exactly once")

	d := state.Current()
	require.NotNil(t, d)
	assert.Equal(t, 10, d.Rows)
	assert.Equal(t, path, d.Path)
	assert.True(t, state.Contains("F03"))
	assert.FileExists(t, path)

	st := r.Status()
	assert.Equal(t, PhaseIdle, st.Phase)
	assert.Equal(t, 3, st.Attempt)
	assert.Empty(t, st.LastError)
	assert.False(t, st.LastSuccess.IsZero())

	staged, err := os.ReadDir(filepath.Join(filepath.Dir(path), "staging"))
	require.NoError(t, err)
	assert.Empty(t, staged, "staged artifacts are cleaned up")
}

func TestRefreshExhaustedKeepsPreviousDataset(t *testing.T) {
	state := NewState()
	clock := &fakeClock{}
	good := &scriptedAcquirer{t: t}
	r, path := newTestRefresher(t, good, state, clock)
	require.NoError(t, r.Refresh(context.Background()))
	previous := state.Current()

	bad := &scriptedAcquirer{t: t, fail: map[int]bool{1: true, 2: true}, bad: map[int]bool{3: true, 4: true, 5: true}}
	r.acquirer = bad
	clock.sleeps = nil

	err := r.Refresh(context.Background())
	assert.ErrorIs(t, err, ErrAcquisitionFailed)
	assert.ErrorIs(t, err, ErrInvalidDataset, "the last cause is wrapped")
	assert.Equal(t, 5, bad.calls)
	assert.Len(t, clock.sleeps, 4)
	assert.Same(t, previous, state.Current())
	assert.Equal(t, 1, state.Version())
	assert.FileExists(t, path)
	assert.NotEmpty(t, r.Status().LastError)
}

func TestRefreshStopsOnCancel(t *testing.T) {
	acq := &scriptedAcquirer{t: t, fail: map[int]bool{1: true, 2: true, 3: true}}
	state := NewState()
	r, _ := newTestRefresher(t, acq, state, &fakeClock{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := r.Refresh(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, acq.calls)
	assert.Nil(t, state.Current())
}

func TestLoadAndHealthCheck(t *testing.T) {
	acq := &scriptedAcquirer{t: t}
	state := NewState()
	r, path := newTestRefresher(t, acq, state, &fakeClock{})

	assert.Error(t, r.Load(), "nothing on disk yet")

	writeExport(t, path, codes(6)...)
	require.NoError(t, r.Load())
	assert.Equal(t, 6, state.Current().Rows)

	triggered, err := r.HealthCheck(context.Background())
	require.NoError(t, err)
	assert.False(t, triggered)
	assert.Zero(t, acq.calls)

	require.NoError(t, os.Remove(path))
	triggered, err = r.HealthCheck(context.Background())
	require.NoError(t, err)
	assert.True(t, triggered)
	assert.Equal(t, 1, acq.calls)
	assert.Equal(t, 10, state.Current().Rows)
	assert.Equal(t, 2, state.Version())
}

func TestWaitForArtifact(t *testing.T) {
	dir := t.TempDir()
	since := time.Now().Add(-time.Minute)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "export.xlsx.crdownload"), []byte("partial"), 0o644))

	_, err := waitForArtifact(context.Background(), dir, since, 30*time.Millisecond, 5*time.Millisecond)
	assert.Error(t, err, "partial downloads are ignored")

	done := filepath.Join(dir, "export.xlsx")
	go func() {
		time.Sleep(20 * time.Millisecond)
		_ = os.WriteFile(done, []byte("complete"), 0o644)
	}()
	got, err := waitForArtifact(context.Background(), dir, since, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, done, got)
}

func TestStateContainsWithoutDataset(t *testing.T) {
	s := NewState()
	assert.False(t, s.Contains("ABC"))
	assert.Zero(t, s.Version())
}
