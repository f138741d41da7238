package insight

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rewired-gh/marketpulse/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeHistory struct {
	bars []models.Bar
	err  error
}

func (f *fakeHistory) History(context.Context, string, string, string) ([]models.Bar, error) {
	return f.bars, f.err
}

type fakeRatings struct {
	rating *models.Rating
	err    error
	panic  bool
}

func (f *fakeRatings) Rating(context.Context, string) (*models.Rating, error) {
	if f.panic {
		panic("decoder blew up")
	}
	return f.rating, f.err
}

func linearBars(n int) []models.Bar {
	start := time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)
	bars := make([]models.Bar, n)
	for i := range bars {
		bars[i] = models.Bar{Date: start.AddDate(0, 0, i), Close: float64(i + 1)}
	}
	return bars
}

func TestDigestCompute(t *testing.T) {
	step := NewDigestStep(&fakeHistory{}, "3mo")

	_, err := step.Compute("ABCD.IS", linearBars(1))
	assert.ErrorIs(t, err, ErrInsufficientHistory)

	d, err := step.Compute("ABCD.IS", linearBars(30))
	require.NoError(t, err)
	assert.Equal(t, 30, d.Closes)
	assert.Equal(t, 1.0, d.Min)
	assert.Equal(t, 30.0, d.Max)
	assert.InDelta(t, 15.5, d.Mean, 1e-9)
	assert.InDelta(t, 2900.0, d.ReturnPct, 1e-9)
	assert.InDelta(t, 20.5, d.SMA, 1e-9)
	assert.InDelta(t, 100.0, d.RSI, 1e-9)

	short, err := step.Compute("ABCD.IS", linearBars(5))
	require.NoError(t, err)
	assert.Zero(t, short.SMA, "too few closes for SMA20")
	assert.Zero(t, short.RSI, "too few closes for RSI14")
}

func TestRenderDigest(t *testing.T) {
	out := RenderDigest(Digest{Instrument: "ABCD.IS", Window: "3mo", Closes: 2, First: 10, Last: 11, ReturnPct: 10, Min: 10, Max: 11, Mean: 10.5, StdDev: 0.7})
	assert.Contains(t, out, `*ABCD\.IS, last 3mo*`)
	assert.Contains(t, out, `Return: \+10\.00% over 2 closes`)
	assert.NotContains(t, out, "RSI14")
}

func TestEnricherCollectsResults(t *testing.T) {
	history := &fakeHistory{bars: linearBars(30)}
	ratings := &fakeRatings{rating: &models.Rating{Instrument: "ABCD.IS", Recommendation: "buy", TargetMean: 120, UpsidePct: 9.1, NumAnalysts: 7}}
	e := NewEnricher(NewDigestStep(history, ""), NewRatingStep(ratings))

	results := e.Enrich(context.Background(), "ABCD.IS")
	require.Len(t, results, 2)
	assert.Equal(t, "history_digest", results[0].Name)
	assert.True(t, results[0].OK())
	assert.Equal(t, "analyst_rating", results[1].Name)
	require.True(t, results[1].OK())
	assert.Contains(t, results[1].Artifact.Text, "buy")
}

func TestEnricherContainsFailures(t *testing.T) {
	history := &fakeHistory{err: errors.New("timeout")}
	ratings := &fakeRatings{panic: true}
	e := NewEnricher(NewDigestStep(history, ""), NewRatingStep(ratings))

	results := e.Enrich(context.Background(), "ABCD.IS")
	require.Len(t, results, 2)
	for _, r := range results {
		assert.False(t, r.OK())
		assert.Error(t, r.Err)
		assert.Nil(t, r.Artifact)
	}
	assert.Contains(t, results[1].Err.Error(), "panicked")
}

func TestRatingWithoutCoverage(t *testing.T) {
	step := NewRatingStep(&fakeRatings{rating: &models.Rating{Instrument: "X"}})
	_, err := step.Run(context.Background(), "X")
	assert.ErrorIs(t, err, ErrNoCoverage)
}

func TestEnrichCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	e := NewEnricher(NewDigestStep(&fakeHistory{bars: linearBars(3)}, ""))

	results := e.Enrich(ctx, "X")
	require.Len(t, results, 1)
	assert.ErrorIs(t, results[0].Err, context.Canceled)
}
