package insight

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/markcheno/go-talib"
	"github.com/rewired-gh/marketpulse/internal/models"
	"github.com/rewired-gh/marketpulse/internal/render"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// ErrInsufficientHistory is returned when there are too few closes to summarize.
var ErrInsufficientHistory = errors.New("insufficient history")

// HistorySource returns normalized closes.
type HistorySource interface {
	History(ctx context.Context, instrument, window, granularity string) ([]models.Bar, error)
}

// Digest summarizes a close series.
type Digest struct {
	Instrument string
	Window     string
	Closes     int
	First      float64
	Last       float64
	ReturnPct  float64
	Mean       float64
	StdDev     float64
	Min        float64
	Max        float64
	SMA        float64 // zero when the series is shorter than the SMA period
	RSI        float64 // zero when the series is shorter than the RSI period
}

// DigestStep renders a text digest of recent history.
type DigestStep struct {
	history   HistorySource
	window    string
	smaPeriod int
	rsiPeriod int
}

// NewDigestStep creates the history digest step over window (e.g. "3mo") of daily closes.
func NewDigestStep(history HistorySource, window string) *DigestStep {
	if window == "" {
		window = "3mo"
	}
	return &DigestStep{history: history, window: window, smaPeriod: 20, rsiPeriod: 14}
}

// Name identifies the step in logs.
func (s *DigestStep) Name() string { return "history_digest" }

// Run fetches daily closes and renders them as a text digest.
func (s *DigestStep) Run(ctx context.Context, instrument string) (*models.Artifact, error) {
	bars, err := s.history.History(ctx, instrument, s.window, "1d")
	if err != nil {
		return nil, fmt.Errorf("failed to load history: %w", err)
	}
	d, err := s.Compute(instrument, bars)
	if err != nil {
		return nil, err
	}
	return &models.Artifact{Kind: models.ArtifactText, Name: s.Name(), Text: RenderDigest(d)}, nil
}

// Compute derives the digest from bars that are already ordered by date.
func (s *DigestStep) Compute(instrument string, bars []models.Bar) (Digest, error) {
	if len(bars) < 2 {
		return Digest{}, ErrInsufficientHistory
	}
	closes := make([]float64, len(bars))
	for i, b := range bars {
		closes[i] = b.Close
	}

	d := Digest{
		Instrument: instrument,
		Window:     s.window,
		Closes:     len(closes),
		First:      closes[0],
		Last:       closes[len(closes)-1],
		Min:        floats.Min(closes),
		Max:        floats.Max(closes),
	}
	d.Mean, d.StdDev = stat.MeanStdDev(closes, nil)
	if d.First != 0 {
		d.ReturnPct = (d.Last - d.First) / d.First * 100
	}

	if len(closes) >= s.smaPeriod {
		d.SMA = lastValid(talib.Sma(closes, s.smaPeriod))
	}
	if len(closes) >= s.rsiPeriod+1 {
		d.RSI = lastValid(talib.Rsi(closes, s.rsiPeriod))
	}
	return d, nil
}

func lastValid(series []float64) float64 {
	if len(series) == 0 {
		return 0
	}
	v := series[len(series)-1]
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}

// RenderDigest formats a digest as MarkdownV2.
func RenderDigest(d Digest) string {
	var b strings.Builder
	b.WriteString("*" + render.Escape(fmt.Sprintf("%s, last %s", d.Instrument, d.Window)) + "*\n")
	lines := []string{
		fmt.Sprintf("Return: %s over %d closes", render.Pct(d.ReturnPct), d.Closes),
		fmt.Sprintf("Range: %s - %s", render.Money(d.Min), render.Money(d.Max)),
		fmt.Sprintf("Mean: %s, stdev %s", render.Money(d.Mean), render.Money(d.StdDev)),
	}
	if d.SMA > 0 {
		lines = append(lines, fmt.Sprintf("SMA20: %s", render.Money(d.SMA)))
	}
	if d.RSI > 0 {
		lines = append(lines, fmt.Sprintf("RSI14: %.1f", d.RSI))
	}
	b.WriteString(render.Escape(strings.Join(lines, "\n")))
	return b.String()
}
