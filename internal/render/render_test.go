package render

import (
	"testing"
	"time"

	"github.com/rewired-gh/marketpulse/internal/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestEscape(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"plain", "plain"},
		{"a.b", `a\.b`},
		{"-5.00%", `\-5\.00%`},
		{"(x)!", `\(x\)\!`},
		{"remove_alert", `remove\_alert`},
		{`back\slash`, `back\\slash`},
		{"₺ 1,234", "₺ 1,234"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.expected, Escape(tt.input), tt.input)
	}
}

func TestMoney(t *testing.T) {
	assert.Equal(t, "1,234.50", Money(1234.5))
	assert.Equal(t, "0.10", Money(0.1))
	assert.Equal(t, "110.00", MoneyDec(decimal.NewFromInt(110)))
	assert.Equal(t, "-1,234.50", Money(-1234.5))
	assert.Equal(t, "0.00", Money(0))
}

func TestMoneySubUnit(t *testing.T) {
	tests := []struct {
		in   float64
		want string
	}{
		{0.5, "0.50"},
		{0.0345, "0.0345"},
		{0.000123, "0.000123"},
		{-0.0042, "-0.0042"},
		{0.0000001, "0.00"},
	}
	for _, tt := range tests {
		if got := Money(tt.in); got != tt.want {
			t.Errorf("Money(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
	assert.Equal(t, "0.0025", MoneyDec(decimal.RequireFromString("0.0025")))
}

func TestFormatDuration(t *testing.T) {
	assert.Equal(t, "5m", formatDuration(5*time.Minute))
	assert.Equal(t, "2h", formatDuration(150*time.Minute))
}

func TestQuoteLine(t *testing.T) {
	now := time.Date(2026, 10, 15, 10, 0, 0, 0, time.UTC)

	q := models.Quote{Price: models.Price{Instrument: "ABCD.IS", Value: 105, Freshness: models.Fresh, AsOf: now}, ChangePct: 5, HasChange: true}
	assert.Equal(t, "105.00 (🟢 +5.00%)", quoteLine(q, now))

	q.HasChange = false
	assert.Equal(t, "105.00 (⚪️ no data)", quoteLine(q, now), "missing history is not reported as zero change")

	q.Freshness = models.Stale
	q.AsOf = now.Add(-10 * time.Minute)
	assert.Contains(t, quoteLine(q, now), "stale, 10m old")

	q.Freshness = models.Unavailable
	assert.Equal(t, "Data unavailable", quoteLine(q, now))
}

func TestSummaryEscapesEveryLine(t *testing.T) {
	s := models.Summary{
		GeneratedAt: time.Date(2026, 10, 15, 18, 0, 0, 0, time.UTC),
		Lines: []models.SummaryLine{
			{Name: "BIST 100", Quote: models.Quote{Price: models.Price{Value: 9876.5, Freshness: models.Fresh}, ChangePct: -1.25, HasChange: true}},
			{Name: "USD/TRY", Quote: models.Quote{}},
		},
	}
	out := Summary(s)
	assert.Contains(t, out, `15\.10\.2026 18:00`)
	assert.Contains(t, out, `BIST 100: 9,876\.50 \(🔴 \-1\.25%\)`)
	assert.Contains(t, out, "USD/TRY: Data unavailable")
}

func TestValuation(t *testing.T) {
	assert.Contains(t, Valuation(models.Valuation{}), "empty")

	pos := models.Position{Instrument: "ABCD.IS", Quantity: decimal.NewFromInt(20), AverageCost: decimal.NewFromInt(110)}
	v := models.Valuation{
		Lines: []models.ValuationLine{
			{
				Position: pos,
				Quote:    models.Quote{Price: models.Price{Value: 121, Freshness: models.Fresh}},
				Priced:   true,
				Value:    decimal.NewFromInt(2420),
				Cost:     decimal.NewFromInt(2200),
				PnL:      decimal.NewFromInt(220),
				PnLPct:   10,
			},
			{Position: models.Position{Instrument: "GONE.IS", Quantity: decimal.NewFromInt(1), AverageCost: decimal.NewFromInt(5)}},
		},
		TotalValue: decimal.NewFromInt(2420),
		TotalCost:  decimal.NewFromInt(2200),
		TotalPnL:   decimal.NewFromInt(220),
		PnLPct:     10,
	}
	out := Valuation(v)
	assert.Contains(t, out, "*ABCD\\.IS*")
	assert.Contains(t, out, `2,420\.00`)
	assert.Contains(t, out, `\+10\.00%`)
	assert.Contains(t, out, `GONE\.IS: 1 @ 5\.00, data unavailable`)
}

func TestPositionUpdated(t *testing.T) {
	pos := models.Position{Instrument: "ABCD.IS", Quantity: decimal.NewFromInt(20), AverageCost: decimal.NewFromInt(110)}
	out := PositionUpdated(pos, false, 120)
	assert.Contains(t, out, "Quantity: 20")
	assert.Contains(t, out, `Average cost: 110\.00`)

	assert.Contains(t, out, `Price used: 120\.00`)

	assert.Contains(t, PositionUpdated(pos, true, 120), "closed")
	assert.NotContains(t, PositionUpdated(pos, false, 0), "Price used")
}
