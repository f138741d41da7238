// Package monitor runs the price-driven jobs: alert matching, the market summary
// broadcast, and live portfolio valuation.
//
// Alerts fire when the current price is within epsilon of the target. Ticks may skip
// the exact target, so equality is never required. An alert is deleted before its
// notification is sent, so a crash between the two loses a notification rather than
// sending it twice.
package monitor

import (
	"context"
	"fmt"
	"time"

	"github.com/rewired-gh/marketpulse/internal/logger"
	"github.com/rewired-gh/marketpulse/internal/models"
	"github.com/rewired-gh/marketpulse/internal/render"
	"github.com/shopspring/decimal"
)

// DefaultEpsilon is the alert matching tolerance.
const DefaultEpsilon = 0.01

// AlertStore is the part of the store alert matching needs.
type AlertStore interface {
	ActiveAlerts() ([]models.Alert, error)
	DeleteAlert(id string) (bool, error)
}

// Quotes is the part of the Quote Service the monitor needs.
type Quotes interface {
	CurrentPrice(ctx context.Context, instrument string) models.Price
	QuoteFor(ctx context.Context, price models.Price) models.Quote
}

// Sender delivers a message to one recipient.
type Sender interface {
	Text(ctx context.Context, recipientID int64, text string) error
}

// Asset is one entry of the summary basket.
type Asset struct {
	Name   string `mapstructure:"name"`
	Symbol string `mapstructure:"symbol"`
}

// DefaultAssets is the summary basket used when none is configured.
var DefaultAssets = []Asset{
	{Name: "BIST 100", Symbol: "XU100.IS"},
	{Name: "BIST 30", Symbol: "XU030.IS"},
	{Name: "USD/TRY", Symbol: "USDTRY=X"},
	{Name: "EUR/TRY", Symbol: "EURTRY=X"},
	{Name: "Gold", Symbol: "GC=F"},
	{Name: "Silver", Symbol: "SI=F"},
	{Name: "Bitcoin", Symbol: "BTC-USD"},
	{Name: "Ethereum", Symbol: "ETH-USD"},
}

// Config holds monitor options.
type Config struct {
	Epsilon float64
	Assets  []Asset
}

// Monitor handles alert checks, summaries and valuations
type Monitor struct {
	alerts AlertStore
	quotes Quotes
	sender Sender
	cfg    Config
	now    func() time.Time
}

// New creates a new Monitor instance
func New(alerts AlertStore, quotes Quotes, sender Sender, cfg Config) *Monitor {
	if cfg.Epsilon <= 0 {
		cfg.Epsilon = DefaultEpsilon
	}
	if len(cfg.Assets) == 0 {
		cfg.Assets = DefaultAssets
	}
	return &Monitor{alerts: alerts, quotes: quotes, sender: sender, cfg: cfg, now: time.Now}
}

// CheckAlerts fires every alert whose instrument currently trades within epsilon of
// its target. Each instrument is priced once per call and only Fresh prices count.
// It returns the number of alerts fired.
func (m *Monitor) CheckAlerts(ctx context.Context) (int, error) {
	alerts, err := m.alerts.ActiveAlerts()
	if err != nil {
		return 0, fmt.Errorf("failed to load alerts: %w", err)
	}
	if len(alerts) == 0 {
		return 0, nil
	}

	prices := make(map[string]models.Price)
	fired := 0
	for _, a := range alerts {
		if err := ctx.Err(); err != nil {
			return fired, err
		}

		price, ok := prices[a.Instrument]
		if !ok {
			price = m.quotes.CurrentPrice(ctx, a.Instrument)
			prices[a.Instrument] = price
		}
		if price.Freshness != models.Fresh {
			continue
		}
		if !a.Matches(price.Value, m.cfg.Epsilon) {
			continue
		}

		deleted, err := m.alerts.DeleteAlert(a.ID)
		if err != nil {
			logger.Error("Failed to delete triggered alert %s: %v", a.ID, err)
			continue
		}
		if !deleted {
			continue
		}
		fired++
		logger.Info("Alert %s triggered: %s at %.4f (target %.4f) for %d",
			a.ID, a.Instrument, price.Value, a.TargetPrice, a.RecipientID)
		if err := m.sender.Text(ctx, a.RecipientID, render.AlertTriggered(a, price.Value)); err != nil {
			logger.Warn("Failed to deliver alert %s to %d: %v", a.ID, a.RecipientID, err)
		}
	}

	return fired, nil
}

// Summary quotes every asset of the basket.
func (m *Monitor) Summary(ctx context.Context) models.Summary {
	s := models.Summary{GeneratedAt: m.now(), Lines: make([]models.SummaryLine, 0, len(m.cfg.Assets))}
	for _, asset := range m.cfg.Assets {
		price := m.quotes.CurrentPrice(ctx, asset.Symbol)
		s.Lines = append(s.Lines, models.SummaryLine{
			Name:  asset.Name,
			Quote: m.quotes.QuoteFor(ctx, price),
		})
	}
	return s
}

// Value marks positions to market. Positions without a usable price are listed
// but excluded from the totals.
func (m *Monitor) Value(ctx context.Context, positions []models.Position) models.Valuation {
	v := models.Valuation{Lines: make([]models.ValuationLine, 0, len(positions))}
	for _, p := range positions {
		line := models.ValuationLine{Position: p}
		q := m.quotes.QuoteFor(ctx, m.quotes.CurrentPrice(ctx, p.Instrument))
		line.Quote = q
		if q.Usable() {
			line.Priced = true
			line.Value = p.Value(decimal.NewFromFloat(q.Value))
			line.Cost = p.Cost()
			line.PnL = line.Value.Sub(line.Cost)
			line.PnLPct = percentOf(line.PnL, line.Cost)

			v.TotalValue = v.TotalValue.Add(line.Value)
			v.TotalCost = v.TotalCost.Add(line.Cost)
		}
		v.Lines = append(v.Lines, line)
	}
	v.TotalPnL = v.TotalValue.Sub(v.TotalCost)
	v.PnLPct = percentOf(v.TotalPnL, v.TotalCost)
	return v
}

func percentOf(part, whole decimal.Decimal) float64 {
	if whole.IsZero() {
		return 0
	}
	pct, _ := part.Div(whole).Mul(decimal.NewFromInt(100)).Float64()
	return pct
}
