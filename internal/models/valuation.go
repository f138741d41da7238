package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// SummaryLine is one asset of the market summary.
type SummaryLine struct {
	Name  string `json:"name"`
	Quote Quote  `json:"quote"`
}

// Summary is the scheduled market overview.
type Summary struct {
	GeneratedAt time.Time     `json:"generated_at"`
	Lines       []SummaryLine `json:"lines"`
}

// ValuationLine values one position at the current price.
type ValuationLine struct {
	Position Position        `json:"position"`
	Quote    Quote           `json:"quote"`
	Priced   bool            `json:"priced"`
	Value    decimal.Decimal `json:"value"`
	Cost     decimal.Decimal `json:"cost"`
	PnL      decimal.Decimal `json:"pnl"`
	PnLPct   float64         `json:"pnl_pct"`
}

// Valuation is the live mark-to-market of a recipient's positions.
// Totals only include priced lines.
type Valuation struct {
	Lines      []ValuationLine `json:"lines"`
	TotalValue decimal.Decimal `json:"total_value"`
	TotalCost  decimal.Decimal `json:"total_cost"`
	TotalPnL   decimal.Decimal `json:"total_pnl"`
	PnLPct     float64         `json:"pnl_pct"`
}
