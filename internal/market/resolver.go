package market

import (
	"context"
	"strings"

	"github.com/rewired-gh/marketpulse/internal/logger"
	"github.com/rewired-gh/marketpulse/internal/models"
)

// PriceLookup is the part of the Quote Service the resolver needs.
type PriceLookup interface {
	CurrentPrice(ctx context.Context, instrument string) models.Price
}

// Resolution is the outcome of resolving a user-typed ticker.
// Price is the lookup that decided the route and can be reused by the caller.
type Resolution struct {
	Input      string
	Instrument string
	Price      models.Price
	Found      bool
}

// Resolver maps user-supplied tickers to canonical provider symbols.
type Resolver struct {
	prices     PriceLookup
	homeSuffix string
	separator  string
}

// NewResolver creates a resolver that tries homeSuffix (e.g. ".IS") on bare tickers.
func NewResolver(prices PriceLookup, homeSuffix, separator string) *Resolver {
	if separator == "" {
		separator = "."
	}
	return &Resolver{prices: prices, homeSuffix: strings.ToUpper(homeSuffix), separator: separator}
}

// Normalize trims and upper-cases a raw ticker.
func Normalize(raw string) string {
	return strings.ToUpper(strings.TrimSpace(raw))
}

// Resolve tries "<TICKER><home suffix>" for tickers without a market separator and falls
// back to the literal ticker. A speculative miss is a routing decision, not an error.
func (r *Resolver) Resolve(ctx context.Context, raw string) Resolution {
	symbol := Normalize(raw)
	res := Resolution{Input: raw, Instrument: symbol, Price: models.Price{Instrument: symbol}}
	if symbol == "" {
		return res
	}

	if r.homeSuffix != "" && !strings.Contains(symbol, r.separator) {
		candidate := symbol + r.homeSuffix
		if p := r.prices.CurrentPrice(ctx, candidate); p.Usable() {
			return Resolution{Input: raw, Instrument: candidate, Price: p, Found: true}
		}
		logger.Debug("No home-market listing for %s, trying literal symbol", symbol)
	}

	p := r.prices.CurrentPrice(ctx, symbol)
	res.Price = p
	res.Found = p.Usable()
	return res
}
