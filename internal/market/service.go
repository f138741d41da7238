// Package market provides current prices, price history, and ticker resolution on top of
// a black-box market-data provider.
//
// Every provider failure (error or panic) is contained here: callers receive a price
// classified as fresh, stale, or unavailable and never an error they must handle to stay
// alive. History is normalized to one close per calendar date.
package market

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/rewired-gh/marketpulse/internal/logger"
	"github.com/rewired-gh/marketpulse/internal/models"
	"github.com/sourcegraph/conc/panics"
)

// Provider is the black-box market-data source.
type Provider interface {
	CurrentPrice(ctx context.Context, symbol string) (float64, error)
	History(ctx context.Context, symbol, period, interval string) ([]models.Bar, error)
}

// ServiceConfig holds Quote Service options.
type ServiceConfig struct {
	// StaleAfter bounds how old a cached price may be to still be served as Stale.
	StaleAfter time.Duration
	// ChangePeriod/ChangeInterval select the closes used for percent change.
	ChangePeriod   string
	ChangeInterval string
}

// Service is the Quote Service.
type Service struct {
	provider Provider
	cache    Cache
	cfg      ServiceConfig
	now      func() time.Time
}

// NewService creates a Quote Service. cache may be nil, which disables stale fallback.
func NewService(provider Provider, cache Cache, cfg ServiceConfig) *Service {
	if cfg.ChangePeriod == "" {
		cfg.ChangePeriod = "5d"
	}
	if cfg.ChangeInterval == "" {
		cfg.ChangeInterval = "1d"
	}
	return &Service{provider: provider, cache: cache, cfg: cfg, now: time.Now}
}

// CurrentPrice returns the instrument's price classified by freshness.
func (s *Service) CurrentPrice(ctx context.Context, instrument string) models.Price {
	result := models.Price{Instrument: instrument, Freshness: models.Unavailable}

	var (
		value float64
		err   error
	)
	recovered := panics.Try(func() {
		value, err = s.provider.CurrentPrice(ctx, instrument)
	})
	if recovered != nil {
		err = recovered.AsError()
	}

	if err == nil && value > 0 && !math.IsNaN(value) && !math.IsInf(value, 0) {
		now := s.now()
		result.Value = value
		result.Freshness = models.Fresh
		result.AsOf = now
		if s.cache != nil {
			if cerr := s.cache.Set(ctx, instrument, CachedPrice{Value: value, At: now}); cerr != nil {
				logger.Warn("Failed to cache price for %s: %v", instrument, cerr)
			}
		}
		return result
	}

	if err == nil {
		err = fmt.Errorf("provider returned invalid price %v", value)
	}
	logger.Debug("Price for %s unavailable from provider: %v", instrument, err)

	if s.cache == nil {
		return result
	}
	cached, ok, cerr := s.cache.Get(ctx, instrument)
	if cerr != nil {
		logger.Warn("Failed to read cached price for %s: %v", instrument, cerr)
		return result
	}
	if ok && cached.Value > 0 && s.now().Sub(cached.At) <= s.cfg.StaleAfter {
		result.Value = cached.Value
		result.Freshness = models.Stale
		result.AsOf = cached.At
	}
	return result
}

// History returns closes for window/granularity ordered by date with one entry per
// calendar date (the latest sample wins).
func (s *Service) History(ctx context.Context, instrument, window, granularity string) ([]models.Bar, error) {
	var (
		bars []models.Bar
		err  error
	)
	recovered := panics.Try(func() {
		bars, err = s.provider.History(ctx, instrument, window, granularity)
	})
	if recovered != nil {
		return nil, recovered.AsError()
	}
	if err != nil {
		return nil, err
	}
	return NormalizeBars(bars), nil
}

// Quote returns the current price plus the change over the last two closes.
func (s *Service) Quote(ctx context.Context, instrument string) models.Quote {
	return s.QuoteFor(ctx, s.CurrentPrice(ctx, instrument))
}

// QuoteFor completes an already fetched price with the change figures.
func (s *Service) QuoteFor(ctx context.Context, price models.Price) models.Quote {
	q := models.Quote{Price: price}
	if !price.Usable() {
		return q
	}

	closes, err := s.History(ctx, price.Instrument, s.cfg.ChangePeriod, s.cfg.ChangeInterval)
	if err != nil {
		logger.Debug("History for %s unavailable: %v", price.Instrument, err)
		return q
	}
	q.PreviousClose, q.ChangePct, q.HasChange = PercentChange(closes)
	return q
}

// PercentChange computes (latest - previous) / previous * 100 over the last two closes.
// ok is false when fewer than two closes exist.
func PercentChange(closes []models.Bar) (previous, pct float64, ok bool) {
	if len(closes) < 2 {
		return 0, 0, false
	}
	previous = closes[len(closes)-2].Close
	latest := closes[len(closes)-1].Close
	if previous == 0 {
		return previous, 0, false
	}
	return previous, (latest - previous) / previous * 100, true
}

// NormalizeBars sorts bars by time, drops unusable closes, and keeps the latest
// sample per calendar date.
func NormalizeBars(bars []models.Bar) []models.Bar {
	clean := make([]models.Bar, 0, len(bars))
	for _, b := range bars {
		if b.Close <= 0 || math.IsNaN(b.Close) || math.IsInf(b.Close, 0) || b.Date.IsZero() {
			continue
		}
		clean = append(clean, b)
	}
	sort.SliceStable(clean, func(i, j int) bool {
		return clean[i].Date.Before(clean[j].Date)
	})

	out := make([]models.Bar, 0, len(clean))
	lastKey := ""
	for _, b := range clean {
		key := b.Date.Format("2006-01-02")
		if key == lastKey {
			out[len(out)-1] = b
			continue
		}
		out = append(out, b)
		lastKey = key
	}
	return out
}
