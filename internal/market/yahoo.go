package market

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rewired-gh/marketpulse/internal/logger"
	"github.com/rewired-gh/marketpulse/internal/models"
	ymodels "github.com/wnjoon/go-yfinance/pkg/models"
	"github.com/wnjoon/go-yfinance/pkg/ticker"
)

// YahooConfig tunes the Yahoo Finance provider.
type YahooConfig struct {
	MaxRetries     int
	RetryDelayBase time.Duration
}

// YahooProvider fetches prices, history, and analyst ratings from Yahoo Finance.
type YahooProvider struct {
	maxRetries     int
	retryDelayBase time.Duration
}

// NewYahooProvider creates a Yahoo Finance provider.
func NewYahooProvider(cfg YahooConfig) *YahooProvider {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 1
	}
	if cfg.RetryDelayBase <= 0 {
		cfg.RetryDelayBase = 500 * time.Millisecond
	}
	return &YahooProvider{maxRetries: cfg.MaxRetries, retryDelayBase: cfg.RetryDelayBase}
}

// CurrentPrice returns the last traded price, falling back to pre/post market and
// then to the info endpoint.
func (y *YahooProvider) CurrentPrice(ctx context.Context, symbol string) (float64, error) {
	var lastErr error
	for attempt := 0; attempt < y.maxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return 0, err
		}

		price, err := y.currentPriceOnce(symbol)
		if err == nil {
			return price, nil
		}
		lastErr = err

		if attempt < y.maxRetries-1 {
			wait := y.retryDelayBase * time.Duration(attempt+1)
			logger.Debug("Price lookup for %s failed (attempt %d): %v, retrying in %v", symbol, attempt+1, err, wait)
			select {
			case <-ctx.Done():
				return 0, ctx.Err()
			case <-time.After(wait):
			}
		}
	}
	return 0, fmt.Errorf("price for %s unavailable after %d attempts: %w", symbol, y.maxRetries, lastErr)
}

func (y *YahooProvider) currentPriceOnce(symbol string) (float64, error) {
	t, err := ticker.New(symbol)
	if err != nil {
		return 0, fmt.Errorf("failed to create ticker: %w", err)
	}
	defer t.Close()

	quote, err := t.Quote()
	if err == nil && quote != nil {
		switch {
		case quote.RegularMarketPrice > 0:
			return quote.RegularMarketPrice, nil
		case quote.PreMarketPrice > 0:
			return quote.PreMarketPrice, nil
		case quote.PostMarketPrice > 0:
			return quote.PostMarketPrice, nil
		}
	}

	info, err := t.Info()
	if err != nil {
		return 0, fmt.Errorf("failed to get info: %w", err)
	}
	if info != nil && info.CurrentPrice > 0 {
		return info.CurrentPrice, nil
	}
	return 0, fmt.Errorf("no price for %s", symbol)
}

// History returns raw bars for period/interval (e.g. "1mo"/"1d"). Ordering and
// de-duplication are left to the Service.
func (y *YahooProvider) History(ctx context.Context, symbol, period, interval string) ([]models.Bar, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	t, err := ticker.New(symbol)
	if err != nil {
		return nil, fmt.Errorf("failed to create ticker: %w", err)
	}
	defer t.Close()

	bars, err := t.History(ymodels.HistoryParams{
		Period:     period,
		Interval:   interval,
		AutoAdjust: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get history for %s: %w", symbol, err)
	}

	out := make([]models.Bar, 0, len(bars))
	for _, bar := range bars {
		out = append(out, models.Bar{Date: bar.Date, Close: bar.Close})
	}
	return out, nil
}

// Rating returns the analyst consensus for symbol.
func (y *YahooProvider) Rating(ctx context.Context, symbol string) (*models.Rating, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	t, err := ticker.New(symbol)
	if err != nil {
		return nil, fmt.Errorf("failed to create ticker: %w", err)
	}
	defer t.Close()

	target, err := t.AnalystPriceTargets()
	if err != nil {
		return nil, fmt.Errorf("failed to get price targets: %w", err)
	}

	rating := &models.Rating{
		Instrument:     symbol,
		Recommendation: target.RecommendationKey,
		TargetMean:     target.Mean,
		CurrentPrice:   target.Current,
		NumAnalysts:    target.NumberOfAnalysts,
	}
	if rating.TargetMean == 0 {
		rating.TargetMean = target.Median
	}

	if recs, err := t.Recommendations(); err == nil && recs != nil && len(recs.Trend) > 0 {
		latest := recs.Trend[0]
		switch {
		case latest.StrongBuy > 0:
			rating.Recommendation = "strongBuy"
		case latest.Buy > 0:
			rating.Recommendation = "buy"
		case latest.Hold > 0:
			rating.Recommendation = "hold"
		case latest.Sell > 0:
			rating.Recommendation = "sell"
		case latest.StrongSell > 0:
			rating.Recommendation = "strongSell"
		}
	}
	if rating.Recommendation == "" {
		rating.Recommendation = "none"
	}
	rating.Recommendation = strings.TrimSpace(rating.Recommendation)

	if rating.CurrentPrice > 0 && rating.TargetMean > 0 {
		rating.UpsidePct = (rating.TargetMean - rating.CurrentPrice) / rating.CurrentPrice * 100
	}
	if rating.NumAnalysts == 0 && rating.TargetMean == 0 {
		return nil, fmt.Errorf("no analyst coverage for %s", symbol)
	}
	return rating, nil
}
