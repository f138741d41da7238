package models

import "time"

// Freshness classifies how trustworthy a price is.
type Freshness int

const (
	// Unavailable means no price could be obtained.
	Unavailable Freshness = iota
	// Fresh means the provider answered on this request.
	Fresh
	// Stale means the provider failed and the price comes from the cache.
	Stale
)

// String returns the lower-case freshness name.
func (f Freshness) String() string {
	switch f {
	case Fresh:
		return "fresh"
	case Stale:
		return "stale"
	default:
		return "unavailable"
	}
}

// Price is the result of a current-price lookup.
type Price struct {
	Instrument string    `json:"instrument"`
	Value      float64   `json:"value"`
	Freshness  Freshness `json:"freshness"`
	AsOf       time.Time `json:"as_of"`
}

// Usable reports whether the price can be shown to a user.
func (p Price) Usable() bool {
	return p.Freshness != Unavailable && p.Value > 0
}

// Bar is one daily (or intraday) close.
type Bar struct {
	Date  time.Time `json:"date"`
	Close float64   `json:"close"`
}

// Quote combines a current price with the change over the last two closes.
type Quote struct {
	Price
	PreviousClose float64 `json:"previous_close"`
	ChangePct     float64 `json:"change_pct"`
	HasChange     bool    `json:"has_change"` // false when fewer than two closes exist
}

// Rating is an analyst consensus snapshot.
type Rating struct {
	Instrument     string  `json:"instrument"`
	Recommendation string  `json:"recommendation"`
	TargetMean     float64 `json:"target_mean"`
	CurrentPrice   float64 `json:"current_price"`
	UpsidePct      float64 `json:"upside_pct"`
	NumAnalysts    int     `json:"num_analysts"`
}
