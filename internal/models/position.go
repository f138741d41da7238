package models

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// Position is a recipient's holding of one instrument. At most one position exists
// per (recipient, instrument).
type Position struct {
	RecipientID int64           `json:"recipient_id"`
	Instrument  string          `json:"instrument"`
	Quantity    decimal.Decimal `json:"quantity"`
	AverageCost decimal.Decimal `json:"average_cost"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// Validate checks that all position fields are valid
func (p *Position) Validate() error {
	if p.RecipientID == 0 {
		return errors.New("recipient ID must not be zero")
	}
	if p.Instrument == "" {
		return errors.New("instrument must not be empty")
	}
	if !p.Quantity.IsPositive() {
		return errors.New("quantity must be positive")
	}
	if p.AverageCost.IsNegative() {
		return errors.New("average cost must not be negative")
	}
	return nil
}

// Apply returns the position after adding qty units at price.
//
// A positive qty merges by weighted average cost:
//
//	avg' = (qty0*avg0 + qty*price) / (qty0 + qty)
//
// A negative qty reduces the holding and leaves the average cost untouched.
// closed reports that the resulting quantity is <= 0 and the position must be removed.
func (p Position) Apply(qty, price decimal.Decimal) (next Position, closed bool) {
	next = p
	newQty := p.Quantity.Add(qty)
	if !newQty.IsPositive() {
		next.Quantity = decimal.Zero
		return next, true
	}

	if qty.IsPositive() {
		totalCost := p.Quantity.Mul(p.AverageCost).Add(qty.Mul(price))
		next.AverageCost = totalCost.Div(newQty)
	}
	next.Quantity = newQty
	return next, false
}

// Value is quantity times price.
func (p Position) Value(price decimal.Decimal) decimal.Decimal {
	return p.Quantity.Mul(price)
}

// Cost is quantity times average cost.
func (p Position) Cost() decimal.Decimal {
	return p.Quantity.Mul(p.AverageCost)
}
