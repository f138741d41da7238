package models

import (
	"errors"
	"math"
	"time"
)

// Alert is a one-shot price watch. It is removed once triggered.
// Several alerts for the same (recipient, instrument) with different targets are allowed.
type Alert struct {
	ID          string    `json:"id"`
	RecipientID int64     `json:"recipient_id"`
	Instrument  string    `json:"instrument"`
	TargetPrice float64   `json:"target_price"`
	CreatedAt   time.Time `json:"created_at"`
}

// Validate checks that all alert fields are valid
func (a *Alert) Validate() error {
	if a.ID == "" {
		return errors.New("alert ID must not be empty")
	}
	if a.RecipientID == 0 {
		return errors.New("recipient ID must not be zero")
	}
	if a.Instrument == "" {
		return errors.New("instrument must not be empty")
	}
	if a.TargetPrice <= 0 || math.IsNaN(a.TargetPrice) || math.IsInf(a.TargetPrice, 0) {
		return errors.New("target price must be a positive number")
	}
	return nil
}

// Matches reports whether price is within epsilon of the target.
// Exact equality is never required since ticks can skip the target.
func (a *Alert) Matches(price, epsilon float64) bool {
	return math.Abs(price-a.TargetPrice) <= epsilon
}
