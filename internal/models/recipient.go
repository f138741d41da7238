// Package models defines the core domain entities for marketpulse.
// These models represent message recipients, their tracked positions and price alerts,
// quotes from the market-data provider, and inbound updates from the messaging backend.
// Entities that are persisted include built-in validation so that invalid state never
// reaches the store.
package models

import (
	"errors"
	"time"
)

// ErrRecipientUnreachable is returned by a transport when a message can never be
// delivered to the recipient (blocked bot, deleted account, unknown chat).
var ErrRecipientUnreachable = errors.New("recipient unreachable")

// Recipient is an opted-in message destination. Recipients are never deleted;
// opting out or becoming unreachable only clears Active.
type Recipient struct {
	ID        int64     `json:"id"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Validate checks that all recipient fields are valid
func (r *Recipient) Validate() error {
	if r.ID == 0 {
		return errors.New("recipient ID must not be zero")
	}
	if r.UpdatedAt.Before(r.CreatedAt) {
		return errors.New("updated at must be >= created at")
	}
	return nil
}
