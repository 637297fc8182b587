package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Quote is a provider price promise with an expiry. Quotes are immutable:
// a refresh produces a new quote that points back at the one it supersedes.
type Quote struct {
	ID                uuid.UUID       `json:"id" db:"id"`
	RateID            string          `json:"rate_id" db:"rate_id"`
	ProviderQuoteID   string          `json:"provider_quote_id" db:"provider_quote_id"`
	TotalAmount       decimal.Decimal `json:"total_amount" db:"total_amount"`
	Currency          string          `json:"currency" db:"currency"`
	ExpiresAt         time.Time       `json:"expires_at" db:"expires_at"`
	SupersedesQuoteID *uuid.UUID      `json:"supersedes_quote_id,omitempty" db:"supersedes_quote_id"`
	CreatedAt         time.Time       `json:"created_at" db:"created_at"`
}

// IsValidAt reports whether the quote can still be honored at now
func (q *Quote) IsValidAt(now time.Time) bool {
	return now.Before(q.ExpiresAt)
}

// QuoteCheck is the outcome of revalidating a quote before it is used
type QuoteCheck struct {
	Quote        *Quote          `json:"quote"`
	Previous     *Quote          `json:"previous,omitempty"`
	Refreshed    bool            `json:"refreshed"`
	PriceChanged bool            `json:"price_changed"`
	Delta        decimal.Decimal `json:"delta"`
}
