// Package provider defines the contract with the external travel supplier
// that prices and books flights and hotel stays.
package provider

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Provider is the supplier API surface used by the booking core
type Provider interface {
	Search(ctx context.Context, criteria SearchCriteria) ([]SearchResult, error)
	FetchRates(ctx context.Context, searchResultID string) (*Accommodation, error)
	CreateQuote(ctx context.Context, rateID string) (*QuoteResult, error)
	CreateBooking(ctx context.Context, idempotencyKey string, req BookingRequest) (*BookingResult, error)
	CancelBooking(ctx context.Context, providerBookingID string) (*CancellationResult, error)
}

// SearchCriteria filters accommodation search
type SearchCriteria struct {
	Location string    `json:"location"`
	CheckIn  time.Time `json:"check_in"`
	CheckOut time.Time `json:"check_out"`
	Guests   int       `json:"guests"`
}

// SearchResult is one accommodation offering with its cheapest rate
type SearchResult struct {
	ID         string          `json:"id"`
	Name       string          `json:"name"`
	Location   string          `json:"location"`
	FromAmount decimal.Decimal `json:"from_amount"`
	Currency   string          `json:"currency"`
}

// Accommodation is a property with its bookable rates
type Accommodation struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Location string `json:"location"`
	Rates    []Rate `json:"rates"`
}

// Rate is a priced room offer
type Rate struct {
	ID          string          `json:"id"`
	Description string          `json:"description"`
	TotalAmount decimal.Decimal `json:"total_amount"`
	Currency    string          `json:"currency"`
}

// QuoteResult is the supplier's binding price for a rate until ExpiresAt
type QuoteResult struct {
	ID          string          `json:"id"`
	RateID      string          `json:"rate_id"`
	TotalAmount decimal.Decimal `json:"total_amount"`
	Currency    string          `json:"currency"`
	ExpiresAt   time.Time       `json:"expires_at"`
}

// Guest is a traveler as the supplier sees them
type Guest struct {
	GivenName  string `json:"given_name"`
	FamilyName string `json:"family_name"`
	Email      string `json:"email,omitempty"`
	BornOn     string `json:"born_on,omitempty"`
}

// BookingRequest books a quoted hotel rate (QuoteID) or a flight offer (OfferReference)
type BookingRequest struct {
	QuoteID        string  `json:"quote_id,omitempty"`
	OfferReference string  `json:"offer_reference,omitempty"`
	Reference      string  `json:"reference"`
	Guests         []Guest `json:"guests"`
	Email          string  `json:"email"`
	Phone          string  `json:"phone,omitempty"`
}

// BookingResult is the reservation held at the supplier
type BookingResult struct {
	ID                 string          `json:"id"`
	ConfirmationNumber string          `json:"confirmation_number"`
	Status             string          `json:"status"`
	TotalAmount        decimal.Decimal `json:"total_amount"`
	Currency           string          `json:"currency"`
	CreatedAt          time.Time       `json:"created_at"`
}

// CancellationResult is the supplier's answer to a cancellation
type CancellationResult struct {
	BookingID    string          `json:"booking_id"`
	Status       string          `json:"status"`
	RefundAmount decimal.Decimal `json:"refund_amount"`
	Currency     string          `json:"currency"`
	CancelledAt  time.Time       `json:"cancelled_at"`
}

// Supplier booking statuses
const (
	BookingStatusConfirmed = "confirmed"
	BookingStatusCancelled = "cancelled"
)
