package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ============================================================================
// BOOKING TYPES & STATUSES (matches DB ENUMs)
// ============================================================================

// BookingType is the kind of travel product being booked
type BookingType string

const (
	BookingTypeFlight BookingType = "flight"
	BookingTypeHotel  BookingType = "hotel"
)

// BookingStatus represents the approval lifecycle
// Matches PostgreSQL ENUM: booking_status
type BookingStatus string

const (
	BookingStatusDraft                BookingStatus = "draft"
	BookingStatusPendingApproval      BookingStatus = "pending_approval"
	BookingStatusApproved             BookingStatus = "approved"
	BookingStatusAwaitingConfirmation BookingStatus = "awaiting_confirmation"
	BookingStatusConfirmed            BookingStatus = "confirmed"
	BookingStatusRejected             BookingStatus = "rejected"
	BookingStatusCancelled            BookingStatus = "cancelled"
)

// AllBookingStatuses lists every status in lifecycle order
var AllBookingStatuses = []BookingStatus{
	BookingStatusDraft,
	BookingStatusPendingApproval,
	BookingStatusApproved,
	BookingStatusAwaitingConfirmation,
	BookingStatusConfirmed,
	BookingStatusRejected,
	BookingStatusCancelled,
}

// IsTerminal reports whether no further transitions are possible
func (s BookingStatus) IsTerminal() bool {
	return s == BookingStatusConfirmed || s == BookingStatusRejected || s == BookingStatusCancelled
}

// ============================================================================
// JSONB PAYLOAD TYPES
// ============================================================================

// Guest is one traveler on the booking
type Guest struct {
	GivenName  string `json:"given_name" validate:"required,max=100"`
	FamilyName string `json:"family_name" validate:"required,max=100"`
	Email      string `json:"email,omitempty" validate:"omitempty,email"`
	BornOn     string `json:"born_on,omitempty" validate:"omitempty,datetime=2006-01-02"`
}

// GuestList is stored as JSONB
type GuestList []Guest

// Contact is who the provider reaches about the reservation
type Contact struct {
	Email string `json:"email" validate:"required,email"`
	Phone string `json:"phone,omitempty" validate:"omitempty,e164"`
}

func (g GuestList) Value() (driver.Value, error) {
	return json.Marshal(g)
}

func (g *GuestList) Scan(value interface{}) error {
	if value == nil {
		*g = nil
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		return errors.New("type assertion to []byte failed for GuestList")
	}
	return json.Unmarshal(bytes, g)
}

func (c Contact) Value() (driver.Value, error) {
	return json.Marshal(c)
}

func (c *Contact) Scan(value interface{}) error {
	if value == nil {
		*c = Contact{}
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		return errors.New("type assertion to []byte failed for Contact")
	}
	return json.Unmarshal(bytes, c)
}

// ============================================================================
// BOOKING
// ============================================================================

// Booking is a flight or hotel reservation request moving through approval
type Booking struct {
	ID               uuid.UUID     `json:"id" db:"id"`
	OrganizationID   uuid.UUID     `json:"organization_id" db:"organization_id"`
	TravelerID       uuid.UUID     `json:"traveler_id" db:"traveler_id"`
	AccountID        uuid.UUID     `json:"account_id" db:"account_id"`
	Type             BookingType   `json:"type" db:"booking_type"`
	Status           BookingStatus `json:"status" db:"status"`
	ClientReference  *string       `json:"client_reference,omitempty" db:"client_reference"`
	IdempotencyKey   string        `json:"-" db:"idempotency_key"`
	RequiresApproval bool          `json:"requires_approval" db:"requires_approval"`

	// Pricing
	TotalPrice decimal.Decimal `json:"total_price" db:"total_price"`
	Currency   string          `json:"currency" db:"currency"`

	// Product references
	QuoteID        *uuid.UUID `json:"quote_id,omitempty" db:"quote_id"`
	PendingQuoteID *uuid.UUID `json:"pending_quote_id,omitempty" db:"pending_quote_id"`
	OfferReference *string    `json:"offer_reference,omitempty" db:"offer_reference"`
	HoldID         *uuid.UUID `json:"hold_id,omitempty" db:"hold_id"`

	Guests  GuestList `json:"guests" db:"guests"`
	Contact Contact   `json:"contact" db:"contact"`

	// Provider outcome
	ProviderBookingID  *string `json:"provider_booking_id,omitempty" db:"provider_booking_id"`
	ConfirmationNumber *string `json:"confirmation_number,omitempty" db:"confirmation_number"`

	// Decision notes
	ApprovalNotes     *string `json:"approval_notes,omitempty" db:"approval_notes"`
	RejectionReason   *string `json:"rejection_reason,omitempty" db:"rejection_reason"`
	ConfirmationNotes *string `json:"confirmation_notes,omitempty" db:"confirmation_notes"`

	Version     int64      `json:"version" db:"version"`
	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at" db:"updated_at"`
	SubmittedAt *time.Time `json:"submitted_at,omitempty" db:"submitted_at"`
	ApprovedAt  *time.Time `json:"approved_at,omitempty" db:"approved_at"`
	ForwardedAt *time.Time `json:"forwarded_at,omitempty" db:"forwarded_at"`
	ConfirmedAt *time.Time `json:"confirmed_at,omitempty" db:"confirmed_at"`
	RejectedAt  *time.Time `json:"rejected_at,omitempty" db:"rejected_at"`
	CancelledAt *time.Time `json:"cancelled_at,omitempty" db:"cancelled_at"`

	// Supplier exposure. ConfirmAttemptedAt is set before the first
	// CreateBooking call; ProviderReleasedAt once a booking that left the
	// workflow is known to hold no live supplier reservation.
	ConfirmAttemptedAt *time.Time `json:"confirm_attempted_at,omitempty" db:"confirm_attempted_at"`
	ProviderReleasedAt *time.Time `json:"provider_released_at,omitempty" db:"provider_released_at"`
}

// SupplierExposed reports whether the supplier may hold a reservation for b
func (b *Booking) SupplierExposed() bool {
	return b.ProviderBookingID != nil || b.ConfirmAttemptedAt != nil
}

// BookingFilter narrows ListBookings
type BookingFilter struct {
	OrganizationID *uuid.UUID
	TravelerID     *uuid.UUID
	Status         *BookingStatus
	Limit          int
	Offset         int
}

// ============================================================================
// REQUEST / RESPONSE DTOs
// ============================================================================

// SubmitBookingRequest is what a traveler sends to start a booking.
// Hotel bookings are priced from a fresh quote on RateID; flight bookings
// carry an offer reference and the offer total.
type SubmitBookingRequest struct {
	Type             BookingType      `json:"type" validate:"required,oneof=flight hotel"`
	RateID           string           `json:"rate_id,omitempty" validate:"required_if=Type hotel,max=255"`
	OfferReference   string           `json:"offer_reference,omitempty" validate:"required_if=Type flight,max=255"`
	TotalPrice       *decimal.Decimal `json:"total_price,omitempty"`
	Currency         string           `json:"currency,omitempty" validate:"omitempty,len=3,uppercase"`
	RequiresApproval *bool            `json:"requires_approval,omitempty"`
	Guests           GuestList        `json:"guests" validate:"required,min=1,max=9,dive"`
	Contact          Contact          `json:"contact"`
	ClientReference  *string          `json:"client_reference,omitempty" validate:"omitempty,min=1,max=128"`
}

// Validate checks struct tags and the type specific pricing rules
func (r *SubmitBookingRequest) Validate() error {
	if err := validateStruct(r); err != nil {
		return err
	}
	if r.Type == BookingTypeFlight {
		if r.TotalPrice == nil || !r.TotalPrice.IsPositive() {
			return ValidationError("total_price must be positive for flight bookings")
		}
	}
	return nil
}

// DecisionRequest carries the optional notes or reason for a manager/operator action
type DecisionRequest struct {
	Notes               *string    `json:"notes,omitempty" validate:"omitempty,max=1000"`
	Reason              *string    `json:"reason,omitempty" validate:"omitempty,max=1000"`
	AcknowledgedQuoteID *uuid.UUID `json:"acknowledged_quote_id,omitempty"`
}

// Validate runs struct tag validation
func (r *DecisionRequest) Validate() error {
	return validateStruct(r)
}

// CancelResult is the outcome of a cancellation. A provider cancellation
// failure leaves the local cancellation in place and is reported here.
type CancelResult struct {
	Booking               *Booking `json:"booking"`
	ProviderCancelled     bool     `json:"provider_cancelled"`
	ReconciliationWarning *string  `json:"reconciliation_warning,omitempty"`
}
