package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx/types"
)

// BookingAuditEventType classifies a row in the booking audit trail
type BookingAuditEventType string

const (
	AuditEventTransition            BookingAuditEventType = "transition"
	AuditEventPriceChanged          BookingAuditEventType = "price_changed"
	AuditEventQuoteRefreshed        BookingAuditEventType = "quote_refreshed"
	AuditEventProviderBooked        BookingAuditEventType = "provider_booked"
	AuditEventProviderCancelled     BookingAuditEventType = "provider_cancelled"
	AuditEventReconciliationWarning BookingAuditEventType = "reconciliation_warning"
)

// BookingAuditEvent is an append-only record of who did what to a booking
type BookingAuditEvent struct {
	ID         uuid.UUID             `json:"id" db:"id"`
	BookingID  uuid.UUID             `json:"booking_id" db:"booking_id"`
	EventType  BookingAuditEventType `json:"event_type" db:"event_type"`
	FromStatus *BookingStatus        `json:"from_status,omitempty" db:"from_status"`
	ToStatus   *BookingStatus        `json:"to_status,omitempty" db:"to_status"`
	ActorID    *uuid.UUID            `json:"actor_id,omitempty" db:"actor_id"`
	ActorRole  *Role                 `json:"actor_role,omitempty" db:"actor_role"`
	Notes      *string               `json:"notes,omitempty" db:"notes"`
	IPAddress  *string               `json:"ip_address,omitempty" db:"ip_address"`
	UserAgent  *string               `json:"user_agent,omitempty" db:"user_agent"`
	DeviceInfo types.NullJSONText    `json:"device_info,omitempty" db:"device_info"`
	Details    types.NullJSONText    `json:"details,omitempty" db:"details"`
	CreatedAt  time.Time             `json:"created_at" db:"created_at"`
}
