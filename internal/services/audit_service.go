package services

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx/types"
	"github.com/sirupsen/logrus"

	"github.com/bvodo/booking-core/internal/clock"
	"github.com/bvodo/booking-core/internal/models"
	"github.com/bvodo/booking-core/internal/utils"
)

// AuditStore persists the booking audit trail
type AuditStore interface {
	AppendAuditEvent(ctx context.Context, event *models.BookingAuditEvent) error
	ListAuditEvents(ctx context.Context, bookingID uuid.UUID) ([]*models.BookingAuditEvent, error)
}

// AuditService records who moved a booking and what happened at the supplier.
// Events are written on the caller's context so they commit or roll back with
// the change they describe.
type AuditService struct {
	store  AuditStore
	clock  clock.Clock
	logger *logrus.Logger
}

// NewAuditService creates a new audit service
func NewAuditService(store AuditStore, clk clock.Clock, logger *logrus.Logger) *AuditService {
	return &AuditService{
		store:  store,
		clock:  clk,
		logger: logger,
	}
}

// RecordTransition logs an applied state machine transition
func (s *AuditService) RecordTransition(ctx context.Context, bookingID uuid.UUID, from, to models.BookingStatus, actor models.Actor, notes *string) error {
	event := s.newEvent(bookingID, models.AuditEventTransition, actor, nil)
	event.FromStatus = &from
	event.ToStatus = &to
	event.Notes = notes
	return s.store.AppendAuditEvent(ctx, event)
}

// RecordPriceChange logs a refreshed quote whose total differs from the approved one
func (s *AuditService) RecordPriceChange(ctx context.Context, actor models.Actor, change *models.PriceChangedError) error {
	event := s.newEvent(change.BookingID, models.AuditEventPriceChanged, actor, map[string]interface{}{
		"previous_quote_id": change.PreviousQuoteID,
		"quote_id":          change.QuoteID,
		"previous_amount":   change.PreviousAmount.String(),
		"new_amount":        change.NewAmount.String(),
		"currency":          change.Currency,
	})
	return s.store.AppendAuditEvent(ctx, event)
}

// RecordQuoteRefresh logs the booking moving to a new quote. reheld is set
// when the credit hold was replaced for an acknowledged new price.
func (s *AuditService) RecordQuoteRefresh(ctx context.Context, bookingID uuid.UUID, actor models.Actor, previousQuoteID uuid.UUID, quote *models.Quote, reheld bool) error {
	event := s.newEvent(bookingID, models.AuditEventQuoteRefreshed, actor, map[string]interface{}{
		"previous_quote_id": previousQuoteID,
		"quote_id":          quote.ID,
		"amount":            quote.TotalAmount.String(),
		"expires_at":        quote.ExpiresAt,
		"reheld":            reheld,
	})
	return s.store.AppendAuditEvent(ctx, event)
}

// RecordProviderBooking logs the reservation returned by the supplier
func (s *AuditService) RecordProviderBooking(ctx context.Context, bookingID uuid.UUID, actor models.Actor, providerBookingID, confirmationNumber, idempotencyKey string) error {
	event := s.newEvent(bookingID, models.AuditEventProviderBooked, actor, map[string]interface{}{
		"provider_booking_id": providerBookingID,
		"confirmation_number": confirmationNumber,
		"idempotency_key":     idempotencyKey,
	})
	return s.store.AppendAuditEvent(ctx, event)
}

// RecordProviderCancelled logs that the supplier holds nothing for a booking
// that left the workflow. outcome is cancelled, not_found or never_booked.
func (s *AuditService) RecordProviderCancelled(ctx context.Context, bookingID uuid.UUID, actor models.Actor, providerBookingID *string, outcome string) error {
	details := map[string]interface{}{
		"outcome": outcome,
	}
	if providerBookingID != nil {
		details["provider_booking_id"] = *providerBookingID
	}
	event := s.newEvent(bookingID, models.AuditEventProviderCancelled, actor, details)
	return s.store.AppendAuditEvent(ctx, event)
}

// RecordReconciliationWarning logs a local change the supplier did not follow
func (s *AuditService) RecordReconciliationWarning(ctx context.Context, bookingID uuid.UUID, actor models.Actor, warning string, cause error) error {
	details := map[string]interface{}{
		"warning": warning,
	}
	if cause != nil {
		details["error"] = cause.Error()
		details["reason_code"] = models.ReasonCode(cause)
		details["retryable"] = models.IsRetryable(cause)
	}
	event := s.newEvent(bookingID, models.AuditEventReconciliationWarning, actor, details)
	return s.store.AppendAuditEvent(ctx, event)
}

// GetHistory returns the audit trail of a booking, oldest first
func (s *AuditService) GetHistory(ctx context.Context, bookingID uuid.UUID) ([]*models.BookingAuditEvent, error) {
	return s.store.ListAuditEvents(ctx, bookingID)
}

func (s *AuditService) newEvent(bookingID uuid.UUID, eventType models.BookingAuditEventType, actor models.Actor, details map[string]interface{}) *models.BookingAuditEvent {
	event := &models.BookingAuditEvent{
		ID:        uuid.New(),
		BookingID: bookingID,
		EventType: eventType,
		CreatedAt: s.clock.Now(),
	}

	if actor.UserID != uuid.Nil {
		actorID := actor.UserID
		role := actor.Role
		event.ActorID = &actorID
		event.ActorRole = &role
	}
	if actor.IPAddress != "" {
		ip := actor.IPAddress
		event.IPAddress = &ip
	}
	if actor.UserAgent != "" {
		userAgent := actor.UserAgent
		event.UserAgent = &userAgent
		event.DeviceInfo = s.toJSON(utils.ParseUserAgent(userAgent))
	}
	if details != nil {
		event.Details = s.toJSON(details)
	}

	return event
}

func (s *AuditService) toJSON(v interface{}) types.NullJSONText {
	data, err := json.Marshal(v)
	if err != nil {
		s.logger.WithError(err).Warn("Failed to encode audit payload")
		return types.NullJSONText{}
	}
	return types.NullJSONText{JSONText: data, Valid: true}
}
