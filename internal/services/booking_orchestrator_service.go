package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/bvodo/booking-core/internal/clock"
	"github.com/bvodo/booking-core/internal/models"
	"github.com/bvodo/booking-core/pkg/provider"
)

// BookingOrchestratorConfig holds configuration for the orchestrator
type BookingOrchestratorConfig struct {
	ProviderTimeout time.Duration // Request timeout on supplier booking calls (default 15s)
	DefaultCurrency string        // Currency for flight offers sent without one (default USD)
}

// DefaultOrchestratorConfig returns default configuration
func DefaultOrchestratorConfig() BookingOrchestratorConfig {
	return BookingOrchestratorConfig{
		ProviderTimeout: 15 * time.Second,
		DefaultCurrency: "USD",
	}
}

// BookingOrchestratorService is the booking workflow used by the HTTP layer.
// It sequences quoting, the approval state machine, the credit ledger and
// supplier calls so that every operation is atomic from the caller's side.
type BookingOrchestratorService struct {
	bookings BookingStore
	ledger   *CreditLedgerService
	quotes   *QuoteService
	machine  *ApprovalStateMachine
	provider provider.Provider
	audit    *AuditService
	clock    clock.Clock
	config   BookingOrchestratorConfig
	logger   *logrus.Logger
}

// NewBookingOrchestratorService creates a new orchestrator service
func NewBookingOrchestratorService(
	bookings BookingStore,
	ledger *CreditLedgerService,
	quotes *QuoteService,
	machine *ApprovalStateMachine,
	p provider.Provider,
	audit *AuditService,
	clk clock.Clock,
	config BookingOrchestratorConfig,
	logger *logrus.Logger,
) *BookingOrchestratorService {
	return &BookingOrchestratorService{
		bookings: bookings,
		ledger:   ledger,
		quotes:   quotes,
		machine:  machine,
		provider: p,
		audit:    audit,
		clock:    clk,
		config:   config,
		logger:   logger,
	}
}

// ============================================================================
// SUBMIT
// ============================================================================

// Submit creates a booking and holds its price against the traveler's credit.
// When the hold is refused nothing is persisted.
func (s *BookingOrchestratorService) Submit(ctx context.Context, actor models.Actor, req *models.SubmitBookingRequest) (*models.Booking, error) {
	if actor.Role != models.RoleTraveler {
		return nil, models.ErrUnauthorized
	}

	// 1. Validate request
	if err := req.Validate(); err != nil {
		return nil, err
	}

	// 2. Replay of a request already accepted
	if req.ClientReference != nil {
		existing, err := s.bookings.FindByClientReference(ctx, actor.UserID, *req.ClientReference)
		if err != nil {
			return nil, fmt.Errorf("failed to check client reference: %w", err)
		}
		if existing != nil {
			s.logger.WithFields(logrus.Fields{
				"booking_id":       existing.ID,
				"client_reference": *req.ClientReference,
			}).Info("Returning existing booking for repeated submission")
			return existing, nil
		}
	}

	// 3. Resolve the account to spend from
	account, err := s.ledger.ResolveAccount(ctx, actor.OrganizationID, actor.UserID)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	booking := &models.Booking{
		ID:               uuid.New(),
		OrganizationID:   actor.OrganizationID,
		TravelerID:       actor.UserID,
		AccountID:        account.ID,
		Type:             req.Type,
		Status:           models.BookingStatusDraft,
		ClientReference:  req.ClientReference,
		RequiresApproval: true,
		Guests:           req.Guests,
		Contact:          req.Contact,
		Version:          1,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	booking.IdempotencyKey = provider.IdempotencyKey(booking.ID)
	if req.RequiresApproval != nil {
		booking.RequiresApproval = *req.RequiresApproval
	}

	// 4. Price the booking
	switch req.Type {
	case models.BookingTypeHotel:
		quote, err := s.quotes.CreateQuote(ctx, req.RateID)
		if err != nil {
			return nil, err
		}
		booking.QuoteID = &quote.ID
		booking.TotalPrice = quote.TotalAmount
		booking.Currency = quote.Currency
	case models.BookingTypeFlight:
		offer := req.OfferReference
		booking.OfferReference = &offer
		booking.TotalPrice = *req.TotalPrice
		booking.Currency = req.Currency
		if booking.Currency == "" {
			booking.Currency = s.config.DefaultCurrency
		}
	}

	// 5. Currency must match the account
	if booking.Currency != account.Currency {
		return nil, fmt.Errorf("%w: booking in %s, account in %s", models.ErrCurrencyMismatch, booking.Currency, account.Currency)
	}

	// 6. Create the draft and submit it (takes the hold) in one transaction
	var submitted *models.Booking
	err = s.bookings.WithTx(ctx, func(ctx context.Context) error {
		if err := s.bookings.CreateBooking(ctx, booking); err != nil {
			return err
		}
		b, err := s.machine.Apply(ctx, booking.ID, ActionSubmit, actor, TransitionInput{})
		if err != nil {
			return err
		}
		submitted = b
		return nil
	})
	if err != nil {
		s.logger.WithFields(logrus.Fields{
			"traveler_id": actor.UserID,
			"account_id":  account.ID,
			"amount":      booking.TotalPrice.String(),
			"reason_code": models.ReasonCode(err),
		}).Info("Booking submission refused")
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{
		"booking_id":   submitted.ID,
		"booking_type": submitted.Type,
		"amount":       submitted.TotalPrice.String(),
		"currency":     submitted.Currency,
		"hold_id":      submitted.HoldID,
	}).Info("Booking submitted")

	return submitted, nil
}

// ============================================================================
// APPROVAL DECISIONS
// ============================================================================

// Approve is the manager sign-off
func (s *BookingOrchestratorService) Approve(ctx context.Context, bookingID uuid.UUID, actor models.Actor, req *models.DecisionRequest) (*models.Booking, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	return s.machine.Apply(ctx, bookingID, ActionApprove, actor, TransitionInput{Notes: req.Notes})
}

// ForwardForConfirmation hands an approved booking to operators. A hotel
// quote is revalidated first; a changed price stops the transition.
func (s *BookingOrchestratorService) ForwardForConfirmation(ctx context.Context, bookingID uuid.UUID, actor models.Actor, req *models.DecisionRequest) (*models.Booking, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	b, err := s.bookings.GetBooking(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if _, err := s.machine.Check(b, ActionForward, actor); err != nil {
		return nil, err
	}

	if _, err := s.revalidateQuote(ctx, b, actor, req.AcknowledgedQuoteID); err != nil {
		return nil, err
	}

	return s.machine.Apply(ctx, bookingID, ActionForward, actor, TransitionInput{Notes: req.Notes})
}

// Reject ends the workflow and releases the hold. A reason is required. A
// supplier reservation made by an earlier confirm is cancelled the same way
// Cancel does it.
func (s *BookingOrchestratorService) Reject(ctx context.Context, bookingID uuid.UUID, actor models.Actor, req *models.DecisionRequest) (*models.Booking, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	b, err := s.machine.Apply(ctx, bookingID, ActionReject, actor, TransitionInput{Reason: req.Reason})
	if err != nil {
		return nil, err
	}
	b, _, _ = s.releaseSupplier(ctx, b, actor)
	return b, nil
}

// ============================================================================
// CONFIRM
// ============================================================================

// Confirm books with the supplier and then consumes the hold. Supplier
// failures leave the booking awaiting confirmation with its hold active; the
// idempotency key makes a retried confirm return the same reservation.
func (s *BookingOrchestratorService) Confirm(ctx context.Context, bookingID uuid.UUID, actor models.Actor, req *models.DecisionRequest) (*models.Booking, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	// 1. Load and pre-check the transition and the hold
	b, err := s.bookings.GetBooking(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if _, err := s.machine.Check(b, ActionConfirm, actor); err != nil {
		return nil, err
	}
	if b.HoldID == nil {
		return nil, models.ErrHoldNotActive
	}
	hold, err := s.ledger.GetHold(ctx, *b.HoldID)
	if err != nil {
		return nil, err
	}
	if !hold.IsActive() {
		return nil, models.ErrHoldNotActive
	}

	// 2. Revalidate the hotel quote, refreshing when expired
	if b.ProviderBookingID == nil {
		b, err = s.revalidateQuote(ctx, b, actor, req.AcknowledgedQuoteID)
		if err != nil {
			return nil, err
		}
	}

	// 3. Book with the supplier, unless a previous attempt already did. The
	// attempt is persisted first so a lost reply can still be traced.
	if b.ProviderBookingID == nil {
		if b.ConfirmAttemptedAt == nil {
			b, err = s.mutateLocked(ctx, b, func(ctx context.Context, b *models.Booking) error {
				now := s.clock.Now()
				b.ConfirmAttemptedAt = &now
				return nil
			})
			if err != nil {
				return nil, err
			}
		}

		result, err := s.createProviderBooking(ctx, b)
		if err != nil {
			s.logger.WithFields(logrus.Fields{
				"booking_id":      b.ID,
				"idempotency_key": b.IdempotencyKey,
				"retryable":       models.IsRetryable(err),
				"error":           err.Error(),
			}).Warn("Provider booking failed, booking stays awaiting confirmation")
			if provider.IsRefusal(err) {
				s.clearConfirmAttempt(ctx, b)
			}
			return nil, err
		}

		// 4. Record the supplier reservation before settling credit
		b, err = s.recordProviderBooking(ctx, b.ID, actor, result)
		if err != nil {
			s.logger.WithFields(logrus.Fields{
				"booking_id":          bookingID,
				"provider_booking_id": result.ID,
				"error":               err.Error(),
			}).Error("Provider booked but the reservation could not be recorded")
			return nil, err
		}
		if b.Status != models.BookingStatusAwaitingConfirmation {
			s.logger.WithFields(logrus.Fields{
				"booking_id":          b.ID,
				"status":              b.Status,
				"provider_booking_id": result.ID,
			}).Warn("Booking left the workflow while the supplier was booking")
			s.releaseSupplier(ctx, b, actor)
			return nil, models.ErrInvalidStateTransition
		}
	}

	// 5. Consume the hold and confirm
	confirmed, err := s.machine.Apply(ctx, bookingID, ActionConfirm, actor, TransitionInput{Notes: req.Notes})
	if err != nil {
		s.logger.WithFields(logrus.Fields{
			"booking_id":          bookingID,
			"provider_booking_id": b.ProviderBookingID,
			"reason_code":         models.ReasonCode(err),
		}).Error("Provider booked but the booking could not be confirmed, reconciliation required")
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{
		"booking_id":          confirmed.ID,
		"provider_booking_id": *confirmed.ProviderBookingID,
		"amount":              confirmed.TotalPrice.String(),
	}).Info("Booking confirmed")

	return confirmed, nil
}

func (s *BookingOrchestratorService) createProviderBooking(ctx context.Context, b *models.Booking) (*provider.BookingResult, error) {
	req := provider.BookingRequest{
		Reference: b.ID.String(),
		Email:     b.Contact.Email,
		Phone:     b.Contact.Phone,
		Guests:    make([]provider.Guest, 0, len(b.Guests)),
	}
	for _, g := range b.Guests {
		req.Guests = append(req.Guests, provider.Guest{
			GivenName:  g.GivenName,
			FamilyName: g.FamilyName,
			Email:      g.Email,
			BornOn:     g.BornOn,
		})
	}

	switch {
	case b.QuoteID != nil:
		quote, err := s.quotes.GetQuote(ctx, *b.QuoteID)
		if err != nil {
			return nil, err
		}
		req.QuoteID = quote.ProviderQuoteID
	case b.OfferReference != nil:
		req.OfferReference = *b.OfferReference
	default:
		return nil, fmt.Errorf("booking %s has neither a quote nor an offer reference", b.ID)
	}

	callCtx, cancel := context.WithTimeout(ctx, s.config.ProviderTimeout)
	defer cancel()

	result, err := s.provider.CreateBooking(callCtx, b.IdempotencyKey, req)
	if err != nil {
		return nil, mapProviderError("create_booking", err)
	}
	return result, nil
}

// clearConfirmAttempt drops the attempt marker after the supplier refused the
// booking outright, since nothing was reserved
func (s *BookingOrchestratorService) clearConfirmAttempt(ctx context.Context, read *models.Booking) {
	_, err := s.mutateLocked(ctx, read, func(ctx context.Context, b *models.Booking) error {
		if b.ProviderBookingID == nil {
			b.ConfirmAttemptedAt = nil
		}
		return nil
	})
	if err != nil {
		s.logger.WithError(err).WithField("booking_id", read.ID).Warn("Failed to clear confirm attempt")
	}
}

// recordProviderBooking stores the supplier reservation on the booking. A
// booking rejected or cancelled in the meantime still gets the reservation
// recorded, so it can be released; the caller checks the returned status.
func (s *BookingOrchestratorService) recordProviderBooking(ctx context.Context, bookingID uuid.UUID, actor models.Actor, result *provider.BookingResult) (*models.Booking, error) {
	var updated *models.Booking
	err := s.bookings.WithTx(ctx, func(ctx context.Context) error {
		b, err := s.bookings.GetBookingForUpdate(ctx, bookingID)
		if err != nil {
			return err
		}
		switch b.Status {
		case models.BookingStatusAwaitingConfirmation:
		case models.BookingStatusRejected, models.BookingStatusCancelled:
			if b.ProviderBookingID != nil && *b.ProviderBookingID == result.ID {
				updated = b
				return nil
			}
		default:
			return models.ErrInvalidStateTransition
		}

		b.ProviderBookingID = &result.ID
		b.ConfirmationNumber = &result.ConfirmationNumber
		b.ProviderReleasedAt = nil
		b.UpdatedAt = s.clock.Now()
		if err := s.bookings.UpdateBooking(ctx, b, b.Status); err != nil {
			return err
		}
		if err := s.audit.RecordProviderBooking(ctx, b.ID, actor, result.ID, result.ConfirmationNumber, b.IdempotencyKey); err != nil {
			return err
		}
		updated = b
		return nil
	})
	return updated, err
}

// ============================================================================
// QUOTE REVALIDATION
// ============================================================================

// revalidateQuote makes sure a hotel booking is backed by a live quote at the
// approved price. An expired quote is refreshed; a refreshed quote at the same
// price is adopted; a different price is parked as the pending quote and
// returned as *PriceChangedError. Passing the pending quote id back as
// acknowledged moves the hold to the new amount.
func (s *BookingOrchestratorService) revalidateQuote(ctx context.Context, b *models.Booking, actor models.Actor, acknowledged *uuid.UUID) (*models.Booking, error) {
	if b.Type != models.BookingTypeHotel || b.QuoteID == nil {
		return b, nil
	}

	if b.PendingQuoteID != nil && acknowledged != nil && *acknowledged == *b.PendingQuoteID {
		pending, err := s.quotes.GetQuote(ctx, *b.PendingQuoteID)
		if err != nil {
			return nil, err
		}
		if s.quotes.IsValid(pending) {
			return s.rehold(ctx, b, actor, pending)
		}
	}

	check, err := s.quotes.EnsureValid(ctx, *b.QuoteID)
	if err != nil {
		return nil, err
	}
	if !check.Refreshed {
		return b, nil
	}

	if check.Quote.TotalAmount.Equal(b.TotalPrice) && check.Quote.Currency == b.Currency {
		return s.adoptQuote(ctx, b, actor, check.Quote)
	}

	change := &models.PriceChangedError{
		BookingID:       b.ID,
		PreviousQuoteID: *b.QuoteID,
		QuoteID:         check.Quote.ID,
		PreviousAmount:  b.TotalPrice,
		NewAmount:       check.Quote.TotalAmount,
		Currency:        check.Quote.Currency,
	}
	if err := s.parkPendingQuote(ctx, b, actor, change); err != nil {
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{
		"booking_id":      b.ID,
		"quote_id":        change.QuoteID,
		"previous_amount": change.PreviousAmount.String(),
		"new_amount":      change.NewAmount.String(),
	}).Info("Quote price changed, acknowledgment required")

	return nil, change
}

// mutateLocked reloads the booking under lock, checks it has not moved since
// it was read, applies fn and writes it back
func (s *BookingOrchestratorService) mutateLocked(ctx context.Context, read *models.Booking, fn func(ctx context.Context, b *models.Booking) error) (*models.Booking, error) {
	var updated *models.Booking
	err := s.bookings.WithTx(ctx, func(ctx context.Context) error {
		b, err := s.bookings.GetBookingForUpdate(ctx, read.ID)
		if err != nil {
			return err
		}
		if b.Status != read.Status {
			return models.ErrInvalidStateTransition
		}
		if err := fn(ctx, b); err != nil {
			return err
		}
		b.UpdatedAt = s.clock.Now()
		if err := s.bookings.UpdateBooking(ctx, b, b.Status); err != nil {
			return err
		}
		updated = b
		return nil
	})
	return updated, err
}

func (s *BookingOrchestratorService) adoptQuote(ctx context.Context, read *models.Booking, actor models.Actor, quote *models.Quote) (*models.Booking, error) {
	return s.mutateLocked(ctx, read, func(ctx context.Context, b *models.Booking) error {
		previous := *b.QuoteID
		b.QuoteID = &quote.ID
		b.PendingQuoteID = nil
		return s.audit.RecordQuoteRefresh(ctx, b.ID, actor, previous, quote, false)
	})
}

func (s *BookingOrchestratorService) parkPendingQuote(ctx context.Context, read *models.Booking, actor models.Actor, change *models.PriceChangedError) error {
	_, err := s.mutateLocked(ctx, read, func(ctx context.Context, b *models.Booking) error {
		quoteID := change.QuoteID
		b.PendingQuoteID = &quoteID
		return s.audit.RecordPriceChange(ctx, actor, change)
	})
	return err
}

// rehold swaps the booking onto an acknowledged quote: the old hold is
// released and a new one taken for the new amount in the same transaction
func (s *BookingOrchestratorService) rehold(ctx context.Context, read *models.Booking, actor models.Actor, quote *models.Quote) (*models.Booking, error) {
	updated, err := s.mutateLocked(ctx, read, func(ctx context.Context, b *models.Booking) error {
		if quote.Currency != b.Currency {
			return models.ErrCurrencyMismatch
		}
		if b.HoldID != nil {
			if _, err := s.ledger.Release(ctx, *b.HoldID); err != nil {
				return err
			}
		}
		hold, err := s.ledger.Hold(ctx, b.AccountID, b.ID, quote.TotalAmount)
		if err != nil {
			return err
		}

		previous := *b.QuoteID
		b.QuoteID = &quote.ID
		b.PendingQuoteID = nil
		b.HoldID = &hold.ID
		b.TotalPrice = quote.TotalAmount
		return s.audit.RecordQuoteRefresh(ctx, b.ID, actor, previous, quote, true)
	})
	if err != nil {
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{
		"booking_id": updated.ID,
		"quote_id":   quote.ID,
		"hold_id":    updated.HoldID,
		"amount":     quote.TotalAmount.String(),
	}).Info("Booking moved to acknowledged quote")

	return updated, nil
}

// ============================================================================
// CANCEL
// ============================================================================

// Cancel withdraws a booking and releases its hold. If the supplier holds or
// may hold a reservation it is cancelled afterwards; a failure there does not
// undo the local cancellation and is reported as a reconciliation warning.
func (s *BookingOrchestratorService) Cancel(ctx context.Context, bookingID uuid.UUID, actor models.Actor) (*models.CancelResult, error) {
	b, err := s.machine.Apply(ctx, bookingID, ActionCancel, actor, TransitionInput{})
	if err != nil {
		return nil, err
	}

	b, cancelled, warning := s.releaseSupplier(ctx, b, actor)
	return &models.CancelResult{
		Booking:               b,
		ProviderCancelled:     cancelled,
		ReconciliationWarning: warning,
	}, nil
}

// releaseSupplier leaves no live supplier reservation behind a booking that
// was rejected or cancelled. When a confirm reached the supplier without a
// reservation being recorded, the booking call is replayed under the same
// idempotency key to learn the reservation; a definitive refusal means none
// exists. Whatever cannot be settled is written as a reconciliation warning
// and the booking stays in the reconciliation report.
func (s *BookingOrchestratorService) releaseSupplier(ctx context.Context, b *models.Booking, actor models.Actor) (*models.Booking, bool, *string) {
	if !b.SupplierExposed() || b.ProviderReleasedAt != nil {
		return b, false, nil
	}

	if b.ProviderBookingID == nil {
		result, err := s.createProviderBooking(ctx, b)
		switch {
		case err == nil:
			recorded, err := s.recordProviderBooking(ctx, b.ID, actor, result)
			if err != nil {
				return b, false, s.reconciliationWarning(ctx, b, actor,
					fmt.Sprintf("supplier reservation %s could not be recorded", result.ID), err)
			}
			b = recorded
			if b.ProviderReleasedAt != nil {
				return b, false, nil
			}
		case provider.IsRefusal(err):
			released, err := s.markProviderReleased(ctx, b, actor, "never_booked")
			if err != nil {
				return b, false, s.reconciliationWarning(ctx, b, actor, "supplier release could not be recorded", err)
			}
			return released, false, nil
		default:
			return b, false, s.reconciliationWarning(ctx, b, actor,
				fmt.Sprintf("supplier reservation for key %s is unknown after an interrupted confirm: %s", b.IdempotencyKey, models.ReasonCode(err)), err)
		}
	}

	callCtx, cancel := context.WithTimeout(ctx, s.config.ProviderTimeout)
	defer cancel()

	outcome := "cancelled"
	if _, err := s.provider.CancelBooking(callCtx, *b.ProviderBookingID); err != nil {
		if !errors.Is(err, provider.ErrBookingNotFound) {
			err = mapProviderError("cancel_booking", err)
			return b, false, s.reconciliationWarning(ctx, b, actor,
				fmt.Sprintf("supplier reservation %s could not be cancelled: %s", *b.ProviderBookingID, models.ReasonCode(err)), err)
		}
		outcome = "not_found"
	}

	released, err := s.markProviderReleased(ctx, b, actor, outcome)
	if err != nil {
		s.logger.WithFields(logrus.Fields{
			"booking_id":          b.ID,
			"provider_booking_id": *b.ProviderBookingID,
			"error":               err.Error(),
		}).Error("Supplier reservation cancelled but the release could not be recorded")
		return b, true, nil
	}

	s.logger.WithFields(logrus.Fields{
		"booking_id":          released.ID,
		"provider_booking_id": *released.ProviderBookingID,
		"status":              released.Status,
		"outcome":             outcome,
	}).Info("Supplier reservation released")

	return released, true, nil
}

// markProviderReleased stamps ProviderReleasedAt unless a different
// reservation was recorded since b was read
func (s *BookingOrchestratorService) markProviderReleased(ctx context.Context, read *models.Booking, actor models.Actor, outcome string) (*models.Booking, error) {
	return s.mutateLocked(ctx, read, func(ctx context.Context, b *models.Booking) error {
		if !sameReference(b.ProviderBookingID, read.ProviderBookingID) {
			return models.ErrInvalidStateTransition
		}
		if b.ProviderReleasedAt != nil {
			return nil
		}
		now := s.clock.Now()
		b.ProviderReleasedAt = &now
		return s.audit.RecordProviderCancelled(ctx, b.ID, actor, b.ProviderBookingID, outcome)
	})
}

func (s *BookingOrchestratorService) reconciliationWarning(ctx context.Context, b *models.Booking, actor models.Actor, warning string, cause error) *string {
	s.logger.WithFields(logrus.Fields{
		"booking_id":          b.ID,
		"status":              b.Status,
		"provider_booking_id": b.ProviderBookingID,
		"retryable":           models.IsRetryable(cause),
		"error":               cause.Error(),
	}).Warn("Booking left the workflow but the supplier side is not settled")

	if err := s.audit.RecordReconciliationWarning(ctx, b.ID, actor, warning, cause); err != nil {
		s.logger.WithError(err).Error("Failed to record reconciliation warning")
	}
	return &warning
}

func sameReference(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

// ============================================================================
// READS
// ============================================================================

// GetBooking returns a booking the actor may see
func (s *BookingOrchestratorService) GetBooking(ctx context.Context, bookingID uuid.UUID, actor models.Actor) (*models.Booking, error) {
	b, err := s.bookings.GetBooking(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if !CanView(b, actor) {
		return nil, models.ErrUnauthorized
	}
	return b, nil
}

// ListBookings lists bookings visible to the actor. Travelers see their own,
// managers their organization's, operators everything matching the filter.
func (s *BookingOrchestratorService) ListBookings(ctx context.Context, actor models.Actor, filter models.BookingFilter) ([]*models.Booking, error) {
	switch actor.Role {
	case models.RoleTraveler:
		orgID, userID := actor.OrganizationID, actor.UserID
		filter.OrganizationID = &orgID
		filter.TravelerID = &userID
	case models.RoleManager:
		orgID := actor.OrganizationID
		filter.OrganizationID = &orgID
	case models.RoleOperator:
	default:
		return nil, models.ErrUnauthorized
	}
	return s.bookings.ListBookings(ctx, filter)
}

// GetHistory returns the audit trail of a booking the actor may see
func (s *BookingOrchestratorService) GetHistory(ctx context.Context, bookingID uuid.UUID, actor models.Actor) ([]*models.BookingAuditEvent, error) {
	if _, err := s.GetBooking(ctx, bookingID, actor); err != nil {
		return nil, err
	}
	return s.audit.GetHistory(ctx, bookingID)
}

// ReconciliationReport lists what needs a human: holds voided by an account
// reset and bookings the supplier may still hold a reservation for, either
// awaiting a confirmation that never completed or rejected/cancelled without
// the supplier side being released
type ReconciliationReport struct {
	VoidedHolds          []*models.CreditHold `json:"voided_holds"`
	UnconfirmedProviders []*models.Booking    `json:"unconfirmed_provider_bookings"`
}

// Reconciliation builds the reconciliation report. Bookings touched within
// minAge are skipped since a confirm may still be in flight.
func (s *BookingOrchestratorService) Reconciliation(ctx context.Context, minAge time.Duration, limit int) (*ReconciliationReport, error) {
	holds, err := s.ledger.ListHoldsRequiringReconciliation(ctx, limit)
	if err != nil {
		return nil, err
	}
	bookings, err := s.bookings.ListUnreconciledProviderBookings(ctx, s.clock.Now().Add(-minAge), limit)
	if err != nil {
		return nil, err
	}
	return &ReconciliationReport{VoidedHolds: holds, UnconfirmedProviders: bookings}, nil
}

// IsPriceChanged unwraps a *PriceChangedError
func IsPriceChanged(err error) (*models.PriceChangedError, bool) {
	var change *models.PriceChangedError
	if errors.As(err, &change) {
		return change, true
	}
	return nil, false
}
