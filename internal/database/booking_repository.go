package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"

	"github.com/bvodo/booking-core/internal/models"
)

// BookingRepository handles booking persistence
type BookingRepository struct {
	*TxManager
	logger *logrus.Logger
}

// NewBookingRepository creates a new booking repository
func NewBookingRepository(tm *TxManager, logger *logrus.Logger) *BookingRepository {
	return &BookingRepository{
		TxManager: tm,
		logger:    logger,
	}
}

const bookingColumns = `
	id, organization_id, traveler_id, account_id, booking_type, status,
	client_reference, idempotency_key, requires_approval,
	total_price, currency, quote_id, pending_quote_id, offer_reference, hold_id,
	guests, contact, provider_booking_id, confirmation_number,
	approval_notes, rejection_reason, confirmation_notes,
	version, created_at, updated_at,
	submitted_at, approved_at, forwarded_at, confirmed_at, rejected_at, cancelled_at,
	confirm_attempted_at, provider_released_at`

// CreateBooking inserts a booking
func (r *BookingRepository) CreateBooking(ctx context.Context, b *models.Booking) error {
	query := `
		INSERT INTO bookings (` + bookingColumns + `
		) VALUES (
			:id, :organization_id, :traveler_id, :account_id, :booking_type, :status,
			:client_reference, :idempotency_key, :requires_approval,
			:total_price, :currency, :quote_id, :pending_quote_id, :offer_reference, :hold_id,
			:guests, :contact, :provider_booking_id, :confirmation_number,
			:approval_notes, :rejection_reason, :confirmation_notes,
			:version, :created_at, :updated_at,
			:submitted_at, :approved_at, :forwarded_at, :confirmed_at, :rejected_at, :cancelled_at,
			:confirm_attempted_at, :provider_released_at
		)`

	_, err := sqlx.NamedExecContext(ctx, r.conn(ctx), query, b)
	if err != nil {
		if isUniqueViolation(err, "bookings_quote_unique") {
			return models.ErrQuoteAlreadyConsumed
		}
		return fmt.Errorf("failed to create booking: %w", err)
	}
	return nil
}

// GetBooking retrieves a booking by ID
func (r *BookingRepository) GetBooking(ctx context.Context, id uuid.UUID) (*models.Booking, error) {
	return r.getBooking(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE id = $1`, id)
}

// GetBookingForUpdate retrieves a booking and locks its row
func (r *BookingRepository) GetBookingForUpdate(ctx context.Context, id uuid.UUID) (*models.Booking, error) {
	if !inTx(ctx) {
		return nil, fmt.Errorf("GetBookingForUpdate requires a transaction")
	}
	return r.getBooking(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE id = $1 FOR UPDATE`, id)
}

func (r *BookingRepository) getBooking(ctx context.Context, query string, args ...interface{}) (*models.Booking, error) {
	var b models.Booking
	if err := sqlx.GetContext(ctx, r.conn(ctx), &b, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, models.ErrBookingNotFound
		}
		return nil, fmt.Errorf("failed to get booking: %w", err)
	}
	return &b, nil
}

// FindByClientReference finds the booking a traveler submitted with the given
// client reference. Returns nil, nil when there is none.
func (r *BookingRepository) FindByClientReference(ctx context.Context, travelerID uuid.UUID, ref string) (*models.Booking, error) {
	b, err := r.getBooking(ctx,
		`SELECT `+bookingColumns+` FROM bookings WHERE traveler_id = $1 AND client_reference = $2`, travelerID, ref)
	if errors.Is(err, models.ErrBookingNotFound) {
		return nil, nil
	}
	return b, err
}

// UpdateBooking writes the mutable fields of a booking, guarded on the status
// the caller read. A concurrent transition makes the guard miss and returns
// ErrInvalidStateTransition.
func (r *BookingRepository) UpdateBooking(ctx context.Context, b *models.Booking, expected models.BookingStatus) error {
	query := `
		UPDATE bookings
		SET status = $3,
			total_price = $4,
			quote_id = $5,
			pending_quote_id = $6,
			hold_id = $7,
			provider_booking_id = $8,
			confirmation_number = $9,
			approval_notes = $10,
			rejection_reason = $11,
			confirmation_notes = $12,
			submitted_at = $13,
			approved_at = $14,
			forwarded_at = $15,
			confirmed_at = $16,
			rejected_at = $17,
			cancelled_at = $18,
			updated_at = $19,
			confirm_attempted_at = $20,
			provider_released_at = $21,
			version = version + 1
		WHERE id = $1 AND status = $2`

	result, err := r.conn(ctx).ExecContext(ctx, query,
		b.ID, expected, b.Status,
		b.TotalPrice, b.QuoteID, b.PendingQuoteID, b.HoldID,
		b.ProviderBookingID, b.ConfirmationNumber,
		b.ApprovalNotes, b.RejectionReason, b.ConfirmationNotes,
		b.SubmittedAt, b.ApprovedAt, b.ForwardedAt, b.ConfirmedAt, b.RejectedAt, b.CancelledAt,
		b.UpdatedAt, b.ConfirmAttemptedAt, b.ProviderReleasedAt,
	)
	if err != nil {
		if isUniqueViolation(err, "bookings_quote_unique") {
			return models.ErrQuoteAlreadyConsumed
		}
		return fmt.Errorf("failed to update booking: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		r.logger.WithFields(logrus.Fields{
			"booking_id":      b.ID,
			"expected_status": expected,
		}).Warn("Booking status changed concurrently")
		return models.ErrInvalidStateTransition
	}

	b.Version++
	return nil
}

// ListBookings lists bookings matching the filter, newest first
func (r *BookingRepository) ListBookings(ctx context.Context, filter models.BookingFilter) ([]*models.Booking, error) {
	query := `SELECT ` + bookingColumns + ` FROM bookings WHERE 1=1`
	args := []interface{}{}

	if filter.OrganizationID != nil {
		args = append(args, *filter.OrganizationID)
		query += fmt.Sprintf(" AND organization_id = $%d", len(args))
	}
	if filter.TravelerID != nil {
		args = append(args, *filter.TravelerID)
		query += fmt.Sprintf(" AND traveler_id = $%d", len(args))
	}
	if filter.Status != nil {
		args = append(args, *filter.Status)
		query += fmt.Sprintf(" AND status = $%d", len(args))
	}

	limit := filter.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	args = append(args, limit, filter.Offset)
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	bookings := []*models.Booking{}
	if err := sqlx.SelectContext(ctx, r.conn(ctx), &bookings, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list bookings: %w", err)
	}
	return bookings, nil
}

// ListUnreconciledProviderBookings finds bookings the supplier may hold a
// reservation for that never reached a settled state locally: still awaiting
// confirmation after a supplier call, or rejected/cancelled without the
// supplier side being released
func (r *BookingRepository) ListUnreconciledProviderBookings(ctx context.Context, olderThan time.Time, limit int) ([]*models.Booking, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT ` + bookingColumns + `
		FROM bookings
		WHERE (provider_booking_id IS NOT NULL OR confirm_attempted_at IS NOT NULL)
			AND provider_released_at IS NULL
			AND status IN ('awaiting_confirmation', 'rejected', 'cancelled')
			AND updated_at < $1
		ORDER BY updated_at ASC
		LIMIT $2`

	bookings := []*models.Booking{}
	if err := sqlx.SelectContext(ctx, r.conn(ctx), &bookings, query, olderThan, limit); err != nil {
		return nil, fmt.Errorf("failed to list unreconciled bookings: %w", err)
	}
	return bookings, nil
}
