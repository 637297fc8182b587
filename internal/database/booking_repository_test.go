package database

import (
	"context"
	"database/sql/driver"
	"fmt"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bvodo/booking-core/internal/models"
)

func TestBookingRepository_UpdateBooking(t *testing.T) {
	tm, mock := newMockTxManager(t)
	repo := NewBookingRepository(tm, quietLogger())
	ctx := context.Background()

	newBooking := func() *models.Booking {
		now := time.Now()
		return &models.Booking{
			ID:         uuid.New(),
			Status:     models.BookingStatusApproved,
			TotalPrice: decimal.RequireFromString("289.00"),
			Currency:   "USD",
			Version:    2,
			ApprovedAt: &now,
			UpdatedAt:  now,
		}
	}

	guarded := func(b *models.Booking, expected models.BookingStatus) []driver.Value {
		args := []driver.Value{b.ID, string(expected), string(b.Status)}
		for i := 0; i < 18; i++ {
			args = append(args, sqlmock.AnyArg())
		}
		return args
	}

	t.Run("Success", func(t *testing.T) {
		b := newBooking()
		mock.ExpectExec(`UPDATE bookings .* WHERE id = \$1 AND status = \$2`).
			WithArgs(guarded(b, models.BookingStatusPendingApproval)...).
			WillReturnResult(sqlmock.NewResult(0, 1))

		require.NoError(t, repo.UpdateBooking(ctx, b, models.BookingStatusPendingApproval))
		assert.Equal(t, int64(3), b.Version)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Status Guard Miss", func(t *testing.T) {
		b := newBooking()
		mock.ExpectExec(`UPDATE bookings`).
			WithArgs(guarded(b, models.BookingStatusPendingApproval)...).
			WillReturnResult(sqlmock.NewResult(0, 0))

		err := repo.UpdateBooking(ctx, b, models.BookingStatusPendingApproval)
		assert.ErrorIs(t, err, models.ErrInvalidStateTransition)
		assert.Equal(t, int64(2), b.Version)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Quote Already Consumed", func(t *testing.T) {
		b := newBooking()
		mock.ExpectExec(`UPDATE bookings`).
			WithArgs(anyArgs(21)...).
			WillReturnError(&pq.Error{Code: "23505", Constraint: "bookings_quote_unique"})

		err := repo.UpdateBooking(ctx, b, models.BookingStatusPendingApproval)
		assert.ErrorIs(t, err, models.ErrQuoteAlreadyConsumed)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Other Unique Violation Is Not Mapped", func(t *testing.T) {
		b := newBooking()
		mock.ExpectExec(`UPDATE bookings`).
			WithArgs(anyArgs(21)...).
			WillReturnError(&pq.Error{Code: "23505", Constraint: "bookings_client_reference_unique"})

		err := repo.UpdateBooking(ctx, b, models.BookingStatusPendingApproval)
		require.Error(t, err)
		assert.NotErrorIs(t, err, models.ErrQuoteAlreadyConsumed)
		assert.Contains(t, err.Error(), "failed to update booking")
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestBookingRepository_Lookups(t *testing.T) {
	tm, mock := newMockTxManager(t)
	repo := NewBookingRepository(tm, quietLogger())
	ctx := context.Background()

	t.Run("GetBooking Not Found", func(t *testing.T) {
		id := uuid.New()
		mock.ExpectQuery(`SELECT .* FROM bookings WHERE id = \$1`).
			WithArgs(id).
			WillReturnRows(sqlmock.NewRows([]string{"id"}))

		b, err := repo.GetBooking(ctx, id)
		assert.Nil(t, b)
		assert.ErrorIs(t, err, models.ErrBookingNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("FindByClientReference Missing Returns Nil", func(t *testing.T) {
		travelerID := uuid.New()
		mock.ExpectQuery(`FROM bookings WHERE traveler_id = \$1 AND client_reference = \$2`).
			WithArgs(travelerID, "trip-42").
			WillReturnRows(sqlmock.NewRows([]string{"id"}))

		b, err := repo.FindByClientReference(ctx, travelerID, "trip-42")
		assert.NoError(t, err)
		assert.Nil(t, b)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("ListUnreconciledProviderBookings Includes Unreleased Terminal Bookings", func(t *testing.T) {
		olderThan := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
		id := uuid.New()
		mock.ExpectQuery(`FROM bookings WHERE \(provider_booking_id IS NOT NULL OR confirm_attempted_at IS NOT NULL\) AND provider_released_at IS NULL AND status IN \('awaiting_confirmation', 'rejected', 'cancelled'\) AND updated_at < \$1`).
			WithArgs(olderThan, 100).
			WillReturnRows(sqlmock.NewRows([]string{"id", "status"}).AddRow(id.String(), "cancelled"))

		bookings, err := repo.ListUnreconciledProviderBookings(ctx, olderThan, 0)
		require.NoError(t, err)
		require.Len(t, bookings, 1)
		assert.Equal(t, id, bookings[0].ID)
		assert.Equal(t, models.BookingStatusCancelled, bookings[0].Status)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("GetBookingForUpdate Requires Transaction", func(t *testing.T) {
		_, err := repo.GetBookingForUpdate(ctx, uuid.New())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "requires a transaction")
	})
}

func TestQuoteRepository_DeleteStaleQuotes(t *testing.T) {
	tm, mock := newMockTxManager(t)
	repo := NewQuoteRepository(tm, quietLogger())
	ctx := context.Background()
	cutoff := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	t.Run("Returns Purged Count", func(t *testing.T) {
		mock.ExpectExec(`DELETE FROM quotes q WHERE q.expires_at < \$1 AND NOT EXISTS .* AND NOT EXISTS \( SELECT 1 FROM quotes n WHERE n.supersedes_quote_id = q.id \)`).
			WithArgs(cutoff).
			WillReturnResult(sqlmock.NewResult(0, 7))

		n, err := repo.DeleteStaleQuotes(ctx, cutoff)
		require.NoError(t, err)
		assert.Equal(t, 7, n)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Database Error", func(t *testing.T) {
		mock.ExpectExec(`DELETE FROM quotes`).
			WithArgs(cutoff).
			WillReturnError(fmt.Errorf("statement timeout"))

		_, err := repo.DeleteStaleQuotes(ctx, cutoff)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to delete stale quotes")
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestAuditRepository_AppendAuditEvent(t *testing.T) {
	tm, mock := newMockTxManager(t)
	repo := NewAuditRepository(tm, quietLogger())
	ctx := context.Background()

	t.Run("Nil Event", func(t *testing.T) {
		err := repo.AppendAuditEvent(ctx, nil)
		require.Error(t, err)
	})

	t.Run("Joins Ambient Transaction", func(t *testing.T) {
		from := models.BookingStatusPendingApproval
		to := models.BookingStatusApproved
		event := &models.BookingAuditEvent{
			BookingID:  uuid.New(),
			EventType:  models.AuditEventTransition,
			FromStatus: &from,
			ToStatus:   &to,
		}

		mock.ExpectBegin()
		mock.ExpectExec(`INSERT INTO booking_audit_events`).
			WithArgs(anyArgs(13)...).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		err := repo.WithTx(ctx, func(ctx context.Context) error {
			return repo.AppendAuditEvent(ctx, event)
		})
		require.NoError(t, err)
		assert.NotEqual(t, uuid.Nil, event.ID)
		assert.False(t, event.CreatedAt.IsZero())
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}
