package database

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"

	"github.com/bvodo/booking-core/internal/models"
)

// AuditRepository stores the booking audit trail
type AuditRepository struct {
	*TxManager
	logger *logrus.Logger
}

// NewAuditRepository creates a new audit repository
func NewAuditRepository(tm *TxManager, logger *logrus.Logger) *AuditRepository {
	return &AuditRepository{
		TxManager: tm,
		logger:    logger,
	}
}

// AppendAuditEvent writes one audit row. Inside a transaction the row commits
// or rolls back together with the change it describes.
func (r *AuditRepository) AppendAuditEvent(ctx context.Context, event *models.BookingAuditEvent) error {
	if event == nil {
		return fmt.Errorf("audit event cannot be nil")
	}
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO booking_audit_events (
			id, booking_id, event_type, from_status, to_status,
			actor_id, actor_role, notes, ip_address, user_agent,
			device_info, details, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`

	_, err := r.conn(ctx).ExecContext(ctx, query,
		event.ID, event.BookingID, event.EventType, event.FromStatus, event.ToStatus,
		event.ActorID, event.ActorRole, event.Notes, event.IPAddress, event.UserAgent,
		event.DeviceInfo, event.Details, event.CreatedAt,
	)
	if err != nil {
		r.logger.WithError(err).WithFields(logrus.Fields{
			"booking_id": event.BookingID,
			"event_type": event.EventType,
		}).Error("Failed to write booking audit event")
		return fmt.Errorf("failed to append audit event: %w", err)
	}
	return nil
}

// ListAuditEvents returns the audit trail of a booking, oldest first
func (r *AuditRepository) ListAuditEvents(ctx context.Context, bookingID uuid.UUID) ([]*models.BookingAuditEvent, error) {
	query := `
		SELECT id, booking_id, event_type, from_status, to_status,
			actor_id, actor_role, notes, ip_address, user_agent,
			device_info, details, created_at
		FROM booking_audit_events
		WHERE booking_id = $1
		ORDER BY created_at ASC, id ASC`

	events := []*models.BookingAuditEvent{}
	if err := sqlx.SelectContext(ctx, r.conn(ctx), &events, query, bookingID); err != nil {
		return nil, fmt.Errorf("failed to list audit events: %w", err)
	}
	return events, nil
}
