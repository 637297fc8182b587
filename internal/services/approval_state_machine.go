package services

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/bvodo/booking-core/internal/clock"
	"github.com/bvodo/booking-core/internal/models"
)

// BookingStore persists bookings. UpdateBooking is guarded on the status the
// caller read and fails with ErrInvalidStateTransition when it moved.
type BookingStore interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
	CreateBooking(ctx context.Context, b *models.Booking) error
	GetBooking(ctx context.Context, id uuid.UUID) (*models.Booking, error)
	GetBookingForUpdate(ctx context.Context, id uuid.UUID) (*models.Booking, error)
	FindByClientReference(ctx context.Context, travelerID uuid.UUID, ref string) (*models.Booking, error)
	UpdateBooking(ctx context.Context, b *models.Booking, expected models.BookingStatus) error
	ListBookings(ctx context.Context, filter models.BookingFilter) ([]*models.Booking, error)
	ListUnreconciledProviderBookings(ctx context.Context, olderThan time.Time, limit int) ([]*models.Booking, error)
}

// BookingAction is a request to move a booking along the approval graph
type BookingAction string

const (
	ActionSubmit  BookingAction = "submit"
	ActionApprove BookingAction = "approve"
	ActionForward BookingAction = "forward"
	ActionConfirm BookingAction = "confirm"
	ActionReject  BookingAction = "reject"
	ActionCancel  BookingAction = "cancel"
)

// AllBookingActions lists every action
var AllBookingActions = []BookingAction{
	ActionSubmit, ActionApprove, ActionForward, ActionConfirm, ActionReject, ActionCancel,
}

type transition struct {
	to    models.BookingStatus
	roles []models.Role
}

// transitions is the complete approval graph. Pairs not listed are invalid.
var transitions = map[models.BookingStatus]map[BookingAction]transition{
	models.BookingStatusDraft: {
		ActionSubmit: {to: models.BookingStatusPendingApproval, roles: []models.Role{models.RoleTraveler}},
		ActionCancel: {to: models.BookingStatusCancelled, roles: []models.Role{models.RoleTraveler}},
	},
	models.BookingStatusPendingApproval: {
		ActionApprove: {to: models.BookingStatusApproved, roles: []models.Role{models.RoleManager}},
		ActionReject:  {to: models.BookingStatusRejected, roles: []models.Role{models.RoleManager, models.RoleOperator}},
		ActionCancel:  {to: models.BookingStatusCancelled, roles: []models.Role{models.RoleTraveler}},
	},
	models.BookingStatusApproved: {
		ActionForward: {to: models.BookingStatusAwaitingConfirmation, roles: []models.Role{models.RoleManager}},
		ActionReject:  {to: models.BookingStatusRejected, roles: []models.Role{models.RoleManager, models.RoleOperator}},
		ActionCancel:  {to: models.BookingStatusCancelled, roles: []models.Role{models.RoleTraveler}},
	},
	models.BookingStatusAwaitingConfirmation: {
		ActionConfirm: {to: models.BookingStatusConfirmed, roles: []models.Role{models.RoleOperator}},
		ActionReject:  {to: models.BookingStatusRejected, roles: []models.Role{models.RoleManager, models.RoleOperator}},
		ActionCancel:  {to: models.BookingStatusCancelled, roles: []models.Role{models.RoleTraveler}},
	},
}

// TransitionInput carries the free text attached to a transition
type TransitionInput struct {
	Notes  *string
	Reason *string
}

// ApprovalStateMachine validates transitions and applies them together with
// their ledger side effect and audit record in one transaction
type ApprovalStateMachine struct {
	bookings BookingStore
	ledger   *CreditLedgerService
	audit    *AuditService
	clock    clock.Clock
	logger   *logrus.Logger
}

// NewApprovalStateMachine creates a new approval state machine
func NewApprovalStateMachine(bookings BookingStore, ledger *CreditLedgerService, audit *AuditService, clk clock.Clock, logger *logrus.Logger) *ApprovalStateMachine {
	return &ApprovalStateMachine{
		bookings: bookings,
		ledger:   ledger,
		audit:    audit,
		clock:    clk,
		logger:   logger,
	}
}

// Next returns the status action leads to from status, if the pair exists
func (m *ApprovalStateMachine) Next(from models.BookingStatus, action BookingAction) (models.BookingStatus, bool) {
	t, ok := transitions[from][action]
	return t.to, ok
}

// Check verifies the transition exists and the actor may perform it,
// without touching anything
func (m *ApprovalStateMachine) Check(b *models.Booking, action BookingAction, actor models.Actor) (models.BookingStatus, error) {
	t, ok := transitions[b.Status][action]
	if !ok {
		return "", models.ErrInvalidStateTransition
	}
	if err := authorize(b, actor, t.roles); err != nil {
		return "", err
	}
	return t.to, nil
}

// Apply moves a booking along the graph. The status change, the ledger side
// effect and the audit event commit together or not at all.
func (m *ApprovalStateMachine) Apply(ctx context.Context, bookingID uuid.UUID, action BookingAction, actor models.Actor, in TransitionInput) (*models.Booking, error) {
	var booking *models.Booking

	err := m.bookings.WithTx(ctx, func(ctx context.Context) error {
		b, err := m.bookings.GetBookingForUpdate(ctx, bookingID)
		if err != nil {
			return err
		}

		from := b.Status
		to, err := m.Check(b, action, actor)
		if err != nil {
			return err
		}

		if err := m.sideEffect(ctx, b, action, in); err != nil {
			return err
		}

		now := m.clock.Now()
		b.Status = to
		b.UpdatedAt = now
		stamp(b, action, now, in)

		if err := m.bookings.UpdateBooking(ctx, b, from); err != nil {
			return err
		}

		note := in.Notes
		if action == ActionReject {
			note = in.Reason
		}
		if err := m.audit.RecordTransition(ctx, b.ID, from, to, actor, note); err != nil {
			return err
		}

		booking = b
		return nil
	})
	if err != nil {
		m.logger.WithFields(logrus.Fields{
			"booking_id":  bookingID,
			"action":      action,
			"actor_id":    actor.UserID,
			"actor_role":  actor.Role,
			"reason_code": models.ReasonCode(err),
		}).Debug("Booking transition refused")
		return nil, err
	}

	m.logger.WithFields(logrus.Fields{
		"booking_id": booking.ID,
		"action":     action,
		"to_status":  booking.Status,
		"actor_id":   actor.UserID,
		"actor_role": actor.Role,
	}).Info("Booking transition applied")

	return booking, nil
}

func (m *ApprovalStateMachine) sideEffect(ctx context.Context, b *models.Booking, action BookingAction, in TransitionInput) error {
	switch action {
	case ActionSubmit:
		hold, err := m.ledger.Hold(ctx, b.AccountID, b.ID, b.TotalPrice)
		if err != nil {
			return err
		}
		b.HoldID = &hold.ID

	case ActionConfirm:
		if b.HoldID == nil {
			return models.ErrHoldNotActive
		}
		hold, err := m.ledger.Consume(ctx, *b.HoldID)
		if err != nil {
			return err
		}
		if hold.Status != models.HoldStatusConsumed {
			return models.ErrHoldNotActive
		}

	case ActionReject:
		if in.Reason == nil || strings.TrimSpace(*in.Reason) == "" {
			return models.ErrRejectionReasonRequired
		}
		return m.release(ctx, b)

	case ActionCancel:
		return m.release(ctx, b)
	}
	return nil
}

func (m *ApprovalStateMachine) release(ctx context.Context, b *models.Booking) error {
	if b.HoldID == nil {
		return nil
	}
	_, err := m.ledger.Release(ctx, *b.HoldID)
	return err
}

func stamp(b *models.Booking, action BookingAction, now time.Time, in TransitionInput) {
	switch action {
	case ActionSubmit:
		b.SubmittedAt = &now
	case ActionApprove:
		b.ApprovedAt = &now
		b.ApprovalNotes = in.Notes
	case ActionForward:
		b.ForwardedAt = &now
	case ActionConfirm:
		b.ConfirmedAt = &now
		b.ConfirmationNotes = in.Notes
	case ActionReject:
		b.RejectedAt = &now
		b.RejectionReason = in.Reason
	case ActionCancel:
		b.CancelledAt = &now
	}
}

// authorize checks role and ownership: travelers act on their own bookings,
// managers inside their organization, operators anywhere
func authorize(b *models.Booking, actor models.Actor, roles []models.Role) error {
	allowed := false
	for _, r := range roles {
		if r == actor.Role {
			allowed = true
			break
		}
	}
	if !allowed {
		return models.ErrUnauthorized
	}

	switch actor.Role {
	case models.RoleTraveler:
		if actor.UserID != b.TravelerID {
			return models.ErrUnauthorized
		}
	case models.RoleManager:
		if actor.OrganizationID != b.OrganizationID {
			return models.ErrUnauthorized
		}
	}
	return nil
}

// CanView reports whether actor may read the booking
func CanView(b *models.Booking, actor models.Actor) bool {
	switch actor.Role {
	case models.RoleOperator:
		return true
	case models.RoleManager:
		return actor.OrganizationID == b.OrganizationID
	case models.RoleTraveler:
		return actor.UserID == b.TravelerID
	}
	return false
}
