package services

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bvodo/booking-core/internal/clock"
	"github.com/bvodo/booking-core/internal/database/memstore"
	"github.com/bvodo/booking-core/internal/models"
)

type machineFixture struct {
	store    *memstore.Store
	ledger   *CreditLedgerService
	audit    *AuditService
	machine  *ApprovalStateMachine
	account  *models.CreditAccount
	orgID    uuid.UUID
	traveler models.Actor
	manager  models.Actor
	operator models.Actor
}

func setupMachineTest(t *testing.T) *machineFixture {
	t.Helper()
	store := memstore.New()
	clk := clock.NewManual(testStart)
	logger := newTestLogger()

	ledger := NewCreditLedgerService(store, clk, logger)
	audit := NewAuditService(store, clk, logger)
	orgID := uuid.New()

	account, err := ledger.CreateAccount(context.Background(), &models.CreateCreditAccountRequest{
		OrganizationID: orgID,
		Currency:       "USD",
		InitialLimit:   decimal.NewFromInt(10000),
	})
	require.NoError(t, err)

	return &machineFixture{
		store:    store,
		ledger:   ledger,
		audit:    audit,
		machine:  NewApprovalStateMachine(store, ledger, audit, clk, logger),
		account:  account,
		orgID:    orgID,
		traveler: models.Actor{UserID: uuid.New(), OrganizationID: orgID, Role: models.RoleTraveler, UserAgent: "Mozilla/5.0 (Windows NT 10.0; Win64; x64)"},
		manager:  models.Actor{UserID: uuid.New(), OrganizationID: orgID, Role: models.RoleManager},
		operator: models.Actor{UserID: uuid.New(), OrganizationID: uuid.New(), Role: models.RoleOperator},
	}
}

// seedBooking stores a booking directly in status, with an active hold when
// the status is one that carries funds
func (f *machineFixture) seedBooking(t *testing.T, status models.BookingStatus) *models.Booking {
	t.Helper()
	ctx := context.Background()

	b := &models.Booking{
		ID:             uuid.New(),
		OrganizationID: f.orgID,
		TravelerID:     f.traveler.UserID,
		AccountID:      f.account.ID,
		Type:           models.BookingTypeFlight,
		Status:         status,
		TotalPrice:     decimal.NewFromInt(100),
		Currency:       "USD",
		Guests:         models.GuestList{{GivenName: "Ada", FamilyName: "Lovelace"}},
		Contact:        models.Contact{Email: "ada@example.com"},
		Version:        1,
		CreatedAt:      testStart,
		UpdatedAt:      testStart,
	}
	b.IdempotencyKey = b.ID.String()

	switch status {
	case models.BookingStatusPendingApproval, models.BookingStatusApproved, models.BookingStatusAwaitingConfirmation:
		hold, err := f.ledger.Hold(ctx, f.account.ID, b.ID, b.TotalPrice)
		require.NoError(t, err)
		b.HoldID = &hold.ID
	}

	require.NoError(t, f.store.CreateBooking(ctx, b))
	return b
}

func (f *machineFixture) actorFor(action BookingAction) models.Actor {
	switch action {
	case ActionSubmit, ActionCancel:
		return f.traveler
	case ActionConfirm:
		return f.operator
	}
	return f.manager
}

func TestApprovalStateMachine_TransitionClosure(t *testing.T) {
	reason := "policy"

	for _, status := range models.AllBookingStatuses {
		for _, action := range AllBookingActions {
			status, action := status, action
			t.Run(string(status)+"/"+string(action), func(t *testing.T) {
				f := setupMachineTest(t)
				ctx := context.Background()
				b := f.seedBooking(t, status)

				before, err := f.ledger.GetBalanceSummary(ctx, f.account.ID)
				require.NoError(t, err)

				updated, err := f.machine.Apply(ctx, b.ID, action, f.actorFor(action), TransitionInput{Reason: &reason})

				want, allowed := f.machine.Next(status, action)
				stored, getErr := f.store.GetBooking(ctx, b.ID)
				require.NoError(t, getErr)

				if !allowed {
					assert.ErrorIs(t, err, models.ErrInvalidStateTransition)
					assert.Equal(t, status, stored.Status)

					after, err := f.ledger.GetBalanceSummary(ctx, f.account.ID)
					require.NoError(t, err)
					assert.True(t, before.Account.AvailableBalance.Equal(after.Account.AvailableBalance))

					history, err := f.audit.GetHistory(ctx, b.ID)
					require.NoError(t, err)
					assert.Empty(t, history)
					return
				}

				require.NoError(t, err)
				assert.Equal(t, want, updated.Status)
				assert.Equal(t, want, stored.Status)

				history, err := f.audit.GetHistory(ctx, b.ID)
				require.NoError(t, err)
				require.Len(t, history, 1)
				assert.Equal(t, status, *history[0].FromStatus)
				assert.Equal(t, want, *history[0].ToStatus)

				summary, err := f.ledger.GetBalanceSummary(ctx, f.account.ID)
				require.NoError(t, err)
				assert.True(t, summary.Balanced)
			})
		}
	}
}

func TestApprovalStateMachine_SideEffects(t *testing.T) {
	ctx := context.Background()

	t.Run("submit holds and confirm consumes", func(t *testing.T) {
		f := setupMachineTest(t)
		b := f.seedBooking(t, models.BookingStatusDraft)

		b, err := f.machine.Apply(ctx, b.ID, ActionSubmit, f.traveler, TransitionInput{})
		require.NoError(t, err)
		require.NotNil(t, b.HoldID)
		require.NotNil(t, b.SubmittedAt)

		_, err = f.machine.Apply(ctx, b.ID, ActionApprove, f.manager, TransitionInput{})
		require.NoError(t, err)
		_, err = f.machine.Apply(ctx, b.ID, ActionForward, f.manager, TransitionInput{})
		require.NoError(t, err)

		notes := "ticketed"
		b, err = f.machine.Apply(ctx, b.ID, ActionConfirm, f.operator, TransitionInput{Notes: &notes})
		require.NoError(t, err)
		assert.Equal(t, &notes, b.ConfirmationNotes)

		hold, err := f.ledger.GetHold(ctx, *b.HoldID)
		require.NoError(t, err)
		assert.Equal(t, models.HoldStatusConsumed, hold.Status)

		summary, err := f.ledger.GetBalanceSummary(ctx, f.account.ID)
		require.NoError(t, err)
		assert.True(t, decimal.NewFromInt(100).Equal(summary.Account.UsedBalance))
	})

	t.Run("reject requires a reason and releases", func(t *testing.T) {
		f := setupMachineTest(t)
		b := f.seedBooking(t, models.BookingStatusPendingApproval)

		_, err := f.machine.Apply(ctx, b.ID, ActionReject, f.manager, TransitionInput{})
		assert.ErrorIs(t, err, models.ErrRejectionReasonRequired)

		blank := "   "
		_, err = f.machine.Apply(ctx, b.ID, ActionReject, f.manager, TransitionInput{Reason: &blank})
		assert.ErrorIs(t, err, models.ErrRejectionReasonRequired)

		reason := "over budget"
		b, err = f.machine.Apply(ctx, b.ID, ActionReject, f.manager, TransitionInput{Reason: &reason})
		require.NoError(t, err)
		assert.Equal(t, &reason, b.RejectionReason)

		hold, err := f.ledger.GetHold(ctx, *b.HoldID)
		require.NoError(t, err)
		assert.Equal(t, models.HoldStatusReleased, hold.Status)

		account, err := f.ledger.GetAccount(ctx, f.account.ID)
		require.NoError(t, err)
		assert.True(t, decimal.NewFromInt(10000).Equal(account.AvailableBalance))
	})

	t.Run("confirm without an active hold fails and keeps status", func(t *testing.T) {
		f := setupMachineTest(t)
		b := f.seedBooking(t, models.BookingStatusAwaitingConfirmation)

		_, err := f.ledger.Release(ctx, *b.HoldID)
		require.NoError(t, err)

		_, err = f.machine.Apply(ctx, b.ID, ActionConfirm, f.operator, TransitionInput{})
		assert.ErrorIs(t, err, models.ErrHoldNotActive)

		stored, err := f.store.GetBooking(ctx, b.ID)
		require.NoError(t, err)
		assert.Equal(t, models.BookingStatusAwaitingConfirmation, stored.Status)
	})

	t.Run("insufficient credits leaves the draft untouched", func(t *testing.T) {
		f := setupMachineTest(t)
		_, err := f.ledger.Reduce(ctx, f.account.ID, decimal.NewFromInt(9950))
		require.NoError(t, err)

		b := f.seedBooking(t, models.BookingStatusDraft)
		_, err = f.machine.Apply(ctx, b.ID, ActionSubmit, f.traveler, TransitionInput{})
		assert.ErrorIs(t, err, models.ErrInsufficientCredits)

		stored, err := f.store.GetBooking(ctx, b.ID)
		require.NoError(t, err)
		assert.Equal(t, models.BookingStatusDraft, stored.Status)
		assert.Nil(t, stored.HoldID)
	})
}

func TestApprovalStateMachine_Authorization(t *testing.T) {
	ctx := context.Background()
	f := setupMachineTest(t)
	b := f.seedBooking(t, models.BookingStatusPendingApproval)

	otherOrgManager := models.Actor{UserID: uuid.New(), OrganizationID: uuid.New(), Role: models.RoleManager}
	otherTraveler := models.Actor{UserID: uuid.New(), OrganizationID: f.orgID, Role: models.RoleTraveler}

	tests := []struct {
		name   string
		action BookingAction
		actor  models.Actor
	}{
		{"traveler cannot approve", ActionApprove, f.traveler},
		{"operator cannot approve", ActionApprove, f.operator},
		{"manager of another organization", ActionApprove, otherOrgManager},
		{"traveler cancelling someone else's booking", ActionCancel, otherTraveler},
		{"manager cannot cancel", ActionCancel, f.manager},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.machine.Apply(ctx, b.ID, tt.action, tt.actor, TransitionInput{})
			assert.ErrorIs(t, err, models.ErrUnauthorized)
		})
	}

	// an operator from any organization may reject
	reason := "supplier blacklist"
	rejected, err := f.machine.Apply(ctx, b.ID, ActionReject, f.operator, TransitionInput{Reason: &reason})
	require.NoError(t, err)
	assert.Equal(t, models.BookingStatusRejected, rejected.Status)

	stored, err := f.store.GetBooking(ctx, b.ID)
	require.NoError(t, err)
	assert.True(t, CanView(stored, f.traveler))
	assert.False(t, CanView(stored, otherTraveler))
	assert.False(t, CanView(stored, otherOrgManager))
	assert.True(t, CanView(stored, f.operator))
}
