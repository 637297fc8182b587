package services

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/bvodo/booking-core/internal/clock"
	"github.com/bvodo/booking-core/internal/models"
)

// CreditStore is the persistence the ledger needs. Implementations join the
// transaction carried on ctx when one is open.
type CreditStore interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
	CreateAccount(ctx context.Context, account *models.CreditAccount) error
	GetAccount(ctx context.Context, id uuid.UUID) (*models.CreditAccount, error)
	GetAccountForUpdate(ctx context.Context, id uuid.UUID) (*models.CreditAccount, error)
	FindAccount(ctx context.Context, orgID uuid.UUID, userID *uuid.UUID) (*models.CreditAccount, error)
	UpdateAccountBalances(ctx context.Context, account *models.CreditAccount) error
	CreateHold(ctx context.Context, hold *models.CreditHold) error
	GetHold(ctx context.Context, id uuid.UUID) (*models.CreditHold, error)
	GetHoldForUpdate(ctx context.Context, id uuid.UUID) (*models.CreditHold, error)
	UpdateHold(ctx context.Context, hold *models.CreditHold) error
	ListHolds(ctx context.Context, accountID uuid.UUID, status *models.CreditHoldStatus) ([]*models.CreditHold, error)
	SumActiveHolds(ctx context.Context, accountID uuid.UUID) (decimal.Decimal, int, error)
	ListHoldsRequiringReconciliation(ctx context.Context, limit int) ([]*models.CreditHold, error)
	AppendEntry(ctx context.Context, entry *models.CreditLedgerEntry) error
	ListEntries(ctx context.Context, accountID uuid.UUID, limit int) ([]*models.CreditLedgerEntry, error)
}

// CreditLedgerService reserves, releases and consumes organization credit.
// Every mutation locks the account row, so concurrent holds against one
// account are serialized and available balance never goes negative.
type CreditLedgerService struct {
	store  CreditStore
	clock  clock.Clock
	logger *logrus.Logger
}

// NewCreditLedgerService creates a new credit ledger service
func NewCreditLedgerService(store CreditStore, clk clock.Clock, logger *logrus.Logger) *CreditLedgerService {
	return &CreditLedgerService{
		store:  store,
		clock:  clk,
		logger: logger,
	}
}

// ============================================================================
// ACCOUNTS
// ============================================================================

// CreateAccount opens an organization account, or a user account when UserID is set
func (s *CreditLedgerService) CreateAccount(ctx context.Context, req *models.CreateCreditAccountRequest) (*models.CreditAccount, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	now := s.clock.Now()
	account := &models.CreditAccount{
		ID:               uuid.New(),
		OrganizationID:   req.OrganizationID,
		UserID:           req.UserID,
		Currency:         req.Currency,
		TotalLimit:       req.InitialLimit,
		AvailableBalance: req.InitialLimit,
		UsedBalance:      decimal.Zero,
		Version:          1,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	err := s.store.WithTx(ctx, func(ctx context.Context) error {
		if err := s.store.CreateAccount(ctx, account); err != nil {
			return err
		}
		if req.InitialLimit.IsPositive() {
			return s.journal(ctx, account, models.EntryTypeAllocate, req.InitialLimit, nil, nil)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{
		"account_id":      account.ID,
		"organization_id": account.OrganizationID,
		"user_id":         account.UserID,
		"total_limit":     account.TotalLimit.String(),
	}).Info("Credit account created")

	return account, nil
}

// ResolveAccount picks the account a traveler spends from: their own account
// inside the organization if one exists, otherwise the organization account
func (s *CreditLedgerService) ResolveAccount(ctx context.Context, orgID, userID uuid.UUID) (*models.CreditAccount, error) {
	account, err := s.store.FindAccount(ctx, orgID, &userID)
	if err != nil {
		return nil, err
	}
	if account != nil {
		return account, nil
	}

	account, err = s.store.FindAccount(ctx, orgID, nil)
	if err != nil {
		return nil, err
	}
	if account == nil {
		return nil, models.ErrAccountNotFound
	}
	return account, nil
}

// GetAccount returns an account
func (s *CreditLedgerService) GetAccount(ctx context.Context, accountID uuid.UUID) (*models.CreditAccount, error) {
	return s.store.GetAccount(ctx, accountID)
}

// GetBalanceSummary returns the account with its outstanding holds and
// whether the balance equation holds
func (s *CreditLedgerService) GetBalanceSummary(ctx context.Context, accountID uuid.UUID) (*models.BalanceSummary, error) {
	var summary *models.BalanceSummary
	err := s.store.WithTx(ctx, func(ctx context.Context) error {
		account, err := s.store.GetAccount(ctx, accountID)
		if err != nil {
			return err
		}
		active, count, err := s.store.SumActiveHolds(ctx, accountID)
		if err != nil {
			return err
		}
		summary = &models.BalanceSummary{
			Account:         account,
			ActiveHolds:     active,
			ActiveHoldCount: count,
			Balanced:        account.TotalLimit.Equal(account.AvailableBalance.Add(account.UsedBalance).Add(active)),
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return summary, nil
}

// ============================================================================
// HOLDS
// ============================================================================

// Hold reserves amount from the available balance for a booking
func (s *CreditLedgerService) Hold(ctx context.Context, accountID, bookingID uuid.UUID, amount decimal.Decimal) (*models.CreditHold, error) {
	if !amount.IsPositive() {
		return nil, models.ErrInvalidAmount
	}

	var hold *models.CreditHold
	err := s.store.WithTx(ctx, func(ctx context.Context) error {
		account, err := s.store.GetAccountForUpdate(ctx, accountID)
		if err != nil {
			return err
		}
		if account.AvailableBalance.LessThan(amount) {
			s.logger.WithFields(logrus.Fields{
				"account_id": accountID,
				"booking_id": bookingID,
				"requested":  amount.String(),
				"available":  account.AvailableBalance.String(),
			}).Info("Credit hold refused: insufficient credits")
			return models.ErrInsufficientCredits
		}

		now := s.clock.Now()
		hold = &models.CreditHold{
			ID:        uuid.New(),
			AccountID: accountID,
			BookingID: bookingID,
			Amount:    amount,
			Status:    models.HoldStatusActive,
			CreatedAt: now,
		}
		if err := s.store.CreateHold(ctx, hold); err != nil {
			return err
		}

		account.AvailableBalance = account.AvailableBalance.Sub(amount)
		account.UpdatedAt = now
		if err := s.store.UpdateAccountBalances(ctx, account); err != nil {
			return err
		}
		return s.journal(ctx, account, models.EntryTypeHold, amount, &hold.ID, &bookingID)
	})
	if err != nil {
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{
		"account_id": accountID,
		"booking_id": bookingID,
		"hold_id":    hold.ID,
		"amount":     amount.String(),
	}).Info("Credit hold placed")

	return hold, nil
}

// Release returns an active hold to the available balance.
// Releasing a hold that is no longer active is a no-op.
func (s *CreditLedgerService) Release(ctx context.Context, holdID uuid.UUID) (*models.CreditHold, error) {
	return s.settle(ctx, holdID, models.HoldStatusReleased)
}

// Consume turns an active hold into used balance after the provider booked.
// Consuming a hold that is no longer active is a no-op; callers check the
// returned status.
func (s *CreditLedgerService) Consume(ctx context.Context, holdID uuid.UUID) (*models.CreditHold, error) {
	return s.settle(ctx, holdID, models.HoldStatusConsumed)
}

func (s *CreditLedgerService) settle(ctx context.Context, holdID uuid.UUID, to models.CreditHoldStatus) (*models.CreditHold, error) {
	var hold *models.CreditHold
	changed := false

	err := s.store.WithTx(ctx, func(ctx context.Context) error {
		peek, err := s.store.GetHold(ctx, holdID)
		if err != nil {
			return err
		}

		// account first, then hold: same lock order as Hold
		account, err := s.store.GetAccountForUpdate(ctx, peek.AccountID)
		if err != nil {
			return err
		}
		hold, err = s.store.GetHoldForUpdate(ctx, holdID)
		if err != nil {
			return err
		}
		if !hold.IsActive() {
			return nil
		}

		now := s.clock.Now()
		hold.Status = to
		entryType := models.EntryTypeRelease
		switch to {
		case models.HoldStatusReleased:
			hold.ReleasedAt = &now
			account.AvailableBalance = account.AvailableBalance.Add(hold.Amount)
		case models.HoldStatusConsumed:
			hold.ConsumedAt = &now
			account.UsedBalance = account.UsedBalance.Add(hold.Amount)
			entryType = models.EntryTypeConsume
		default:
			return fmt.Errorf("unsupported hold transition to %s", to)
		}

		if err := s.store.UpdateHold(ctx, hold); err != nil {
			return err
		}
		account.UpdatedAt = now
		if err := s.store.UpdateAccountBalances(ctx, account); err != nil {
			return err
		}
		changed = true
		return s.journal(ctx, account, entryType, hold.Amount, &hold.ID, &hold.BookingID)
	})
	if err != nil {
		return nil, err
	}

	entry := s.logger.WithFields(logrus.Fields{
		"hold_id":    hold.ID,
		"booking_id": hold.BookingID,
		"status":     hold.Status,
	})
	if changed {
		entry.WithField("amount", hold.Amount.String()).Infof("Credit hold %s", to)
	} else {
		entry.Debugf("Credit hold already settled, %s skipped", to)
	}

	return hold, nil
}

// GetHold returns a hold
func (s *CreditLedgerService) GetHold(ctx context.Context, holdID uuid.UUID) (*models.CreditHold, error) {
	return s.store.GetHold(ctx, holdID)
}

// ListHolds lists the holds of an account, optionally by status
func (s *CreditLedgerService) ListHolds(ctx context.Context, accountID uuid.UUID, status *models.CreditHoldStatus) ([]*models.CreditHold, error) {
	return s.store.ListHolds(ctx, accountID, status)
}

// ListHoldsRequiringReconciliation lists holds voided by a reset whose
// bookings may still be live
func (s *CreditLedgerService) ListHoldsRequiringReconciliation(ctx context.Context, limit int) ([]*models.CreditHold, error) {
	return s.store.ListHoldsRequiringReconciliation(ctx, limit)
}

// ============================================================================
// LIMIT ADMINISTRATION
// ============================================================================

// Allocate sets the limit to amount or adds amount to it. With set, the
// available balance becomes the new limit minus used balance and active holds.
func (s *CreditLedgerService) Allocate(ctx context.Context, accountID uuid.UUID, amount decimal.Decimal, op models.AllocationOperation) (*models.CreditAccount, error) {
	switch op {
	case models.AllocationSet:
		if amount.IsNegative() {
			return nil, models.ErrInvalidAmount
		}
	case models.AllocationAdd:
		if !amount.IsPositive() {
			return nil, models.ErrInvalidAmount
		}
	default:
		return nil, models.ValidationError("unknown allocation operation %q", op)
	}

	var account *models.CreditAccount
	err := s.store.WithTx(ctx, func(ctx context.Context) error {
		var err error
		account, err = s.store.GetAccountForUpdate(ctx, accountID)
		if err != nil {
			return err
		}

		if op == models.AllocationSet {
			active, _, err := s.store.SumActiveHolds(ctx, accountID)
			if err != nil {
				return err
			}
			available := amount.Sub(account.UsedBalance).Sub(active)
			if available.IsNegative() {
				return models.ErrInvalidAmount
			}
			account.TotalLimit = amount
			account.AvailableBalance = available
		} else {
			account.TotalLimit = account.TotalLimit.Add(amount)
			account.AvailableBalance = account.AvailableBalance.Add(amount)
		}

		account.UpdatedAt = s.clock.Now()
		if err := s.store.UpdateAccountBalances(ctx, account); err != nil {
			return err
		}
		return s.journal(ctx, account, models.EntryTypeAllocate, amount, nil, nil)
	})
	if err != nil {
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{
		"account_id":  accountID,
		"operation":   op,
		"amount":      amount.String(),
		"total_limit": account.TotalLimit.String(),
	}).Info("Credit allocated")

	return account, nil
}

// Reduce lowers the limit by amount, taken from the available balance only
func (s *CreditLedgerService) Reduce(ctx context.Context, accountID uuid.UUID, amount decimal.Decimal) (*models.CreditAccount, error) {
	if !amount.IsPositive() {
		return nil, models.ErrInvalidAmount
	}

	var account *models.CreditAccount
	err := s.store.WithTx(ctx, func(ctx context.Context) error {
		var err error
		account, err = s.store.GetAccountForUpdate(ctx, accountID)
		if err != nil {
			return err
		}
		if amount.GreaterThan(account.AvailableBalance) {
			return models.ErrInsufficientAvailableBalance
		}

		account.TotalLimit = account.TotalLimit.Sub(amount)
		account.AvailableBalance = account.AvailableBalance.Sub(amount)
		account.UpdatedAt = s.clock.Now()
		if err := s.store.UpdateAccountBalances(ctx, account); err != nil {
			return err
		}
		return s.journal(ctx, account, models.EntryTypeReduce, amount, nil, nil)
	})
	if err != nil {
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{
		"account_id":  accountID,
		"amount":      amount.String(),
		"total_limit": account.TotalLimit.String(),
	}).Info("Credit reduced")

	return account, nil
}

// Reset zeroes every balance. Active holds are voided: they are released
// without returning funds and flagged for reconciliation against their bookings.
func (s *CreditLedgerService) Reset(ctx context.Context, accountID uuid.UUID) (*models.CreditAccount, int, error) {
	var (
		account *models.CreditAccount
		voided  []*models.CreditHold
	)

	err := s.store.WithTx(ctx, func(ctx context.Context) error {
		var err error
		account, err = s.store.GetAccountForUpdate(ctx, accountID)
		if err != nil {
			return err
		}

		active := models.HoldStatusActive
		holds, err := s.store.ListHolds(ctx, accountID, &active)
		if err != nil {
			return err
		}

		now := s.clock.Now()
		account.TotalLimit = decimal.Zero
		account.AvailableBalance = decimal.Zero
		account.UsedBalance = decimal.Zero
		account.UpdatedAt = now

		for _, h := range holds {
			h.Status = models.HoldStatusReleased
			h.Voided = true
			h.ReleasedAt = &now
			if err := s.store.UpdateHold(ctx, h); err != nil {
				return err
			}
			if err := s.journal(ctx, account, models.EntryTypeVoid, h.Amount, &h.ID, &h.BookingID); err != nil {
				return err
			}
		}
		voided = holds

		if err := s.store.UpdateAccountBalances(ctx, account); err != nil {
			return err
		}
		return s.journal(ctx, account, models.EntryTypeReset, decimal.Zero, nil, nil)
	})
	if err != nil {
		return nil, 0, err
	}

	fields := logrus.Fields{
		"account_id":   accountID,
		"voided_holds": len(voided),
	}
	if len(voided) > 0 {
		bookingIDs := make([]string, 0, len(voided))
		for _, h := range voided {
			bookingIDs = append(bookingIDs, h.BookingID.String())
		}
		fields["booking_ids"] = bookingIDs
		s.logger.WithFields(fields).Warn("Credit account reset voided active holds, bookings need reconciliation")
	} else {
		s.logger.WithFields(fields).Info("Credit account reset")
	}

	return account, len(voided), nil
}

// ListEntries returns the newest journal rows of an account
func (s *CreditLedgerService) ListEntries(ctx context.Context, accountID uuid.UUID, limit int) ([]*models.CreditLedgerEntry, error) {
	if _, err := s.store.GetAccount(ctx, accountID); err != nil {
		return nil, err
	}
	return s.store.ListEntries(ctx, accountID, limit)
}

func (s *CreditLedgerService) journal(
	ctx context.Context,
	account *models.CreditAccount,
	entryType models.CreditEntryType,
	amount decimal.Decimal,
	holdID, bookingID *uuid.UUID,
) error {
	return s.store.AppendEntry(ctx, &models.CreditLedgerEntry{
		ID:              uuid.New(),
		AccountID:       account.ID,
		HoldID:          holdID,
		BookingID:       bookingID,
		EntryType:       entryType,
		Amount:          amount,
		TotalLimitAfter: account.TotalLimit,
		AvailableAfter:  account.AvailableBalance,
		UsedAfter:       account.UsedBalance,
		CreatedAt:       s.clock.Now(),
	})
}
