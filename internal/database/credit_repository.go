package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/bvodo/booking-core/internal/models"
)

// CreditRepository persists credit accounts, holds and the credit journal
type CreditRepository struct {
	*TxManager
	logger *logrus.Logger
}

// NewCreditRepository creates a new credit repository
func NewCreditRepository(tm *TxManager, logger *logrus.Logger) *CreditRepository {
	return &CreditRepository{
		TxManager: tm,
		logger:    logger,
	}
}

const creditAccountColumns = `
	id, organization_id, user_id, currency,
	total_limit, available_balance, used_balance,
	version, created_at, updated_at`

const creditHoldColumns = `
	id, account_id, booking_id, amount, status, voided,
	created_at, released_at, consumed_at`

// ============================================================================
// ACCOUNTS
// ============================================================================

// CreateAccount inserts a new credit account
func (r *CreditRepository) CreateAccount(ctx context.Context, account *models.CreditAccount) error {
	query := `
		INSERT INTO credit_accounts (
			id, organization_id, user_id, currency,
			total_limit, available_balance, used_balance,
			version, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	_, err := r.conn(ctx).ExecContext(ctx, query,
		account.ID, account.OrganizationID, account.UserID, account.Currency,
		account.TotalLimit, account.AvailableBalance, account.UsedBalance,
		account.Version, account.CreatedAt, account.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err, "") {
			return models.ErrAccountExists
		}
		return fmt.Errorf("failed to create credit account: %w", err)
	}
	return nil
}

// GetAccount retrieves an account by ID
func (r *CreditRepository) GetAccount(ctx context.Context, id uuid.UUID) (*models.CreditAccount, error) {
	return r.getAccount(ctx, `SELECT `+creditAccountColumns+` FROM credit_accounts WHERE id = $1`, id)
}

// GetAccountForUpdate retrieves an account and locks its row until the transaction ends
func (r *CreditRepository) GetAccountForUpdate(ctx context.Context, id uuid.UUID) (*models.CreditAccount, error) {
	if !inTx(ctx) {
		return nil, fmt.Errorf("GetAccountForUpdate requires a transaction")
	}
	return r.getAccount(ctx, `SELECT `+creditAccountColumns+` FROM credit_accounts WHERE id = $1 FOR UPDATE`, id)
}

func (r *CreditRepository) getAccount(ctx context.Context, query string, id uuid.UUID) (*models.CreditAccount, error) {
	var account models.CreditAccount
	err := sqlx.GetContext(ctx, r.conn(ctx), &account, query, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, models.ErrAccountNotFound
		}
		return nil, fmt.Errorf("failed to get credit account: %w", err)
	}
	return &account, nil
}

// FindAccount looks up the account of a user inside an organization, or the
// organization account when userID is nil. Returns nil, nil when none exists.
func (r *CreditRepository) FindAccount(ctx context.Context, orgID uuid.UUID, userID *uuid.UUID) (*models.CreditAccount, error) {
	var (
		account models.CreditAccount
		err     error
	)
	if userID == nil {
		err = sqlx.GetContext(ctx, r.conn(ctx), &account,
			`SELECT `+creditAccountColumns+` FROM credit_accounts WHERE organization_id = $1 AND user_id IS NULL`, orgID)
	} else {
		err = sqlx.GetContext(ctx, r.conn(ctx), &account,
			`SELECT `+creditAccountColumns+` FROM credit_accounts WHERE organization_id = $1 AND user_id = $2`, orgID, *userID)
	}
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find credit account: %w", err)
	}
	return &account, nil
}

// UpdateAccountBalances writes the three balances and bumps the version.
// The row must have been locked with GetAccountForUpdate in the same transaction.
func (r *CreditRepository) UpdateAccountBalances(ctx context.Context, account *models.CreditAccount) error {
	query := `
		UPDATE credit_accounts
		SET total_limit = $2,
			available_balance = $3,
			used_balance = $4,
			version = version + 1,
			updated_at = $5
		WHERE id = $1 AND version = $6`

	result, err := r.conn(ctx).ExecContext(ctx, query,
		account.ID, account.TotalLimit, account.AvailableBalance, account.UsedBalance,
		account.UpdatedAt, account.Version,
	)
	if err != nil {
		return fmt.Errorf("failed to update credit account: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("credit account %s was modified concurrently", account.ID)
	}

	account.Version++
	return nil
}

// ============================================================================
// HOLDS
// ============================================================================

// CreateHold inserts a new hold
func (r *CreditRepository) CreateHold(ctx context.Context, hold *models.CreditHold) error {
	query := `
		INSERT INTO credit_holds (
			id, account_id, booking_id, amount, status, voided, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err := r.conn(ctx).ExecContext(ctx, query,
		hold.ID, hold.AccountID, hold.BookingID, hold.Amount, hold.Status, hold.Voided, hold.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create credit hold: %w", err)
	}
	return nil
}

// GetHold retrieves a hold by ID
func (r *CreditRepository) GetHold(ctx context.Context, id uuid.UUID) (*models.CreditHold, error) {
	return r.getHold(ctx, `SELECT `+creditHoldColumns+` FROM credit_holds WHERE id = $1`, id)
}

// GetHoldForUpdate retrieves a hold and locks its row
func (r *CreditRepository) GetHoldForUpdate(ctx context.Context, id uuid.UUID) (*models.CreditHold, error) {
	if !inTx(ctx) {
		return nil, fmt.Errorf("GetHoldForUpdate requires a transaction")
	}
	return r.getHold(ctx, `SELECT `+creditHoldColumns+` FROM credit_holds WHERE id = $1 FOR UPDATE`, id)
}

func (r *CreditRepository) getHold(ctx context.Context, query string, id uuid.UUID) (*models.CreditHold, error) {
	var hold models.CreditHold
	err := sqlx.GetContext(ctx, r.conn(ctx), &hold, query, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, models.ErrHoldNotFound
		}
		return nil, fmt.Errorf("failed to get credit hold: %w", err)
	}
	return &hold, nil
}

// UpdateHold moves an active hold to its new state. Only active holds can change.
func (r *CreditRepository) UpdateHold(ctx context.Context, hold *models.CreditHold) error {
	query := `
		UPDATE credit_holds
		SET status = $2,
			voided = $3,
			released_at = $4,
			consumed_at = $5
		WHERE id = $1 AND status = 'active'`

	result, err := r.conn(ctx).ExecContext(ctx, query,
		hold.ID, hold.Status, hold.Voided, hold.ReleasedAt, hold.ConsumedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update credit hold: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return models.ErrHoldNotActive
	}
	return nil
}

// ListHolds lists the holds of an account, optionally filtered by status
func (r *CreditRepository) ListHolds(ctx context.Context, accountID uuid.UUID, status *models.CreditHoldStatus) ([]*models.CreditHold, error) {
	query := `SELECT ` + creditHoldColumns + ` FROM credit_holds WHERE account_id = $1`
	args := []interface{}{accountID}
	if status != nil {
		query += ` AND status = $2`
		args = append(args, *status)
	}
	query += ` ORDER BY created_at ASC`

	holds := []*models.CreditHold{}
	if err := sqlx.SelectContext(ctx, r.conn(ctx), &holds, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list credit holds: %w", err)
	}
	return holds, nil
}

// SumActiveHolds returns the total and count of active holds on an account
func (r *CreditRepository) SumActiveHolds(ctx context.Context, accountID uuid.UUID) (decimal.Decimal, int, error) {
	var row struct {
		Total decimal.Decimal `db:"total"`
		Count int             `db:"count"`
	}
	query := `
		SELECT COALESCE(SUM(amount), 0) AS total, COUNT(*) AS count
		FROM credit_holds
		WHERE account_id = $1 AND status = 'active'`

	if err := sqlx.GetContext(ctx, r.conn(ctx), &row, query, accountID); err != nil {
		return decimal.Zero, 0, fmt.Errorf("failed to sum active holds: %w", err)
	}
	return row.Total, row.Count, nil
}

// ListHoldsRequiringReconciliation lists holds voided by an account reset
func (r *CreditRepository) ListHoldsRequiringReconciliation(ctx context.Context, limit int) ([]*models.CreditHold, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT ` + creditHoldColumns + `
		FROM credit_holds
		WHERE voided = TRUE
		ORDER BY released_at DESC
		LIMIT $1`

	holds := []*models.CreditHold{}
	if err := sqlx.SelectContext(ctx, r.conn(ctx), &holds, query, limit); err != nil {
		return nil, fmt.Errorf("failed to list voided holds: %w", err)
	}
	return holds, nil
}

// ============================================================================
// JOURNAL
// ============================================================================

// AppendEntry writes a journal row
func (r *CreditRepository) AppendEntry(ctx context.Context, entry *models.CreditLedgerEntry) error {
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}

	query := `
		INSERT INTO credit_ledger_entries (
			id, account_id, hold_id, booking_id, entry_type, amount,
			total_limit_after, available_after, used_after, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	_, err := r.conn(ctx).ExecContext(ctx, query,
		entry.ID, entry.AccountID, entry.HoldID, entry.BookingID, entry.EntryType, entry.Amount,
		entry.TotalLimitAfter, entry.AvailableAfter, entry.UsedAfter, entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to append credit ledger entry: %w", err)
	}
	return nil
}

// ListEntries returns the most recent journal rows of an account, newest first
func (r *CreditRepository) ListEntries(ctx context.Context, accountID uuid.UUID, limit int) ([]*models.CreditLedgerEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
		SELECT id, account_id, hold_id, booking_id, entry_type, amount,
			total_limit_after, available_after, used_after, created_at
		FROM credit_ledger_entries
		WHERE account_id = $1
		ORDER BY created_at DESC
		LIMIT $2`

	entries := []*models.CreditLedgerEntry{}
	if err := sqlx.SelectContext(ctx, r.conn(ctx), &entries, query, accountID, limit); err != nil {
		return nil, fmt.Errorf("failed to list credit ledger entries: %w", err)
	}
	return entries, nil
}
