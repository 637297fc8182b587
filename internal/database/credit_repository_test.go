package database

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bvodo/booking-core/internal/models"
)

func newMockTxManager(t *testing.T) (*TxManager, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewTxManager(sqlx.NewDb(db, "postgres")), mock
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logger
}

func anyArgs(n int) []driver.Value {
	args := make([]driver.Value, n)
	for i := range args {
		args[i] = sqlmock.AnyArg()
	}
	return args
}

var creditAccountRowColumns = []string{
	"id", "organization_id", "user_id", "currency",
	"total_limit", "available_balance", "used_balance",
	"version", "created_at", "updated_at",
}

func TestCreditRepository_CreateAccount(t *testing.T) {
	tm, mock := newMockTxManager(t)
	repo := NewCreditRepository(tm, quietLogger())
	ctx := context.Background()

	account := &models.CreditAccount{
		ID:             uuid.New(),
		OrganizationID: uuid.New(),
		Currency:       "USD",
		TotalLimit:     decimal.Zero,
		CreatedAt:      time.Now(),
		UpdatedAt:      time.Now(),
	}

	t.Run("Success", func(t *testing.T) {
		mock.ExpectExec(`INSERT INTO credit_accounts`).
			WithArgs(anyArgs(10)...).
			WillReturnResult(sqlmock.NewResult(0, 1))

		require.NoError(t, repo.CreateAccount(ctx, account))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Duplicate Account", func(t *testing.T) {
		mock.ExpectExec(`INSERT INTO credit_accounts`).
			WithArgs(anyArgs(10)...).
			WillReturnError(&pq.Error{Code: "23505", Constraint: "credit_accounts_user_unique"})

		err := repo.CreateAccount(ctx, account)
		assert.ErrorIs(t, err, models.ErrAccountExists)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Database Error", func(t *testing.T) {
		mock.ExpectExec(`INSERT INTO credit_accounts`).
			WithArgs(anyArgs(10)...).
			WillReturnError(fmt.Errorf("connection reset"))

		err := repo.CreateAccount(ctx, account)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to create credit account")
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestCreditRepository_GetAccount(t *testing.T) {
	tm, mock := newMockTxManager(t)
	repo := NewCreditRepository(tm, quietLogger())
	ctx := context.Background()

	t.Run("Found", func(t *testing.T) {
		id := uuid.New()
		orgID := uuid.New()
		now := time.Now()

		mock.ExpectQuery(`SELECT .* FROM credit_accounts WHERE id = \$1`).
			WithArgs(id).
			WillReturnRows(sqlmock.NewRows(creditAccountRowColumns).AddRow(
				id.String(), orgID.String(), nil, "USD",
				"1000.00", "750.50", "249.50",
				int64(3), now, now,
			))

		account, err := repo.GetAccount(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, id, account.ID)
		assert.Equal(t, orgID, account.OrganizationID)
		assert.Nil(t, account.UserID)
		assert.True(t, account.TotalLimit.Equal(decimal.RequireFromString("1000")))
		assert.True(t, account.AvailableBalance.Equal(decimal.RequireFromString("750.5")))
		assert.True(t, account.UsedBalance.Equal(decimal.RequireFromString("249.5")))
		assert.Equal(t, int64(3), account.Version)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Not Found", func(t *testing.T) {
		id := uuid.New()
		mock.ExpectQuery(`SELECT .* FROM credit_accounts WHERE id = \$1`).
			WithArgs(id).
			WillReturnRows(sqlmock.NewRows(creditAccountRowColumns))

		account, err := repo.GetAccount(ctx, id)
		assert.Nil(t, account)
		assert.ErrorIs(t, err, models.ErrAccountNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("FindAccount Missing Returns Nil", func(t *testing.T) {
		orgID := uuid.New()
		mock.ExpectQuery(`FROM credit_accounts WHERE organization_id = \$1 AND user_id IS NULL`).
			WithArgs(orgID).
			WillReturnRows(sqlmock.NewRows(creditAccountRowColumns))

		account, err := repo.FindAccount(ctx, orgID, nil)
		assert.NoError(t, err)
		assert.Nil(t, account)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestCreditRepository_LockAndUpdateBalances(t *testing.T) {
	ctx := context.Background()

	t.Run("Requires Transaction", func(t *testing.T) {
		tm, mock := newMockTxManager(t)
		repo := NewCreditRepository(tm, quietLogger())

		_, err := repo.GetAccountForUpdate(ctx, uuid.New())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "requires a transaction")
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Locks Row And Bumps Version", func(t *testing.T) {
		tm, mock := newMockTxManager(t)
		repo := NewCreditRepository(tm, quietLogger())
		id := uuid.New()
		now := time.Now()

		mock.ExpectBegin()
		mock.ExpectQuery(`SELECT .* FROM credit_accounts WHERE id = \$1 FOR UPDATE`).
			WithArgs(id).
			WillReturnRows(sqlmock.NewRows(creditAccountRowColumns).AddRow(
				id.String(), uuid.New().String(), nil, "USD",
				"500", "500", "0",
				int64(1), now, now,
			))
		mock.ExpectExec(`UPDATE credit_accounts`).
			WithArgs(id, sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), int64(1)).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		var version int64
		err := repo.WithTx(ctx, func(ctx context.Context) error {
			account, err := repo.GetAccountForUpdate(ctx, id)
			if err != nil {
				return err
			}
			account.AvailableBalance = account.AvailableBalance.Sub(decimal.NewFromInt(120))
			account.UsedBalance = account.UsedBalance.Add(decimal.NewFromInt(120))
			if err := repo.UpdateAccountBalances(ctx, account); err != nil {
				return err
			}
			version = account.Version
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, int64(2), version)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Concurrent Modification", func(t *testing.T) {
		tm, mock := newMockTxManager(t)
		repo := NewCreditRepository(tm, quietLogger())
		account := &models.CreditAccount{ID: uuid.New(), Version: 4}

		mock.ExpectExec(`UPDATE credit_accounts`).
			WithArgs(anyArgs(6)...).
			WillReturnResult(sqlmock.NewResult(0, 0))

		err := repo.UpdateAccountBalances(ctx, account)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "modified concurrently")
		assert.Equal(t, int64(4), account.Version)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestCreditRepository_Holds(t *testing.T) {
	tm, mock := newMockTxManager(t)
	repo := NewCreditRepository(tm, quietLogger())
	ctx := context.Background()

	t.Run("UpdateHold Only Moves Active Holds", func(t *testing.T) {
		now := time.Now()
		hold := &models.CreditHold{
			ID:         uuid.New(),
			Status:     models.HoldStatusReleased,
			ReleasedAt: &now,
		}

		mock.ExpectExec(`UPDATE credit_holds .* WHERE id = \$1 AND status = 'active'`).
			WithArgs(anyArgs(5)...).
			WillReturnResult(sqlmock.NewResult(0, 0))

		err := repo.UpdateHold(ctx, hold)
		assert.ErrorIs(t, err, models.ErrHoldNotActive)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("SumActiveHolds", func(t *testing.T) {
		accountID := uuid.New()
		mock.ExpectQuery(`SELECT COALESCE\(SUM\(amount\), 0\) AS total, COUNT\(\*\) AS count`).
			WithArgs(accountID).
			WillReturnRows(sqlmock.NewRows([]string{"total", "count"}).AddRow("340.25", int64(2)))

		total, count, err := repo.SumActiveHolds(ctx, accountID)
		require.NoError(t, err)
		assert.True(t, total.Equal(decimal.RequireFromString("340.25")))
		assert.Equal(t, 2, count)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("AppendEntry Fills Identity", func(t *testing.T) {
		entry := &models.CreditLedgerEntry{AccountID: uuid.New(), Amount: decimal.NewFromInt(10)}

		mock.ExpectExec(`INSERT INTO credit_ledger_entries`).
			WithArgs(anyArgs(10)...).
			WillReturnResult(sqlmock.NewResult(0, 1))

		require.NoError(t, repo.AppendEntry(ctx, entry))
		assert.NotEqual(t, uuid.Nil, entry.ID)
		assert.False(t, entry.CreatedAt.IsZero())
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestTxManager_WithTx(t *testing.T) {
	ctx := context.Background()

	t.Run("Rolls Back On Error", func(t *testing.T) {
		tm, mock := newMockTxManager(t)
		boom := errors.New("boom")

		mock.ExpectBegin()
		mock.ExpectRollback()

		err := tm.WithTx(ctx, func(ctx context.Context) error {
			assert.True(t, inTx(ctx))
			return boom
		})
		assert.ErrorIs(t, err, boom)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Nested Calls Join The Outer Transaction", func(t *testing.T) {
		tm, mock := newMockTxManager(t)

		mock.ExpectBegin()
		mock.ExpectCommit()

		calls := 0
		err := tm.WithTx(ctx, func(ctx context.Context) error {
			return tm.WithTx(ctx, func(ctx context.Context) error {
				calls++
				return nil
			})
		})
		require.NoError(t, err)
		assert.Equal(t, 1, calls)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Begin Failure", func(t *testing.T) {
		tm, mock := newMockTxManager(t)
		mock.ExpectBegin().WillReturnError(fmt.Errorf("too many connections"))

		err := tm.WithTx(ctx, func(ctx context.Context) error {
			t.Fatal("fn must not run")
			return nil
		})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to begin transaction")
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}
