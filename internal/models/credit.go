package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ============================================================================
// CREDIT ACCOUNTS & HOLDS (matches DB ENUMs)
// ============================================================================

// CreditHoldStatus represents the lifecycle of a hold
// Matches PostgreSQL ENUM: credit_hold_status
type CreditHoldStatus string

const (
	HoldStatusActive   CreditHoldStatus = "active"
	HoldStatusReleased CreditHoldStatus = "released"
	HoldStatusConsumed CreditHoldStatus = "consumed"
)

// AllocationOperation selects how allocate changes the credit limit
type AllocationOperation string

const (
	AllocationSet AllocationOperation = "set"
	AllocationAdd AllocationOperation = "add"
)

// CreditEntryType classifies a ledger journal row
type CreditEntryType string

const (
	EntryTypeHold     CreditEntryType = "hold"
	EntryTypeRelease  CreditEntryType = "release"
	EntryTypeConsume  CreditEntryType = "consume"
	EntryTypeAllocate CreditEntryType = "allocate"
	EntryTypeReduce   CreditEntryType = "reduce"
	EntryTypeReset    CreditEntryType = "reset"
	EntryTypeVoid     CreditEntryType = "void"
)

// CreditAccount is the spending limit of an organization, or of one user inside it.
// totalLimit == availableBalance + usedBalance + sum(active holds) at all times.
type CreditAccount struct {
	ID               uuid.UUID       `json:"id" db:"id"`
	OrganizationID   uuid.UUID       `json:"organization_id" db:"organization_id"`
	UserID           *uuid.UUID      `json:"user_id,omitempty" db:"user_id"`
	Currency         string          `json:"currency" db:"currency"`
	TotalLimit       decimal.Decimal `json:"total_limit" db:"total_limit"`
	AvailableBalance decimal.Decimal `json:"available_balance" db:"available_balance"`
	UsedBalance      decimal.Decimal `json:"used_balance" db:"used_balance"`
	Version          int64           `json:"version" db:"version"`
	CreatedAt        time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at" db:"updated_at"`
}

// CreditHold is a reservation of credit against exactly one booking
type CreditHold struct {
	ID         uuid.UUID        `json:"id" db:"id"`
	AccountID  uuid.UUID        `json:"account_id" db:"account_id"`
	BookingID  uuid.UUID        `json:"booking_id" db:"booking_id"`
	Amount     decimal.Decimal  `json:"amount" db:"amount"`
	Status     CreditHoldStatus `json:"status" db:"status"`
	Voided     bool             `json:"voided" db:"voided"`
	CreatedAt  time.Time        `json:"created_at" db:"created_at"`
	ReleasedAt *time.Time       `json:"released_at,omitempty" db:"released_at"`
	ConsumedAt *time.Time       `json:"consumed_at,omitempty" db:"consumed_at"`
}

// IsActive reports whether the hold still reserves funds
func (h *CreditHold) IsActive() bool {
	return h.Status == HoldStatusActive
}

// CreditLedgerEntry is one append-only journal row, with balances after the change
type CreditLedgerEntry struct {
	ID              uuid.UUID       `json:"id" db:"id"`
	AccountID       uuid.UUID       `json:"account_id" db:"account_id"`
	HoldID          *uuid.UUID      `json:"hold_id,omitempty" db:"hold_id"`
	BookingID       *uuid.UUID      `json:"booking_id,omitempty" db:"booking_id"`
	EntryType       CreditEntryType `json:"entry_type" db:"entry_type"`
	Amount          decimal.Decimal `json:"amount" db:"amount"`
	TotalLimitAfter decimal.Decimal `json:"total_limit_after" db:"total_limit_after"`
	AvailableAfter  decimal.Decimal `json:"available_after" db:"available_after"`
	UsedAfter       decimal.Decimal `json:"used_after" db:"used_after"`
	CreatedAt       time.Time       `json:"created_at" db:"created_at"`
}

// BalanceSummary is the account plus its outstanding holds
type BalanceSummary struct {
	Account         *CreditAccount  `json:"account"`
	ActiveHolds     decimal.Decimal `json:"active_holds"`
	ActiveHoldCount int             `json:"active_hold_count"`
	Balanced        bool            `json:"balanced"`
}

// ============================================================================
// REQUEST DTOs
// ============================================================================

// CreateCreditAccountRequest opens an organization or user level account
type CreateCreditAccountRequest struct {
	OrganizationID uuid.UUID       `json:"organization_id" validate:"required"`
	UserID         *uuid.UUID      `json:"user_id,omitempty"`
	Currency       string          `json:"currency" validate:"required,len=3,uppercase"`
	InitialLimit   decimal.Decimal `json:"initial_limit"`
}

// AllocateCreditRequest changes the limit of an account
type AllocateCreditRequest struct {
	Amount    decimal.Decimal     `json:"amount"`
	Operation AllocationOperation `json:"operation" validate:"required,oneof=set add"`
}

// ReduceCreditRequest lowers the limit of an account
type ReduceCreditRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

// Validate runs struct tag validation
func (r *CreateCreditAccountRequest) Validate() error {
	if err := validateStruct(r); err != nil {
		return err
	}
	if r.InitialLimit.IsNegative() {
		return ValidationError("initial_limit must not be negative")
	}
	return nil
}

// Validate runs struct tag validation
func (r *AllocateCreditRequest) Validate() error {
	return validateStruct(r)
}
