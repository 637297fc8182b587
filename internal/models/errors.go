package models

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/bvodo/booking-core/pkg/provider"
)

// ============================================================================
// DOMAIN ERRORS
// ============================================================================

// DomainError is a business rule failure with a stable reason code
type DomainError struct {
	Code    string
	Message string
}

func (e *DomainError) Error() string {
	return e.Message
}

// Reason codes surfaced to callers
const (
	CodeInsufficientCredits          = "insufficient_credits"
	CodeInvalidAmount                = "invalid_amount"
	CodeInsufficientAvailableBalance = "insufficient_available_balance"
	CodeRateUnavailable              = "rate_unavailable"
	CodeQuoteExpiredOrInvalid        = "quote_expired_or_invalid"
	CodeInvalidStateTransition       = "invalid_state_transition"
	CodeUnauthorized                 = "unauthorized"
	CodeNotFound                     = "not_found"
	CodeQuoteAlreadyConsumed         = "quote_already_consumed"
	CodeRejectionReasonRequired      = "rejection_reason_required"
	CodeHoldNotActive                = "hold_not_active"
	CodeValidation                   = "validation_error"
	CodePriceChanged                 = "price_changed"
	CodeCurrencyMismatch             = "currency_mismatch"
	CodeProviderError                = "provider_error"
	CodeInternal                     = "internal_error"
)

var (
	ErrInsufficientCredits          = &DomainError{Code: CodeInsufficientCredits, Message: "insufficient credits available for this booking"}
	ErrInvalidAmount                = &DomainError{Code: CodeInvalidAmount, Message: "amount is not valid for this operation"}
	ErrInsufficientAvailableBalance = &DomainError{Code: CodeInsufficientAvailableBalance, Message: "reduction exceeds the available balance"}
	ErrRateUnavailable              = &DomainError{Code: CodeRateUnavailable, Message: "rate is no longer available"}
	ErrQuoteExpiredOrInvalid        = &DomainError{Code: CodeQuoteExpiredOrInvalid, Message: "quote is expired or was rejected by the provider"}
	ErrInvalidStateTransition       = &DomainError{Code: CodeInvalidStateTransition, Message: "action is not allowed in the current booking status"}
	ErrUnauthorized                 = &DomainError{Code: CodeUnauthorized, Message: "actor is not allowed to perform this action"}
	ErrBookingNotFound              = &DomainError{Code: CodeNotFound, Message: "booking not found"}
	ErrAccountNotFound              = &DomainError{Code: CodeNotFound, Message: "credit account not found"}
	ErrHoldNotFound                 = &DomainError{Code: CodeNotFound, Message: "credit hold not found"}
	ErrQuoteNotFound                = &DomainError{Code: CodeNotFound, Message: "quote not found"}
	ErrQuoteAlreadyConsumed         = &DomainError{Code: CodeQuoteAlreadyConsumed, Message: "quote is already attached to another booking"}
	ErrRejectionReasonRequired      = &DomainError{Code: CodeRejectionReasonRequired, Message: "a rejection reason is required"}
	ErrHoldNotActive                = &DomainError{Code: CodeHoldNotActive, Message: "credit hold is no longer active"}
	ErrValidation                   = &DomainError{Code: CodeValidation, Message: "request validation failed"}
	ErrCurrencyMismatch             = &DomainError{Code: CodeCurrencyMismatch, Message: "booking currency does not match the credit account currency"}
	ErrAccountExists                = &DomainError{Code: CodeValidation, Message: "a credit account already exists for this owner"}
)

// ValidationError wraps ErrValidation with a field level message
func ValidationError(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// PriceChangedError is returned when a refreshed quote carries a different total.
// The booking keeps its status and the new quote is parked until acknowledged.
type PriceChangedError struct {
	BookingID       uuid.UUID
	PreviousQuoteID uuid.UUID
	QuoteID         uuid.UUID
	PreviousAmount  decimal.Decimal
	NewAmount       decimal.Decimal
	Currency        string
}

func (e *PriceChangedError) Error() string {
	return fmt.Sprintf("price changed for booking %s: %s %s -> %s %s",
		e.BookingID, e.PreviousAmount.StringFixed(2), e.Currency, e.NewAmount.StringFixed(2), e.Currency)
}

// ReasonCode maps any error returned by the services to its reason code
func ReasonCode(err error) string {
	if err == nil {
		return ""
	}

	var priceErr *PriceChangedError
	if errors.As(err, &priceErr) {
		return CodePriceChanged
	}

	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Code
	}

	if errors.Is(err, provider.ErrRateUnavailable) {
		return CodeRateUnavailable
	}
	if errors.Is(err, provider.ErrQuoteInvalid) {
		return CodeQuoteExpiredOrInvalid
	}

	var provErr *provider.Error
	if errors.As(err, &provErr) {
		return CodeProviderError
	}

	return CodeInternal
}

// IsRetryable reports whether the caller may safely retry the failed operation
func IsRetryable(err error) bool {
	return provider.IsRetryable(err)
}
