package provider

import (
	"errors"
	"fmt"
)

var (
	// ErrRateUnavailable means the rate was withdrawn or sold out
	ErrRateUnavailable = errors.New("provider: rate unavailable")
	// ErrQuoteInvalid means the supplier refused the quote (expired or unknown)
	ErrQuoteInvalid = errors.New("provider: quote expired or invalid")
	// ErrBookingNotFound means the supplier has no reservation with that id
	ErrBookingNotFound = errors.New("provider: booking not found")
)

// Kind tells callers whether retrying a failed call is safe
type Kind string

const (
	KindRetryable Kind = "retryable"
	KindFatal     Kind = "fatal"
)

// Error is a classified supplier failure
type Error struct {
	Op         string
	Kind       Kind
	StatusCode int
	Err        error
}

func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("provider %s failed (%s, status %d): %v", e.Op, e.Kind, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("provider %s failed (%s): %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindForStatus classifies an HTTP status returned by a supplier
func KindForStatus(status int) Kind {
	if status == 429 || status >= 500 {
		return KindRetryable
	}
	return KindFatal
}

// IsRetryable reports whether err is a supplier failure that left no
// committed state behind on our side and can be retried
func IsRetryable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == KindRetryable
	}
	return false
}

// IsRefusal reports whether the supplier answered a booking call with a
// definitive no, so no reservation exists for the request
func IsRefusal(err error) bool {
	if errors.Is(err, ErrRateUnavailable) || errors.Is(err, ErrQuoteInvalid) {
		return true
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == KindFatal
	}
	return false
}

// Classify wraps a raw supplier error. Business sentinels pass through
// unchanged; timeouts and unknown transport failures become retryable.
func Classify(op string, err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, ErrRateUnavailable) || errors.Is(err, ErrQuoteInvalid) || errors.Is(err, ErrBookingNotFound) {
		return err
	}

	var e *Error
	if errors.As(err, &e) {
		return err
	}

	// timeouts (context deadline, net.Error) and anything unrecognised
	return &Error{Op: op, Kind: KindRetryable, Err: err}
}
