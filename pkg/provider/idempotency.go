package provider

import (
	"encoding/hex"

	"github.com/google/uuid"
	"golang.org/x/crypto/blake2b"
)

const idempotencyKeyPrefix = "bkc_"

// IdempotencyKey derives the supplier idempotency key for a booking.
// The same booking always maps to the same key, so retried confirmations
// cannot create a second reservation.
func IdempotencyKey(bookingID uuid.UUID) string {
	sum := blake2b.Sum256(append([]byte("booking-create:"), bookingID[:]...))
	return idempotencyKeyPrefix + hex.EncodeToString(sum[:16])
}
