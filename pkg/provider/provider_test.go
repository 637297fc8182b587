package provider

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bvodo/booking-core/pkg/ttlcache"
)

type countingProvider struct {
	Provider
	fetches int
	err     error
}

func (c *countingProvider) FetchRates(ctx context.Context, id string) (*Accommodation, error) {
	c.fetches++
	if c.err != nil {
		return nil, c.err
	}
	return &Accommodation{ID: id, Name: "Hotel"}, nil
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		retryable bool
		sentinel  error
	}{
		{name: "deadline", err: context.DeadlineExceeded, retryable: true, sentinel: context.DeadlineExceeded},
		{name: "unknown transport failure", err: errors.New("connection reset"), retryable: true},
		{name: "rate unavailable passes through", err: ErrRateUnavailable, retryable: false, sentinel: ErrRateUnavailable},
		{name: "wrapped quote rejection passes through", err: fmt.Errorf("create: %w", ErrQuoteInvalid), retryable: false, sentinel: ErrQuoteInvalid},
		{name: "classified fatal stays fatal", err: &Error{Op: "create_booking", Kind: KindFatal, StatusCode: 422, Err: errors.New("bad guest")}, retryable: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Classify("create_booking", tt.err)
			require.Error(t, err)
			assert.Equal(t, tt.retryable, IsRetryable(err))
			if tt.sentinel != nil {
				assert.ErrorIs(t, err, tt.sentinel)
			}
		})
	}

	assert.NoError(t, Classify("search", nil))
}

func TestIsRefusal(t *testing.T) {
	assert.True(t, IsRefusal(ErrRateUnavailable))
	assert.True(t, IsRefusal(fmt.Errorf("create_booking: %w", ErrQuoteInvalid)))
	assert.True(t, IsRefusal(&Error{Op: "create_booking", Kind: KindFatal, StatusCode: 422, Err: errors.New("bad guest")}))

	assert.False(t, IsRefusal(Classify("create_booking", context.DeadlineExceeded)))
	assert.False(t, IsRefusal(&Error{Op: "create_booking", Kind: KindRetryable, StatusCode: 503, Err: errors.New("unavailable")}))
	assert.False(t, IsRefusal(ErrBookingNotFound))
}

func TestKindForStatus(t *testing.T) {
	assert.Equal(t, KindRetryable, KindForStatus(503))
	assert.Equal(t, KindRetryable, KindForStatus(429))
	assert.Equal(t, KindFatal, KindForStatus(422))
	assert.Equal(t, KindFatal, KindForStatus(400))
}

func TestIdempotencyKey(t *testing.T) {
	id := uuid.MustParse("7d4a4c2e-3c1f-4b8e-9a55-3f1a9c2b6d10")

	key := IdempotencyKey(id)
	assert.Equal(t, key, IdempotencyKey(id))
	assert.Len(t, key, len("bkc_")+32)
	assert.NotEqual(t, key, IdempotencyKey(uuid.New()))
}

func TestCachedRates(t *testing.T) {
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	cache := ttlcache.New(func() time.Time { return now })

	t.Run("second fetch is served from cache", func(t *testing.T) {
		inner := &countingProvider{}
		cached := NewCachedRates(inner, cache, time.Minute)

		_, err := cached.FetchRates(context.Background(), "acc_1")
		require.NoError(t, err)
		acc, err := cached.FetchRates(context.Background(), "acc_1")
		require.NoError(t, err)

		assert.Equal(t, "acc_1", acc.ID)
		assert.Equal(t, 1, inner.fetches)

		cached.Invalidate("acc_1")
		_, err = cached.FetchRates(context.Background(), "acc_1")
		require.NoError(t, err)
		assert.Equal(t, 2, inner.fetches)
	})

	t.Run("errors are not cached", func(t *testing.T) {
		inner := &countingProvider{err: ErrRateUnavailable}
		cached := NewCachedRates(inner, cache, time.Minute)

		_, err := cached.FetchRates(context.Background(), "acc_2")
		assert.ErrorIs(t, err, ErrRateUnavailable)
		_, err = cached.FetchRates(context.Background(), "acc_2")
		assert.ErrorIs(t, err, ErrRateUnavailable)
		assert.Equal(t, 2, inner.fetches)
	})
}
