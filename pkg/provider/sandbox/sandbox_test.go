package sandbox

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bvodo/booking-core/pkg/provider"
)

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newTestSandbox(t *testing.T) (*Provider, *testClock) {
	t.Helper()
	clk := &testClock{t: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}

	p, err := Open(filepath.Join(t.TempDir(), "sandbox.db"), Options{QuoteTTL: 10 * time.Minute, Now: clk.now})
	require.NoError(t, err)
	t.Cleanup(func() { p.Close() })

	err = p.SeedAccommodation(provider.Accommodation{
		ID:       "acc_lisbon",
		Name:     "Hotel Baixa",
		Location: "Lisbon, PT",
		Rates: []provider.Rate{
			{ID: "rate_std", Description: "Standard double", TotalAmount: decimal.NewFromInt(300), Currency: "EUR"},
			{ID: "rate_sup", Description: "Superior double", TotalAmount: decimal.NewFromInt(420), Currency: "EUR"},
		},
	})
	require.NoError(t, err)

	err = p.SeedAccommodation(provider.Accommodation{
		ID:       "acc_porto",
		Name:     "Ribeira Inn",
		Location: "Porto, PT",
		Rates: []provider.Rate{
			{ID: "rate_porto", Description: "Single", TotalAmount: decimal.NewFromInt(120), Currency: "EUR"},
		},
	})
	require.NoError(t, err)

	return p, clk
}

func TestSandbox_SearchAndFetchRates(t *testing.T) {
	p, _ := newTestSandbox(t)
	ctx := context.Background()

	t.Run("search sorts by cheapest rate", func(t *testing.T) {
		results, err := p.Search(ctx, provider.SearchCriteria{})
		require.NoError(t, err)
		require.Len(t, results, 2)
		assert.Equal(t, "acc_porto", results[0].ID)
		assert.True(t, decimal.NewFromInt(300).Equal(results[1].FromAmount))
	})

	t.Run("search filters by location", func(t *testing.T) {
		results, err := p.Search(ctx, provider.SearchCriteria{Location: "lisbon"})
		require.NoError(t, err)
		require.Len(t, results, 1)
		assert.Equal(t, "Hotel Baixa", results[0].Name)
	})

	t.Run("withdrawn rates are hidden", func(t *testing.T) {
		require.NoError(t, p.WithdrawRate("rate_sup"))

		acc, err := p.FetchRates(ctx, "acc_lisbon")
		require.NoError(t, err)
		require.Len(t, acc.Rates, 1)
		assert.Equal(t, "rate_std", acc.Rates[0].ID)
	})

	t.Run("unknown accommodation", func(t *testing.T) {
		_, err := p.FetchRates(ctx, "acc_nowhere")
		assert.ErrorIs(t, err, provider.ErrRateUnavailable)
	})
}

func TestSandbox_CreateQuote(t *testing.T) {
	p, clk := newTestSandbox(t)
	ctx := context.Background()

	quote, err := p.CreateQuote(ctx, "rate_std")
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(300).Equal(quote.TotalAmount))
	assert.Equal(t, "EUR", quote.Currency)
	assert.Equal(t, clk.now().Add(10*time.Minute), quote.ExpiresAt)

	require.NoError(t, p.SetRatePrice("rate_std", decimal.NewFromInt(330)))
	repriced, err := p.CreateQuote(ctx, "rate_std")
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(330).Equal(repriced.TotalAmount))
	assert.NotEqual(t, quote.ID, repriced.ID)

	require.NoError(t, p.WithdrawRate("rate_std"))
	_, err = p.CreateQuote(ctx, "rate_std")
	assert.ErrorIs(t, err, provider.ErrRateUnavailable)

	_, err = p.CreateQuote(ctx, "rate_missing")
	assert.ErrorIs(t, err, provider.ErrRateUnavailable)
}

func TestSandbox_CreateBooking(t *testing.T) {
	ctx := context.Background()
	req := func(quoteID string) provider.BookingRequest {
		return provider.BookingRequest{
			QuoteID:   quoteID,
			Reference: "booking-1",
			Guests:    []provider.Guest{{GivenName: "Ana", FamilyName: "Silva"}},
			Email:     "ana@example.com",
		}
	}

	t.Run("same idempotency key returns the same reservation", func(t *testing.T) {
		p, _ := newTestSandbox(t)
		quote, err := p.CreateQuote(ctx, "rate_std")
		require.NoError(t, err)

		first, err := p.CreateBooking(ctx, "key-1", req(quote.ID))
		require.NoError(t, err)
		second, err := p.CreateBooking(ctx, "key-1", req(quote.ID))
		require.NoError(t, err)

		assert.Equal(t, first.ID, second.ID)
		assert.Equal(t, first.ConfirmationNumber, second.ConfirmationNumber)
		count, err := p.BookingCount()
		require.NoError(t, err)
		assert.Equal(t, 1, count)
	})

	t.Run("expired quote is rejected", func(t *testing.T) {
		p, clk := newTestSandbox(t)
		quote, err := p.CreateQuote(ctx, "rate_std")
		require.NoError(t, err)

		clk.advance(10 * time.Minute)
		_, err = p.CreateBooking(ctx, "key-2", req(quote.ID))
		assert.ErrorIs(t, err, provider.ErrQuoteInvalid)
		assert.False(t, provider.IsRetryable(err))
	})

	t.Run("missing idempotency key is a fatal error", func(t *testing.T) {
		p, _ := newTestSandbox(t)
		_, err := p.CreateBooking(ctx, "", req("quo_x"))
		require.Error(t, err)
		assert.False(t, provider.IsRetryable(err))
	})

	t.Run("flight offers need no quote", func(t *testing.T) {
		p, _ := newTestSandbox(t)
		res, err := p.CreateBooking(ctx, "key-3", provider.BookingRequest{OfferReference: "off_123", Email: "a@b.co"})
		require.NoError(t, err)
		assert.Equal(t, provider.BookingStatusConfirmed, res.Status)
	})
}

func TestSandbox_Faults(t *testing.T) {
	ctx := context.Background()

	t.Run("pre-commit fault leaves no reservation", func(t *testing.T) {
		p, _ := newTestSandbox(t)
		quote, err := p.CreateQuote(ctx, "rate_std")
		require.NoError(t, err)

		p.InjectFault(OpCreateBooking, Fault{Err: errors.New("502 bad gateway")})
		_, err = p.CreateBooking(ctx, "key", provider.BookingRequest{QuoteID: quote.ID})
		require.Error(t, err)
		assert.True(t, provider.IsRetryable(err))

		count, err := p.BookingCount()
		require.NoError(t, err)
		assert.Equal(t, 0, count)
	})

	t.Run("after-commit timeout keeps the reservation", func(t *testing.T) {
		p, _ := newTestSandbox(t)
		quote, err := p.CreateQuote(ctx, "rate_std")
		require.NoError(t, err)

		p.InjectFault(OpCreateBooking, Fault{Err: context.DeadlineExceeded, AfterCommit: true})
		_, err = p.CreateBooking(ctx, "key", provider.BookingRequest{QuoteID: quote.ID})
		require.Error(t, err)
		assert.True(t, provider.IsRetryable(err))

		res, err := p.CreateBooking(ctx, "key", provider.BookingRequest{QuoteID: quote.ID})
		require.NoError(t, err)
		assert.NotEmpty(t, res.ID)

		count, err := p.BookingCount()
		require.NoError(t, err)
		assert.Equal(t, 1, count)
		assert.Equal(t, 2, p.Calls(OpCreateBooking))
	})

	t.Run("hook runs before or after the work", func(t *testing.T) {
		p, _ := newTestSandbox(t)
		quote, err := p.CreateQuote(ctx, "rate_std")
		require.NoError(t, err)

		var seen []int
		countAt := func() {
			n, err := p.BookingCount()
			require.NoError(t, err)
			seen = append(seen, n)
		}

		p.InjectFault(OpCreateBooking, Fault{Hook: countAt})
		_, err = p.CreateBooking(ctx, "first", provider.BookingRequest{QuoteID: quote.ID})
		require.NoError(t, err)

		p.InjectFault(OpCreateBooking, Fault{AfterCommit: true, Hook: countAt})
		_, err = p.CreateBooking(ctx, "second", provider.BookingRequest{QuoteID: quote.ID})
		require.NoError(t, err)

		assert.Equal(t, []int{0, 2}, seen)
	})

	t.Run("delay beyond the caller deadline", func(t *testing.T) {
		p, _ := newTestSandbox(t)
		p.InjectFault(OpCreateQuote, Fault{Delay: time.Second})

		tctx, cancel := context.WithTimeout(ctx, 10*time.Millisecond)
		defer cancel()
		_, err := p.CreateQuote(tctx, "rate_std")
		require.Error(t, err)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
		assert.True(t, provider.IsRetryable(err))
	})
}

func TestSandbox_CancelBooking(t *testing.T) {
	p, _ := newTestSandbox(t)
	ctx := context.Background()

	quote, err := p.CreateQuote(ctx, "rate_std")
	require.NoError(t, err)
	booked, err := p.CreateBooking(ctx, "key", provider.BookingRequest{QuoteID: quote.ID})
	require.NoError(t, err)

	first, err := p.CancelBooking(ctx, booked.ID)
	require.NoError(t, err)
	assert.Equal(t, provider.BookingStatusCancelled, first.Status)
	assert.True(t, decimal.NewFromInt(300).Equal(first.RefundAmount))

	second, err := p.CancelBooking(ctx, booked.ID)
	require.NoError(t, err)
	assert.Equal(t, first.CancelledAt, second.CancelledAt)

	_, err = p.CancelBooking(ctx, "bk_unknown")
	assert.ErrorIs(t, err, provider.ErrBookingNotFound)
}

func TestSandbox_SeedDemo(t *testing.T) {
	p, _ := newTestSandbox(t)
	ctx := context.Background()

	require.NoError(t, p.SeedDemo())
	// seeding twice replaces rather than duplicates
	require.NoError(t, p.SeedDemo())

	results, err := p.Search(ctx, provider.SearchCriteria{Location: "berlin"})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "acc_berlin_mitte", results[0].ID)

	acc, err := p.FetchRates(ctx, "acc_nyc_midtown")
	require.NoError(t, err)
	assert.Len(t, acc.Rates, 2)

	quote, err := p.CreateQuote(ctx, "rate_lisbon_sup")
	require.NoError(t, err)
	assert.True(t, decimal.RequireFromString("412.50").Equal(quote.TotalAmount))
}
