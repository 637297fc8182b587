// Package sandbox is an in-process supplier backed by a BoltDB file. It stands
// in for the real travel supplier in development and tests: rates can be
// seeded and repriced, quotes expire on the injected clock, and bookings are
// keyed by idempotency key so a repeated CreateBooking returns the original
// reservation.
package sandbox

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	bolt "github.com/boltdb/bolt"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/bvodo/booking-core/pkg/provider"
)

var (
	bucketAccommodations = []byte("accommodations")
	bucketRates          = []byte("rates")
	bucketQuotes         = []byte("quotes")
	bucketBookings       = []byte("bookings")
	bucketBookingKeys    = []byte("booking_keys")
)

// Operation names a supplier call for fault injection
type Operation string

const (
	OpSearch        Operation = "search"
	OpFetchRates    Operation = "fetch_rates"
	OpCreateQuote   Operation = "create_quote"
	OpCreateBooking Operation = "create_booking"
	OpCancelBooking Operation = "cancel_booking"
)

// Fault is a one-shot failure consumed by the next call to an operation.
// With AfterCommit set the call does its work first and then reports Err,
// the way a response lost to a network timeout looks to the caller.
// Delay blocks the call until it elapses or ctx is done. Hook runs when the
// fault fires, after the work when AfterCommit is set.
type Fault struct {
	Err         error
	AfterCommit bool
	Delay       time.Duration
	Hook        func()
}

// Options configures the sandbox
type Options struct {
	QuoteTTL time.Duration
	Now      func() time.Time
}

type storedRate struct {
	provider.Rate
	AccommodationID string `json:"accommodation_id"`
	Withdrawn       bool   `json:"withdrawn"`
}

type storedBooking struct {
	Key         string                  `json:"key"`
	Result      provider.BookingResult  `json:"result"`
	Request     provider.BookingRequest `json:"request"`
	CancelledAt *time.Time              `json:"cancelled_at,omitempty"`
}

// Provider implements provider.Provider on top of BoltDB
type Provider struct {
	db       *bolt.DB
	quoteTTL time.Duration
	now      func() time.Time

	mu     sync.Mutex
	faults map[Operation][]Fault
	calls  map[Operation]int
}

var _ provider.Provider = (*Provider)(nil)

// Open opens (or creates) the sandbox database at path
func Open(path string, opts Options) (*Provider, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open sandbox store: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{bucketAccommodations, bucketRates, bucketQuotes, bucketBookings, bucketBookingKeys} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create sandbox buckets: %w", err)
	}

	if opts.QuoteTTL <= 0 {
		opts.QuoteTTL = 15 * time.Minute
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}

	return &Provider{
		db:       db,
		quoteTTL: opts.QuoteTTL,
		now:      opts.Now,
		faults:   make(map[Operation][]Fault),
		calls:    make(map[Operation]int),
	}, nil
}

// Close releases the database file lock
func (p *Provider) Close() error {
	return p.db.Close()
}

// ============================================================================
// SEEDING & CONTROL
// ============================================================================

// SeedAccommodation stores a property and its rates, replacing existing entries
func (p *Provider) SeedAccommodation(acc provider.Accommodation) error {
	return p.db.Update(func(tx *bolt.Tx) error {
		meta := acc
		meta.Rates = nil
		if err := putJSON(tx.Bucket(bucketAccommodations), acc.ID, meta); err != nil {
			return err
		}
		for _, r := range acc.Rates {
			if err := putJSON(tx.Bucket(bucketRates), r.ID, storedRate{Rate: r, AccommodationID: acc.ID}); err != nil {
				return err
			}
		}
		return nil
	})
}

// SetRatePrice reprices a rate; quotes issued afterwards carry the new total
func (p *Provider) SetRatePrice(rateID string, amount decimal.Decimal) error {
	return p.updateRate(rateID, func(r *storedRate) {
		r.TotalAmount = amount
	})
}

// WithdrawRate makes a rate unbookable
func (p *Provider) WithdrawRate(rateID string) error {
	return p.updateRate(rateID, func(r *storedRate) {
		r.Withdrawn = true
	})
}

func (p *Provider) updateRate(rateID string, fn func(r *storedRate)) error {
	return p.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketRates)
		var r storedRate
		found, err := getJSON(b, rateID, &r)
		if err != nil {
			return err
		}
		if !found {
			return provider.ErrRateUnavailable
		}
		fn(&r)
		return putJSON(b, rateID, r)
	})
}

// InjectFault queues f for the next call to op
func (p *Provider) InjectFault(op Operation, f Fault) {
	p.mu.Lock()
	p.faults[op] = append(p.faults[op], f)
	p.mu.Unlock()
}

// Calls returns how many times op was invoked
func (p *Provider) Calls(op Operation) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls[op]
}

// BookingCount returns the number of reservations held in the sandbox
func (p *Provider) BookingCount() (int, error) {
	count := 0
	err := p.db.View(func(tx *bolt.Tx) error {
		count = tx.Bucket(bucketBookings).Stats().KeyN
		return nil
	})
	return count, err
}

func (p *Provider) nextFault(op Operation) *Fault {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls[op]++
	queue := p.faults[op]
	if len(queue) == 0 {
		return nil
	}
	f := queue[0]
	p.faults[op] = queue[1:]
	return &f
}

// before runs the pre-commit part of a fault. A non-nil fault is returned
// when the failure must be reported after the work is done.
func (p *Provider) before(ctx context.Context, op Operation) (*Fault, error) {
	if err := ctx.Err(); err != nil {
		return nil, provider.Classify(string(op), err)
	}

	f := p.nextFault(op)
	if f == nil {
		return nil, nil
	}

	if f.Delay > 0 {
		select {
		case <-time.After(f.Delay):
		case <-ctx.Done():
			if f.AfterCommit {
				return f, nil
			}
			return nil, provider.Classify(string(op), ctx.Err())
		}
	}

	if f.AfterCommit {
		return f, nil
	}
	if f.Hook != nil {
		f.Hook()
	}
	if f.Err != nil {
		return nil, provider.Classify(string(op), f.Err)
	}
	return nil, nil
}

func after(op Operation, f *Fault) error {
	if f == nil {
		return nil
	}
	if f.Hook != nil {
		f.Hook()
	}
	if f.Err == nil {
		return nil
	}
	return provider.Classify(string(op), f.Err)
}

// ============================================================================
// provider.Provider
// ============================================================================

func (p *Provider) Search(ctx context.Context, criteria provider.SearchCriteria) ([]provider.SearchResult, error) {
	if _, err := p.before(ctx, OpSearch); err != nil {
		return nil, err
	}

	results := []provider.SearchResult{}
	err := p.db.View(func(tx *bolt.Tx) error {
		cheapest := map[string]provider.Rate{}
		err := tx.Bucket(bucketRates).ForEach(func(k, v []byte) error {
			var r storedRate
			if err := json.Unmarshal(v, &r); err != nil {
				return err
			}
			if r.Withdrawn {
				return nil
			}
			if cur, ok := cheapest[r.AccommodationID]; !ok || r.TotalAmount.LessThan(cur.TotalAmount) {
				cheapest[r.AccommodationID] = r.Rate
			}
			return nil
		})
		if err != nil {
			return err
		}

		return tx.Bucket(bucketAccommodations).ForEach(func(k, v []byte) error {
			var acc provider.Accommodation
			if err := json.Unmarshal(v, &acc); err != nil {
				return err
			}
			if criteria.Location != "" && !strings.Contains(strings.ToLower(acc.Location), strings.ToLower(criteria.Location)) {
				return nil
			}
			rate, ok := cheapest[acc.ID]
			if !ok {
				return nil
			}
			results = append(results, provider.SearchResult{
				ID:         acc.ID,
				Name:       acc.Name,
				Location:   acc.Location,
				FromAmount: rate.TotalAmount,
				Currency:   rate.Currency,
			})
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(results, func(i, j int) bool {
		return results[i].FromAmount.LessThan(results[j].FromAmount)
	})
	return results, nil
}

func (p *Provider) FetchRates(ctx context.Context, searchResultID string) (*provider.Accommodation, error) {
	if _, err := p.before(ctx, OpFetchRates); err != nil {
		return nil, err
	}

	var acc provider.Accommodation
	err := p.db.View(func(tx *bolt.Tx) error {
		found, err := getJSON(tx.Bucket(bucketAccommodations), searchResultID, &acc)
		if err != nil {
			return err
		}
		if !found {
			return provider.ErrRateUnavailable
		}

		acc.Rates = []provider.Rate{}
		return tx.Bucket(bucketRates).ForEach(func(k, v []byte) error {
			var r storedRate
			if err := json.Unmarshal(v, &r); err != nil {
				return err
			}
			if r.AccommodationID == searchResultID && !r.Withdrawn {
				acc.Rates = append(acc.Rates, r.Rate)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return &acc, nil
}

func (p *Provider) CreateQuote(ctx context.Context, rateID string) (*provider.QuoteResult, error) {
	fault, err := p.before(ctx, OpCreateQuote)
	if err != nil {
		return nil, err
	}

	var quote provider.QuoteResult
	err = p.db.Update(func(tx *bolt.Tx) error {
		var r storedRate
		found, err := getJSON(tx.Bucket(bucketRates), rateID, &r)
		if err != nil {
			return err
		}
		if !found || r.Withdrawn {
			return provider.ErrRateUnavailable
		}

		quote = provider.QuoteResult{
			ID:          "quo_" + uuid.NewString(),
			RateID:      rateID,
			TotalAmount: r.TotalAmount,
			Currency:    r.Currency,
			ExpiresAt:   p.now().Add(p.quoteTTL),
		}
		return putJSON(tx.Bucket(bucketQuotes), quote.ID, quote)
	})
	if err != nil {
		return nil, err
	}

	if err := after(OpCreateQuote, fault); err != nil {
		return nil, err
	}
	return &quote, nil
}

func (p *Provider) CreateBooking(ctx context.Context, idempotencyKey string, req provider.BookingRequest) (*provider.BookingResult, error) {
	fault, err := p.before(ctx, OpCreateBooking)
	if err != nil {
		return nil, err
	}
	if idempotencyKey == "" {
		return nil, &provider.Error{Op: string(OpCreateBooking), Kind: provider.KindFatal, StatusCode: 400, Err: fmt.Errorf("idempotency key is required")}
	}

	var result provider.BookingResult
	err = p.db.Update(func(tx *bolt.Tx) error {
		bookings := tx.Bucket(bucketBookings)

		var existing storedBooking
		found, err := getJSON(bookings, idempotencyKey, &existing)
		if err != nil {
			return err
		}
		if found {
			result = existing.Result
			return nil
		}

		amount, currency, err := p.priceRequest(tx, req)
		if err != nil {
			return err
		}

		id := uuid.New()
		result = provider.BookingResult{
			ID:                 "bk_" + id.String(),
			ConfirmationNumber: strings.ToUpper(strings.ReplaceAll(id.String(), "-", "")[:8]),
			Status:             provider.BookingStatusConfirmed,
			TotalAmount:        amount,
			Currency:           currency,
			CreatedAt:          p.now(),
		}
		if err := putJSON(bookings, idempotencyKey, storedBooking{Key: idempotencyKey, Result: result, Request: req}); err != nil {
			return err
		}
		return tx.Bucket(bucketBookingKeys).Put([]byte(result.ID), []byte(idempotencyKey))
	})
	if err != nil {
		return nil, err
	}

	if err := after(OpCreateBooking, fault); err != nil {
		return nil, err
	}
	return &result, nil
}

// priceRequest resolves the amount of a hotel quote or accepts a flight offer as-is
func (p *Provider) priceRequest(tx *bolt.Tx, req provider.BookingRequest) (decimal.Decimal, string, error) {
	if req.QuoteID == "" {
		if req.OfferReference == "" {
			return decimal.Zero, "", &provider.Error{Op: string(OpCreateBooking), Kind: provider.KindFatal, StatusCode: 422, Err: fmt.Errorf("quote_id or offer_reference is required")}
		}
		return decimal.Zero, "", nil
	}

	var quote provider.QuoteResult
	found, err := getJSON(tx.Bucket(bucketQuotes), req.QuoteID, &quote)
	if err != nil {
		return decimal.Zero, "", err
	}
	if !found || !p.now().Before(quote.ExpiresAt) {
		return decimal.Zero, "", provider.ErrQuoteInvalid
	}

	var r storedRate
	found, err = getJSON(tx.Bucket(bucketRates), quote.RateID, &r)
	if err != nil {
		return decimal.Zero, "", err
	}
	if !found || r.Withdrawn {
		return decimal.Zero, "", provider.ErrRateUnavailable
	}
	return quote.TotalAmount, quote.Currency, nil
}

func (p *Provider) CancelBooking(ctx context.Context, providerBookingID string) (*provider.CancellationResult, error) {
	fault, err := p.before(ctx, OpCancelBooking)
	if err != nil {
		return nil, err
	}

	var result provider.CancellationResult
	err = p.db.Update(func(tx *bolt.Tx) error {
		key := tx.Bucket(bucketBookingKeys).Get([]byte(providerBookingID))
		if key == nil {
			return provider.ErrBookingNotFound
		}

		bookings := tx.Bucket(bucketBookings)
		var stored storedBooking
		if _, err := getJSON(bookings, string(key), &stored); err != nil {
			return err
		}

		if stored.CancelledAt == nil {
			now := p.now()
			stored.CancelledAt = &now
			stored.Result.Status = provider.BookingStatusCancelled
			if err := putJSON(bookings, string(key), stored); err != nil {
				return err
			}
		}

		result = provider.CancellationResult{
			BookingID:    stored.Result.ID,
			Status:       provider.BookingStatusCancelled,
			RefundAmount: stored.Result.TotalAmount,
			Currency:     stored.Result.Currency,
			CancelledAt:  *stored.CancelledAt,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if err := after(OpCancelBooking, fault); err != nil {
		return nil, err
	}
	return &result, nil
}

// ============================================================================
// HELPERS
// ============================================================================

func putJSON(b *bolt.Bucket, key string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return b.Put([]byte(key), data)
}

func getJSON(b *bolt.Bucket, key string, v interface{}) (bool, error) {
	data := b.Get([]byte(key))
	if data == nil {
		return false, nil
	}
	return true, json.Unmarshal(data, v)
}
