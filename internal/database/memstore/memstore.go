// Package memstore is an in-memory implementation of every repository the
// services depend on. Transactions are serialized behind one mutex and roll
// back by restoring a snapshot, which makes it suitable for local runs with
// DATABASE_DRIVER=memory and for service tests.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/bvodo/booking-core/internal/models"
)

type txKey struct{}

// Store holds all state in maps keyed by ID
type Store struct {
	mu sync.Mutex

	accounts     map[uuid.UUID]models.CreditAccount
	holds        map[uuid.UUID]models.CreditHold
	entries      []models.CreditLedgerEntry
	quotes       map[uuid.UUID]models.Quote
	bookings     map[uuid.UUID]models.Booking
	bookingOrder []uuid.UUID
	events       []models.BookingAuditEvent
}

// New creates an empty store
func New() *Store {
	return &Store{
		accounts: make(map[uuid.UUID]models.CreditAccount),
		holds:    make(map[uuid.UUID]models.CreditHold),
		quotes:   make(map[uuid.UUID]models.Quote),
		bookings: make(map[uuid.UUID]models.Booking),
	}
}

type snapshot struct {
	accounts     map[uuid.UUID]models.CreditAccount
	holds        map[uuid.UUID]models.CreditHold
	entries      []models.CreditLedgerEntry
	quotes       map[uuid.UUID]models.Quote
	bookings     map[uuid.UUID]models.Booking
	bookingOrder []uuid.UUID
	events       []models.BookingAuditEvent
}

func (s *Store) snapshot() snapshot {
	snap := snapshot{
		accounts:     make(map[uuid.UUID]models.CreditAccount, len(s.accounts)),
		holds:        make(map[uuid.UUID]models.CreditHold, len(s.holds)),
		entries:      append([]models.CreditLedgerEntry(nil), s.entries...),
		quotes:       make(map[uuid.UUID]models.Quote, len(s.quotes)),
		bookings:     make(map[uuid.UUID]models.Booking, len(s.bookings)),
		bookingOrder: append([]uuid.UUID(nil), s.bookingOrder...),
		events:       append([]models.BookingAuditEvent(nil), s.events...),
	}
	for k, v := range s.accounts {
		snap.accounts[k] = v
	}
	for k, v := range s.holds {
		snap.holds[k] = v
	}
	for k, v := range s.quotes {
		snap.quotes[k] = v
	}
	for k, v := range s.bookings {
		snap.bookings[k] = v
	}
	return snap
}

func (s *Store) restore(snap snapshot) {
	s.accounts = snap.accounts
	s.holds = snap.holds
	s.entries = snap.entries
	s.quotes = snap.quotes
	s.bookings = snap.bookings
	s.bookingOrder = snap.bookingOrder
	s.events = snap.events
}

// WithTx runs fn with the store locked. Nested calls join the outer unit of
// work; any error restores the state from before the outermost call.
func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if s.inTx(ctx) {
		return fn(ctx)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	snap := s.snapshot()
	if err := fn(context.WithValue(ctx, txKey{}, s)); err != nil {
		s.restore(snap)
		return err
	}
	return nil
}

func (s *Store) inTx(ctx context.Context) bool {
	owner, ok := ctx.Value(txKey{}).(*Store)
	return ok && owner == s
}

// lock takes the store mutex unless ctx already holds it through WithTx
func (s *Store) lock(ctx context.Context) func() {
	if s.inTx(ctx) {
		return func() {}
	}
	s.mu.Lock()
	return s.mu.Unlock
}

// ============================================================================
// CREDIT
// ============================================================================

func (s *Store) CreateAccount(ctx context.Context, account *models.CreditAccount) error {
	defer s.lock(ctx)()

	for _, a := range s.accounts {
		if a.OrganizationID == account.OrganizationID && sameUser(a.UserID, account.UserID) {
			return models.ErrAccountExists
		}
	}
	s.accounts[account.ID] = *account
	return nil
}

func (s *Store) GetAccount(ctx context.Context, id uuid.UUID) (*models.CreditAccount, error) {
	defer s.lock(ctx)()

	a, ok := s.accounts[id]
	if !ok {
		return nil, models.ErrAccountNotFound
	}
	return &a, nil
}

func (s *Store) GetAccountForUpdate(ctx context.Context, id uuid.UUID) (*models.CreditAccount, error) {
	if !s.inTx(ctx) {
		return nil, fmt.Errorf("GetAccountForUpdate requires a transaction")
	}
	return s.GetAccount(ctx, id)
}

func (s *Store) FindAccount(ctx context.Context, orgID uuid.UUID, userID *uuid.UUID) (*models.CreditAccount, error) {
	defer s.lock(ctx)()

	for _, a := range s.accounts {
		if a.OrganizationID == orgID && sameUser(a.UserID, userID) {
			found := a
			return &found, nil
		}
	}
	return nil, nil
}

func (s *Store) UpdateAccountBalances(ctx context.Context, account *models.CreditAccount) error {
	defer s.lock(ctx)()

	cur, ok := s.accounts[account.ID]
	if !ok {
		return models.ErrAccountNotFound
	}
	if cur.Version != account.Version {
		return fmt.Errorf("credit account %s was modified concurrently", account.ID)
	}
	if account.AvailableBalance.IsNegative() || account.UsedBalance.IsNegative() || account.TotalLimit.IsNegative() {
		return fmt.Errorf("credit account %s balance check violated", account.ID)
	}

	account.Version++
	s.accounts[account.ID] = *account
	return nil
}

func (s *Store) CreateHold(ctx context.Context, hold *models.CreditHold) error {
	defer s.lock(ctx)()

	for _, h := range s.holds {
		if h.BookingID == hold.BookingID && h.Status == models.HoldStatusActive && hold.Status == models.HoldStatusActive {
			return fmt.Errorf("booking %s already has an active hold", hold.BookingID)
		}
	}
	s.holds[hold.ID] = *hold
	return nil
}

func (s *Store) GetHold(ctx context.Context, id uuid.UUID) (*models.CreditHold, error) {
	defer s.lock(ctx)()

	h, ok := s.holds[id]
	if !ok {
		return nil, models.ErrHoldNotFound
	}
	return &h, nil
}

func (s *Store) GetHoldForUpdate(ctx context.Context, id uuid.UUID) (*models.CreditHold, error) {
	if !s.inTx(ctx) {
		return nil, fmt.Errorf("GetHoldForUpdate requires a transaction")
	}
	return s.GetHold(ctx, id)
}

func (s *Store) UpdateHold(ctx context.Context, hold *models.CreditHold) error {
	defer s.lock(ctx)()

	cur, ok := s.holds[hold.ID]
	if !ok || cur.Status != models.HoldStatusActive {
		return models.ErrHoldNotActive
	}
	s.holds[hold.ID] = *hold
	return nil
}

func (s *Store) ListHolds(ctx context.Context, accountID uuid.UUID, status *models.CreditHoldStatus) ([]*models.CreditHold, error) {
	defer s.lock(ctx)()

	holds := []*models.CreditHold{}
	for _, h := range s.holds {
		if h.AccountID != accountID {
			continue
		}
		if status != nil && h.Status != *status {
			continue
		}
		hold := h
		holds = append(holds, &hold)
	}
	sort.Slice(holds, func(i, j int) bool {
		return holds[i].CreatedAt.Before(holds[j].CreatedAt)
	})
	return holds, nil
}

func (s *Store) SumActiveHolds(ctx context.Context, accountID uuid.UUID) (decimal.Decimal, int, error) {
	defer s.lock(ctx)()

	total := decimal.Zero
	count := 0
	for _, h := range s.holds {
		if h.AccountID == accountID && h.Status == models.HoldStatusActive {
			total = total.Add(h.Amount)
			count++
		}
	}
	return total, count, nil
}

func (s *Store) ListHoldsRequiringReconciliation(ctx context.Context, limit int) ([]*models.CreditHold, error) {
	defer s.lock(ctx)()

	holds := []*models.CreditHold{}
	for _, h := range s.holds {
		if h.Voided {
			hold := h
			holds = append(holds, &hold)
		}
	}
	sort.Slice(holds, func(i, j int) bool {
		return releasedAt(holds[i]).After(releasedAt(holds[j]))
	})
	if limit > 0 && len(holds) > limit {
		holds = holds[:limit]
	}
	return holds, nil
}

func (s *Store) AppendEntry(ctx context.Context, entry *models.CreditLedgerEntry) error {
	defer s.lock(ctx)()

	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	s.entries = append(s.entries, *entry)
	return nil
}

func (s *Store) ListEntries(ctx context.Context, accountID uuid.UUID, limit int) ([]*models.CreditLedgerEntry, error) {
	defer s.lock(ctx)()

	if limit <= 0 {
		limit = 50
	}
	entries := []*models.CreditLedgerEntry{}
	for i := len(s.entries) - 1; i >= 0 && len(entries) < limit; i-- {
		if s.entries[i].AccountID == accountID {
			e := s.entries[i]
			entries = append(entries, &e)
		}
	}
	return entries, nil
}

// ============================================================================
// QUOTES
// ============================================================================

func (s *Store) CreateQuote(ctx context.Context, quote *models.Quote) error {
	defer s.lock(ctx)()

	s.quotes[quote.ID] = *quote
	return nil
}

func (s *Store) GetQuote(ctx context.Context, id uuid.UUID) (*models.Quote, error) {
	defer s.lock(ctx)()

	q, ok := s.quotes[id]
	if !ok {
		return nil, models.ErrQuoteNotFound
	}
	return &q, nil
}

func (s *Store) DeleteStaleQuotes(ctx context.Context, expiredBefore time.Time) (int, error) {
	defer s.lock(ctx)()

	referenced := map[uuid.UUID]bool{}
	for _, b := range s.bookings {
		if b.QuoteID != nil {
			referenced[*b.QuoteID] = true
		}
		if b.PendingQuoteID != nil {
			referenced[*b.PendingQuoteID] = true
		}
	}

	for _, q := range s.quotes {
		if q.SupersedesQuoteID != nil {
			referenced[*q.SupersedesQuoteID] = true
		}
	}

	removed := 0
	for id, q := range s.quotes {
		if q.ExpiresAt.Before(expiredBefore) && !referenced[id] {
			delete(s.quotes, id)
			removed++
		}
	}
	return removed, nil
}

// ============================================================================
// BOOKINGS
// ============================================================================

func (s *Store) CreateBooking(ctx context.Context, b *models.Booking) error {
	defer s.lock(ctx)()

	if err := s.checkBookingUnique(b); err != nil {
		return err
	}
	s.bookings[b.ID] = *b
	s.bookingOrder = append(s.bookingOrder, b.ID)
	return nil
}

func (s *Store) checkBookingUnique(b *models.Booking) error {
	for id, other := range s.bookings {
		if id == b.ID {
			continue
		}
		if b.QuoteID != nil && other.QuoteID != nil && *b.QuoteID == *other.QuoteID {
			return models.ErrQuoteAlreadyConsumed
		}
		if b.ClientReference != nil && other.ClientReference != nil &&
			other.TravelerID == b.TravelerID && *other.ClientReference == *b.ClientReference {
			return fmt.Errorf("client reference %q already used", *b.ClientReference)
		}
		if other.IdempotencyKey == b.IdempotencyKey {
			return fmt.Errorf("idempotency key already used")
		}
	}
	return nil
}

func (s *Store) GetBooking(ctx context.Context, id uuid.UUID) (*models.Booking, error) {
	defer s.lock(ctx)()

	b, ok := s.bookings[id]
	if !ok {
		return nil, models.ErrBookingNotFound
	}
	return &b, nil
}

func (s *Store) GetBookingForUpdate(ctx context.Context, id uuid.UUID) (*models.Booking, error) {
	if !s.inTx(ctx) {
		return nil, fmt.Errorf("GetBookingForUpdate requires a transaction")
	}
	return s.GetBooking(ctx, id)
}

func (s *Store) FindByClientReference(ctx context.Context, travelerID uuid.UUID, ref string) (*models.Booking, error) {
	defer s.lock(ctx)()

	for _, b := range s.bookings {
		if b.TravelerID == travelerID && b.ClientReference != nil && *b.ClientReference == ref {
			found := b
			return &found, nil
		}
	}
	return nil, nil
}

func (s *Store) UpdateBooking(ctx context.Context, b *models.Booking, expected models.BookingStatus) error {
	defer s.lock(ctx)()

	cur, ok := s.bookings[b.ID]
	if !ok || cur.Status != expected {
		return models.ErrInvalidStateTransition
	}
	if err := s.checkBookingUnique(b); err != nil {
		return err
	}

	b.Version = cur.Version + 1
	s.bookings[b.ID] = *b
	return nil
}

func (s *Store) ListBookings(ctx context.Context, filter models.BookingFilter) ([]*models.Booking, error) {
	defer s.lock(ctx)()

	limit := filter.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	bookings := []*models.Booking{}
	skipped := 0
	for i := len(s.bookingOrder) - 1; i >= 0 && len(bookings) < limit; i-- {
		b := s.bookings[s.bookingOrder[i]]
		if filter.OrganizationID != nil && b.OrganizationID != *filter.OrganizationID {
			continue
		}
		if filter.TravelerID != nil && b.TravelerID != *filter.TravelerID {
			continue
		}
		if filter.Status != nil && b.Status != *filter.Status {
			continue
		}
		if skipped < filter.Offset {
			skipped++
			continue
		}
		bookings = append(bookings, &b)
	}
	return bookings, nil
}

func (s *Store) ListUnreconciledProviderBookings(ctx context.Context, olderThan time.Time, limit int) ([]*models.Booking, error) {
	defer s.lock(ctx)()

	bookings := []*models.Booking{}
	for _, id := range s.bookingOrder {
		b := s.bookings[id]
		if unreconciled(&b) && b.UpdatedAt.Before(olderThan) {
			bookings = append(bookings, &b)
		}
		if limit > 0 && len(bookings) >= limit {
			break
		}
	}
	return bookings, nil
}

// ============================================================================
// AUDIT
// ============================================================================

func (s *Store) AppendAuditEvent(ctx context.Context, event *models.BookingAuditEvent) error {
	defer s.lock(ctx)()

	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}
	s.events = append(s.events, *event)
	return nil
}

func (s *Store) ListAuditEvents(ctx context.Context, bookingID uuid.UUID) ([]*models.BookingAuditEvent, error) {
	defer s.lock(ctx)()

	events := []*models.BookingAuditEvent{}
	for _, e := range s.events {
		if e.BookingID == bookingID {
			event := e
			events = append(events, &event)
		}
	}
	return events, nil
}

func sameUser(a, b *uuid.UUID) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func releasedAt(h *models.CreditHold) time.Time {
	if h.ReleasedAt == nil {
		return time.Time{}
	}
	return *h.ReleasedAt
}

func unreconciled(b *models.Booking) bool {
	if !b.SupplierExposed() || b.ProviderReleasedAt != nil {
		return false
	}
	switch b.Status {
	case models.BookingStatusAwaitingConfirmation, models.BookingStatusRejected, models.BookingStatusCancelled:
		return true
	}
	return false
}
