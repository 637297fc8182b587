package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/bvodo/booking-core/internal/clock"
	"github.com/bvodo/booking-core/internal/models"
	"github.com/bvodo/booking-core/pkg/provider"
)

// QuoteStore persists quotes. Quotes are insert-only.
type QuoteStore interface {
	CreateQuote(ctx context.Context, quote *models.Quote) error
	GetQuote(ctx context.Context, id uuid.UUID) (*models.Quote, error)
	DeleteStaleQuotes(ctx context.Context, expiredBefore time.Time) (int, error)
}

// QuoteConfig holds provider call settings for quoting
type QuoteConfig struct {
	ProviderTimeout time.Duration
	TTLFallback     time.Duration // used when the supplier sends no expiry
}

// DefaultQuoteConfig returns default quote settings
func DefaultQuoteConfig() QuoteConfig {
	return QuoteConfig{
		ProviderTimeout: 15 * time.Second,
		TTLFallback:     10 * time.Minute,
	}
}

// QuoteService locks supplier prices as Quotes. Refresh is only ever called
// right before a quote is consumed, never in the background.
type QuoteService struct {
	store    QuoteStore
	provider provider.Provider
	clock    clock.Clock
	config   QuoteConfig
	logger   *logrus.Logger
}

// NewQuoteService creates a new quote service
func NewQuoteService(store QuoteStore, p provider.Provider, clk clock.Clock, config QuoteConfig, logger *logrus.Logger) *QuoteService {
	return &QuoteService{
		store:    store,
		provider: p,
		clock:    clk,
		config:   config,
		logger:   logger,
	}
}

// CreateQuote asks the supplier to lock rateID and stores the result
func (s *QuoteService) CreateQuote(ctx context.Context, rateID string) (*models.Quote, error) {
	if rateID == "" {
		return nil, models.ValidationError("rate_id is required")
	}
	return s.requestQuote(ctx, rateID, nil)
}

// IsValid reports whether the quote can still be used
func (s *QuoteService) IsValid(quote *models.Quote) bool {
	return quote.IsValidAt(s.clock.Now())
}

// Refresh requests a new quote for the same rate. The new quote supersedes
// the old one; PriceChanged tells the caller to get the new total approved.
func (s *QuoteService) Refresh(ctx context.Context, previous *models.Quote) (*models.QuoteCheck, error) {
	quote, err := s.requestQuote(ctx, previous.RateID, previous)
	if err != nil {
		return nil, err
	}

	check := &models.QuoteCheck{
		Quote:     quote,
		Previous:  previous,
		Refreshed: true,
		Delta:     quote.TotalAmount.Sub(previous.TotalAmount),
	}
	check.PriceChanged = !check.Delta.IsZero() || quote.Currency != previous.Currency

	s.logger.WithFields(logrus.Fields{
		"quote_id":          quote.ID,
		"previous_quote_id": previous.ID,
		"rate_id":           quote.RateID,
		"price_changed":     check.PriceChanged,
		"delta":             check.Delta.String(),
	}).Info("Quote refreshed")

	return check, nil
}

// EnsureValid loads a quote and refreshes it when it has expired
func (s *QuoteService) EnsureValid(ctx context.Context, quoteID uuid.UUID) (*models.QuoteCheck, error) {
	quote, err := s.store.GetQuote(ctx, quoteID)
	if err != nil {
		return nil, err
	}
	if s.IsValid(quote) {
		return &models.QuoteCheck{Quote: quote}, nil
	}
	return s.Refresh(ctx, quote)
}

// GetQuote returns a stored quote
func (s *QuoteService) GetQuote(ctx context.Context, quoteID uuid.UUID) (*models.Quote, error) {
	return s.store.GetQuote(ctx, quoteID)
}

// PurgeStale deletes unreferenced quotes that expired more than retention ago
func (s *QuoteService) PurgeStale(ctx context.Context, retention time.Duration) (int, error) {
	return s.store.DeleteStaleQuotes(ctx, s.clock.Now().Add(-retention))
}

// Search lists accommodations from the supplier
func (s *QuoteService) Search(ctx context.Context, criteria provider.SearchCriteria) ([]provider.SearchResult, error) {
	callCtx, cancel := context.WithTimeout(ctx, s.config.ProviderTimeout)
	defer cancel()

	results, err := s.provider.Search(callCtx, criteria)
	if err != nil {
		return nil, mapProviderError("search", err)
	}
	return results, nil
}

// FetchRates lists the bookable rates of one search result
func (s *QuoteService) FetchRates(ctx context.Context, searchResultID string) (*provider.Accommodation, error) {
	callCtx, cancel := context.WithTimeout(ctx, s.config.ProviderTimeout)
	defer cancel()

	acc, err := s.provider.FetchRates(callCtx, searchResultID)
	if err != nil {
		return nil, mapProviderError("fetch_rates", err)
	}
	return acc, nil
}

func (s *QuoteService) requestQuote(ctx context.Context, rateID string, previous *models.Quote) (*models.Quote, error) {
	callCtx, cancel := context.WithTimeout(ctx, s.config.ProviderTimeout)
	defer cancel()

	result, err := s.provider.CreateQuote(callCtx, rateID)
	if err != nil {
		s.logger.WithFields(logrus.Fields{
			"rate_id": rateID,
			"error":   err.Error(),
		}).Warn("Provider quote request failed")
		return nil, mapProviderError("create_quote", err)
	}

	now := s.clock.Now()
	expiresAt := result.ExpiresAt
	if expiresAt.IsZero() {
		expiresAt = now.Add(s.config.TTLFallback)
	}
	// never hand out a quote that is already dead
	if !now.Before(expiresAt) {
		return nil, fmt.Errorf("%w: provider quote %s expired at %s", models.ErrQuoteExpiredOrInvalid, result.ID, expiresAt.Format(time.RFC3339))
	}

	quote := &models.Quote{
		ID:              uuid.New(),
		RateID:          rateID,
		ProviderQuoteID: result.ID,
		TotalAmount:     result.TotalAmount,
		Currency:        result.Currency,
		ExpiresAt:       expiresAt,
		CreatedAt:       now,
	}
	if previous != nil {
		id := previous.ID
		quote.SupersedesQuoteID = &id
	}

	if err := s.store.CreateQuote(ctx, quote); err != nil {
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{
		"quote_id":   quote.ID,
		"rate_id":    rateID,
		"amount":     quote.TotalAmount.String(),
		"currency":   quote.Currency,
		"expires_at": quote.ExpiresAt,
	}).Debug("Quote created")

	return quote, nil
}

// mapProviderError translates supplier sentinels into domain errors and
// classifies everything else as retryable or fatal
func mapProviderError(op string, err error) error {
	switch {
	case errors.Is(err, provider.ErrRateUnavailable):
		return fmt.Errorf("%w: %w", models.ErrRateUnavailable, err)
	case errors.Is(err, provider.ErrQuoteInvalid):
		return fmt.Errorf("%w: %w", models.ErrQuoteExpiredOrInvalid, err)
	case errors.Is(err, provider.ErrBookingNotFound):
		return err
	}
	return provider.Classify(op, err)
}
