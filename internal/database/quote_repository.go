package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"

	"github.com/bvodo/booking-core/internal/models"
)

// QuoteRepository persists immutable provider quotes
type QuoteRepository struct {
	*TxManager
	logger *logrus.Logger
}

// NewQuoteRepository creates a new quote repository
func NewQuoteRepository(tm *TxManager, logger *logrus.Logger) *QuoteRepository {
	return &QuoteRepository{
		TxManager: tm,
		logger:    logger,
	}
}

// CreateQuote inserts a quote
func (r *QuoteRepository) CreateQuote(ctx context.Context, quote *models.Quote) error {
	query := `
		INSERT INTO quotes (
			id, rate_id, provider_quote_id, total_amount, currency,
			expires_at, supersedes_quote_id, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err := r.conn(ctx).ExecContext(ctx, query,
		quote.ID, quote.RateID, quote.ProviderQuoteID, quote.TotalAmount, quote.Currency,
		quote.ExpiresAt, quote.SupersedesQuoteID, quote.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create quote: %w", err)
	}
	return nil
}

// GetQuote retrieves a quote by ID
func (r *QuoteRepository) GetQuote(ctx context.Context, id uuid.UUID) (*models.Quote, error) {
	query := `
		SELECT id, rate_id, provider_quote_id, total_amount, currency,
			expires_at, supersedes_quote_id, created_at
		FROM quotes
		WHERE id = $1`

	var quote models.Quote
	if err := sqlx.GetContext(ctx, r.conn(ctx), &quote, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, models.ErrQuoteNotFound
		}
		return nil, fmt.Errorf("failed to get quote: %w", err)
	}
	return &quote, nil
}

// DeleteStaleQuotes removes quotes that expired before the cutoff, that no
// booking references and that no remaining quote supersedes. Refresh lineage
// is purged newest first, so kept quotes never lose their supersedes_quote_id.
func (r *QuoteRepository) DeleteStaleQuotes(ctx context.Context, expiredBefore time.Time) (int, error) {
	query := `
		DELETE FROM quotes q
		WHERE q.expires_at < $1
			AND NOT EXISTS (
				SELECT 1 FROM bookings b
				WHERE b.quote_id = q.id OR b.pending_quote_id = q.id
			)
			AND NOT EXISTS (
				SELECT 1 FROM quotes n
				WHERE n.supersedes_quote_id = q.id
			)`

	result, err := r.conn(ctx).ExecContext(ctx, query, expiredBefore)
	if err != nil {
		return 0, fmt.Errorf("failed to delete stale quotes: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return int(rows), nil
}
