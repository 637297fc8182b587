package provider

import (
	"context"
	"time"

	"github.com/bvodo/booking-core/pkg/ttlcache"
)

// CachedRates decorates a Provider so FetchRates answers are reused for ttl.
// Quotes and bookings always go to the supplier.
type CachedRates struct {
	Provider
	rates *ttlcache.Scoped
	ttl   time.Duration
}

// NewCachedRates wraps p with a rate cache stored in the "rates" scope of cache
func NewCachedRates(p Provider, cache *ttlcache.Cache, ttl time.Duration) *CachedRates {
	return &CachedRates{
		Provider: p,
		rates:    cache.Scope("rates"),
		ttl:      ttl,
	}
}

// FetchRates serves from cache when possible. Failures are never cached.
func (c *CachedRates) FetchRates(ctx context.Context, searchResultID string) (*Accommodation, error) {
	if v, ok := c.rates.Get(searchResultID); ok {
		if acc, ok := v.(*Accommodation); ok {
			return acc, nil
		}
	}

	acc, err := c.Provider.FetchRates(ctx, searchResultID)
	if err != nil {
		return nil, err
	}

	c.rates.Set(searchResultID, acc, c.ttl)
	return acc, nil
}

// Invalidate forgets the cached rates of one search result
func (c *CachedRates) Invalidate(searchResultID string) {
	c.rates.Delete(searchResultID)
}
