package sandbox

import (
	"github.com/shopspring/decimal"

	"github.com/bvodo/booking-core/pkg/provider"
)

// DemoCatalog is the inventory loaded by SeedDemo
func DemoCatalog() []provider.Accommodation {
	return []provider.Accommodation{
		{
			ID:       "acc_lisbon_baixa",
			Name:     "Hotel Baixa",
			Location: "Lisbon, PT",
			Rates: []provider.Rate{
				{ID: "rate_lisbon_std", Description: "Standard double, room only", TotalAmount: decimal.RequireFromString("289.00"), Currency: "USD"},
				{ID: "rate_lisbon_sup", Description: "Superior double, breakfast", TotalAmount: decimal.RequireFromString("412.50"), Currency: "USD"},
			},
		},
		{
			ID:       "acc_berlin_mitte",
			Name:     "Mitte Residence",
			Location: "Berlin, DE",
			Rates: []provider.Rate{
				{ID: "rate_berlin_std", Description: "Studio, flexible", TotalAmount: decimal.RequireFromString("198.00"), Currency: "USD"},
			},
		},
		{
			ID:       "acc_nyc_midtown",
			Name:     "Midtown Suites",
			Location: "New York, US",
			Rates: []provider.Rate{
				{ID: "rate_nyc_king", Description: "King room, non refundable", TotalAmount: decimal.RequireFromString("634.20"), Currency: "USD"},
				{ID: "rate_nyc_suite", Description: "Junior suite, flexible", TotalAmount: decimal.RequireFromString("918.00"), Currency: "USD"},
			},
		},
	}
}

// SeedDemo loads DemoCatalog, replacing any entries with the same ids
func (p *Provider) SeedDemo() error {
	for _, acc := range DemoCatalog() {
		if err := p.SeedAccommodation(acc); err != nil {
			return err
		}
	}
	return nil
}
