package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bvodo/booking-core/pkg/ttlcache"
)

func TestCronService_StartAndStop(t *testing.T) {
	f := setupOrchestratorTest(t, 500)
	cache := ttlcache.New(f.clk.Now)

	svc := NewCronService(cache, f.quotes, f.orchestrator, DefaultCronConfig(), newTestLogger())
	require.NoError(t, svc.Start())

	status := svc.GetJobStatus()
	assert.Equal(t, 3, status["job_count"])
	assert.Equal(t, true, status["running"])

	svc.Stop()
}

func TestCronService_InvalidSpec(t *testing.T) {
	f := setupOrchestratorTest(t, 500)
	config := DefaultCronConfig()
	config.QuotePurgeSpec = "every now and then"

	svc := NewCronService(ttlcache.New(f.clk.Now), f.quotes, f.orchestrator, config, newTestLogger())
	err := svc.Start()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "stale quote purge")
}

func TestCronService_RunJobsNow(t *testing.T) {
	f := setupOrchestratorTest(t, 500)
	ctx := context.Background()
	svc := NewCronService(ttlcache.New(f.clk.Now), f.quotes, f.orchestrator, DefaultCronConfig(), newTestLogger())

	// a submitted booking keeps its quote alive, a dangling quote is purged
	b, err := f.orchestrator.Submit(ctx, f.traveler, hotelRequest("rate_std"))
	require.NoError(t, err)
	dangling, err := f.quotes.CreateQuote(ctx, "rate_sup")
	require.NoError(t, err)

	f.clk.Advance(48 * time.Hour)
	removed, err := svc.RunQuotePurgeNow(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	_, err = f.quotes.GetQuote(ctx, *b.QuoteID)
	assert.NoError(t, err)
	_, err = f.quotes.GetQuote(ctx, dangling.ID)
	assert.Error(t, err)

	_, voided, err := f.ledger.Reset(ctx, f.account.ID)
	require.NoError(t, err)
	require.Equal(t, 1, voided)

	report, err := svc.RunReconciliationNow(ctx)
	require.NoError(t, err)
	require.Len(t, report.VoidedHolds, 1)
	assert.Equal(t, b.ID, report.VoidedHolds[0].BookingID)
	assert.Empty(t, report.UnconfirmedProviders)
}
