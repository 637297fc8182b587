package services

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/bvodo/booking-core/pkg/ttlcache"
)

// CronConfig holds the schedules of the background sweeps.
// Specs use the six field format: second minute hour day month weekday.
type CronConfig struct {
	CacheSweepSpec  string
	QuotePurgeSpec  string
	QuoteRetention  time.Duration
	ReconcileSpec   string
	ReconcileMinAge time.Duration
	ReconcileLimit  int
}

// DefaultCronConfig returns default schedules
func DefaultCronConfig() CronConfig {
	return CronConfig{
		CacheSweepSpec:  "0 * * * * *",    // every minute
		QuotePurgeSpec:  "0 15 * * * *",   // hourly at :15
		QuoteRetention:  24 * time.Hour,
		ReconcileSpec:   "0 */15 * * * *", // every 15 minutes
		ReconcileMinAge: 10 * time.Minute,
		ReconcileLimit:  100,
	}
}

// CronService manages scheduled background jobs. None of them touch balances:
// they sweep the rate cache, purge dead quotes and report what needs reconciling.
type CronService struct {
	cron         *cron.Cron
	cache        *ttlcache.Cache
	quotes       *QuoteService
	orchestrator *BookingOrchestratorService
	config       CronConfig
	logger       *logrus.Logger
}

// NewCronService creates a new CronService
func NewCronService(cache *ttlcache.Cache, quotes *QuoteService, orchestrator *BookingOrchestratorService, config CronConfig, logger *logrus.Logger) *CronService {
	return &CronService{
		cron:         cron.New(cron.WithSeconds()),
		cache:        cache,
		quotes:       quotes,
		orchestrator: orchestrator,
		config:       config,
		logger:       logger,
	}
}

// Start schedules all jobs and starts the scheduler
func (s *CronService) Start() error {
	jobs := []struct {
		name string
		spec string
		fn   func()
	}{
		{"rate cache sweep", s.config.CacheSweepSpec, s.sweepCacheJob},
		{"stale quote purge", s.config.QuotePurgeSpec, s.purgeStaleQuotesJob},
		{"reconciliation report", s.config.ReconcileSpec, s.reconciliationJob},
	}

	for _, job := range jobs {
		if _, err := s.cron.AddFunc(job.spec, job.fn); err != nil {
			return fmt.Errorf("failed to schedule %s job: %w", job.name, err)
		}
		s.logger.WithFields(logrus.Fields{
			"job":  job.name,
			"spec": job.spec,
		}).Info("Scheduled cron job")
	}

	s.cron.Start()
	s.logger.Info("Cron service started")
	return nil
}

// Stop stops the scheduler and waits for running jobs
func (s *CronService) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.logger.Info("Cron service stopped")
}

func (s *CronService) sweepCacheJob() {
	removed := s.cache.Sweep()
	if removed > 0 {
		s.logger.WithFields(logrus.Fields{
			"removed":   removed,
			"remaining": s.cache.Len(),
		}).Debug("[CRON] Rate cache swept")
	}
}

func (s *CronService) purgeStaleQuotesJob() {
	if _, err := s.RunQuotePurgeNow(context.Background()); err != nil {
		s.logger.WithError(err).Error("[CRON] Failed to purge stale quotes")
	}
}

func (s *CronService) reconciliationJob() {
	if _, err := s.RunReconciliationNow(context.Background()); err != nil {
		s.logger.WithError(err).Error("[CRON] Failed to build reconciliation report")
	}
}

// RunQuotePurgeNow deletes stale quotes immediately
func (s *CronService) RunQuotePurgeNow(ctx context.Context) (int, error) {
	start := time.Now()
	removed, err := s.quotes.PurgeStale(ctx, s.config.QuoteRetention)
	if err != nil {
		return 0, err
	}
	s.logger.WithFields(logrus.Fields{
		"removed":  removed,
		"duration": time.Since(start).String(),
	}).Info("[CRON] Stale quotes purged")
	return removed, nil
}

// RunReconciliationNow builds the reconciliation report and logs every item
// at Warn so it reaches alerting
func (s *CronService) RunReconciliationNow(ctx context.Context) (*ReconciliationReport, error) {
	report, err := s.orchestrator.Reconciliation(ctx, s.config.ReconcileMinAge, s.config.ReconcileLimit)
	if err != nil {
		return nil, err
	}

	for _, h := range report.VoidedHolds {
		s.logger.WithFields(logrus.Fields{
			"hold_id":    h.ID,
			"account_id": h.AccountID,
			"booking_id": h.BookingID,
			"amount":     h.Amount.String(),
		}).Warn("[CRON] Voided credit hold needs reconciliation")
	}
	for _, b := range report.UnconfirmedProviders {
		s.logger.WithFields(logrus.Fields{
			"booking_id":           b.ID,
			"status":               b.Status,
			"provider_booking_id":  b.ProviderBookingID,
			"confirm_attempted_at": b.ConfirmAttemptedAt,
			"updated_at":           b.UpdatedAt,
		}).Warn("[CRON] Supplier reservation not settled locally")
	}

	return report, nil
}

// GetJobStatus returns the status of scheduled jobs
func (s *CronService) GetJobStatus() map[string]interface{} {
	entries := s.cron.Entries()

	jobs := make([]map[string]interface{}, 0, len(entries))
	for _, entry := range entries {
		jobs = append(jobs, map[string]interface{}{
			"id":       entry.ID,
			"next_run": entry.Next,
			"prev_run": entry.Prev,
		})
	}

	return map[string]interface{}{
		"running":   len(entries) > 0,
		"job_count": len(entries),
		"jobs":      jobs,
	}
}
