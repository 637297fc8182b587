package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/bvodo/booking-core/internal/middleware"
	"github.com/bvodo/booking-core/internal/models"
	"github.com/bvodo/booking-core/internal/services"
)

// CreditAdminHandler exposes credit administration to operators
type CreditAdminHandler struct {
	ledger          *services.CreditLedgerService
	orchestrator    *services.BookingOrchestratorService
	reconcileMinAge time.Duration
	logger          *logrus.Logger
}

// NewCreditAdminHandler creates a new CreditAdminHandler
func NewCreditAdminHandler(
	ledger *services.CreditLedgerService,
	orchestrator *services.BookingOrchestratorService,
	reconcileMinAge time.Duration,
	logger *logrus.Logger,
) *CreditAdminHandler {
	return &CreditAdminHandler{
		ledger:          ledger,
		orchestrator:    orchestrator,
		reconcileMinAge: reconcileMinAge,
		logger:          logger,
	}
}

// ============================================================================
// ACCOUNTS
// ============================================================================

// CreateAccount opens an organization or user credit account
// POST /api/v1/admin/credit/accounts
func (h *CreditAdminHandler) CreateAccount(c *gin.Context) {
	var req models.CreateCreditAccountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request: "+err.Error())
		return
	}

	account, err := h.ledger.CreateAccount(c.Request.Context(), &req)
	if err != nil {
		respondError(c, h.logger, "create_credit_account", err)
		return
	}

	h.auditLog(c, "create_credit_account").WithField("account_id", account.ID).Info("Credit account created")
	c.JSON(http.StatusCreated, account)
}

// GetAccount returns the balance summary of an account
// GET /api/v1/admin/credit/accounts/:id
func (h *CreditAdminHandler) GetAccount(c *gin.Context) {
	accountID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	summary, err := h.ledger.GetBalanceSummary(c.Request.Context(), accountID)
	if err != nil {
		respondError(c, h.logger, "get_credit_account", err)
		return
	}

	c.JSON(http.StatusOK, summary)
}

// Allocate sets or raises the limit of an account
// POST /api/v1/admin/credit/accounts/:id/allocate
func (h *CreditAdminHandler) Allocate(c *gin.Context) {
	accountID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	var req models.AllocateCreditRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request: "+err.Error())
		return
	}
	if err := req.Validate(); err != nil {
		respondError(c, h.logger, "allocate_credit", err)
		return
	}

	account, err := h.ledger.Allocate(c.Request.Context(), accountID, req.Amount, req.Operation)
	if err != nil {
		respondError(c, h.logger, "allocate_credit", err)
		return
	}

	h.auditLog(c, "allocate_credit").WithFields(logrus.Fields{
		"account_id": accountID,
		"operation":  req.Operation,
		"amount":     req.Amount.String(),
	}).Info("Credit allocated")
	c.JSON(http.StatusOK, account)
}

// Reduce lowers the limit of an account out of its available balance
// POST /api/v1/admin/credit/accounts/:id/reduce
func (h *CreditAdminHandler) Reduce(c *gin.Context) {
	accountID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	var req models.ReduceCreditRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request: "+err.Error())
		return
	}

	account, err := h.ledger.Reduce(c.Request.Context(), accountID, req.Amount)
	if err != nil {
		respondError(c, h.logger, "reduce_credit", err)
		return
	}

	h.auditLog(c, "reduce_credit").WithFields(logrus.Fields{
		"account_id": accountID,
		"amount":     req.Amount.String(),
	}).Info("Credit reduced")
	c.JSON(http.StatusOK, account)
}

// Reset zeroes an account and voids its active holds
// POST /api/v1/admin/credit/accounts/:id/reset
func (h *CreditAdminHandler) Reset(c *gin.Context) {
	accountID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	account, voided, err := h.ledger.Reset(c.Request.Context(), accountID)
	if err != nil {
		respondError(c, h.logger, "reset_credit", err)
		return
	}

	h.auditLog(c, "reset_credit").WithFields(logrus.Fields{
		"account_id":   accountID,
		"voided_holds": voided,
	}).Warn("Credit account reset")
	c.JSON(http.StatusOK, gin.H{
		"account":      account,
		"voided_holds": voided,
	})
}

// ============================================================================
// HOLDS & JOURNAL
// ============================================================================

// ListHolds lists the holds of an account, optionally filtered by status
// GET /api/v1/admin/credit/accounts/:id/holds?status=active
func (h *CreditAdminHandler) ListHolds(c *gin.Context) {
	accountID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	var status *models.CreditHoldStatus
	if v := c.Query("status"); v != "" {
		s := models.CreditHoldStatus(v)
		switch s {
		case models.HoldStatusActive, models.HoldStatusReleased, models.HoldStatusConsumed:
			status = &s
		default:
			badRequest(c, "invalid status")
			return
		}
	}

	holds, err := h.ledger.ListHolds(c.Request.Context(), accountID, status)
	if err != nil {
		respondError(c, h.logger, "list_credit_holds", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"holds": holds,
		"count": len(holds),
	})
}

// ListEntries returns the most recent journal entries of an account
// GET /api/v1/admin/credit/accounts/:id/entries?limit=100
func (h *CreditAdminHandler) ListEntries(c *gin.Context) {
	accountID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	limit := 100
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 1000 {
			badRequest(c, "limit must be between 1 and 1000")
			return
		}
		limit = n
	}

	entries, err := h.ledger.ListEntries(c.Request.Context(), accountID, limit)
	if err != nil {
		respondError(c, h.logger, "list_credit_entries", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"entries": entries,
		"count":   len(entries),
	})
}

// Reconciliation lists voided holds and supplier reservations without a local confirmation
// GET /api/v1/admin/credit/reconciliation
func (h *CreditAdminHandler) Reconciliation(c *gin.Context) {
	report, err := h.orchestrator.Reconciliation(c.Request.Context(), h.reconcileMinAge, 500)
	if err != nil {
		respondError(c, h.logger, "reconciliation_report", err)
		return
	}

	c.JSON(http.StatusOK, report)
}

func (h *CreditAdminHandler) auditLog(c *gin.Context, operation string) *logrus.Entry {
	fields := logrus.Fields{"operation": operation}
	if actor, ok := middleware.GetActor(c); ok {
		fields["actor_id"] = actor.UserID
		fields["actor_role"] = actor.Role
	}
	return h.logger.WithFields(fields)
}
