package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/bvodo/booking-core/internal/models"
	"github.com/bvodo/booking-core/internal/services"
)

// BookingOrchestratorHandler exposes the booking workflow
type BookingOrchestratorHandler struct {
	orchestrator *services.BookingOrchestratorService
	logger       *logrus.Logger
}

// NewBookingOrchestratorHandler creates a new BookingOrchestratorHandler
func NewBookingOrchestratorHandler(orchestrator *services.BookingOrchestratorService, logger *logrus.Logger) *BookingOrchestratorHandler {
	return &BookingOrchestratorHandler{
		orchestrator: orchestrator,
		logger:       logger,
	}
}

// ============================================================================
// SUBMIT - POST /api/v1/bookings
// ============================================================================

// Submit creates a booking and holds its price against the traveler's credit
// @Summary Submit booking
// @Tags Bookings
// @Accept json
// @Produce json
// @Param Authorization header string true "Bearer token"
// @Param request body models.SubmitBookingRequest true "Booking request"
// @Success 201 {object} models.Booking
// @Failure 402 {object} map[string]interface{} "Insufficient credits"
// @Failure 409 {object} map[string]interface{} "Rate unavailable or quote invalid"
// @Router /bookings [post]
func (h *BookingOrchestratorHandler) Submit(c *gin.Context) {
	actor, ok := actorOrAbort(c)
	if !ok {
		return
	}

	var req models.SubmitBookingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request: "+err.Error())
		return
	}

	booking, err := h.orchestrator.Submit(c.Request.Context(), actor, &req)
	if err != nil {
		respondError(c, h.logger, "submit_booking", err)
		return
	}

	c.JSON(http.StatusCreated, booking)
}

// ============================================================================
// READS
// ============================================================================

// ListBookings lists bookings visible to the caller
// @Router /bookings [get]
func (h *BookingOrchestratorHandler) ListBookings(c *gin.Context) {
	actor, ok := actorOrAbort(c)
	if !ok {
		return
	}

	filter := models.BookingFilter{Limit: 50}
	if status := c.Query("status"); status != "" {
		s := models.BookingStatus(status)
		if !isKnownStatus(s) {
			badRequest(c, "invalid status")
			return
		}
		filter.Status = &s
	}
	if v := c.Query("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit < 1 || limit > 200 {
			badRequest(c, "limit must be between 1 and 200")
			return
		}
		filter.Limit = limit
	}
	if v := c.Query("offset"); v != "" {
		offset, err := strconv.Atoi(v)
		if err != nil || offset < 0 {
			badRequest(c, "offset must not be negative")
			return
		}
		filter.Offset = offset
	}
	if v := c.Query("organization_id"); v != "" {
		orgID, err := uuid.Parse(v)
		if err != nil {
			badRequest(c, "invalid organization_id")
			return
		}
		filter.OrganizationID = &orgID
	}

	bookings, err := h.orchestrator.ListBookings(c.Request.Context(), actor, filter)
	if err != nil {
		respondError(c, h.logger, "list_bookings", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"bookings": bookings,
		"count":    len(bookings),
		"limit":    filter.Limit,
		"offset":   filter.Offset,
	})
}

// GetBooking returns one booking
// @Router /bookings/{id} [get]
func (h *BookingOrchestratorHandler) GetBooking(c *gin.Context) {
	actor, ok := actorOrAbort(c)
	if !ok {
		return
	}
	bookingID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	booking, err := h.orchestrator.GetBooking(c.Request.Context(), bookingID, actor)
	if err != nil {
		respondError(c, h.logger, "get_booking", err)
		return
	}

	c.JSON(http.StatusOK, booking)
}

// GetHistory returns the transition audit trail of a booking
// @Router /bookings/{id}/history [get]
func (h *BookingOrchestratorHandler) GetHistory(c *gin.Context) {
	actor, ok := actorOrAbort(c)
	if !ok {
		return
	}
	bookingID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	events, err := h.orchestrator.GetHistory(c.Request.Context(), bookingID, actor)
	if err != nil {
		respondError(c, h.logger, "get_booking_history", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"booking_id": bookingID,
		"events":     events,
	})
}

// ============================================================================
// DECISIONS - POST /api/v1/bookings/:id/{approve,forward,reject,confirm}
// ============================================================================

// Approve moves a pending booking to approved
// @Router /bookings/{id}/approve [post]
func (h *BookingOrchestratorHandler) Approve(c *gin.Context) {
	h.decide(c, "approve_booking", h.orchestrator.Approve)
}

// Forward sends an approved booking to the operator for confirmation
// @Router /bookings/{id}/forward [post]
func (h *BookingOrchestratorHandler) Forward(c *gin.Context) {
	h.decide(c, "forward_booking", h.orchestrator.ForwardForConfirmation)
}

// Reject rejects a booking and releases its hold. A reason is required.
// @Router /bookings/{id}/reject [post]
func (h *BookingOrchestratorHandler) Reject(c *gin.Context) {
	h.decide(c, "reject_booking", h.orchestrator.Reject)
}

// Confirm books with the supplier and consumes the hold.
// A 409 price_changed response carries the quote_id to acknowledge on retry.
// @Router /bookings/{id}/confirm [post]
func (h *BookingOrchestratorHandler) Confirm(c *gin.Context) {
	h.decide(c, "confirm_booking", h.orchestrator.Confirm)
}

func (h *BookingOrchestratorHandler) decide(
	c *gin.Context,
	operation string,
	fn func(ctx context.Context, id uuid.UUID, actor models.Actor, req *models.DecisionRequest) (*models.Booking, error),
) {
	actor, ok := actorOrAbort(c)
	if !ok {
		return
	}
	bookingID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	var req models.DecisionRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, "invalid request: "+err.Error())
			return
		}
	}

	booking, err := fn(c.Request.Context(), bookingID, actor, &req)
	if err != nil {
		respondError(c, h.logger, operation, err)
		return
	}

	c.JSON(http.StatusOK, booking)
}

// Cancel cancels a booking. A supplier cancellation failure is reported in
// the body and does not undo the local cancellation.
// @Router /bookings/{id}/cancel [post]
func (h *BookingOrchestratorHandler) Cancel(c *gin.Context) {
	actor, ok := actorOrAbort(c)
	if !ok {
		return
	}
	bookingID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	result, err := h.orchestrator.Cancel(c.Request.Context(), bookingID, actor)
	if err != nil {
		respondError(c, h.logger, "cancel_booking", err)
		return
	}

	c.JSON(http.StatusOK, result)
}

func isKnownStatus(s models.BookingStatus) bool {
	for _, known := range models.AllBookingStatuses {
		if s == known {
			return true
		}
	}
	return false
}
