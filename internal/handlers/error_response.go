package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/bvodo/booking-core/internal/middleware"
	"github.com/bvodo/booking-core/internal/models"
	"github.com/bvodo/booking-core/internal/services"
)

// statusForCode maps a reason code to its HTTP status
func statusForCode(code string, retryable bool) int {
	switch code {
	case models.CodeInsufficientCredits:
		return http.StatusPaymentRequired
	case models.CodeInvalidAmount, models.CodeValidation, models.CodeRejectionReasonRequired, models.CodeCurrencyMismatch:
		return http.StatusBadRequest
	case models.CodeUnauthorized:
		return http.StatusForbidden
	case models.CodeNotFound:
		return http.StatusNotFound
	case models.CodeInvalidStateTransition, models.CodeQuoteAlreadyConsumed, models.CodeHoldNotActive,
		models.CodePriceChanged, models.CodeInsufficientAvailableBalance,
		models.CodeQuoteExpiredOrInvalid, models.CodeRateUnavailable:
		return http.StatusConflict
	case models.CodeProviderError:
		if retryable {
			return http.StatusServiceUnavailable
		}
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

// respondError writes the JSON error body for a service failure
func respondError(c *gin.Context, logger *logrus.Logger, operation string, err error) {
	code := models.ReasonCode(err)
	retryable := models.IsRetryable(err)
	status := statusForCode(code, retryable)

	body := gin.H{
		"error":     code,
		"message":   err.Error(),
		"retryable": retryable,
	}

	if change, ok := services.IsPriceChanged(err); ok {
		body["details"] = gin.H{
			"booking_id":        change.BookingID,
			"previous_quote_id": change.PreviousQuoteID,
			"quote_id":          change.QuoteID,
			"previous_amount":   change.PreviousAmount,
			"new_amount":        change.NewAmount,
			"currency":          change.Currency,
		}
	}

	entry := logger.WithFields(logrus.Fields{
		"operation": operation,
		"code":      code,
		"status":    status,
	}).WithError(err)
	if status >= http.StatusInternalServerError {
		entry.Error("Request failed")
		// internal details stay in the log
		if code == models.CodeInternal {
			body["message"] = "internal server error"
		}
	} else {
		entry.Debug("Request rejected")
	}

	c.JSON(status, body)
}

func badRequest(c *gin.Context, message string) {
	c.JSON(http.StatusBadRequest, gin.H{
		"error":     models.CodeValidation,
		"message":   message,
		"retryable": false,
	})
}

// parseIDParam reads a uuid path parameter, writing a 400 when it is malformed
func parseIDParam(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		badRequest(c, "invalid "+name)
		return uuid.Nil, false
	}
	return id, true
}

// actorOrAbort returns the authenticated actor, writing a 401 when missing
func actorOrAbort(c *gin.Context) (models.Actor, bool) {
	actor, exists := middleware.GetActor(c)
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized", "message": "user not authenticated"})
		return models.Actor{}, false
	}
	return actor, true
}
