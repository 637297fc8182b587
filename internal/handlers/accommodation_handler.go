package handlers

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/bvodo/booking-core/internal/services"
	"github.com/bvodo/booking-core/pkg/provider"
)

// AccommodationHandler exposes supplier search, rates and quotes
type AccommodationHandler struct {
	quotes *services.QuoteService
	logger *logrus.Logger
}

// NewAccommodationHandler creates a new AccommodationHandler
func NewAccommodationHandler(quotes *services.QuoteService, logger *logrus.Logger) *AccommodationHandler {
	return &AccommodationHandler{
		quotes: quotes,
		logger: logger,
	}
}

// Search lists accommodations for a location and stay
// GET /api/v1/accommodations?location=lisbon&check_in=2026-05-01&check_out=2026-05-04&guests=2
func (h *AccommodationHandler) Search(c *gin.Context) {
	location := strings.TrimSpace(c.Query("location"))
	if location == "" {
		badRequest(c, "location is required")
		return
	}

	checkIn, err := time.Parse("2006-01-02", c.Query("check_in"))
	if err != nil {
		badRequest(c, "check_in must be formatted as YYYY-MM-DD")
		return
	}
	checkOut, err := time.Parse("2006-01-02", c.Query("check_out"))
	if err != nil {
		badRequest(c, "check_out must be formatted as YYYY-MM-DD")
		return
	}
	if !checkOut.After(checkIn) {
		badRequest(c, "check_out must be after check_in")
		return
	}

	guests := 1
	if v := c.Query("guests"); v != "" {
		guests, err = strconv.Atoi(v)
		if err != nil || guests < 1 || guests > 9 {
			badRequest(c, "guests must be between 1 and 9")
			return
		}
	}

	results, err := h.quotes.Search(c.Request.Context(), provider.SearchCriteria{
		Location: location,
		CheckIn:  checkIn,
		CheckOut: checkOut,
		Guests:   guests,
	})
	if err != nil {
		respondError(c, h.logger, "search_accommodations", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"results": results,
		"count":   len(results),
	})
}

// GetRates lists the bookable rates of one accommodation
// GET /api/v1/accommodations/:id/rates
func (h *AccommodationHandler) GetRates(c *gin.Context) {
	accommodation, err := h.quotes.FetchRates(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, h.logger, "fetch_rates", err)
		return
	}

	c.JSON(http.StatusOK, accommodation)
}

// CreateQuoteRequest asks for a binding price on a rate
type CreateQuoteRequest struct {
	RateID string `json:"rate_id" binding:"required"`
}

// CreateQuote locks a price for a rate until the supplier's expiry
// POST /api/v1/quotes
func (h *AccommodationHandler) CreateQuote(c *gin.Context) {
	var req CreateQuoteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request: "+err.Error())
		return
	}

	quote, err := h.quotes.CreateQuote(c.Request.Context(), req.RateID)
	if err != nil {
		respondError(c, h.logger, "create_quote", err)
		return
	}

	c.JSON(http.StatusCreated, quote)
}

// GetQuote returns a stored quote and whether it can still be honored
// GET /api/v1/quotes/:id
func (h *AccommodationHandler) GetQuote(c *gin.Context) {
	quoteID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	quote, err := h.quotes.GetQuote(c.Request.Context(), quoteID)
	if err != nil {
		respondError(c, h.logger, "get_quote", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"quote": quote,
		"valid": h.quotes.IsValid(quote),
	})
}
