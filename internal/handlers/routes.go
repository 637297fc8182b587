package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/bvodo/booking-core/internal/middleware"
	"github.com/bvodo/booking-core/internal/models"
	"github.com/bvodo/booking-core/pkg/jwt"
)

// Handlers groups every HTTP handler of the API
type Handlers struct {
	Bookings       *BookingOrchestratorHandler
	Accommodations *AccommodationHandler
	CreditAdmin    *CreditAdminHandler
}

// RegisterRoutes mounts the v1 API under /api/v1. Every route requires a bearer token.
func RegisterRoutes(router gin.IRouter, h Handlers, jwtService *jwt.Service, logger *logrus.Logger) {
	v1 := router.Group("/api/v1")
	v1.Use(middleware.AuthMiddleware(jwtService, logger))

	accommodations := v1.Group("/accommodations")
	{
		accommodations.GET("", h.Accommodations.Search)
		accommodations.GET("/:id/rates", h.Accommodations.GetRates)
	}

	quotes := v1.Group("/quotes")
	{
		quotes.POST("", h.Accommodations.CreateQuote)
		quotes.GET("/:id", h.Accommodations.GetQuote)
	}

	bookings := v1.Group("/bookings")
	{
		bookings.POST("", middleware.RequireRole(models.RoleTraveler), h.Bookings.Submit)
		bookings.GET("", h.Bookings.ListBookings)
		bookings.GET("/:id", h.Bookings.GetBooking)
		bookings.GET("/:id/history", h.Bookings.GetHistory)

		// role and ownership checks live in the state machine
		bookings.POST("/:id/approve", h.Bookings.Approve)
		bookings.POST("/:id/forward", h.Bookings.Forward)
		bookings.POST("/:id/reject", h.Bookings.Reject)
		bookings.POST("/:id/confirm", h.Bookings.Confirm)
		bookings.POST("/:id/cancel", h.Bookings.Cancel)
	}

	admin := v1.Group("/admin/credit")
	admin.Use(middleware.RequireRole(models.RoleOperator))
	{
		admin.POST("/accounts", h.CreditAdmin.CreateAccount)
		admin.GET("/accounts/:id", h.CreditAdmin.GetAccount)
		admin.POST("/accounts/:id/allocate", h.CreditAdmin.Allocate)
		admin.POST("/accounts/:id/reduce", h.CreditAdmin.Reduce)
		admin.POST("/accounts/:id/reset", h.CreditAdmin.Reset)
		admin.GET("/accounts/:id/holds", h.CreditAdmin.ListHolds)
		admin.GET("/accounts/:id/entries", h.CreditAdmin.ListEntries)
		admin.GET("/reconciliation", h.CreditAdmin.Reconciliation)
	}
}
