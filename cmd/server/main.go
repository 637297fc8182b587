package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/bvodo/booking-core/internal/clock"
	"github.com/bvodo/booking-core/internal/config"
	"github.com/bvodo/booking-core/internal/database"
	"github.com/bvodo/booking-core/internal/database/memstore"
	"github.com/bvodo/booking-core/internal/handlers"
	"github.com/bvodo/booking-core/internal/services"
	"github.com/bvodo/booking-core/pkg/jwt"
	"github.com/bvodo/booking-core/pkg/provider"
	"github.com/bvodo/booking-core/pkg/provider/sandbox"
	"github.com/bvodo/booking-core/pkg/ttlcache"
)

var (
	version   = "1.0.0"
	buildTime = "unknown"
)

// stores bundles the persistence each service needs
type stores struct {
	credit   services.CreditStore
	quotes   services.QuoteStore
	bookings services.BookingStore
	audit    services.AuditStore
	ping     func(ctx context.Context) error
	close    func() error
}

func main() {
	// Initialize logger
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetOutput(os.Stdout)

	logger.Info("Starting booking core")
	logger.Infof("Version: %s, Build Time: %s", version, buildTime)

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("Failed to load configuration: %v", err)
	}

	// Set log level
	logLevel, err := logrus.ParseLevel(cfg.Server.LogLevel)
	if err != nil {
		logger.Warn("Invalid log level, using INFO")
		logLevel = logrus.InfoLevel
	}
	logger.SetLevel(logLevel)

	if cfg.Server.LogFile != "" {
		logger.SetOutput(io.MultiWriter(os.Stdout, &lumberjack.Logger{
			Filename:   cfg.Server.LogFile,
			MaxSize:    100, // megabytes
			MaxBackups: 5,
			MaxAge:     28, // days
			Compress:   true,
		}))
		logger.WithField("file", cfg.Server.LogFile).Info("Log file rotation enabled")
	}

	// Set Gin mode
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	// Initialize persistence
	st, err := openStores(cfg, logger)
	if err != nil {
		logger.Fatalf("Failed to initialize storage: %v", err)
	}
	defer st.close()

	// Initialize supplier
	clk := clock.NewSystem()
	sb, err := sandbox.Open(cfg.Provider.SandboxDBPath, sandbox.Options{
		QuoteTTL: cfg.Provider.SandboxQuoteTTL,
		Now:      clk.Now,
	})
	if err != nil {
		logger.Fatalf("Failed to open sandbox provider: %v", err)
	}
	defer sb.Close()
	if cfg.Provider.SandboxSeed {
		if err := sb.SeedDemo(); err != nil {
			logger.Fatalf("Failed to seed sandbox provider: %v", err)
		}
		logger.Info("Sandbox provider seeded with demo inventory")
	}

	cache := ttlcache.New(clk.Now)
	supplier := provider.NewCachedRates(sb, cache, cfg.Cache.RateTTL)

	// Initialize services
	logger.Info("Initializing services...")
	jwtService := jwt.NewService(cfg.JWT.Secret, cfg.JWT.Issuer, cfg.JWT.TokenExpiry)

	quoteConfig := services.DefaultQuoteConfig()
	quoteConfig.ProviderTimeout = cfg.Booking.ProviderTimeout
	quoteConfig.TTLFallback = cfg.Booking.QuoteTTLFallback

	orchestratorConfig := services.DefaultOrchestratorConfig()
	orchestratorConfig.ProviderTimeout = cfg.Booking.ProviderTimeout
	orchestratorConfig.DefaultCurrency = cfg.Booking.DefaultCurrency

	ledger := services.NewCreditLedgerService(st.credit, clk, logger)
	quotes := services.NewQuoteService(st.quotes, supplier, clk, quoteConfig, logger)
	audit := services.NewAuditService(st.audit, clk, logger)
	machine := services.NewApprovalStateMachine(st.bookings, ledger, audit, clk, logger)
	orchestrator := services.NewBookingOrchestratorService(st.bookings, ledger, quotes, machine, supplier, audit, clk, orchestratorConfig, logger)

	// Initialize and start cron service
	cronConfig := services.DefaultCronConfig()
	cronConfig.CacheSweepSpec = cfg.Cache.SweepSchedule
	cronConfig.QuotePurgeSpec = cfg.Cache.QuotePurgeSpec
	cronConfig.QuoteRetention = cfg.Booking.QuoteRetention
	cronConfig.ReconcileSpec = cfg.Cache.ReconcileSpec
	cronConfig.ReconcileMinAge = cfg.Cache.ReconcileMinAge

	cronService := services.NewCronService(cache, quotes, orchestrator, cronConfig, logger)
	if err := cronService.Start(); err != nil {
		logger.Fatalf("Failed to start cron service: %v", err)
	}
	logger.Info("Services initialized")

	// Initialize Gin router
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestLogger(logger))
	router.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.CORS.AllowedOrigins,
		AllowMethods:     cfg.CORS.AllowedMethods,
		AllowHeaders:     cfg.CORS.AllowedHeaders,
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	router.GET("/health", healthCheckHandler(st.ping, cronService))

	handlers.RegisterRoutes(router, handlers.Handlers{
		Bookings:       handlers.NewBookingOrchestratorHandler(orchestrator, logger),
		Accommodations: handlers.NewAccommodationHandler(quotes, logger),
		CreditAdmin:    handlers.NewCreditAdminHandler(ledger, orchestrator, cfg.Cache.ReconcileMinAge, logger),
	}, jwtService, logger)

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		// confirm may wait on the supplier
		WriteTimeout: cfg.Booking.ProviderTimeout + 30*time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logger.Infof("Server listening on port %s", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Errorf("Server forced to shutdown: %v", err)
	}
	cronService.Stop()

	logger.Info("Server exited")
}

// openStores connects the configured storage backend
func openStores(cfg *config.Config, logger *logrus.Logger) (*stores, error) {
	if cfg.Database.Driver == "memory" {
		logger.Warn("Using in-memory storage, data is lost on restart")
		mem := memstore.New()
		return &stores{
			credit:   mem,
			quotes:   mem,
			bookings: mem,
			audit:    mem,
			ping:     func(context.Context) error { return nil },
			close:    func() error { return nil },
		}, nil
	}

	logger.Info("Connecting to database...")
	db, err := database.NewConnection(context.Background(), cfg.Database, logger)
	if err != nil {
		return nil, err
	}
	logger.Info("Database connection established")

	if cfg.Database.AutoMigrate {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		if err := database.Migrate(ctx, db, logger); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to migrate database: %w", err)
		}
	}

	tm := database.NewTxManager(db)
	return &stores{
		credit:   database.NewCreditRepository(tm, logger),
		quotes:   database.NewQuoteRepository(tm, logger),
		bookings: database.NewBookingRepository(tm, logger),
		audit:    database.NewAuditRepository(tm, logger),
		ping:     db.PingContext,
		close:    db.Close,
	}, nil
}

// requestLogger logs every request with its latency and outcome
func requestLogger(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		fields := logrus.Fields{
			"status":     c.Writer.Status(),
			"method":     c.Request.Method,
			"path":       path,
			"query":      query,
			"ip":         c.ClientIP(),
			"latency_ms": time.Since(start).Milliseconds(),
			"user_agent": c.Request.UserAgent(),
			"has_auth":   c.GetHeader("Authorization") != "",
		}
		if actor, exists := c.Get("actor"); exists {
			fields["actor"] = actor
		}

		entry := logger.WithFields(fields)
		if len(c.Errors) > 0 {
			for i, err := range c.Errors {
				entry = entry.WithField(fmt.Sprintf("error_%d", i), err.Error())
			}
			entry.Error("Request failed with errors")
			return
		}

		status := c.Writer.Status()
		if status >= 500 {
			entry.Error("Request completed with server error")
		} else if status >= 400 {
			entry.Warn("Request completed with client error")
		} else {
			entry.Info("Request completed successfully")
		}
	}
}

// healthCheckHandler reports storage and scheduler health
func healthCheckHandler(ping func(ctx context.Context) error, cronService *services.CronService) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()

		if err := ping(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status":   "unhealthy",
				"database": "unhealthy",
				"error":    err.Error(),
			})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"status":    "healthy",
			"database":  "healthy",
			"cron":      cronService.GetJobStatus(),
			"version":   version,
			"timestamp": time.Now().Unix(),
		})
	}
}
