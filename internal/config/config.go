package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

// Config holds all configuration for the application
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	JWT      JWTConfig
	Booking  BookingConfig
	Provider ProviderConfig
	Cache    CacheConfig
	CORS     CORSConfig
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Port        string
	Environment string
	LogLevel    string
	LogFile     string
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Driver             string // "postgres" or "memory"
	URL                string
	MaxConnections     int
	MaxIdleConnections int
	ConnMaxLifetime    time.Duration
	ConnMaxIdleTime    time.Duration
	ConnectTimeout     time.Duration // Per attempt, sent as connect_timeout
	ConnectRetries     int           // Extra attempts after the first failed connect
	StatementTimeout   time.Duration // Server-side statement_timeout, 0 leaves the server default
	ApplicationName    string        // Shown in pg_stat_activity
	AutoMigrate        bool
}

// JWTConfig holds JWT configuration
type JWTConfig struct {
	Secret      string
	Issuer      string
	TokenExpiry time.Duration
}

// BookingConfig holds orchestration settings
type BookingConfig struct {
	DefaultCurrency  string
	ProviderTimeout  time.Duration
	QuoteTTLFallback time.Duration
	QuoteRetention   time.Duration
}

// ProviderConfig selects and configures the travel supplier
type ProviderConfig struct {
	Mode            string // "sandbox"
	SandboxDBPath   string
	SandboxQuoteTTL time.Duration
	SandboxSeed     bool
}

// CacheConfig holds the rate cache settings
type CacheConfig struct {
	RateTTL         time.Duration
	SweepSchedule   string
	QuotePurgeSpec  string
	ReconcileSpec   string
	ReconcileMinAge time.Duration
}

// CORSConfig holds CORS configuration
type CORSConfig struct {
	AllowedOrigins []string
	AllowedMethods []string
	AllowedHeaders []string
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists (for local development)
	if err := godotenv.Load(); err != nil {
		logrus.Debug("No .env file found, using environment variables")
	}

	config := &Config{
		Server: ServerConfig{
			Port:        getEnv("PORT", "8080"),
			Environment: getEnv("ENVIRONMENT", "development"),
			LogLevel:    getEnv("LOG_LEVEL", "info"),
			LogFile:     getEnv("LOG_FILE", ""),
		},
		Database: DatabaseConfig{
			Driver:             getEnv("DATABASE_DRIVER", "postgres"),
			URL:                getEnv("DATABASE_URL", ""),
			MaxConnections:     getEnvAsInt("DATABASE_MAX_CONNECTIONS", 10),
			MaxIdleConnections: getEnvAsInt("DATABASE_MAX_IDLE_CONNECTIONS", 5),
			ConnMaxLifetime:    time.Duration(getEnvAsInt("DATABASE_CONN_MAX_LIFETIME", 300)) * time.Second,
			ConnMaxIdleTime:    getEnvAsDuration("DATABASE_CONN_MAX_IDLE_TIME", 2*time.Minute),
			ConnectTimeout:     getEnvAsDuration("DATABASE_CONNECT_TIMEOUT", 10*time.Second),
			ConnectRetries:     getEnvAsInt("DATABASE_CONNECT_RETRIES", 3),
			StatementTimeout:   getEnvAsDuration("DATABASE_STATEMENT_TIMEOUT", 30*time.Second),
			ApplicationName:    getEnv("DATABASE_APPLICATION_NAME", "booking-core"),
			AutoMigrate:        getEnvAsBool("DATABASE_AUTO_MIGRATE", true),
		},
		JWT: JWTConfig{
			Secret:      getEnv("JWT_SECRET", ""),
			Issuer:      getEnv("JWT_ISSUER", "booking-core"),
			TokenExpiry: time.Duration(getEnvAsInt("JWT_TOKEN_EXPIRY", 3600)) * time.Second,
		},
		Booking: BookingConfig{
			DefaultCurrency:  getEnv("DEFAULT_CURRENCY", "USD"),
			ProviderTimeout:  getEnvAsDuration("PROVIDER_TIMEOUT", 15*time.Second),
			QuoteTTLFallback: getEnvAsDuration("QUOTE_TTL_FALLBACK", 15*time.Minute),
			QuoteRetention:   getEnvAsDuration("QUOTE_RETENTION", 24*time.Hour),
		},
		Provider: ProviderConfig{
			Mode:            getEnv("PROVIDER_MODE", "sandbox"),
			SandboxDBPath:   getEnv("SANDBOX_DB_PATH", "sandbox.db"),
			SandboxQuoteTTL: getEnvAsDuration("SANDBOX_QUOTE_TTL", 15*time.Minute),
			SandboxSeed:     getEnvAsBool("SANDBOX_SEED", true),
		},
		Cache: CacheConfig{
			RateTTL:         getEnvAsDuration("RATE_CACHE_TTL", 2*time.Minute),
			SweepSchedule:   getEnv("CACHE_SWEEP_SPEC", "0 * * * * *"),
			QuotePurgeSpec:  getEnv("QUOTE_PURGE_SPEC", "0 15 * * * *"),
			ReconcileSpec:   getEnv("RECONCILE_SPEC", "0 */15 * * * *"),
			ReconcileMinAge: getEnvAsDuration("RECONCILE_MIN_AGE", 10*time.Minute),
		},
		CORS: CORSConfig{
			AllowedOrigins: getEnvAsSlice("CORS_ALLOWED_ORIGINS", []string{"*"}),
			AllowedMethods: getEnvAsSlice("CORS_ALLOWED_METHODS", []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}),
			AllowedHeaders: getEnvAsSlice("CORS_ALLOWED_HEADERS", []string{"Content-Type", "Authorization"}),
		},
	}

	// Validate required configuration
	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "postgres":
		if c.Database.URL == "" {
			return fmt.Errorf("DATABASE_URL is required")
		}
		if c.Database.ConnectRetries < 0 {
			return fmt.Errorf("DATABASE_CONNECT_RETRIES must not be negative")
		}
	case "memory":
		if c.Server.Environment == "production" {
			return fmt.Errorf("DATABASE_DRIVER=memory is not allowed in production")
		}
	default:
		return fmt.Errorf("invalid DATABASE_DRIVER: %s (must be 'postgres' or 'memory')", c.Database.Driver)
	}

	if c.JWT.Secret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}

	if c.Provider.Mode != "sandbox" {
		return fmt.Errorf("invalid PROVIDER_MODE: %s (only 'sandbox' is supported)", c.Provider.Mode)
	}

	if len(c.Booking.DefaultCurrency) != 3 {
		return fmt.Errorf("DEFAULT_CURRENCY must be a 3-letter ISO code")
	}

	if c.Booking.ProviderTimeout <= 0 {
		return fmt.Errorf("PROVIDER_TIMEOUT must be positive")
	}

	return nil
}

// IsProduction reports whether the server runs in production
func (c *Config) IsProduction() bool {
	return c.Server.Environment == "production"
}

// Helper functions to get environment variables

func getEnv(key string, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		logrus.Warnf("Invalid integer value for %s, using default: %d", key, defaultValue)
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		logrus.Warnf("Invalid boolean value for %s, using default: %t", key, defaultValue)
		return defaultValue
	}
	return value
}

// getEnvAsDuration accepts Go durations ("90s", "15m") or plain seconds
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(valueStr); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(valueStr); err == nil {
		return time.Duration(secs) * time.Second
	}
	logrus.Warnf("Invalid duration value for %s, using default: %s", key, defaultValue)
	return defaultValue
}

func getEnvAsSlice(key string, defaultValue []string) []string {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	var result []string
	for _, v := range strings.Split(valueStr, ",") {
		if trimmed := strings.TrimSpace(v); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	if len(result) == 0 {
		return defaultValue
	}
	return result
}
