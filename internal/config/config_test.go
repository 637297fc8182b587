package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	t.Run("defaults with required values", func(t *testing.T) {
		t.Setenv("DATABASE_URL", "postgres://localhost/booking?sslmode=disable")
		t.Setenv("JWT_SECRET", "secret")

		cfg, err := Load()
		require.NoError(t, err)
		assert.Equal(t, "8080", cfg.Server.Port)
		assert.Equal(t, "postgres", cfg.Database.Driver)
		assert.Equal(t, 3, cfg.Database.ConnectRetries)
		assert.Equal(t, 30*time.Second, cfg.Database.StatementTimeout)
		assert.Equal(t, "booking-core", cfg.Database.ApplicationName)
		assert.Equal(t, "USD", cfg.Booking.DefaultCurrency)
		assert.Equal(t, 15*time.Second, cfg.Booking.ProviderTimeout)
		assert.Equal(t, "sandbox", cfg.Provider.Mode)
		assert.Equal(t, []string{"*"}, cfg.CORS.AllowedOrigins)
	})

	t.Run("durations accept seconds and Go syntax", func(t *testing.T) {
		t.Setenv("DATABASE_URL", "postgres://localhost/booking")
		t.Setenv("JWT_SECRET", "secret")
		t.Setenv("PROVIDER_TIMEOUT", "30")
		t.Setenv("RATE_CACHE_TTL", "90s")
		t.Setenv("CORS_ALLOWED_ORIGINS", "https://a.example, https://b.example")

		cfg, err := Load()
		require.NoError(t, err)
		assert.Equal(t, 30*time.Second, cfg.Booking.ProviderTimeout)
		assert.Equal(t, 90*time.Second, cfg.Cache.RateTTL)
		assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORS.AllowedOrigins)
	})

	t.Run("missing database url", func(t *testing.T) {
		t.Setenv("DATABASE_URL", "")
		t.Setenv("JWT_SECRET", "secret")

		_, err := Load()
		assert.ErrorContains(t, err, "DATABASE_URL")
	})

	t.Run("negative connect retries", func(t *testing.T) {
		t.Setenv("DATABASE_URL", "postgres://localhost/booking")
		t.Setenv("JWT_SECRET", "secret")
		t.Setenv("DATABASE_CONNECT_RETRIES", "-1")

		_, err := Load()
		assert.ErrorContains(t, err, "DATABASE_CONNECT_RETRIES")
	})

	t.Run("memory driver refused in production", func(t *testing.T) {
		t.Setenv("DATABASE_DRIVER", "memory")
		t.Setenv("ENVIRONMENT", "production")
		t.Setenv("JWT_SECRET", "secret")

		_, err := Load()
		assert.ErrorContains(t, err, "memory")
	})

	t.Run("unsupported provider mode", func(t *testing.T) {
		t.Setenv("DATABASE_DRIVER", "memory")
		t.Setenv("JWT_SECRET", "secret")
		t.Setenv("PROVIDER_MODE", "live")

		_, err := Load()
		assert.ErrorContains(t, err, "PROVIDER_MODE")
	})
}
