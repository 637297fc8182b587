package database

import (
	"context"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bvodo/booking-core/internal/config"
)

func TestConnectionURL(t *testing.T) {
	cfg := config.DatabaseConfig{
		ApplicationName:  "booking-core",
		ConnectTimeout:   5 * time.Second,
		StatementTimeout: 30 * time.Second,
	}

	t.Run("URL Gets Session Parameters", func(t *testing.T) {
		cfg := cfg
		cfg.URL = "postgres://app:secret@db:5432/booking?sslmode=disable"

		dsn, err := connectionURL(cfg)
		require.NoError(t, err)

		u, err := url.Parse(dsn)
		require.NoError(t, err)
		assert.Equal(t, "db:5432", u.Host)
		q := u.Query()
		assert.Equal(t, "disable", q.Get("sslmode"))
		assert.Equal(t, "booking-core", q.Get("application_name"))
		assert.Equal(t, "5", q.Get("connect_timeout"))
		assert.Equal(t, "30000", q.Get("statement_timeout"))
	})

	t.Run("Explicit URL Parameters Win", func(t *testing.T) {
		cfg := cfg
		cfg.URL = "postgres://db/booking?application_name=worker&statement_timeout=500"

		dsn, err := connectionURL(cfg)
		require.NoError(t, err)

		u, err := url.Parse(dsn)
		require.NoError(t, err)
		assert.Equal(t, "worker", u.Query().Get("application_name"))
		assert.Equal(t, "500", u.Query().Get("statement_timeout"))
	})

	t.Run("Key Value DSN", func(t *testing.T) {
		cfg := cfg
		cfg.URL = "host=db dbname=booking connect_timeout=2"

		dsn, err := connectionURL(cfg)
		require.NoError(t, err)
		assert.Equal(t, "host=db dbname=booking connect_timeout=2 application_name=booking-core statement_timeout=30000", dsn)
	})

	t.Run("Zero Timeouts Are Left Out", func(t *testing.T) {
		dsn, err := connectionURL(config.DatabaseConfig{URL: "postgres://db/booking"})
		require.NoError(t, err)
		assert.Equal(t, "postgres://db/booking", dsn)
	})
}

func TestNewConnection_RequiresURL(t *testing.T) {
	_, err := NewConnection(context.Background(), config.DatabaseConfig{}, quietLogger())
	assert.ErrorContains(t, err, "database URL is required")
}
