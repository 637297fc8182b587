package database

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/sirupsen/logrus"

	"github.com/bvodo/booking-core/internal/config"
)

// NewConnection opens the PostgreSQL pool. A failed connect or ping is
// retried cfg.ConnectRetries times with a linear backoff, so the service can
// start alongside a database that is still coming up.
func NewConnection(ctx context.Context, cfg config.DatabaseConfig, logger *logrus.Logger) (*sqlx.DB, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("database URL is required")
	}

	dsn, err := connectionURL(cfg)
	if err != nil {
		return nil, err
	}

	var lastErr error
	for attempt := 0; attempt <= cfg.ConnectRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(attempt) * time.Second
			logger.WithFields(logrus.Fields{
				"attempt": attempt,
				"backoff": backoff.String(),
				"error":   lastErr.Error(),
			}).Warn("Database not reachable, retrying")

			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil, fmt.Errorf("failed to connect to database: %w", ctx.Err())
			}
		}

		db, err := open(ctx, dsn, cfg)
		if err == nil {
			return db, nil
		}
		lastErr = err
	}

	return nil, lastErr
}

func open(ctx context.Context, dsn string, cfg config.DatabaseConfig) (*sqlx.DB, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxConnections)
	db.SetMaxIdleConns(cfg.MaxIdleConnections)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return db, nil
}

// connectionURL adds the session settings from cfg to the configured URL.
// Parameters already present in the URL win. lib/pq forwards keys it does
// not know, such as statement_timeout, to the server as run-time parameters.
func connectionURL(cfg config.DatabaseConfig) (string, error) {
	params := map[string]string{}
	if cfg.ApplicationName != "" {
		params["application_name"] = cfg.ApplicationName
	}
	if cfg.ConnectTimeout > 0 {
		params["connect_timeout"] = strconv.Itoa(int(cfg.ConnectTimeout.Seconds()))
	}
	if cfg.StatementTimeout > 0 {
		params["statement_timeout"] = strconv.FormatInt(cfg.StatementTimeout.Milliseconds(), 10)
	}

	// key=value DSN
	if !strings.Contains(cfg.URL, "://") {
		dsn := cfg.URL
		for _, key := range sortedKeys(params) {
			if !strings.Contains(dsn, key+"=") {
				dsn += " " + key + "=" + params[key]
			}
		}
		return dsn, nil
	}

	u, err := url.Parse(cfg.URL)
	if err != nil {
		return "", fmt.Errorf("invalid database URL: %w", err)
	}
	query := u.Query()
	for key, value := range params {
		if query.Get(key) == "" {
			query.Set(key, value)
		}
	}
	u.RawQuery = query.Encode()
	return u.String(), nil
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
