// Package config loads server configuration from environment variables.
//
// Required variables:
//   - DATABASE_URL: PostgreSQL connection string.
//
// Optional variables:
//   - HTTP_ADDR: listen address for the HTTP server (default ":8080").
//   - GRPC_ADDR: listen address for the gRPC server (default ":9090").
//   - LOG_LEVEL: debug, info, warn or error (default "info").
//   - LOG_FORMAT: json or text (default "json").
//   - MAX_JSON_BODY_SIZE: max HTTP JSON request body size in bytes
//     (default "1048576", must be > 0 if set).
//   - CACHE_RESYNC_INTERVAL: safety-net catalog reload interval
//     (default "1m", must be > 0 if set).
//   - CATALOG_NOTIFY_CHANNEL: LISTEN/NOTIFY channel for catalog edits
//     (default "catalog_events").
//   - RATE_LIMIT_PER_MINUTE: requests per client IP per minute
//     (default "600", must be > 0 if set).
//   - TIME_ZONE: IANA zone used for availability windows (default "UTC").
//   - CURRENCY: ISO 4217 code of every price (default "USD").
//   - TAX_RATE: decimal fraction applied to the discounted subtotal
//     (default "0", must satisfy 0 <= rate < 1).
//   - GRATUITY_RATE: optional automatic gratuity as a decimal fraction.
//   - SERVICE_FEE: flat fee in minor units added to every order (default "0").
//   - AUTO_MIGRATE: run database migrations at startup (default "false").
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/matt-riley/orderz/internal/logging"
)

const (
	defaultHTTPAddr                  = ":8080"
	defaultGRPCAddr                  = ":9090"
	defaultMaxJSONBodySize     int64 = 1 << 20 // 1MB
	defaultCacheResyncInterval       = time.Minute
	defaultNotifyChannel             = "catalog_events"
	defaultRateLimitPerMinute        = 600
	defaultTimeZone                  = "UTC"
	defaultCurrency                  = "USD"
)

// Config holds the runtime configuration for the orderz server.
type Config struct {
	DatabaseURL         string
	HTTPAddr            string
	GRPCAddr            string
	LogLevel            string
	LogFormat           logging.Format
	MaxJSONBodySize     int64
	CacheResyncInterval time.Duration
	NotifyChannel       string
	RateLimitPerMinute  int
	Location            *time.Location
	Currency            string
	TaxRate             decimal.Decimal
	GratuityRate        *decimal.Decimal
	ServiceFee          int64
	AutoMigrate         bool
}

// Load reads configuration from environment variables, applying defaults where
// appropriate. It returns an error if required variables are missing or if
// optional values fail validation.
func Load() (Config, error) {
	databaseURL := strings.TrimSpace(os.Getenv("DATABASE_URL"))
	if databaseURL == "" {
		return Config{}, errors.New("DATABASE_URL is required")
	}

	logFormat, err := logging.ParseFormat(os.Getenv("LOG_FORMAT"))
	if err != nil {
		return Config{}, fmt.Errorf("parse LOG_FORMAT: %w", err)
	}

	maxJSONBodySize := defaultMaxJSONBodySize
	if v := strings.TrimSpace(os.Getenv("MAX_JSON_BODY_SIZE")); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n < 1 {
			return Config{}, errors.New("MAX_JSON_BODY_SIZE must be a positive integer (bytes)")
		}
		maxJSONBodySize = n
	}

	cacheResyncInterval := defaultCacheResyncInterval
	if v := strings.TrimSpace(os.Getenv("CACHE_RESYNC_INTERVAL")); v != "" {
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return Config{}, fmt.Errorf("parse CACHE_RESYNC_INTERVAL: %w", err)
		}
		if parsed <= 0 {
			return Config{}, errors.New("CACHE_RESYNC_INTERVAL must be > 0")
		}
		cacheResyncInterval = parsed
	}

	rateLimit := defaultRateLimitPerMinute
	if v := strings.TrimSpace(os.Getenv("RATE_LIMIT_PER_MINUTE")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return Config{}, errors.New("RATE_LIMIT_PER_MINUTE must be a positive integer")
		}
		rateLimit = n
	}

	location, err := time.LoadLocation(envOrDefault("TIME_ZONE", defaultTimeZone))
	if err != nil {
		return Config{}, fmt.Errorf("load TIME_ZONE: %w", err)
	}

	currency := strings.ToUpper(envOrDefault("CURRENCY", defaultCurrency))
	if !isCurrencyCode(currency) {
		return Config{}, fmt.Errorf("CURRENCY %q must be a three-letter ISO 4217 code", currency)
	}

	taxRate := decimal.Zero
	if v := strings.TrimSpace(os.Getenv("TAX_RATE")); v != "" {
		parsed, err := decimal.NewFromString(v)
		if err != nil {
			return Config{}, fmt.Errorf("parse TAX_RATE: %w", err)
		}
		if parsed.IsNegative() || parsed.GreaterThanOrEqual(decimal.NewFromInt(1)) {
			return Config{}, errors.New("TAX_RATE must satisfy 0 <= rate < 1")
		}
		taxRate = parsed
	}

	var gratuityRate *decimal.Decimal
	if v := strings.TrimSpace(os.Getenv("GRATUITY_RATE")); v != "" {
		parsed, err := decimal.NewFromString(v)
		if err != nil {
			return Config{}, fmt.Errorf("parse GRATUITY_RATE: %w", err)
		}
		if parsed.IsNegative() {
			return Config{}, errors.New("GRATUITY_RATE must be >= 0")
		}
		gratuityRate = &parsed
	}

	var serviceFee int64
	if v := strings.TrimSpace(os.Getenv("SERVICE_FEE")); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n < 0 {
			return Config{}, errors.New("SERVICE_FEE must be a non-negative integer (minor units)")
		}
		serviceFee = n
	}

	autoMigrate := false
	if v := strings.TrimSpace(os.Getenv("AUTO_MIGRATE")); v != "" {
		parsed, err := strconv.ParseBool(v)
		if err != nil {
			return Config{}, fmt.Errorf("parse AUTO_MIGRATE: %w", err)
		}
		autoMigrate = parsed
	}

	return Config{
		DatabaseURL:         databaseURL,
		HTTPAddr:            envOrDefault("HTTP_ADDR", defaultHTTPAddr),
		GRPCAddr:            envOrDefault("GRPC_ADDR", defaultGRPCAddr),
		LogLevel:            envOrDefault("LOG_LEVEL", "info"),
		LogFormat:           logFormat,
		MaxJSONBodySize:     maxJSONBodySize,
		CacheResyncInterval: cacheResyncInterval,
		NotifyChannel:       envOrDefault("CATALOG_NOTIFY_CHANNEL", defaultNotifyChannel),
		RateLimitPerMinute:  rateLimit,
		Location:            location,
		Currency:            currency,
		TaxRate:             taxRate,
		GratuityRate:        gratuityRate,
		ServiceFee:          serviceFee,
		AutoMigrate:         autoMigrate,
	}, nil
}

func envOrDefault(key, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return fallback
}

func isCurrencyCode(code string) bool {
	if len(code) != 3 {
		return false
	}
	for _, r := range code {
		if r < 'A' || r > 'Z' {
			return false
		}
	}
	return true
}
