package config

import (
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func FuzzEnvOrDefault(f *testing.F) {
	f.Add("", ":8080")
	f.Add("  :9090  ", ":8080")

	f.Fuzz(func(t *testing.T, value, fallback string) {
		if strings.ContainsRune(value, '\x00') {
			t.Skip()
		}

		const key = "ORDERZ_TEST_ENV_OR_DEFAULT"
		t.Setenv(key, value)

		got := envOrDefault(key, fallback)
		trimmed := strings.TrimSpace(value)
		if trimmed == "" {
			if got != fallback {
				t.Fatalf("envOrDefault() = %q, want fallback %q", got, fallback)
			}
			return
		}

		if got != trimmed {
			t.Fatalf("envOrDefault() = %q, want trimmed value %q", got, trimmed)
		}
	})
}

func FuzzLoadCacheResyncInterval(f *testing.F) {
	f.Add("")
	f.Add("1m")
	f.Add("0s")
	f.Add("-1s")
	f.Add("not-a-duration")

	f.Fuzz(func(t *testing.T, interval string) {
		if strings.ContainsRune(interval, '\x00') {
			t.Skip()
		}

		clearEnv(t)
		t.Setenv("CACHE_RESYNC_INTERVAL", interval)

		cfg, err := Load()
		trimmed := strings.TrimSpace(interval)
		if trimmed == "" {
			if err != nil {
				t.Fatalf("Load() error = %v, want nil for empty CACHE_RESYNC_INTERVAL", err)
			}
			if cfg.CacheResyncInterval != defaultCacheResyncInterval {
				t.Fatalf("CacheResyncInterval = %s, want %s", cfg.CacheResyncInterval, defaultCacheResyncInterval)
			}
			return
		}

		parsed, parseErr := time.ParseDuration(trimmed)
		if parseErr != nil || parsed <= 0 {
			if err == nil {
				t.Fatalf("Load() error = nil, want non-nil for CACHE_RESYNC_INTERVAL=%q", interval)
			}
			return
		}

		if err != nil {
			t.Fatalf("Load() error = %v, want nil for CACHE_RESYNC_INTERVAL=%q", err, interval)
		}
		if cfg.CacheResyncInterval != parsed {
			t.Fatalf("CacheResyncInterval = %s, want %s", cfg.CacheResyncInterval, parsed)
		}
	})
}

func FuzzLoadTaxRate(f *testing.F) {
	f.Add("")
	f.Add("0.0825")
	f.Add("1")
	f.Add("-0.01")
	f.Add("1e-3")

	f.Fuzz(func(t *testing.T, rate string) {
		if strings.ContainsRune(rate, '\x00') {
			t.Skip()
		}

		clearEnv(t)
		t.Setenv("TAX_RATE", rate)

		cfg, err := Load()
		if err != nil {
			return
		}
		if cfg.TaxRate.IsNegative() || cfg.TaxRate.GreaterThanOrEqual(decimal.NewFromInt(1)) {
			t.Fatalf("Load() accepted TAX_RATE=%q as %s", rate, cfg.TaxRate)
		}
	})
}
