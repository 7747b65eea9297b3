package internal

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sappio-ai/sappio/internal/domain"
)

func loadTestConfig(vars map[string]string) (*Config, error) {
	return parseConfig(env.Options{Environment: vars})
}

func TestConfig_Defaults(t *testing.T) {
	cfg, err := loadTestConfig(map[string]string{
		"DATABASE_URL": "postgres://localhost:5432/sappio",
	})
	require.NoError(t, err)

	assert.Equal(t, "development", cfg.Env)
	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, 5*time.Minute, cfg.PlanCacheTTL)
	assert.Equal(t, 2, cfg.WorkerConcurrency)
	assert.True(t, cfg.SweepEnabled)
	assert.Equal(t, time.Hour, cfg.ExtraPackSweepInterval)
	assert.False(t, cfg.BillingEnabled())
	assert.False(t, cfg.IsProduction())
	assert.Equal(t, domain.DefaultCatalogPrices, cfg.CatalogPrices())
}

func TestConfig_Validation(t *testing.T) {
	base := func() map[string]string {
		return map[string]string{"DATABASE_URL": "postgres://localhost:5432/sappio"}
	}

	tests := []struct {
		name    string
		mutate  func(map[string]string)
		wantErr string
	}{
		{"missing database url", func(m map[string]string) { delete(m, "DATABASE_URL") }, "DatabaseURL"},
		{"unknown env", func(m map[string]string) { m["ENV"] = "qa" }, "Env"},
		{"bad log level", func(m map[string]string) { m["LOG_LEVEL"] = "verbose" }, "LogLevel"},
		{"production needs api token", func(m map[string]string) { m["ENV"] = "production" }, "InternalAPIToken"},
		{"webhook secret with stripe key", func(m map[string]string) { m["STRIPE_SECRET_KEY"] = "sk_test_1" }, "StripeWebhookSecret"},
		{"sweep interval too short", func(m map[string]string) { m["TRIAL_SWEEP_INTERVAL"] = "10s" }, "TrialSweepInterval"},
		{"bad duration", func(m map[string]string) { m["PLAN_CACHE_TTL"] = "soon" }, "PlanCacheTTL"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			vars := base()
			tt.mutate(vars)

			_, err := loadTestConfig(vars)

			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestConfig_ProductionWithToken(t *testing.T) {
	cfg, err := loadTestConfig(map[string]string{
		"ENV":                "production",
		"DATABASE_URL":       "postgres://db/sappio",
		"INTERNAL_API_TOKEN": "s3cret",
	})
	require.NoError(t, err)
	assert.True(t, cfg.IsProduction())
}

func TestConfig_ExtraPackPrices(t *testing.T) {
	vars := map[string]string{
		"DATABASE_URL":                "postgres://localhost:5432/sappio",
		"STRIPE_SECRET_KEY":           "sk_test_1",
		"STRIPE_WEBHOOK_SECRET":       "whsec_1",
		"STRIPE_EXTRA_PACK_PRICE_IDS": "10:price_small,30:price_medium,75:price_large",
	}

	cfg, err := loadTestConfig(vars)
	require.NoError(t, err)
	require.True(t, cfg.BillingEnabled())

	prices, err := cfg.ExtraPackPrices()
	require.NoError(t, err)
	assert.Equal(t, "price_small", prices[10])
	assert.Equal(t, "price_medium", prices[30])
	assert.Equal(t, "price_large", prices[75])
}

func TestConfig_ExtraPackPricesIncomplete(t *testing.T) {
	tests := []struct {
		name   string
		prices string
	}{
		{"missing bundle", "10:price_small,30:price_medium"},
		{"unsupported bundle", "10:price_small,30:price_medium,75:price_large,12:price_odd"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := loadTestConfig(map[string]string{
				"DATABASE_URL":                "postgres://localhost:5432/sappio",
				"STRIPE_SECRET_KEY":           "sk_test_1",
				"STRIPE_WEBHOOK_SECRET":       "whsec_1",
				"STRIPE_EXTRA_PACK_PRICE_IDS": tt.prices,
			})
			require.Error(t, err)
			assert.Contains(t, err.Error(), "STRIPE_EXTRA_PACK_PRICE_IDS")
		})
	}
}

func TestNewLogger_Levels(t *testing.T) {
	tests := []struct {
		level string
		debug bool
		info  bool
	}{
		{"debug", true, true},
		{"info", false, true},
		{"warn", false, false},
		{"unknown", false, true},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			logger := NewLogger(io.Discard, "production", tt.level)
			assert.Equal(t, tt.debug, logger.Enabled(t.Context(), slog.LevelDebug))
			assert.Equal(t, tt.info, logger.Enabled(t.Context(), slog.LevelInfo))
		})
	}
}
