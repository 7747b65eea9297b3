package internal

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"

	"github.com/sappio-ai/sappio/internal/billing"
	"github.com/sappio-ai/sappio/internal/domain"
)

type Config struct {
	Env      string `env:"ENV" envDefault:"development" validate:"oneof=development staging production"`
	Port     int    `env:"PORT" envDefault:"8080" validate:"min=1,max=65535"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info" validate:"oneof=debug info warn error"`

	// Application base URL (for checkout redirects)
	BaseURL string `env:"BASE_URL" envDefault:"http://localhost:8080" validate:"url"`

	DatabaseURL      string `env:"DATABASE_URL" validate:"required"`
	DatabaseMaxConns int32  `env:"DATABASE_MAX_CONNS" envDefault:"10" validate:"min=1"`

	// Plan limits cache. With REDIS_URL empty each process caches in memory.
	RedisURL     string        `env:"REDIS_URL"`
	PlanCacheTTL time.Duration `env:"PLAN_CACHE_TTL" envDefault:"5m" validate:"min=1s"`

	// Worker Configuration
	WorkerEnabled      bool          `env:"WORKER_ENABLED" envDefault:"true"`
	WorkerConcurrency  int           `env:"WORKER_CONCURRENCY" envDefault:"2" validate:"min=1,max=100"`
	WorkerPollInterval time.Duration `env:"WORKER_POLL_INTERVAL" envDefault:"5s"`
	WorkerJobTimeout   time.Duration `env:"WORKER_JOB_TIMEOUT" envDefault:"2m"`

	// In-process expiry sweeps. Disable when cmd/sweep runs from cron instead.
	SweepEnabled           bool          `env:"SWEEP_ENABLED" envDefault:"true"`
	ExtraPackSweepInterval time.Duration `env:"EXTRA_PACK_SWEEP_INTERVAL" envDefault:"1h" validate:"min=1m"`
	TrialSweepInterval     time.Duration `env:"TRIAL_SWEEP_INTERVAL" envDefault:"15m" validate:"min=1m"`

	// Shared secret for the internal API. Optional in development only.
	InternalAPIToken string `env:"INTERNAL_API_TOKEN" validate:"required_unless=Env development"`

	// Per client IP. Zero disables rate limiting.
	RateLimitPerMinute int `env:"RATE_LIMIT_PER_MINUTE" envDefault:"1200" validate:"min=0"`
	RateLimitBurst     int `env:"RATE_LIMIT_BURST" envDefault:"100" validate:"min=1"`

	// Stripe Billing Configuration
	// In development, billing is disabled if these are empty.
	StripeSecretKey     string `env:"STRIPE_SECRET_KEY"`
	StripeWebhookSecret string `env:"STRIPE_WEBHOOK_SECRET" validate:"required_with=StripeSecretKey"`

	// Bundle size to price ID, e.g. "10:price_abc,30:price_def,75:price_ghi".
	StripeExtraPackPriceIDs map[string]string `env:"STRIPE_EXTRA_PACK_PRICE_IDS" envKeyValSeparator:":"`

	// Catalog prices in minor units. Founding price locks snapshot these.
	PriceCurrency          string `env:"PRICE_CURRENCY" envDefault:"usd" validate:"len=3"`
	StudentProMonthlyCents int64  `env:"STUDENT_PRO_MONTHLY_CENTS" envDefault:"799" validate:"min=0"`
	StudentProAnnualCents  int64  `env:"STUDENT_PRO_ANNUAL_CENTS" envDefault:"7188" validate:"min=0"`
	ProPlusMonthlyCents    int64  `env:"PRO_PLUS_MONTHLY_CENTS" envDefault:"1499" validate:"min=0"`
	ProPlusAnnualCents     int64  `env:"PRO_PLUS_ANNUAL_CENTS" envDefault:"14388" validate:"min=0"`

	// Metrics endpoint authentication
	// If both are empty, the /metrics endpoint will be unprotected (not recommended)
	MetricsUsername string `env:"METRICS_USERNAME"`
	MetricsPassword string `env:"METRICS_PASSWORD"`
}

// NewConfig loads .env (if present) and then the process environment.
func NewConfig() (*Config, error) {
	// Load .env file if it exists (ignored in production)
	_ = godotenv.Load()

	return parseConfig(env.Options{})
}

func parseConfig(opts env.Options) (*Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := validator.New().Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			return nil, fmt.Errorf("invalid config: %s", describeValidation(verrs))
		}
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	if cfg.BillingEnabled() {
		prices, err := cfg.ExtraPackPrices()
		if err != nil {
			return nil, err
		}
		for _, q := range domain.ExtraPackQuantities {
			if prices[q] == "" {
				return nil, fmt.Errorf("STRIPE_EXTRA_PACK_PRICE_IDS has no price for %d packs", q)
			}
		}
	}

	return &cfg, nil
}

// describeValidation names the failing fields in one line.
func describeValidation(verrs validator.ValidationErrors) string {
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		parts = append(parts, fmt.Sprintf("%s failed %q", fe.Field(), fe.Tag()))
	}
	return strings.Join(parts, "; ")
}

// IsProduction reports whether the service runs in production.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// BillingEnabled reports whether Stripe is configured.
func (c *Config) BillingEnabled() bool {
	return c.StripeSecretKey != ""
}

// ExtraPackPrices parses the bundle price map.
func (c *Config) ExtraPackPrices() (billing.PriceConfig, error) {
	prices, err := billing.ParsePriceConfig(c.StripeExtraPackPriceIDs)
	if err != nil {
		return nil, fmt.Errorf("STRIPE_EXTRA_PACK_PRICE_IDS: %w", err)
	}
	return prices, nil
}

// CatalogPrices returns the live list prices.
func (c *Config) CatalogPrices() domain.CatalogPrices {
	return domain.CatalogPrices{
		StudentPro: domain.PlanPrice{
			MonthlyCents: c.StudentProMonthlyCents,
			AnnualCents:  c.StudentProAnnualCents,
			Currency:     c.PriceCurrency,
		},
		ProPlus: domain.PlanPrice{
			MonthlyCents: c.ProPlusMonthlyCents,
			AnnualCents:  c.ProPlusAnnualCents,
			Currency:     c.PriceCurrency,
		},
	}
}
