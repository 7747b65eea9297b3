package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/sappio-ai/sappio/internal"
	"github.com/sappio-ai/sappio/internal/billing"
	"github.com/sappio-ai/sappio/internal/cache"
	"github.com/sappio-ai/sappio/internal/domain"
	"github.com/sappio-ai/sappio/internal/handler"
	"github.com/sappio-ai/sappio/internal/jobs"
	"github.com/sappio-ai/sappio/internal/metrics"
	"github.com/sappio-ai/sappio/internal/middleware"
	"github.com/sappio-ai/sappio/internal/repository"
	"github.com/sappio-ai/sappio/internal/service"
	"github.com/sappio-ai/sappio/internal/worker"
)

const shutdownTimeout = 30 * time.Second

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load configuration
	cfg, err := internal.NewConfig()
	if err != nil {
		return fmt.Errorf("config initialization failed: %w", err)
	}

	// Configure logger
	logger := internal.NewLogger(os.Stdout, cfg.Env, cfg.LogLevel)

	// Initialize database connection
	pool, err := internal.OpenPool(ctx, cfg.DatabaseURL, cfg.DatabaseMaxConns)
	if err != nil {
		return fmt.Errorf("database connection failed: %w", err)
	}
	defer pool.Close()

	if err := internal.RunMigrations(ctx, pool, logger); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}
	logger.Info("database ready", "max_conns", cfg.DatabaseMaxConns)

	queries := repository.New(pool)

	planCache, closeCache, err := newPlanCache(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeCache()

	// Initialize services
	plans := service.NewPlanService(queries, planCache, logger)
	extras := service.NewExtraPackService(queries, logger)
	usage := service.NewUsageService(queries, plans, extras, logger)
	benefits := service.NewBenefitService(queries, cfg.CatalogPrices(), logger)
	pricing := service.NewPricingService(benefits, cfg.CatalogPrices())

	var billingService billing.Service
	if cfg.BillingEnabled() {
		prices, err := cfg.ExtraPackPrices()
		if err != nil {
			return fmt.Errorf("billing configuration failed: %w", err)
		}
		billingService = billing.NewStripeService(cfg.StripeSecretKey, cfg.StripeWebhookSecret, prices)
		logger.Info("billing enabled")
	} else {
		logger.Warn("billing disabled, extra pack checkout is unavailable")
	}

	// ==========================================================================
	// Background jobs
	// ==========================================================================

	g, gctx := errgroup.WithContext(ctx)

	if cfg.WorkerEnabled {
		workerConfig := worker.DefaultConfig()
		workerConfig.Concurrency = cfg.WorkerConcurrency
		workerConfig.PollInterval = cfg.WorkerPollInterval
		workerConfig.JobTimeout = cfg.WorkerJobTimeout

		w, err := worker.New(worker.NewPGQueue(pool, queries), workerConfig, logger)
		if err != nil {
			return fmt.Errorf("worker initialization failed: %w", err)
		}
		w.Register(jobs.NewConsumePackQuotaHandler(usage, logger))
		w.Register(jobs.NewExpireExtraPacksHandler(extras, logger))
		w.Register(jobs.NewExpireTrialsHandler(benefits, logger))
		g.Go(func() error { return w.Run(gctx) })

		if cfg.SweepEnabled {
			scheduler := worker.NewScheduler(queries, logger)
			if err := scheduler.Every(worker.JobTypeExpireExtraPacks, cfg.ExtraPackSweepInterval, worker.WithPriority(worker.PriorityLow)); err != nil {
				return err
			}
			if err := scheduler.Every(worker.JobTypeExpireTrials, cfg.TrialSweepInterval, worker.WithPriority(worker.PriorityLow)); err != nil {
				return err
			}
			g.Go(func() error { return scheduler.Run(gctx) })
		}
	} else {
		logger.Warn("worker disabled, queued consumptions and sweeps will not run")
	}

	// ==========================================================================
	// Create router and register routes
	// ==========================================================================

	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		if err := pool.Ping(r.Context()); err != nil {
			http.Error(w, "database unavailable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	if cfg.InternalAPIToken == "" {
		logger.Warn("INTERNAL_API_TOKEN is empty, internal API is unauthenticated")
	}
	tokenMw := middleware.NewAPITokenMiddleware(cfg.InternalAPIToken, logger)

	handler.NewQuotaHandler(usage, benefits, pricing, plans, queries, logger).RegisterRoutes(mux, tokenMw.Require)
	handler.NewExtraPackHandler(billingService, extras, cfg.BaseURL, logger).RegisterRoutes(mux, tokenMw.Require)
	if billingService != nil {
		handler.NewWebhookHandler(billingService, extras, logger).RegisterRoutes(mux)
	}

	if cfg.MetricsUsername == "" && cfg.MetricsPassword == "" {
		logger.Warn("metrics endpoint is unprotected")
	}
	middleware.NewMetricsAuthMiddleware(cfg.MetricsUsername, cfg.MetricsPassword).RegisterRoutes(mux)

	chain := []func(http.Handler) http.Handler{
		middleware.NewSecurityHeadersMiddleware(cfg.IsProduction()).Handler,
		middleware.NewRequestLoggingMiddleware(logger).Handler,
	}
	if cfg.RateLimitPerMinute > 0 {
		limiter := middleware.NewRateLimiter(cfg.RateLimitPerMinute, cfg.RateLimitBurst)
		defer limiter.Close()
		chain = append(chain, middleware.NewRateLimitMiddleware(limiter, logger).Limit)
	}

	// ==========================================================================
	// Start server
	// ==========================================================================

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           middleware.Stack(chain...)(metrics.Middleware(mux)),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	g.Go(func() error {
		logger.Info("server started", "address", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutdown signal received, initiating graceful shutdown")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("server shutdown error", "error", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}

	logger.Info("graceful shutdown complete")
	return nil
}

// newPlanCache shares plan limits through Redis when REDIS_URL is set and
// falls back to an in-process cache otherwise.
func newPlanCache(ctx context.Context, cfg *internal.Config, logger *slog.Logger) (cache.Cache[domain.PlanLimits], func(), error) {
	if cfg.RedisURL == "" {
		return cache.NewTTLCache[domain.PlanLimits](cfg.PlanCacheTTL), func() {}, nil
	}

	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, nil, fmt.Errorf("redis connection failed: %w", err)
	}
	logger.Info("plan limits cached in redis", "ttl", cfg.PlanCacheTTL)

	closeFn := func() {
		if err := client.Close(); err != nil {
			logger.Error("failed to close redis client", "error", err)
		}
	}
	return cache.NewRedisCache[domain.PlanLimits](client, "plan_limits:", cfg.PlanCacheTTL, logger), closeFn, nil
}

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}
