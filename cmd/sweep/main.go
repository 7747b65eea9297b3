// Command sweep runs the expiry sweeps once and exits. Use it from cron when
// the server runs with SWEEP_ENABLED=false.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/sappio-ai/sappio/internal"
	"github.com/sappio-ai/sappio/internal/repository"
	"github.com/sappio-ai/sappio/internal/service"
)

var timeoutFlag time.Duration

var rootCmd = &cobra.Command{
	Use:          "sweep",
	Short:        "Run quota expiry sweeps",
	Long:         `Expire lapsed extra pack purchases and trials, then exit`,
	SilenceUsage: true,
}

var extraPacksCmd = &cobra.Command{
	Use:   "extra-packs",
	Short: "Expire extra pack purchases past their expiry date",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withServices(cmd.Context(), func(ctx context.Context, s sweepServices) error {
			return sweepExtraPacks(ctx, s)
		})
	},
}

var trialsCmd = &cobra.Command{
	Use:   "trials",
	Short: "Downgrade users whose trial or subscription has lapsed",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withServices(cmd.Context(), func(ctx context.Context, s sweepServices) error {
			return sweepTrials(ctx, s)
		})
	},
}

var allCmd = &cobra.Command{
	Use:   "all",
	Short: "Run every sweep",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withServices(cmd.Context(), func(ctx context.Context, s sweepServices) error {
			if err := sweepExtraPacks(ctx, s); err != nil {
				return err
			}
			return sweepTrials(ctx, s)
		})
	},
}

func init() {
	rootCmd.AddCommand(extraPacksCmd)
	rootCmd.AddCommand(trialsCmd)
	rootCmd.AddCommand(allCmd)
	rootCmd.PersistentFlags().DurationVar(&timeoutFlag, "timeout", 5*time.Minute, "Maximum run time for the sweep")
}

type sweepServices struct {
	extras   service.ExtraPackService
	benefits service.BenefitService
	logger   *slog.Logger
}

// withServices loads configuration, connects to the database and hands the
// sweep services to fn.
func withServices(ctx context.Context, fn func(context.Context, sweepServices) error) error {
	cfg, err := internal.NewConfig()
	if err != nil {
		return fmt.Errorf("config initialization failed: %w", err)
	}
	logger := internal.NewLogger(os.Stdout, cfg.Env, cfg.LogLevel).With("component", "sweep")

	ctx, cancel := context.WithTimeout(ctx, timeoutFlag)
	defer cancel()

	pool, err := internal.OpenPool(ctx, cfg.DatabaseURL, 2)
	if err != nil {
		return fmt.Errorf("database connection failed: %w", err)
	}
	defer pool.Close()

	queries := repository.New(pool)
	return fn(ctx, sweepServices{
		extras:   service.NewExtraPackService(queries, logger),
		benefits: service.NewBenefitService(queries, cfg.CatalogPrices(), logger),
		logger:   logger,
	})
}

func sweepExtraPacks(ctx context.Context, s sweepServices) error {
	res, err := s.extras.ExpirePurchases(ctx)
	if err != nil {
		return fmt.Errorf("extra pack sweep failed: %w", err)
	}
	s.logger.Info("extra pack sweep complete", "expired", res.Expired, "users_affected", res.UsersAffected)
	return nil
}

func sweepTrials(ctx context.Context, s sweepServices) error {
	count, err := s.benefits.ExpireTrials(ctx)
	if err != nil {
		return fmt.Errorf("trial sweep failed: %w", err)
	}
	s.logger.Info("trial sweep complete", "downgraded", count)
	return nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}
