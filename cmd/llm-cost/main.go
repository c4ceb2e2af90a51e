// Command llm-cost runs the LLM pricing ingestion pipeline, either once or
// on a fixed interval.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/g2scv/llm-cost/adapters"
	"github.com/g2scv/llm-cost/aggregator"
	"github.com/g2scv/llm-cost/backendsync"
	"github.com/g2scv/llm-cost/config"
	"github.com/g2scv/llm-cost/pipeline"
	"github.com/g2scv/llm-cost/schemas"
	"github.com/g2scv/llm-cost/scheduler"
	"github.com/g2scv/llm-cost/store"
	"github.com/g2scv/llm-cost/validate"
)

// Exit codes: 0 success, 1 configuration error, 2 unrecoverable runtime
// error. Loop mode never exits with 2; tick failures are recovered.
const (
	exitOK           = 0
	exitConfigError  = 1
	exitRuntimeError = 2
)

func main() {
	once := flag.Bool("once", false, "run a single tick and exit")
	flag.Parse()

	// A missing .env file is fine; real deployments use the environment.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(exitConfigError)
	}

	logger := schemas.NewLogger(cfg.LogLevel, cfg.LogFormat)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pricingStore, err := store.NewPostgresStore(cfg.PricingStoreURL, logger)
	if err != nil {
		logger.Error().Err(err).Msg("failed to open pricing store")
		os.Exit(exitConfigError)
	}

	client := aggregator.NewClient(cfg.AggregatorURL, cfg.AggregatorKey, cfg.RequestTimeout, logger)
	search := adapters.NewBraveSearch(cfg.WebSearchKey, cfg.RequestTimeout, logger)
	registry := adapters.NewRegistry(search, cfg.TrustedPriceDomains, logger)
	validator := validate.New(cfg.PriceCapUSDPerMillion, cfg.PriceChangeThresholdPercent, logger)

	pipe := pipeline.New(cfg, pricingStore, client, registry, validator, logger)

	var syncer scheduler.ProjectionSyncer
	if cfg.BackendSyncEnabled() {
		backendStore, err := backendsync.NewPostgresBackendStore(cfg.BackendStoreURL, logger)
		if err != nil {
			logger.Error().Err(err).Msg("failed to open backend store")
			os.Exit(exitConfigError)
		}
		syncer = backendsync.New(cfg, pricingStore, backendStore, logger)
	}

	sched := scheduler.New(
		pipe,
		syncer,
		time.Duration(cfg.RunIntervalHours)*time.Hour,
		cfg.RunOnStartup,
		logger,
	)

	if *once {
		if err := sched.RunOnce(ctx); err != nil {
			logger.Error().Err(err).Msg("run failed")
			os.Exit(exitRuntimeError)
		}
		os.Exit(exitOK)
	}

	if err := sched.Loop(ctx); err != nil && ctx.Err() == nil {
		logger.Error().Err(err).Msg("scheduler stopped")
		os.Exit(exitRuntimeError)
	}
}
