package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"example.com/emissions/internal/config"
	"example.com/emissions/internal/observability"
	"example.com/emissions/internal/outbox"
)

func main() {
	cfg := config.Load()
	logger := config.NewLogger("emissions-dlqmanager", cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := pgxpool.New(ctx, cfg.PostgresURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to postgres")
	}
	defer pool.Close()

	manager := outbox.NewDLQManager(pool, cfg.DLQMaxRetries, cfg.DLQBaseDelay, outbox.WithDLQLogger(logger))
	shutdownMetrics := observability.StartMetrics(logger, cfg.MetricsAddress)

	logger.Info().
		Dur("interval", cfg.DLQPollInterval).
		Int("max_retries", cfg.DLQMaxRetries).
		Msg("dlq manager started")
	run(ctx, logger, manager, cfg.DLQPollInterval, cfg.DLQBatchSize)
	logger.Info().Msg("dlq manager shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := shutdownMetrics(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("metrics server shutdown failed")
	}
}

func run(ctx context.Context, logger zerolog.Logger, manager *outbox.DLQManager, interval time.Duration, batchSize int) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		requeued, err := manager.RunOnce(ctx, batchSize)
		if err != nil {
			logger.Error().Err(err).Msg("dlq pass failed")
			continue
		}
		if requeued > 0 {
			logger.Info().Int("requeued", requeued).Msg("dlq entries requeued")
		}
	}
}
