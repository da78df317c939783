package main

import (
	"context"
	"errors"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	"example.com/emissions/internal/config"
	"example.com/emissions/internal/consumer"
	"example.com/emissions/internal/observability"
)

func main() {
	cfg := config.Load()
	logger := config.NewLogger("emissions-consumer", cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := pgxpool.New(ctx, cfg.PostgresURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to postgres")
	}
	defer pool.Close()

	validator, err := consumer.NewSchemaValidator()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to compile event schemas")
	}
	handler := consumer.NewPersistenceHandler(pool)
	shutdownMetrics := observability.StartMetrics(logger, cfg.MetricsAddress)

	var wg sync.WaitGroup
	for _, topic := range cfg.ConsumerTopics {
		log := logger.With().Str("topic", topic).Str("group", cfg.ConsumerGroupID).Logger()
		reader := newReader(cfg, topic)
		proc := consumer.NewProcessor(reader, handler, consumer.WithLogger(log), consumer.WithValidator(validator))

		wg.Add(1)
		go func() {
			defer wg.Done()
			consume(ctx, log, proc, reader)
		}()
	}

	<-ctx.Done()
	logger.Info().Msg("consumer shutting down")
	wg.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := shutdownMetrics(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("metrics server shutdown failed")
	}
}

func newReader(cfg config.Config, topic string) *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:         cfg.KafkaBrokers,
		GroupID:         cfg.ConsumerGroupID,
		Topic:           topic,
		MinBytes:        1e3,
		MaxBytes:        10e6,
		CommitInterval:  time.Second,
		ReadLagInterval: -1,
	})
}

func consume(ctx context.Context, log zerolog.Logger, proc *consumer.Processor, reader *kafka.Reader) {
	defer func() {
		if err := reader.Close(); err != nil {
			log.Warn().Err(err).Msg("reader close failed")
		}
	}()
	log.Info().Msg("consumer started")
	if err := proc.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Error().Err(err).Msg("consumer stopped")
	}
}
