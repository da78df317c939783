package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"example.com/emissions/internal/aggregate"
	"example.com/emissions/internal/api"
	"example.com/emissions/internal/audit"
	"example.com/emissions/internal/auth"
	"example.com/emissions/internal/cache"
	"example.com/emissions/internal/calculation"
	"example.com/emissions/internal/config"
	"example.com/emissions/internal/observability"
	"example.com/emissions/internal/outbox"
	persistence "example.com/emissions/internal/persistence/postgres"
	"example.com/emissions/internal/provenance"
	"example.com/emissions/internal/refdata"
	httptransport "example.com/emissions/internal/transport/http"
)

func main() {
	cfg := config.Load()
	logger := config.NewLogger("emissions-api", cfg.LogLevel)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tables, err := refdata.Load(cfg.ReferenceDataPath)
	if err != nil {
		logger.Fatal().Err(err).Str("path", cfg.ReferenceDataPath).Msg("failed to load reference data")
	}

	if cfg.MigrateOnStart {
		if err := persistence.MigrateUp(cfg.PostgresURL); err != nil {
			logger.Fatal().Err(err).Msg("failed to apply migrations")
		}
		logger.Info().Msg("migrations applied")
	}

	pool, err := pgxpool.New(ctx, cfg.PostgresURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to postgres")
	}
	defer pool.Close()

	repo := persistence.NewRepository(pool, persistence.WithLogger(logger.With().Str("component", "postgres").Logger()))

	var invalidator cache.Invalidator = cache.NoopInvalidator{}
	if cfg.CacheURL != "" {
		invalidator = cache.NewHTTPInvalidator(cfg.CacheURL, cfg.CacheToken, cfg.CacheTimeout)
	}
	refresher := aggregate.NewRefresher(repo,
		aggregate.WithInvalidator(invalidator),
		aggregate.WithLogger(logger.With().Str("component", "aggregate").Logger()))

	orchestrator := calculation.NewOrchestrator(repo, refresher, tables,
		calculation.WithLogger(logger.With().Str("component", "batch").Logger()))
	travel := calculation.NewTravelSpend(repo, provenance.NewValidator(repo), tables,
		calculation.WithTravelLogger(logger.With().Str("component", "travel").Logger()))

	handler, err := api.NewHandler(orchestrator, travel, audit.NewVerifier(repo), auth.NewAuthorizer(repo),
		api.WithLogger(logger.With().Str("component", "api").Logger()))
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to build handlers")
	}

	producer := outbox.NewKafkaProducer(cfg.KafkaBrokers, 0)
	defer producer.Close()

	registry := outbox.NewSchemaRegistryClient(cfg.SchemaRegistryURL)
	dispatcher := outbox.NewDispatcher(pool, producer, registry, cfg.OutboxPollInterval, cfg.OutboxBatchSize,
		outbox.WithLogger(logger.With().Str("component", "outbox").Logger()))

	go dispatcher.Start(ctx)

	authMiddleware := auth.NewMiddleware(auth.Config{Secret: cfg.JWTSecret, Issuer: cfg.JWTIssuer})
	router := httptransport.NewRouter(httptransport.RouterConfig{
		AllowedOrigins: cfg.CORSAllowedOrigins,
		RequestTimeout: cfg.RequestTimeout,
		Logger:         logger,
		Authenticate:   authMiddleware.Wrap,
	})
	handler.RegisterRoutes(router)

	server := httptransport.NewServer(httptransport.ServerConfig{
		Address:      cfg.HTTPAddress,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: cfg.RequestTimeout + 5*time.Second,
		IdleTimeout:  60 * time.Second,
	}, router)

	metricsSrv := observability.MetricsServer(cfg.MetricsAddress)

	shutdownCh := make(chan os.Signal, 1)
	signal.Notify(shutdownCh, syscall.SIGINT, syscall.SIGTERM)

	go serve(logger, "api", server)
	go serve(logger, "metrics", metricsSrv)

	<-shutdownCh
	logger.Info().Msg("shutdown requested")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
	}
	if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("metrics server shutdown failed")
	}

	dispatcher.Wait()
}

func serve(logger zerolog.Logger, name string, srv *http.Server) {
	logger.Info().Str("server", name).Str("address", srv.Addr).Msg("listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal().Err(err).Str("server", name).Msg("server error")
	}
}
