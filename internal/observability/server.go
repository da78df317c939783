package observability

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// MetricsServer serves the default Prometheus registry on /metrics.
func MetricsServer(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
}

// StartMetrics runs MetricsServer(addr) in the background. The returned
// function shuts it down.
func StartMetrics(logger zerolog.Logger, addr string) func(context.Context) error {
	srv := MetricsServer(addr)
	go func() {
		logger.Info().Str("address", addr).Msg("metrics listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("metrics server failed")
		}
	}()
	return srv.Shutdown
}
