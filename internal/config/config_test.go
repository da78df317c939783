package config

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()
	require.Equal(t, ":8080", cfg.HTTPAddress)
	require.Equal(t, []string{"kafka:9092"}, cfg.KafkaBrokers)
	require.Len(t, cfg.ConsumerTopics, 3)
	require.Equal(t, 2*time.Second, cfg.OutboxPollInterval)
	require.False(t, cfg.MigrateOnStart)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("KAFKA_BROKERS", " a:9092 , ,b:9092")
	t.Setenv("OUTBOX_BATCH_SIZE", "100")
	t.Setenv("DLQ_BASE_DELAY", "15s")
	t.Setenv("MIGRATE_ON_START", "true")
	t.Setenv("OUTBOX_POLL_INTERVAL", "not-a-duration")

	cfg := Load()
	require.Equal(t, []string{"a:9092", "b:9092"}, cfg.KafkaBrokers)
	require.Equal(t, 100, cfg.OutboxBatchSize)
	require.Equal(t, 15*time.Second, cfg.DLQBaseDelay)
	require.True(t, cfg.MigrateOnStart)
	require.Equal(t, 2*time.Second, cfg.OutboxPollInterval)
}

func TestLoadBlankListFallsBack(t *testing.T) {
	t.Setenv("CORS_ALLOWED_ORIGINS", " , ")
	require.Equal(t, []string{"*"}, Load().CORSAllowedOrigins)
}

func TestNewLoggerFields(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, "emissions-api", "bogus")
	logger.Debug().Msg("hidden")
	logger.Info().Msg("visible")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	require.Equal(t, "emissions-api", line["service"])
	require.Equal(t, "visible", line["message"])
	require.Contains(t, line, "time")
}
