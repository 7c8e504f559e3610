package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	for _, key := range []string{"HTTP_PORT", "STORE_BACKEND", "DB_PORT", "RESERVATION_TTL", "SWEEP_INTERVAL",
		"PAYMENT_TIMEOUT", "LOW_STOCK_THRESHOLD", "KAFKA_BROKERS"} {
		t.Setenv(key, "")
	}

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.HTTPPort)
	assert.Equal(t, BackendPostgres, cfg.StoreBackend)
	assert.Equal(t, 5432, cfg.DBPort)
	assert.Equal(t, time.Hour, cfg.ReservationTTL)
	assert.Equal(t, time.Minute, cfg.SweepInterval)
	assert.Equal(t, 10*time.Second, cfg.PaymentTimeout)
	assert.Equal(t, int32(10), cfg.LowStockThreshold)
	assert.Equal(t, []string{"localhost:9092"}, cfg.KafkaBrokers)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("STORE_BACKEND", "memory")
	t.Setenv("RESERVATION_TTL", "15m")
	t.Setenv("LOW_STOCK_THRESHOLD", "3")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092,")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, BackendMemory, cfg.StoreBackend)
	assert.Equal(t, 15*time.Minute, cfg.ReservationTTL)
	assert.Equal(t, int32(3), cfg.LowStockThreshold)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.KafkaBrokers)
}

func TestLoad_MemoryBackendNeedsNoServices(t *testing.T) {
	t.Setenv("STORE_BACKEND", "memory")
	t.Setenv("REDIS_ADDR", "")
	t.Setenv("KAFKA_BROKERS", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Empty(t, cfg.RedisAddr)
	assert.Empty(t, cfg.KafkaBrokers)
}

func TestLoad_Invalid(t *testing.T) {
	t.Run("duration", func(t *testing.T) {
		t.Setenv("SWEEP_INTERVAL", "soon")
		_, err := Load()
		assert.ErrorContains(t, err, "SWEEP_INTERVAL")
	})
	t.Run("negative duration", func(t *testing.T) {
		t.Setenv("RESERVATION_TTL", "-1h")
		_, err := Load()
		assert.ErrorContains(t, err, "must be positive")
	})
	t.Run("backend", func(t *testing.T) {
		t.Setenv("STORE_BACKEND", "sqlite")
		_, err := Load()
		assert.ErrorContains(t, err, "STORE_BACKEND")
	})
}
