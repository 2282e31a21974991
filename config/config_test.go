package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("MARKETPLACE_DOMAINS", "")
	t.Setenv("MIGRATION_BATCH_SIZE", "")

	cfg := Load()

	assert.Equal(t, []string{"rakuten.co.jp"}, cfg.Inventory.MarketplaceDomains)
	assert.Equal(t, 400, cfg.Inventory.MigrationBatchSize)
	assert.False(t, cfg.Inventory.LegacyWrites)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("STORE_BACKEND", "sqlite")
	t.Setenv("MARKETPLACE_DOMAINS", "rakuten.co.jp, amazon.co.jp ,")
	t.Setenv("MIGRATION_BATCH_SIZE", "100")
	t.Setenv("LEGACY_WRITES", "true")
	t.Setenv("IDEMPOTENCY_TTL_SECONDS", "60")
	t.Setenv("KAFKA_BROKERS", "k1:9092,k2:9092")

	cfg := Load()

	assert.Equal(t, "sqlite", cfg.Store.Backend)
	assert.Equal(t, []string{"rakuten.co.jp", "amazon.co.jp"}, cfg.Inventory.MarketplaceDomains)
	assert.Equal(t, 100, cfg.Inventory.MigrationBatchSize)
	assert.True(t, cfg.Inventory.LegacyWrites)
	assert.Equal(t, time.Minute, cfg.Inventory.IdempotencyTTL)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
}

func TestLoadDisablesOptionalIntegrations(t *testing.T) {
	t.Setenv("REDIS_ADDR", "")
	t.Setenv("KAFKA_BROKERS", "")
	t.Setenv("SCAN_SERVICE_URL", "")
	t.Setenv("JAEGER_ENDPOINT", "")
	t.Setenv("TRACE_SAMPLE_RATIO", "0.25")

	cfg := Load()

	assert.Empty(t, cfg.Redis.Addr)
	assert.Empty(t, cfg.Kafka.Brokers)
	assert.Empty(t, cfg.Scan.ServiceURL)
	assert.Empty(t, cfg.Observ.JaegerEndpoint)
	assert.Equal(t, 0.25, cfg.Observ.TraceSampleRatio)
}
