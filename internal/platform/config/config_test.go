package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFromEnvDefaults(t *testing.T) {
	for _, key := range []string{"CERTLEDGER_ADDR", "DATABASE_URL", "KAFKA_BROKERS", "LEDGER_TIMEOUT", "SESSION_SIGNING_KEY"} {
		t.Setenv(key, "")
	}

	cfg := FromEnv()
	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Empty(t, cfg.Database.URL)
	assert.Empty(t, cfg.Kafka.Brokers)
	assert.Equal(t, 3*time.Second, cfg.Ledger.Timeout)
	assert.NotEmpty(t, cfg.Session.SigningKey)
}

func TestFromEnvOverrides(t *testing.T) {
	t.Setenv("CERTLEDGER_ADDR", ":9090")
	t.Setenv("KAFKA_BROKERS", "broker-1:9092, broker-2:9092,")
	t.Setenv("LEDGER_TIMEOUT", "750ms")
	t.Setenv("MINT_BIND_ATTEMPTS", "not-a-number")

	cfg := FromEnv()
	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.Equal(t, []string{"broker-1:9092", "broker-2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, 750*time.Millisecond, cfg.Ledger.Timeout)
	assert.Equal(t, 3, cfg.Minting.BindAttempts, "invalid ints fall back to the default")
}
