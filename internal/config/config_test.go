package config

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestLoadDoesNotInjectWeakAuthDefaults(t *testing.T) {
	t.Setenv("AUTH_SECRET", "")

	cfg := Load()
	if cfg.AuthSecret != "" {
		t.Fatalf("expected empty AUTH_SECRET when unset, got %q", cfg.AuthSecret)
	}
}

func TestLoadTaxRate(t *testing.T) {
	t.Setenv("DEFAULT_TAX_RATE", "")
	assert.True(t, Load().DefaultTaxRate.Equal(decimal.RequireFromString("0.1")))

	t.Setenv("DEFAULT_TAX_RATE", "0.11")
	assert.True(t, Load().DefaultTaxRate.Equal(decimal.RequireFromString("0.11")))

	t.Setenv("DEFAULT_TAX_RATE", "1.5")
	assert.True(t, Load().DefaultTaxRate.Equal(decimal.RequireFromString("0.1")), "out of range rate falls back")

	t.Setenv("DEFAULT_TAX_RATE", "ten percent")
	assert.True(t, Load().DefaultTaxRate.Equal(decimal.RequireFromString("0.1")))
}

func TestLoadKafkaBrokersAndAttempts(t *testing.T) {
	t.Setenv("KAFKA_BROKERS", " broker-1:9092, ,broker-2:9092 ")
	t.Setenv("MAX_TX_ATTEMPTS", "0")

	cfg := Load()
	assert.Equal(t, []string{"broker-1:9092", "broker-2:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, 3, cfg.MaxTxAttempts)
}
