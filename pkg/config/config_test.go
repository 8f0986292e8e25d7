package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoad_YAMLWithEnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "local.yaml")

	yaml := `
env: prod
postgres:
  url: postgres://app@localhost/shop
stripe:
  secret_key: sk_test_from_file
  timeout: 3s
checkout:
  base_url: https://shop.example
  reservation_mode: sequential
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))
	t.Setenv("STRIPE_SECRET_KEY", "sk_test_from_env")

	cfg, err := Load(path)
	require.NoError(t, err)

	require.Equal(t, "prod", cfg.Env)
	require.Equal(t, "postgres://app@localhost/shop", cfg.Postgres.URL)
	require.Equal(t, "sk_test_from_env", cfg.Stripe.SecretKey)
	require.Equal(t, 3*time.Second, cfg.Stripe.Timeout)
	require.Equal(t, "sequential", cfg.Checkout.ReservationMode)
	require.Equal(t, "EUR", cfg.Checkout.Currency)
	require.Equal(t, 8, cfg.Checkout.CompensationConcurrency)
}

func TestLoad_EnvOnly(t *testing.T) {
	t.Setenv("KAFKA_BROKERS", "k1:9092,k2:9092")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	require.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	require.Equal(t, "auto", cfg.Checkout.ReservationMode)
	require.Equal(t, ":3000", cfg.HTTP.Port)
}

func TestNewLogger_InvalidLevel(t *testing.T) {
	_, err := NewLogger(LoggerConfig{Level: "loud", Env: "local"})
	require.Error(t, err)

	logger, err := NewLogger(LoggerConfig{Level: "debug", Env: "prod"})
	require.NoError(t, err)
	require.NotNil(t, logger)
}
