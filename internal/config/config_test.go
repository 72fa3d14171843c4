package config_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unclebandit/weekly-plan-dispatcher/internal/config"
)

func TestParseDefaults(t *testing.T) {
	cfg, err := config.Parse()
	require.NoError(t, err)

	assert.Equal(t, 140, cfg.BatchSize)
	assert.Equal(t, 14, cfg.RatePerSecond)
	assert.Equal(t, 120*time.Second, cfg.LeaseTTL)
	assert.Equal(t, 55*time.Second, cfg.InvocationBudget)
	assert.Equal(t, 1, cfg.MaxBatchesPerRun)
	assert.Equal(t, "sqlite", cfg.StoreDriver)
	assert.Equal(t, "log", cfg.Channel)
}

func TestParseFromEnv(t *testing.T) {
	t.Setenv("STORE_DRIVER", " Redis ")
	t.Setenv("CHANNEL", "AMQP")
	t.Setenv("RECIPIENT_SOURCE", "fixture")
	t.Setenv("BATCH_SIZE", "50")
	t.Setenv("RATE_PER_SECOND", "5")
	t.Setenv("LEASE_TTL", "90s")
	t.Setenv("INVOCATION_BUDGET", "30s")
	t.Setenv("KAFKA_BROKERS", "k1:9092,k2:9092")

	cfg, err := config.Parse()
	require.NoError(t, err)
	assert.Equal(t, "redis", cfg.StoreDriver)
	assert.Equal(t, "amqp", cfg.Channel)
	assert.Equal(t, "fixture", cfg.RecipientSource)
	assert.Equal(t, 50, cfg.BatchSize)
	assert.Equal(t, 5, cfg.RatePerSecond)
	assert.Equal(t, 90*time.Second, cfg.LeaseTTL)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.KafkaBrokers)
}

func TestParseRejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"unknown store", map[string]string{"STORE_DRIVER": "mongo"}},
		{"unknown channel", map[string]string{"CHANNEL": "sms"}},
		{"unknown recipient source", map[string]string{"RECIPIENT_SOURCE": "csv"}},
		{"zero batch", map[string]string{"BATCH_SIZE": "0"}},
		{"zero rate", map[string]string{"RATE_PER_SECOND": "0"}},
		{"lease shorter than budget", map[string]string{"LEASE_TTL": "30s", "INVOCATION_BUDGET": "55s"}},
		{"not a number", map[string]string{"BATCH_SIZE": "many"}},
		{"batch longer than budget", map[string]string{"BATCH_SIZE": "1000", "RATE_PER_SECOND": "14"}},
		{"batch exactly the budget", map[string]string{"BATCH_SIZE": "110", "RATE_PER_SECOND": "2", "INVOCATION_BUDGET": "55s"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := config.Parse()
			assert.Error(t, err)
		})
	}
}

func TestPostgresURL(t *testing.T) {
	cfg := config.Config{DBUser: "u", DBPassword: "p", DBHost: "db", DBPort: "5432", DBName: "plans"}
	assert.Equal(t, "postgres://u:p@db:5432/plans?sslmode=disable", cfg.PostgresURL())

	cfg.DatabaseURL = "postgres://elsewhere/x"
	assert.Equal(t, "postgres://elsewhere/x", cfg.PostgresURL())
}
