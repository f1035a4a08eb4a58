package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.App.Port)
	assert.Equal(t, DriverSQLite, cfg.Store.Driver)
	assert.Equal(t, "ledger.db", cfg.Store.SQLitePath)
	assert.Equal(t, uint64(20), cfg.Ledger.DefaultTaxRate)
	assert.Equal(t, 10000, cfg.Ledger.MaxItemsPerSale)
	assert.Empty(t, cfg.Ledger.RateAdmins)
	assert.Equal(t, 30*time.Second, cfg.HTTP.ShutdownTimeout)
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("LEDGER_PORT", "9090")
	t.Setenv("LEDGER_STORE_DRIVER", "Memory")
	t.Setenv("LEDGER_DEFAULT_TAX_RATE", "55")
	t.Setenv("LEDGER_RATE_ADMINS", "alice,bob")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.App.Port)
	assert.Equal(t, DriverMemory, cfg.Store.Driver)
	assert.Equal(t, uint64(55), cfg.Ledger.DefaultTaxRate)
	assert.Equal(t, []string{"alice", "bob"}, cfg.Ledger.RateAdmins)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{name: "unknown driver", env: map[string]string{"LEDGER_STORE_DRIVER": "cassandra"}},
		{name: "redis without url", env: map[string]string{"LEDGER_STORE_DRIVER": "redis"}},
		{name: "zero max items", env: map[string]string{"LEDGER_MAX_ITEMS_PER_SALE": "0"}},
		{name: "negative rate", env: map[string]string{"LEDGER_DEFAULT_TAX_RATE": "-1"}},
		{name: "port out of range", env: map[string]string{"LEDGER_PORT": "70000"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load()
			assert.Error(t, err)
		})
	}
}

func TestParseDefersValidationToOverrides(t *testing.T) {
	// GIVEN: the environment selects redis without a URL
	// WHEN: a command-line override switches to the memory driver
	// THEN: validation runs on the overridden config and passes

	t.Setenv("LEDGER_STORE_DRIVER", "redis")

	_, err := Load()
	require.Error(t, err)

	cfg, err := Parse()
	require.NoError(t, err)
	assert.Equal(t, DriverRedis, cfg.Store.Driver)

	cfg.Store.Driver = "memory"
	require.NoError(t, cfg.Validate())
}
