// Package config loads service configuration from the environment.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// EnvPrefix prefixes every variable, e.g. LEDGER_PORT.
const EnvPrefix = "LEDGER"

const (
	DriverMemory = "memory"
	DriverSQLite = "sqlite"
	DriverRedis  = "redis"
)

type Config struct {
	App    AppConfig
	Store  StoreConfig
	Redis  RedisConfig
	Ledger LedgerConfig
	HTTP   HTTPConfig
}

type AppConfig struct {
	Port      int    `envconfig:"LEDGER_PORT" default:"8080"`
	LogLevel  string `envconfig:"LEDGER_LOG_LEVEL" default:"info"`
	LogFormat string `envconfig:"LEDGER_LOG_FORMAT" default:"json"`
	LogStacks bool   `envconfig:"LEDGER_LOG_STACKS" default:"false"`
}

type StoreConfig struct {
	Driver     string `envconfig:"LEDGER_STORE_DRIVER" default:"sqlite"`
	SQLitePath string `envconfig:"LEDGER_SQLITE_PATH" default:"ledger.db"`
}

type RedisConfig struct {
	URL          string        `envconfig:"LEDGER_REDIS_URL"`
	Prefix       string        `envconfig:"LEDGER_REDIS_PREFIX" default:"ledger"`
	DialTimeout  time.Duration `envconfig:"LEDGER_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"LEDGER_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"LEDGER_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type LedgerConfig struct {
	DefaultTaxRate  uint64   `envconfig:"LEDGER_DEFAULT_TAX_RATE" default:"20"`
	MaxItemsPerSale int      `envconfig:"LEDGER_MAX_ITEMS_PER_SALE" default:"10000"`
	RateAdmins      []string `envconfig:"LEDGER_RATE_ADMINS"`
}

type HTTPConfig struct {
	CORSOrigins     []string      `envconfig:"LEDGER_CORS_ORIGINS" default:"http://localhost:5173,http://localhost:8080"`
	ReadTimeout     time.Duration `envconfig:"LEDGER_HTTP_READ_TIMEOUT" default:"15s"`
	WriteTimeout    time.Duration `envconfig:"LEDGER_HTTP_WRITE_TIMEOUT" default:"15s"`
	IdleTimeout     time.Duration `envconfig:"LEDGER_HTTP_IDLE_TIMEOUT" default:"60s"`
	ShutdownTimeout time.Duration `envconfig:"LEDGER_HTTP_SHUTDOWN_TIMEOUT" default:"30s"`
}

// Load reads and validates the configuration from LEDGER_* variables.
func Load() (*Config, error) {
	cfg, err := Parse()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse reads LEDGER_* variables without cross-field validation, for
// callers that apply overrides (command-line flags) before Validate.
func Parse() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	return &cfg, nil
}

// Validate checks cross-field constraints envconfig cannot express.
func (c *Config) Validate() error {
	c.Store.Driver = strings.ToLower(strings.TrimSpace(c.Store.Driver))
	switch c.Store.Driver {
	case DriverMemory:
	case DriverSQLite:
		if c.Store.SQLitePath == "" {
			return fmt.Errorf("LEDGER_SQLITE_PATH is required for the sqlite driver")
		}
	case DriverRedis:
		if c.Redis.URL == "" {
			return fmt.Errorf("LEDGER_REDIS_URL is required for the redis driver")
		}
	default:
		return fmt.Errorf("unknown store driver %q", c.Store.Driver)
	}
	if c.Ledger.MaxItemsPerSale <= 0 {
		return fmt.Errorf("LEDGER_MAX_ITEMS_PER_SALE must be positive")
	}
	if c.App.Port <= 0 || c.App.Port > 65535 {
		return fmt.Errorf("LEDGER_PORT out of range: %d", c.App.Port)
	}
	return nil
}
