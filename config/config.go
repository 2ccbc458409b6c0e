// Package config loads service configuration from LEDGER_* environment
// variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	App     AppConfig
	Store   StoreConfig
	Redis   RedisConfig
	JWT     JWTConfig
	Ledger  LedgerConfig
	Metrics MetricsConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks combinations envconfig cannot express with tags.
func (c *Config) Validate() error {
	var errs []error

	switch c.Store.Driver {
	case DriverMemory:
	case DriverSQLite, DriverPostgres:
		if strings.TrimSpace(c.Store.DSN) == "" {
			errs = append(errs, fmt.Errorf("%s is required for driver %q", EnvStoreDSN, c.Store.Driver))
		}
	default:
		errs = append(errs, fmt.Errorf("%s must be one of memory, sqlite, postgres; got %q", EnvStoreDriver, c.Store.Driver))
	}

	if strings.TrimSpace(c.JWT.Secret) == "" {
		errs = append(errs, fmt.Errorf("%s is required", EnvJWTSecret))
	}
	if c.Ledger.CacheTTL <= 0 {
		errs = append(errs, fmt.Errorf("%s must be positive", EnvCacheTTL))
	}
	if c.Ledger.MaxTxAttempts < 1 {
		errs = append(errs, fmt.Errorf("%s must be at least 1", EnvMaxTxAttempts))
	}
	if c.Ledger.DefaultDays < 0 {
		errs = append(errs, fmt.Errorf("%s must not be negative", EnvDefaultDays))
	}
	return errors.Join(errs...)
}

type AppConfig struct {
	Env             string        `envconfig:"LEDGER_APP_ENV" default:"dev"`
	Port            string        `envconfig:"LEDGER_APP_PORT" default:"8080"`
	LogLevel        string        `envconfig:"LEDGER_LOG_LEVEL" default:"info"`
	LogFormat       string        `envconfig:"LEDGER_LOG_FORMAT" default:"json"`
	LogWarnStack    bool          `envconfig:"LEDGER_LOG_WARN_STACK" default:"false"`
	CORSOrigins     []string      `envconfig:"LEDGER_CORS_ORIGINS" default:"*"`
	ShutdownTimeout time.Duration `envconfig:"LEDGER_SHUTDOWN_TIMEOUT" default:"15s"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type StoreConfig struct {
	Driver      string `envconfig:"LEDGER_STORE_DRIVER" default:"memory"`
	DSN         string `envconfig:"LEDGER_STORE_DSN"`
	AutoMigrate bool   `envconfig:"LEDGER_STORE_AUTO_MIGRATE" default:"true"`

	MaxOpenConns    int           `envconfig:"LEDGER_STORE_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"LEDGER_STORE_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"LEDGER_STORE_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"LEDGER_STORE_CONN_MAX_IDLE_TIME" default:"10m"`
}

// RedisConfig is optional: with neither URL nor address set the service
// caches balance views in process.
type RedisConfig struct {
	URL          string        `envconfig:"LEDGER_REDIS_URL"`
	Address      string        `envconfig:"LEDGER_REDIS_ADDR"`
	Password     string        `envconfig:"LEDGER_REDIS_PASSWORD"`
	DB           int           `envconfig:"LEDGER_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"LEDGER_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"LEDGER_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"LEDGER_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"LEDGER_REDIS_READ_TIMEOUT" default:"3s"`
	WriteTimeout time.Duration `envconfig:"LEDGER_REDIS_WRITE_TIMEOUT" default:"3s"`
	KeyPrefix    string        `envconfig:"LEDGER_REDIS_KEY_PREFIX" default:"leave"`
}

func (r RedisConfig) Enabled() bool {
	return r.URL != "" || r.Address != ""
}

type JWTConfig struct {
	Secret            string `envconfig:"LEDGER_JWT_SECRET"`
	Issuer            string `envconfig:"LEDGER_JWT_ISSUER" default:"leave-ledger"`
	ExpirationMinutes int    `envconfig:"LEDGER_JWT_EXPIRATION_MINUTES" default:"60"`
}

type LedgerConfig struct {
	CacheTTL        time.Duration `envconfig:"LEDGER_CACHE_TTL" default:"5m"`
	MaxTxAttempts   int           `envconfig:"LEDGER_MAX_TX_ATTEMPTS" default:"8"`
	DefaultCategory string        `envconfig:"LEDGER_DEFAULT_CATEGORY" default:"annual"`
	DefaultDays     int           `envconfig:"LEDGER_DEFAULT_DAYS" default:"24"`
	RecentEntries   int           `envconfig:"LEDGER_RECENT_ENTRIES" default:"20"`
	AutoRepair      bool          `envconfig:"LEDGER_AUTO_REPAIR" default:"false"`
}

type MetricsConfig struct {
	Enabled bool `envconfig:"LEDGER_METRICS_ENABLED" default:"true"`
}
