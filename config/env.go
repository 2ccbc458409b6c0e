package config

const (
	EnvPrefix = "LEDGER"

	EnvAppEnv          = "LEDGER_APP_ENV"
	EnvPort            = "LEDGER_APP_PORT"
	EnvLogLevel        = "LEDGER_LOG_LEVEL"
	EnvLogFormat       = "LEDGER_LOG_FORMAT"
	EnvCORSOrigins     = "LEDGER_CORS_ORIGINS"
	EnvShutdownTimeout = "LEDGER_SHUTDOWN_TIMEOUT"

	EnvStoreDriver      = "LEDGER_STORE_DRIVER"
	EnvStoreDSN         = "LEDGER_STORE_DSN"
	EnvStoreAutoMigrate = "LEDGER_STORE_AUTO_MIGRATE"

	EnvRedisURL    = "LEDGER_REDIS_URL"
	EnvRedisAddr   = "LEDGER_REDIS_ADDR"
	EnvRedisPrefix = "LEDGER_REDIS_KEY_PREFIX"

	EnvJWTSecret  = "LEDGER_JWT_SECRET"
	EnvJWTIssuer  = "LEDGER_JWT_ISSUER"
	EnvJWTExpMins = "LEDGER_JWT_EXPIRATION_MINUTES"

	EnvCacheTTL        = "LEDGER_CACHE_TTL"
	EnvMaxTxAttempts   = "LEDGER_MAX_TX_ATTEMPTS"
	EnvDefaultCategory = "LEDGER_DEFAULT_CATEGORY"
	EnvDefaultDays     = "LEDGER_DEFAULT_DAYS"
	EnvRecentEntries   = "LEDGER_RECENT_ENTRIES"
	EnvAutoRepair      = "LEDGER_AUTO_REPAIR"

	EnvMetricsEnabled = "LEDGER_METRICS_ENABLED"
)

const (
	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)
