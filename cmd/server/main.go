/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the leave ledger server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load .env (optional) and LEDGER_* configuration
  2. Build the structured logger
  3. Open the configured store (memory, sqlite, postgres)
  4. Choose the balance cache (Redis when configured, in-process otherwise)
  5. Wire metrics, ledger service, handlers and router
  6. Start server with graceful shutdown

ENVIRONMENT:
  See config/env.go for the full list. The common ones:
    LEDGER_STORE_DRIVER   memory | sqlite | postgres
    LEDGER_STORE_DSN      file path or postgres DSN
    LEDGER_REDIS_URL      enables the shared balance cache
    LEDGER_JWT_SECRET     HMAC secret for bearer tokens (required)

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests (LEDGER_SHUTDOWN_TIMEOUT)
  3. Close store and Redis connections
  4. Exit

EXAMPLES:
  # In-memory, console logs
  LEDGER_JWT_SECRET=dev LEDGER_LOG_FORMAT=console ./server

  # SQLite file
  LEDGER_STORE_DRIVER=sqlite LEDGER_STORE_DSN=./data/ledger.db ./server

SEE ALSO:
  - api/server.go: Router configuration
  - ledger/service.go: Ledger operations
  - config/config.go: Configuration
*/
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/multierr"

	"github.com/warp/leave-ledger/api"
	"github.com/warp/leave-ledger/cache"
	"github.com/warp/leave-ledger/config"
	"github.com/warp/leave-ledger/ledger"
	"github.com/warp/leave-ledger/ledger/store"
	"github.com/warp/leave-ledger/logger"
	"github.com/warp/leave-ledger/metrics"
	"github.com/warp/leave-ledger/store/postgres"
	"github.com/warp/leave-ledger/store/sqlite"
)

const serviceName = "leave-ledger"

func main() {
	logg := logger.New(logger.Options{ServiceName: serviceName})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: serviceName,
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		Format:      cfg.App.LogFormat,
		WarnStack:   cfg.App.LogWarnStack,
	})

	if err := run(cfg, logg); err != nil {
		logg.Error(context.Background(), "server stopped unexpectedly", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logg *logger.Logger) (err error) {
	ctx := context.Background()

	ledgerStore, closeStore, err := openStore(ctx, cfg.Store, logg)
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, closeStore()) }()

	balances, closeCache, err := openCache(ctx, cfg, logg)
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, closeCache()) }()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	svc := ledger.NewService(ledgerStore,
		ledger.WithCache(balances),
		ledger.WithLogger(logg),
		ledger.WithObserver(metrics.NewLedger(reg)),
		ledger.WithMaxTxAttempts(cfg.Ledger.MaxTxAttempts),
		ledger.WithDefaultCategory(ledger.DefaultCategory{Name: cfg.Ledger.DefaultCategory, Days: cfg.Ledger.DefaultDays}),
		ledger.WithRecentEntries(cfg.Ledger.RecentEntries),
		ledger.WithAutoRepair(cfg.Ledger.AutoRepair),
	)

	var pinger api.Pinger
	if p, ok := ledgerStore.(api.Pinger); ok {
		pinger = p
	}

	opts := api.RouterOptions{
		JWT:         cfg.JWT,
		CORSOrigins: cfg.App.CORSOrigins,
		HTTPMetrics: metrics.NewHTTP(reg),
	}
	if cfg.Metrics.Enabled {
		opts.MetricsHandler = promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
	}

	server := &http.Server{
		Addr:         ":" + cfg.App.Port,
		Handler:      api.NewRouter(api.NewHandler(svc, logg, pinger), opts),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logg.Info(logg.WithFields(ctx, map[string]any{
			"env":    cfg.App.Env,
			"addr":   server.Addr,
			"driver": cfg.Store.Driver,
			"redis":  cfg.Redis.Enabled(),
		}), "starting server")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serveErr:
		return err
	case sig := <-quit:
		logg.Info(logg.WithField(ctx, "signal", sig.String()), "shutting down server")
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, cfg.App.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return err
	}

	logg.Info(ctx, "server stopped")
	return nil
}

func openStore(ctx context.Context, cfg config.StoreConfig, logg *logger.Logger) (ledger.Store, func() error, error) {
	switch cfg.Driver {
	case config.DriverSQLite:
		s, err := sqlite.New(cfg.DSN)
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	case config.DriverPostgres:
		s, err := postgres.New(ctx, cfg, logg)
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	default:
		return store.NewMemory(), func() error { return nil }, nil
	}
}

func openCache(ctx context.Context, cfg *config.Config, logg *logger.Logger) (cache.Cache[ledger.View], func() error, error) {
	if !cfg.Redis.Enabled() {
		return cache.NewMemory[ledger.View](cfg.Ledger.CacheTTL), func() error { return nil }, nil
	}

	client, err := cache.Dial(ctx, cfg.Redis)
	if err != nil {
		return nil, nil, err
	}
	logg.Info(logg.WithField(ctx, "prefix", cfg.Redis.KeyPrefix), "redis balance cache enabled")

	return cache.NewRedis[ledger.View](client, cfg.Ledger.CacheTTL, cache.WithPrefix(cfg.Redis.KeyPrefix)), client.Close, nil
}
