/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the sale ledger server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load .env (if present) and LEDGER_* environment variables
  2. Parse command-line flags (override the environment)
  3. Open the configured store (memory, sqlite or redis)
  4. Open the ledger (initializes sale_count and tax_rate on first run)
  5. Configure HTTP router and metrics registry
  6. Serve until SIGINT/SIGTERM, then shut down gracefully

COMMAND-LINE FLAGS:
  -port    HTTP server port (LEDGER_PORT, default 8080)
  -db      SQLite database path (LEDGER_SQLITE_PATH, default ledger.db)
           Use ":memory:" for in-memory database
  -store   Store driver: memory, sqlite, redis (LEDGER_STORE_DRIVER)

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests (LEDGER_HTTP_SHUTDOWN_TIMEOUT)
  3. Close the store
  4. Exit

EXAMPLES:
  ./server -db="./data/ledger.db"
  ./server -store=memory -port=3000
  LEDGER_STORE_DRIVER=redis LEDGER_REDIS_URL=redis://localhost:6379/0 ./server

SEE ALSO:
  - config/config.go: Environment keys
  - api/server.go: Router configuration
  - sales/ledger.go: The ledger
*/
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/warp/sale-ledger/api"
	"github.com/warp/sale-ledger/config"
	"github.com/warp/sale-ledger/logger"
	"github.com/warp/sale-ledger/metrics"
	"github.com/warp/sale-ledger/sales"
	"github.com/warp/sale-ledger/sales/store"
	"github.com/warp/sale-ledger/store/redis"
	"github.com/warp/sale-ledger/store/sqlite"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"
	"lukechampine.com/uint128"
)

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "failed to load .env: %v\n", err)
		os.Exit(1)
	}

	cfg, err := config.Parse()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Flags
	flag.IntVar(&cfg.App.Port, "port", cfg.App.Port, "HTTP server port")
	flag.StringVar(&cfg.Store.SQLitePath, "db", cfg.Store.SQLitePath, "SQLite database path")
	flag.StringVar(&cfg.Store.Driver, "store", cfg.Store.Driver, "store driver: memory, sqlite, redis")
	flag.Parse()
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(logger.Options{
		Service: "sale-ledger",
		Level:   cfg.App.LogLevel,
		Format:  cfg.App.LogFormat,
		Stacks:  cfg.App.LogStacks,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error(context.Background(), "server stopped with error", err)
		os.Exit(1)
	}
	log.Info(context.Background(), "server stopped")
}

func run(ctx context.Context, cfg *config.Config, log *logger.Logger) (err error) {
	txStore, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("opening %s store: %w", cfg.Store.Driver, err)
	}
	defer func() {
		err = multierr.Append(err, closeStore())
	}()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	ledger, err := sales.NewLedger(ctx, txStore,
		sales.WithLogger(log),
		sales.WithMetrics(metrics.NewLedgerMetrics(reg)),
		sales.WithAuthorizer(sales.AuthorizerFor(cfg.Ledger.RateAdmins)),
		sales.WithMaxItems(cfg.Ledger.MaxItemsPerSale),
		sales.WithInitialTaxRate(uint128.From64(cfg.Ledger.DefaultTaxRate)),
	)
	if err != nil {
		return err
	}

	router := api.NewRouter(api.NewHandler(ledger, log), api.RouterOptions{
		CORSOrigins: cfg.HTTP.CORSOrigins,
		Gatherer:    reg,
	})

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.App.Port),
		Handler:      router,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		startCtx := log.With(gctx, map[string]any{
			"addr":  server.Addr,
			"store": cfg.Store.Driver,
		})
		log.Info(startCtx, "server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info(context.Background(), "shutting down server")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server forced to shutdown: %w", err)
		}
		return nil
	})
	return g.Wait()
}

func openStore(ctx context.Context, cfg *config.Config) (sales.TxStore, func() error, error) {
	switch cfg.Store.Driver {
	case config.DriverMemory:
		return store.NewTxMemory(), func() error { return nil }, nil
	case config.DriverSQLite:
		s, err := sqlite.New(cfg.Store.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	case config.DriverRedis:
		s, err := redis.New(ctx, cfg.Redis)
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
}
