/*
main.go - Application entry point

PURPOSE:
  Starts the earnings engine HTTP server. Handles configuration,
  dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load EARNINGS_* environment, apply flag overrides
  2. Open the configured store (sqlite or postgres)
  3. Apply the seed file, if any
  4. Build the engine and audit sinks
  5. Configure HTTP router
  6. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  -port    HTTP server port (default: EARNINGS_HTTP_PORT or 8080)
  -driver  sqlite | postgres (default: EARNINGS_DRIVER)
  -db      SQLite database path, ":memory:" for in-memory
  -seed    JSON seed file (venues, concierges, partners, bookings, rates)

ENVIRONMENT:
  See config/config.go. EARNINGS_AMQP_URL enables the RabbitMQ audit sink,
  EARNINGS_RETRY_ENABLED the failed-booking retry scheduler.

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Stop the retry scheduler, close audit publisher and database connection

EXAMPLES:
  ./server -db=":memory:" -seed=./seed.json
  EARNINGS_DRIVER=postgres EARNINGS_POSTGRES_DSN=postgres://... ./server

SEE ALSO:
  - api/server.go: Router configuration
  - cmd/recalc: Batch recalculation CLI
*/
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/warp/earnings-engine/api"
	"github.com/warp/earnings-engine/audit"
	"github.com/warp/earnings-engine/config"
	"github.com/warp/earnings-engine/earnings"
	"github.com/warp/earnings-engine/factory"
	"github.com/warp/earnings-engine/store"
)

func main() {
	if err := run(); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// Flags
	port := flag.Int("port", cfg.HTTPPort, "HTTP server port")
	driver := flag.String("driver", cfg.Driver, "Store driver: sqlite or postgres")
	dbPath := flag.String("db", cfg.SQLitePath, "SQLite database path")
	seedPath := flag.String("seed", "", "JSON seed file")
	flag.Parse()
	cfg.HTTPPort, cfg.Driver, cfg.SQLitePath = *port, *driver, *dbPath
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger := cfg.Logger()
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize store
	st, closeStore, err := store.Open(ctx, cfg)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer closeStore()

	rates, err := cfg.RateConfig()
	if err != nil {
		return err
	}
	var tax *earnings.TaxCalculator
	if *seedPath != "" {
		seed, err := factory.NewSeedFactory().WithRates(rates).LoadFile(*seedPath)
		if err != nil {
			return err
		}
		if err := seed.Apply(ctx, st); err != nil {
			return err
		}
		rates, tax = seed.Rates, seed.TaxCalculator()
		logger.Info("seed applied",
			"path", *seedPath,
			"venues", len(seed.Venues),
			"concierges", len(seed.Concierges),
			"partners", len(seed.Partners),
			"bookings", len(seed.Bookings),
		)
	}

	engine := earnings.NewEngine(st, rates, tax).WithLogger(logger)
	sinks := audit.Multi{audit.LogSink{Logger: logger}}
	if cfg.AMQPURL != "" {
		pub, err := audit.NewPublisher(cfg.AMQPURL, cfg.AuditExchange)
		if err != nil {
			return fmt.Errorf("audit publisher: %w", err)
		}
		defer pub.Close()
		sinks = append(sinks, pub)
		logger.Info("audit publisher connected", "exchange", cfg.AuditExchange)
	}
	engine.Writer.Sink = sinks

	handler := api.NewHandler(st, engine)
	handler.Workers = cfg.Workers

	retries := api.NewRetryScheduler(handler)
	retries.Enabled = cfg.RetryEnabled
	retries.CheckInterval = cfg.RetryInterval
	retries.Start()
	defer retries.Stop()

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:      api.NewRouter(handler),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", "addr", server.Addr, "driver", cfg.Driver)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	logger.Info("server stopped")
	return nil
}
