/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the leave engine server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load configuration (flags, environment, .env, defaults)
  2. Build the zap logger
  3. Open the configured store (sqlite, postgres or memory)
  4. Create the leave service and API handler
  5. Configure HTTP router
  6. Start server with graceful shutdown

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (SHUTDOWN_TIMEOUT)
  3. Drain pending audit and notification deliveries
  4. Close the store
  5. Exit

EXAMPLES:
  # Run with file database
  ./server --sqlite-path=./data/leave.db

  # Run with in-memory database
  ./server --sqlite-path=":memory:"

  # Run against PostgreSQL
  STORE=postgres PGSQL_URL=postgres://localhost/leave ./server

SEE ALSO:
  - config/config.go: Configuration keys
  - api/server.go: Router configuration
  - store/sqlite/sqlite.go: Default store
*/
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/warp/leave-engine/api"
	"github.com/warp/leave-engine/config"
	"github.com/warp/leave-engine/generic"
	"github.com/warp/leave-engine/leave"
	"github.com/warp/leave-engine/store/memory"
	"github.com/warp/leave-engine/store/postgres"
	"github.com/warp/leave-engine/store/sqlite"
)

func main() {
	cfg, err := config.Load(os.Args[1:], ".env")
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration: %v\n", err)
		os.Exit(2)
	}

	logger, err := cfg.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(2)
	}
	defer func() { _ = logger.Sync() }()
	for _, w := range cfg.Warnings {
		logger.Warn("configuration fallback", zap.String("detail", w))
	}

	if err := run(cfg, logger); err != nil {
		logger.Error("server stopped with error", zap.Error(err))
		_ = logger.Sync()
		os.Exit(1)
	}
	logger.Info("server stopped")
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx := context.Background()

	backend, pinger, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize store: %w", err)
	}
	defer closeStore()
	logger.Info("store ready", zap.String("store", cfg.Store))

	service := leave.NewService(backend, leave.WithLogger(logger.Named("leave")))

	handlerOpts := []api.HandlerOption{
		api.WithHandlerLogger(logger.Named("api")),
		api.WithRetryPolicy(generic.RetryPolicy{
			Attempts: cfg.RetryAttempts,
			Backoff:  generic.DefaultRetryPolicy.Backoff,
		}),
	}
	if pinger != nil {
		handlerOpts = append(handlerOpts, api.WithPinger(pinger))
	}
	handler := api.NewHandler(service, handlerOpts...)

	router := api.NewRouter(handler, api.RouterConfig{
		AllowedOrigins: cfg.CORSOrigins,
		Logger:         logger.Named("http"),
	})

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("server starting", zap.Int("port", cfg.Port))
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
		logger.Info("shutting down server", zap.String("signal", sig.String()))
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, cfg.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	// Deliveries still in flight write to the store; finish them before closing it.
	service.Events().Wait()
	return nil
}

// openStore returns the backend, an optional health pinger and a close func.
func openStore(ctx context.Context, cfg *config.Config) (leave.Backend, api.Pinger, func(), error) {
	switch cfg.Store {
	case config.StoreMemory:
		return memory.New(), nil, func() {}, nil
	case config.StorePostgres:
		s, err := postgres.New(ctx, cfg.PostgresURL)
		if err != nil {
			return nil, nil, nil, err
		}
		return s, s, s.Close, nil
	default:
		s, err := sqlite.New(cfg.SQLitePath)
		if err != nil {
			return nil, nil, nil, err
		}
		return s, s, func() { _ = s.Close() }, nil
	}
}
