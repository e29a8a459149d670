package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/upb/stock-snap/app"
	"github.com/upb/stock-snap/config"
	"github.com/upb/stock-snap/internal/observability"
	"github.com/upb/stock-snap/routes"
)

func main() {
	// Used until the configured logger exists
	bootstrap, err := zap.NewProduction()
	if err != nil {
		bootstrap = zap.NewNop()
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, bootstrap); err != nil {
		bootstrap.Error("server exited with error", zap.Error(err))
		_ = bootstrap.Sync()
		os.Exit(1)
	}
}

// initLogger builds the process logger from the loaded configuration
func initLogger(cfg config.ObservabilityConfig) (*zap.Logger, error) {
	return observability.NewLogger(cfg.LogLevel, cfg.LogFormat)
}

// run serves until ctx is cancelled, then drains in-flight requests and
// flushes telemetry. bootstrap logs only until configuration is loaded.
func run(ctx context.Context, bootstrap *zap.Logger) error {
	cfg, err := config.New(ctx)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logger, err := initLogger(cfg.Observability)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()
	bootstrap.Debug("configured logger ready",
		zap.String("level", cfg.Observability.LogLevel),
		zap.String("format", cfg.Observability.LogFormat))

	deps, err := app.NewDependencies(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize dependencies: %w", err)
	}

	srv := newServer(cfg, routes.SetupRoutes(deps))

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("server started",
			zap.String("address", srv.Addr),
			zap.String("environment", cfg.Environment))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			_ = deps.Close(context.Background())
			return fmt.Errorf("server error: %w", err)
		}
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	var errs []error
	if err := srv.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("server shutdown: %w", err))
	}
	if err := deps.Close(shutdownCtx); err != nil {
		errs = append(errs, err)
	}

	logger.Info("shutdown complete")
	return errors.Join(errs...)
}

func newServer(cfg *config.Config, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              cfg.Server.Address(),
		Handler:           handler,
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
	}
}
