package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/upb/stock-snap/config"
	"github.com/upb/stock-snap/handlers"
	"github.com/upb/stock-snap/internal/observability"
	"github.com/upb/stock-snap/repositories"
	"github.com/upb/stock-snap/repositories/breaker"
	"github.com/upb/stock-snap/repositories/cache"
	"github.com/upb/stock-snap/repositories/memory"
	"github.com/upb/stock-snap/repositories/sqlstore"
	"github.com/upb/stock-snap/services/stock"
)

// Dependencies holds all application dependencies.
// This is the central wiring point for dependency injection.
type Dependencies struct {
	// Infrastructure
	Config    *config.Config
	Logger    *zap.Logger
	Telemetry *observability.Provider
	Metrics   *observability.Registry
	DB        *sqlstore.DB
	Cache     *cache.ExchangeCache

	// Repositories
	Prices    *memory.PriceTable
	Exchanges repositories.ExchangeRepository

	// Services
	StockService *stock.Service

	// Handlers
	Pipeline      *handlers.Pipeline
	StockHandler  *handlers.StockHandler
	HealthHandler *handlers.HealthHandler
}

// NewDependencies creates and wires up all application dependencies.
func NewDependencies(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Dependencies, error) {
	deps := &Dependencies{
		Config: cfg,
		Logger: logger,
	}

	// Load the price table
	if err := deps.initPrices(cfg); err != nil {
		return nil, fmt.Errorf("failed to load price table: %w", err)
	}

	// Initialize OpenTelemetry
	if err := deps.initTelemetry(ctx, cfg); err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}

	// Initialize the exchange store chain
	if err := deps.initExchangeStore(cfg); err != nil {
		_ = deps.Close(ctx)
		return nil, fmt.Errorf("failed to initialize exchange store: %w", err)
	}

	deps.initHandlers(cfg)

	logger.Info("all dependencies initialized successfully",
		zap.Int("stock_count", deps.Prices.Size()),
		zap.Bool("exchange_store", deps.Exchanges != nil),
		zap.Bool("exchange_cache", deps.Cache != nil))
	return deps, nil
}

// initPrices loads the static price table
func (d *Dependencies) initPrices(cfg *config.Config) error {
	prices, err := memory.LoadPriceTable(cfg.Data.StockFile)
	if err != nil {
		return err
	}
	d.Prices = prices

	d.Logger.Info("price table loaded",
		zap.String("file", cfg.Data.StockFile),
		zap.Int("entries", prices.Size()))
	return nil
}

// initTelemetry sets up the trace and metric providers and the instruments
func (d *Dependencies) initTelemetry(ctx context.Context, cfg *config.Config) error {
	provider, err := observability.New(ctx, &observability.Config{
		ServiceName:    cfg.Observability.ServiceName,
		ServiceVersion: cfg.Observability.ServiceVersion,
		Environment:    cfg.Environment,
		OTLPEndpoint:   cfg.Observability.OTLPEndpoint,
		Insecure:       cfg.Observability.OTLPInsecure,
		MetricInterval: config.MetricExportInterval,
		Enabled:        cfg.Observability.TelemetryEnabled,
	}, d.Logger)
	if err != nil {
		return err
	}
	d.Telemetry = provider

	metrics, err := observability.NewRegistry(provider.Meter(), d.Prices.Size)
	if err != nil {
		_ = provider.Shutdown(ctx)
		return fmt.Errorf("failed to create instruments: %w", err)
	}
	d.Metrics = metrics
	return nil
}

// initExchangeStore builds cache -> breaker -> sql store. With no driver
// configured Exchanges stays nil and /stock-exchange reports the store as
// unavailable.
func (d *Dependencies) initExchangeStore(cfg *config.Config) error {
	store := cfg.ExchangeStore
	if !store.Enabled() {
		d.Logger.Warn("exchange store not configured, /stock-exchange will report unavailable")
		return nil
	}

	db, err := sqlstore.NewDB(store, d.Logger)
	if err != nil {
		return err
	}
	d.DB = db

	repo, err := sqlstore.NewExchangeRepository(db, store.TableName(), store.QueryTimeout, d.Logger)
	if err != nil {
		return err
	}

	var exchanges repositories.ExchangeRepository = breaker.New(repo, store.BreakerThreshold, store.BreakerTimeout, d.Logger)

	if cfg.Cache.Addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Cache.Addr,
			Password: cfg.Cache.Password,
			DB:       cfg.Cache.DB,
		})
		d.Cache = cache.NewExchangeCache(exchanges, client, cfg.Cache.TTL, d.Logger)
		exchanges = d.Cache
		d.Logger.Info("exchange cache enabled",
			zap.String("addr", cfg.Cache.Addr),
			zap.Duration("ttl", cfg.Cache.TTL))
	}

	d.Exchanges = exchanges
	return nil
}

// initHandlers wires the service and HTTP handlers
func (d *Dependencies) initHandlers(cfg *config.Config) {
	d.StockService = stock.NewService(d.Prices, d.Exchanges, cfg.Data.TopGainersLimit, d.Logger)

	var delay handlers.Delay = handlers.NoDelay
	if cfg.Data.Delay.Enabled {
		delay = handlers.RandomDelay(cfg.Data.Delay.Min, cfg.Data.Delay.Max)
	}

	d.Pipeline = handlers.NewPipeline(
		d.Telemetry.Tracer(),
		d.Metrics,
		d.Logger,
		handlers.WithDelay(delay),
		handlers.WithRequestTimeout(cfg.Server.RequestTimeout),
		handlers.WithUnavailableBody(cfg.ExchangeStore.UnavailableBody),
	)
	d.StockHandler = handlers.NewStockHandler(d.StockService, d.Pipeline)
	d.HealthHandler = handlers.NewHealthHandler(d.Prices, d.Exchanges, d.Logger)
}

// Close gracefully shuts down all dependencies
func (d *Dependencies) Close(ctx context.Context) error {
	d.Logger.Info("shutting down dependencies")

	var errs []error

	if d.Cache != nil {
		if err := d.Cache.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close exchange cache: %w", err))
		}
	}

	if d.DB != nil {
		if err := d.DB.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close exchange store: %w", err))
		}
	}

	// Flush pending spans and metrics
	if d.Telemetry != nil {
		if err := d.Telemetry.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("failed to shut down telemetry: %w", err))
		}
	}

	_ = d.Logger.Sync()

	return errors.Join(errs...)
}
