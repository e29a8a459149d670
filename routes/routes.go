package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/upb/stock-snap/app"
	"github.com/upb/stock-snap/handlers"
	"github.com/upb/stock-snap/middleware"
	"github.com/upb/stock-snap/utils"
)

// SetupRoutes configures all application routes and middleware
func SetupRoutes(deps *app.Dependencies) http.Handler {
	r := chi.NewRouter()

	// Core middleware
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.AccessLog(deps.Logger))
	r.Use(chimiddleware.Recoverer)

	// CORS middleware
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "traceparent", "tracestate", "baggage"},
		ExposedHeaders: []string{middleware.RequestIDHeader},
		MaxAge:         300,
	}))

	// Health check endpoints
	r.Get("/health", deps.HealthHandler.HandleHealth)
	r.Get("/healthz", deps.HealthHandler.HandleLiveness)
	r.Get("/readyz", deps.HealthHandler.HandleReadiness)

	// Stock endpoints
	stockPrice := deps.StockHandler.HandleStockPrice()
	r.Get(handlers.StockEndpoint, stockPrice)
	r.Get("/stock-price", stockPrice)
	r.Get(handlers.TopGainersEndpoint, deps.StockHandler.HandleTopGainers())
	r.Get(handlers.StockExchangeEndpoint, deps.StockHandler.HandleStockExchange())

	// 404 handler
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		_ = utils.WriteError(w, http.StatusNotFound, "Not found")
	})

	return r
}
