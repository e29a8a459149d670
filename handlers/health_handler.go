package handlers

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/upb/stock-snap/repositories"
	"github.com/upb/stock-snap/utils"
)

// Check results reported by the readiness endpoint
const (
	checkHealthy       = "healthy"
	checkUnhealthy     = "unhealthy"
	checkNotConfigured = "not_configured"
)

// HealthResponse represents the readiness check response
type HealthResponse struct {
	Status    string            `json:"status"`
	Timestamp string            `json:"timestamp"`
	Checks    map[string]string `json:"checks,omitempty"`
}

// HealthHandler handles health-related HTTP requests
type HealthHandler struct {
	prices    repositories.PriceStore
	exchanges repositories.ExchangeRepository
	logger    *zap.Logger
}

// NewHealthHandler creates a new HealthHandler. exchanges may be nil.
func NewHealthHandler(prices repositories.PriceStore, exchanges repositories.ExchangeRepository, logger *zap.Logger) *HealthHandler {
	return &HealthHandler{
		prices:    prices,
		exchanges: exchanges,
		logger:    logger,
	}
}

// HandleHealth handles GET /health
func (h *HealthHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	_ = utils.WriteOK(w, utils.StatusResponse{Status: "up"})
}

// HandleLiveness handles GET /healthz
func (h *HealthHandler) HandleLiveness(w http.ResponseWriter, r *http.Request) {
	_ = utils.WriteOK(w, utils.StatusResponse{Status: "ok"})
}

// HandleReadiness handles GET /readyz
// Readiness check - the price table must be loaded and a configured exchange store reachable
func (h *HealthHandler) HandleReadiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	checks := make(map[string]string)
	allHealthy := true

	if h.prices != nil && h.prices.Size() > 0 {
		checks["price_table"] = checkHealthy
	} else {
		checks["price_table"] = checkUnhealthy
		allHealthy = false
	}

	switch {
	case h.exchanges == nil:
		checks["exchange_store"] = checkNotConfigured
	default:
		if err := h.exchanges.Ping(ctx); err != nil {
			h.logger.Warn("exchange store health check failed", zap.Error(err))
			checks["exchange_store"] = checkUnhealthy
			allHealthy = false
		} else {
			checks["exchange_store"] = checkHealthy
		}
	}

	status := "ready"
	httpStatus := http.StatusOK
	if !allHealthy {
		status = "not_ready"
		httpStatus = http.StatusServiceUnavailable
	}

	response := HealthResponse{
		Status:    status,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Checks:    checks,
	}

	if err := utils.WriteJSON(w, httpStatus, response); err != nil {
		h.logger.Error("failed to write readiness response", zap.Error(err))
	}
}
