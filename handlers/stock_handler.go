package handlers

import (
	"context"
	"fmt"
	"net/http"

	"go.opentelemetry.io/otel/attribute"

	"github.com/upb/stock-snap/models"
	"github.com/upb/stock-snap/services/stock"
)

// Endpoint identifiers used as metric tags
const (
	StockEndpoint         = "/stock"
	TopGainersEndpoint    = "/top-gainers"
	StockExchangeEndpoint = "/stock-exchange"
)

// symbolKey annotates root spans with the requested symbol
const symbolKey = attribute.Key("stock.symbol")

// StockHandler serves the stock endpoints
type StockHandler struct {
	service  *stock.Service
	pipeline *Pipeline
}

// NewStockHandler creates a new StockHandler
func NewStockHandler(service *stock.Service, pipeline *Pipeline) *StockHandler {
	return &StockHandler{
		service:  service,
		pipeline: pipeline,
	}
}

// HandleStockPrice handles GET /stock?symbol=S
func (h *StockHandler) HandleStockPrice() http.HandlerFunc {
	return h.pipeline.Handle(Operation{
		Name:     "get_stock_price",
		Endpoint: StockEndpoint,
		Run:      h.stockPrice,
	})
}

// HandleTopGainers handles GET /top-gainers
func (h *StockHandler) HandleTopGainers() http.HandlerFunc {
	return h.pipeline.Handle(Operation{
		Name:     "get_top_gainers",
		Endpoint: TopGainersEndpoint,
		Run:      h.topGainers,
	})
}

// HandleStockExchange handles GET /stock-exchange?symbol=S
func (h *StockHandler) HandleStockExchange() http.HandlerFunc {
	return h.pipeline.Handle(Operation{
		Name:     "get_stock_exchange",
		Endpoint: StockExchangeEndpoint,
		Run:      h.stockExchange,
	})
}

func (h *StockHandler) stockPrice(ctx context.Context, scope *Scope, r *http.Request) (*Result, error) {
	symbol := r.URL.Query().Get("symbol")
	scope.SetAttributes(symbolKey.String(symbol))

	if err := scope.Phase(ctx, "validate_input", func(context.Context) error {
		return h.service.ValidateSymbol(symbol)
	}); err != nil {
		return nil, err
	}

	var quote models.Quote
	if err := scope.Phase(ctx, "fetch_price", func(context.Context) error {
		var err error
		quote, err = h.service.Price(symbol)
		return err
	}); err != nil {
		return nil, err
	}

	return &Result{
		Body:   quote,
		Detail: fmt.Sprintf("%s: %f", quote.Symbol, quote.Price),
	}, nil
}

func (h *StockHandler) topGainers(ctx context.Context, scope *Scope, r *http.Request) (*Result, error) {
	var quotes []models.Quote
	if err := scope.Phase(ctx, "fetch_prices", func(context.Context) error {
		quotes = h.service.Quotes()
		return nil
	}); err != nil {
		return nil, err
	}

	var top []models.Quote
	if err := scope.Phase(ctx, "sort_and_filter", func(context.Context) error {
		top = h.service.TopGainers(quotes)
		return nil
	}); err != nil {
		return nil, err
	}

	return &Result{
		Body:   models.TopGainersResponse{TopGainers: top},
		Detail: fmt.Sprintf("%v", top),
	}, nil
}

func (h *StockHandler) stockExchange(ctx context.Context, scope *Scope, r *http.Request) (*Result, error) {
	symbol := r.URL.Query().Get("symbol")
	scope.SetAttributes(symbolKey.String(symbol))

	if err := scope.Phase(ctx, "validate_input", func(context.Context) error {
		return h.service.ValidateSymbol(symbol)
	}); err != nil {
		return nil, err
	}

	var row *models.ExchangeRow
	if err := scope.Phase(ctx, "fetch_exchange", func(ctx context.Context) error {
		var err error
		row, err = h.service.Exchange(ctx, symbol)
		return err
	}); err != nil {
		return nil, err
	}

	return &Result{
		Body:   row,
		Detail: fmt.Sprintf("%s: %s", row.Symbol, row.Exchange),
	}, nil
}
