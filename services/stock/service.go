package stock

import (
	"context"
	"errors"
	"sort"

	"go.uber.org/zap"

	"github.com/upb/stock-snap/models"
	"github.com/upb/stock-snap/repositories"
	"github.com/upb/stock-snap/services"
	"github.com/upb/stock-snap/utils"
)

// DefaultTopGainersLimit is the number of entries returned by TopGainers
const DefaultTopGainersLimit = 5

// symbolQuery is the validated shape of the symbol query parameter
type symbolQuery struct {
	Symbol string `validate:"required"`
}

// Service answers price, top movers and exchange queries
type Service struct {
	prices    repositories.PriceStore
	exchanges repositories.ExchangeRepository
	limit     int
	logger    *zap.Logger
}

// NewService creates a new Service instance. exchanges may be nil when no
// exchange store is configured; Exchange then reports the store unavailable.
func NewService(prices repositories.PriceStore, exchanges repositories.ExchangeRepository, limit int, logger *zap.Logger) *Service {
	if limit <= 0 {
		limit = DefaultTopGainersLimit
	}
	return &Service{
		prices:    prices,
		exchanges: exchanges,
		limit:     limit,
		logger:    logger,
	}
}

// ValidateSymbol checks that symbol is present and is a key of the price table.
// Any stored key is valid, whatever characters it contains.
func (s *Service) ValidateSymbol(symbol string) error {
	if err := utils.ValidateStruct(&symbolQuery{Symbol: symbol}); err != nil {
		return services.NewDomainError(services.ErrorTypeValidation, "invalid symbol", err).
			WithDetail("symbol", symbol).
			WithDetail("fields", utils.GetValidationFields(err))
	}
	if _, ok := s.prices.Get(symbol); !ok {
		return services.NewDomainError(services.ErrorTypeValidation, "invalid symbol", nil).
			WithDetail("symbol", symbol)
	}
	return nil
}

// Price returns the stored quote for symbol
func (s *Service) Price(symbol string) (models.Quote, error) {
	price, ok := s.prices.Get(symbol)
	if !ok {
		return models.Quote{}, services.ErrInvalidSymbol
	}
	return models.Quote{Symbol: symbol, Price: price}, nil
}

// Quotes returns every quote in load order
func (s *Service) Quotes() []models.Quote {
	return s.prices.All()
}

// TopGainers returns the configured number of highest priced quotes
func (s *Service) TopGainers(quotes []models.Quote) []models.Quote {
	return TopGainers(quotes, s.limit)
}

// Exchange looks up the exchange symbol is listed on
func (s *Service) Exchange(ctx context.Context, symbol string) (*models.ExchangeRow, error) {
	if s.exchanges == nil {
		return nil, services.WrapExternal("stock exchange service unavailable",
			errors.New("exchange store not configured"))
	}

	row, err := s.exchanges.LookupExchange(ctx, symbol)
	if err == nil && row == nil {
		err = repositories.ErrExchangeNotFound
	}
	switch {
	case err == nil:
		return row, nil
	case errors.Is(err, repositories.ErrExchangeNotFound):
		return nil, services.NewDomainError(services.ErrorTypeNotFound, "symbol not found in exchange table", err).
			WithDetail("symbol", symbol)
	case ctx.Err() != nil:
		return nil, services.NewDomainError(services.ErrorTypeTimeout, "request timed out", err)
	default:
		return nil, services.WrapExternal("stock exchange service unavailable", err)
	}
}

// TopGainers returns up to n quotes ordered by price descending. Equal prices
// keep their input order. The input slice is not modified.
func TopGainers(quotes []models.Quote, n int) []models.Quote {
	sorted := make([]models.Quote, len(quotes))
	copy(sorted, quotes)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Price > sorted[j].Price
	})

	if n >= 0 && len(sorted) > n {
		sorted = sorted[:n]
	}
	return sorted
}
