package repositories

import (
	"context"
	"errors"

	"github.com/upb/stock-snap/models"
)

var (
	// ErrExchangeNotFound is returned when the exchange table has no row for a symbol
	ErrExchangeNotFound = errors.New("symbol not found in exchange table")

	// ErrStoreUnavailable is returned when the exchange store cannot be reached
	ErrStoreUnavailable = errors.New("exchange store unavailable")
)

// PriceStore is the read-only price table loaded at startup
type PriceStore interface {
	// Get returns the price for a symbol. Symbols are case-sensitive.
	Get(symbol string) (float64, bool)

	// Size returns the number of entries
	Size() int

	// All returns every quote in load order
	All() []models.Quote
}

// ExchangeRepository looks up the exchange a symbol is listed on
type ExchangeRepository interface {
	// LookupExchange returns ErrExchangeNotFound when the symbol has no row.
	// Any other error means the store could not answer.
	LookupExchange(ctx context.Context, symbol string) (*models.ExchangeRow, error)

	// Ping checks that the store is reachable
	Ping(ctx context.Context) error
}
