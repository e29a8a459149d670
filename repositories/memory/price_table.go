// Package memory holds the static price table loaded once at startup.
package memory

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/upb/stock-snap/models"
	"github.com/upb/stock-snap/repositories"
)

var _ repositories.PriceStore = (*PriceTable)(nil)

// PriceTable is an immutable symbol to price mapping. It is safe for
// concurrent reads without locking because nothing mutates it after load.
type PriceTable struct {
	prices map[string]float64
	order  []string
}

// NewPriceTable builds a table from quotes, keeping the given order.
// A repeated symbol keeps its first position and its last price.
func NewPriceTable(quotes []models.Quote) *PriceTable {
	t := &PriceTable{
		prices: make(map[string]float64, len(quotes)),
		order:  make([]string, 0, len(quotes)),
	}
	for _, q := range quotes {
		if _, seen := t.prices[q.Symbol]; !seen {
			t.order = append(t.order, q.Symbol)
		}
		t.prices[q.Symbol] = q.Price
	}
	return t
}

// LoadPriceTable reads a JSON object of symbol to price from path
func LoadPriceTable(path string) (*PriceTable, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load stock prices: %w", err)
	}
	return ParsePriceTable(content)
}

// ParsePriceTable decodes a JSON object of symbol to price. Object key order
// is preserved, which encoding/json maps do not do.
func ParsePriceTable(data []byte) (*PriceTable, error) {
	dec := json.NewDecoder(bytes.NewReader(data))

	tok, err := dec.Token()
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal stock prices: %w", err)
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return nil, fmt.Errorf("failed to unmarshal stock prices: expected object, got %v", tok)
	}

	var quotes []models.Quote
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return nil, fmt.Errorf("failed to unmarshal stock prices: %w", err)
		}
		symbol, _ := keyTok.(string)

		var price float64
		if err := dec.Decode(&price); err != nil {
			return nil, fmt.Errorf("failed to unmarshal price for %q: %w", symbol, err)
		}
		quotes = append(quotes, models.Quote{Symbol: symbol, Price: price})
	}

	if _, err := dec.Token(); err != nil {
		return nil, fmt.Errorf("failed to unmarshal stock prices: %w", err)
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, fmt.Errorf("failed to unmarshal stock prices: trailing data")
	}

	return NewPriceTable(quotes), nil
}

// Get returns the price for symbol
func (t *PriceTable) Get(symbol string) (float64, bool) {
	price, ok := t.prices[symbol]
	return price, ok
}

// Size returns the number of symbols in the table
func (t *PriceTable) Size() int {
	return len(t.order)
}

// All returns a copy of every quote in load order
func (t *PriceTable) All() []models.Quote {
	quotes := make([]models.Quote, len(t.order))
	for i, symbol := range t.order {
		quotes[i] = models.Quote{Symbol: symbol, Price: t.prices[symbol]}
	}
	return quotes
}
