// Package breaker guards the exchange store with a circuit breaker so that a
// failing store is not hammered by every request.
package breaker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/upb/stock-snap/models"
	"github.com/upb/stock-snap/repositories"
)

var _ repositories.ExchangeRepository = (*ExchangeRepository)(nil)

// ExchangeRepository wraps another repository with a gobreaker circuit breaker.
// A missing row is a successful answer and never trips the breaker. Neither
// does a lookup that failed because the caller's context was done.
type ExchangeRepository struct {
	next   repositories.ExchangeRepository
	cb     *gobreaker.CircuitBreaker
	logger *zap.Logger
}

// New creates a breaker that opens once threshold consecutive lookups fail and
// probes again after timeout.
func New(next repositories.ExchangeRepository, threshold int, timeout time.Duration, logger *zap.Logger) *ExchangeRepository {
	limit := safeIntToUint32(threshold)
	if limit == 0 {
		limit = 1
	}

	r := &ExchangeRepository{next: next, logger: logger}
	r.cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "exchange-store",
		MaxRequests: 1,
		Timeout:     timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= limit
		},
		IsSuccessful: func(err error) bool {
			var gone *callerGoneError
			return err == nil || errors.Is(err, repositories.ErrExchangeNotFound) || errors.As(err, &gone)
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn("circuit breaker state change",
				zap.String("name", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})
	return r
}

// LookupExchange runs the lookup through the breaker. While the breaker is
// open the call fails fast with repositories.ErrStoreUnavailable.
func (r *ExchangeRepository) LookupExchange(ctx context.Context, symbol string) (*models.ExchangeRow, error) {
	result, err := r.cb.Execute(func() (interface{}, error) {
		row, err := r.next.LookupExchange(ctx, symbol)
		if err != nil && ctx.Err() != nil {
			return nil, &callerGoneError{err: err}
		}
		return row, err
	})
	if err != nil {
		var gone *callerGoneError
		if errors.As(err, &gone) {
			return nil, gone.err
		}
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("%w: %v", repositories.ErrStoreUnavailable, err)
		}
		return nil, err
	}
	return result.(*models.ExchangeRow), nil
}

// callerGoneError marks a store error seen after the caller's context ended.
// It says nothing about the store's health.
type callerGoneError struct {
	err error
}

func (e *callerGoneError) Error() string { return e.err.Error() }

func (e *callerGoneError) Unwrap() error { return e.err }

// Ping bypasses the breaker so readiness reflects the store itself
func (r *ExchangeRepository) Ping(ctx context.Context) error {
	return r.next.Ping(ctx)
}

// State returns the current breaker state
func (r *ExchangeRepository) State() gobreaker.State {
	return r.cb.State()
}

// safeIntToUint32 safely converts int to uint32.
func safeIntToUint32(n int) uint32 {
	if n < 0 {
		return 0
	}
	if n > int(^uint32(0)) {
		return ^uint32(0)
	}
	return uint32(n) //nolint:gosec // bounds checked above
}
