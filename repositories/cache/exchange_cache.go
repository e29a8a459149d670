// Package cache provides a Redis read-through cache for exchange lookups.
package cache

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/upb/stock-snap/models"
	"github.com/upb/stock-snap/repositories"
)

const keyPrefix = "stock-exchange:"

var _ repositories.ExchangeRepository = (*ExchangeCache)(nil)

// ExchangeCache serves exchange rows from Redis and falls through to next on
// a miss. Only found rows are cached. Redis failures are logged and bypassed
// so the cache never turns a healthy store into an unavailable one.
type ExchangeCache struct {
	next   repositories.ExchangeRepository
	client redis.UniversalClient
	ttl    time.Duration
	logger *zap.Logger
}

// NewExchangeCache wraps next with a cache entry lifetime of ttl
func NewExchangeCache(next repositories.ExchangeRepository, client redis.UniversalClient, ttl time.Duration, logger *zap.Logger) *ExchangeCache {
	return &ExchangeCache{
		next:   next,
		client: client,
		ttl:    ttl,
		logger: logger,
	}
}

// LookupExchange returns the cached row or queries the underlying store
func (c *ExchangeCache) LookupExchange(ctx context.Context, symbol string) (*models.ExchangeRow, error) {
	key := keyPrefix + symbol

	exchange, err := c.client.Get(ctx, key).Result()
	switch {
	case err == nil:
		return &models.ExchangeRow{Symbol: symbol, Exchange: exchange}, nil
	case !errors.Is(err, redis.Nil):
		c.logger.Warn("exchange cache read failed", zap.String("symbol", symbol), zap.Error(err))
	}

	row, err := c.next.LookupExchange(ctx, symbol)
	if err != nil {
		return nil, err
	}

	if err := c.client.Set(ctx, key, row.Exchange, c.ttl).Err(); err != nil {
		c.logger.Warn("exchange cache write failed", zap.String("symbol", symbol), zap.Error(err))
	}
	return row, nil
}

// Ping checks the underlying store. Cache health does not affect readiness.
func (c *ExchangeCache) Ping(ctx context.Context) error {
	return c.next.Ping(ctx)
}

// Close closes the Redis client
func (c *ExchangeCache) Close() error {
	return c.client.Close()
}
