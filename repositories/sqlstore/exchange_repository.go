package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"time"

	"go.uber.org/zap"

	"github.com/upb/stock-snap/config"
	"github.com/upb/stock-snap/models"
	"github.com/upb/stock-snap/repositories"
)

var tableNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_$]*(\.[A-Za-z_][A-Za-z0-9_$]*){0,2}$`)

var _ repositories.ExchangeRepository = (*ExchangeRepository)(nil)

// ExchangeRepository implements repositories.ExchangeRepository
type ExchangeRepository struct {
	db      *DB
	query   string
	timeout time.Duration
	logger  *zap.Logger
}

// NewExchangeRepository creates a repository reading from table. The table name
// is interpolated into the query, so only plain qualified identifiers are accepted.
func NewExchangeRepository(db *DB, table string, timeout time.Duration, logger *zap.Logger) (*ExchangeRepository, error) {
	if !tableNamePattern.MatchString(table) {
		return nil, fmt.Errorf("invalid exchange table name %q", table)
	}

	placeholder := "?"
	if db.Driver() == config.DriverPostgres {
		placeholder = "$1"
	}

	return &ExchangeRepository{
		db:      db,
		query:   fmt.Sprintf("SELECT exchange FROM %s WHERE symbol = %s", table, placeholder),
		timeout: timeout,
		logger:  logger,
	}, nil
}

// LookupExchange returns the exchange row for symbol
func (r *ExchangeRepository) LookupExchange(ctx context.Context, symbol string) (*models.ExchangeRow, error) {
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	row := &models.ExchangeRow{Symbol: symbol}
	err := r.db.QueryRowContext(ctx, r.query, symbol).Scan(&row.Exchange)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repositories.ErrExchangeNotFound
		}
		return nil, fmt.Errorf("failed to execute query: %w", err)
	}

	r.logger.Debug("exchange row fetched",
		zap.String("symbol", symbol),
		zap.String("exchange", row.Exchange))
	return row, nil
}

// Ping checks the store is reachable and answers queries
func (r *ExchangeRepository) Ping(ctx context.Context) error {
	return r.db.HealthCheck(ctx)
}
