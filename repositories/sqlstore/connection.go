// Package sqlstore reads the external stock exchange table over database/sql.
// Snowflake is the production store; PostgreSQL is supported for local runs.
package sqlstore

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"os"
	"strings"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/snowflakedb/gosnowflake"
	"go.uber.org/zap"

	"github.com/upb/stock-snap/config"
)

// DB wraps the sql.DB connection pool
type DB struct {
	*sql.DB
	driver string
	logger *zap.Logger
}

// NewDB opens a connection pool for the configured driver. The store is not
// pinged here: it may be unavailable at startup and lookups fail soft.
func NewDB(cfg config.ExchangeStoreConfig, logger *zap.Logger) (*DB, error) {
	var (
		db  *sql.DB
		err error
	)

	switch cfg.Driver {
	case config.DriverSnowflake:
		db = openSnowflake(cfg.Snowflake)
	case config.DriverPostgres:
		db, err = sql.Open("postgres", cfg.Database.DSN())
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported exchange store driver %q", cfg.Driver)
	}

	// Configure connection pool
	if cfg.Database.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	}
	if cfg.Database.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	}
	if cfg.Database.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.Database.ConnMaxLifetime)
	}

	logger.Info("exchange store configured",
		zap.String("driver", cfg.Driver),
		zap.String("connection", cfg.LogString()))

	return Wrap(db, cfg.Driver, logger), nil
}

// Wrap adapts an existing pool, e.g. one created by sqlmock in tests.
func Wrap(db *sql.DB, driverName string, logger *zap.Logger) *DB {
	return &DB{
		DB:     db,
		driver: driverName,
		logger: logger,
	}
}

// openSnowflake builds a pool authenticated with the OAuth session token
// that the container runtime provides.
func openSnowflake(cfg config.SnowflakeConfig) *sql.DB {
	return sql.OpenDB(&tokenConnector{cfg: cfg})
}

// tokenConnector re-reads the session token for every new connection because
// the runtime rotates the token file while the service is running.
type tokenConnector struct {
	cfg config.SnowflakeConfig
}

func (c *tokenConnector) Connect(ctx context.Context) (driver.Conn, error) {
	return c.connector().Connect(ctx)
}

func (c *tokenConnector) Driver() driver.Driver {
	return c.connector().Driver()
}

func (c *tokenConnector) connector() driver.Connector {
	token := c.cfg.Token
	if c.cfg.TokenFile != "" {
		if content, err := os.ReadFile(c.cfg.TokenFile); err == nil {
			token = strings.TrimSpace(string(content))
		}
	}

	return gosnowflake.NewConnector(gosnowflake.SnowflakeDriver{}, gosnowflake.Config{
		Account:       c.cfg.Account,
		User:          c.cfg.User,
		Role:          c.cfg.Role,
		Authenticator: gosnowflake.AuthTypeOAuth,
		Token:         token,
		Warehouse:     c.cfg.Warehouse,
		Database:      c.cfg.Database,
		Schema:        c.cfg.Schema,
		Host:          c.cfg.Host,
	})
}

// Driver returns the driver name the pool was opened with
func (db *DB) Driver() string {
	return db.driver
}

// Close closes the database connection pool
func (db *DB) Close() error {
	db.logger.Info("closing exchange store connection")
	return db.DB.Close()
}

// HealthCheck performs a health check on the database
func (db *DB) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("exchange store health check failed: %w", err)
	}

	var result int
	if err := db.QueryRowContext(ctx, "SELECT 1").Scan(&result); err != nil {
		return fmt.Errorf("exchange store query check failed: %w", err)
	}

	return nil
}
