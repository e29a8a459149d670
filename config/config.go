package config

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Exchange store drivers
const (
	DriverSnowflake = "snowflake"
	DriverPostgres  = "postgres"
	DriverNone      = "none"
)

// MetricExportInterval is how often the periodic reader pushes metrics to the collector.
const MetricExportInterval = 5000 * time.Millisecond

// DefaultTokenFile is where the container runtime mounts the OAuth session token.
const DefaultTokenFile = "/snowflake/session/token"

// Config represents the complete application configuration
type Config struct {
	Server        ServerConfig
	Data          DataConfig
	ExchangeStore ExchangeStoreConfig
	Cache         CacheConfig
	Observability ObservabilityConfig
	Environment   string
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	// RequestTimeout bounds a single handler invocation. Zero disables the deadline.
	RequestTimeout time.Duration
}

// DataConfig describes the static price table and the simulated work between phases.
type DataConfig struct {
	StockFile       string
	TopGainersLimit int
	Delay           DelayConfig
}

// DelayConfig bounds the random pause taken inside each handler phase.
type DelayConfig struct {
	Enabled bool
	Min     time.Duration
	Max     time.Duration
}

// ExchangeStoreConfig holds the external exchange table configuration
type ExchangeStoreConfig struct {
	Driver    string
	Table     string
	Snowflake SnowflakeConfig
	Database  DatabaseConfig

	// UnavailableBody controls whether a 503 body is written when the store fails.
	// When false the 503 is sent without a body.
	UnavailableBody  bool
	QueryTimeout     time.Duration
	BreakerThreshold int
	BreakerTimeout   time.Duration
}

// SnowflakeConfig holds the connection parameters provided by the container environment.
type SnowflakeConfig struct {
	Account   string
	User      string
	Role      string
	Host      string
	Warehouse string
	Database  string
	Schema    string
	TokenFile string
	Token     string
}

// DatabaseConfig holds PostgreSQL database configuration.
// When ConnectionString (from DATABASE_URL) is set, it takes precedence over individual fields.
type DatabaseConfig struct {
	ConnectionString string // From DATABASE_URL when set
	Host             string
	Port             int
	User             string
	Password         string
	Database         string
	SSLMode          string
	MaxOpenConns     int
	MaxIdleConns     int
	ConnMaxLifetime  time.Duration
}

// CacheConfig holds the optional Redis cache in front of the exchange store.
type CacheConfig struct {
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
}

// ObservabilityConfig holds logging and telemetry export configuration
type ObservabilityConfig struct {
	LogLevel         string
	LogFormat        string // json or console
	ServiceName      string
	ServiceVersion   string
	TelemetryEnabled bool
	OTLPEndpoint     string
	OTLPInsecure     bool
}

// New creates a new Config instance by loading environment variables
func New(ctx context.Context) (*Config, error) {
	_ = godotenv.Load(".env")

	cfg := &Config{
		Environment: getEnv("ENVIRONMENT", "development"),
		Server: ServerConfig{
			Host:            getEnv("SERVER_HOST", "0.0.0.0"),
			Port:            getPort(),
			ReadTimeout:     getEnvAsDuration("SERVER_READ_TIMEOUT", 30*time.Second),
			WriteTimeout:    getEnvAsDuration("SERVER_WRITE_TIMEOUT", 30*time.Second),
			ShutdownTimeout: getEnvAsDuration("SERVER_SHUTDOWN_TIMEOUT", 10*time.Second),
			RequestTimeout:  getEnvAsDuration("REQUEST_TIMEOUT", 0),
		},
		Data: DataConfig{
			StockFile:       getEnv("STOCK_DATA_FILE", "data/stock-snap.json"),
			TopGainersLimit: getEnvAsInt("TOP_GAINERS_LIMIT", 5),
			Delay: DelayConfig{
				Enabled: getEnvAsBool("SIMULATED_DELAY_ENABLED", true),
				Min:     getEnvAsDuration("SIMULATED_DELAY_MIN", 100*time.Millisecond),
				Max:     getEnvAsDuration("SIMULATED_DELAY_MAX", time.Second),
			},
		},
		ExchangeStore: loadExchangeStoreConfig(),
		Cache: CacheConfig{
			Addr:     getEnv("REDIS_ADDR", ""),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
			TTL:      getEnvAsDuration("EXCHANGE_CACHE_TTL", 10*time.Minute),
		},
		Observability: ObservabilityConfig{
			LogLevel:         getEnv("LOG_LEVEL", "info"),
			LogFormat:        getEnv("LOG_FORMAT", "json"),
			ServiceName:      getEnv("OTEL_SERVICE_NAME", "stock_snap_go"),
			ServiceVersion:   getEnv("SERVICE_VERSION", "0.1.0"),
			TelemetryEnabled: getEnvAsBool("TELEMETRY_ENABLED", true),
			OTLPEndpoint:     getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			OTLPInsecure:     getEnvAsBool("OTEL_INSECURE", true),
		},
	}

	// Validate the configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks if all required configuration fields are set
func (c *Config) Validate() error {
	if c.Data.StockFile == "" {
		return fmt.Errorf("stock data file is required")
	}
	if c.Data.TopGainersLimit <= 0 {
		return fmt.Errorf("top gainers limit must be positive")
	}
	if c.Data.Delay.Enabled && c.Data.Delay.Min > c.Data.Delay.Max {
		return fmt.Errorf("simulated delay min %s exceeds max %s", c.Data.Delay.Min, c.Data.Delay.Max)
	}
	if c.Server.RequestTimeout < 0 {
		return fmt.Errorf("request timeout cannot be negative")
	}

	switch c.ExchangeStore.Driver {
	case DriverSnowflake:
		if c.ExchangeStore.Table == "" {
			return fmt.Errorf("exchange table is required")
		}
	case DriverPostgres:
		db := c.ExchangeStore.Database
		if db.ConnectionString == "" && db.Host == "" {
			return fmt.Errorf("database configuration required: set DATABASE_URL or DB_HOST")
		}
		if db.ConnectionString == "" {
			if db.User == "" {
				return fmt.Errorf("database user is required")
			}
			if db.Database == "" {
				return fmt.Errorf("database name is required")
			}
		}
		if c.ExchangeStore.Table == "" {
			return fmt.Errorf("exchange table is required")
		}
	case DriverNone:
	default:
		return fmt.Errorf("unsupported exchange store driver %q", c.ExchangeStore.Driver)
	}

	if c.Observability.LogLevel == "" {
		return fmt.Errorf("log level is required")
	}
	if c.Observability.ServiceName == "" {
		return fmt.Errorf("service name is required")
	}

	return nil
}

// Enabled reports whether an exchange store is configured.
func (c *ExchangeStoreConfig) Enabled() bool {
	return c.Driver != "" && c.Driver != DriverNone
}

// TableName returns the table reference used in exchange queries. Snowflake
// tables are qualified with the configured database and schema.
func (c *ExchangeStoreConfig) TableName() string {
	if c.Driver == DriverSnowflake && c.Snowflake.Database != "" && c.Snowflake.Schema != "" {
		return fmt.Sprintf("%s.%s.%s", c.Snowflake.Database, c.Snowflake.Schema, c.Table)
	}
	return c.Table
}

// LogString returns a safe string for logging (no credentials).
func (c *ExchangeStoreConfig) LogString() string {
	switch c.Driver {
	case DriverSnowflake:
		return fmt.Sprintf("account=%s host=%s warehouse=%s table=%s",
			c.Snowflake.Account, c.Snowflake.Host, c.Snowflake.Warehouse, c.TableName())
	case DriverPostgres:
		return c.Database.LogString() + " table=" + c.TableName()
	default:
		return "driver=" + c.Driver
	}
}

// DSN returns the PostgreSQL connection string.
// Uses ConnectionString (from DATABASE_URL) when set; otherwise builds from individual fields.
func (c *DatabaseConfig) DSN() string {
	if c.ConnectionString != "" {
		return c.ConnectionString
	}
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// LogString returns a safe string for logging (no password). Parses ConnectionString when set.
func (c *DatabaseConfig) LogString() string {
	if c.ConnectionString != "" {
		u, err := url.Parse(c.ConnectionString)
		if err == nil {
			host := u.Hostname()
			port := u.Port()
			if port == "" {
				port = "5432"
			}
			db := strings.TrimPrefix(u.Path, "/")
			return fmt.Sprintf("host=%s port=%s database=%s", host, port, db)
		}
		return "host=<from DATABASE_URL>"
	}
	return fmt.Sprintf("host=%s port=%d database=%s", c.Host, c.Port, c.Database)
}

// Address returns the HTTP server address
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// loadExchangeStoreConfig loads the external store settings. Snowflake parameters
// come from the SNOWFLAKE_* variables injected by the container runtime.
func loadExchangeStoreConfig() ExchangeStoreConfig {
	tokenFile := getEnv("SNOWFLAKE_TOKEN_FILE", DefaultTokenFile)
	return ExchangeStoreConfig{
		Driver: strings.ToLower(getEnv("EXCHANGE_STORE_DRIVER", DriverSnowflake)),
		Table:  getEnv("EXCHANGE_TABLE", "STOCK_EXCHANGES"),
		Snowflake: SnowflakeConfig{
			Account:   getEnv("SNOWFLAKE_ACCOUNT", ""),
			User:      getEnv("SNOWFLAKE_USER", ""),
			Role:      getEnv("SNOWFLAKE_ROLE", ""),
			Host:      getEnv("SNOWFLAKE_HOST", ""),
			Warehouse: getEnv("SNOWFLAKE_WAREHOUSE", ""),
			Database:  getEnv("SNOWFLAKE_DATABASE", ""),
			Schema:    getEnv("SNOWFLAKE_SCHEMA", ""),
			TokenFile: tokenFile,
			Token:     readToken(tokenFile),
		},
		Database:         loadDatabaseConfig(),
		UnavailableBody:  getEnvAsBool("EXCHANGE_UNAVAILABLE_BODY", true),
		QueryTimeout:     getEnvAsDuration("EXCHANGE_QUERY_TIMEOUT", 10*time.Second),
		BreakerThreshold: getEnvAsInt("EXCHANGE_BREAKER_THRESHOLD", 5),
		BreakerTimeout:   getEnvAsDuration("EXCHANGE_BREAKER_TIMEOUT", 30*time.Second),
	}
}

// loadDatabaseConfig loads database config from DATABASE_URL or DB_* env vars
func loadDatabaseConfig() DatabaseConfig {
	dbURL := getEnv("DATABASE_URL", "")
	if dbURL != "" {
		return DatabaseConfig{
			ConnectionString: dbURL,
			MaxOpenConns:     getEnvAsInt("DB_MAX_OPEN_CONNS", 10),
			MaxIdleConns:     getEnvAsInt("DB_MAX_IDLE_CONNS", 2),
			ConnMaxLifetime:  getEnvAsDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
		}
	}
	return DatabaseConfig{
		Host:            getEnv("DB_HOST", ""),
		Port:            getEnvAsInt("DB_PORT", 5432),
		User:            getEnv("DB_USER", ""),
		Password:        getEnv("DB_PASSWORD", ""),
		Database:        getEnv("DB_NAME", ""),
		SSLMode:         getEnv("DB_SSLMODE", "disable"),
		MaxOpenConns:    getEnvAsInt("DB_MAX_OPEN_CONNS", 10),
		MaxIdleConns:    getEnvAsInt("DB_MAX_IDLE_CONNS", 2),
		ConnMaxLifetime: getEnvAsDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
	}
}

// readToken returns the session token stored at path, or "" when it cannot be read.
func readToken(path string) string {
	if path == "" {
		return ""
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(content))
}

// Helper functions

// getPort returns the server port from PORT or SERVER_PORT env vars (default: 8080)
func getPort() int {
	if value := os.Getenv("PORT"); value != "" {
		if p, err := strconv.Atoi(value); err == nil {
			return p
		}
	}
	if value := os.Getenv("SERVER_PORT"); value != "" {
		if p, err := strconv.Atoi(value); err == nil {
			return p
		}
	}
	return 8080
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
