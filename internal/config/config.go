package config

import (
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Store drivers.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
	DriverMemory   = "memory"
)

// Notifier relays.
const (
	RelayNone  = "none"
	RelayRedis = "redis"
	RelayNATS  = "nats"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig
	Store     StoreConfig
	Database  DatabaseConfig
	SQLite    SQLiteConfig
	Shortener ShortenerConfig
	Notify    NotifyConfig
	Realtime  RealtimeConfig
	App       AppConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port            string        `envconfig:"SERVER_PORT" required:"true"`
	Host            string        `envconfig:"SERVER_HOST" required:"true"`
	BaseURL         string        `envconfig:"SERVER_BASE_URL" required:"true"`
	ReadTimeout     time.Duration `envconfig:"SERVER_READ_TIMEOUT" default:"10s"`
	WriteTimeout    time.Duration `envconfig:"SERVER_WRITE_TIMEOUT" default:"10s"`
	IdleTimeout     time.Duration `envconfig:"SERVER_IDLE_TIMEOUT" default:"120s"`
	ShutdownTimeout time.Duration `envconfig:"SERVER_SHUTDOWN_TIMEOUT" default:"30s"`
}

// Validate validates the server configuration.
func (c *ServerConfig) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("port cannot be empty")
	}
	if c.Host == "" {
		return fmt.Errorf("host cannot be empty")
	}
	if c.BaseURL == "" {
		return fmt.Errorf("base URL cannot be empty")
	}
	u, err := url.Parse(c.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("base URL must be absolute, got %q", c.BaseURL)
	}
	if c.ReadTimeout <= 0 {
		return fmt.Errorf("read timeout must be positive")
	}
	if c.WriteTimeout <= 0 {
		return fmt.Errorf("write timeout must be positive")
	}
	if c.IdleTimeout <= 0 {
		return fmt.Errorf("idle timeout must be positive")
	}
	if c.ShutdownTimeout <= 0 {
		return fmt.Errorf("shutdown timeout must be positive")
	}
	return nil
}

// PublicBaseURL returns the base URL without a trailing slash.
func (c *ServerConfig) PublicBaseURL() string {
	return strings.TrimRight(c.BaseURL, "/")
}

// StoreConfig selects the link store backend.
type StoreConfig struct {
	Driver  string        `envconfig:"STORE_DRIVER" default:"postgres"`
	Timeout time.Duration `envconfig:"STORE_TIMEOUT" default:"3s"`
}

// Validate validates the store configuration.
func (c *StoreConfig) Validate() error {
	switch c.Driver {
	case DriverPostgres, DriverSQLite, DriverMemory:
	default:
		return fmt.Errorf("invalid store driver: %s (must be one of: postgres, sqlite, memory)", c.Driver)
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("store timeout must be positive")
	}
	return nil
}

// DatabaseConfig holds PostgreSQL connection configuration.
type DatabaseConfig struct {
	Host     string `envconfig:"DB_HOST"`
	Port     string `envconfig:"DB_PORT" default:"5432"`
	User     string `envconfig:"DB_USER"`
	Password string `envconfig:"DB_PASSWORD"`
	Name     string `envconfig:"DB_NAME"`
	SSLMode  string `envconfig:"DB_SSLMODE" default:"disable"`
	MaxConns int32  `envconfig:"DB_MAX_CONNS" default:"25"`
	MinConns int32  `envconfig:"DB_MIN_CONNS" default:"2"`
	Migrate  bool   `envconfig:"DB_MIGRATE" default:"true"`
}

// Validate validates the database configuration.
func (c *DatabaseConfig) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("host cannot be empty")
	}
	if c.Port == "" {
		return fmt.Errorf("port cannot be empty")
	}
	if c.User == "" {
		return fmt.Errorf("user cannot be empty")
	}
	if c.Password == "" {
		return fmt.Errorf("password cannot be empty")
	}
	if c.Name == "" {
		return fmt.Errorf("database name cannot be empty")
	}
	if c.MaxConns <= 0 {
		return fmt.Errorf("max connections must be positive")
	}
	if c.MinConns <= 0 {
		return fmt.Errorf("min connections must be positive")
	}
	if c.MinConns > c.MaxConns {
		return fmt.Errorf("min connections (%d) cannot be greater than max connections (%d)", c.MinConns, c.MaxConns)
	}

	validSSLModes := map[string]bool{
		"disable":     true,
		"require":     true,
		"verify-ca":   true,
		"verify-full": true,
	}
	if !validSSLModes[c.SSLMode] {
		return fmt.Errorf("invalid SSL mode: %s (must be one of: disable, require, verify-ca, verify-full)", c.SSLMode)
	}
	return nil
}

// ConnectionString returns the PostgreSQL keyword/value connection string used by pgx.
func (c *DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

// URL returns the connection in URL form, as expected by the migration driver.
func (c *DatabaseConfig) URL() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.User, c.Password),
		Host:     net.JoinHostPort(c.Host, c.Port),
		Path:     "/" + c.Name,
		RawQuery: "sslmode=" + url.QueryEscape(c.SSLMode),
	}
	return u.String()
}

// SQLiteConfig holds the embedded store location. A libsql:// or wss:// URL selects
// the remote libSQL driver.
type SQLiteConfig struct {
	URL string `envconfig:"SQLITE_URL" default:"qrlinks.db"`
}

// Validate validates the SQLite configuration.
func (c *SQLiteConfig) Validate() error {
	if c.URL == "" {
		return fmt.Errorf("sqlite url cannot be empty")
	}
	return nil
}

// ShortenerConfig holds short-code generation settings.
type ShortenerConfig struct {
	CodeLength     int `envconfig:"CODE_LENGTH" default:"6"`
	CodeMaxRetries int `envconfig:"CODE_MAX_RETRIES" default:"5"`
}

// Validate validates the shortener configuration.
func (c *ShortenerConfig) Validate() error {
	if c.CodeLength < 4 || c.CodeLength > 8 {
		return fmt.Errorf("code length must be between 4 and 8, got %d", c.CodeLength)
	}
	if c.CodeMaxRetries <= 0 {
		return fmt.Errorf("code max retries must be positive")
	}
	return nil
}

// NotifyConfig configures the optional cross-instance relay for change events.
type NotifyConfig struct {
	Relay         string `envconfig:"NOTIFY_RELAY" default:"none"`
	Channel       string `envconfig:"NOTIFY_CHANNEL" default:"updateClicks"`
	RedisAddr     string `envconfig:"REDIS_ADDR"`
	RedisPassword string `envconfig:"REDIS_PASSWORD"`
	RedisDB       int    `envconfig:"REDIS_DB" default:"0"`
	NATSURL       string `envconfig:"NATS_URL"`
}

// Validate validates the notify configuration.
func (c *NotifyConfig) Validate() error {
	if c.Channel == "" {
		return fmt.Errorf("notify channel cannot be empty")
	}
	switch c.Relay {
	case RelayNone:
	case RelayRedis:
		if c.RedisAddr == "" {
			return fmt.Errorf("redis address is required when relay is redis")
		}
	case RelayNATS:
		if c.NATSURL == "" {
			return fmt.Errorf("nats url is required when relay is nats")
		}
	default:
		return fmt.Errorf("invalid notify relay: %s (must be one of: none, redis, nats)", c.Relay)
	}
	return nil
}

// RealtimeConfig holds WebSocket keepalive timings.
type RealtimeConfig struct {
	PingInterval time.Duration `envconfig:"WS_PING_INTERVAL" default:"54s"`
	PongWait     time.Duration `envconfig:"WS_PONG_WAIT" default:"60s"`
	WriteWait    time.Duration `envconfig:"WS_WRITE_WAIT" default:"10s"`
	// Event is the name browsers listen for. It is independent of Notify.Channel.
	Event string `envconfig:"WS_EVENT" default:"updateClicks"`
}

// Validate validates the realtime configuration.
func (c *RealtimeConfig) Validate() error {
	if c.PingInterval <= 0 || c.PongWait <= 0 || c.WriteWait <= 0 {
		return fmt.Errorf("websocket timings must be positive")
	}
	if c.PingInterval >= c.PongWait {
		return fmt.Errorf("ping interval (%s) must be shorter than pong wait (%s)", c.PingInterval, c.PongWait)
	}
	if c.Event == "" {
		return fmt.Errorf("websocket event name cannot be empty")
	}
	return nil
}

// AppConfig holds application-specific configuration.
type AppConfig struct {
	Environment    string `envconfig:"APP_ENV" required:"true"`   // development, staging, production, test
	LogLevel       string `envconfig:"LOG_LEVEL" required:"true"` // debug, info, warn, error
	ServiceName    string `envconfig:"SERVICE_NAME" default:"qrlinks"`
	ServiceVersion string `envconfig:"SERVICE_VERSION" default:"dev"`
}

// Validate validates the app configuration.
func (c *AppConfig) Validate() error {
	validEnvs := map[string]bool{
		"development": true,
		"staging":     true,
		"production":  true,
		"test":        true,
	}
	if !validEnvs[c.Environment] {
		return fmt.Errorf("invalid environment: %s (must be one of: development, staging, production, test)", c.Environment)
	}

	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[c.LogLevel] {
		return fmt.Errorf("invalid log level: %s (must be one of: debug, info, warn, error)", c.LogLevel)
	}
	return nil
}

type section struct {
	name     string
	target   any
	validate func() error
}

// Load loads configuration from environment variables only.
// Database settings are validated only when the postgres driver is selected, and
// SQLite settings only for the sqlite driver.
func Load() (*Config, error) {
	cfg := &Config{}

	sections := []section{
		{"Server", &cfg.Server, cfg.Server.Validate},
		{"Store", &cfg.Store, cfg.Store.Validate},
		{"Database", &cfg.Database, func() error {
			if cfg.Store.Driver != DriverPostgres {
				return nil
			}
			return cfg.Database.Validate()
		}},
		{"SQLite", &cfg.SQLite, func() error {
			if cfg.Store.Driver != DriverSQLite {
				return nil
			}
			return cfg.SQLite.Validate()
		}},
		{"Shortener", &cfg.Shortener, cfg.Shortener.Validate},
		{"Notify", &cfg.Notify, cfg.Notify.Validate},
		{"Realtime", &cfg.Realtime, cfg.Realtime.Validate},
		{"App", &cfg.App, cfg.App.Validate},
	}

	for _, s := range sections {
		if err := envconfig.Process("", s.target); err != nil {
			return nil, fmt.Errorf("failed to load %s config: %w", s.name, err)
		}
		if err := s.validate(); err != nil {
			return nil, fmt.Errorf("invalid %s config: %w", s.name, err)
		}
	}

	return cfg, nil
}
