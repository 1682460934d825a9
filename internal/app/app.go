package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os"
	"sync"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"

	"github.com/sundayezeilo/qrlinks/codegen"
	"github.com/sundayezeilo/qrlinks/internal/config"
	"github.com/sundayezeilo/qrlinks/internal/db"
	"github.com/sundayezeilo/qrlinks/internal/notify"
	"github.com/sundayezeilo/qrlinks/internal/qrcode"
	"github.com/sundayezeilo/qrlinks/internal/realtime"
	"github.com/sundayezeilo/qrlinks/internal/server"
	"github.com/sundayezeilo/qrlinks/internal/shortener"
)

// App holds the application dependencies and configuration.
type App struct {
	Config   *config.Config
	Logger   *slog.Logger
	DBPool   *pgxpool.Pool
	SQLite   *sql.DB
	Notifier *notify.Notifier
	Relay    *notify.Relay
	Hub      *realtime.Hub
	Server   *server.Server
	Handler  *shortener.Handler

	relayWG sync.WaitGroup
}

// New initializes and returns a new App instance with all dependencies wired up.
func New(ctx context.Context) (*App, error) {
	if err := loadEnv(); err != nil {
		return nil, fmt.Errorf("failed to load environment: %w", err)
	}

	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	logger := setupLogger(cfg.App.LogLevel).With(
		"service", cfg.App.ServiceName,
	)

	logger.Info("starting application",
		"env", cfg.App.Environment,
		"version", cfg.App.ServiceVersion,
		"store", cfg.Store.Driver,
		"relay", cfg.Notify.Relay,
	)

	a := &App{Config: cfg, Logger: logger}

	repo, err := a.openStore(ctx)
	if err != nil {
		a.Shutdown()
		return nil, err
	}

	a.Notifier = notify.New()

	var broadcaster shortener.Broadcaster = a.Notifier
	if cfg.Notify.Relay != config.RelayNone {
		relay, err := a.openRelay(ctx)
		if err != nil {
			a.Shutdown()
			return nil, fmt.Errorf("failed to connect notify relay: %w", err)
		}
		a.Relay = relay
		broadcaster = relay
	}

	svc := shortener.NewService(repo, &shortener.ServiceConfig{
		CodeGenerator:  codegen.NewAlphanumeric(),
		CodeLength:     cfg.Shortener.CodeLength,
		CodeMaxRetries: cfg.Shortener.CodeMaxRetries,
		Timeout:        cfg.Store.Timeout,
		Notifier:       broadcaster,
		Logger:         logger,
	})

	a.Handler = shortener.NewHandler(shortener.HandlerConfig{
		Service: svc,
		QR:      qrcode.New(qrcode.DefaultSize),
		Logger:  logger,
		BaseURL: cfg.Server.PublicBaseURL(),
	})

	a.Hub = realtime.NewHub(a.Notifier, hubConfig(cfg, logger))

	a.Server = server.New(cfg, logger, a.Handler, a.Hub)

	logger.Info("application initialized",
		"port", cfg.Server.Port,
		"base_url", cfg.Server.PublicBaseURL(),
	)

	return a, nil
}

// Start starts the relay (if any) and the HTTP server, blocking until shutdown.
func (a *App) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if a.Relay != nil {
		a.relayWG.Add(1)
		go func() {
			defer a.relayWG.Done()
			if err := a.Relay.Run(ctx); err != nil {
				a.Logger.Error("notify relay stopped, delivering to local observers only", "error", err)
			}
		}()
	}

	a.Logger.Info("server starting",
		"port", a.Config.Server.Port,
		"base_url", a.Config.Server.PublicBaseURL(),
	)

	err := a.Server.Start(ctx)
	cancel()
	a.relayWG.Wait()

	if err != nil {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// Shutdown releases every resource New acquired. It is safe on a partially
// initialized App.
func (a *App) Shutdown() error {
	a.Logger.Info("shutting down application")

	var errs []error

	if a.Hub != nil {
		a.Hub.Close()
	}
	if a.Notifier != nil {
		a.Notifier.Close()
	}
	if a.Relay != nil {
		if err := a.Relay.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close notify relay: %w", err))
		}
	}
	if a.DBPool != nil {
		a.DBPool.Close()
		a.Logger.Info("database connection closed")
	}
	if a.SQLite != nil {
		if err := a.SQLite.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close sqlite: %w", err))
		}
	}

	return errors.Join(errs...)
}

// openStore connects the configured backend and returns its repository.
func (a *App) openStore(ctx context.Context) (shortener.Repository, error) {
	cfg := a.Config

	switch cfg.Store.Driver {
	case config.DriverPostgres:
		if cfg.Database.Migrate {
			if err := runMigrations(cfg, a.Logger); err != nil {
				return nil, fmt.Errorf("failed to migrate database: %w", err)
			}
		}
		pool, err := connectDatabase(ctx, cfg, a.Logger)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		a.DBPool = pool
		return shortener.NewPostgresRepository(db.New(pool), nil), nil

	case config.DriverSQLite:
		a.Logger.Info("opening sqlite store")
		sqlDB, err := shortener.OpenSQLite(ctx, cfg.SQLite.URL)
		if err != nil {
			return nil, fmt.Errorf("failed to open sqlite store: %w", err)
		}
		a.SQLite = sqlDB
		return shortener.NewSQLiteRepository(sqlDB, nil), nil

	case config.DriverMemory:
		a.Logger.Warn("using in-memory store, links are lost on restart")
		return shortener.NewMemoryRepository(nil), nil

	default:
		return nil, fmt.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

// openRelay connects the cross-instance transport for change events.
func (a *App) openRelay(ctx context.Context) (*notify.Relay, error) {
	cfg := a.Config.Notify

	var transport notify.Transport
	switch cfg.Relay {
	case config.RelayRedis:
		client, err := notify.NewRedisClient(ctx, notify.RedisOptions{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err != nil {
			return nil, err
		}
		transport = notify.NewRedisTransport(client, cfg.Channel)

	case config.RelayNATS:
		conn, err := notify.ConnectNATS(cfg.NATSURL, a.Config.App.ServiceName)
		if err != nil {
			return nil, err
		}
		transport = notify.NewNATSTransport(conn, cfg.Channel)

	default:
		return nil, fmt.Errorf("unsupported notify relay: %s", cfg.Relay)
	}

	a.Logger.Info("notify relay connected", "relay", cfg.Relay, "channel", cfg.Channel)

	return notify.NewRelay(a.Notifier, transport, &notify.RelayConfig{
		Event:  cfg.Channel,
		Logger: a.Logger,
	}), nil
}

// hubConfig builds the websocket hub settings. The browser event name is
// Realtime.Event, never the relay channel.
func hubConfig(cfg *config.Config, logger *slog.Logger) *realtime.Config {
	return &realtime.Config{
		PingInterval: cfg.Realtime.PingInterval,
		PongWait:     cfg.Realtime.PongWait,
		WriteWait:    cfg.Realtime.WriteWait,
		Event:        cfg.Realtime.Event,
		Logger:       logger,
	}
}

// loadEnv loads .env file only in non-production environments.
func loadEnv() error {
	env := os.Getenv("APP_ENV")
	if env == "development" || env == "test" {
		if err := godotenv.Load(); err != nil {
			log.Println("no .env file found.")
		}
	}
	return nil
}

// setupLogger creates a structured logger based on the log level.
func setupLogger(level string) *slog.Logger {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "info":
		logLevel = slog.LevelInfo
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: logLevel,
	}

	handler := slog.NewJSONHandler(os.Stdout, opts)
	return slog.New(handler)
}

func runMigrations(cfg *config.Config, logger *slog.Logger) error {
	migrator, err := db.NewMigrator(cfg.Database.URL(), logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := migrator.Close(); err != nil {
			logger.Warn("failed to close migrator", "error", err)
		}
	}()

	return migrator.Up()
}

// connectDatabase establishes a connection to the PostgreSQL database.
func connectDatabase(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.Database.ConnectionString())
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}

	poolConfig.MaxConns = cfg.Database.MaxConns
	poolConfig.MinConns = cfg.Database.MinConns

	logger.Info("connecting to database",
		"host", cfg.Database.Host,
		"port", cfg.Database.Port,
		"database", cfg.Database.Name,
	)

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	// Verify connection
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logger.Info("database connection established")

	return pool, nil
}
