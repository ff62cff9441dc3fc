package app

import (
	"database/sql"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"brigade/internal/config"
	"brigade/internal/db"
	"brigade/internal/engine"
	"brigade/internal/migrate"
	"brigade/internal/outbox"
)

// App wires the database, engine, handler registry and relay for one process.
type App struct {
	DB       *sql.DB
	Dialect  db.Dialect
	Config   *config.Config
	Logger   *zap.Logger
	Engine   engine.Engine
	Handlers *outbox.Registry
	Relay    *outbox.Relay
	Metrics  *prometheus.Registry
}

// Open connects to the configured database, applies migrations and builds
// the engine and relay. The relay is not started.
func Open(workspace string, cfg *config.Config, logger *zap.Logger) (*App, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	conn, dialect, err := db.Open(db.Config{Driver: cfg.Database.Driver, DSN: cfg.Database.DSN, Workspace: workspace})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	a, err := build(conn, dialect, cfg, logger)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return a, nil
}

func build(conn *sql.DB, dialect db.Dialect, cfg *config.Config, logger *zap.Logger) (*App, error) {
	if err := migrate.Migrate(conn, dialect); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	engMetrics, err := engine.NewMetrics(reg)
	if err != nil {
		return nil, err
	}
	eng := engine.New(conn, dialect, cfg)
	eng.Logger = logger.Named("engine")
	eng.Metrics = engMetrics

	handlers := outbox.NewRegistry()
	webhooks := outbox.NewWebhookHandler(cfg.Webhooks, &http.Client{})
	if err := outbox.RegisterBuiltins(handlers, logger.Named("events"), webhooks); err != nil {
		return nil, err
	}
	relayMetrics, err := outbox.NewMetrics(reg)
	if err != nil {
		return nil, err
	}
	relay, err := outbox.NewRelay(eng.Repo, handlers, RelayConfig(cfg.Relay),
		outbox.WithLogger(logger.Named("relay")),
		outbox.WithMetrics(relayMetrics))
	if err != nil {
		return nil, err
	}
	return &App{
		DB:       conn,
		Dialect:  dialect,
		Config:   cfg,
		Logger:   logger,
		Engine:   eng,
		Handlers: handlers,
		Relay:    relay,
		Metrics:  reg,
	}, nil
}

// RelayConfig converts the file configuration to relay settings.
func RelayConfig(c config.RelayConfig) outbox.RelayConfig {
	return outbox.RelayConfig{
		Disabled:       !c.IsEnabled(),
		PollInterval:   c.PollInterval(),
		BatchSize:      c.BatchSize,
		Unhandled:      outbox.UnhandledPolicy(c.Unhandled),
		MaxAttempts:    c.MaxAttempts,
		HandlerTimeout: c.HandlerTimeout(),
	}
}

// Close stops the relay and closes the database.
func (a *App) Close() error {
	if a == nil {
		return nil
	}
	if a.Relay != nil {
		a.Relay.Stop()
	}
	_ = a.Logger.Sync()
	return a.DB.Close()
}
