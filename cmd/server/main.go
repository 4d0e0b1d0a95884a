// Commandeer - Session Command Audit for Remote-Access Gateways
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/commandeer

// Package main is the entry point for the Commandeer server application.
//
// Commandeer records the commands executed through a remote-access gateway,
// persists them across heterogeneous storage backends, and serves merged
// time-ordered queries, bulk ingestion, risk alerting, and HTML export over
// a REST API.
//
// # Application Architecture
//
// The server initializes components in the following order:
//
//  1. Configuration: Load settings from environment variables and config files (Koanf v2)
//  2. Primary store: Open DuckDB and register it as the default command backend
//  3. Extra storages: Register additional DuckDB/Badger backends from configuration
//  4. Query engine: Merged, paginated reads across all valid backends
//  5. Ingestion pipeline: All-or-nothing validated batch writes
//  6. Alerting (optional): NATS JetStream transport for insecure-command alerts
//  7. HTTP Server: REST API under /api/v1/terminal plus health and metrics
//
// # Configuration
//
// Configuration is loaded via Koanf v2 with layered sources (highest priority wins):
//   - Environment variables (HTTP_PORT, DUCKDB_PATH, ALERT_ENABLED, ...)
//   - Config file (config.yaml, or CONFIG_PATH)
//   - Built-in defaults
//
// # Alerting
//
// Alerting is optional. When ALERT_ENABLED=true, commands whose risk level
// meets the configured threshold are published to NATS JetStream on
// alerts.command.<org>. The broker can be external (NATS_URL) or embedded
// (NATS_EMBEDDED=true), in which case this process runs its own
// JetStream-enabled server.
//
// # Signal Handling
//
// The server handles graceful shutdown on SIGINT and SIGTERM:
//   - Stops accepting new connections
//   - Waits for in-flight requests to complete (10s timeout)
//   - Drains queued alerts and shuts down the broker if embedded
//   - Closes all storage backends
//
// # Example Usage
//
// Development, no alerting:
//
//	export DUCKDB_PATH=./commandeer.duckdb
//	export LOG_FORMAT=console
//	./commandeer
//
// Production with embedded alert broker:
//
//	export DUCKDB_PATH=/data/commandeer.duckdb
//	export ALERT_ENABLED=true
//	export NATS_EMBEDDED=true
//	export NATS_STORE_DIR=/data/nats
//	./commandeer
//
// Docker:
//
//	docker run -d \
//	  -e DUCKDB_PATH=/data/commandeer.duckdb \
//	  -v commandeer-data:/data \
//	  -p 8085:8085 \
//	  ghcr.io/tomtom215/commandeer
package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/duckdb/duckdb-go/v2"
	"github.com/nats-io/nats.go"

	"github.com/tomtom215/commandeer/internal/alert"
	"github.com/tomtom215/commandeer/internal/api"
	"github.com/tomtom215/commandeer/internal/config"
	"github.com/tomtom215/commandeer/internal/export"
	"github.com/tomtom215/commandeer/internal/ingest"
	"github.com/tomtom215/commandeer/internal/logging"
	"github.com/tomtom215/commandeer/internal/query"
	"github.com/tomtom215/commandeer/internal/session"
	"github.com/tomtom215/commandeer/internal/storage"
	"github.com/tomtom215/commandeer/internal/supervisor"
	"github.com/tomtom215/commandeer/internal/supervisor/services"
)

const shutdownTimeout = 10 * time.Second

func main() {
	// Load configuration first to get logging settings
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})

	logging.Info().Msg("Starting Commandeer with supervisor tree")
	logging.Info().
		Str("db_path", cfg.Database.Path).
		Int("extra_storages", len(cfg.Storages)).
		Bool("alerting", cfg.Alert.Enabled).
		Msg("Configuration loaded")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Primary DuckDB store. It doubles as the session table used for
	// remote address enrichment.
	db, err := openDuckDB(&cfg.Database)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to open primary database")
	}
	defer func() {
		if err := db.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing database")
		}
	}()

	primary := storage.NewDuckDBBackend(db)
	if err := primary.CreateTable(ctx); err != nil {
		logging.Fatal().Err(err).Msg("Failed to create command table")
	}

	resolver := session.NewDuckDBResolver(db)
	if err := resolver.CreateTable(ctx); err != nil {
		logging.Fatal().Err(err).Msg("Failed to create session table")
	}
	logging.Info().Msg("Primary database initialized")

	registry := storage.NewRegistry()
	defer func() {
		if err := registry.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing storage backends")
		}
	}()

	if err := registerStorages(ctx, registry, primary, cfg.Storages); err != nil {
		logging.Fatal().Err(err).Msg("Failed to register storage backends")
	}
	logging.Info().
		Str("default", registry.DefaultID()).
		Int("backends", len(registry.ListAll(ctx))).
		Msg("Storage backends registered")

	engine := query.NewEngine(registry, resolver,
		query.WithLookback(cfg.Lookback()),
		query.WithPageSizes(cfg.Query.DefaultPageSize, cfg.Query.MaxPageSize),
	)
	pipeline := ingest.NewPipeline(registry)

	renderer, err := export.NewRenderer()
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to initialize report renderer")
	}

	// Supervisor tree. The slog adapter bridges zerolog to sutureslog.
	tree := supervisor.NewTree(logging.NewSlogLogger(), supervisor.DefaultTreeConfig())

	// Alerting layer (optional). The dispatcher runs under the supervisor
	// so a failed publish loop restarts instead of silently dying.
	var evaluator *alert.Evaluator
	if cfg.Alert.Enabled {
		dispatcher, broker, err := initAlerting(ctx, cfg)
		if err != nil {
			logging.Fatal().Err(err).Msg("Failed to initialize alerting")
		}
		tree.AddAlertingService(dispatcher)
		if broker != nil {
			tree.AddAlertingService(services.NewBrokerService(broker, shutdownTimeout))
		}
		evaluator = alert.NewEvaluator(cfg.Alert.RiskThreshold, dispatcher)
		logging.Info().
			Int("risk_threshold", evaluator.Threshold()).
			Bool("embedded_broker", broker != nil).
			Msg("Insecure-command alerting enabled")
	} else {
		logging.Info().Msg("Alerting disabled (ALERT_ENABLED=false)")
	}

	handler := api.NewHandler(engine, pipeline, registry, evaluator, renderer)
	router := api.NewRouter(handler, api.RouterConfig{
		CORSOrigins:       cfg.Security.CORSOrigins,
		RateLimitReqs:     cfg.Security.RateLimitReqs,
		RateLimitWindow:   cfg.Security.RateLimitWindow,
		RateLimitDisabled: cfg.Security.RateLimitDisabled,
		OrgHeader:         cfg.Security.OrgHeader,
	})

	if cfg.Security.RateLimitDisabled {
		logging.Warn().Msg("Rate limiting is DISABLED (DISABLE_RATE_LIMIT=true)")
	}

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.Timeout,
		WriteTimeout: cfg.Server.Timeout,
		IdleTimeout:  60 * time.Second,
	}
	tree.AddAPIService(services.NewHTTPServerService(server, shutdownTimeout))
	logging.Info().Str("addr", server.Addr).Msg("HTTP server service added")

	// Setup signal handling
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logging.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
		cancel()
	}()

	logging.Info().Msg("Starting supervisor tree...")
	errCh := tree.ServeBackground(ctx)

	select {
	case <-ctx.Done():
		logging.Info().Msg("Context canceled, waiting for supervisor to finish...")
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor tree error")
		}
	}

	for err := range errCh {
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor shutdown error")
		}
	}

	logging.Info().Msg("Commandeer stopped")
}

// openDuckDB opens the primary DuckDB database with the configured resource
// limits. Extensions are never auto-loaded; nothing here needs them.
func openDuckDB(cfg *config.DatabaseConfig) (*sql.DB, error) {
	connStr := fmt.Sprintf(
		"%s?access_mode=read_write&threads=%d&max_memory=%s&autoinstall_known_extensions=false&autoload_known_extensions=false",
		cfg.Path, cfg.Threads, cfg.MaxMemory,
	)
	db, err := sql.Open("duckdb", connStr)
	if err != nil {
		return nil, fmt.Errorf("open duckdb: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping duckdb: %w", err)
	}
	return db, nil
}

// registerStorages registers the primary DuckDB backend plus every extra
// backend from configuration. The primary store is the default unless a
// configured entry claims it.
func registerStorages(ctx context.Context, registry *storage.Registry, primary *storage.DuckDBBackend, extras []config.StorageConfig) error {
	defaultClaimed := false
	for _, sc := range extras {
		if sc.Default {
			defaultClaimed = true
		}
	}

	err := registry.Register(storage.Descriptor{
		ID:      "default",
		Name:    "Primary DuckDB store",
		Type:    storage.BackendDuckDB,
		Default: !defaultClaimed,
	}, primary)
	if err != nil {
		return err
	}

	for _, sc := range extras {
		backend, err := buildBackend(ctx, sc)
		if err != nil {
			return fmt.Errorf("storage %q: %w", sc.ID, err)
		}
		err = registry.Register(storage.Descriptor{
			ID:      sc.ID,
			Name:    sc.Name,
			Type:    storage.BackendType(sc.Type),
			Default: sc.Default,
		}, backend)
		if err != nil {
			return fmt.Errorf("storage %q: %w", sc.ID, err)
		}
		logging.Info().
			Str("storage_id", sc.ID).
			Str("type", sc.Type).
			Bool("default", sc.Default).
			Msg("Extra storage backend registered")
	}
	return nil
}

func buildBackend(ctx context.Context, sc config.StorageConfig) (storage.Backend, error) {
	switch storage.BackendType(sc.Type) {
	case storage.BackendBadger:
		return storage.NewBadgerBackend(storage.BadgerOptions{
			Path:        sc.Path,
			InMemory:    sc.InMemory,
			ResultLimit: sc.ResultLimit,
		})
	case storage.BackendDuckDB:
		db, err := sql.Open("duckdb", sc.Path)
		if err != nil {
			return nil, fmt.Errorf("open duckdb: %w", err)
		}
		backend := storage.NewDuckDBBackend(db)
		if err := backend.CreateTable(ctx); err != nil {
			db.Close()
			return nil, err
		}
		return backend, nil
	default:
		return nil, fmt.Errorf("unknown storage type %q", sc.Type)
	}
}

// initAlerting builds the alert publishing chain: optional embedded broker,
// JetStream stream provisioning, circuit-broken watermill publisher, and the
// dispatcher that feeds it. The returned broker is nil when an external NATS
// server is used.
func initAlerting(ctx context.Context, cfg *config.Config) (*alert.Dispatcher, *alert.EmbeddedServer, error) {
	var broker *alert.EmbeddedServer
	url := cfg.NATS.URL
	if cfg.NATS.EmbeddedServer {
		srv, err := alert.NewEmbeddedServer(&alert.ServerConfig{
			Host:              cfg.NATS.Host,
			Port:              cfg.NATS.Port,
			StoreDir:          cfg.NATS.StoreDir,
			JetStreamMaxMem:   cfg.NATS.MaxMemory,
			JetStreamMaxStore: cfg.NATS.MaxStore,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("embedded broker: %w", err)
		}
		broker = srv
		url = srv.ClientURL()
		logging.Info().Str("url", url).Msg("Embedded NATS server started")
	}

	// Provision the alert stream up front so publishes never race stream
	// creation. A short-lived connection is enough.
	nc, err := nats.Connect(url)
	if err != nil {
		shutdownBroker(broker)
		return nil, nil, fmt.Errorf("connect to broker: %w", err)
	}
	streamCfg := alert.DefaultStreamConfig()
	manager, err := alert.NewStreamManager(nc, &streamCfg)
	if err != nil {
		nc.Close()
		shutdownBroker(broker)
		return nil, nil, err
	}
	if _, err := manager.EnsureStream(ctx); err != nil {
		nc.Close()
		shutdownBroker(broker)
		return nil, nil, fmt.Errorf("ensure alert stream: %w", err)
	}
	nc.Close()

	publisher, err := alert.NewNATSPublisher(
		alert.DefaultPublisherConfig(url),
		alert.NewWatermillLogger(logging.Logger()),
	)
	if err != nil {
		shutdownBroker(broker)
		return nil, nil, fmt.Errorf("alert publisher: %w", err)
	}
	publisher.SetCircuitBreaker(alert.NewCircuitBreaker(alert.DefaultCircuitBreakerConfig()))

	dispatcher := alert.NewDispatcher(publisher,
		alert.WithQueueSize(cfg.Alert.QueueSize),
		alert.WithRateLimit(cfg.Alert.RatePerSecond, cfg.Alert.RateBurst),
	)
	return dispatcher, broker, nil
}

func shutdownBroker(broker *alert.EmbeddedServer) {
	if broker == nil {
		return
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := broker.Shutdown(shutdownCtx); err != nil {
		logging.Error().Err(err).Msg("Error shutting down embedded broker")
	}
}
