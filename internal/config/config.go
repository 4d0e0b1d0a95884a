// Commandeer - Session Command Audit for Remote-Access Gateways
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/commandeer

// Package config defines the service configuration and its layered loader.
// Precedence is ENV > config file > built-in defaults.
package config

import (
	"fmt"
	"time"
)

// Config is the root configuration for the service.
type Config struct {
	Server   ServerConfig    `koanf:"server"`
	Database DatabaseConfig  `koanf:"database"`
	Storages []StorageConfig `koanf:"storages"`
	Query    QueryConfig     `koanf:"query"`
	Alert    AlertConfig     `koanf:"alert"`
	NATS     NATSConfig      `koanf:"nats"`
	Security SecurityConfig  `koanf:"security"`
	Logging  LoggingConfig   `koanf:"logging"`
}

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	Host    string        `koanf:"host"`
	Port    int           `koanf:"port"`
	Timeout time.Duration `koanf:"timeout"`
}

// DatabaseConfig controls the primary DuckDB database, which holds the
// default command store and the session table.
type DatabaseConfig struct {
	Path      string `koanf:"path"`
	MaxMemory string `koanf:"max_memory"`
	Threads   int    `koanf:"threads"`
}

// StorageConfig declares one additional command storage backend. The
// primary DuckDB store is always registered; entries here add to it.
type StorageConfig struct {
	ID          string `koanf:"id"`
	Name        string `koanf:"name"`
	Type        string `koanf:"type"`
	Path        string `koanf:"path"`
	InMemory    bool   `koanf:"in_memory"`
	ResultLimit int    `koanf:"result_limit"`
	Default     bool   `koanf:"default"`
}

// QueryConfig tunes the query engine.
type QueryConfig struct {
	LookbackDays    int `koanf:"lookback_days"`
	DefaultPageSize int `koanf:"default_page_size"`
	MaxPageSize     int `koanf:"max_page_size"`
}

// AlertConfig controls insecure-command alerting.
type AlertConfig struct {
	Enabled       bool    `koanf:"enabled"`
	RiskThreshold int     `koanf:"risk_threshold"`
	QueueSize     int     `koanf:"queue_size"`
	RatePerSecond float64 `koanf:"rate_per_second"`
	RateBurst     int     `koanf:"rate_burst"`
}

// NATSConfig controls the alert transport.
type NATSConfig struct {
	URL            string `koanf:"url"`
	EmbeddedServer bool   `koanf:"embedded_server"`
	Host           string `koanf:"host"`
	Port           int    `koanf:"port"`
	StoreDir       string `koanf:"store_dir"`
	MaxMemory      int64  `koanf:"max_memory"`
	MaxStore       int64  `koanf:"max_store"`
}

// SecurityConfig controls the request-level protections. Authentication
// terminates at the gateway; this service only rate-limits and scopes.
type SecurityConfig struct {
	RateLimitReqs     int           `koanf:"rate_limit_reqs"`
	RateLimitWindow   time.Duration `koanf:"rate_limit_window"`
	RateLimitDisabled bool          `koanf:"rate_limit_disabled"`
	CORSOrigins       []string      `koanf:"cors_origins"`
	OrgHeader         string        `koanf:"org_header"`
}

// LoggingConfig controls the zerolog output.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	Caller bool   `koanf:"caller"`
}

// defaultConfig returns the built-in defaults, applied before file and
// environment layers.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:    "0.0.0.0",
			Port:    8085,
			Timeout: 30 * time.Second,
		},
		Database: DatabaseConfig{
			Path:      "/data/commandeer.duckdb",
			MaxMemory: "1GB",
			Threads:   0,
		},
		Storages: nil,
		Query: QueryConfig{
			LookbackDays:    5,
			DefaultPageSize: 50,
			MaxPageSize:     1000,
		},
		Alert: AlertConfig{
			Enabled:       true,
			RiskThreshold: 5,
			QueueSize:     1024,
			RatePerSecond: 0,
			RateBurst:     1,
		},
		NATS: NATSConfig{
			URL:            "nats://127.0.0.1:4222",
			EmbeddedServer: true,
			Host:           "127.0.0.1",
			Port:           4222,
			StoreDir:       "/data/nats/jetstream",
			MaxMemory:      1 << 30,
			MaxStore:       4 << 30,
		},
		Security: SecurityConfig{
			RateLimitReqs:     100,
			RateLimitWindow:   1 * time.Minute,
			RateLimitDisabled: false,
			CORSOrigins:       []string{"*"},
			OrgHeader:         "X-Org-ID",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Caller: false,
		},
	}
}

// Validate checks the configuration for values that would fail later in
// less obvious ways.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database.path must not be empty")
	}
	if c.Query.LookbackDays < 1 {
		return fmt.Errorf("query.lookback_days must be at least 1")
	}
	if c.Query.DefaultPageSize < 1 || c.Query.MaxPageSize < c.Query.DefaultPageSize {
		return fmt.Errorf("query page sizes invalid: default %d, max %d",
			c.Query.DefaultPageSize, c.Query.MaxPageSize)
	}
	if c.Alert.Enabled && c.Alert.RiskThreshold < 1 {
		return fmt.Errorf("alert.risk_threshold must be at least 1 when alerting is enabled")
	}

	seen := make(map[string]struct{}, len(c.Storages))
	defaults := 0
	for i, s := range c.Storages {
		if s.ID == "" {
			return fmt.Errorf("storages[%d].id must not be empty", i)
		}
		if _, dup := seen[s.ID]; dup {
			return fmt.Errorf("storages[%d].id %q duplicated", i, s.ID)
		}
		seen[s.ID] = struct{}{}
		switch s.Type {
		case "duckdb", "badger":
		default:
			return fmt.Errorf("storages[%d].type %q unsupported (duckdb, badger)", i, s.Type)
		}
		if s.Path == "" && !s.InMemory {
			return fmt.Errorf("storages[%d].path required for on-disk storage", i)
		}
		if s.Default {
			defaults++
		}
	}
	if defaults > 1 {
		return fmt.Errorf("at most one storage may be marked default")
	}
	return nil
}

// Lookback returns the query lookback window as a duration.
func (c *Config) Lookback() time.Duration {
	return time.Duration(c.Query.LookbackDays) * 24 * time.Hour
}
