// Commandeer - Session Command Audit for Remote-Access Gateways
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/commandeer

// Package session provides the narrow boundary to the Session collaborator.
// The command core only ever needs the id → remote_addr projection.
package session

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/tomtom215/commandeer/internal/logging"
	"github.com/tomtom215/commandeer/internal/models"
)

// Resolver looks up remote addresses for a set of session ids. A session id
// with no match is simply absent from the returned map; callers treat that
// as an empty address, never as an error.
type Resolver interface {
	LookupRemoteAddrs(ctx context.Context, ids []string) (map[string]string, error)
}

// DuckDBResolver implements Resolver over a sessions table in DuckDB.
type DuckDBResolver struct {
	db *sql.DB
}

// NewDuckDBResolver creates a resolver over an existing connection.
func NewDuckDBResolver(db *sql.DB) *DuckDBResolver {
	return &DuckDBResolver{db: db}
}

// CreateTable creates the sessions table if it does not exist.
func (r *DuckDBResolver) CreateTable(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			remote_addr TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
		)
	`
	if _, err := r.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("failed to create sessions table: %w", err)
	}
	return nil
}

// Save upserts a session projection. Gateway components register the
// session when the remote connection is established.
func (r *DuckDBResolver) Save(ctx context.Context, s models.Session) error {
	query := `
		INSERT INTO sessions (id, remote_addr) VALUES (?, ?)
		ON CONFLICT (id) DO UPDATE SET remote_addr = EXCLUDED.remote_addr
	`
	if _, err := r.db.ExecContext(ctx, query, s.ID, s.RemoteAddr); err != nil {
		return fmt.Errorf("failed to save session %s: %w", s.ID, err)
	}
	return nil
}

// LookupRemoteAddrs performs one bulk lookup for the given session ids.
func (r *DuckDBResolver) LookupRemoteAddrs(ctx context.Context, ids []string) (map[string]string, error) {
	addrs := make(map[string]string, len(ids))
	if len(ids) == 0 {
		return addrs, nil
	}

	placeholders := make([]string, len(ids))
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		placeholders[i] = "?"
		args[i] = id
	}

	query := fmt.Sprintf(
		"SELECT id, remote_addr FROM sessions WHERE id IN (%s)",
		strings.Join(placeholders, ","),
	)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to look up sessions: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id, addr string
		if err := rows.Scan(&id, &addr); err != nil {
			logging.Warn().Err(err).Msg("Failed to scan session row")
			continue
		}
		addrs[id] = addr
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating sessions: %w", err)
	}
	return addrs, nil
}
