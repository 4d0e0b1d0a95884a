// Commandeer - Session Command Audit for Remote-Access Gateways
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/commandeer

package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/tomtom215/commandeer/internal/logging"
	"github.com/tomtom215/commandeer/internal/models"
)

// DuckDBBackend implements Backend using DuckDB for durable relational
// storage. This is the default backend used by the ingestion pipeline.
type DuckDBBackend struct {
	db *sql.DB
}

// NewDuckDBBackend creates a DuckDB-backed command store over an existing
// connection. The caller owns the connection lifecycle when sharing it with
// other components; Close here only closes the handle it was given.
func NewDuckDBBackend(db *sql.DB) *DuckDBBackend {
	return &DuckDBBackend{db: db}
}

// CreateTable creates the session_commands table and its indexes if they do
// not exist. Called once during startup.
func (b *DuckDBBackend) CreateTable(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS session_commands (
			id TEXT PRIMARY KEY,
			org_id TEXT NOT NULL DEFAULT '',
			"user" TEXT NOT NULL,
			asset TEXT NOT NULL,
			system_user TEXT NOT NULL,
			session TEXT NOT NULL,
			input TEXT NOT NULL,
			output TEXT,
			timestamp DOUBLE NOT NULL,
			risk_level INTEGER NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
		);

		CREATE INDEX IF NOT EXISTS idx_commands_timestamp ON session_commands(timestamp DESC);
		CREATE INDEX IF NOT EXISTS idx_commands_session ON session_commands(session);
		CREATE INDEX IF NOT EXISTS idx_commands_user ON session_commands("user");
		CREATE INDEX IF NOT EXISTS idx_commands_asset ON session_commands(asset);
		CREATE INDEX IF NOT EXISTS idx_commands_risk_level ON session_commands(risk_level);
		CREATE INDEX IF NOT EXISTS idx_commands_org_id ON session_commands(org_id);
	`

	for _, stmt := range strings.Split(query, ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := b.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to execute schema statement: %w", err)
		}
	}

	logging.Info().Msg("Session commands table created/verified")
	return nil
}

// Type returns the backend technology identifier.
func (b *DuckDBBackend) Type() BackendType {
	return BackendDuckDB
}

// IsValid reports whether the database is reachable.
func (b *DuckDBBackend) IsValid(ctx context.Context) bool {
	if b.db == nil {
		return false
	}
	if err := b.db.PingContext(ctx); err != nil {
		logging.Debug().Err(err).Msg("DuckDB backend liveness check failed")
		return false
	}
	return true
}

// Query returns records matching the filter. No ordering is imposed here;
// the query engine sorts merged results itself.
func (b *DuckDBBackend) Query(ctx context.Context, f Filter) ([]models.CommandRecord, error) {
	query, args := buildCommandQuery(f)

	rows, err := b.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query session commands: %w", err)
	}
	defer rows.Close()

	var records []models.CommandRecord
	for rows.Next() {
		var rec models.CommandRecord
		var output sql.NullString
		err := rows.Scan(
			&rec.ID, &rec.OrgID, &rec.User, &rec.Asset, &rec.SystemUser,
			&rec.Session, &rec.Input, &output, &rec.Timestamp, &rec.RiskLevel,
		)
		if err != nil {
			logging.Warn().Err(err).Msg("Failed to scan command row")
			continue
		}
		if output.Valid {
			rec.Output = output.String
		}
		records = append(records, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating session commands: %w", err)
	}
	return records, nil
}

// BulkSave writes the batch inside a single transaction. DuckDB gives this
// backend per-call atomicity, which is stronger than the Backend contract
// requires.
func (b *DuckDBBackend) BulkSave(ctx context.Context, records []models.CommandRecord) error {
	if len(records) == 0 {
		return nil
	}

	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO session_commands (
			id, org_id, "user", asset, system_user, session, input, output, timestamp, risk_level
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for i := range records {
		rec := &records[i]
		_, err := stmt.ExecContext(ctx,
			rec.ID, rec.OrgID, rec.User, rec.Asset, rec.SystemUser,
			rec.Session, rec.Input, rec.Output, rec.Timestamp, rec.RiskLevel,
		)
		if err != nil {
			return fmt.Errorf("failed to insert command %s: %w", rec.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit command batch: %w", err)
	}
	return nil
}

// Close closes the underlying connection handle.
func (b *DuckDBBackend) Close() error {
	if b.db == nil {
		return nil
	}
	return b.db.Close()
}

// buildCommandQuery constructs the SELECT statement and its arguments from
// the normalized filter.
func buildCommandQuery(f Filter) (string, []interface{}) {
	var conditions []string
	var args []interface{}

	// Org scope is always applied; empty string is the default org.
	conditions = append(conditions, "org_id = ?")
	args = append(args, f.OrgID)

	if f.DateFrom > 0 {
		conditions = append(conditions, "timestamp >= ?")
		args = append(args, f.DateFrom)
	}
	if f.DateTo > 0 {
		conditions = append(conditions, "timestamp <= ?")
		args = append(args, f.DateTo)
	}

	conditions, args = appendStringCondition(conditions, args, `"user"`, f.User)
	conditions, args = appendStringCondition(conditions, args, "asset", f.Asset)
	conditions, args = appendStringCondition(conditions, args, "system_user", f.SystemUser)
	conditions, args = appendStringCondition(conditions, args, "session", f.Session)

	if f.Input != "" {
		conditions = append(conditions, "LOWER(input) LIKE ?")
		args = append(args, "%"+strings.ToLower(f.Input)+"%")
	}
	if f.RiskLevel != nil {
		conditions = append(conditions, "risk_level = ?")
		args = append(args, *f.RiskLevel)
	}

	query := `
		SELECT id, org_id, "user", asset, system_user, session, input, output, timestamp, risk_level
		FROM session_commands
		WHERE ` + strings.Join(conditions, " AND ")

	return query, args
}

// appendStringCondition adds an equality condition when value is non-empty.
func appendStringCondition(conditions []string, args []interface{}, column, value string) ([]string, []interface{}) {
	if value != "" {
		conditions = append(conditions, column+" = ?")
		args = append(args, value)
	}
	return conditions, args
}
