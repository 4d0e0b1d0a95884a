// Commandeer - Session Command Audit for Remote-Access Gateways
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/commandeer

// Package storage provides the command storage backend abstraction: a single
// Backend contract implemented per storage technology, and a Registry that
// tracks every configured backend plus the default one used for ingestion.
//
// Backends make no ordering promise for Query results; the query engine
// imposes order. Backends with a native result-set cap (the badger index
// backend) may truncate their match set; that truncation is a per-backend
// contract, documented on the implementation, not an engine concern.
package storage

import (
	"context"
	"errors"

	"github.com/tomtom215/commandeer/internal/models"
)

// BackendType identifies a storage technology.
type BackendType string

const (
	// BackendDuckDB is the relational backend, suitable as the durable
	// default store for ingestion.
	BackendDuckDB BackendType = "duckdb"

	// BackendBadger is the key-ordered index backend with a per-query
	// result cap.
	BackendBadger BackendType = "badger"
)

// Sentinel errors for backend resolution and persistence outcomes.
var (
	// ErrNotFound indicates a referenced storage id does not exist.
	ErrNotFound = errors.New("storage not found")

	// ErrStorageInvalid indicates a resolved backend failed its liveness
	// check. Client-visible and retryable later; never fatal to the process.
	ErrStorageInvalid = errors.New("storage invalid")

	// ErrWriteFailed indicates validation passed but the backend write
	// failed. Surfaced as a server-side failure, never swallowed.
	ErrWriteFailed = errors.New("storage write failed")
)

// Backend is a single typed store of command records.
//
// Implementations must be safe for concurrent use; this package adds no
// locking of its own around backend access.
type Backend interface {
	// Type returns the backend technology identifier.
	Type() BackendType

	// IsValid performs a liveness/config check. It never panics and
	// returns false on any failure. Validity is re-checked per request
	// because reachability can change at runtime.
	IsValid(ctx context.Context) bool

	// Query returns records matching the filter. Ordering is not
	// guaranteed; the caller imposes order.
	Query(ctx context.Context, f Filter) ([]models.CommandRecord, error)

	// BulkSave writes records best-effort per call. Partially-written
	// state on failure is backend-defined.
	BulkSave(ctx context.Context, records []models.CommandRecord) error

	// Close releases backend resources.
	Close() error
}
