// Commandeer - Session Command Audit for Remote-Access Gateways
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/commandeer

package storage

import (
	"context"
	"fmt"

	"github.com/tomtom215/commandeer/internal/logging"
)

// Descriptor is the configuration of one backend: identity, technology, and
// whether it is the ingestion default.
type Descriptor struct {
	ID      string      `json:"id"`
	Name    string      `json:"name"`
	Type    BackendType `json:"type"`
	Default bool        `json:"is_default"`
}

// DescriptorStatus pairs a descriptor with its validity at a point in time.
// Validity is re-checked on every listing, never cached across requests.
type DescriptorStatus struct {
	Descriptor
	Valid bool `json:"is_valid"`
}

// registryEntry keeps registration order for deterministic fan-out.
type registryEntry struct {
	descriptor Descriptor
	backend    Backend
}

// Registry enumerates all configured storage backends. It is constructed
// once at process start and injected into the query engine, the ingestion
// pipeline, and the API; there is no hidden global lookup.
//
// The registry itself is immutable after construction; per-request validity
// checks go straight to the backends.
type Registry struct {
	entries   []registryEntry
	byID      map[string]int
	defaultID string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{byID: make(map[string]int)}
}

// Register adds a backend under its descriptor. Exactly one descriptor may
// be marked default.
func (r *Registry) Register(d Descriptor, b Backend) error {
	if d.ID == "" {
		return fmt.Errorf("storage descriptor requires an id")
	}
	if _, exists := r.byID[d.ID]; exists {
		return fmt.Errorf("duplicate storage id %q", d.ID)
	}
	if d.Default {
		if r.defaultID != "" {
			return fmt.Errorf("default storage already set to %q, cannot also set %q", r.defaultID, d.ID)
		}
		r.defaultID = d.ID
	}

	r.byID[d.ID] = len(r.entries)
	r.entries = append(r.entries, registryEntry{descriptor: d, backend: b})

	logging.Info().
		Str("storage_id", d.ID).
		Str("type", string(d.Type)).
		Bool("default", d.Default).
		Msg("Storage backend registered")
	return nil
}

// ListAll returns every configured descriptor with its current validity.
func (r *Registry) ListAll(ctx context.Context) []DescriptorStatus {
	statuses := make([]DescriptorStatus, 0, len(r.entries))
	for _, e := range r.entries {
		statuses = append(statuses, DescriptorStatus{
			Descriptor: e.descriptor,
			Valid:      e.backend.IsValid(ctx),
		})
	}
	return statuses
}

// Resolve returns the backend for the given id. It fails with ErrNotFound
// when the id is unknown and with ErrStorageInvalid when the backend exists
// but fails its liveness check at resolution time.
func (r *Registry) Resolve(ctx context.Context, id string) (Backend, error) {
	idx, ok := r.byID[id]
	if !ok {
		return nil, fmt.Errorf("storage %q: %w", id, ErrNotFound)
	}
	e := r.entries[idx]
	if !e.backend.IsValid(ctx) {
		return nil, fmt.Errorf("storage %q: %w", id, ErrStorageInvalid)
	}
	return e.backend, nil
}

// Default returns the backend selected for ingestion.
func (r *Registry) Default(ctx context.Context) (Backend, error) {
	if r.defaultID == "" {
		return nil, fmt.Errorf("no default storage configured: %w", ErrNotFound)
	}
	return r.Resolve(ctx, r.defaultID)
}

// DefaultID returns the default backend id, empty if none is configured.
func (r *Registry) DefaultID() string {
	return r.defaultID
}

// ValidBackends returns, in registration order, the backends that currently
// pass their liveness check.
func (r *Registry) ValidBackends(ctx context.Context) []Backend {
	var backends []Backend
	for _, e := range r.entries {
		if e.backend.IsValid(ctx) {
			backends = append(backends, e.backend)
		} else {
			logging.Debug().Str("storage_id", e.descriptor.ID).Msg("Skipping invalid backend")
		}
	}
	return backends
}

// Close closes every registered backend, returning the first error.
func (r *Registry) Close() error {
	var firstErr error
	for _, e := range r.entries {
		if err := e.backend.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
