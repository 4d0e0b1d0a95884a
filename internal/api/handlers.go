// Commandeer - Session Command Audit for Remote-Access Gateways
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/commandeer

// Package api provides the HTTP surface: command ingestion, merged queries,
// HTML export, insecure-command alerting, and storage inspection.
package api

import (
	"github.com/tomtom215/commandeer/internal/alert"
	"github.com/tomtom215/commandeer/internal/export"
	"github.com/tomtom215/commandeer/internal/ingest"
	"github.com/tomtom215/commandeer/internal/query"
	"github.com/tomtom215/commandeer/internal/storage"
)

// Handler holds the dependencies shared by all HTTP handlers.
type Handler struct {
	engine    *query.Engine
	pipeline  *ingest.Pipeline
	registry  *storage.Registry
	evaluator *alert.Evaluator
	renderer  *export.Renderer

	// exportPageSize caps how many records one export renders.
	exportPageSize int
}

// HandlerOption configures a Handler.
type HandlerOption func(*Handler)

// WithExportPageSize caps the number of records an HTML export renders.
func WithExportPageSize(n int) HandlerOption {
	return func(h *Handler) {
		if n > 0 {
			h.exportPageSize = n
		}
	}
}

// DefaultExportPageSize bounds export size so one request cannot
// materialize an unbounded report.
const DefaultExportPageSize = 10000

// NewHandler wires the handler dependencies. The evaluator may be nil when
// alerting is disabled.
func NewHandler(
	engine *query.Engine,
	pipeline *ingest.Pipeline,
	registry *storage.Registry,
	evaluator *alert.Evaluator,
	renderer *export.Renderer,
	opts ...HandlerOption,
) *Handler {
	h := &Handler{
		engine:         engine,
		pipeline:       pipeline,
		registry:       registry,
		evaluator:      evaluator,
		renderer:       renderer,
		exportPageSize: DefaultExportPageSize,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}
