// Commandeer - Session Command Audit for Remote-Access Gateways
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/commandeer

// Package query merges command records from heterogeneous storage backends
// into a single time-ordered, paginated result set.
package query

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/tomtom215/commandeer/internal/logging"
	"github.com/tomtom215/commandeer/internal/metrics"
	"github.com/tomtom215/commandeer/internal/models"
	"github.com/tomtom215/commandeer/internal/session"
	"github.com/tomtom215/commandeer/internal/storage"
)

// Defaults applied when the caller omits pagination or time range.
const (
	DefaultLookback    = 5 * 24 * time.Hour
	DefaultPageSize    = 50
	DefaultMaxPageSize = 1000
)

// Engine executes command queries against the storage registry, in either
// single-backend mode (storage_id given) or merge mode (fan out across all
// valid backends).
type Engine struct {
	registry *storage.Registry
	sessions session.Resolver

	lookback    time.Duration
	defaultPage int
	maxPage     int
}

// Option configures an Engine.
type Option func(*Engine)

// WithLookback overrides the default time window applied when the caller
// gives no date range.
func WithLookback(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.lookback = d
		}
	}
}

// WithPageSizes overrides the default and maximum page sizes.
func WithPageSizes(def, max int) Option {
	return func(e *Engine) {
		if def > 0 {
			e.defaultPage = def
		}
		if max > 0 {
			e.maxPage = max
		}
	}
}

// NewEngine creates a query engine over the given registry. The session
// resolver may be nil, in which case remote address enrichment is skipped.
func NewEngine(registry *storage.Registry, sessions session.Resolver, opts ...Option) *Engine {
	e := &Engine{
		registry:    registry,
		sessions:    sessions,
		lookback:    DefaultLookback,
		defaultPage: DefaultPageSize,
		maxPage:     DefaultMaxPageSize,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Normalize converts raw parameters into a storage filter plus resolved
// pagination and ordering. Invalid date values fall back to the default
// window rather than erroring, and a non-numeric risk level disables the
// risk filter.
func (e *Engine) Normalize(p Params) (storage.Filter, Pagination) {
	now := time.Now()

	from, okFrom := parseTimeParam(p.DateFrom)
	to, okTo := parseTimeParam(p.DateTo)
	if !okTo {
		to = float64(now.UnixNano()) / 1e9
	}
	if !okFrom {
		from = float64(now.Add(-e.lookback).UnixNano()) / 1e9
	}

	f := storage.Filter{
		DateFrom:   from,
		DateTo:     to,
		User:       p.User,
		Asset:      p.Asset,
		SystemUser: p.SystemUser,
		Session:    p.Session,
		Input:      p.Input,
		RiskLevel:  parseRiskLevel(p.RiskLevel),
		OrgID:      p.OrgID,
	}

	page := p.Page
	if page < 1 {
		page = 1
	}
	size := p.PageSize
	if size < 1 {
		size = e.defaultPage
	}
	if size > e.maxPage {
		size = e.maxPage
	}

	return f, Pagination{
		Page:      page,
		PageSize:  size,
		Ascending: p.Order == OrderTimestampAsc,
	}
}

// Pagination is the resolved page window and sort direction.
type Pagination struct {
	Page      int
	PageSize  int
	Ascending bool
}

// Execute runs the query. When p.StorageID is set the named backend serves
// its full result set in backend-native order, with no pagination window.
// Otherwise results from every valid backend are merged, sorted, and
// paginated as one collection. Backend failures in merge mode are skipped
// and counted rather than failing the whole query.
func (e *Engine) Execute(ctx context.Context, p Params) (*models.CommandPage, error) {
	filter, pg := e.Normalize(p)

	if p.StorageID != "" {
		records, err := e.querySingle(ctx, p.StorageID, filter)
		if err != nil {
			return nil, err
		}
		if records == nil {
			records = []models.CommandRecord{}
		}
		e.enrichRemoteAddrs(ctx, records)
		return &models.CommandPage{
			Total:    len(records),
			Page:     1,
			PageSize: len(records),
			Results:  records,
		}, nil
	}

	records, err := e.queryMerged(ctx, filter)
	if err != nil {
		return nil, err
	}

	sortRecords(records, pg.Ascending)
	metrics.MergeRecords.Observe(float64(len(records)))

	page := paginate(records, pg.Page, pg.PageSize)
	e.enrichRemoteAddrs(ctx, page)

	return &models.CommandPage{
		Total:    len(records),
		Page:     pg.Page,
		PageSize: pg.PageSize,
		Results:  page,
	}, nil
}

func (e *Engine) querySingle(ctx context.Context, storageID string, f storage.Filter) ([]models.CommandRecord, error) {
	backend, err := e.registry.Resolve(ctx, storageID)
	if err != nil {
		return nil, err
	}
	start := time.Now()
	records, err := backend.Query(ctx, f)
	metrics.ObserveBackendQuery(string(backend.Type()), start)
	if err != nil {
		return nil, fmt.Errorf("query storage %s: %w", storageID, err)
	}
	return records, nil
}

func (e *Engine) queryMerged(ctx context.Context, f storage.Filter) ([]models.CommandRecord, error) {
	var merged []models.CommandRecord
	for _, b := range e.registry.ValidBackends(ctx) {
		start := time.Now()
		records, err := b.Query(ctx, f)
		metrics.ObserveBackendQuery(string(b.Type()), start)
		if err != nil {
			metrics.MergeBackendsSkipped.Inc()
			logging.Ctx(ctx).Warn().
				Err(err).
				Str("backend", string(b.Type())).
				Msg("Skipping backend during merge query")
			continue
		}
		merged = append(merged, records...)
	}
	return merged, nil
}

func sortRecords(records []models.CommandRecord, ascending bool) {
	sort.SliceStable(records, func(i, j int) bool {
		if ascending {
			return records[i].Timestamp < records[j].Timestamp
		}
		return records[i].Timestamp > records[j].Timestamp
	})
}

// paginate slices out the requested page after the full merge. Pages past
// the end return an empty slice, never an error.
func paginate(records []models.CommandRecord, page, size int) []models.CommandRecord {
	start := (page - 1) * size
	if start >= len(records) {
		return []models.CommandRecord{}
	}
	end := start + size
	if end > len(records) {
		end = len(records)
	}
	out := make([]models.CommandRecord, end-start)
	copy(out, records[start:end])
	return out
}

// enrichRemoteAddrs fills RemoteAddr on the page records via a bulk session
// lookup. Sessions the resolver does not know stay empty, and resolver
// failures degrade to no enrichment rather than failing the query.
func (e *Engine) enrichRemoteAddrs(ctx context.Context, records []models.CommandRecord) {
	if e.sessions == nil || len(records) == 0 {
		return
	}

	ids := make([]string, 0, len(records))
	seen := make(map[string]struct{}, len(records))
	for i := range records {
		id := records[i].Session
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		return
	}

	addrs, err := e.sessions.LookupRemoteAddrs(ctx, ids)
	if err != nil {
		logging.Ctx(ctx).Warn().Err(err).Msg("Session remote address lookup failed")
		return
	}
	for i := range records {
		records[i].RemoteAddr = addrs[records[i].Session]
	}
}
