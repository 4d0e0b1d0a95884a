// Commandeer - Session Command Audit for Remote-Access Gateways
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/commandeer

package api

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/commandeer/internal/export"
	"github.com/tomtom215/commandeer/internal/ingest"
	"github.com/tomtom215/commandeer/internal/logging"
	"github.com/tomtom215/commandeer/internal/middleware"
	"github.com/tomtom215/commandeer/internal/models"
	"github.com/tomtom215/commandeer/internal/query"
	"github.com/tomtom215/commandeer/internal/storage"
)

// queryParams builds engine parameters from the request. The session filter
// accepts both session and session_id for compatibility with older agents.
func queryParams(r *http.Request) query.Params {
	q := r.URL.Query()
	session := q.Get("session")
	if session == "" {
		session = q.Get("session_id")
	}
	return query.Params{
		DateFrom:   q.Get("date_from"),
		DateTo:     q.Get("date_to"),
		User:       q.Get("user"),
		Asset:      q.Get("asset"),
		SystemUser: q.Get("system_user"),
		Input:      q.Get("input"),
		Session:    session,
		RiskLevel:  q.Get("risk_level"),
		StorageID:  q.Get("storage_id"),
		Order:      q.Get("order"),
		Page:       getIntParam(r, "page", 1),
		PageSize:   getIntParam(r, "page_size", 0),
		OrgID:      middleware.OrgIDFromContext(r.Context()),
	}
}

// ListCommands handles GET /api/v1/terminal/commands.
// Without storage_id it merges results from every valid backend; with it,
// only the named backend is queried.
func (h *Handler) ListCommands(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	page, err := h.engine.Execute(r.Context(), queryParams(r))
	if err != nil {
		h.respondStorageError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, &models.APIResponse{
		Status: "success",
		Data:   page,
		Metadata: models.Metadata{
			Timestamp:   time.Now(),
			QueryTimeMS: time.Since(start).Milliseconds(),
		},
	})
}

// CreateCommands handles POST /api/v1/terminal/commands.
// The batch is all-or-nothing: any invalid item rejects every item and
// reports per-item outcomes.
func (h *Handler) CreateCommands(w http.ResponseWriter, r *http.Request) {
	var batch []ingest.RawCommand
	if err := json.NewDecoder(r.Body).Decode(&batch); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_JSON", "Request body must be a JSON array of commands", err)
		return
	}

	orgID := middleware.OrgIDFromContext(r.Context())
	records, err := h.pipeline.Submit(r.Context(), orgID, batch)
	if err != nil {
		var batchErr *ingest.BatchValidationError
		switch {
		case errors.As(err, &batchErr):
			respondErrorDetails(w, http.StatusBadRequest, "VALIDATION_ERROR",
				batchErr.Error(), map[string]interface{}{"results": batchErr.Results}, nil)
		case errors.Is(err, storage.ErrWriteFailed):
			respondError(w, http.StatusInternalServerError, "STORAGE_WRITE_FAILED",
				"Failed to persist command batch", err)
		default:
			h.respondStorageError(w, err)
		}
		return
	}

	if h.evaluator != nil {
		h.evaluator.Evaluate(r.Context(), records)
	}

	respondJSON(w, http.StatusCreated, &models.APIResponse{
		Status: "success",
		Data:   "ok",
		Metadata: models.Metadata{
			Timestamp: time.Now(),
		},
	})
}

// ExportCommands handles GET /api/v1/terminal/commands/export.
// It runs the same query as ListCommands and renders the current page as a
// downloadable HTML report.
func (h *Handler) ExportCommands(w http.ResponseWriter, r *http.Request) {
	params := queryParams(r)
	if params.PageSize == 0 {
		params.PageSize = h.exportPageSize
	}

	page, err := h.engine.Execute(r.Context(), params)
	if err != nil {
		h.respondStorageError(w, err)
		return
	}

	threshold := models.RiskLevelDangerous
	if h.evaluator != nil {
		threshold = h.evaluator.Threshold()
	}

	filename := export.Filename(time.Now())
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))

	if err := h.renderer.Render(w, page.Results, threshold); err != nil {
		// Headers are already written; all we can do is log.
		logging.Ctx(r.Context()).Error().Err(err).Msg("Report rendering failed")
	}
}

// InsecureCommandAlert handles POST /api/v1/terminal/commands/insecure.
// External components submit commands they consider risky; each one meeting
// the threshold is alerted. Always responds 204.
func (h *Handler) InsecureCommandAlert(w http.ResponseWriter, r *http.Request) {
	var records []models.CommandRecord
	if err := json.NewDecoder(r.Body).Decode(&records); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_JSON", "Request body must be a JSON array of commands", err)
		return
	}

	orgID := middleware.OrgIDFromContext(r.Context())
	for i := range records {
		if records[i].OrgID == "" {
			records[i].OrgID = orgID
		}
	}

	if h.evaluator != nil {
		h.evaluator.Evaluate(r.Context(), records)
	}

	w.WriteHeader(http.StatusNoContent)
}

// respondStorageError maps storage sentinel errors to HTTP statuses.
func (h *Handler) respondStorageError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		respondError(w, http.StatusNotFound, "STORAGE_NOT_FOUND", "Unknown storage backend", err)
	case errors.Is(err, storage.ErrStorageInvalid):
		respondError(w, http.StatusServiceUnavailable, "STORAGE_INVALID", "Storage backend is not available", err)
	default:
		respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Query failed", err)
	}
}
