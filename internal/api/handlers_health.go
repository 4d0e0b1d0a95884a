// Commandeer - Session Command Audit for Remote-Access Gateways
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/commandeer

package api

import (
	"net/http"
	"time"

	"github.com/tomtom215/commandeer/internal/models"
)

// HealthLive handles GET /api/v1/health/live. It answers as soon as the
// process serves HTTP.
func (h *Handler) HealthLive(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, &models.APIResponse{
		Status: "success",
		Data:   map[string]string{"status": "alive"},
		Metadata: models.Metadata{
			Timestamp: time.Now(),
		},
	})
}

// HealthReady handles GET /api/v1/health/ready. Ready means the default
// storage backend passes its liveness check; degraded secondary backends
// do not fail readiness.
func (h *Handler) HealthReady(w http.ResponseWriter, r *http.Request) {
	if _, err := h.registry.Default(r.Context()); err != nil {
		respondError(w, http.StatusServiceUnavailable, "NOT_READY", "Default storage backend unavailable", err)
		return
	}

	respondJSON(w, http.StatusOK, &models.APIResponse{
		Status: "success",
		Data:   map[string]string{"status": "ready"},
		Metadata: models.Metadata{
			Timestamp: time.Now(),
		},
	})
}

// Health handles GET /api/v1/health and reports per-backend state.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	statuses := h.registry.ListAll(r.Context())

	healthy := true
	backends := make(map[string]bool, len(statuses))
	for _, s := range statuses {
		backends[s.Descriptor.ID] = s.Valid
		if s.Descriptor.Default && !s.Valid {
			healthy = false
		}
	}

	status := http.StatusOK
	state := "healthy"
	if !healthy {
		status = http.StatusServiceUnavailable
		state = "degraded"
	}

	respondJSON(w, status, &models.APIResponse{
		Status: "success",
		Data: map[string]interface{}{
			"status":   state,
			"backends": backends,
		},
		Metadata: models.Metadata{
			Timestamp: time.Now(),
		},
	})
}
