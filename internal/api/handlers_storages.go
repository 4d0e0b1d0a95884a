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

// storageStatus is one entry of the storage listing.
type storageStatus struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Type    string `json:"type"`
	Default bool   `json:"default"`
	Valid   bool   `json:"valid"`
}

// ListStorages handles GET /api/v1/terminal/storages.
// Validity is re-checked on every call so operators see live state.
func (h *Handler) ListStorages(w http.ResponseWriter, r *http.Request) {
	statuses := h.registry.ListAll(r.Context())

	out := make([]storageStatus, len(statuses))
	for i, s := range statuses {
		out[i] = storageStatus{
			ID:      s.Descriptor.ID,
			Name:    s.Descriptor.Name,
			Type:    string(s.Descriptor.Type),
			Default: s.Descriptor.Default,
			Valid:   s.Valid,
		}
	}

	respondJSON(w, http.StatusOK, &models.APIResponse{
		Status: "success",
		Data:   out,
		Metadata: models.Metadata{
			Timestamp: time.Now(),
		},
	})
}
