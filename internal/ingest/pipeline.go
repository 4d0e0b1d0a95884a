// Commandeer - Session Command Audit for Remote-Access Gateways
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/commandeer

// Package ingest accepts batches of raw command records, validates every
// item, and writes accepted batches to the default storage backend. A batch
// is all-or-nothing: one malformed item rejects the whole batch with
// per-item outcomes, and nothing is written.
package ingest

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/tomtom215/commandeer/internal/logging"
	"github.com/tomtom215/commandeer/internal/metrics"
	"github.com/tomtom215/commandeer/internal/models"
	"github.com/tomtom215/commandeer/internal/storage"
	"github.com/tomtom215/commandeer/internal/validation"
)

// RawCommand is one untrusted item from a bulk ingest request.
type RawCommand struct {
	ID         string  `json:"id" validate:"omitempty,uuid4"`
	User       string  `json:"user" validate:"required"`
	Asset      string  `json:"asset" validate:"required"`
	SystemUser string  `json:"system_user" validate:"required"`
	Session    string  `json:"session" validate:"required"`
	Input      string  `json:"input" validate:"required"`
	Output     string  `json:"output" validate:"omitempty,base64"`
	Timestamp  float64 `json:"timestamp" validate:"gt=0"`
	RiskLevel  int     `json:"risk_level" validate:"min=0,max=10"`
}

// ItemResult is the per-item outcome reported when a batch is rejected.
type ItemResult struct {
	Index  int      `json:"index"`
	Valid  bool     `json:"valid"`
	Errors []string `json:"errors,omitempty"`
}

// BatchValidationError carries the outcome for every item in a rejected
// batch, valid items included.
type BatchValidationError struct {
	Results []ItemResult
}

func (e *BatchValidationError) Error() string {
	invalid := 0
	for _, r := range e.Results {
		if !r.Valid {
			invalid++
		}
	}
	return fmt.Sprintf("batch rejected: %d of %d items invalid", invalid, len(e.Results))
}

// Pipeline validates and persists command batches.
type Pipeline struct {
	registry *storage.Registry
}

// NewPipeline creates an ingest pipeline writing to the registry's default
// backend.
func NewPipeline(registry *storage.Registry) *Pipeline {
	return &Pipeline{registry: registry}
}

// Submit validates the batch and persists it when every item passes.
// On validation failure it returns *BatchValidationError with one outcome
// per item and writes nothing. Accepted records are returned with IDs
// assigned where the caller left them empty.
func (p *Pipeline) Submit(ctx context.Context, orgID string, batch []RawCommand) ([]models.CommandRecord, error) {
	if len(batch) == 0 {
		return nil, &BatchValidationError{Results: []ItemResult{}}
	}

	results := make([]ItemResult, len(batch))
	allValid := true
	for i := range batch {
		results[i] = ItemResult{Index: i, Valid: true}
		if verr := validation.ValidateStruct(&batch[i]); verr != nil {
			results[i].Valid = false
			results[i].Errors = verr.Messages()
			allValid = false
		}
	}
	if !allValid {
		metrics.IngestValidationFailures.Inc()
		return nil, &BatchValidationError{Results: results}
	}

	records := make([]models.CommandRecord, len(batch))
	for i, raw := range batch {
		id := raw.ID
		if id == "" {
			id = uuid.NewString()
		}
		records[i] = models.CommandRecord{
			ID:         id,
			User:       raw.User,
			Asset:      raw.Asset,
			SystemUser: raw.SystemUser,
			Session:    raw.Session,
			Input:      raw.Input,
			Output:     raw.Output,
			Timestamp:  raw.Timestamp,
			RiskLevel:  raw.RiskLevel,
			OrgID:      orgID,
		}
	}

	backend, err := p.registry.Default(ctx)
	if err != nil {
		return nil, err
	}
	if err := backend.BulkSave(ctx, records); err != nil {
		metrics.IngestWriteFailures.Inc()
		return nil, fmt.Errorf("%w: %v", storage.ErrWriteFailed, err)
	}

	metrics.CommandsIngested.Add(float64(len(records)))
	logging.Ctx(ctx).Debug().
		Int("count", len(records)).
		Str("org_id", orgID).
		Msg("Command batch persisted")

	return records, nil
}
