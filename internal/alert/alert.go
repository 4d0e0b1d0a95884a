// Commandeer - Session Command Audit for Remote-Access Gateways
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/commandeer

// Package alert evaluates ingested commands against a risk threshold and
// delivers insecure-command alerts over NATS JetStream. Delivery is
// asynchronous: the ingest path enqueues and returns, a dispatcher drains
// the queue, and publish failures never propagate back to the caller.
package alert

import (
	"fmt"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/commandeer/internal/models"
)

// DefaultRiskThreshold matches models.RiskLevelDangerous: commands at or
// above this level trigger an alert.
const DefaultRiskThreshold = models.RiskLevelDangerous

// CommandAlert is the wire payload published for one risky command.
type CommandAlert struct {
	CommandID  string  `json:"command_id"`
	User       string  `json:"user"`
	Asset      string  `json:"asset"`
	SystemUser string  `json:"system_user"`
	Session    string  `json:"session"`
	Input      string  `json:"input"`
	RiskLevel  int     `json:"risk_level"`
	OrgID      string  `json:"org_id,omitempty"`
	Timestamp  float64 `json:"timestamp"`
	EmittedAt  string  `json:"emitted_at"`
}

// NewCommandAlert builds the alert payload for a command record.
func NewCommandAlert(rec *models.CommandRecord) CommandAlert {
	return CommandAlert{
		CommandID:  rec.ID,
		User:       rec.User,
		Asset:      rec.Asset,
		SystemUser: rec.SystemUser,
		Session:    rec.Session,
		Input:      rec.Input,
		RiskLevel:  rec.RiskLevel,
		OrgID:      rec.OrgID,
		Timestamp:  rec.Timestamp,
		EmittedAt:  time.Now().UTC().Format(time.RFC3339),
	}
}

// Topic returns the NATS subject for this alert.
func (a CommandAlert) Topic() string {
	org := a.OrgID
	if org == "" {
		org = "default"
	}
	return fmt.Sprintf("alerts.command.%s", org)
}

// Serialize encodes the alert as JSON.
func (a CommandAlert) Serialize() ([]byte, error) {
	data, err := json.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("serialize alert: %w", err)
	}
	return data, nil
}

// DeserializeAlert decodes an alert payload.
func DeserializeAlert(data []byte) (*CommandAlert, error) {
	var a CommandAlert
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, fmt.Errorf("deserialize alert: %w", err)
	}
	return &a, nil
}
