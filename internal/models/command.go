// Commandeer - Session Command Audit for Remote-Access Gateways
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/commandeer

// Package models defines the shared data types exchanged between the storage
// backends, the query engine, and the HTTP API.
package models

import "time"

// Risk levels attached to commands at ingestion time. Comparisons are always
// numeric; higher means riskier.
const (
	RiskLevelNormal    = 0
	RiskLevelDangerous = 5
)

// CommandRecord is one captured command execution on a managed asset.
//
// Records are created exclusively by the ingestion pipeline and are immutable
// once written. Timestamp is the sole sort key for ordering. RemoteAddr is
// never stored on the record itself; it is joined in from the owning session
// and attached only in memory for API responses.
type CommandRecord struct {
	ID         string  `json:"id"`
	User       string  `json:"user"`
	Asset      string  `json:"asset"`
	SystemUser string  `json:"system_user"`
	Session    string  `json:"session"`
	Input      string  `json:"input"`
	Output     string  `json:"output"` // base64-encoded, binary safe
	Timestamp  float64 `json:"timestamp"`
	RiskLevel  int     `json:"risk_level"`
	OrgID      string  `json:"org_id,omitempty"` // empty = default/global org

	// RemoteAddr is a transient field enriched from the Session collaborator.
	RemoteAddr string `json:"remote_addr,omitempty"`
}

// Time converts the unix-seconds timestamp to time.Time.
func (c *CommandRecord) Time() time.Time {
	sec := int64(c.Timestamp)
	nsec := int64((c.Timestamp - float64(sec)) * 1e9)
	return time.Unix(sec, nsec).UTC()
}

// Session is the owning collaborator entity for a command record. Only the
// id → remote_addr projection is needed by this service.
type Session struct {
	ID         string `json:"id"`
	RemoteAddr string `json:"remote_addr"`
}
