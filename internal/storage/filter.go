// Commandeer - Session Command Audit for Remote-Access Gateways
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/commandeer

package storage

import (
	"strings"

	"github.com/tomtom215/commandeer/internal/models"
)

// Filter is the normalized query applied uniformly to every backend.
//
// The query engine builds it from raw request parameters: the date range is
// always populated (defaulted to the lookback window when absent), string
// fields are exact matches when non-empty, Input is a case-insensitive
// substring match, and RiskLevel is nil when no numeric filter was supplied.
type Filter struct {
	DateFrom float64 // unix seconds, inclusive
	DateTo   float64 // unix seconds, inclusive

	User       string
	Asset      string
	SystemUser string
	Session    string
	Input      string // substring match on command input
	RiskLevel  *int
	OrgID      string // empty = default/global org
}

// Matches reports whether a record satisfies the filter. Backends without a
// native query language (badger) use it for in-process filtering; it is also
// the reference semantics the SQL backends must agree with.
func (f Filter) Matches(rec *models.CommandRecord) bool {
	if f.DateFrom > 0 && rec.Timestamp < f.DateFrom {
		return false
	}
	if f.DateTo > 0 && rec.Timestamp > f.DateTo {
		return false
	}
	if f.User != "" && rec.User != f.User {
		return false
	}
	if f.Asset != "" && rec.Asset != f.Asset {
		return false
	}
	if f.SystemUser != "" && rec.SystemUser != f.SystemUser {
		return false
	}
	if f.Session != "" && rec.Session != f.Session {
		return false
	}
	if f.Input != "" && !strings.Contains(strings.ToLower(rec.Input), strings.ToLower(f.Input)) {
		return false
	}
	if f.RiskLevel != nil && rec.RiskLevel != *f.RiskLevel {
		return false
	}
	if rec.OrgID != f.OrgID {
		return false
	}
	return true
}
