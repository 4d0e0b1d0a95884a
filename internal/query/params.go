// Commandeer - Session Command Audit for Remote-Access Gateways
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/commandeer

package query

import (
	"strconv"
	"time"
)

// OrderTimestampAsc is the only explicit ordering a caller can request;
// anything else sorts by timestamp descending.
const OrderTimestampAsc = "timestamp"

// Params are the raw, untrusted query parameters as they arrive from the
// API. Normalize turns them into a storage.Filter.
type Params struct {
	// DateFrom/DateTo accept RFC3339 or unix seconds. When absent, the
	// range defaults to the configured lookback window ending now.
	DateFrom string
	DateTo   string

	User       string
	Asset      string
	SystemUser string
	Input      string
	Session    string

	// RiskLevel is applied only when the raw value is all digits; any
	// other value means "no filter", never an error.
	RiskLevel string

	// OrgID is taken from the trusted identity context; empty string is
	// the default/global scope.
	OrgID string

	// StorageID selects single-backend mode when non-empty.
	StorageID string

	// Order selects ascending timestamp order when equal to "timestamp";
	// the default is descending.
	Order string

	Page     int
	PageSize int
}

// parseRiskLevel returns the numeric risk filter, or nil when the raw value
// is absent or not entirely digits.
func parseRiskLevel(raw string) *int {
	if raw == "" || !isDigits(raw) {
		return nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return nil
	}
	return &n
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return len(s) > 0
}

// parseTimeParam accepts RFC3339 or unix seconds (integer or fractional).
// Returns 0, false when the value is absent or unparseable.
func parseTimeParam(raw string) (float64, bool) {
	if raw == "" {
		return 0, false
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return float64(t.UnixNano()) / 1e9, true
	}
	if f, err := strconv.ParseFloat(raw, 64); err == nil && f > 0 {
		return f, true
	}
	return 0, false
}
