// Commandeer - Session Command Audit for Remote-Access Gateways
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/commandeer

package middleware

import (
	"context"
	"net/http"
)

const orgIDKey contextKey = "org_id"

// DefaultOrgHeader is the header the gateway sets after authenticating
// the caller. An empty value means global scope.
const DefaultOrgHeader = "X-Org-ID"

// OrgScope reads the organization ID from the trusted gateway header and
// places it in the request context. The gateway terminates authentication
// upstream, so the header is taken at face value here.
func OrgScope(header string) func(http.Handler) http.Handler {
	if header == "" {
		header = DefaultOrgHeader
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := context.WithValue(r.Context(), orgIDKey, r.Header.Get(header))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// OrgIDFromContext returns the organization scope for the request, or the
// empty string for global scope.
func OrgIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(orgIDKey).(string); ok {
		return id
	}
	return ""
}
