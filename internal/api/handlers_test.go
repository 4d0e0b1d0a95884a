// Commandeer - Session Command Audit for Remote-Access Gateways
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/commandeer

package api

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/commandeer/internal/alert"
	"github.com/tomtom215/commandeer/internal/export"
	"github.com/tomtom215/commandeer/internal/ingest"
	"github.com/tomtom215/commandeer/internal/models"
	"github.com/tomtom215/commandeer/internal/query"
	"github.com/tomtom215/commandeer/internal/storage"
)

type memBackend struct {
	typ     storage.BackendType
	valid   bool
	records []models.CommandRecord
}

func (m *memBackend) Type() storage.BackendType { return m.typ }
func (m *memBackend) IsValid(context.Context) bool {
	return m.valid
}
func (m *memBackend) Query(_ context.Context, f storage.Filter) ([]models.CommandRecord, error) {
	var out []models.CommandRecord
	for i := range m.records {
		if f.Matches(&m.records[i]) {
			out = append(out, m.records[i])
		}
	}
	return out, nil
}
func (m *memBackend) BulkSave(_ context.Context, recs []models.CommandRecord) error {
	m.records = append(m.records, recs...)
	return nil
}
func (m *memBackend) Close() error { return nil }

type captureSink struct {
	alerts []alert.CommandAlert
}

func (c *captureSink) Enqueue(a alert.CommandAlert) bool {
	c.alerts = append(c.alerts, a)
	return true
}

type testEnv struct {
	server  *httptest.Server
	primary *memBackend
	sink    *captureSink
}

func newTestEnv(t *testing.T, extra ...*memBackend) *testEnv {
	t.Helper()

	primary := &memBackend{typ: storage.BackendDuckDB, valid: true}
	reg := storage.NewRegistry()
	if err := reg.Register(storage.Descriptor{
		ID: "primary", Name: "Primary", Type: storage.BackendDuckDB, Default: true,
	}, primary); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	for i, b := range extra {
		desc := storage.Descriptor{ID: "extra-" + string(rune('a'+i)), Name: "Extra", Type: b.typ}
		if err := reg.Register(desc, b); err != nil {
			t.Fatalf("Register() error = %v", err)
		}
	}

	sink := &captureSink{}
	renderer, err := export.NewRenderer()
	if err != nil {
		t.Fatalf("NewRenderer() error = %v", err)
	}

	h := NewHandler(
		query.NewEngine(reg, nil),
		ingest.NewPipeline(reg),
		reg,
		alert.NewEvaluator(5, sink),
		renderer,
	)
	router := NewRouter(h, RouterConfig{
		CORSOrigins:       []string{"*"},
		RateLimitDisabled: true,
	})

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return &testEnv{server: srv, primary: primary, sink: sink}
}

func decodeResponse(t *testing.T, resp *http.Response) *models.APIResponse {
	t.Helper()
	defer resp.Body.Close()
	var out models.APIResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return &out
}

func postJSON(t *testing.T, url string, body interface{}) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal body: %v", err)
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	return resp
}

func validBatch(n int) []ingest.RawCommand {
	now := float64(time.Now().Unix())
	batch := make([]ingest.RawCommand, n)
	for i := range batch {
		batch[i] = ingest.RawCommand{
			User:       "alice",
			Asset:      "web-1",
			SystemUser: "root",
			Session:    "sess-1",
			Input:      "ls -la",
			Timestamp:  now - float64(i),
			RiskLevel:  1,
		}
	}
	return batch
}

func TestCreateCommandsReturnsCreated(t *testing.T) {
	env := newTestEnv(t)

	resp := postJSON(t, env.server.URL+"/api/v1/terminal/commands", validBatch(2))
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d, want 201", resp.StatusCode)
	}
	out := decodeResponse(t, resp)
	if out.Status != "success" || out.Data != "ok" {
		t.Errorf("body = %+v, want success/ok", out)
	}
	if len(env.primary.records) != 2 {
		t.Errorf("stored %d records, want 2", len(env.primary.records))
	}
}

func TestCreateCommandsRejectsInvalidItem(t *testing.T) {
	env := newTestEnv(t)

	batch := validBatch(3)
	batch[1].Input = ""
	resp := postJSON(t, env.server.URL+"/api/v1/terminal/commands", batch)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
	out := decodeResponse(t, resp)
	if out.Error == nil || out.Error.Code != "VALIDATION_ERROR" {
		t.Fatalf("error = %+v, want VALIDATION_ERROR", out.Error)
	}
	if len(env.primary.records) != 0 {
		t.Errorf("stored %d records, want 0 on rejection", len(env.primary.records))
	}

	details, ok := out.Error.Details.(map[string]interface{})
	if !ok {
		t.Fatalf("details type = %T, want map", out.Error.Details)
	}
	results, ok := details["results"].([]interface{})
	if !ok || len(results) != 3 {
		t.Errorf("details.results = %v, want 3 per-item outcomes", details["results"])
	}
}

func TestCreateCommandsMalformedJSON(t *testing.T) {
	env := newTestEnv(t)

	resp, err := http.Post(env.server.URL+"/api/v1/terminal/commands",
		"application/json", strings.NewReader("{not json"))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
	out := decodeResponse(t, resp)
	if out.Error == nil || out.Error.Code != "INVALID_JSON" {
		t.Errorf("error = %+v, want INVALID_JSON", out.Error)
	}
}

func TestCreateCommandsTriggersAlerts(t *testing.T) {
	env := newTestEnv(t)

	batch := validBatch(2)
	batch[0].RiskLevel = 6
	resp := postJSON(t, env.server.URL+"/api/v1/terminal/commands", batch)
	resp.Body.Close()

	if len(env.sink.alerts) != 1 {
		t.Fatalf("alerts = %d, want 1", len(env.sink.alerts))
	}
	if env.sink.alerts[0].RiskLevel != 6 {
		t.Errorf("alert risk = %d, want 6", env.sink.alerts[0].RiskLevel)
	}
}

func TestListCommandsReturnsIngested(t *testing.T) {
	env := newTestEnv(t)
	postJSON(t, env.server.URL+"/api/v1/terminal/commands", validBatch(3)).Body.Close()

	resp, err := http.Get(env.server.URL + "/api/v1/terminal/commands")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	out := decodeResponse(t, resp)

	data, err := json.Marshal(out.Data)
	if err != nil {
		t.Fatalf("remarshal data: %v", err)
	}
	var page models.CommandPage
	if err := json.Unmarshal(data, &page); err != nil {
		t.Fatalf("unmarshal page: %v", err)
	}
	if page.Total != 3 {
		t.Errorf("Total = %d, want 3", page.Total)
	}
	// Default order is newest first.
	for i := 1; i < len(page.Results); i++ {
		if page.Results[i-1].Timestamp < page.Results[i].Timestamp {
			t.Errorf("results not in descending timestamp order at %d", i)
		}
	}
}

func TestListCommandsUnknownStorage(t *testing.T) {
	env := newTestEnv(t)

	resp, err := http.Get(env.server.URL + "/api/v1/terminal/commands?storage_id=nope")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
	out := decodeResponse(t, resp)
	if out.Error == nil || out.Error.Code != "STORAGE_NOT_FOUND" {
		t.Errorf("error = %+v, want STORAGE_NOT_FOUND", out.Error)
	}
}

func TestListCommandsInvalidStorage(t *testing.T) {
	dead := &memBackend{typ: storage.BackendBadger, valid: false}
	env := newTestEnv(t, dead)

	resp, err := http.Get(env.server.URL + "/api/v1/terminal/commands?storage_id=extra-a")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", resp.StatusCode)
	}
	out := decodeResponse(t, resp)
	if out.Error == nil || out.Error.Code != "STORAGE_INVALID" {
		t.Errorf("error = %+v, want STORAGE_INVALID", out.Error)
	}
}

func TestExportCommandsDownloadsHTML(t *testing.T) {
	env := newTestEnv(t)
	postJSON(t, env.server.URL+"/api/v1/terminal/commands", validBatch(1)).Body.Close()

	resp, err := http.Get(env.server.URL + "/api/v1/terminal/commands/export")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	cd := resp.Header.Get("Content-Disposition")
	if !strings.Contains(cd, "command-report-") || !strings.Contains(cd, ".html") {
		t.Errorf("Content-Disposition = %q, want command-report-<unix>.html", cd)
	}
	buf := new(bytes.Buffer)
	if _, err := buf.ReadFrom(resp.Body); err != nil {
		t.Fatalf("read body: %v", err)
	}
	if !strings.Contains(buf.String(), "Command Audit Report") {
		t.Error("report body missing title")
	}
}

func TestInsecureCommandAlert(t *testing.T) {
	env := newTestEnv(t)

	batch := []models.CommandRecord{{
		ID: "cmd-1", User: "bob", Asset: "db-1", Session: "s1",
		Input: "rm -rf /", Timestamp: float64(time.Now().Unix()), RiskLevel: 8,
	}}
	resp := postJSON(t, env.server.URL+"/api/v1/terminal/commands/insecure", batch)
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", resp.StatusCode)
	}
	if len(env.sink.alerts) != 1 {
		t.Fatalf("alerts = %d, want 1", len(env.sink.alerts))
	}

	// Below threshold: still 204, no alert.
	batch[0].RiskLevel = 2
	resp = postJSON(t, env.server.URL+"/api/v1/terminal/commands/insecure", batch)
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", resp.StatusCode)
	}
	if len(env.sink.alerts) != 1 {
		t.Errorf("alerts = %d, want still 1", len(env.sink.alerts))
	}
}

func TestListStorages(t *testing.T) {
	dead := &memBackend{typ: storage.BackendBadger, valid: false}
	env := newTestEnv(t, dead)

	resp, err := http.Get(env.server.URL + "/api/v1/terminal/storages")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	out := decodeResponse(t, resp)

	data, _ := json.Marshal(out.Data)
	var statuses []storageStatus
	if err := json.Unmarshal(data, &statuses); err != nil {
		t.Fatalf("unmarshal storages: %v", err)
	}
	if len(statuses) != 2 {
		t.Fatalf("len(statuses) = %d, want 2", len(statuses))
	}
	if !statuses[0].Valid || !statuses[0].Default {
		t.Errorf("primary status = %+v, want valid default", statuses[0])
	}
	if statuses[1].Valid {
		t.Errorf("dead backend reported valid")
	}
}

func TestOrgScopeIsolation(t *testing.T) {
	env := newTestEnv(t)

	// Ingest under org-a.
	data, _ := json.Marshal(validBatch(1))
	req, _ := http.NewRequest(http.MethodPost,
		env.server.URL+"/api/v1/terminal/commands", bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Org-ID", "org-a")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	resp.Body.Close()

	// Query under org-b sees nothing.
	req, _ = http.NewRequest(http.MethodGet, env.server.URL+"/api/v1/terminal/commands", nil)
	req.Header.Set("X-Org-ID", "org-b")
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	out := decodeResponse(t, resp)
	pageData, _ := json.Marshal(out.Data)
	var page models.CommandPage
	if err := json.Unmarshal(pageData, &page); err != nil {
		t.Fatalf("unmarshal page: %v", err)
	}
	if page.Total != 0 {
		t.Errorf("cross-org query Total = %d, want 0", page.Total)
	}
}

func TestHealthEndpoints(t *testing.T) {
	env := newTestEnv(t)

	for _, path := range []string{"/api/v1/health/live", "/api/v1/health/ready", "/api/v1/health"} {
		resp, err := http.Get(env.server.URL + path)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Errorf("GET %s status = %d, want 200", path, resp.StatusCode)
		}
	}
}
