// Commandeer - Session Command Audit for Remote-Access Gateways
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/commandeer

package query

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/tomtom215/commandeer/internal/models"
	"github.com/tomtom215/commandeer/internal/storage"
)

type fakeBackend struct {
	typ     storage.BackendType
	valid   bool
	records []models.CommandRecord
	err     error
	queries int
	limit   int
}

func (f *fakeBackend) Type() storage.BackendType { return f.typ }
func (f *fakeBackend) IsValid(context.Context) bool {
	return f.valid
}
func (f *fakeBackend) Query(_ context.Context, filter storage.Filter) ([]models.CommandRecord, error) {
	f.queries++
	if f.err != nil {
		return nil, f.err
	}
	var out []models.CommandRecord
	for i := range f.records {
		if filter.Matches(&f.records[i]) {
			out = append(out, f.records[i])
			if f.limit > 0 && len(out) >= f.limit {
				break
			}
		}
	}
	return out, nil
}
func (f *fakeBackend) BulkSave(_ context.Context, recs []models.CommandRecord) error {
	f.records = append(f.records, recs...)
	return nil
}
func (f *fakeBackend) Close() error { return nil }

type fakeResolver struct {
	addrs map[string]string
	err   error
	calls [][]string
}

func (f *fakeResolver) LookupRemoteAddrs(_ context.Context, ids []string) (map[string]string, error) {
	f.calls = append(f.calls, ids)
	if f.err != nil {
		return nil, f.err
	}
	out := make(map[string]string)
	for _, id := range ids {
		if addr, ok := f.addrs[id]; ok {
			out[id] = addr
		}
	}
	return out, nil
}

func record(id string, ts float64) models.CommandRecord {
	return models.CommandRecord{
		ID:        id,
		User:      "alice",
		Asset:     "web-1",
		Session:   "sess-" + id,
		Input:     "ls -la",
		Timestamp: ts,
		RiskLevel: models.RiskLevelNormal,
	}
}

func newTestRegistry(t *testing.T, backends ...*fakeBackend) *storage.Registry {
	t.Helper()
	reg := storage.NewRegistry()
	for i, b := range backends {
		desc := storage.Descriptor{
			ID:      fmt.Sprintf("store-%d", i),
			Name:    fmt.Sprintf("Store %d", i),
			Type:    b.typ,
			Default: i == 0,
		}
		if err := reg.Register(desc, b); err != nil {
			t.Fatalf("Register() error = %v", err)
		}
	}
	return reg
}

func TestExecuteMergeSortsDescendingByDefault(t *testing.T) {
	now := float64(time.Now().Unix())
	b1 := &fakeBackend{typ: storage.BackendDuckDB, valid: true, records: []models.CommandRecord{
		record("a", now-10), record("b", now-30),
	}}
	b2 := &fakeBackend{typ: storage.BackendBadger, valid: true, records: []models.CommandRecord{
		record("c", now-20),
	}}

	engine := NewEngine(newTestRegistry(t, b1, b2), nil)
	page, err := engine.Execute(context.Background(), Params{})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	if page.Total != 3 {
		t.Fatalf("Total = %d, want 3", page.Total)
	}
	got := []string{page.Results[0].ID, page.Results[1].ID, page.Results[2].ID}
	want := []string{"a", "c", "b"}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Results[%d].ID = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestExecuteAscendingOrder(t *testing.T) {
	now := float64(time.Now().Unix())
	b := &fakeBackend{typ: storage.BackendDuckDB, valid: true, records: []models.CommandRecord{
		record("late", now-5), record("early", now-50),
	}}

	engine := NewEngine(newTestRegistry(t, b), nil)
	page, err := engine.Execute(context.Background(), Params{Order: OrderTimestampAsc})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if page.Results[0].ID != "early" {
		t.Errorf("Results[0].ID = %q, want %q", page.Results[0].ID, "early")
	}
}

func TestExecutePaginatesAfterMerge(t *testing.T) {
	now := float64(time.Now().Unix())
	var recs1, recs2 []models.CommandRecord
	for i := 0; i < 5; i++ {
		recs1 = append(recs1, record(fmt.Sprintf("a%d", i), now-float64(i*2)))
		recs2 = append(recs2, record(fmt.Sprintf("b%d", i), now-float64(i*2+1)))
	}
	b1 := &fakeBackend{typ: storage.BackendDuckDB, valid: true, records: recs1}
	b2 := &fakeBackend{typ: storage.BackendBadger, valid: true, records: recs2}

	engine := NewEngine(newTestRegistry(t, b1, b2), nil)

	page2, err := engine.Execute(context.Background(), Params{Page: 2, PageSize: 3})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if page2.Total != 10 {
		t.Fatalf("Total = %d, want 10", page2.Total)
	}
	if len(page2.Results) != 3 {
		t.Fatalf("len(Results) = %d, want 3", len(page2.Results))
	}
	// The newest six records interleave a and b; page 2 starts at the
	// fourth newest overall.
	want := []string{"b1", "a2", "b2"}
	for i := range want {
		if page2.Results[i].ID != want[i] {
			t.Errorf("Results[%d].ID = %q, want %q", i, page2.Results[i].ID, want[i])
		}
	}
}

func TestExecutePagePastEndReturnsEmpty(t *testing.T) {
	b := &fakeBackend{typ: storage.BackendDuckDB, valid: true, records: []models.CommandRecord{
		record("only", float64(time.Now().Unix())),
	}}
	engine := NewEngine(newTestRegistry(t, b), nil)

	page, err := engine.Execute(context.Background(), Params{Page: 5, PageSize: 10})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if page.Total != 1 {
		t.Errorf("Total = %d, want 1", page.Total)
	}
	if len(page.Results) != 0 {
		t.Errorf("len(Results) = %d, want 0", len(page.Results))
	}
}

func TestExecuteMergeSkipsFailingBackend(t *testing.T) {
	now := float64(time.Now().Unix())
	good := &fakeBackend{typ: storage.BackendDuckDB, valid: true, records: []models.CommandRecord{
		record("ok", now),
	}}
	bad := &fakeBackend{typ: storage.BackendBadger, valid: true, err: errors.New("boom")}

	engine := NewEngine(newTestRegistry(t, good, bad), nil)
	page, err := engine.Execute(context.Background(), Params{})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if page.Total != 1 {
		t.Errorf("Total = %d, want 1", page.Total)
	}
}

func TestExecuteMergeExcludesInvalidBackend(t *testing.T) {
	now := float64(time.Now().Unix())
	live := &fakeBackend{typ: storage.BackendDuckDB, valid: true, records: []models.CommandRecord{
		record("live", now),
	}}
	dead := &fakeBackend{typ: storage.BackendBadger, valid: false, records: []models.CommandRecord{
		record("dead", now),
	}}

	engine := NewEngine(newTestRegistry(t, live, dead), nil)
	page, err := engine.Execute(context.Background(), Params{})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if page.Total != 1 || page.Results[0].ID != "live" {
		t.Errorf("got %d records, want only the live backend's record", page.Total)
	}
	if dead.queries != 0 {
		t.Errorf("invalid backend queried %d times, want 0", dead.queries)
	}
}

func TestExecuteSingleBackendMode(t *testing.T) {
	now := float64(time.Now().Unix())
	b1 := &fakeBackend{typ: storage.BackendDuckDB, valid: true, records: []models.CommandRecord{
		record("first", now),
	}}
	b2 := &fakeBackend{typ: storage.BackendBadger, valid: true, records: []models.CommandRecord{
		record("second", now),
	}}

	engine := NewEngine(newTestRegistry(t, b1, b2), nil)
	page, err := engine.Execute(context.Background(), Params{StorageID: "store-1"})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if page.Total != 1 || page.Results[0].ID != "second" {
		t.Errorf("single-backend mode returned wrong records: %+v", page.Results)
	}
	if b1.queries != 0 {
		t.Errorf("other backend queried %d times, want 0", b1.queries)
	}
}

func TestExecuteSingleBackendReturnsFullSet(t *testing.T) {
	now := float64(time.Now().Unix())
	var recs []models.CommandRecord
	for i := 0; i < 60; i++ {
		recs = append(recs, record(fmt.Sprintf("r%02d", i), now-float64(60-i)))
	}
	b := &fakeBackend{typ: storage.BackendDuckDB, valid: true, records: recs}

	engine := NewEngine(newTestRegistry(t, b), nil)
	page, err := engine.Execute(context.Background(), Params{StorageID: "store-0"})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if page.Total != 60 {
		t.Fatalf("Total = %d, want 60", page.Total)
	}
	if len(page.Results) != 60 {
		t.Fatalf("len(Results) = %d, want the full set of 60", len(page.Results))
	}
	// Backend-native order is preserved: oldest first here, the opposite of
	// the merge-mode default, so any re-sort would flip it.
	if page.Results[0].ID != "r00" || page.Results[59].ID != "r59" {
		t.Errorf("Results order = [%s ... %s], want backend order [r00 ... r59]",
			page.Results[0].ID, page.Results[59].ID)
	}
}

func TestExecuteMergeStableForEqualTimestamps(t *testing.T) {
	now := float64(time.Now().Unix())
	b1 := &fakeBackend{typ: storage.BackendDuckDB, valid: true, records: []models.CommandRecord{
		record("first-a", now), record("first-b", now),
	}}
	b2 := &fakeBackend{typ: storage.BackendBadger, valid: true, records: []models.CommandRecord{
		record("second-a", now), record("second-b", now),
	}}

	engine := NewEngine(newTestRegistry(t, b1, b2), nil)
	page, err := engine.Execute(context.Background(), Params{})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if page.Total != 4 {
		t.Fatalf("Total = %d, want 4", page.Total)
	}
	// Equal timestamps keep registration order across backends.
	want := []string{"first-a", "first-b", "second-a", "second-b"}
	for i := range want {
		if page.Results[i].ID != want[i] {
			t.Errorf("Results[%d].ID = %q, want %q", i, page.Results[i].ID, want[i])
		}
	}
}

func TestExecuteSingleBackendUnknownID(t *testing.T) {
	b := &fakeBackend{typ: storage.BackendDuckDB, valid: true}
	engine := NewEngine(newTestRegistry(t, b), nil)

	_, err := engine.Execute(context.Background(), Params{StorageID: "missing"})
	if !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("Execute() error = %v, want ErrNotFound", err)
	}
}

func TestExecuteSingleBackendInvalid(t *testing.T) {
	b := &fakeBackend{typ: storage.BackendDuckDB, valid: false}
	engine := NewEngine(newTestRegistry(t, b), nil)

	_, err := engine.Execute(context.Background(), Params{StorageID: "store-0"})
	if !errors.Is(err, storage.ErrStorageInvalid) {
		t.Fatalf("Execute() error = %v, want ErrStorageInvalid", err)
	}
	if b.queries != 0 {
		t.Errorf("invalid backend queried %d times, want 0", b.queries)
	}
}

func TestExecuteEnrichesRemoteAddrs(t *testing.T) {
	now := float64(time.Now().Unix())
	b := &fakeBackend{typ: storage.BackendDuckDB, valid: true, records: []models.CommandRecord{
		record("x", now), record("y", now-1),
	}}
	resolver := &fakeResolver{addrs: map[string]string{"sess-x": "10.0.0.9"}}

	engine := NewEngine(newTestRegistry(t, b), resolver)
	page, err := engine.Execute(context.Background(), Params{})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if page.Results[0].RemoteAddr != "10.0.0.9" {
		t.Errorf("RemoteAddr = %q, want %q", page.Results[0].RemoteAddr, "10.0.0.9")
	}
	// Unknown sessions stay empty instead of erroring.
	if page.Results[1].RemoteAddr != "" {
		t.Errorf("RemoteAddr = %q, want empty", page.Results[1].RemoteAddr)
	}
}

func TestExecuteEnrichmentFailureDegrades(t *testing.T) {
	b := &fakeBackend{typ: storage.BackendDuckDB, valid: true, records: []models.CommandRecord{
		record("x", float64(time.Now().Unix())),
	}}
	resolver := &fakeResolver{err: errors.New("db down")}

	engine := NewEngine(newTestRegistry(t, b), resolver)
	page, err := engine.Execute(context.Background(), Params{})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if page.Results[0].RemoteAddr != "" {
		t.Errorf("RemoteAddr = %q, want empty on resolver failure", page.Results[0].RemoteAddr)
	}
}

func TestNormalizeDefaults(t *testing.T) {
	engine := NewEngine(storage.NewRegistry(), nil)
	before := time.Now()
	f, pg := engine.Normalize(Params{})
	after := time.Now()

	wantFromLow := float64(before.Add(-DefaultLookback).UnixNano())/1e9 - 1
	wantFromHigh := float64(after.Add(-DefaultLookback).UnixNano())/1e9 + 1
	if f.DateFrom < wantFromLow || f.DateFrom > wantFromHigh {
		t.Errorf("DateFrom = %f, want about %d days ago", f.DateFrom, 5)
	}
	if pg.Page != 1 || pg.PageSize != DefaultPageSize {
		t.Errorf("pagination = %+v, want page 1 size %d", pg, DefaultPageSize)
	}
	if pg.Ascending {
		t.Error("Ascending = true, want descending by default")
	}
}

func TestNormalizeRiskLevel(t *testing.T) {
	engine := NewEngine(storage.NewRegistry(), nil)

	tests := []struct {
		raw  string
		want *int
	}{
		{"5", intPtr(5)},
		{"0", intPtr(0)},
		{"", nil},
		{"high", nil},
		{"5x", nil},
		{"-1", nil},
	}
	for _, tt := range tests {
		f, _ := engine.Normalize(Params{RiskLevel: tt.raw})
		if (f.RiskLevel == nil) != (tt.want == nil) {
			t.Errorf("Normalize(risk=%q) filter = %v, want %v", tt.raw, f.RiskLevel, tt.want)
			continue
		}
		if tt.want != nil && *f.RiskLevel != *tt.want {
			t.Errorf("Normalize(risk=%q) = %d, want %d", tt.raw, *f.RiskLevel, *tt.want)
		}
	}
}

func TestNormalizeDateFormats(t *testing.T) {
	engine := NewEngine(storage.NewRegistry(), nil)

	rfc := "2026-08-20T12:00:00Z"
	wantTS := float64(time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC).Unix())

	f, _ := engine.Normalize(Params{DateFrom: rfc})
	if f.DateFrom != wantTS {
		t.Errorf("RFC3339 DateFrom = %f, want %f", f.DateFrom, wantTS)
	}

	f, _ = engine.Normalize(Params{DateFrom: "1765432100"})
	if f.DateFrom != 1765432100 {
		t.Errorf("unix DateFrom = %f, want 1765432100", f.DateFrom)
	}
}

func TestNormalizePageSizeClamped(t *testing.T) {
	engine := NewEngine(storage.NewRegistry(), nil, WithPageSizes(25, 100))

	_, pg := engine.Normalize(Params{PageSize: 5000})
	if pg.PageSize != 100 {
		t.Errorf("PageSize = %d, want clamped to 100", pg.PageSize)
	}
	_, pg = engine.Normalize(Params{})
	if pg.PageSize != 25 {
		t.Errorf("PageSize = %d, want default 25", pg.PageSize)
	}
}

func TestExecuteRespectsTruncatingBackend(t *testing.T) {
	now := float64(time.Now().Unix())
	var recs []models.CommandRecord
	for i := 0; i < 30; i++ {
		recs = append(recs, record(fmt.Sprintf("r%d", i), now-float64(i)))
	}
	capped := &fakeBackend{typ: storage.BackendBadger, valid: true, records: recs, limit: 10}
	full := &fakeBackend{typ: storage.BackendDuckDB, valid: true, records: []models.CommandRecord{
		record("full", now+1),
	}}

	engine := NewEngine(newTestRegistry(t, full, capped), nil)
	page, err := engine.Execute(context.Background(), Params{PageSize: 100})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if page.Total != 11 {
		t.Errorf("Total = %d, want 11 (capped backend contributes at most 10)", page.Total)
	}
}

func intPtr(n int) *int { return &n }
