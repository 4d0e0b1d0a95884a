// Commandeer - Session Command Audit for Remote-Access Gateways
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/commandeer

package storage

import (
	"context"
	"fmt"
	"math"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"

	"github.com/tomtom215/commandeer/internal/logging"
	"github.com/tomtom215/commandeer/internal/models"
)

// commandKeyPrefix namespaces command records in the badger keyspace.
const commandKeyPrefix = "cmd:"

// DefaultBadgerResultLimit is the per-query result cap applied when a
// descriptor does not configure one. It mirrors the fixed default page of
// the search-index stores this backend stands in for.
const DefaultBadgerResultLimit = 10

// BadgerBackend implements Backend on BadgerDB with key-ordered records.
//
// Keys are laid out as cmd:<org>:<inverted-ts>:<id> so iteration yields
// newest records first within an org scope without a separate index.
//
// Result-set truncation contract: Query returns at most resultLimit matching
// records per call. Callers merging across backends inherit this bound; the
// query engine accepts the truncation rather than working around it.
type BadgerBackend struct {
	db          *badger.DB
	resultLimit int
}

// BadgerOptions configures a badger backend.
type BadgerOptions struct {
	// Path is the on-disk directory. Ignored when InMemory is set.
	Path string

	// InMemory runs the store without persistence, for tests and dev.
	InMemory bool

	// ResultLimit caps the match set returned per query.
	// Zero means DefaultBadgerResultLimit.
	ResultLimit int
}

// NewBadgerBackend opens (or creates) a badger-backed command store.
func NewBadgerBackend(opts BadgerOptions) (*BadgerBackend, error) {
	limit := opts.ResultLimit
	if limit <= 0 {
		limit = DefaultBadgerResultLimit
	}

	badgerOpts := badger.DefaultOptions(opts.Path).
		WithInMemory(opts.InMemory).
		WithLogger(nil)

	db, err := badger.Open(badgerOpts)
	if err != nil {
		return nil, fmt.Errorf("open badger store: %w", err)
	}

	return &BadgerBackend{db: db, resultLimit: limit}, nil
}

// Type returns the backend technology identifier.
func (b *BadgerBackend) Type() BackendType {
	return BackendBadger
}

// IsValid reports whether the store is open and readable.
func (b *BadgerBackend) IsValid(ctx context.Context) bool {
	if b.db == nil || b.db.IsClosed() {
		return false
	}
	err := b.db.View(func(txn *badger.Txn) error {
		return ctx.Err()
	})
	if err != nil {
		logging.Debug().Err(err).Msg("Badger backend liveness check failed")
		return false
	}
	return true
}

// Query iterates the org-scoped key range newest-first, filtering in process.
// At most resultLimit records are returned per call (see the truncation
// contract on BadgerBackend).
func (b *BadgerBackend) Query(ctx context.Context, f Filter) ([]models.CommandRecord, error) {
	prefix := []byte(commandKeyPrefix + f.OrgID + ":")

	var records []models.CommandRecord
	err := b.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{
			Prefix:         prefix,
			PrefetchValues: true,
			PrefetchSize:   100,
		})
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			if len(records) >= b.resultLimit {
				break
			}

			var rec models.CommandRecord
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &rec)
			})
			if err != nil {
				logging.Warn().Err(err).Msg("Skipping undecodable command record")
				continue
			}
			if f.Matches(&rec) {
				records = append(records, rec)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("query badger store: %w", err)
	}
	return records, nil
}

// BulkSave writes the batch through a badger write batch. Atomicity across
// the whole batch is not promised; a failure may leave earlier records
// committed.
func (b *BadgerBackend) BulkSave(ctx context.Context, records []models.CommandRecord) error {
	if len(records) == 0 {
		return nil
	}

	wb := b.db.NewWriteBatch()
	defer wb.Cancel()

	for i := range records {
		if err := ctx.Err(); err != nil {
			return err
		}
		rec := &records[i]

		data, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("marshal command %s: %w", rec.ID, err)
		}
		if err := wb.Set(commandKey(rec), data); err != nil {
			return fmt.Errorf("batch command %s: %w", rec.ID, err)
		}
	}

	if err := wb.Flush(); err != nil {
		return fmt.Errorf("flush command batch: %w", err)
	}
	return nil
}

// Close closes the underlying store.
func (b *BadgerBackend) Close() error {
	if b.db == nil || b.db.IsClosed() {
		return nil
	}
	return b.db.Close()
}

// commandKey builds the key-ordered key for a record. The timestamp is
// inverted (at millisecond precision) so lexical iteration is newest-first.
func commandKey(rec *models.CommandRecord) []byte {
	inverted := math.MaxInt64 - int64(rec.Timestamp*1000)
	return []byte(fmt.Sprintf("%s%s:%020d:%s", commandKeyPrefix, rec.OrgID, inverted, rec.ID))
}
