// StateSync - Multi-Backend Media Watch State Reconciliation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/statesync

/*
Package store is the local system of record: canonical items kept in
BadgerDB and found again through their identifier pointers.

Key layout:

	item:<id>        JSON encoded state.Item
	ptr:<pointer>    local id, one key per Item.Pointers and Item.RelativePointers

Items handed to Add are staged in memory and written by Commit in one pass,
so an Import run touches the database once per batch instead of once per
item. Commit merges each staged item into any stored item sharing a pointer
(state.Item.Apply) or inserts it under a new id.
*/
package store

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/tomtom215/statesync/internal/config"
	"github.com/tomtom215/statesync/internal/logging"
	"github.com/tomtom215/statesync/internal/metrics"
	"github.com/tomtom215/statesync/internal/reconcile"
	"github.com/tomtom215/statesync/internal/state"
)

// ErrClosed is returned by every operation after Close.
var ErrClosed = errors.New("store closed")

const (
	itemPrefix    = "item:"
	pointerPrefix = "ptr:"
)

// Summary buckets written by Commit.
const (
	BucketAdded     = "added"
	BucketUpdated   = "updated"
	BucketUnchanged = "unchanged"
	BucketFailed    = "failed"
)

type staged struct {
	backend string
	item    *state.Item
	// id is used if the item turns out to be new. It is fixed at Add so a
	// retry after a transaction split rewrites the same record.
	id string
}

// Store implements reconcile.Mapper on BadgerDB.
type Store struct {
	db *badger.DB

	// mu serializes Add/Commit and guards closed.
	mu     sync.Mutex
	staged []staged
	closed bool
}

var _ reconcile.Mapper = (*Store)(nil)

// Open opens the store at cfg.Path, or an in-memory store when
// cfg.InMemory is set.
func Open(cfg config.StoreConfig) (*Store, error) {
	opts := badger.DefaultOptions(cfg.Path)
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	}
	opts.Logger = newBadgerLogger()

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	logging.Info().
		Str("path", cfg.Path).
		Bool("in_memory", cfg.InMemory).
		Msg("Store opened")
	return &Store{db: db}, nil
}

// Close flushes and closes the database. Staged items are dropped.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if n := len(s.staged); n > 0 {
		logging.Warn().Int("items", n).Msg("Store closed with uncommitted items")
	}
	s.staged = nil
	return s.db.Close()
}

func (s *Store) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Add stages item as reported by backend. Nothing is written until Commit.
func (s *Store) Add(_ context.Context, backend string, item *state.Item) error {
	if item == nil {
		return errors.New("nil item")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.staged = append(s.staged, staged{backend: backend, item: item.Clone(), id: uuid.NewString()})
	return nil
}

// Pending returns the number of staged items.
func (s *Store) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.staged)
}

// Commit writes every staged item and returns per type counters. Items are
// written in order, so a later item in the same batch sees the earlier one.
func (s *Store) Commit(ctx context.Context) (state.Summary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}

	batch := s.staged
	s.staged = nil
	summary := state.Summary{}
	if len(batch) == 0 {
		return summary, nil
	}

	txn := s.db.NewTransaction(true)
	defer func() { txn.Discard() }()

	for n, st := range batch {
		if err := ctx.Err(); err != nil {
			return summary, err
		}

		bucket, err := commitOne(txn, st)
		if errors.Is(err, badger.ErrTxnTooBig) {
			if err = txn.Commit(); err != nil {
				return summary, fmt.Errorf("commit batch: %w", err)
			}
			txn = s.db.NewTransaction(true)
			bucket, err = commitOne(txn, st)
		}
		if err != nil {
			summary.Add(st.item.Type, BucketFailed, 1)
			metrics.StoreCommits.WithLabelValues(st.item.Type, BucketFailed).Inc()
			logging.Ctx(ctx).Error().Err(err).
				Str("backend", st.backend).
				Str("item", st.item.Name()).
				Int("index", n).
				Msg("Store write failed")
			continue
		}
		summary.Add(st.item.Type, bucket, 1)
		metrics.StoreCommits.WithLabelValues(st.item.Type, bucket).Inc()
	}

	if err := txn.Commit(); err != nil {
		return summary, fmt.Errorf("commit batch: %w", err)
	}

	logging.Ctx(ctx).Debug().
		Int("items", len(batch)).
		Int("added", summary.Total(BucketAdded)).
		Int("updated", summary.Total(BucketUpdated)).
		Msg("Store committed")
	return summary, nil
}

func commitOne(txn *badger.Txn, st staged) (string, error) {
	stored, err := findTxn(txn, st.item)
	if err != nil {
		return "", err
	}

	if stored == nil {
		item := st.item.Clone()
		item.ID = st.id
		if err := putTxn(txn, item); err != nil {
			return "", err
		}
		return BucketAdded, nil
	}

	if stored.Apply(st.backend, st.item) == state.ChangeNone {
		return BucketUnchanged, nil
	}
	if err := putTxn(txn, stored); err != nil {
		return "", err
	}
	return BucketUpdated, nil
}

func putTxn(txn *badger.Txn, item *state.Item) error {
	data, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("marshal item: %w", err)
	}
	if err := txn.Set([]byte(itemPrefix+item.ID), data); err != nil {
		return err
	}
	for _, p := range pointers(item) {
		if err := txn.Set([]byte(pointerPrefix+p), []byte(item.ID)); err != nil {
			return err
		}
	}
	return nil
}

func pointers(item *state.Item) []string {
	return append(item.Pointers(), item.RelativePointers()...)
}

// findTxn returns the stored item sharing a pointer with item, or nil.
// Pointers pointing at an item of another type are skipped.
func findTxn(txn *badger.Txn, item *state.Item) (*state.Item, error) {
	for _, p := range pointers(item) {
		entry, err := txn.Get([]byte(pointerPrefix + p))
		if errors.Is(err, badger.ErrKeyNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("get pointer: %w", err)
		}
		id, err := entry.ValueCopy(nil)
		if err != nil {
			return nil, err
		}
		stored, err := getTxn(txn, string(id))
		if err != nil {
			return nil, err
		}
		if stored != nil && stored.Type == item.Type {
			return stored, nil
		}
	}
	return nil, nil
}

func getTxn(txn *badger.Txn, id string) (*state.Item, error) {
	entry, err := txn.Get([]byte(itemPrefix + id))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get item: %w", err)
	}
	var item state.Item
	if err := entry.Value(func(val []byte) error {
		return json.Unmarshal(val, &item)
	}); err != nil {
		return nil, fmt.Errorf("decode item %s: %w", id, err)
	}
	return &item, nil
}

// Find returns the stored item sharing a pointer with item, or nil.
func (s *Store) Find(_ context.Context, item *state.Item) (*state.Item, error) {
	if s.isClosed() {
		return nil, ErrClosed
	}
	var found *state.Item
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		found, err = findTxn(txn, item)
		return err
	})
	return found, err
}

// Get returns the item with local id, or nil.
func (s *Store) Get(_ context.Context, id string) (*state.Item, error) {
	if s.isClosed() {
		return nil, ErrClosed
	}
	var found *state.Item
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		found, err = getTxn(txn, id)
		return err
	})
	return found, err
}

// Changed returns the items whose play state changed after since (unix
// seconds).
func (s *Store) Changed(ctx context.Context, since int64) ([]*state.Item, error) {
	var out []*state.Item
	err := s.each(ctx, func(item *state.Item) {
		if item.Updated > since {
			out = append(out, item)
		}
	})
	return out, err
}

// All returns every stored item.
func (s *Store) All(ctx context.Context) ([]*state.Item, error) {
	var out []*state.Item
	err := s.each(ctx, func(item *state.Item) { out = append(out, item) })
	return out, err
}

// Count returns the number of stored items.
func (s *Store) Count(ctx context.Context) (int, error) {
	n := 0
	err := s.each(ctx, func(*state.Item) { n++ })
	return n, err
}

func (s *Store) each(ctx context.Context, fn func(*state.Item)) error {
	if s.isClosed() {
		return ErrClosed
	}
	return s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = true
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(itemPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			var item state.Item
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &item)
			}); err != nil {
				return fmt.Errorf("decode %s: %w", it.Item().Key(), err)
			}
			fn(&item)
		}
		return nil
	})
}
