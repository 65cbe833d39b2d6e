// Package opendb - transaction handle.
package opendb

import (
	"sync"

	"github.com/google/uuid"

	"github.com/muhammad-fiaz/OpenDB/pkg/storage"
)

// cfKeyRef identifies one written key for post-commit cache
// invalidation.
type cfKeyRef struct {
	cf  string
	key string
}

// Transaction is a write buffer layered over a backend snapshot taken
// at BeginTransaction.
//
// Reads see the transaction's own writes first (a buffered delete reads
// as absent), then fall through to the snapshot; the shared caches are
// bypassed entirely. Writes have no backend effect until Commit.
//
// Commit applies the buffer atomically. If any key this transaction
// read or wrote was modified by another committer since the snapshot,
// Commit fails with ErrConflict and the buffer is discarded — callers
// implement retry loops. On success, cache entries for every written
// key are invalidated, so facade reads immediately observe the
// committed state.
//
// A Transaction is owned by a single goroutine. Using the handle after
// Commit or Rollback fails with ErrTxClosed; Rollback itself is always
// safe and idempotent.
type Transaction struct {
	id string
	db *DB

	mu     sync.Mutex
	tx     storage.Tx
	writes []cfKeyRef
	done   bool
}

// BeginTransaction starts a transaction over a snapshot of the current
// database state.
//
// Nested transactions are not supported; a Transaction has no Begin of
// its own.
func (db *DB) BeginTransaction() (*Transaction, error) {
	if err := db.checkOpen(); err != nil {
		return nil, err
	}
	tx, err := db.engine.Begin()
	if err != nil {
		return nil, err
	}
	return &Transaction{
		id: uuid.NewString(),
		db: db,
		tx: tx,
	}, nil
}

// ID returns the transaction's unique identifier, for logging and
// debugging.
func (t *Transaction) ID() string {
	return t.id
}

// Get returns the value for key in the given column family, observing
// this transaction's own writes first, then the snapshot.
func (t *Transaction) Get(cf string, key []byte) ([]byte, bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done {
		return nil, false, ErrTxClosed
	}
	return t.tx.Get(cf, key)
}

// Put buffers a write. No backend side effect until Commit.
func (t *Transaction) Put(cf string, key, value []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done {
		return ErrTxClosed
	}
	if err := t.tx.Put(cf, key, value); err != nil {
		return err
	}
	t.writes = append(t.writes, cfKeyRef{cf: cf, key: string(key)})
	return nil
}

// Delete buffers a tombstone. No backend side effect until Commit.
func (t *Transaction) Delete(cf string, key []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done {
		return ErrTxClosed
	}
	if err := t.tx.Delete(cf, key); err != nil {
		return err
	}
	t.writes = append(t.writes, cfKeyRef{cf: cf, key: string(key)})
	return nil
}

// Commit atomically applies the write buffer.
//
// On conflict the buffer is discarded and ErrConflict returned. On
// success the write set is pushed through the cache layer: KV and
// record cache entries for written keys are invalidated and any
// vector_data write marks the vector index stale. A transactional write
// to the records column family does NOT update vector_data — callers
// mutating records transactionally maintain the embedding table
// themselves.
func (t *Transaction) Commit() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done {
		return ErrTxClosed
	}
	t.done = true

	if err := t.tx.Commit(); err != nil {
		return err
	}
	t.invalidateCaches()
	return nil
}

// Rollback discards the write buffer. Always succeeds, including after
// Commit, so it can sit in a defer.
func (t *Transaction) Rollback() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done {
		return nil
	}
	t.done = true
	t.tx.Discard()
	return nil
}

// invalidateCaches drops cache entries shadowed by committed writes.
// Caller holds t.mu and has already committed.
func (t *Transaction) invalidateCaches() {
	staleVectors := false
	for _, w := range t.writes {
		switch w.cf {
		case storage.CFDefault:
			t.db.kv.Invalidate([]byte(w.key))
		case storage.CFRecords:
			t.db.records.Invalidate(w.key)
		case storage.CFVectorData:
			staleVectors = true
		}
	}
	if staleVectors {
		t.db.vectors.MarkStale()
	}
}
