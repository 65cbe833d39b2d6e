// Package storage - BadgerDB transaction wrapper.
//
// badgerTx adapts Badger's native optimistic transaction to the Tx
// interface: a write buffer over a snapshot with conflict detection at
// commit.
package storage

import (
	"fmt"
	"sync"

	"github.com/dgraph-io/badger/v4"
)

// badgerTx wraps Badger's native transaction.
//
// Badger only tracks conflicts for keys a transaction has READ. The Tx
// contract extends that to write-write conflicts (two blind writers to
// the same key must not both commit), so Put and Delete register a read
// on the key before buffering the write. That folds the write set into
// Badger's read set and makes first-committer-wins hold for both.
type badgerTx struct {
	mu     sync.Mutex
	txn    *badger.Txn
	closed bool
}

func (t *badgerTx) Get(cf string, key []byte) ([]byte, bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil, false, ErrTxClosed
	}
	k, err := cfKey(cf, key)
	if err != nil {
		return nil, false, err
	}

	item, err := t.txn.Get(k)
	if err == badger.ErrKeyNotFound {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("storage: tx get: %w", err)
	}
	value, err := item.ValueCopy(nil)
	if err != nil {
		return nil, false, fmt.Errorf("storage: tx get: %w", err)
	}
	return value, true, nil
}

func (t *badgerTx) Put(cf string, key, value []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return ErrTxClosed
	}
	k, err := cfKey(cf, key)
	if err != nil {
		return err
	}

	// Register the key in the read set; see type comment.
	if _, err := t.txn.Get(k); err != nil && err != badger.ErrKeyNotFound {
		return fmt.Errorf("storage: tx put: %w", err)
	}

	if err := t.txn.Set(k, value); err != nil {
		return fmt.Errorf("storage: tx put: %w", err)
	}
	return nil
}

func (t *badgerTx) Delete(cf string, key []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return ErrTxClosed
	}
	k, err := cfKey(cf, key)
	if err != nil {
		return err
	}

	if _, err := t.txn.Get(k); err != nil && err != badger.ErrKeyNotFound {
		return fmt.Errorf("storage: tx delete: %w", err)
	}

	if err := t.txn.Delete(k); err != nil {
		return fmt.Errorf("storage: tx delete: %w", err)
	}
	return nil
}

// Commit atomically applies the write buffer. Returns ErrConflict when a
// key this transaction read or wrote was modified since the snapshot.
func (t *badgerTx) Commit() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return ErrTxClosed
	}
	t.closed = true

	err := t.txn.Commit()
	if err == badger.ErrConflict {
		return fmt.Errorf("%w: %v", ErrConflict, err)
	}
	if err != nil {
		return fmt.Errorf("storage: commit: %w", err)
	}
	return nil
}

// Discard drops the write buffer. Safe after Commit.
func (t *badgerTx) Discard() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	t.txn.Discard()
}
