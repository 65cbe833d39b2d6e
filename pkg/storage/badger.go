// Package storage - BadgerDB engine.
//
// BadgerEngine provides persistent disk-based storage using BadgerDB.
// It implements the Engine interface with write-ahead durability and
// optimistic transactions.
package storage

import (
	"bytes"
	"fmt"
	"sync"

	"github.com/dgraph-io/badger/v4"
)

// Column family prefix bytes for BadgerDB storage organization.
//
// Badger has a single keyspace, so each column family maps to a
// single-byte key prefix. The prefix byte is stripped before keys are
// returned to callers.
var cfPrefixes = map[string]byte{
	CFDefault:       0x01,
	CFRecords:       0x02,
	CFGraphForward:  0x03,
	CFGraphBackward: 0x04,
	CFVectorIndex:   0x05,
	CFVectorData:    0x06,
	CFMetadata:      0x07,
}

// BadgerEngine provides persistent storage using BadgerDB.
//
// Features:
//   - Optimistic (SSI) transactions with conflict detection
//   - Crash durability through Badger's write-ahead value log
//   - Prefix iteration in lexicographic key order
//   - Thread-safe concurrent access
//
// Key Structure:
//
//	cfPrefix (1 byte) + user key -> value
//
// Example:
//
//	engine, err := storage.NewBadgerEngine("/data/opendb/store")
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer engine.Close()
//
//	engine.Put(storage.CFRecords, []byte("m1"), encoded)
type BadgerEngine struct {
	db *badger.DB

	mu     sync.RWMutex
	closed bool

	inMemory bool
}

// BadgerOptions configures the BadgerDB engine.
type BadgerOptions struct {
	// DataDir is the directory for storing data files.
	// Required unless InMemory is set.
	DataDir string

	// InMemory runs BadgerDB in memory-only mode.
	// Useful for testing. Data is not persisted.
	InMemory bool

	// SyncWrites forces fsync after each write.
	// Slower but more durable.
	SyncWrites bool

	// Logger for BadgerDB internal logging.
	// If nil, Badger's internal logging is silenced.
	Logger badger.Logger
}

// NewBadgerEngine creates a persistent storage engine with default
// settings at dataDir. The directory is created if absent.
func NewBadgerEngine(dataDir string) (*BadgerEngine, error) {
	return NewBadgerEngineWithOptions(BadgerOptions{DataDir: dataDir})
}

// NewBadgerEngineWithOptions creates a BadgerEngine with custom
// configuration.
//
// Memory-constrained Badger settings are always applied; they keep a
// typical embedded deployment around tens of MB of RAM instead of
// Badger's server-sized defaults.
func NewBadgerEngineWithOptions(opts BadgerOptions) (*BadgerEngine, error) {
	badgerOpts := badger.DefaultOptions(opts.DataDir)

	if opts.InMemory {
		badgerOpts = badgerOpts.WithInMemory(true).WithDir("").WithValueDir("")
	}

	if opts.SyncWrites {
		badgerOpts = badgerOpts.WithSyncWrites(true)
	}

	badgerOpts = badgerOpts.WithLogger(opts.Logger)

	badgerOpts = badgerOpts.
		WithMemTableSize(16 << 20).     // 16MB instead of 64MB
		WithValueLogFileSize(64 << 20). // 64MB instead of 1GB
		WithNumMemtables(2).
		WithNumLevelZeroTables(2).
		WithNumLevelZeroTablesStall(4).
		WithValueThreshold(1024). // Store values > 1KB in the value log
		WithBlockCacheSize(32 << 20).
		WithIndexCacheSize(16 << 20)

	db, err := badger.Open(badgerOpts)
	if err != nil {
		return nil, fmt.Errorf("storage: failed to open BadgerDB: %w", err)
	}

	return &BadgerEngine{db: db, inMemory: opts.InMemory}, nil
}

// NewBadgerEngineInMemory creates an in-memory BadgerDB for testing.
//
// Data is not persisted and is lost when the engine is closed. Useful
// for tests that need real transaction and iterator semantics without
// disk I/O.
func NewBadgerEngineInMemory() (*BadgerEngine, error) {
	return NewBadgerEngineWithOptions(BadgerOptions{InMemory: true})
}

// cfKey maps (cf, key) onto the single Badger keyspace.
func cfKey(cf string, key []byte) ([]byte, error) {
	prefix, ok := cfPrefixes[cf]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownCF, cf)
	}
	out := make([]byte, 0, 1+len(key))
	out = append(out, prefix)
	return append(out, key...), nil
}

func (b *BadgerEngine) checkOpen() error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrClosed
	}
	return nil
}

// Get returns the value for key, and whether it was present.
func (b *BadgerEngine) Get(cf string, key []byte) ([]byte, bool, error) {
	if err := b.checkOpen(); err != nil {
		return nil, false, err
	}
	k, err := cfKey(cf, key)
	if err != nil {
		return nil, false, err
	}

	var value []byte
	err = b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(k)
		if err != nil {
			return err
		}
		value, err = item.ValueCopy(nil)
		return err
	})
	if err == badger.ErrKeyNotFound {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("storage: get: %w", err)
	}
	return value, true, nil
}

// Put stores a value.
func (b *BadgerEngine) Put(cf string, key, value []byte) error {
	if err := b.checkOpen(); err != nil {
		return err
	}
	k, err := cfKey(cf, key)
	if err != nil {
		return err
	}

	if err := b.db.Update(func(txn *badger.Txn) error {
		return txn.Set(k, value)
	}); err != nil {
		return fmt.Errorf("storage: put: %w", err)
	}
	return nil
}

// Delete removes a key. Deleting an absent key succeeds.
func (b *BadgerEngine) Delete(cf string, key []byte) error {
	if err := b.checkOpen(); err != nil {
		return err
	}
	k, err := cfKey(cf, key)
	if err != nil {
		return err
	}

	if err := b.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(k)
	}); err != nil {
		return fmt.Errorf("storage: delete: %w", err)
	}
	return nil
}

// Exists reports whether a key is present.
func (b *BadgerEngine) Exists(cf string, key []byte) (bool, error) {
	if err := b.checkOpen(); err != nil {
		return false, err
	}
	k, err := cfKey(cf, key)
	if err != nil {
		return false, err
	}

	found := false
	err = b.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get(k)
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		found = true
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("storage: exists: %w", err)
	}
	return found, nil
}

// ScanPrefix returns all pairs whose key starts with prefix, in
// lexicographic key order.
func (b *BadgerEngine) ScanPrefix(cf string, prefix []byte) ([]KVPair, error) {
	if err := b.checkOpen(); err != nil {
		return nil, err
	}
	scanPrefix, err := cfKey(cf, prefix)
	if err != nil {
		return nil, err
	}

	var pairs []KVPair
	err = b.db.View(func(txn *badger.Txn) error {
		var scanErr error
		pairs, scanErr = scanBadgerPrefix(txn, scanPrefix)
		return scanErr
	})
	if err != nil {
		return nil, fmt.Errorf("storage: scan: %w", err)
	}
	return pairs, nil
}

// scanBadgerPrefix iterates keys under a cf-qualified prefix, stripping
// the column family byte from returned keys.
func scanBadgerPrefix(txn *badger.Txn, scanPrefix []byte) ([]KVPair, error) {
	iterOpts := badger.DefaultIteratorOptions
	iterOpts.Prefix = scanPrefix

	it := txn.NewIterator(iterOpts)
	defer it.Close()

	var pairs []KVPair
	for it.Rewind(); it.Valid(); it.Next() {
		item := it.Item()
		fullKey := item.KeyCopy(nil)
		if !bytes.HasPrefix(fullKey, scanPrefix) {
			break
		}
		value, err := item.ValueCopy(nil)
		if err != nil {
			return nil, err
		}
		pairs = append(pairs, KVPair{Key: fullKey[1:], Value: value})
	}
	return pairs, nil
}

// Begin starts an optimistic transaction over a snapshot of the current
// state. Conflicts are detected at Commit.
func (b *BadgerEngine) Begin() (Tx, error) {
	if err := b.checkOpen(); err != nil {
		return nil, err
	}
	return &badgerTx{txn: b.db.NewTransaction(true)}, nil
}

// Snapshot returns a read-only view consistent with one instant.
func (b *BadgerEngine) Snapshot() (Snapshot, error) {
	if err := b.checkOpen(); err != nil {
		return nil, err
	}
	return &badgerSnapshot{txn: b.db.NewTransaction(false)}, nil
}

// Flush forces durable persistence of all writes issued before the call.
func (b *BadgerEngine) Flush() error {
	if err := b.checkOpen(); err != nil {
		return err
	}
	if b.inMemory {
		return nil
	}
	if err := b.db.Sync(); err != nil {
		return fmt.Errorf("storage: flush: %w", err)
	}
	return nil
}

// Close releases the engine. Double close is a no-op.
func (b *BadgerEngine) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	if err := b.db.Close(); err != nil {
		return fmt.Errorf("storage: close: %w", err)
	}
	return nil
}

// badgerSnapshot adapts a read-only Badger transaction to the Snapshot
// interface.
type badgerSnapshot struct {
	txn *badger.Txn
}

func (s *badgerSnapshot) Get(cf string, key []byte) ([]byte, bool, error) {
	k, err := cfKey(cf, key)
	if err != nil {
		return nil, false, err
	}
	item, err := s.txn.Get(k)
	if err == badger.ErrKeyNotFound {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("storage: snapshot get: %w", err)
	}
	value, err := item.ValueCopy(nil)
	if err != nil {
		return nil, false, fmt.Errorf("storage: snapshot get: %w", err)
	}
	return value, true, nil
}

func (s *badgerSnapshot) ScanPrefix(cf string, prefix []byte) ([]KVPair, error) {
	scanPrefix, err := cfKey(cf, prefix)
	if err != nil {
		return nil, err
	}
	pairs, err := scanBadgerPrefix(s.txn, scanPrefix)
	if err != nil {
		return nil, fmt.Errorf("storage: snapshot scan: %w", err)
	}
	return pairs, nil
}

func (s *badgerSnapshot) Close() {
	s.txn.Discard()
}
