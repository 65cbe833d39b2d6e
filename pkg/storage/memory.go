// Package storage - in-memory engine.
//
// MemoryEngine is a map-backed implementation of the Engine interface.
// It honors the full contract — column families, prefix scans in key
// order, snapshots, and optimistic transactions with first-committer-wins
// conflict detection — minus durability. Its use cases:
//
//   - Unit testing (no disk I/O, fast cleanup)
//   - Ephemeral databases that fit in RAM
//
// Thread Safety:
//
//	All public methods are thread-safe. Multiple goroutines can safely
//	call any method concurrently.
package storage

import (
	"sort"
	"strings"
	"sync"
)

// MemoryEngine is a thread-safe in-memory storage engine.
//
// Snapshot isolation is implemented by copying the column family maps at
// snapshot time; values are never mutated in place, so sharing the value
// byte slices between the live store and snapshots is safe. Conflict
// detection uses a global commit sequence plus a per-key version: a
// transaction fails to commit if any key it read or wrote has a version
// newer than its snapshot.
type MemoryEngine struct {
	mu sync.RWMutex

	data     map[string]map[string][]byte
	versions map[string]map[string]uint64
	seq      uint64
	closed   bool
}

// NewMemoryEngine creates an empty in-memory engine with all column
// families present.
func NewMemoryEngine() *MemoryEngine {
	data := make(map[string]map[string][]byte)
	versions := make(map[string]map[string]uint64)
	for _, cf := range AllColumnFamilies() {
		data[cf] = make(map[string][]byte)
		versions[cf] = make(map[string]uint64)
	}
	return &MemoryEngine{data: data, versions: versions}
}

func (m *MemoryEngine) cf(name string) (map[string][]byte, bool) {
	cf, ok := m.data[name]
	return cf, ok
}

// Get returns the value for key, and whether it was present.
func (m *MemoryEngine) Get(cf string, key []byte) ([]byte, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, false, ErrClosed
	}
	bucket, ok := m.cf(cf)
	if !ok {
		return nil, false, ErrUnknownCF
	}
	value, ok := bucket[string(key)]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), value...), true, nil
}

// Put stores a value.
func (m *MemoryEngine) Put(cf string, key, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	bucket, ok := m.cf(cf)
	if !ok {
		return ErrUnknownCF
	}
	m.seq++
	bucket[string(key)] = append([]byte(nil), value...)
	m.versions[cf][string(key)] = m.seq
	return nil
}

// Delete removes a key. Deleting an absent key succeeds.
func (m *MemoryEngine) Delete(cf string, key []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	bucket, ok := m.cf(cf)
	if !ok {
		return ErrUnknownCF
	}
	m.seq++
	delete(bucket, string(key))
	m.versions[cf][string(key)] = m.seq
	return nil
}

// Exists reports whether a key is present.
func (m *MemoryEngine) Exists(cf string, key []byte) (bool, error) {
	_, ok, err := m.Get(cf, key)
	return ok, err
}

// ScanPrefix returns all pairs whose key starts with prefix, in
// lexicographic key order.
func (m *MemoryEngine) ScanPrefix(cf string, prefix []byte) ([]KVPair, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}
	bucket, ok := m.cf(cf)
	if !ok {
		return nil, ErrUnknownCF
	}
	return scanMap(bucket, prefix), nil
}

func scanMap(bucket map[string][]byte, prefix []byte) []KVPair {
	p := string(prefix)
	var pairs []KVPair
	for k, v := range bucket {
		if strings.HasPrefix(k, p) {
			pairs = append(pairs, KVPair{
				Key:   []byte(k),
				Value: append([]byte(nil), v...),
			})
		}
	}
	sort.Slice(pairs, func(i, j int) bool {
		return string(pairs[i].Key) < string(pairs[j].Key)
	})
	return pairs
}

// snapshotLocked copies the column family maps. Caller must hold at
// least a read lock. Values are shared; they are copied again on read.
func (m *MemoryEngine) snapshotLocked() map[string]map[string][]byte {
	snap := make(map[string]map[string][]byte, len(m.data))
	for cf, bucket := range m.data {
		cp := make(map[string][]byte, len(bucket))
		for k, v := range bucket {
			cp[k] = v
		}
		snap[cf] = cp
	}
	return snap
}

// Begin starts an optimistic transaction over a snapshot of the current
// state.
func (m *MemoryEngine) Begin() (Tx, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}
	return &memTx{
		engine:  m,
		snap:    m.snapshotLocked(),
		snapSeq: m.seq,
		reads:   make(map[string]map[string]struct{}),
		writes:  make(map[string]map[string][]byte),
	}, nil
}

// Snapshot returns a read-only view consistent with one instant.
func (m *MemoryEngine) Snapshot() (Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}
	return &memSnapshot{data: m.snapshotLocked()}, nil
}

// Flush is a no-op: there is nothing durable to persist.
func (m *MemoryEngine) Flush() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return ErrClosed
	}
	return nil
}

// Close releases the engine. Double close is a no-op.
func (m *MemoryEngine) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// memTx is a write buffer over a point-in-time copy of the store.
//
// writes maps cf -> key -> value, with a nil value as a tombstone.
// reads tracks every key the transaction observed so Commit can apply
// first-committer-wins over the read set as well as the write set.
type memTx struct {
	mu      sync.Mutex
	engine  *MemoryEngine
	snap    map[string]map[string][]byte
	snapSeq uint64
	reads   map[string]map[string]struct{}
	writes  map[string]map[string][]byte
	closed  bool
}

func (t *memTx) markRead(cf, key string) {
	if t.reads[cf] == nil {
		t.reads[cf] = make(map[string]struct{})
	}
	t.reads[cf][key] = struct{}{}
}

func (t *memTx) Get(cf string, key []byte) ([]byte, bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil, false, ErrTxClosed
	}
	bucket, ok := t.snap[cf]
	if !ok {
		return nil, false, ErrUnknownCF
	}
	k := string(key)
	t.markRead(cf, k)

	if wb, ok := t.writes[cf]; ok {
		if v, buffered := wb[k]; buffered {
			if v == nil {
				return nil, false, nil // tombstone
			}
			return append([]byte(nil), v...), true, nil
		}
	}
	v, ok := bucket[k]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), v...), true, nil
}

func (t *memTx) Put(cf string, key, value []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return ErrTxClosed
	}
	if _, ok := t.snap[cf]; !ok {
		return ErrUnknownCF
	}
	k := string(key)
	t.markRead(cf, k)
	if t.writes[cf] == nil {
		t.writes[cf] = make(map[string][]byte)
	}
	t.writes[cf][k] = append([]byte(nil), value...)
	return nil
}

func (t *memTx) Delete(cf string, key []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return ErrTxClosed
	}
	if _, ok := t.snap[cf]; !ok {
		return ErrUnknownCF
	}
	k := string(key)
	t.markRead(cf, k)
	if t.writes[cf] == nil {
		t.writes[cf] = make(map[string][]byte)
	}
	t.writes[cf][k] = nil // tombstone
	return nil
}

// Commit applies the buffer atomically, failing with ErrConflict if any
// observed key changed since the snapshot.
func (t *memTx) Commit() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return ErrTxClosed
	}
	t.closed = true

	e := t.engine
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrClosed
	}

	for cf, keys := range t.reads {
		for k := range keys {
			if e.versions[cf][k] > t.snapSeq {
				return ErrConflict
			}
		}
	}

	e.seq++
	for cf, wb := range t.writes {
		for k, v := range wb {
			if v == nil {
				delete(e.data[cf], k)
			} else {
				e.data[cf][k] = v
			}
			e.versions[cf][k] = e.seq
		}
	}
	return nil
}

// Discard drops the write buffer. Safe after Commit.
func (t *memTx) Discard() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
}

// memSnapshot is a read-only copy of the store at one instant.
type memSnapshot struct {
	data map[string]map[string][]byte
}

func (s *memSnapshot) Get(cf string, key []byte) ([]byte, bool, error) {
	bucket, ok := s.data[cf]
	if !ok {
		return nil, false, ErrUnknownCF
	}
	v, ok := bucket[string(key)]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), v...), true, nil
}

func (s *memSnapshot) ScanPrefix(cf string, prefix []byte) ([]KVPair, error) {
	bucket, ok := s.data[cf]
	if !ok {
		return nil, ErrUnknownCF
	}
	return scanMap(bucket, prefix), nil
}

func (s *memSnapshot) Close() {}
