// Package records manages structured memory records: CRUD with upsert
// semantics, a write-through record cache, and the staleness hook into
// the vector index.
package records

import (
	"errors"
	"fmt"

	"github.com/muhammad-fiaz/OpenDB/pkg/cache"
	"github.com/muhammad-fiaz/OpenDB/pkg/codec"
	"github.com/muhammad-fiaz/OpenDB/pkg/model"
	"github.com/muhammad-fiaz/OpenDB/pkg/storage"
	"github.com/muhammad-fiaz/OpenDB/pkg/vector"
)

// ErrEmptyID is returned when a record has no identifier.
var ErrEmptyID = errors.New("records: memory id must not be empty")

// Manager owns the records column family.
//
// Records are keyed by their caller-assigned ID and re-inserting an ID
// overwrites the previous record. Every mutation keeps the vector
// manager in sync: a non-empty embedding is written through to the
// vector_data column family and marks the vector index stale; an upsert
// that drops the embedding removes the stale entry so the
// "indexed iff embedding present" invariant survives re-inserts.
//
// Deleting a record does NOT cascade to graph edges; dangling endpoints
// are the caller's concern.
type Manager struct {
	storage storage.Engine
	cache   *cache.Cache
	vectors *vector.Manager
}

// NewManager creates a records manager. A cacheCapacity of zero disables
// the record cache.
func NewManager(engine storage.Engine, cacheCapacity int, vectors *vector.Manager) *Manager {
	return &Manager{
		storage: engine,
		cache:   cache.New(cacheCapacity),
		vectors: vectors,
	}
}

// Insert stores a memory record (upsert on ID).
//
// The embedding must be empty or match the configured vector dimension;
// a mismatch fails with vector.ErrDimensionMismatch before anything is
// written.
func (m *Manager) Insert(mem *model.Memory) error {
	if mem == nil || mem.ID == "" {
		return ErrEmptyID
	}
	if len(mem.Embedding) > 0 {
		if err := m.vectors.CheckDimension(len(mem.Embedding)); err != nil {
			return err
		}
	}

	encoded, err := codec.EncodeMemory(mem)
	if err != nil {
		return err
	}
	if err := m.storage.Put(storage.CFRecords, []byte(mem.ID), encoded); err != nil {
		return err
	}
	m.cache.Put(mem.ID, mem.Clone())

	if len(mem.Embedding) > 0 {
		return m.vectors.PutEmbedding(mem.ID, mem.Embedding)
	}
	// Upsert may have dropped a previously indexed embedding.
	return m.vectors.RemoveEmbedding(mem.ID)
}

// Get returns a memory record by ID, and whether it was present.
func (m *Manager) Get(id string) (*model.Memory, bool, error) {
	if v, ok := m.cache.Get(id); ok {
		return v.(*model.Memory).Clone(), true, nil
	}

	encoded, ok, err := m.storage.Get(storage.CFRecords, []byte(id))
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, nil
	}
	mem, err := codec.DecodeMemory(encoded)
	if err != nil {
		return nil, false, fmt.Errorf("records: decoding %q: %w", id, err)
	}
	m.cache.Put(id, mem.Clone())
	return mem, true, nil
}

// Exists reports whether a record is present.
func (m *Manager) Exists(id string) (bool, error) {
	_, ok, err := m.Get(id)
	return ok, err
}

// Delete removes a record and its indexed embedding. Deleting an absent
// ID succeeds. Graph edges referencing the ID are left in place.
func (m *Manager) Delete(id string) error {
	if err := m.storage.Delete(storage.CFRecords, []byte(id)); err != nil {
		return err
	}
	m.cache.Invalidate(id)
	return m.vectors.RemoveEmbedding(id)
}

// ListIDs returns all record IDs starting with prefix, in lexicographic
// order. An empty prefix lists every record. The cache is not consulted.
func (m *Manager) ListIDs(prefix string) ([]string, error) {
	pairs, err := m.storage.ScanPrefix(storage.CFRecords, []byte(prefix))
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(pairs))
	for _, p := range pairs {
		ids = append(ids, string(p.Key))
	}
	return ids, nil
}

// List returns all records starting with prefix, in lexicographic ID
// order. The cache is neither consulted nor populated.
func (m *Manager) List(prefix string) ([]*model.Memory, error) {
	pairs, err := m.storage.ScanPrefix(storage.CFRecords, []byte(prefix))
	if err != nil {
		return nil, err
	}
	memories := make([]*model.Memory, 0, len(pairs))
	for _, p := range pairs {
		mem, err := codec.DecodeMemory(p.Value)
		if err != nil {
			return nil, fmt.Errorf("records: decoding %q: %w", string(p.Key), err)
		}
		memories = append(memories, mem)
	}
	return memories, nil
}

// Invalidate drops an ID from the record cache without touching storage.
// Used by the transaction layer after commits.
func (m *Manager) Invalidate(id string) {
	m.cache.Invalidate(id)
}

// CacheStats returns hit/miss statistics for the record cache.
func (m *Manager) CacheStats() cache.Stats {
	return m.cache.Stats()
}
