// Package vector provides approximate nearest neighbor search over
// record embeddings.
//
// The manager keeps two representations of the same data: the persisted
// (id -> embedding) table in the vector_data column family, and an
// in-memory HNSW graph built from it. Writes touch only the table and
// flip a stale flag; the graph is rebuilt lazily on the next search.
//
// Rationale: the workload is write-then-query batches. Mutating an HNSW
// graph per insert would dominate ingestion cost, so the first search
// after a write burst absorbs one O(n log n) rebuild and subsequent
// searches hit the cached graph.
package vector

import (
	"errors"
	"fmt"
	"sync"

	"github.com/muhammad-fiaz/OpenDB/pkg/codec"
	"github.com/muhammad-fiaz/OpenDB/pkg/storage"
)

// ErrDimensionMismatch is returned when a vector's length differs from
// the database's configured dimension.
var ErrDimensionMismatch = errors.New("vector: dimension mismatch")

// Hit is one search result: a record ID and its Euclidean distance from
// the query, smaller meaning closer.
type Hit struct {
	ID       string
	Distance float64
}

// Params are the HNSW construction and search parameters, fixed per
// database.
type Params struct {
	// EfConstruction is the candidate list size while building the
	// graph. Larger is slower to build and more accurate.
	EfConstruction int

	// MaxNeighbors is the maximum connections per node per layer (M).
	MaxNeighbors int

	// EfSearch is the candidate list size during search. Raised to k
	// automatically when k is larger.
	EfSearch int
}

// Balanced is the default preset: good recall at moderate build cost.
func Balanced() Params {
	return Params{EfConstruction: 200, MaxNeighbors: 16, EfSearch: 50}
}

// HighAccuracy trades build time and memory for recall.
func HighAccuracy() Params {
	return Params{EfConstruction: 400, MaxNeighbors: 32, EfSearch: 100}
}

// HighSpeed trades recall for build and query speed.
func HighSpeed() Params {
	return Params{EfConstruction: 100, MaxNeighbors: 8, EfSearch: 25}
}

// Manager owns the vector_data column family and the in-memory HNSW
// index over it.
//
// Concurrency: the graph and the stale flag are jointly guarded by one
// mutex. A rebuild holds the lock for the duration of construction, so
// concurrent searches serialize behind it.
type Manager struct {
	storage   storage.Engine
	dimension int
	params    Params

	mu    sync.Mutex
	index *hnswIndex
	stale bool
}

// NewManager creates a vector manager for the given dimension.
func NewManager(engine storage.Engine, dimension int, params Params) *Manager {
	return &Manager{
		storage:   engine,
		dimension: dimension,
		params:    params,
		stale:     true,
	}
}

// Dimension returns the configured embedding dimension.
func (m *Manager) Dimension() int {
	return m.dimension
}

// CheckDimension validates a vector length against the configured
// dimension.
func (m *Manager) CheckDimension(n int) error {
	if n != m.dimension {
		return fmt.Errorf("%w: expected %d, got %d", ErrDimensionMismatch, m.dimension, n)
	}
	return nil
}

// PutEmbedding stores an embedding and marks the index stale.
func (m *Manager) PutEmbedding(id string, vec []float32) error {
	if err := m.CheckDimension(len(vec)); err != nil {
		return err
	}
	if err := m.storage.Put(storage.CFVectorData, []byte(id), codec.EncodeVector(vec)); err != nil {
		return err
	}
	m.MarkStale()
	return nil
}

// RemoveEmbedding deletes an embedding and marks the index stale.
// Removing an absent id succeeds.
func (m *Manager) RemoveEmbedding(id string) error {
	if err := m.storage.Delete(storage.CFVectorData, []byte(id)); err != nil {
		return err
	}
	m.MarkStale()
	return nil
}

// MarkStale flags the index for rebuild before the next search. Called
// on every embedding mutation, including transactional writes that
// bypass the manager.
func (m *Manager) MarkStale() {
	m.mu.Lock()
	m.stale = true
	m.mu.Unlock()
}

// Stale reports whether the next search will rebuild first.
func (m *Manager) Stale() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stale
}

// IndexSize returns the number of vectors in the current in-memory
// graph, which lags vector_data while the index is stale.
func (m *Manager) IndexSize() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.index == nil {
		return 0
	}
	return m.index.size()
}

// Rebuild loads every embedding from vector_data, constructs a fresh
// HNSW graph, and swaps it in.
func (m *Manager) Rebuild() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rebuildLocked()
}

// rebuildLocked does the rebuild. Caller must hold mu.
func (m *Manager) rebuildLocked() error {
	pairs, err := m.storage.ScanPrefix(storage.CFVectorData, nil)
	if err != nil {
		return err
	}

	index := newHNSWIndex(m.params.EfConstruction, m.params.MaxNeighbors)
	for _, p := range pairs {
		vec, err := codec.DecodeVector(p.Value)
		if err != nil {
			return fmt.Errorf("vector: embedding for %q: %w", string(p.Key), err)
		}
		if len(vec) != m.dimension {
			return fmt.Errorf("%w: stored embedding for %q has length %d, expected %d",
				ErrDimensionMismatch, string(p.Key), len(vec), m.dimension)
		}
		index.add(string(p.Key), vec)
	}

	m.index = index
	m.stale = false
	return nil
}

// Search returns the k nearest embeddings to the query by Euclidean
// distance, ascending, ties broken by ascending id.
//
// A stale index is rebuilt first. Searching an empty index returns an
// empty result set. The query length must equal the configured
// dimension.
func (m *Manager) Search(query []float32, k int) ([]Hit, error) {
	if err := m.CheckDimension(len(query)); err != nil {
		return nil, err
	}
	if k <= 0 {
		return []Hit{}, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stale || m.index == nil {
		if err := m.rebuildLocked(); err != nil {
			return nil, err
		}
	}

	hits := m.index.search(query, k, m.params.EfSearch)
	if hits == nil {
		hits = []Hit{}
	}
	return hits, nil
}
