// Package kv provides the raw byte key-value view over the default
// column family, with a write-through LRU cache on the hot read path.
package kv

import (
	"github.com/muhammad-fiaz/OpenDB/pkg/cache"
	"github.com/muhammad-fiaz/OpenDB/pkg/storage"
)

// Store is the byte key-value facade.
//
// Cache discipline:
//   - Put writes storage first, then the cache; the cache never holds a
//     value the backend does not.
//   - Get consults the cache, falling back to storage and populating the
//     cache only when the value is present.
//   - Delete removes from storage, then invalidates.
//   - ScanPrefix goes straight to storage; scans neither consult nor
//     populate the cache.
type Store struct {
	storage storage.Engine
	cache   *cache.Cache
}

// NewStore creates a KV store. A cacheCapacity of zero disables caching.
func NewStore(engine storage.Engine, cacheCapacity int) *Store {
	return &Store{
		storage: engine,
		cache:   cache.New(cacheCapacity),
	}
}

// Get returns the value for key, and whether it was present.
func (s *Store) Get(key []byte) ([]byte, bool, error) {
	if v, ok := s.cache.Get(string(key)); ok {
		return append([]byte(nil), v.([]byte)...), true, nil
	}

	value, ok, err := s.storage.Get(storage.CFDefault, key)
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, nil
	}
	s.cache.Put(string(key), append([]byte(nil), value...))
	return value, true, nil
}

// Put stores a key-value pair.
func (s *Store) Put(key, value []byte) error {
	if err := s.storage.Put(storage.CFDefault, key, value); err != nil {
		return err
	}
	s.cache.Put(string(key), append([]byte(nil), value...))
	return nil
}

// Delete removes a key. Deleting an absent key succeeds.
func (s *Store) Delete(key []byte) error {
	if err := s.storage.Delete(storage.CFDefault, key); err != nil {
		return err
	}
	s.cache.Invalidate(string(key))
	return nil
}

// Exists reports whether a key is present. Shares the Get read path, so
// a cache hit short-circuits the backend.
func (s *Store) Exists(key []byte) (bool, error) {
	_, ok, err := s.Get(key)
	return ok, err
}

// ScanPrefix returns all pairs under prefix in lexicographic key order.
func (s *Store) ScanPrefix(prefix []byte) ([]storage.KVPair, error) {
	return s.storage.ScanPrefix(storage.CFDefault, prefix)
}

// Invalidate drops a key from the cache without touching storage.
// Used by the transaction layer after commits.
func (s *Store) Invalidate(key []byte) {
	s.cache.Invalidate(string(key))
}

// CacheStats returns hit/miss statistics for the KV cache.
func (s *Store) CacheStats() cache.Stats {
	return s.cache.Stats()
}
