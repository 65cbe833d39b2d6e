// Package opendb is the embedded multi-model database facade.
//
// OpenDB exposes four co-resident data models over one transactional
// key-value backend:
//
//   - a raw byte key-value store
//   - a structured memory-record store with metadata and embeddings
//   - a directed labeled property graph
//   - an approximate-nearest-neighbor vector index
//
// All four views share the same storage directory, the same durability
// guarantees, and the same transactions, which is what separates OpenDB
// from composing three separate systems.
//
// Example Usage:
//
//	db, err := opendb.Open("./data/agent-memory")
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer db.Close()
//
//	mem := model.NewMemory("m1", "the user prefers dark mode",
//		embedding, 0.8)
//	if err := db.InsertMemory(mem); err != nil {
//		log.Fatal(err)
//	}
//
//	db.Link("m1", "theme-dark", "supports")
//
//	hits, err := db.SearchSimilar(queryVec, 5)
//
// Thread Safety:
//
//	A *DB is safe to share across goroutines; every public operation is
//	thread-safe. Transactions are single-owner.
package opendb

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gofrs/flock"

	"github.com/muhammad-fiaz/OpenDB/pkg/graph"
	"github.com/muhammad-fiaz/OpenDB/pkg/kv"
	"github.com/muhammad-fiaz/OpenDB/pkg/model"
	"github.com/muhammad-fiaz/OpenDB/pkg/records"
	"github.com/muhammad-fiaz/OpenDB/pkg/storage"
	"github.com/muhammad-fiaz/OpenDB/pkg/vector"
)

// Version is the OpenDB library version, persisted in config.json.
const Version = "0.1.0"

// Data directory file names.
const (
	markerFile = "OPENDB"
	infoFile   = "OPENDB_INFO"
	configFile = "config.json"
	lockFile   = "LOCK"
	storeDir   = "store"
)

// Errors surfaced by the facade. Storage, codec, vector, and graph
// errors from the managers pass through unchanged.
var (
	// ErrInvalidInput covers bad options and malformed arguments.
	ErrInvalidInput = errors.New("opendb: invalid input")

	// ErrLocked is returned when another process holds the data
	// directory lock.
	ErrLocked = errors.New("opendb: database locked by another process")

	// ErrClosed is returned by operations on a closed database.
	ErrClosed = errors.New("opendb: database closed")

	// ErrConflict is returned by Transaction.Commit when another
	// writer touched an observed key first. Callers retry.
	ErrConflict = storage.ErrConflict

	// ErrTxClosed is returned when a transaction handle is used after
	// Commit or Rollback.
	ErrTxClosed = storage.ErrTxClosed
)

// storedConfig is the machine-readable config.json in the data
// directory.
type storedConfig struct {
	VectorDimension int    `json:"vector_dimension"`
	CreatedAt       string `json:"created_at"`
	Version         string `json:"version"`
}

// DB is an open OpenDB database.
//
// The facade exclusively owns the backend handle, the caches, and the
// managers for its lifetime. Close releases the process lock; the
// directory can then be opened again, by this process or another.
type DB struct {
	dir    string
	opts   Options
	logger *log.Logger

	engine  storage.Engine
	kv      *kv.Store
	records *records.Manager
	graph   *graph.Manager
	vectors *vector.Manager

	fileLock *flock.Flock

	mu     sync.Mutex
	closed bool
}

// Open opens (creating if absent) a database at path with
// DefaultOptions.
//
// An empty path opens an ephemeral in-memory database: same contract,
// no files, no lock, nothing survives Close. Useful for tests.
func Open(path string) (*DB, error) {
	return OpenWithOptions(path, DefaultOptions())
}

// OpenWithOptions opens a database with explicit options.
//
// On first open the directory is created and stamped with an identity
// marker, a human-readable info file, and config.json recording the
// vector dimension. Later opens validate the marker and reject a
// mismatched dimension. An exclusive lock file guards the directory: a
// concurrent open from another process fails with ErrLocked.
//
// ELI12:
//
// Opening a database is like checking into a workshop. First you make
// sure the room is yours alone (the LOCK file — two people sawing at
// the same bench ends badly). Then you read the sign on the door to
// confirm it really is your workshop and the tools are arranged the way
// you left them (the OPENDB marker and config.json). Only then do you
// switch on the machines (the storage engine and the managers).
func OpenWithOptions(path string, opts Options) (*DB, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if opts.Logger == nil {
		opts.Logger = log.NewWithOptions(os.Stderr, log.Options{Prefix: "opendb"})
	}
	logger := opts.Logger

	db := &DB{dir: path, opts: opts, logger: logger}

	if path == "" {
		db.engine = storage.NewMemoryEngine()
	} else {
		if err := db.openDir(path); err != nil {
			return nil, err
		}
		engine, err := storage.NewBadgerEngineWithOptions(storage.BadgerOptions{
			DataDir:    filepath.Join(path, storeDir),
			SyncWrites: opts.SyncWrites,
			Logger:     &badgerLogger{logger: logger},
		})
		if err != nil {
			db.releaseLock()
			return nil, err
		}
		db.engine = engine
	}

	params, err := opts.indexParams()
	if err != nil {
		db.shutdownEngine()
		return nil, err
	}

	db.vectors = vector.NewManager(db.engine, opts.VectorDimension, params)
	db.records = records.NewManager(db.engine, opts.RecordCacheSize, db.vectors)
	db.graph = graph.NewManager(db.engine)
	db.kv = kv.NewStore(db.engine, opts.KVCacheSize)

	if err := db.persistMetadata(); err != nil {
		db.shutdownEngine()
		return nil, err
	}

	logger.Info("database opened",
		"path", path,
		"dimension", opts.VectorDimension,
		"preset", opts.IndexPreset)
	return db, nil
}

// openDir prepares the data directory: lock, identity marker, info
// file, and config.json validation.
func (db *DB) openDir(path string) error {
	if err := os.MkdirAll(path, 0o755); err != nil {
		return fmt.Errorf("opendb: creating data directory: %w", err)
	}

	db.fileLock = flock.New(filepath.Join(path, lockFile))
	locked, err := db.fileLock.TryLock()
	if err != nil {
		return fmt.Errorf("opendb: acquiring lock: %w", err)
	}
	if !locked {
		return fmt.Errorf("%w: %s", ErrLocked, filepath.Join(path, lockFile))
	}

	if err := db.checkOrCreateMarker(path); err != nil {
		db.releaseLock()
		return err
	}
	if err := db.checkOrCreateConfig(path); err != nil {
		db.releaseLock()
		return err
	}
	return nil
}

// checkOrCreateMarker validates the identity marker, creating it on
// first open. A directory carrying config.json but no marker is treated
// as corrupted rather than silently re-stamped.
func (db *DB) checkOrCreateMarker(path string) error {
	markerPath := filepath.Join(path, markerFile)
	if _, err := os.Stat(markerPath); err == nil {
		return nil
	}
	if _, err := os.Stat(filepath.Join(path, configFile)); err == nil {
		return fmt.Errorf("opendb: storage error: %s has config.json but no %s marker",
			path, markerFile)
	}

	marker := fmt.Sprintf("OpenDB database format v%d\n", 1)
	if err := os.WriteFile(markerPath, []byte(marker), 0o644); err != nil {
		return fmt.Errorf("opendb: writing marker: %w", err)
	}

	info := fmt.Sprintf(`# OpenDB Database

This directory contains an OpenDB database.

Database Format: OpenDB v%s
Storage Engine:  BadgerDB (LSM-tree based)
Created:         %s

Files:
  - OPENDB      identity marker
  - OPENDB_INFO this file
  - config.json machine-readable configuration
  - LOCK        exclusive process lock
  - store/      storage engine files (WAL, tables, manifest)

Do not edit files in this directory by hand. Back up the whole
directory while no process holds the lock.
`, Version, time.Now().UTC().Format(time.RFC3339))
	if err := os.WriteFile(filepath.Join(path, infoFile), []byte(info), 0o644); err != nil {
		return fmt.Errorf("opendb: writing info file: %w", err)
	}
	return nil
}

// checkOrCreateConfig writes config.json on first open and validates
// the configured dimension on later opens.
func (db *DB) checkOrCreateConfig(path string) error {
	configPath := filepath.Join(path, configFile)

	data, err := os.ReadFile(configPath)
	if err == nil {
		var cfg storedConfig
		if err := json.Unmarshal(data, &cfg); err != nil {
			return fmt.Errorf("opendb: corrupt %s: %w", configFile, err)
		}
		if cfg.VectorDimension != db.opts.VectorDimension {
			return fmt.Errorf("%w: database created with vector dimension %d, opened with %d",
				ErrInvalidInput, cfg.VectorDimension, db.opts.VectorDimension)
		}
		return nil
	}
	if !os.IsNotExist(err) {
		return fmt.Errorf("opendb: reading %s: %w", configFile, err)
	}

	cfg := storedConfig{
		VectorDimension: db.opts.VectorDimension,
		CreatedAt:       time.Now().UTC().Format(time.RFC3339),
		Version:         Version,
	}
	encoded, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("opendb: encoding %s: %w", configFile, err)
	}
	if err := os.WriteFile(configPath, encoded, 0o644); err != nil {
		return fmt.Errorf("opendb: writing %s: %w", configFile, err)
	}
	return nil
}

// persistMetadata mirrors the directory config into the metadata column
// family so it travels with backend-level backups.
func (db *DB) persistMetadata() error {
	cfg := storedConfig{
		VectorDimension: db.opts.VectorDimension,
		CreatedAt:       time.Now().UTC().Format(time.RFC3339),
		Version:         Version,
	}
	if data, _, err := db.engine.Get(storage.CFMetadata, []byte("config")); err == nil && data != nil {
		var existing storedConfig
		if json.Unmarshal(data, &existing) == nil && existing.CreatedAt != "" {
			cfg.CreatedAt = existing.CreatedAt
		}
	}
	encoded, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("opendb: encoding metadata: %w", err)
	}
	return db.engine.Put(storage.CFMetadata, []byte("config"), encoded)
}

func (db *DB) releaseLock() {
	if db.fileLock != nil {
		_ = db.fileLock.Unlock()
	}
}

func (db *DB) shutdownEngine() {
	if db.engine != nil {
		_ = db.engine.Close()
	}
	db.releaseLock()
}

func (db *DB) checkOpen() error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.closed {
		return ErrClosed
	}
	return nil
}

// Close flushes, shuts the storage engine down, and releases the
// process lock. Double close is a no-op.
func (db *DB) Close() error {
	db.mu.Lock()
	if db.closed {
		db.mu.Unlock()
		return nil
	}
	db.closed = true
	db.mu.Unlock()

	err := db.engine.Close()
	db.releaseLock()
	db.logger.Info("database closed", "path", db.dir)
	return err
}

// Flush forces durable persistence of all writes issued before the
// call.
func (db *DB) Flush() error {
	if err := db.checkOpen(); err != nil {
		return err
	}
	return db.engine.Flush()
}

// ===== Key-Value Operations =====

// Put stores a raw key-value pair in the default column family.
func (db *DB) Put(key, value []byte) error {
	if err := db.checkOpen(); err != nil {
		return err
	}
	return db.kv.Put(key, value)
}

// Get returns the value for key, and whether it was present.
func (db *DB) Get(key []byte) ([]byte, bool, error) {
	if err := db.checkOpen(); err != nil {
		return nil, false, err
	}
	return db.kv.Get(key)
}

// Delete removes a key. Deleting an absent key succeeds.
func (db *DB) Delete(key []byte) error {
	if err := db.checkOpen(); err != nil {
		return err
	}
	return db.kv.Delete(key)
}

// Exists reports whether a key is present.
func (db *DB) Exists(key []byte) (bool, error) {
	if err := db.checkOpen(); err != nil {
		return false, err
	}
	return db.kv.Exists(key)
}

// ScanPrefix returns all KV pairs under prefix in lexicographic key
// order. An empty prefix returns the whole keyspace.
func (db *DB) ScanPrefix(prefix []byte) ([]storage.KVPair, error) {
	if err := db.checkOpen(); err != nil {
		return nil, err
	}
	return db.kv.ScanPrefix(prefix)
}

// ===== Memory Record Operations =====

// InsertMemory stores a memory record (upsert on ID) and keeps the
// vector index in sync with its embedding.
func (db *DB) InsertMemory(mem *model.Memory) error {
	if err := db.checkOpen(); err != nil {
		return err
	}
	return db.records.Insert(mem)
}

// GetMemory returns a record by ID, and whether it was present.
func (db *DB) GetMemory(id string) (*model.Memory, bool, error) {
	if err := db.checkOpen(); err != nil {
		return nil, false, err
	}
	return db.records.Get(id)
}

// DeleteMemory removes a record and its indexed embedding. Graph edges
// referencing the ID are NOT removed; callers manage cascade cleanup.
func (db *DB) DeleteMemory(id string) error {
	if err := db.checkOpen(); err != nil {
		return err
	}
	return db.records.Delete(id)
}

// ListMemoryIDs returns record IDs starting with prefix, sorted.
// An empty prefix lists everything.
func (db *DB) ListMemoryIDs(prefix string) ([]string, error) {
	if err := db.checkOpen(); err != nil {
		return nil, err
	}
	return db.records.ListIDs(prefix)
}

// ListMemories returns records starting with prefix, sorted by ID.
func (db *DB) ListMemories(prefix string) ([]*model.Memory, error) {
	if err := db.checkOpen(); err != nil {
		return nil, err
	}
	return db.records.List(prefix)
}

// ===== Graph Operations =====

// Link creates or refreshes the edge (from, relation, to) with weight
// 1.0 and the current timestamp.
func (db *DB) Link(from, to, relation string) error {
	if err := db.checkOpen(); err != nil {
		return err
	}
	return db.graph.Link(from, to, relation)
}

// LinkWith creates or refreshes an edge with explicit weight and
// timestamp.
func (db *DB) LinkWith(from, to, relation string, weight float64, timestamp int64) error {
	if err := db.checkOpen(); err != nil {
		return err
	}
	return db.graph.LinkWith(from, to, relation, weight, timestamp)
}

// Unlink removes an edge. Unlinking an absent edge succeeds.
func (db *DB) Unlink(from, to, relation string) error {
	if err := db.checkOpen(); err != nil {
		return err
	}
	return db.graph.Unlink(from, to, relation)
}

// GetRelated returns the edges leaving id under one relation.
func (db *DB) GetRelated(id, relation string) ([]model.Edge, error) {
	if err := db.checkOpen(); err != nil {
		return nil, err
	}
	return db.graph.GetRelated(id, relation)
}

// GetOutgoing returns every edge leaving id.
func (db *DB) GetOutgoing(id string) ([]model.Edge, error) {
	if err := db.checkOpen(); err != nil {
		return nil, err
	}
	return db.graph.GetOutgoing(id)
}

// GetIncoming returns every edge arriving at id.
func (db *DB) GetIncoming(id string) ([]model.Edge, error) {
	if err := db.checkOpen(); err != nil {
		return nil, err
	}
	return db.graph.GetIncoming(id)
}

// ===== Vector Search Operations =====

// SearchSimilar returns the k records nearest to query by Euclidean
// distance over their embeddings, ascending, ties broken by ascending
// ID.
//
// A stale index is rebuilt before searching, so the first search after
// a write burst pays the rebuild. Records deleted after indexing are
// skipped.
func (db *DB) SearchSimilar(query []float32, k int) ([]model.SearchResult, error) {
	if err := db.checkOpen(); err != nil {
		return nil, err
	}

	hits, err := db.vectors.Search(query, k)
	if err != nil {
		return nil, err
	}

	results := make([]model.SearchResult, 0, len(hits))
	for _, hit := range hits {
		mem, ok, err := db.records.Get(hit.ID)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		results = append(results, model.SearchResult{
			ID:       hit.ID,
			Distance: hit.Distance,
			Memory:   mem,
		})
	}
	return results, nil
}

// RebuildVectorIndex rebuilds the HNSW index from the persisted
// embeddings immediately rather than waiting for the next search.
func (db *DB) RebuildVectorIndex() error {
	if err := db.checkOpen(); err != nil {
		return err
	}
	if err := db.vectors.Rebuild(); err != nil {
		return err
	}
	db.logger.Debug("vector index rebuilt", "size", db.vectors.IndexSize())
	return nil
}

// VectorIndexStale reports whether the next search will rebuild first.
func (db *DB) VectorIndexStale() bool {
	return db.vectors.Stale()
}

// badgerLogger bridges Badger's internal logging onto the database
// logger. Badger's info and debug chatter is demoted to debug level so it
// never outranks application logs; errors and warnings keep their level.
type badgerLogger struct {
	logger *log.Logger
}

func (b *badgerLogger) Errorf(format string, args ...any) {
	b.logger.Errorf("badger: "+format, args...)
}

func (b *badgerLogger) Warningf(format string, args ...any) {
	b.logger.Warnf("badger: "+format, args...)
}

func (b *badgerLogger) Infof(format string, args ...any) {
	b.logger.Debugf("badger: "+format, args...)
}

func (b *badgerLogger) Debugf(format string, args ...any) {
	b.logger.Debugf("badger: "+format, args...)
}
