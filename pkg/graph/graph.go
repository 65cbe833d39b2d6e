// Package graph manages directed labeled edges with dual
// forward/backward indexing.
//
// Storage scheme: every edge lives in two buckets,
//
//	graph_forward:  from + NUL + relation -> []Edge
//	graph_backward: to   + NUL + relation -> []Edge
//
// where a bucket holds all edges sharing that (endpoint, relation) pair
// in insertion order. Within a bucket an edge is unique on the
// (from, relation, to) triple: re-linking updates weight and timestamp
// in place.
//
// Link and Unlink rewrite both buckets inside a backend transaction so a
// crash cannot leave the forward and backward indexes asymmetric. Two
// concurrent writers against the same bucket serialize at commit; the
// loser fails with storage.ErrConflict and should retry.
package graph

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/muhammad-fiaz/OpenDB/pkg/codec"
	"github.com/muhammad-fiaz/OpenDB/pkg/model"
	"github.com/muhammad-fiaz/OpenDB/pkg/storage"
)

// Separator joins (endpoint, relation) into a bucket key. NUL cannot
// appear in ids or relations, so composite keys cannot collide the way
// printable-join schemes can.
const Separator = "\x00"

// ErrInvalidIdentifier is returned for empty ids/relations or ones
// containing the separator byte.
var ErrInvalidIdentifier = errors.New("graph: invalid id or relation")

// Manager owns the graph_forward and graph_backward column families.
type Manager struct {
	storage storage.Engine
}

// NewManager creates a graph manager.
func NewManager(engine storage.Engine) *Manager {
	return &Manager{storage: engine}
}

// validateIdentifier rejects empty strings and the separator byte.
func validateIdentifier(kind, s string) error {
	if s == "" {
		return fmt.Errorf("%w: %s must not be empty", ErrInvalidIdentifier, kind)
	}
	if strings.Contains(s, Separator) {
		return fmt.Errorf("%w: %s contains NUL byte", ErrInvalidIdentifier, kind)
	}
	return nil
}

func validateTriple(from, to, relation string) error {
	if err := validateIdentifier("from", from); err != nil {
		return err
	}
	if err := validateIdentifier("to", to); err != nil {
		return err
	}
	return validateIdentifier("relation", relation)
}

// bucketKey builds the composite key for one (endpoint, relation) pair.
func bucketKey(endpoint, relation string) []byte {
	return []byte(endpoint + Separator + relation)
}

// Link creates or refreshes the edge (from, relation, to) with weight
// 1.0 and the current timestamp.
func (m *Manager) Link(from, to, relation string) error {
	return m.LinkWith(from, to, relation, 1.0, time.Now().Unix())
}

// LinkWith creates or refreshes an edge with an explicit weight and
// timestamp. If the triple already exists, its weight and timestamp are
// updated in place; no duplicate is appended.
func (m *Manager) LinkWith(from, to, relation string, weight float64, timestamp int64) error {
	if err := validateTriple(from, to, relation); err != nil {
		return err
	}

	edge := model.Edge{
		From:      from,
		Relation:  relation,
		To:        to,
		Weight:    weight,
		Timestamp: timestamp,
	}

	tx, err := m.storage.Begin()
	if err != nil {
		return err
	}
	defer tx.Discard()

	if err := upsertEdge(tx, storage.CFGraphForward, bucketKey(from, relation), edge); err != nil {
		return err
	}
	if err := upsertEdge(tx, storage.CFGraphBackward, bucketKey(to, relation), edge); err != nil {
		return err
	}
	return tx.Commit()
}

// Unlink removes the edge (from, relation, to) from both buckets.
// Unlinking an absent edge succeeds.
func (m *Manager) Unlink(from, to, relation string) error {
	if err := validateTriple(from, to, relation); err != nil {
		return err
	}

	tx, err := m.storage.Begin()
	if err != nil {
		return err
	}
	defer tx.Discard()

	target := model.Edge{From: from, Relation: relation, To: to}
	if err := removeEdge(tx, storage.CFGraphForward, bucketKey(from, relation), target); err != nil {
		return err
	}
	if err := removeEdge(tx, storage.CFGraphBackward, bucketKey(to, relation), target); err != nil {
		return err
	}
	return tx.Commit()
}

// GetRelated returns the edges in the forward bucket (id, relation), in
// insertion order.
func (m *Manager) GetRelated(id, relation string) ([]model.Edge, error) {
	if err := validateIdentifier("id", id); err != nil {
		return nil, err
	}
	if err := validateIdentifier("relation", relation); err != nil {
		return nil, err
	}
	return m.readBucket(storage.CFGraphForward, bucketKey(id, relation))
}

// GetOutgoing returns every edge leaving id, flattened across relations
// in lexicographic relation order.
func (m *Manager) GetOutgoing(id string) ([]model.Edge, error) {
	if err := validateIdentifier("id", id); err != nil {
		return nil, err
	}
	return m.scanBuckets(storage.CFGraphForward, id)
}

// GetIncoming returns every edge arriving at id, flattened across
// relations in lexicographic relation order.
func (m *Manager) GetIncoming(id string) ([]model.Edge, error) {
	if err := validateIdentifier("id", id); err != nil {
		return nil, err
	}
	return m.scanBuckets(storage.CFGraphBackward, id)
}

func (m *Manager) readBucket(cf string, key []byte) ([]model.Edge, error) {
	data, ok, err := m.storage.Get(cf, key)
	if err != nil {
		return nil, err
	}
	if !ok {
		return []model.Edge{}, nil
	}
	edges, err := codec.DecodeEdges(data)
	if err != nil {
		return nil, fmt.Errorf("graph: bucket %q: %w", string(key), err)
	}
	return edges, nil
}

func (m *Manager) scanBuckets(cf, endpoint string) ([]model.Edge, error) {
	pairs, err := m.storage.ScanPrefix(cf, []byte(endpoint+Separator))
	if err != nil {
		return nil, err
	}
	var edges []model.Edge
	for _, p := range pairs {
		bucket, err := codec.DecodeEdges(p.Value)
		if err != nil {
			return nil, fmt.Errorf("graph: bucket %q: %w", string(p.Key), err)
		}
		edges = append(edges, bucket...)
	}
	if edges == nil {
		edges = []model.Edge{}
	}
	return edges, nil
}

// upsertEdge rewrites one bucket with the edge replaced or appended.
func upsertEdge(tx storage.Tx, cf string, key []byte, edge model.Edge) error {
	edges, err := readBucketTx(tx, cf, key)
	if err != nil {
		return err
	}

	replaced := false
	for i := range edges {
		if edges[i].Same(edge) {
			edges[i] = edge
			replaced = true
			break
		}
	}
	if !replaced {
		edges = append(edges, edge)
	}

	encoded, err := codec.EncodeEdges(edges)
	if err != nil {
		return err
	}
	return tx.Put(cf, key, encoded)
}

// removeEdge rewrites one bucket with the matching triple removed.
// An empty bucket is deleted rather than stored.
func removeEdge(tx storage.Tx, cf string, key []byte, target model.Edge) error {
	edges, err := readBucketTx(tx, cf, key)
	if err != nil {
		return err
	}

	kept := edges[:0]
	for _, e := range edges {
		if !e.Same(target) {
			kept = append(kept, e)
		}
	}
	if len(kept) == len(edges) {
		return nil // nothing to remove; leave the bucket untouched
	}
	if len(kept) == 0 {
		return tx.Delete(cf, key)
	}

	encoded, err := codec.EncodeEdges(kept)
	if err != nil {
		return err
	}
	return tx.Put(cf, key, encoded)
}

func readBucketTx(tx storage.Tx, cf string, key []byte) ([]model.Edge, error) {
	data, ok, err := tx.Get(cf, key)
	if err != nil {
		return nil, err
	}
	if !ok {
		return []model.Edge{}, nil
	}
	edges, err := codec.DecodeEdges(data)
	if err != nil {
		return nil, fmt.Errorf("graph: bucket %q: %w", string(key), err)
	}
	return edges, nil
}
