// Package model defines the core data types shared across OpenDB's
// key-value, record, graph, and vector views.
//
// The types here are deliberately plain: they carry no behavior beyond
// construction helpers and copying, so every manager can exchange them
// without import cycles.
//
// Example Usage:
//
//	mem := model.NewMemory("user-pref-1", "the user prefers dark mode",
//		[]float32{0.1, 0.2, 0.3}, 0.8)
//	mem = mem.WithMetadata("source", "settings-dialog")
//
//	edge := model.NewEdge("user-pref-1", "supports", "theme-dark")
package model

import "time"

// Memory is a structured record with semantic embedding, importance
// scoring, and arbitrary string metadata. It is the primary artifact
// stored by the records manager and indexed by the vector manager.
//
// Fields:
//   - ID: caller-assigned unique identifier; must be non-empty
//   - Content: arbitrary text payload
//   - Embedding: empty, or exactly the database's configured dimension
//   - Importance: score in [0.0, 1.0] (documented contract, not enforced)
//   - Timestamp: seconds since epoch; set on creation, updated via Touch
//   - Metadata: free-form string key-value pairs
//
// A Memory is mutated only by re-insertion; the records manager applies
// upsert semantics on ID.
type Memory struct {
	ID         string            `json:"id"`
	Content    string            `json:"content"`
	Embedding  []float32         `json:"embedding"`
	Importance float32           `json:"importance"`
	Timestamp  int64             `json:"timestamp"`
	Metadata   map[string]string `json:"metadata"`
}

// NewMemory creates a Memory with the current timestamp.
// Importance is clamped into [0.0, 1.0].
func NewMemory(id, content string, embedding []float32, importance float32) *Memory {
	return &Memory{
		ID:         id,
		Content:    content,
		Embedding:  embedding,
		Importance: clampImportance(importance),
		Timestamp:  time.Now().Unix(),
		Metadata:   make(map[string]string),
	}
}

// WithMetadata sets a metadata key and returns the memory for chaining.
func (m *Memory) WithMetadata(key, value string) *Memory {
	if m.Metadata == nil {
		m.Metadata = make(map[string]string)
	}
	m.Metadata[key] = value
	return m
}

// Touch updates the timestamp to now.
func (m *Memory) Touch() {
	m.Timestamp = time.Now().Unix()
}

// Clone returns a deep copy. Managers hand out clones so cached records
// cannot be mutated behind the cache's back.
func (m *Memory) Clone() *Memory {
	if m == nil {
		return nil
	}
	cp := *m
	if m.Embedding != nil {
		cp.Embedding = make([]float32, len(m.Embedding))
		copy(cp.Embedding, m.Embedding)
	}
	if m.Metadata != nil {
		cp.Metadata = make(map[string]string, len(m.Metadata))
		for k, v := range m.Metadata {
			cp.Metadata[k] = v
		}
	}
	return &cp
}

func clampImportance(v float32) float32 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// Edge is a directed labeled relationship between two entities.
//
// Uniqueness within a bucket is on the (From, Relation, To) triple:
// re-linking the same triple updates Weight and Timestamp in place.
type Edge struct {
	From      string  `json:"from"`
	Relation  string  `json:"relation"`
	To        string  `json:"to"`
	Weight    float64 `json:"weight"`
	Timestamp int64   `json:"timestamp"`
}

// NewEdge creates an edge with weight 1.0 and the current timestamp.
func NewEdge(from, relation, to string) Edge {
	return Edge{
		From:      from,
		Relation:  relation,
		To:        to,
		Weight:    1.0,
		Timestamp: time.Now().Unix(),
	}
}

// Same reports whether the other edge refers to the same
// (From, Relation, To) triple, ignoring weight and timestamp.
func (e Edge) Same(other Edge) bool {
	return e.From == other.From && e.Relation == other.Relation && e.To == other.To
}

// SearchResult is one hit from a vector similarity search.
type SearchResult struct {
	// ID of the matched record.
	ID string
	// Distance is the Euclidean distance to the query; smaller is closer.
	Distance float64
	// Memory is the full record, populated by the database facade.
	// Nil when the record was deleted after indexing.
	Memory *Memory
}

// Common relation names for agent memory graphs. Purely advisory;
// any non-empty string without a NUL byte is a valid relation.
const (
	RelationRelatedTo   = "related_to"
	RelationCausedBy    = "caused_by"
	RelationBefore      = "before"
	RelationAfter       = "after"
	RelationReferences  = "references"
	RelationSimilarTo   = "similar_to"
	RelationContradicts = "contradicts"
	RelationSupports    = "supports"
)
