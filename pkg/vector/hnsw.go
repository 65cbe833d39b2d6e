// Package vector - HNSW graph.
//
// A Hierarchical Navigable Small World graph over float32 vectors with
// Euclidean distance. Comparisons run on squared distances; the square
// root is taken once at the result boundary.
package vector

import (
	"container/heap"
	"math"
	"math/rand"
	"sort"
)

// hnswNode is one vector in the HNSW graph.
type hnswNode struct {
	id        string
	vector    []float32
	level     int
	neighbors [][]string
}

// hnswIndex is an in-memory HNSW graph.
//
// The index is built once per rebuild and then queried read-only; the
// vector manager serializes all access, so the graph itself carries no
// locks.
type hnswIndex struct {
	efConstruction  int
	maxNeighbors    int
	levelMultiplier float64

	nodes      map[string]*hnswNode
	entryPoint string
	maxLevel   int
}

// newHNSWIndex creates an empty graph with the given construction
// parameters.
func newHNSWIndex(efConstruction, maxNeighbors int) *hnswIndex {
	return &hnswIndex{
		efConstruction:  efConstruction,
		maxNeighbors:    maxNeighbors,
		levelMultiplier: 1.0 / math.Log(float64(maxNeighbors)),
		nodes:           make(map[string]*hnswNode),
	}
}

// squaredDistance is the squared Euclidean distance between two vectors
// of equal length.
func squaredDistance(a, b []float32) float64 {
	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return sum
}

// add inserts a vector. The caller guarantees the id is not already
// present and the vector has the index dimension.
func (h *hnswIndex) add(id string, vec []float32) {
	level := h.randomLevel()

	node := &hnswNode{
		id:        id,
		vector:    vec,
		level:     level,
		neighbors: make([][]string, level+1),
	}
	for i := range node.neighbors {
		node.neighbors[i] = make([]string, 0, h.maxNeighbors)
	}

	h.nodes[id] = node

	if h.entryPoint == "" {
		h.entryPoint = id
		h.maxLevel = level
		return
	}

	ep := h.entryPoint
	epLevel := h.nodes[ep].level

	for l := epLevel; l > level; l-- {
		ep = h.greedyClosest(vec, ep, l)
	}

	for l := min(level, epLevel); l >= 0; l-- {
		candidates := h.searchLayer(vec, ep, h.efConstruction, l)
		neighbors := h.selectNeighbors(vec, candidates, h.maxNeighbors)
		node.neighbors[l] = neighbors

		for _, neighborID := range neighbors {
			neighbor := h.nodes[neighborID]
			if len(neighbor.neighbors) <= l {
				continue
			}
			if len(neighbor.neighbors[l]) < h.maxNeighbors {
				neighbor.neighbors[l] = append(neighbor.neighbors[l], id)
			} else {
				all := append(neighbor.neighbors[l], id)
				neighbor.neighbors[l] = h.selectNeighbors(neighbor.vector, all, h.maxNeighbors)
			}
		}

		if len(candidates) > 0 {
			ep = candidates[0]
		}
	}

	if level > h.maxLevel {
		h.entryPoint = id
		h.maxLevel = level
	}
}

// size returns the number of indexed vectors.
func (h *hnswIndex) size() int {
	return len(h.nodes)
}

// search returns the approximate k nearest neighbors with exact
// Euclidean distances, ordered by ascending distance and then by
// ascending id.
func (h *hnswIndex) search(query []float32, k, efSearch int) []Hit {
	if len(h.nodes) == 0 || k <= 0 {
		return nil
	}

	ef := max(efSearch, k)

	ep := h.entryPoint
	for l := h.maxLevel; l > 0; l-- {
		ep = h.greedyClosest(query, ep, l)
	}
	candidates := h.searchLayer(query, ep, ef, 0)

	hits := make([]Hit, 0, len(candidates))
	for _, id := range candidates {
		hits = append(hits, Hit{
			ID:       id,
			Distance: math.Sqrt(squaredDistance(query, h.nodes[id].vector)),
		})
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Distance != hits[j].Distance {
			return hits[i].Distance < hits[j].Distance
		}
		return hits[i].ID < hits[j].ID
	})
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits
}

// greedyClosest walks one layer greedily toward the query.
func (h *hnswIndex) greedyClosest(query []float32, entryID string, level int) string {
	current := entryID
	currentDist := squaredDistance(query, h.nodes[current].vector)

	for {
		changed := false
		for _, neighborID := range h.nodes[current].neighbors[level] {
			dist := squaredDistance(query, h.nodes[neighborID].vector)
			if dist < currentDist {
				current = neighborID
				currentDist = dist
				changed = true
			}
		}
		if !changed {
			return current
		}
	}
}

// searchLayer is the ef-bounded best-first search within one layer.
// Returns candidate ids ordered closest first.
func (h *hnswIndex) searchLayer(query []float32, entryID string, ef, level int) []string {
	visited := map[string]bool{entryID: true}

	candidates := &hnswDistHeap{}
	heap.Init(candidates)

	results := &hnswDistHeap{}
	heap.Init(results)

	entryDist := squaredDistance(query, h.nodes[entryID].vector)
	heap.Push(candidates, hnswDistItem{id: entryID, dist: entryDist})
	heap.Push(results, hnswDistItem{id: entryID, dist: entryDist, isMax: true})

	for candidates.Len() > 0 {
		closest := heap.Pop(candidates).(hnswDistItem)

		if results.Len() >= ef && closest.dist > (*results)[0].dist {
			break
		}

		node := h.nodes[closest.id]
		if len(node.neighbors) <= level {
			continue
		}
		for _, neighborID := range node.neighbors[level] {
			if visited[neighborID] {
				continue
			}
			visited[neighborID] = true

			dist := squaredDistance(query, h.nodes[neighborID].vector)
			if results.Len() < ef || dist < (*results)[0].dist {
				heap.Push(candidates, hnswDistItem{id: neighborID, dist: dist})
				heap.Push(results, hnswDistItem{id: neighborID, dist: dist, isMax: true})
				if results.Len() > ef {
					heap.Pop(results)
				}
			}
		}
	}

	out := make([]string, results.Len())
	for i := results.Len() - 1; i >= 0; i-- {
		out[i] = heap.Pop(results).(hnswDistItem).id
	}
	return out
}

// selectNeighbors keeps the m closest candidates to the query.
func (h *hnswIndex) selectNeighbors(query []float32, candidates []string, m int) []string {
	if len(candidates) <= m {
		return candidates
	}

	type distNode struct {
		id   string
		dist float64
	}
	dists := make([]distNode, len(candidates))
	for i, id := range candidates {
		dists[i] = distNode{id: id, dist: squaredDistance(query, h.nodes[id].vector)}
	}
	sort.Slice(dists, func(i, j int) bool {
		return dists[i].dist < dists[j].dist
	})

	out := make([]string, m)
	for i := 0; i < m; i++ {
		out[i] = dists[i].id
	}
	return out
}

func (h *hnswIndex) randomLevel() int {
	return int(-math.Log(rand.Float64()) * h.levelMultiplier)
}

// Heap types for HNSW search. isMax flips the ordering so one type
// serves both the min-heap of candidates and the max-heap of results.
type hnswDistItem struct {
	id    string
	dist  float64
	isMax bool
}

type hnswDistHeap []hnswDistItem

func (dh hnswDistHeap) Len() int { return len(dh) }
func (dh hnswDistHeap) Less(i, j int) bool {
	if dh[i].isMax {
		return dh[i].dist > dh[j].dist
	}
	return dh[i].dist < dh[j].dist
}
func (dh hnswDistHeap) Swap(i, j int) { dh[i], dh[j] = dh[j], dh[i] }

func (dh *hnswDistHeap) Push(x any) {
	*dh = append(*dh, x.(hnswDistItem))
}

func (dh *hnswDistHeap) Pop() any {
	old := *dh
	n := len(old)
	x := old[n-1]
	*dh = old[:n-1]
	return x
}
