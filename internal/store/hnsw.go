package store

import (
	"fmt"
	"os"
	"sync"

	"github.com/coder/hnsw"
)

// hnswMaxNeighbors is the M parameter of the HNSW graph.
const hnswMaxNeighbors = 16

// FaceIndex is an optional in-memory HNSW index over face embeddings used
// to accelerate similarity scans. Correctness never depends on it: callers
// fall back to a linear scan when no index is installed.
type FaceIndex struct {
	graph      *hnsw.Graph[int64]
	savedGraph *hnsw.SavedGraph[int64]
	present    map[int64]struct{}
	mu         sync.RWMutex
}

// NewFaceIndex creates an empty face index.
func NewFaceIndex() *FaceIndex {
	return &FaceIndex{present: make(map[int64]struct{})}
}

func newGraph() *hnsw.Graph[int64] {
	g := hnsw.NewGraph[int64]()
	g.M = hnswMaxNeighbors
	g.Ml = 1.0 / float64(hnswMaxNeighbors)
	g.Distance = hnsw.CosineDistance
	return g
}

// Build replaces the index contents with the given faces.
func (x *FaceIndex) Build(faces []Face) {
	x.mu.Lock()
	defer x.mu.Unlock()

	x.savedGraph = nil
	x.present = make(map[int64]struct{}, len(faces))
	if len(faces) == 0 {
		x.graph = nil
		return
	}

	g := newGraph()
	for i := range faces {
		if len(faces[i].Embedding) == 0 {
			continue
		}
		g.Add(hnsw.MakeNode(faces[i].ID, faces[i].Embedding))
		x.present[faces[i].ID] = struct{}{}
	}
	x.graph = g
}

// Add inserts a single face into the index.
func (x *FaceIndex) Add(id int64, embedding []float32) {
	if len(embedding) == 0 {
		return
	}
	x.mu.Lock()
	defer x.mu.Unlock()

	if x.savedGraph != nil {
		// SavedGraph embeds *Graph, so new nodes go straight into it.
		x.savedGraph.Add(hnsw.MakeNode(id, embedding))
		x.present[id] = struct{}{}
		return
	}
	if x.graph == nil {
		x.graph = newGraph()
	}
	x.graph.Add(hnsw.MakeNode(id, embedding))
	x.present[id] = struct{}{}
}

// Delete removes a face from search results. The HNSW graph has no true
// deletion; the id is dropped from the presence set and filtered on search.
func (x *FaceIndex) Delete(id int64) {
	x.mu.Lock()
	defer x.mu.Unlock()
	delete(x.present, id)
}

// Search returns up to k nearest face ids with their cosine distances,
// nearest first.
func (x *FaceIndex) Search(query []float32, k int) ([]int64, []float64) {
	x.mu.RLock()
	defer x.mu.RUnlock()

	if x.graph == nil && x.savedGraph == nil {
		return nil, nil
	}

	var neighbors []hnsw.Node[int64]
	if x.savedGraph != nil {
		neighbors = x.savedGraph.Search(query, k)
	} else {
		neighbors = x.graph.Search(query, k)
	}

	ids := make([]int64, 0, len(neighbors))
	distances := make([]float64, 0, len(neighbors))
	for _, n := range neighbors {
		if _, ok := x.present[n.Key]; !ok {
			continue
		}
		ids = append(ids, n.Key)
		var dist float64
		if len(n.Value) > 0 {
			dist = float64(hnsw.CosineDistance(query, n.Value))
		}
		distances = append(distances, dist)
	}
	return ids, distances
}

// Count returns the number of searchable faces.
func (x *FaceIndex) Count() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.present)
}

// Save persists the graph to path. A missing or empty graph removes the file.
func (x *FaceIndex) Save(path string) error {
	x.mu.RLock()
	defer x.mu.RUnlock()

	if path == "" {
		return nil
	}
	if x.graph == nil && x.savedGraph == nil {
		_ = os.Remove(path)
		return nil
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create hnsw index file: %w", err)
	}
	defer f.Close()

	if x.savedGraph != nil {
		if err := x.savedGraph.Export(f); err != nil {
			return fmt.Errorf("export hnsw graph: %w", err)
		}
		return nil
	}
	if err := x.graph.Export(f); err != nil {
		return fmt.Errorf("export hnsw graph: %w", err)
	}
	return nil
}

// Load reads a persisted graph from path. A missing file is not an error;
// callers rebuild from storage in that case. RestoreIDs must be called
// afterwards to mark the loaded faces searchable.
func (x *FaceIndex) Load(path string) error {
	x.mu.Lock()
	defer x.mu.Unlock()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}

	saved, err := hnsw.LoadSavedGraph[int64](path)
	if err != nil {
		return fmt.Errorf("load hnsw index: %w", err)
	}
	x.savedGraph = saved
	return nil
}

// RestoreIDs marks the given face ids searchable after Load.
func (x *FaceIndex) RestoreIDs(ids []int64) {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.present = make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		x.present[id] = struct{}{}
	}
}
