package store

import (
	"bufio"
	"context"
	"encoding/gob"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"

	"github.com/coder/hnsw"

	apperrors "github.com/clementine-kb/clementine/internal/errors"
)

// HNSWIndex implements VectorIndex on a pure Go HNSW graph. Passage IDs are
// strings; the graph is keyed by uint64, so the index keeps a bidirectional
// mapping, plus each ID's scope, and persists both in a gob sidecar next to
// the graph file. The graph itself holds all scopes; Search widens its
// candidate window until enough same-scope results surface.
type HNSWIndex struct {
	mu     sync.RWMutex
	graph  *hnsw.Graph[uint64]
	config VectorIndexConfig

	idMap   map[string]uint64
	keyMap  map[uint64]string
	scopes  map[string]string // passage ID -> scope
	nextKey uint64

	closed bool
}

type hnswSidecar struct {
	IDMap   map[string]uint64
	Scopes  map[string]string
	NextKey uint64
	Config  VectorIndexConfig
}

// NewHNSWIndex creates an empty vector index.
func NewHNSWIndex(cfg VectorIndexConfig) (*HNSWIndex, error) {
	if cfg.Dimensions <= 0 {
		return nil, apperrors.New(apperrors.CodeDimensionMismatch,
			"vector index requires positive dimensions", nil)
	}
	def := DefaultVectorIndexConfig(cfg.Dimensions)
	if cfg.Metric == "" {
		cfg.Metric = def.Metric
	}
	if cfg.M == 0 {
		cfg.M = def.M
	}
	if cfg.EfSearch == 0 {
		cfg.EfSearch = def.EfSearch
	}

	return &HNSWIndex{
		graph:  newGraph(cfg),
		config: cfg,
		idMap:  make(map[string]uint64),
		keyMap: make(map[uint64]string),
		scopes: make(map[string]string),
	}, nil
}

// Add inserts vectors keyed by passage ID, tagged with the owning scope. An
// existing ID is replaced via lazy deletion: the old graph node stays but
// loses its mapping, so it can never surface in results. Removing nodes from
// the graph itself is unsafe in coder/hnsw when the last node goes.
func (s *HNSWIndex) Add(ctx context.Context, scope string, ids []string, vectors [][]float32) error {
	if len(ids) == 0 {
		return nil
	}
	if len(ids) != len(vectors) {
		return apperrors.New(apperrors.CodeStoreFailed,
			fmt.Sprintf("ids and vectors length mismatch: %d vs %d", len(ids), len(vectors)), nil)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return apperrors.New(apperrors.CodeStoreUnavailable, "vector index is closed", nil)
	}

	for _, v := range vectors {
		if len(v) != s.config.Dimensions {
			return apperrors.New(apperrors.CodeDimensionMismatch,
				fmt.Sprintf("expected %d dimensions, got %d", s.config.Dimensions, len(v)), nil)
		}
	}

	for i, id := range ids {
		if oldKey, exists := s.idMap[id]; exists {
			delete(s.keyMap, oldKey)
			delete(s.idMap, id)
		}

		key := s.nextKey
		s.nextKey++

		vec := make([]float32, len(vectors[i]))
		copy(vec, vectors[i])
		if s.config.Metric != "l2" {
			normalizeInPlace(vec)
		}

		s.graph.Add(hnsw.MakeNode(key, vec))
		s.idMap[id] = key
		s.keyMap[key] = id
		s.scopes[id] = scope
	}
	return nil
}

// Search returns up to k nearest neighbors within one scope. The graph holds
// every scope, so the candidate window widens geometrically until k
// same-scope live results surface or the whole graph has been considered.
// Lazily deleted nodes are skipped, so fewer than k results may come back.
func (s *HNSWIndex) Search(ctx context.Context, scope string, query []float32, k int) ([]*VectorResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, apperrors.New(apperrors.CodeStoreUnavailable, "vector index is closed", nil)
	}
	if len(query) != s.config.Dimensions {
		return nil, apperrors.New(apperrors.CodeDimensionMismatch,
			fmt.Sprintf("expected %d dimensions, got %d", s.config.Dimensions, len(query)), nil)
	}
	if s.graph.Len() == 0 || k <= 0 {
		return []*VectorResult{}, nil
	}

	q := make([]float32, len(query))
	copy(q, query)
	if s.config.Metric != "l2" {
		normalizeInPlace(q)
	}

	total := s.graph.Len()
	window := k
	for {
		nodes := s.graph.Search(q, window)
		results := make([]*VectorResult, 0, k)
		for _, node := range nodes {
			id, ok := s.keyMap[node.Key]
			if !ok || s.scopes[id] != scope {
				continue
			}
			distance := s.graph.Distance(q, node.Value)
			results = append(results, &VectorResult{
				ID:       id,
				Distance: distance,
				Score:    distanceToScore(distance, s.config.Metric),
			})
			if len(results) == k {
				return results, nil
			}
		}
		if window >= total {
			return results, nil
		}
		window = min(window*2, total)
	}
}

// Delete removes passage IDs via lazy deletion.
func (s *HNSWIndex) Delete(ctx context.Context, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return apperrors.New(apperrors.CodeStoreUnavailable, "vector index is closed", nil)
	}

	for _, id := range ids {
		if key, ok := s.idMap[id]; ok {
			delete(s.keyMap, key)
			delete(s.idMap, id)
			delete(s.scopes, id)
		}
	}
	return nil
}

// Contains reports whether a passage ID is present.
func (s *HNSWIndex) Contains(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return false
	}
	_, ok := s.idMap[id]
	return ok
}

// Count returns the number of live vectors (orphaned graph nodes excluded).
func (s *HNSWIndex) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return 0
	}
	return len(s.idMap)
}

// Dimensions returns the vector dimensionality the index holds. After a
// Load this reflects the persisted sidecar, not the constructor argument.
func (s *HNSWIndex) Dimensions() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.config.Dimensions
}

// Orphans returns how many lazily deleted nodes remain in the graph. When
// this grows large relative to Count, rebuilding from the store reclaims
// the memory.
func (s *HNSWIndex) Orphans() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return 0
	}
	return s.graph.Len() - len(s.idMap)
}

// Save atomically persists the graph and its ID sidecar.
func (s *HNSWIndex) Save(path string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return apperrors.New(apperrors.CodeStoreUnavailable, "vector index is closed", nil)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return apperrors.New(apperrors.CodeStoreFailed, "create index directory", err)
	}

	tmp := path + ".tmp"
	file, err := os.Create(tmp)
	if err != nil {
		return apperrors.New(apperrors.CodeStoreFailed, "create index file", err)
	}
	if err := s.graph.Export(file); err != nil {
		file.Close()
		os.Remove(tmp)
		return apperrors.New(apperrors.CodeStoreFailed, "export graph", err)
	}
	if err := file.Close(); err != nil {
		os.Remove(tmp)
		return apperrors.New(apperrors.CodeStoreFailed, "close index file", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return apperrors.New(apperrors.CodeStoreFailed, "rename index file", err)
	}

	return s.saveSidecar(path + ".meta")
}

func (s *HNSWIndex) saveSidecar(path string) error {
	tmp := path + ".tmp"
	file, err := os.Create(tmp)
	if err != nil {
		return apperrors.New(apperrors.CodeStoreFailed, "create sidecar file", err)
	}

	meta := hnswSidecar{
		IDMap:   s.idMap,
		Scopes:  s.scopes,
		NextKey: s.nextKey,
		Config:  s.config,
	}
	if err := gob.NewEncoder(file).Encode(meta); err != nil {
		file.Close()
		os.Remove(tmp)
		return apperrors.New(apperrors.CodeStoreFailed, "encode sidecar", err)
	}
	if err := file.Close(); err != nil {
		os.Remove(tmp)
		return apperrors.New(apperrors.CodeStoreFailed, "close sidecar file", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return apperrors.New(apperrors.CodeStoreFailed, "rename sidecar file", err)
	}
	return nil
}

// Load restores the graph and ID mappings from disk.
func (s *HNSWIndex) Load(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return apperrors.New(apperrors.CodeStoreUnavailable, "vector index is closed", nil)
	}

	if err := s.loadSidecar(path + ".meta"); err != nil {
		return err
	}

	file, err := os.Open(path)
	if err != nil {
		return apperrors.New(apperrors.CodeStoreFailed, "open index file", err)
	}
	defer file.Close()

	// Import needs an io.ByteReader.
	if err := s.graph.Import(bufio.NewReader(file)); err != nil {
		return apperrors.New(apperrors.CodeStoreCorrupt, "import graph", err)
	}
	return nil
}

func (s *HNSWIndex) loadSidecar(path string) error {
	file, err := os.Open(path)
	if err != nil {
		return apperrors.New(apperrors.CodeStoreFailed, "open sidecar file", err)
	}
	defer file.Close()

	var meta hnswSidecar
	if err := gob.NewDecoder(file).Decode(&meta); err != nil {
		return apperrors.New(apperrors.CodeStoreCorrupt, "decode sidecar", err)
	}

	if len(meta.Scopes) != len(meta.IDMap) {
		return apperrors.New(apperrors.CodeStoreCorrupt, "sidecar scope map incomplete", nil)
	}

	s.idMap = meta.IDMap
	s.scopes = meta.Scopes
	s.nextKey = meta.NextKey
	s.config = meta.Config
	s.keyMap = make(map[uint64]string, len(meta.IDMap))
	for id, key := range s.idMap {
		s.keyMap[key] = id
	}
	return nil
}

// Close releases the graph.
func (s *HNSWIndex) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	s.graph = nil
	return nil
}

func newGraph(cfg VectorIndexConfig) *hnsw.Graph[uint64] {
	graph := hnsw.NewGraph[uint64]()
	switch cfg.Metric {
	case "l2":
		graph.Distance = hnsw.EuclideanDistance
	default:
		graph.Distance = hnsw.CosineDistance
	}
	graph.M = cfg.M
	graph.EfSearch = cfg.EfSearch
	return graph
}

// Compact rebuilds the graph from the store's embeddings, shedding the
// orphaned nodes lazy deletion leaves behind. Returns the live vector
// count. Search results are identical before and after; only graph size
// and traversal cost change.
func (s *HNSWIndex) Compact(ctx context.Context, st *Store) (int, error) {
	embeddings, err := st.AllEmbeddings(ctx)
	if err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, apperrors.New(apperrors.CodeStoreUnavailable, "vector index is closed", nil)
	}

	graph := newGraph(s.config)
	idMap := make(map[string]uint64, len(embeddings))
	keyMap := make(map[uint64]string, len(embeddings))
	scopes := make(map[string]string, len(embeddings))
	var nextKey uint64

	for id, emb := range embeddings {
		if len(emb.Vector) != s.config.Dimensions {
			return 0, apperrors.New(apperrors.CodeDimensionMismatch,
				fmt.Sprintf("stored vector %s has %d dimensions, index expects %d", id, len(emb.Vector), s.config.Dimensions), nil)
		}
		vec := make([]float32, len(emb.Vector))
		copy(vec, emb.Vector)
		if s.config.Metric != "l2" {
			normalizeInPlace(vec)
		}
		graph.Add(hnsw.MakeNode(nextKey, vec))
		idMap[id] = nextKey
		keyMap[nextKey] = id
		scopes[id] = emb.Scope
		nextKey++
	}

	s.graph = graph
	s.idMap = idMap
	s.keyMap = keyMap
	s.scopes = scopes
	s.nextKey = nextKey
	return len(idMap), nil
}

// RebuildVectorIndex repopulates an index from the embeddings persisted in
// SQLite. Used on startup when the graph file is missing or stale.
func RebuildVectorIndex(ctx context.Context, s *Store, idx VectorIndex) (int, error) {
	embeddings, err := s.AllEmbeddings(ctx)
	if err != nil {
		return 0, err
	}

	byScope := make(map[string][]string)
	vecs := make(map[string][][]float32)
	for id, emb := range embeddings {
		byScope[emb.Scope] = append(byScope[emb.Scope], id)
		vecs[emb.Scope] = append(vecs[emb.Scope], emb.Vector)
	}

	total := 0
	for scope, ids := range byScope {
		if err := idx.Add(ctx, scope, ids, vecs[scope]); err != nil {
			return total, err
		}
		total += len(ids)
	}
	return total, nil
}

var _ VectorIndex = (*HNSWIndex)(nil)

func normalizeInPlace(v []float32) {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return
	}
	inv := float32(1.0 / math.Sqrt(sum))
	for i := range v {
		v[i] *= inv
	}
}

// distanceToScore maps a distance to a 0-1 similarity, higher is better.
func distanceToScore(distance float32, metric string) float32 {
	if metric == "l2" {
		return 1.0 / (1.0 + distance)
	}
	// Cosine distance ranges 0 (identical) to 2 (opposite).
	return 1.0 - distance/2.0
}
