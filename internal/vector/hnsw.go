package vector

import (
	"bufio"
	"context"
	"encoding/gob"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/coder/hnsw"

	"github.com/hyperjump/docsearch/internal/models"
	"github.com/hyperjump/docsearch/pkg/utils"
)

// HNSWConfig tunes the approximate graph.
type HNSWConfig struct {
	Dimensions int
	M          int
	EfSearch   int
}

// HNSWIndex is an approximate vector index on a coder/hnsw graph.
// Deletes are lazy: the node stays in the graph and its key mapping is dropped.
type HNSWIndex struct {
	mu     sync.RWMutex
	graph  *hnsw.Graph[uint64]
	config HNSWConfig

	idMap    map[string]uint64
	keyMap   map[uint64]string
	payloads map[string]Payload
	nextKey  uint64

	closed bool
}

type hnswMetadata struct {
	IDMap    map[string]uint64
	Payloads map[string]Payload
	NextKey  uint64
	Config   HNSWConfig
}

// NewHNSWIndex creates an empty HNSW index.
func NewHNSWIndex(cfg HNSWConfig) (*HNSWIndex, error) {
	if cfg.Dimensions <= 0 {
		return nil, fmt.Errorf("dimensions must be positive")
	}
	if cfg.M == 0 {
		cfg.M = 16
	}
	if cfg.EfSearch == 0 {
		cfg.EfSearch = 64
	}
	idx := &HNSWIndex{config: cfg}
	idx.reset()
	return idx, nil
}

func (s *HNSWIndex) newGraph() *hnsw.Graph[uint64] {
	g := hnsw.NewGraph[uint64]()
	g.Distance = hnsw.CosineDistance
	g.M = s.config.M
	g.EfSearch = s.config.EfSearch
	g.Ml = 0.25
	return g
}

func (s *HNSWIndex) reset() {
	s.graph = s.newGraph()
	s.idMap = make(map[string]uint64)
	s.keyMap = make(map[uint64]string)
	s.payloads = make(map[string]Payload)
	s.nextKey = 0
}

// Type returns the index type identifier.
func (s *HNSWIndex) Type() string {
	return string(IndexTypeHNSW)
}

// Upsert inserts points. An existing id is orphaned and re-added under a new key.
func (s *HNSWIndex) Upsert(ctx context.Context, points []Point) error {
	if len(points) == 0 {
		return nil
	}
	if err := checkDims(points, s.config.Dimensions); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	for _, p := range points {
		if existing, ok := s.idMap[p.ID]; ok {
			delete(s.keyMap, existing)
		}
		key := s.nextKey
		s.nextKey++

		vec := make([]float32, len(p.Vector))
		copy(vec, p.Vector)
		utils.NormalizeL2(vec)
		s.graph.Add(hnsw.MakeNode(key, vec))

		s.idMap[p.ID] = key
		s.keyMap[key] = p.ID
		s.payloads[p.ID] = p.Payload
	}
	return nil
}

// Search walks the graph, widening the candidate set until k hits pass the
// filter or every node has been visited.
func (s *HNSWIndex) Search(ctx context.Context, query []float32, filter models.Filter, k int) ([]*VectorResult, error) {
	if len(query) != s.config.Dimensions {
		return nil, ErrDimensionMismatch{Expected: s.config.Dimensions, Got: len(query)}
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	total := s.graph.Len()
	if k <= 0 || total == 0 || len(s.idMap) == 0 || isZero(query) {
		return nil, nil
	}

	q := make([]float32, len(query))
	copy(q, query)
	utils.NormalizeL2(q)

	fetch := k * 4
	if fetch < 32 {
		fetch = 32
	}
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if fetch > total {
			fetch = total
		}
		results := make([]*VectorResult, 0, k)
		for _, node := range s.graph.Search(q, fetch) {
			id, ok := s.keyMap[node.Key]
			if !ok {
				continue
			}
			p := s.payloads[id]
			if !filter.Matches(p.Tech, p.Component) {
				continue
			}
			if sc := score(q, node.Value); sc > 0 {
				results = append(results, &VectorResult{ID: id, Score: sc})
			}
		}
		if len(results) < k && fetch >= total {
			results = s.scan(q, filter)
		}
		if len(results) >= k || fetch >= total {
			sortResults(results)
			if k < len(results) {
				results = results[:k]
			}
			return results, nil
		}
		fetch *= 4
	}
}

// scan scores every live node matching filter. The graph walk is approximate,
// so a narrow filter can miss nodes the walk never reached.
func (s *HNSWIndex) scan(q []float32, filter models.Filter) []*VectorResult {
	var results []*VectorResult
	for id, key := range s.idMap {
		p := s.payloads[id]
		if !filter.Matches(p.Tech, p.Component) {
			continue
		}
		if vec, ok := s.graph.Lookup(key); ok {
			if sc := score(q, vec); sc > 0 {
				results = append(results, &VectorResult{ID: id, Score: sc})
			}
		}
	}
	return results
}

// Delete removes ids from the mappings. Graph nodes are left as orphans.
func (s *HNSWIndex) Delete(ctx context.Context, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	for _, id := range ids {
		s.forget(id)
	}
	return nil
}

func (s *HNSWIndex) forget(id string) {
	if key, ok := s.idMap[id]; ok {
		delete(s.keyMap, key)
		delete(s.idMap, id)
		delete(s.payloads, id)
	}
}

// Clear drops every vector of tech. Clearing everything rebuilds an empty graph.
func (s *HNSWIndex) Clear(ctx context.Context, tech string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if tech == "" {
		s.reset()
		return nil
	}
	for id, p := range s.payloads {
		if p.Tech == tech {
			s.forget(id)
		}
	}
	return nil
}

// IDs lists live chunk ids in ascending order.
func (s *HNSWIndex) IDs(ctx context.Context, tech string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	ids := make([]string, 0, len(s.idMap))
	for id := range s.idMap {
		if tech == "" || s.payloads[id].Tech == tech {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// Ping fails only after Close.
func (s *HNSWIndex) Ping(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}
	return ctx.Err()
}

// BoundedScores is true: scores are clamped cosine similarities.
func (s *HNSWIndex) BoundedScores() bool { return true }

// Size returns the number of live vectors, excluding orphans.
func (s *HNSWIndex) Size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.idMap)
}

// Save exports the graph to path and the id mappings to path + ".meta".
func (s *HNSWIndex) Save(path string) error {
	if path == "" {
		return nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create index dir: %w", err)
	}

	tmp := path + ".tmp"
	file, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create index file: %w", err)
	}
	w := bufio.NewWriter(file)
	if err := s.graph.Export(w); err != nil {
		file.Close()
		os.Remove(tmp)
		return fmt.Errorf("export graph: %w", err)
	}
	if err := w.Flush(); err != nil {
		file.Close()
		os.Remove(tmp)
		return fmt.Errorf("flush index file: %w", err)
	}
	if err := file.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("close index file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename index file: %w", err)
	}
	return s.saveMetadata(path + ".meta")
}

func (s *HNSWIndex) saveMetadata(path string) error {
	tmp := path + ".tmp"
	file, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create metadata file: %w", err)
	}
	meta := hnswMetadata{
		IDMap:    s.idMap,
		Payloads: s.payloads,
		NextKey:  s.nextKey,
		Config:   s.config,
	}
	if err := gob.NewEncoder(file).Encode(meta); err != nil {
		file.Close()
		os.Remove(tmp)
		return fmt.Errorf("encode metadata: %w", err)
	}
	if err := file.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("close metadata file: %w", err)
	}
	return os.Rename(tmp, path)
}

// Load replaces the index with the graph at path. A missing file leaves the index unchanged.
func (s *HNSWIndex) Load(path string) error {
	if path == "" {
		return nil
	}
	metaFile, err := os.Open(path + ".meta")
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("open metadata file: %w", err)
	}
	defer metaFile.Close()
	var meta hnswMetadata
	if err := gob.NewDecoder(metaFile).Decode(&meta); err != nil {
		return fmt.Errorf("decode hnsw metadata: %w", err)
	}
	if meta.Config.Dimensions != s.config.Dimensions {
		return fmt.Errorf("dimension mismatch: file has %d, index expects %d", meta.Config.Dimensions, s.config.Dimensions)
	}

	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open index file: %w", err)
	}
	defer file.Close()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	graph := s.newGraph()
	if err := graph.Import(bufio.NewReader(file)); err != nil {
		return fmt.Errorf("import graph: %w", err)
	}
	s.graph = graph
	s.idMap = meta.IDMap
	if s.idMap == nil {
		s.idMap = make(map[string]uint64)
	}
	s.payloads = meta.Payloads
	if s.payloads == nil {
		s.payloads = make(map[string]Payload)
	}
	s.nextKey = meta.NextKey
	s.keyMap = make(map[uint64]string, len(s.idMap))
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

var (
	_ VectorIndex = (*HNSWIndex)(nil)
	_ VectorIndex = (*MemoryIndex)(nil)
)
