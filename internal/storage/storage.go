// Package storage holds the metadata cache: the chunk table that query results
// are joined against and that builds consult to skip unchanged chunks.
package storage

import (
	"context"
	"sort"

	"github.com/hyperjump/docsearch/internal/models"
)

// Cache persists chunk metadata and serves an immutable snapshot for lock-free reads.
type Cache interface {
	// Put inserts or replaces chunks by id.
	Put(ctx context.Context, chunks []*models.Chunk) error
	// Get returns a chunk or an error wrapping models.ErrNotFound.
	Get(ctx context.Context, id string) (*models.Chunk, error)
	// ListByTech returns the chunks of tech, or every chunk when tech is empty,
	// ordered by source path and ordinal.
	ListByTech(ctx context.Context, tech string) ([]*models.Chunk, error)
	// ListBySource returns the chunks of one source file ordered by ordinal.
	ListBySource(ctx context.Context, sourcePath string) ([]*models.Chunk, error)
	Delete(ctx context.Context, ids []string) error
	// DeleteByTech removes the chunks of tech and returns their ids. An empty
	// tech removes everything.
	DeleteByTech(ctx context.Context, tech string) ([]string, error)
	Stats(ctx context.Context) (CacheStats, error)
	// Batch holds back snapshot publication of puts until flush is called.
	Batch() (flush func())
	// Snapshot returns the current immutable view. It never returns nil.
	Snapshot() *Snapshot
	Close() error
}

// CacheStats counts cached chunks.
type CacheStats struct {
	Total   int
	PerTech map[string]int
}

// Snapshot is a point-in-time view of the cache. It is never modified after
// it is published, so readers need no locks.
type Snapshot struct {
	chunks  map[string]*models.Chunk
	perTech map[string]int
}

func newSnapshot(chunks map[string]*models.Chunk) *Snapshot {
	s := &Snapshot{chunks: chunks, perTech: make(map[string]int)}
	for _, c := range chunks {
		s.perTech[c.Tech]++
	}
	return s
}

// Get returns a copy of the chunk with id.
func (s *Snapshot) Get(id string) (*models.Chunk, bool) {
	c, ok := s.chunks[id]
	if !ok {
		return nil, false
	}
	return c.Clone(), true
}

// Has reports whether id is cached.
func (s *Snapshot) Has(id string) bool {
	_, ok := s.chunks[id]
	return ok
}

// Len returns the number of cached chunks.
func (s *Snapshot) Len() int { return len(s.chunks) }

// PerTech returns the chunk count per technology.
func (s *Snapshot) PerTech() map[string]int {
	out := make(map[string]int, len(s.perTech))
	for k, v := range s.perTech {
		out[k] = v
	}
	return out
}

// Technologies returns the technologies holding at least one chunk, sorted.
func (s *Snapshot) Technologies() []string {
	out := make([]string, 0, len(s.perTech))
	for tech, n := range s.perTech {
		if n > 0 {
			out = append(out, tech)
		}
	}
	sort.Strings(out)
	return out
}

// IDs returns the sorted ids of tech, or all ids when tech is empty.
func (s *Snapshot) IDs(tech string) []string {
	out := make([]string, 0, len(s.chunks))
	for id, c := range s.chunks {
		if tech == "" || c.Tech == tech {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}
