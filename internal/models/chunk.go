// Package models defines core data structures for chunks, build jobs, queries, and search results.
package models

import "time"

// Chunk is a retrievable slice of a source document with its heading lineage.
type Chunk struct {
	ID            string    `json:"id" db:"id"`
	Text          string    `json:"text" db:"text"`
	Tech          string    `json:"tech" db:"tech"`
	Component     string    `json:"component,omitempty" db:"component"`
	Breadcrumb    []string  `json:"breadcrumb" db:"breadcrumb"`
	SourcePath    string    `json:"source_path" db:"source_path"`
	Ordinal       int       `json:"ordinal" db:"ordinal"`
	CharStart     int       `json:"char_start" db:"char_start"`
	CharEnd       int       `json:"char_end" db:"char_end"`
	TokenCount    int       `json:"token_count" db:"token_count"`
	ContentHash   string    `json:"content_hash" db:"content_hash"`
	VectorIndexed bool      `json:"vector_indexed" db:"vector_indexed"`
	IndexedAt     time.Time `json:"indexed_at" db:"indexed_at"`
	// Embedding is only ever sent to the vector backend.
	Embedding []float32 `json:"-" db:"-"`
}

// Clone returns a copy of c without its embedding.
func (c *Chunk) Clone() *Chunk {
	if c == nil {
		return nil
	}
	out := *c
	out.Breadcrumb = append([]string(nil), c.Breadcrumb...)
	out.Embedding = nil
	return &out
}

// Filter restricts a search to one technology and optionally one component.
// Empty fields match everything.
type Filter struct {
	Tech      string `json:"tech,omitempty"`
	Component string `json:"component,omitempty"`
}

// Matches reports whether a chunk with the given tags passes the filter.
func (f Filter) Matches(tech, component string) bool {
	if f.Tech != "" && f.Tech != tech {
		return false
	}
	if f.Component != "" && f.Component != component {
		return false
	}
	return true
}

// Stats summarizes the indexed corpus.
type Stats struct {
	TotalChunks     int            `json:"total_chunks"`
	PerTech         map[string]int `json:"per_tech_counts"`
	VectorIndexSize int            `json:"vector_index_size"`
	KeywordDocCount uint64         `json:"keyword_doc_count"`
	DiskUsageBytes  int64          `json:"disk_usage_bytes"`
}
