package vector

import (
	"fmt"

	"github.com/hyperjump/docsearch/internal/config"
)

// IndexType represents the type of vector index to use.
type IndexType string

const (
	// IndexTypeMemory uses exact brute-force search. Good for small corpora (<50k chunks).
	IndexTypeMemory IndexType = config.VectorIndexMemory
	// IndexTypeHNSW uses an approximate HNSW graph for larger corpora.
	IndexTypeHNSW IndexType = config.VectorIndexHNSW
)

// NewVectorIndex creates a vector index of the configured type.
func NewVectorIndex(cfg config.VectorConfig, dimensions int) (VectorIndex, error) {
	switch IndexType(cfg.IndexType) {
	case IndexTypeMemory, "":
		return NewMemoryIndex(dimensions)
	case IndexTypeHNSW:
		return NewHNSWIndex(HNSWConfig{Dimensions: dimensions, M: cfg.M, EfSearch: cfg.EfSearch})
	default:
		return nil, fmt.Errorf("unknown index type: %s (supported: memory, hnsw)", cfg.IndexType)
	}
}
